// Package scanner walks folder trees, hashes file contents and classifies
// changes between two scans of the same folder.
package scanner

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/crypto"
)

// DefaultWorkers is the default number of parallel hashing workers.
const DefaultWorkers = 4

// FileInfo describes one regular file found during a scan.
type FileInfo struct {
	RelativePath string
	Size         int64
	ModTime      int64 // unix seconds
	Hash         string
	MimeType     string
}

// Scanner walks a root directory with a bounded worker pool.
type Scanner struct {
	workers int
}

// New creates a scanner. workers <= 0 selects the default.
func New(workers int) *Scanner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Scanner{workers: workers}
}

// Scan walks root and returns a channel of hashed file descriptors plus an
// error channel that receives at most one error after the file channel
// closes. Symlinks and non-regular files are skipped.
func (s *Scanner) Scan(ctx context.Context, root string) (<-chan FileInfo, <-chan error) {
	out := make(chan FileInfo)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)

		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !d.Type().IsRegular() {
				return nil
			}

			g.Go(func() error {
				info, err := hashFile(root, path)
				if err != nil {
					return err
				}
				select {
				case out <- info:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
			return nil
		})

		if err := g.Wait(); err != nil {
			errCh <- err
			return
		}
		if walkErr != nil {
			errCh <- fmt.Errorf("failed to walk %s: %w", root, walkErr)
		}
	}()

	return out, errCh
}

// ScanAll collects the full scan result sorted by relative path.
func (s *Scanner) ScanAll(ctx context.Context, root string) ([]FileInfo, error) {
	logger.DebugCtx(ctx, "scanning folder", logger.Path(root))

	out, errCh := s.Scan(ctx, root)
	var files []FileInfo
	for f := range out {
		files = append(files, f)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].RelativePath < files[j].RelativePath
	})
	return files, nil
}

func hashFile(root, path string) (FileInfo, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to relativize %s: %w", path, err)
	}
	rel = filepath.ToSlash(rel)

	f, err := os.Open(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return FileInfo{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return FileInfo{}, fmt.Errorf("failed to rewind %s: %w", path, err)
	}

	hash, size, err := crypto.HashReader(f)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}

	return FileInfo{
		RelativePath: rel,
		Size:         size,
		ModTime:      stat.ModTime().Unix(),
		Hash:         hash,
		MimeType:     detectMime(path, head[:n]),
	}, nil
}

// detectMime prefers the extension mapping and falls back to content
// sniffing for unknown extensions.
func detectMime(path string, head []byte) string {
	if mt := mime.TypeByExtension(filepath.Ext(path)); mt != "" {
		if base, _, err := mime.ParseMediaType(mt); err == nil {
			return base
		}
		return mt
	}
	mt := http.DetectContentType(head)
	if base, _, err := mime.ParseMediaType(mt); err == nil {
		return base
	}
	return strings.TrimSpace(mt)
}
