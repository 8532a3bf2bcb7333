package download

import (
	"bytes"
	"compress/flate"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/crypto"
	"github.com/usenetsync/usenetsync/pkg/models"
	"github.com/usenetsync/usenetsync/pkg/redundancy"
	"github.com/usenetsync/usenetsync/pkg/shareindex"
	"github.com/usenetsync/usenetsync/pkg/yenc"
)

// fetchFile downloads, verifies and assembles one file under the job's
// destination. Missing primaries are reconstructed from parity segments
// when enough of the k+m set is reachable.
func (d *Downloader) fetchFile(ctx context.Context, entry *models.DownloadQueueEntry, doc *shareindex.Document, f *shareindex.FileEntry, spool string) error {
	if !filepath.IsLocal(filepath.FromSlash(f.RelativePath)) {
		return fmt.Errorf("file path escapes the destination: %s", f.RelativePath)
	}
	dest := filepath.Join(entry.Destination, filepath.FromSlash(f.RelativePath))

	key := doc.ContentKey
	if len(f.Key) > 0 {
		key = f.Key
	}

	primaries, parities := splitSegments(f.Segments)
	if len(primaries) != f.SegmentCount {
		return fmt.Errorf("index lists %d segments for %s, expected %d",
			len(primaries), f.RelativePath, f.SegmentCount)
	}

	fileDir := filepath.Join(spool, f.FileID)
	if err := os.MkdirAll(fileDir, 0o700); err != nil {
		return err
	}
	defer os.RemoveAll(fileDir)

	got := make([]bool, len(primaries))
	g := new(errgroup.Group)
	g.SetLimit(d.config.Workers)
	for i := range primaries {
		i := i
		seg := primaries[i]
		g.Go(func() error {
			data, err := d.fetchSegment(ctx, key, seg)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("segment fetch failed",
					logger.Path(f.RelativePath), "segment", seg.Index, logger.Err(err))
				return nil
			}
			if err := os.WriteFile(spoolPath(fileDir, seg.Index), data, 0o600); err != nil {
				return err
			}
			got[i] = true
			d.progress(entry.ID, 1, 0, 0, 0)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	missing := 0
	for _, ok := range got {
		if !ok {
			missing++
		}
	}
	if missing > 0 {
		if err := d.recoverFromParity(ctx, entry, doc, f, key, fileDir, primaries, parities, got); err != nil {
			return err
		}
	}

	return assemble(dest, f, fileDir, primaries)
}

// fetchSegment retrieves one segment by any of its posted message
// identifiers and returns the verified plaintext.
func (d *Downloader) fetchSegment(ctx context.Context, key []byte, seg *shareindex.SegmentEntry) ([]byte, error) {
	if len(seg.MessageIDs) == 0 {
		return nil, fmt.Errorf("segment %d has no posted articles", seg.Index)
	}
	if err := d.shaper.WaitN(ctx, int(seg.Size)); err != nil {
		return nil, err
	}

	var lastErr error
	for _, messageID := range seg.MessageIDs {
		body, err := d.fetchBody(ctx, "fetch segment", messageID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		data, err := decodePayload(body, key, seg)
		if err != nil {
			lastErr = err
			continue
		}
		return data, nil
	}
	return nil, lastErr
}

// decodePayload unwraps one fetched article body: yEnc, AEAD, optional
// inflate, then the plaintext hash check.
func decodePayload(body, key []byte, seg *shareindex.SegmentEntry) ([]byte, error) {
	part, err := yenc.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	payload, err := crypto.Decrypt(key, seg.Nonce, part.Data, []byte(seg.Subject))
	if err != nil {
		return nil, err
	}
	if seg.Compressed {
		payload, err = inflate(payload)
		if err != nil {
			return nil, err
		}
	}
	if crypto.HashBytes(payload) != seg.Hash {
		return nil, fmt.Errorf("%w: segment %d", models.ErrHashMismatch, seg.Index)
	}
	return payload, nil
}

// recoverFromParity fetches just enough parity segments to rebuild the
// missing primaries and writes the rebuilt plaintexts into the spool.
func (d *Downloader) recoverFromParity(ctx context.Context, entry *models.DownloadQueueEntry, doc *shareindex.Document, f *shareindex.FileEntry, key []byte, fileDir string, primaries, parities []*shareindex.SegmentEntry, got []bool) error {
	missing := 0
	for _, ok := range got {
		if !ok {
			missing++
		}
	}
	if len(parities) == 0 {
		return fmt.Errorf("file %s: %d segments unreachable and no parity posted: %w",
			f.RelativePath, missing, redundancy.ErrNotEnoughShards)
	}

	k := len(primaries)
	m := doc.RedundancyLevel
	shards := make([][]byte, k+m)

	// Parity shards carry the padded shard length; primaries pad up to it.
	shardSize := int(parities[0].Size)

	have := 0
	for _, seg := range parities {
		if have >= missing {
			break
		}
		if seg.RedundancyIndex < 1 || seg.RedundancyIndex > m {
			continue
		}
		data, err := d.fetchSegment(ctx, key, seg)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			logger.Warn("parity fetch failed",
				logger.Path(f.RelativePath), "redundancy_index", seg.RedundancyIndex, logger.Err(err))
			continue
		}
		shards[k+seg.RedundancyIndex-1] = data
		have++
		d.progress(entry.ID, 1, 0, 0, 0)
	}
	if have < missing {
		return fmt.Errorf("file %s: %d segments unreachable, %d parity recovered: %w",
			f.RelativePath, missing, have, redundancy.ErrNotEnoughShards)
	}

	for i, seg := range primaries {
		if !got[i] {
			continue
		}
		data, err := os.ReadFile(spoolPath(fileDir, seg.Index))
		if err != nil {
			return err
		}
		shards[i] = padShard(data, shardSize)
	}

	enc, err := redundancy.New(k, m)
	if err != nil {
		return err
	}
	if err := enc.Reconstruct(shards); err != nil {
		return err
	}

	for i, seg := range primaries {
		if got[i] {
			continue
		}
		data := shards[i][:seg.Size]
		if crypto.HashBytes(data) != seg.Hash {
			return fmt.Errorf("%w: reconstructed segment %d of %s", models.ErrHashMismatch, seg.Index, f.RelativePath)
		}
		if err := os.WriteFile(spoolPath(fileDir, seg.Index), data, 0o600); err != nil {
			return err
		}
		got[i] = true
		d.progress(entry.ID, 0, 0, 0, 1)
	}
	return nil
}

// assemble concatenates the spooled segments in index order and verifies
// the whole-file size and hash against the index.
func assemble(dest string, f *shareindex.FileEntry, fileDir string, primaries []*shareindex.SegmentEntry) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	for _, seg := range primaries {
		part, err := os.Open(spoolPath(fileDir, seg.Index))
		if err != nil {
			out.Close()
			return err
		}
		_, err = io.Copy(out, part)
		part.Close()
		if err != nil {
			out.Close()
			return err
		}
	}
	if err := out.Close(); err != nil {
		return err
	}

	hash, size, err := crypto.HashFile(dest)
	if err != nil {
		return err
	}
	if size != f.Size {
		return fmt.Errorf("%w: %s is %d bytes, expected %d", models.ErrIntegrity, f.RelativePath, size, f.Size)
	}
	if hash != f.Hash {
		return fmt.Errorf("%w: file %s", models.ErrHashMismatch, f.RelativePath)
	}
	return nil
}

// splitSegments separates primaries (sorted by index) from parity entries
// (sorted by redundancy index).
func splitSegments(segments []shareindex.SegmentEntry) (primaries, parities []*shareindex.SegmentEntry) {
	for i := range segments {
		if segments[i].RedundancyIndex == 0 {
			primaries = append(primaries, &segments[i])
		} else {
			parities = append(parities, &segments[i])
		}
	}
	sort.Slice(primaries, func(i, j int) bool { return primaries[i].Index < primaries[j].Index })
	sort.Slice(parities, func(i, j int) bool { return parities[i].RedundancyIndex < parities[j].RedundancyIndex })
	return primaries, parities
}

func spoolPath(fileDir string, index int) string {
	return filepath.Join(fileDir, strconv.Itoa(index))
}

func padShard(d []byte, size int) []byte {
	if len(d) >= size {
		return d
	}
	out := make([]byte, size)
	copy(out, d)
	return out
}

func inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}
