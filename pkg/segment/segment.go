// Package segment splits files into fixed-size segments with offset, size
// and hash metadata. Splitting is available eagerly or as a lazy stream for
// memory-bounded processing; either way the primary segments cover the file
// exactly, in order, with no overlap.
package segment

import (
	"fmt"
	"io"
	"os"

	"github.com/usenetsync/usenetsync/pkg/bufpool"
	"github.com/usenetsync/usenetsync/pkg/crypto"
)

// DefaultSize is the default segment size in bytes.
const DefaultSize = 768000

// Segment is one contiguous byte range of a file.
type Segment struct {
	Index       int
	OffsetStart int64
	OffsetEnd   int64 // exclusive
	Size        int64
	Hash        string // SHA-256 of the plaintext bytes, hex
	Data        []byte // populated by Split/Stream, nil for metadata-only use
}

// Split reads r fully and returns all segments eagerly.
// An empty input produces no segments.
func Split(r io.Reader, size int64) ([]Segment, error) {
	if size <= 0 {
		size = DefaultSize
	}

	var segments []Segment
	var offset int64
	index := 0

	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			data := buf[:n]
			segments = append(segments, Segment{
				Index:       index,
				OffsetStart: offset,
				OffsetEnd:   offset + int64(n),
				Size:        int64(n),
				Hash:        crypto.HashBytes(data),
				Data:        data,
			})
			offset += int64(n)
			index++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return segments, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read segment %d: %w", index, err)
		}
	}
}

// Stream reads r and sends segments one at a time on the returned channel,
// closing it on completion. The first error aborts the stream and is sent
// on the error channel. The caller must drain the segment channel.
func Stream(r io.Reader, size int64) (<-chan Segment, <-chan error) {
	segCh := make(chan Segment)
	errCh := make(chan error, 1)

	go func() {
		defer close(segCh)
		defer close(errCh)

		if size <= 0 {
			size = DefaultSize
		}

		var offset int64
		index := 0
		for {
			buf := make([]byte, size)
			n, err := io.ReadFull(r, buf)
			if n > 0 {
				data := buf[:n]
				segCh <- Segment{
					Index:       index,
					OffsetStart: offset,
					OffsetEnd:   offset + int64(n),
					Size:        int64(n),
					Hash:        crypto.HashBytes(data),
					Data:        data,
				}
				offset += int64(n)
				index++
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return
			}
			if err != nil {
				errCh <- fmt.Errorf("failed to read segment %d: %w", index, err)
				return
			}
		}
	}()

	return segCh, errCh
}

// ReadAt loads one segment's plaintext bytes from the source file by
// offset. Upload workers use this so segment data never needs to be
// persisted between indexing and posting. The returned slice is pooled;
// callers hand it back with bufpool.Put once the bytes are consumed.
func ReadAt(path string, offsetStart, size int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	buf := bufpool.Get(int(size))
	if _, err := f.ReadAt(buf, offsetStart); err != nil {
		bufpool.Put(buf)
		return nil, fmt.Errorf("failed to read %d bytes at %d from %s: %w", size, offsetStart, path, err)
	}
	return buf, nil
}

// Count returns the number of primary segments a file of the given size
// produces. Zero-byte files produce zero segments.
func Count(fileSize, segmentSize int64) int {
	if segmentSize <= 0 {
		segmentSize = DefaultSize
	}
	if fileSize <= 0 {
		return 0
	}
	return int((fileSize + segmentSize - 1) / segmentSize)
}
