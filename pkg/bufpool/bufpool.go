// Package bufpool provides tiered byte-slice pools for the transfer paths.
//
// Upload and download workers move one segment at a time through read,
// compress, encrypt and encode steps; at the default segment size that is
// a 750 KiB allocation per article, repeated for every segment of every
// file. Pooling those buffers keeps the steady-state allocation rate flat
// regardless of transfer volume.
//
// Three size classes cover the workload: small for headers and control
// payloads, medium for index envelopes, and segment for segment bodies.
// Requests above the segment class are allocated directly and never
// pooled, so oversized one-offs do not pin memory.
package bufpool

import (
	"sync"
)

// Size classes. The segment class matches the default segment size; the
// final segment of a file is shorter and still draws from the same class.
const (
	DefaultSmallSize   = 4 << 10
	DefaultMediumSize  = 64 << 10
	DefaultSegmentSize = 768000
)

// Pool manages byte-slice pools organized by size class.
type Pool struct {
	small       sync.Pool
	medium      sync.Pool
	segment     sync.Pool
	smallSize   int
	mediumSize  int
	segmentSize int
}

// Config sizes a custom pool. Zero values take the defaults.
type Config struct {
	SmallSize   int
	MediumSize  int
	SegmentSize int
}

// NewPool creates a buffer pool with the given configuration.
func NewPool(cfg Config) *Pool {
	if cfg.SmallSize <= 0 {
		cfg.SmallSize = DefaultSmallSize
	}
	if cfg.MediumSize <= 0 {
		cfg.MediumSize = DefaultMediumSize
	}
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = DefaultSegmentSize
	}

	p := &Pool{
		smallSize:   cfg.SmallSize,
		mediumSize:  cfg.MediumSize,
		segmentSize: cfg.SegmentSize,
	}
	p.small.New = func() any {
		buf := make([]byte, p.smallSize)
		return &buf
	}
	p.medium.New = func() any {
		buf := make([]byte, p.mediumSize)
		return &buf
	}
	p.segment.New = func() any {
		buf := make([]byte, p.segmentSize)
		return &buf
	}
	return p
}

// Get returns a slice of exactly the requested length, backed by a pooled
// buffer when the size fits a class. The caller owns the slice until it
// calls Put; skipping Put costs an allocation, never correctness.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= p.smallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= p.mediumSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= p.segmentSize:
		bufPtr = p.segment.Get().(*[]byte)
	default:
		return make([]byte, size)
	}

	return (*bufPtr)[:size]
}

// Put returns a buffer to its class pool. Buffers whose capacity matches
// no class, including direct allocations from oversized Gets, are left to
// the garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	switch cap(buf) {
	case p.smallSize:
		full := buf[:cap(buf)]
		p.small.Put(&full)
	case p.mediumSize:
		full := buf[:cap(buf)]
		p.medium.Put(&full)
	case p.segmentSize:
		full := buf[:cap(buf)]
		p.segment.Put(&full)
	}
}

// globalPool serves the package-level Get/Put used by the transfer paths.
var globalPool = NewPool(Config{})

// Get returns a slice of at least the requested size from the shared pool.
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer obtained from Get to the shared pool.
func Put(buf []byte) {
	globalPool.Put(buf)
}
