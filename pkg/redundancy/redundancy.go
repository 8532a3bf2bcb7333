// Package redundancy produces parity segments with Reed-Solomon coding so
// that any k of k+m segments suffice to reconstruct a file's data.
package redundancy

import (
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// DefaultLevel is the default parity segment count per file.
const DefaultLevel = 3

var (
	ErrNotEnoughShards = errors.New("redundancy: not enough shards to reconstruct")
	ErrShardSize       = errors.New("redundancy: inconsistent shard sizes")
)

// Encoder wraps a Reed-Solomon codec for k data and m parity shards.
type Encoder struct {
	k   int
	m   int
	enc reedsolomon.Encoder
}

// New creates an encoder for k data shards and m parity shards.
func New(k, m int) (*Encoder, error) {
	if k <= 0 {
		return nil, fmt.Errorf("redundancy: data shard count must be positive, got %d", k)
	}
	if m < 0 {
		return nil, fmt.Errorf("redundancy: parity shard count must be non-negative, got %d", m)
	}
	enc, err := reedsolomon.New(k, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create reed-solomon encoder: %w", err)
	}
	return &Encoder{k: k, m: m, enc: enc}, nil
}

// DataShards returns k.
func (e *Encoder) DataShards() int { return e.k }

// ParityShards returns m.
func (e *Encoder) ParityShards() int { return e.m }

// Encode computes m parity shards over the given data shards. Shards may
// have unequal lengths; they are zero-padded to the longest shard before
// coding, so callers must retain each shard's real length to trim after
// reconstruction. The inputs are not modified.
func (e *Encoder) Encode(data [][]byte) ([][]byte, error) {
	if len(data) != e.k {
		return nil, fmt.Errorf("redundancy: expected %d data shards, got %d", e.k, len(data))
	}
	if e.m == 0 {
		return nil, nil
	}

	size := 0
	for _, d := range data {
		if len(d) > size {
			size = len(d)
		}
	}
	if size == 0 {
		return nil, fmt.Errorf("redundancy: all data shards are empty")
	}

	shards := make([][]byte, e.k+e.m)
	for i, d := range data {
		shards[i] = pad(d, size)
	}
	for i := e.k; i < e.k+e.m; i++ {
		shards[i] = make([]byte, size)
	}

	if err := e.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("failed to encode parity shards: %w", err)
	}
	return shards[e.k:], nil
}

// Reconstruct fills in missing (nil) shards in place. The slice must hold
// k+m entries in shard order; present shards must share one length. At
// least k shards must be present.
func (e *Encoder) Reconstruct(shards [][]byte) error {
	if len(shards) != e.k+e.m {
		return fmt.Errorf("redundancy: expected %d shards, got %d", e.k+e.m, len(shards))
	}

	present := 0
	size := -1
	for _, s := range shards {
		if s == nil {
			continue
		}
		present++
		if size == -1 {
			size = len(s)
		} else if len(s) != size {
			return ErrShardSize
		}
	}
	if present < e.k {
		return fmt.Errorf("%w: have %d of %d required", ErrNotEnoughShards, present, e.k)
	}

	if err := e.enc.Reconstruct(shards); err != nil {
		if errors.Is(err, reedsolomon.ErrTooFewShards) {
			return fmt.Errorf("%w: %v", ErrNotEnoughShards, err)
		}
		return fmt.Errorf("failed to reconstruct shards: %w", err)
	}

	ok, err := e.enc.Verify(shards)
	if err != nil {
		return fmt.Errorf("failed to verify reconstructed shards: %w", err)
	}
	if !ok {
		return fmt.Errorf("redundancy: reconstructed shards fail parity verification")
	}
	return nil
}

func pad(d []byte, size int) []byte {
	if len(d) == size {
		return d
	}
	out := make([]byte, size)
	copy(out, d)
	return out
}
