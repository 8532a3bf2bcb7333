package redundancy

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("rejects non-positive data shards", func(t *testing.T) {
		_, err := New(0, 3)
		assert.Error(t, err)
	})

	t.Run("rejects negative parity", func(t *testing.T) {
		_, err := New(4, -1)
		assert.Error(t, err)
	})
}

func TestEncodeReconstruct(t *testing.T) {
	enc, err := New(4, 3)
	require.NoError(t, err)

	data := [][]byte{
		bytes.Repeat([]byte{1}, 1000),
		bytes.Repeat([]byte{2}, 1000),
		bytes.Repeat([]byte{3}, 1000),
		bytes.Repeat([]byte{4}, 1000),
	}

	parity, err := enc.Encode(data)
	require.NoError(t, err)
	require.Len(t, parity, 3)
	for _, p := range parity {
		assert.Len(t, p, 1000)
	}

	t.Run("any k of k+m suffice", func(t *testing.T) {
		// Lose three shards (the maximum tolerable): two data, one parity.
		shards := make([][]byte, 7)
		shards[1] = clone(data[1])
		shards[2] = clone(data[2])
		shards[4] = clone(parity[0])
		shards[6] = clone(parity[2])

		require.NoError(t, enc.Reconstruct(shards))
		for i := range data {
			assert.Equal(t, data[i], shards[i], "data shard %d", i)
		}
	})

	t.Run("k-1 shards fail", func(t *testing.T) {
		shards := make([][]byte, 7)
		shards[0] = clone(data[0])
		shards[1] = clone(data[1])
		shards[5] = clone(parity[1])

		assert.ErrorIs(t, enc.Reconstruct(shards), ErrNotEnoughShards)
	})

	t.Run("inconsistent shard sizes rejected", func(t *testing.T) {
		shards := make([][]byte, 7)
		for i := range data {
			shards[i] = clone(data[i])
		}
		shards[3] = shards[3][:999]
		for i, p := range parity {
			shards[4+i] = clone(p)
		}

		assert.ErrorIs(t, enc.Reconstruct(shards), ErrShardSize)
	})
}

func TestEncodeShortFinalShard(t *testing.T) {
	enc, err := New(3, 2)
	require.NoError(t, err)

	// Final shard shorter than the rest, as for a file's last segment.
	data := [][]byte{
		bytes.Repeat([]byte{7}, 500),
		bytes.Repeat([]byte{8}, 500),
		bytes.Repeat([]byte{9}, 123),
	}

	parity, err := enc.Encode(data)
	require.NoError(t, err)
	require.Len(t, parity, 2)

	shards := make([][]byte, 5)
	shards[0] = clone(data[0])
	shards[3] = clone(parity[0])
	shards[4] = clone(parity[1])

	require.NoError(t, enc.Reconstruct(shards))
	assert.Equal(t, data[1], shards[1])
	// Reconstruction restores the padded shard; the caller trims with the
	// recorded real length.
	assert.Equal(t, data[2], shards[2][:123])
	for _, b := range shards[2][123:] {
		assert.Zero(t, b)
	}
}

func TestEncodeValidation(t *testing.T) {
	enc, err := New(2, 1)
	require.NoError(t, err)

	t.Run("wrong shard count", func(t *testing.T) {
		_, err := enc.Encode([][]byte{{1}})
		assert.Error(t, err)
	})

	t.Run("all empty", func(t *testing.T) {
		_, err := enc.Encode([][]byte{nil, nil})
		assert.Error(t, err)
	})

	t.Run("zero parity yields nothing", func(t *testing.T) {
		enc, err := New(2, 0)
		require.NoError(t, err)
		parity, err := enc.Encode([][]byte{{1}, {2}})
		require.NoError(t, err)
		assert.Nil(t, parity)
	})
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
