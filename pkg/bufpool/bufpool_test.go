package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSizeClasses(t *testing.T) {
	t.Run("Small", func(t *testing.T) {
		buf := Get(100)
		defer Put(buf)

		assert.Equal(t, 100, len(buf))
		assert.Equal(t, DefaultSmallSize, cap(buf))
	})

	t.Run("Medium", func(t *testing.T) {
		buf := Get(10 * 1024)
		defer Put(buf)

		assert.Equal(t, 10*1024, len(buf))
		assert.Equal(t, DefaultMediumSize, cap(buf))
	})

	t.Run("Segment", func(t *testing.T) {
		buf := Get(100 * 1024)
		defer Put(buf)

		assert.Equal(t, DefaultSegmentSize, cap(buf))
	})

	t.Run("FullSegment", func(t *testing.T) {
		buf := Get(DefaultSegmentSize)
		defer Put(buf)

		assert.Equal(t, DefaultSegmentSize, len(buf))
		assert.Equal(t, DefaultSegmentSize, cap(buf))
	})

	t.Run("Oversized", func(t *testing.T) {
		buf := Get(DefaultSegmentSize + 1)
		defer Put(buf)

		assert.Equal(t, DefaultSegmentSize+1, len(buf))
		assert.Equal(t, len(buf), cap(buf))
	})

	t.Run("Zero", func(t *testing.T) {
		buf := Get(0)
		defer Put(buf)

		assert.NotNil(t, buf)
		assert.Equal(t, 0, len(buf))
	})
}

func TestPutAndReuse(t *testing.T) {
	t.Run("ReturnedBufferIsReused", func(t *testing.T) {
		buf1 := Get(1024)
		Put(buf1)

		buf2 := Get(1024)
		Put(buf2)

		assert.Equal(t, cap(buf1), cap(buf2))
	})

	t.Run("NilPut", func(t *testing.T) {
		require.NotPanics(t, func() {
			Put(nil)
		})
	})

	t.Run("ForeignBufferIsDropped", func(t *testing.T) {
		// A capacity matching no class is left to the GC.
		require.NotPanics(t, func() {
			Put(make([]byte, 12345))
		})
	})

	t.Run("OversizedBufferIsNotPooled", func(t *testing.T) {
		buf := Get(2 * DefaultSegmentSize)
		require.NotPanics(t, func() {
			Put(buf)
		})
	})
}

func TestCustomPool(t *testing.T) {
	t.Run("CustomSizes", func(t *testing.T) {
		pool := NewPool(Config{
			SmallSize:   1024,
			MediumSize:  8192,
			SegmentSize: 65536,
		})

		small := pool.Get(500)
		assert.Equal(t, 1024, cap(small))
		pool.Put(small)

		medium := pool.Get(2000)
		assert.Equal(t, 8192, cap(medium))
		pool.Put(medium)

		seg := pool.Get(10000)
		assert.Equal(t, 65536, cap(seg))
		pool.Put(seg)
	})

	t.Run("ZeroConfigTakesDefaults", func(t *testing.T) {
		pool := NewPool(Config{})

		buf := pool.Get(100)
		assert.Equal(t, DefaultSmallSize, cap(buf))
		pool.Put(buf)
	})
}

func TestConcurrentGetPut(t *testing.T) {
	const goroutines = 10
	const iterations = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				buf := Get((id*100 + j) % (500 * 1024))
				if len(buf) > 0 {
					buf[0] = byte(id)
				}
				Put(buf)
			}
		}(i)
	}
	wg.Wait()
}

func BenchmarkGet(b *testing.B) {
	b.Run("Small", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			Put(Get(1024))
		}
	})

	b.Run("Segment", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			Put(Get(DefaultSegmentSize))
		}
	})
}
