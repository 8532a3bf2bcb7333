package folderlock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usenetsync/usenetsync/pkg/models"
)

func TestSet(t *testing.T) {
	s := NewSet()

	require.NoError(t, s.Acquire("folder-a"))
	assert.True(t, s.Busy("folder-a"))

	t.Run("re-entry fails fast", func(t *testing.T) {
		assert.ErrorIs(t, s.Acquire("folder-a"), models.ErrFolderBusy)
	})

	t.Run("independent folders do not contend", func(t *testing.T) {
		require.NoError(t, s.Acquire("folder-b"))
		s.Release("folder-b")
	})

	s.Release("folder-a")
	assert.False(t, s.Busy("folder-a"))
	require.NoError(t, s.Acquire("folder-a"))
	s.Release("folder-a")

	t.Run("release of unlocked folder is a no-op", func(t *testing.T) {
		s.Release("never-locked")
	})
}

func TestSetConcurrent(t *testing.T) {
	s := NewSet()

	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Acquire("same-folder") == nil {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, acquired, "exactly one concurrent acquire wins")
}
