// Package folderlock tracks folders currently being indexed so concurrent
// triggers on the same folder fail fast instead of producing divergent
// versions.
package folderlock

import (
	"sync"

	"github.com/usenetsync/usenetsync/pkg/models"
)

// Set is a process-wide lock set keyed by folder identifier.
type Set struct {
	mu     sync.Mutex
	locked map[string]struct{}
}

// NewSet creates an empty lock set.
func NewSet() *Set {
	return &Set{locked: make(map[string]struct{})}
}

// Acquire locks a folder for indexing. Returns models.ErrFolderBusy when
// the folder is already locked; it never queues.
func (s *Set) Acquire(folderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.locked[folderID]; busy {
		return models.ErrFolderBusy
	}
	s.locked[folderID] = struct{}{}
	return nil
}

// Release unlocks a folder. Releasing an unlocked folder is a no-op.
func (s *Set) Release(folderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locked, folderID)
}

// Busy reports whether a folder is currently locked.
func (s *Set) Busy(folderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.locked[folderID]
	return busy
}
