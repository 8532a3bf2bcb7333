// Package watcher flags managed folders dirty when their trees change
// on disk, so the next index run knows it has work without a full
// rescan sweep.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/models"
	"github.com/usenetsync/usenetsync/pkg/store"
)

// DefaultDebounce coalesces event bursts (editors and rsync fire many
// events per save).
const DefaultDebounce = 2 * time.Second

// Watcher watches managed folder trees and marks folders dirty in the
// store after a debounce window.
type Watcher struct {
	store    store.Store
	fs       *fsnotify.Watcher
	debounce time.Duration

	mu     sync.Mutex
	roots  map[string]string      // folder ID -> absolute root path
	timers map[string]*time.Timer // folder ID -> pending debounce timer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a stopped watcher.
func New(st store.Store, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		store:    st,
		fs:       fs,
		debounce: debounce,
		roots:    make(map[string]string),
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Watch registers a folder's tree. Every directory under the root is
// watched; directories created later are picked up from create events.
func (w *Watcher) Watch(folder *models.Folder) error {
	root, err := filepath.Abs(folder.Path)
	if err != nil {
		return err
	}

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.fs.Add(path)
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.roots[folder.ID] = root
	w.mu.Unlock()

	logger.Debug("watching folder", "folder_id", folder.ID, "path", root)
	return nil
}

// Unwatch removes a folder's tree and cancels any pending debounce.
func (w *Watcher) Unwatch(folderID string) {
	w.mu.Lock()
	root, ok := w.roots[folderID]
	delete(w.roots, folderID)
	if timer, pending := w.timers[folderID]; pending {
		timer.Stop()
		delete(w.timers, folderID)
	}
	w.mu.Unlock()

	if !ok {
		return
	}
	for _, watched := range w.fs.WatchList() {
		if watched == root || strings.HasPrefix(watched, root+string(filepath.Separator)) {
			_ = w.fs.Remove(watched)
		}
	}
}

// Start launches the event loop.
func (w *Watcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Stop halts the event loop and closes the underlying watcher.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	_ = w.fs.Close()
	w.wg.Wait()

	w.mu.Lock()
	for id, timer := range w.timers {
		timer.Stop()
		delete(w.timers, id)
	}
	w.mu.Unlock()
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logger.Warn("watcher error", logger.Err(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	folderID := w.ownerOf(event.Name)
	if folderID == "" {
		return
	}

	// New directories need their own watch before anything inside them
	// is visible.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fs.Add(event.Name); err != nil {
				logger.Warn("failed to watch new directory",
					"path", event.Name, logger.Err(err))
			}
		}
	}

	w.markDirtySoon(ctx, folderID)
}

// ownerOf maps an event path to the folder whose root contains it.
func (w *Watcher) ownerOf(path string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, root := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return id
		}
	}
	return ""
}

// markDirtySoon resets the folder's debounce timer; the store write
// happens once per burst.
func (w *Watcher) markDirtySoon(ctx context.Context, folderID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[folderID]; ok {
		timer.Reset(w.debounce)
		return
	}

	w.timers[folderID] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, folderID)
		w.mu.Unlock()

		if err := w.store.SetFolderDirty(ctx, folderID, true); err != nil {
			logger.Warn("failed to flag folder dirty",
				"folder_id", folderID, logger.Err(err))
			return
		}
		logger.Info("folder changed on disk", "folder_id", folderID)
	})
}
