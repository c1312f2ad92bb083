package registry

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"cowork/pkg/logging"
)

// debounceInterval is how long the watcher waits after the last change
// before notifying. Editors and migrations touch several files in a burst.
const debounceInterval = 500 * time.Millisecond

// Watcher notifies when any config layer changes on disk. It watches the
// parent directories rather than the files themselves because atomic
// rename-into-place replaces the inode fsnotify would otherwise track.
type Watcher struct {
	mu       sync.Mutex
	registry *Registry
	onChange func()

	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	running   bool

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewWatcher creates a watcher over the registry's config files. onChange
// runs on a watcher goroutine after each debounced burst of changes.
func NewWatcher(registry *Registry, onChange func()) *Watcher {
	return &Watcher{registry: registry, onChange: onChange}
}

// Start begins watching. Directories that do not exist yet are skipped;
// they are picked up on the next Start after creation.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	watched := map[string]struct{}{}
	for _, l := range w.registry.layers() {
		dir := filepath.Dir(l.path)
		if _, ok := watched[dir]; ok {
			continue
		}
		watched[dir] = struct{}{}
		if err := fsWatcher.Add(dir); err != nil {
			logging.Debug("RegistryWatcher", "Not watching %s: %v", dir, err)
		}
	}

	w.fsWatcher = fsWatcher
	w.stopCh = make(chan struct{})
	w.running = true

	go w.processEvents(fsWatcher.Events, fsWatcher.Errors)

	logging.Debug("RegistryWatcher", "Watching %d config directories", len(watched))
	return nil
}

func (w *Watcher) processEvents(eventsCh <-chan fsnotify.Event, errorsCh <-chan error) {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			logging.Error("RegistryWatcher", err, "fsnotify error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !w.isRelevantFile(event.Name) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}

	logging.Debug("RegistryWatcher", "Config file changed: %s", event.Name)
	w.notifyDebounced()
}

func (w *Watcher) isRelevantFile(name string) bool {
	for _, l := range w.registry.layers() {
		if filepath.Clean(name) == filepath.Clean(l.path) {
			return true
		}
	}
	return false
}

func (w *Watcher) notifyDebounced() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(debounceInterval, func() {
		w.mu.Lock()
		running := w.running
		callback := w.onChange
		w.mu.Unlock()

		if running && callback != nil {
			callback()
		}
	})
}

// Stop halts the watcher and cancels any pending notification.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()

	if w.fsWatcher != nil {
		if err := w.fsWatcher.Close(); err != nil {
			logging.Warn("RegistryWatcher", "Error closing fsnotify watcher: %v", err)
		}
		w.fsWatcher = nil
	}
	return nil
}
