package recipe

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events an editor produces on save.
const DefaultDebounce = 500 * time.Millisecond

// ReloadFunc reloads one watched file.
type ReloadFunc func() error

// Watcher reloads files when they change on disk.
//
// It watches each file's directory rather than the file, so atomic
// replace-by-rename saves are seen too.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   Logger

	mu      sync.Mutex
	targets map[string]ReloadFunc
	timers  map[string]*time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher creates a watcher. A debounce of zero uses DefaultDebounce.
func NewWatcher(debounce time.Duration, logger Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = noopLogger{}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	return &Watcher{
		watcher:  fw,
		debounce: debounce,
		logger:   logger,
		targets:  make(map[string]ReloadFunc),
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}, nil
}

// Watch calls reload after path changes.
func (w *Watcher) Watch(path string, reload ReloadFunc) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	if err := w.watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	w.mu.Lock()
	w.targets[abs] = reload
	w.mu.Unlock()
	return nil
}

// Start begins processing file events in the background.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Close stops the watcher and pending reloads.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.schedule(filepath.Clean(event.Name))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	reload, ok := w.targets[path]
	if !ok {
		return
	}
	if t, pending := w.timers[path]; pending {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
		}
		if err := reload(); err != nil {
			w.logger.Error("reload failed, keeping previous contents", "file", path, "error", err)
			return
		}
		w.logger.Info("file reloaded", "file", path)
	})
}
