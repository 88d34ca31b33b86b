package observer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatched are the instance root files whose changes wake the loop
var DefaultWatched = []string{"missions.md", ".stop", ".pause.json", ".focus.json"}

// Watcher wakes the control loop early when an operator edits the instance
// root. Bursts of events collapse into one wake after the debounce delay.
type Watcher struct {
	watcher  *fsnotify.Watcher
	names    map[string]struct{}
	debounce time.Duration
	wake     chan struct{}
	logger   *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]struct{}
	last    []string
}

// NewWatcher watches root for changes to the named files (DefaultWatched when
// none are given). The directory is watched rather than the files so atomic
// replacements are seen.
func NewWatcher(root string, logger *slog.Logger, names ...string) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(names) == 0 {
		names = DefaultWatched
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create instance root: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(root); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", root, err)
	}

	w := &Watcher{
		watcher:  fw,
		names:    make(map[string]struct{}, len(names)),
		debounce: 500 * time.Millisecond,
		wake:     make(chan struct{}, 1),
		logger:   logger.With("component", "watcher"),
		pending:  make(map[string]struct{}),
	}
	for _, n := range names {
		w.names[n] = struct{}{}
	}
	return w, nil
}

// SetDebounce sets the debounce duration for batching file changes
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// Wake delivers one value per debounced burst of changes
func (w *Watcher) Wake() <-chan struct{} {
	return w.wake
}

// LastChanged returns the file names of the most recent burst
func (w *Watcher) LastChanged() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.last...)
}

// Run consumes events until ctx is done, then closes the watcher
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// Close stops watching
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	name := filepath.Base(event.Name)
	if _, ok := w.names[name]; !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[name] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	changed := make([]string, 0, len(w.pending))
	for name := range w.pending {
		changed = append(changed, name)
	}
	w.pending = make(map[string]struct{})
	w.last = changed
	w.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	w.logger.Debug("instance files changed", "files", changed)
	select {
	case w.wake <- struct{}{}:
	default:
	}
}
