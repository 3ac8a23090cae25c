// Package watch reruns a conversion when its marker files change.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
)

// DefaultDebounce is how long a file must stay quiet before OnChange runs.
const DefaultDebounce = 500 * time.Millisecond

// Watcher monitors marker files for changes and triggers reconversion.
// Changes to any watched file within one debounce window produce a
// single OnChange call.
type Watcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]*fileState
	mu       sync.RWMutex
	debounce time.Duration
	logger   *zap.Logger

	timerMu sync.Mutex
	timer   *time.Timer
	running bool
	pending bool

	// OnChange receives the path that changed last.
	OnChange func(path string) error
	OnError  func(path string, err error)
}

type fileState struct {
	lastModified time.Time
	size         int64
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a change is handled.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher creates a new file watcher.
func NewWatcher(opts ...Option) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInput, "failed to create watcher")
	}

	w := &Watcher{
		watcher:  fsWatcher,
		files:    make(map[string]*fileState),
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch starts watching a file for changes.
func (w *Watcher) Watch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeInput, "failed to resolve path").WithContext("path", path)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		return errors.Wrap(err, errors.CodeInput, "failed to stat file").WithContext("path", path)
	}

	w.mu.Lock()
	w.files[absPath] = &fileState{
		lastModified: stat.ModTime(),
		size:         stat.Size(),
	}
	w.mu.Unlock()

	// Editors replace files, so watch the directory.
	if err := w.watcher.Add(filepath.Dir(absPath)); err != nil {
		return errors.Wrap(err, errors.CodeInput, "failed to watch directory").WithContext("path", path)
	}
	return nil
}

// Run starts the watch loop. Blocks until context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			absPath, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			w.mu.RLock()
			_, isWatched := w.files[absPath]
			w.mu.RUnlock()
			if !isWatched {
				continue
			}

			w.logger.Debug("file event", zap.String("path", absPath), zap.Stringer("op", event.Op))
			w.schedule(absPath)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
			if w.OnError != nil {
				w.OnError("", err)
			}
		}
	}
}

func (w *Watcher) schedule(path string) {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.handleChange(path) })
}

func (w *Watcher) stopTimer() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// handleChange runs OnChange unless nothing actually changed. A change
// that arrives while OnChange is running triggers one more run.
func (w *Watcher) handleChange(path string) {
	w.timerMu.Lock()
	if w.running {
		w.pending = true
		w.timerMu.Unlock()
		return
	}
	w.running = true
	w.timerMu.Unlock()

	for {
		if w.refresh() && w.OnChange != nil {
			if err := w.OnChange(path); err != nil {
				w.logger.Warn("reconversion failed", zap.String("path", path), zap.Error(err))
				if w.OnError != nil {
					w.OnError(path, err)
				}
			}
		}

		w.timerMu.Lock()
		if !w.pending {
			w.running = false
			w.timerMu.Unlock()
			return
		}
		w.pending = false
		w.timerMu.Unlock()
	}
}

// refresh updates the known state of every file and reports whether any
// of them changed.
func (w *Watcher) refresh() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := false
	for path, state := range w.files {
		stat, err := os.Stat(path)
		if err != nil {
			continue
		}
		if stat.ModTime().Equal(state.lastModified) && stat.Size() == state.size {
			continue
		}
		state.lastModified = stat.ModTime()
		state.size = stat.Size()
		changed = true
	}
	return changed
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
