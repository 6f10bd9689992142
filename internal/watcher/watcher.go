// Package watcher keeps cached counts honest when files change on disk.
// It watches registered directories with fsnotify, lets bursts of events
// settle before reporting, and falls back to a slow poll for paths whose
// directories cannot be watched.
package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// DefaultSettle is how long a path must stay quiet after a write
	// burst before a change is reported.
	DefaultSettle = 200 * time.Millisecond
	// DefaultPollInterval is how often unwatchable paths are re-stated.
	DefaultPollInterval = 30 * time.Second
)

// Config configures a Watcher.
type Config struct {
	// Settle is the per-path quiet period before OnChange fires.
	Settle time.Duration
	// PollInterval drives the stat-based fallback for paths whose
	// directories could not be watched. Zero disables polling.
	PollInterval time.Duration
	// Filter limits which paths produce change reports. Nil means all.
	Filter func(path string) bool
	// OnChange receives the settled path of each change. Required.
	OnChange func(path string)
	// Logger receives diagnostics. Optional.
	Logger *slog.Logger
}

// Watcher reports settled file changes under registered directories.
type Watcher struct {
	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	watched  map[string]bool      // directories under fsnotify watch
	polled   map[string]time.Time // path -> last known mtime, for fallback polling
	timers   map[string]*time.Timer
	settle   time.Duration
	filter   func(string) bool
	onChange func(string)
	logger   *slog.Logger

	pollTicker *time.Ticker
	done       chan struct{}
	closed     bool
}

// New creates and starts a watcher. Directories are added with Watch.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	w := &Watcher{
		fsw:      fsw,
		watched:  make(map[string]bool),
		polled:   make(map[string]time.Time),
		timers:   make(map[string]*time.Timer),
		settle:   cfg.Settle,
		filter:   cfg.Filter,
		onChange: cfg.OnChange,
		logger:   cfg.Logger,
		done:     make(chan struct{}),
	}

	go w.eventLoop()
	if cfg.PollInterval > 0 {
		w.pollTicker = time.NewTicker(cfg.PollInterval)
		go w.pollLoop()
	}
	return w, nil
}

// Watch adds a directory to the fsnotify watch set.
func (w *Watcher) Watch(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[dir] {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.watched[dir] = true
	return nil
}

// Unwatch removes a directory from the watch set.
func (w *Watcher) Unwatch(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.watched[dir] {
		return
	}
	if err := w.fsw.Remove(dir); err == nil {
		delete(w.watched, dir)
	}
}

// Poll registers a path for the stat-based fallback. Used for files whose
// directories cannot be watched (network mounts, exhausted fd budget).
func (w *Watcher) Poll(path string) {
	mt := time.Time{}
	if fi, err := os.Stat(path); err == nil {
		mt = fi.ModTime()
	}
	w.mu.Lock()
	w.polled[path] = mt
	w.mu.Unlock()
}

// eventLoop debounces fsnotify events per path: each event resets that
// path's settle timer, and the change is reported once the burst quiets.
func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if w.filter != nil && !w.filter(event.Name) {
				continue
			}
			w.arm(event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Debug("watch error", "err", err)
			}
		case <-w.done:
			return
		}
	}
}

// arm (re)starts the settle timer for path.
func (w *Watcher) arm(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.settle, func() { w.fire(path) })
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	delete(w.timers, path)
	w.mu.Unlock()

	w.onChange(path)
}

// pollLoop re-stats registered fallback paths and reports mtime changes.
func (w *Watcher) pollLoop() {
	for {
		select {
		case <-w.pollTicker.C:
			w.pollOnce()
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) pollOnce() {
	w.mu.Lock()
	paths := make(map[string]time.Time, len(w.polled))
	for p, mt := range w.polled {
		paths[p] = mt
	}
	w.mu.Unlock()

	// One ReadDir per directory beats one Stat per file when several
	// polled paths share a directory.
	byDir := make(map[string][]string)
	for p := range paths {
		byDir[filepath.Dir(p)] = append(byDir[filepath.Dir(p)], p)
	}

	for dir, members := range byDir {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		infos := make(map[string]os.FileInfo, len(entries))
		for _, de := range entries {
			if fi, err := de.Info(); err == nil {
				infos[de.Name()] = fi
			}
		}
		for _, p := range members {
			fi, ok := infos[filepath.Base(p)]
			if !ok {
				continue
			}
			if fi.ModTime().After(paths[p]) {
				w.mu.Lock()
				w.polled[p] = fi.ModTime()
				closed := w.closed
				w.mu.Unlock()
				if !closed && (w.filter == nil || w.filter(p)) {
					w.onChange(p)
				}
			}
		}
	}
}

// Close shuts the watcher down. Idempotent.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	if w.pollTicker != nil {
		w.pollTicker.Stop()
	}
	close(w.done)
	return w.fsw.Close()
}
