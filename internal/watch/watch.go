// Package watch reports changes to a workspace's data files made by other
// processes, so long-running readers can reload.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"beads-engine/internal/logging"
)

// DefaultDebounce coalesces the burst of events one commit produces.
const DefaultDebounce = 100 * time.Millisecond

// Change is one debounced batch of file events.
type Change struct {
	Files []string // base names, sorted
	At    time.Time
}

// Watcher watches a set of files inside one directory. The directory is
// watched rather than the files so that atomic replace-by-rename and
// files created after Start are still seen.
type Watcher struct {
	dir      string
	files    map[string]bool
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long the watcher waits for events to settle.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the watcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New returns a watcher for the named files in dir.
func New(dir string, files []string, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      dir,
		files:    make(map[string]bool, len(files)),
		debounce: DefaultDebounce,
		logger:   logging.Discard(),
	}
	for _, f := range files {
		w.files[f] = true
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is done, calling onChange after each quiet period
// that followed at least one relevant event. An error from onChange is
// logged and watching continues. Run returns nil when ctx ends.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context, Change) error) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	pending := map[string]bool{}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if !w.files[name] || event.Op == fsnotify.Chmod {
				continue
			}
			pending[name] = true
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "dir", w.dir, "error", err)

		case <-timer.C:
			c := Change{At: time.Now()}
			for name := range pending {
				c.Files = append(c.Files, name)
			}
			sort.Strings(c.Files)
			pending = map[string]bool{}
			if err := onChange(ctx, c); err != nil {
				w.logger.Warn("change handler failed", "files", c.Files, "error", err)
			}
		}
	}
}

// IsRunning reports whether Run is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
