// Package workspace ties the engine together for one .beads directory: it
// selects the storage backend recorded at init, shares one lock controller
// between the store and the graph, and records an audit event for every
// mutation it performs.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"

	"beads-engine/internal/eventlog"
	"beads-engine/internal/graph"
	"beads-engine/internal/idgen"
	"beads-engine/internal/issuestorage"
	"beads-engine/internal/issuestorage/sqlite"
	"beads-engine/internal/issuestorage/wal"
	"beads-engine/internal/lockfile"
	"beads-engine/internal/logging"
	"beads-engine/internal/watch"
)

// File names inside the workspace directory.
const (
	DirName      = ".beads"
	MetadataFile = "metadata.json"
	LockFile     = "beads.lock"
)

// metadataVersion is the layout version written by Init.
const metadataVersion = 1

// Backend names a storage implementation.
type Backend string

const (
	BackendWAL    Backend = "wal"
	BackendSQLite Backend = "sqlite"
)

// ParseBackend validates a backend name. Empty means wal.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case "", BackendWAL:
		return BackendWAL, nil
	case BackendSQLite:
		return BackendSQLite, nil
	}
	return "", fmt.Errorf("%w: unknown storage backend %q (want wal or sqlite)", issuestorage.ErrInvalid, s)
}

var (
	// ErrNotInitialized is returned by Open when dir has no metadata.json.
	ErrNotInitialized = errors.New("workspace not initialized (run `bd init`)")
	// ErrAlreadyInitialized is returned by Init when metadata.json exists.
	ErrAlreadyInitialized = errors.New("workspace already initialized")
)

// Metadata is the contents of metadata.json.
type Metadata struct {
	Version   int       `json:"version"`
	Backend   Backend   `json:"backend"`
	Prefix    string    `json:"prefix"`
	CreatedAt time.Time `json:"created_at"`
}

// ReadMetadata loads metadata.json from dir.
func ReadMetadata(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNotInitialized)
		}
		return nil, issuestorage.IOError("reading metadata", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, issuestorage.NewError("reading metadata", "", fmt.Errorf("%w: %v", issuestorage.ErrCorruption, err))
	}
	if m.Version > metadataVersion {
		return nil, issuestorage.NewError("reading metadata", "",
			fmt.Errorf("%w: layout version %d is newer than this build supports", issuestorage.ErrCorruption, m.Version))
	}
	if _, err := ParseBackend(string(m.Backend)); err != nil {
		return nil, issuestorage.NewError("reading metadata", "", fmt.Errorf("%w: %v", issuestorage.ErrCorruption, err))
	}
	return &m, nil
}

// Init creates dir and writes its metadata. The backend's files are
// created on first Open.
func Init(dir string, backend Backend, prefix string) (*Metadata, error) {
	if _, err := os.Stat(filepath.Join(dir, MetadataFile)); err == nil {
		return nil, fmt.Errorf("%s: %w", dir, ErrAlreadyInitialized)
	}
	if backend == "" {
		backend = BackendWAL
	}
	if _, err := ParseBackend(string(backend)); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, issuestorage.IOError("creating workspace", err)
	}
	m := &Metadata{
		Version:   metadataVersion,
		Backend:   backend,
		Prefix:    idgen.NormalizePrefix(prefix),
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	if err := atomic.WriteFile(filepath.Join(dir, MetadataFile), bytes.NewReader(data)); err != nil {
		return nil, issuestorage.IOError("writing metadata", err)
	}
	return m, nil
}

// Options carries resolved configuration values. The workspace never reads
// configuration files itself.
type Options struct {
	Actor       string
	Prefix      string        // overrides the prefix recorded at init
	LockTimeout time.Duration // 0 uses lockfile.DefaultTimeout
	AutoCompact int           // wal only; compact once the log holds this many records
	StrictAudit bool          // fail mutations whose event cannot be recorded
	MaxDepth    int           // hierarchy depth limit; 0 uses the default
	Logger      *slog.Logger
	Metrics     *lockfile.Metrics
	Now         func() time.Time
}

// Workspace is an open .beads directory.
type Workspace struct {
	dir      string
	meta     *Metadata
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
	lock     *lockfile.Controller
	store    issuestorage.IssueStore
	graph    *graph.Graph
	events   eventlog.Log
	recorder *eventlog.Recorder
}

// Open opens the workspace in dir with the backend named in its metadata.
func Open(ctx context.Context, dir string, opts Options) (*Workspace, error) {
	meta, err := ReadMetadata(dir)
	if err != nil {
		return nil, err
	}
	w := &Workspace{dir: dir, meta: meta, opts: opts, logger: opts.Logger, now: opts.Now}
	if w.logger == nil {
		w.logger = logging.Discard()
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.opts.Prefix == "" {
		w.opts.Prefix = meta.Prefix
	}
	if w.opts.MaxDepth <= 0 {
		w.opts.MaxDepth = idgen.DefaultMaxHierarchyDepth
	}

	lockOpts := []lockfile.Option{lockfile.WithLogger(w.logger)}
	if opts.LockTimeout > 0 {
		lockOpts = append(lockOpts, lockfile.WithTimeout(opts.LockTimeout))
	}
	w.lock = lockfile.New(filepath.Join(dir, LockFile), opts.Metrics, lockOpts...)

	switch meta.Backend {
	case BackendSQLite:
		s, err := sqlite.Open(ctx, dir, w.lock, sqlite.WithLogger(w.logger), sqlite.WithClock(w.now))
		if err != nil {
			return nil, err
		}
		w.store = s
		w.events = s.EventLog()
	default:
		s, err := wal.Open(ctx, dir, w.lock,
			wal.WithLogger(w.logger), wal.WithClock(w.now), wal.WithAutoCompact(opts.AutoCompact))
		if err != nil {
			return nil, err
		}
		w.store = s
		fl, err := eventlog.OpenFileLog(dir, eventlog.WithLogger(w.logger), eventlog.WithClock(w.now),
			eventlog.WithLockTimeout(w.lock.Timeout()))
		if err != nil {
			s.Close()
			return nil, err
		}
		w.events = fl
	}

	w.graph = graph.New(w.store, graph.WithClock(w.now))
	w.recorder = eventlog.NewRecorder(w.events, opts.Actor, opts.StrictAudit, w.logger)
	w.logger.Debug("workspace opened", "dir", dir, "backend", meta.Backend)
	return w, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// Metadata returns the workspace metadata.
func (w *Workspace) Metadata() Metadata { return *w.meta }

// Actor returns the actor stamped on events and new issues.
func (w *Workspace) Actor() string { return w.opts.Actor }

// Store returns the underlying issue store. Writes made directly through
// it bypass graph validation and event recording.
func (w *Workspace) Store() issuestorage.IssueStore { return w.store }

// Graph returns the dependency graph.
func (w *Workspace) Graph() *graph.Graph { return w.graph }

// Events returns the event log.
func (w *Workspace) Events() eventlog.Log { return w.events }

// Lock returns the lock controller shared by every writer in this process.
func (w *Workspace) Lock() *lockfile.Controller { return w.lock }

// Close closes the event log and the store.
func (w *Workspace) Close() error {
	return errors.Join(w.events.Close(), w.store.Close())
}

// dataFiles lists the files other processes write for this backend.
func (w *Workspace) dataFiles() []string {
	if w.meta.Backend == BackendSQLite {
		return []string{sqlite.DBFile, sqlite.DBFile + "-wal"}
	}
	return []string{wal.SnapshotFile, wal.LogFile, eventlog.LogFile}
}

// Watch reloads the store whenever another process changes the data
// files, then calls fn. It blocks until ctx is done.
func (w *Workspace) Watch(ctx context.Context, fn func(watch.Change)) error {
	watcher := watch.New(w.dir, w.dataFiles(), watch.WithLogger(w.logger))
	return watcher.Run(ctx, func(ctx context.Context, c watch.Change) error {
		if err := w.store.Reload(ctx); err != nil {
			return err
		}
		if fn != nil {
			fn(c)
		}
		return nil
	})
}
