// Package wal implements issuestorage.IssueStore as a compacted snapshot
// plus a write-ahead log.
//
// On disk a workspace holds snapshot.json, the state as of the last
// compaction, and wal.jsonl, one JSON record per committed mutation since
// then. Open loads the snapshot and replays the log. Lines that cannot be
// parsed or applied are skipped and reported rather than failing the load.
// Every mutation runs under the workspace lock, is appended and fsynced
// before the in-memory index changes, and becomes visible to other
// processes the next time they refresh under the lock.
package wal

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"beads-engine/internal/issuestorage"
	"beads-engine/internal/lockfile"
)

// File names inside the workspace directory.
const (
	SnapshotFile = "snapshot.json"
	LogFile      = "wal.jsonl"
)

// Store is the log-structured issue store.
type Store struct {
	dir         string
	lock        *lockfile.Controller
	logger      *slog.Logger
	now         func() time.Time
	autoCompact int

	mu     sync.RWMutex
	state  *state
	report issuestorage.LoadReport

	// Disk bookkeeping, only touched while holding the workspace lock.
	disk diskState
}

var _ issuestorage.IssueStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAutoCompact compacts after any commit that leaves at least n records
// in the log. Zero disables automatic compaction.
func WithAutoCompact(n int) Option {
	return func(s *Store) { s.autoCompact = n }
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open loads the store in dir, creating the directory if needed. The
// initial load runs under lock.
func Open(ctx context.Context, dir string, lock *lockfile.Controller, opts ...Option) (*Store, error) {
	s := &Store{
		dir:    dir,
		lock:   lock,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
		state:  newState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, issuestorage.IOError("creating workspace", err)
	}
	if err := s.lock.WithLock(ctx, s.loadLocked); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) snapshotPath() string { return filepath.Join(s.dir, SnapshotFile) }
func (s *Store) logPath() string      { return filepath.Join(s.dir, LogFile) }

// current returns the published state. It is immutable.
func (s *Store) current() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) publish(st *state) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// --- issuestorage.Reader ---

func (s *Store) Get(ctx context.Context, id string) (*issuestorage.Issue, error) {
	issue, ok := s.current().get(id)
	if !ok {
		return nil, issuestorage.NewError("get", id, issuestorage.ErrNotFound)
	}
	return issue, nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	return s.current().exists(id), nil
}

func (s *Store) List(ctx context.Context, filter *issuestorage.ListFilter) ([]*issuestorage.Issue, error) {
	return s.current().list(filter), nil
}

func (s *Store) Search(ctx context.Context, query string, filter *issuestorage.ListFilter) ([]*issuestorage.Issue, error) {
	return s.current().search(query, filter), nil
}

func (s *Store) Labels(ctx context.Context, id string) ([]string, error) {
	st := s.current()
	if !st.exists(id) {
		return nil, issuestorage.NewError("labels", id, issuestorage.ErrNotFound)
	}
	return st.labelsOf(id), nil
}

func (s *Store) Comments(ctx context.Context, id string) ([]*issuestorage.Comment, error) {
	st := s.current()
	if !st.exists(id) {
		return nil, issuestorage.NewError("comments", id, issuestorage.ErrNotFound)
	}
	return st.commentsOf(id), nil
}

func (s *Store) Dependencies(ctx context.Context, id string) ([]*issuestorage.Dependency, error) {
	return s.current().edgesWhere(func(d *issuestorage.Dependency) bool { return d.IssueID == id }), nil
}

func (s *Store) Dependents(ctx context.Context, id string) ([]*issuestorage.Dependency, error) {
	return s.current().edgesWhere(func(d *issuestorage.Dependency) bool { return d.DependsOnID == id }), nil
}

func (s *Store) Edges(ctx context.Context) ([]*issuestorage.Dependency, error) {
	return s.current().edgesWhere(nil), nil
}

// --- single-operation writes ---

func (s *Store) Insert(ctx context.Context, issue *issuestorage.Issue) error {
	return s.RunInTransaction(ctx, func(tx issuestorage.Transaction) error {
		return tx.Insert(ctx, issue)
	})
}

func (s *Store) Update(ctx context.Context, id string, u *issuestorage.IssueUpdate, now time.Time) (*issuestorage.Issue, error) {
	var out *issuestorage.Issue
	err := s.RunInTransaction(ctx, func(tx issuestorage.Transaction) error {
		var err error
		out, err = tx.Update(ctx, id, u, now)
		return err
	})
	return out, err
}

func (s *Store) AddLabel(ctx context.Context, id, label string) error {
	return s.RunInTransaction(ctx, func(tx issuestorage.Transaction) error {
		return tx.AddLabel(ctx, id, label)
	})
}

func (s *Store) RemoveLabel(ctx context.Context, id, label string) error {
	return s.RunInTransaction(ctx, func(tx issuestorage.Transaction) error {
		return tx.RemoveLabel(ctx, id, label)
	})
}

func (s *Store) AddComment(ctx context.Context, c *issuestorage.Comment) (*issuestorage.Comment, error) {
	var out *issuestorage.Comment
	err := s.RunInTransaction(ctx, func(tx issuestorage.Transaction) error {
		var err error
		out, err = tx.AddComment(ctx, c)
		return err
	})
	return out, err
}

// RunInTransaction refreshes from disk under the lock, runs fn against a
// private copy of the state, then appends fn's records to the log and
// publishes the copy. Nothing is written or published if fn fails.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx issuestorage.Transaction) error) error {
	return s.lock.WithLock(ctx, func() error {
		if err := s.refreshLocked(); err != nil {
			return err
		}
		tx := &txn{store: s, base: s.current()}
		tx.st = tx.base
		if err := fn(tx); err != nil {
			return err
		}
		if len(tx.records) == 0 {
			return nil
		}
		if err := s.appendLocked(tx.records); err != nil {
			return err
		}
		s.publish(tx.st)

		if s.autoCompact > 0 && s.disk.records >= s.autoCompact {
			if err := s.compactLocked(); err != nil {
				// The commit is already durable in the log.
				s.logger.Warn("automatic compaction failed", "dir", s.dir, "error", err)
			}
		}
		return nil
	})
}

// Reload picks up records written by other processes.
func (s *Store) Reload(ctx context.Context) error {
	return s.lock.WithLock(ctx, s.refreshLocked)
}

// Compact rewrites the snapshot from the current state and truncates the
// log. Corrupt records still in the log are dropped.
func (s *Store) Compact(ctx context.Context) error {
	return s.lock.WithLock(ctx, func() error {
		if err := s.refreshLocked(); err != nil {
			return err
		}
		return s.compactLocked()
	})
}

// Report returns a copy of the load report, accumulated across refreshes.
func (s *Store) Report() issuestorage.LoadReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.report
	r.Corrupt = append([]issuestorage.CorruptRecord(nil), s.report.Corrupt...)
	return r
}

// Close is a no-op; the store holds no open descriptors between calls.
func (s *Store) Close() error { return nil }
