// Package sqlite implements issuestorage.IssueStore on an embedded SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"beads-engine/internal/issuestorage"
	"beads-engine/internal/lockfile"
)

// DBFile is the database file name inside the workspace directory.
const DBFile = "beads.db"

const (
	busyTimeout  = 5 * time.Second
	beginRetries = 5
	beginBackoff = 10 * time.Millisecond
)

// Store is the SQLite-backed issue store.
type Store struct {
	path   string
	db     *sql.DB
	lock   *lockfile.Controller
	logger *slog.Logger
	now    func() time.Time
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

// WithClock replaces time.Now for default timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// connString builds the DSN. Pragmas in the DSN apply to every pooled
// connection.
func connString(path string) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(wal)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "synchronous(normal)")
	return "file:" + path + "?" + q.Encode()
}

// Open opens or creates beads.db in dir and migrates its schema.
func Open(ctx context.Context, dir string, lock *lockfile.Controller, opts ...Option) (*Store, error) {
	s := &Store{
		path:   filepath.Join(dir, DBFile),
		lock:   lock,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, issuestorage.IOError("creating workspace", err)
	}

	db, err := sql.Open("sqlite3", connString(s.path))
	if err != nil {
		return nil, issuestorage.IOError("opening database", err)
	}
	s.db = db

	err = lock.WithLock(ctx, func() error { return migrate(ctx, db) })
	if err != nil {
		db.Close()
		if issuestorage.KindOf(err) == issuestorage.KindResourceBusy {
			return nil, err
		}
		return nil, issuestorage.IOError("initialising database", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// DB exposes the underlying handle for diagnostics.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) read() ops { return ops{q: s.db, now: s.now} }

func (s *Store) Get(ctx context.Context, id string) (*issuestorage.Issue, error) {
	return s.read().get(ctx, id)
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	return s.read().exists(ctx, id)
}

func (s *Store) List(ctx context.Context, filter *issuestorage.ListFilter) ([]*issuestorage.Issue, error) {
	return s.read().list(ctx, filter)
}

func (s *Store) Search(ctx context.Context, query string, filter *issuestorage.ListFilter) ([]*issuestorage.Issue, error) {
	return s.read().search(ctx, query, filter)
}

func (s *Store) Labels(ctx context.Context, id string) ([]string, error) {
	return s.read().labels(ctx, id)
}

func (s *Store) Comments(ctx context.Context, id string) ([]*issuestorage.Comment, error) {
	return s.read().comments(ctx, id)
}

func (s *Store) Dependencies(ctx context.Context, id string) ([]*issuestorage.Dependency, error) {
	return s.read().edges(ctx, "issue_id = ?", id)
}

func (s *Store) Dependents(ctx context.Context, id string) ([]*issuestorage.Dependency, error) {
	return s.read().edges(ctx, "depends_on_id = ?", id)
}

func (s *Store) Edges(ctx context.Context) ([]*issuestorage.Dependency, error) {
	return s.read().edges(ctx, "")
}

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

// RunInTransaction runs fn inside BEGIN IMMEDIATE on a dedicated
// connection while holding the workspace lock. The transaction is rolled
// back if fn returns an error or panics.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx issuestorage.Transaction) error) error {
	return s.lock.WithLock(ctx, func() error {
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return issuestorage.IOError("acquiring connection", err)
		}
		defer conn.Close()

		if err := beginImmediate(ctx, conn); err != nil {
			return err
		}
		committed := false
		defer func() {
			if !committed {
				// Background context so the rollback runs even if ctx is done.
				_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
			}
		}()

		if err := fn(&txn{ops: ops{q: conn, now: s.now}}); err != nil {
			return err
		}
		if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
			return issuestorage.IOError("committing transaction", err)
		}
		committed = true
		return nil
	})
}

// beginImmediate starts a write transaction, retrying with backoff while
// another connection holds the database write lock.
func beginImmediate(ctx context.Context, conn *sql.Conn) error {
	delay := beginBackoff
	var err error
	for attempt := 0; attempt < beginRetries; attempt++ {
		if _, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err == nil {
			return nil
		}
		if !errors.Is(err, sqlite3.BUSY) && !errors.Is(err, sqlite3.LOCKED) {
			return issuestorage.IOError("beginning transaction", err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", issuestorage.ErrLockTimeout, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("%w: database is busy: %v", issuestorage.ErrLockTimeout, err)
}

// Reload is a no-op: every read goes to the database.
func (s *Store) Reload(ctx context.Context) error { return nil }

// Compact checkpoints the SQLite write-ahead log into the main file and
// rebuilds the database to reclaim free pages.
func (s *Store) Compact(ctx context.Context) error {
	return s.lock.WithLock(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			return issuestorage.IOError("checkpointing database", err)
		}
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			return issuestorage.IOError("vacuuming database", err)
		}
		s.logger.Debug("compacted", "path", s.path)
		return nil
	})
}

// Report is always empty; SQLite either opens a database or fails.
// Use Check for page-level integrity.
func (s *Store) Report() issuestorage.LoadReport { return issuestorage.LoadReport{} }

// Check runs SQLite's integrity check and returns its complaints.
func (s *Store) Check(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return nil, issuestorage.IOError("checking database", err)
	}
	defer rows.Close()
	var problems []string
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, issuestorage.IOError("checking database", err)
		}
		if msg != "ok" {
			problems = append(problems, msg)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, issuestorage.IOError("checking database", err)
	}
	return problems, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
