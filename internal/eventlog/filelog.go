package eventlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"beads-engine/internal/issuestorage"
	"beads-engine/internal/lockfile"
)

// File names inside the workspace directory.
const (
	LogFile       = "events.jsonl"
	HighWaterFile = "events.hwm"
	LockFile      = "events.lock"
)

// tailWindow is how much of the log end is read to find the last record.
const tailWindow = 64 * 1024

// FileLog stores events as JSON lines next to a high-water mark file that
// remembers the largest id ever issued, so ids are never reused even if
// the log is truncated. Writers are serialised by a lock on a separate
// marker file, bounded by the lock timeout.
type FileLog struct {
	dir         string
	logger      *slog.Logger
	now         func() time.Time
	lockTimeout time.Duration
	lock        *lockfile.Controller
}

var _ Log = (*FileLog)(nil)

// Option configures a FileLog.
type Option func(*FileLog)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *FileLog) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithClock replaces time.Now for events appended without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(f *FileLog) {
		if now != nil {
			f.now = now
		}
	}
}

// WithLockTimeout bounds how long Append waits for another writer.
func WithLockTimeout(d time.Duration) Option {
	return func(f *FileLog) { f.lockTimeout = d }
}

// OpenFileLog opens the event log in dir and repairs the high-water mark
// if it is behind the log.
func OpenFileLog(dir string, opts ...Option) (*FileLog, error) {
	l := &FileLog{
		dir:         dir,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
		lockTimeout: lockfile.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lock = lockfile.New(filepath.Join(dir, LockFile), nil,
		lockfile.WithTimeout(l.lockTimeout), lockfile.WithLogger(l.logger))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, issuestorage.IOError("creating event log directory", err)
	}
	err := l.withFileLock(context.Background(), func(f *os.File) error {
		mark, err := l.readMark()
		if err != nil {
			return err
		}
		last, err := lastID(f)
		if err != nil {
			return err
		}
		if last > mark {
			l.logger.Warn("event high-water mark behind log; repairing", "mark", mark, "last", last)
			return l.writeMark(last)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLog) logPath() string  { return filepath.Join(l.dir, LogFile) }
func (l *FileLog) markPath() string { return filepath.Join(l.dir, HighWaterFile) }

// Append writes e with id max(mark, last record) + 1 and syncs it before
// advancing the mark.
func (l *FileLog) Append(ctx context.Context, e *Event) (int64, error) {
	var id int64
	err := l.withFileLock(ctx, func(f *os.File) error {
		mark, err := l.readMark()
		if err != nil {
			return err
		}
		last, err := lastID(f)
		if err != nil {
			return err
		}
		id = max(mark, last) + 1

		rec := *e
		rec.ID = id
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = l.now()
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		data, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("encoding event: %w", err)
		}

		var buf bytes.Buffer
		if torn, err := endsTorn(f); err != nil {
			return err
		} else if torn {
			// Start on a fresh line so a partial record is never extended.
			buf.WriteByte('\n')
		}
		buf.Write(data)
		buf.WriteByte('\n')

		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return issuestorage.IOError("appending event", err)
		}
		if _, err := f.Write(buf.Bytes()); err != nil {
			return issuestorage.IOError("appending event", err)
		}
		if err := f.Sync(); err != nil {
			return issuestorage.IOError("syncing event log", err)
		}
		e.ID = rec.ID
		e.CreatedAt = rec.CreatedAt
		return l.writeMark(id)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Query reads the whole log. Unparseable lines are skipped.
func (l *FileLog) Query(ctx context.Context, q Query) ([]*Event, error) {
	f, err := os.Open(l.logPath())
	if errors.Is(err, os.ErrNotExist) {
		return []*Event{}, nil
	}
	if err != nil {
		return nil, issuestorage.IOError("reading event log", err)
	}
	defer f.Close()

	out := []*Event{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil || e.ID == 0 {
			continue
		}
		if q.Matches(&e) {
			out = append(out, &e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, issuestorage.IOError("reading event log", err)
	}
	SortNewestFirst(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Close is a no-op; descriptors are held only for the duration of a call.
func (l *FileLog) Close() error { return nil }

// withFileLock runs fn on the open log file while holding the writer lock.
// It gives up with ErrLockTimeout once the timeout or ctx expires.
func (l *FileLog) withFileLock(ctx context.Context, fn func(f *os.File) error) error {
	return l.lock.WithLock(ctx, func() error {
		f, err := os.OpenFile(l.logPath(), os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return issuestorage.IOError("opening event log", err)
		}
		defer f.Close()
		return fn(f)
	})
}

// LockMetrics returns the writer lock counters.
func (l *FileLog) LockMetrics() lockfile.MetricsSnapshot { return l.lock.MetricsSnapshot() }

func (l *FileLog) readMark() (int64, error) {
	data, err := os.ReadFile(l.markPath())
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, issuestorage.IOError("reading event high-water mark", err)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		// The log itself still bounds the next id.
		l.logger.Warn("ignoring unreadable event high-water mark", "error", err)
		return 0, nil
	}
	return n, nil
}

func (l *FileLog) writeMark(id int64) error {
	if err := atomic.WriteFile(l.markPath(), strings.NewReader(strconv.FormatInt(id, 10)+"\n")); err != nil {
		return issuestorage.IOError("writing event high-water mark", err)
	}
	return nil
}

// lastID returns the id of the last parseable record in f, scanning
// backwards from the end a window at a time.
func lastID(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, issuestorage.IOError("reading event log", err)
	}
	end := info.Size()
	for end > 0 {
		start := max(end-tailWindow, 0)
		buf := make([]byte, end-start)
		if _, err := f.ReadAt(buf, start); err != nil && err != io.EOF {
			return 0, issuestorage.IOError("reading event log", err)
		}
		lines := bytes.Split(buf, []byte{'\n'})
		// The first piece may be cut by the window; keep it for the next
		// round unless this window reaches the start of the file.
		first := 1
		if start == 0 {
			first = 0
		}
		for i := len(lines) - 1; i >= first; i-- {
			var e struct {
				ID int64 `json:"id"`
			}
			if json.Unmarshal(bytes.TrimSpace(lines[i]), &e) == nil && e.ID > 0 {
				return e.ID, nil
			}
		}
		if start == 0 {
			break
		}
		end = start + int64(len(lines[0]))
		if end-start >= tailWindow {
			// A single line longer than the window; skip past it.
			end = start
		}
	}
	return 0, nil
}

func endsTorn(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, issuestorage.IOError("reading event log", err)
	}
	if info.Size() == 0 {
		return false, nil
	}
	b := make([]byte, 1)
	if _, err := f.ReadAt(b, info.Size()-1); err != nil {
		return false, issuestorage.IOError("reading event log", err)
	}
	return b[0] != '\n', nil
}
