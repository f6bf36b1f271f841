// Package lockfile provides the cross-process advisory lock that guards
// every mutation of a workspace.
//
// The lock is an flock(2) on a marker file inside the workspace. It is
// cooperative: processes that never call Acquire are not excluded. While
// held, the marker carries a JSON description of the holder so that
// diagnostics can say who is blocking.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	// DefaultTimeout is how long Acquire waits when no timeout is configured.
	DefaultTimeout = 5 * time.Second

	defaultPollInterval = 10 * time.Millisecond
	maxPollInterval     = 100 * time.Millisecond
)

var (
	// ErrTimeout is returned when the lock could not be acquired in time.
	ErrTimeout = errors.New("could not acquire lock")
	// ErrNotHeld is returned by Release when the lock is not held.
	ErrNotHeld = errors.New("lock not held")
)

// Holder describes the process holding a lock.
type Holder struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Controller acquires and releases the lock on one marker file.
// It is not reentrant: calling Acquire while holding the lock waits for
// the timeout and fails.
type Controller struct {
	path    string
	timeout time.Duration
	poll    time.Duration
	metrics *Metrics
	logger  *slog.Logger
	token   string

	// sem serialises goroutines of this process; flock alone does not,
	// since each acquisition opens its own descriptor.
	sem  chan struct{}
	file *os.File
}

// Option configures a Controller.
type Option func(*Controller)

// WithTimeout sets how long Acquire waits. Zero or negative means a single
// attempt with no waiting.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// WithPollInterval sets the initial delay between attempts.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.poll = d
		}
	}
}

// WithLogger sets the logger for lock diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Controller for the marker file at path, reporting into
// metrics. A nil metrics gets a private set of counters.
func New(path string, metrics *Metrics, opts ...Option) *Controller {
	if metrics == nil {
		metrics = NewMetrics()
	}
	c := &Controller{
		path:    path,
		timeout: DefaultTimeout,
		poll:    defaultPollInterval,
		metrics: metrics,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		token:   uuid.NewString(),
		sem:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Path returns the marker file path.
func (c *Controller) Path() string { return c.path }

// Timeout returns the configured acquisition timeout.
func (c *Controller) Timeout() time.Duration { return c.timeout }

// Acquire takes the lock, waiting up to the timeout or until ctx is done.
// It fails with ErrTimeout in either case.
func (c *Controller) Acquire(ctx context.Context) error {
	start := time.Now()
	deadline := start.Add(c.timeout)

	if err := c.enter(ctx, deadline); err != nil {
		wait := time.Since(start)
		c.metrics.recordTimeout(wait)
		return err
	}

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		c.leave()
		return fmt.Errorf("opening lock %s: %w", c.path, err)
	}

	contended := false
	delay := c.poll
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			f.Close()
			c.leave()
			return fmt.Errorf("locking %s: %w", c.path, err)
		}

		contended = true
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return c.timedOut(f, start, fmt.Errorf("%w: %s is held by another process (waited %v)",
				ErrTimeout, c.path, time.Since(start).Round(time.Millisecond)))
		}
		if delay > remaining {
			delay = remaining
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return c.timedOut(f, start, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err()))
		case <-timer.C:
		}
		if delay *= 2; delay > maxPollInterval {
			delay = maxPollInterval
		}
	}

	wait := time.Since(start)
	c.file = f
	c.metrics.recordAcquired(wait, contended)
	c.writeHolder()
	if contended {
		c.logger.Debug("lock acquired after contention", "path", c.path, "wait", wait)
	}
	return nil
}

// enter claims the in-process semaphore.
func (c *Controller) enter(ctx context.Context, deadline time.Time) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	default:
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return fmt.Errorf("%w: %s is held by this process", ErrTimeout, c.path)
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: %s is held by this process", ErrTimeout, c.path)
	}
}

func (c *Controller) leave() {
	<-c.sem
}

func (c *Controller) timedOut(f *os.File, start time.Time, err error) error {
	f.Close()
	c.leave()
	c.metrics.recordTimeout(time.Since(start))
	c.logger.Warn("lock acquisition timed out", "path", c.path, "error", err)
	return err
}

// Release gives up the lock.
func (c *Controller) Release() error {
	if c.file == nil {
		return ErrNotHeld
	}
	f := c.file
	c.file = nil
	defer c.leave()
	defer c.metrics.recordReleased()

	// Clear the holder record before unlocking so a reader never sees a
	// record for a lock nobody holds.
	_ = f.Truncate(0)
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		f.Close()
		return fmt.Errorf("unlocking %s: %w", c.path, err)
	}
	return f.Close()
}

// WithLock runs fn while holding the lock.
func (c *Controller) WithLock(ctx context.Context, fn func() error) error {
	if err := c.Acquire(ctx); err != nil {
		return err
	}
	fnErr := fn()
	if err := c.Release(); err != nil && fnErr == nil {
		return err
	}
	return fnErr
}

// Held reports whether this controller currently holds the lock.
func (c *Controller) Held() bool { return c.file != nil }

// Metrics returns the counters this controller reports into.
func (c *Controller) Metrics() *Metrics { return c.metrics }

// MetricsSnapshot copies the current counters.
func (c *Controller) MetricsSnapshot() MetricsSnapshot { return c.metrics.Snapshot() }

// ResetMetrics zeroes the counters. It does not touch the lock.
func (c *Controller) ResetMetrics() { c.metrics.Reset() }

func (c *Controller) writeHolder() {
	host, _ := os.Hostname()
	data, err := json.Marshal(Holder{
		PID:        os.Getpid(),
		Host:       host,
		Token:      c.token,
		AcquiredAt: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := c.file.Truncate(0); err == nil {
		_, err = c.file.WriteAt(data, 0)
	}
	if err != nil {
		c.logger.Warn("recording lock holder", "path", c.path, "error", err)
	}
}

// ReadHolder returns the holder recorded in the marker file at path, or
// nil when the lock is free.
func ReadHolder(path string) (*Holder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading lock %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var h Holder
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parsing lock holder: %w", err)
	}
	return &h, nil
}
