package lockfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func lockPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "beads.lock")
}

func TestWithLockRunsAndReleases(t *testing.T) {
	m := NewMetrics()
	c := New(lockPath(t), m)

	ran := false
	err := c.WithLock(context.Background(), func() error {
		ran = true
		if !m.Snapshot().Held {
			t.Error("metrics should report held inside WithLock")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock failed: %v", err)
	}
	if !ran {
		t.Fatal("fn was not called")
	}
	snap := c.MetricsSnapshot()
	if snap.Acquisitions != 1 || snap.Contended != 0 || snap.Held {
		t.Errorf("unexpected snapshot after WithLock: %+v", snap)
	}
}

func TestWithLockPropagatesError(t *testing.T) {
	c := New(lockPath(t), nil)
	boom := errors.New("boom")
	if err := c.WithLock(context.Background(), func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("WithLock error = %v, want boom", err)
	}
	if c.Held() {
		t.Error("lock should be released after fn fails")
	}
}

func TestSecondControllerTimesOut(t *testing.T) {
	path := lockPath(t)
	ctx := context.Background()
	holder := New(path, nil)
	if err := holder.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer holder.Release()

	m := NewMetrics()
	waiter := New(path, m, WithTimeout(50*time.Millisecond))
	start := time.Now()
	err := waiter.Acquire(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Acquire error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("gave up after %v, before the timeout", elapsed)
	}
	snap := m.Snapshot()
	if snap.Timeouts != 1 || snap.Acquisitions != 0 {
		t.Errorf("unexpected snapshot after timeout: %+v", snap)
	}
	if snap.TimeoutWait < 50*time.Millisecond {
		t.Errorf("TimeoutWait = %v, want at least the timeout", snap.TimeoutWait)
	}
	if snap.TotalWait != 0 || snap.AverageWait() != 0 {
		t.Errorf("timed-out wait counted as an acquisition wait: %+v", snap)
	}
}

func TestAverageWaitIgnoresTimeouts(t *testing.T) {
	m := NewMetrics()
	m.recordAcquired(10*time.Millisecond, true)
	m.recordAcquired(30*time.Millisecond, true)
	m.recordAcquired(time.Second, false)
	m.recordTimeout(5 * time.Second)

	snap := m.Snapshot()
	if got := snap.AverageWait(); got != 20*time.Millisecond {
		t.Errorf("AverageWait = %v, want 20ms", got)
	}
	if snap.MaxWait != 30*time.Millisecond || snap.TimeoutWait != 5*time.Second {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestWaiterSucceedsAfterRelease(t *testing.T) {
	path := lockPath(t)
	ctx := context.Background()
	holder := New(path, nil)
	if err := holder.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	go func() {
		time.Sleep(40 * time.Millisecond)
		holder.Release()
	}()

	m := NewMetrics()
	waiter := New(path, m, WithTimeout(2*time.Second))
	if err := waiter.Acquire(ctx); err != nil {
		t.Fatalf("waiter Acquire failed: %v", err)
	}
	defer waiter.Release()

	snap := m.Snapshot()
	if snap.Acquisitions != 1 || snap.Contended != 1 {
		t.Errorf("expected one contended acquisition, got %+v", snap)
	}
	if snap.MaxWait <= 0 || snap.TotalWait < snap.MaxWait {
		t.Errorf("wait times not recorded: %+v", snap)
	}
}

func TestRaceExactlyOneWinner(t *testing.T) {
	path := lockPath(t)
	ctx := context.Background()
	const n = 4

	var (
		wg       sync.WaitGroup
		attempts sync.WaitGroup
		mu       sync.Mutex
		winners  int
		timeouts int
	)
	start := make(chan struct{})
	attempts.Add(n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := New(path, nil, WithTimeout(0))
			<-start
			err := c.Acquire(ctx)
			attempts.Done()
			mu.Lock()
			if err == nil {
				winners++
			} else if errors.Is(err, ErrTimeout) {
				timeouts++
			}
			mu.Unlock()
			if err == nil {
				// Hold until every contender has tried.
				attempts.Wait()
				c.Release()
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
	if timeouts != n-1 {
		t.Errorf("timeouts = %d, want %d", timeouts, n-1)
	}
}

func TestContextCancelStopsWaiting(t *testing.T) {
	path := lockPath(t)
	holder := New(path, nil)
	if err := holder.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer holder.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	waiter := New(path, nil, WithTimeout(10*time.Second))
	err := waiter.Acquire(ctx)
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire error = %v, want ErrTimeout wrapping DeadlineExceeded", err)
	}
}

func TestNotReentrant(t *testing.T) {
	c := New(lockPath(t), nil, WithTimeout(20*time.Millisecond))
	ctx := context.Background()
	if err := c.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer c.Release()
	if err := c.Acquire(ctx); !errors.Is(err, ErrTimeout) {
		t.Fatalf("nested Acquire error = %v, want ErrTimeout", err)
	}
}

func TestReleaseWithoutAcquire(t *testing.T) {
	c := New(lockPath(t), nil)
	if err := c.Release(); !errors.Is(err, ErrNotHeld) {
		t.Errorf("Release error = %v, want ErrNotHeld", err)
	}
}

func TestResetMetricsWhileHeld(t *testing.T) {
	m := NewMetrics()
	c := New(lockPath(t), m)
	if err := c.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer c.Release()

	c.ResetMetrics()
	snap := c.MetricsSnapshot()
	if snap.Acquisitions != 0 {
		t.Errorf("Acquisitions after reset = %d, want 0", snap.Acquisitions)
	}
	if !snap.Held {
		t.Error("reset must not clear the held flag of a live lock")
	}
}

func TestHolderRecord(t *testing.T) {
	path := lockPath(t)
	c := New(path, nil)
	if err := c.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	h, err := ReadHolder(path)
	if err != nil {
		t.Fatalf("ReadHolder failed: %v", err)
	}
	if h == nil || h.PID != os.Getpid() || h.Token == "" {
		t.Fatalf("unexpected holder: %+v", h)
	}

	if err := c.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	h, err = ReadHolder(path)
	if err != nil {
		t.Fatalf("ReadHolder after release failed: %v", err)
	}
	if h != nil {
		t.Errorf("holder after release = %+v, want nil", h)
	}
}

func TestSharedMetricsAcrossControllers(t *testing.T) {
	m := NewMetrics()
	dir := t.TempDir()
	a := New(filepath.Join(dir, "a.lock"), m)
	b := New(filepath.Join(dir, "b.lock"), m)
	ctx := context.Background()
	for _, c := range []*Controller{a, b, a} {
		if err := c.WithLock(ctx, func() error { return nil }); err != nil {
			t.Fatalf("WithLock failed: %v", err)
		}
	}
	if got := m.Snapshot().Acquisitions; got != 3 {
		t.Errorf("Acquisitions = %d, want 3", got)
	}
}
