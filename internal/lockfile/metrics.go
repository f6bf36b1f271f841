package lockfile

import (
	"sync"
	"time"
)

// Metrics counts lock activity for the life of a process. A single value
// is created at startup and handed to every Controller that should report
// into it; nothing is persisted.
type Metrics struct {
	mu           sync.Mutex
	acquisitions int64
	contended    int64
	timeouts     int64
	totalWait    time.Duration
	maxWait      time.Duration
	timeoutWait  time.Duration
	held         bool
}

// MetricsSnapshot is a point-in-time copy of Metrics. TotalWait and MaxWait
// cover contended acquisitions; TimeoutWait covers attempts that gave up.
type MetricsSnapshot struct {
	Acquisitions int64         `json:"acquisitions"`
	Contended    int64         `json:"contended"`
	Timeouts     int64         `json:"timeouts"`
	TotalWait    time.Duration `json:"total_wait_ns"`
	MaxWait      time.Duration `json:"max_wait_ns"`
	TimeoutWait  time.Duration `json:"timeout_wait_ns"`
	Held         bool          `json:"held"`
}

// AverageWait returns the mean wait across contended acquisitions. Time
// spent in attempts that timed out is not included.
func (s MetricsSnapshot) AverageWait() time.Duration {
	if s.Contended == 0 {
		return 0
	}
	return s.TotalWait / time.Duration(s.Contended)
}

// NewMetrics returns zeroed counters.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Acquisitions: m.acquisitions,
		Contended:    m.contended,
		Timeouts:     m.timeouts,
		TotalWait:    m.totalWait,
		MaxWait:      m.maxWait,
		TimeoutWait:  m.timeoutWait,
		Held:         m.held,
	}
}

// Reset zeroes the counters. The held flag reflects live state and is kept.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquisitions = 0
	m.contended = 0
	m.timeouts = 0
	m.totalWait = 0
	m.maxWait = 0
	m.timeoutWait = 0
}

func (m *Metrics) recordAcquired(wait time.Duration, contended bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquisitions++
	m.held = true
	if !contended {
		return
	}
	m.contended++
	m.totalWait += wait
	if wait > m.maxWait {
		m.maxWait = wait
	}
}

func (m *Metrics) recordTimeout(wait time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts++
	m.timeoutWait += wait
}

func (m *Metrics) recordReleased() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = false
}
