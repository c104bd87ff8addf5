package shim

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ProgressStatus is one tracked operation's lifecycle state.
type ProgressStatus string

const (
	StatusPending   ProgressStatus = "pending"
	StatusRunning   ProgressStatus = "running"
	StatusDone      ProgressStatus = "done"
	StatusErrored   ProgressStatus = "errored"
	StatusCancelled ProgressStatus = "cancelled"
)

// ProgressEntry is one id-keyed row of the tracker.
type ProgressEntry struct {
	Description string
	Status      ProgressStatus
	Progress    float64 // 0..1
}

// Tracker is an id-keyed {description, status, progress} map, also
// exporting gauges for the queue-depth/bytes-transferred metrics surface.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]ProgressEntry

	activeGauge prometheus.Gauge
	bytesCounter prometheus.Counter
	errorsCounter prometheus.Counter
}

// NewTracker builds a Tracker and registers its gauges with reg (pass
// prometheus.NewRegistry() in production, a throwaway registry in tests).
func NewTracker(reg prometheus.Registerer) *Tracker {
	t := &Tracker{
		entries: map[string]ProgressEntry{},
		activeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mokuro", Subsystem: "progress", Name: "active_operations",
			Help: "Number of in-flight tracked operations.",
		}),
		bytesCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mokuro", Subsystem: "progress", Name: "bytes_transferred_total",
			Help: "Cumulative bytes reported via progress updates.",
		}),
		errorsCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mokuro", Subsystem: "progress", Name: "errors_total",
			Help: "Number of tracked operations that ended in error.",
		}),
	}
	if reg != nil {
		reg.MustRegister(t.activeGauge, t.bytesCounter, t.errorsCounter)
	}
	return t
}

// Start registers a new tracked operation.
func (t *Tracker) Start(id, description string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = ProgressEntry{Description: description, Status: StatusRunning}
	t.activeGauge.Inc()
}

// Update reports fractional progress and, optionally, bytes moved since
// the last call (for the bytes-transferred counter).
func (t *Tracker) Update(id string, progress float64, deltaBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return
	}
	e.Progress = progress
	t.entries[id] = e
	if deltaBytes > 0 {
		t.bytesCounter.Add(float64(deltaBytes))
	}
}

// Finish marks id as done or errored and releases its slot in the active
// gauge.
func (t *Tracker) Finish(id string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return
	}
	if err != nil {
		e.Status = StatusErrored
		t.errorsCounter.Inc()
	} else {
		e.Status = StatusDone
		e.Progress = 1
	}
	t.entries[id] = e
	t.activeGauge.Dec()
}

// Cancel marks id cancelled without counting it as an error.
func (t *Tracker) Cancel(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return
	}
	e.Status = StatusCancelled
	t.entries[id] = e
	t.activeGauge.Dec()
}

// Snapshot returns a point-in-time copy of every tracked entry.
func (t *Tracker) Snapshot() map[string]ProgressEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]ProgressEntry, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}
