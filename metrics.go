package deadlock

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Metrics tracks runtime statistics for a scheduler run. Counters are
// partitioned per worker on separate cache lines, so recording is a single
// uncontended atomic add; attach with WithMetrics, then read a merged copy
// with Snapshot after Main returns (or at any point during the run, at the
// cost of a momentarily inconsistent view).
//
// Thread safety: all methods may be called from any goroutine.
type Metrics struct {
	workers []workerMetrics
}

// workerMetrics is one worker's counter block.
type workerMetrics struct {
	invoked  atomic.Uint64 // task functions run, by any path
	carried  atomic.Uint64 // successors invoked without a deque round-trip
	inline   atomic.Uint64 // tasks run on the submitter's stack (deque full)
	steals   atomic.Uint64 // tasks claimed from a peer's deque
	stalls   atomic.Uint64 // times the worker parked on the stall gate
	_        cpu.CacheLinePad
}

// MetricsSnapshot is a point-in-time merge of every worker's counters.
type MetricsSnapshot struct {
	TasksInvoked uint64 // total task invocations
	Carried      uint64 // successor handoffs that skipped the deque
	InlineRuns   uint64 // submissions executed inline on a full deque
	Steals       uint64 // successful steals
	Stalls       uint64 // stall-gate parks
	PerWorker    []WorkerSnapshot
}

// WorkerSnapshot is one worker's share of a MetricsSnapshot.
type WorkerSnapshot struct {
	TasksInvoked uint64
	Carried      uint64
	InlineRuns   uint64
	Steals       uint64
	Stalls       uint64
}

// NewMetrics returns an empty Metrics collector. It is sized for the pool
// when the scheduler initializes, so a single collector must not be shared
// by concurrent Main calls.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// size prepares per-worker counter blocks. Called once during scheduler
// initialization, before any worker starts.
func (m *Metrics) size(workers int) {
	m.workers = make([]workerMetrics, workers)
}

// Snapshot returns a merged copy of all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var s MetricsSnapshot
	s.PerWorker = make([]WorkerSnapshot, len(m.workers))
	for i := range m.workers {
		w := &m.workers[i]
		ws := WorkerSnapshot{
			TasksInvoked: w.invoked.Load(),
			Carried:      w.carried.Load(),
			InlineRuns:   w.inline.Load(),
			Steals:       w.steals.Load(),
			Stalls:       w.stalls.Load(),
		}
		s.PerWorker[i] = ws
		s.TasksInvoked += ws.TasksInvoked
		s.Carried += ws.Carried
		s.InlineRuns += ws.InlineRuns
		s.Steals += ws.Steals
		s.Stalls += ws.Stalls
	}
	return s
}
