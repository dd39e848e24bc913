package deadlock

import (
	"sync"
	"sync/atomic"
)

// stallGate is the scheduler-wide parking primitive. Workers that have
// failed to take or steal anything wait on it; every successful push
// signals it, and termination broadcasts it until every worker has drained
// out.
//
// The gate carries an internal shouldWait latch so that a wake issued
// between a worker deciding to park and actually parking is not lost: a
// signal clears the latch first, and a worker that reaches Wait with the
// latch already cleared returns without sleeping. The latch is re-armed
// after each wait returns.
//
// The latch store in Signal and the parked check that follows it pair with
// the parked increment and latch load in Wait (a store-buffer pattern, so
// both sides must be sequentially consistent — which sync/atomic provides):
// either the signaler observes the parked worker and wakes it, or the
// parking worker observes the cleared latch and declines to sleep.
type stallGate struct {
	mu         sync.Mutex
	cond       sync.Cond
	parked     atomic.Int32
	shouldWait atomic.Bool
}

func newStallGate() *stallGate {
	g := &stallGate{}
	g.cond.L = &g.mu
	g.shouldWait.Store(true)
	return g
}

// Wait parks the calling worker until the next Signal or Broadcast, unless
// one has already landed since the last wait.
func (g *stallGate) Wait() {
	g.mu.Lock()
	g.parked.Add(1)
	if g.shouldWait.Load() {
		g.cond.Wait()
	}
	g.parked.Add(-1)
	g.shouldWait.Store(true)
	g.mu.Unlock()
}

// Signal wakes one parked worker, if any. Cheap when nobody is parked: the
// latch store plus a single load, no mutex.
func (g *stallGate) Signal() {
	g.shouldWait.Store(false)
	if g.parked.Load() == 0 {
		return
	}
	g.mu.Lock()
	g.cond.Signal()
	g.mu.Unlock()
}

// Broadcast wakes every parked worker. Termination calls this in a loop, so
// it always takes the mutex rather than racing the fast path.
func (g *stallGate) Broadcast() {
	g.shouldWait.Store(false)
	g.mu.Lock()
	g.cond.Broadcast()
	g.mu.Unlock()
}
