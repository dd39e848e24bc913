package deadlock

import (
	"runtime"
)

// WorkerFn is an optional callback invoked by every worker on entry to and
// exit from its work loop, useful for setting up and tearing down
// worker-local state in client code.
type WorkerFn func(workerIndex int)

// Worker executes tasks. Each worker owns one bounded deque and one
// goroutine; it takes from its own deque, steals from its peers when that
// runs dry, and parks on the scheduler's stall gate when there is no work
// anywhere.
//
// A Worker handle reaches client code only as the first argument of a
// TaskFn and is only valid for the duration of that invocation: submission
// and termination are routed through it, which is what guarantees they run
// on a worker. Do not retain it, and do not hand it to another goroutine.
type Worker struct {
	deque   taskDeque
	sched   *sched
	entry   WorkerFn
	exit    WorkerFn
	metrics *workerMetrics // nil unless WithMetrics
	index   int

	// Graph recorder state, owned by the worker goroutine.
	current     *Task          // task being invoked
	curGraph    *graphRecorder // recorder current was opened against
	node        graphNode      // span of the current invocation
	nodeOpen    bool
	taskCounter uint32
}

// Index returns this worker's index, in [0, worker count).
func (w *Worker) Index() int {
	return w.index
}

// Async schedules a task to execute. The task is pushed onto this worker's
// deque, from which any idle peer may steal it.
//
// If the deque is full the task (and transitively any successor it
// completes) is executed inline before Async returns — a valid scheduling
// decision that keeps submission from ever blocking, at the price of
// reentrancy on the caller's stack.
func (w *Worker) Async(t *Task) {
	w.recordEdge(t)
	w.submit(t)
}

// Tail reschedules a task to run again after the current function returns,
// without changing the DAG — the loop idiom, in place of allocating a fresh
// task per iteration. The task's successor, if any, gains a wait so the
// current invocation and the rescheduled one cannot race to complete it.
func (w *Worker) Tail(t *Task) {
	if t.next != nil {
		t.next.wait.Add(1)
	}
	w.recordContinuation(t)
	w.submit(t)
}

// Swap inserts other into cur's place in the DAG: cur's successor (if any)
// becomes other's successor, with a wait added so it cannot run until other
// completes, and other is scheduled. The current function then returns
// without adding to the graph.
func (w *Worker) Swap(cur, other *Task) {
	if cur.next != nil {
		cur.next.wait.Add(1)
		other.next = cur.next
	}
	w.recordEdge(other)
	w.submit(other)
}

// Continuation reassigns the currently executing task's function, chaining
// another phase of work onto the same task object. The task's successor, if
// any, gains a wait so it stays suspended until the continuation also
// completes. The task is not rescheduled; it re-executes when its wait
// counter next reaches zero (typically when children created with it as
// their successor finish).
func (w *Worker) Continuation(t *Task, fn TaskFn) {
	t.fn = fn
	if t.next != nil {
		t.next.wait.Add(1)
	}
	w.recordContinuation(t)
}

// Recapture resets the currently executing task as if it were just created
// with a new function, retaining its successor: the creation hold returns
// and the successor, if any, gains a wait. Like a created task it must be
// released again with Detach, before which tasks that must execute first
// may be created naming it as their successor — call Recapture before
// creating them.
func (w *Worker) Recapture(t *Task, fn TaskFn) {
	t.fn = fn
	// Restore the creation hold. A store, not an add: the hold of the
	// task's previous life is spent (or, for a directly-primed root,
	// bypassed) by the time it executes, and predecessors of the next
	// round have yet to be created.
	t.wait.Store(1)
	if t.next != nil {
		t.next.wait.Add(1)
	}
	w.recordContinuation(t)
}

// Detach releases one hold on a task created by Create or reset by
// Recapture. Must be called exactly once per create or recapture, after any
// predecessor tasks have been created. If the hold was the last outstanding
// wait, the task is scheduled.
func (w *Worker) Detach(t *Task) {
	switch t.wait.Add(^uint32(0)) {
	case 0:
		w.recordEdge(t)
		w.submit(t)
	case ^uint32(0):
		panic("deadlock: detach of a task with no outstanding holds")
	}
}

// Terminate signals the scheduler to shut down. The first caller returns
// once every other worker has observed the signal and become joinable; a
// later concurrent caller returns immediately. Tasks still queued are
// abandoned. The calling worker exits its loop when the current task
// function returns.
func (w *Worker) Terminate() {
	w.sched.terminate()
}

// submit pushes t onto the local deque, waking a stalled peer, or runs it
// inline when the deque is full.
func (w *Worker) submit(t *Task) {
	if err := w.deque.push(t); err != nil {
		if w.metrics != nil {
			w.metrics.inline.Add(1)
		}
		w.sched.log(LevelDebug, "worker", w.index, "deque full, invoking inline", nil)

		// The inline invocations nest inside the submitter's own
		// invocation; preserve its graph span around them.
		current, curGraph, node, nodeOpen := w.current, w.curGraph, w.node, w.nodeOpen
		w.nodeOpen = false
		for x := t; x != nil; {
			x = w.invoke(x)
		}
		w.current, w.curGraph, w.node, w.nodeOpen = current, curGraph, node, nodeOpen
		return
	}
	w.sched.stall.Signal()
}

// run is the worker goroutine body.
func (w *Worker) run() {
	s := w.sched
	defer s.wg.Done()

	if s.opts.osThreads {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	if w.entry != nil {
		w.entry(w.index)
	}

	// Startup rendezvous: no worker may begin stealing before every peer
	// is live with its deque visible.
	s.wbarrier.Add(-1)
	for s.wbarrier.Load() > 0 {
		if s.term.Load() {
			// Short-circuit, skipping the exit callback. Restore the
			// barrier so the terminate drain still accounts for us.
			s.wbarrier.Add(1)
			return
		}
		osyield()
	}

	s.log(LevelDebug, "worker", w.index, "entering work loop", nil)

	stallCount := 0
	for !s.term.Load() {
		if w.work() {
			stallCount = 0
		} else if stallCount++; stallCount <= 16 {
			osyield()
		} else {
			if w.metrics != nil {
				w.metrics.stalls.Add(1)
			}
			s.stall.Wait()
			stallCount = 0
		}
	}

	if w.exit != nil {
		w.exit(w.index)
	}

	s.log(LevelDebug, "worker", w.index, "exiting", nil)
	s.wbarrier.Add(1)
}

// work finds one task — locally, then by theft — and runs it along with any
// successors its completion makes runnable. Reports whether anything ran.
func (w *Worker) work() bool {
	t := w.take()
	if t == nil {
		t = w.sched.steal(w.index)
		if t == nil {
			return false
		}
		if w.metrics != nil {
			w.metrics.steals.Add(1)
		}
	}
	for t != nil {
		t = w.invoke(t)
	}
	return true
}

// take drains the owner end of the local deque, retrying while a thief
// contends for the final element.
func (w *Worker) take() *Task {
	for {
		t, err := w.deque.take()
		if err == errDequeContended {
			pauseHint()
			continue
		}
		return t // nil on empty
	}
}

// invoke runs one task and settles its successor. The successor pointer is
// read before the function runs because the task's memory may be reused by
// its own body. If the completing decrement makes the successor runnable it
// is returned for immediate invocation on this worker, skipping the deque.
func (w *Worker) invoke(t *Task) *Task {
	next := t.next

	if g := w.sched.graph.Load(); g != nil {
		w.openNode(g, t)
	}
	w.current = t
	t.fn(w, t)
	w.current = nil
	if w.nodeOpen {
		w.closeNode()
	}

	if w.metrics != nil {
		w.metrics.invoked.Add(1)
	}

	if next == nil {
		return nil
	}
	// Release ordering pairs with the successor's dequeue (or with this
	// same control dependency on the handoff path), establishing
	// completes-before from every predecessor to the successor.
	switch next.wait.Add(^uint32(0)) {
	case 0:
		if w.metrics != nil {
			w.metrics.carried.Add(1)
		}
		return next
	case ^uint32(0):
		w.sched.log(LevelError, "worker", w.index,
			"task wait counter underflow: more predecessors completed than declared", nil)
		panic("deadlock: task wait counter underflow")
	}
	return nil
}
