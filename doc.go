// Package deadlock provides an in-process fork/join task scheduler that
// executes a dynamic directed acyclic graph of small, non-blocking tasks on
// a fixed pool of workers, with per-task overhead measured in hundreds of
// nanoseconds.
//
// # Architecture
//
// Client code expresses parallelism by constructing [Task] values that may
// declare a single downstream successor and a count of predecessors. The
// scheduler guarantees each task runs exactly once, after all of its
// predecessors have completed, on some worker. Each worker owns a bounded
// lock-free deque (Chase–Lev style): the owner pushes and takes at one end,
// idle workers steal from the other. A worker whose deque runs dry steals
// from its peers; a worker that finds no work anywhere parks on a shared
// stall gate until the next submission wakes it.
//
// When a task's function returns, the worker decrements its successor's
// wait counter; if the counter reaches zero the successor is invoked on the
// same worker immediately, without a deque round-trip.
//
// # Building graphs
//
// Two equivalent creation dialects share the same wait counter:
//
//   - Explicit: [NewTask] produces a task with a zero wait count; link it
//     with [Task.SetNext] and [Task.AddWait] before it becomes runnable,
//     then release it with [Worker.Async].
//   - Hold-and-release: [Create] returns a task holding its own wait count
//     at one, so it cannot start before its predecessors exist;
//     [Worker.Detach] drops the hold. [Worker.Recapture] resets the
//     currently executing task with a new function for another round.
//
// A task names at most one successor; a successor may be named by many
// predecessors. Fan-out to several downstream tasks is expressed by giving
// each of them a shared join task as successor.
//
// # Execution model
//
// Task functions run to completion on the worker that dequeued them; there
// is no suspension and no blocking-aware scheduling. [Worker.Async] may
// execute the task inline, on the caller's stack, when the calling worker's
// deque is full — task functions must tolerate that reentrancy or the deque
// must be dimensioned accordingly (see [WithQueueCapacity]).
//
// Any writes performed by a task before returning are observed by its
// successor when the successor executes.
//
// # Usage
//
//	counter := 0
//	var spin deadlock.Task
//	spin.Init(func(w *deadlock.Worker, t *deadlock.Task) {
//		if counter++; counter == 1_000_000 {
//			w.Terminate()
//			return
//		}
//		w.Tail(t)
//	})
//	if err := deadlock.Main(&spin, nil, nil); err != nil {
//		log.Fatal(err)
//	}
//
// # Observability
//
// Structured logging is pluggable via [Logger] (see [NewLogifaceLogger] for
// logiface backends), runtime counters via [Metrics], and an optional task
// graph recorder ([WithGraphExport], [Worker.GraphFork]) emits span and
// edge data for offline visualization. All three are disabled by default
// and stay off the hot path.
package deadlock
