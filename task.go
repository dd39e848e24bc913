package deadlock

import (
	"sync/atomic"
)

// TaskFn is the function invoked when a task executes. It receives the
// worker the task is executing on and the task itself. The worker handle is
// only valid for the duration of the invocation; it must not be retained or
// handed to another goroutine.
//
// It is convention to capture task state in the closure, or to embed Task
// as the first member of a larger struct and recover it with a captured
// pointer.
type TaskFn func(w *Worker, t *Task)

// Task is the unit of scheduling: a function to invoke, an optional
// successor to notify on completion, and a wait counter gating execution.
//
// A task may name at most one successor, but may itself be named as the
// successor of many tasks; this bottom-up dependency chain is what lets a
// DAG be described with a single pointer and a single counter per node.
//
// The zero value is inert; assign a function with Init before use. Task
// memory is owned by the client: the scheduler reads fn and next during
// invocation and touches nothing after the function returns, so tasks may
// live on the stack, in slices, or inside client structs, and may be reused
// once they have completed.
//
// Thread safety: fn and next may only be written while the task is not
// runnable (before release, or from within its own invocation). The wait
// counter is only ever mutated atomically.
type Task struct {
	fn   TaskFn
	next *Task
	wait atomic.Uint32

	// id is assigned the first time an active graph recording sees the
	// task (an edge naming it, or its invocation); zero means unassigned.
	// Unused otherwise.
	id atomic.Uint32
}

// Init assigns the task's function, clears its successor, and resets its
// wait count to zero. It is the in-place equivalent of NewTask, for tasks
// embedded in client structs or arrays.
//
// Init must not be called on a task that is currently runnable or queued.
func (t *Task) Init(fn TaskFn) {
	t.fn = fn
	t.next = nil
	t.wait.Store(0)
	t.id.Store(0)
}

// NewTask returns a fresh task with the given function, no successor, and a
// zero wait count. The task will execute as soon as it is released with
// Worker.Async; establish any ordering first with SetNext and AddWait.
func NewTask(fn TaskFn) *Task {
	t := new(Task)
	t.Init(fn)
	return t
}

// Create returns a new task in the hold-and-release dialect: its wait count
// starts at one (the creation hold), so it cannot execute until released by
// Worker.Detach. If next is non-nil it becomes this task's successor and
// its wait count is incremented to match.
//
// Any tasks that must execute before this one are created afterwards,
// passing this task as their next pointer, and the hold is dropped last.
// This ordering makes it impossible for the task to start before its
// predecessors exist.
func Create(fn TaskFn, next *Task) *Task {
	t := new(Task)
	t.Init(fn)
	t.wait.Store(1)
	if next != nil {
		t.next = next
		next.wait.Add(1)
	}
	return t
}

// SetNext names succ as this task's single successor. The successor's wait
// count is not touched; pair with succ.AddWait(1), or with a bulk AddWait
// when fanning many predecessors into one join task.
//
// Must be called before the task becomes runnable.
func (t *Task) SetNext(succ *Task) {
	t.next = succ
}

// AddWait adds n to the task's wait counter, deferring execution until n
// additional predecessors have completed.
//
// Must be called before the task becomes runnable.
func (t *Task) AddWait(n uint32) {
	t.wait.Add(n)
}
