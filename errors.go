package deadlock

import "errors"

// Standard errors.
var (
	// ErrNilTask is returned when Main or MainN is passed a nil root task,
	// or a task with no function assigned.
	ErrNilTask = errors.New("deadlock: nil root task")

	// ErrWorkerCount is returned when MainN is passed a non-positive
	// worker count.
	ErrWorkerCount = errors.New("deadlock: worker count must be positive")

	// ErrQueueCapacity is returned when WithQueueCapacity is passed a
	// capacity that is not a power of two, or is less than two.
	ErrQueueCapacity = errors.New("deadlock: queue capacity must be a power of two >= 2")

	// ErrGraphInactive is returned by Worker.GraphJoin when no graph
	// recording is in progress.
	ErrGraphInactive = errors.New("deadlock: no graph recording in progress")
)

// Deque outcome sentinels. These never escape the package: submission
// handles a full deque by running the task inline, and the worker loop
// treats contention as a retry and emptiness as a cue to steal or stall.
var (
	errDequeFull      = errors.New("deadlock: deque full")
	errDequeEmpty     = errors.New("deadlock: deque empty")
	errDequeContended = errors.New("deadlock: lost race for deque element")
)
