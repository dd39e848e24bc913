package deadlock

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// defaultQueueCapacity is the per-worker deque capacity when none is
// configured. 8192 slots of 8 bytes each keeps the ring at 64KiB.
const defaultQueueCapacity = 8192

// taskDeque is a bounded work-stealing deque after Chase and Lev, with the
// ordering discipline of Lê, Pop, Cohen, and Zappa Nardelli, "Correct and
// efficient work-stealing for weak memory models" (PPoPP '13), plus an
// early emptiness check in take that the paper's formulation lacks (see
// below).
//
// Concurrency model: single owner, many thieves.
//   - push/take: called ONLY by the owning worker (head end, LIFO)
//   - steal:     called by any other worker (tail end, FIFO)
//
// head is written only by the owner; tail advances only by compare-and-swap
// and is therefore safe for any thread to claim from. Both counters are
// unsigned 32-bit and increase monotonically; comparisons are performed on
// signed differences, which remain valid as long as fewer than 2^31
// operations elapse between wrap-arounds — comfortably more than the deque
// capacity.
//
// Memory ordering: the paper's proof obligations are an acquire/release
// pairing across head/tail plus full fences in take and steal, which
// together guarantee that at most one of take and steal claims the last
// element and that the winner observes the slot contents written by the
// matching push. Go's sync/atomic operations are sequentially consistent,
// strictly stronger than each required ordering, so every load/store below
// discharges its obligation by construction. The comments note the minimum
// ordering each point needs, because that IS the algorithm.
type taskDeque struct {
	// head and tail sit on their own cache lines so the owner hammering
	// head does not invalidate the line thieves spin on.
	head atomic.Uint32
	_    cpu.CacheLinePad
	tail atomic.Uint32
	_    cpu.CacheLinePad

	tasks []atomic.Pointer[Task]
	mask  uint32
}

// init sizes the ring. size must be a power of two, at least 2.
func (q *taskDeque) init(size uint32) error {
	if size < 2 || size&(size-1) != 0 {
		return ErrQueueCapacity
	}
	q.tasks = make([]atomic.Pointer[Task], size)
	q.mask = size - 1
	q.head.Store(0)
	q.tail.Store(0)
	return nil
}

// push appends a task at the owner's end. Owner only.
// Returns errDequeFull when no slot is free; the task is not queued.
func (q *taskDeque) push(t *Task) error {
	h := q.head.Load()  // relaxed would do: owner is the only writer
	tl := q.tail.Load() // acquire: must not observe a stale, smaller tail
	if h-tl > q.mask {
		return errDequeFull
	}
	// Slot store then head publish. The publish needs release ordering so
	// a thief acquiring head observes the slot contents.
	q.tasks[h&q.mask].Store(t)
	q.head.Store(h + 1)
	return nil
}

// take removes the most recently pushed task. Owner only.
// Returns errDequeEmpty when there is nothing to take, or
// errDequeContended when a thief won the race for the final element.
func (q *taskDeque) take() (*Task, error) {
	// Early emptiness check, absent from the source paper: decrementing
	// head below tail in an unsigned domain wraps to a huge value, which
	// is harmless when the result is only used to fetch a pointer but
	// poisons the empty/contended distinction. Cheap, and documents the
	// wrap hazard besides.
	h := q.head.Load()
	tl := q.tail.Load()
	if int32(h-tl) <= 0 {
		return nil, errDequeEmpty
	}

	h--
	q.head.Store(h)
	// Full fence here in the paper: the head decrement must be visible to
	// thieves before tail is re-read, or two readers could both claim the
	// final element. Sequential consistency of the surrounding operations
	// provides it.
	tl = q.tail.Load()

	switch {
	case int32(tl-h) < 0:
		// More than one element; the slot is ours without contention.
		return q.tasks[h&q.mask].Load(), nil
	case tl == h:
		// Final element: race the thieves for it with a CAS on tail.
		// Either way the deque ends empty, so head is restored.
		t := q.tasks[h&q.mask].Load()
		var err error
		if !q.tail.CompareAndSwap(tl, tl+1) {
			t, err = nil, errDequeContended
		}
		q.head.Store(h + 1)
		return t, err
	default:
		// Thieves drained the deque between the two tail loads.
		q.head.Store(h + 1)
		return nil, errDequeEmpty
	}
}

// steal removes the oldest task. Any worker but the owner.
// Returns errDequeEmpty when there is nothing to steal, or
// errDequeContended when another reader claimed the element first.
func (q *taskDeque) steal() (*Task, error) {
	tl := q.tail.Load() // acquire
	// Full fence between the two loads in the paper; seq-cst subsumes it.
	h := q.head.Load() // acquire
	if int32(h-tl) <= 0 {
		return nil, errDequeEmpty
	}
	// Read the slot before claiming it. Safe: push never overwrites an
	// unclaimed slot (the full check keeps head-tail <= mask), so the
	// value is stable until the CAS below either claims it or fails.
	t := q.tasks[tl&q.mask].Load()
	if !q.tail.CompareAndSwap(tl, tl+1) {
		return nil, errDequeContended
	}
	return t, nil
}
