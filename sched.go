package deadlock

import (
	"sync"
	"sync/atomic"
)

// sched owns the lifetime of the worker pool and facilitates worker
// synchronization, work stealing, stalling, and the termination signal.
//
// The barrier counter pulls double duty, exactly mirroring its two phases
// of life: initialized to the worker count, decremented by each worker at
// startup (no worker proceeds until it reaches zero, so every peer's deque
// is visible before stealing begins), then incremented by each worker as it
// becomes joinable, which is what the terminate drain loop watches.
type sched struct {
	stall    *stallGate
	opts     *schedOptions
	workers  []*Worker
	wg       sync.WaitGroup
	term     atomic.Bool
	wbarrier atomic.Int32
	graph    atomic.Pointer[graphRecorder]
}

// Main initializes a scheduler with one worker per processor, primes it
// with the root task, and blocks until a task calls Worker.Terminate. The
// entry and exit callbacks, when non-nil, run on every worker around its
// work loop.
//
// Main returns nil on clean shutdown, or an initialization error before any
// worker has started.
func Main(root *Task, entry, exit WorkerFn, opts ...Option) error {
	return MainN(root, entry, exit, processorCount(), opts...)
}

// MainN is Main with an explicit worker count.
func MainN(root *Task, entry, exit WorkerFn, workers int, opts ...Option) error {
	if root == nil || root.fn == nil {
		return ErrNilTask
	}
	if workers <= 0 {
		return ErrWorkerCount
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return err
	}

	s := &sched{
		stall: newStallGate(),
		opts:  cfg,
	}
	s.wbarrier.Store(int32(workers))
	if cfg.metrics != nil {
		cfg.metrics.size(workers)
	}

	s.workers = make([]*Worker, workers)
	for i := range s.workers {
		w := &Worker{
			sched: s,
			entry: entry,
			exit:  exit,
			index: i,
		}
		if err := w.deque.init(cfg.queueCapacity); err != nil {
			return err
		}
		if cfg.metrics != nil {
			w.metrics = &cfg.metrics.workers[i]
		}
		s.workers[i] = w
	}

	// Prime worker 0 before anything spawns: there is no global queue, so
	// the root task is the pool's only seed. Capacity is at least 2, so
	// the push cannot fail.
	if err := s.workers[0].deque.push(root); err != nil {
		return err
	}

	s.log(LevelInfo, "sched", -1, "starting workers", nil)
	s.wg.Add(workers)
	for _, w := range s.workers {
		go w.run()
	}

	s.wg.Wait()
	s.log(LevelInfo, "sched", -1, "all workers joined", nil)
	return nil
}

// steal attempts to claim a task from every worker other than src, in
// index order. Contended victims are retried with a pause in between;
// empty victims are passed over. Returns nil when no peer had work.
//
// Literature says a randomized victim order outperforms a linear scan, but
// measured throughput here is competitive and the scan keeps victim
// indexing deterministic.
func (s *sched) steal(src int) *Task {
	for tgt := range s.workers {
		if tgt == src {
			continue
		}
		victim := s.workers[tgt]
		for {
			t, err := victim.deque.steal()
			if err == errDequeContended {
				pauseHint()
				continue
			}
			if err != nil {
				break // empty, next victim
			}
			return t
		}
	}
	return nil
}

// terminate sets the terminate flag and broadcasts the stall gate until
// every other worker has observed the flag and become joinable, as
// signaled by the barrier counter. Idempotent: concurrent callers after
// the first return immediately (and then exit their own loops), which is
// what keeps the drain from waiting on another waiter.
func (s *sched) terminate() {
	if !s.term.CompareAndSwap(false, true) {
		return
	}
	s.log(LevelInfo, "sched", -1, "terminate signaled", nil)

	// The caller is itself a worker and cannot become joinable until the
	// current task function returns, so the drain target is every worker
	// but one.
	target := int32(len(s.workers) - 1)
	for s.wbarrier.Load() < target {
		s.stall.Broadcast()
		osyield()
	}
}

// log emits a scheduler log entry if the configured logger accepts the
// level. worker is -1 for entries not scoped to a worker.
func (s *sched) log(level LogLevel, category string, worker int, msg string, err error) {
	if !s.opts.logger.IsEnabled(level) {
		return
	}
	s.opts.logger.Log(LogEntry{
		Level:    level,
		Category: category,
		Worker:   worker,
		Message:  msg,
		Err:      err,
	})
}
