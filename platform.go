package deadlock

import "runtime"

// The platform surface the scheduler needs is small: a processor count to
// size the default pool, a way to yield the OS thread, and a pause hint for
// contended spin loops. Threads themselves are goroutines joined through a
// sync.WaitGroup, and the condvar is stall.go.

// processorCount reports the number of workers Main starts by default.
//
// GOMAXPROCS rather than NumCPU: it respects explicit caps, and binaries
// that import automaxprocs (as cmd/deadlock-bench does) get container CPU
// quotas folded in for free.
func processorCount() int {
	return runtime.GOMAXPROCS(0)
}

// osyield yields the calling thread, for the startup barrier spin and the
// bounded retry phase before a worker stalls.
func osyield() {
	runtime.Gosched()
}

// pauseHint backs off a contended CAS loop. Go exposes no PAUSE/YIELD
// intrinsic; handing the processor to another goroutine is the ecosystem
// substitute and behaves well under both contention and oversubscription.
func pauseHint() {
	runtime.Gosched()
}
