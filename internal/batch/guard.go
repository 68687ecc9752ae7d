package batch

import "sync/atomic"

// Guard admits at most one in-flight batch. A second acquire fails fast
// instead of queueing.
type Guard struct {
	busy atomic.Bool
}

// TryAcquire claims the guard. It returns false when a batch is already running.
func (g *Guard) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Release frees the guard.
func (g *Guard) Release() {
	g.busy.Store(false)
}

// Busy reports whether a batch holds the guard.
func (g *Guard) Busy() bool {
	return g.busy.Load()
}
