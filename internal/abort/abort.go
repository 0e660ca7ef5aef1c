// Package abort provides the shared-atomic-flag cancellation guard used by
// asynchronous requests: the requester aborts, workers check at coarse
// checkpoints and silently drop their result once the flag is set.
package abort

import "sync/atomic"

// Guard is the cancellation handle paired with one asynchronous request.
type Guard struct {
	aborted atomic.Bool
}

// Abort marks the request aborted. A job already running is never
// interrupted; only its result is discarded.
func (g *Guard) Abort() {
	g.aborted.Store(true)
}

// Aborted reports whether the request was aborted.
func (g *Guard) Aborted() bool {
	return g.aborted.Load()
}
