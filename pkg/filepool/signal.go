package filepool

import "context"

// postSignal is a binary post/wait barrier: the direct analogue of
// sfizz's RTSemaphore as used by the dispatcher and the collector. A post
// wakes exactly one pending (or future) wait; posts that arrive with no
// one waiting are not lost, but repeated posts before the next wait
// coalesce into a single pending wake instead of accumulating — callers
// always recheck their own state after waking, so coalescing is correct
// and, unlike a counting semaphore, can never be over-released into a
// panic.
type postSignal struct {
	ch chan struct{}
}

func newPostSignal() *postSignal {
	return &postSignal{ch: make(chan struct{}, 1)}
}

// Post wakes a waiter without blocking, ever. Safe to call from the
// real-time path.
func (s *postSignal) Post() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait blocks for a post or until ctx is done, whichever comes first.
func (s *postSignal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryWait reports whether a post was already pending, consuming it if so.
func (s *postSignal) TryWait() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
