// Package trigger provides the edge-triggered wake signal used to force
// an immediate feed refresh outside the normal timer cadence.
package trigger

import (
	"context"
	"time"
)

// Trigger is a single-slot latch. Raise latches the signal until it is
// consumed by a Wait; raising an already-raised trigger is a no-op.
// Consuming the latch and waking the waiter happen atomically, so a
// raise that lands while its owner is mid-fetch is neither lost nor
// delivered twice.
type Trigger struct {
	ch chan struct{}
}

// New returns an unraised trigger.
func New() *Trigger {
	return &Trigger{ch: make(chan struct{}, 1)}
}

// Raise latches the trigger. Idempotent.
func (t *Trigger) Raise() {
	select {
	case t.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the trigger is raised, the timeout elapses or the
// context is cancelled. It reports true when woken by a raise, in which
// case the latch has been consumed.
func (t *Trigger) Wait(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Raised reports whether the latch is currently set, without consuming
// it.
func (t *Trigger) Raised() bool {
	return len(t.ch) == 1
}
