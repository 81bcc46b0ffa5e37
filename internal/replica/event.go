package replica

import (
	"context"
	"time"
)

// manualResetEvent is the Go shape of the "merge_selecting_event" manual-
// reset event spec.md §5 describes: Signal, without blocking, wakes one
// waiter or, if none is waiting, leaves one pending wakeup for the next
// WaitUpTo; WaitUpTo also returns after a timeout even with no signal, so
// the merge selector's ~5s poll still happens absent any wakeups.
type manualResetEvent struct {
	c chan struct{}
}

func newManualResetEvent() *manualResetEvent {
	return &manualResetEvent{c: make(chan struct{}, 1)}
}

func (e *manualResetEvent) Signal() {
	select {
	case e.c <- struct{}{}:
	default:
	}
}

func (e *manualResetEvent) WaitUpTo(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-e.c:
	case <-timer.C:
	case <-ctx.Done():
	}
}
