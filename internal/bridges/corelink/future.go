package corelink

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Future is a one-shot deferred boolean. The transport's worker resolves it
// exactly once via Complete or Fail; callers rendezvous with Await. Further
// resolutions are no-ops, so a timeout-abandoned future can still be
// completed safely by a late worker.
type Future struct {
	done chan struct{}
	once sync.Once
	val  bool
	err  error
}

// NewFuture returns an unresolved Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// ResolvedFuture returns a Future already completed with val.
func ResolvedFuture(val bool) *Future {
	f := NewFuture()
	f.Complete(val)
	return f
}

// Complete resolves the future with a boolean outcome.
func (f *Future) Complete(val bool) {
	f.once.Do(func() {
		f.val = val
		close(f.done)
	})
}

// Fail resolves the future with an error.
func (f *Future) Fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done reports whether the future has resolved, without blocking.
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Await blocks until the future resolves, the timeout elapses, or ctx is
// cancelled, whichever comes first.
//
// Returns:
//   - bool: the resolved outcome; false when the wait did not complete
//   - error: nil on normal resolution, the Fail error, ErrWaitTimeout past
//     the deadline, or ErrConnectAborted wrapping ctx.Err() on cancellation
func (f *Future) Await(ctx context.Context, timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.val, f.err
	case <-timer.C:
		return false, ErrWaitTimeout
	case <-ctx.Done():
		return false, fmt.Errorf("%w: %w", ErrConnectAborted, ctx.Err())
	}
}
