package engine

import (
	"context"
	"time"
)

// admit reserves one of MaxQueueDepth slots for an operation that will
// submit to the executor. It waits at most maxWait. The returned release
// must be called once the operation finishes.
func (e *Engine) admit(ctx context.Context, op string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	select {
	case e.queueCh <- struct{}{}:
		return func() { <-e.queueCh }, nil
	default:
	}
	timer := time.NewTimer(e.maxWait)
	defer timer.Stop()
	select {
	case e.queueCh <- struct{}{}:
		return func() { <-e.queueCh }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		return func() {}, tooBusyError{op: op}
	}
}

// Waiting returns the number of admitted operations.
func (e *Engine) Waiting() int { return len(e.queueCh) }
