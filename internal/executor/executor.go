// Package executor provides the execution boundary: one dedicated worker
// goroutine that runs blocking numeric work strictly one job at a time, in
// submission order, while callers wait on a context.
//
// A job that panics is converted into a *PanicError for its submitter; the
// worker keeps serving later jobs. A job that has been handed to the worker
// is never interrupted: a caller whose context ends stops waiting, but the
// job still runs to completion and its side effects still apply.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned for submissions after Close.
var ErrClosed = errors.New("executor: closed")

const defaultQueueDepth = 64

// PanicError wraps a panic recovered from a job.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("executor: job panicked: %v", e.Value) }

// Executor serializes jobs onto a single worker goroutine.
type Executor struct {
	mu      sync.RWMutex
	closed  bool
	jobs    chan func()
	quit    chan struct{}
	done    chan struct{}
	pending atomic.Int64
}

// New starts an executor whose queue buffers up to queueDepth jobs before
// submitters block. queueDepth <= 0 selects the default.
func New(queueDepth int) *Executor {
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	e := &Executor{
		jobs: make(chan func(), queueDepth),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *Executor) loop() {
	defer close(e.done)
	for {
		select {
		case job := <-e.jobs:
			job()
		case <-e.quit:
			// Finish everything already accepted.
			for {
				select {
				case job := <-e.jobs:
					job()
				default:
					return
				}
			}
		}
	}
}

// Pending returns the number of accepted jobs that have not finished,
// including the one currently running.
func (e *Executor) Pending() int { return int(e.pending.Load()) }

// Close stops accepting jobs, lets accepted jobs finish and waits for the
// worker to exit. It is safe to call more than once.
func (e *Executor) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.quit)
	}
	e.mu.Unlock()
	<-e.done
}

type result[T any] struct {
	val T
	err error
}

// Submit runs fn on the worker and returns its result. It blocks until fn
// completes or ctx is done, whichever comes first.
func Submit[T any](ctx context.Context, e *Executor, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	res := make(chan result[T], 1)
	job := func() {
		defer e.pending.Add(-1)
		var r result[T]
		defer func() {
			if p := recover(); p != nil {
				r = result[T]{err: &PanicError{Value: p, Stack: debug.Stack()}}
			}
			res <- r
		}()
		r.val, r.err = fn()
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return zero, ErrClosed
	}
	e.pending.Add(1)
	select {
	case e.jobs <- job:
		e.mu.RUnlock()
	case <-ctx.Done():
		e.pending.Add(-1)
		e.mu.RUnlock()
		return zero, ctx.Err()
	}

	select {
	case r := <-res:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Run is Submit for jobs without a result value.
func (e *Executor) Run(ctx context.Context, fn func() error) error {
	_, err := Submit(ctx, e, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}
