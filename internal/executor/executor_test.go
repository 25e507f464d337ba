package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

func TestSubmitReturnsValue(t *testing.T) {
	e := New(0)
	defer e.Close()
	v, err := Submit(testCtx(t), e, func() (int, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Fatalf("got %d, %v", v, err)
	}
}

func TestSubmitPropagatesErrorUnchanged(t *testing.T) {
	e := New(0)
	defer e.Close()
	sentinel := errors.New("boom")
	_, err := Submit(testCtx(t), e, func() (int, error) { return 0, sentinel })
	if err != sentinel {
		t.Fatalf("expected sentinel error, got %v", err)
	}
}

func TestJobsNeverOverlap(t *testing.T) {
	e := New(4)
	defer e.Close()
	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Run(testCtx(t), func() error {
				n := running.Add(1)
				for {
					m := maxRunning.Load()
					if n <= m || maxRunning.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	if got := maxRunning.Load(); got != 1 {
		t.Fatalf("expected at most one running job, saw %d", got)
	}
}

func TestSequentialSubmissionsRunInOrder(t *testing.T) {
	e := New(0)
	defer e.Close()
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		if err := e.Run(testCtx(t), func() error { order = append(order, i); return nil }); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order=%v", order)
		}
	}
}

func TestPanicIsIsolated(t *testing.T) {
	e := New(0)
	defer e.Close()
	_, err := Submit(testCtx(t), e, func() (int, error) { panic("kaboom") })
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PanicError, got %v", err)
	}
	if pe.Value != "kaboom" || len(pe.Stack) == 0 {
		t.Fatalf("unexpected panic error: %+v", pe)
	}
	// worker must survive
	v, err := Submit(testCtx(t), e, func() (string, error) { return "alive", nil })
	if err != nil || v != "alive" {
		t.Fatalf("worker did not survive panic: %q %v", v, err)
	}
}

func TestCanceledWaiterDoesNotCancelJob(t *testing.T) {
	e := New(0)
	defer e.Close()
	release := make(chan struct{})
	var finished atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Run(ctx, func() error {
			<-release
			finished.Store(true)
			return nil
		})
	}()
	// wait until the job is accepted
	deadline := time.Now().Add(time.Second)
	for e.Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(release)
	// a later job runs after the abandoned one completed
	if err := e.Run(testCtx(t), func() error { return nil }); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !finished.Load() {
		t.Fatalf("abandoned job did not complete")
	}
}

func TestCanceledContextIsNotSubmitted(t *testing.T) {
	e := New(0)
	defer e.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := e.Run(ctx, func() error { called = true; return nil })
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("err=%v called=%v", err, called)
	}
}

func TestCloseRejectsNewWork(t *testing.T) {
	e := New(0)
	e.Close()
	e.Close()
	if err := e.Run(context.Background(), func() error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if e.Pending() != 0 {
		t.Fatalf("pending=%d", e.Pending())
	}
}
