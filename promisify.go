package coopsched

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrGoexit rejects a Future when its goroutine exits via runtime.Goexit.
	ErrGoexit = errors.New("coopsched: goroutine exited via runtime.Goexit")

	// ErrPanic is a sentinel for goroutine panics. PanicError does not wrap
	// it: PanicError.Unwrap returns the panic value itself when that value
	// is an error, and nil otherwise.
	ErrPanic = errors.New("coopsched: goroutine panicked")
)

// PanicError wraps a panic value recovered from a [Loop.Spawn] goroutine.
type PanicError struct {
	// Value is the recovered panic value (may be any type, including error).
	Value any
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("coopsched: goroutine panicked: %v", e.Value)
}

// Spawn runs fn in a new goroutine and returns a Future for its result.
//
// fn receives ctx and should respect its cancellation. Settlement of the
// returned Future always happens on the Loop's own goroutine (it is routed
// through SubmitInternal), matching the single-owner-mutates-state
// discipline every other piece of Loop state follows; if the loop has
// already begun shutting down, the Future settles directly instead, since
// there is no loop goroutine left to route through.
//
// A goroutine that exits via runtime.Goexit (calls t.FailNow from a test
// helper, for instance) rejects the Future with ErrGoexit rather than
// hanging it forever; a panic rejects it with a PanicError.
func (l *Loop) Spawn(ctx context.Context, fn func(ctx context.Context) (any, error)) *Future {
	l.promisifyMu.Lock()
	currentState := l.state.Load()
	if currentState == StateTerminating || currentState == StateTerminated {
		l.promisifyMu.Unlock()
		_, f := l.registry.NewFuture()
		f.Reject(ErrLoopTerminated)
		return f
	}

	_, f := l.registry.NewFuture()

	l.promisifyWg.Add(1)
	l.promisifyMu.Unlock()

	go func() {
		defer l.promisifyWg.Done()

		completed := false

		select {
		case <-ctx.Done():
			completed = true
			if err := l.SubmitInternal(func() {
				f.Reject(ctx.Err())
			}); err != nil {
				f.Reject(ctx.Err())
			}
			return
		default:
		}

		defer func() {
			if r := recover(); r != nil {
				panicErr := PanicError{Value: r}
				if err := l.SubmitInternal(func() {
					f.Reject(panicErr)
				}); err != nil {
					f.Reject(panicErr)
				}
			} else if !completed {
				if err := l.SubmitInternal(func() {
					f.Reject(ErrGoexit)
				}); err != nil {
					f.Reject(ErrGoexit)
				}
			}
		}()

		res, err := fn(ctx)

		if err != nil {
			if submitErr := l.SubmitInternal(func() {
				f.Reject(err)
			}); submitErr != nil {
				f.Reject(err)
			}
		} else {
			if submitErr := l.SubmitInternal(func() {
				f.Resolve(res)
			}); submitErr != nil {
				f.Resolve(res)
			}
		}
		completed = true
	}()

	return f
}

// SpawnWithTimeout is Spawn plus a deadline: fn's context is cancelled once
// timeout elapses. The Future is rejected with context.DeadlineExceeded if
// the deadline passed before fn started or fn returns that context error;
// otherwise it settles with whatever fn returns.
func (l *Loop) SpawnWithTimeout(parent context.Context, timeout time.Duration, fn func(ctx context.Context) (any, error)) *Future {
	ctx, cancel := context.WithTimeout(parent, timeout)
	return l.Spawn(ctx, func(ctx context.Context) (any, error) {
		defer cancel()
		return fn(ctx)
	})
}

// SpawnWithDeadline is Spawn plus an absolute deadline.
func (l *Loop) SpawnWithDeadline(parent context.Context, deadline time.Time, fn func(ctx context.Context) (any, error)) *Future {
	ctx, cancel := context.WithDeadline(parent, deadline)
	return l.Spawn(ctx, func(ctx context.Context) (any, error) {
		defer cancel()
		return fn(ctx)
	})
}
