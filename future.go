package coopsched

import (
	"sync"

	"github.com/ellerydavis/coopsched/coop"
)

// FutureResult is the settled value of a Future: either a success value or
// an error, never both.
type FutureResult = any

// FutureState is the lifecycle state of a [Future]. A Future starts Pending
// and transitions exactly once to either Fulfilled or Rejected.
type FutureState int

const (
	// FuturePending indicates the operation is still in progress.
	FuturePending FutureState = iota
	// FutureFulfilled indicates the operation completed successfully.
	FutureFulfilled
	// FutureRejected indicates the operation failed.
	FutureRejected
)

// Future is a read-only view of an asynchronous result produced by
// [Loop.Spawn]. Unlike the teacher eventloop's Promise/A+ chain, a Future
// does not support Then/Catch composition: idiomatic Go composes
// asynchronous work with channels and goroutines, not callback chains, so
// Await (blocking), TryGet (non-blocking check) and AsOp (a coop.Op for
// polling from inside a task) are the ways to consume one.
type Future struct {
	mu          sync.Mutex
	state       FutureState
	result      FutureResult
	err         error
	subscribers []chan struct{}
}

// State returns the current FutureState.
func (f *Future) State() FutureState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Resolve settles f successfully. A second call is a no-op.
func (f *Future) Resolve(val FutureResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != FuturePending {
		return
	}
	f.state = FutureFulfilled
	f.result = val
	f.fanOut()
}

// Reject settles f with an error. A second call is a no-op.
func (f *Future) Reject(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != FuturePending {
		return
	}
	f.state = FutureRejected
	f.err = err
	f.fanOut()
}

// fanOut closes every subscriber channel, waking any Await waiting on one.
// Must be called with f.mu held.
func (f *Future) fanOut() {
	for _, ch := range f.subscribers {
		close(ch)
	}
	f.subscribers = nil
}

// TryGet returns the settled result without blocking. ok is false while the
// Future is still Pending.
func (f *Future) TryGet() (val FutureResult, err error, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == FuturePending {
		return nil, nil, false
	}
	return f.result, f.err, true
}

// subscribe registers a channel that is closed when f settles. If f is
// already settled, the returned channel is pre-closed.
func (f *Future) subscribe() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	if f.state != FuturePending {
		close(ch)
		return ch
	}
	f.subscribers = append(f.subscribers, ch)
	return ch
}

// Await blocks the calling goroutine until f settles, then returns its
// result. It is safe to call from outside the Loop's own goroutine; it must
// never be called from a task running on the Loop's goroutine, since that
// would deadlock the loop against itself.
func (f *Future) Await() (FutureResult, error) {
	if val, err, ok := f.TryGet(); ok {
		return val, err
	}
	<-f.subscribe()
	val, err, _ := f.TryGet()
	return val, err
}

// futurePoll is the cooperative, non-blocking counterpart to Await: it
// implements [coop.Op][FutureResult] so a Future can be driven from inside
// a task instead of parking a goroutine. It never blocks; while f is still
// Pending it registers cx.Waker against f's settlement and reports not
// ready. It does not touch the caller's budget itself; wrapping it in
// coop.Cooperative makes each Ready poll spend one unit.
type futurePoll struct {
	f *Future
}

// AsOp adapts f into a coop.Op so it can be driven by coop.Cooperative or
// polled directly inside a budgeted scope.
func (f *Future) AsOp() futurePoll { return futurePoll{f: f} }

// Poll implements coop.Op[FutureResult]. It never blocks: a Pending Future
// registers cx.Waker against its settlement (via a one-shot goroutine
// parked on the subscriber channel) and reports not-ready.
func (p futurePoll) Poll(cx *coop.Cx) (FutureResult, bool) {
	if val, err, ok := p.f.TryGet(); ok {
		if err != nil {
			return err, true
		}
		return val, true
	}
	if cx.Waker != nil {
		ch := p.f.subscribe()
		go func() {
			<-ch
			cx.Waker.Wake()
		}()
	}
	return nil, false
}

var _ coop.Op[FutureResult] = futurePoll{}
