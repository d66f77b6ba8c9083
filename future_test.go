package coopsched

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellerydavis/coopsched/coop"
)

func TestFuture_Resolve_SettlesAndIsIdempotent(t *testing.T) {
	f := &Future{}
	assert.Equal(t, FuturePending, f.State())

	f.Resolve(42)
	assert.Equal(t, FutureFulfilled, f.State())

	val, err, ok := f.TryGet()
	require.True(t, ok)
	assert.Equal(t, 42, val)
	assert.NoError(t, err)

	// A second settlement attempt is a no-op.
	f.Reject(errors.New("too late"))
	assert.Equal(t, FutureFulfilled, f.State())
	val, err, ok = f.TryGet()
	require.True(t, ok)
	assert.Equal(t, 42, val)
	assert.NoError(t, err)
}

func TestFuture_Reject_Settles(t *testing.T) {
	f := &Future{}
	boom := errors.New("boom")
	f.Reject(boom)

	assert.Equal(t, FutureRejected, f.State())
	val, err, ok := f.TryGet()
	require.True(t, ok)
	assert.Nil(t, val)
	assert.Equal(t, boom, err)
}

func TestFuture_TryGet_NotOkWhilePending(t *testing.T) {
	f := &Future{}
	_, _, ok := f.TryGet()
	assert.False(t, ok)
}

func TestFuture_Await_ReturnsImmediatelyWhenAlreadySettled(t *testing.T) {
	f := &Future{}
	f.Resolve("done")

	done := make(chan struct{})
	var val FutureResult
	var err error
	go func() {
		val, err = f.Await()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Await on an already-settled Future should not block")
	}
	assert.Equal(t, "done", val)
	assert.NoError(t, err)
}

func TestFuture_Await_BlocksUntilSettled(t *testing.T) {
	f := &Future{}
	done := make(chan struct{})
	var val FutureResult
	var err error
	go func() {
		val, err = f.Await()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Await returned before the Future settled")
	case <-time.After(50 * time.Millisecond):
	}

	f.Resolve("late")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Await never returned after the Future settled")
	}
	assert.Equal(t, "late", val)
	assert.NoError(t, err)
}

func TestFuturePoll_ReturnsReadyImmediatelyWhenFulfilled(t *testing.T) {
	f := &Future{}
	f.Resolve(7)

	var got FutureResult
	coop.RunBudgeted(func() struct{} {
		v, ready := f.AsOp().Poll(&coop.Cx{})
		require.True(t, ready)
		got = v
		return struct{}{}
	})
	assert.Equal(t, 7, got)
}

func TestFuturePoll_ReturnsReadyWithErrorWhenRejected(t *testing.T) {
	f := &Future{}
	boom := errors.New("boom")
	f.Reject(boom)

	coop.RunBudgeted(func() struct{} {
		v, ready := f.AsOp().Poll(&coop.Cx{})
		require.True(t, ready)
		assert.Equal(t, boom, v)
		return struct{}{}
	})
}

func TestFuturePoll_PendingRegistersWakerAndLaterBecomesReady(t *testing.T) {
	f := &Future{}
	var woke atomicBool

	op := f.AsOp()
	ready := false
	coop.RunBudgeted(func() struct{} {
		_, r := op.Poll(&coop.Cx{Waker: wakerFunc(func() { woke.set(true) })})
		ready = r
		return struct{}{}
	})
	assert.False(t, ready)
	assert.False(t, woke.get())

	f.Resolve("value")

	require.Eventually(t, woke.get, 2*time.Second, time.Millisecond)

	coop.RunBudgeted(func() struct{} {
		v, r := op.Poll(&coop.Cx{})
		require.True(t, r)
		assert.Equal(t, "value", v)
		return struct{}{}
	})
}

// wakerFunc adapts a plain function to coop.Waker.
type wakerFunc func()

func (w wakerFunc) Wake() { w() }

// atomicBool is a tiny test-local helper; the package under test doesn't
// need a general-purpose one, so it isn't promoted out of the test file.
type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (b *atomicBool) set(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.v = v
}

func (b *atomicBool) get() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.v
}
