package coopsched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellerydavis/coopsched/coop"
)

// newBareLoop builds a Loop with just enough state to exercise queue
// draining directly, without the real platform poller or wakeup fds that
// New() sets up - the budgeting logic under test doesn't touch either.
func newBareLoop() *Loop {
	return &Loop{
		state:    NewState(),
		external: NewChunkedIngress(),
		internal: NewChunkedIngress(),
		deferred: NewDeferredRing(),
		logger:   NewNoOpLogger(),
	}
}

func TestProcessInternalQueue_ForcedYieldLeavesRemainderQueued(t *testing.T) {
	l := newBareLoop()
	const total = 300
	ran := 0
	for i := 0; i < total; i++ {
		l.internal.Push(func() { ran++ })
	}

	coop.RunBudgeted(func() struct{} {
		l.processInternalQueue()
		return struct{}{}
	})

	assert.Equal(t, int(coop.InitialBudget), ran, "exactly one tick's budget worth of tasks should run")
	assert.Equal(t, total-ran, l.internal.Length(), "the rest must stay queued for a later tick")

	// The remaining 172 tasks exceed one budget of 128, so two more
	// budgeted scopes drain them.
	for i := 0; i < 2; i++ {
		coop.RunBudgeted(func() struct{} {
			l.processInternalQueue()
			return struct{}{}
		})
	}
	assert.Equal(t, total, ran)
	assert.Equal(t, 0, l.internal.Length())
}

func TestProcessExternal_DrainsUnderBudgetAndReportsOverload(t *testing.T) {
	l := newBareLoop()
	const total = 200
	for i := 0; i < total; i++ {
		l.external.Push(func() {})
	}

	var overloadErr error
	l.OnOverload = func(err error) { overloadErr = err }

	coop.RunBudgeted(func() struct{} {
		l.processExternal()
		return struct{}{}
	})

	assert.Equal(t, total-int(coop.InitialBudget), l.external.Length())
	assert.ErrorIs(t, overloadErr, ErrLoopOverloaded)
}

func TestProcessExternal_NoOverloadWhenQueueFullyDrained(t *testing.T) {
	l := newBareLoop()
	ran := 0
	for i := 0; i < 10; i++ {
		l.external.Push(func() { ran++ })
	}

	var overloadCalled bool
	l.OnOverload = func(error) { overloadCalled = true }

	coop.RunBudgeted(func() struct{} {
		l.processExternal()
		return struct{}{}
	})

	assert.Equal(t, 10, ran)
	assert.False(t, overloadCalled)
}

func TestDrainDeferred_DrainsRingUnderBudget(t *testing.T) {
	l := newBareLoop()
	ran := 0
	for i := 0; i < 5; i++ {
		l.deferred.Push(func() { ran++ })
	}

	coop.RunBudgeted(func() struct{} {
		l.drainDeferred()
		return struct{}{}
	})

	assert.Equal(t, 5, ran)
	assert.True(t, l.deferred.IsEmpty())
}

func TestSafeExecute_RecoversPanicAndRecordsLatencyWhenMetricsEnabled(t *testing.T) {
	l := newBareLoop()
	l.metrics = &Metrics{}

	assert.NotPanics(t, func() {
		l.safeExecute(func() { panic("boom") })
	})
	assert.Equal(t, 1, l.metrics.Latency.Sample())
}

func TestSafeExecute_NilTaskIsNoop(t *testing.T) {
	l := newBareLoop()
	assert.NotPanics(t, func() { l.safeExecute(nil) })
}

func TestRecordQueueMetrics_NoopWhenMetricsDisabled(t *testing.T) {
	l := newBareLoop()
	assert.NotPanics(t, l.recordQueueMetrics)
}

func TestRecordQueueMetrics_SamplesQueueDepths(t *testing.T) {
	l := newBareLoop()
	l.metrics = &Metrics{}
	l.external.Push(func() {})
	l.internal.Push(func() {})
	l.internal.Push(func() {})
	l.deferred.Push(func() {})

	l.recordQueueMetrics()

	assert.Equal(t, 1, l.metrics.Queue.IngressCurrent)
	assert.Equal(t, 2, l.metrics.Queue.InternalCurrent)
	assert.Equal(t, 1, l.metrics.Queue.DeferredCurrent)
}

func TestLoop_SubmitAndRun_ExecutesTaskThenShutsDown(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	// Shutdown blocks until the loop goroutine drains and returns, so it
	// must be called from outside the loop - never from a task running on
	// it, or it would deadlock against its own Run().
	done := make(chan struct{})
	require.NoError(t, loop.Submit(func() {
		close(done)
	}))

	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(context.Background()) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("submitted task never ran")
	}

	require.NoError(t, loop.Shutdown(context.Background()))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run never returned after Shutdown")
	}

	assert.Equal(t, StateTerminated, loop.State())
}

func TestLoop_SubmitAfterTerminated_ReturnsErrLoopTerminated(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	require.NoError(t, loop.Close())
	assert.ErrorIs(t, loop.Submit(func() {}), ErrLoopTerminated)
	assert.ErrorIs(t, loop.SubmitInternal(func() {}), ErrLoopTerminated)
}

func TestLoop_Run_RejectsReentrantCall(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	reentrantErr := make(chan error, 1)
	require.NoError(t, loop.Submit(func() {
		reentrantErr <- loop.Run(context.Background())
	}))

	go func() { _ = loop.Run(context.Background()) }()

	select {
	case err := <-reentrantErr:
		assert.ErrorIs(t, err, ErrReentrantRun)
	case <-time.After(5 * time.Second):
		t.Fatal("reentrant Run never returned")
	}

	require.NoError(t, loop.Shutdown(context.Background()))
}

func TestLoop_ScheduleTimer_FiresAfterDelay(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	fired := make(chan struct{})
	require.NoError(t, loop.Submit(func() {
		require.NoError(t, loop.ScheduleTimer(10*time.Millisecond, func() {
			close(fired)
		}))
	}))

	go func() { _ = loop.Run(context.Background()) }()

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer never fired")
	}

	require.NoError(t, loop.Shutdown(context.Background()))
}

func TestLoop_ContextCancellation_ShutsDownLoop(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(ctx) }()

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run never returned after context cancellation")
	}
}

func TestLoop_Metrics_NilWhenNotEnabled(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()
	assert.Nil(t, loop.Metrics())
}

func TestLoop_Metrics_PresentWhenEnabled(t *testing.T) {
	loop, err := New(WithMetrics(true))
	require.NoError(t, err)
	defer loop.Close()
	assert.NotNil(t, loop.Metrics())
}
