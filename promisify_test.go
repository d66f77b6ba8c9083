package coopsched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runningLoop starts loop.Run on a background goroutine and returns a
// cleanup func that shuts it down (after which Close reports the loop as
// already terminated); callers must not call Shutdown from within a task
// running on the loop itself.
func runningLoop(t *testing.T, loop *Loop) func() {
	t.Helper()
	go func() { _ = loop.Run(context.Background()) }()
	return func() {
		require.NoError(t, loop.Shutdown(context.Background()))
		require.ErrorIs(t, loop.Close(), ErrLoopTerminated)
	}
}

func TestLoop_Spawn_ResolvesFutureWithReturnedValue(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runningLoop(t, loop)
	defer stop()

	f := loop.Spawn(context.Background(), func(ctx context.Context) (any, error) {
		return 42, nil
	})

	val, err := f.Await()
	require.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestLoop_Spawn_RejectsFutureWithReturnedError(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runningLoop(t, loop)
	defer stop()

	boom := errors.New("boom")
	f := loop.Spawn(context.Background(), func(ctx context.Context) (any, error) {
		return nil, boom
	})

	_, err = f.Await()
	assert.Equal(t, boom, err)
}

func TestLoop_Spawn_RejectsFutureWithPanicError(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runningLoop(t, loop)
	defer stop()

	f := loop.Spawn(context.Background(), func(ctx context.Context) (any, error) {
		panic("kaboom")
	})

	_, err = f.Await()
	var panicErr PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
}

func TestLoop_Spawn_RejectsFutureOnContextCancellation(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runningLoop(t, loop)
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := loop.Spawn(ctx, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err = f.Await()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoop_SpawnWithTimeout_RejectsOnDeadlineExceeded(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runningLoop(t, loop)
	defer stop()

	f := loop.SpawnWithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err = f.Await()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoop_SpawnWithDeadline_RejectsOnPastDeadline(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runningLoop(t, loop)
	defer stop()

	f := loop.SpawnWithDeadline(context.Background(), time.Now().Add(-time.Second), func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err = f.Await()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoop_Spawn_RejectsImmediatelyWhenLoopAlreadyTerminated(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	require.NoError(t, loop.Close())

	f := loop.Spawn(context.Background(), func(ctx context.Context) (any, error) {
		return 1, nil
	})

	_, err = f.Await()
	assert.ErrorIs(t, err, ErrLoopTerminated)
}

func TestPanicError_Error_IncludesRecoveredValue(t *testing.T) {
	err := PanicError{Value: "kaboom"}
	assert.Contains(t, err.Error(), "kaboom")
}
