package coopsched

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_NewFuture_AssignsSequentialIDsStartingAtOne(t *testing.T) {
	r := newRegistry()

	id1, f1 := r.NewFuture()
	id2, f2 := r.NewFuture()

	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)
	assert.NotNil(t, f1)
	assert.NotNil(t, f2)
	assert.Equal(t, FuturePending, f1.State())
}

func TestRegistry_Scavenge_RemovesSettledFuturesButKeepsPending(t *testing.T) {
	r := newRegistry()

	// Keep strong references so the weak pointers stay resolvable for the
	// duration of the test.
	_, settled := r.NewFuture()
	_, pending := r.NewFuture()
	settled.Resolve("done")

	r.Scavenge(10)

	r.mu.RLock()
	_, settledStillPresent := findByFuture(r, settled)
	_, pendingStillPresent := findByFuture(r, pending)
	r.mu.RUnlock()

	assert.False(t, settledStillPresent, "a settled future should be scavenged")
	assert.True(t, pendingStillPresent, "a still-pending future must not be scavenged")
}

func TestRegistry_Scavenge_ZeroOrNegativeBatchIsNoop(t *testing.T) {
	r := newRegistry()
	_, f := r.NewFuture()
	f.Resolve(1)

	assert.NotPanics(t, func() {
		r.Scavenge(0)
		r.Scavenge(-1)
	})

	r.mu.RLock()
	_, stillPresent := findByFuture(r, f)
	r.mu.RUnlock()
	assert.True(t, stillPresent, "a zero/negative batch size must not scavenge anything")
}

func TestRegistry_Scavenge_ProcessesOnlyBatchSizeThenResumesFromHead(t *testing.T) {
	r := newRegistry()
	futures := make([]*Future, 20)
	for i := range futures {
		_, f := r.NewFuture()
		f.Resolve(i)
		futures[i] = f
	}

	r.Scavenge(5)
	r.mu.RLock()
	remaining := len(r.data)
	head := r.head
	r.mu.RUnlock()

	assert.Equal(t, 5, head)
	assert.Equal(t, len(futures)-5, remaining)
}

func TestRegistry_RejectAll_RejectsPendingAndClearsRegistry(t *testing.T) {
	r := newRegistry()
	_, pending1 := r.NewFuture()
	_, pending2 := r.NewFuture()
	_, alreadySettled := r.NewFuture()
	alreadySettled.Resolve("fine")

	boom := errors.New("shutting down")
	r.RejectAll(boom)

	assert.Equal(t, FutureRejected, pending1.State())
	assert.Equal(t, FutureRejected, pending2.State())
	assert.Equal(t, FutureFulfilled, alreadySettled.State(), "already-settled futures must not be re-settled")

	_, p1Err, _ := pending1.TryGet()
	assert.Equal(t, boom, p1Err)

	r.mu.RLock()
	defer r.mu.RUnlock()
	assert.Empty(t, r.data)
	assert.Empty(t, r.ring)
	assert.Equal(t, 0, r.head)
}

// findByFuture reports whether r's registry still holds an entry whose weak
// pointer resolves to f. Must be called with r.mu held for reading.
func findByFuture(r *registry, f *Future) (uint64, bool) {
	for id, wp := range r.data {
		if wp.Value() == f {
			return id, true
		}
	}
	return 0, false
}
