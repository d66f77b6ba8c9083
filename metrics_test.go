package coopsched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyMetrics_ExactPathForSmallSampleCounts(t *testing.T) {
	var l LatencyMetrics
	for _, ms := range []int{10, 20, 30, 40} {
		l.Record(time.Duration(ms) * time.Millisecond)
	}

	count := l.Sample()
	assert.Equal(t, 4, count, "fewer than 5 samples must use the exact sort fallback")
	assert.Equal(t, 40*time.Millisecond, l.Max)
	assert.Equal(t, 25*time.Millisecond, l.Mean)
}

func TestLatencyMetrics_SwitchesToPSquareAtFiveSamples(t *testing.T) {
	var l LatencyMetrics
	for i := 1; i <= 5; i++ {
		l.Record(time.Duration(i) * time.Millisecond)
	}

	count := l.Sample()
	assert.Equal(t, 5, count)
	// Once at least 5 samples have ever been recorded the P-Square
	// estimator is used instead of the exact sort fallback; Max still
	// tracks the true maximum exactly.
	assert.Equal(t, 5*time.Millisecond, l.Max)
}

func TestLatencyMetrics_SampleOnEmptyReturnsZero(t *testing.T) {
	var l LatencyMetrics
	assert.Equal(t, 0, l.Sample())
}

func TestQueueMetrics_UpdateIngress_TracksCurrentMaxAndEMA(t *testing.T) {
	var q QueueMetrics
	q.UpdateIngress(10)
	assert.Equal(t, 10, q.IngressCurrent)
	assert.Equal(t, 10, q.IngressMax)
	assert.InDelta(t, 10, q.IngressAvg, 0.0001, "EMA warmstarts to the first observed value")

	q.UpdateIngress(5)
	assert.Equal(t, 5, q.IngressCurrent)
	assert.Equal(t, 10, q.IngressMax, "max must not drop on a lower observation")
	assert.InDelta(t, 9.5, q.IngressAvg, 0.0001)
}

func TestQueueMetrics_UpdateInternalAndDeferred_AreIndependent(t *testing.T) {
	var q QueueMetrics
	q.UpdateInternal(3)
	q.UpdateDeferred(7)

	assert.Equal(t, 3, q.InternalCurrent)
	assert.Equal(t, 7, q.DeferredCurrent)
	assert.Equal(t, 0, q.IngressCurrent, "unrelated queue updates must not cross-contaminate")
}

func TestNewTPSCounter_PanicsOnInvalidArguments(t *testing.T) {
	assert.Panics(t, func() { NewTPSCounter(0, time.Second) })
	assert.Panics(t, func() { NewTPSCounter(time.Second, 0) })
	assert.Panics(t, func() { NewTPSCounter(time.Second, 2*time.Second) })
}

func TestTPSCounter_IncrementThenTPS_ReflectsRecordedEvents(t *testing.T) {
	c := NewTPSCounter(time.Second, 100*time.Millisecond)
	for i := 0; i < 10; i++ {
		c.Increment()
	}
	assert.Greater(t, c.TPS(), 0.0)
}

func TestTPSCounter_NoIncrements_TPSIsZero(t *testing.T) {
	c := NewTPSCounter(time.Second, 100*time.Millisecond)
	assert.Equal(t, 0.0, c.TPS())
}
