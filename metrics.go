package coopsched

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks runtime statistics for a Loop. All metrics are optional
// and attached via WithMetrics(true); Loop.Metrics() returns a pointer to
// the Loop's live Metrics, not a copy.
//
// Thread Safety: every Metrics method is safe to call from any goroutine.
type Metrics struct {
	// Latency metrics (has pointer field - put first for alignment)
	Latency LatencyMetrics

	// Queue depth metrics
	Queue QueueMetrics

	mu sync.Mutex

	// Throughput metrics
	TPS float64

	// ForcedYields counts how many times one of the Loop's drain steps
	// (timers, internal, external, deferred) found the tick's budget spent
	// and stopped, leaving its remainder to a later tick. The Loop's drain
	// loops increment it directly; one exhausted scope can add more than
	// one, since each later drain step in that scope also stops.
	ForcedYields atomic.Int64
}

// LatencyMetrics tracks task-execution latency distribution with
// percentiles, using the P-Square algorithm for O(1) streaming estimation.
type LatencyMetrics struct {
	psquare *pSquareMultiQuantile

	mu sync.RWMutex

	// Rolling buffer of the most recent sampleSize observations. Sum (and
	// so Mean) always covers this window; Sample sorts it for exact
	// percentiles only while it holds fewer than 5 observations.
	sampleIdx   int
	sampleCount int
	samples     [sampleSize]time.Duration

	// Computed percentiles, cached after the most recent Sample() call.
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
	Max time.Duration

	Mean time.Duration
	Sum  time.Duration
}

// sampleSize is the rolling buffer length behind Sum, Mean and the exact
// early percentiles.
const sampleSize = 1000

// Record records one latency observation. Called internally after each
// task execution.
func (l *LatencyMetrics) Record(duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.psquare == nil {
		l.psquare = newPSquareMultiQuantile(0.50, 0.90, 0.95, 0.99)
	}
	l.psquare.Update(float64(duration))

	if l.sampleCount >= sampleSize {
		old := l.samples[l.sampleIdx]
		l.Sum -= old
	}

	l.samples[l.sampleIdx] = duration
	l.Sum += duration
	l.sampleIdx++
	if l.sampleIdx >= sampleSize {
		l.sampleIdx = 0
	}
	if l.sampleCount < sampleSize {
		l.sampleCount++
	}
}

// Sample recomputes the cached percentile fields from collected samples and
// returns the number of samples used.
func (l *LatencyMetrics) Sample() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.sampleCount
	if count == 0 {
		return 0
	}

	if count < 5 || l.psquare == nil {
		sorted := make([]time.Duration, count)
		copy(sorted, l.samples[:count])
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		l.P50 = sorted[percentileIndex(count, 50)]
		l.P90 = sorted[percentileIndex(count, 90)]
		l.P95 = sorted[percentileIndex(count, 95)]
		l.P99 = sorted[percentileIndex(count, 99)]
		l.Max = sorted[count-1]
		l.Mean = l.Sum / time.Duration(count)
		return count
	}

	l.P50 = time.Duration(l.psquare.Quantile(0))
	l.P90 = time.Duration(l.psquare.Quantile(1))
	l.P95 = time.Duration(l.psquare.Quantile(2))
	l.P99 = time.Duration(l.psquare.Quantile(3))
	l.Max = time.Duration(l.psquare.Max())
	l.Mean = l.Sum / time.Duration(count)

	return count
}

func percentileIndex(n, p int) int {
	index := (p * n) / 100
	if index >= n {
		return n - 1
	}
	return index
}

// QueueMetrics tracks queue depth statistics across the Loop's three
// queues: the submission ingress, the internal (loop-owned) queue, and the
// deferred-work ring.
type QueueMetrics struct {
	mu sync.RWMutex

	IngressCurrent  int
	InternalCurrent int
	DeferredCurrent int

	IngressMax  int
	InternalMax int
	DeferredMax int

	// Exponential moving averages, alpha=0.1, warmstarted to the first
	// observed value so early readings aren't biased toward zero.
	IngressAvg  float64
	InternalAvg float64
	DeferredAvg float64

	ingressEMAInitialized  bool
	internalEMAInitialized bool
	deferredEMAInitialized bool
}

func (q *QueueMetrics) UpdateIngress(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.IngressCurrent = depth
	if depth > q.IngressMax {
		q.IngressMax = depth
	}
	if !q.ingressEMAInitialized {
		q.IngressAvg = float64(depth)
		q.ingressEMAInitialized = true
	} else {
		q.IngressAvg = 0.9*q.IngressAvg + 0.1*float64(depth)
	}
}

func (q *QueueMetrics) UpdateInternal(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.InternalCurrent = depth
	if depth > q.InternalMax {
		q.InternalMax = depth
	}
	if !q.internalEMAInitialized {
		q.InternalAvg = float64(depth)
		q.internalEMAInitialized = true
	} else {
		q.InternalAvg = 0.9*q.InternalAvg + 0.1*float64(depth)
	}
}

func (q *QueueMetrics) UpdateDeferred(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.DeferredCurrent = depth
	if depth > q.DeferredMax {
		q.DeferredMax = depth
	}
	if !q.deferredEMAInitialized {
		q.DeferredAvg = float64(depth)
		q.deferredEMAInitialized = true
	} else {
		q.DeferredAvg = 0.9*q.DeferredAvg + 0.1*float64(depth)
	}
}

// TPSCounter tracks transactions per second over a rolling window using a
// ring buffer of time-bucketed counts.
type TPSCounter struct {
	lastRotation atomic.Value // time.Time
	buckets      []int64
	bucketSize   time.Duration
	windowSize   time.Duration
	mu           sync.Mutex
}

// NewTPSCounter creates a TPS counter. windowSize and bucketSize must be
// positive, and bucketSize must not exceed windowSize.
func NewTPSCounter(windowSize, bucketSize time.Duration) *TPSCounter {
	if windowSize <= 0 {
		panic("coopsched: windowSize must be positive")
	}
	if bucketSize <= 0 {
		panic("coopsched: bucketSize must be positive")
	}
	if bucketSize > windowSize {
		panic("coopsched: bucketSize cannot exceed windowSize")
	}

	bucketCount := int(windowSize / bucketSize)
	counter := &TPSCounter{
		buckets:    make([]int64, bucketCount),
		bucketSize: bucketSize,
		windowSize: windowSize,
	}
	counter.lastRotation.Store(time.Now())
	return counter
}

// Increment records one task execution.
func (t *TPSCounter) Increment() {
	t.rotate()
	t.mu.Lock()
	t.buckets[len(t.buckets)-1]++
	t.mu.Unlock()
}

func (t *TPSCounter) rotate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	lastRotation := t.lastRotation.Load().(time.Time)
	elapsed := now.Sub(lastRotation)

	bucketsToAdvanceInt64 := int64(elapsed) / int64(t.bucketSize)
	if bucketsToAdvanceInt64 < 0 {
		bucketsToAdvanceInt64 = int64(len(t.buckets))
	} else if bucketsToAdvanceInt64 > int64(len(t.buckets)) {
		bucketsToAdvanceInt64 = int64(len(t.buckets))
	}
	bucketsToAdvance := int(bucketsToAdvanceInt64)

	if bucketsToAdvance >= len(t.buckets) {
		for i := range t.buckets {
			t.buckets[i] = 0
		}
		t.lastRotation.Store(now)
		return
	}

	if bucketsToAdvance <= 0 {
		return
	}

	copy(t.buckets, t.buckets[bucketsToAdvance:])
	for i := len(t.buckets) - bucketsToAdvance; i < len(t.buckets); i++ {
		t.buckets[i] = 0
	}

	t.lastRotation.Store(lastRotation.Add(time.Duration(bucketsToAdvance) * t.bucketSize))
}

// TPS returns the current transactions-per-second estimate.
func (t *TPSCounter) TPS() float64 {
	t.rotate()

	t.mu.Lock()
	defer t.mu.Unlock()

	var sum int64
	for _, count := range t.buckets {
		sum += count
	}
	if sum == 0 {
		return 0
	}

	monitoredDuration := float64(len(t.buckets)) * t.bucketSize.Seconds()
	return float64(sum) / monitoredDuration
}
