package coopsched

import (
	"container/heap"
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ellerydavis/coopsched/coop"
)

// Standard errors.
var (
	// ErrLoopAlreadyRunning is returned when Run() is called on a loop that is already running.
	ErrLoopAlreadyRunning = errors.New("coopsched: loop is already running")

	// ErrLoopTerminated is returned when operations are attempted on a terminated loop.
	ErrLoopTerminated = errors.New("coopsched: loop has been terminated")

	// ErrLoopNotRunning is returned when operations are attempted on a loop that hasn't been started.
	ErrLoopNotRunning = errors.New("coopsched: loop is not running")

	// ErrLoopOverloaded is passed to Loop.OnOverload when external tasks are
	// still queued after a tick's external-queue drain.
	ErrLoopOverloaded = errors.New("coopsched: loop is overloaded")

	// ErrReentrantRun is returned when Run() is called from within the loop itself.
	ErrReentrantRun = errors.New("coopsched: cannot call Run() from within the loop")
)

// loopTestHooks provides injection points for deterministic race testing.
type loopTestHooks struct {
	PrePollSleep func() // Called before CAS to StateSleeping
	PrePollAwake func() // Called before CAS back to StateRunning
}

// Loop is a single-goroutine task runtime. Every tick drains its work
// sources - timers, internal and external task queues, and deferred work -
// in that fixed order under a shared coop budget (see the coop subpackage),
// so a runaway producer cannot keep a tick from reaching its I/O poll. A
// source that spends the whole budget leaves the sources after it queued
// until a later tick.
//
// Ingress design: tasks are queued in ChunkedIngress, a mutex-protected
// chunked linked list, rather than a lock-free structure. Benchmarks on the
// originating codebase showed a plain mutex outperforming lock-free CAS
// under high contention, since CAS causes O(N) retry storms when N
// producers compete while a mutex just serializes. Chunking (128 tasks per
// node) gives cache locality and amortizes allocation.
type Loop struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	registry *registry

	// HOOKS: Test hooks for deterministic race testing
	testHooks *loopTestHooks

	// OnOverload is called when the external queue still has pending tasks
	// after a tick's budget for draining it has run out.
	OnOverload func(error)

	// State machine (cache-line padded internally)
	state *State

	// Ingress queues. Hold raw func() rather than a Task wrapper: nothing
	// in this package needs task metadata beyond "what to run".
	external *ChunkedIngress // External tasks (Submit)
	internal *ChunkedIngress // Internal priority tasks (SubmitInternal)
	deferred *DeferredRing   // Deferred work (ScheduleDeferred)

	timers timerHeap

	// I/O poller (epoll/kqueue FastPoller)
	poller FastPoller

	stopOnce  sync.Once
	closeOnce sync.Once

	// promisifyMu guards the check-state-then-register sequence in Spawn
	// against a shutdown racing in between.
	promisifyMu sync.Mutex
	// promisifyWg tracks in-flight Spawn goroutines.
	promisifyWg sync.WaitGroup

	// Wake-up mechanism (pipe-based, triggers an I/O event)
	wakePipe      int
	wakePipeWrite int
	wakeBuf       [8]byte

	// Fast wakeup channel for task-only mode (no user I/O FDs registered).
	// When userIOFDCount is 0, we use channel-based wakeup (~50ns) instead
	// of pipe-based wakeup (~10µs).
	fastWakeupCh  chan struct{}
	userIOFDCount atomic.Int32

	tickAnchorMu    sync.RWMutex
	tickAnchor      time.Time
	tickElapsedTime atomic.Int64

	loopGoroutineID atomic.Uint64
	tickCount       uint64

	// osThreadLocked records whether this goroutine has already paid the
	// cost of LockOSThread. It's only touched from the loop's own
	// goroutine, inside poll(), so it needs no synchronization. Locking is
	// deferred until the first blocking kqueue/epoll wait, since pure
	// channel-based waits (userIOFDCount == 0) need no thread affinity.
	osThreadLocked bool

	id uint64

	loopDone chan struct{}

	externalMu      sync.Mutex
	internalQueueMu sync.Mutex

	wakeUpSignalPending atomic.Uint32

	forceNonBlockingPoll bool

	// StrictDeferredOrdering controls whether deferred work is drained
	// after every single task execution (true) or only in batches between
	// the queue-drain steps of a tick (false, default).
	StrictDeferredOrdering bool

	// waker is handed to coop.PollProceed as the Cx.Waker for every leaf
	// poll this Loop performs internally.
	waker coop.Waker

	// logger receives lifecycle and forced-yield events.
	logger Logger

	// metrics is non-nil when WithMetrics(true) was passed to New.
	metrics *Metrics
}

// timer represents a scheduled task
type timer struct {
	when time.Time
	task func()
}

// timerHeap is a min-heap of timers
type timerHeap []timer

// Implement heap.Interface for timerHeap
func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(timer))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

var loopIDCounter atomic.Uint64

// loopWaker adapts a Loop's own wakeup mechanism to coop.Waker, so
// PollProceed can defer-wake a budget-exhausted leaf and have it actually
// resume the Loop on a later tick.
type loopWaker struct{ loop *Loop }

func (w loopWaker) Wake() { w.loop.doWakeup() }

// New creates a new event loop, applying opts in order.
func New(opts ...Option) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	wakeFd, wakeWriteFd, err := createWakeFd(0, EFD_CLOEXEC|EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}

	loop := &Loop{
		id:       loopIDCounter.Add(1),
		state:    NewState(),
		external: NewChunkedIngress(),
		internal: NewChunkedIngress(),
		deferred: NewDeferredRing(),
		registry: newRegistry(),
		timers:   make(timerHeap, 0),

		wakePipe:      wakeFd,
		wakePipeWrite: wakeWriteFd,

		fastWakeupCh: make(chan struct{}, 1),

		loopDone: make(chan struct{}),

		StrictDeferredOrdering: cfg.strictDeferredOrdering,
		logger:                 cfg.logger,
	}
	loop.waker = loopWaker{loop: loop}

	if cfg.metricsEnabled {
		loop.metrics = &Metrics{}
	}

	if err := loop.poller.Init(); err != nil {
		_ = unix.Close(wakeFd)
		if wakeWriteFd != wakeFd {
			_ = unix.Close(wakeWriteFd)
		}
		return nil, err
	}

	if err := loop.poller.RegisterFD(wakeFd, EventRead, func(IOEvents) {
		loop.drainWakeUpPipe()
	}); err != nil {
		_ = loop.poller.Close()
		_ = unix.Close(wakeFd)
		if wakeWriteFd != wakeFd {
			_ = unix.Close(wakeWriteFd)
		}
		return nil, err
	}

	return loop, nil
}

// Metrics returns the Loop's metrics, or nil if WithMetrics was never
// enabled.
func (l *Loop) Metrics() *Metrics {
	return l.metrics
}

// Run runs the event loop and blocks until fully stopped.
//
// Run blocks until the loop terminates (via Shutdown(), Close(), or ctx cancellation).
// To run in a separate goroutine, use: `go loop.Run(ctx)`.
func (l *Loop) Run(ctx context.Context) error {
	if l.isLoopThread() {
		return ErrReentrantRun
	}

	if !l.state.TryTransition(StateAwake, StateRunning) {
		currentState := l.state.Load()
		if currentState == StateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	defer close(l.loopDone)

	l.tickAnchorMu.Lock()
	l.tickAnchor = time.Now()
	l.tickAnchorMu.Unlock()
	l.tickElapsedTime.Store(0)

	return l.run(ctx)
}

// Shutdown gracefully shuts down the event loop.
//
// Shutdown initiates graceful shutdown that waits for all queued tasks to complete.
// It blocks until termination completes or ctx expires.
func (l *Loop) Shutdown(ctx context.Context) error {
	var result error
	l.stopOnce.Do(func() {
		result = l.shutdownImpl(ctx)
	})
	if result == nil && l.state.Load() != StateTerminated {
		return ErrLoopTerminated
	}
	return result
}

// shutdownImpl contains the actual Shutdown implementation.
func (l *Loop) shutdownImpl(ctx context.Context) error {
	for {
		currentState := l.state.Load()
		if currentState == StateTerminated || currentState == StateTerminating {
			return ErrLoopTerminated
		}

		if l.state.TryTransition(currentState, StateTerminating) {
			if currentState == StateAwake {
				l.state.Store(StateTerminated)
				l.closeFDs()
				return nil
			}

			l.doWakeup()
			break
		}
	}

	select {
	case <-l.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main loop goroutine.
func (l *Loop) run(ctx context.Context) error {
	l.loopGoroutineID.Store(getGoroutineID())
	defer l.loopGoroutineID.Store(0)

	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.doWakeup()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	defer func() {
		if l.osThreadLocked {
			runtime.UnlockOSThread()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			for {
				current := l.state.Load()
				if current == StateTerminating || current == StateTerminated {
					break
				}
				if l.state.TryTransition(current, StateTerminating) {
					if current == StateSleeping {
						l.doWakeup()
					}
					break
				}
			}
			l.shutdown()
			return ctx.Err()
		default:
		}

		if l.state.Load() == StateTerminating || l.state.Load() == StateTerminated {
			l.shutdown()
			return nil
		}

		l.tick()
	}
}

// shutdown performs the shutdown sequence.
func (l *Loop) shutdown() {
	promisifyDone := make(chan struct{})
	go func() {
		l.promisifyWg.Wait()
		close(promisifyDone)
	}()
	select {
	case <-promisifyDone:
	case <-time.After(100 * time.Millisecond):
	}

	// CRITICAL: Set state to Terminated FIRST to prevent new tasks from
	// being accepted. Any Submit that checked state before this will push
	// a task, and we'll catch it in the drain below.
	l.state.Store(StateTerminated)

	emptyChecks := 0
	const requiredEmptyChecks = 3
	for emptyChecks < requiredEmptyChecks {
		drained := false

		for {
			l.internalQueueMu.Lock()
			fn, ok := l.internal.Pop()
			l.internalQueueMu.Unlock()
			if !ok {
				break
			}
			l.safeExecute(fn)
			drained = true
		}

		for {
			l.externalMu.Lock()
			fn, ok := l.external.Pop()
			l.externalMu.Unlock()
			if !ok {
				break
			}
			l.safeExecute(fn)
			drained = true
		}

		for {
			fn := l.deferred.Pop()
			if fn == nil {
				break
			}
			l.safeExecute(fn)
			drained = true
		}

		if drained {
			emptyChecks = 0
		} else {
			emptyChecks++
			runtime.Gosched()
		}
	}

	l.registry.RejectAll(ErrLoopTerminated)

	l.closeFDs()
}

// tick is a single iteration of the event loop. Work draining happens
// inside two coop.RunBudgeted scopes, each with the full initial budget:
// one before the I/O poll, and a second after it that drains only deferred
// work, mirroring how a forced yield leaves unfinished work
// for a later tick rather than blocking this one indefinitely.
func (l *Loop) tick() {
	l.tickCount++

	l.tickAnchorMu.RLock()
	anchor := l.tickAnchor
	l.tickAnchorMu.RUnlock()
	elapsed := time.Since(anchor)
	l.tickElapsedTime.Store(int64(elapsed))

	coop.RunBudgeted(func() struct{} {
		l.runTimers()
		l.processInternalQueue()
		l.processExternal()
		l.drainDeferred()
		return struct{}{}
	})

	l.poll()

	coop.RunBudgeted(func() struct{} {
		l.drainDeferred()
		return struct{}{}
	})

	l.recordQueueMetrics()
	l.registry.Scavenge(20)
}

// drainBudgeted pops and executes tasks one at a time via pop, spending one
// unit of the calling coop scope's budget per task, until pop reports no
// task available or the budget runs out. It reports whether any task ran.
func (l *Loop) drainBudgeted(category string, pop func() (func(), bool)) bool {
	processed := false
	for {
		guard, ok := coop.PollProceed(&coop.Cx{Waker: l.waker})
		if !ok {
			logBudgetExhausted(l.logger, int64(l.id), category)
			if l.metrics != nil {
				l.metrics.ForcedYields.Add(1)
			}
			break
		}

		fn, has := pop()
		if !has {
			guard.Drop()
			break
		}
		guard.MadeProgress()
		guard.Drop()

		l.safeExecute(fn)
		processed = true
	}
	return processed
}

// processInternalQueue drains the internal priority queue.
func (l *Loop) processInternalQueue() bool {
	processed := l.drainBudgeted("internal", func() (func(), bool) {
		l.internalQueueMu.Lock()
		fn, ok := l.internal.Pop()
		l.internalQueueMu.Unlock()
		if ok && l.StrictDeferredOrdering {
			defer l.drainDeferred()
		}
		return fn, ok
	})

	if processed {
		l.drainDeferred()
	}
	return processed
}

// processExternal processes the external task queue under budget.
func (l *Loop) processExternal() {
	l.drainBudgeted("external", func() (func(), bool) {
		l.externalMu.Lock()
		fn, ok := l.external.Pop()
		l.externalMu.Unlock()
		if ok && l.StrictDeferredOrdering {
			defer l.drainDeferred()
		}
		return fn, ok
	})

	l.externalMu.Lock()
	remaining := l.external.Length()
	l.externalMu.Unlock()

	if remaining > 0 && l.OnOverload != nil {
		l.OnOverload(ErrLoopOverloaded)
	}
}

// drainDeferred drains the deferred-work ring under budget.
func (l *Loop) drainDeferred() {
	l.drainBudgeted("deferred", func() (func(), bool) {
		fn := l.deferred.Pop()
		if fn == nil {
			return nil, false
		}
		return fn, true
	})
}

// recordQueueMetrics samples queue depths into l.metrics, if enabled.
func (l *Loop) recordQueueMetrics() {
	if l.metrics == nil {
		return
	}

	l.externalMu.Lock()
	extLen := l.external.Length()
	l.externalMu.Unlock()

	l.internalQueueMu.Lock()
	intLen := l.internal.Length()
	l.internalQueueMu.Unlock()

	l.metrics.Queue.UpdateIngress(extLen)
	l.metrics.Queue.UpdateInternal(intLen)
	l.metrics.Queue.UpdateDeferred(l.deferred.Length())
}

// poll performs blocking I/O poll with fast task wakeup optimization.
//
// The poll() function uses two wakeup strategies:
// 1. FAST MODE (no user I/O FDs): Blocks on fastWakeupCh channel (~50ns latency)
// 2. I/O MODE (user I/O FDs registered): Blocks on kqueue/epoll (~10µs latency)
//
// This hybrid approach keeps task-only workloads cheap while still
// supporting I/O event notification when FDs are registered.
func (l *Loop) poll() {
	currentState := l.state.Load()
	if currentState != StateRunning {
		return
	}

	forced := l.forceNonBlockingPoll
	l.forceNonBlockingPoll = false

	if l.testHooks != nil && l.testHooks.PrePollSleep != nil {
		l.testHooks.PrePollSleep()
	}

	if !l.state.TryTransition(StateRunning, StateSleeping) {
		return
	}

	l.externalMu.Lock()
	extLen := l.external.Length()
	l.externalMu.Unlock()

	l.internalQueueMu.Lock()
	intLen := l.internal.Length()
	l.internalQueueMu.Unlock()

	if extLen > 0 || intLen > 0 || !l.deferred.IsEmpty() {
		l.state.TryTransition(StateSleeping, StateRunning)
		return
	}

	if l.state.Load() == StateTerminating {
		return
	}

	timeout := l.calculateTimeout()
	if forced {
		timeout = 0
	}

	// FAST MODE: no user I/O FDs registered, so there's nothing for kqueue
	// or epoll to usefully wait on - block on the channel instead.
	if l.userIOFDCount.Load() == 0 {
		l.pollFastMode(timeout)
		return
	}

	// I/O MODE: lock to the OS thread before the first blocking poller
	// call, since kqueue/epoll require thread affinity for correctness.
	// Deferred this long so pure channel-mode loops never pay the cost.
	if !l.osThreadLocked {
		runtime.LockOSThread()
		l.osThreadLocked = true
	}

	_, err := l.poller.PollIO(timeout)
	if err != nil {
		l.handlePollError(err)
		return
	}

	if l.testHooks != nil && l.testHooks.PrePollAwake != nil {
		l.testHooks.PrePollAwake()
	}

	l.state.TryTransition(StateSleeping, StateRunning)
}

// pollFastMode is the channel-based fast path for task-only workloads.
// It blocks on fastWakeupCh instead of kqueue, achieving lower latency.
func (l *Loop) pollFastMode(timeoutMs int) {
	select {
	case <-l.fastWakeupCh:
		l.wakeUpSignalPending.Store(0)
		if l.testHooks != nil && l.testHooks.PrePollAwake != nil {
			l.testHooks.PrePollAwake()
		}
		l.state.TryTransition(StateSleeping, StateRunning)
		return
	default:
	}

	if timeoutMs == 0 {
		if l.testHooks != nil && l.testHooks.PrePollAwake != nil {
			l.testHooks.PrePollAwake()
		}
		l.state.TryTransition(StateSleeping, StateRunning)
		return
	}

	timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
	select {
	case <-l.fastWakeupCh:
		timer.Stop()
		l.wakeUpSignalPending.Store(0)
	case <-timer.C:
	}

	if l.testHooks != nil && l.testHooks.PrePollAwake != nil {
		l.testHooks.PrePollAwake()
	}

	l.state.TryTransition(StateSleeping, StateRunning)
}

// handlePollError handles errors from PollIO.
func (l *Loop) handlePollError(err error) {
	logPollIOError(l.logger, int64(l.id), err, true)
	if l.state.TryTransition(StateSleeping, StateTerminating) {
		l.shutdown()
	}
}

// drainWakeUpPipe drains the wake-up pipe and resets the wakeup pending flag.
// This is called when the pipe read fd is signaled by kqueue/epoll.
func (l *Loop) drainWakeUpPipe() {
	for {
		_, err := unix.Read(l.wakePipe, l.wakeBuf[:])
		if err != nil {
			break
		}
	}
	l.wakeUpSignalPending.Store(0)
}

// submitWakeup writes to the wake-up pipe.
//
// Wake-up Policy:
//   - REJECTS: StateTerminated (fully stopped, no tasks to process)
//   - ALLOWS: StateTerminating (loop needs to wake and drain remaining tasks)
//   - ALLOWS: StateSleeping, StateRunning, StateAwake
func (l *Loop) submitWakeup() error {
	state := l.state.Load()
	if state == StateTerminated {
		return ErrLoopTerminated
	}

	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]

	_, err := unix.Write(l.wakePipeWrite, buf)
	return err
}

// Submit submits a task to the external queue.
//
// State Policy during shutdown:
//   - StateTerminated: returns ErrLoopTerminated
//   - StateTerminating: ALLOWS submission (loop needs to drain in-flight work)
//   - StateSleeping/StateRunning: normal operation
func (l *Loop) Submit(fn func()) error {
	l.externalMu.Lock()

	state := l.state.Load()
	if state == StateTerminated {
		l.externalMu.Unlock()
		return ErrLoopTerminated
	}

	l.external.Push(fn)
	l.externalMu.Unlock()

	if l.state.Load() == StateSleeping {
		if l.wakeUpSignalPending.CompareAndSwap(0, 1) {
			l.doWakeup()
		}
	}

	return nil
}

// doWakeup sends the appropriate wakeup signal based on mode.
// In fast mode (no user I/O FDs): sends to channel (~50ns)
// In I/O mode (user I/O FDs registered): writes to pipe (~10µs)
func (l *Loop) doWakeup() {
	if l.userIOFDCount.Load() == 0 {
		select {
		case l.fastWakeupCh <- struct{}{}:
		default:
		}
	} else {
		_ = l.submitWakeup()
	}
}

// SubmitInternal submits a task to the internal priority queue.
//
// State Policy during shutdown:
//   - StateTerminated: returns ErrLoopTerminated
//   - StateTerminating: ALLOWS submission (loop needs to drain in-flight work)
//   - StateSleeping/StateRunning: normal operation
func (l *Loop) SubmitInternal(fn func()) error {
	l.internalQueueMu.Lock()

	state := l.state.Load()
	if state == StateTerminated {
		l.internalQueueMu.Unlock()
		return ErrLoopTerminated
	}

	l.internal.Push(fn)
	l.internalQueueMu.Unlock()

	if l.state.Load() == StateSleeping {
		if l.wakeUpSignalPending.CompareAndSwap(0, 1) {
			l.doWakeup()
		}
	}

	return nil
}

// Wake attempts to wake up the loop from a suspended state.
//
// State Policy:
//   - StateSleeping: performs wake-up (if not already pending)
//   - StateTerminated: returns nil (no-op on terminated loop)
//   - StateTerminating/StateRunning/StateAwake: returns nil (loop already active)
func (l *Loop) Wake() error {
	state := l.state.Load()

	if state != StateSleeping {
		return nil
	}

	if l.wakeUpSignalPending.CompareAndSwap(0, 1) {
		l.doWakeup()
	}

	return nil
}

// ScheduleDeferred schedules fn to run on the loop's deferred-work ring,
// after the current queue-drain step (or, under StrictDeferredOrdering,
// after the very next task).
func (l *Loop) ScheduleDeferred(fn func()) error {
	state := l.state.Load()
	if state == StateTerminated {
		return ErrLoopTerminated
	}

	l.deferred.Push(fn)
	return nil
}

// RegisterFD registers a file descriptor for I/O monitoring.
//
// When a user FD is registered, the loop switches to pipe-based wakeup mode
// which has higher latency (~10µs) but supports I/O event notification.
func (l *Loop) RegisterFD(fd int, events IOEvents, callback func(events IOEvents)) error {
	err := l.poller.RegisterFD(fd, events, callback)
	if err == nil {
		l.userIOFDCount.Add(1)
		// Wake the loop so it exits any channel-only wait and enters I/O
		// mode: it may be blocked on either mechanism at the moment of
		// this call, so signal both.
		select {
		case l.fastWakeupCh <- struct{}{}:
		default:
		}
		if l.state.Load() == StateSleeping {
			_ = l.submitWakeup()
		}
	}
	return err
}

// UnregisterFD removes a file descriptor from monitoring.
//
// When the last user FD is unregistered, the loop switches to channel-based
// wakeup mode which has lower latency (~50ns).
func (l *Loop) UnregisterFD(fd int) error {
	err := l.poller.UnregisterFD(fd)
	if err == nil {
		l.userIOFDCount.Add(-1)
	}
	return err
}

// ModifyFD updates the events being monitored for a file descriptor.
func (l *Loop) ModifyFD(fd int, events IOEvents) error {
	return l.poller.ModifyFD(fd, events)
}

// CurrentTickTime returns the cached time for the current tick.
// The returned value uses the monotonic clock and is safe to use for timer calculations.
func (l *Loop) CurrentTickTime() time.Time {
	l.tickAnchorMu.RLock()
	anchor := l.tickAnchor
	l.tickAnchorMu.RUnlock()

	if anchor.IsZero() {
		return time.Now()
	}
	elapsed := time.Duration(l.tickElapsedTime.Load())
	return anchor.Add(elapsed)
}

// SetTickAnchor sets the tick anchor time (for testing only).
func (l *Loop) SetTickAnchor(t time.Time) {
	l.tickAnchorMu.Lock()
	l.tickAnchor = t
	l.tickAnchorMu.Unlock()
	l.tickElapsedTime.Store(0)
}

// TickAnchor returns the tick anchor time (for testing only).
func (l *Loop) TickAnchor() time.Time {
	l.tickAnchorMu.RLock()
	defer l.tickAnchorMu.RUnlock()
	return l.tickAnchor
}

// State returns the current loop state.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// calculateTimeout determines how long to block in poll.
func (l *Loop) calculateTimeout() int {
	maxDelay := 10 * time.Second

	if len(l.timers) > 0 {
		now := time.Now()
		nextFire := l.timers[0].when
		delay := nextFire.Sub(now)
		if delay < 0 {
			delay = 0
		}
		if delay < maxDelay {
			maxDelay = delay
		}
	}

	if maxDelay > 0 && maxDelay < time.Millisecond {
		return 1
	}

	return int(maxDelay.Milliseconds())
}

// runTimers executes all expired timers, under the tick's coop budget.
func (l *Loop) runTimers() {
	now := l.CurrentTickTime()
	for len(l.timers) > 0 {
		if l.timers[0].when.After(now) {
			break
		}

		guard, ok := coop.PollProceed(&coop.Cx{Waker: l.waker})
		if !ok {
			logBudgetExhausted(l.logger, int64(l.id), "timers")
			if l.metrics != nil {
				l.metrics.ForcedYields.Add(1)
			}
			break
		}
		guard.MadeProgress()
		guard.Drop()

		t := heap.Pop(&l.timers).(timer)
		l.safeExecute(t.task)

		if l.StrictDeferredOrdering {
			l.drainDeferred()
		}
	}
}

// ScheduleTimer schedules fn to run after delay has elapsed.
func (l *Loop) ScheduleTimer(delay time.Duration, fn func()) error {
	now := l.CurrentTickTime()
	t := timer{
		when: now.Add(delay),
		task: fn,
	}

	return l.SubmitInternal(func() {
		heap.Push(&l.timers, t)
	})
}

// safeExecute executes fn with panic recovery and, when enabled, latency
// recording.
func (l *Loop) safeExecute(fn func()) {
	if fn == nil {
		return
	}

	var start time.Time
	if l.metrics != nil {
		start = time.Now()
	}

	defer func() {
		if r := recover(); r != nil {
			logTaskPanicked(l.logger, int64(l.id), r)
		}
		if l.metrics != nil {
			l.metrics.Latency.Record(time.Since(start))
		}
	}()

	fn()
}

// closeFDs closes file descriptors.
func (l *Loop) closeFDs() {
	l.closeOnce.Do(func() {
		_ = l.poller.Close()
		_ = unix.Close(l.wakePipe)
		if l.wakePipeWrite != l.wakePipe {
			_ = unix.Close(l.wakePipeWrite)
		}
	})
}

// isLoopThread checks if we're on the loop goroutine.
func (l *Loop) isLoopThread() bool {
	loopID := l.loopGoroutineID.Load()
	if loopID == 0 {
		return false
	}
	return getGoroutineID() == loopID
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

// Close immediately terminates the event loop without waiting for graceful shutdown.
func (l *Loop) Close() error {
	for {
		currentState := l.state.Load()
		if currentState == StateTerminated {
			return ErrLoopTerminated
		}

		if l.state.TryTransition(currentState, StateTerminating) {
			if currentState == StateAwake {
				l.state.Store(StateTerminated)
				l.closeFDs()
				return nil
			}
			if currentState == StateSleeping {
				_ = l.submitWakeup()
			}
			return nil
		}
	}
}
