// Package coopsched is a single-goroutine task runtime with a cooperative
// budgeting core: every tick runs timers, internally-submitted tasks,
// externally-submitted tasks, and deferred work, in that order, under a
// shared budget (see the coop subpackage), so one runaway queue cannot keep
// a tick from finishing and reaching its I/O poll. Because the order is
// fixed, a source that spends the whole budget every tick leaves the
// sources after it waiting.
//
// # Architecture
//
// A [Loop] owns three sources of work:
//   - a timer heap, fired in deadline order
//   - an internal queue ([Loop.SubmitInternal]) and external queue
//     ([Loop.Submit]) of tasks, backed by [ChunkedIngress]
//   - a [DeferredRing] of continuation work: anything a task wants to run
//     later rather than now ([Loop.ScheduleDeferred])
//
// Each [Loop.tick] wraps its draining of these three sources in one
// coop.RunBudgeted scope before the I/O poll, and drains deferred work
// again in a second scope after it. Draining a queue is "pop one task, spend one
// unit of budget on it, execute it" repeated until either the queue is
// empty or the budget runs out; on exhaustion the tick stops draining that
// source immediately; whatever is left stays queued (or, for deferred
// work mid-ring, is simply picked back up at the ring's current position)
// for the next tick. See the coop subpackage's package doc for the budget
// mechanism itself.
//
// Asynchronous results flow through [Future], settled on the Loop's own
// goroutine via [Loop.Spawn] so every read of Loop state stays
// single-owner. [ConsumeChannel] is the bridge from an ordinary Go channel
// into this budgeted world: a channel receiver with a full buffer can run
// forever without a budget governing each receive.
//
// # Platform Support
//
// I/O polling is implemented using platform-native mechanisms:
//   - Linux: epoll
//   - Darwin: kqueue
//
// File descriptor operations ([Loop.RegisterFD], [Loop.UnregisterFD],
// [Loop.ModifyFD]) provide I/O readiness notification.
//
// # Thread Safety
//
// [Loop.Submit] and [Loop.SubmitInternal] are safe to call from any
// goroutine. [Loop.ScheduleDeferred] is lock-free (MPSC ring buffer).
// Timer and FD registration methods are thread-safe. Future settlement
// happens on the Loop's own goroutine, enforced automatically by routing
// through SubmitInternal.
//
// # Usage
//
//	loop, err := coopsched.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loop.Close()
//
//	done := make(chan struct{})
//	loop.Submit(func() {
//	    loop.ScheduleTimer(100*time.Millisecond, func() {
//	        fmt.Println("hello after 100ms")
//	        close(done)
//	    })
//	})
//
//	go func() {
//	    <-done
//	    // Shutdown blocks until Run returns, so it must never be called
//	    // from a task running on the loop's own goroutine.
//	    loop.Shutdown(context.Background())
//	}()
//
//	if err := loop.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// # Error Types
//
//   - [TimeoutError]: a Future did not settle before a deadline
//   - [PanicError]: wraps a panic recovered from a [Loop.Spawn] goroutine
//
// All error types implement the standard [error] interface and
// [errors.Unwrap].
package coopsched
