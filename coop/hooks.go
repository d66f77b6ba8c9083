package coop

import "sync/atomic"

// Waker is anything a leaf operation can ask to be re-invoked later. It
// mirrors the minimal surface the budget core actually needs from a
// runtime's waker type.
type Waker interface {
	Wake()
}

// Cx is the poll-time context passed to PollProceed and
// PollBudgetAvailable, analogous to a runtime's wake context. Waker may be
// nil, in which case a forced yield simply has nothing to defer - callers
// that never expect to be polled without a waker should treat a nil Waker
// as a programming error on their own part, not the core's.
type Cx struct {
	Waker Waker
}

// deferWaker holds the embedding runtime's "rewake after the current poll
// returns" hook. The default degrades to an immediate wake, matching the
// documented fallback for contexts with no executor present.
var deferWaker atomic.Pointer[func(Waker)]

func init() {
	f := func(w Waker) {
		if w != nil {
			w.Wake()
		}
	}
	deferWaker.Store(&f)
}

// SetDeferWaker installs the runtime's defer-waker hook: given the waker of
// a task that just exhausted its budget, it should arrange for that waker
// to be invoked again only after the current top-level poll returns, so
// the forced yield actually gives peers a turn. Passing nil restores the
// default immediate-wake fallback.
func SetDeferWaker(f func(Waker)) {
	if f == nil {
		f = func(w Waker) {
			if w != nil {
				w.Wake()
			}
		}
	}
	deferWaker.Store(&f)
}

func deferWake(w Waker) {
	if f := deferWaker.Load(); f != nil {
		(*f)(w)
	}
}

// metricsHook is invoked exactly once per Finite(1) -> Finite(0)
// transition. Nil by default, i.e. compiled-out in spirit even though Go
// has no build-time feature gating for this.
var metricsHook atomic.Pointer[func()]

// SetMetricsHook installs a callback invoked once per forced-yield
// (zero-crossing) event. The callback must provide its own synchronization
// if it mutates shared state - the core makes no ordering guarantee across
// tasks, only that within one task's poll, the hook fires at most once per
// budget scope. Passing nil disables it.
func SetMetricsHook(f func()) {
	metricsHook.Store(&f)
}

func fireMetricsHook() {
	if f := metricsHook.Load(); f != nil && *f != nil {
		(*f)()
	}
}
