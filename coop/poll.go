package coop

// PollProceed is the primitive a leaf asynchronous operation calls at the
// start of its poll. On success it returns a Guard that must be dropped
// (via defer) on every exit path from the caller's poll, and true meaning
// "proceed - you may do your work". On budget exhaustion it defers cx's
// waker for rewake after the current top-level poll returns and returns
// (nil, false), meaning the caller must report Pending without doing any
// work.
//
// If no budget cell is installed for the calling goroutine - the task is
// running outside any WithBudget/RunBudgeted scope - PollProceed treats
// this as Unconstrained: it always returns Ready with a no-op guard.
func PollProceed(cx *Cx) (*Guard, bool) {
	b, ok := loadCellBudget()
	if !ok {
		return &Guard{remembered: Unconstrained, noop: true}, true
	}

	next, dec := b.Decrement()
	if !dec.Success {
		deferWake(cx.Waker)
		return nil, false
	}

	storeCellBudget(next)
	if dec.HitZero {
		fireMetricsHook()
	}
	return &Guard{remembered: b}, true
}

// PollBudgetAvailable is a non-consuming variant of PollProceed: it reports
// whether the next PollProceed would succeed, without spending any budget.
// On Pending it defers cx's waker exactly like PollProceed. It never
// mutates the cell.
func PollBudgetAvailable(cx *Cx) bool {
	b, ok := loadCellBudget()
	if !ok {
		return true
	}
	if b.HasRemaining() {
		return true
	}
	deferWake(cx.Waker)
	return false
}
