package coop

// Guard is the RestoreOnPending handle returned by PollProceed. It
// remembers the cell's value from the moment PollProceed was called (the
// pre-decrement value, not the post-decrement one - writing the
// pre-decrement value back is what makes Drop an exact cancellation of the
// decrement it accompanies) and either erases that memory via
// MadeProgress, or writes it back on Drop.
//
// Go has no destructors, so the restoration that would otherwise happen
// implicitly on scope exit is explicit here: callers must defer g.Drop()
// immediately after obtaining a non-nil guard.
type Guard struct {
	remembered Budget
	noop       bool
	dropped    bool
}

// MadeProgress must be called only when the operation the guard accompanies
// actually produced a result, not merely when it was polled. It erases the
// guard's memory so Drop becomes a no-op, permanently committing the
// decrement PollProceed performed.
func (g *Guard) MadeProgress() {
	if g == nil {
		return
	}
	g.remembered = Unconstrained
}

// Drop restores the cell to the value remembered at guard creation unless
// MadeProgress was called, or the guard was a no-op (cell absent at
// creation). It is safe to call more than once; only the first call has an
// effect.
func (g *Guard) Drop() {
	if g == nil || g.dropped {
		return
	}
	g.dropped = true
	if g.noop || g.remembered.IsUnconstrained() {
		return
	}
	storeCellBudget(g.remembered)
}
