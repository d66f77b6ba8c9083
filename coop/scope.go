package coop

// WithBudget installs b into the calling goroutine's budget cell, runs f,
// and restores whatever the cell held before the call - including "no
// cell at all" - on every exit path, panics included. Nested calls compose
// as a stack: the innermost call's budget is what leaf operations observe;
// on its exit the next-outer scope's budget resumes.
func WithBudget[R any](b Budget, f func() R) R {
	prev, hadCell := loadCellBudget()
	storeCellBudget(b)
	defer func() {
		if hadCell {
			storeCellBudget(prev)
		} else {
			deleteCellBudget()
		}
	}()
	return f()
}

// RunBudgeted installs the standard initial budget (128) and runs f. This
// is what an executor calls just before polling a top-level task.
func RunBudgeted[R any](f func() R) R {
	return WithBudget(Initial(), f)
}

// RunUnconstrained installs Unconstrained and runs f, the scope-level
// opt-out from budgeting entirely.
func RunUnconstrained[R any](f func() R) R {
	return WithBudget(Unconstrained, f)
}

// Set unconditionally overwrites the calling goroutine's cell with b,
// creating it if absent. It exists for a multi-worker executor migrating a
// task's remembered budget onto the worker about to poll it; callers
// outside that role should prefer WithBudget so restoration happens
// automatically.
func Set(b Budget) {
	storeCellBudget(b)
}

// Stop replaces the calling goroutine's cell with Unconstrained and
// returns whatever budget was active beforehand (Unconstrained if no cell
// was installed). It is meant for an executor that has decided to drain a
// task to completion without further forced yields.
//
// Stop must only be used when no RestoreOnPending guard obtained from the
// cell it is replacing is still outstanding: a later drop of such a guard
// will unconditionally write its remembered snapshot back into the cell,
// silently undoing the Stop.
func Stop() Budget {
	prev, hadCell := loadCellBudget()
	if !hadCell {
		prev = Unconstrained
	}
	storeCellBudget(Unconstrained)
	return prev
}

// HasBudgetRemaining is a non-consuming query for advanced leaf logic (for
// example a timeout operation deciding whether to wrap a sub-poll in
// RunUnconstrained). It returns true when the cell is absent, mirroring the
// "absence means Unconstrained" rule.
func HasBudgetRemaining() bool {
	b, ok := loadCellBudget()
	if !ok {
		return true
	}
	return b.HasRemaining()
}
