// Package coop is documented in budget.go's package comment; this file
// exists only to keep one entry point a reader can start from.
//
// Quick tour, in dependency order:
//
//   - Budget (budget.go): Finite(n) or Unconstrained, with a Decrement that
//     reports success and zero-crossing.
//   - the task-local cell (cell.go): a per-goroutine slot, because this
//     package's only assumption about its host is that one goroutine
//     drives one task's poll at a time.
//   - scope management (scope.go): WithBudget / RunBudgeted /
//     RunUnconstrained install a budget for a closure and restore
//     whatever was there before, unconditionally.
//   - the poll-time protocol (poll.go, guard.go): PollProceed and
//     PollBudgetAvailable, called from a leaf operation's own poll.
//   - composable wrappers (op.go): Coop and UnconstrainedOp, for callers
//     that would rather wrap an Op[T] than call PollProceed by hand.
//
// A host runtime wires this package in by calling RunBudgeted around each
// top-level task poll. It may also install its own hooks once at startup
// with SetDeferWaker and SetMetricsHook; without them a forced yield wakes
// the waker immediately and no metric is recorded.
package coop
