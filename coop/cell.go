package coop

import (
	"runtime"
	"strconv"
	"sync"
)

// cellState is the mutable slot a task-local cell wraps around. It holds
// exactly one Budget, mirroring the "single-writer mutable slot" the core
// requires: the package never hands out a pointer to it, only routes access
// through loadCellBudget, storeCellBudget and deleteCellBudget below, so
// code outside this package reaches it only through the scope and poll
// primitives.
type cellState struct {
	budget Budget
}

// cells maps the goroutine currently driving a task's poll to that task's
// budget cell. A task in this runtime is, at any instant, pinned to exactly
// one goroutine for the duration of a poll (the host scheduler never moves
// a mid-poll task to another goroutine), so keying by goroutine id gives
// the cell the task-scoping the core requires without needing a task
// handle threaded through every call site - the same trick the host
// runtime's own dispatcher uses to recognize its own loop goroutine.
var cells sync.Map // map[uint64]*cellState

// loadCellBudget returns the calling goroutine's current budget and whether
// a cell exists at all.
func loadCellBudget() (Budget, bool) {
	id := goroutineID()
	v, ok := cells.Load(id)
	if !ok {
		return Budget{}, false
	}
	return v.(*cellState).budget, true
}

// storeCellBudget installs (or overwrites) the calling goroutine's cell
// with b, creating it if absent.
func storeCellBudget(b Budget) {
	id := goroutineID()
	if v, ok := cells.Load(id); ok {
		v.(*cellState).budget = b
		return
	}
	cells.Store(id, &cellState{budget: b})
}

// deleteCellBudget removes the calling goroutine's cell entirely, as
// opposed to storing Unconstrained into it - used to restore the "no cell"
// state a nested scope found on entry.
func deleteCellBudget() {
	cells.Delete(goroutineID())
}

// goroutineID extracts the numeric id of the calling goroutine by parsing
// the header line of runtime.Stack's output ("goroutine 123 [running]:
// ..."). Go deliberately exposes no supported goroutine-local storage
// primitive; parsing the debug stack header is the same technique the host
// scheduler uses to recognize its own dispatch goroutine, reused here so
// the budget cell can be scoped per-task without threading a task handle
// through every leaf poll call site.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := string(buf[:n])
	const prefix = "goroutine "
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return 0
	}
	s = s[len(prefix):]
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	id, err := strconv.ParseUint(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return id
}
