package coopsched

import (
	"sync/atomic"
)

// LoopState is the lifecycle state of a Loop.
//
// State machine:
//
//	Awake (0)        -> Running (3)        [Run()]
//	Running (3)      -> Sleeping (2)       [tick -> poll, CAS]
//	Running (3)      -> Terminating (4)    [Shutdown()]
//	Sleeping (2)     -> Running (3)        [poll wake, CAS]
//	Sleeping (2)     -> Terminating (4)    [Shutdown()]
//	Terminating (4)  -> Terminated (1)     [shutdown drain complete]
//	Terminated (1)   -> (terminal)
//
// Use TryTransition (CAS) for the reversible Running/Sleeping states; use
// Store only for the one-way move into Terminated.
type LoopState uint64

const (
	StateAwake       LoopState = 0
	StateTerminated  LoopState = 1
	StateSleeping    LoopState = 2
	StateRunning     LoopState = 3
	StateTerminating LoopState = 4
)

// String implements fmt.Stringer.
func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// State is a lock-free state machine for a Loop's lifecycle. It is padded
// to its own cache line on both sides so that its CAS traffic, which every
// Submit/SubmitInternal call touches, never false-shares with neighboring
// fields.
type State struct { // betteralign:ignore
	_ [64]byte
	v atomic.Uint64
	_ [56]byte
}

// NewState creates a state machine starting in StateAwake.
func NewState() *State {
	s := &State{}
	s.v.Store(uint64(StateAwake))
	return s
}

// Load returns the current state.
func (s *State) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store unconditionally sets the state. Reserved for the one-way
// transition into StateTerminated; reversible states must use
// TryTransition so concurrent callers can't stomp on each other.
func (s *State) Store(state LoopState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts an atomic CAS from one state to another.
func (s *State) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// TransitionAny attempts to move from any of validFrom to to, trying each
// candidate in order.
func (s *State) TransitionAny(validFrom []LoopState, to LoopState) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint64(from), uint64(to)) {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the loop has fully shut down.
func (s *State) IsTerminal() bool {
	return s.Load() == StateTerminated
}

// IsRunning reports whether the loop is actively running or merely
// sleeping between ticks (as opposed to not yet started, or shutting
// down).
func (s *State) IsRunning() bool {
	state := s.Load()
	return state == StateRunning || state == StateSleeping
}

// CanAcceptWork reports whether the loop can currently accept new task
// submissions.
func (s *State) CanAcceptWork() bool {
	state := s.Load()
	return state == StateAwake || state == StateRunning || state == StateSleeping
}
