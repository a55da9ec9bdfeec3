package jobs

import (
	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
)

// State is a job lifecycle state.
type State string

const (
	StateCreated    State = "created"
	StateNeedsBuild State = "needs_build"
	StateUpToDate   State = "up_to_date"
	StateDispatched State = "dispatched"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// ErrInvalidTransition is returned when a transition would move a job backwards or out of a terminal state.
var ErrInvalidTransition = errors.ValidationError("invalid job state transition").Build()

var transitions = map[State][]State{
	StateCreated:    {StateNeedsBuild, StateUpToDate, StateFailed},
	StateNeedsBuild: {StateDispatched, StateFailed},
	StateDispatched: {StateSucceeded, StateFailed},
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s State) IsTerminal() bool {
	return s == StateUpToDate || s == StateSucceeded || s == StateFailed
}

// CanTransition reports whether from -> to is an allowed forward transition.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateCreated, StateNeedsBuild, StateUpToDate, StateDispatched, StateSucceeded, StateFailed:
		return true
	}
	return false
}
