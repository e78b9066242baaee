// Package analysis defines the state machine of an application analysis
// job and the components that drive it.
//
// Valid state graph:
//
//	QUEUED ──► RUNNING ──► COMPLETED
//	   │          │  │
//	   │          │  └──► FAILED
//	   │          └──► QUEUED  (retryable failure, attempts left)
//	   └──► FAILED  (cancelled before claim)
//
// COMPLETED and FAILED are terminal states.
package analysis

import "fmt"

// State values mirror the analysis_state column in PostgreSQL.
type State string

const (
	StateQueued    State = "QUEUED"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[State][]State{
	StateQueued:  {StateRunning, StateFailed},
	StateRunning: {StateCompleted, StateFailed, StateQueued},
}

// ParseState converts a raw string to a State, returning an error for
// unknown values.
func ParseState(s string) (State, error) {
	st := State(s)
	switch st {
	case StateQueued, StateRunning, StateCompleted, StateFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown analysis state %q", s)
}

// IsTransitionAllowed reports whether moving from → to is permitted.
func IsTransitionAllowed(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}
