package workflow

import (
	"errors"
	"fmt"
)

// ErrSessionTerminal is returned when a transition is requested on a
// session that already reached a terminal status.
var ErrSessionTerminal = errors.New("session is in a terminal status")

// PhaseSequenceError reports evidence or a skip submitted for a phase
// other than the current one. State is never mutated.
type PhaseSequenceError struct {
	Requested Phase
	Current   Phase
}

func (e *PhaseSequenceError) Error() string {
	return fmt.Sprintf("phase sequence violation: requested phase %d (%s), current phase is %d (%s)",
		int(e.Requested), e.Requested, int(e.Current), e.Current)
}

// InvalidTransitionError reports an event that has no entry in the
// transition table for the session's current status.
type InvalidTransitionError struct {
	Phase  Phase
	Status CheckpointStatus
	Event  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: event %q not allowed at phase %d (%s) with status %q",
		e.Event, int(e.Phase), e.Phase, e.Status)
}
