package workflow

import (
	"time"
)

// Terminal reports whether the session reached a terminal status:
// passed at the final phase, failed with no retry left, or rolled back.
func (s *WorkflowState) Terminal() bool {
	switch s.Status {
	case StatusPassed:
		return s.CurrentPhase == PhaseFinalize
	case StatusFailed, StatusRolledBack:
		return true
	default:
		return false
	}
}

// Gate validates that evidence for phase would be accepted, without
// mutating state. Callers use it to reject bad submissions before any
// transition is recorded.
func (s *WorkflowState) Gate(phase Phase) error {
	if s.Terminal() {
		return ErrSessionTerminal
	}
	if phase != s.CurrentPhase {
		return &PhaseSequenceError{Requested: phase, Current: s.CurrentPhase}
	}
	switch s.Status {
	case StatusPending, StatusInProgress:
		return nil
	default:
		return &InvalidTransitionError{Phase: s.CurrentPhase, Status: s.Status, Event: "begin"}
	}
}

// Begin marks the current phase in progress upon receiving evidence for it.
// Evidence for a non-current phase is rejected without mutating state.
// Begin is idempotent within a retry cycle: a phase already in progress
// stays in progress.
func (s *WorkflowState) Begin(phase Phase) error {
	if err := s.Gate(phase); err != nil {
		return err
	}
	if s.Status == StatusPending {
		s.transition(StatusInProgress, "evidence received")
	}
	return nil
}

// ApplyVerdict applies a checkpoint verdict to the in-progress phase.
//
// A passed verdict completes the phase and advances the index; passing the
// final phase is the sole success terminal. A failed verdict consumes one
// retry from rule.RetryBudget and keeps the phase in progress until the
// budget is exhausted, at which point the session fails terminally.
// The resulting session status is returned.
func (s *WorkflowState) ApplyVerdict(verdict CheckpointStatus, rule PhaseRule) (CheckpointStatus, error) {
	if s.Status != StatusInProgress {
		return s.Status, &InvalidTransitionError{Phase: s.CurrentPhase, Status: s.Status, Event: "verdict"}
	}

	switch verdict {
	case StatusPassed:
		s.CompletedPhases = append(s.CompletedPhases, s.CurrentPhase)
		if s.CurrentPhase == PhaseFinalize {
			s.transition(StatusPassed, "final checkpoint passed")
			return s.Status, nil
		}
		s.transition(StatusPassed, "checkpoint passed")
		s.CurrentPhase++
		s.transition(StatusPending, "phase advanced")
		return StatusPassed, nil

	case StatusFailed:
		s.Attempts[s.CurrentPhase]++
		if s.Attempts[s.CurrentPhase] > rule.RetryBudget {
			s.transition(StatusFailed, "retry budget exhausted")
			return s.Status, nil
		}
		// failed attempt retained in history, retry expected
		s.transition(StatusInProgress, "checkpoint failed, retry remaining")
		return s.Status, nil

	default:
		return s.Status, &InvalidTransitionError{Phase: s.CurrentPhase, Status: s.Status, Event: "verdict " + string(verdict)}
	}
}

// Skip marks the current phase skipped and advances the index. Only phases
// declared optional may be skipped; skip never requires evidence.
// Skipping the final phase completes the session.
func (s *WorkflowState) Skip(phase Phase, rule PhaseRule) error {
	if s.Terminal() {
		return ErrSessionTerminal
	}
	if phase != s.CurrentPhase {
		return &PhaseSequenceError{Requested: phase, Current: s.CurrentPhase}
	}
	if !rule.Optional {
		return &InvalidTransitionError{Phase: s.CurrentPhase, Status: s.Status, Event: "skip"}
	}
	if s.Status != StatusPending {
		return &InvalidTransitionError{Phase: s.CurrentPhase, Status: s.Status, Event: "skip"}
	}

	s.transition(StatusSkipped, "optional phase skipped")
	if s.CurrentPhase == PhaseFinalize {
		s.transition(StatusPassed, "final phase skipped, workflow complete")
		return nil
	}
	s.CurrentPhase++
	s.transition(StatusPending, "phase advanced")
	return nil
}

// RollbackAllowed reports whether the session may still roll back. A
// failed session may: exhausting the retry budget is exactly when a
// restore is wanted. Already rolled-back and successfully completed
// sessions may not.
func (s *WorkflowState) RollbackAllowed() bool {
	if s.Status == StatusRolledBack {
		return false
	}
	if s.Status == StatusPassed && s.CurrentPhase == PhaseFinalize {
		return false
	}
	return true
}

// MarkRolledBack records a completed rollback: the phase index resets to 0
// and the session reaches the rolled_back terminal status.
func (s *WorkflowState) MarkRolledBack(reason string) error {
	if !s.RollbackAllowed() {
		return ErrSessionTerminal
	}
	s.transition(StatusRolledBack, reason)
	s.CurrentPhase = PhaseDiscover
	s.RolledBack = true
	return nil
}

// RecordCommands appends executed command records to the audit history.
func (s *WorkflowState) RecordCommands(cmds ...CommandExecution) {
	s.History = append(s.History, cmds...)
	s.touch()
}

// RecordArtifacts appends phase artifacts for the given phase.
func (s *WorkflowState) RecordArtifacts(phase Phase, artifacts ...PhaseArtifact) {
	s.Artifacts[phase] = append(s.Artifacts[phase], artifacts...)
	s.touch()
}

func (s *WorkflowState) transition(to CheckpointStatus, reason string) {
	s.Transitions = append(s.Transitions, Transition{
		Phase:  s.CurrentPhase,
		From:   s.Status,
		To:     to,
		Reason: reason,
		At:     time.Now(),
	})
	s.Status = to
	s.touch()
}

func (s *WorkflowState) touch() {
	s.UpdatedAt = time.Now()
}
