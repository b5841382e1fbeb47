package workflow

import (
	"time"
)

// Phase is one of the six ordered stages in an upgrade workflow.
type Phase int

const (
	// PhaseDiscover detects current and target versions and dependency surface.
	PhaseDiscover Phase = iota

	// PhaseSnapshot captures pre-upgrade state into a backup manifest.
	PhaseSnapshot

	// PhaseApply executes the upgrade commands against the project.
	PhaseApply

	// PhaseBuild compiles the upgraded project.
	PhaseBuild

	// PhaseVerify runs the test suite against the upgraded project.
	PhaseVerify

	// PhaseFinalize records the outcome and closes out the upgrade.
	PhaseFinalize
)

// TotalPhases is the number of phases in an upgrade workflow.
const TotalPhases = 6

// AllPhases returns all phases in execution order.
func AllPhases() []Phase {
	return []Phase{PhaseDiscover, PhaseSnapshot, PhaseApply, PhaseBuild, PhaseVerify, PhaseFinalize}
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p >= PhaseDiscover && p <= PhaseFinalize
}

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseDiscover:
		return "discover"
	case PhaseSnapshot:
		return "snapshot"
	case PhaseApply:
		return "apply"
	case PhaseBuild:
		return "build"
	case PhaseVerify:
		return "verify"
	case PhaseFinalize:
		return "finalize"
	default:
		return "unknown"
	}
}

// CheckpointStatus is the gate status of the current phase.
type CheckpointStatus string

const (
	StatusPending    CheckpointStatus = "pending"
	StatusInProgress CheckpointStatus = "in_progress"
	StatusPassed     CheckpointStatus = "passed"
	StatusFailed     CheckpointStatus = "failed"
	StatusSkipped    CheckpointStatus = "skipped"
	StatusRolledBack CheckpointStatus = "rolled_back"
)

// CommandExecution records one externally executed action.
// Records are append-only; the core never runs commands itself.
type CommandExecution struct {
	Command   string        `json:"command"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration_ns"`
	Timestamp time.Time     `json:"timestamp"`
}

// PhaseArtifact is a named output or byproduct of a phase attempt.
// Exactly one of Path or Payload is typically set; ContentHash covers
// whichever is present.
type PhaseArtifact struct {
	Name        string    `json:"name"`
	Path        string    `json:"path,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	Payload     string    `json:"payload,omitempty"`
	Phase       Phase     `json:"phase"`
	CreatedAt   time.Time `json:"created_at"`
}

// Transition is one audit record of a status change.
type Transition struct {
	Phase  Phase            `json:"phase"`
	From   CheckpointStatus `json:"from"`
	To     CheckpointStatus `json:"to"`
	Reason string           `json:"reason,omitempty"`
	At     time.Time        `json:"at"`
}

// PhaseRule carries the per-phase gating configuration the state machine
// consults: how many retries a failing checkpoint is allowed, and whether
// the phase may be skipped without evidence.
type PhaseRule struct {
	RetryBudget int  `json:"retry_budget"`
	Optional    bool `json:"optional"`
}

// WorkflowState is the complete mutable state of one upgrade session.
// current_phase only increases, except on rollback which resets it to
// phase 0 with RolledBack set. History and Transitions are append-only.
type WorkflowState struct {
	SessionID       string                    `json:"session_id"`
	Target          string                    `json:"target"`
	CurrentPhase    Phase                     `json:"current_phase"`
	Status          CheckpointStatus          `json:"status"`
	Attempts        map[Phase]int             `json:"attempts"`
	CompletedPhases []Phase                   `json:"completed_phases"`
	History         []CommandExecution        `json:"history"`
	Transitions     []Transition              `json:"transitions"`
	Artifacts       map[Phase][]PhaseArtifact `json:"artifacts"`
	RolledBack      bool                      `json:"rolled_back"`
	CreatedAt       time.Time                 `json:"created_at"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

// NewState creates session state at phase 0 with status pending.
func NewState(sessionID, target string) *WorkflowState {
	now := time.Now()
	return &WorkflowState{
		SessionID:       sessionID,
		Target:          target,
		CurrentPhase:    PhaseDiscover,
		Status:          StatusPending,
		Attempts:        make(map[Phase]int),
		CompletedPhases: []Phase{},
		History:         []CommandExecution{},
		Transitions:     []Transition{},
		Artifacts:       make(map[Phase][]PhaseArtifact),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
