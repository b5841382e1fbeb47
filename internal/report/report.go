// Package report assembles the terminal, write-once summary of an upgrade
// session. Finalize is a pure projection of session history: the same
// session state always yields the same report.
package report

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/upgraded/internal/evidence"
	"github.com/fyrsmithlabs/upgraded/internal/workflow"
)

// ErrSessionNotTerminal is returned when finalize is called before the
// session reaches a terminal status.
var ErrSessionNotTerminal = errors.New("session has not reached a terminal status")

// ErrAlreadyFinalized is returned on a second finalize for the same session.
var ErrAlreadyFinalized = errors.New("session report already generated")

// UpgradeReport is the terminal summary of one upgrade session.
type UpgradeReport struct {
	SessionID        string                     `json:"session_id"`
	FinalStatus      workflow.CheckpointStatus  `json:"final_status"`
	PhasesCompleted  []string                   `json:"phases_completed"`
	EvidenceDigests  map[string]string          `json:"evidence_digests"`
	AttemptsPerPhase map[string]int             `json:"attempts_per_phase,omitempty"`
	CommandsExecuted int                        `json:"commands_executed"`
	RollbackOccurred bool                       `json:"rollback_occurred"`
	Duration         time.Duration              `json:"duration_ns"`
	GeneratedAt      time.Time                  `json:"generated_at"`
}

// Input is the session projection the generator consumes. The session
// service assembles it from the aggregate; the generator never mutates it.
type Input struct {
	State    *workflow.WorkflowState
	Evidence map[workflow.Phase][]*evidence.Evidence
}

// Finalize produces the upgrade report for a terminal session. Calling it
// on a non-terminal session fails with ErrSessionNotTerminal and changes
// nothing. Exactly-once semantics are enforced by the owner of the
// session record.
func Finalize(in Input) (*UpgradeReport, error) {
	if in.State == nil {
		return nil, errors.New("session state is required")
	}
	if !in.State.Terminal() {
		return nil, fmt.Errorf("%w: status %q at phase %d", ErrSessionNotTerminal, in.State.Status, int(in.State.CurrentPhase))
	}

	rep := &UpgradeReport{
		SessionID:        in.State.SessionID,
		FinalStatus:      in.State.Status,
		PhasesCompleted:  make([]string, 0, len(in.State.CompletedPhases)),
		EvidenceDigests:  make(map[string]string),
		AttemptsPerPhase: make(map[string]int),
		CommandsExecuted: len(in.State.History),
		RollbackOccurred: in.State.RolledBack,
		Duration:         in.State.UpdatedAt.Sub(in.State.CreatedAt),
		GeneratedAt:      time.Now(),
	}

	for _, p := range in.State.CompletedPhases {
		rep.PhasesCompleted = append(rep.PhasesCompleted, p.String())
	}
	for phase, attempts := range in.State.Attempts {
		rep.AttemptsPerPhase[phase.String()] = attempts
	}
	for _, phase := range workflow.AllPhases() {
		records := in.Evidence[phase]
		if len(records) == 0 {
			continue
		}
		digest, err := digestEvidence(records)
		if err != nil {
			return nil, fmt.Errorf("failed to digest evidence for phase %s: %w", phase, err)
		}
		rep.EvidenceDigests[phase.String()] = digest
	}

	return rep, nil
}

// digestEvidence hashes the canonical JSON of every evidence record for a
// phase, in submission order. json.Marshal sorts map keys, which keeps
// the digest stable across runs.
func digestEvidence(records []*evidence.Evidence) (string, error) {
	h := sha256.New()
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return "", err
		}
		h.Write(data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
