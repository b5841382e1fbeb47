package session

import (
	"github.com/fyrsmithlabs/upgraded/internal/backup"
	"github.com/fyrsmithlabs/upgraded/internal/evidence"
	"github.com/fyrsmithlabs/upgraded/internal/report"
	"github.com/fyrsmithlabs/upgraded/internal/workflow"
)

// Session is the persisted aggregate for one upgrade: the state machine,
// every accepted evidence record per phase, the backup manifest, and the
// terminal report once generated.
type Session struct {
	State    *workflow.WorkflowState                 `json:"state"`
	Evidence map[workflow.Phase][]*evidence.Evidence `json:"evidence"`
	Manifest *backup.Manifest                        `json:"manifest,omitempty"`
	Report   *report.UpgradeReport                   `json:"report,omitempty"`

	// BackupTargets overrides the daemon-wide backup target set for this
	// session when non-empty.
	BackupTargets []string `json:"backup_targets,omitempty"`
}

// ID returns the session identifier.
func (s *Session) ID() string {
	if s.State == nil {
		return ""
	}
	return s.State.SessionID
}

// Active reports whether the session can still accept operations.
func (s *Session) Active() bool {
	return s.State != nil && !s.State.Terminal()
}

// Statistics summarizes the sessions held by a store.
type Statistics struct {
	Total      int            `json:"total"`
	Active     int            `json:"active"`
	ByStatus   map[string]int `json:"by_status"`
	RolledBack int            `json:"rolled_back"`
}
