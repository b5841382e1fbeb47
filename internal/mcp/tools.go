package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/upgraded/internal/session"
	"github.com/fyrsmithlabs/upgraded/internal/workflow"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.registerLifecycleTools()
	s.registerEvidenceTools()
	s.registerRecoveryTools()
	s.registerInspectionTools()
}

// sessionSummary is the state view shared by several tool outputs.
type sessionSummary struct {
	SessionID       string         `json:"session_id" jsonschema:"Session identifier"`
	Target          string         `json:"target" jsonschema:"Upgrade target"`
	CurrentPhase    int            `json:"current_phase" jsonschema:"Current phase index (0-5)"`
	PhaseName       string         `json:"phase_name" jsonschema:"Current phase name"`
	Status          string         `json:"status" jsonschema:"Checkpoint status of the current phase"`
	Attempts        map[string]int `json:"attempts,omitempty" jsonschema:"Failed attempts per phase"`
	CompletedPhases []string       `json:"completed_phases" jsonschema:"Phases completed so far"`
	RolledBack      bool           `json:"rolled_back" jsonschema:"True if the session was rolled back"`
	Terminal        bool           `json:"terminal" jsonschema:"True if no further operations are accepted"`
}

func summarize(sess *session.Session) sessionSummary {
	st := sess.State
	out := sessionSummary{
		SessionID:       st.SessionID,
		Target:          st.Target,
		CurrentPhase:    int(st.CurrentPhase),
		PhaseName:       st.CurrentPhase.String(),
		Status:          string(st.Status),
		CompletedPhases: make([]string, 0, len(st.CompletedPhases)),
		RolledBack:      st.RolledBack,
		Terminal:        st.Terminal(),
	}
	if len(st.Attempts) > 0 {
		out.Attempts = make(map[string]int, len(st.Attempts))
		for phase, n := range st.Attempts {
			out.Attempts[phase.String()] = n
		}
	}
	for _, p := range st.CompletedPhases {
		out.CompletedPhases = append(out.CompletedPhases, p.String())
	}
	return out
}

// ===== LIFECYCLE TOOLS =====

type startInput struct {
	Target        string   `json:"target" jsonschema:"required,What is being upgraded (project path or name)"`
	BackupTargets []string `json:"backup_targets,omitempty" jsonschema:"Files to include in backup snapshots (overrides configuration)"`
}

type startOutput struct {
	sessionSummary
	Resumed bool `json:"resumed" jsonschema:"True if an existing active session was resumed"`
}

func (s *Server) registerLifecycleTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "upgrade_start",
		Description: "Start an upgrade session for a target, or resume the active one",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args startInput) (*mcp.CallToolResult, startOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "upgrade_start")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "upgrade_start")
			s.metrics.RecordInvocation(ctx, "upgrade_start", time.Since(start), toolErr)
		}()

		res, err := s.sessionSvc.Start(ctx, &session.StartRequest{
			Target:        args.Target,
			BackupTargets: args.BackupTargets,
		})
		if err != nil {
			toolErr = fmt.Errorf("session start failed: %w", err)
			return nil, startOutput{}, toolErr
		}

		out := startOutput{sessionSummary: summarize(res.Session), Resumed: res.Resumed}
		verb := "started"
		if res.Resumed {
			verb = "resumed"
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Session %s: %s (phase %s)", verb, out.SessionID, out.PhaseName)},
			},
		}, out, nil
	})
}

// ===== EVIDENCE TOOLS =====

type submitEvidenceInput struct {
	SessionID    string         `json:"session_id" jsonschema:"required,Session identifier"`
	Phase        int            `json:"phase" jsonschema:"required,Phase the evidence belongs to (0-5)"`
	Observations map[string]any `json:"observations" jsonschema:"required,Observed facts for the phase including any commands and artifacts"`
}

type submitEvidenceOutput struct {
	sessionSummary
	Verdict          string   `json:"verdict" jsonschema:"Checkpoint verdict (passed or failed)"`
	FailedPredicates []string `json:"failed_predicates,omitempty" jsonschema:"Criteria predicates that did not hold"`
}

type skipPhaseInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier"`
	Phase     int    `json:"phase" jsonschema:"required,Optional phase to skip (0-5)"`
}

func (s *Server) registerEvidenceTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "upgrade_submit_evidence",
		Description: "Submit phase evidence for checkpoint evaluation and phase advancement",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args submitEvidenceInput) (*mcp.CallToolResult, submitEvidenceOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "upgrade_submit_evidence")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "upgrade_submit_evidence")
			s.metrics.RecordInvocation(ctx, "upgrade_submit_evidence", time.Since(start), toolErr)
		}()

		res, err := s.sessionSvc.SubmitEvidence(ctx, &session.SubmitRequest{
			SessionID:    args.SessionID,
			Phase:        workflow.Phase(args.Phase),
			Observations: args.Observations,
		})
		if err != nil {
			toolErr = fmt.Errorf("evidence submission failed: %w", err)
			return nil, submitEvidenceOutput{}, toolErr
		}

		out := submitEvidenceOutput{
			sessionSummary:   summarize(res.Session),
			Verdict:          string(res.Verdict),
			FailedPredicates: res.FailedPredicates,
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Checkpoint %s, session now %s at phase %s", out.Verdict, out.Status, out.PhaseName)},
			},
		}, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "upgrade_skip_phase",
		Description: "Skip an optional phase without submitting evidence",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args skipPhaseInput) (*mcp.CallToolResult, sessionSummary, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "upgrade_skip_phase")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "upgrade_skip_phase")
			s.metrics.RecordInvocation(ctx, "upgrade_skip_phase", time.Since(start), toolErr)
		}()

		sess, err := s.sessionSvc.SkipPhase(ctx, args.SessionID, workflow.Phase(args.Phase))
		if err != nil {
			toolErr = fmt.Errorf("skip failed: %w", err)
			return nil, sessionSummary{}, toolErr
		}

		out := summarize(sess)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Phase skipped, session now at phase %s", out.PhaseName)},
			},
		}, out, nil
	})
}

// ===== RECOVERY TOOLS =====

type rollbackInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier"`
	Reason    string `json:"reason,omitempty" jsonschema:"Why the rollback was requested"`
}

type rollbackOutput struct {
	SessionID       string `json:"session_id" jsonschema:"Session identifier"`
	EntriesRestored int    `json:"entries_restored" jsonschema:"Number of files restored"`
	BytesRestored   int64  `json:"bytes_restored" jsonschema:"Total bytes restored"`
	Verified        bool   `json:"verified" jsonschema:"True when post-restore hashes matched the manifest"`
}

type abortInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier"`
	Reason    string `json:"reason,omitempty" jsonschema:"Why the session is being aborted"`
}

func (s *Server) registerRecoveryTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "upgrade_rollback",
		Description: "Restore the backup snapshot and mark the session rolled back",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args rollbackInput) (*mcp.CallToolResult, rollbackOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "upgrade_rollback")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "upgrade_rollback")
			s.metrics.RecordInvocation(ctx, "upgrade_rollback", time.Since(start), toolErr)
		}()

		res, err := s.sessionSvc.Rollback(ctx, args.SessionID, args.Reason)
		if err != nil {
			toolErr = fmt.Errorf("rollback failed: %w", err)
			return nil, rollbackOutput{}, toolErr
		}

		out := rollbackOutput{
			SessionID:       args.SessionID,
			EntriesRestored: res.EntriesRestored,
			BytesRestored:   res.BytesRestored,
			Verified:        res.Verified,
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Rollback complete: %d files restored", out.EntriesRestored)},
			},
		}, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "upgrade_abort",
		Description: "Abort the session, restoring the backup when one exists",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args abortInput) (*mcp.CallToolResult, sessionSummary, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "upgrade_abort")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "upgrade_abort")
			s.metrics.RecordInvocation(ctx, "upgrade_abort", time.Since(start), toolErr)
		}()

		sess, err := s.sessionSvc.Abort(ctx, args.SessionID, args.Reason)
		if err != nil {
			toolErr = fmt.Errorf("abort failed: %w", err)
			return nil, sessionSummary{}, toolErr
		}

		out := summarize(sess)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Session aborted: %s", out.SessionID)},
			},
		}, out, nil
	})
}

// ===== INSPECTION TOOLS =====

type stateInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier"`
}

type reportInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier"`
}

type reportOutput struct {
	SessionID        string            `json:"session_id" jsonschema:"Session identifier"`
	FinalStatus      string            `json:"final_status" jsonschema:"Terminal session status"`
	PhasesCompleted  []string          `json:"phases_completed" jsonschema:"Phases that completed"`
	EvidenceDigests  map[string]string `json:"evidence_digests" jsonschema:"SHA-256 digest of the evidence per phase"`
	AttemptsPerPhase map[string]int    `json:"attempts_per_phase,omitempty" jsonschema:"Failed attempts per phase"`
	CommandsExecuted int               `json:"commands_executed" jsonschema:"Total commands recorded"`
	RollbackOccurred bool              `json:"rollback_occurred" jsonschema:"True if the session rolled back"`
	DurationSeconds  float64           `json:"duration_seconds" jsonschema:"Session duration in seconds"`
}

func (s *Server) registerInspectionTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "upgrade_state",
		Description: "Inspect the current state of an upgrade session",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args stateInput) (*mcp.CallToolResult, sessionSummary, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "upgrade_state")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "upgrade_state")
			s.metrics.RecordInvocation(ctx, "upgrade_state", time.Since(start), toolErr)
		}()

		sess, err := s.sessionSvc.Get(ctx, args.SessionID)
		if err != nil {
			toolErr = fmt.Errorf("state lookup failed: %w", err)
			return nil, sessionSummary{}, toolErr
		}

		out := summarize(sess)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Session %s: phase %s, status %s", out.SessionID, out.PhaseName, out.Status)},
			},
		}, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "upgrade_report",
		Description: "Generate the terminal report for a finished upgrade session",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args reportInput) (*mcp.CallToolResult, reportOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "upgrade_report")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "upgrade_report")
			s.metrics.RecordInvocation(ctx, "upgrade_report", time.Since(start), toolErr)
		}()

		rep, err := s.sessionSvc.Report(ctx, args.SessionID)
		if err != nil {
			toolErr = fmt.Errorf("report generation failed: %w", err)
			return nil, reportOutput{}, toolErr
		}

		out := reportOutput{
			SessionID:        rep.SessionID,
			FinalStatus:      string(rep.FinalStatus),
			PhasesCompleted:  rep.PhasesCompleted,
			EvidenceDigests:  rep.EvidenceDigests,
			AttemptsPerPhase: rep.AttemptsPerPhase,
			CommandsExecuted: rep.CommandsExecuted,
			RollbackOccurred: rep.RollbackOccurred,
			DurationSeconds:  rep.Duration.Seconds(),
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Upgrade %s: %s", out.SessionID, out.FinalStatus)},
			},
		}, out, nil
	})
}
