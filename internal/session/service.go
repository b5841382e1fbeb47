package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/upgraded/internal/backup"
	"github.com/fyrsmithlabs/upgraded/internal/checkpoint"
	"github.com/fyrsmithlabs/upgraded/internal/config"
	"github.com/fyrsmithlabs/upgraded/internal/evidence"
	"github.com/fyrsmithlabs/upgraded/internal/report"
	"github.com/fyrsmithlabs/upgraded/internal/workflow"
)

const instrumentationName = "github.com/fyrsmithlabs/upgraded/internal/session"

// ErrNoBackupManifest is returned by Rollback when the session never
// captured a snapshot.
var ErrNoBackupManifest = errors.New("session has no backup manifest")

// Service provides upgrade session operations.
type Service interface {
	// Start creates a session for a target, or resumes the active one.
	Start(ctx context.Context, req *StartRequest) (*StartResult, error)

	// SubmitEvidence validates phase evidence, evaluates the checkpoint,
	// and applies the verdict to the session.
	SubmitEvidence(ctx context.Context, req *SubmitRequest) (*SubmitResult, error)

	// SkipPhase skips an optional phase without evidence.
	SkipPhase(ctx context.Context, sessionID string, phase workflow.Phase) (*Session, error)

	// Rollback restores the backup manifest and marks the session rolled
	// back. Fails without touching session status when no manifest exists
	// or restore integrity verification fails.
	Rollback(ctx context.Context, sessionID, reason string) (*backup.RestoreResult, error)

	// Abort ends a session: restores the backup when one exists,
	// otherwise marks the session rolled back directly.
	Abort(ctx context.Context, sessionID, reason string) (*Session, error)

	// Get returns the current session aggregate.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// Report generates the terminal report exactly once.
	Report(ctx context.Context, sessionID string) (*report.UpgradeReport, error)

	// Close closes the service.
	Close() error
}

// StartRequest asks for a session against an upgrade target.
type StartRequest struct {
	// Target identifies what is being upgraded (project path or name).
	Target string

	// BackupTargets overrides the configured backup target set.
	BackupTargets []string
}

// StartResult reports the session and whether it was resumed.
type StartResult struct {
	Session *Session
	Resumed bool
}

// SubmitRequest carries one phase's observations.
type SubmitRequest struct {
	SessionID    string
	Phase        workflow.Phase
	Observations map[string]any
}

// SubmitResult reports the checkpoint verdict and resulting session state.
type SubmitResult struct {
	Session          *Session
	Verdict          workflow.CheckpointStatus
	FailedPredicates []string
}

// service implements the Service interface.
type service struct {
	workflow      config.WorkflowConfig
	backupTargets []string
	store         Store
	backups       *backup.Manager
	logger        *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	startCounter    metric.Int64Counter
	evidenceCounter metric.Int64Counter
	rollbackCounter metric.Int64Counter

	mu       sync.RWMutex
	closed   bool
	sessions map[string]*sync.Mutex
}

// NewService creates a session service.
func NewService(wcfg config.WorkflowConfig, backupTargets []string, store Store, backups *backup.Manager, logger *zap.Logger) (Service, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if backups == nil {
		return nil, errors.New("backup manager is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(wcfg.Phases) == 0 {
		wcfg.Phases = config.DefaultPhases()
	}

	s := &service{
		workflow:      wcfg,
		backupTargets: backupTargets,
		store:         store,
		backups:       backups,
		logger:        logger,
		tracer:        otel.Tracer(instrumentationName),
		meter:         otel.Meter(instrumentationName),
		sessions:      make(map[string]*sync.Mutex),
	}
	s.initMetrics()
	return s, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (s *service) initMetrics() {
	var err error

	s.startCounter, err = s.meter.Int64Counter(
		"upgraded.session.starts_total",
		metric.WithDescription("Total number of sessions started or resumed"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		s.logger.Warn("failed to create start counter", zap.Error(err))
	}

	s.evidenceCounter, err = s.meter.Int64Counter(
		"upgraded.session.evidence_total",
		metric.WithDescription("Total number of evidence submissions"),
		metric.WithUnit("{submission}"),
	)
	if err != nil {
		s.logger.Warn("failed to create evidence counter", zap.Error(err))
	}

	s.rollbackCounter, err = s.meter.Int64Counter(
		"upgraded.session.rollbacks_total",
		metric.WithDescription("Total number of completed rollbacks"),
		metric.WithUnit("{rollback}"),
	)
	if err != nil {
		s.logger.Warn("failed to create rollback counter", zap.Error(err))
	}
}

// lockSession serializes operations per session ID. Returns the unlock func.
func (s *service) lockSession(sessionID string) func() {
	s.mu.Lock()
	l, ok := s.sessions[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.sessions[sessionID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *service) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("service is closed")
	}
	return nil
}

// Start creates a session for a target, or resumes the active one.
func (s *service) Start(ctx context.Context, req *StartRequest) (*StartResult, error) {
	ctx, span := s.tracer.Start(ctx, "session.start")
	defer span.End()
	span.SetAttributes(attribute.String("target", req.Target))

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if req.Target == "" {
		return nil, errors.New("target is required")
	}

	// An active session for the same target resumes instead of forking.
	if existing, err := s.store.FindActiveByTarget(ctx, req.Target); err == nil {
		span.SetAttributes(
			attribute.String("session_id", existing.ID()),
			attribute.Bool("resumed", true),
		)
		s.logger.Info("resumed active session",
			zap.String("session_id", existing.ID()),
			zap.String("target", req.Target),
		)
		return &StartResult{Session: existing, Resumed: true}, nil
	} else if !errors.Is(err, ErrSessionNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sess := &Session{
		State:         workflow.NewState(uuid.New().String(), req.Target),
		Evidence:      make(map[workflow.Phase][]*evidence.Evidence),
		BackupTargets: req.BackupTargets,
	}
	if err := s.store.Save(ctx, sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to persist new session: %w", err)
	}

	if s.startCounter != nil {
		s.startCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("resumed", false)))
	}
	s.logger.Info("started session",
		zap.String("session_id", sess.ID()),
		zap.String("target", req.Target),
	)

	span.SetAttributes(attribute.String("session_id", sess.ID()))
	return &StartResult{Session: sess}, nil
}

// SubmitEvidence validates phase evidence, evaluates the checkpoint, and
// applies the verdict.
func (s *service) SubmitEvidence(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	ctx, span := s.tracer.Start(ctx, "session.submit_evidence")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", req.SessionID),
		attribute.Int("phase", int(req.Phase)),
	)

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	unlock := s.lockSession(req.SessionID)
	defer unlock()

	sess, err := s.store.Load(ctx, req.SessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	pcfg, ok := s.workflow.PhaseFor(req.Phase)
	if !ok {
		err := fmt.Errorf("phase %d is not part of the workflow", int(req.Phase))
		span.RecordError(err)
		return nil, err
	}

	if err := sess.State.Gate(req.Phase); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	ev, err := evidence.Collect(req.Phase, req.Observations)
	if err != nil {
		// Malformed evidence is an input error: surfaced immediately,
		// nothing mutated or persisted.
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result, err := checkpoint.Evaluate(pcfg.Criteria, ev)
	if err != nil {
		// Unresolved criteria are an error, not a failed verdict. The
		// session status is untouched and no retry is consumed; the
		// evidence record is kept for audit.
		if sess.Evidence == nil {
			sess.Evidence = make(map[workflow.Phase][]*evidence.Evidence)
		}
		sess.Evidence[req.Phase] = append(sess.Evidence[req.Phase], ev)
		if saveErr := s.store.Save(ctx, sess); saveErr != nil {
			s.logger.Warn("failed to persist session after unresolved checkpoint",
				zap.String("session_id", req.SessionID), zap.Error(saveErr))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := sess.State.Begin(req.Phase); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if _, err := sess.State.ApplyVerdict(result.Status, pcfg.Rule()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sess.State.RecordCommands(ev.Commands...)
	if len(ev.Artifacts) > 0 {
		sess.State.RecordArtifacts(req.Phase, ev.Artifacts...)
	}
	if sess.Evidence == nil {
		sess.Evidence = make(map[workflow.Phase][]*evidence.Evidence)
	}
	sess.Evidence[req.Phase] = append(sess.Evidence[req.Phase], ev)

	if result.Status == workflow.StatusPassed && pcfg.BackupBoundary {
		if err := s.captureBoundary(ctx, sess); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	if err := s.store.Save(ctx, sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	if s.evidenceCounter != nil {
		s.evidenceCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Int("phase", int(req.Phase)),
			attribute.String("verdict", string(result.Status)),
		))
	}
	s.logger.Info("evidence processed",
		zap.String("session_id", req.SessionID),
		zap.String("phase", req.Phase.String()),
		zap.String("verdict", string(result.Status)),
		zap.Strings("failed_predicates", result.FailedPredicates),
		zap.String("session_status", string(sess.State.Status)),
	)

	span.SetAttributes(attribute.String("verdict", string(result.Status)))
	return &SubmitResult{
		Session:          sess,
		Verdict:          result.Status,
		FailedPredicates: result.FailedPredicates,
	}, nil
}

// captureBoundary takes the session snapshot, or appends a segment when
// one already exists. Session-level targets take precedence over the
// daemon-wide set.
func (s *service) captureBoundary(ctx context.Context, sess *Session) error {
	targets := sess.BackupTargets
	if len(targets) == 0 {
		targets = s.backupTargets
	}
	if len(targets) == 0 {
		s.logger.Warn("backup boundary reached with no targets configured",
			zap.String("session_id", sess.ID()))
		return nil
	}

	if sess.Manifest == nil {
		manifest, err := s.backups.Snapshot(ctx, sess.ID(), targets)
		if err != nil {
			return fmt.Errorf("failed to capture snapshot: %w", err)
		}
		sess.Manifest = manifest
		return nil
	}
	if err := s.backups.Append(ctx, sess.Manifest, targets); err != nil {
		return fmt.Errorf("failed to append backup segment: %w", err)
	}
	return nil
}

// SkipPhase skips an optional phase without evidence.
func (s *service) SkipPhase(ctx context.Context, sessionID string, phase workflow.Phase) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.skip_phase")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("phase", int(phase)),
	)

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.store.Load(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	pcfg, ok := s.workflow.PhaseFor(phase)
	if !ok {
		return nil, fmt.Errorf("phase %d is not part of the workflow", int(phase))
	}

	if err := sess.State.Skip(phase, pcfg.Rule()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := s.store.Save(ctx, sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	s.logger.Info("phase skipped",
		zap.String("session_id", sessionID),
		zap.String("phase", phase.String()),
	)
	return sess, nil
}

// Rollback restores the backup manifest and marks the session rolled back.
func (s *service) Rollback(ctx context.Context, sessionID, reason string) (*backup.RestoreResult, error) {
	ctx, span := s.tracer.Start(ctx, "session.rollback")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.store.Load(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	// A failed session may still roll back; that is the recovery path
	// after retry exhaustion. Only rolled-back and completed sessions
	// are rejected.
	if !sess.State.RollbackAllowed() {
		return nil, workflow.ErrSessionTerminal
	}
	if sess.Manifest == nil {
		span.RecordError(ErrNoBackupManifest)
		span.SetStatus(codes.Error, ErrNoBackupManifest.Error())
		return nil, ErrNoBackupManifest
	}

	if reason == "" {
		reason = "rollback requested"
	}
	result, err := s.restoreAndMark(ctx, sess, reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.logger.Info("session rolled back",
		zap.String("session_id", sessionID),
		zap.String("reason", reason),
		zap.Int("entries_restored", result.EntriesRestored),
	)
	return result, nil
}

// restoreAndMark restores the session manifest, marks the session rolled
// back, and persists it. Callers hold the session lock. Restore verifies
// every object before writing, so on integrity failure nothing was
// applied and the session status is left untouched.
func (s *service) restoreAndMark(ctx context.Context, sess *Session, reason string) (*backup.RestoreResult, error) {
	result, err := s.backups.Restore(ctx, sess.Manifest)
	if err != nil {
		return nil, err
	}

	if err := sess.State.MarkRolledBack(reason); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	if s.rollbackCounter != nil {
		s.rollbackCounter.Add(ctx, 1)
	}
	return result, nil
}

// Abort ends a session, restoring the backup when one exists.
func (s *service) Abort(ctx context.Context, sessionID, reason string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.abort")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if reason == "" {
		reason = "session aborted"
	}

	// Decide and act under one lock acquisition so no transition can
	// slip between the manifest check and the rollback.
	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.store.Load(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !sess.State.RollbackAllowed() {
		return nil, workflow.ErrSessionTerminal
	}

	// With a manifest, abort is a rollback.
	if sess.Manifest != nil {
		if _, err := s.restoreAndMark(ctx, sess, reason); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		s.logger.Info("session aborted with restore",
			zap.String("session_id", sessionID),
			zap.String("reason", reason),
		)
		return sess, nil
	}

	if err := sess.State.MarkRolledBack(reason); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.store.Save(ctx, sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	s.logger.Info("session aborted",
		zap.String("session_id", sessionID),
		zap.String("reason", reason),
	)
	return sess, nil
}

// Get returns the current session aggregate.
func (s *service) Get(ctx context.Context, sessionID string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.get")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	sess, err := s.store.Load(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return sess, nil
}

// Report generates the terminal report exactly once.
func (s *service) Report(ctx context.Context, sessionID string) (*report.UpgradeReport, error) {
	ctx, span := s.tracer.Start(ctx, "session.report")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.store.Load(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if sess.Report != nil {
		return nil, report.ErrAlreadyFinalized
	}

	rep, err := report.Finalize(report.Input{State: sess.State, Evidence: sess.Evidence})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sess.Report = rep
	if err := s.store.Save(ctx, sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to persist report: %w", err)
	}

	s.logger.Info("report generated",
		zap.String("session_id", sessionID),
		zap.String("final_status", string(rep.FinalStatus)),
		zap.Bool("rollback_occurred", rep.RollbackOccurred),
	)
	return rep, nil
}

// Close closes the service.
func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return nil
}
