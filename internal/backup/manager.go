package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/upgraded/internal/backup"

// Manager captures and restores file content under a backup directory.
// Captured bytes are stored content-addressed (objects/<hash>), so
// identical content across targets and segments is stored once.
//
// Writes to a given target path are serialized, so concurrent sessions
// snapshotting overlapping targets cannot race.
type Manager struct {
	dir    string
	logger *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	snapshotCounter metric.Int64Counter
	restoreCounter  metric.Int64Counter

	mu        sync.Mutex
	pathLocks map[string]*sync.Mutex
}

// NewManager creates a backup manager rooted at dir.
func NewManager(dir string, logger *zap.Logger) (*Manager, error) {
	if dir == "" {
		return nil, errors.New("backup directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	m := &Manager{
		dir:       dir,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
		pathLocks: make(map[string]*sync.Mutex),
	}
	m.initMetrics()
	return m, nil
}

func (m *Manager) initMetrics() {
	var err error

	m.snapshotCounter, err = m.meter.Int64Counter(
		"upgraded.backup.snapshots_total",
		metric.WithDescription("Total number of backup snapshots taken"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		m.logger.Warn("failed to create snapshot counter", zap.Error(err))
	}

	m.restoreCounter, err = m.meter.Int64Counter(
		"upgraded.backup.restores_total",
		metric.WithDescription("Total number of backup restores executed"),
		metric.WithUnit("{restore}"),
	)
	if err != nil {
		m.logger.Warn("failed to create restore counter", zap.Error(err))
	}
}

// Snapshot captures content hashes, sizes, and bytes for the target set
// and returns a new manifest at segment 0. Taken once per session before
// any phase that can mutate the monitored project.
func (m *Manager) Snapshot(ctx context.Context, sessionID string, targets []string) (*Manifest, error) {
	ctx, span := m.tracer.Start(ctx, "backup.snapshot")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("target_count", len(targets)),
	)

	if len(targets) == 0 {
		err := errors.New("snapshot requires at least one target")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	manifest := &Manifest{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		CreatedAt: time.Now(),
	}

	entries, err := m.capture(ctx, targets, 0)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	manifest.Entries = entries
	manifest.Digest = computeDigest(manifest.Entries)

	if m.snapshotCounter != nil {
		m.snapshotCounter.Add(ctx, 1)
	}
	m.logger.Info("snapshot captured",
		zap.String("manifest_id", manifest.ID),
		zap.String("session_id", sessionID),
		zap.Int("entries", len(manifest.Entries)),
	)

	span.SetAttributes(attribute.String("manifest_id", manifest.ID))
	return manifest, nil
}

// Append captures an incremental entry set for a declared backup boundary
// and recomputes the manifest digest. Segment numbers increase with each
// boundary.
func (m *Manager) Append(ctx context.Context, manifest *Manifest, targets []string) error {
	ctx, span := m.tracer.Start(ctx, "backup.append")
	defer span.End()

	if manifest == nil {
		return errors.New("manifest is required")
	}
	segment := manifest.LatestSegment() + 1
	span.SetAttributes(
		attribute.String("manifest_id", manifest.ID),
		attribute.Int("segment", segment),
	)

	entries, err := m.capture(ctx, targets, segment)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	manifest.Entries = append(manifest.Entries, entries...)
	manifest.Digest = computeDigest(manifest.Entries)

	m.logger.Info("boundary segment appended",
		zap.String("manifest_id", manifest.ID),
		zap.Int("segment", segment),
		zap.Int("entries", len(entries)),
	)
	return nil
}

// Restore re-applies captured content and re-verifies hashes after
// writing. When a path was captured in multiple segments, the most recent
// segment wins. Every stored object is verified against its manifest hash
// before anything is written: an IntegrityMismatchError means no partial
// restore was applied.
func (m *Manager) Restore(ctx context.Context, manifest *Manifest) (*RestoreResult, error) {
	ctx, span := m.tracer.Start(ctx, "backup.restore")
	defer span.End()

	if manifest == nil {
		return nil, errors.New("manifest is required")
	}
	span.SetAttributes(
		attribute.String("manifest_id", manifest.ID),
		attribute.Int("entries", len(manifest.Entries)),
	)

	start := time.Now()

	if !manifest.VerifyDigest() {
		err := &IntegrityMismatchError{Path: "<manifest>", Want: manifest.Digest, Got: computeDigest(manifest.Entries)}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// Latest segment wins per path.
	final := make(map[string]Entry, len(manifest.Entries))
	for _, e := range manifest.Entries {
		if prev, ok := final[e.Path]; !ok || e.Segment >= prev.Segment {
			final[e.Path] = e
		}
	}

	// Verify pass: every referenced object must reproduce its hash before
	// any target is touched.
	contents := make(map[string][]byte, len(final))
	for _, e := range manifest.Entries {
		data, err := os.ReadFile(m.objectPath(e.Hash))
		if err != nil {
			wrapped := fmt.Errorf("failed to read backup object for %s: %w", e.Path, err)
			span.RecordError(wrapped)
			span.SetStatus(codes.Error, wrapped.Error())
			return nil, wrapped
		}
		if got := hashBytes(data); got != e.Hash {
			mismatch := &IntegrityMismatchError{Path: e.Path, Want: e.Hash, Got: got}
			span.RecordError(mismatch)
			span.SetStatus(codes.Error, mismatch.Error())
			return nil, mismatch
		}
		contents[e.Hash] = data
	}

	// Apply pass.
	result := &RestoreResult{}
	for path, e := range final {
		unlock := m.lockPath(path)
		err := writeTarget(path, contents[e.Hash], e.Mode)
		unlock()
		if err != nil {
			wrapped := fmt.Errorf("failed to restore %s: %w", path, err)
			span.RecordError(wrapped)
			span.SetStatus(codes.Error, wrapped.Error())
			return nil, wrapped
		}
		result.EntriesRestored++
		result.BytesRestored += e.Size
	}

	// Re-verify what landed on disk.
	for path, e := range final {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("post-restore read of %s failed: %w", path, err)
		}
		if got := hashBytes(data); got != e.Hash {
			mismatch := &IntegrityMismatchError{Path: path, Want: e.Hash, Got: got}
			span.RecordError(mismatch)
			span.SetStatus(codes.Error, mismatch.Error())
			return nil, mismatch
		}
	}
	result.Verified = true
	result.Duration = time.Since(start)

	if m.restoreCounter != nil {
		m.restoreCounter.Add(ctx, 1)
	}
	m.logger.Info("restore complete",
		zap.String("manifest_id", manifest.ID),
		zap.Int("entries_restored", result.EntriesRestored),
		zap.Int64("bytes_restored", result.BytesRestored),
	)
	return result, nil
}

// capture reads each target, stores its content as an object, and returns
// manifest entries for the given segment.
func (m *Manager) capture(ctx context.Context, targets []string, segment int) ([]Entry, error) {
	entries := make([]Entry, 0, len(targets))
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		unlock := m.lockPath(target)
		data, info, err := readTarget(target)
		unlock()
		if err != nil {
			return nil, fmt.Errorf("failed to capture %s: %w", target, err)
		}

		hash := hashBytes(data)
		if err := m.storeObject(hash, data); err != nil {
			return nil, fmt.Errorf("failed to store object for %s: %w", target, err)
		}

		entries = append(entries, Entry{
			Path:       target,
			Hash:       hash,
			Size:       info.Size(),
			Mode:       info.Mode().Perm(),
			Segment:    segment,
			CapturedAt: time.Now(),
		})
	}
	return entries, nil
}

func (m *Manager) objectPath(hash string) string {
	return filepath.Join(m.dir, "objects", hash)
}

// storeObject writes content-addressed data once; an existing object with
// the same hash is already the same bytes.
func (m *Manager) storeObject(hash string, data []byte) error {
	path := m.objectPath(hash)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// lockPath serializes writes per target path. Returns the unlock func.
func (m *Manager) lockPath(path string) func() {
	m.mu.Lock()
	l, ok := m.pathLocks[path]
	if !ok {
		l = &sync.Mutex{}
		m.pathLocks[path] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func readTarget(path string) ([]byte, os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		return nil, nil, fmt.Errorf("target %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return data, info, nil
}

func writeTarget(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if mode == 0 {
		mode = 0o644
	}
	tmp := path + ".restoring"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
