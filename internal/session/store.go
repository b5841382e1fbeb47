package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrSessionNotFound is returned when the requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// ErrCorruptSession is returned when a persisted session fails validation.
// The offending file is quarantined with a .corrupt suffix so a rewrite
// of the same session starts clean.
var ErrCorruptSession = errors.New("persisted session is corrupt")

// Store persists session aggregates.
type Store interface {
	// Save writes the session atomically.
	Save(ctx context.Context, sess *Session) error

	// Load reads a session by ID.
	Load(ctx context.Context, sessionID string) (*Session, error)

	// Delete removes a session.
	Delete(ctx context.Context, sessionID string) error

	// List returns all stored session IDs.
	List(ctx context.Context) ([]string, error)

	// FindActiveByTarget returns the most recent non-terminal session for
	// a target, or ErrSessionNotFound.
	FindActiveByTarget(ctx context.Context, target string) (*Session, error)

	// Cleanup deletes terminal sessions not updated within maxAge and
	// returns how many were removed.
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)

	// Statistics summarizes stored sessions.
	Statistics(ctx context.Context) (*Statistics, error)
}

// FileStore keeps one JSON document per session under a directory.
// Writes go through a temp file and rename, so a crash mid-save leaves
// either the old document or the new one, never a torn file.
type FileStore struct {
	dir    string
	logger *zap.Logger

	mu sync.Mutex
}

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("state directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (fs *FileStore) path(sessionID string) string {
	return filepath.Join(fs.dir, sessionID+".json")
}

// Save writes the session atomically.
func (fs *FileStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.State == nil || sess.State.SessionID == "" {
		return errors.New("session with state is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := fs.path(sess.State.SessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit session file: %w", err)
	}
	return nil
}

// Load reads a session by ID.
func (fs *FileStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.load(sessionID)
}

func (fs *FileStore) load(sessionID string) (*Session, error) {
	path := fs.path(sessionID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		fs.quarantine(path)
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSession, sessionID, err)
	}
	if sess.State == nil || sess.State.SessionID == "" || !sess.State.CurrentPhase.Valid() {
		fs.quarantine(path)
		return nil, fmt.Errorf("%w: %s: invalid state", ErrCorruptSession, sessionID)
	}
	return &sess, nil
}

// quarantine renames a broken session file aside for inspection.
func (fs *FileStore) quarantine(path string) {
	target := path + ".corrupt"
	if err := os.Rename(path, target); err != nil {
		fs.logger.Warn("failed to quarantine corrupt session file",
			zap.String("path", path), zap.Error(err))
		return
	}
	fs.logger.Warn("quarantined corrupt session file", zap.String("path", target))
}

// Delete removes a session.
func (fs *FileStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	err := os.Remove(fs.path(sessionID))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return err
}

// List returns all stored session IDs.
func (fs *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// FindActiveByTarget returns the most recent non-terminal session for a
// target, or ErrSessionNotFound.
func (fs *FileStore) FindActiveByTarget(ctx context.Context, target string) (*Session, error) {
	ids, err := fs.List(ctx)
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	var newest *Session
	for _, id := range ids {
		sess, err := fs.load(id)
		if err != nil {
			// Corrupt entries are quarantined by load; skip them here.
			continue
		}
		if sess.State.Target != target || !sess.Active() {
			continue
		}
		if newest == nil || sess.State.UpdatedAt.After(newest.State.UpdatedAt) {
			newest = sess
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("%w: no active session for target %s", ErrSessionNotFound, target)
	}
	return newest, nil
}

// Cleanup deletes terminal sessions not updated within maxAge.
func (fs *FileStore) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := fs.List(ctx)
	if err != nil {
		return 0, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, id := range ids {
		sess, err := fs.load(id)
		if err != nil {
			continue
		}
		if sess.Active() || sess.State.UpdatedAt.After(cutoff) {
			continue
		}
		if err := os.Remove(fs.path(id)); err != nil {
			fs.logger.Warn("failed to remove expired session",
				zap.String("session_id", id), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		fs.logger.Info("cleaned up expired sessions", zap.Int("removed", removed))
	}
	return removed, nil
}

// Statistics summarizes stored sessions.
func (fs *FileStore) Statistics(ctx context.Context) (*Statistics, error) {
	ids, err := fs.List(ctx)
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	stats := &Statistics{ByStatus: make(map[string]int)}
	for _, id := range ids {
		sess, err := fs.load(id)
		if err != nil {
			continue
		}
		stats.Total++
		stats.ByStatus[string(sess.State.Status)]++
		if sess.Active() {
			stats.Active++
		}
		if sess.State.RolledBack {
			stats.RolledBack++
		}
	}
	return stats, nil
}
