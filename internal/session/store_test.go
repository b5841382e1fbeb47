package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/upgraded/internal/evidence"
	"github.com/fyrsmithlabs/upgraded/internal/workflow"
)

func newTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	return store, dir
}

func newTestSession(t *testing.T, id, target string) *Session {
	t.Helper()
	return &Session{
		State:    workflow.NewState(id, target),
		Evidence: make(map[workflow.Phase][]*evidence.Evidence),
	}
}

func TestFileStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	sess := newTestSession(t, "sess-1", "demo")
	ev, err := evidence.Collect(workflow.PhaseDiscover, map[string]any{
		"current_version": "1.0.0", "target_version": "2.0.0",
	})
	require.NoError(t, err)
	sess.Evidence[workflow.PhaseDiscover] = append(sess.Evidence[workflow.PhaseDiscover], ev)

	require.NoError(t, store.Save(ctx, sess))

	loaded, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", loaded.ID())
	assert.Equal(t, "demo", loaded.State.Target)
	require.Len(t, loaded.Evidence[workflow.PhaseDiscover], 1)
	got, ok := loaded.Evidence[workflow.PhaseDiscover][0].Field("target_version")
	require.True(t, ok)
	assert.Equal(t, "2.0.0", got)
}

func TestFileStoreLoadMissing(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFileStoreSaveValidation(t *testing.T) {
	store, _ := newTestStore(t)
	assert.Error(t, store.Save(context.Background(), nil))
	assert.Error(t, store.Save(context.Background(), &Session{}))
}

func TestFileStoreCorruptQuarantine(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestStore(t)

	path := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := store.Load(ctx, "broken")
	assert.ErrorIs(t, err, ErrCorruptSession)

	_, statErr := os.Stat(path + ".corrupt")
	assert.NoError(t, statErr, "corrupt file moved aside")
	_, statErr = os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileStoreDelete(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.Save(ctx, newTestSession(t, "sess-1", "demo")))
	require.NoError(t, store.Delete(ctx, "sess-1"))
	assert.ErrorIs(t, store.Delete(ctx, "sess-1"), ErrSessionNotFound)
}

func TestFileStoreList(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.Save(ctx, newTestSession(t, "a", "one")))
	require.NoError(t, store.Save(ctx, newTestSession(t, "b", "two")))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestFindActiveByTarget(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	older := newTestSession(t, "old", "demo")
	older.State.UpdatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.Save(ctx, older))

	newer := newTestSession(t, "new", "demo")
	require.NoError(t, store.Save(ctx, newer))

	terminal := newTestSession(t, "done", "demo")
	require.NoError(t, terminal.State.MarkRolledBack("finished"))
	require.NoError(t, store.Save(ctx, terminal))

	found, err := store.FindActiveByTarget(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "new", found.ID(), "most recently updated active session wins")

	_, err = store.FindActiveByTarget(ctx, "other")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	// Terminal and stale: removable.
	stale := newTestSession(t, "stale", "demo")
	require.NoError(t, stale.State.MarkRolledBack("done"))
	stale.State.UpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.Save(ctx, stale))

	// Active but stale: kept.
	active := newTestSession(t, "active", "demo")
	active.State.UpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.Save(ctx, active))

	// Terminal but fresh: kept.
	fresh := newTestSession(t, "fresh", "demo2")
	require.NoError(t, fresh.State.MarkRolledBack("done"))
	require.NoError(t, store.Save(ctx, fresh))

	removed, err := store.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"active", "fresh"}, ids)
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.Save(ctx, newTestSession(t, "a", "one")))
	rolled := newTestSession(t, "b", "two")
	require.NoError(t, rolled.State.MarkRolledBack("abandoned"))
	require.NoError(t, store.Save(ctx, rolled))

	stats, err := store.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.RolledBack)
	assert.Equal(t, 1, stats.ByStatus[string(workflow.StatusPending)])
	assert.Equal(t, 1, stats.ByStatus[string(workflow.StatusRolledBack)])
}
