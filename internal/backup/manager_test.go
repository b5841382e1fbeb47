package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestNewManager(t *testing.T) {
	t.Run("requires directory", func(t *testing.T) {
		_, err := NewManager("", zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("creates objects directory", func(t *testing.T) {
		dir := t.TempDir()
		_, err := NewManager(filepath.Join(dir, "backups"), nil)
		require.NoError(t, err)
		info, err := os.Stat(filepath.Join(dir, "backups", "objects"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	work := t.TempDir()

	a := writeFile(t, work, "package.json", `{"name":"demo","version":"1.0.0"}`)
	b := writeFile(t, work, "lockfile", "lock-v1")

	manifest, err := m.Snapshot(ctx, "sess-1", []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", manifest.SessionID)
	assert.Len(t, manifest.Entries, 2)
	assert.True(t, manifest.VerifyDigest())
	assert.Equal(t, 0, manifest.LatestSegment())

	// Mutate both targets, then restore.
	require.NoError(t, os.WriteFile(a, []byte("corrupted by upgrade"), 0o644))
	require.NoError(t, os.Remove(b))

	result, err := m.Restore(ctx, manifest)
	require.NoError(t, err)
	assert.Equal(t, 2, result.EntriesRestored)
	assert.True(t, result.Verified)

	restored, err := os.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"demo","version":"1.0.0"}`, string(restored))

	restored, err = os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, "lock-v1", string(restored))
}

func TestSnapshotValidation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.Snapshot(ctx, "sess-1", nil)
	assert.Error(t, err, "snapshot needs targets")

	_, err = m.Snapshot(ctx, "sess-1", []string{filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err, "missing target fails the capture")

	_, err = m.Snapshot(ctx, "sess-1", []string{t.TempDir()})
	assert.Error(t, err, "directories are not capturable targets")
}

func TestAppendSegments(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	work := t.TempDir()

	target := writeFile(t, work, "config.yaml", "version: 1")
	manifest, err := m.Snapshot(ctx, "sess-1", []string{target})
	require.NoError(t, err)

	// The file changes at a later boundary; append a new segment.
	require.NoError(t, os.WriteFile(target, []byte("version: 2"), 0o644))
	require.NoError(t, m.Append(ctx, manifest, []string{target}))

	assert.Equal(t, 1, manifest.LatestSegment())
	assert.Len(t, manifest.Entries, 2)
	assert.True(t, manifest.VerifyDigest(), "digest recomputed after append")

	// Restore applies the newest segment for the path.
	require.NoError(t, os.WriteFile(target, []byte("version: 3"), 0o644))
	result, err := m.Restore(ctx, manifest)
	require.NoError(t, err)
	assert.Equal(t, 1, result.EntriesRestored, "latest segment wins per path")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "version: 2", string(data))
}

func TestRestoreIntegrityFailure(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	work := t.TempDir()

	a := writeFile(t, work, "a.txt", "alpha")
	b := writeFile(t, work, "b.txt", "beta")

	manifest, err := m.Snapshot(ctx, "sess-1", []string{a, b})
	require.NoError(t, err)

	// Corrupt one stored object behind the manifest's back.
	var corruptHash string
	for _, e := range manifest.Entries {
		if e.Path == b {
			corruptHash = e.Hash
		}
	}
	require.NotEmpty(t, corruptHash)
	require.NoError(t, os.WriteFile(m.objectPath(corruptHash), []byte("tampered"), 0o600))

	// Overwrite the live targets so a partial restore would be visible.
	require.NoError(t, os.WriteFile(a, []byte("post-upgrade a"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("post-upgrade b"), 0o644))

	_, err = m.Restore(ctx, manifest)
	var mismatch *IntegrityMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, b, mismatch.Path)

	// No partial restore: both targets untouched.
	data, err := os.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, "post-upgrade a", string(data), "no target may be written when any object fails verification")
	data, err = os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, "post-upgrade b", string(data))
}

func TestRestoreManifestDigestMismatch(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	target := writeFile(t, t.TempDir(), "f.txt", "data")

	manifest, err := m.Snapshot(ctx, "sess-1", []string{target})
	require.NoError(t, err)

	manifest.Entries[0].Size++ // tamper with the manifest itself

	_, err = m.Restore(ctx, manifest)
	var mismatch *IntegrityMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "<manifest>", mismatch.Path)
}

func TestContentAddressedDeduplication(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	work := t.TempDir()

	a := writeFile(t, work, "a.txt", "same content")
	b := writeFile(t, work, "b.txt", "same content")

	manifest, err := m.Snapshot(ctx, "sess-1", []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, manifest.Entries[0].Hash, manifest.Entries[1].Hash)

	objects, err := os.ReadDir(filepath.Join(m.dir, "objects"))
	require.NoError(t, err)
	assert.Len(t, objects, 1, "identical content is stored once")
}

func TestRestorePreservesMode(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	work := t.TempDir()

	script := filepath.Join(work, "run.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755))

	manifest, err := m.Snapshot(ctx, "sess-1", []string{script})
	require.NoError(t, err)

	require.NoError(t, os.Remove(script))
	_, err = m.Restore(ctx, manifest)
	require.NoError(t, err)

	info, err := os.Stat(script)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}
