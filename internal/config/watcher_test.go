package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWatcher(t *testing.T) {
	t.Run("requires path", func(t *testing.T) {
		_, err := NewWatcher("", zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("nil logger tolerated", func(t *testing.T) {
		w, err := NewWatcher(filepath.Join(t.TempDir(), "config.yaml"), nil)
		require.NoError(t, err)
		w.Stop()
	})
}

func TestWatcherEmitsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600))

	w, err := NewWatcher(path, zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))

	select {
	case ev := <-w.Events():
		assert.Equal(t, path, ev.Path)
		assert.WithinDuration(t, time.Now(), ev.Timestamp, 5*time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("no change event received")
	}
}

func TestWatcherIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("x: 1\n"), 0o600))

	w, err := NewWatcher(path, zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("y: 2\n"), 0o600))

	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event for %s", ev.Path)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcherStopIdempotent(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "config.yaml"), zap.NewNop())
	require.NoError(t, err)

	w.Stop()
	w.Stop()
}
