package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"trace", TraceLevel},
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := LevelFromString(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := LevelFromString("loud")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		l, err := NewLogger(nil)
		require.NoError(t, err)
		assert.True(t, l.Enabled(zapcore.InfoLevel))
		assert.False(t, l.Enabled(zapcore.DebugLevel))
	})

	t.Run("invalid format rejected", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Format = "xml"
		_, err := NewLogger(cfg)
		assert.Error(t, err)
	})
}

func TestLoggerContextFields(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithSessionID(context.Background(), "sess-42")
	ctx = WithRequestID(ctx, "req-7")

	tl.Info(ctx, "phase started", zap.String("phase", "discover"))

	tl.AssertLogged(t, zapcore.InfoLevel, "phase started")
	tl.AssertField(t, "phase started", "session.id", "sess-42")
	tl.AssertField(t, "phase started", "request.id", "req-7")
	tl.AssertField(t, "phase started", "phase", "discover")
}

func TestLoggerWithAndNamed(t *testing.T) {
	tl := NewTestLogger()
	child := tl.With(zap.String("component", "backup")).Named("manager")

	child.Warn(context.Background(), "object missing")

	entries := tl.FilterMessage("object missing").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "manager", entries[0].LoggerName)
}

func TestTraceLevel(t *testing.T) {
	tl := NewTestLogger()
	tl.Trace(context.Background(), "verbose detail")
	tl.AssertLogged(t, TraceLevel, "verbose detail")
}

func TestWithSessionIDValidation(t *testing.T) {
	assert.Panics(t, func() { WithSessionID(context.Background(), "") })
	assert.Panics(t, func() { WithSessionID(context.Background(), "bad id with spaces") })
	assert.NotPanics(t, func() { WithSessionID(context.Background(), "sess_1-a") })
}

func TestFromContext(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))

	fallback := FromContext(context.Background())
	require.NotNil(t, fallback)
	fallback.Info(context.Background(), "goes nowhere")
}
