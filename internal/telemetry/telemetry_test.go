package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/upgraded/internal/config"
)

func disabledConfig() config.TelemetryConfig {
	return config.TelemetryConfig{
		Endpoint: "localhost:4317",
		Protocol: "grpc",
		Insecure: true,
		Sampling: config.SamplingConfig{Rate: 1.0},
		Metrics:  config.MetricsConfig{ExportInterval: config.Duration(15 * time.Second)},
		Shutdown: config.TimeoutConfig{Timeout: config.Duration(5 * time.Second)},
	}
}

func TestNewDisabled(t *testing.T) {
	tel, err := New(context.Background(), disabledConfig(), "upgraded", "1.0.0")
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	health := tel.Health()
	assert.True(t, health.Healthy)
	assert.False(t, health.Degraded)

	// Disabled instance still hands out usable no-op scopes.
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := disabledConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""
	_, err := New(context.Background(), cfg, "upgraded", "1.0.0")
	assert.Error(t, err)
}

func TestInsecureRemoteRejected(t *testing.T) {
	cfg := disabledConfig()
	cfg.Enabled = true
	cfg.Endpoint = "collector.example.com:4317"
	cfg.Insecure = true
	_, err := New(context.Background(), cfg, "upgraded", "1.0.0")
	assert.Error(t, err)
}

func TestShutdownNil(t *testing.T) {
	var tel *Telemetry
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Degraded)
}

func TestShutdownDisabled(t *testing.T) {
	tel, err := New(context.Background(), disabledConfig(), "upgraded", "1.0.0")
	require.NoError(t, err)

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Healthy)
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "host:4318", stripScheme("https://host:4318"))
	assert.Equal(t, "host:4318", stripScheme("http://host:4318"))
	assert.Equal(t, "host:4318", stripScheme("host:4318"))
}
