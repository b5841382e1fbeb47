package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/upgraded/internal/checkpoint"
	"github.com/fyrsmithlabs/upgraded/internal/workflow"
)

// Config is the complete daemon configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	State     StateConfig     `koanf:"state"`
	Backup    BackupConfig    `koanf:"backup"`
	Workflow  WorkflowConfig  `koanf:"workflow"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig identifies the MCP server implementation.
type ServerConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// StateConfig controls session persistence.
type StateConfig struct {
	Dir        string   `koanf:"dir"`
	CleanupAge Duration `koanf:"cleanup_age"`
}

// BackupConfig controls the backup manager.
type BackupConfig struct {
	Dir     string   `koanf:"dir"`
	Targets []string `koanf:"targets"`
}

// TelemetryConfig controls OpenTelemetry export. Disabled by default so
// the daemon runs without a collector.
type TelemetryConfig struct {
	Enabled       bool           `koanf:"enabled"`
	Endpoint      string         `koanf:"endpoint"`
	Protocol      string         `koanf:"protocol"`
	Insecure      bool           `koanf:"insecure"`
	TLSSkipVerify bool           `koanf:"tls_skip_verify"`
	Sampling      SamplingConfig `koanf:"sampling"`
	Metrics       MetricsConfig  `koanf:"metrics"`
	Shutdown      TimeoutConfig  `koanf:"shutdown"`
}

// SamplingConfig controls trace sampling behavior.
type SamplingConfig struct {
	Rate float64 `koanf:"rate"`
}

// MetricsConfig controls metrics export.
type MetricsConfig struct {
	Enabled        bool     `koanf:"enabled"`
	ExportInterval Duration `koanf:"export_interval"`
}

// TimeoutConfig wraps a single timeout value.
type TimeoutConfig struct {
	Timeout Duration `koanf:"timeout"`
}

// Validate checks telemetry settings. A disabled section needs none.
func (t TelemetryConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if t.Protocol != "grpc" && t.Protocol != "http/protobuf" {
		return fmt.Errorf("protocol must be 'grpc' or 'http/protobuf', got %q", t.Protocol)
	}
	if t.Insecure && !t.isLocalEndpoint() {
		return fmt.Errorf("insecure connections are only allowed to local endpoints")
	}
	if t.Sampling.Rate < 0 || t.Sampling.Rate > 1 {
		return fmt.Errorf("sampling.rate must be between 0 and 1, got %f", t.Sampling.Rate)
	}
	if t.Metrics.Enabled && t.Metrics.ExportInterval.Duration() <= 0 {
		return fmt.Errorf("metrics.export_interval must be positive when metrics enabled")
	}
	if t.Shutdown.Timeout.Duration() <= 0 {
		return fmt.Errorf("shutdown.timeout must be positive")
	}
	return nil
}

func (t TelemetryConfig) isLocalEndpoint() bool {
	host := t.Endpoint
	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]:"); idx != -1 {
			host = host[1:idx]
		} else if strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
	} else if strings.Count(host, ":") == 1 {
		if idx := strings.LastIndex(host, ":"); idx != -1 {
			host = host[:idx]
		}
	}
	return host == "localhost" ||
		host == "127.0.0.1" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.") ||
		strings.HasPrefix(t.Endpoint, "::1")
}

// WorkflowConfig is the read-only description of the upgrade workflow:
// per-phase retry budgets, optional-phase flags, backup boundaries, and
// checkpoint criteria. Loaded once and passed in as an immutable structure.
type WorkflowConfig struct {
	Name   string        `koanf:"name"`
	Phases []PhaseConfig `koanf:"phases"`
}

// PhaseConfig is the metadata for one phase.
type PhaseConfig struct {
	Phase          int                 `koanf:"phase"`
	Name           string              `koanf:"name"`
	RetryBudget    int                 `koanf:"retry_budget"`
	Optional       bool                `koanf:"optional"`
	Timeout        Duration            `koanf:"timeout"`
	BackupBoundary bool                `koanf:"backup_boundary"`
	Criteria       checkpoint.Criteria `koanf:"criteria"`
}

// Rule converts phase metadata into the state machine's gating rule.
func (p PhaseConfig) Rule() workflow.PhaseRule {
	return workflow.PhaseRule{RetryBudget: p.RetryBudget, Optional: p.Optional}
}

// PhaseFor returns the configuration for a phase.
func (w WorkflowConfig) PhaseFor(phase workflow.Phase) (PhaseConfig, bool) {
	for _, p := range w.Phases {
		if p.Phase == int(phase) {
			return p, true
		}
	}
	return PhaseConfig{}, false
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "upgraded"
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = "1.0.0"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.State.CleanupAge == 0 {
		cfg.State.CleanupAge = Duration(7 * 24 * time.Hour)
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.Sampling.Rate == 0 {
		cfg.Telemetry.Sampling.Rate = 1.0
	}
	if cfg.Telemetry.Metrics.ExportInterval == 0 {
		cfg.Telemetry.Metrics.ExportInterval = Duration(15 * time.Second)
	}
	if cfg.Telemetry.Shutdown.Timeout == 0 {
		cfg.Telemetry.Shutdown.Timeout = Duration(5 * time.Second)
	}
	if cfg.Workflow.Name == "" {
		cfg.Workflow.Name = "project_upgrade"
	}
	if len(cfg.Workflow.Phases) == 0 {
		cfg.Workflow.Phases = DefaultPhases()
	}
}

// DefaultPhases returns the shipped six-phase upgrade workflow. Phase 1
// (snapshot) is the default backup boundary; rollback restores the
// session-start snapshot unless a later phase declares another boundary.
func DefaultPhases() []PhaseConfig {
	return []PhaseConfig{
		{
			Phase: 0, Name: "discover", RetryBudget: 1, Timeout: Duration(5 * time.Minute),
			Criteria: checkpoint.Criteria{
				"target_version_known": {Field: "target_version", Kind: checkpoint.KindNonzero},
			},
		},
		{
			Phase: 1, Name: "snapshot", RetryBudget: 1, Timeout: Duration(10 * time.Minute),
			BackupBoundary: true,
			Criteria: checkpoint.Criteria{
				"targets_captured": {Field: "targets_captured", Kind: checkpoint.KindMin, Value: 1},
			},
		},
		{
			Phase: 2, Name: "apply", RetryBudget: 2, Timeout: Duration(30 * time.Minute),
			Criteria: checkpoint.Criteria{
				"packages_upgraded": {Field: "packages_upgraded", Kind: checkpoint.KindMin, Value: 1},
			},
		},
		{
			Phase: 3, Name: "build", RetryBudget: 2, Timeout: Duration(30 * time.Minute),
			Criteria: checkpoint.Criteria{
				"build_passed": {Field: "build_passed", Kind: checkpoint.KindEquals, Value: true},
			},
		},
		{
			Phase: 4, Name: "verify", RetryBudget: 2, Timeout: Duration(time.Hour),
			Criteria: checkpoint.Criteria{
				"no_test_failures": {Field: "tests_failed", Kind: checkpoint.KindMax, Value: 0},
				"tests_ran":        {Field: "tests_passed", Kind: checkpoint.KindMin, Value: 1},
			},
		},
		{
			Phase: 5, Name: "finalize", RetryBudget: 1, Timeout: Duration(10 * time.Minute),
			Criteria: checkpoint.Criteria{
				"changelog_written": {Field: "changelog_written", Kind: checkpoint.KindEquals, Value: true},
			},
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.State.Dir == "" {
		return fmt.Errorf("state.dir is required")
	}
	if c.Backup.Dir == "" {
		return fmt.Errorf("backup.dir is required")
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	if len(c.Workflow.Phases) != workflow.TotalPhases {
		return fmt.Errorf("workflow must declare %d phases, got %d", workflow.TotalPhases, len(c.Workflow.Phases))
	}
	seen := make(map[int]bool, len(c.Workflow.Phases))
	for _, p := range c.Workflow.Phases {
		if p.Phase < 0 || p.Phase >= workflow.TotalPhases {
			return fmt.Errorf("phase index %d out of range", p.Phase)
		}
		if seen[p.Phase] {
			return fmt.Errorf("phase %d declared twice", p.Phase)
		}
		seen[p.Phase] = true
		if p.RetryBudget < 0 {
			return fmt.Errorf("phase %d retry_budget cannot be negative", p.Phase)
		}
		for name, crit := range p.Criteria {
			if crit.Field == "" {
				return fmt.Errorf("phase %d criterion %q has no field", p.Phase, name)
			}
			switch crit.Kind {
			case checkpoint.KindMin, checkpoint.KindMax, checkpoint.KindEquals, checkpoint.KindOneOf, checkpoint.KindNonzero:
			default:
				return fmt.Errorf("phase %d criterion %q has unknown kind %q", p.Phase, name, crit.Kind)
			}
		}
	}
	return nil
}
