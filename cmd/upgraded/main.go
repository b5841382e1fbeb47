// Upgraded is the phase checkpoint daemon for agent-driven upgrades.
//
// It serves MCP tools over stdio that walk an upgrade session through six
// gated phases, collecting evidence, evaluating checkpoints, and managing
// backup snapshots for rollback.
//
// Usage:
//
//	# Start with defaults (~/.config/upgraded/config.yaml)
//	upgraded
//
//	# Explicit config file
//	upgraded -config /etc/upgraded/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/upgraded/internal/backup"
	"github.com/fyrsmithlabs/upgraded/internal/config"
	"github.com/fyrsmithlabs/upgraded/internal/logging"
	"github.com/fyrsmithlabs/upgraded/internal/mcp"
	"github.com/fyrsmithlabs/upgraded/internal/session"
	"github.com/fyrsmithlabs/upgraded/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/upgraded/config.yaml)")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  upgraded           Start the upgrade daemon\n")
			fmt.Fprintf(os.Stderr, "  upgraded version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("upgraded by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until context cancellation.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize structured logger
//  3. Initialize telemetry providers
//  4. Create backup manager and session store
//  5. Sweep expired terminal sessions
//  6. Wire the session service into the MCP server
//  7. Serve MCP over stdio until shutdown
func run(ctx context.Context, configPath string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}

	if configPath == "" {
		var err error
		configPath, err = config.DefaultPath()
		if err != nil {
			return err
		}
	}

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	zl := logger.Underlying()
	logger.Info(ctx, "starting upgraded",
		zap.String("version", version),
		zap.String("state_dir", cfg.State.Dir),
		zap.String("backup_dir", cfg.Backup.Dir),
		zap.Int("phases", len(cfg.Workflow.Phases)),
	)

	tel, err := telemetry.New(ctx, cfg.Telemetry, cfg.Server.Name, cfg.Server.Version)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
		}
	}()
	if tel.Health().Degraded {
		logger.Warn(ctx, "telemetry degraded, continuing with no-op providers")
	}

	// Watch the config file and surface changes. Workflow and wiring are
	// immutable for the life of the process, so a change is validated and
	// reported rather than hot-applied.
	watcher, err := config.NewWatcher(configPath, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize config watcher: %w", err)
	}
	defer watcher.Stop()
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events():
				if !ok {
					return
				}
				if _, err := config.LoadWithFile(ev.Path); err != nil {
					logger.Warn(ctx, "config file changed but does not validate, keeping current configuration",
						zap.String("path", ev.Path), zap.Error(err))
					continue
				}
				logger.Info(ctx, "config file changed, restart to apply",
					zap.String("path", ev.Path))
			}
		}
	}()

	backups, err := backup.NewManager(cfg.Backup.Dir, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize backup manager: %w", err)
	}

	store, err := session.NewFileStore(cfg.State.Dir, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}

	if removed, err := store.Cleanup(ctx, cfg.State.CleanupAge.Duration()); err != nil {
		logger.Warn(ctx, "session cleanup failed", zap.Error(err))
	} else if removed > 0 {
		logger.Info(ctx, "expired sessions removed", zap.Int("count", removed))
	}

	sessionSvc, err := session.NewService(cfg.Workflow, cfg.Backup.Targets, store, backups, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize session service: %w", err)
	}

	server, err := mcp.NewServer(&mcp.Config{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
		Logger:  zl,
	}, sessionSvc)
	if err != nil {
		return fmt.Errorf("failed to initialize MCP server: %w", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			logger.Warn(ctx, "server close failed", zap.Error(err))
		}
	}()

	return server.Run(ctx)
}

// initLogger builds the context-aware logger from daemon configuration.
func initLogger(cfg *config.Config) (*logging.Logger, error) {
	lcfg := logging.NewDefaultConfig()
	lcfg.Format = cfg.Logging.Format

	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	lcfg.Level = level

	return logging.NewLogger(lcfg)
}
