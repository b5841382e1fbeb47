// Package main implements the upgctl CLI for inspecting upgrade sessions
// on disk without going through the daemon.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/upgraded/internal/config"
	"github.com/fyrsmithlabs/upgraded/internal/session"
)

var (
	// configPath selects the daemon config the CLI shares.
	configPath string
	// stateDir overrides the configured session state directory.
	stateDir string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "upgctl",
	Short: "CLI for inspecting upgraded sessions",
	Long: `upgctl is a command-line interface for inspecting upgrade sessions
persisted by the upgraded daemon. It reads the session state directory
directly and never mutates an active session.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to upgraded config file")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "session state directory (overrides config)")
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(cleanupCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions and summary statistics",
	RunE:  runSessions,
}

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print the full session document",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var reportCmd = &cobra.Command{
	Use:   "report <session-id>",
	Short: "Print the terminal report of a finished session",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired terminal sessions",
	RunE:  runCleanup,
}

var cleanupAge time.Duration

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupAge, "older-than", 0, "age threshold (default from config, 168h fallback)")
}

// openStore resolves the state directory and opens the file store.
func openStore() (*session.FileStore, *config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		// Without a usable config the explicit flag still works.
		if stateDir == "" {
			return nil, nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = nil
	}

	dir := stateDir
	if dir == "" {
		dir = cfg.State.Dir
	}

	store, err := session.NewFileStore(dir, zap.NewNop())
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	ids, err := store.List(ctx)
	if err != nil {
		return err
	}
	sort.Strings(ids)

	for _, id := range ids {
		sess, err := store.Load(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[upgctl] skipping %s: %v\n", id, err)
			continue
		}
		fmt.Printf("%s  target=%s  phase=%s  status=%s  updated=%s\n",
			sess.ID(),
			sess.State.Target,
			sess.State.CurrentPhase,
			sess.State.Status,
			sess.State.UpdatedAt.Format(time.RFC3339),
		)
	}

	stats, err := store.Statistics(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\nTotal: %d  Active: %d  Rolled back: %d\n", stats.Total, stats.Active, stats.RolledBack)
	for status, count := range stats.ByStatus {
		fmt.Printf("  %s: %d\n", status, count)
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}

	sess, err := store.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render session: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}

	sess, err := store.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if sess.Report == nil {
		if sess.Active() {
			return fmt.Errorf("session %s is still active, no report yet", args[0])
		}
		return fmt.Errorf("session %s is terminal but its report has not been generated", args[0])
	}

	out, err := json.MarshalIndent(sess.Report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore()
	if err != nil {
		return err
	}

	age := cleanupAge
	if age == 0 {
		if cfg != nil {
			age = cfg.State.CleanupAge.Duration()
		} else {
			age = 7 * 24 * time.Hour
		}
	}

	removed, err := store.Cleanup(cmd.Context(), age)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d expired session(s)\n", removed)
	return nil
}
