// Command archiver converts a forum HTML archive into JSON and loads it
// into a database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bgm-archive/archiver/internal/app"
	"github.com/bgm-archive/archiver/internal/config"
	"github.com/bgm-archive/archiver/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "archiver",
	Short: "Incremental HTML to JSON to database archive pipeline",
	Long: `archiver walks a git repository of captured HTML pages, converts every new
capture into a JSON artifact committed to a coupled repository, and propagates
those artifacts into a SQLite or Postgres database.

Configuration is read from --config (YAML or TOML) and ARCHIVER_* environment
variables, e.g. ARCHIVER_DB_DSN or ARCHIVER_SERVER_SECRET.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().Bool("json", false, "Output results as JSON")
	rootCmd.AddGroup(
		&cobra.Group{ID: "pipeline", Title: "Pipeline Commands:"},
		&cobra.Group{ID: "admin", Title: "Administration Commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openApp loads configuration and builds the application. The returned
// cleanup closes the app and flushes the logger.
func openApp(cmd *cobra.Command) (*app.App, *zap.Logger, func()) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Error("failed to start", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}

	return a, logger, func() {
		if err := a.Close(); err != nil {
			logger.Warn("failed to close", zap.Error(err))
		}
		_ = logger.Sync()
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

// osExit is swapped out in tests.
var osExit = os.Exit

// exit prints err, if any, then runs cleanup and exits with status 1.
func exit(cleanup func(), err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	cleanup()
	osExit(1)
}
