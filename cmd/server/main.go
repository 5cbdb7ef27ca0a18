// Package main implements the tasksync server, which keeps local task lists
// in sync with CalDAV and Google Tasks and serves them over an HTTP API.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/phrazzld/tasksync/internal/config"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tasksync",
		Short:         "Task sync engine for CalDAV and Google Tasks",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(syncCmd())
	root.AddCommand(tokenCmd())

	return root
}

// initializeApp loads configuration and sets up structured logging.
func initializeApp() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	l.Info("configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel),
		slog.String("database_driver", cfg.Database.Driver))
	l.Debug("sync configuration",
		slog.Duration("interval", cfg.Sync.Interval),
		slog.Bool("bindings_file_present", cfg.Sync.BindingsFile != ""),
		slog.Bool("google_client_present", cfg.Google.ClientID != ""))

	return cfg, l, nil
}
