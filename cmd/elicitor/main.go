// Command elicitor runs the human-in-the-loop elicitation service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Strob0t/elicitor/internal/config"
	"github.com/Strob0t/elicitor/internal/logger"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "elicitor",
		Short:         "Decides when an agent should ask a human, and routes the question",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	collect := config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(collect),
		newMigrateCmd(collect),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	// Running the binary without a subcommand serves, as the container image expects.
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), collect())
	}
	return root
}

// loadConfig loads configuration and installs the default logger. The
// returned func flushes the async log handler.
func loadConfig(flags config.CLIFlags) (*config.Config, func(), error) {
	cfg, path, err := config.LoadWithCLI(flags)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	log, closer := logger.New(cfg.Logging)
	slog.SetDefault(log)
	slog.Info("config loaded", "file", path, "port", cfg.Server.Port, "log_level", cfg.Logging.Level)
	return cfg, closer.Close, nil
}
