package main

import (
	"errors"
	"fmt"

	"github.com/beyondbrewing/brewery-idb/config"
	"github.com/beyondbrewing/brewery-idb/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Engine   string // "memory" | "pebble" | "bolt"
	DataDir  string
	LogLevel string
	Legacy   bool
	Probe    bool
}

// NewRootCommand creates the root command. Flag defaults come from the
// loaded configuration.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           config.APP_NAME,
		Short:         "Ordered key-value databases driven through awaitable bridges",
		Long:          "Open, seed and query host databases, and probe how the host runs microtasks.",
		Version:       config.APP_VERSION,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ValidateEngine(opts.Engine); err != nil {
				return err
			}
			if _, err := zapcore.ParseLevel(opts.LogLevel); err != nil {
				return fmt.Errorf("invalid log level %q: %w", opts.LogLevel, err)
			}
			if opts.Engine != "memory" && opts.DataDir == "" {
				return errors.New("--data-dir is required for persistent engines")
			}
			logger.SetDefault(logger.MustLevel(opts.LogLevel))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Engine, "engine", "e", config.BREWERY_ENGINE, "storage engine (memory|pebble|bolt)")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", config.BREWERY_DATA_DIR, "directory for persistent engines")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", config.BREWERY_LOG_LEVEL, "log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&opts.Legacy, "legacy-host", config.BREWERY_LEGACY_HOST, "run microtasks after auto-commit, like legacy hosts")
	cmd.PersistentFlags().BoolVar(&opts.Probe, "probe", config.BREWERY_PROBE, "detect the flush strategy before running the command")

	cmd.AddCommand(NewProbeCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewSelectCommand(opts))
	cmd.AddCommand(NewFindCommand(opts))
	cmd.AddCommand(NewDatabasesCommand(opts))
	cmd.AddCommand(NewSessionsCommand(opts))

	return cmd
}
