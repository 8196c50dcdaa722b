// Package cmd defines and implements the CLI commands for the quarry executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quarryd/quarry/internal/config"
	"github.com/quarryd/quarry/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command. Configuration and the
// logger are built once here and handed to subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarry",
		Short: "Query-driven content harvesting service",
		Long: `quarry turns a natural-language query into harvested, AI-processed
content: it discovers candidate URLs from feeds, fetches them politely and
concurrently, runs a multi-stage content pipeline, and returns deduplicated
results.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; environment variables use the QUARRY_ prefix)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())
	return cmd
}

// loadEnvironment builds the configuration and logger shared by subcommands.
func loadEnvironment() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load configuration: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, logging.FileConfig{
		Path:       cfg.Logging.File.Path,
		MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
		MaxBackups: cfg.Logging.File.MaxBackups,
	})
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
