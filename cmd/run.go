package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarryd/quarry/internal/app"
	"github.com/quarryd/quarry/internal/harvest"
)

// newRunCmd creates the 'run' subcommand: a one-shot workflow execution that
// prints the result as JSON. Useful for smoke tests and cron-style harvests.
func newRunCmd() *cobra.Command {
	var (
		timeoutSeconds int
		store          bool
	)
	cmd := &cobra.Command{
		Use:   "run \"<query>\"",
		Short: "Executes a single harvesting workflow and prints the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, args[0], timeoutSeconds, store)
		},
	}
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "workflow timeout in seconds (0 uses the configured default)")
	cmd.Flags().BoolVar(&store, "store", false, "persist the result via the configured storage provider")
	return cmd
}

func runOnce(cmd *cobra.Command, queryText string, timeoutSeconds int, store bool) error {
	cfg, logger, err := loadEnvironment()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer application.Close()

	req := harvest.WorkflowRequest{
		Query:        queryText,
		Config:       application.ProcessingDefaults(),
		Timeout:      cfg.DefaultWorkflowTimeout(),
		StoreResults: store,
	}
	if timeoutSeconds > 0 {
		req.Timeout = time.Duration(timeoutSeconds) * time.Second
	}

	result := application.Coordinator().Run(ctx, req)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if result.Status == harvest.StatusFailed {
		return fmt.Errorf("workflow failed: %s", result.ErrorCode)
	}
	return nil
}
