package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCacheCmd creates the 'cache' subcommand, which runs exactly one
// caching pass and exits. Suited to cron jobs and manual runs.
func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Run a single caching pass",
		Long: `Selects the documents currently due for caching, fetches and
stores their content, and exits once the batch is finished.`,

		RunE: runCacheCommand,
	}
	cmd.Flags().Int("batch-size", 0, "maximum documents to cache in this pass (0 uses the configured value)")
	return cmd
}

func runCacheCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	summary, err := appInstance.Runner().RunPass(cmd.Context())
	if err != nil {
		return fmt.Errorf("run caching pass: %w", err)
	}

	appInstance.Logger().Info("Cache command finished",
		zap.String("pass_id", summary.PassID),
		zap.Int("selected", summary.Selected),
		zap.Int("cached", summary.Cached),
		zap.Int("rejected", summary.Rejected),
		zap.Int("transient", summary.Transient),
		zap.Int("fatal", summary.Fatal),
		zap.Duration("duration", summary.Duration),
	)
	return nil
}
