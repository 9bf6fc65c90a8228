// Package cmd defines and implements the CLI commands for the
// docstash executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docstash/docstash/internal/app"
	"github.com/docstash/docstash/internal/config"
	"github.com/docstash/docstash/internal/doccache"
	"github.com/docstash/docstash/internal/logging"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the slice of the application container the commands use.
// Tests swap the factory below for a mock implementation.
type App interface {
	Close()
	Logger() *zap.Logger
	Runner() *doccache.Runner
	Config() config.Config
}

// newApp builds the application container. A variable so tests can
// replace it with a mock factory.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command. Configuration
// loading and service construction happen in PersistentPreRunE so
// every subcommand sees a fully initialized App in its context.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docstash",
		Short: "Background document caching for bookmarked pages",
		Long: `docstash caches the text content of bookmarked web pages.
It selects documents flagged for caching, fetches and decodes them
concurrently, and records each outcome back on the document.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			applyFlagOverrides(cmd, &cfg)

			logging.InitLogger(cfg.Logging.Development)

			appInstance, err := newApp(cmd.Context(), cfg, logging.L)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and DOCSTASH_* env vars apply when unset)")

	cmd.AddCommand(newCacheCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// applyFlagOverrides folds subcommand flags the user set into the
// loaded configuration before services are built.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if f := cmd.Flags().Lookup("batch-size"); f != nil && f.Changed {
		if n, err := cmd.Flags().GetInt("batch-size"); err == nil {
			cfg.DocCache.BatchSize = n
		}
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		logging.L.Fatal("Command execution failed", zap.Error(err))
	}
}
