package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docstash/docstash/internal/api"
	"github.com/docstash/docstash/internal/scheduler"
)

// newServeCmd creates the 'serve' subcommand. It runs the cron-driven
// caching loop alongside the HTTP surface until interrupted.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the caching service",
		Long: `Starts the periodic caching scheduler and the HTTP server that
exposes health checks, Prometheus metrics, and a manual pass trigger.`,

		RunE: runServeCommand,
	}
	return cmd
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	sched, err := scheduler.New(appInstance.Runner(), scheduler.Config{
		CronSpec:    cfg.Scheduler.CronSpec,
		PassTimeout: cfg.Scheduler.PassTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	srv := api.NewServer(appInstance.Runner(), api.Config{
		PassTimeout: cfg.Scheduler.PassTimeout,
	}, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start()
	defer sched.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}
	return nil
}
