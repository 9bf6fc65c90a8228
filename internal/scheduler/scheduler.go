// Package scheduler wires the caching pass to a cron trigger.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/docstash/docstash/internal/doccache"
)

// PassRunner is the schedulable entry point: run one caching pass.
type PassRunner interface {
	RunPass(ctx context.Context) (doccache.PassSummary, error)
}

// Config controls the cron cadence and the per-pass timeout.
type Config struct {
	// CronSpec is a standard 5-field cron expression.
	CronSpec string
	// PassTimeout bounds one full pass; in-flight documents are
	// abandoned when it fires and picked up again next pass.
	PassTimeout time.Duration
}

// Scheduler periodically triggers caching passes.
type Scheduler struct {
	cron   *cron.Cron
	runner PassRunner
	cfg    Config
	logger *zap.Logger
}

// New creates a Scheduler. The cron entry is registered but not
// started until Start is called.
func New(runner PassRunner, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = 5 * time.Minute
	}
	// Standard 5-field cron parser (minute hour day month weekday).
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	s := &Scheduler{
		cron:   c,
		runner: runner,
		cfg:    cfg,
		logger: logger,
	}
	if _, err := c.AddFunc(cfg.CronSpec, s.RunOnce); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins triggering passes on the configured cadence.
func (s *Scheduler) Start() {
	s.logger.Info("Starting cache scheduler",
		zap.String("cron_spec", s.cfg.CronSpec),
		zap.Duration("pass_timeout", s.cfg.PassTimeout),
	)
	s.cron.Start()
}

// Stop halts the trigger and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cache scheduler stopped")
}

// Entries returns the number of registered cron entries.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// RunOnce executes one pass under the configured timeout. Errors are
// logged, not returned: retry is the next scheduled trigger.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PassTimeout)
	defer cancel()

	summary, err := s.runner.RunPass(ctx)
	if err != nil {
		s.logger.Error("Scheduled caching pass failed", zap.Error(err))
		return
	}
	s.logger.Info("Scheduled caching pass completed",
		zap.String("pass_id", summary.PassID),
		zap.Int("selected", summary.Selected),
		zap.Int("cached", summary.Cached),
		zap.Int("rejected", summary.Rejected),
		zap.Int("transient", summary.Transient),
		zap.Int("fatal", summary.Fatal),
	)
}
