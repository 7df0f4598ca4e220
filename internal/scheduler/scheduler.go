// Package scheduler triggers the pipeline flows on fixed intervals.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"audience-sync/internal/pipeline"
)

// Runner is the part of the orchestrator the scheduler drives.
type Runner interface {
	RunScheduled(ctx context.Context, phones []string) pipeline.Result
	CollectMetrics(ctx context.Context) pipeline.Result
}

// PhoneSource yields the identifiers for a scheduled sync.
type PhoneSource func() ([]string, error)

// Config sets the two intervals. A non-positive interval disables that loop.
type Config struct {
	SyncInterval    time.Duration
	MetricsInterval time.Duration
}

// Scheduler runs Sync->Lookalike and metrics collection periodically.
type Scheduler struct {
	cfg    Config
	runner Runner
	phones PhoneSource
	logger *slog.Logger
}

// New builds a Scheduler. A nil phones source disables the sync loop only.
func New(cfg Config, runner Runner, phones PhoneSource, logger *slog.Logger) *Scheduler {
	logger = logger.With("component", "scheduler")
	if phones == nil && cfg.SyncInterval > 0 {
		logger.Warn("scheduled sync disabled: no phone source configured")
		cfg.SyncInterval = 0
	}
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		phones: phones,
		logger: logger,
	}
}

// Start launches the loops; each runs once immediately. The returned func stops them and waits.
func (s *Scheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	var wg sync.WaitGroup

	if s.cfg.SyncInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, "sync", s.cfg.SyncInterval, s.runSync)
		}()
	}
	if s.cfg.MetricsInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, "metrics", s.cfg.MetricsInterval, s.runMetrics)
		}()
	}
	s.logger.Info("scheduler started", "sync_interval", s.cfg.SyncInterval, "metrics_interval", s.cfg.MetricsInterval)

	return func() {
		cancel()
		wg.Wait()
	}
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler loop stopped", "loop", name)
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (s *Scheduler) runSync(ctx context.Context) {
	phones, err := s.phones()
	if err != nil {
		s.logger.Error("scheduled sync skipped: phone source failed", "error", err)
		return
	}
	res := s.runner.RunScheduled(ctx, phones)
	s.report("sync", res)
}

func (s *Scheduler) runMetrics(ctx context.Context) {
	s.report("metrics", s.runner.CollectMetrics(ctx))
}

func (s *Scheduler) report(loop string, res pipeline.Result) {
	if res.Success {
		s.logger.Info("scheduled run finished", "loop", loop, "message", res.Message)
		return
	}
	s.logger.Warn("scheduled run failed", "loop", loop, "message", res.Message)
}
