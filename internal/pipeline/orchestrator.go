package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"audience-sync/internal/audience"
	"audience-sync/internal/cache"
	"audience-sync/internal/insights"
	"audience-sync/internal/meta"
	"audience-sync/internal/metrics"

	"github.com/google/uuid"
)

// Flow names, used in lock keys, logs and metrics.
const (
	FlowSync      = "sync"
	FlowLookalike = "lookalike"
	FlowMetrics   = "metrics"
)

// Result is what every pipeline entry point returns. Err is kept for callers that need to classify failures.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Err     error  `json:"-"`
}

func ok(msg string, data any) Result {
	return Result{Success: true, Message: msg, Data: data}
}

func fail(err error, msg string, data any) Result {
	return Result{Success: false, Message: msg, Data: data, Err: err}
}

// Remote is the listing slice of the Ads API the orchestrator calls directly.
type Remote interface {
	ListCampaigns(ctx context.Context) ([]meta.Campaign, error)
	ListCustomAudiences(ctx context.Context) ([]meta.CustomAudience, error)
}

// Config carries the account reference and flow defaults.
type Config struct {
	Account             string
	AudienceName        string
	AudienceDescription string
	LookalikeName       string
	LookalikeCountry    string
	LookalikeRatio      float64
	InsightsLevel       string
	InsightsFields      []string
	InsightsDatePreset  string
	MetricsTTL          time.Duration
	HashWorkers         int
	LockTTL             time.Duration
}

// Deps are the components the flows sequence.
type Deps struct {
	Remote    Remote
	Resolver  *audience.Resolver
	Uploader  *audience.Uploader
	Deriver   *audience.Deriver
	Collector *insights.Collector
	Cache     *cache.Resources
	Locker    cache.Locker
}

// Orchestrator runs the sync, lookalike and metrics flows.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New builds an Orchestrator. metrics may be nil; a nil Locker disables run locking.
func New(cfg Config, deps Deps, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With("component", "pipeline"),
		metrics: m,
		now:     time.Now,
	}
}

// run wraps one flow with the account+flow lock, a run id and metrics.
func (o *Orchestrator) run(ctx context.Context, flow string, fn func(context.Context, *slog.Logger) Result) Result {
	logger := o.logger.With("flow", flow, "run_id", uuid.NewString())

	if o.deps.Locker != nil {
		release, err := o.deps.Locker.Acquire(ctx, cache.LockKey(o.cfg.Account, flow), o.cfg.LockTTL)
		switch {
		case errors.Is(err, cache.ErrLockHeld):
			logger.Warn("flow already running, skipping")
			o.observe(flow, "skipped", 0)
			return fail(err, fmt.Sprintf("%s flow is already running", flow), nil)
		case err != nil:
			logger.Warn("run lock unavailable, continuing unlocked", "error", err)
		default:
			defer release()
		}
	}

	start := time.Now()
	logger.Info("flow started")
	res := fn(ctx, logger)
	elapsed := time.Since(start)

	status := "ok"
	if !res.Success {
		status = "failed"
		logger.Error("flow failed", "message", res.Message, "duration", elapsed)
		if o.metrics != nil {
			o.metrics.Errors.WithLabelValues("pipeline").Inc()
		}
	} else {
		logger.Info("flow finished", "message", res.Message, "duration", elapsed)
	}
	o.observe(flow, status, elapsed)
	return res
}

func (o *Orchestrator) observe(flow, status string, elapsed time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.PipelineRuns.WithLabelValues(flow, status).Inc()
	if elapsed > 0 {
		o.metrics.PipelineDuration.WithLabelValues(flow).Observe(elapsed.Seconds())
	}
}
