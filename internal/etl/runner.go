// Package etl orchestrates record passes, baseline recomputation and
// retention sweeps, recording each as an ETLRun.
package etl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"querypulse/internal/alert"
	"querypulse/internal/baseline"
	"querypulse/internal/config"
	"querypulse/internal/detect"
	"querypulse/internal/domain"
	"querypulse/internal/metrics"
	"querypulse/internal/score"
)

// finalizeTimeout bounds the bookkeeping done after a pass, which runs on a
// context detached from the pass deadline.
const finalizeTimeout = 10 * time.Second

// Retention holds per-table retention in days. Zero keeps rows forever.
type Retention struct {
	RunsDays       int
	ExecutionsDays int
	AlertsDays     int
	BaselinesDays  int
	PatternsDays   int
}

// Config holds the runner settings.
type Config struct {
	Score             score.Config
	Baseline          baseline.Config
	Detect            detect.Config
	SuppressionWindow time.Duration

	WindowSize        time.Duration
	RunTimeout        time.Duration
	MaxSourceAttempts int
	SourceRetryDelay  time.Duration
	MaxMergeAttempts  int
	MergeRetryDelay   time.Duration
	AnnotateWorkers   int
	MaxCatchupWindows int
	Partitions        []string

	Retention Retention
}

// ConfigFromEngine maps the engine configuration block onto runner settings.
func ConfigFromEngine(e config.EngineConfig) Config {
	return Config{
		Score:             e.ScoreConfig(),
		Baseline:          e.BaselineConfig(),
		Detect:            e.DetectConfig(),
		SuppressionWindow: e.AlertSuppressionWindow,
		WindowSize:        e.WindowSize,
		RunTimeout:        e.RunTimeout,
		MaxSourceAttempts: e.MaxSourceAttempts,
		SourceRetryDelay:  e.SourceRetryDelay,
		MaxMergeAttempts:  e.MaxMergeAttempts,
		MergeRetryDelay:   100 * time.Millisecond,
		AnnotateWorkers:   e.AnnotateWorkers,
		MaxCatchupWindows: e.MaxCatchupWindows,
		Partitions:        e.Partitions,
		Retention: Retention{
			RunsDays:       e.Retention.RunsDays,
			ExecutionsDays: e.Retention.ExecutionsDays,
			AlertsDays:     e.Retention.AlertsDays,
			BaselinesDays:  e.Retention.BaselinesDays,
			PatternsDays:   e.Retention.PatternsDays,
		},
	}
}

// Deps are the runner's collaborators. Notifier, Maintenance and Ready are
// optional.
type Deps struct {
	Source     domain.TelemetrySource
	Store      domain.PassStore
	Runs       domain.RunRepository
	Baselines  domain.BaselineRepository
	Patterns   domain.PatternRepository
	Alerts     domain.AlertRepository
	Executions domain.ExecutionRepository
	Health     domain.HealthRepository
	Notifier   domain.Notifier
	// Maintenance runs after each successful retention sweep.
	Maintenance domain.StoreMaintainer

	// Ready reports whether the store is usable, e.g. fully migrated.
	Ready func(ctx context.Context) error
}

// pipeline is the immutable set of stage components built from one Config.
type pipeline struct {
	cfg       Config
	scorer    *score.Scorer
	detector  *detect.Detector
	emitter   *alert.Emitter
	baselines *baseline.Service
}

// RunResult is the outcome of one pass.
type RunResult struct {
	Run *domain.ETLRun
	// AlreadyCompleted is set when the window had completed earlier and the
	// call was a no-op.
	AlreadyCompleted bool
	// Alerts are the alerts persisted by this pass.
	Alerts []domain.Alert
}

// Runner drives the engine's passes. It is safe for concurrent use;
// Reconfigure takes effect for passes that start afterwards.
type Runner struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	pipe *pipeline
}

// NewRunner creates a Runner.
func NewRunner(deps Deps, cfg Config, logger *slog.Logger) *Runner {
	r := &Runner{deps: deps, logger: logger, now: time.Now}
	r.pipe = r.build(cfg)
	return r
}

// Reconfigure swaps the stage settings used by subsequent passes.
func (r *Runner) Reconfigure(cfg Config) {
	p := r.build(cfg)
	r.mu.Lock()
	r.pipe = p
	r.mu.Unlock()
	r.logger.Info("runner reconfigured",
		"window_size", cfg.WindowSize,
		"run_timeout", cfg.RunTimeout,
		"suppression_window", cfg.SuppressionWindow)
}

func (r *Runner) build(cfg Config) *pipeline {
	if cfg.AnnotateWorkers < 1 {
		cfg.AnnotateWorkers = 1
	}
	if cfg.MaxSourceAttempts < 1 {
		cfg.MaxSourceAttempts = 1
	}
	if cfg.MaxMergeAttempts < 1 {
		cfg.MaxMergeAttempts = 1
	}
	if cfg.SourceRetryDelay <= 0 {
		cfg.SourceRetryDelay = time.Second
	}
	if cfg.MergeRetryDelay <= 0 {
		cfg.MergeRetryDelay = 100 * time.Millisecond
	}
	if cfg.MaxCatchupWindows < 1 {
		cfg.MaxCatchupWindows = 1
	}
	return &pipeline{
		cfg:       cfg,
		scorer:    score.New(cfg.Score),
		detector:  detect.New(cfg.Detect),
		emitter:   alert.NewEmitter(cfg.SuppressionWindow),
		baselines: baseline.NewService(r.deps.Baselines, baseline.NewCalculator(cfg.Baseline), r.logger),
	}
}

func (r *Runner) current() *pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pipe
}

// Scorer returns the scorer currently in force.
func (r *Runner) Scorer() *score.Scorer { return r.current().scorer }

// begin creates a STARTED run. When another run for the same window is
// still in flight it is left alone, unless it started longer ago than the
// run timeout: such a run was abandoned and is marked FAILED first.
func (r *Runner) begin(ctx context.Context, p *pipeline, kind, partition string, w domain.Window, logger *slog.Logger) (*domain.ETLRun, error) {
	run, err := r.deps.Runs.Create(ctx, &domain.ETLRun{Kind: kind, Partition: partition, Window: w})
	var conflict *domain.ConflictError
	if err == nil || !errors.As(err, &conflict) {
		return run, err
	}

	inFlight, ferr := r.deps.Runs.FindByWindow(ctx, kind, partition, w, domain.RunStatusStarted)
	if ferr != nil {
		return nil, fmt.Errorf("find in-flight run: %w", ferr)
	}
	if inFlight == nil || r.now().Sub(inFlight.StartedAt) <= p.cfg.RunTimeout {
		return nil, err
	}

	logger.Warn("marking abandoned run failed",
		"run_id", inFlight.ID,
		"started_at", inFlight.StartedAt)
	msg := fmt.Sprintf("abandoned: still in progress after the %s run timeout", p.cfg.RunTimeout)
	if ferr := r.deps.Runs.Fail(ctx, inFlight.ID, inFlight.Counts, msg); ferr != nil {
		return nil, fmt.Errorf("fail abandoned run %s: %w", inFlight.ID, ferr)
	}
	metrics.RunsTotal.WithLabelValues(kind, domain.RunStatusFailed).Inc()

	return r.deps.Runs.Create(ctx, &domain.ETLRun{Kind: kind, Partition: partition, Window: w})
}

// complete marks run COMPLETED and records metrics.
func (r *Runner) complete(ctx context.Context, run *domain.ETLRun, counts domain.RunCounts) error {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := r.deps.Runs.Complete(fctx, run.ID, counts); err != nil {
		return fmt.Errorf("complete run %s: %w", run.ID, err)
	}
	finished := r.now().UTC()
	run.Status = domain.RunStatusCompleted
	run.Counts = counts
	run.FinishedAt = &finished

	metrics.RunsTotal.WithLabelValues(run.Kind, domain.RunStatusCompleted).Inc()
	metrics.RunDurationSeconds.WithLabelValues(run.Kind).Observe(finished.Sub(run.StartedAt).Seconds())
	return nil
}

// fail marks run FAILED, notifies, and wraps cause as a FatalRunError.
// Timeouts of runCtx are reported as such.
func (r *Runner) fail(ctx, runCtx context.Context, p *pipeline, run *domain.ETLRun, counts domain.RunCounts, stage string, cause error, logger *slog.Logger) error {
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		cause = fmt.Errorf("run timeout of %s exceeded: %w", p.cfg.RunTimeout, cause)
	}
	fatal := &domain.FatalRunError{RunID: run.ID, Stage: stage, Err: cause}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	msg := fatal.Error()
	if err := r.deps.Runs.Fail(fctx, run.ID, counts, msg); err != nil {
		logger.Error("failed to record run failure", "error", err)
	}
	finished := r.now().UTC()
	run.Status = domain.RunStatusFailed
	run.Counts = counts
	run.ErrorMessage = &msg
	run.FinishedAt = &finished

	metrics.RunsTotal.WithLabelValues(run.Kind, domain.RunStatusFailed).Inc()
	metrics.RunDurationSeconds.WithLabelValues(run.Kind).Observe(finished.Sub(run.StartedAt).Seconds())
	logger.Error("run failed", "stage", stage, "error", cause)

	if r.deps.Notifier != nil {
		if err := r.deps.Notifier.NotifyRunFailed(fctx, run); err != nil {
			logger.Warn("run failure notification failed", "error", err)
		}
	}
	return fatal
}

func (r *Runner) ready(ctx context.Context) error {
	if r.deps.Ready == nil {
		return nil
	}
	return r.deps.Ready(ctx)
}
