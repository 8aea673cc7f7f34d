package etl

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"querypulse/internal/domain"
	"querypulse/internal/metrics"
)

// PendingWindows returns the record-pass windows for partition that ended
// at or before now and have not completed, starting at the watermark. The
// watermark is the end of the contiguous completed prefix, so a gap left
// behind a window run out of order is still caught up. With no watermark
// only the latest full window is pending. At most MaxCatchupWindows are
// returned; the rest are picked up by later calls.
func (r *Runner) PendingWindows(ctx context.Context, partition string, now time.Time) ([]domain.Window, error) {
	p := r.current()
	size := p.cfg.WindowSize

	last, err := r.deps.Runs.Watermark(ctx, domain.RunKindRecordPass, partition)
	if err != nil {
		return nil, fmt.Errorf("load watermark: %w", err)
	}
	now = now.UTC()
	start := now.Truncate(size).Add(-size)
	if last != nil {
		start = last.UTC()
	}

	completed, err := r.deps.Runs.CompletedWindows(ctx, domain.RunKindRecordPass, partition, start)
	if err != nil {
		return nil, fmt.Errorf("load completed windows: %w", err)
	}
	done := make(map[[2]int64]bool, len(completed))
	for _, w := range completed {
		done[windowKey(w)] = true
	}

	var out []domain.Window
	for end := start.Add(size); !end.After(now); end = end.Add(size) {
		w := domain.Window{Start: end.Add(-size), End: end}
		if done[windowKey(w)] {
			continue
		}
		if len(out) == p.cfg.MaxCatchupWindows {
			r.logger.Warn("catch-up capped; remaining windows deferred",
				"partition", partition,
				"max_windows", p.cfg.MaxCatchupWindows,
				"next_start", end.Add(-size))
			break
		}
		out = append(out, w)
	}
	return out, nil
}

func windowKey(w domain.Window) [2]int64 {
	return [2]int64{w.Start.UnixMilli(), w.End.UnixMilli()}
}

// RunPending catches every configured partition up from its watermark.
// Partitions run concurrently; windows within a partition run in order and
// stop at the first failure so the watermark never skips a window.
func (r *Runner) RunPending(ctx context.Context, now time.Time) ([]*RunResult, error) {
	partitions := r.current().cfg.Partitions
	if len(partitions) == 0 {
		partitions = []string{""}
	}

	var (
		mu      sync.Mutex
		results []*RunResult
		errs    error
		g       errgroup.Group
	)
	for _, partition := range partitions {
		g.Go(func() error {
			windows, err := r.PendingWindows(ctx, partition, now)
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("partition %q: %w", partition, err))
				mu.Unlock()
				return nil
			}
			for _, w := range windows {
				res, err := r.RunWindow(ctx, w, partition)
				mu.Lock()
				if res != nil {
					results = append(results, res)
				}
				if err != nil {
					errs = multierr.Append(errs, fmt.Errorf("partition %q: %w", partition, err))
				}
				mu.Unlock()
				if err != nil {
					return nil
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Run, results[j].Run
		if a.Partition != b.Partition {
			return a.Partition < b.Partition
		}
		return a.Window.Start.Before(b.Window.Start)
	})
	return results, errs
}

// Baseline recomputes the baselines whose trailing window ends at
// windowEnd. It is recorded as its own run and is independent of record
// passes.
func (r *Runner) Baseline(ctx context.Context, windowEnd time.Time) (*RunResult, error) {
	p := r.current()
	w := domain.Window{
		Start: windowEnd.UTC().AddDate(0, 0, -p.cfg.Baseline.WindowDays),
		End:   windowEnd.UTC(),
	}
	logger := r.logger.With("kind", domain.RunKindBaseline, "window", w.String())

	run, err := r.begin(ctx, p, domain.RunKindBaseline, "", w, logger)
	if err != nil {
		return nil, err
	}
	logger = logger.With("run_id", run.ID)

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.RunTimeout)
	defer cancel()

	var counts domain.RunCounts
	if err := r.ready(runCtx); err != nil {
		return &RunResult{Run: run}, r.fail(ctx, runCtx, p, run, counts, "prerequisites", fmt.Errorf("store not ready: %w", err), logger)
	}
	res, err := p.baselines.Recompute(runCtx, windowEnd)
	if err != nil {
		return &RunResult{Run: run}, r.fail(ctx, runCtx, p, run, counts, "baseline", err, logger)
	}
	counts.RecordsRead = int64(res.Samples)
	counts.RecordsProcessed = int64(res.Baselined)

	if err := r.complete(ctx, run, counts); err != nil {
		return &RunResult{Run: run}, err
	}
	metrics.BaselinesComputed.Set(float64(res.Baselined))
	return &RunResult{Run: run}, nil
}

// RetentionResult reports rows removed per table and the store maintenance
// that followed.
type RetentionResult struct {
	Run    *domain.ETLRun
	Purged map[string]int64
	// Optimized is set when planner statistics were refreshed; Vacuumed when
	// the store was also compacted because rows were purged.
	Optimized bool
	Vacuumed  bool
}

// Retention purges rows older than each table's retention. Every table is
// attempted; failures are combined into one error and fail the run. A
// successful sweep is followed by store maintenance, which compacts the
// store only when rows were removed. Maintenance failures are logged and do
// not fail the run.
func (r *Runner) Retention(ctx context.Context, now time.Time) (*RetentionResult, error) {
	p := r.current()
	now = now.UTC()
	day := now.Truncate(24 * time.Hour)
	w := domain.Window{Start: day, End: day.Add(24 * time.Hour)}
	logger := r.logger.With("kind", domain.RunKindRetention, "window", w.String())

	run, err := r.begin(ctx, p, domain.RunKindRetention, "", w, logger)
	if err != nil {
		return nil, err
	}
	logger = logger.With("run_id", run.ID)

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.RunTimeout)
	defer cancel()

	cutoff := func(days int) time.Time { return now.AddDate(0, 0, -days) }
	sweeps := []struct {
		table string
		days  int
		purge func(context.Context, time.Time) (int64, error)
	}{
		{"etl_runs", p.cfg.Retention.RunsDays, r.deps.Runs.PurgeFinishedBefore},
		{"query_executions", p.cfg.Retention.ExecutionsDays, r.deps.Executions.PurgeStartedBefore},
		{"alerts", p.cfg.Retention.AlertsDays, r.deps.Alerts.PurgeOccurredBefore},
		{"performance_baselines", p.cfg.Retention.BaselinesDays, r.deps.Baselines.PurgeWindowEndedBefore},
		{"query_patterns", p.cfg.Retention.PatternsDays, r.deps.Patterns.PurgeUnseenSince},
	}

	purged := make(map[string]int64, len(sweeps))
	var (
		errs  error
		total int64
	)
	for _, s := range sweeps {
		if s.days <= 0 {
			continue
		}
		n, err := s.purge(runCtx, cutoff(s.days))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("purge %s: %w", s.table, err))
			continue
		}
		purged[s.table] = n
		total += n
		logger.Info("purged expired rows", "table", s.table, "rows", n, "retention_days", s.days)
	}

	res := &RetentionResult{Run: run, Purged: purged}
	counts := domain.RunCounts{RecordsProcessed: total}
	if errs != nil {
		return res, r.fail(ctx, runCtx, p, run, counts, "retention", errs, logger)
	}
	r.maintain(runCtx, res, total > 0, logger)
	if err := r.complete(ctx, run, counts); err != nil {
		return res, err
	}
	return res, nil
}

func (r *Runner) maintain(ctx context.Context, res *RetentionResult, vacuum bool, logger *slog.Logger) {
	if r.deps.Maintenance == nil {
		return
	}
	mode := "analyze"
	if vacuum {
		mode = "vacuum"
	}
	start := r.now()
	if err := r.deps.Maintenance.Optimize(ctx, vacuum); err != nil {
		metrics.MaintenanceTotal.WithLabelValues(mode, "failed").Inc()
		logger.Warn("store maintenance failed", "mode", mode, "error", err)
		return
	}
	metrics.MaintenanceTotal.WithLabelValues(mode, "ok").Inc()
	res.Optimized = true
	res.Vacuumed = vacuum
	logger.Info("store maintenance finished", "mode", mode, "duration", r.now().Sub(start))
}

// HealthReport is the post-run health check.
type HealthReport struct {
	CheckedAt time.Time
	Tables    []domain.TableHealth
	// Stale names tables whose newest row is older than their threshold.
	Stale []string
}

// Healthy reports whether no table is stale.
func (h *HealthReport) Healthy() bool { return len(h.Stale) == 0 }

// Health reports row counts and freshness of the output tables.
func (r *Runner) Health(ctx context.Context) (*HealthReport, error) {
	tables, err := r.deps.Health.TableHealth(ctx)
	if err != nil {
		return nil, fmt.Errorf("table health: %w", err)
	}
	report := &HealthReport{CheckedAt: r.now().UTC(), Tables: tables}
	for _, t := range tables {
		if t.Stale(report.CheckedAt) {
			report.Stale = append(report.Stale, t.Table)
		}
	}
	return report, nil
}
