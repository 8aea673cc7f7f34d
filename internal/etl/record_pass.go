package etl

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/sethvargo/go-retry"

	"querypulse/internal/aggregate"
	"querypulse/internal/domain"
	"querypulse/internal/metrics"
)

// passOutcome is what one pass transaction did. It is rebuilt on every
// attempt so a retried transaction never double counts.
type passOutcome struct {
	processed  int64
	duplicates int64
	patterns   int
	candidates []domain.AlertCandidate
	alerts     []domain.Alert
	suppressed int
}

// RunWindow runs the record pass for w and partition. An empty partition
// covers all workspaces. A window that already completed is a no-op that
// returns the earlier run. On failure nothing from the window is committed,
// the run is marked FAILED, and a *domain.FatalRunError is returned together
// with the result.
func (r *Runner) RunWindow(ctx context.Context, w domain.Window, partition string) (*RunResult, error) {
	p := r.current()
	logger := r.logger.With("kind", domain.RunKindRecordPass, "window", w.String(), "partition", partition)

	done, err := r.deps.Runs.FindByWindow(ctx, domain.RunKindRecordPass, partition, w, domain.RunStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("find completed run: %w", err)
	}
	if done != nil {
		logger.Info("window already completed", "run_id", done.ID)
		return &RunResult{Run: done, AlreadyCompleted: true}, nil
	}

	run, err := r.begin(ctx, p, domain.RunKindRecordPass, partition, w, logger)
	if err != nil {
		return nil, err
	}
	logger = logger.With("run_id", run.ID)
	logger.Info("record pass started")

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.RunTimeout)
	defer cancel()

	var counts domain.RunCounts
	failed := func(stage string, cause error) (*RunResult, error) {
		return &RunResult{Run: run}, r.fail(ctx, runCtx, p, run, counts, stage, cause, logger)
	}

	if err := r.ready(runCtx); err != nil {
		return failed("prerequisites", fmt.Errorf("store not ready: %w", err))
	}

	records, err := r.fetch(runCtx, p, w, partition, logger)
	if err != nil {
		return failed("fetch", err)
	}
	counts.RecordsRead = int64(len(records))

	execs, ann, err := r.annotate(runCtx, p, records, logger)
	counts.RecordsSkipped = ann.skipped
	counts.RecordsFailed = ann.failed
	if err != nil {
		return failed("annotate", err)
	}
	sortExecutions(execs)

	out, err := r.commit(runCtx, p, execs, logger)
	if err != nil {
		return failed("commit", err)
	}
	counts.RecordsProcessed = out.processed
	counts.RecordsDuplicate = out.duplicates
	counts.AlertsEmitted = int64(len(out.alerts))
	counts.AlertsSuppressed = int64(out.suppressed)

	if err := r.complete(ctx, run, counts); err != nil {
		return &RunResult{Run: run, Alerts: out.alerts}, err
	}
	recordMetrics(partition, w, counts, out)

	logger.Info("record pass completed",
		"read", counts.RecordsRead,
		"processed", counts.RecordsProcessed,
		"skipped", counts.RecordsSkipped,
		"duplicate", counts.RecordsDuplicate,
		"failed", counts.RecordsFailed,
		"patterns", out.patterns,
		"alerts", counts.AlertsEmitted,
		"suppressed", counts.AlertsSuppressed)

	if len(out.alerts) > 0 && r.deps.Notifier != nil {
		if err := r.deps.Notifier.NotifyAlerts(context.WithoutCancel(ctx), out.alerts); err != nil {
			logger.Warn("alert notification failed", "error", err)
		}
	}
	return &RunResult{Run: run, Alerts: out.alerts}, nil
}

// fetch pings the source and pulls the window, retrying transient failures
// with exponential backoff up to MaxSourceAttempts.
func (r *Runner) fetch(ctx context.Context, p *pipeline, w domain.Window, partition string, logger *slog.Logger) ([]domain.RawExecutionRecord, error) {
	backoff := retry.WithMaxRetries(uint64(p.cfg.MaxSourceAttempts-1), retry.NewExponential(p.cfg.SourceRetryDelay))

	var (
		records []domain.RawExecutionRecord
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			metrics.SourceRetriesTotal.Inc()
		}

		err := r.deps.Source.Ping(ctx)
		if err != nil && ctx.Err() == nil && !domain.IsTransient(err) {
			err = &domain.TransientSourceError{Err: fmt.Errorf("ping: %w", err)}
		}
		if err == nil {
			records, err = r.deps.Source.Fetch(ctx, w, partition)
		}
		if err != nil && domain.IsTransient(err) {
			logger.Warn("telemetry source unavailable",
				"attempt", attempt,
				"max_attempts", p.cfg.MaxSourceAttempts,
				"error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch records after %d attempt(s): %w", attempt, err)
	}
	return records, nil
}

// commit applies the annotated executions in one store transaction,
// retrying the whole transaction on merge conflicts.
func (r *Runner) commit(ctx context.Context, p *pipeline, execs []*domain.AnnotatedExecution, logger *slog.Logger) (*passOutcome, error) {
	backoff := retry.WithMaxRetries(uint64(p.cfg.MaxMergeAttempts-1), retry.NewExponential(p.cfg.MergeRetryDelay))

	var (
		out     *passOutcome
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		out = &passOutcome{}
		err := r.deps.Store.InPassTx(ctx, func(tx domain.PassTx) error {
			return r.apply(ctx, p, tx, execs, out)
		})
		if domain.IsMergeConflict(err) {
			metrics.MergeConflictsTotal.Inc()
			logger.Warn("pass transaction conflicted",
				"attempt", attempt,
				"max_attempts", p.cfg.MaxMergeAttempts,
				"error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// apply is the body of the pass transaction: store executions, merge
// pattern deltas, then detect and emit alerts. Records already stored by an
// earlier pass are counted as duplicates and contribute nothing.
func (r *Runner) apply(ctx context.Context, p *pipeline, tx domain.PassTx, execs []*domain.AnnotatedExecution, out *passOutcome) error {
	acc := aggregate.NewAccumulator()
	for _, e := range execs {
		inserted, err := tx.InsertExecution(ctx, e)
		if err != nil {
			return fmt.Errorf("insert execution %s: %w", e.ID, err)
		}
		if !inserted {
			out.duplicates++
			continue
		}
		out.processed++
		acc.Add(e)

		if !e.Terminal() {
			continue
		}
		b, err := tx.BaselineAt(ctx, e.Key(), e.StartTime)
		if err != nil {
			return fmt.Errorf("load baseline for %s: %w", e.ID, err)
		}
		out.candidates = append(out.candidates, p.detector.Detect(e, b)...)
	}

	deltas := acc.Deltas()
	for _, d := range deltas {
		if err := tx.MergePattern(ctx, d); err != nil {
			return fmt.Errorf("merge pattern %s: %w", d.PatternHash, err)
		}
	}
	out.patterns = len(deltas)

	res, err := p.emitter.Emit(ctx, tx, out.candidates)
	if err != nil {
		return err
	}
	out.alerts = res.Emitted
	out.suppressed = res.Suppressed
	return nil
}

// sortExecutions orders executions by start time, then id. Alert suppression
// depends on which of two nearby executions is seen first, so the pass must
// not depend on the order the source returned them in.
func sortExecutions(execs []*domain.AnnotatedExecution) {
	sort.Slice(execs, func(i, j int) bool {
		a, b := execs[i], execs[j]
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		return a.ID < b.ID
	})
}

func recordMetrics(partition string, w domain.Window, c domain.RunCounts, out *passOutcome) {
	metrics.RecordsTotal.WithLabelValues("processed").Add(float64(c.RecordsProcessed))
	metrics.RecordsTotal.WithLabelValues("skipped").Add(float64(c.RecordsSkipped))
	metrics.RecordsTotal.WithLabelValues("duplicate").Add(float64(c.RecordsDuplicate))
	metrics.RecordsTotal.WithLabelValues("failed").Add(float64(c.RecordsFailed))

	emitted := make(map[domain.AlertCategory]int)
	for _, a := range out.alerts {
		emitted[a.Category]++
	}
	seen := make(map[domain.AlertCategory]int)
	for _, c := range out.candidates {
		seen[c.Category]++
	}
	for cat, n := range seen {
		metrics.AlertsTotal.WithLabelValues(string(cat), "emitted").Add(float64(emitted[cat]))
		metrics.AlertsTotal.WithLabelValues(string(cat), "suppressed").Add(float64(n - emitted[cat]))
	}

	metrics.WatermarkSeconds.WithLabelValues(partition).Set(float64(w.End.Unix()))
}
