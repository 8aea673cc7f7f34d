package etl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"querypulse/internal/domain"
	"querypulse/internal/normalize"
	"querypulse/internal/score"
)

type annotateCounts struct {
	skipped int64
	failed  int64
}

// annotate normalizes and scores records in parallel, bounded by
// AnnotateWorkers. Malformed records are skipped and records whose
// annotation panics are counted as failed; neither stops the pass. The
// returned executions keep the source order.
func (r *Runner) annotate(ctx context.Context, p *pipeline, records []domain.RawExecutionRecord, logger *slog.Logger) ([]*domain.AnnotatedExecution, annotateCounts, error) {
	results := make([]*domain.AnnotatedExecution, len(records))
	errs := make([]error, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.AnnotateWorkers)
	for i := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], errs[i] = Annotate(p.scorer, records[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, annotateCounts{}, err
	}

	var counts annotateCounts
	out := make([]*domain.AnnotatedExecution, 0, len(records))
	for i, err := range errs {
		switch {
		case err == nil:
			out = append(out, results[i])
		case domain.IsInvalidInput(err):
			counts.skipped++
			logger.Warn("skipping malformed record", "record_id", records[i].ID, "error", err)
		default:
			counts.failed++
			logger.Error("record annotation failed", "record_id", records[i].ID, "error", err)
		}
	}
	return out, counts, nil
}

// Annotate validates, normalizes and scores one record.
func Annotate(s *score.Scorer, rec domain.RawExecutionRecord) (exec *domain.AnnotatedExecution, err error) {
	defer func() {
		if v := recover(); v != nil {
			exec, err = nil, fmt.Errorf("annotate record %s: panic: %v", rec.ID, v)
		}
	}()

	rec.Status = domain.NormalizeExecutionStatus(rec.Status)
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	res, err := normalize.Normalize(rec.QueryText)
	if err != nil {
		var invalid *domain.InvalidInputError
		if errors.As(err, &invalid) {
			return nil, domain.ErrInvalidInput(rec.ID, "%s", invalid.Message)
		}
		return nil, err
	}

	sc := s.Score(res, score.Metrics{
		DurationMs: rec.DurationMs,
		CostUnits:  rec.CostUnits,
		BytesRead:  rec.BytesRead,
	})
	return &domain.AnnotatedExecution{
		RawExecutionRecord: rec,
		PatternHash:        res.Hash,
		Template:           res.Template,
		ComplexityScore:    sc.Complexity,
		OptimizationScore:  sc.Optimization,
		Category:           sc.Category,
		StructuralCategory: sc.Structural,
	}, nil
}
