package baseline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"querypulse/internal/domain"
)

// Result summarizes one recomputation.
type Result struct {
	Window    domain.Window
	Samples   int
	Baselined int
}

// Service recomputes and stores baseline snapshots.
type Service struct {
	repo   domain.BaselineRepository
	calc   *Calculator
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new baseline Service.
func NewService(repo domain.BaselineRepository, calc *Calculator, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		calc:   calc,
		logger: logger,
		now:    time.Now,
	}
}

// Recompute builds baselines from the trailing window ending at windowEnd
// and upserts them as the snapshot for windowEnd's date. Snapshots for other
// dates are left untouched, so alerting against them is unaffected.
func (s *Service) Recompute(ctx context.Context, windowEnd time.Time) (*Result, error) {
	w := s.calc.Window(windowEnd)
	samples, err := s.repo.Samples(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("load baseline samples: %w", err)
	}

	baselines := s.calc.Compute(samples, w, s.now())
	if len(baselines) > 0 {
		if err := s.repo.Upsert(ctx, baselines); err != nil {
			return nil, fmt.Errorf("store baselines: %w", err)
		}
	}

	s.logger.Info("baselines recomputed",
		"window", w.String(),
		"samples", len(samples),
		"baselined", len(baselines))

	return &Result{Window: w, Samples: len(samples), Baselined: len(baselines)}, nil
}

// Latest returns the newest baseline for key, or NotFoundError.
func (s *Service) Latest(ctx context.Context, key domain.ScopeKey) (*domain.PerformanceBaseline, error) {
	return s.repo.Latest(ctx, key)
}

// List returns stored baselines.
func (s *Service) List(ctx context.Context, filter domain.BaselineFilter) ([]domain.PerformanceBaseline, error) {
	return s.repo.List(ctx, filter)
}
