package baseline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querypulse/internal/domain"
	"querypulse/internal/testutil"
)

var windowEnd = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

func sample(key domain.ScopeKey, daysAgo int, durationMs int64, cost float64, status string) domain.ExecutionSample {
	return domain.ExecutionSample{
		Key:        key,
		StartTime:  windowEnd.AddDate(0, 0, -daysAgo),
		DurationMs: durationMs,
		CostUnits:  cost,
		Status:     status,
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		p      float64
		want   float64
	}{
		{"empty", nil, 0.95, 0},
		{"single", []float64{7}, 0.95, 7},
		{"interpolated", []float64{10, 20, 30, 40, 50}, 0.95, 48},
		{"unsorted_input", []float64{50, 10, 40, 20, 30}, 0.95, 48},
		{"median", []float64{1, 2, 3, 4}, 0.5, 2.5},
		{"max", []float64{1, 9, 3}, 1, 9},
		{"min", []float64{4, 9, 3}, 0, 3},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Percentile(tc.values, tc.p), 1e-9)
		})
	}
}

func TestCalculator_Compute(t *testing.T) {
	calc := NewCalculator(DefaultConfig())
	w := calc.Window(windowEnd)
	key := domain.ScopeKey{PatternHash: "h1", Workspace: "ws", User: "ana"}

	samples := []domain.ExecutionSample{
		sample(key, 1, 1000, 1, domain.ExecutionStatusSuccess),
		sample(key, 2, 2000, 2, domain.ExecutionStatusSuccess),
		sample(key, 3, 3000, 3, domain.ExecutionStatusSuccess),
		sample(key, 4, 4000, 4, domain.ExecutionStatusFailed),
		sample(key, 5, 5000, 5, domain.ExecutionStatusSuccess),
		// Ignored: non-terminal status, outside the window.
		sample(key, 6, 900_000, 90, domain.ExecutionStatusCanceled),
		sample(key, 31, 900_000, 90, domain.ExecutionStatusSuccess),
		{Key: key, StartTime: windowEnd, DurationMs: 900_000, Status: domain.ExecutionStatusSuccess},
	}

	now := windowEnd.Add(time.Minute)
	got := calc.Compute(samples, w, now)
	require.Len(t, got, 1)

	want := domain.PerformanceBaseline{
		PatternHash:         "h1",
		Workspace:           "ws",
		User:                "ana",
		WindowStart:         windowEnd.AddDate(0, 0, -30),
		WindowEnd:           windowEnd,
		AvgDurationMs:       3000,
		P95DurationMs:       4800,
		AvgCost:             3,
		P95Cost:             4.8,
		SuccessRate:         0.8,
		SampleCount:         5,
		ThresholdDurationMs: 9600,
		ThresholdCost:       9.6,
		ComputedAt:          now,
	}
	opts := cmp.Options{
		cmpopts.IgnoreFields(domain.PerformanceBaseline{}, "ID"),
		cmpopts.EquateApprox(0, 1e-9),
	}
	if diff := cmp.Diff(want, got[0], opts); diff != "" {
		t.Errorf("baseline mismatch (-want +got):\n%s", diff)
	}
	assert.NotEmpty(t, got[0].ID)
}

func TestCalculator_BelowMinimumHasNoBaseline(t *testing.T) {
	calc := NewCalculator(DefaultConfig())
	key := domain.ScopeKey{PatternHash: "sparse", Workspace: "ws", User: "bo"}

	var samples []domain.ExecutionSample
	for i := 0; i < 4; i++ {
		samples = append(samples, sample(key, i+1, 100, 1, domain.ExecutionStatusSuccess))
	}

	got := calc.Compute(samples, calc.Window(windowEnd), windowEnd)
	assert.Empty(t, got)
}

func TestCalculator_KeysAreIndependentAndOrdered(t *testing.T) {
	calc := NewCalculator(DefaultConfig())
	keys := []domain.ScopeKey{
		{PatternHash: "b", Workspace: "ws", User: "u"},
		{PatternHash: "a", Workspace: "ws2", User: "u"},
		{PatternHash: "a", Workspace: "ws1", User: "u"},
	}
	var samples []domain.ExecutionSample
	for _, k := range keys {
		for i := 0; i < 5; i++ {
			samples = append(samples, sample(k, i+1, 100, 1, domain.ExecutionStatusSuccess))
		}
	}

	got := calc.Compute(samples, calc.Window(windowEnd), windowEnd)
	require.Len(t, got, 3)
	assert.Equal(t, keys[2], got[0].Key())
	assert.Equal(t, keys[1], got[1].Key())
	assert.Equal(t, keys[0], got[2].Key())
}

func TestService_Recompute(t *testing.T) {
	key := domain.ScopeKey{PatternHash: "h1", Workspace: "ws", User: "ana"}
	repo := &testutil.MockBaselineRepo{
		SamplesFn: func(_ context.Context, w domain.Window) ([]domain.ExecutionSample, error) {
			assert.Equal(t, windowEnd, w.End)
			assert.Equal(t, windowEnd.AddDate(0, 0, -30), w.Start)
			var out []domain.ExecutionSample
			for i := 0; i < 6; i++ {
				out = append(out, sample(key, i+1, int64(1000*(i+1)), 1, domain.ExecutionStatusSuccess))
			}
			return out, nil
		},
	}
	svc := NewService(repo, NewCalculator(DefaultConfig()), slog.New(slog.DiscardHandler))

	res, err := svc.Recompute(context.Background(), windowEnd)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Samples)
	assert.Equal(t, 1, res.Baselined)
	require.Len(t, repo.Upserted, 1)
	assert.Equal(t, key, repo.Upserted[0].Key())
}

func TestService_RecomputeNoEligibleKeysSkipsUpsert(t *testing.T) {
	repo := &testutil.MockBaselineRepo{
		SamplesFn: func(_ context.Context, _ domain.Window) ([]domain.ExecutionSample, error) {
			return nil, nil
		},
		UpsertFn: func(_ context.Context, _ []domain.PerformanceBaseline) error {
			t.Fatal("upsert should not be called")
			return nil
		},
	}
	svc := NewService(repo, NewCalculator(DefaultConfig()), slog.New(slog.DiscardHandler))

	res, err := svc.Recompute(context.Background(), windowEnd)
	require.NoError(t, err)
	assert.Zero(t, res.Baselined)
}

func TestService_RecomputeErrors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("samples", func(t *testing.T) {
		repo := &testutil.MockBaselineRepo{
			SamplesFn: func(_ context.Context, _ domain.Window) ([]domain.ExecutionSample, error) {
				return nil, boom
			},
		}
		svc := NewService(repo, NewCalculator(DefaultConfig()), slog.New(slog.DiscardHandler))
		_, err := svc.Recompute(context.Background(), windowEnd)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("upsert", func(t *testing.T) {
		key := domain.ScopeKey{PatternHash: "h", Workspace: "w", User: "u"}
		repo := &testutil.MockBaselineRepo{
			SamplesFn: func(_ context.Context, _ domain.Window) ([]domain.ExecutionSample, error) {
				var out []domain.ExecutionSample
				for i := 0; i < 5; i++ {
					out = append(out, sample(key, i+1, 10, 1, domain.ExecutionStatusSuccess))
				}
				return out, nil
			},
			UpsertFn: func(_ context.Context, _ []domain.PerformanceBaseline) error {
				return fmt.Errorf("write: %w", boom)
			},
		}
		svc := NewService(repo, NewCalculator(DefaultConfig()), slog.New(slog.DiscardHandler))
		_, err := svc.Recompute(context.Background(), windowEnd)
		assert.ErrorIs(t, err, boom)
	})
}
