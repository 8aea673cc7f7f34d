package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querypulse/internal/domain"
)

var startedAt = time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)

func exec(durationMs int64, cost float64, bytes int64, status string) *domain.AnnotatedExecution {
	return &domain.AnnotatedExecution{
		RawExecutionRecord: domain.RawExecutionRecord{
			ID:         "rec-1",
			Workspace:  "ws",
			User:       "ana",
			StartTime:  startedAt,
			DurationMs: durationMs,
			CostUnits:  cost,
			BytesRead:  bytes,
			Status:     status,
		},
		PatternHash: "abc",
	}
}

// quiet disables every absolute floor so only baseline checks fire.
func quiet() *Detector { return New(Config{}) }

func categories(cs []domain.AlertCandidate) []domain.AlertCategory {
	var out []domain.AlertCategory
	for _, c := range cs {
		out = append(out, c.Category)
	}
	return out
}

func TestDetect_BaselineSeverity(t *testing.T) {
	b := &domain.PerformanceBaseline{AvgDurationMs: 10_000, ThresholdDurationMs: 20_000}

	tests := []struct {
		name       string
		durationMs int64
		want       domain.Severity
	}{
		{"critical_above_2x", 45_000, domain.SeverityCritical},
		{"high_above_1_5x", 35_000, domain.SeverityHigh},
		{"medium_above_threshold", 25_000, domain.SeverityMedium},
		{"none_below_threshold", 15_000, ""},
		{"none_at_threshold", 20_000, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := quiet().Detect(exec(tc.durationMs, 0, 0, domain.ExecutionStatusSuccess), b)
			if tc.want == "" {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, domain.AlertPerformanceAnomaly, got[0].Category)
			assert.Equal(t, tc.want, got[0].Severity)
			assert.InDelta(t, float64(tc.durationMs), got[0].ObservedValue, 1e-9)
			assert.InDelta(t, 20_000, got[0].ThresholdValue, 1e-9)
			assert.Equal(t, startedAt, got[0].OccurredAt)
		})
	}
}

func TestDetect_NoBaselineNoAnomaly(t *testing.T) {
	got := quiet().Detect(exec(10_000_000, 1000, 0, domain.ExecutionStatusSuccess), nil)
	assert.Empty(t, got)

	withFloors := New(DefaultConfig()).Detect(exec(10_000_000, 1000, 1<<31, domain.ExecutionStatusSuccess), nil)
	assert.NotContains(t, categories(withFloors), domain.AlertPerformanceAnomaly)
	assert.Contains(t, categories(withFloors), domain.AlertSlowQuery)
}

func TestDetect_AnomalyPicksWorseDimension(t *testing.T) {
	b := &domain.PerformanceBaseline{
		AvgDurationMs:       10_000,
		ThresholdDurationMs: 20_000,
		AvgCost:             1,
		ThresholdCost:       2,
	}
	got := quiet().Detect(exec(25_000, 5, 0, domain.ExecutionStatusSuccess), b)
	require.Len(t, got, 1)
	assert.Equal(t, domain.SeverityCritical, got[0].Severity)
	assert.InDelta(t, 5, got[0].ObservedValue, 1e-9)
	assert.Contains(t, got[0].Message, "cost")
}

func TestDetect_ZeroThresholdIgnored(t *testing.T) {
	b := &domain.PerformanceBaseline{AvgDurationMs: 0, ThresholdDurationMs: 0}
	assert.Empty(t, quiet().Detect(exec(5_000, 0, 0, domain.ExecutionStatusSuccess), b))
}

func TestDetect_AbsoluteTiers(t *testing.T) {
	d := New(Config{SlowDurationFloorMs: 1_000, ExpensiveCostFloor: 10, LargeScanByteFloor: 100})

	tests := []struct {
		name     string
		e        *domain.AnnotatedExecution
		category domain.AlertCategory
		want     domain.Severity
	}{
		{"slow_medium", exec(1_500, 0, 0, domain.ExecutionStatusSuccess), domain.AlertSlowQuery, domain.SeverityMedium},
		{"slow_high", exec(2_000, 0, 0, domain.ExecutionStatusSuccess), domain.AlertSlowQuery, domain.SeverityHigh},
		{"slow_critical", exec(4_000, 0, 0, domain.ExecutionStatusSuccess), domain.AlertSlowQuery, domain.SeverityCritical},
		{"expensive_medium", exec(0, 11, 0, domain.ExecutionStatusSuccess), domain.AlertExpensiveQuery, domain.SeverityMedium},
		{"expensive_critical", exec(0, 40, 0, domain.ExecutionStatusSuccess), domain.AlertExpensiveQuery, domain.SeverityCritical},
		{"failed", exec(0, 0, 0, domain.ExecutionStatusFailed), domain.AlertFailedQuery, domain.SeverityHigh},
		{"large_scan", exec(0, 0, 101, domain.ExecutionStatusSuccess), domain.AlertLargeScan, domain.SeverityMedium},
		{"huge_scan", exec(0, 0, 1_000, domain.ExecutionStatusSuccess), domain.AlertLargeScan, domain.SeverityHigh},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := d.Detect(tc.e, nil)
			require.Len(t, got, 1, "categories: %v", categories(got))
			assert.Equal(t, tc.category, got[0].Category)
			assert.Equal(t, tc.want, got[0].Severity)
			assert.Equal(t, domain.ScopeKey{PatternHash: "abc", Workspace: "ws", User: "ana"}, got[0].Key)
			assert.Equal(t, "rec-1", got[0].ExecutionID)
		})
	}
}

func TestDetect_AtFloorNoAlert(t *testing.T) {
	d := New(Config{SlowDurationFloorMs: 1_000, ExpensiveCostFloor: 10, LargeScanByteFloor: 100})
	assert.Empty(t, d.Detect(exec(1_000, 10, 100, domain.ExecutionStatusSuccess), nil))
}

func TestDetect_ResourceUnderutilized(t *testing.T) {
	d := New(Config{SlowDurationFloorMs: 1_000, UnderutilizedByteCeiling: 1 << 20})

	got := d.Detect(exec(1_500, 0, 1024, domain.ExecutionStatusSuccess), nil)
	assert.Equal(t, []domain.AlertCategory{domain.AlertSlowQuery, domain.AlertResourceUnderutilized}, categories(got))

	busy := d.Detect(exec(1_500, 0, 2<<20, domain.ExecutionStatusSuccess), nil)
	assert.Equal(t, []domain.AlertCategory{domain.AlertSlowQuery}, categories(busy))
}

func TestDetect_MultipleAlerts(t *testing.T) {
	b := &domain.PerformanceBaseline{AvgDurationMs: 10_000, ThresholdDurationMs: 20_000}
	got := New(DefaultConfig()).Detect(exec(500_000, 100, 20<<30, domain.ExecutionStatusFailed), b)
	assert.Equal(t, []domain.AlertCategory{
		domain.AlertPerformanceAnomaly,
		domain.AlertSlowQuery,
		domain.AlertExpensiveQuery,
		domain.AlertFailedQuery,
		domain.AlertLargeScan,
	}, categories(got))
}

func TestDetect_NonTerminalIgnored(t *testing.T) {
	b := &domain.PerformanceBaseline{AvgDurationMs: 1, ThresholdDurationMs: 1}
	for _, status := range []string{domain.ExecutionStatusRunning, domain.ExecutionStatusCanceled, domain.ExecutionStatusOther} {
		assert.Empty(t, New(DefaultConfig()).Detect(exec(10_000_000, 1000, 1<<40, status), b), status)
	}
}

func TestDeviation(t *testing.T) {
	assert.InDelta(t, 3.5, Deviation(45_000, 10_000), 1e-9)
	assert.Zero(t, Deviation(5, 0))
}
