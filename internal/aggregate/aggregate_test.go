package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querypulse/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func execution(hash string, durationMs int64, cost float64, at time.Time) *domain.AnnotatedExecution {
	return &domain.AnnotatedExecution{
		RawExecutionRecord: domain.RawExecutionRecord{
			ID:         hash + at.String(),
			StartTime:  at,
			DurationMs: durationMs,
			CostUnits:  cost,
			BytesRead:  1000,
			Status:     domain.ExecutionStatusSuccess,
		},
		PatternHash:        hash,
		Template:           "select ?",
		StructuralCategory: domain.CategoryStandard,
		ComplexityScore:    2,
		OptimizationScore:  9,
	}
}

func TestAccumulator_AverageEqualsMean(t *testing.T) {
	durations := []int64{100, 250, 400, 1000, 50, 75}
	acc := NewAccumulator()
	var sum float64
	for i, d := range durations {
		acc.Add(execution("h1", d, float64(i), t0.Add(time.Duration(i)*time.Minute)))
		sum += float64(d)
	}

	deltas := acc.Deltas()
	require.Len(t, deltas, 1)
	p := Apply(nil, deltas[0])
	assert.Equal(t, int64(len(durations)), p.OccurrenceCount)
	assert.InDelta(t, sum/float64(len(durations)), p.AvgDurationMs(), 1e-9)
	assert.Equal(t, t0, p.FirstSeen)
	assert.Equal(t, t0.Add(5*time.Minute), p.LastSeen)
}

func TestStats_MergeIsCommutativeAndAssociative(t *testing.T) {
	a := Observe(execution("h", 100, 1, t0))
	b := Observe(execution("h", 300, 2, t0.Add(time.Hour)))
	c := Observe(execution("h", 800, 4, t0.Add(-time.Hour)))

	assert.Equal(t, a.Merge(b), b.Merge(a))
	assert.Equal(t, a.Merge(b).Merge(c), a.Merge(b.Merge(c)))

	all := a.Merge(b).Merge(c)
	assert.Equal(t, int64(3), all.Count)
	assert.InDelta(t, 400, all.AvgDurationMs(), 1e-9)
	assert.InDelta(t, 7.0/3.0, all.AvgCost(), 1e-9)
	assert.Equal(t, t0.Add(-time.Hour), all.FirstSeen)
	assert.Equal(t, t0.Add(time.Hour), all.LastSeen)
}

func TestAccumulator_RunningExecutionsCountButDoNotSkewAverages(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(execution("h", 100, 1, t0))
	acc.Add(execution("h", 300, 3, t0.Add(time.Minute)))
	running := execution("h", 5, 0.1, t0.Add(2*time.Minute))
	running.Status = domain.ExecutionStatusRunning
	acc.Add(running)

	d := acc.Deltas()[0]
	assert.Equal(t, int64(3), d.Count)
	assert.Equal(t, int64(2), d.MeasuredCount)

	p := Apply(nil, d)
	assert.InDelta(t, 200, p.AvgDurationMs(), 1e-9)
	assert.InDelta(t, 2, p.AvgCost(), 1e-9)
	assert.InDelta(t, 1000, p.AvgBytesRead(), 1e-9)
	assert.InDelta(t, 2, p.AvgComplexity(), 1e-9, "text scores average over every occurrence")
	assert.Equal(t, t0.Add(2*time.Minute), p.LastSeen)
}

func TestStats_MergeEmpty(t *testing.T) {
	a := Observe(execution("h", 100, 1, t0))
	assert.Equal(t, a, a.Merge(Stats{}))
	assert.Equal(t, a, Stats{}.Merge(a))
	assert.Zero(t, Stats{}.AvgDurationMs())
}

func TestMergeAverage(t *testing.T) {
	tests := []struct {
		name     string
		oldAvg   float64
		oldCount int64
		newAvg   float64
		newCount int64
		want     float64
	}{
		{"first_observation", 0, 0, 42, 1, 42},
		{"equal_weight", 10, 1, 20, 1, 15},
		{"weighted", 100, 3, 200, 1, 125},
		{"empty", 0, 0, 0, 0, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, MergeAverage(tc.oldAvg, tc.oldCount, tc.newAvg, tc.newCount), 1e-9)
		})
	}
}

func TestApply_SplitBatchesMatchSingleBatch(t *testing.T) {
	execs := []*domain.AnnotatedExecution{
		execution("h", 10, 1, t0),
		execution("h", 20, 2, t0.Add(time.Minute)),
		execution("h", 30, 3, t0.Add(2*time.Minute)),
		execution("h", 40, 4, t0.Add(3*time.Minute)),
	}

	whole := NewAccumulator()
	for _, e := range execs {
		whole.Add(e)
	}
	single := Apply(nil, whole.Deltas()[0])

	first, second := NewAccumulator(), NewAccumulator()
	first.Add(execs[2])
	first.Add(execs[0])
	second.Add(execs[3])
	second.Add(execs[1])

	// Deltas applied in either order converge.
	ab := Apply(Apply(nil, first.Deltas()[0]), second.Deltas()[0])
	ba := Apply(Apply(nil, second.Deltas()[0]), first.Deltas()[0])

	assert.Equal(t, single, ab)
	assert.Equal(t, single, ba)
	assert.InDelta(t, 25, ab.AvgDurationMs(), 1e-9)
}

func TestAccumulator_DeltasSortedByHash(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(execution("c", 1, 0, t0))
	acc.Add(execution("a", 1, 0, t0))
	acc.Add(execution("b", 1, 0, t0))
	acc.Add(execution("a", 3, 0, t0))

	deltas := acc.Deltas()
	require.Len(t, deltas, 3)
	assert.Equal(t, 3, acc.Len())
	assert.Equal(t, []string{"a", "b", "c"}, []string{deltas[0].PatternHash, deltas[1].PatternHash, deltas[2].PatternHash})
	assert.Equal(t, int64(2), deltas[0].Count)
	assert.InDelta(t, 4, deltas[0].SumDurationMs, 1e-9)
}
