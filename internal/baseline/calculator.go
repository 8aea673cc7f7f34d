// Package baseline derives rolling performance baselines per (pattern,
// workspace, user) key from stored execution history.
package baseline

import (
	"math"
	"sort"
	"time"

	"querypulse/internal/domain"
)

// Config controls baseline computation.
type Config struct {
	MinSamples          int
	WindowDays          int
	ThresholdMultiplier float64
}

// DefaultConfig returns a 30-day window, 5 samples minimum and thresholds
// at twice the 95th percentile.
func DefaultConfig() Config {
	return Config{MinSamples: 5, WindowDays: 30, ThresholdMultiplier: 2}
}

// Calculator computes baseline snapshots. It holds no state between calls.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a Calculator.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Window returns the trailing window [end - WindowDays, end).
func (c *Calculator) Window(end time.Time) domain.Window {
	end = end.UTC()
	return domain.Window{Start: end.AddDate(0, 0, -c.cfg.WindowDays), End: end}
}

// Compute builds one baseline per key with at least MinSamples finished or
// failed executions inside w. Keys below the minimum are omitted; absence
// means insufficient data. Results are ordered by key.
func (c *Calculator) Compute(samples []domain.ExecutionSample, w domain.Window, computedAt time.Time) []domain.PerformanceBaseline {
	groups := make(map[domain.ScopeKey][]domain.ExecutionSample)
	for _, s := range samples {
		if !w.Contains(s.StartTime) {
			continue
		}
		if s.Status != domain.ExecutionStatusSuccess && s.Status != domain.ExecutionStatusFailed {
			continue
		}
		groups[s.Key] = append(groups[s.Key], s)
	}

	keys := make([]domain.ScopeKey, 0, len(groups))
	for k, g := range groups {
		if len(g) >= c.cfg.MinSamples {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })

	out := make([]domain.PerformanceBaseline, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.summarize(k, groups[k], w, computedAt))
	}
	return out
}

func (c *Calculator) summarize(key domain.ScopeKey, group []domain.ExecutionSample, w domain.Window, computedAt time.Time) domain.PerformanceBaseline {
	durations := make([]float64, len(group))
	costs := make([]float64, len(group))
	var sumDuration, sumCost float64
	var successes int
	for i, s := range group {
		durations[i] = float64(s.DurationMs)
		costs[i] = s.CostUnits
		sumDuration += durations[i]
		sumCost += costs[i]
		if s.Status == domain.ExecutionStatusSuccess {
			successes++
		}
	}
	n := float64(len(group))
	p95Duration := Percentile(durations, 0.95)
	p95Cost := Percentile(costs, 0.95)

	return domain.PerformanceBaseline{
		ID:                  domain.NewID(),
		PatternHash:         key.PatternHash,
		Workspace:           key.Workspace,
		User:                key.User,
		WindowStart:         w.Start,
		WindowEnd:           w.End,
		AvgDurationMs:       sumDuration / n,
		P95DurationMs:       p95Duration,
		AvgCost:             sumCost / n,
		P95Cost:             p95Cost,
		SuccessRate:         float64(successes) / n,
		SampleCount:         int64(len(group)),
		ThresholdDurationMs: p95Duration * c.cfg.ThresholdMultiplier,
		ThresholdCost:       p95Cost * c.cfg.ThresholdMultiplier,
		ComputedAt:          computedAt.UTC(),
	}
}

// Percentile returns the p-th quantile (0..1) of values using linear
// interpolation between closest ranks. values is sorted in place.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	rank := p * float64(len(values)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	return values[lo] + (values[hi]-values[lo])*(rank-float64(lo))
}

func lessKey(a, b domain.ScopeKey) bool {
	if a.PatternHash != b.PatternHash {
		return a.PatternHash < b.PatternHash
	}
	if a.Workspace != b.Workspace {
		return a.Workspace < b.Workspace
	}
	return a.User < b.User
}
