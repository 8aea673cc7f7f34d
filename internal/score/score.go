// Package score rates query executions for structural complexity and
// optimization quality, and classifies them into the pattern taxonomy.
//
// Everything here is a pure function of the normalized query and the
// execution metrics. Weights, penalties and thresholds are heuristics and
// are therefore carried in Config rather than hard-coded.
package score

import (
	"strings"

	"querypulse/internal/domain"
	"querypulse/internal/normalize"
)

// Score bounds.
const (
	MinScore = 1.0
	MaxScore = 10.0
)

// ComplexityWeights are the per-occurrence increments of the complexity
// score. Length is added per 1000 characters of normalized text.
type ComplexityWeights struct {
	Select  float64
	Join    float64
	Where   float64
	GroupBy float64
	OrderBy float64
	Union   float64
	Window  float64
	Length  float64
}

// OptimizationPenalties are subtracted from the optimization score.
type OptimizationPenalties struct {
	SelectAll           float64
	UnboundedSort       float64
	CartesianJoin       float64
	UnpartitionedFilter float64
	RedundantDistinct   float64
	UnionAll            float64
	DurationCeiling     float64
	CostCeiling         float64
	ScanCeiling         float64
}

// Config holds scorer and classifier settings.
type Config struct {
	Weights   ComplexityWeights
	Penalties OptimizationPenalties

	DurationCeilingMs int64
	CostCeiling       float64
	ScanCeilingBytes  int64

	HighComplexityThreshold float64
	SlowDurationFloorMs     int64
	ExpensiveCostFloor      float64

	// HighPriorityMinCount is the occurrence count at which an
	// anti-pattern becomes a HIGH priority pattern.
	HighPriorityMinCount int64

	PartitionColumns []string
}

// DefaultConfig returns the stock weights and penalties.
func DefaultConfig() Config {
	return Config{
		Weights: ComplexityWeights{
			Select:  0.5,
			Join:    1.0,
			Where:   0.5,
			GroupBy: 1.0,
			OrderBy: 0.5,
			Union:   1.5,
			Window:  1.5,
			Length:  0.5,
		},
		Penalties: OptimizationPenalties{
			SelectAll:           2,
			UnboundedSort:       1.5,
			CartesianJoin:       3,
			UnpartitionedFilter: 1,
			RedundantDistinct:   1,
			UnionAll:            1,
			DurationCeiling:     2,
			CostCeiling:         2,
			ScanCeiling:         1,
		},
		DurationCeilingMs:       300_000,
		CostCeiling:             50,
		ScanCeilingBytes:        10 << 30,
		HighComplexityThreshold: 8,
		SlowDurationFloorMs:     60_000,
		ExpensiveCostFloor:      10,
		HighPriorityMinCount:    10,
		PartitionColumns:        []string{"date", "dt", "ds", "event_date", "partition_date", "day", "hour"},
	}
}

// Metrics are the execution measurements that influence scoring.
type Metrics struct {
	DurationMs int64
	CostUnits  float64
	BytesRead  int64
}

// Scores is the scorer's verdict for one execution.
type Scores struct {
	Complexity   float64
	Optimization float64
	// Structural is the category implied by the query text alone.
	Structural domain.PatternCategory
	// Category additionally considers this execution's metrics.
	Category domain.PatternCategory
	Features Features
}

// Scorer applies a Config. It is safe for concurrent use.
type Scorer struct {
	cfg        Config
	partitions map[string]bool
}

// New creates a Scorer.
func New(cfg Config) *Scorer {
	partitions := make(map[string]bool, len(cfg.PartitionColumns))
	for _, c := range cfg.PartitionColumns {
		partitions[strings.ToLower(strings.TrimSpace(c))] = true
	}
	return &Scorer{cfg: cfg, partitions: partitions}
}

// Config returns the scorer's settings.
func (s *Scorer) Config() Config { return s.cfg }

// Features extracts structural features from a normalized query.
func (s *Scorer) Features(res *normalize.Result) Features {
	return Extract(res.Tokens, len(res.Normalized), s.partitions)
}

// Score rates one execution of a normalized query.
func (s *Scorer) Score(res *normalize.Result, m Metrics) Scores {
	f := s.Features(res)
	complexity := s.Complexity(f)
	in := ruleInput{
		features:   f,
		complexity: complexity,
		durationMs: float64(m.DurationMs),
		cost:       m.CostUnits,
	}
	return Scores{
		Complexity:   complexity,
		Optimization: s.Optimization(f, m),
		Structural:   s.classify(in, true),
		Category:     s.classify(in, false),
		Features:     f,
	}
}

// Complexity starts at 1 and adds weighted keyword counts and a length
// contribution, clamped to [1, 10].
func (s *Scorer) Complexity(f Features) float64 {
	w := s.cfg.Weights
	score := MinScore +
		w.Select*float64(f.Selects) +
		w.Join*float64(f.Joins) +
		w.Where*float64(f.Wheres) +
		w.GroupBy*float64(f.GroupBys) +
		w.OrderBy*float64(f.OrderBys) +
		w.Union*float64(f.Unions) +
		w.Window*float64(f.Windows) +
		w.Length*float64(f.Length)/1000
	return clamp(score)
}

// Optimization starts at 10 and subtracts a penalty per detected
// anti-pattern and per exceeded ceiling, clamped to [1, 10].
func (s *Scorer) Optimization(f Features, m Metrics) float64 {
	p := s.cfg.Penalties
	score := MaxScore
	if f.SelectAll {
		score -= p.SelectAll
	}
	if f.UnboundedSort {
		score -= p.UnboundedSort
	}
	if f.CartesianJoin {
		score -= p.CartesianJoin
	}
	if f.UnpartitionedFilter {
		score -= p.UnpartitionedFilter
	}
	if f.RedundantDistinct {
		score -= p.RedundantDistinct
	}
	if f.UnionWithoutAll {
		score -= p.UnionAll
	}
	if s.cfg.DurationCeilingMs > 0 && m.DurationMs > s.cfg.DurationCeilingMs {
		score -= p.DurationCeiling
	}
	if s.cfg.CostCeiling > 0 && m.CostUnits > s.cfg.CostCeiling {
		score -= p.CostCeiling
	}
	if s.cfg.ScanCeilingBytes > 0 && m.BytesRead > s.cfg.ScanCeilingBytes {
		score -= p.ScanCeiling
	}
	return clamp(score)
}

func clamp(v float64) float64 {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}
