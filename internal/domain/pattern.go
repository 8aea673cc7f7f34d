package domain

import "time"

// PatternCategory is the closed taxonomy of query shapes.
type PatternCategory string

// Pattern categories in rule-table priority order.
const (
	CategoryUnboundedSort       PatternCategory = "UNBOUNDED_SORT"
	CategorySelectAll           PatternCategory = "SELECT_ALL"
	CategoryCartesianJoin       PatternCategory = "CARTESIAN_JOIN"
	CategoryUnpartitionedFilter PatternCategory = "UNPARTITIONED_FILTER"
	CategoryRedundantDistinct   PatternCategory = "REDUNDANT_DISTINCT"
	CategoryUnionOptimization   PatternCategory = "UNION_OPTIMIZATION"
	CategoryHighComplexity      PatternCategory = "HIGH_COMPLEXITY"
	CategoryLongRunning         PatternCategory = "LONG_RUNNING"
	CategoryHighCost            PatternCategory = "HIGH_COST"
	CategoryStandard            PatternCategory = "STANDARD"
)

// Priority tiers for patterns.
const (
	PriorityHigh   = "HIGH"
	PriorityMedium = "MEDIUM"
	PriorityLow    = "LOW"
)

// QueryPattern is the cumulative state of one normalized query shape.
//
// Totals are stored as (sum, count) pairs so that merges from independent
// passes or partitions commute; averages are derived on read.
type QueryPattern struct {
	PatternHash        string
	Template           string
	StructuralCategory PatternCategory
	FirstSeen          time.Time
	LastSeen           time.Time
	OccurrenceCount    int64
	// MeasuredCount counts the terminal executions behind the duration,
	// cost and bytes totals. Running or canceled executions only add to
	// OccurrenceCount.
	MeasuredCount     int64
	TotalDurationMs   float64
	TotalCost         float64
	TotalBytesRead    float64
	TotalComplexity   float64
	TotalOptimization float64

	// Derived on read.
	Category     PatternCategory
	PriorityTier string
}

func avg(total float64, n int64) float64 {
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// AvgDurationMs is the cumulative weighted average duration of terminal
// executions.
func (p *QueryPattern) AvgDurationMs() float64 { return avg(p.TotalDurationMs, p.MeasuredCount) }

// AvgCost is the cumulative weighted average cost of terminal executions.
func (p *QueryPattern) AvgCost() float64 { return avg(p.TotalCost, p.MeasuredCount) }

// AvgBytesRead is the cumulative weighted average bytes read by terminal
// executions.
func (p *QueryPattern) AvgBytesRead() float64 { return avg(p.TotalBytesRead, p.MeasuredCount) }

// AvgComplexity is the mean complexity score over all observations.
func (p *QueryPattern) AvgComplexity() float64 { return avg(p.TotalComplexity, p.OccurrenceCount) }

// AvgOptimization is the mean optimization score over all observations.
func (p *QueryPattern) AvgOptimization() float64 {
	return avg(p.TotalOptimization, p.OccurrenceCount)
}

// PatternFilter holds filter parameters for listing patterns.
type PatternFilter struct {
	Structural *PatternCategory
	SeenFrom   *time.Time
	Page       Page
}
