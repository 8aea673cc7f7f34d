// Package aggregate folds annotated executions into per-pattern statistics.
//
// Statistics are kept as (sum, count) pairs. Merging two Stats is
// commutative and associative, so deltas from separate passes or parallel
// partitions can reach the store in any order and averages are recovered at
// read time.
package aggregate

import (
	"sort"
	"time"

	"querypulse/internal/domain"
)

// Stats is a mergeable summary of one or more observations of a pattern.
//
// Count includes every observation; Measured counts only the terminal
// executions whose duration, cost and bytes enter the sums, since a running
// execution reports a partial duration.
type Stats struct {
	Count           int64
	Measured        int64
	SumDurationMs   float64
	SumCost         float64
	SumBytesRead    float64
	SumComplexity   float64
	SumOptimization float64
	FirstSeen       time.Time
	LastSeen        time.Time
}

// Observe summarizes a single execution.
func Observe(e *domain.AnnotatedExecution) Stats {
	s := Stats{
		Count:           1,
		SumComplexity:   e.ComplexityScore,
		SumOptimization: e.OptimizationScore,
		FirstSeen:       e.StartTime,
		LastSeen:        e.StartTime,
	}
	if e.Terminal() {
		s.Measured = 1
		s.SumDurationMs = float64(e.DurationMs)
		s.SumCost = e.CostUnits
		s.SumBytesRead = float64(e.BytesRead)
	}
	return s
}

// Merge combines two summaries.
func (s Stats) Merge(o Stats) Stats {
	if s.Count == 0 {
		return o
	}
	if o.Count == 0 {
		return s
	}
	out := Stats{
		Count:           s.Count + o.Count,
		Measured:        s.Measured + o.Measured,
		SumDurationMs:   s.SumDurationMs + o.SumDurationMs,
		SumCost:         s.SumCost + o.SumCost,
		SumBytesRead:    s.SumBytesRead + o.SumBytesRead,
		SumComplexity:   s.SumComplexity + o.SumComplexity,
		SumOptimization: s.SumOptimization + o.SumOptimization,
		FirstSeen:       s.FirstSeen,
		LastSeen:        s.LastSeen,
	}
	if o.FirstSeen.Before(out.FirstSeen) {
		out.FirstSeen = o.FirstSeen
	}
	if o.LastSeen.After(out.LastSeen) {
		out.LastSeen = o.LastSeen
	}
	return out
}

// AvgDurationMs returns the mean duration of measured executions, or 0
// when there are none.
func (s Stats) AvgDurationMs() float64 { return mean(s.SumDurationMs, s.Measured) }

// AvgCost returns the mean cost of measured executions, or 0 when there
// are none.
func (s Stats) AvgCost() float64 { return mean(s.SumCost, s.Measured) }

func mean(sum float64, n int64) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// MergeAverage is the cumulative weighted average
// (oldAvg*oldCount + newAvg*newCount) / (oldCount + newCount).
func MergeAverage(oldAvg float64, oldCount int64, newAvg float64, newCount int64) float64 {
	total := oldCount + newCount
	if total == 0 {
		return 0
	}
	return (oldAvg*float64(oldCount) + newAvg*float64(newCount)) / float64(total)
}

type entry struct {
	template   string
	structural domain.PatternCategory
	stats      Stats
}

// Accumulator groups executions by pattern hash. It is not safe for
// concurrent use; each pass owns one.
type Accumulator struct {
	patterns map[string]*entry
}

// NewAccumulator creates an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{patterns: make(map[string]*entry)}
}

// Add folds one execution into its pattern's summary.
func (a *Accumulator) Add(e *domain.AnnotatedExecution) {
	obs := Observe(e)
	if cur, ok := a.patterns[e.PatternHash]; ok {
		cur.stats = cur.stats.Merge(obs)
		return
	}
	a.patterns[e.PatternHash] = &entry{
		template:   e.Template,
		structural: e.StructuralCategory,
		stats:      obs,
	}
}

// Len returns the number of distinct patterns seen.
func (a *Accumulator) Len() int { return len(a.patterns) }

// Deltas returns one delta per pattern, ordered by hash so that writers
// always touch keys in the same order.
func (a *Accumulator) Deltas() []domain.PatternDelta {
	out := make([]domain.PatternDelta, 0, len(a.patterns))
	for hash, e := range a.patterns {
		out = append(out, ToDelta(hash, e.template, e.structural, e.stats))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatternHash < out[j].PatternHash })
	return out
}

// ToDelta packages a summary for the store.
func ToDelta(hash, template string, structural domain.PatternCategory, s Stats) domain.PatternDelta {
	return domain.PatternDelta{
		PatternHash:        hash,
		Template:           template,
		StructuralCategory: structural,
		Count:              s.Count,
		MeasuredCount:      s.Measured,
		SumDurationMs:      s.SumDurationMs,
		SumCost:            s.SumCost,
		SumBytesRead:       s.SumBytesRead,
		SumComplexity:      s.SumComplexity,
		SumOptimization:    s.SumOptimization,
		FirstSeen:          s.FirstSeen,
		LastSeen:           s.LastSeen,
	}
}

// Apply merges a delta into a pattern in memory, creating it when p is nil.
// It mirrors the store's additive upsert.
func Apply(p *domain.QueryPattern, d domain.PatternDelta) *domain.QueryPattern {
	if p == nil {
		return &domain.QueryPattern{
			PatternHash:        d.PatternHash,
			Template:           d.Template,
			StructuralCategory: d.StructuralCategory,
			FirstSeen:          d.FirstSeen,
			LastSeen:           d.LastSeen,
			OccurrenceCount:    d.Count,
			MeasuredCount:      d.MeasuredCount,
			TotalDurationMs:    d.SumDurationMs,
			TotalCost:          d.SumCost,
			TotalBytesRead:     d.SumBytesRead,
			TotalComplexity:    d.SumComplexity,
			TotalOptimization:  d.SumOptimization,
		}
	}
	merged := Stats{
		Count:           p.OccurrenceCount,
		Measured:        p.MeasuredCount,
		SumDurationMs:   p.TotalDurationMs,
		SumCost:         p.TotalCost,
		SumBytesRead:    p.TotalBytesRead,
		SumComplexity:   p.TotalComplexity,
		SumOptimization: p.TotalOptimization,
		FirstSeen:       p.FirstSeen,
		LastSeen:        p.LastSeen,
	}.Merge(Stats{
		Count:           d.Count,
		Measured:        d.MeasuredCount,
		SumDurationMs:   d.SumDurationMs,
		SumCost:         d.SumCost,
		SumBytesRead:    d.SumBytesRead,
		SumComplexity:   d.SumComplexity,
		SumOptimization: d.SumOptimization,
		FirstSeen:       d.FirstSeen,
		LastSeen:        d.LastSeen,
	})
	out := *p
	out.OccurrenceCount = merged.Count
	out.MeasuredCount = merged.Measured
	out.TotalDurationMs = merged.SumDurationMs
	out.TotalCost = merged.SumCost
	out.TotalBytesRead = merged.SumBytesRead
	out.TotalComplexity = merged.SumComplexity
	out.TotalOptimization = merged.SumOptimization
	out.FirstSeen = merged.FirstSeen
	out.LastSeen = merged.LastSeen
	return &out
}
