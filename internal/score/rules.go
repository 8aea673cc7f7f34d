package score

import "querypulse/internal/domain"

type ruleInput struct {
	features   Features
	complexity float64
	durationMs float64
	cost       float64
}

// rule maps a predicate to a category. Structural rules depend on the query
// text only and can be evaluated once per pattern.
type rule struct {
	category   domain.PatternCategory
	structural bool
	match      func(s *Scorer, in ruleInput) bool
}

// rules is evaluated in order; the first match wins. UNBOUNDED_SORT precedes
// SELECT_ALL so that `SELECT * ... ORDER BY` is reported as a sort problem.
var rules = []rule{
	{domain.CategoryUnboundedSort, true, func(_ *Scorer, in ruleInput) bool { return in.features.UnboundedSort }},
	{domain.CategorySelectAll, true, func(_ *Scorer, in ruleInput) bool { return in.features.SelectAll }},
	{domain.CategoryCartesianJoin, true, func(_ *Scorer, in ruleInput) bool { return in.features.CartesianJoin }},
	{domain.CategoryUnpartitionedFilter, true, func(_ *Scorer, in ruleInput) bool { return in.features.UnpartitionedFilter }},
	{domain.CategoryRedundantDistinct, true, func(_ *Scorer, in ruleInput) bool { return in.features.RedundantDistinct }},
	{domain.CategoryUnionOptimization, true, func(_ *Scorer, in ruleInput) bool { return in.features.UnionWithoutAll }},
	{domain.CategoryHighComplexity, true, func(s *Scorer, in ruleInput) bool {
		return s.cfg.HighComplexityThreshold > 0 && in.complexity >= s.cfg.HighComplexityThreshold
	}},
	{domain.CategoryLongRunning, false, func(s *Scorer, in ruleInput) bool {
		return s.cfg.SlowDurationFloorMs > 0 && in.durationMs > float64(s.cfg.SlowDurationFloorMs)
	}},
	{domain.CategoryHighCost, false, func(s *Scorer, in ruleInput) bool {
		return s.cfg.ExpensiveCostFloor > 0 && in.cost > s.cfg.ExpensiveCostFloor
	}},
}

func (s *Scorer) classify(in ruleInput, structuralOnly bool) domain.PatternCategory {
	for _, r := range rules {
		if structuralOnly && !r.structural {
			continue
		}
		if r.match(s, in) {
			return r.category
		}
	}
	return domain.CategoryStandard
}

// PatternCategory resolves the category of a stored pattern: its structural
// category, or LONG_RUNNING/HIGH_COST from its running averages when the
// text alone is unremarkable.
func (s *Scorer) PatternCategory(structural domain.PatternCategory, avgDurationMs, avgCost float64) domain.PatternCategory {
	if structural != "" && structural != domain.CategoryStandard {
		return structural
	}
	return s.classify(ruleInput{
		durationMs: avgDurationMs,
		cost:       avgCost,
	}, false)
}

// PriorityTier ranks a pattern for remediation. Frequent anti-patterns and
// slow patterns are HIGH; any anti-pattern or expensive pattern is MEDIUM.
func (s *Scorer) PriorityTier(structural domain.PatternCategory, count int64, avgDurationMs, avgCost float64) string {
	antiPattern := structural != "" && structural != domain.CategoryStandard
	slow := s.cfg.SlowDurationFloorMs > 0 && avgDurationMs > float64(s.cfg.SlowDurationFloorMs)
	expensive := s.cfg.ExpensiveCostFloor > 0 && avgCost > s.cfg.ExpensiveCostFloor
	switch {
	case (antiPattern && count >= s.cfg.HighPriorityMinCount) || slow:
		return domain.PriorityHigh
	case antiPattern || expensive:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

// Annotate fills the derived read-time fields of a stored pattern.
func (s *Scorer) Annotate(p *domain.QueryPattern) {
	p.Category = s.PatternCategory(p.StructuralCategory, p.AvgDurationMs(), p.AvgCost())
	p.PriorityTier = s.PriorityTier(p.StructuralCategory, p.OccurrenceCount, p.AvgDurationMs(), p.AvgCost())
}
