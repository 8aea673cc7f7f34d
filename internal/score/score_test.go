package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querypulse/internal/domain"
	"querypulse/internal/normalize"
)

func mustNormalize(t *testing.T, text string) *normalize.Result {
	t.Helper()
	res, err := normalize.Normalize(text)
	require.NoError(t, err)
	return res
}

func TestScore_WildcardWithUnboundedSort(t *testing.T) {
	s := New(DefaultConfig())
	got := s.Score(mustNormalize(t, "SELECT * FROM t ORDER BY x"), Metrics{})

	assert.Equal(t, domain.CategoryUnboundedSort, got.Category)
	assert.Equal(t, domain.CategoryUnboundedSort, got.Structural)
	assert.True(t, got.Features.SelectAll)
	assert.True(t, got.Features.UnboundedSort)
	assert.InDelta(t, 6.5, got.Optimization, 1e-9)
}

func TestScore_Categories(t *testing.T) {
	tests := []struct {
		name string
		text string
		want domain.PatternCategory
	}{
		{"select_all", "SELECT * FROM t", domain.CategorySelectAll},
		{"qualified_star", "SELECT t.* FROM t", domain.CategorySelectAll},
		{"count_star_is_fine", "SELECT count(*) FROM t", domain.CategoryStandard},
		{"sort_with_limit", "SELECT a FROM t ORDER BY a LIMIT 10", domain.CategoryStandard},
		{"sort_with_fetch", "SELECT a FROM t ORDER BY a FETCH FIRST 10 ROWS ONLY", domain.CategoryStandard},
		{"sort_inside_window", "SELECT a, row_number() OVER (ORDER BY b) FROM t", domain.CategoryStandard},
		{"sort_inside_aggregate", "SELECT string_agg(a, ',' ORDER BY a) FROM t", domain.CategoryStandard},
		{"cross_join", "SELECT a FROM x CROSS JOIN y", domain.CategoryCartesianJoin},
		{"join_without_on", "SELECT a FROM x JOIN y", domain.CategoryCartesianJoin},
		{"join_with_on", "SELECT a FROM x JOIN y ON x.id = y.id", domain.CategoryStandard},
		{"left_join_with_on", "SELECT a FROM x LEFT OUTER JOIN y ON x.id = y.id", domain.CategoryStandard},
		{"join_using", "SELECT a FROM x JOIN y USING (id)", domain.CategoryStandard},
		{"natural_join", "SELECT a FROM x NATURAL JOIN y", domain.CategoryStandard},
		{"join_subquery_with_on", "SELECT a FROM x JOIN (SELECT id FROM z WHERE event_date = '2024-01-01') s ON s.id = x.id", domain.CategoryStandard},
		{"unpartitioned_filter", "SELECT a FROM t WHERE status = 'ok'", domain.CategoryUnpartitionedFilter},
		{"partition_column", "SELECT a FROM t WHERE event_date = '2024-01-01'", domain.CategoryStandard},
		{"partition_suffix", "SELECT a FROM t WHERE t.load_dt > 5 AND status = 'ok'", domain.CategoryStandard},
		{"redundant_distinct", "SELECT DISTINCT a FROM t GROUP BY a", domain.CategoryRedundantDistinct},
		{"union", "SELECT a FROM t UNION SELECT a FROM u", domain.CategoryUnionOptimization},
		{"union_all", "SELECT a FROM t UNION ALL SELECT a FROM u", domain.CategoryStandard},
		{"high_complexity", "SELECT a, sum(b) OVER (PARTITION BY c) FROM x JOIN y ON x.id = y.id JOIN z ON z.id = y.id " +
			"WHERE x.dt = 1 GROUP BY a UNION ALL SELECT a, sum(b) OVER (PARTITION BY c) FROM x JOIN y ON x.id = y.id " +
			"WHERE x.dt = 1 GROUP BY a", domain.CategoryHighComplexity},
	}

	s := New(DefaultConfig())
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := s.Score(mustNormalize(t, tc.text), Metrics{})
			assert.Equal(t, tc.want, got.Category)
			assert.Equal(t, tc.want, got.Structural)
		})
	}
}

func TestScore_MetricCategories(t *testing.T) {
	s := New(DefaultConfig())
	res := mustNormalize(t, "SELECT a FROM t")

	slow := s.Score(res, Metrics{DurationMs: 120_000})
	assert.Equal(t, domain.CategoryLongRunning, slow.Category)
	assert.Equal(t, domain.CategoryStandard, slow.Structural)

	costly := s.Score(res, Metrics{CostUnits: 20})
	assert.Equal(t, domain.CategoryHighCost, costly.Category)

	both := s.Score(res, Metrics{DurationMs: 120_000, CostUnits: 20})
	assert.Equal(t, domain.CategoryLongRunning, both.Category, "LONG_RUNNING precedes HIGH_COST")

	// Structural anti-patterns outrank metric categories.
	wild := s.Score(mustNormalize(t, "SELECT * FROM t"), Metrics{DurationMs: 120_000})
	assert.Equal(t, domain.CategorySelectAll, wild.Category)
}

func TestComplexity(t *testing.T) {
	s := New(DefaultConfig())

	simple := s.Score(mustNormalize(t, "SELECT a FROM t"), Metrics{})
	// 1 + select(0.5) + length 15 chars * 0.5/1000
	assert.InDelta(t, 1.5075, simple.Complexity, 1e-9)

	joined := s.Score(mustNormalize(t, "SELECT a FROM x JOIN y ON x.id = y.id WHERE x.dt = 1 GROUP BY a ORDER BY a LIMIT 5"), Metrics{})
	assert.Greater(t, joined.Complexity, simple.Complexity)

	assert.Equal(t, MaxScore, s.Complexity(Features{Joins: 50}))
	assert.Equal(t, MinScore, New(Config{}).Complexity(Features{}))
}

func TestOptimization(t *testing.T) {
	s := New(DefaultConfig())

	tests := []struct {
		name    string
		text    string
		metrics Metrics
		want    float64
	}{
		{"clean", "SELECT a FROM t WHERE dt = 1", Metrics{}, 10},
		{"duration_ceiling", "SELECT a FROM t WHERE dt = 1", Metrics{DurationMs: 300_001}, 8},
		{"cost_ceiling", "SELECT a FROM t WHERE dt = 1", Metrics{CostUnits: 51}, 8},
		{"scan_ceiling", "SELECT a FROM t WHERE dt = 1", Metrics{BytesRead: 11 << 30}, 9},
		{"at_ceiling_not_penalized", "SELECT a FROM t WHERE dt = 1", Metrics{DurationMs: 300_000, CostUnits: 50}, 10},
		{"clamped_to_one", "SELECT DISTINCT * FROM a CROSS JOIN b WHERE x = 1 GROUP BY y ORDER BY z UNION SELECT 1",
			Metrics{DurationMs: 1_000_000, CostUnits: 1000, BytesRead: 1 << 40}, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := s.Score(mustNormalize(t, tc.text), tc.metrics)
			assert.InDelta(t, tc.want, got.Optimization, 1e-9)
		})
	}
}

func TestScore_SameHashSameStructure(t *testing.T) {
	s := New(DefaultConfig())
	a := s.Score(mustNormalize(t, "SELECT * FROM t WHERE id = 1"), Metrics{})
	b := s.Score(mustNormalize(t, "select *\nfrom t -- x\nwhere id = 99999"), Metrics{})
	assert.Equal(t, a.Structural, b.Structural)
	assert.Equal(t, a.Complexity, b.Complexity)
	assert.Equal(t, a.Features, b.Features)
}

func TestPatternCategory(t *testing.T) {
	s := New(DefaultConfig())

	assert.Equal(t, domain.CategorySelectAll, s.PatternCategory(domain.CategorySelectAll, 500_000, 500))
	assert.Equal(t, domain.CategoryLongRunning, s.PatternCategory(domain.CategoryStandard, 70_000, 0))
	assert.Equal(t, domain.CategoryHighCost, s.PatternCategory(domain.CategoryStandard, 1_000, 11))
	assert.Equal(t, domain.CategoryStandard, s.PatternCategory(domain.CategoryStandard, 1_000, 1))
}

func TestPriorityTier(t *testing.T) {
	s := New(DefaultConfig())

	tests := []struct {
		name       string
		structural domain.PatternCategory
		count      int64
		avgMs      float64
		avgCost    float64
		want       string
	}{
		{"frequent_anti_pattern", domain.CategorySelectAll, 10, 100, 0, domain.PriorityHigh},
		{"rare_anti_pattern", domain.CategorySelectAll, 3, 100, 0, domain.PriorityMedium},
		{"slow_standard", domain.CategoryStandard, 1, 90_000, 0, domain.PriorityHigh},
		{"expensive_standard", domain.CategoryStandard, 1, 100, 25, domain.PriorityMedium},
		{"healthy", domain.CategoryStandard, 1000, 100, 1, domain.PriorityLow},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, s.PriorityTier(tc.structural, tc.count, tc.avgMs, tc.avgCost))
		})
	}
}

func TestAnnotate(t *testing.T) {
	s := New(DefaultConfig())
	p := &domain.QueryPattern{
		StructuralCategory: domain.CategoryStandard,
		OccurrenceCount:    4,
		MeasuredCount:      4,
		TotalDurationMs:    400_000,
		TotalCost:          8,
	}
	s.Annotate(p)
	assert.Equal(t, domain.CategoryLongRunning, p.Category)
	assert.Equal(t, domain.PriorityHigh, p.PriorityTier)
}
