package domain

import "time"

// PerformanceBaseline is a point-in-time reference for one (pattern,
// workspace, user) key, computed from the trailing window that ends at
// WindowEnd. A later computation for the same key and window-end date
// supersedes it; snapshots for other dates are never modified.
type PerformanceBaseline struct {
	ID                  string
	PatternHash         string
	Workspace           string
	User                string
	WindowStart         time.Time
	WindowEnd           time.Time
	AvgDurationMs       float64
	P95DurationMs       float64
	AvgCost             float64
	P95Cost             float64
	SuccessRate         float64
	SampleCount         int64
	ThresholdDurationMs float64
	ThresholdCost       float64
	ComputedAt          time.Time
}

// Key returns the scope key of the baseline.
func (b *PerformanceBaseline) Key() ScopeKey {
	return ScopeKey{PatternHash: b.PatternHash, Workspace: b.Workspace, User: b.User}
}

// BaselineFilter holds filter parameters for listing baselines.
type BaselineFilter struct {
	PatternHash *string
	Workspace   *string
	User        *string
	Page        Page
}
