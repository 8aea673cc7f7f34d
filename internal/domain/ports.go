package domain

import (
	"context"
	"time"
)

// PatternDelta is a commutative (sum, count) contribution to one pattern.
// Deltas for the same hash can be combined in any order before or after
// they reach the store.
type PatternDelta struct {
	PatternHash        string
	Template           string
	StructuralCategory PatternCategory
	Count              int64
	MeasuredCount      int64
	SumDurationMs      float64
	SumCost            float64
	SumBytesRead       float64
	SumComplexity      float64
	SumOptimization    float64
	FirstSeen          time.Time
	LastSeen           time.Time
}

// PassTx is the transactional view of the store used by one record pass.
// Everything written through it commits or rolls back together.
type PassTx interface {
	// InsertExecution stores an annotated execution. It returns false when
	// the record ID was already ingested by an earlier pass.
	InsertExecution(ctx context.Context, e *AnnotatedExecution) (bool, error)
	// MergePattern adds a delta to the cumulative pattern state.
	MergePattern(ctx context.Context, d PatternDelta) error
	// BaselineAt returns the newest baseline for key whose window ended at
	// or before at, or nil when the key has no valid baseline.
	BaselineAt(ctx context.Context, key ScopeKey, at time.Time) (*PerformanceBaseline, error)
	// AlertExists reports whether an alert with the same category and
	// subject occurred within [from, to], or uses dedupKey.
	AlertExists(ctx context.Context, category AlertCategory, subject, dedupKey string, from, to time.Time) (bool, error)
	// InsertAlert stores an alert, returning false on a dedup key collision.
	InsertAlert(ctx context.Context, a *Alert) (bool, error)
}

// PassStore runs a record pass inside a single transaction.
type PassStore interface {
	InPassTx(ctx context.Context, fn func(tx PassTx) error) error
}

// RunRepository persists ETLRun audit records.
type RunRepository interface {
	Create(ctx context.Context, run *ETLRun) (*ETLRun, error)
	Complete(ctx context.Context, id string, counts RunCounts) error
	Fail(ctx context.Context, id string, counts RunCounts, errMsg string) error
	GetByID(ctx context.Context, id string) (*ETLRun, error)
	// FindByWindow returns the newest run of kind for the exact window and
	// partition in the given status, or nil when there is none.
	FindByWindow(ctx context.Context, kind, partition string, w Window, status string) (*ETLRun, error)
	// Watermark is the end of the contiguous prefix of completed windows,
	// or nil before the first completed run.
	Watermark(ctx context.Context, kind, partition string) (*time.Time, error)
	// CompletedWindows lists completed windows starting at or after from.
	CompletedWindows(ctx context.Context, kind, partition string, from time.Time) ([]Window, error)
	List(ctx context.Context, filter RunFilter) ([]ETLRun, error)
	PurgeFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}

// PatternRepository reads and sweeps cumulative pattern state.
type PatternRepository interface {
	Get(ctx context.Context, hash string) (*QueryPattern, error)
	List(ctx context.Context, filter PatternFilter) ([]QueryPattern, error)
	PurgeUnseenSince(ctx context.Context, before time.Time) (int64, error)
}

// BaselineRepository stores baseline snapshots and reads their inputs.
type BaselineRepository interface {
	// Samples returns terminal executions with start time in w, ordered by key.
	Samples(ctx context.Context, w Window) ([]ExecutionSample, error)
	Upsert(ctx context.Context, baselines []PerformanceBaseline) error
	Latest(ctx context.Context, key ScopeKey) (*PerformanceBaseline, error)
	List(ctx context.Context, filter BaselineFilter) ([]PerformanceBaseline, error)
	PurgeWindowEndedBefore(ctx context.Context, before time.Time) (int64, error)
}

// AlertRepository reads and sweeps persisted alerts.
type AlertRepository interface {
	List(ctx context.Context, filter AlertFilter) ([]Alert, error)
	PurgeOccurredBefore(ctx context.Context, before time.Time) (int64, error)
}

// ExecutionRepository sweeps stored execution history.
type ExecutionRepository interface {
	PurgeStartedBefore(ctx context.Context, before time.Time) (int64, error)
}

// TableHealth summarizes the volume and freshness of one output table.
type TableHealth struct {
	Table      string
	RowCount   int64
	LatestAt   *time.Time
	StaleAfter time.Duration
}

// Stale reports whether the newest row is older than StaleAfter at now.
func (h TableHealth) Stale(now time.Time) bool {
	if h.StaleAfter <= 0 {
		return false
	}
	if h.LatestAt == nil {
		return true
	}
	return now.Sub(*h.LatestAt) > h.StaleAfter
}

// HealthRepository reports table health for the post-run check.
type HealthRepository interface {
	TableHealth(ctx context.Context) ([]TableHealth, error)
}

// StoreMaintainer refreshes store statistics after a retention sweep.
type StoreMaintainer interface {
	// Optimize refreshes planner statistics; vacuum also reclaims the space
	// freed by deletes.
	Optimize(ctx context.Context, vacuum bool) error
}

// TelemetrySource supplies raw execution records.
type TelemetrySource interface {
	// Fetch returns every record with start time in w for partition. An empty
	// partition means all workspaces. Unavailability is reported as a
	// TransientSourceError.
	Fetch(ctx context.Context, w Window, partition string) ([]RawExecutionRecord, error)
	// Ping checks that the source is reachable.
	Ping(ctx context.Context) error
}

// Notifier delivers alerts and run failures outside the store. Delivery is
// best effort and never affects a committed pass.
type Notifier interface {
	NotifyAlerts(ctx context.Context, alerts []Alert) error
	NotifyRunFailed(ctx context.Context, run *ETLRun) error
}
