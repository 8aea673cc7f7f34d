package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"querypulse/internal/db"
	"querypulse/internal/domain"
)

// Compile-time check.
var _ domain.BaselineRepository = (*BaselineRepo)(nil)

const baselineColumns = `id, pattern_hash, workspace, user_name, window_end_date, window_start, window_end,
    avg_duration_ms, p95_duration_ms, avg_cost, p95_cost, success_rate, sample_count,
    threshold_duration_ms, threshold_cost, computed_at`

type baselineRow struct {
	ID                  string  `db:"id"`
	PatternHash         string  `db:"pattern_hash"`
	Workspace           string  `db:"workspace"`
	User                string  `db:"user_name"`
	WindowEndDate       string  `db:"window_end_date"`
	WindowStart         int64   `db:"window_start"`
	WindowEnd           int64   `db:"window_end"`
	AvgDurationMs       float64 `db:"avg_duration_ms"`
	P95DurationMs       float64 `db:"p95_duration_ms"`
	AvgCost             float64 `db:"avg_cost"`
	P95Cost             float64 `db:"p95_cost"`
	SuccessRate         float64 `db:"success_rate"`
	SampleCount         int64   `db:"sample_count"`
	ThresholdDurationMs float64 `db:"threshold_duration_ms"`
	ThresholdCost       float64 `db:"threshold_cost"`
	ComputedAt          int64   `db:"computed_at"`
}

func (r *baselineRow) toDomain() *domain.PerformanceBaseline {
	return &domain.PerformanceBaseline{
		ID:                  r.ID,
		PatternHash:         r.PatternHash,
		Workspace:           r.Workspace,
		User:                r.User,
		WindowStart:         fromMillis(r.WindowStart),
		WindowEnd:           fromMillis(r.WindowEnd),
		AvgDurationMs:       r.AvgDurationMs,
		P95DurationMs:       r.P95DurationMs,
		AvgCost:             r.AvgCost,
		P95Cost:             r.P95Cost,
		SuccessRate:         r.SuccessRate,
		SampleCount:         r.SampleCount,
		ThresholdDurationMs: r.ThresholdDurationMs,
		ThresholdCost:       r.ThresholdCost,
		ComputedAt:          fromMillis(r.ComputedAt),
	}
}

// WindowEndDate is the snapshot identity: one baseline per key per UTC day.
func WindowEndDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// BaselineRepo implements BaselineRepository using SQLite.
type BaselineRepo struct {
	write *sqlx.DB
	read  *sqlx.DB
}

// NewBaselineRepo creates a new BaselineRepo.
func NewBaselineRepo(store *db.Store) *BaselineRepo {
	return &BaselineRepo{write: store.Write, read: store.Read}
}

type sampleRow struct {
	PatternHash string  `db:"pattern_hash"`
	Workspace   string  `db:"workspace"`
	User        string  `db:"user_name"`
	StartTime   int64   `db:"start_time"`
	DurationMs  int64   `db:"duration_ms"`
	CostUnits   float64 `db:"cost_units"`
	Status      string  `db:"status"`
}

// Samples returns terminal executions that started in w, ordered by key.
func (r *BaselineRepo) Samples(ctx context.Context, w domain.Window) ([]domain.ExecutionSample, error) {
	var rows []sampleRow
	err := r.read.SelectContext(ctx, &rows, `
SELECT pattern_hash, workspace, user_name, start_time, duration_ms, cost_units, status
FROM query_executions
WHERE start_time >= ? AND start_time < ? AND status IN (?, ?)
ORDER BY pattern_hash, workspace, user_name, start_time`,
		toMillis(w.Start), toMillis(w.End), domain.ExecutionStatusSuccess, domain.ExecutionStatusFailed)
	if err != nil {
		return nil, mapDBError(err)
	}

	out := make([]domain.ExecutionSample, len(rows))
	for i, row := range rows {
		out[i] = domain.ExecutionSample{
			Key:        domain.ScopeKey{PatternHash: row.PatternHash, Workspace: row.Workspace, User: row.User},
			StartTime:  fromMillis(row.StartTime),
			DurationMs: row.DurationMs,
			CostUnits:  row.CostUnits,
			Status:     row.Status,
		}
	}
	return out, nil
}

const upsertBaselineSQL = `
INSERT INTO performance_baselines (` + baselineColumns + `) VALUES (
    :id, :pattern_hash, :workspace, :user_name, :window_end_date, :window_start, :window_end,
    :avg_duration_ms, :p95_duration_ms, :avg_cost, :p95_cost, :success_rate, :sample_count,
    :threshold_duration_ms, :threshold_cost, :computed_at
)
ON CONFLICT (pattern_hash, workspace, user_name, window_end_date) DO UPDATE SET
    window_start          = excluded.window_start,
    window_end            = excluded.window_end,
    avg_duration_ms       = excluded.avg_duration_ms,
    p95_duration_ms       = excluded.p95_duration_ms,
    avg_cost              = excluded.avg_cost,
    p95_cost              = excluded.p95_cost,
    success_rate          = excluded.success_rate,
    sample_count          = excluded.sample_count,
    threshold_duration_ms = excluded.threshold_duration_ms,
    threshold_cost        = excluded.threshold_cost,
    computed_at           = excluded.computed_at`

// Upsert writes baselines in one transaction. A baseline for a key and
// window-end date that already has one replaces it; other dates are untouched.
func (r *BaselineRepo) Upsert(ctx context.Context, baselines []domain.PerformanceBaseline) (err error) {
	if len(baselines) == 0 {
		return nil
	}
	tx, err := r.write.BeginTxx(ctx, nil)
	if err != nil {
		return mapDBError(fmt.Errorf("begin baseline upsert: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareNamedContext(ctx, upsertBaselineSQL)
	if err != nil {
		return fmt.Errorf("prepare baseline upsert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	for i := range baselines {
		b := &baselines[i]
		id := b.ID
		if id == "" {
			id = domain.NewID()
		}
		row := baselineRow{
			ID:                  id,
			PatternHash:         b.PatternHash,
			Workspace:           b.Workspace,
			User:                b.User,
			WindowEndDate:       WindowEndDate(b.WindowEnd),
			WindowStart:         toMillis(b.WindowStart),
			WindowEnd:           toMillis(b.WindowEnd),
			AvgDurationMs:       b.AvgDurationMs,
			P95DurationMs:       b.P95DurationMs,
			AvgCost:             b.AvgCost,
			P95Cost:             b.P95Cost,
			SuccessRate:         b.SuccessRate,
			SampleCount:         b.SampleCount,
			ThresholdDurationMs: b.ThresholdDurationMs,
			ThresholdCost:       b.ThresholdCost,
			ComputedAt:          toMillis(b.ComputedAt),
		}
		if _, err = stmt.ExecContext(ctx, row); err != nil {
			return mapDBError(fmt.Errorf("upsert baseline %s: %w", b.Key().Subject(), err))
		}
	}

	if err = tx.Commit(); err != nil {
		return mapDBError(fmt.Errorf("commit baselines: %w", err))
	}
	return nil
}

// Latest returns the newest baseline for key.
func (r *BaselineRepo) Latest(ctx context.Context, key domain.ScopeKey) (*domain.PerformanceBaseline, error) {
	var row baselineRow
	err := r.read.GetContext(ctx, &row, `
SELECT `+baselineColumns+` FROM performance_baselines
WHERE pattern_hash = ? AND workspace = ? AND user_name = ?
ORDER BY window_end DESC, computed_at DESC
LIMIT 1`, key.PatternHash, key.Workspace, key.User)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("no baseline for %s", key.Subject())
	}
	if err != nil {
		return nil, mapDBError(err)
	}
	return row.toDomain(), nil
}

// List returns baselines newest first.
func (r *BaselineRepo) List(ctx context.Context, filter domain.BaselineFilter) ([]domain.PerformanceBaseline, error) {
	b := sq.Select(baselineColumns).From("performance_baselines")
	if filter.PatternHash != nil {
		b = b.Where(sq.Eq{"pattern_hash": *filter.PatternHash})
	}
	if filter.Workspace != nil {
		b = b.Where(sq.Eq{"workspace": *filter.Workspace})
	}
	if filter.User != nil {
		b = b.Where(sq.Eq{"user_name": *filter.User})
	}
	b = paginate(b.OrderBy("window_end DESC", "pattern_hash", "workspace", "user_name"), filter.Page)

	var rows []baselineRow
	if err := selectAll(ctx, r.read, &rows, b); err != nil {
		return nil, err
	}
	out := make([]domain.PerformanceBaseline, len(rows))
	for i := range rows {
		out[i] = *rows[i].toDomain()
	}
	return out, nil
}

// PurgeWindowEndedBefore deletes snapshots whose window ended before the cutoff.
func (r *BaselineRepo) PurgeWindowEndedBefore(ctx context.Context, before time.Time) (int64, error) {
	return purge(ctx, r.write, "performance_baselines", "window_end", before)
}
