package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"querypulse/internal/db"
	"querypulse/internal/domain"
)

// Compile-time checks.
var (
	_ domain.PassStore = (*PassStore)(nil)
	_ domain.PassTx    = (*passTx)(nil)
)

// PassStore runs record passes in write transactions.
type PassStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPassStore creates a PassStore on the store's write pool.
func NewPassStore(store *db.Store) *PassStore {
	return &PassStore{db: store.Write, now: time.Now}
}

// InPassTx runs fn in one transaction. The transaction commits only when fn
// returns nil. Lock contention is reported as a MergeConflictError.
func (s *PassStore) InPassTx(ctx context.Context, fn func(tx domain.PassTx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapDBError(fmt.Errorf("begin pass: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&passTx{tx: tx, now: s.now}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return mapDBError(fmt.Errorf("commit pass: %w", err))
	}
	return nil
}

type passTx struct {
	tx  *sqlx.Tx
	now func() time.Time
}

const insertExecutionSQL = `
INSERT INTO query_executions (
    id, workspace, user_name, pattern_hash, query_text, start_time, end_time,
    duration_ms, bytes_read, rows_read, cost_units, status, error_text,
    complexity_score, optimization_score, category, ingested_at
) VALUES (
    :id, :workspace, :user_name, :pattern_hash, :query_text, :start_time, :end_time,
    :duration_ms, :bytes_read, :rows_read, :cost_units, :status, :error_text,
    :complexity_score, :optimization_score, :category, :ingested_at
)
ON CONFLICT (id) DO NOTHING`

type executionRow struct {
	ID                string        `db:"id"`
	Workspace         string        `db:"workspace"`
	User              string        `db:"user_name"`
	PatternHash       string        `db:"pattern_hash"`
	QueryText         string        `db:"query_text"`
	StartTime         int64         `db:"start_time"`
	EndTime           sql.NullInt64 `db:"end_time"`
	DurationMs        int64         `db:"duration_ms"`
	BytesRead         int64         `db:"bytes_read"`
	RowsRead          int64         `db:"rows_read"`
	CostUnits         float64       `db:"cost_units"`
	Status            string        `db:"status"`
	ErrorText         string        `db:"error_text"`
	ComplexityScore   float64       `db:"complexity_score"`
	OptimizationScore float64       `db:"optimization_score"`
	Category          string        `db:"category"`
	IngestedAt        int64         `db:"ingested_at"`
}

func (t *passTx) InsertExecution(ctx context.Context, e *domain.AnnotatedExecution) (bool, error) {
	end := e.EndTime
	row := executionRow{
		ID:                e.ID,
		Workspace:         e.Workspace,
		User:              e.User,
		PatternHash:       e.PatternHash,
		QueryText:         e.QueryText,
		StartTime:         toMillis(e.StartTime),
		EndTime:           nullMillis(&end),
		DurationMs:        e.DurationMs,
		BytesRead:         e.BytesRead,
		RowsRead:          e.RowsRead,
		CostUnits:         e.CostUnits,
		Status:            e.Status,
		ErrorText:         e.ErrorText,
		ComplexityScore:   e.ComplexityScore,
		OptimizationScore: e.OptimizationScore,
		Category:          string(e.Category),
		IngestedAt:        toMillis(t.now()),
	}
	res, err := t.tx.NamedExecContext(ctx, insertExecutionSQL, row)
	if err != nil {
		return false, mapDBError(fmt.Errorf("insert execution %s: %w", e.ID, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Sums add and the seen range widens, so merges commute across passes.
const mergePatternSQL = `
INSERT INTO query_patterns (
    pattern_hash, template, structural_category, first_seen, last_seen,
    occurrence_count, measured_count, total_duration_ms, total_cost, total_bytes_read,
    total_complexity, total_optimization, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (pattern_hash) DO UPDATE SET
    occurrence_count   = occurrence_count + excluded.occurrence_count,
    measured_count     = measured_count + excluded.measured_count,
    total_duration_ms  = total_duration_ms + excluded.total_duration_ms,
    total_cost         = total_cost + excluded.total_cost,
    total_bytes_read   = total_bytes_read + excluded.total_bytes_read,
    total_complexity   = total_complexity + excluded.total_complexity,
    total_optimization = total_optimization + excluded.total_optimization,
    first_seen         = MIN(first_seen, excluded.first_seen),
    last_seen          = MAX(last_seen, excluded.last_seen),
    updated_at         = excluded.updated_at`

func (t *passTx) MergePattern(ctx context.Context, d domain.PatternDelta) error {
	if d.Count <= 0 {
		return nil
	}
	_, err := t.tx.ExecContext(ctx, mergePatternSQL,
		d.PatternHash, d.Template, string(d.StructuralCategory),
		toMillis(d.FirstSeen), toMillis(d.LastSeen),
		d.Count, d.MeasuredCount, d.SumDurationMs, d.SumCost, d.SumBytesRead,
		d.SumComplexity, d.SumOptimization, toMillis(t.now()),
	)
	if err != nil {
		return mapDBError(fmt.Errorf("merge pattern %s: %w", d.PatternHash, err))
	}
	return nil
}

func (t *passTx) BaselineAt(ctx context.Context, key domain.ScopeKey, at time.Time) (*domain.PerformanceBaseline, error) {
	var row baselineRow
	err := t.tx.GetContext(ctx, &row, `
SELECT `+baselineColumns+` FROM performance_baselines
WHERE pattern_hash = ? AND workspace = ? AND user_name = ? AND window_end <= ?
ORDER BY window_end DESC, computed_at DESC
LIMIT 1`, key.PatternHash, key.Workspace, key.User, toMillis(at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapDBError(err)
	}
	return row.toDomain(), nil
}

func (t *passTx) AlertExists(ctx context.Context, category domain.AlertCategory, subject, dedupKey string, from, to time.Time) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists, `
SELECT EXISTS (
    SELECT 1 FROM alerts
    WHERE dedup_key = ?
       OR (category = ? AND subject = ? AND occurred_at BETWEEN ? AND ?)
)`, dedupKey, string(category), subject, toMillis(from), toMillis(to))
	if err != nil {
		return false, mapDBError(err)
	}
	return exists, nil
}

func (t *passTx) InsertAlert(ctx context.Context, a *domain.Alert) (bool, error) {
	row := alertRowFromDomain(a)
	if row.CreatedAt == 0 {
		row.CreatedAt = toMillis(t.now())
	}
	res, err := t.tx.NamedExecContext(ctx, insertAlertSQL, row)
	if err != nil {
		return false, mapDBError(fmt.Errorf("insert alert: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
