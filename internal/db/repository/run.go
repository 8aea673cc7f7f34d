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
var _ domain.RunRepository = (*RunRepo)(nil)

const runColumns = `id, kind, partition_key, window_start, window_end, status,
    records_read, records_processed, records_skipped, records_duplicate, records_failed,
    alerts_emitted, alerts_suppressed, error_message, started_at, finished_at`

type runRow struct {
	ID               string         `db:"id"`
	Kind             string         `db:"kind"`
	Partition        string         `db:"partition_key"`
	WindowStart      int64          `db:"window_start"`
	WindowEnd        int64          `db:"window_end"`
	Status           string         `db:"status"`
	RecordsRead      int64          `db:"records_read"`
	RecordsProcessed int64          `db:"records_processed"`
	RecordsSkipped   int64          `db:"records_skipped"`
	RecordsDuplicate int64          `db:"records_duplicate"`
	RecordsFailed    int64          `db:"records_failed"`
	AlertsEmitted    int64          `db:"alerts_emitted"`
	AlertsSuppressed int64          `db:"alerts_suppressed"`
	ErrorMessage     sql.NullString `db:"error_message"`
	StartedAt        int64          `db:"started_at"`
	FinishedAt       sql.NullInt64  `db:"finished_at"`
}

func (r *runRow) toDomain() *domain.ETLRun {
	return &domain.ETLRun{
		ID:        r.ID,
		Kind:      r.Kind,
		Partition: r.Partition,
		Window:    domain.Window{Start: fromMillis(r.WindowStart), End: fromMillis(r.WindowEnd)},
		Status:    r.Status,
		Counts: domain.RunCounts{
			RecordsRead:      r.RecordsRead,
			RecordsProcessed: r.RecordsProcessed,
			RecordsSkipped:   r.RecordsSkipped,
			RecordsDuplicate: r.RecordsDuplicate,
			RecordsFailed:    r.RecordsFailed,
			AlertsEmitted:    r.AlertsEmitted,
			AlertsSuppressed: r.AlertsSuppressed,
		},
		ErrorMessage: stringPtr(r.ErrorMessage),
		StartedAt:    fromMillis(r.StartedAt),
		FinishedAt:   timePtr(r.FinishedAt),
	}
}

// RunRepo implements RunRepository using SQLite.
type RunRepo struct {
	write *sqlx.DB
	read  *sqlx.DB
	now   func() time.Time
}

// NewRunRepo creates a new RunRepo.
func NewRunRepo(store *db.Store) *RunRepo {
	return &RunRepo{write: store.Write, read: store.Read, now: time.Now}
}

// Create inserts a STARTED run. A second in-flight run for the same kind,
// partition and window is rejected with a ConflictError.
func (r *RunRepo) Create(ctx context.Context, run *domain.ETLRun) (*domain.ETLRun, error) {
	out := *run
	if out.ID == "" {
		out.ID = domain.NewID()
	}
	if out.StartedAt.IsZero() {
		out.StartedAt = r.now().UTC()
	}
	out.Status = domain.RunStatusStarted
	out.Counts = domain.RunCounts{}
	out.ErrorMessage = nil
	out.FinishedAt = nil

	_, err := r.write.ExecContext(ctx, `
INSERT INTO etl_runs (id, kind, partition_key, window_start, window_end, status, started_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.Kind, out.Partition, toMillis(out.Window.Start), toMillis(out.Window.End),
		out.Status, toMillis(out.StartedAt))
	if err != nil {
		err = mapDBError(err)
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			return nil, domain.ErrConflict("%s run for %s (partition %q) is already in progress",
				out.Kind, out.Window, out.Partition)
		}
		return nil, fmt.Errorf("create run: %w", err)
	}
	return &out, nil
}

// Complete marks a STARTED run COMPLETED with its final counts.
func (r *RunRepo) Complete(ctx context.Context, id string, counts domain.RunCounts) error {
	return r.finish(ctx, id, domain.RunStatusCompleted, counts, nil)
}

// Fail marks a STARTED run FAILED with its counts so far.
func (r *RunRepo) Fail(ctx context.Context, id string, counts domain.RunCounts, errMsg string) error {
	return r.finish(ctx, id, domain.RunStatusFailed, counts, &errMsg)
}

func (r *RunRepo) finish(ctx context.Context, id, status string, c domain.RunCounts, errMsg *string) error {
	res, err := r.write.ExecContext(ctx, `
UPDATE etl_runs SET
    status = ?, records_read = ?, records_processed = ?, records_skipped = ?,
    records_duplicate = ?, records_failed = ?, alerts_emitted = ?, alerts_suppressed = ?,
    error_message = ?, finished_at = ?
WHERE id = ? AND status = ?`,
		status, c.RecordsRead, c.RecordsProcessed, c.RecordsSkipped,
		c.RecordsDuplicate, c.RecordsFailed, c.AlertsEmitted, c.AlertsSuppressed,
		nullString(errMsg), toMillis(r.now()), id, domain.RunStatusStarted)
	if err != nil {
		return mapDBError(fmt.Errorf("finish run %s: %w", id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrConflict("run %s is not in progress", id)
	}
	return nil
}

// GetByID returns a run by ID.
func (r *RunRepo) GetByID(ctx context.Context, id string) (*domain.ETLRun, error) {
	var row runRow
	err := r.write.GetContext(ctx, &row, `SELECT `+runColumns+` FROM etl_runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("run %s not found", id)
	}
	if err != nil {
		return nil, mapDBError(err)
	}
	return row.toDomain(), nil
}

// FindByWindow returns the newest run of kind for exactly w and partition in
// status, or nil.
func (r *RunRepo) FindByWindow(ctx context.Context, kind, partition string, w domain.Window, status string) (*domain.ETLRun, error) {
	var row runRow
	err := r.write.GetContext(ctx, &row, `
SELECT `+runColumns+` FROM etl_runs
WHERE kind = ? AND partition_key = ? AND window_start = ? AND window_end = ? AND status = ?
ORDER BY started_at DESC
LIMIT 1`, kind, partition, toMillis(w.Start), toMillis(w.End), status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapDBError(err)
	}
	return row.toDomain(), nil
}

// Watermark returns the end of the contiguous run of completed windows that
// starts at the earliest completed window: the first completed window end
// that no completed window continues from. A window completed out of order
// beyond a gap does not move it.
func (r *RunRepo) Watermark(ctx context.Context, kind, partition string) (*time.Time, error) {
	var end sql.NullInt64
	err := r.write.GetContext(ctx, &end, `
SELECT MIN(a.window_end) FROM etl_runs a
WHERE a.kind = ? AND a.partition_key = ? AND a.status = ?
  AND NOT EXISTS (
    SELECT 1 FROM etl_runs b
    WHERE b.kind = a.kind AND b.partition_key = a.partition_key
      AND b.status = a.status AND b.window_start = a.window_end)`,
		kind, partition, domain.RunStatusCompleted)
	if err != nil {
		return nil, mapDBError(err)
	}
	return timePtr(end), nil
}

// CompletedWindows returns the distinct completed windows starting at or
// after from, ordered by start.
func (r *RunRepo) CompletedWindows(ctx context.Context, kind, partition string, from time.Time) ([]domain.Window, error) {
	var rows []struct {
		Start int64 `db:"window_start"`
		End   int64 `db:"window_end"`
	}
	err := r.write.SelectContext(ctx, &rows, `
SELECT DISTINCT window_start, window_end FROM etl_runs
WHERE kind = ? AND partition_key = ? AND status = ? AND window_start >= ?
ORDER BY window_start, window_end`,
		kind, partition, domain.RunStatusCompleted, toMillis(from))
	if err != nil {
		return nil, mapDBError(err)
	}
	out := make([]domain.Window, len(rows))
	for i, row := range rows {
		out[i] = domain.Window{Start: fromMillis(row.Start), End: fromMillis(row.End)}
	}
	return out, nil
}

// List returns runs newest first.
func (r *RunRepo) List(ctx context.Context, filter domain.RunFilter) ([]domain.ETLRun, error) {
	b := sq.Select(runColumns).From("etl_runs")
	if filter.Kind != nil {
		b = b.Where(sq.Eq{"kind": *filter.Kind})
	}
	if filter.Status != nil {
		b = b.Where(sq.Eq{"status": *filter.Status})
	}
	b = paginate(b.OrderBy("started_at DESC", "id DESC"), filter.Page)

	var rows []runRow
	if err := selectAll(ctx, r.read, &rows, b); err != nil {
		return nil, err
	}
	out := make([]domain.ETLRun, len(rows))
	for i := range rows {
		out[i] = *rows[i].toDomain()
	}
	return out, nil
}

// PurgeFinishedBefore deletes terminal runs that finished before the cutoff.
// In-flight runs are never removed.
func (r *RunRepo) PurgeFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	return purge(ctx, r.write, "etl_runs", "finished_at", before,
		sq.NotEq{"status": domain.RunStatusStarted})
}
