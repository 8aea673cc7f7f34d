// Package source reads raw query execution records from telemetry stores.
package source

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the duckdb driver
	"github.com/jmoiron/sqlx"

	"querypulse/internal/ddl"
	"querypulse/internal/domain"
)

// Compile-time check.
var _ domain.TelemetrySource = (*DuckDBSource)(nil)

// DefaultQuery reads the query_history relation. Sources with another shape
// supply their own query returning the same columns, taking the window start,
// window end, and partition twice as positional parameters.
const DefaultQuery = `
SELECT id, workspace, user_name, query_text, start_time, end_time,
       duration_ms, bytes_read, rows_read, cost_units, status, error_text
FROM query_history
WHERE start_time >= CAST(? AS TIMESTAMP)
  AND start_time <  CAST(? AS TIMESTAMP)
  AND (? = '' OR workspace = ?)
ORDER BY start_time, id`

// DefaultView is the view name used when exported files are read.
const DefaultView = "query_history"

const timestampLayout = "2006-01-02 15:04:05.000000"

// DuckDBConfig configures a DuckDBSource.
type DuckDBConfig struct {
	// DSN is a DuckDB database path; empty opens an in-memory database.
	DSN   string
	Query string
	// FilePath, when set, exposes exported history files (local path, glob
	// or s3:// URL) as the view FileView before the first query.
	FilePath    string
	FileFormat  string
	FileView    string
	S3          *ddl.S3Secret
	MaxMemoryGB int
	// Setup statements run once after open, e.g. ATTACH.
	Setup []string
}

// DuckDBSource reads execution records with a DuckDB query.
type DuckDBSource struct {
	db     *sqlx.DB
	query  string
	logger *slog.Logger
}

// OpenDuckDB opens the database and prepares the session.
func OpenDuckDB(ctx context.Context, cfg DuckDBConfig, logger *slog.Logger) (*DuckDBSource, error) {
	db, err := sqlx.Open("duckdb", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	stmts, err := sessionStatements(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("prepare duckdb session: %w", err)
		}
	}

	query := cfg.Query
	if strings.TrimSpace(query) == "" {
		query = DefaultQuery
	}
	logger.Info("telemetry source opened",
		"dsn", cfg.DSN, "file_path", cfg.FilePath, "s3", cfg.S3 != nil, "setup_statements", len(cfg.Setup))
	return &DuckDBSource{db: db, query: query, logger: logger}, nil
}

func sessionStatements(cfg DuckDBConfig) ([]string, error) {
	var stmts []string
	if cfg.MaxMemoryGB > 0 {
		stmt, err := ddl.SetMemoryLimit(cfg.MaxMemoryGB)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	if cfg.S3 != nil {
		load, err := ddl.LoadExtension("httpfs")
		if err != nil {
			return nil, err
		}
		secret, err := ddl.CreateS3Secret(*cfg.S3)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, load, secret)
	}
	stmts = append(stmts, cfg.Setup...)
	if cfg.FilePath != "" {
		view := cfg.FileView
		if view == "" {
			view = DefaultView
		}
		stmt, err := ddl.CreateFileView(view, cfg.FilePath, cfg.FileFormat)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

// Close closes the database.
func (s *DuckDBSource) Close() error {
	return s.db.Close()
}

// Ping checks that the database answers queries.
func (s *DuckDBSource) Ping(ctx context.Context) error {
	var one int
	if err := s.db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return classify(err)
	}
	return nil
}

type recordRow struct {
	ID         sql.NullString  `db:"id"`
	Workspace  sql.NullString  `db:"workspace"`
	User       sql.NullString  `db:"user_name"`
	QueryText  sql.NullString  `db:"query_text"`
	StartTime  sql.NullTime    `db:"start_time"`
	EndTime    sql.NullTime    `db:"end_time"`
	DurationMs sql.NullInt64   `db:"duration_ms"`
	BytesRead  sql.NullInt64   `db:"bytes_read"`
	RowsRead   sql.NullInt64   `db:"rows_read"`
	CostUnits  sql.NullFloat64 `db:"cost_units"`
	Status     sql.NullString  `db:"status"`
	ErrorText  sql.NullString  `db:"error_text"`
}

func (r *recordRow) toDomain() domain.RawExecutionRecord {
	rec := domain.RawExecutionRecord{
		ID:         r.ID.String,
		Workspace:  r.Workspace.String,
		User:       r.User.String,
		QueryText:  r.QueryText.String,
		DurationMs: r.DurationMs.Int64,
		BytesRead:  r.BytesRead.Int64,
		RowsRead:   r.RowsRead.Int64,
		CostUnits:  r.CostUnits.Float64,
		Status:     domain.NormalizeExecutionStatus(r.Status.String),
		ErrorText:  r.ErrorText.String,
	}
	if r.StartTime.Valid {
		rec.StartTime = r.StartTime.Time.UTC()
	}
	if r.EndTime.Valid {
		rec.EndTime = r.EndTime.Time.UTC()
	}
	// Some exports only carry end time and duration.
	if !r.DurationMs.Valid && r.StartTime.Valid && r.EndTime.Valid {
		rec.DurationMs = r.EndTime.Time.Sub(r.StartTime.Time).Milliseconds()
	}
	return rec
}

// Fetch returns the records that started in w. An empty partition reads all
// workspaces. Rows are returned as-is; validation is left to the caller.
func (s *DuckDBSource) Fetch(ctx context.Context, w domain.Window, partition string) ([]domain.RawExecutionRecord, error) {
	start := time.Now()
	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows, s.query,
		w.Start.UTC().Format(timestampLayout),
		w.End.UTC().Format(timestampLayout),
		partition, partition,
	)
	if err != nil {
		return nil, classify(fmt.Errorf("fetch %s: %w", w, err))
	}

	out := make([]domain.RawExecutionRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	s.logger.Debug("telemetry fetched",
		"window", w.String(), "partition", partition, "records", len(out), "duration", time.Since(start))
	return out, nil
}

// transientMarkers are DuckDB error classes caused by the environment rather
// than the query, so a later attempt may succeed.
var transientMarkers = []string{
	"IO Error",
	"HTTP Error",
	"Connection Error",
	"could not set lock",
	"database is locked",
	"Interrupt Error",
}

// classify wraps unavailability as a TransientSourceError and leaves query
// and data errors alone.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return &domain.TransientSourceError{Err: err}
	}
	msg := err.Error()
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return &domain.TransientSourceError{Err: err}
		}
	}
	return err
}
