package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"querypulse/internal/db"
	"querypulse/internal/domain"
)

// Compile-time check.
var _ domain.PatternRepository = (*PatternRepo)(nil)

const patternColumns = `pattern_hash, template, structural_category, first_seen, last_seen,
    occurrence_count, measured_count, total_duration_ms, total_cost, total_bytes_read,
    total_complexity, total_optimization`

type patternRow struct {
	PatternHash        string  `db:"pattern_hash"`
	Template           string  `db:"template"`
	StructuralCategory string  `db:"structural_category"`
	FirstSeen          int64   `db:"first_seen"`
	LastSeen           int64   `db:"last_seen"`
	OccurrenceCount    int64   `db:"occurrence_count"`
	MeasuredCount      int64   `db:"measured_count"`
	TotalDurationMs    float64 `db:"total_duration_ms"`
	TotalCost          float64 `db:"total_cost"`
	TotalBytesRead     float64 `db:"total_bytes_read"`
	TotalComplexity    float64 `db:"total_complexity"`
	TotalOptimization  float64 `db:"total_optimization"`
}

func (r *patternRow) toDomain() *domain.QueryPattern {
	return &domain.QueryPattern{
		PatternHash:        r.PatternHash,
		Template:           r.Template,
		StructuralCategory: domain.PatternCategory(r.StructuralCategory),
		FirstSeen:          fromMillis(r.FirstSeen),
		LastSeen:           fromMillis(r.LastSeen),
		OccurrenceCount:    r.OccurrenceCount,
		MeasuredCount:      r.MeasuredCount,
		TotalDurationMs:    r.TotalDurationMs,
		TotalCost:          r.TotalCost,
		TotalBytesRead:     r.TotalBytesRead,
		TotalComplexity:    r.TotalComplexity,
		TotalOptimization:  r.TotalOptimization,
	}
}

// PatternRepo implements PatternRepository using SQLite. Category and
// priority tier are left for the caller to derive.
type PatternRepo struct {
	write *sqlx.DB
	read  *sqlx.DB
}

// NewPatternRepo creates a new PatternRepo.
func NewPatternRepo(store *db.Store) *PatternRepo {
	return &PatternRepo{write: store.Write, read: store.Read}
}

// Get returns the cumulative state of one pattern.
func (r *PatternRepo) Get(ctx context.Context, hash string) (*domain.QueryPattern, error) {
	var row patternRow
	err := r.read.GetContext(ctx, &row, `SELECT `+patternColumns+` FROM query_patterns WHERE pattern_hash = ?`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("pattern %s not found", hash)
	}
	if err != nil {
		return nil, mapDBError(err)
	}
	return row.toDomain(), nil
}

// List returns patterns by descending occurrence count.
func (r *PatternRepo) List(ctx context.Context, filter domain.PatternFilter) ([]domain.QueryPattern, error) {
	b := sq.Select(patternColumns).From("query_patterns")
	if filter.Structural != nil {
		b = b.Where(sq.Eq{"structural_category": string(*filter.Structural)})
	}
	if filter.SeenFrom != nil {
		b = b.Where(sq.GtOrEq{"last_seen": toMillis(*filter.SeenFrom)})
	}
	b = paginate(b.OrderBy("occurrence_count DESC", "pattern_hash"), filter.Page)

	var rows []patternRow
	if err := selectAll(ctx, r.read, &rows, b); err != nil {
		return nil, err
	}
	out := make([]domain.QueryPattern, len(rows))
	for i := range rows {
		out[i] = *rows[i].toDomain()
	}
	return out, nil
}

// PurgeUnseenSince deletes patterns last seen before the cutoff.
func (r *PatternRepo) PurgeUnseenSince(ctx context.Context, before time.Time) (int64, error) {
	return purge(ctx, r.write, "query_patterns", "last_seen", before)
}
