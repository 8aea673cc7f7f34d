package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"querypulse/internal/db"
	"querypulse/internal/domain"
)

// Compile-time check.
var _ domain.HealthRepository = (*HealthRepo)(nil)

// healthTables lists the output tables and the column that dates each row.
var healthTables = []struct {
	table  string
	column string
}{
	{"query_executions", "start_time"},
	{"query_patterns", "last_seen"},
	{"performance_baselines", "computed_at"},
	{"alerts", "occurred_at"},
	{"etl_runs", "started_at"},
}

// HealthRepo reports row counts and freshness of the output tables.
type HealthRepo struct {
	read       *sqlx.DB
	staleAfter map[string]time.Duration
}

// NewHealthRepo creates a new HealthRepo. staleAfter maps a table name to the
// age beyond which its newest row counts as stale; tables absent from the map
// are never stale.
func NewHealthRepo(store *db.Store, staleAfter map[string]time.Duration) *HealthRepo {
	return &HealthRepo{read: store.Read, staleAfter: staleAfter}
}

// TableHealth returns one entry per output table.
func (r *HealthRepo) TableHealth(ctx context.Context) ([]domain.TableHealth, error) {
	out := make([]domain.TableHealth, 0, len(healthTables))
	for _, t := range healthTables {
		var row struct {
			Count  int64         `db:"n"`
			Latest sql.NullInt64 `db:"latest"`
		}
		query := fmt.Sprintf(`SELECT count(*) AS n, MAX(%s) AS latest FROM %s`, t.column, t.table)
		if err := r.read.GetContext(ctx, &row, query); err != nil {
			return nil, fmt.Errorf("health of %s: %w", t.table, mapDBError(err))
		}
		out = append(out, domain.TableHealth{
			Table:      t.table,
			RowCount:   row.Count,
			LatestAt:   timePtr(row.Latest),
			StaleAfter: r.staleAfter[t.table],
		})
	}
	return out, nil
}
