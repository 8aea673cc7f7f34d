package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"querypulse/internal/db"
	"querypulse/internal/domain"
)

// Compile-time check.
var _ domain.StoreMaintainer = (*MaintenanceRepo)(nil)

// MaintenanceRepo refreshes planner statistics and reclaims space after
// large deletes.
type MaintenanceRepo struct {
	write *sqlx.DB
}

// NewMaintenanceRepo creates a new MaintenanceRepo.
func NewMaintenanceRepo(store *db.Store) *MaintenanceRepo {
	return &MaintenanceRepo{write: store.Write}
}

// Optimize runs ANALYZE and PRAGMA optimize. With vacuum set it also
// rebuilds the database file and truncates the WAL. VACUUM cannot run
// inside a transaction, so each statement runs on its own.
func (r *MaintenanceRepo) Optimize(ctx context.Context, vacuum bool) error {
	stmts := []string{"ANALYZE", "PRAGMA optimize"}
	if vacuum {
		stmts = append(stmts, "VACUUM", "PRAGMA wal_checkpoint(TRUNCATE)")
	}
	for _, stmt := range stmts {
		if _, err := r.write.ExecContext(ctx, stmt); err != nil {
			return mapDBError(fmt.Errorf("%s: %w", stmt, err))
		}
	}
	return nil
}
