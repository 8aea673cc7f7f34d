package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"querypulse/internal/db"
	"querypulse/internal/domain"
)

// Compile-time check.
var _ domain.ExecutionRepository = (*ExecutionRepo)(nil)

// ExecutionRepo sweeps stored execution history. Executions are written only
// through a PassStore transaction.
type ExecutionRepo struct {
	write *sqlx.DB
}

// NewExecutionRepo creates a new ExecutionRepo.
func NewExecutionRepo(store *db.Store) *ExecutionRepo {
	return &ExecutionRepo{write: store.Write}
}

// PurgeStartedBefore deletes executions that started before the cutoff.
func (r *ExecutionRepo) PurgeStartedBefore(ctx context.Context, before time.Time) (int64, error) {
	return purge(ctx, r.write, "query_executions", "start_time", before)
}
