package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "querypulse/internal/db"
	"querypulse/internal/domain"
)

func TestMaintenanceRepo_Optimize(t *testing.T) {
	store := internaldb.OpenTestSQLite(t)
	runs := NewRunRepo(store)
	repo := NewMaintenanceRepo(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := runs.Create(ctx, &domain.ETLRun{Kind: domain.RunKindRecordPass, Window: hourWindow(t0.Add(time.Duration(i) * time.Hour))})
		require.NoError(t, err)
	}

	require.NoError(t, repo.Optimize(ctx, false))

	var stats int
	require.NoError(t, store.Read.GetContext(ctx, &stats,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'sqlite_stat1'`))
	assert.Equal(t, 1, stats, "ANALYZE records statistics")

	n, err := runs.PurgeFinishedBefore(ctx, t0.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Zero(t, n, "unfinished runs are kept")

	require.NoError(t, repo.Optimize(ctx, true))

	var count int
	require.NoError(t, store.Read.GetContext(ctx, &count, `SELECT COUNT(*) FROM etl_runs`))
	assert.Equal(t, 3, count, "vacuum keeps live rows")
}

func TestMaintenanceRepo_OptimizeHonorsContext(t *testing.T) {
	store := internaldb.OpenTestSQLite(t)
	repo := NewMaintenanceRepo(store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, repo.Optimize(ctx, true))
}
