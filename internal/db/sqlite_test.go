package db

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name       string
		mode       Mode
		wantTxLock bool
	}{
		{"write", ModeWrite, true},
		{"read", ModeRead, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dsn := buildDSN("/tmp/pulse.sqlite", tc.mode)

			assert.True(t, strings.HasPrefix(dsn, "/tmp/pulse.sqlite?"))
			assert.Contains(t, dsn, "_journal_mode=WAL")
			assert.Contains(t, dsn, "_busy_timeout=5000")
			assert.Contains(t, dsn, "_synchronous=NORMAL")
			if tc.wantTxLock {
				assert.Contains(t, dsn, "_txlock=immediate")
			} else {
				assert.NotContains(t, dsn, "_txlock")
			}
		})
	}
}

func TestOpenSQLite_InvalidMode(t *testing.T) {
	_, err := OpenSQLite(filepath.Join(t.TempDir(), "x.db"), Mode("bogus"), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid SQLite mode")
}

func TestOpenSQLite_InvalidPath(t *testing.T) {
	_, err := OpenSQLite("/nonexistent/dir/x.db", ModeWrite, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping sqlite")
}

func TestOpen_PoolsAndPragmas(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "x.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	assert.Equal(t, 1, store.Write.Stats().MaxOpenConnections)
	assert.Equal(t, defaultReadMax, store.Read.Stats().MaxOpenConnections)

	var journal string
	require.NoError(t, store.Read.Get(&journal, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", strings.ToLower(journal))

	var busy int
	require.NoError(t, store.Write.Get(&busy, "PRAGMA busy_timeout"))
	assert.Equal(t, 5000, busy)
}

func TestMigrate_CreatesSchema(t *testing.T) {
	store := OpenTestSQLite(t)

	for _, table := range []string{"query_executions", "query_patterns", "performance_baselines", "alerts", "etl_runs"} {
		var n int
		err := store.Read.Get(&n, "SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}

	current, pending, err := MigrationStatus(context.Background(), store.Write)
	require.NoError(t, err)
	assert.Positive(t, current)
	assert.False(t, pending)

	// Re-running is a no-op.
	require.NoError(t, Migrate(context.Background(), store.Write))
}

func TestMigrate_OneInFlightRunPerWindow(t *testing.T) {
	store := OpenTestSQLite(t)
	insert := `INSERT INTO etl_runs (id, kind, partition_key, window_start, window_end, status, started_at)
		VALUES (?, 'RECORD_PASS', '', 0, 3600000, ?, 0)`

	_, err := store.Write.Exec(insert, "r1", "STARTED")
	require.NoError(t, err)
	_, err = store.Write.Exec(insert, "r2", "STARTED")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNIQUE constraint failed")

	// Terminal runs for the same window may accumulate.
	_, err = store.Write.Exec(insert, "r3", "FAILED")
	require.NoError(t, err)
}

func TestStore_ConcurrentWritersSerialize(t *testing.T) {
	store := OpenTestSQLite(t)

	_, err := store.Write.Exec("CREATE TABLE counter (id INTEGER PRIMARY KEY, n INTEGER)")
	require.NoError(t, err)
	_, err = store.Write.Exec("INSERT INTO counter (id, n) VALUES (1, 0)")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := range errs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			tx, err := store.Write.Beginx()
			if err != nil {
				errs[idx] = err
				return
			}
			if _, err := tx.Exec("UPDATE counter SET n = n + 1 WHERE id = 1"); err != nil {
				_ = tx.Rollback()
				errs[idx] = err
				return
			}
			errs[idx] = tx.Commit()
		}(i)
	}
	wg.Wait()

	for i, e := range errs {
		assert.NoError(t, e, "writer %d", i)
	}
	var n int
	require.NoError(t, store.Read.Get(&n, "SELECT n FROM counter WHERE id = 1"))
	assert.Equal(t, 20, n)
}
