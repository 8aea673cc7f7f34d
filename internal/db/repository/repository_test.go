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

func TestBaselineRepo_UpsertSupersedesSameDate(t *testing.T) {
	store := internaldb.OpenTestSQLite(t)
	repo := NewBaselineRepo(store)
	ctx := context.Background()
	key := domain.ScopeKey{PatternHash: "h1", Workspace: "ws", User: "ana"}

	base := domain.PerformanceBaseline{PatternHash: "h1", Workspace: "ws", User: "ana", WindowStart: t0.AddDate(0, 0, -30), WindowEnd: t0, AvgDurationMs: 100, SampleCount: 5, ComputedAt: t0}
	require.NoError(t, repo.Upsert(ctx, []domain.PerformanceBaseline{base}))

	later := base
	later.WindowEnd = t0.Add(3 * time.Hour)
	later.AvgDurationMs = 250
	later.ComputedAt = t0.Add(3 * time.Hour)
	require.NoError(t, repo.Upsert(ctx, []domain.PerformanceBaseline{later}))

	nextDay := base
	nextDay.WindowEnd = t0.AddDate(0, 0, 1)
	nextDay.AvgDurationMs = 400
	nextDay.ComputedAt = nextDay.WindowEnd
	require.NoError(t, repo.Upsert(ctx, []domain.PerformanceBaseline{nextDay}))

	all, err := repo.List(ctx, domain.BaselineFilter{PatternHash: &key.PatternHash})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.InDelta(t, 400, all[0].AvgDurationMs, 1e-9)
	assert.InDelta(t, 250, all[1].AvgDurationMs, 1e-9)

	latest, err := repo.Latest(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, nextDay.WindowEnd, latest.WindowEnd)

	_, err = repo.Latest(ctx, domain.ScopeKey{PatternHash: "nope"})
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)

	n, err := repo.PurgeWindowEndedBefore(ctx, t0.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestBaselineRepo_Samples(t *testing.T) {
	store := internaldb.OpenTestSQLite(t)
	passes := NewPassStore(store)
	repo := NewBaselineRepo(store)
	ctx := context.Background()

	running := annotated("rec-run", "h1", t0.Add(time.Minute), 5)
	running.Status = domain.ExecutionStatusRunning
	failed := annotated("rec-fail", "h0", t0.Add(2*time.Minute), 7)
	failed.Status = domain.ExecutionStatusFailed

	require.NoError(t, passes.InPassTx(ctx, func(tx domain.PassTx) error {
		for _, e := range []*domain.AnnotatedExecution{
			annotated("rec-1", "h1", t0, 1000),
			annotated("rec-out", "h1", t0.Add(2*time.Hour), 1000),
			running,
			failed,
		} {
			if _, err := tx.InsertExecution(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}))

	samples, err := repo.Samples(ctx, hourWindow(t0))
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, "h0", samples[0].Key.PatternHash)
	assert.Equal(t, domain.ExecutionStatusFailed, samples[0].Status)
	assert.Equal(t, "h1", samples[1].Key.PatternHash)
	assert.Equal(t, int64(1000), samples[1].DurationMs)
	assert.Equal(t, t0, samples[1].StartTime)
}

func TestAlertRepo_ListAndPurge(t *testing.T) {
	store := internaldb.OpenTestSQLite(t)
	passes := NewPassStore(store)
	repo := NewAlertRepo(store)
	ctx := context.Background()

	mk := func(key string, cat domain.AlertCategory, sev domain.Severity, at time.Time) *domain.Alert {
		return &domain.Alert{DedupKey: key, Category: cat, Severity: sev, Workspace: "ws", User: "ana", Subject: "ws/ana/h1", OccurredAt: at}
	}
	require.NoError(t, passes.InPassTx(ctx, func(tx domain.PassTx) error {
		for _, a := range []*domain.Alert{
			mk("k1", domain.AlertSlowQuery, domain.SeverityHigh, t0),
			mk("k2", domain.AlertFailedQuery, domain.SeverityMedium, t0.Add(time.Hour)),
			mk("k3", domain.AlertSlowQuery, domain.SeverityCritical, t0.Add(2*time.Hour)),
		} {
			if _, err := tx.InsertAlert(ctx, a); err != nil {
				return err
			}
		}
		return nil
	}))

	all, err := repo.List(ctx, domain.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "k3", all[0].DedupKey)
	assert.NotEmpty(t, all[0].ID)
	assert.False(t, all[0].CreatedAt.IsZero())

	cat := domain.AlertSlowQuery
	slow, err := repo.List(ctx, domain.AlertFilter{Category: &cat})
	require.NoError(t, err)
	assert.Len(t, slow, 2)

	from, to := t0.Add(30*time.Minute), t0.Add(2*time.Hour)
	ranged, err := repo.List(ctx, domain.AlertFilter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "k2", ranged[0].DedupKey)

	n, err := repo.PurgeOccurredBefore(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPatternRepo_ListAndPurge(t *testing.T) {
	store := internaldb.OpenTestSQLite(t)
	passes := NewPassStore(store)
	repo := NewPatternRepo(store)
	ctx := context.Background()

	require.NoError(t, passes.InPassTx(ctx, func(tx domain.PassTx) error {
		for _, d := range []domain.PatternDelta{
			delta("rare", 1, 10, t0, t0),
			delta("common", 9, 90, t0, t0.Add(48*time.Hour)),
		} {
			if err := tx.MergePattern(ctx, d); err != nil {
				return err
			}
		}
		sortDelta := delta("sorted", 3, 30, t0, t0.Add(time.Hour))
		sortDelta.StructuralCategory = domain.CategoryUnboundedSort
		return tx.MergePattern(ctx, sortDelta)
	}))

	all, err := repo.List(ctx, domain.PatternFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "common", all[0].PatternHash)

	cat := domain.CategoryUnboundedSort
	sorted, err := repo.List(ctx, domain.PatternFilter{Structural: &cat})
	require.NoError(t, err)
	require.Len(t, sorted, 1)
	assert.Equal(t, "sorted", sorted[0].PatternHash)

	_, err = repo.Get(ctx, "missing")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)

	n, err := repo.PurgeUnseenSince(ctx, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestExecutionRepo_Purge(t *testing.T) {
	store := internaldb.OpenTestSQLite(t)
	passes := NewPassStore(store)
	ctx := context.Background()

	require.NoError(t, passes.InPassTx(ctx, func(tx domain.PassTx) error {
		for i, at := range []time.Time{t0, t0.Add(time.Hour), t0.Add(2 * time.Hour)} {
			if _, err := tx.InsertExecution(ctx, annotated(string(rune('a'+i)), "h1", at, 10)); err != nil {
				return err
			}
		}
		return nil
	}))

	n, err := NewExecutionRepo(store).PurgeStartedBefore(ctx, t0.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestHealthRepo_TableHealth(t *testing.T) {
	store := internaldb.OpenTestSQLite(t)
	passes := NewPassStore(store)
	ctx := context.Background()

	require.NoError(t, passes.InPassTx(ctx, func(tx domain.PassTx) error {
		_, err := tx.InsertExecution(ctx, annotated("rec-1", "h1", t0, 10))
		return err
	}))

	repo := NewHealthRepo(store, map[string]time.Duration{"query_executions": 2 * time.Hour})
	health, err := repo.TableHealth(ctx)
	require.NoError(t, err)
	require.Len(t, health, 5)

	byTable := make(map[string]domain.TableHealth, len(health))
	for _, h := range health {
		byTable[h.Table] = h
	}

	execs := byTable["query_executions"]
	assert.Equal(t, int64(1), execs.RowCount)
	require.NotNil(t, execs.LatestAt)
	assert.Equal(t, t0, *execs.LatestAt)
	assert.False(t, execs.Stale(t0.Add(time.Hour)))
	assert.True(t, execs.Stale(t0.Add(3*time.Hour)))

	alerts := byTable["alerts"]
	assert.Zero(t, alerts.RowCount)
	assert.Nil(t, alerts.LatestAt)
	assert.False(t, alerts.Stale(t0), "tables without a threshold are never stale")
}

func TestMapDBError(t *testing.T) {
	assert.NoError(t, mapDBError(nil))

	store := internaldb.OpenTestSQLite(t)
	_, err := store.Write.Exec(`INSERT INTO alerts (id, dedup_key, category, severity, pattern_hash, execution_id,
		workspace, user_name, subject, message, suggested_action, observed_value, threshold_value, occurred_at, created_at)
		VALUES ('a', 'k', 'c', 's', '', '', '', '', '', '', '', 0, 0, 0, 0)`)
	require.NoError(t, err)
	_, err = store.Write.Exec(`INSERT INTO alerts (id, dedup_key, category, severity, pattern_hash, execution_id,
		workspace, user_name, subject, message, suggested_action, observed_value, threshold_value, occurred_at, created_at)
		VALUES ('b', 'k', 'c', 's', '', '', '', '', '', '', '', 0, 0, 0, 0)`)
	require.Error(t, err)

	var conflict *domain.ConflictError
	assert.ErrorAs(t, mapDBError(err), &conflict)
}
