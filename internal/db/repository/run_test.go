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

func hourWindow(start time.Time) domain.Window {
	return domain.Window{Start: start, End: start.Add(time.Hour)}
}

func TestRunRepo_Lifecycle(t *testing.T) {
	store := internaldb.OpenTestSQLite(t)
	repo := NewRunRepo(store)
	ctx := context.Background()

	run, err := repo.Create(ctx, &domain.ETLRun{Kind: domain.RunKindRecordPass, Window: hourWindow(t0)})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, domain.RunStatusStarted, run.Status)
	assert.False(t, run.StartedAt.IsZero())

	counts := domain.RunCounts{RecordsRead: 10, RecordsProcessed: 7, RecordsSkipped: 1, RecordsDuplicate: 2, AlertsEmitted: 3, AlertsSuppressed: 1}
	require.NoError(t, repo.Complete(ctx, run.ID, counts))

	got, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	assert.Equal(t, counts, got.Counts)
	assert.Equal(t, hourWindow(t0), got.Window)
	assert.NotNil(t, got.FinishedAt)
	assert.Nil(t, got.ErrorMessage)
	assert.True(t, got.Terminal())

	// Terminal runs cannot be finished twice.
	err = repo.Fail(ctx, run.ID, counts, "late")
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestRunRepo_Fail(t *testing.T) {
	store := internaldb.OpenTestSQLite(t)
	repo := NewRunRepo(store)
	ctx := context.Background()

	run, err := repo.Create(ctx, &domain.ETLRun{Kind: domain.RunKindBaseline, Window: hourWindow(t0)})
	require.NoError(t, err)
	require.NoError(t, repo.Fail(ctx, run.ID, domain.RunCounts{RecordsRead: 4}, "source unavailable"))

	got, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "source unavailable", *got.ErrorMessage)
	assert.Equal(t, int64(4), got.Counts.RecordsRead)
}

func TestRunRepo_OneInFlightPerWindow(t *testing.T) {
	store := internaldb.OpenTestSQLite(t)
	repo := NewRunRepo(store)
	ctx := context.Background()

	_, err := repo.Create(ctx, &domain.ETLRun{Kind: domain.RunKindRecordPass, Window: hourWindow(t0)})
	require.NoError(t, err)

	_, err = repo.Create(ctx, &domain.ETLRun{Kind: domain.RunKindRecordPass, Window: hourWindow(t0)})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, err.Error(), "already in progress")

	// Another partition or window is independent.
	_, err = repo.Create(ctx, &domain.ETLRun{Kind: domain.RunKindRecordPass, Partition: "ws-b", Window: hourWindow(t0)})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &domain.ETLRun{Kind: domain.RunKindRecordPass, Window: hourWindow(t0.Add(time.Hour))})
	require.NoError(t, err)
}

func TestRunRepo_GetByID_NotFound(t *testing.T) {
	store := internaldb.OpenTestSQLite(t)
	_, err := NewRunRepo(store).GetByID(context.Background(), "missing")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestRunRepo_FindByWindowAndWatermark(t *testing.T) {
	store := internaldb.OpenTestSQLite(t)
	repo := NewRunRepo(store)
	ctx := context.Background()

	end, err := repo.Watermark(ctx, domain.RunKindRecordPass, "")
	require.NoError(t, err)
	assert.Nil(t, end)

	for i := 0; i < 3; i++ {
		run, err := repo.Create(ctx, &domain.ETLRun{Kind: domain.RunKindRecordPass, Window: hourWindow(t0.Add(time.Duration(i) * time.Hour))})
		require.NoError(t, err)
		if i < 2 {
			require.NoError(t, repo.Complete(ctx, run.ID, domain.RunCounts{}))
		}
	}

	end, err = repo.Watermark(ctx, domain.RunKindRecordPass, "")
	require.NoError(t, err)
	require.NotNil(t, end)
	assert.Equal(t, t0.Add(2*time.Hour), *end)

	found, err := repo.FindByWindow(ctx, domain.RunKindRecordPass, "", hourWindow(t0), domain.RunStatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, hourWindow(t0), found.Window)

	found, err = repo.FindByWindow(ctx, domain.RunKindRecordPass, "", hourWindow(t0.Add(2*time.Hour)), domain.RunStatusCompleted)
	require.NoError(t, err)
	assert.Nil(t, found)

	found, err = repo.FindByWindow(ctx, domain.RunKindRecordPass, "", hourWindow(t0.Add(2*time.Hour)), domain.RunStatusStarted)
	require.NoError(t, err)
	assert.NotNil(t, found)
}

func TestRunRepo_WatermarkStopsAtGap(t *testing.T) {
	store := internaldb.OpenTestSQLite(t)
	repo := NewRunRepo(store)
	ctx := context.Background()

	complete := func(w domain.Window, partition string) {
		run, err := repo.Create(ctx, &domain.ETLRun{Kind: domain.RunKindRecordPass, Partition: partition, Window: w})
		require.NoError(t, err)
		require.NoError(t, repo.Complete(ctx, run.ID, domain.RunCounts{}))
	}
	complete(hourWindow(t0), "")
	complete(hourWindow(t0.Add(time.Hour)), "")
	complete(hourWindow(t0.Add(3*time.Hour)), "")
	complete(hourWindow(t0.Add(5*time.Hour)), "other")

	end, err := repo.Watermark(ctx, domain.RunKindRecordPass, "")
	require.NoError(t, err)
	require.NotNil(t, end)
	assert.Equal(t, t0.Add(2*time.Hour), *end, "hour 3 lies beyond the gap at hour 2")

	done, err := repo.CompletedWindows(ctx, domain.RunKindRecordPass, "", *end)
	require.NoError(t, err)
	assert.Equal(t, []domain.Window{hourWindow(t0.Add(3 * time.Hour))}, done)

	complete(hourWindow(t0.Add(2*time.Hour)), "")
	end, err = repo.Watermark(ctx, domain.RunKindRecordPass, "")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(4*time.Hour), *end, "filling the gap joins the later window")
}

func TestRunRepo_ListAndPurge(t *testing.T) {
	store := internaldb.OpenTestSQLite(t)
	repo := NewRunRepo(store)
	ctx := context.Background()

	old, err := repo.Create(ctx, &domain.ETLRun{Kind: domain.RunKindRecordPass, Window: hourWindow(t0), StartedAt: t0})
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, old.ID, domain.RunCounts{}))
	_, err = repo.Create(ctx, &domain.ETLRun{Kind: domain.RunKindBaseline, Window: hourWindow(t0), StartedAt: t0.Add(time.Minute)})
	require.NoError(t, err)

	all, err := repo.List(ctx, domain.RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.RunKindBaseline, all[0].Kind)

	kind := domain.RunKindRecordPass
	some, err := repo.List(ctx, domain.RunFilter{Kind: &kind})
	require.NoError(t, err)
	assert.Len(t, some, 1)

	page, err := repo.List(ctx, domain.RunFilter{Page: domain.Page{Size: 1}})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	n, err := repo.PurgeFinishedBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "in-flight run must survive")

	all, err = repo.List(ctx, domain.RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.RunStatusStarted, all[0].Status)
}
