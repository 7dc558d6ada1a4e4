package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changeguard/internal/domain"
)

func TestSimulationRunRepo_Lifecycle(t *testing.T) {
	t.Parallel()

	s := setupStore(t)
	c := createChange(t, s, newTestChange())
	repo := NewSimulationRunRepo(s.writeDB)
	ctx := context.Background()

	run := &domain.SimulationRun{ChangeID: c.ID}
	require.NoError(t, repo.Create(ctx, run))
	assert.Equal(t, domain.SimulationStatusQueued, run.Status)

	started := time.Now()
	require.NoError(t, repo.MarkRunning(ctx, run.ID, started))

	report := &domain.SimulationReport{
		BaseFailRate:      0.3333,
		PredictedFailRate: 0.3833,
		SampleSize:        3,
		Assumptions:       []string{"a", "b", "c"},
	}
	require.NoError(t, repo.MarkSucceeded(ctx, run.ID, report, started.Add(time.Millisecond)))

	loaded, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SimulationStatusSuccess, loaded.Status)
	require.NotNil(t, loaded.Report)
	assert.Equal(t, *report, *loaded.Report)
	assert.Nil(t, loaded.ErrorMessage)

	// Terminal runs cannot fail afterwards.
	err = repo.MarkFailed(ctx, run.ID, "late", time.Now())
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestSimulationRunRepo_MarkFailed(t *testing.T) {
	t.Parallel()

	s := setupStore(t)
	c := createChange(t, s, newTestChange())
	repo := NewSimulationRunRepo(s.writeDB)
	ctx := context.Background()

	run := &domain.SimulationRun{ChangeID: c.ID}
	require.NoError(t, repo.Create(ctx, run))
	require.NoError(t, repo.MarkRunning(ctx, run.ID, time.Now()))
	require.NoError(t, repo.MarkFailed(ctx, run.ID, "boom", time.Now()))

	loaded, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SimulationStatusFailed, loaded.Status)
	require.NotNil(t, loaded.ErrorMessage)
	assert.Equal(t, "boom", *loaded.ErrorMessage)

	err = repo.MarkRunning(ctx, run.ID, time.Now())
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestSimulationRunRepo_LatestAndHistoryOrdering(t *testing.T) {
	t.Parallel()

	s := setupStore(t)
	c := createChange(t, s, newTestChange())
	repo := NewSimulationRunRepo(s.writeDB)
	ctx := context.Background()

	_, err := repo.Latest(ctx, c.ID)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := &domain.SimulationRun{ChangeID: c.ID, CreatedAt: base}
	second := &domain.SimulationRun{ChangeID: c.ID, CreatedAt: base.Add(time.Second)}
	// Same timestamp as second; inserted later so it wins the tie.
	third := &domain.SimulationRun{ChangeID: c.ID, CreatedAt: base.Add(time.Second)}
	for _, r := range []*domain.SimulationRun{first, second, third} {
		require.NoError(t, repo.Create(ctx, r))
	}

	latest, err := repo.Latest(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, third.ID, latest.ID)

	history, err := repo.ListByChange(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{third.ID, second.ID, first.ID},
		[]string{history[0].ID, history[1].ID, history[2].ID})
}

func TestSimulationRunRepo_ListByStatusBeforeAndCounts(t *testing.T) {
	t.Parallel()

	s := setupStore(t)
	c := createChange(t, s, newTestChange())
	repo := NewSimulationRunRepo(s.writeDB)
	ctx := context.Background()

	old := time.Now().Add(-time.Hour)
	stale := &domain.SimulationRun{ChangeID: c.ID, CreatedAt: old}
	fresh := &domain.SimulationRun{ChangeID: c.ID}
	done := &domain.SimulationRun{ChangeID: c.ID, CreatedAt: old}
	for _, r := range []*domain.SimulationRun{stale, fresh, done} {
		require.NoError(t, repo.Create(ctx, r))
	}
	require.NoError(t, repo.MarkRunning(ctx, done.ID, old))
	require.NoError(t, repo.MarkFailed(ctx, done.ID, "x", old))

	runs, err := repo.ListByStatusBefore(ctx, domain.SimulationStatusQueued, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, stale.ID, runs[0].ID)

	stats, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.Queued)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Zero(t, stats.Success)
}
