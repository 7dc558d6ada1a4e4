package repository

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changeguard/internal/db"
	"changeguard/internal/domain"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	writeDB, readDB := db.OpenTestSQLite(t)
	return NewStore(writeDB, readDB)
}

func newTestChange(items ...domain.ChangeItem) *domain.Change {
	if len(items) == 0 {
		items = []domain.ChangeItem{{Key: "LOGIN_TIMEOUT", OldValue: "30", NewValue: "10"}}
	}
	return &domain.Change{
		Title:       "Shorter login timeout",
		Environment: domain.EnvironmentProd,
		Status:      domain.ChangeStatusDraft,
		CreatedBy:   "alice",
		Items:       items,
	}
}

func createChange(t *testing.T, s *Store, c *domain.Change) *domain.Change {
	t.Helper()
	err := s.InTx(context.Background(), func(ctx context.Context, r domain.Repos) error {
		return r.Changes.Create(ctx, c)
	})
	require.NoError(t, err)
	return c
}

func TestChangeRepo_CreateAndGet(t *testing.T) {
	s := setupStore(t)
	desc := "reduce blast radius of slow auth"

	c := newTestChange(
		domain.ChangeItem{Key: "B", OldValue: "1", NewValue: "2"},
		domain.ChangeItem{Key: "A", OldValue: "x", NewValue: "y"},
	)
	c.Description = &desc
	createChange(t, s, c)
	require.NotEmpty(t, c.ID)

	loaded, err := s.Reads().Changes.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Shorter login timeout", loaded.Title)
	require.NotNil(t, loaded.Description)
	assert.Equal(t, desc, *loaded.Description)
	assert.Equal(t, domain.EnvironmentProd, loaded.Environment)
	assert.Equal(t, domain.ChangeStatusDraft, loaded.Status)
	require.Len(t, loaded.Items, 2)
	assert.Equal(t, "B", loaded.Items[0].Key)
	assert.Equal(t, 0, loaded.Items[0].Position)
	assert.Equal(t, "A", loaded.Items[1].Key)
	assert.Equal(t, c.ID, loaded.Items[1].ChangeID)
}

func TestChangeRepo_GetMissing(t *testing.T) {
	s := setupStore(t)

	_, err := s.Reads().Changes.GetByID(context.Background(), domain.NewID())
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Contains(t, nf.Message, "change")
}

func TestChangeRepo_UpdateStatusCompareAndSet(t *testing.T) {
	s := setupStore(t)
	c := createChange(t, s, newTestChange())
	ctx := context.Background()
	later := c.UpdatedAt.Add(time.Second)

	err := s.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		return r.Changes.UpdateStatus(ctx, c.ID, domain.ChangeStatusDraft, domain.ChangeStatusApproved, later)
	})
	require.NoError(t, err)

	err = s.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		return r.Changes.UpdateStatus(ctx, c.ID, domain.ChangeStatusDraft, domain.ChangeStatusApproved, later)
	})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)

	loaded, err := s.Reads().Changes.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChangeStatusApproved, loaded.Status)
	assert.True(t, loaded.UpdatedAt.Equal(later.UTC()))
}

func TestStore_InTxRollsBackOnError(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	c := newTestChange()

	err := s.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		if err := r.Changes.Create(ctx, c); err != nil {
			return err
		}
		if err := r.Audit.Insert(ctx, &domain.AuditEntry{
			Actor: "alice", Action: domain.AuditActionCreateChange,
			ResourceType: domain.ResourceTypeChange, ResourceID: c.ID,
		}); err != nil {
			return err
		}
		return domain.ErrValidation("abort")
	})
	require.Error(t, err)

	_, err = s.Reads().Changes.GetByID(ctx, c.ID)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	entries, err := s.Reads().Audit.ListForResource(ctx, domain.ResourceTypeChange, c.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_CascadeDeletesOwnedRows(t *testing.T) {
	writeDB, readDB := db.OpenTestSQLite(t)
	s := NewStore(writeDB, readDB)
	ctx := context.Background()
	c := createChange(t, s, newTestChange())

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		if err := r.Simulations.Create(ctx, &domain.SimulationRun{ChangeID: c.ID}); err != nil {
			return err
		}
		return r.Risk.Create(ctx, &domain.RiskAssessment{ChangeID: c.ID, Score: 10, Level: domain.RiskLevelLow})
	}))

	_, err := writeDB.Exec(`DELETE FROM changes WHERE id = ?`, c.ID)
	require.NoError(t, err)

	for _, table := range []string{"change_items", "simulation_runs", "risk_assessments"} {
		var n int
		require.NoError(t, writeDB.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE change_id = ?`, c.ID).Scan(&n))
		assert.Zero(t, n, table)
	}
}
