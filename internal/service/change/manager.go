// Package change implements the change lifecycle: creation, approval and
// hand-off of simulations to the job queue.
package change

import (
	"context"
	"log/slog"
	"time"

	"changeguard/internal/domain"
	"changeguard/internal/metrics"
	"changeguard/internal/service/audit"
)

// Manager owns Change entities and their status transitions. Every mutating
// operation runs in one transaction together with its audit entry.
//
// The *In variants take the repositories of a transaction opened by the
// caller, so an outer guard (idempotency) can share the same atomic unit.
type Manager struct {
	tx     domain.TxRunner
	reads  domain.Repos
	queue  domain.JobQueue
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a new Manager.
func NewManager(tx domain.TxRunner, reads domain.Repos, queue domain.JobQueue, logger *slog.Logger) *Manager {
	return &Manager{
		tx:     tx,
		reads:  reads,
		queue:  queue,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create validates req and stores a new draft change.
func (m *Manager) Create(ctx context.Context, req domain.CreateChangeRequest) (*domain.Change, error) {
	var out *domain.Change
	err := m.tx.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		c, err := m.CreateIn(ctx, r, req)
		out = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateIn is Create within the caller's transaction.
func (m *Manager) CreateIn(ctx context.Context, r domain.Repos, req domain.CreateChangeRequest) (*domain.Change, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := m.now()
	c := &domain.Change{
		ID:          domain.NewID(),
		Title:       req.Title,
		Description: req.Description,
		Environment: domain.Environment(req.Environment),
		Status:      domain.ChangeStatusDraft,
		CreatedBy:   req.CreatedBy,
		Items:       make([]domain.ChangeItem, len(req.Items)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, it := range req.Items {
		c.Items[i] = domain.ChangeItem{Key: it.Key, OldValue: it.OldValue, NewValue: it.NewValue}
	}

	if err := r.Changes.Create(ctx, c); err != nil {
		return nil, err
	}
	if err := audit.Write(ctx, r.Audit, now, req.CreatedBy, domain.AuditActionCreateChange,
		domain.ResourceTypeChange, c.ID, map[string]any{
			"environment": string(c.Environment),
			"item_count":  len(c.Items),
		}); err != nil {
		return nil, err
	}

	metrics.ChangesCreated.Inc()
	return r.Changes.GetByID(ctx, c.ID)
}

// Get loads a change with its items.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Change, error) {
	return m.reads.Changes.GetByID(ctx, id)
}

// Approve moves a draft change to approved.
func (m *Manager) Approve(ctx context.Context, id, actor string) (*domain.Change, error) {
	var out *domain.Change
	err := m.tx.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		c, err := m.ApproveIn(ctx, r, id, actor)
		out = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ApproveIn is Approve within the caller's transaction.
func (m *Manager) ApproveIn(ctx context.Context, r domain.Repos, id, actor string) (*domain.Change, error) {
	if err := domain.ValidateActor(actor); err != nil {
		return nil, err
	}

	c, err := r.Changes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.ChangeStatusDraft {
		return nil, domain.ErrConflict("Cannot approve change in status '%s'. Expected '%s'.",
			c.Status, domain.ChangeStatusDraft)
	}

	if err := m.transition(ctx, r, c, domain.ChangeStatusApproved, actor, domain.AuditActionApproveChange); err != nil {
		return nil, err
	}
	return r.Changes.GetByID(ctx, id)
}

func (m *Manager) transition(ctx context.Context, r domain.Repos, c *domain.Change, to domain.ChangeStatus, actor, action string) error {
	if !c.Status.CanTransitionTo(to) {
		return domain.ErrConflict("Cannot move change from status '%s' to '%s'.", c.Status, to)
	}
	now := m.now()
	if err := r.Changes.UpdateStatus(ctx, c.ID, c.Status, to, now); err != nil {
		return err
	}
	if err := audit.Write(ctx, r.Audit, now, actor, action, domain.ResourceTypeChange, c.ID, map[string]any{
		"from": string(c.Status),
		"to":   string(to),
	}); err != nil {
		return err
	}
	metrics.ChangeTransitions.WithLabelValues(string(c.Status), string(to)).Inc()
	return nil
}

// QueueSimulation persists a queued run, commits, then enqueues the job.
// A failed hand-off leaves the committed run queued for the reconciler and
// is not reported to the caller.
func (m *Manager) QueueSimulation(ctx context.Context, id, actor string) (*domain.SimulationRun, error) {
	var run *domain.SimulationRun
	err := m.tx.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		queued, err := m.QueueSimulationIn(ctx, r, id, actor)
		run = queued
		return err
	})
	if err != nil {
		return nil, err
	}
	m.Dispatch(ctx, run)
	return run, nil
}

// QueueSimulationIn creates the queued run within the caller's
// transaction. The caller must call Dispatch after committing.
func (m *Manager) QueueSimulationIn(ctx context.Context, r domain.Repos, id, actor string) (*domain.SimulationRun, error) {
	if err := domain.ValidateActor(actor); err != nil {
		return nil, err
	}

	c, err := r.Changes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.ChangeStatusApproved {
		return nil, domain.ErrConflict("Cannot queue simulation for change in status '%s'. Expected '%s'.",
			c.Status, domain.ChangeStatusApproved)
	}

	now := m.now()
	run := &domain.SimulationRun{
		ID:        domain.NewID(),
		ChangeID:  c.ID,
		Status:    domain.SimulationStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.Simulations.Create(ctx, run); err != nil {
		return nil, err
	}
	if err := audit.Write(ctx, r.Audit, now, actor, domain.AuditActionQueueSimulation,
		domain.ResourceTypeChange, c.ID, map[string]any{"simulation_id": run.ID}); err != nil {
		return nil, err
	}

	metrics.SimulationsQueued.Inc()
	return run, nil
}

// Dispatch hands a committed run to the job queue.
func (m *Manager) Dispatch(ctx context.Context, run *domain.SimulationRun) {
	if run == nil {
		return
	}
	job := domain.SimulationJob{ChangeID: run.ChangeID, SimulationID: run.ID}
	if err := m.queue.Enqueue(context.WithoutCancel(ctx), job); err != nil {
		metrics.EnqueueFailures.Inc()
		m.logger.Warn("enqueue simulation failed; run left queued for reconciliation",
			"simulation_id", run.ID,
			"change_id", run.ChangeID,
			"error", err,
		)
		return
	}
	m.logger.Info("simulation enqueued", "simulation_id", run.ID, "change_id", run.ChangeID)
}
