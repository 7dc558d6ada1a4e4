package domain

import (
	"context"
	"time"
)

// ChangeRepository persists Changes together with their owned items.
type ChangeRepository interface {
	Create(ctx context.Context, c *Change) error
	GetByID(ctx context.Context, id string) (*Change, error)
	// UpdateStatus moves a change from one status to another. It fails with
	// a ConflictError when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to ChangeStatus, at time.Time) error
}

// RiskAssessmentRepository stores the append-only assessment history.
type RiskAssessmentRepository interface {
	Create(ctx context.Context, a *RiskAssessment) error
	ListByChange(ctx context.Context, changeID string) ([]RiskAssessment, error)
}

// SimulationRunRepository stores simulation runs and their transitions.
type SimulationRunRepository interface {
	Create(ctx context.Context, run *SimulationRun) error
	GetByID(ctx context.Context, id string) (*SimulationRun, error)
	Latest(ctx context.Context, changeID string) (*SimulationRun, error)
	ListByChange(ctx context.Context, changeID string) ([]SimulationRun, error)
	ListByStatusBefore(ctx context.Context, status SimulationStatus, before time.Time, limit int) ([]SimulationRun, error)
	MarkRunning(ctx context.Context, id string, at time.Time) error
	MarkSucceeded(ctx context.Context, id string, report *SimulationReport, at time.Time) error
	MarkFailed(ctx context.Context, id string, message string, at time.Time) error
	CountByStatus(ctx context.Context) (*SimulationStats, error)
}

// AuditRepository provides write-once audit log storage.
type AuditRepository interface {
	Insert(ctx context.Context, e *AuditEntry) error
	ListForResource(ctx context.Context, resourceType, resourceID string) ([]AuditEntry, error)
}

// IdempotencyRepository stores responses keyed by (key, endpoint).
type IdempotencyRepository interface {
	Get(ctx context.Context, key, endpoint string) (*IdempotencyRecord, error)
	Create(ctx context.Context, rec *IdempotencyRecord) error
}

// Repos bundles repositories bound to one database handle, either the
// shared pool or an open transaction.
type Repos struct {
	Changes     ChangeRepository
	Risk        RiskAssessmentRepository
	Simulations SimulationRunRepository
	Audit       AuditRepository
	Idempotency IdempotencyRepository
}

// TxRunner executes fn inside a single write transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}
