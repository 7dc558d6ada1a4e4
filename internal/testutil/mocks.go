// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"changeguard/internal/domain"
)

// DiscardLogger returns a logger that discards all output.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// === Job Queue Mock ===

// MockJobQueue implements domain.JobQueue for testing.
type MockJobQueue struct {
	EnqueueFn func(ctx context.Context, job domain.SimulationJob) error

	mu   sync.Mutex
	Jobs []domain.SimulationJob // collected jobs for assertions
}

// Enqueue implements the interface method for testing.
func (m *MockJobQueue) Enqueue(ctx context.Context, job domain.SimulationJob) error {
	if m.EnqueueFn != nil {
		if err := m.EnqueueFn(ctx, job); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.Jobs = append(m.Jobs, job)
	m.mu.Unlock()
	return nil
}

// Enqueued returns a copy of the collected jobs.
func (m *MockJobQueue) Enqueued() []domain.SimulationJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SimulationJob(nil), m.Jobs...)
}

var _ domain.JobQueue = (*MockJobQueue)(nil)

// === Leaser Mock ===

// MockLeaser implements domain.Leaser for testing. Without AcquireFn it
// behaves like an in-process lease table that ignores expiry.
type MockLeaser struct {
	AcquireFn func(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseFn func(ctx context.Context, key, token string) error

	mu       sync.Mutex
	held     map[string]string
	Released []string // keys released, in order
}

// Acquire implements the interface method for testing.
func (m *MockLeaser) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if m.AcquireFn != nil {
		return m.AcquireFn(ctx, key, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held == nil {
		m.held = make(map[string]string)
	}
	if _, ok := m.held[key]; ok {
		return "", domain.ErrLeaseHeld
	}
	token := domain.NewID()
	m.held[key] = token
	return token, nil
}

// Release implements the interface method for testing.
func (m *MockLeaser) Release(ctx context.Context, key, token string) error {
	m.mu.Lock()
	m.Released = append(m.Released, key)
	if m.held[key] == token {
		delete(m.held, key)
	}
	m.mu.Unlock()
	if m.ReleaseFn != nil {
		return m.ReleaseFn(ctx, key, token)
	}
	return nil
}

var _ domain.Leaser = (*MockLeaser)(nil)

// === Traffic Source Mock ===

// MockTrafficSource implements domain.TrafficSource for testing.
type MockTrafficSource struct {
	LoadFn func(ctx context.Context) ([]domain.TrafficRecord, error)
}

// Load implements the interface method for testing.
func (m *MockTrafficSource) Load(ctx context.Context) ([]domain.TrafficRecord, error) {
	if m.LoadFn != nil {
		return m.LoadFn(ctx)
	}
	panic("unexpected call to MockTrafficSource.Load")
}

var _ domain.TrafficSource = (*MockTrafficSource)(nil)

// === Audit Repository Mock ===

// MockAuditRepo implements domain.AuditRepository for testing.
type MockAuditRepo struct {
	InsertFn          func(ctx context.Context, e *domain.AuditEntry) error
	ListForResourceFn func(ctx context.Context, resourceType, resourceID string) ([]domain.AuditEntry, error)
	Entries           []*domain.AuditEntry // collected entries for assertions
}

// Insert implements the interface method for testing.
func (m *MockAuditRepo) Insert(ctx context.Context, e *domain.AuditEntry) error {
	if m.InsertFn != nil {
		if err := m.InsertFn(ctx, e); err != nil {
			return err
		}
	}
	m.Entries = append(m.Entries, e)
	return nil
}

// ListForResource implements the interface method for testing.
func (m *MockAuditRepo) ListForResource(ctx context.Context, resourceType, resourceID string) ([]domain.AuditEntry, error) {
	if m.ListForResourceFn != nil {
		return m.ListForResourceFn(ctx, resourceType, resourceID)
	}
	panic("unexpected call to MockAuditRepo.ListForResource")
}

// LastEntry returns the last collected audit entry, or nil if none.
func (m *MockAuditRepo) LastEntry() *domain.AuditEntry {
	if len(m.Entries) == 0 {
		return nil
	}
	return m.Entries[len(m.Entries)-1]
}

var _ domain.AuditRepository = (*MockAuditRepo)(nil)
