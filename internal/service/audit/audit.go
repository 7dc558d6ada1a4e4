// Package audit writes and reads the audit trail. Writes always go through
// the repository of the caller's transaction so the entry commits together
// with the state change it records.
package audit

import (
	"context"
	"fmt"
	"time"

	"changeguard/internal/domain"
)

// Write appends one entry. Unlike best-effort logging, a failed write is
// returned so the surrounding transaction rolls back.
func Write(ctx context.Context, repo domain.AuditRepository, at time.Time, actor, action, resourceType, resourceID string, metadata map[string]any) error {
	err := repo.Insert(ctx, &domain.AuditEntry{
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		CreatedAt:    at,
	})
	if err != nil {
		return fmt.Errorf("write audit %s: %w", action, err)
	}
	return nil
}

// Service provides audit trail queries.
type Service struct {
	repo domain.AuditRepository
}

// NewService creates a new audit Service.
func NewService(repo domain.AuditRepository) *Service {
	return &Service{repo: repo}
}

// ListForResource returns the entries of one resource, oldest first.
func (s *Service) ListForResource(ctx context.Context, resourceType, resourceID string) ([]domain.AuditEntry, error) {
	if resourceType == "" || resourceID == "" {
		return nil, domain.ErrValidation("resource type and id are required")
	}
	return s.repo.ListForResource(ctx, resourceType, resourceID)
}

// ListForChange returns the audit trail of a change, oldest first.
func (s *Service) ListForChange(ctx context.Context, changeID string) ([]domain.AuditEntry, error) {
	return s.ListForResource(ctx, domain.ResourceTypeChange, changeID)
}
