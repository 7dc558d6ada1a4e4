package repository

import (
	"context"
	"database/sql"
	"fmt"

	"changeguard/internal/domain"
)

var _ domain.AuditRepository = (*AuditRepo)(nil)

// AuditRepo writes and reads the append-only audit log. It has no update
// or delete operations.
type AuditRepo struct {
	db DBTX
}

// NewAuditRepo creates a new AuditRepo.
func NewAuditRepo(db DBTX) *AuditRepo {
	return &AuditRepo{db: db}
}

// Insert appends an audit entry.
func (r *AuditRepo) Insert(ctx context.Context, e *domain.AuditEntry) error {
	if e == nil {
		return domain.ErrValidation("audit entry is required")
	}
	if e.ID == "" {
		e.ID = domain.NewID()
	}
	e.CreatedAt = normalizeTime(e.CreatedAt)

	var metadata sql.NullString
	if e.Metadata != nil {
		raw, err := encodeJSON(e.Metadata)
		if err != nil {
			return err
		}
		metadata = sql.NullString{String: raw, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor, action, resource_type, resource_id, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Actor, e.Action, e.ResourceType, e.ResourceID, metadata, e.CreatedAt)
	return mapDBError(err)
}

// ListForResource returns every entry for one resource, oldest first.
func (r *AuditRepo) ListForResource(ctx context.Context, resourceType, resourceID string) ([]domain.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, actor, action, resource_type, resource_id, metadata_json, created_at
		FROM audit_log
		WHERE resource_type = ? AND resource_id = ?
		ORDER BY created_at ASC, seq ASC
	`, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	entries := []domain.AuditEntry{}
	for rows.Next() {
		var (
			e        domain.AuditEntry
			metadata sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.ResourceType, &e.ResourceID, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if err := decodeJSON(metadata, &e.Metadata); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
