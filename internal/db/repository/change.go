package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"changeguard/internal/domain"
)

var _ domain.ChangeRepository = (*ChangeRepo)(nil)

// ChangeRepo stores changes and their items.
type ChangeRepo struct {
	db DBTX
}

// NewChangeRepo creates a new ChangeRepo.
func NewChangeRepo(db DBTX) *ChangeRepo {
	return &ChangeRepo{db: db}
}

// Create inserts the change row and every item. Items are numbered by their
// slice position. Callers run this inside a transaction so a partial insert
// is never visible.
func (r *ChangeRepo) Create(ctx context.Context, c *domain.Change) error {
	if c == nil {
		return domain.ErrValidation("change is required")
	}
	if c.ID == "" {
		c.ID = domain.NewID()
	}
	c.CreatedAt = normalizeTime(c.CreatedAt)
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	c.UpdatedAt = c.UpdatedAt.UTC()

	var description sql.NullString
	if c.Description != nil {
		description = sql.NullString{String: *c.Description, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO changes (id, title, description, environment, status, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Title, description, string(c.Environment), string(c.Status), c.CreatedBy, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return mapDBError(err)
	}

	for i := range c.Items {
		item := &c.Items[i]
		if item.ID == "" {
			item.ID = domain.NewID()
		}
		item.ChangeID = c.ID
		item.Position = i
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO change_items (id, change_id, position, key, old_value, new_value)
			VALUES (?, ?, ?, ?, ?, ?)
		`, item.ID, item.ChangeID, item.Position, item.Key, item.OldValue, item.NewValue)
		if err != nil {
			return mapDBError(err)
		}
	}
	return nil
}

// GetByID loads a change with its items in position order.
func (r *ChangeRepo) GetByID(ctx context.Context, id string) (*domain.Change, error) {
	var (
		c           domain.Change
		description sql.NullString
		environment string
		status      string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, description, environment, status, created_by, created_at, updated_at
		FROM changes WHERE id = ?
	`, id).Scan(&c.ID, &c.Title, &description, &environment, &status, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		mapped := mapDBError(err)
		if _, ok := mapped.(*domain.NotFoundError); ok {
			return nil, domain.ErrNotFound("change %q not found", id)
		}
		return nil, mapped
	}
	if description.Valid {
		d := description.String
		c.Description = &d
	}
	c.Environment = domain.Environment(environment)
	c.Status = domain.ChangeStatus(status)

	items, err := r.listItems(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Items = items
	return &c, nil
}

func (r *ChangeRepo) listItems(ctx context.Context, changeID string) ([]domain.ChangeItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, change_id, position, key, old_value, new_value
		FROM change_items WHERE change_id = ?
		ORDER BY position ASC
	`, changeID)
	if err != nil {
		return nil, fmt.Errorf("list change items: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	items := []domain.ChangeItem{}
	for rows.Next() {
		var it domain.ChangeItem
		if err := rows.Scan(&it.ID, &it.ChangeID, &it.Position, &it.Key, &it.OldValue, &it.NewValue); err != nil {
			return nil, fmt.Errorf("scan change item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpdateStatus performs a compare-and-set on the status column.
func (r *ChangeRepo) UpdateStatus(ctx context.Context, id string, from, to domain.ChangeStatus, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE changes SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), normalizeTime(at), id, string(from))
	if err != nil {
		return mapDBError(err)
	}
	return checkAffected(res, domain.ErrConflict("change %q is no longer in status '%s'", id, from))
}
