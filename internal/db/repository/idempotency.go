package repository

import (
	"context"

	"changeguard/internal/domain"
)

var _ domain.IdempotencyRepository = (*IdempotencyRepo)(nil)

// IdempotencyRepo stores replayable responses keyed by (key, endpoint).
type IdempotencyRepo struct {
	db DBTX
}

// NewIdempotencyRepo creates a new IdempotencyRepo.
func NewIdempotencyRepo(db DBTX) *IdempotencyRepo {
	return &IdempotencyRepo{db: db}
}

// Get returns the record for (key, endpoint) or a NotFoundError.
func (r *IdempotencyRepo) Get(ctx context.Context, key, endpoint string) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT key, endpoint, request_hash, response_body, status_code, created_at
		FROM idempotency_records WHERE key = ? AND endpoint = ?
	`, key, endpoint).Scan(&rec.Key, &rec.Endpoint, &rec.RequestHash, &rec.ResponseBody, &rec.StatusCode, &rec.CreatedAt)
	if err != nil {
		return nil, mapDBError(err)
	}
	return &rec, nil
}

// Create stores a record. A second record for the same (key, endpoint)
// fails with a ConflictError from the unique constraint.
func (r *IdempotencyRepo) Create(ctx context.Context, rec *domain.IdempotencyRecord) error {
	if rec == nil {
		return domain.ErrValidation("idempotency record is required")
	}
	rec.CreatedAt = normalizeTime(rec.CreatedAt)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO idempotency_records (key, endpoint, request_hash, response_body, status_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.Key, rec.Endpoint, rec.RequestHash, rec.ResponseBody, rec.StatusCode, rec.CreatedAt)
	return mapDBError(err)
}
