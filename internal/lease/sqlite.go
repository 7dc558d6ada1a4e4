// Package lease provides time-bounded mutual exclusion for simulation
// workers. A lease is never renewed: a holder that crashes blocks the key
// until the TTL lapses.
package lease

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"changeguard/internal/domain"
)

var _ domain.Leaser = (*SQLiteLeaser)(nil)

// SQLiteLeaser stores leases in the leases table. It serves every worker
// sharing one database file.
type SQLiteLeaser struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteLeaser creates a leaser on the write pool.
func NewSQLiteLeaser(db *sql.DB) *SQLiteLeaser {
	return &SQLiteLeaser{db: db, now: time.Now}
}

// Acquire inserts the lease, or takes over an expired one.
func (l *SQLiteLeaser) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", domain.ErrValidation("lease key is required")
	}
	if ttl <= 0 {
		return "", domain.ErrValidation("lease ttl must be positive")
	}

	token := domain.NewID()
	now := l.now()
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO leases (key, token, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET token = excluded.token, expires_at = excluded.expires_at
		WHERE leases.expires_at <= ?
	`, key, token, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("acquire lease %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if n == 0 {
		return "", domain.ErrLeaseHeld
	}
	return token, nil
}

// Release deletes the lease if token still owns it.
func (l *SQLiteLeaser) Release(ctx context.Context, key, token string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM leases WHERE key = ? AND token = ?`, key, token); err != nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	return nil
}
