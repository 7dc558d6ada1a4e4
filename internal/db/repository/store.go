package repository

import (
	"context"
	"database/sql"
	"fmt"

	"changeguard/internal/domain"
)

var _ domain.TxRunner = (*Store)(nil)

// Store hands out repositories bound to the read pool and runs
// transactions on the write pool.
type Store struct {
	writeDB *sql.DB
	readDB  *sql.DB
}

// NewStore creates a Store. readDB may equal writeDB.
func NewStore(writeDB, readDB *sql.DB) *Store {
	if readDB == nil {
		readDB = writeDB
	}
	return &Store{writeDB: writeDB, readDB: readDB}
}

// NewRepos binds every repository to db.
func NewRepos(db DBTX) domain.Repos {
	return domain.Repos{
		Changes:     NewChangeRepo(db),
		Risk:        NewRiskAssessmentRepo(db),
		Simulations: NewSimulationRunRepo(db),
		Audit:       NewAuditRepo(db),
		Idempotency: NewIdempotencyRepo(db),
	}
}

// Reads returns repositories bound to the read pool.
func (s *Store) Reads() domain.Repos {
	return NewRepos(s.readDB)
}

// InTx runs fn in one write transaction. The write pool opens transactions
// with BEGIN IMMEDIATE, so concurrent callers serialize here.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, r domain.Repos) error) error {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(ctx, NewRepos(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping checks that both pools are reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.writeDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping write pool: %w", err)
	}
	if err := s.readDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping read pool: %w", err)
	}
	return nil
}
