package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"changeguard/internal/domain"
)

var _ domain.SimulationRunRepository = (*SimulationRunRepo)(nil)

// SimulationRunRepo stores simulation run lifecycle state in SQLite.
type SimulationRunRepo struct {
	db DBTX
}

// NewSimulationRunRepo creates a new SimulationRunRepo.
func NewSimulationRunRepo(db DBTX) *SimulationRunRepo {
	return &SimulationRunRepo{db: db}
}

const simulationRunColumns = `id, change_id, status, report_json, error_message, created_at, updated_at`

// Create inserts a new run.
func (r *SimulationRunRepo) Create(ctx context.Context, run *domain.SimulationRun) error {
	if run == nil {
		return domain.ErrValidation("simulation run is required")
	}
	if run.ID == "" {
		run.ID = domain.NewID()
	}
	if run.Status == "" {
		run.Status = domain.SimulationStatusQueued
	}
	run.CreatedAt = normalizeTime(run.CreatedAt)
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = run.CreatedAt
	}
	run.UpdatedAt = run.UpdatedAt.UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO simulation_runs (id, change_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.ChangeID, string(run.Status), run.CreatedAt, run.UpdatedAt)
	return mapDBError(err)
}

// GetByID returns a run by ID.
func (r *SimulationRunRepo) GetByID(ctx context.Context, id string) (*domain.SimulationRun, error) {
	run, err := r.getOne(ctx, `SELECT `+simulationRunColumns+` FROM simulation_runs WHERE id = ?`, id)
	if err != nil {
		if _, ok := err.(*domain.NotFoundError); ok {
			return nil, domain.ErrNotFound("simulation %q not found", id)
		}
		return nil, err
	}
	return run, nil
}

// Latest returns the most recently created run of a change. Runs created
// at the same instant are ordered by insertion.
func (r *SimulationRunRepo) Latest(ctx context.Context, changeID string) (*domain.SimulationRun, error) {
	run, err := r.getOne(ctx, `
		SELECT `+simulationRunColumns+` FROM simulation_runs
		WHERE change_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`, changeID)
	if err != nil {
		if _, ok := err.(*domain.NotFoundError); ok {
			return nil, domain.ErrNotFound("no simulation found for change %q", changeID)
		}
		return nil, err
	}
	return run, nil
}

// ListByChange returns all runs of a change, newest first.
func (r *SimulationRunRepo) ListByChange(ctx context.Context, changeID string) ([]domain.SimulationRun, error) {
	return r.list(ctx, `
		SELECT `+simulationRunColumns+` FROM simulation_runs
		WHERE change_id = ?
		ORDER BY created_at DESC, seq DESC
	`, changeID)
}

// ListByStatusBefore returns up to limit runs in status whose last update
// is older than before, oldest first.
func (r *SimulationRunRepo) ListByStatusBefore(ctx context.Context, status domain.SimulationStatus, before time.Time, limit int) ([]domain.SimulationRun, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, `
		SELECT `+simulationRunColumns+` FROM simulation_runs
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC, seq ASC
		LIMIT ?
	`, string(status), before.UTC(), limit)
}

// MarkRunning moves a queued run to running.
func (r *SimulationRunRepo) MarkRunning(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE simulation_runs SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.SimulationStatusRunning), normalizeTime(at), id, string(domain.SimulationStatusQueued))
	if err != nil {
		return mapDBError(err)
	}
	return checkAffected(res, domain.ErrConflict("simulation %q is not queued", id))
}

// MarkSucceeded stores the report and marks the run successful.
func (r *SimulationRunRepo) MarkSucceeded(ctx context.Context, id string, report *domain.SimulationReport, at time.Time) error {
	reportJSON, err := encodeJSON(report)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE simulation_runs SET status = ?, report_json = ?, error_message = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.SimulationStatusSuccess), reportJSON, normalizeTime(at), id, string(domain.SimulationStatusRunning))
	if err != nil {
		return mapDBError(err)
	}
	return checkAffected(res, domain.ErrConflict("simulation %q is not running", id))
}

// MarkFailed records the error text and marks the run failed. Any
// non-terminal run may fail.
func (r *SimulationRunRepo) MarkFailed(ctx context.Context, id string, message string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE simulation_runs SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, string(domain.SimulationStatusFailed), message, normalizeTime(at), id,
		string(domain.SimulationStatusQueued), string(domain.SimulationStatusRunning))
	if err != nil {
		return mapDBError(err)
	}
	return checkAffected(res, domain.ErrConflict("simulation %q already finished", id))
}

// CountByStatus returns run counters across all changes.
func (r *SimulationRunRepo) CountByStatus(ctx context.Context) (*domain.SimulationStats, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM simulation_runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count simulation runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	stats := &domain.SimulationStats{}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan simulation count: %w", err)
		}
		stats.Total += n
		switch domain.SimulationStatus(status) {
		case domain.SimulationStatusQueued:
			stats.Queued = n
		case domain.SimulationStatusRunning:
			stats.Running = n
		case domain.SimulationStatusSuccess:
			stats.Success = n
		case domain.SimulationStatusFailed:
			stats.Failed = n
		}
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSimulationRun(s rowScanner) (*domain.SimulationRun, error) {
	var (
		run          domain.SimulationRun
		status       string
		reportJSON   sql.NullString
		errorMessage sql.NullString
	)
	if err := s.Scan(&run.ID, &run.ChangeID, &status, &reportJSON, &errorMessage, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.Status = domain.SimulationStatus(status)
	if reportJSON.Valid && reportJSON.String != "" {
		var report domain.SimulationReport
		if err := decodeJSON(reportJSON, &report); err != nil {
			return nil, err
		}
		run.Report = &report
	}
	if errorMessage.Valid {
		msg := errorMessage.String
		run.ErrorMessage = &msg
	}
	return &run, nil
}

func (r *SimulationRunRepo) getOne(ctx context.Context, stmt string, args ...any) (*domain.SimulationRun, error) {
	run, err := scanSimulationRun(r.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		return nil, mapDBError(err)
	}
	return run, nil
}

func (r *SimulationRunRepo) list(ctx context.Context, stmt string, args ...any) ([]domain.SimulationRun, error) {
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list simulation runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := []domain.SimulationRun{}
	for rows.Next() {
		run, err := scanSimulationRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan simulation run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}
