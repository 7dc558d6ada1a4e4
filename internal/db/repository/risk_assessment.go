package repository

import (
	"context"
	"database/sql"
	"fmt"

	"changeguard/internal/domain"
)

var _ domain.RiskAssessmentRepository = (*RiskAssessmentRepo)(nil)

// RiskAssessmentRepo stores the assessment history of each change.
type RiskAssessmentRepo struct {
	db DBTX
}

// NewRiskAssessmentRepo creates a new RiskAssessmentRepo.
func NewRiskAssessmentRepo(db DBTX) *RiskAssessmentRepo {
	return &RiskAssessmentRepo{db: db}
}

// Create appends an assessment.
func (r *RiskAssessmentRepo) Create(ctx context.Context, a *domain.RiskAssessment) error {
	if a == nil {
		return domain.ErrValidation("risk assessment is required")
	}
	if a.ID == "" {
		a.ID = domain.NewID()
	}
	a.CreatedAt = normalizeTime(a.CreatedAt)

	blast, err := encodeJSON(a.BlastRadius)
	if err != nil {
		return err
	}
	reasoning, err := encodeJSON(a.Reasoning)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (id, change_id, score, level, blast_radius_json, reasoning_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ChangeID, a.Score, string(a.Level), blast, reasoning, a.CreatedAt)
	return mapDBError(err)
}

// ListByChange returns the assessments of a change, newest first.
func (r *RiskAssessmentRepo) ListByChange(ctx context.Context, changeID string) ([]domain.RiskAssessment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, change_id, score, level, blast_radius_json, reasoning_json, created_at
		FROM risk_assessments WHERE change_id = ?
		ORDER BY created_at DESC, seq DESC
	`, changeID)
	if err != nil {
		return nil, fmt.Errorf("list risk assessments: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := []domain.RiskAssessment{}
	for rows.Next() {
		var (
			a               domain.RiskAssessment
			level           string
			blast, reasoned sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.ChangeID, &a.Score, &level, &blast, &reasoned, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan risk assessment: %w", err)
		}
		a.Level = domain.RiskLevel(level)
		if err := decodeJSON(blast, &a.BlastRadius); err != nil {
			return nil, err
		}
		if err := decodeJSON(reasoned, &a.Reasoning); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
