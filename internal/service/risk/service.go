package risk

import (
	"context"
	"log/slog"
	"time"

	"changeguard/internal/domain"
	"changeguard/internal/metrics"
	"changeguard/internal/service/audit"
)

// Service persists assessments produced by Assess.
type Service struct {
	tx     domain.TxRunner
	reads  domain.Repos
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new risk Service.
func NewService(tx domain.TxRunner, reads domain.Repos, logger *slog.Logger) *Service {
	return &Service{
		tx:     tx,
		reads:  reads,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Assess scores the change and stores the assessment with its audit entry.
func (s *Service) Assess(ctx context.Context, changeID, actor string) (*domain.RiskAssessment, error) {
	var out *domain.RiskAssessment
	err := s.tx.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		a, err := s.AssessIn(ctx, r, changeID, actor)
		out = a
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AssessIn is Assess within the caller's transaction. Only draft and
// approved changes can be assessed.
func (s *Service) AssessIn(ctx context.Context, r domain.Repos, changeID, actor string) (*domain.RiskAssessment, error) {
	if err := domain.ValidateActor(actor); err != nil {
		return nil, err
	}

	c, err := r.Changes.GetByID(ctx, changeID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.ChangeStatusDraft && c.Status != domain.ChangeStatusApproved {
		return nil, domain.ErrConflict("Cannot assess risk for change in status '%s'. Expected '%s' or '%s'.",
			c.Status, domain.ChangeStatusDraft, domain.ChangeStatusApproved)
	}

	a := Assess(c)
	a.ID = domain.NewID()
	a.CreatedAt = s.now()

	if err := r.Risk.Create(ctx, a); err != nil {
		return nil, err
	}
	if err := audit.Write(ctx, r.Audit, a.CreatedAt, actor, domain.AuditActionAssessRisk,
		domain.ResourceTypeChange, c.ID, map[string]any{
			"score": a.Score,
			"level": string(a.Level),
		}); err != nil {
		return nil, err
	}

	metrics.RiskAssessments.WithLabelValues(string(a.Level)).Inc()
	s.logger.Debug("risk assessed", "change_id", c.ID, "score", a.Score, "level", a.Level)
	return a, nil
}

// List returns the assessment history of a change, newest first.
func (s *Service) List(ctx context.Context, changeID string) ([]domain.RiskAssessment, error) {
	if _, err := s.reads.Changes.GetByID(ctx, changeID); err != nil {
		return nil, err
	}
	return s.reads.Risk.ListByChange(ctx, changeID)
}
