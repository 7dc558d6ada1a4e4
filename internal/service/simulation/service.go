package simulation

import (
	"context"

	"changeguard/internal/domain"
)

// Service answers simulation queries.
type Service struct {
	reads domain.Repos
}

// NewService creates a new simulation query Service.
func NewService(reads domain.Repos) *Service {
	return &Service{reads: reads}
}

// Latest returns the most recently created run of a change.
func (s *Service) Latest(ctx context.Context, changeID string) (*domain.SimulationRun, error) {
	if _, err := s.reads.Changes.GetByID(ctx, changeID); err != nil {
		return nil, err
	}
	return s.reads.Simulations.Latest(ctx, changeID)
}

// History returns every run of a change, newest first.
func (s *Service) History(ctx context.Context, changeID string) ([]domain.SimulationRun, error) {
	if _, err := s.reads.Changes.GetByID(ctx, changeID); err != nil {
		return nil, err
	}
	return s.reads.Simulations.ListByChange(ctx, changeID)
}

// Get returns a single run.
func (s *Service) Get(ctx context.Context, id string) (*domain.SimulationRun, error) {
	return s.reads.Simulations.GetByID(ctx, id)
}

// Stats counts runs by status.
func (s *Service) Stats(ctx context.Context) (*domain.SimulationStats, error) {
	return s.reads.Simulations.CountByStatus(ctx)
}
