package activity

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Track records an action. Failures are logged; the audit trail never fails
// the operation being audited.
func (s *Service) Track(ctx context.Context, userID uuid.UUID, action, details string) {
	a := &Activity{Action: action, Details: details}
	if userID != uuid.Nil {
		a.UserID = &userID
	}
	if err := s.repo.Create(ctx, a); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("activity not recorded")
	}
}

func (s *Service) List(ctx context.Context, f Filter) ([]*Activity, int, error) {
	return s.repo.List(ctx, f)
}
