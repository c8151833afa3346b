package drugrequest

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxlearn/rxlearn/internal/platform/auth"
	"github.com/rxlearn/rxlearn/internal/platform/cache"
)

type Service struct {
	repo   Repository
	views  cache.ViewCache
	logger zerolog.Logger
}

func NewService(repo Repository, views cache.ViewCache, logger zerolog.Logger) *Service {
	if views == nil {
		views = cache.Nop{}
	}
	return &Service{repo: repo, views: views, logger: logger}
}

// Submit stores a new pending, unbatched request for userID.
func (s *Service) Submit(ctx context.Context, userID, drugName string) (*DrugRequest, error) {
	if userID == "" {
		return nil, fmt.Errorf("requested_by is required")
	}
	name := strings.TrimSpace(drugName)
	if name == "" {
		return nil, fmt.Errorf("%w: drug_name is required", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: drug_name exceeds %d characters", ErrInvalidName, MaxNameLength)
	}
	dr := &DrugRequest{RequestedBy: userID, DrugName: name, Status: StatusPending}
	if err := s.repo.Create(ctx, dr); err != nil {
		return nil, err
	}
	return dr, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*DrugRequest, error) {
	return s.repo.GetByID(ctx, id)
}

// GetForCaller returns the request if the caller owns it or is an admin.
func (s *Service) GetForCaller(ctx context.Context, id uuid.UUID) (*DrugRequest, error) {
	dr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if dr.RequestedBy != auth.UserIDFromContext(ctx) && !auth.HasRole(ctx, auth.RoleAdmin) {
		return nil, ErrForbidden
	}
	return dr, nil
}

func (s *Service) ListMine(ctx context.Context, userID string, limit, offset int) ([]*DrugRequest, int, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*DrugRequest, int, error) {
	if st, ok := params["status"]; ok && !validStatuses[Status(st)] {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, st)
	}
	if b, ok := params["batched"]; ok && b != "true" && b != "false" {
		return nil, 0, fmt.Errorf("%w: batched must be true or false", ErrInvalidFilter)
	}
	return s.repo.Search(ctx, params, limit, offset)
}

// Reject is idempotent for already rejected requests. Approved requests are
// linked to a library drug and cannot be rejected.
func (s *Service) Reject(ctx context.Context, id uuid.UUID) (*DrugRequest, error) {
	dr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if dr.Status == StatusApproved {
		return nil, fmt.Errorf("%w: approved requests cannot be rejected", ErrInvalidStatus)
	}
	if err := s.repo.Reject(ctx, id); err != nil {
		return nil, err
	}
	if dr.BatchID != nil {
		s.invalidate(ctx)
	}
	dr.Status = StatusRejected
	dr.BatchID = nil
	return dr, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.views.Invalidate(ctx, cache.AdminBatchesView); err != nil {
		s.logger.Warn().Err(err).Msg("invalidate admin batch view")
	}
}
