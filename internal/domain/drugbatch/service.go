package drugbatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxlearn/rxlearn/internal/platform/archive"
	"github.com/rxlearn/rxlearn/internal/platform/cache"
)

// Service serves the admin batch views on top of the aggregator and
// processor.
type Service struct {
	batches  Repository
	requests Membership
	agg      *Aggregator
	proc     *Processor
	views    cache.ViewCache
	archive  archive.Store
	logger   zerolog.Logger
}

func NewService(batches Repository, requests Membership, agg *Aggregator, proc *Processor, views cache.ViewCache, store archive.Store, logger zerolog.Logger) *Service {
	if views == nil {
		views = cache.Nop{}
	}
	return &Service{
		batches:  batches,
		requests: requests,
		agg:      agg,
		proc:     proc,
		views:    views,
		archive:  store,
		logger:   logger,
	}
}

// Page is one page of the batch list, as cached.
type Page struct {
	Items []*Batch `json:"items"`
	Total int      `json:"total"`
}

// List returns a page of batches, newest first, served from the admin view
// cache when possible. A cache outage falls through to the database.
func (s *Service) List(ctx context.Context, params map[string]string, limit, offset int) (*Page, error) {
	if st, ok := params["status"]; ok && !Status(st).Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidFilter, st)
	}

	variant := fmt.Sprintf("status=%s&limit=%d&offset=%d", params["status"], limit, offset)
	var page Page
	hit, err := s.views.Get(ctx, cache.AdminBatchesView, variant, &page)
	if err != nil {
		s.logger.Warn().Err(err).Msg("read admin batch view")
	}
	if hit {
		return &page, nil
	}

	items, total, err := s.batches.List(ctx, params, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	page = Page{Items: items, Total: total}
	if err := s.views.Set(ctx, cache.AdminBatchesView, variant, &page); err != nil {
		s.logger.Warn().Err(err).Msg("write admin batch view")
	}
	return &page, nil
}

// Get returns the batch with its member requests loaded.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Batch, error) {
	b, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	members, err := s.requests.ListByBatch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", id, err)
	}
	b.Requests = members
	b.MemberCount = len(members)
	return b, nil
}

func (s *Service) Assign(ctx context.Context, requestID uuid.UUID) Result {
	return s.agg.AssignToOpenBatch(ctx, requestID)
}

func (s *Service) Unassign(ctx context.Context, requestID uuid.UUID) Result {
	return s.agg.RemoveFromBatch(ctx, requestID)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) Result {
	return s.agg.DeleteBatch(ctx, id)
}

func (s *Service) Process(ctx context.Context, id uuid.UUID) Result {
	return s.proc.ProcessBatch(ctx, id)
}

// Archives lists the stored enrichment payloads of a batch, oldest run first.
func (s *Service) Archives(ctx context.Context, id uuid.UUID) ([]*archive.Object, error) {
	if s.archive == nil {
		return []*archive.Object{}, nil
	}
	return s.archive.List(ctx, archive.BatchPrefix(id))
}

// Archive returns one stored payload by its file name within the batch.
func (s *Service) Archive(ctx context.Context, id uuid.UUID, name string) ([]byte, *archive.Object, error) {
	if s.archive == nil || name == "" || strings.Contains(name, "/") {
		return nil, nil, archive.ErrNotFound
	}
	return s.archive.Get(ctx, archive.BatchPrefix(id)+name)
}
