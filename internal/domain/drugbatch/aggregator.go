package drugbatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxlearn/rxlearn/internal/domain/drugrequest"
	"github.com/rxlearn/rxlearn/internal/platform/cache"
)

// Transactor runs fn in one database transaction. *db.TxManager satisfies it.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Membership is the part of the request store the batch workflow drives.
type Membership interface {
	GetByID(ctx context.Context, id uuid.UUID) (*drugrequest.DrugRequest, error)
	SetBatch(ctx context.Context, id, batchID uuid.UUID) error
	ClearBatch(ctx context.Context, id uuid.UUID) error
	ClearBatchForAll(ctx context.Context, batchID uuid.UUID) (int, error)
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*drugrequest.DrugRequest, error)
	CountByBatch(ctx context.Context, batchID uuid.UUID) (int, error)
	Approve(ctx context.Context, id, drugID uuid.UUID) (bool, error)
}

// Aggregator groups requests into open batches of at most MaxBatchSize.
type Aggregator struct {
	batches  Repository
	requests Membership
	tx       Transactor
	views    cache.ViewCache
	logger   zerolog.Logger
}

func NewAggregator(batches Repository, requests Membership, tx Transactor, views cache.ViewCache, logger zerolog.Logger) *Aggregator {
	if views == nil {
		views = cache.Nop{}
	}
	return &Aggregator{batches: batches, requests: requests, tx: tx, views: views, logger: logger}
}

// AssignToOpenBatch puts the request in the newest open batch, opening a new
// one when there is none or it is full. A request that already belongs to
// another batch is moved.
func (a *Aggregator) AssignToOpenBatch(ctx context.Context, requestID uuid.UUID) Result {
	var target uuid.UUID
	err := a.tx.InTx(ctx, func(ctx context.Context) error {
		req, err := a.requests.GetByID(ctx, requestID)
		if err != nil {
			return err
		}

		b, err := a.batches.LatestOpen(ctx)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("find open batch: %w", err)
		}
		if b != nil {
			if req.BatchID != nil && *req.BatchID == b.ID {
				target = b.ID
				return nil
			}
			n, err := a.requests.CountByBatch(ctx, b.ID)
			if err != nil {
				return fmt.Errorf("count batch members: %w", err)
			}
			if n >= MaxBatchSize {
				b = nil
			}
		}
		if b == nil {
			if b, err = a.batches.Create(ctx); err != nil {
				return err
			}
			a.logger.Info().Str("batch_id", b.ID.String()).Msg("opened drug batch")
		}

		target = b.ID
		return a.requests.SetBatch(ctx, requestID, b.ID)
	})
	if errors.Is(err, drugrequest.ErrNotFound) {
		return fail(MsgRequestNotFound)
	}
	if err != nil {
		a.logger.Error().Err(err).Str("request_id", requestID.String()).Msg("assign to batch failed")
		return fail(MsgActionFailed)
	}

	a.invalidate(ctx)
	a.logger.Debug().Str("request_id", requestID.String()).Str("batch_id", target.String()).Msg("request assigned")
	return ok(MsgAssigned)
}

// RemoveFromBatch clears the request's batch. Removing an unbatched request is
// a successful no-op.
func (a *Aggregator) RemoveFromBatch(ctx context.Context, requestID uuid.UUID) Result {
	err := a.requests.ClearBatch(ctx, requestID)
	if errors.Is(err, drugrequest.ErrNotFound) {
		return fail(MsgRequestNotFound)
	}
	if err != nil {
		a.logger.Error().Err(err).Str("request_id", requestID.String()).Msg("remove from batch failed")
		return fail(MsgActionFailed)
	}
	a.invalidate(ctx)
	return ok(MsgRemoved)
}

// DeleteBatch returns every member to the unbatched pool and then removes the
// batch, in one transaction.
func (a *Aggregator) DeleteBatch(ctx context.Context, batchID uuid.UUID) Result {
	var released int
	err := a.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := a.batches.GetByID(ctx, batchID); err != nil {
			return err
		}
		n, err := a.requests.ClearBatchForAll(ctx, batchID)
		if err != nil {
			return err
		}
		released = n
		return a.batches.Delete(ctx, batchID)
	})
	if errors.Is(err, ErrNotFound) {
		return fail(MsgBatchNotFound)
	}
	if err != nil {
		a.logger.Error().Err(err).Str("batch_id", batchID.String()).Msg("delete batch failed")
		return fail(MsgActionFailed)
	}

	a.invalidate(ctx)
	a.logger.Info().Str("batch_id", batchID.String()).Int("released", released).Msg("deleted drug batch")
	return ok(MsgDeleted)
}

func (a *Aggregator) invalidate(ctx context.Context) {
	if err := a.views.Invalidate(ctx, cache.AdminBatchesView); err != nil {
		a.logger.Warn().Err(err).Msg("invalidate admin batch view")
	}
}
