package drugbatch

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context) (*Batch, error)
	// GetByID includes MemberCount.
	GetByID(ctx context.Context, id uuid.UUID) (*Batch, error)
	// LatestOpen returns the most recently created open batch, locked for the
	// rest of the surrounding transaction. ErrNotFound when there is none.
	LatestOpen(ctx context.Context) (*Batch, error)
	// TransitionStatus sets status to `to` only if the batch is currently in
	// one of `from`, and reports whether it did. Entering processing counts
	// an attempt; entering completed stamps processed_at.
	TransitionStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, params map[string]string, limit, offset int) ([]*Batch, int, error)
	// ListStale returns processing batches whose last transition is older
	// than before.
	ListStale(ctx context.Context, before time.Time) ([]*Batch, error)
}
