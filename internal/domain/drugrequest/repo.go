package drugrequest

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *DrugRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*DrugRequest, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*DrugRequest, int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*DrugRequest, int, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// Reject marks the request rejected and drops it from its batch.
	Reject(ctx context.Context, id uuid.UUID) error
	// Approve links the request to drugID. Rejected requests are left alone
	// and reported as not updated.
	Approve(ctx context.Context, id, drugID uuid.UUID) (bool, error)

	SetBatch(ctx context.Context, id, batchID uuid.UUID) error
	ClearBatch(ctx context.Context, id uuid.UUID) error
	ClearBatchForAll(ctx context.Context, batchID uuid.UUID) (int, error)
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*DrugRequest, error)
	CountByBatch(ctx context.Context, batchID uuid.UUID) (int, error)
}
