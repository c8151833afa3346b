package drug

import (
	"context"

	"github.com/google/uuid"
)

type DrugRepository interface {
	// Upsert inserts d, or reuses the row with the same lower-cased
	// brand/generic pair. d.ID and timestamps are filled in either way.
	Upsert(ctx context.Context, d *Drug) (created bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*Drug, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Drug, int, error)
}

type ManufacturerRepository interface {
	GetOrCreate(ctx context.Context, name, key string) (*Manufacturer, bool, error)
	List(ctx context.Context, limit, offset int) ([]*Manufacturer, int, error)
}

type DrugClassRepository interface {
	GetOrCreate(ctx context.Context, name, key string) (*DrugClass, bool, error)
	List(ctx context.Context, limit, offset int) ([]*DrugClass, int, error)
}
