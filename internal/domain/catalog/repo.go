package catalog

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, item *Item) error
	GetByID(ctx context.Context, id uuid.UUID) (*Item, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Item, error)
	Update(ctx context.Context, item *Item) error
	List(ctx context.Context, activeOnly bool, search string, limit, offset int) ([]*Item, int, error)
}
