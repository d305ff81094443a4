package billing

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create stores the invoice and its lines.
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetByRecord(ctx context.Context, recordID uuid.UUID) (*Invoice, error)
	// MarkPaid sets an ISSUED invoice PAID.
	MarkPaid(ctx context.Context, inv *Invoice, by string) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Invoice, int, error)
}
