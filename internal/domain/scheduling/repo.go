package scheduling

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/workflow"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateStatus moves the appointment from one status to another. It fails
	// with workflow.ErrInvalidTransition when the stored status is not from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to workflow.AppointmentStatus) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error)
}
