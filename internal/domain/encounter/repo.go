package encounter

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/workflow"
)

type Repository interface {
	Create(ctx context.Context, m *MedicalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*MedicalRecord, error)
	UpdateFindings(ctx context.Context, m *MedicalRecord) error
	// SetStatus changes the status only if it still equals from.
	SetStatus(ctx context.Context, id uuid.UUID, from, to workflow.RecordStatus) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*MedicalRecord, int, error)

	AddStatusHistory(ctx context.Context, h *StatusHistory) error
	GetStatusHistory(ctx context.Context, recordID uuid.UUID) ([]*StatusHistory, error)

	// ReplaceLines overwrites the line list of kind for a record, creating the
	// header row on first use.
	ReplaceLines(ctx context.Context, kind LineKind, recordID uuid.UUID, lines []Line) (*LineSet, error)
	GetLines(ctx context.Context, kind LineKind, recordID uuid.UUID) (*LineSet, error)

	AddImage(ctx context.Context, img *SkinImage) error
	ListImages(ctx context.Context, recordID uuid.UUID) ([]*SkinImage, error)
	GetImage(ctx context.Context, recordID, imageID uuid.UUID) (*SkinImage, error)
	DeleteImage(ctx context.Context, recordID, imageID uuid.UUID) error
}
