package encounter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/catalog"
	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/domain/workflow"
	"github.com/clinic/clinic/internal/platform/apierr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/blobstore"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/websocket"
)

// Event types published on the medical-records topic.
const (
	EventStarted      = "medical_record.started"
	EventUpdated      = "medical_record.updated"
	EventCompleted    = "medical_record.completed"
	EventLinesChanged = "medical_record.lines_changed"
	EventImageAdded   = "medical_record.image_added"
	EventImageDeleted = "medical_record.image_deleted"
	EventPaid         = "medical_record.paid"
)

// Appointments is the part of the scheduling repository an encounter needs.
type Appointments interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to workflow.AppointmentStatus) error
}

// PriceBook resolves catalog items for line pricing.
type PriceBook interface {
	Lookup(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Item, error)
}

type Service struct {
	repo        Repository
	appts       Appointments
	tx          db.Transactor
	services    PriceBook
	medications PriceBook
	images      blobstore.Store
	events      websocket.Publisher
	logger      zerolog.Logger
}

func NewService(repo Repository, appts Appointments, tx db.Transactor, services, medications PriceBook) *Service {
	return &Service{
		repo:        repo,
		appts:       appts,
		tx:          tx,
		services:    services,
		medications: medications,
		logger:      zerolog.Nop(),
	}
}

// SetImageStore attaches the skin image backend. Image operations fail
// without one.
func (s *Service) SetImageStore(store blobstore.Store) { s.images = store }

func (s *Service) SetPublisher(p websocket.Publisher) { s.events = p }

func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l.With().Str("service", "encounter").Logger()
}

// Start opens the medical record of an appointment and moves a SCHEDULED
// appointment to WAITING, in one transaction.
func (s *Service) Start(ctx context.Context, appointmentID uuid.UUID) (*MedicalRecord, error) {
	var rec *MedicalRecord
	var apptMoved bool
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		appt, err := s.appts.GetForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		var existing *workflow.Record
		if cur, err := s.repo.GetByAppointment(ctx, appointmentID); err == nil {
			snap := cur.Snapshot()
			existing = &snap
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("look up medical record: %w", err)
		}

		draft, err := workflow.StartEncounter(appt.Snapshot(), existing)
		if err != nil {
			return err
		}
		rec = &MedicalRecord{
			AppointmentID: appt.ID,
			PatientID:     appt.PatientID,
			DoctorID:      appt.DoctorID,
			Status:        draft.Status,
		}
		if err := s.repo.Create(ctx, rec); err != nil {
			return fmt.Errorf("create medical record: %w", err)
		}
		if err := s.addHistory(ctx, rec.ID, "", rec.Status); err != nil {
			return err
		}

		if appt.Status == workflow.AppointmentScheduled {
			next, err := workflow.AdvanceAppointment(appt.Snapshot(), workflow.AppointmentWaiting)
			if err != nil {
				return err
			}
			if err := s.appts.UpdateStatus(ctx, appt.ID, appt.Status, next); err != nil {
				return err
			}
			apptMoved = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("medical_record_id", rec.ID.String()).
		Str("appointment_id", appointmentID.String()).Msg("encounter started")
	s.publish(ctx, EventStarted, rec)
	if apptMoved {
		s.publishAppointment(ctx, appointmentID, workflow.AppointmentWaiting)
	}
	return rec, nil
}

func (s *Service) addHistory(ctx context.Context, id uuid.UUID, from, to workflow.RecordStatus) error {
	h := &StatusHistory{
		MedicalRecordID: id,
		FromStatus:      from,
		ToStatus:        to,
		ChangedBy:       auth.UserIDFromContext(ctx),
	}
	if err := s.repo.AddStatusHistory(ctx, h); err != nil {
		return fmt.Errorf("add status history: %w", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	return s.repo.GetByID(ctx, id)
}

// GetDetail loads a record together with its line lists and images.
func (s *Service) GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{MedicalRecord: rec, Images: []*SkinImage{}}
	if d.ServiceIndication, err = s.optionalLines(ctx, LinesService, id); err != nil {
		return nil, err
	}
	if d.Prescription, err = s.optionalLines(ctx, LinesPrescription, id); err != nil {
		return nil, err
	}
	imgs, err := s.repo.ListImages(ctx, id)
	if err != nil {
		return nil, err
	}
	if imgs != nil {
		d.Images = imgs
	}
	return d, nil
}

func (s *Service) optionalLines(ctx context.Context, kind LineKind, id uuid.UUID) (*LineSet, error) {
	set, err := s.repo.GetLines(ctx, kind, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return set, err
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*MedicalRecord, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) StatusHistory(ctx context.Context, id uuid.UUID) ([]*StatusHistory, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetStatusHistory(ctx, id)
}

// FindingsInput updates the clinical text of a record. Nil fields are left
// unchanged.
type FindingsInput struct {
	Symptoms  *string `json:"symptoms"`
	Diagnosis *string `json:"diagnosis"`
	Notes     *string `json:"notes"`
}

func (s *Service) UpdateFindings(ctx context.Context, id uuid.UUID, in FindingsInput) (*MedicalRecord, error) {
	var rec *MedicalRecord
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := workflow.CheckEditable(rec.Snapshot()); err != nil {
			return err
		}
		if in.Symptoms != nil {
			rec.Symptoms = strings.TrimSpace(*in.Symptoms)
		}
		if in.Diagnosis != nil {
			rec.Diagnosis = strings.TrimSpace(*in.Diagnosis)
		}
		if in.Notes != nil {
			rec.Notes = strings.TrimSpace(*in.Notes)
		}
		return s.repo.UpdateFindings(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventUpdated, rec)
	return rec, nil
}

// Complete closes the clinical part of the record and completes its
// appointment if it is still WAITING.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	var rec *MedicalRecord
	var apptMoved bool
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := workflow.CompleteEncounter(rec.Snapshot())
		if err != nil {
			return err
		}
		if err := s.repo.SetStatus(ctx, id, rec.Status, next); err != nil {
			return err
		}
		if err := s.addHistory(ctx, id, rec.Status, next); err != nil {
			return err
		}
		rec.Status = next

		appt, err := s.appts.GetForUpdate(ctx, rec.AppointmentID)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if appt.Status != workflow.AppointmentWaiting {
			return nil
		}
		target, err := workflow.AdvanceAppointment(appt.Snapshot(), workflow.AppointmentCompleted)
		if err != nil {
			return err
		}
		if err := s.appts.UpdateStatus(ctx, appt.ID, appt.Status, target); err != nil {
			return err
		}
		apptMoved = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("medical_record_id", id.String()).Msg("encounter completed")
	s.publish(ctx, EventCompleted, rec)
	if apptMoved {
		s.publishAppointment(ctx, rec.AppointmentID, workflow.AppointmentCompleted)
	}
	return rec, nil
}

// SetLines replaces the service indication or prescription of a record.
// Lines without a unit price are priced from the catalog.
func (s *Service) SetLines(ctx context.Context, kind LineKind, id uuid.UUID, inputs []LineInput) (*LineSet, error) {
	book, add, err := s.pricing(kind)
	if err != nil {
		return nil, err
	}

	var set *LineSet
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		rec, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		snap := rec.Snapshot()
		if err := workflow.CheckEditable(snap); err != nil {
			return err
		}

		ids := make([]uuid.UUID, 0, len(inputs))
		for i, in := range inputs {
			if in.ItemID == uuid.Nil {
				return apierr.Invalid("line %d: item_id is required", i+1)
			}
			ids = append(ids, in.ItemID)
		}
		items, err := book.Lookup(ctx, ids)
		if err != nil {
			return err
		}

		lines := make([]workflow.Line, len(inputs))
		for i, in := range inputs {
			item := items[in.ItemID]
			price := item.UnitPrice
			if in.UnitPrice != nil {
				price = *in.UnitPrice
			}
			lines[i] = workflow.Line{ItemID: in.ItemID, Name: item.Name, Quantity: in.Quantity, UnitPrice: price}
		}
		priced, err := add(snap, lines)
		if err != nil {
			return err
		}

		stored := make([]Line, len(priced))
		for i, p := range priced {
			stored[i] = Line{ItemID: p.ItemID, Name: p.Name, Quantity: p.Quantity, UnitPrice: p.UnitPrice, Total: p.Total}
			if kind == LinesPrescription {
				stored[i].Dosage = strings.TrimSpace(inputs[i].Dosage)
			}
		}
		set, err = s.repo.ReplaceLines(ctx, kind, id, stored)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publishData(ctx, EventLinesChanged, id, map[string]interface{}{"kind": kind, "total": set.Total})
	return set, nil
}

func (s *Service) pricing(kind LineKind) (PriceBook, func(workflow.Record, []workflow.Line) ([]workflow.PricedLine, error), error) {
	switch kind {
	case LinesService:
		return s.services, workflow.AddServiceIndication, nil
	case LinesPrescription:
		return s.medications, workflow.AddPrescription, nil
	}
	return nil, nil, fmt.Errorf("unknown line kind %q", kind)
}

// Lines returns a record's line list of kind. A record without one yields
// ErrNoRows.
func (s *Service) Lines(ctx context.Context, kind LineKind, id uuid.UUID) (*LineSet, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetLines(ctx, kind, id)
}

// -- Skin Images --

var errNoImageStore = errors.New("image storage is not configured")

// AddImage stores content and links it to the record. The blob is removed
// again if the record refuses the image.
func (s *Service) AddImage(ctx context.Context, id uuid.UUID, imageType workflow.ImageType, content io.Reader) (*SkinImage, error) {
	if s.images == nil {
		return nil, errNoImageStore
	}
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := workflow.CheckImagesWritable(rec.Snapshot()); err != nil {
		return nil, err
	}

	meta, err := s.images.Put(ctx, "records/"+id.String(), content)
	if err != nil {
		return nil, err
	}

	img := &SkinImage{
		MedicalRecordID: id,
		ImageType:       imageType,
		StorageKey:      meta.Key,
		ContentType:     meta.ContentType,
		SizeBytes:       meta.Size,
		CreatedBy:       auth.UserIDFromContext(ctx),
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		rec, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := workflow.CheckImagesWritable(rec.Snapshot()); err != nil {
			return err
		}
		return s.repo.AddImage(ctx, img)
	})
	if err != nil {
		if derr := s.images.Delete(ctx, meta.Key); derr != nil {
			s.logger.Warn().Err(derr).Str("key", meta.Key).Msg("orphaned image blob")
		}
		return nil, err
	}

	s.publishData(ctx, EventImageAdded, id, map[string]interface{}{"image_id": img.ID, "image_type": img.ImageType})
	return img, nil
}

func (s *Service) ListImages(ctx context.Context, id uuid.UUID) ([]*SkinImage, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListImages(ctx, id)
}

func (s *Service) GetImage(ctx context.Context, id, imageID uuid.UUID) (*SkinImage, error) {
	return s.repo.GetImage(ctx, id, imageID)
}

func (s *Service) DeleteImage(ctx context.Context, id, imageID uuid.UUID) error {
	if s.images == nil {
		return errNoImageStore
	}
	var img *SkinImage
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		rec, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := workflow.CheckImagesWritable(rec.Snapshot()); err != nil {
			return err
		}
		if img, err = s.repo.GetImage(ctx, id, imageID); err != nil {
			return err
		}
		return s.repo.DeleteImage(ctx, id, imageID)
	})
	if err != nil {
		return err
	}

	if err := s.images.Delete(ctx, img.StorageKey); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		s.logger.Warn().Err(err).Str("key", img.StorageKey).Msg("orphaned image blob")
	}
	s.publishData(ctx, EventImageDeleted, id, map[string]interface{}{"image_id": imageID})
	return nil
}

// -- Billing --

// BillingView is what invoicing needs from a record, read under a row lock.
type BillingView struct {
	Record          *MedicalRecord
	ServiceLines    []workflow.PricedLine
	MedicationLines []workflow.PricedLine
}

// LockForBilling locks the record and loads its billable lines. It must run
// inside the caller's transaction.
func (s *Service) LockForBilling(ctx context.Context, id uuid.UUID) (*BillingView, error) {
	rec, err := s.repo.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	svc, err := s.optionalLines(ctx, LinesService, id)
	if err != nil {
		return nil, err
	}
	med, err := s.optionalLines(ctx, LinesPrescription, id)
	if err != nil {
		return nil, err
	}
	return &BillingView{Record: rec, ServiceLines: svc.Priced(), MedicationLines: med.Priced()}, nil
}

// MarkPaid moves a COMPLETED record to PAID and reports whether it changed.
// It must run inside the caller's transaction; publishing is left to the
// caller.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID) (bool, error) {
	rec, err := s.repo.GetForUpdate(ctx, id)
	if err != nil {
		return false, err
	}
	next, err := workflow.MarkPaid(rec.Snapshot())
	if err != nil {
		return false, err
	}
	if rec.Status == next {
		return false, nil
	}
	if err := s.repo.SetStatus(ctx, id, rec.Status, next); err != nil {
		return false, err
	}
	if err := s.addHistory(ctx, id, rec.Status, next); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) publish(ctx context.Context, eventType string, rec *MedicalRecord) {
	s.publishData(ctx, eventType, rec.ID, map[string]interface{}{
		"status":         rec.Status,
		"appointment_id": rec.AppointmentID,
	})
}

func (s *Service) publishData(ctx context.Context, eventType string, id uuid.UUID, data interface{}) {
	if s.events == nil {
		return
	}
	ev := websocket.NewEvent(websocket.TopicMedicalRecords, eventType, "MedicalRecord", id, data)
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("publish failed")
	}
}

func (s *Service) publishAppointment(ctx context.Context, id uuid.UUID, status workflow.AppointmentStatus) {
	if s.events == nil {
		return
	}
	ev := websocket.NewEvent(websocket.TopicAppointments, scheduling.EventStatusChanged, "Appointment", id,
		map[string]interface{}{"status": status})
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Msg("publish failed")
	}
}
