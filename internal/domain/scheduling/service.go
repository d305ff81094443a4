package scheduling

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/workflow"
	"github.com/clinic/clinic/internal/platform/apierr"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/reporting"
	"github.com/clinic/clinic/internal/platform/websocket"
)

// Event types published on the appointments topic.
const (
	EventCreated       = "appointment.created"
	EventStatusChanged = "appointment.status_changed"
)

// timeSlotPattern accepts "08:30" or "08:30-09:00".
var timeSlotPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d(-([01]\d|2[0-3]):[0-5]\d)?$`)

type Service struct {
	repo   Repository
	tx     db.Transactor
	events websocket.Publisher
	logger zerolog.Logger
}

func NewService(repo Repository, tx db.Transactor) *Service {
	return &Service{repo: repo, tx: tx, logger: zerolog.Nop()}
}

// SetPublisher attaches the change notification hub.
func (s *Service) SetPublisher(p websocket.Publisher) { s.events = p }

func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l.With().Str("service", "scheduling").Logger()
}

// CreateInput is the body of a booking request.
type CreateInput struct {
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"appointment_date"`
	TimeSlot  string    `json:"time_slot"`
	Reason    string    `json:"reason"`
}

func (s *Service) CreateAppointment(ctx context.Context, in CreateInput) (*Appointment, error) {
	if in.PatientID == uuid.Nil {
		return nil, apierr.Invalid("patient_id is required")
	}
	if in.DoctorID == uuid.Nil {
		return nil, apierr.Invalid("doctor_id is required")
	}
	d, err := reporting.ParseISODate(in.Date)
	if err != nil {
		return nil, apierr.Invalid("appointment_date: %v", err)
	}
	slot := strings.TrimSpace(in.TimeSlot)
	if !timeSlotPattern.MatchString(slot) {
		return nil, apierr.Invalid("time_slot must look like 08:30 or 08:30-09:00")
	}

	a := &Appointment{
		PatientID: in.PatientID,
		DoctorID:  in.DoctorID,
		Date:      reporting.ToISODate(d),
		TimeSlot:  slot,
		Reason:    strings.TrimSpace(in.Reason),
		Status:    workflow.AppointmentScheduled,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	s.publish(ctx, EventCreated, a)
	return a, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// UpdateStatus applies an administrative status change. The row is locked
// while the rules are checked so two staff members cannot both win.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, target workflow.AppointmentStatus) (*Appointment, error) {
	var out *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := workflow.AdvanceAppointment(a.Snapshot(), target)
		if err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(ctx, id, a.Status, next); err != nil {
			return err
		}
		s.logger.Info().Str("appointment_id", id.String()).
			Str("from", string(a.Status)).Str("to", string(next)).Msg("appointment status changed")
		a.Status = next
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventStatusChanged, out)
	return out, nil
}

func (s *Service) publish(ctx context.Context, eventType string, a *Appointment) {
	if s.events == nil {
		return
	}
	ev := websocket.NewEvent(websocket.TopicAppointments, eventType, "Appointment", a.ID, map[string]interface{}{
		"status":           a.Status,
		"appointment_date": a.Date,
		"doctor_id":        a.DoctorID,
	})
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("publish failed")
	}
}
