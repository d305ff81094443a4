package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"github.com/clinic/clinic/internal/domain/encounter"
	"github.com/clinic/clinic/internal/domain/workflow"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/websocket"
)

// Event types published on the invoices topic.
const (
	EventIssued = "invoice.issued"
	EventPaid   = "invoice.paid"
)

// RecordStore is the part of the encounter service billing needs. Both
// methods run inside the caller's transaction.
type RecordStore interface {
	LockForBilling(ctx context.Context, id uuid.UUID) (*encounter.BillingView, error)
	MarkPaid(ctx context.Context, id uuid.UUID) (bool, error)
}

type Service struct {
	repo    Repository
	records RecordStore
	tx      db.Transactor
	money   *Formatter
	events  websocket.Publisher
	logger  zerolog.Logger
}

func NewService(repo Repository, records RecordStore, tx db.Transactor) *Service {
	return &Service{
		repo:    repo,
		records: records,
		tx:      tx,
		money:   NewFormatter(language.Vietnamese, "₫"),
		logger:  zerolog.Nop(),
	}
}

func (s *Service) SetFormatter(f *Formatter) { s.money = f }

func (s *Service) SetPublisher(p websocket.Publisher) { s.events = p }

func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l.With().Str("service", "billing").Logger()
}

// Generate issues the invoice of a completed record. With pay set the record
// is also marked paid in the same transaction.
func (s *Service) Generate(ctx context.Context, recordID uuid.UUID, pay bool) (*Invoice, error) {
	var inv *Invoice
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		view, err := s.records.LockForBilling(ctx, recordID)
		if err != nil {
			return err
		}
		_, err = s.repo.GetByRecord(ctx, recordID)
		hasInvoice := err == nil
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("look up invoice: %w", err)
		}

		draft, err := workflow.GenerateInvoice(view.Record.Snapshot(), hasInvoice, view.ServiceLines, view.MedicationLines)
		if err != nil {
			return err
		}
		inv = fromDraft(draft, view.Record.PatientID)
		inv.IssuedBy = auth.UserIDFromContext(ctx)
		if err := s.repo.Create(ctx, inv); err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}
		if pay {
			return s.settle(ctx, inv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("invoice_id", inv.ID.String()).Str("medical_record_id", recordID.String()).
		Int64("total", inv.Total).Msg("invoice issued")
	s.publish(ctx, EventIssued, inv)
	if inv.Status == InvoicePaid {
		s.publishPaid(ctx, inv)
	}
	return s.display(inv), nil
}

// Pay settles an invoice and marks its record PAID. Paying a paid invoice
// returns it unchanged.
func (s *Service) Pay(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	var inv *Invoice
	var changed bool
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status == InvoicePaid {
			return nil
		}
		changed = true
		return s.settle(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.Info().Str("invoice_id", id.String()).Int64("total", inv.Total).Msg("invoice paid")
		s.publishPaid(ctx, inv)
	}
	return s.display(inv), nil
}

func (s *Service) settle(ctx context.Context, inv *Invoice) error {
	if _, err := s.records.MarkPaid(ctx, inv.MedicalRecordID); err != nil {
		return err
	}
	return s.repo.MarkPaid(ctx, inv, auth.UserIDFromContext(ctx))
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.display(inv), nil
}

func (s *Service) GetByRecord(ctx context.Context, recordID uuid.UUID) (*Invoice, error) {
	inv, err := s.repo.GetByRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return s.display(inv), nil
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Invoice, int, error) {
	invs, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, inv := range invs {
		s.display(inv)
	}
	return invs, total, nil
}

func (s *Service) display(inv *Invoice) *Invoice {
	if s.money != nil {
		inv.TotalDisplay = s.money.Format(inv.Total)
	}
	return inv
}

func (s *Service) publish(ctx context.Context, eventType string, inv *Invoice) {
	if s.events == nil {
		return
	}
	ev := websocket.NewEvent(websocket.TopicInvoices, eventType, "Invoice", inv.ID, map[string]interface{}{
		"status":            inv.Status,
		"medical_record_id": inv.MedicalRecordID,
		"total":             inv.Total,
	})
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("publish failed")
	}
}

func (s *Service) publishPaid(ctx context.Context, inv *Invoice) {
	s.publish(ctx, EventPaid, inv)
	if s.events == nil {
		return
	}
	ev := websocket.NewEvent(websocket.TopicMedicalRecords, encounter.EventPaid, "MedicalRecord", inv.MedicalRecordID,
		map[string]interface{}{"status": workflow.RecordPaid})
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", encounter.EventPaid).Msg("publish failed")
	}
}
