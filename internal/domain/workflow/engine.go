package workflow

import (
	"math"
	"strings"

	"github.com/google/uuid"
)

// Appointment is the slice of an appointment the rules look at.
type Appointment struct {
	ID        uuid.UUID
	Status    AppointmentStatus
	HasRecord bool
}

// Record is the slice of a medical record the rules look at.
type Record struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Status        RecordStatus
	Symptoms      string
	Diagnosis     string
}

// Line is one billable entry as submitted: a service or medication reference
// with quantity and unit price.
type Line struct {
	ItemID    uuid.UUID `json:"item_id"`
	Name      string    `json:"name,omitempty"`
	Quantity  int64     `json:"quantity"`
	UnitPrice int64     `json:"unit_price"`
}

// PricedLine is a Line with its computed total.
type PricedLine struct {
	Line
	Total int64 `json:"total"`
}

// Total is quantity × unit price. It does not check for overflow; PriceLines
// rejects lines whose total does not fit in an int64.
func (l Line) Total() int64 { return l.Quantity * l.UnitPrice }

func mulAmount(q, p int64) (int64, bool) {
	if q < 0 || p < 0 {
		return 0, false
	}
	if p != 0 && q > math.MaxInt64/p {
		return 0, false
	}
	return q * p, true
}

func addAmount(a, b int64) (int64, bool) {
	if a < 0 || b < 0 || a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

// Sum adds up line totals. It fails with InvalidLine when a total is negative
// or the sum overflows.
func Sum(lines []PricedLine) (int64, error) {
	var total int64
	for i, l := range lines {
		var ok bool
		if total, ok = addAmount(total, l.Total); !ok {
			return 0, newError(KindInvalidLine, "line %d: amount out of range", i+1)
		}
	}
	return total, nil
}

// InvoiceDraft is the billing snapshot produced at issuance.
type InvoiceDraft struct {
	MedicalRecordID uuid.UUID    `json:"medical_record_id"`
	ServiceLines    []PricedLine `json:"service_lines"`
	MedicationLines []PricedLine `json:"medication_lines"`
	ServiceTotal    int64        `json:"service_total"`
	MedicationTotal int64        `json:"medication_total"`
	Total           int64        `json:"total"`
}

// AdvanceAppointment checks that appt may move to target and returns target.
// Cancelling is refused once a medical record exists for the appointment.
func AdvanceAppointment(appt Appointment, target AppointmentStatus) (AppointmentStatus, error) {
	if !target.Valid() {
		return "", newError(KindInvalidTransition, "unknown appointment status %q", target)
	}
	if appt.Status.Terminal() {
		return "", newError(KindInvalidTransition, "appointment is already %s", appt.Status)
	}
	if !appt.Status.CanBecome(target) {
		return "", newError(KindInvalidTransition, "appointment cannot move from %s to %s", appt.Status, target)
	}
	if target == AppointmentCancelled && appt.HasRecord {
		return "", newError(KindInvalidTransition, "appointment with a medical record cannot be cancelled")
	}
	return target, nil
}

// StartEncounter opens a medical record for appt. existing is the record
// already linked to the appointment, if any.
func StartEncounter(appt Appointment, existing *Record) (Record, error) {
	if existing != nil || appt.HasRecord {
		return Record{}, ErrDuplicateRecord
	}
	if appt.Status != AppointmentScheduled && appt.Status != AppointmentWaiting {
		return Record{}, newError(KindInvalidTransition, "cannot start an encounter for a %s appointment", appt.Status)
	}
	return Record{
		AppointmentID: appt.ID,
		Status:        RecordInProgress,
	}, nil
}

// CompleteEncounter closes the clinical part of a record. A completed record
// must carry symptoms or a diagnosis.
func CompleteEncounter(rec Record) (RecordStatus, error) {
	if rec.Status != RecordInProgress {
		return "", newError(KindInvalidTransition, "medical record is %s, not %s", rec.Status, RecordInProgress)
	}
	if strings.TrimSpace(rec.Symptoms) == "" && strings.TrimSpace(rec.Diagnosis) == "" {
		return "", ErrIncompleteEncounter
	}
	return RecordCompleted, nil
}

// CheckEditable fails with EncounterLocked once the record left IN_PROGRESS.
func CheckEditable(rec Record) error {
	if !rec.Status.Editable() {
		return newError(KindEncounterLocked, "medical record is %s", rec.Status)
	}
	return nil
}

// AddServiceIndication validates and prices the service lines of a record.
func AddServiceIndication(rec Record, lines []Line) ([]PricedLine, error) {
	if err := CheckEditable(rec); err != nil {
		return nil, err
	}
	return PriceLines(lines)
}

// AddPrescription validates and prices the medication lines of a record.
func AddPrescription(rec Record, lines []Line) ([]PricedLine, error) {
	if err := CheckEditable(rec); err != nil {
		return nil, err
	}
	return PriceLines(lines)
}

// PriceLines computes line totals in order. Both each total and the running
// sum must fit in an int64.
func PriceLines(lines []Line) ([]PricedLine, error) {
	out := make([]PricedLine, 0, len(lines))
	var sum int64
	for i, l := range lines {
		if l.Quantity <= 0 {
			return nil, newError(KindInvalidLine, "line %d: quantity must be positive", i+1)
		}
		if l.UnitPrice < 0 {
			return nil, newError(KindInvalidLine, "line %d: unit price must not be negative", i+1)
		}
		total, ok := mulAmount(l.Quantity, l.UnitPrice)
		if !ok {
			return nil, newError(KindInvalidLine, "line %d: total out of range", i+1)
		}
		if sum, ok = addAmount(sum, total); !ok {
			return nil, newError(KindInvalidLine, "line %d: sum out of range", i+1)
		}
		out = append(out, PricedLine{Line: l, Total: total})
	}
	return out, nil
}

// GenerateInvoice snapshots the billable lines of a completed record. It does
// not mark the record paid; see MarkPaid.
func GenerateInvoice(rec Record, hasInvoice bool, serviceLines, medicationLines []PricedLine) (InvoiceDraft, error) {
	if rec.Status != RecordCompleted {
		return InvoiceDraft{}, newError(KindInvalidTransition, "medical record is %s, not %s", rec.Status, RecordCompleted)
	}
	if hasInvoice {
		return InvoiceDraft{}, ErrDuplicateInvoice
	}
	if len(serviceLines) == 0 && len(medicationLines) == 0 {
		return InvoiceDraft{}, ErrEmptyBillable
	}

	draft := InvoiceDraft{MedicalRecordID: rec.ID}
	var err error
	if draft.ServiceLines, err = reprice(serviceLines); err != nil {
		return InvoiceDraft{}, err
	}
	if draft.MedicationLines, err = reprice(medicationLines); err != nil {
		return InvoiceDraft{}, err
	}
	if draft.ServiceTotal, err = Sum(draft.ServiceLines); err != nil {
		return InvoiceDraft{}, err
	}
	if draft.MedicationTotal, err = Sum(draft.MedicationLines); err != nil {
		return InvoiceDraft{}, err
	}
	total, ok := addAmount(draft.ServiceTotal, draft.MedicationTotal)
	if !ok {
		return InvoiceDraft{}, newError(KindInvalidLine, "invoice total out of range")
	}
	draft.Total = total
	return draft, nil
}

// reprice copies lines and recomputes totals so the snapshot never trusts a
// stored total.
func reprice(lines []PricedLine) ([]PricedLine, error) {
	in := make([]Line, len(lines))
	for i, l := range lines {
		in[i] = l.Line
	}
	return PriceLines(in)
}

// MarkPaid moves a completed record to PAID. Calling it on a PAID record is a
// no-op.
func MarkPaid(rec Record) (RecordStatus, error) {
	switch rec.Status {
	case RecordPaid:
		return RecordPaid, nil
	case RecordCompleted:
		return RecordPaid, nil
	default:
		return "", newError(KindInvalidTransition, "medical record is %s and cannot be paid", rec.Status)
	}
}

// CheckImagesWritable allows skin image changes until the record is paid.
func CheckImagesWritable(rec Record) error {
	if rec.Status == RecordPaid {
		return newError(KindEncounterLocked, "medical record is %s", rec.Status)
	}
	return nil
}
