// Package billing issues invoices for completed medical records and takes
// payment. An invoice is a snapshot of the record's lines at issuance.
package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/workflow"
)

type InvoiceStatus string

const (
	InvoiceIssued InvoiceStatus = "ISSUED"
	InvoicePaid   InvoiceStatus = "PAID"
)

func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	switch st := InvoiceStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case InvoiceIssued, InvoicePaid:
		return st, nil
	}
	return "", fmt.Errorf("invalid invoice status: %q", s)
}

// Invoice maps to the invoice table; its lines live in invoice_line.
type Invoice struct {
	ID              uuid.UUID             `db:"id" json:"id"`
	MedicalRecordID uuid.UUID             `db:"medical_record_id" json:"medical_record_id"`
	PatientID       uuid.UUID             `db:"patient_id" json:"patient_id"`
	Status          InvoiceStatus         `db:"status" json:"status"`
	ServiceLines    []workflow.PricedLine `db:"-" json:"service_lines"`
	MedicationLines []workflow.PricedLine `db:"-" json:"medication_lines"`
	ServiceTotal    int64                 `db:"service_total" json:"service_total"`
	MedicationTotal int64                 `db:"medication_total" json:"medication_total"`
	Total           int64                 `db:"total" json:"total"`
	TotalDisplay    string                `db:"-" json:"total_display,omitempty"`
	IssuedBy        string                `db:"issued_by" json:"issued_by,omitempty"`
	IssuedAt        time.Time             `db:"issued_at" json:"issued_at"`
	PaidBy          *string               `db:"paid_by" json:"paid_by,omitempty"`
	PaidAt          *time.Time            `db:"paid_at" json:"paid_at,omitempty"`
}

// fromDraft builds an unsaved invoice from the workflow snapshot.
func fromDraft(d workflow.InvoiceDraft, patientID uuid.UUID) *Invoice {
	return &Invoice{
		MedicalRecordID: d.MedicalRecordID,
		PatientID:       patientID,
		Status:          InvoiceIssued,
		ServiceLines:    d.ServiceLines,
		MedicationLines: d.MedicationLines,
		ServiceTotal:    d.ServiceTotal,
		MedicationTotal: d.MedicationTotal,
		Total:           d.Total,
	}
}

// Filter narrows List. PaidFrom/PaidTo bound paid_at as [from, to).
type Filter struct {
	Status    InvoiceStatus
	PatientID uuid.UUID
	PaidFrom  *time.Time
	PaidTo    *time.Time
}
