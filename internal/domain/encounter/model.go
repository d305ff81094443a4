// Package encounter manages medical records: opening one from an appointment,
// recording findings, ordering services and medications, attaching skin
// images and completing the visit. Legality of every change is decided by the
// workflow package; this package loads snapshots and persists results.
package encounter

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/workflow"
)

// MedicalRecord maps to the medical_record table.
type MedicalRecord struct {
	ID            uuid.UUID             `db:"id" json:"id"`
	AppointmentID uuid.UUID             `db:"appointment_id" json:"appointment_id"`
	PatientID     uuid.UUID             `db:"patient_id" json:"patient_id"`
	DoctorID      uuid.UUID             `db:"doctor_id" json:"doctor_id"`
	Symptoms      string                `db:"symptoms" json:"symptoms"`
	Diagnosis     string                `db:"diagnosis" json:"diagnosis"`
	Notes         string                `db:"notes" json:"notes"`
	Status        workflow.RecordStatus `db:"status" json:"status"`
	CompletedAt   *time.Time            `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time             `db:"updated_at" json:"updated_at"`
}

// Snapshot returns the fields the workflow rules look at.
func (m *MedicalRecord) Snapshot() workflow.Record {
	return workflow.Record{
		ID:            m.ID,
		AppointmentID: m.AppointmentID,
		Status:        m.Status,
		Symptoms:      m.Symptoms,
		Diagnosis:     m.Diagnosis,
	}
}

// StatusHistory maps to medical_record_status_history. FromStatus is empty for
// the row written when the record is opened.
type StatusHistory struct {
	ID              uuid.UUID             `db:"id" json:"id"`
	MedicalRecordID uuid.UUID             `db:"medical_record_id" json:"medical_record_id"`
	FromStatus      workflow.RecordStatus `db:"from_status" json:"from_status,omitempty"`
	ToStatus        workflow.RecordStatus `db:"to_status" json:"to_status"`
	ChangedBy       string                `db:"changed_by" json:"changed_by,omitempty"`
	ChangedAt       time.Time             `db:"changed_at" json:"changed_at"`
}

// LineKind selects between the two ordered line lists of a record.
type LineKind string

const (
	LinesService      LineKind = "service-indication"
	LinesPrescription LineKind = "prescription"
)

// Line is one priced entry of a service indication or prescription. Dosage is
// only kept for prescriptions.
type Line struct {
	ItemID    uuid.UUID `db:"item_id" json:"item_id"`
	Name      string    `db:"name" json:"name"`
	Quantity  int64     `db:"quantity" json:"quantity"`
	UnitPrice int64     `db:"unit_price" json:"unit_price"`
	Total     int64     `db:"total" json:"total"`
	Dosage    string    `db:"dosage" json:"dosage,omitempty"`
}

// LineSet is a record's service indication or prescription, depending on Kind.
type LineSet struct {
	ID              uuid.UUID `db:"id" json:"id"`
	MedicalRecordID uuid.UUID `db:"medical_record_id" json:"medical_record_id"`
	Kind            LineKind  `db:"-" json:"kind"`
	Lines           []Line    `db:"-" json:"lines"`
	Total           int64     `db:"-" json:"total"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Priced converts the stored lines for invoicing.
func (s *LineSet) Priced() []workflow.PricedLine {
	if s == nil {
		return nil
	}
	out := make([]workflow.PricedLine, len(s.Lines))
	for i, l := range s.Lines {
		out[i] = workflow.PricedLine{
			Line:  workflow.Line{ItemID: l.ItemID, Name: l.Name, Quantity: l.Quantity, UnitPrice: l.UnitPrice},
			Total: l.Total,
		}
	}
	return out
}

// LineInput is a submitted line. A nil UnitPrice takes the current catalog
// price.
type LineInput struct {
	ItemID    uuid.UUID `json:"item_id"`
	Quantity  int64     `json:"quantity"`
	UnitPrice *int64    `json:"unit_price,omitempty"`
	Dosage    string    `json:"dosage,omitempty"`
}

// SkinImage maps to the skin_image table. The bytes live in a blobstore.Store
// under StorageKey.
type SkinImage struct {
	ID              uuid.UUID          `db:"id" json:"id"`
	MedicalRecordID uuid.UUID          `db:"medical_record_id" json:"medical_record_id"`
	ImageType       workflow.ImageType `db:"image_type" json:"image_type"`
	StorageKey      string             `db:"storage_key" json:"-"`
	ContentType     string             `db:"content_type" json:"content_type"`
	SizeBytes       int64              `db:"size_bytes" json:"size_bytes"`
	CreatedBy       string             `db:"created_by" json:"created_by,omitempty"`
	CreatedAt       time.Time          `db:"created_at" json:"created_at"`
}

// Detail is a record with everything it owns.
type Detail struct {
	*MedicalRecord
	ServiceIndication *LineSet     `json:"service_indication"`
	Prescription      *LineSet     `json:"prescription"`
	Images            []*SkinImage `json:"images"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Status        workflow.RecordStatus
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	AppointmentID uuid.UUID
}
