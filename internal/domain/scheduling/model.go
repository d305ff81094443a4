// Package scheduling books appointments and moves them through their
// lifecycle. Status rules come from the workflow package.
package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/workflow"
)

// Appointment maps to the appointment table.
type Appointment struct {
	ID        uuid.UUID                  `db:"id" json:"id"`
	PatientID uuid.UUID                  `db:"patient_id" json:"patient_id"`
	DoctorID  uuid.UUID                  `db:"doctor_id" json:"doctor_id"`
	Date      string                     `db:"appointment_date" json:"appointment_date"`
	TimeSlot  string                     `db:"time_slot" json:"time_slot"`
	Reason    string                     `db:"reason" json:"reason"`
	Status    workflow.AppointmentStatus `db:"status" json:"status"`
	HasRecord bool                       `db:"-" json:"has_medical_record"`
	CreatedAt time.Time                  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time                  `db:"updated_at" json:"updated_at"`
}

// Snapshot returns the fields the workflow rules look at.
func (a *Appointment) Snapshot() workflow.Appointment {
	return workflow.Appointment{ID: a.ID, Status: a.Status, HasRecord: a.HasRecord}
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Date      string
	DateFrom  string
	DateTo    string
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Status    workflow.AppointmentStatus
}
