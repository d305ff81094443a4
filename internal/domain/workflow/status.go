// Package workflow holds the encounter lifecycle rules: which status changes
// are legal for appointments and medical records, and what a record must carry
// before it may be completed or billed.
//
// Every function here is pure. Callers pass the snapshots they just loaded and
// persist whatever the function returns.
package workflow

import (
	"fmt"
	"strings"
)

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "SCHEDULED"
	AppointmentWaiting   AppointmentStatus = "WAITING"
	AppointmentCompleted AppointmentStatus = "COMPLETED"
	AppointmentCancelled AppointmentStatus = "CANCELLED"
)

// appointmentEdges lists the successors allowed from each appointment status.
var appointmentEdges = map[AppointmentStatus][]AppointmentStatus{
	AppointmentScheduled: {AppointmentWaiting, AppointmentCancelled},
	AppointmentWaiting:   {AppointmentCompleted, AppointmentCancelled},
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentScheduled, AppointmentWaiting, AppointmentCompleted, AppointmentCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s AppointmentStatus) Terminal() bool {
	return s == AppointmentCompleted || s == AppointmentCancelled
}

// Successors returns the statuses reachable in one step.
func (s AppointmentStatus) Successors() []AppointmentStatus {
	next := appointmentEdges[s]
	out := make([]AppointmentStatus, len(next))
	copy(out, next)
	return out
}

func (s AppointmentStatus) CanBecome(target AppointmentStatus) bool {
	for _, n := range appointmentEdges[s] {
		if n == target {
			return true
		}
	}
	return false
}

// ParseAppointmentStatus accepts the canonical upper-case names, case-insensitively.
func ParseAppointmentStatus(s string) (AppointmentStatus, error) {
	st := AppointmentStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("invalid appointment status: %q", s)
	}
	return st, nil
}

// RecordStatus is the lifecycle state of a medical record.
type RecordStatus string

const (
	RecordInProgress RecordStatus = "IN_PROGRESS"
	RecordCompleted  RecordStatus = "COMPLETED"
	RecordPaid       RecordStatus = "PAID"
)

func (s RecordStatus) Valid() bool {
	switch s {
	case RecordInProgress, RecordCompleted, RecordPaid:
		return true
	}
	return false
}

// Editable reports whether clinical line items may still change.
func (s RecordStatus) Editable() bool { return s == RecordInProgress }

func ParseRecordStatus(s string) (RecordStatus, error) {
	st := RecordStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("invalid medical record status: %q", s)
	}
	return st, nil
}

// ImageType identifies which side of the patient a skin image shows.
type ImageType string

const (
	ImageFront ImageType = "FRONT"
	ImageLeft  ImageType = "LEFT"
	ImageRight ImageType = "RIGHT"
)

func (t ImageType) Valid() bool {
	return t == ImageFront || t == ImageLeft || t == ImageRight
}

func ParseImageType(s string) (ImageType, error) {
	t := ImageType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("invalid image type: %q", s)
	}
	return t, nil
}
