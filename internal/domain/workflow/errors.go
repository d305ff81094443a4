package workflow

import (
	"errors"
	"fmt"
)

// Kind classifies a business-rule rejection. None of them are transient.
type Kind string

const (
	KindInvalidTransition   Kind = "InvalidTransition"
	KindIncompleteEncounter Kind = "IncompleteEncounter"
	KindEncounterLocked     Kind = "EncounterLocked"
	KindEmptyBillable       Kind = "EmptyBillable"
	KindDuplicateRecord     Kind = "DuplicateRecord"
	KindDuplicateInvoice    Kind = "DuplicateInvoice"
	KindInvalidLine         Kind = "InvalidLine"
)

// Error is returned for every precondition violation.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrEncounterLocked)
// works regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition, Message: "status change is not allowed"}
	ErrIncompleteEncounter = &Error{Kind: KindIncompleteEncounter, Message: "symptoms or diagnosis is required"}
	ErrEncounterLocked     = &Error{Kind: KindEncounterLocked, Message: "medical record can no longer be edited"}
	ErrEmptyBillable       = &Error{Kind: KindEmptyBillable, Message: "invoice has no billable lines"}
	ErrDuplicateRecord     = &Error{Kind: KindDuplicateRecord, Message: "appointment already has a medical record"}
	ErrDuplicateInvoice    = &Error{Kind: KindDuplicateInvoice, Message: "medical record already has an invoice"}
	ErrInvalidLine         = &Error{Kind: KindInvalidLine, Message: "line quantity or unit price is invalid"}
)

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of a workflow error, or "" for anything else.
func KindOf(err error) Kind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return ""
}
