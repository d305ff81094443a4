package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/workflow"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{"invalid transition", workflow.ErrInvalidTransition, http.StatusConflict, "InvalidTransition"},
		{"locked", fmt.Errorf("save: %w", workflow.ErrEncounterLocked), http.StatusConflict, "EncounterLocked"},
		{"duplicate record", workflow.ErrDuplicateRecord, http.StatusConflict, "DuplicateRecord"},
		{"duplicate invoice", workflow.ErrDuplicateInvoice, http.StatusConflict, "DuplicateInvoice"},
		{"incomplete", workflow.ErrIncompleteEncounter, http.StatusUnprocessableEntity, "IncompleteEncounter"},
		{"empty billable", workflow.ErrEmptyBillable, http.StatusUnprocessableEntity, "EmptyBillable"},
		{"invalid line", workflow.ErrInvalidLine, http.StatusUnprocessableEntity, "InvalidLine"},
		{"no rows", fmt.Errorf("get appointment: %w", pgx.ErrNoRows), http.StatusNotFound, "NotFound"},
		{"not found", ErrNotFound, http.StatusNotFound, "NotFound"},
		{"bad request", BadRequest("invalid id %q", "x"), http.StatusBadRequest, "BadRequest"},
		{"validation", fmt.Errorf("create: %w", Invalid("code is required")), http.StatusBadRequest, "ValidationError"},
		{"forbidden", echo.NewHTTPError(http.StatusForbidden, "required role: doctor"), http.StatusForbidden, "Forbidden"},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError, "Internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := Translate(tt.err)
			if code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, code)
			}
			if body.Error != tt.wantKind {
				t.Errorf("expected kind %s, got %s", tt.wantKind, body.Error)
			}
		})
	}
}

func TestTranslate_UniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert medical record: %w", &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "medical_record_appointment_id_key",
		Detail:         "Key (appointment_id) already exists.",
	})
	code, body := Translate(err)
	if code != http.StatusConflict || body.Error != "DuplicateRecord" {
		t.Errorf("expected 409 DuplicateRecord, got %d %s", code, body.Error)
	}

	code, body = Translate(&pgconn.PgError{Code: "23505", ConstraintName: "invoice_medical_record_id_key"})
	if code != http.StatusConflict || body.Error != "DuplicateInvoice" {
		t.Errorf("expected 409 DuplicateInvoice, got %d %s", code, body.Error)
	}

	code, body = Translate(&pgconn.PgError{Code: "23505", ConstraintName: "medication_code_key"})
	if code != http.StatusConflict || body.Error != "Conflict" {
		t.Errorf("expected 409 Conflict, got %d %s", code, body.Error)
	}
}

func TestTranslate_InternalHidesDetail(t *testing.T) {
	_, body := Translate(errors.New("password authentication failed for user clinic"))
	if body.Message != "internal server error" {
		t.Errorf("expected generic message, got %q", body.Message)
	}
}

func TestErrorHandler_WritesJSON(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(zerolog.Nop())
	e.POST("/records/:id/complete", func(c echo.Context) error {
		return fmt.Errorf("complete: %w", workflow.ErrIncompleteEncounter)
	})

	req := httptest.NewRequest(http.MethodPost, "/records/1/complete", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var body Body
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "IncompleteEncounter" || body.Message == "" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestErrorHandler_RouteNotFound(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(zerolog.Nop())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
