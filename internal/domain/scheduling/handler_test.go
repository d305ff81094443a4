package scheduling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/workflow"
	"github.com/clinic/clinic/internal/platform/apierr"
	"github.com/clinic/clinic/internal/platform/auth"
)

func newTestServer(roles ...string) (*echo.Echo, *Service) {
	svc, _, _ := newTestService()
	e := echo.New()
	e.HTTPErrorHandler = apierr.ErrorHandler(zerolog.Nop())
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := context.WithValue(c.Request().Context(), auth.UserRolesKey, roles)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(svc).RegisterRoutes(api)
	return e, svc
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateAppointment(t *testing.T) {
	e, _ := newTestServer(auth.RoleReceptionist)

	body := `{"patient_id":"` + uuid.NewString() + `","doctor_id":"` + uuid.NewString() +
		`","appointment_date":"2024-03-31","time_slot":"09:00"}`
	rec := do(e, http.MethodPost, "/api/v1/appointments", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var a Appointment
	json.Unmarshal(rec.Body.Bytes(), &a)
	if a.Status != workflow.AppointmentScheduled || a.Date != "2024-03-31" {
		t.Errorf("unexpected appointment %+v", a)
	}

	rec = do(e, http.MethodPost, "/api/v1/appointments", `{"time_slot":"09:00"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_UpdateStatus(t *testing.T) {
	e, svc := newTestServer(auth.RoleDoctor)
	in := validInput()
	a, _ := svc.CreateAppointment(context.Background(), in)

	rec := do(e, http.MethodPatch, "/api/v1/appointments/"+a.ID.String()+"/status", `{"status":"waiting"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodPatch, "/api/v1/appointments/"+a.ID.String()+"/status", `{"status":"SCHEDULED"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body apierr.Body
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error != "InvalidTransition" {
		t.Errorf("expected InvalidTransition, got %s", body.Error)
	}

	rec = do(e, http.MethodPatch, "/api/v1/appointments/"+a.ID.String()+"/status", `{"status":"NOSHOW"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestHandler_ListFilters(t *testing.T) {
	e, svc := newTestServer(auth.RoleCashier)
	svc.CreateAppointment(context.Background(), validInput())

	rec := do(e, http.MethodGet, "/api/v1/appointments?status=scheduled&date=2024-03-31", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 {
		t.Errorf("expected 1 appointment, got %d", body.Total)
	}

	for _, q := range []string{"date=tomorrow", "doctor_id=42", "status=booked"} {
		if rec := do(e, http.MethodGet, "/api/v1/appointments?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestHandler_Roles(t *testing.T) {
	e, _ := newTestServer(auth.RoleCashier)
	if rec := do(e, http.MethodPost, "/api/v1/appointments", `{}`); rec.Code != http.StatusForbidden {
		t.Errorf("cashier cannot book, expected 403, got %d", rec.Code)
	}
}
