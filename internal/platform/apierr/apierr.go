// Package apierr turns service errors into HTTP responses. Handlers return
// whatever the service returned; ErrorHandler picks the status code.
package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/workflow"
)

// Body is the JSON error payload.
type Body struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

const uniqueViolation = "23505"

// uniqueKinds maps UNIQUE constraint names to the workflow failure a racing
// writer would have seen had it lost the engine check instead.
var uniqueKinds = map[string]workflow.Kind{
	"medical_record_appointment_id_key": workflow.KindDuplicateRecord,
	"invoice_medical_record_id_key":     workflow.KindDuplicateInvoice,
}

// ErrNotFound is returned by services for missing entities that are not
// looked up through pgx.
var ErrNotFound = errors.New("not found")

// BadRequest wraps err so it is reported as 400.
func BadRequest(format string, args ...interface{}) error {
	return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf(format, args...))
}

// ValidationError is a rejected input field detected below the handler.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Invalid returns a ValidationError, reported as 400.
func Invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Translate maps err to a status code and body.
func Translate(err error) (int, Body) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, Body{Error: "ValidationError", Message: ve.Message}
	}

	var we *workflow.Error
	if errors.As(err, &we) {
		return statusForKind(we.Kind), Body{Error: string(we.Kind), Message: we.Message}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if kind, ok := uniqueKinds[pgErr.ConstraintName]; ok {
			return statusForKind(kind), Body{Error: string(kind), Message: pgErr.Detail}
		}
		return http.StatusConflict, Body{Error: "Conflict", Message: "resource already exists"}
	}

	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ErrNotFound) {
		return http.StatusNotFound, Body{Error: "NotFound", Message: "resource not found"}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			msg = m
		} else if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
		return he.Code, Body{Error: errorName(he.Code), Message: msg}
	}

	return http.StatusInternalServerError, Body{Error: "Internal", Message: "internal server error"}
}

func statusForKind(k workflow.Kind) int {
	switch k {
	case workflow.KindIncompleteEncounter, workflow.KindEmptyBillable, workflow.KindInvalidLine:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusConflict
	}
}

func errorName(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "BadRequest"
	case http.StatusUnauthorized:
		return "Unauthorized"
	case http.StatusForbidden:
		return "Forbidden"
	case http.StatusNotFound:
		return "NotFound"
	case http.StatusMethodNotAllowed:
		return "MethodNotAllowed"
	case http.StatusRequestEntityTooLarge:
		return "TooLarge"
	case http.StatusUnsupportedMediaType:
		return "UnsupportedMediaType"
	case http.StatusTooManyRequests:
		return "RateLimited"
	case http.StatusServiceUnavailable:
		return "Unavailable"
	}
	if code >= 500 {
		return "Internal"
	}
	return "Error"
}

// ErrorHandler replaces echo's default error handler. Server errors are
// logged with the request id; client errors are left to the request logger.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code, body := Translate(err)
		if code >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Str("path", c.Path()).Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}
