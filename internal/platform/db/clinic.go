package db

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	ClinicIDKey contextKey = "clinic_id"
	DBConnKey   contextKey = "db_conn"

	// ClinicHeader selects a clinic branch when the token carries none.
	ClinicHeader = "X-Clinic-ID"
)

// Lower case only: unquoted identifiers fold to lower case in PostgreSQL.
var clinicIDPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidClinicID reports whether id is safe to embed in a schema name.
func ValidClinicID(id string) bool {
	return clinicIDPattern.MatchString(id)
}

// SchemaName returns the PostgreSQL schema holding a clinic's tables.
func SchemaName(clinicID string) string {
	return "clinic_" + clinicID
}

// ClinicMiddleware acquires a connection per request and points its
// search_path at the clinic schema. Repositories pick it up via ConnFromContext.
func ClinicMiddleware(pool *pgxpool.Pool, defaultClinic string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			clinicID := extractClinicID(c, defaultClinic)
			if !ValidClinicID(clinicID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(clinicID))); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "clinic resolution failed")
			}

			ctx = context.WithValue(ctx, ClinicIDKey, clinicID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("clinic_id", clinicID)

			return next(c)
		}
	}
}

// ClinicScope resolves the clinic like ClinicMiddleware but holds no
// connection. Long-lived routes such as the WebSocket endpoint use it.
func ClinicScope(defaultClinic string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			clinicID := extractClinicID(c, defaultClinic)
			if !ValidClinicID(clinicID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic identifier")
			}
			ctx := context.WithValue(c.Request().Context(), ClinicIDKey, clinicID)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("clinic_id", clinicID)
			return next(c)
		}
	}
}

// extractClinicID prefers the token claim, then the header, then the query
// string (browsers cannot set headers on WebSocket upgrades).
func extractClinicID(c echo.Context, defaultClinic string) string {
	if id, ok := c.Get("jwt_clinic_id").(string); ok && id != "" {
		return id
	}
	if id := c.Request().Header.Get(ClinicHeader); id != "" {
		return id
	}
	if id := c.QueryParam("clinic_id"); id != "" {
		return id
	}
	return defaultClinic
}

// ConnFromContext retrieves the clinic-scoped connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// ClinicFromContext retrieves the clinic ID from context.
func ClinicFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ClinicIDKey).(string)
	return id
}

// CreateClinicSchema creates the schema for a new clinic branch and applies
// every migration in migrations to it. A nil migrations skips that step.
func CreateClinicSchema(ctx context.Context, pool *pgxpool.Pool, clinicID string, migrations fs.FS) (int, error) {
	if !ValidClinicID(clinicID) {
		return 0, fmt.Errorf("invalid clinic identifier: %q", clinicID)
	}
	schema := SchemaName(clinicID)

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return 0, fmt.Errorf("create schema %s: %w", schema, err)
	}
	if migrations == nil {
		return 0, nil
	}

	n, err := NewMigrator(pool, migrations).Up(ctx, schema)
	if err != nil {
		return n, fmt.Errorf("run migrations for %s: %w", schema, err)
	}
	return n, nil
}
