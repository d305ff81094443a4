// Package reporting builds dashboard series: bucket dates and labels come from
// the period engine in period.go, one aggregated value per bucket comes from
// a StatSource.
package reporting

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apierr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
)

// Measure is a statistic that can be aggregated over a date range. SQL takes
// the range bounds as $1 (inclusive) and $2 (exclusive) ISO dates, read in the
// session time zone.
type Measure struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Unit        string `json:"unit"`
	SQL         string `json:"-"`
}

var Measures = []Measure{
	{
		ID:          "appointments",
		Name:        "Appointments",
		Description: "Appointments booked for dates in the range, excluding cancelled ones",
		Unit:        "count",
		SQL: `SELECT COUNT(*)::float8 FROM appointment
			WHERE appointment_date >= $1::date AND appointment_date < $2::date AND status <> 'CANCELLED'`,
	},
	{
		ID:          "completed-appointments",
		Name:        "Completed appointments",
		Description: "Appointments in the range that reached COMPLETED",
		Unit:        "count",
		SQL: `SELECT COUNT(*)::float8 FROM appointment
			WHERE appointment_date >= $1::date AND appointment_date < $2::date AND status = 'COMPLETED'`,
	},
	{
		ID:          "encounters",
		Name:        "Encounters",
		Description: "Medical records opened in the range",
		Unit:        "count",
		SQL: `SELECT COUNT(*)::float8 FROM medical_record
			WHERE created_at >= $1::timestamptz AND created_at < $2::timestamptz`,
	},
	{
		ID:          "revenue",
		Name:        "Revenue",
		Description: "Sum of invoices paid in the range",
		Unit:        "currency",
		SQL: `SELECT COALESCE(SUM(total), 0)::float8 FROM invoice
			WHERE status = 'PAID' AND paid_at >= $1::timestamptz AND paid_at < $2::timestamptz`,
	},
	{
		ID:          "patients",
		Name:        "Patients seen",
		Description: "Distinct patients with a medical record opened in the range",
		Unit:        "count",
		SQL: `SELECT COUNT(DISTINCT patient_id)::float8 FROM medical_record
			WHERE created_at >= $1::timestamptz AND created_at < $2::timestamptz`,
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *Measure {
	for i := range Measures {
		if Measures[i].ID == id {
			return &Measures[i]
		}
	}
	return nil
}

// StatSource aggregates one value per range, in order.
type StatSource interface {
	Aggregate(ctx context.Context, m Measure, ranges []BucketRange) ([]float64, error)
}

type batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PGSource runs measure SQL against the clinic schema, one batched round trip
// per series.
type PGSource struct {
	pool *pgxpool.Pool
}

func NewPGSource(pool *pgxpool.Pool) *PGSource {
	return &PGSource{pool: pool}
}

func (s *PGSource) conn(ctx context.Context) batcher {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

func (s *PGSource) Aggregate(ctx context.Context, m Measure, ranges []BucketRange) ([]float64, error) {
	return aggregate(ctx, s.conn(ctx), m, ranges)
}

func aggregate(ctx context.Context, q batcher, m Measure, ranges []BucketRange) ([]float64, error) {
	batch := &pgx.Batch{}
	for _, r := range ranges {
		batch.Queue(m.SQL, ToISODate(r.Start), ToISODate(r.End))
	}

	br := q.SendBatch(ctx, batch)
	defer br.Close()

	out := make([]float64, len(ranges))
	for i := range ranges {
		if err := br.QueryRow().Scan(&out[i]); err != nil {
			return nil, fmt.Errorf("measure %s bucket %d: %w", m.ID, i, err)
		}
	}
	return out, nil
}

// Report is a measure series with an optional comparison series.
type Report struct {
	Measure       string     `json:"measure"`
	Name          string     `json:"name"`
	PeriodType    PeriodType `json:"period_type"`
	AnchorDate    string     `json:"anchor_date"`
	Series        []Point    `json:"series"`
	Total         float64    `json:"total"`
	Previous      []Point    `json:"previous,omitempty"`
	PreviousTotal *float64   `json:"previous_total,omitempty"`
	ChangePercent *float64   `json:"change_percent,omitempty"`
}

// Service evaluates measures over bucketed periods.
type Service struct {
	source StatSource
}

func NewService(source StatSource) *Service {
	return &Service{source: source}
}

// Evaluate builds the series for measureID ending on anchor. With compare set
// it also builds the previous equivalent period and the change between totals.
func (s *Service) Evaluate(ctx context.Context, measureID string, pt PeriodType, anchor time.Time, compare bool) (*Report, error) {
	m := FindMeasure(measureID)
	if m == nil {
		return nil, fmt.Errorf("measure %q: %w", measureID, apierr.ErrNotFound)
	}

	current, previous, err := Compare(pt, anchor)
	if err != nil {
		return nil, apierr.BadRequest("%v", err)
	}

	series, err := s.series(ctx, *m, pt, current)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Measure:    m.ID,
		Name:       m.Name,
		PeriodType: pt,
		AnchorDate: ToISODate(anchor),
		Series:     series,
		Total:      total(series),
	}
	if !compare {
		return rep, nil
	}

	prev, err := s.series(ctx, *m, pt, previous)
	if err != nil {
		return nil, err
	}
	prevTotal := total(prev)
	rep.Previous = prev
	rep.PreviousTotal = &prevTotal
	if prevTotal != 0 {
		change := (rep.Total - prevTotal) / prevTotal * 100
		rep.ChangePercent = &change
	}
	return rep, nil
}

func (s *Service) series(ctx context.Context, m Measure, pt PeriodType, buckets []Bucket) ([]Point, error) {
	ranges := make([]BucketRange, len(buckets))
	for i, b := range buckets {
		ranges[i] = RangeOf(pt, b.Date)
	}
	values, err := s.source.Aggregate(ctx, m, ranges)
	if err != nil {
		return nil, err
	}
	return Zip(buckets, values)
}

func total(points []Point) float64 {
	var sum float64
	for _, p := range points {
		sum += p.Value
	}
	return sum
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	svc *Service
	loc *time.Location
	now func() time.Time
}

// NewHandler creates a reporting handler. A missing anchor_date defaults to
// today in loc.
func NewHandler(svc *Service, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{svc: svc, loc: loc, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireRole(auth.RoleAdmin))
	g.GET("/measures", h.ListMeasures)
	g.GET("/:measure", h.Evaluate)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, Measures)
}

func (h *Handler) Evaluate(c echo.Context) error {
	raw := c.QueryParam("period_type")
	if raw == "" {
		raw = string(PeriodDay)
	}
	pt, err := ParsePeriodType(raw)
	if err != nil {
		return apierr.BadRequest("%v", err)
	}

	anchor := CivilDate(h.now().In(h.loc))
	if v := c.QueryParam("anchor_date"); v != "" {
		if anchor, err = ParseISODate(v); err != nil {
			return apierr.BadRequest("anchor_date: %v", err)
		}
	}

	compare := false
	if v := c.QueryParam("compare"); v != "" {
		if compare, err = strconv.ParseBool(v); err != nil {
			return apierr.BadRequest("compare must be true or false")
		}
	}

	rep, err := h.svc.Evaluate(c.Request().Context(), c.Param("measure"), pt, anchor, compare)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}
