package billing

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apierr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/reporting"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleCashier))
	g.POST("/medical-records/:id/invoice", h.Generate)
	g.GET("/medical-records/:id/invoice", h.GetByRecord)
	g.GET("/invoices", h.List)
	g.GET("/invoices/:id", h.Get)
	g.POST("/invoices/:id/pay", h.Pay)
}

type generateInput struct {
	Paid bool `json:"paid"`
}

func (h *Handler) Generate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apierr.BadRequest("invalid id")
	}
	var in generateInput
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&in); err != nil {
			return apierr.BadRequest("invalid body")
		}
	}
	inv, err := h.svc.Generate(c.Request().Context(), id, in.Paid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) GetByRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apierr.BadRequest("invalid id")
	}
	inv, err := h.svc.GetByRecord(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apierr.BadRequest("invalid id")
	}
	inv, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

// List accepts status, patient_id and a paid_from/paid_to date range
// (inclusive calendar days, UTC).
func (h *Handler) List(c echo.Context) error {
	var f Filter
	if v := c.QueryParam("status"); v != "" {
		st, err := ParseInvoiceStatus(v)
		if err != nil {
			return apierr.BadRequest("%v", err)
		}
		f.Status = st
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apierr.BadRequest("invalid patient_id")
		}
		f.PatientID = id
	}
	if v := c.QueryParam("paid_from"); v != "" {
		d, err := reporting.ParseISODate(v)
		if err != nil {
			return apierr.BadRequest("paid_from: %v", err)
		}
		f.PaidFrom = &d
	}
	if v := c.QueryParam("paid_to"); v != "" {
		d, err := reporting.ParseISODate(v)
		if err != nil {
			return apierr.BadRequest("paid_to: %v", err)
		}
		end := d.AddDate(0, 0, 1)
		f.PaidTo = &end
	}

	pg := pagination.FromContext(c)
	invs, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if invs == nil {
		invs = []*Invoice{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(invs, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) Pay(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apierr.BadRequest("invalid id")
	}
	inv, err := h.svc.Pay(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}
