package scheduling

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/domain/workflow"
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
	read := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleDoctor, auth.RoleCashier))
	read.GET("/appointments", h.ListAppointments)
	read.GET("/appointments/:id", h.GetAppointment)

	write := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleDoctor))
	write.POST("/appointments", h.CreateAppointment)
	write.PATCH("/appointments/:id/status", h.UpdateStatus)
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return apierr.BadRequest("invalid body")
	}
	a, err := h.svc.CreateAppointment(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apierr.BadRequest("invalid id")
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	appts, total, err := h.svc.ListAppointments(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if appts == nil {
		appts = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(appts, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func filterFromQuery(c echo.Context) (Filter, error) {
	var f Filter
	for name, dst := range map[string]*string{"date": &f.Date, "date_from": &f.DateFrom, "date_to": &f.DateTo} {
		if v := c.QueryParam(name); v != "" {
			d, err := reporting.ParseISODate(v)
			if err != nil {
				return f, apierr.BadRequest("%s: %v", name, err)
			}
			*dst = reporting.ToISODate(d)
		}
	}
	for name, dst := range map[string]*uuid.UUID{"doctor_id": &f.DoctorID, "patient_id": &f.PatientID} {
		if v := c.QueryParam(name); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return f, apierr.BadRequest("invalid %s", name)
			}
			*dst = id
		}
	}
	if v := c.QueryParam("status"); v != "" {
		st, err := workflow.ParseAppointmentStatus(v)
		if err != nil {
			return f, apierr.BadRequest("%v", err)
		}
		f.Status = st
	}
	return f, nil
}

type statusInput struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apierr.BadRequest("invalid id")
	}
	var in statusInput
	if err := c.Bind(&in); err != nil {
		return apierr.BadRequest("invalid body")
	}
	target, err := workflow.ParseAppointmentStatus(in.Status)
	if err != nil {
		return apierr.BadRequest("%v", err)
	}
	a, err := h.svc.UpdateStatus(c.Request().Context(), id, target)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}
