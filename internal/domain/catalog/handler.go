package catalog

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apierr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc  *Service
	path string
}

// NewHandler serves svc under path, e.g. "/services".
func NewHandler(svc *Service, path string) *Handler {
	return &Handler{svc: svc, path: path}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// any authenticated user may read the price list
	api.GET(h.path, h.List)
	api.GET(h.path+"/:id", h.Get)

	write := api.Group("", auth.RequireRole(auth.RoleAdmin))
	write.POST(h.path, h.Create)
	write.PUT(h.path+"/:id", h.Update)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	activeOnly := true
	if v := c.QueryParam("include_inactive"); v != "" {
		all, err := strconv.ParseBool(v)
		if err != nil {
			return apierr.BadRequest("include_inactive must be true or false")
		}
		activeOnly = !all
	}
	items, total, err := h.svc.List(c.Request().Context(), activeOnly, c.QueryParam("q"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Item{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apierr.BadRequest("invalid id")
	}
	it, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, it)
}

func (h *Handler) Create(c echo.Context) error {
	var in ItemInput
	if err := c.Bind(&in); err != nil {
		return apierr.BadRequest("invalid body")
	}
	it, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, it)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apierr.BadRequest("invalid id")
	}
	var in ItemInput
	if err := c.Bind(&in); err != nil {
		return apierr.BadRequest("invalid body")
	}
	it, err := h.svc.Update(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, it)
}
