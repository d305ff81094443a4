package encounter

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/domain/workflow"
	"github.com/clinic/clinic/internal/platform/apierr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/blobstore"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleCashier))
	read.GET("/medical-records", h.List)
	read.GET("/medical-records/:id", h.Get)

	doc := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doc.POST("/appointments/:id/medical-record", h.Start)
	doc.PUT("/medical-records/:id", h.UpdateFindings)
	doc.POST("/medical-records/:id/complete", h.Complete)
	doc.GET("/medical-records/:id/status-history", h.StatusHistory)
	doc.PUT("/medical-records/:id/service-indication", h.setLines(LinesService))
	doc.GET("/medical-records/:id/service-indication", h.getLines(LinesService))
	doc.PUT("/medical-records/:id/prescription", h.setLines(LinesPrescription))
	doc.GET("/medical-records/:id/prescription", h.getLines(LinesPrescription))
	doc.POST("/medical-records/:id/images", h.AddImage)
	doc.GET("/medical-records/:id/images", h.ListImages)
	doc.GET("/medical-records/:id/images/:imageId", h.GetImage)
	doc.GET("/medical-records/:id/images/:imageId/content", h.ImageContent)
	doc.DELETE("/medical-records/:id/images/:imageId", h.DeleteImage)
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apierr.BadRequest("invalid %s", name)
	}
	return id, nil
}

func (h *Handler) Start(c echo.Context) error {
	apptID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	rec, err := h.svc.Start(c.Request().Context(), apptID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.GetDetail(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) List(c echo.Context) error {
	var f Filter
	if v := c.QueryParam("status"); v != "" {
		st, err := workflow.ParseRecordStatus(v)
		if err != nil {
			return apierr.BadRequest("%v", err)
		}
		f.Status = st
	}
	for name, dst := range map[string]*uuid.UUID{
		"patient_id":     &f.PatientID,
		"doctor_id":      &f.DoctorID,
		"appointment_id": &f.AppointmentID,
	} {
		if v := c.QueryParam(name); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return apierr.BadRequest("invalid %s", name)
			}
			*dst = id
		}
	}

	pg := pagination.FromContext(c)
	recs, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []*MedicalRecord{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(recs, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) UpdateFindings(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var in FindingsInput
	if err := c.Bind(&in); err != nil {
		return apierr.BadRequest("invalid body")
	}
	rec, err := h.svc.UpdateFindings(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	rec, err := h.svc.Complete(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) StatusHistory(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	history, err := h.svc.StatusHistory(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if history == nil {
		history = []*StatusHistory{}
	}
	return c.JSON(http.StatusOK, history)
}

type linesInput struct {
	Lines []LineInput `json:"lines"`
}

func (h *Handler) setLines(kind LineKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c, "id")
		if err != nil {
			return err
		}
		var in linesInput
		if err := c.Bind(&in); err != nil {
			return apierr.BadRequest("invalid body")
		}
		set, err := h.svc.SetLines(c.Request().Context(), kind, id, in.Lines)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, set)
	}
}

func (h *Handler) getLines(kind LineKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c, "id")
		if err != nil {
			return err
		}
		set, err := h.svc.Lines(c.Request().Context(), kind, id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, set)
	}
}

// AddImage accepts a multipart upload with an image_type field and a file
// part named "file".
func (h *Handler) AddImage(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	imageType, err := workflow.ParseImageType(c.FormValue("image_type"))
	if err != nil {
		return apierr.BadRequest("%v", err)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return apierr.BadRequest("file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return apierr.BadRequest("unreadable upload")
	}
	defer f.Close()

	img, err := h.svc.AddImage(c.Request().Context(), id, imageType, f)
	if err != nil {
		return blobstore.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, img)
}

func (h *Handler) ListImages(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	imgs, err := h.svc.ListImages(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if imgs == nil {
		imgs = []*SkinImage{}
	}
	return c.JSON(http.StatusOK, imgs)
}

func (h *Handler) GetImage(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	imageID, err := pathID(c, "imageId")
	if err != nil {
		return err
	}
	img, err := h.svc.GetImage(c.Request().Context(), id, imageID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, img)
}

func (h *Handler) ImageContent(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	imageID, err := pathID(c, "imageId")
	if err != nil {
		return err
	}
	img, err := h.svc.GetImage(c.Request().Context(), id, imageID)
	if err != nil {
		return err
	}
	if h.svc.images == nil {
		return errNoImageStore
	}
	return blobstore.Stream(c, h.svc.images, img.StorageKey)
}

func (h *Handler) DeleteImage(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	imageID, err := pathID(c, "imageId")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteImage(c.Request().Context(), id, imageID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
