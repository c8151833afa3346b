package drugbatch

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rxlearn/rxlearn/internal/platform/archive"
	"github.com/rxlearn/rxlearn/internal/platform/auth"
	"github.com/rxlearn/rxlearn/internal/platform/reporting"
	"github.com/rxlearn/rxlearn/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/drug-batches", h.List)
	admin.GET("/drug-batches/:id", h.Get)
	admin.POST("/drug-batches/:id/process", h.Process)
	admin.DELETE("/drug-batches/:id", h.Delete)
	admin.GET("/drug-batches/:id/export", h.Export)
	admin.GET("/drug-batches/:id/archives", h.ListArchives)
	admin.GET("/drug-batches/:id/archives/:name", h.GetArchive)

	admin.POST("/drug-requests/:id/assign", h.Assign)
	admin.POST("/drug-requests/:id/unassign", h.Unassign)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	if v := c.QueryParam("status"); v != "" {
		params["status"] = v
	}
	page, err := h.svc.List(c.Request().Context(), params, pg.Limit, pg.Offset)
	if errors.Is(err, ErrInvalidFilter) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(page.Items, page.Total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.Get(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "drug batch not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Process(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.svc.Process(c.Request().Context(), id))
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.svc.Delete(c.Request().Context(), id))
}

func (h *Handler) Assign(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.svc.Assign(c.Request().Context(), id))
}

func (h *Handler) Unassign(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.svc.Unassign(c.Request().Context(), id))
}

func (h *Handler) Export(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	data, err := h.svc.Export(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "drug batch not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, reporting.Attachment("drug-batch-"+id.String()+".xlsx"))
	return c.Blob(http.StatusOK, reporting.XLSXContentType, data)
}

func (h *Handler) ListArchives(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	objs, err := h.svc.Archives(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, objs)
}

func (h *Handler) GetArchive(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	data, obj, err := h.svc.Archive(c.Request().Context(), id, c.Param("name"))
	if errors.Is(err, archive.ErrNotFound) || errors.Is(err, archive.ErrInvalidKey) {
		return echo.NewHTTPError(http.StatusNotFound, "archive not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, obj.ContentType, data)
}
