package catalog

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinimetrix/clinimetrix/internal/clinimetrix"
	"github.com/clinimetrix/clinimetrix/internal/platform/middleware"
	"github.com/clinimetrix/clinimetrix/pkg/pagination"
)

// CacheInvalidator drops cached definition reads for a tenant after a write.
type CacheInvalidator interface {
	InvalidatePrefix(prefix string)
}

type Handler struct {
	svc   *Service
	cache CacheInvalidator
}

// NewHandler builds the catalog HTTP handler. cache may be nil when response
// caching is disabled.
func NewHandler(svc *Service, cache CacheInvalidator) *Handler {
	return &Handler{svc: svc, cache: cache}
}

// dropCachedDefinitions evicts the tenant's cached definition responses so a
// publish or retire is visible on the next read.
func (h *Handler) dropCachedDefinitions(c echo.Context) {
	if h.cache == nil {
		return
	}
	tenant, _ := c.Get("tenant_id").(string)
	h.cache.InvalidatePrefix(middleware.DefinitionCacheKeyPrefix(tenant))
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/scales", h.Publish)
	api.POST("/scales/validate", h.ValidateDocument)
	api.GET("/scales", h.List)
	api.GET("/scales/:id", h.Get)
	api.GET("/scales/by-scale/:scale_id/latest", h.Latest)
	api.GET("/scales/by-scale/:scale_id/versions/:version", h.GetVersion)
	api.DELETE("/scales/:id", h.Retire)
}

// Publish accepts a raw template document, validates it, and stores it as a
// new scale version.
func (h *Handler) Publish(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	def, err := h.svc.Publish(c.Request().Context(), raw)
	if err != nil {
		var tve *clinimetrix.TemplateValidationError
		if errors.As(err, &tve) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, tve.Error())
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	h.dropCachedDefinitions(c)
	return c.JSON(http.StatusCreated, def)
}

// ValidateDocument runs template validation without persisting anything.
func (h *Handler) ValidateDocument(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	tmpl, err := clinimetrix.LoadTemplate(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"valid":        true,
		"scale_id":     tmpl.ID,
		"version":      tmpl.Version,
		"content_hash": tmpl.ContentHash,
		"total_items":  tmpl.TotalItems,
	})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	def, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "scale definition not found")
	}
	return c.JSON(http.StatusOK, def)
}

func (h *Handler) GetVersion(c echo.Context) error {
	def, err := h.svc.GetByScaleVersion(c.Request().Context(), c.Param("scale_id"), c.Param("version"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "scale version not found")
	}
	return c.JSON(http.StatusOK, def)
}

func (h *Handler) Latest(c echo.Context) error {
	def, err := h.svc.Latest(c.Request().Context(), c.Param("scale_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no active version for scale")
	}
	return c.JSON(http.StatusOK, def)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	activeOnly := c.QueryParam("active") != "false"
	items, total, err := h.svc.List(c.Request().Context(), activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Retire(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Retire(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.dropCachedDefinitions(c)
	return c.NoContent(http.StatusNoContent)
}
