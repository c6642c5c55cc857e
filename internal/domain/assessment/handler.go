package assessment

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinimetrix/clinimetrix/internal/clinimetrix"
	"github.com/clinimetrix/clinimetrix/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/assessments", h.Start)
	api.GET("/assessments", h.List)
	api.GET("/assessments/:id", h.Get)
	api.POST("/assessments/:id/answers", h.RecordAnswer)
	api.GET("/assessments/:id/answers", h.Answers)
	api.POST("/assessments/:id/complete", h.Complete)
	api.POST("/assessments/:id/abandon", h.Abandon)
	api.POST("/assessments/:id/rescore", h.Rescore)
	api.GET("/assessments/:id/results", h.Results)
	api.GET("/assessments/:id/results/latest", h.LatestResult)
	api.GET("/alerts", h.Alerts)
	api.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)
}

// scoringError maps engine errors onto HTTP status codes: lifecycle
// violations are conflicts, unscoreable input is unprocessable.
func scoringError(err error) error {
	var (
		ise *clinimetrix.InvalidStateError
		ide *clinimetrix.InsufficientDataError
		use *clinimetrix.UnsupportedScoringMethodError
	)
	switch {
	case errors.As(err, &ise):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &ide), errors.As(err, &use):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func (h *Handler) Start(c echo.Context) error {
	var req StartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Start(c.Request().Context(), req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "assessment not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) RecordAnswer(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var ans ItemAnswer
	if err := c.Bind(&ans); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if ans.ItemID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "item_id is required")
	}
	if err := h.svc.RecordAnswer(c.Request().Context(), id, &ans); err != nil {
		return scoringError(err)
	}
	return c.JSON(http.StatusOK, ans)
}

func (h *Handler) Answers(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	answers, err := h.svc.Answers(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, answers)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	result, err := h.svc.Complete(c.Request().Context(), id)
	if err != nil {
		return scoringError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) Abandon(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Abandon(c.Request().Context(), id); err != nil {
		return scoringError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Rescore(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	result, err := h.svc.Rescore(c.Request().Context(), id)
	if err != nil {
		return scoringError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) Results(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	results, err := h.svc.Results(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, results)
}

func (h *Handler) LatestResult(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	result, err := h.svc.LatestResult(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no result for assessment")
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) Alerts(c echo.Context) error {
	pg := pagination.FromContext(c)
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	unackedOnly := c.QueryParam("unacknowledged") == "true"
	items, total, err := h.svc.AlertsByPatient(c.Request().Context(), patientID, unackedOnly, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) AcknowledgeAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		AcknowledgedByID uuid.UUID `json:"acknowledged_by_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.AcknowledgeAlert(c.Request().Context(), id, body.AcknowledgedByID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
