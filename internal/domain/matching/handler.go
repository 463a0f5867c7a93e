package matching

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/meditatva/connect/internal/platform/auth"
	"github.com/meditatva/connect/internal/platform/geo"
	"github.com/meditatva/connect/pkg/pagination"
)

const defaultRadiusKm = 10.0

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	patient := auth.RequireRole(auth.RolePatient)
	pharm := auth.RequireRole(auth.RolePharmacy)

	api.POST("/requests", h.CreateRequest, patient)
	api.GET("/requests", h.ListRequests)
	api.GET("/requests/nearby", h.FindNearby, pharm)
	api.GET("/requests/:id", h.GetRequest)
	api.POST("/requests/:id/responses", h.SubmitResponse, pharm)
	api.POST("/requests/:id/accept", h.AcceptResponse, patient)
	api.PATCH("/requests/:id/status", h.UpdateStatus)
	api.POST("/requests/:id/messages", h.AddMessage)
}

// httpError maps the error taxonomy to status codes. Reason strings come
// from the wrapped error, not a generic message.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDuplicateResponse), errors.Is(err, ErrRequestClosed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrResponseNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUnauthorized):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) CreateRequest(c echo.Context) error {
	ident := auth.IdentityFromContext(c.Request().Context())

	var in CreateRequestInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := h.svc.CreateRequest(c.Request().Context(), ident.UserID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, req)
}

func (h *Handler) GetRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	req, err := h.svc.GetRequest(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, req)
}

// ListRequests returns the caller's own requests: those they posted for
// patients, those they responded to for pharmacies.
func (h *Handler) ListRequests(c echo.Context) error {
	ident := auth.IdentityFromContext(c.Request().Context())
	pg := pagination.FromContext(c)

	var (
		items []*Request
		total int
		err   error
	)
	if ident.Role == auth.RolePharmacy {
		items, total, err = h.svc.ListByPharmacy(c.Request().Context(), ident.UserID, pg.Limit, pg.Offset)
	} else {
		items, total, err = h.svc.ListByPatient(c.Request().Context(), ident.UserID, pg.Limit, pg.Offset)
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) FindNearby(c echo.Context) error {
	ident := auth.IdentityFromContext(c.Request().Context())
	pg := pagination.FromContext(c)

	p, ok := parsePoint(c.QueryParam("lat"), c.QueryParam("lon"))
	if !ok {
		if ident.Location == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "lat and lon are required")
		}
		p = *ident.Location
	}
	radius := defaultRadiusKm
	if raw := c.QueryParam("radius"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid radius")
		}
		radius = r
	}

	items, total, err := h.svc.FindNearby(c.Request().Context(), p, radius, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func parsePoint(latRaw, lonRaw string) (geo.Point, bool) {
	if latRaw == "" || lonRaw == "" {
		return geo.Point{}, false
	}
	lat, err1 := strconv.ParseFloat(latRaw, 64)
	lon, err2 := strconv.ParseFloat(lonRaw, 64)
	if err1 != nil || err2 != nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: lat, Lon: lon}, true
}

func (h *Handler) SubmitResponse(c echo.Context) error {
	ident := auth.IdentityFromContext(c.Request().Context())
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in SubmitResponseInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	resp, err := h.svc.SubmitResponse(c.Request().Context(), ident.UserID, id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, resp)
}

func (h *Handler) AcceptResponse(c echo.Context) error {
	ident := auth.IdentityFromContext(c.Request().Context())
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in struct {
		PharmacyID string `json:"pharmacyId"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.PharmacyID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "pharmacyId is required")
	}
	req, err := h.svc.AcceptResponse(c.Request().Context(), ident.UserID, id, in.PharmacyID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	ident := auth.IdentityFromContext(c.Request().Context())
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in struct {
		Status Status `json:"status"`
		Reason string `json:"reason"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.Status == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "status is required")
	}
	req, err := h.svc.UpdateStatus(c.Request().Context(), ident.UserID, id, in.Status, in.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) AddMessage(c echo.Context) error {
	ident := auth.IdentityFromContext(c.Request().Context())
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in struct {
		Content string `json:"content"`
		Kind    string `json:"kind"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.AddCommunication(c.Request().Context(), ident.UserID, id, in.Content, in.Kind)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, m)
}
