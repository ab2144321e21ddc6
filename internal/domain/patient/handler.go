package patient

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medregistry/registry/internal/domain/audit"
	"github.com/medregistry/registry/internal/platform/httpx"
	"github.com/medregistry/registry/internal/platform/metrics"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/patients", h.CreatePatient)
	api.GET("/patients", h.SearchPatients)
	api.GET("/patients/:id", h.GetPatient)
	api.PUT("/patients/:id", h.UpdatePatient)
}

// patientDTO is the wire shape of a record. Dates go out as YYYY-MM-DD,
// timestamps as RFC 3339 UTC.
type patientDTO struct {
	ID           uuid.UUID `json:"id"`
	MRN          string    `json:"mrn"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	DOB          string    `json:"dob"`
	Sex          string    `json:"sex"`
	Phone        string    `json:"phone,omitempty"`
	Email        string    `json:"email,omitempty"`
	AddressLine1 string    `json:"addressLine1,omitempty"`
	City         string    `json:"city,omitempty"`
	PostalCode   string    `json:"postalCode,omitempty"`
	CountryCode  string    `json:"countryCode,omitempty"`
	CreatedAt    string    `json:"createdAt"`
	UpdatedAt    string    `json:"updatedAt"`
}

func toDTO(p *Patient) patientDTO {
	return patientDTO{
		ID:           p.ID,
		MRN:          p.MRN,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		DOB:          p.DOB.Format("2006-01-02"),
		Sex:          p.Sex,
		Phone:        p.Phone,
		Email:        p.Email,
		AddressLine1: p.AddressLine1,
		City:         p.City,
		PostalCode:   p.PostalCode,
		CountryCode:  p.CountryCode,
		CreatedAt:    p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type recordEnvelope struct {
	Data  patientDTO        `json:"data"`
	Links map[string]string `json:"_links"`
}

type pageEnvelope struct {
	Data       []patientDTO `json:"data"`
	NextCursor *uuid.UUID   `json:"nextCursor"`
	HasMore    bool         `json:"hasMore"`
}

func envelope(p *Patient) recordEnvelope {
	return recordEnvelope{
		Data:  toDTO(p),
		Links: map[string]string{"self": "/api/v1/patients/" + p.ID.String()},
	}
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return httpx.Error(c, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON")
	}
	p, token, err := h.svc.Create(c.Request().Context(), in, metaFrom(c))
	if err != nil {
		metrics.RecordWritesTotal.WithLabelValues("create", writeStatus(err)).Inc()
		return h.mapError(c, err)
	}
	metrics.RecordWritesTotal.WithLabelValues("create", "ok").Inc()
	setETag(c, token)
	return c.JSON(http.StatusCreated, envelope(p))
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httpx.Error(c, http.StatusBadRequest, "INVALID_ID", "id must be a UUID")
	}
	p, token, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	if unquoteETag(c.Request().Header.Get("If-None-Match")) == token {
		setETag(c, token)
		return c.NoContent(http.StatusNotModified)
	}
	setETag(c, token)
	return c.JSON(http.StatusOK, envelope(p))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httpx.Error(c, http.StatusBadRequest, "INVALID_ID", "id must be a UUID")
	}
	expected := unquoteETag(c.Request().Header.Get("If-Match"))
	if expected == "" {
		return httpx.Error(c, http.StatusPreconditionRequired, "PRECONDITION_REQUIRED",
			"updates require an If-Match header carrying the record's current ETag")
	}
	var changes UpdateInput
	if err := c.Bind(&changes); err != nil {
		return httpx.Error(c, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON")
	}
	p, token, err := h.svc.Update(c.Request().Context(), id, changes, expected, metaFrom(c))
	if err != nil {
		metrics.RecordWritesTotal.WithLabelValues("update", writeStatus(err)).Inc()
		return h.mapError(c, err)
	}
	metrics.RecordWritesTotal.WithLabelValues("update", "ok").Inc()
	setETag(c, token)
	return c.JSON(http.StatusOK, envelope(p))
}

func (h *Handler) SearchPatients(c echo.Context) error {
	q := SearchQuery{
		Term:     c.QueryParam("search"),
		MRN:      c.QueryParam("mrn"),
		LastName: c.QueryParam("lastName"),
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return httpx.Error(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
		}
		q.Limit = n
	}
	if v := c.QueryParam("cursor"); v != "" {
		cur, err := uuid.Parse(v)
		if err != nil {
			return httpx.Error(c, http.StatusBadRequest, "INVALID_CURSOR", "cursor must be a UUID from a previous page")
		}
		q.Cursor = &cur
	}

	res, err := h.svc.Search(c.Request().Context(), q)
	if err != nil {
		return h.mapError(c, err)
	}
	out := pageEnvelope{
		Data:       make([]patientDTO, 0, len(res.Patients)),
		NextCursor: res.NextCursor,
		HasMore:    res.HasMore,
	}
	for _, p := range res.Patients {
		out.Data = append(out.Data, toDTO(p))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return httpx.Error(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
	case errors.Is(err, ErrNotFound):
		return httpx.Error(c, http.StatusNotFound, "NOT_FOUND", "patient not found")
	case errors.Is(err, ErrPreconditionFailed):
		return httpx.Error(c, http.StatusPreconditionFailed, "PRECONDITION_FAILED",
			"the record changed since it was read; fetch it again and retry with the fresh ETag")
	case errors.Is(err, ErrConflict):
		return httpx.Error(c, http.StatusConflict, "CONFLICT", "could not allocate a record number, retry the request")
	default:
		return httpx.Error(c, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}

func writeStatus(err error) string {
	switch {
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrPreconditionFailed):
		return "stale"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		return "rejected"
	default:
		return "error"
	}
}

// setETag writes the version token as a quoted strong validator.
func setETag(c echo.Context, token string) {
	c.Response().Header().Set("ETag", `"`+token+`"`)
}

// unquoteETag strips surrounding quotes and any weak prefix so tokens
// compare raw against what the store computes.
func unquoteETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "W/")
	return strings.Trim(v, `"`)
}

func metaFrom(c echo.Context) audit.Meta {
	actor, _ := c.Get("actor").(string)
	if actor == "" {
		actor = "anonymous"
	}
	return audit.Meta{
		Actor:     actor,
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}
