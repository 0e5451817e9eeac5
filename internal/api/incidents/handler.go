// Package incidents serves the incident workflow over HTTP.
package incidents

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/firealarmweb/firealarm/internal/api/middleware"
	"github.com/firealarmweb/firealarm/internal/apperr"
	"github.com/firealarmweb/firealarm/internal/incident"
	"github.com/firealarmweb/firealarm/internal/models"
	"github.com/firealarmweb/firealarm/internal/storage"
)

const (
	dateLayout     = "2006-01-02"
	maxRequestBody = 64 << 10
)

// Service is the incident workflow. *incident.Service satisfies it.
type Service interface {
	ListPending(ctx context.Context, filter storage.ListFilter) ([]*models.PendingIncident, error)
	ListVerified(ctx context.Context, filter storage.ListFilter) ([]*models.VerifiedIncident, error)
	ListOfficial(ctx context.Context, filter storage.ListFilter) ([]*models.OfficialIncident, error)
	Verify(ctx context.Context, actor models.Identity, req incident.VerifyRequest) (*models.VerifiedIncident, error)
	FileOfficial(ctx context.Context, actor models.Identity, verifiedID string, details models.CaseDetails) (*models.OfficialIncident, error)
	Export(ctx context.Context, actor models.Identity, filter storage.ListFilter, format string, w io.Writer) (incident.ExportResult, error)
}

// Response helpers
type errorResponse struct {
	Error errorBody `json:"error"`
}
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
type dataResponse struct {
	Data any `json:"data"`
}

const errCodeBadRequest = "BAD_REQUEST"

// Handler handles incident endpoints.
type Handler struct {
	svc    Service
	loc    *time.Location
	logger *zap.Logger
}

// NewHandler creates an incident handler. Date-only query values are read in loc.
func NewHandler(svc Service, loc *time.Location, logger *zap.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, loc: loc, logger: logger}
}

func (h *Handler) jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}}); err != nil {
		h.logger.Warn("json encode error", zap.Error(err))
	}
}

func (h *Handler) jsonData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(dataResponse{Data: data}); err != nil {
		h.logger.Warn("json encode error", zap.Error(err))
	}
}

// serviceError maps a domain error onto the response.
func (h *Handler) serviceError(w http.ResponseWriter, err error) {
	status, code, message := apperr.HTTPStatus(err)
	h.jsonError(w, status, code, message)
}

// VerifyRequest is the request body for POST /incidents/verified.
type VerifyRequest struct {
	DeviceID      string             `json:"device_id"`
	Timestamp     *time.Time         `json:"timestamp"`
	AlertLevel    *int               `json:"alert_level"`
	Peaks         models.SensorPeaks `json:"peaks"`
	Notes         string             `json:"notes"`
	AlertWindowID string             `json:"alert_window_id"`
}

// FileRequest is the request body for POST /incidents/official.
type FileRequest struct {
	VerifiedIncidentID string `json:"verified_incident_id"`
	models.CaseDetails
}

// ListPending handles GET /api/v1/incidents/pending.
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListPending(r.Context(), filter)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.jsonData(w, http.StatusOK, nonNil(items))
}

// ListVerified handles GET /api/v1/incidents/verified.
func (h *Handler) ListVerified(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListVerified(r.Context(), filter)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.jsonData(w, http.StatusOK, nonNil(items))
}

// ListOfficial handles GET /api/v1/incidents/official.
func (h *Handler) ListOfficial(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListOfficial(r.Context(), filter)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.jsonData(w, http.StatusOK, nonNil(items))
}

// Verify handles POST /api/v1/incidents/verified.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}

	vr := incident.VerifyRequest{
		DeviceID:      req.DeviceID,
		Peaks:         req.Peaks,
		Notes:         req.Notes,
		AlertWindowID: strings.TrimSpace(req.AlertWindowID),
	}
	if req.Timestamp != nil {
		vr.Timestamp = *req.Timestamp
	}
	if req.AlertLevel != nil {
		vr.AlertLevel = models.AlertLevel(*req.AlertLevel)
	}

	created, err := h.svc.Verify(r.Context(), middleware.GetIdentity(r.Context()), vr)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.jsonData(w, http.StatusCreated, created)
}

// FileOfficial handles POST /api/v1/incidents/official.
func (h *Handler) FileOfficial(w http.ResponseWriter, r *http.Request) {
	var req FileRequest
	if !h.decode(w, r, &req) {
		return
	}

	created, err := h.svc.FileOfficial(r.Context(), middleware.GetIdentity(r.Context()), strings.TrimSpace(req.VerifiedIncidentID), req.CaseDetails)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.jsonData(w, http.StatusCreated, created)
}

// Export handles GET /api/v1/incidents/official/export.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	res, err := h.svc.Export(r.Context(), middleware.GetIdentity(r.Context()), filter, r.URL.Query().Get("format"), &buf)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+res.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Record-Count", strconv.Itoa(res.Count))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Debug("export write failed", zap.Error(err))
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return false
	}
	return true
}

// parseFilter reads device, start, end and limit from the query string.
func (h *Handler) parseFilter(w http.ResponseWriter, r *http.Request) (storage.ListFilter, bool) {
	q := r.URL.Query()
	filter := storage.ListFilter{DeviceID: strings.TrimSpace(q.Get("device"))}

	var err error
	if s := q.Get("start"); s != "" {
		if filter.From, err = ParseDate(s, h.loc, false); err != nil {
			h.jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid start date (use RFC3339 or YYYY-MM-DD)")
			return filter, false
		}
	}
	if s := q.Get("end"); s != "" {
		if filter.To, err = ParseDate(s, h.loc, true); err != nil {
			h.jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid end date (use RFC3339 or YYYY-MM-DD)")
			return filter, false
		}
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.jsonError(w, http.StatusBadRequest, errCodeBadRequest, "limit must be a positive integer")
			return filter, false
		}
		filter.Limit = n
	}
	return filter, true
}

// ParseDate accepts RFC3339 or YYYY-MM-DD. A date-only endOfDay value
// covers the whole day in loc.
func ParseDate(s string, loc *time.Location, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return d.AddDate(0, 0, 1).Add(-time.Millisecond), nil
	}
	return d, nil
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
