// Package messages serves the responder chat over HTTP.
package messages

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/firealarmweb/firealarm/internal/api/middleware"
	"github.com/firealarmweb/firealarm/internal/apperr"
	"github.com/firealarmweb/firealarm/internal/chat"
	"github.com/firealarmweb/firealarm/internal/models"
)

const maxRequestBody = 16 << 10

// Service is the chat workflow. *chat.Service satisfies it.
type Service interface {
	Send(ctx context.Context, actor models.Identity, body string, kind string) (*models.Message, error)
	List(ctx context.Context, viewer models.Identity, page, limit int) ([]*models.Message, error)
	Typing(actor models.Identity, isTyping bool) error
	Delete(ctx context.Context, messageID string, requester models.Identity) error
	Online() chat.OnlineUsers
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

const (
	errCodeBadRequest    = "BAD_REQUEST"
	errCodeInternalError = "INTERNAL_ERROR"
)

// Handler handles chat endpoints.
type Handler struct {
	svc    Service
	hub    *chat.Hub
	stream chat.StreamOptions
	logger *zap.Logger
}

// NewHandler creates a chat handler streaming from hub.
func NewHandler(svc Service, hub *chat.Hub, stream chat.StreamOptions, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stream.Logger == nil {
		stream.Logger = logger
	}
	return &Handler{svc: svc, hub: hub, stream: stream, logger: logger}
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

func (h *Handler) serviceError(w http.ResponseWriter, err error) {
	status, code, message := apperr.HTTPStatus(err)
	h.jsonError(w, status, code, message)
}

// SendRequest is the request body for POST /messages.
type SendRequest struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// TypingRequest is the request body for POST /messages/typing.
type TypingRequest struct {
	IsTyping bool `json:"isTyping"`
}

// List handles GET /api/v1/messages.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, ok := h.intParam(w, q.Get("page"), "page")
	if !ok {
		return
	}
	limit, ok := h.intParam(w, q.Get("limit"), "limit")
	if !ok {
		return
	}

	msgs, err := h.svc.List(r.Context(), middleware.GetIdentity(r.Context()), page, limit)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	h.jsonData(w, http.StatusOK, msgs)
}

// Send handles POST /api/v1/messages.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !h.decode(w, r, &req) {
		return
	}

	msg, err := h.svc.Send(r.Context(), middleware.GetIdentity(r.Context()), req.Message, req.Type)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.jsonData(w, http.StatusCreated, msg)
}

// Typing handles POST /api/v1/messages/typing.
func (h *Handler) Typing(w http.ResponseWriter, r *http.Request) {
	var req TypingRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.Typing(middleware.GetIdentity(r.Context()), req.IsTyping); err != nil {
		h.serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/v1/messages/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.jsonError(w, http.StatusBadRequest, errCodeBadRequest, "message id required")
		return
	}
	if err := h.svc.Delete(r.Context(), id, middleware.GetIdentity(r.Context())); err != nil {
		h.serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Online handles GET /api/v1/messages/online.
func (h *Handler) Online(w http.ResponseWriter, r *http.Request) {
	h.jsonData(w, http.StatusOK, h.svc.Online())
}

// Stream handles GET /api/v1/messages/stream.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	err := chat.Stream(w, r, h.hub, middleware.GetIdentity(r.Context()), h.stream)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrStreamingUnsupported):
		h.jsonError(w, http.StatusInternalServerError, errCodeInternalError, "streaming not supported")
	default:
		h.serviceError(w, err)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(v); err != nil {
		h.jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return false
	}
	return true
}

// intParam parses an optional non-negative integer; empty means zero.
func (h *Handler) intParam(w http.ResponseWriter, s, name string) (int, bool) {
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		h.jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid "+name)
		return 0, false
	}
	return n, true
}
