package users

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/firealarmweb/firealarm/internal/api/auth"
	"github.com/firealarmweb/firealarm/internal/api/middleware"
	"github.com/firealarmweb/firealarm/internal/models"
)

const maxRequestBody = 16 << 10

// Repository is the subset of storage.UserRepository the handler needs.
type Repository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	List(ctx context.Context) ([]*models.User, error)
}

// Response helpers (local to avoid import cycle)

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
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeUnauthorized     = "UNAUTHORIZED"
	errCodeNotFound         = "NOT_FOUND"
	errCodeConflict         = "CONFLICT"
	errCodeInternalError    = "INTERNAL_ERROR"
)

// UserResponse is a user without sensitive fields.
type UserResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func userToResponse(u *models.User) *UserResponse {
	return &UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: u.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// Handler handles user management endpoints.
type Handler struct {
	users  Repository
	logger *zap.Logger
}

// NewHandler creates a new user handler.
func NewHandler(users Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{users: users, logger: logger}
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

func (h *Handler) internal(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, zap.Error(err))
	h.jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
}

// CreateRequest is the request body for creating a user.
type CreateRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// ChangePasswordRequest is the request body for changing password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// List returns all users (admin only).
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		h.internal(w, "list users", err)
		return
	}

	resp := make([]*UserResponse, len(users))
	for i, u := range users {
		resp[i] = userToResponse(u)
	}
	h.jsonData(w, http.StatusOK, resp)
}

// Create creates a new user (admin only).
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if err := ValidateUsername(req.Username); err != nil {
		h.jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	if err := ValidateEmail(req.Email); err != nil {
		h.jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	role, err := ValidateRole(req.Role)
	if err != nil {
		h.jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		var pv *auth.PasswordValidationError
		if errors.As(err, &pv) {
			h.jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
			return
		}
		h.internal(w, "hash password", err)
		return
	}

	ctx := r.Context()
	if existing, err := h.users.GetByUsername(ctx, req.Username); err != nil {
		h.internal(w, "lookup username", err)
		return
	} else if existing != nil {
		h.jsonError(w, http.StatusConflict, errCodeConflict, "username already exists")
		return
	}
	if existing, err := h.users.GetByEmail(ctx, req.Email); err != nil {
		h.internal(w, "lookup email", err)
		return
	} else if existing != nil {
		h.jsonError(w, http.StatusConflict, errCodeConflict, "email already exists")
		return
	}

	user := models.NewUser(req.Username, req.Email, role)
	user.ID = uuid.New().String()
	user.PasswordHash = hash
	if err := h.users.Create(ctx, user); err != nil {
		h.internal(w, "create user", err)
		return
	}

	h.logger.Info("user created",
		zap.String("user_id", user.ID),
		zap.String("username", user.Username),
		zap.String("role", string(role)),
		zap.String("by", middleware.GetUserID(ctx)),
	)
	h.jsonData(w, http.StatusCreated, userToResponse(user))
}

// GetCurrentUser returns the caller's profile.
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	h.jsonData(w, http.StatusOK, userToResponse(user))
}

// ChangePassword replaces the caller's password after checking the current one.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		h.jsonError(w, http.StatusUnauthorized, errCodeUnauthorized, "current password is incorrect")
		return
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		var pv *auth.PasswordValidationError
		if errors.As(err, &pv) {
			h.jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
			return
		}
		h.internal(w, "hash password", err)
		return
	}
	if err := h.users.UpdatePassword(r.Context(), user.ID, hash); err != nil {
		h.internal(w, "update password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	id := middleware.GetUserID(r.Context())
	if id == "" {
		h.jsonError(w, http.StatusUnauthorized, errCodeUnauthorized, "authentication required")
		return nil, false
	}
	user, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		h.internal(w, "get user", err)
		return nil, false
	}
	if user == nil {
		h.jsonError(w, http.StatusNotFound, errCodeNotFound, "user not found")
		return nil, false
	}
	return user, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(v); err != nil {
		h.jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return false
	}
	return true
}
