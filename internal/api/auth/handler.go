package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/csrf"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/firealarmweb/firealarm/internal/api/middleware"
	"github.com/firealarmweb/firealarm/internal/metrics"
	"github.com/firealarmweb/firealarm/internal/models"
	"github.com/firealarmweb/firealarm/internal/web/session"
)

// UserFinder looks users up by login name.
type UserFinder interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// SessionStore creates and drops browser sessions.
type SessionStore interface {
	Create(id models.Identity) (*session.Session, error)
	Delete(id string)
	TTL() time.Duration
}

// Handler handles authentication endpoints.
type Handler struct {
	users         UserFinder
	jwtService    *JWTService
	sessions      SessionStore
	lockout       *LockoutTracker
	secureCookies bool
	logger        *zap.Logger
}

// HandlerConfig holds the optional parts of a Handler.
type HandlerConfig struct {
	SecureCookies bool
	Logger        *zap.Logger
}

// NewHandler creates a new auth handler. lockout may be nil.
func NewHandler(users UserFinder, jwt *JWTService, sessions SessionStore, lockout *LockoutTracker, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		users:         users,
		jwtService:    jwt,
		sessions:      sessions,
		lockout:       lockout,
		secureCookies: cfg.SecureCookies,
		logger:        logger,
	}
}

// Response helpers (local to avoid import cycle with api package)

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

func (h *Handler) jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}}); err != nil {
		h.logger.Warn("json encode error", zap.Error(err))
	}
}

func (h *Handler) jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(dataResponse{Data: data}); err != nil {
		h.logger.Warn("json encode error", zap.Error(err))
	}
}

// Error codes
const (
	errCodeBadRequest    = "BAD_REQUEST"
	errCodeUnauthorized  = "UNAUTHORIZED"
	errCodeAccountLocked = "ACCOUNT_LOCKED"
	errCodeInternalError = "INTERNAL_ERROR"
)

// LoginRequest is the request body for login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   int             `json:"expires_in"`
	TokenType   string          `json:"token_type"`
	User        models.Identity `json:"user"`
}

// CSRFResponse carries the token cookie-authenticated clients echo back.
type CSRFResponse struct {
	Token string `json:"csrf_token"`
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// burnCompare spends a bcrypt comparison so unknown usernames take as long as bad passwords.
func burnCompare(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("firealarm-dummy-password"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		h.jsonError(w, http.StatusBadRequest, errCodeBadRequest, "username and password required")
		return
	}

	if h.lockout != nil && h.lockout.IsLocked(req.Username) {
		metrics.AuthAttemptsTotal.WithLabelValues("locked").Inc()
		h.logger.Warn("login blocked: account locked",
			zap.String("username", req.Username),
			zap.Duration("remaining", h.lockout.Remaining(req.Username)),
		)
		h.jsonError(w, http.StatusTooManyRequests, errCodeAccountLocked, "account temporarily locked due to too many failed attempts")
		return
	}

	ctx := r.Context()
	user, err := h.users.GetByUsername(ctx, req.Username)
	if err != nil {
		h.logger.Error("login error: get user", zap.Error(err))
		h.jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	if user == nil {
		burnCompare(req.Password)
		h.loginFailed(w, req.Username, "unknown user")
		return
	}
	if !CheckPassword(user.PasswordHash, req.Password) {
		h.loginFailed(w, req.Username, "invalid password")
		return
	}

	if h.lockout != nil {
		h.lockout.ClearFailures(req.Username)
	}

	id := user.Identity()
	accessToken, err := h.jwtService.GenerateToken(id)
	if err != nil {
		h.logger.Error("login error: generate access token", zap.Error(err))
		h.jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	metrics.AuthTokensIssued.WithLabelValues("access").Inc()

	sess, err := h.sessions.Create(id)
	if err != nil {
		h.logger.Error("login error: create session", zap.Error(err))
		h.jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	metrics.AuthTokensIssued.WithLabelValues("session").Inc()
	h.setSessionCookie(w, sess.ID, int(h.sessions.TTL().Seconds()))

	metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()
	h.logger.Info("login success", zap.String("username", user.Username), zap.String("user_id", user.ID))

	h.jsonOK(w, &LoginResponse{
		AccessToken: accessToken,
		ExpiresIn:   h.jwtService.TTLSeconds(),
		TokenType:   "Bearer",
		User:        id,
	})
}

func (h *Handler) loginFailed(w http.ResponseWriter, username, reason string) {
	locked := false
	if h.lockout != nil {
		locked = h.lockout.RecordFailure(username)
	}
	metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
	h.logger.Info("login failed",
		zap.String("username", username),
		zap.String("reason", reason),
		zap.Bool("locked", locked),
	)
	h.jsonError(w, http.StatusUnauthorized, errCodeUnauthorized, "invalid credentials")
}

// Session handles GET /api/v1/auth/session.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())
	if !id.Authenticated() {
		h.jsonError(w, http.StatusUnauthorized, errCodeUnauthorized, "authentication required")
		return
	}
	h.jsonOK(w, id)
}

// Logout handles POST /api/v1/auth/logout. Bearer tokens stay valid until they expire.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		h.sessions.Delete(cookie.Value)
	}
	h.setSessionCookie(w, "", -1)

	h.logger.Info("logout", zap.String("user_id", middleware.GetUserID(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}

// CSRFToken handles GET /api/v1/auth/csrf.
func (h *Handler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	token := csrf.Token(r)
	w.Header().Set("X-CSRF-Token", token)
	h.jsonOK(w, CSRFResponse{Token: token})
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
