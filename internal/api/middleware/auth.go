package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/firealarmweb/firealarm/internal/models"
	"github.com/firealarmweb/firealarm/internal/web/session"
)

// SessionCookieName is the cookie carrying the browser session ID.
const SessionCookieName = "session_id"

// Context keys for storing user information.
type contextKey string

const (
	identityKey   contextKey = "identity"
	authMethodKey contextKey = "auth_method"
	requestIDKey  contextKey = "request_id"
)

// AuthMethod records how a request was authenticated.
type AuthMethod string

const (
	AuthNone    AuthMethod = ""
	AuthBearer  AuthMethod = "bearer"
	AuthSession AuthMethod = "session"
)

// TokenValidator turns a bearer token into an identity.
type TokenValidator interface {
	ValidateIdentity(token string) (models.Identity, error)
}

// SessionLookup resolves a session ID.
type SessionLookup interface {
	Get(id string) (*session.Session, bool)
}

// jsonUnauthorized writes an unauthorized error response.
func jsonUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
}

// jsonForbidden writes a forbidden error response.
func jsonForbidden(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, "FORBIDDEN", "access denied")
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// JWTOrSessionAuth returns middleware that validates JWT tokens or session cookies.
// API clients send a Bearer token; browsers fall back to the session cookie.
func JWTOrSessionAuth(tokens TokenValidator, sessions SessionLookup, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Try JWT first
			if token, ok := bearerToken(r); ok {
				id, err := tokens.ValidateIdentity(token)
				if err == nil {
					ctx := WithUserContext(r.Context(), id, AuthBearer)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
				logger.Debug("jwt validation failed",
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
			}

			// Try session cookie as fallback
			if sessions != nil {
				cookie, err := r.Cookie(SessionCookieName)
				if err == nil && cookie.Value != "" {
					if sess, ok := sessions.Get(cookie.Value); ok {
						ctx := WithUserContext(r.Context(), sess.Identity(), AuthSession)
						next.ServeHTTP(w, r.WithContext(ctx))
						return
					}
					logger.Debug("session not found or expired", zap.String("remote_addr", r.RemoteAddr))
				}
			}

			jsonUnauthorized(w)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// WithUserContext stores the caller identity and how it was established.
func WithUserContext(ctx context.Context, id models.Identity, method AuthMethod) context.Context {
	ctx = context.WithValue(ctx, identityKey, id)
	return context.WithValue(ctx, authMethodKey, method)
}

// GetIdentity returns the caller identity from context.
// The zero Identity is returned for anonymous requests.
func GetIdentity(ctx context.Context) models.Identity {
	if v, ok := ctx.Value(identityKey).(models.Identity); ok {
		return v
	}
	return models.Identity{}
}

// GetUserID returns the user ID from context.
func GetUserID(ctx context.Context) string {
	return GetIdentity(ctx).UserID
}

// GetRole returns the user role from context.
func GetRole(ctx context.Context) models.Role {
	return GetIdentity(ctx).Role
}

// GetAuthMethod returns how the request was authenticated.
func GetAuthMethod(ctx context.Context) AuthMethod {
	if v, ok := ctx.Value(authMethodKey).(AuthMethod); ok {
		return v
	}
	return AuthNone
}
