package middleware

import (
	"net/http"

	"github.com/gorilla/csrf"
	"go.uber.org/zap"
)

// CSRFConfig configures cookie-session CSRF protection.
type CSRFConfig struct {
	Key            []byte
	Secure         bool
	TrustedOrigins []string
	Logger         *zap.Logger
}

// CSRF protects cookie-authenticated requests with gorilla/csrf.
// Bearer-authenticated requests carry no ambient credentials and skip it.
// Must run after JWTOrSessionAuth.
func CSRF(cfg CSRFConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	failure := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Warn("csrf validation failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(csrf.FailureReason(r)),
		)
		writeError(w, http.StatusForbidden, "CSRF_FAILED", "invalid or missing CSRF token")
	})

	protect := csrf.Protect(cfg.Key,
		csrf.Secure(cfg.Secure),
		csrf.Path("/"),
		csrf.HttpOnly(true),
		csrf.SameSite(csrf.SameSiteStrictMode),
		csrf.TrustedOrigins(cfg.TrustedOrigins),
		csrf.ErrorHandler(failure),
	)

	return func(next http.Handler) http.Handler {
		protected := protect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetAuthMethod(r.Context()) == AuthBearer {
				next.ServeHTTP(w, r)
				return
			}
			if !cfg.Secure && !IsRequestSecure(r) {
				r = csrf.PlaintextHTTPRequest(r)
			}
			protected.ServeHTTP(w, r)
		})
	}
}
