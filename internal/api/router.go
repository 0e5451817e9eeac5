package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/firealarmweb/firealarm/internal/api/auth"
	"github.com/firealarmweb/firealarm/internal/api/incidents"
	"github.com/firealarmweb/firealarm/internal/api/messages"
	"github.com/firealarmweb/firealarm/internal/api/middleware"
	"github.com/firealarmweb/firealarm/internal/api/users"
	"github.com/firealarmweb/firealarm/internal/chat"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestLogger(s.logger, s.config.Verbose))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer(s.logger))
	r.Use(middleware.PrometheusMiddleware)

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	requireAuth := middleware.JWTOrSessionAuth(s.jwt, s.sessions, s.logger)
	csrf := middleware.CSRF(middleware.CSRFConfig{
		Key:            s.config.CSRFKey,
		Secure:         s.config.UseSecureCookies,
		TrustedOrigins: s.config.TrustedOrigins,
		Logger:         s.logger,
	})

	authHandler := auth.NewHandler(s.deps.Storage.Users(), s.jwt, s.sessions, s.lockout, auth.HandlerConfig{
		SecureCookies: s.config.UseSecureCookies,
		Logger:        s.logger,
	})
	userHandler := users.NewHandler(s.deps.Storage.Users(), s.logger)
	incidentHandler := incidents.NewHandler(s.deps.Incidents, s.config.ExportLocation, s.logger)
	messageHandler := messages.NewHandler(s.deps.Chat, s.deps.Hub, chat.StreamOptions{
		Heartbeat:   s.config.StreamHeartbeat,
		RetryMillis: s.config.StreamRetryMs,
		Logger:      s.logger,
	}, s.logger)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			// Public, IP rate limited
			r.With(middleware.RateLimitByIP(s.ipLimiter)).Post("/login", authHandler.Login)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth, csrf)
				r.Get("/session", authHandler.Session)
				r.Post("/logout", authHandler.Logout)
				r.Get("/csrf", authHandler.CSRFToken)
			})
		})

		// Everything below requires an identity.
		r.Group(func(r chi.Router) {
			r.Use(requireAuth, csrf)
			limited := middleware.RateLimitByUser(s.userLimiter)

			r.Route("/incidents", func(r chi.Router) {
				r.Use(limited)
				r.Get("/pending", incidentHandler.ListPending)
				r.Get("/verified", incidentHandler.ListVerified)
				r.Get("/official", incidentHandler.ListOfficial)
				r.Get("/official/export", incidentHandler.Export)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireAdmin)
					r.Post("/verified", incidentHandler.Verify)
					r.Post("/official", incidentHandler.FileOfficial)
				})
			})

			r.Route("/messages", func(r chi.Router) {
				// Lives as long as the connection; not rate limited.
				r.Get("/stream", messageHandler.Stream)

				r.Group(func(r chi.Router) {
					r.Use(limited)
					r.Get("/", messageHandler.List)
					r.Post("/", messageHandler.Send)
					r.Post("/typing", messageHandler.Typing)
					r.Get("/online", messageHandler.Online)
					r.Delete("/{id}", messageHandler.Delete)
				})
			})

			r.Route("/users", func(r chi.Router) {
				r.Use(limited)
				r.Get("/me", userHandler.GetCurrentUser)
				r.Put("/me/password", userHandler.ChangePassword)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireAdmin)
					r.Get("/", userHandler.List)
					r.Post("/", userHandler.Create)
				})
			})
		})
	})

	// Health checks (public, no rate limit)
	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)

	return r
}
