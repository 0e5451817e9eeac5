// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/firealarmweb/firealarm/internal/api/auth"
	"github.com/firealarmweb/firealarm/internal/api/health"
	"github.com/firealarmweb/firealarm/internal/api/middleware"
	"github.com/firealarmweb/firealarm/internal/chat"
	"github.com/firealarmweb/firealarm/internal/incident"
	"github.com/firealarmweb/firealarm/internal/storage"
	"github.com/firealarmweb/firealarm/internal/web/session"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address          string
	JWTSecret        []byte
	CSRFKey          []byte   // 32-byte key for cookie-authenticated mutations
	TrustedOrigins   []string // extra origins allowed by CSRF (e.g. "app.example.com")
	UseSecureCookies bool
	AccessTokenTTL   time.Duration
	SessionTTL       time.Duration
	RateLimitPerIP   int // login attempts per minute
	RateLimitPerUser int // requests per minute
	LockoutThreshold int
	LockoutDuration  time.Duration
	StreamHeartbeat  time.Duration
	StreamRetryMs    int
	ExportLocation   *time.Location
	Verbose          bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = 15 * time.Minute
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = session.DefaultTTL
	}
	if c.RateLimitPerIP == 0 {
		c.RateLimitPerIP = 10
	}
	if c.RateLimitPerUser == 0 {
		c.RateLimitPerUser = 300
	}
	if c.LockoutThreshold == 0 {
		c.LockoutThreshold = 5
	}
	if c.LockoutDuration == 0 {
		c.LockoutDuration = 15 * time.Minute
	}
	if c.StreamHeartbeat == 0 {
		c.StreamHeartbeat = chat.DefaultHeartbeat
	}
	if c.StreamRetryMs == 0 {
		c.StreamRetryMs = chat.DefaultRetryMillis
	}
	if c.ExportLocation == nil {
		c.ExportLocation = time.UTC
	}
}

// Deps are the services the API serves.
type Deps struct {
	Storage   storage.Storage
	Incidents *incident.Service
	Chat      *chat.Service
	Hub       *chat.Hub
	Logger    *zap.Logger
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	deps          Deps
	logger        *zap.Logger
	jwt           *auth.JWTService
	sessions      *session.Store
	lockout       *auth.LockoutTracker
	ipLimiter     *middleware.RateLimiter
	userLimiter   *middleware.RateLimiter
	healthHandler *health.Handler
	handler       http.Handler
	server        *http.Server
}

// New creates a new API server.
func New(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if deps.Incidents == nil || deps.Chat == nil || deps.Hub == nil {
		return nil, fmt.Errorf("incident and chat services are required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("JWT secret is required")
	}
	if len(cfg.CSRFKey) != 32 {
		return nil, fmt.Errorf("CSRF key must be 32 bytes, got %d", len(cfg.CSRFKey))
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	cfg.SetDefaults()

	s := &Server{
		config:        cfg,
		deps:          deps,
		logger:        deps.Logger,
		jwt:           auth.NewJWTService(cfg.JWTSecret, cfg.AccessTokenTTL),
		sessions:      session.NewStore(cfg.SessionTTL),
		lockout:       auth.NewLockoutTracker(cfg.LockoutThreshold, cfg.LockoutDuration),
		ipLimiter:     middleware.NewRateLimiter(cfg.RateLimitPerIP),
		userLimiter:   middleware.NewRateLimiter(cfg.RateLimitPerUser),
		healthHandler: health.NewHandler(deps.Logger),
	}
	s.healthHandler.RegisterChecker(health.NewDBChecker("database", deps.Storage.DB()))
	s.handler = s.setupRouter()

	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// WriteTimeout stays 0: message streams are long-lived.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Sessions returns the browser session store.
func (s *Server) Sessions() *session.Store {
	return s.sessions
}

// Run starts the HTTP server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP API listening", zap.String("address", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP API server")
		// Streams only end when their connection goes; close the hub first
		// so Shutdown does not wait on them.
		s.deps.Hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := s.server.Shutdown(shutdownCtx)
		s.Close()
		return err
	case err := <-errChan:
		s.Close()
		return err
	}
}

// Close stops background cleanup goroutines.
func (s *Server) Close() {
	s.sessions.Close()
	s.lockout.Close()
	s.ipLimiter.Close()
	s.userLimiter.Close()
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a readiness checker.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	s.healthHandler.RegisterChecker(c)
}
