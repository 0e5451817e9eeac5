// Package incident promotes alert windows to verified and official incidents.
package incident

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/firealarmweb/firealarm/internal/apperr"
	"github.com/firealarmweb/firealarm/internal/export"
	"github.com/firealarmweb/firealarm/internal/metrics"
	"github.com/firealarmweb/firealarm/internal/models"
	"github.com/firealarmweb/firealarm/internal/notifier"
	"github.com/firealarmweb/firealarm/internal/storage"
)

const (
	// DefaultTolerance is how far a verification may sit from a window start and still cover it.
	DefaultTolerance = time.Hour

	maxNotesLength = 2000
	notifyTimeout  = 30 * time.Second
)

// Notifier receives incident events. *notifier.Dispatcher satisfies it.
type Notifier interface {
	Dispatch(ctx context.Context, ev notifier.Event) error
}

// Service implements the incident workflow.
type Service struct {
	store     storage.Storage
	logger    *zap.Logger
	notifier  Notifier
	now       func() time.Time
	tolerance time.Duration
	exportLoc *time.Location

	wg sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithNotifier enables notifications on verify and file.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTolerance sets the correlation tolerance.
func WithTolerance(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.tolerance = d
		}
	}
}

// WithExportLocation sets the zone export timestamps are rendered in.
func WithExportLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.exportLoc = loc
		}
	}
}

// NewService creates an incident service.
func NewService(store storage.Storage, opts ...Option) *Service {
	s := &Service{
		store:     store,
		logger:    zap.NewNop(),
		now:       time.Now,
		tolerance: DefaultTolerance,
		exportLoc: time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VerifyRequest is an operator's confirmation of an alert.
type VerifyRequest struct {
	DeviceID      string
	Timestamp     time.Time
	AlertLevel    models.AlertLevel
	Peaks         models.SensorPeaks
	Notes         string
	AlertWindowID string
}

// ExportResult describes a finished export.
type ExportResult struct {
	Count       int
	Format      export.Format
	ContentType string
	Filename    string
}

// ListPending returns alert windows no verification covers yet, newest first.
func (s *Service) ListPending(ctx context.Context, filter storage.ListFilter) ([]*models.PendingIncident, error) {
	if err := validateRange(filter); err != nil {
		return nil, err
	}

	windows, err := s.store.AlertWindows().ListPending(ctx, filter, s.tolerance)
	if err != nil {
		return nil, s.storageErr("list pending incidents", err)
	}

	pending := make([]*models.PendingIncident, 0, len(windows))
	for _, w := range windows {
		pending = append(pending, models.NewPendingIncident(*w))
	}
	return pending, nil
}

// ListVerified returns verified incidents, most recently verified first.
func (s *Service) ListVerified(ctx context.Context, filter storage.ListFilter) ([]*models.VerifiedIncident, error) {
	if err := validateRange(filter); err != nil {
		return nil, err
	}

	incidents, err := s.store.VerifiedIncidents().List(ctx, filter)
	if err != nil {
		return nil, s.storageErr("list verified incidents", err)
	}
	if incidents == nil {
		incidents = []*models.VerifiedIncident{}
	}
	return incidents, nil
}

// ListOfficial returns filed incidents, newest event first.
func (s *Service) ListOfficial(ctx context.Context, filter storage.ListFilter) ([]*models.OfficialIncident, error) {
	if err := validateRange(filter); err != nil {
		return nil, err
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = storage.DefaultListLimit
	case filter.Limit > storage.MaxListLimit:
		filter.Limit = storage.MaxListLimit
	}

	incidents, err := s.store.OfficialIncidents().List(ctx, filter)
	if err != nil {
		return nil, s.storageErr("list official incidents", err)
	}
	if incidents == nil {
		incidents = []*models.OfficialIncident{}
	}
	return incidents, nil
}

// Verify records an operator's confirmation. Only admins may verify.
func (s *Service) Verify(ctx context.Context, actor models.Identity, req VerifyRequest) (*models.VerifiedIncident, error) {
	if err := requireAdmin(actor, "only admins can verify incidents"); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	deviceID := strings.TrimSpace(req.DeviceID)
	windowID := strings.TrimSpace(req.AlertWindowID)
	if windowID != "" {
		w, err := s.store.AlertWindows().GetByID(ctx, windowID)
		if err != nil {
			return nil, s.storageErr("get alert window", err)
		}
		if w == nil {
			return nil, apperr.NotFound("alert window not found")
		}
		if w.DeviceID != deviceID {
			return nil, apperr.Validation("alert window belongs to a different device")
		}
	}

	v := &models.VerifiedIncident{
		ID:            uuid.New().String(),
		DeviceID:      deviceID,
		EventAt:       req.Timestamp,
		AlertLevel:    req.AlertLevel,
		Peaks:         req.Peaks,
		Notes:         strings.TrimSpace(req.Notes),
		AlertWindowID: windowID,
		VerifiedBy:    actor.UserID,
		VerifiedAt:    s.now(),
	}

	if err := s.store.VerifiedIncidents().Create(ctx, v); err != nil {
		if errors.Is(err, storage.ErrDuplicateWindow) {
			return nil, apperr.Conflict("alert window already verified")
		}
		return nil, s.storageErr("create verified incident", err)
	}
	metrics.IncidentsVerified.Inc()

	created, err := s.store.VerifiedIncidents().GetByID(ctx, v.ID)
	if err != nil {
		return nil, s.storageErr("get verified incident", err)
	}
	if created == nil {
		created = v
		created.VerifiedByName = actor.Username
	}

	s.logger.Info("incident verified",
		zap.String("incident_id", created.ID),
		zap.String("device_id", created.DeviceID),
		zap.Int("alert_level", int(created.AlertLevel)),
		zap.String("verified_by", actor.UserID),
	)

	s.notify(ctx, notifier.Event{
		Kind:       notifier.EventVerified,
		IncidentID: created.ID,
		DeviceID:   created.DeviceID,
		AlertLevel: created.AlertLevel,
		EventAt:    created.EventAt,
		Actor:      actor.Username,
		Notes:      created.Notes,
	})

	return created, nil
}

// FileOfficial files an official case for a verified incident. Only admins may file.
// Filing the same verified incident twice is allowed.
func (s *Service) FileOfficial(ctx context.Context, actor models.Identity, verifiedID string, details models.CaseDetails) (*models.OfficialIncident, error) {
	if err := requireAdmin(actor, "only admins can file official incidents"); err != nil {
		return nil, err
	}
	verifiedID = strings.TrimSpace(verifiedID)
	if verifiedID == "" {
		return nil, apperr.Validation("verified incident id is required")
	}
	details, err := normalizeDetails(details)
	if err != nil {
		return nil, err
	}

	v, err := s.store.VerifiedIncidents().GetByID(ctx, verifiedID)
	if err != nil {
		return nil, s.storageErr("get verified incident", err)
	}
	if v == nil {
		return nil, apperr.NotFound("verified incident not found")
	}

	o := &models.OfficialIncident{
		ID:                 uuid.New().String(),
		VerifiedIncidentID: v.ID,
		DeviceID:           v.DeviceID,
		EventAt:            v.EventAt,
		AlertLevel:         v.AlertLevel,
		CaseDetails:        details,
		VerifiedBy:         v.VerifiedBy,
		VerifiedByName:     v.VerifiedByName,
		VerifiedAt:         v.VerifiedAt,
		GeneratedBy:        actor.UserID,
		GeneratedByName:    actor.Username,
		GeneratedAt:        s.now(),
	}

	if err := s.store.OfficialIncidents().Create(ctx, o); err != nil {
		return nil, s.storageErr("create official incident", err)
	}
	metrics.IncidentsFiled.Inc()

	created, err := s.store.OfficialIncidents().GetByID(ctx, o.ID)
	if err != nil {
		return nil, s.storageErr("get official incident", err)
	}
	if created == nil {
		created = o
	}

	s.logger.Info("official incident filed",
		zap.String("incident_id", created.ID),
		zap.String("verified_incident_id", created.VerifiedIncidentID),
		zap.String("incident_type", created.IncidentType),
		zap.String("generated_by", actor.UserID),
	)

	s.notify(ctx, notifier.Event{
		Kind:         notifier.EventFiled,
		IncidentID:   created.ID,
		DeviceID:     created.DeviceID,
		AlertLevel:   created.AlertLevel,
		EventAt:      created.EventAt,
		Actor:        actor.Username,
		Notes:        created.Remarks,
		IncidentType: created.IncidentType,
	})

	return created, nil
}

// Export writes every official incident matching filter to w.
// Nothing is written when an error is returned.
func (s *Service) Export(ctx context.Context, actor models.Identity, filter storage.ListFilter, format string, w io.Writer) (ExportResult, error) {
	if !actor.Authenticated() {
		return ExportResult{}, apperr.Unauthorized("authentication required")
	}
	f, ok := export.ParseFormat(strings.ToLower(strings.TrimSpace(format)))
	if !ok {
		return ExportResult{}, apperr.Validation("invalid format: use 'csv' or 'excel'")
	}
	if err := validateRange(filter); err != nil {
		return ExportResult{}, err
	}

	filter.Limit = 0
	incidents, err := s.store.OfficialIncidents().List(ctx, filter)
	if err != nil {
		return ExportResult{}, s.storageErr("list official incidents for export", err)
	}
	if len(incidents) == 0 {
		return ExportResult{}, apperr.NotFound("no records")
	}

	var buf bytes.Buffer
	if err := export.NewWriter(f, s.exportLoc, &buf).WriteOfficial(incidents); err != nil {
		return ExportResult{}, apperr.Storage("encode export", err)
	}
	if _, err := buf.WriteTo(w); err != nil {
		return ExportResult{}, apperr.Storage("write export", err)
	}
	metrics.IncidentsExportedRows.Add(float64(len(incidents)))

	s.logger.Info("official incidents exported",
		zap.Int("count", len(incidents)),
		zap.String("format", string(f)),
		zap.String("user_id", actor.UserID),
	)

	return ExportResult{
		Count:       len(incidents),
		Format:      f,
		ContentType: f.ContentType(),
		Filename:    export.Filename(f, s.now(), s.exportLoc),
	}, nil
}

// Wait blocks until in-flight notifications finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// notify dispatches in the background. Failures are logged only.
func (s *Service) notify(ctx context.Context, ev notifier.Event) {
	if s.notifier == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.notifier.Dispatch(nctx, ev); err != nil {
			s.logger.Warn("incident notification failed",
				zap.String("kind", string(ev.Kind)),
				zap.String("incident_id", ev.IncidentID),
				zap.Error(err),
			)
		}
	}()
}

func (s *Service) storageErr(op string, err error) error {
	s.logger.Error("storage failure", zap.String("op", op), zap.Error(err))
	return apperr.Storage(op, err)
}

func requireAdmin(actor models.Identity, msg string) error {
	if !actor.Authenticated() {
		return apperr.Unauthorized("authentication required")
	}
	if !actor.IsAdmin() {
		return apperr.Forbidden(msg)
	}
	return nil
}

func validateRange(f storage.ListFilter) error {
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return apperr.Validation("start date must be before end date")
	}
	return nil
}

func (r VerifyRequest) validate() error {
	if strings.TrimSpace(r.DeviceID) == "" {
		return apperr.Validation("device_id is required")
	}
	if r.Timestamp.IsZero() {
		return apperr.Validation("timestamp is required")
	}
	if r.AlertLevel == 0 {
		return apperr.Validation("alert_level is required")
	}
	if !r.AlertLevel.IsIncident() {
		return apperr.Validation("alert_level must be 2 or higher")
	}
	if len([]rune(r.Notes)) > maxNotesLength {
		return apperr.Validation("notes are too long")
	}
	return nil
}

func normalizeDetails(d models.CaseDetails) (models.CaseDetails, error) {
	d.IncidentType = strings.TrimSpace(d.IncidentType)
	d.EstablishmentType = strings.TrimSpace(d.EstablishmentType)
	d.ProbableCause = strings.TrimSpace(d.ProbableCause)
	d.Barangay = strings.TrimSpace(d.Barangay)
	d.City = strings.TrimSpace(d.City)
	d.Remarks = strings.TrimSpace(d.Remarks)

	switch {
	case d.IncidentType == "":
		return d, apperr.Validation("incident_type is required")
	case d.EstimatedDamage.IsNegative():
		return d, apperr.Validation("estimated_damage must not be negative")
	case d.Injuries < 0:
		return d, apperr.Validation("injuries must not be negative")
	case d.Fatalities < 0:
		return d, apperr.Validation("fatalities must not be negative")
	}
	d.EstimatedDamage = d.EstimatedDamage.Round(2)
	return d, nil
}
