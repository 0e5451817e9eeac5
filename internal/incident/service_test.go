package incident

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/firealarmweb/firealarm/internal/apperr"
	"github.com/firealarmweb/firealarm/internal/models"
	"github.com/firealarmweb/firealarm/internal/notifier"
	"github.com/firealarmweb/firealarm/internal/storage"
)

func setupTestDB(t *testing.T) *storage.SQLStorage {
	t.Helper()
	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate database: %v", err)
	}
	return store
}

func createUser(t *testing.T, store storage.Storage, username string, role models.Role) models.Identity {
	t.Helper()
	u := models.NewUser(username, username+"@example.com", role)
	u.ID = uuid.New().String()
	u.PasswordHash = "x"
	if err := store.Users().Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.Identity()
}

func insertWindow(t *testing.T, db *sql.DB, deviceID string, start time.Time, level models.AlertLevel) string {
	t.Helper()
	id := uuid.New().String()
	_, err := db.Exec(`
		INSERT INTO incident_alerts (id, device_id, window_start, last_seen, smoke_peak, temp_peak, alert_level)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, deviceID, start.UnixMilli(), start.Add(time.Minute).UnixMilli(), 410.0, 58.5, int(level),
	)
	if err != nil {
		t.Fatalf("insert window: %v", err)
	}
	return id
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifier.Event
	err    error
}

func (n *recordingNotifier) Dispatch(ctx context.Context, ev notifier.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestScenario_VerifyRemovesPending(t *testing.T) {
	store := setupTestDB(t)
	admin := createUser(t, store, "chief", models.RoleAdmin)
	ctx := context.Background()

	windowStart := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	windowID := insertWindow(t, store.DB(), "dev-1", windowStart, models.AlertLevelCritical)

	svc := NewService(store, WithClock(fixedClock(windowStart.Add(2*time.Hour))))

	pending, err := svc.ListPending(ctx, storage.ListFilter{})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != windowID {
		t.Fatalf("pending = %v, want window %s", pending, windowID)
	}
	if pending[0].Severity != "critical" {
		t.Errorf("severity = %q, want critical", pending[0].Severity)
	}

	v, err := svc.Verify(ctx, admin, VerifyRequest{
		DeviceID:   "dev-1",
		Timestamp:  windowStart.Add(20 * time.Minute),
		AlertLevel: models.AlertLevelCritical,
		Peaks:      pending[0].Readings.Peaks(),
		Notes:      "  confirmed by patrol  ",
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.VerifiedBy != admin.UserID || v.VerifiedByName != "chief" {
		t.Errorf("verifier = %s/%s", v.VerifiedBy, v.VerifiedByName)
	}
	if v.Notes != "confirmed by patrol" {
		t.Errorf("notes = %q, want trimmed", v.Notes)
	}
	if v.Peaks.Smoke != 410 {
		t.Errorf("smoke peak = %v, want 410", v.Peaks.Smoke)
	}

	pending, err = svc.ListPending(ctx, storage.ListFilter{})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending count = %d, want 0", len(pending))
	}

	verified, err := svc.ListVerified(ctx, storage.ListFilter{})
	if err != nil {
		t.Fatalf("list verified: %v", err)
	}
	if len(verified) != 1 {
		t.Errorf("verified count = %d, want 1", len(verified))
	}
}

func TestVerify_Authorization(t *testing.T) {
	tests := []struct {
		name  string
		actor models.Identity
		want  apperr.Kind
	}{
		{"anonymous", models.Identity{}, apperr.KindUnauthorized},
		{"regular user", models.Identity{UserID: "u-1", Username: "bob", Role: models.RoleUser}, apperr.KindForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{}
			svc := NewService(store)
			_, err := svc.Verify(context.Background(), tt.actor, VerifyRequest{
				DeviceID:   "dev-1",
				Timestamp:  time.Now(),
				AlertLevel: models.AlertLevelCritical,
			})
			if apperr.KindOf(err) != tt.want {
				t.Errorf("kind = %v, want %v", apperr.KindOf(err), tt.want)
			}
			if store.calls != 0 {
				t.Errorf("storage calls = %d, want 0", store.calls)
			}
		})
	}
}

func TestVerify_Validation(t *testing.T) {
	admin := models.Identity{UserID: "a-1", Username: "chief", Role: models.RoleAdmin}
	now := time.Now()

	tests := []struct {
		name string
		req  VerifyRequest
	}{
		{"missing device", VerifyRequest{Timestamp: now, AlertLevel: 3}},
		{"blank device", VerifyRequest{DeviceID: "   ", Timestamp: now, AlertLevel: 3}},
		{"missing timestamp", VerifyRequest{DeviceID: "dev-1", AlertLevel: 3}},
		{"missing level", VerifyRequest{DeviceID: "dev-1", Timestamp: now}},
		{"level below warning", VerifyRequest{DeviceID: "dev-1", Timestamp: now, AlertLevel: 1}},
		{"notes too long", VerifyRequest{DeviceID: "dev-1", Timestamp: now, AlertLevel: 2, Notes: strings.Repeat("n", maxNotesLength+1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{}
			_, err := NewService(store).Verify(context.Background(), admin, tt.req)
			if apperr.KindOf(err) != apperr.KindValidation {
				t.Errorf("kind = %v, want validation (err=%v)", apperr.KindOf(err), err)
			}
			if store.calls != 0 {
				t.Errorf("storage calls = %d, want 0", store.calls)
			}
		})
	}
}

func TestVerify_WindowLink(t *testing.T) {
	store := setupTestDB(t)
	admin := createUser(t, store, "chief", models.RoleAdmin)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	windowID := insertWindow(t, store.DB(), "dev-1", start, models.AlertLevelWarning)
	svc := NewService(store)

	req := VerifyRequest{DeviceID: "dev-1", Timestamp: start, AlertLevel: models.AlertLevelWarning}

	missing := req
	missing.AlertWindowID = "nope"
	if _, err := svc.Verify(ctx, admin, missing); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("missing window kind = %v, want not found", apperr.KindOf(err))
	}

	wrongDevice := req
	wrongDevice.DeviceID = "dev-2"
	wrongDevice.AlertWindowID = windowID
	if _, err := svc.Verify(ctx, admin, wrongDevice); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("wrong device kind = %v, want validation", apperr.KindOf(err))
	}

	linked := req
	linked.AlertWindowID = windowID
	v, err := svc.Verify(ctx, admin, linked)
	if err != nil {
		t.Fatalf("verify linked: %v", err)
	}
	if v.AlertWindowID != windowID {
		t.Errorf("alert_window_id = %q, want %q", v.AlertWindowID, windowID)
	}

	if _, err := svc.Verify(ctx, admin, linked); apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("second linked verify kind = %v, want conflict", apperr.KindOf(err))
	}

	// Without a link duplicates are accepted.
	if _, err := svc.Verify(ctx, admin, req); err != nil {
		t.Errorf("unlinked duplicate verify: %v", err)
	}
}

func TestVerify_NotificationFailureIsSwallowed(t *testing.T) {
	store := setupTestDB(t)
	admin := createUser(t, store, "chief", models.RoleAdmin)
	n := &recordingNotifier{err: errors.New("webhook down")}
	svc := NewService(store, WithNotifier(n))

	v, err := svc.Verify(context.Background(), admin, VerifyRequest{
		DeviceID:   "dev-1",
		Timestamp:  time.Now(),
		AlertLevel: models.AlertLevelCritical,
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	svc.Wait()

	if n.count() != 1 {
		t.Fatalf("notifications = %d, want 1", n.count())
	}
	if ev := n.events[0]; ev.Kind != notifier.EventVerified || ev.IncidentID != v.ID || ev.Actor != "chief" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestListPending_InvalidRange(t *testing.T) {
	store := &mockStore{}
	_, err := NewService(store).ListPending(context.Background(), storage.ListFilter{
		From: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("kind = %v, want validation", apperr.KindOf(err))
	}
	if store.calls != 0 {
		t.Error("storage should not be called")
	}
}

func TestListPending_StorageError(t *testing.T) {
	cause := errors.New("database is locked")
	store := &mockStore{windowsErr: cause}

	_, err := NewService(store).ListPending(context.Background(), storage.ListFilter{})
	if apperr.KindOf(err) != apperr.KindStorage {
		t.Errorf("kind = %v, want storage", apperr.KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Error("storage error should wrap cause")
	}
	if status, _, msg := apperr.HTTPStatus(err); status != 500 || strings.Contains(msg, "locked") {
		t.Errorf("client sees %d %q", status, msg)
	}
}

func TestListPending_PassesTolerance(t *testing.T) {
	store := &mockStore{}
	svc := NewService(store, WithTolerance(30*time.Minute))
	if _, err := svc.ListPending(context.Background(), storage.ListFilter{DeviceID: "dev-1"}); err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if store.lastTolerance != 30*time.Minute {
		t.Errorf("tolerance = %v, want 30m", store.lastTolerance)
	}
}

func verifyOne(t *testing.T, svc *Service, admin models.Identity, at time.Time) *models.VerifiedIncident {
	t.Helper()
	v, err := svc.Verify(context.Background(), admin, VerifyRequest{
		DeviceID:   "dev-1",
		Timestamp:  at,
		AlertLevel: models.AlertLevelCritical,
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	return v
}

func TestFileOfficial(t *testing.T) {
	store := setupTestDB(t)
	admin := createUser(t, store, "chief", models.RoleAdmin)
	clerk := createUser(t, store, "clerk", models.RoleAdmin)
	user := createUser(t, store, "bob", models.RoleUser)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(store, WithClock(fixedClock(now)))
	v := verifyOne(t, svc, admin, now.Add(-time.Hour))

	details := models.CaseDetails{
		IncidentType:    " structural ",
		City:            "Quezon City",
		EstimatedDamage: decimal.RequireFromString("5000.456"),
		Injuries:        1,
	}

	if _, err := svc.FileOfficial(ctx, user, v.ID, details); apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("non-admin kind = %v, want forbidden", apperr.KindOf(err))
	}
	if _, err := svc.FileOfficial(ctx, clerk, "missing", details); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("missing verified kind = %v, want not found", apperr.KindOf(err))
	}

	o, err := svc.FileOfficial(ctx, clerk, v.ID, details)
	if err != nil {
		t.Fatalf("file official: %v", err)
	}
	if o.DeviceID != v.DeviceID || !o.EventAt.Equal(v.EventAt) || o.AlertLevel != v.AlertLevel {
		t.Error("incident fields should be copied from the verified incident")
	}
	if o.VerifiedBy != admin.UserID || o.VerifiedByName != "chief" {
		t.Errorf("verified_by = %s/%s", o.VerifiedBy, o.VerifiedByName)
	}
	if o.GeneratedBy != clerk.UserID || o.GeneratedByName != "clerk" || !o.GeneratedAt.Equal(now) {
		t.Errorf("generated = %s/%s at %v", o.GeneratedBy, o.GeneratedByName, o.GeneratedAt)
	}
	if o.IncidentType != "structural" {
		t.Errorf("incident_type = %q, want trimmed", o.IncidentType)
	}
	if !o.EstimatedDamage.Equal(decimal.RequireFromString("5000.46")) {
		t.Errorf("estimated_damage = %s, want 5000.46", o.EstimatedDamage)
	}

	// Duplicate filings are allowed.
	if _, err := svc.FileOfficial(ctx, clerk, v.ID, details); err != nil {
		t.Errorf("duplicate filing: %v", err)
	}
	list, err := svc.ListOfficial(ctx, storage.ListFilter{})
	if err != nil {
		t.Fatalf("list official: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("official count = %d, want 2", len(list))
	}
}

func TestFileOfficial_Validation(t *testing.T) {
	admin := models.Identity{UserID: "a-1", Role: models.RoleAdmin}
	tests := []struct {
		name       string
		verifiedID string
		details    models.CaseDetails
	}{
		{"missing id", "", models.CaseDetails{IncidentType: "structural"}},
		{"missing type", "v-1", models.CaseDetails{}},
		{"negative damage", "v-1", models.CaseDetails{IncidentType: "x", EstimatedDamage: decimal.NewFromInt(-1)}},
		{"negative injuries", "v-1", models.CaseDetails{IncidentType: "x", Injuries: -1}},
		{"negative fatalities", "v-1", models.CaseDetails{IncidentType: "x", Fatalities: -2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{}
			_, err := NewService(store).FileOfficial(context.Background(), admin, tt.verifiedID, tt.details)
			if apperr.KindOf(err) != apperr.KindValidation {
				t.Errorf("kind = %v, want validation", apperr.KindOf(err))
			}
			if store.calls != 0 {
				t.Error("storage should not be called")
			}
		})
	}
}

func TestExport(t *testing.T) {
	store := setupTestDB(t)
	admin := createUser(t, store, "chief", models.RoleAdmin)
	viewer := createUser(t, store, "bob", models.RoleUser)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(store, WithClock(fixedClock(now)))

	var buf bytes.Buffer
	if _, err := svc.Export(ctx, viewer, storage.ListFilter{}, "csv", &buf); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("empty export kind = %v, want not found", apperr.KindOf(err))
	}
	if buf.Len() != 0 {
		t.Error("nothing should be written on error")
	}

	v := verifyOne(t, svc, admin, now.Add(-time.Hour))
	if _, err := svc.FileOfficial(ctx, admin, v.ID, models.CaseDetails{
		IncidentType: "structural",
		Remarks:      `He said, "it's faulty"`,
	}); err != nil {
		t.Fatalf("file official: %v", err)
	}

	if _, err := svc.Export(ctx, models.Identity{}, storage.ListFilter{}, "csv", &buf); apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Errorf("anonymous kind = %v, want unauthorized", apperr.KindOf(err))
	}
	if _, err := svc.Export(ctx, viewer, storage.ListFilter{}, "pdf", &buf); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("bad format kind = %v, want validation", apperr.KindOf(err))
	}

	res, err := svc.Export(ctx, viewer, storage.ListFilter{}, "csv", &buf)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Count != 1 || res.Filename != "official_incidents_20260301_120000.csv" {
		t.Errorf("result = %+v", res)
	}
	if res.ContentType != "text/csv; charset=utf-8" {
		t.Errorf("content type = %q", res.ContentType)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse export: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[1][13] != `He said, "it's faulty"` {
		t.Errorf("remarks = %q", records[1][13])
	}

	// Outside the range
	buf.Reset()
	_, err = svc.Export(ctx, viewer, storage.ListFilter{From: now.Add(time.Hour)}, "excel", &buf)
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("out of range kind = %v, want not found", apperr.KindOf(err))
	}
}
