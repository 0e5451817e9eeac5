package incident

import (
	"context"
	"database/sql"
	"time"

	"github.com/firealarmweb/firealarm/internal/models"
	"github.com/firealarmweb/firealarm/internal/storage"
)

// mockStore counts repository calls and returns canned errors.
type mockStore struct {
	calls         int
	windowsErr    error
	lastTolerance time.Duration
}

func (m *mockStore) Open() error            { return nil }
func (m *mockStore) Close() error           { return nil }
func (m *mockStore) Migrate() error         { return nil }
func (m *mockStore) EnsureAdminUser() error { return nil }
func (m *mockStore) DB() *sql.DB            { return nil }

func (m *mockStore) Users() storage.UserRepository { return nil }
func (m *mockStore) AlertWindows() storage.AlertWindowRepository {
	m.calls++
	return mockWindows{m}
}
func (m *mockStore) VerifiedIncidents() storage.VerifiedIncidentRepository {
	m.calls++
	return mockVerified{m}
}
func (m *mockStore) OfficialIncidents() storage.OfficialIncidentRepository {
	m.calls++
	return mockOfficial{m}
}
func (m *mockStore) Messages() storage.MessageRepository { return nil }

type mockWindows struct{ m *mockStore }

func (w mockWindows) ListPending(ctx context.Context, filter storage.ListFilter, tolerance time.Duration) ([]*models.AlertWindow, error) {
	w.m.lastTolerance = tolerance
	return nil, w.m.windowsErr
}

func (w mockWindows) GetByID(ctx context.Context, id string) (*models.AlertWindow, error) {
	//nolint:nilnil
	return nil, w.m.windowsErr
}

type mockVerified struct{ m *mockStore }

func (v mockVerified) Create(ctx context.Context, incident *models.VerifiedIncident) error {
	return nil
}

func (v mockVerified) GetByID(ctx context.Context, id string) (*models.VerifiedIncident, error) {
	//nolint:nilnil
	return nil, nil
}

func (v mockVerified) List(ctx context.Context, filter storage.ListFilter) ([]*models.VerifiedIncident, error) {
	return nil, nil
}

type mockOfficial struct{ m *mockStore }

func (o mockOfficial) Create(ctx context.Context, incident *models.OfficialIncident) error {
	return nil
}

func (o mockOfficial) GetByID(ctx context.Context, id string) (*models.OfficialIncident, error) {
	//nolint:nilnil
	return nil, nil
}

func (o mockOfficial) List(ctx context.Context, filter storage.ListFilter) ([]*models.OfficialIncident, error) {
	return nil, nil
}
