// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/firealarmweb/firealarm/internal/models"
)

const (
	// DefaultListLimit is used when a filter carries no limit.
	DefaultListLimit = 100
	// MaxListLimit caps any requested limit.
	MaxListLimit = 1000
)

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error
	// EnsureAdminUser creates default admin if no users exist using secure bootstrap credentials.
	EnsureAdminUser() error
	// DB returns the underlying pool for health checks and tooling.
	DB() *sql.DB

	// Repository accessors
	Users() UserRepository
	AlertWindows() AlertWindowRepository
	VerifiedIncidents() VerifiedIncidentRepository
	OfficialIncidents() OfficialIncidentRepository
	Messages() MessageRepository
}

// ListFilter narrows incident listings. Zero values mean unbounded.
type ListFilter struct {
	DeviceID string
	From     time.Time
	To       time.Time
	Limit    int
}

// HasRange reports whether either time bound is set.
func (f ListFilter) HasRange() bool {
	return !f.From.IsZero() || !f.To.IsZero()
}

// pageLimit returns the limit with the default applied and the cap enforced.
func (f ListFilter) pageLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

// bounds returns the range as unix milliseconds with open sides widened.
func (f ListFilter) bounds() (int64, int64) {
	from, to := int64(math.MinInt64), int64(math.MaxInt64)
	if !f.From.IsZero() {
		from = f.From.UnixMilli()
	}
	if !f.To.IsZero() {
		to = f.To.UnixMilli()
	}
	return from, to
}

// UserRepository defines operations for user management.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	List(ctx context.Context) ([]*models.User, error)
	Count(ctx context.Context) (int64, error)
}

// AlertWindowRepository reads the upstream alert windows. It never writes.
type AlertWindowRepository interface {
	// ListPending returns windows with level >= 2 that no verification covers,
	// newest first. A verification covers a window when it links the window
	// directly or shares its device with |event_at - window_start| < tolerance.
	ListPending(ctx context.Context, filter ListFilter, tolerance time.Duration) ([]*models.AlertWindow, error)
	GetByID(ctx context.Context, id string) (*models.AlertWindow, error)
}

// VerifiedIncidentRepository defines operations for verified incidents.
type VerifiedIncidentRepository interface {
	Create(ctx context.Context, incident *models.VerifiedIncident) error
	GetByID(ctx context.Context, id string) (*models.VerifiedIncident, error)
	List(ctx context.Context, filter ListFilter) ([]*models.VerifiedIncident, error)
}

// OfficialIncidentRepository defines operations for filed incidents.
type OfficialIncidentRepository interface {
	Create(ctx context.Context, incident *models.OfficialIncident) error
	GetByID(ctx context.Context, id string) (*models.OfficialIncident, error)
	// List applies filter.Limit only when it is positive.
	List(ctx context.Context, filter ListFilter) ([]*models.OfficialIncident, error)
}

// MessageRepository defines operations for chat messages.
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	// List returns messages newest first.
	List(ctx context.Context, limit, offset int) ([]*models.Message, error)
	// Delete reports false when no row matched.
	Delete(ctx context.Context, id string) (bool, error)
}
