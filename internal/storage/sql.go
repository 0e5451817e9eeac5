package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/firealarmweb/firealarm/internal/models"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// rebind rewrites ? placeholders to $n for postgres.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Config holds database connection settings.
type Config struct {
	Driver       string
	Path         string
	DSN          string
	MaxOpenConns int
}

// SQLStorage implements Storage over database/sql for SQLite and PostgreSQL.
type SQLStorage struct {
	cfg     Config
	dialect dialect
	db      *sql.DB

	users    *sqlUserRepo
	windows  *sqlAlertWindowRepo
	verified *sqlVerifiedRepo
	official *sqlOfficialRepo
	messages *sqlMessageRepo
}

// NewSQLStorage creates a new storage for the configured driver.
func NewSQLStorage(cfg Config) *SQLStorage {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	d := dialectSQLite
	if cfg.Driver == DriverPostgres {
		d = dialectPostgres
	}
	return &SQLStorage{cfg: cfg, dialect: d}
}

// NewSQLiteStorage creates a SQLite storage at path.
func NewSQLiteStorage(path string) *SQLStorage {
	return NewSQLStorage(Config{Driver: DriverSQLite, Path: path})
}

// newWithDB wraps an already open pool. Used by tests.
func newWithDB(db *sql.DB, d dialect) *SQLStorage {
	s := &SQLStorage{dialect: d}
	s.attach(db)
	return s
}

// Open initializes the database connection.
func (s *SQLStorage) Open() error {
	ctx := context.Background()

	var (
		db  *sql.DB
		err error
	)
	switch s.cfg.Driver {
	case DriverSQLite:
		if s.cfg.Path == "" && s.cfg.DSN == "" {
			return fmt.Errorf("database path is required")
		}
		dsn := s.cfg.DSN
		if dsn == "" {
			dsn = "file:" + s.cfg.Path
		}
		db, err = sql.Open("sqlite", dsn)
	case DriverPostgres:
		if s.cfg.DSN == "" {
			return fmt.Errorf("database dsn is required for postgres")
		}
		db, err = sql.Open("pgx", s.cfg.DSN)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	if s.dialect == dialectSQLite {
		db.SetMaxOpenConns(1) // SQLite is single-writer
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0) // Keep connection alive
	} else {
		maxOpen := s.cfg.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 10
		}
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	if s.dialect == dialectSQLite {
		// Enable foreign keys and WAL mode
		pragmas := []string{
			"PRAGMA foreign_keys = ON",
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
		}
		for _, pragma := range pragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return fmt.Errorf("execute %s: %w", pragma, err)
			}
		}
	}

	s.attach(db)
	return nil
}

func (s *SQLStorage) attach(db *sql.DB) {
	s.db = db
	q := newQueries(s.dialect)

	// Initialize repositories
	s.users = &sqlUserRepo{db: db, q: q}
	s.windows = &sqlAlertWindowRepo{db: db, q: q}
	s.verified = &sqlVerifiedRepo{db: db, q: q}
	s.official = &sqlOfficialRepo{db: db, q: q}
	s.messages = &sqlMessageRepo{db: db, q: q}
}

// Close closes the database connection.
func (s *SQLStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLStorage) DB() *sql.DB {
	return s.db
}

// Migrate runs database migrations.
func (s *SQLStorage) Migrate() error {
	return runMigrations(s.db, s.dialect)
}

// EnsureAdminUser creates default admin if no users exist.
func (s *SQLStorage) EnsureAdminUser() error {
	count, err := s.Users().Count(context.Background())
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil // Users exist, skip
	}

	password := generateRandomPassword(16)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	admin := models.NewUser("admin", "admin@localhost", models.RoleAdmin)
	admin.ID = uuid.New().String()
	admin.PasswordHash = string(hash)

	if err := s.Users().Create(context.Background(), admin); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	fmt.Printf("\n")
	fmt.Printf("===========================================\n")
	fmt.Printf("  DEFAULT ADMIN USER CREATED\n")
	fmt.Printf("  Username: admin\n")
	fmt.Printf("  Password: %s\n", password)
	fmt.Printf("  CHANGE THIS PASSWORD IMMEDIATELY!\n")
	fmt.Printf("===========================================\n")
	fmt.Printf("\n")

	return nil
}

// Users returns the user repository.
func (s *SQLStorage) Users() UserRepository {
	return s.users
}

// AlertWindows returns the read-only alert window repository.
func (s *SQLStorage) AlertWindows() AlertWindowRepository {
	return s.windows
}

// VerifiedIncidents returns the verified incident repository.
func (s *SQLStorage) VerifiedIncidents() VerifiedIncidentRepository {
	return s.verified
}

// OfficialIncidents returns the official incident repository.
func (s *SQLStorage) OfficialIncidents() OfficialIncidentRepository {
	return s.official
}

// Messages returns the chat message repository.
func (s *SQLStorage) Messages() MessageRepository {
	return s.messages
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// nullString maps empty strings to NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// generateRandomPassword generates a random password of the specified length.
func generateRandomPassword(length int) string {
	b := make([]byte, length)
	_, _ = rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)[:length]
}
