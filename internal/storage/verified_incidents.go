package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/firealarmweb/firealarm/internal/models"
)

// ErrDuplicateWindow is returned when an alert window is already linked to a verification.
var ErrDuplicateWindow = errors.New("alert window already verified")

type sqlVerifiedRepo struct {
	db *sql.DB
	q  *queries
}

func scanVerified(row rowScanner) (*models.VerifiedIncident, error) {
	v := &models.VerifiedIncident{}
	var (
		eventAt, verifiedAt int64
		windowID            sql.NullString
	)
	err := row.Scan(
		&v.ID, &v.DeviceID, &eventAt, &v.AlertLevel,
		&v.Peaks.Flame, &v.Peaks.Smoke, &v.Peaks.Temperature, &v.Peaks.Gas, &v.Notes,
		&windowID, &v.VerifiedBy, &v.VerifiedByName, &verifiedAt,
	)
	if err != nil {
		return nil, err
	}
	v.EventAt = fromMillis(eventAt)
	v.VerifiedAt = fromMillis(verifiedAt)
	v.AlertWindowID = windowID.String
	return v, nil
}

func (r *sqlVerifiedRepo) Create(ctx context.Context, v *models.VerifiedIncident) error {
	_, err := r.db.ExecContext(ctx, r.q.verifiedInsert,
		v.ID, v.DeviceID, toMillis(v.EventAt), int(v.AlertLevel),
		v.Peaks.Flame, v.Peaks.Smoke, v.Peaks.Temperature, v.Peaks.Gas, v.Notes,
		nullString(v.AlertWindowID), v.VerifiedBy, toMillis(v.VerifiedAt),
	)
	if err != nil {
		if v.AlertWindowID != "" && isUniqueViolation(err) {
			return ErrDuplicateWindow
		}
		return fmt.Errorf("insert verified incident: %w", err)
	}
	return nil
}

func (r *sqlVerifiedRepo) GetByID(ctx context.Context, id string) (*models.VerifiedIncident, error) {
	v, err := scanVerified(r.db.QueryRowContext(ctx, r.q.verifiedByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get verified incident by id: %w", err)
	}
	return v, nil
}

func (r *sqlVerifiedRepo) List(ctx context.Context, filter ListFilter) ([]*models.VerifiedIncident, error) {
	args := append(filterArgs(filter), filter.pageLimit())
	rows, err := r.db.QueryContext(ctx, r.q.verified[shapeOf(filter)], args...)
	if err != nil {
		return nil, fmt.Errorf("list verified incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*models.VerifiedIncident
	for rows.Next() {
		v, err := scanVerified(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verified incident: %w", err)
		}
		incidents = append(incidents, v)
	}
	return incidents, rows.Err()
}

// isUniqueViolation matches the unique-constraint errors of both drivers.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE"))
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
