package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/firealarmweb/firealarm/internal/models"
)

type sqlOfficialRepo struct {
	db *sql.DB
	q  *queries
}

func scanOfficial(row rowScanner) (*models.OfficialIncident, error) {
	o := &models.OfficialIncident{}
	var eventAt, verifiedAt, generatedAt int64
	err := row.Scan(
		&o.ID, &o.VerifiedIncidentID, &o.DeviceID, &eventAt, &o.AlertLevel,
		&o.IncidentType, &o.EstablishmentType, &o.ProbableCause, &o.Barangay, &o.City,
		&o.EstimatedDamage, &o.Injuries, &o.Fatalities, &o.Remarks,
		&o.VerifiedBy, &o.VerifiedByName, &verifiedAt,
		&o.GeneratedBy, &o.GeneratedByName, &generatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.EventAt = fromMillis(eventAt)
	o.VerifiedAt = fromMillis(verifiedAt)
	o.GeneratedAt = fromMillis(generatedAt)
	return o, nil
}

func (r *sqlOfficialRepo) Create(ctx context.Context, o *models.OfficialIncident) error {
	_, err := r.db.ExecContext(ctx, r.q.officialInsert,
		o.ID, o.VerifiedIncidentID, o.DeviceID, toMillis(o.EventAt), int(o.AlertLevel),
		o.IncidentType, o.EstablishmentType, o.ProbableCause, o.Barangay, o.City,
		o.EstimatedDamage.StringFixed(2), o.Injuries, o.Fatalities, o.Remarks,
		o.VerifiedBy, toMillis(o.VerifiedAt), o.GeneratedBy, toMillis(o.GeneratedAt),
	)
	if err != nil {
		return fmt.Errorf("insert official incident: %w", err)
	}
	return nil
}

func (r *sqlOfficialRepo) GetByID(ctx context.Context, id string) (*models.OfficialIncident, error) {
	o, err := scanOfficial(r.db.QueryRowContext(ctx, r.q.officialByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get official incident by id: %w", err)
	}
	return o, nil
}

func (r *sqlOfficialRepo) List(ctx context.Context, filter ListFilter) ([]*models.OfficialIncident, error) {
	limit := math.MaxInt32
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	args := append(filterArgs(filter), limit)

	rows, err := r.db.QueryContext(ctx, r.q.official[shapeOf(filter)], args...)
	if err != nil {
		return nil, fmt.Errorf("list official incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*models.OfficialIncident
	for rows.Next() {
		o, err := scanOfficial(rows)
		if err != nil {
			return nil, fmt.Errorf("scan official incident: %w", err)
		}
		incidents = append(incidents, o)
	}
	return incidents, rows.Err()
}
