package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/firealarmweb/firealarm/internal/models"
)

type sqlAlertWindowRepo struct {
	db *sql.DB
	q  *queries
}

func scanWindow(row rowScanner) (*models.AlertWindow, error) {
	w := &models.AlertWindow{}
	var start, lastSeen int64
	err := row.Scan(
		&w.ID, &w.DeviceID, &start, &lastSeen,
		&w.Readings.FlamePeak, &w.Readings.FlameAvg,
		&w.Readings.SmokePeak, &w.Readings.SmokeAvg,
		&w.Readings.TempPeak, &w.Readings.TempAvg,
		&w.Readings.GasPeak, &w.Readings.GasAvg,
		&w.AlertLevel,
	)
	if err != nil {
		return nil, err
	}
	w.WindowStart = fromMillis(start)
	w.LastSeen = fromMillis(lastSeen)
	return w, nil
}

func (r *sqlAlertWindowRepo) ListPending(ctx context.Context, filter ListFilter, tolerance time.Duration) ([]*models.AlertWindow, error) {
	shape := shapeOf(filter)
	args := append(filterArgs(filter), tolerance.Milliseconds(), filter.pageLimit())

	rows, err := r.db.QueryContext(ctx, r.q.pending[shape], args...)
	if err != nil {
		return nil, fmt.Errorf("list pending windows: %w", err)
	}
	defer rows.Close()

	var windows []*models.AlertWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert window: %w", err)
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

func (r *sqlAlertWindowRepo) GetByID(ctx context.Context, id string) (*models.AlertWindow, error) {
	w, err := scanWindow(r.db.QueryRowContext(ctx, r.q.windowByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert window by id: %w", err)
	}
	return w, nil
}
