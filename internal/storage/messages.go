package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/firealarmweb/firealarm/internal/models"
)

type sqlMessageRepo struct {
	db *sql.DB
	q  *queries
}

func scanMessage(row rowScanner) (*models.Message, error) {
	m := &models.Message{}
	var createdAt int64
	err := row.Scan(&m.ID, &m.UserID, &m.Username, &m.Role, &m.Body, &m.Kind, &createdAt)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = fromMillis(createdAt)
	return m, nil
}

func (r *sqlMessageRepo) Create(ctx context.Context, m *models.Message) error {
	_, err := r.db.ExecContext(ctx, r.q.messageInsert,
		m.ID, m.UserID, m.Body, string(m.Kind), toMillis(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *sqlMessageRepo) GetByID(ctx context.Context, id string) (*models.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, r.q.messageByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message by id: %w", err)
	}
	return m, nil
}

func (r *sqlMessageRepo) List(ctx context.Context, limit, offset int) ([]*models.Message, error) {
	rows, err := r.db.QueryContext(ctx, r.q.messageList, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *sqlMessageRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, r.q.messageDelete, id)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete message rows: %w", err)
	}
	return rows > 0, nil
}
