package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/LeventeLantos/chat-delivery/internal/model"
)

type PostgresSessionRepo struct {
	db DB
}

func NewPostgresSessionRepo(db DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// UpsertSession records the latest status. A known phone number is never
// cleared by an update that does not carry one.
func (r *PostgresSessionRepo) UpsertSession(ctx context.Context, s model.Session) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sessions (id, owner_id, status, phone, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), now())
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    owner_id = COALESCE(NULLIF(EXCLUDED.owner_id, ''), sessions.owner_id),
		    phone = COALESCE(EXCLUDED.phone, sessions.phone),
		    updated_at = now()
	`, s.ID, s.OwnerID, string(s.Status), s.Phone)
	if err != nil {
		return storageErr("upsert session", err)
	}
	return nil
}

// GetSession returns nil, nil when the session does not exist.
func (r *PostgresSessionRepo) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	var status string
	var phone *string
	err := r.db.QueryRow(ctx, `
		SELECT id, owner_id, status, phone, updated_at
		FROM sessions
		WHERE id = $1
	`, id).Scan(&s.ID, &s.OwnerID, &status, &phone, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storageErr("get session", err)
	}
	s.Status = model.SessionStatus(status)
	if phone != nil {
		s.Phone = *phone
	}
	return &s, nil
}

func (r *PostgresSessionRepo) ListSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, owner_id, status, phone, updated_at
		FROM sessions
		ORDER BY id
	`)
	if err != nil {
		return nil, storageErr("list sessions", err)
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		var s model.Session
		var status string
		var phone *string
		if err := rows.Scan(&s.ID, &s.OwnerID, &status, &phone, &s.UpdatedAt); err != nil {
			return nil, storageErr("list sessions", err)
		}
		s.Status = model.SessionStatus(status)
		if phone != nil {
			s.Phone = *phone
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list sessions", err)
	}
	return out, nil
}
