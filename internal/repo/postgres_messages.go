package repo

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/LeventeLantos/chat-delivery/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// DB is the subset of *pgxpool.Pool the repositories use. It is also
// satisfied by pgx.Tx and pgxmock pools.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return storageErr("ensure schema", err)
	}
	return nil
}

type PostgresMessageRepo struct {
	db DB
}

func NewPostgresMessageRepo(db DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

func (r *PostgresMessageRepo) InsertInbound(ctx context.Context, msg model.Message) (bool, error) {
	return r.insert(ctx, "insert inbound", msg)
}

func (r *PostgresMessageRepo) InsertOutbound(ctx context.Context, msg model.Message) (bool, error) {
	msg.FromMe = true
	return r.insert(ctx, "insert outbound", msg)
}

// insert is idempotent on (session_id, provider_message_id); a redelivered
// record reports false with a nil error.
func (r *PostgresMessageRepo) insert(ctx context.Context, op string, msg model.Message) (bool, error) {
	if msg.SessionID == "" || msg.ProviderMessageID == "" {
		return false, storageErr(op, errors.New("session id and provider message id are required"))
	}
	if msg.Status == "" {
		msg.Status = model.Pending
	}
	if msg.ContentType == "" {
		msg.ContentType = model.ContentUnknown
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var mediaURL, mediaType, mediaFile *string
	if msg.Media != nil {
		mediaURL = &msg.Media.URL
		mediaType = &msg.Media.Type
		if msg.Media.FileName != "" {
			mediaFile = &msg.Media.FileName
		}
	}

	tag, err := r.db.Exec(ctx, `
		INSERT INTO messages (
			session_id, provider_message_id, remote_id, from_me, content_type,
			content, media_url, media_type, media_file_name, status, message_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id, provider_message_id) DO NOTHING
	`,
		msg.SessionID,
		msg.ProviderMessageID,
		msg.RemoteID,
		msg.FromMe,
		string(msg.ContentType),
		msg.Content,
		mediaURL,
		mediaType,
		mediaFile,
		string(msg.Status),
		ts.UTC(),
	)
	if err != nil {
		return false, storageErr(op, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresMessageRepo) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, session_id, provider_message_id, remote_id, from_me, content_type,
		       content, media_url, media_type, media_file_name, status,
		       message_timestamp, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY message_timestamp DESC, id DESC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	if err != nil {
		return nil, storageErr("list messages", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		var contentType, status string
		var mediaURL, mediaType, mediaFile *string

		if err := rows.Scan(
			&m.ID,
			&m.SessionID,
			&m.ProviderMessageID,
			&m.RemoteID,
			&m.FromMe,
			&contentType,
			&m.Content,
			&mediaURL,
			&mediaType,
			&mediaFile,
			&status,
			&m.Timestamp,
			&m.CreatedAt,
		); err != nil {
			return nil, storageErr("list messages", err)
		}

		m.ContentType = model.ContentType(contentType)
		m.Status = model.Status(status)
		if mediaURL != nil {
			m.Media = &model.MediaRef{URL: *mediaURL}
			if mediaType != nil {
				m.Media.Type = *mediaType
			}
			if mediaFile != nil {
				m.Media.FileName = *mediaFile
			}
		}

		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list messages", err)
	}
	return out, nil
}

func (r *PostgresMessageRepo) UpdateStatus(ctx context.Context, sessionID, providerMessageID string, status model.Status) error {
	if !status.Valid() {
		return storageErr("update status", errors.New("unknown status "+string(status)))
	}
	_, err := r.db.Exec(ctx, `
		UPDATE messages
		SET status = $3
		WHERE session_id = $1 AND provider_message_id = $2 AND from_me = true
	`, sessionID, providerMessageID, string(status))
	if err != nil {
		return storageErr("update status", err)
	}
	return nil
}
