package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/chat-delivery/internal/model"
)

func strPtr(s string) *string { return &s }

func TestPostgresMessageRepo_InsertInbound_IsIdempotent(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	r := NewPostgresMessageRepo(mockPool)
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	msg := model.Message{
		SessionID:         "s1",
		ProviderMessageID: "ABC123",
		RemoteID:          "27821234567",
		ContentType:       model.ContentText,
		Content:           strPtr("hello"),
		Status:            model.Delivered,
		Timestamp:         ts,
	}

	args := []any{"s1", "ABC123", "27821234567", false, "text", strPtr("hello"),
		(*string)(nil), (*string)(nil), (*string)(nil), "delivered", ts}

	mockPool.ExpectExec(`INSERT INTO messages .* ON CONFLICT \(session_id, provider_message_id\) DO NOTHING`).
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectExec(`INSERT INTO messages`).
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := r.InsertInbound(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = r.InsertInbound(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, inserted, "redelivered event must be a no-op")

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresMessageRepo_InsertOutbound_WithMedia(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	r := NewPostgresMessageRepo(mockPool)
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	msg := model.Message{
		SessionID:         "s1",
		ProviderMessageID: "OUT1",
		RemoteID:          "27821234567",
		ContentType:       model.ContentImage,
		Media:             &model.MediaRef{URL: "https://cdn.example.com/a.jpg", Type: "image/jpeg", FileName: "a.jpg"},
		Status:            model.Sent,
		Timestamp:         ts,
	}

	mockPool.ExpectExec(`INSERT INTO messages`).
		WithArgs("s1", "OUT1", "27821234567", true, "image", (*string)(nil),
			strPtr("https://cdn.example.com/a.jpg"), strPtr("image/jpeg"), strPtr("a.jpg"), "sent", ts).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := r.InsertOutbound(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresMessageRepo_Insert_StorageFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	r := NewPostgresMessageRepo(mockPool)
	mockPool.ExpectExec(`INSERT INTO messages`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	_, err = r.InsertInbound(context.Background(), model.Message{SessionID: "s1", ProviderMessageID: "X"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPostgresMessageRepo_Insert_RequiresKey(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	r := NewPostgresMessageRepo(mockPool)
	_, err = r.InsertInbound(context.Background(), model.Message{SessionID: "s1"})
	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresMessageRepo_ListMessages(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	r := NewPostgresMessageRepo(mockPool)
	newer := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	rows := mockPool.NewRows([]string{
		"id", "session_id", "provider_message_id", "remote_id", "from_me", "content_type",
		"content", "media_url", "media_type", "media_file_name", "status", "message_timestamp", "created_at",
	}).
		AddRow(int64(2), "s1", "B", "27821234567", true, "text", strPtr("reply"),
			(*string)(nil), (*string)(nil), (*string)(nil), "sent", newer, newer).
		AddRow(int64(1), "s1", "A", "27821234567", false, "image", strPtr("[Image]"),
			strPtr("https://cdn.example.com/x.jpg"), strPtr("image/jpeg"), (*string)(nil), "delivered", older, older)

	mockPool.ExpectQuery(`SELECT .* FROM messages\s+WHERE session_id = \$1\s+ORDER BY message_timestamp DESC, id DESC\s+LIMIT \$2 OFFSET \$3`).
		WithArgs("s1", 50, 0).
		WillReturnRows(rows)

	items, err := r.ListMessages(context.Background(), "s1", 0, -5)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "B", items[0].ProviderMessageID)
	assert.True(t, items[0].FromMe)
	assert.Nil(t, items[0].Media)
	assert.Equal(t, model.Sent, items[0].Status)

	assert.Equal(t, model.ContentImage, items[1].ContentType)
	require.NotNil(t, items[1].Media)
	assert.Equal(t, "https://cdn.example.com/x.jpg", items[1].Media.URL)
	assert.Equal(t, "image/jpeg", items[1].Media.Type)
	require.NotNil(t, items[1].Content)
	assert.Equal(t, "[Image]", *items[1].Content)

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresMessageRepo_UpdateStatus(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	r := NewPostgresMessageRepo(mockPool)
	mockPool.ExpectExec(`UPDATE messages\s+SET status = \$3\s+WHERE session_id = \$1 AND provider_message_id = \$2 AND from_me = true`).
		WithArgs("s1", "OUT1", "read").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, r.UpdateStatus(context.Background(), "s1", "OUT1", model.Read))

	err = r.UpdateStatus(context.Background(), "s1", "OUT1", model.Status("bogus"))
	assert.ErrorIs(t, err, ErrStorageFailure)

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectExec(`CREATE TABLE IF NOT EXISTS sessions`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, EnsureSchema(context.Background(), mockPool))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
