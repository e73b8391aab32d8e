package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/LeventeLantos/chat-delivery/internal/model"
)

var ErrStorageFailure = errors.New("storage failure")

type MessageRepository interface {
	InsertInbound(ctx context.Context, msg model.Message) (bool, error)
	InsertOutbound(ctx context.Context, msg model.Message) (bool, error)
	ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]model.Message, error)
	UpdateStatus(ctx context.Context, sessionID, providerMessageID string, status model.Status) error
}

type SessionRepository interface {
	UpsertSession(ctx context.Context, s model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessions(ctx context.Context) ([]model.Session, error)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageFailure, op, err)
}
