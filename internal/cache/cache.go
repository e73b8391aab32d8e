package cache

import "context"

// DedupCache is a fast-path record of provider message ids already handled
// for a session. It is advisory only; the message store stays authoritative.
type DedupCache interface {
	Seen(ctx context.Context, sessionID, providerMessageID string) (bool, error)
	MarkSeen(ctx context.Context, sessionID, providerMessageID string) error
}

// NoopCache is used when Redis is not configured. Nothing is ever seen.
type NoopCache struct{}

func (NoopCache) Seen(context.Context, string, string) (bool, error) { return false, nil }

func (NoopCache) MarkSeen(context.Context, string, string) error { return nil }
