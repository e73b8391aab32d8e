package model

import "time"

type Status string

const (
	Pending   Status = "pending"
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Read      Status = "read"
	Failed    Status = "failed"
)

// Valid reports whether s is a known delivery status.
func (s Status) Valid() bool {
	switch s {
	case Pending, Sent, Delivered, Read, Failed:
		return true
	}
	return false
}

type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentVideo    ContentType = "video"
	ContentAudio    ContentType = "audio"
	ContentDocument ContentType = "document"
	ContentSticker  ContentType = "sticker"
	ContentContact  ContentType = "contact"
	ContentLocation ContentType = "location"
	ContentUnknown  ContentType = "unknown"
)

type MediaRef struct {
	URL      string `json:"url"`
	Type     string `json:"type"`
	FileName string `json:"fileName,omitempty"`
}

// Message is one persisted inbound or outbound record. FromMe is the
// direction flag: true when the operator's account authored the message.
type Message struct {
	ID                int64       `json:"id"`
	SessionID         string      `json:"sessionId"`
	ProviderMessageID string      `json:"providerMessageId"`
	RemoteID          string      `json:"remoteId"`
	FromMe            bool        `json:"fromMe"`
	ContentType       ContentType `json:"contentType"`
	Content           *string     `json:"content,omitempty"`
	Media             *MediaRef   `json:"media,omitempty"`
	Status            Status      `json:"status"`
	Timestamp         time.Time   `json:"timestamp"`
	CreatedAt         time.Time   `json:"createdAt"`
}
