package model

import (
	"context"
	"encoding/json"
	"time"
)

// InboundEvent is one message event as delivered by the transport.
type InboundEvent struct {
	ProviderMessageID string          `json:"id"`
	RemoteID          string          `json:"remote"`
	FromMe            bool            `json:"fromMe"`
	PushName          string          `json:"pushName,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
	Payload           Payload         `json:"payload"`
	Raw               json.RawMessage `json:"raw,omitempty"`
}

// Payload mirrors the provider's message body. At most one of the typed
// members is normally set.
type Payload struct {
	Conversation string           `json:"conversation,omitempty"`
	ExtendedText *ExtendedText    `json:"extendedText,omitempty"`
	Image        *MediaPayload    `json:"image,omitempty"`
	Video        *MediaPayload    `json:"video,omitempty"`
	Audio        *MediaPayload    `json:"audio,omitempty"`
	Document     *MediaPayload    `json:"document,omitempty"`
	Sticker      *MediaPayload    `json:"sticker,omitempty"`
	Contact      *ContactPayload  `json:"contact,omitempty"`
	Location     *LocationPayload `json:"location,omitempty"`
}

type ExtendedText struct {
	Text string `json:"text"`
}

type MediaPayload struct {
	Caption  string `json:"caption,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

type ContactPayload struct {
	DisplayName string `json:"displayName,omitempty"`
	VCard       string `json:"vcard,omitempty"`
}

type LocationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
}

// Media returns the downloadable media member and its content type, if any.
func (p Payload) Media() (*MediaPayload, ContentType) {
	switch {
	case p.Image != nil:
		return p.Image, ContentImage
	case p.Video != nil:
		return p.Video, ContentVideo
	case p.Audio != nil:
		return p.Audio, ContentAudio
	case p.Document != nil:
		return p.Document, ContentDocument
	case p.Sticker != nil:
		return p.Sticker, ContentSticker
	}
	return nil, ""
}

type TransportEventKind string

const (
	EventMessage TransportEventKind = "message"
	EventState   TransportEventKind = "state"
	EventPairing TransportEventKind = "qr"
	EventReceipt TransportEventKind = "receipt"
)

type Receipt struct {
	ProviderMessageID string `json:"id"`
	Status            Status `json:"status"`
}

// TransportEvent is one item of a session's ordered callback stream.
type TransportEvent struct {
	Kind        TransportEventKind
	Message     *InboundEvent
	State       SessionStatus
	Phone       string
	PairingCode string
	Receipt     *Receipt
}

// MediaDownloader fetches the raw bytes of an inbound event's media.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, ev InboundEvent) ([]byte, error)
}
