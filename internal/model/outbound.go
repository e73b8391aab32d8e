package model

import (
	"strings"
	"time"
)

// Content is the body of one outbound message. Media, when set, is sent
// with Text as its caption.
type Content struct {
	Text  string    `json:"text,omitempty"`
	Media *MediaRef `json:"media,omitempty"`
}

// SendReceipt is what the transport confirms for a transmitted message.
type SendReceipt struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// ContentTypeForMIME maps a MIME type to the stored content type.
func ContentTypeForMIME(mime string) ContentType {
	switch {
	case mime == "image/webp":
		return ContentSticker
	case strings.HasPrefix(mime, "image/"):
		return ContentImage
	case strings.HasPrefix(mime, "video/"):
		return ContentVideo
	case strings.HasPrefix(mime, "audio/"):
		return ContentAudio
	case mime == "":
		return ContentUnknown
	}
	return ContentDocument
}
