package ws

import (
	"fmt"
	"time"

	"github.com/LeventeLantos/chat-delivery/internal/model"
)

// Frame types exchanged with the bridge. Requests carry a ref that the
// bridge echoes on its ack or error reply.
const (
	frameSend     = "send"
	framePresence = "presence"
	frameDownload = "download"

	frameAck     = "ack"
	frameError   = "error"
	frameMessage = "message"
	frameState   = "state"
	frameQR      = "qr"
	frameReceipt = "receipt"
)

type Frame struct {
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"`

	// send
	To      string         `json:"to,omitempty"`
	Content *model.Content `json:"content,omitempty"`

	// message, download
	Event *model.InboundEvent `json:"event,omitempty"`

	// state, qr
	State model.SessionStatus `json:"state,omitempty"`
	Phone string              `json:"phone,omitempty"`
	Code  string              `json:"code,omitempty"`

	// receipt
	Receipt *model.Receipt `json:"receipt,omitempty"`

	// ack
	MessageID string    `json:"messageId,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Data      []byte    `json:"data,omitempty"`

	// error
	Error *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RemoteError is a failure reported by the bridge for one request.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bridge error %s: %s", e.Code, e.Message)
}

// ErrorCode exposes the bridge's machine-readable code (timeout, sync,
// rejected, ...).
func (e *RemoteError) ErrorCode() string { return e.Code }
