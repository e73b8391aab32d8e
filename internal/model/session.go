package model

import "time"

type SessionStatus string

const (
	SessionDisconnected    SessionStatus = "disconnected"
	SessionConnecting      SessionStatus = "connecting"
	SessionAwaitingPairing SessionStatus = "awaiting_pairing"
	SessionConnected       SessionStatus = "connected"
	SessionLoggedOut       SessionStatus = "logged_out"
)

type Session struct {
	ID        string        `json:"id"`
	OwnerID   string        `json:"ownerId"`
	Status    SessionStatus `json:"status"`
	Phone     string        `json:"phone,omitempty"`
	UpdatedAt time.Time     `json:"updatedAt"`
}
