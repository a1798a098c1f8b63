package types

import "time"

// EventType labels outbound manager events consumed by the UI layer.
type EventType string

const (
	EventHandshakeAccepted      EventType = "handshake_accepted"
	EventSessionApproved        EventType = "session_approved"
	EventSessionClosed          EventType = "session_closed"
	EventHandshakeTimeout       EventType = "handshake_timeout"
	EventSessionsRestored       EventType = "sessions_restored"
	EventSigningRequested       EventType = "signing_requested"
	EventPersonalSignRequested  EventType = "personal_sign_requested"
	EventExchangeOrderRequested EventType = "exchange_order_requested"
)

// Event is a single outbound notification. Key identifies the session the
// event belongs to; SessionsRestored carries the full restored set instead.
type Event struct {
	Type      EventType          `json:"type"`
	Key       SessionKey         `json:"key,omitempty"`
	Peer      *PeerMeta          `json:"peer,omitempty"`
	Request   *SignRequest       `json:"request,omitempty"`
	Restored  []PersistedSession `json:"restored,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, key SessionKey) Event {
	return Event{Type: t, Key: key, Timestamp: time.Now()}
}
