package models

import "time"

// DeliveryState tracks how a message entered the local timeline.
type DeliveryState string

const (
	// DeliveryOptimistic is a locally inserted message awaiting server echo.
	DeliveryOptimistic DeliveryState = "optimistic"
	// DeliveryConfirmed is the server's echo of the local user's own message.
	DeliveryConfirmed DeliveryState = "confirmed"
	// DeliveryReceived is a message that originated from the conversation peer.
	DeliveryReceived DeliveryState = "received"
)

// Message is one chat line in a conversation timeline.
//
// ID is the server-assigned identifier and is zero until the server has
// confirmed the message; LocalID is a client-generated identifier that stays
// stable across the optimistic-to-confirmed transition.
type Message struct {
	ID        int64
	LocalID   string
	PeerID    int64
	SenderID  int64
	Body      string
	Timestamp time.Time
	State     DeliveryState
}

// BacklogEntry is one persisted message row as returned by
// GET /chat/messages/{peerId}/, with flat sender/receiver ID fields.
type BacklogEntry struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
	Body       string
	Timestamp  time.Time
}
