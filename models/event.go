package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownEvent indicates an inbound frame with no recognized discriminator.
var ErrUnknownEvent = errors.New("models: unknown inbound event")

// InboundEvent is one decoded server-to-client frame. Frames are decoded once
// at the transport boundary; everything past it works with these variants.
type InboundEvent interface {
	inboundEvent()
}

// MessageConfirmed is the server's acknowledgment of the local user's own
// sent message, carrying the permanent server-assigned ID.
type MessageConfirmed struct {
	MessageID  int64
	SenderID   int64
	ReceiverID int64
	Body       string
	Timestamp  time.Time
}

// MessageReceived is a message delivered to the local user from a peer.
type MessageReceived struct {
	MessageID int64
	SenderID  int64
	Body      string
	Timestamp time.Time
}

// PresenceChanged reports a contact going online or offline.
type PresenceChanged struct {
	UserID int64
	Online bool
}

// ServerError is the backend's rejection of a malformed client frame.
type ServerError struct {
	Message string
}

func (MessageConfirmed) inboundEvent() {}
func (MessageReceived) inboundEvent()  {}
func (PresenceChanged) inboundEvent()  {}
func (ServerError) inboundEvent()      {}

// OutboundMessage is the single client-to-server frame shape.
type OutboundMessage struct {
	ReceiverID int64  `json:"receiver_id"`
	Message    string `json:"message"`
}

type inboundFrame struct {
	Status     string          `json:"status"`
	Type       string          `json:"type"`
	Message    string          `json:"message"`
	MessageID  int64           `json:"message_id"`
	SenderID   int64           `json:"sender_id"`
	ReceiverID int64           `json:"receiver_id"`
	Timestamp  string          `json:"timestamp"`
	UserID     int64           `json:"user_id"`
	IsOnline   json.RawMessage `json:"is_online"`
}

// DecodeInbound parses one raw server frame into its event variant.
func DecodeInbound(raw []byte) (InboundEvent, error) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("decode inbound frame: %w", err)
	}

	switch {
	// The deployed consumer emits "sent" where the interface contract says
	// "send"; accept both.
	case frame.Status == "send" || frame.Status == "sent":
		ts, err := ParseTimestamp(frame.Timestamp)
		if err != nil {
			return nil, err
		}
		return MessageConfirmed{
			MessageID:  frame.MessageID,
			SenderID:   frame.SenderID,
			ReceiverID: frame.ReceiverID,
			Body:       frame.Message,
			Timestamp:  ts,
		}, nil
	case frame.Status == "received":
		ts, err := ParseTimestamp(frame.Timestamp)
		if err != nil {
			return nil, err
		}
		return MessageReceived{
			MessageID: frame.MessageID,
			SenderID:  frame.SenderID,
			Body:      frame.Message,
			Timestamp: ts,
		}, nil
	case frame.Status == "error":
		return ServerError{Message: frame.Message}, nil
	case frame.Type == "user_status":
		var online bool
		if len(frame.IsOnline) > 0 {
			if err := json.Unmarshal(frame.IsOnline, &online); err != nil {
				return nil, fmt.Errorf("decode user_status is_online: %w", err)
			}
		}
		return PresenceChanged{UserID: frame.UserID, Online: online}, nil
	default:
		return nil, fmt.Errorf("%w: status=%q type=%q", ErrUnknownEvent, frame.Status, frame.Type)
	}
}

// timestampLayouts covers RFC 3339 plus the "YYYY-MM-DD hh:mm:ss" variants
// the backend produces when stringifying aware datetimes.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a backend timestamp string.
func ParseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: unsupported format", value)
}
