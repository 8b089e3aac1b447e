// Package chat holds the conversation engine: message timelines with
// optimistic delivery reconciliation, activity-ranked contacts, and the
// session that ties them to the transport and the backend.
package chat

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"schoolchat/models"
)

// Timeline is the ordered message history of one conversation. Locally sent
// messages enter optimistically and are reconciled against server
// confirmations; peer messages are deduplicated by server ID.
//
// Timeline is not safe for concurrent use; Session serializes access.
type Timeline struct {
	selfID int64
	peerID int64

	entries []models.Message
	seen    map[int64]bool

	now func() time.Time
}

// NewTimeline creates an empty timeline for the conversation between the
// local user and one peer.
func NewTimeline(selfID, peerID int64) *Timeline {
	return &Timeline{
		selfID: selfID,
		peerID: peerID,
		seen:   make(map[int64]bool),
		now:    time.Now,
	}
}

// PeerID returns the conversation peer.
func (tl *Timeline) PeerID() int64 {
	return tl.peerID
}

// Reset replaces the timeline contents with a loaded history. Entries without
// a server ID are kept but not registered for deduplication.
func (tl *Timeline) Reset(history []models.Message) {
	tl.entries = make([]models.Message, 0, len(history))
	tl.seen = make(map[int64]bool, len(history))

	for _, message := range history {
		if message.ID != 0 {
			if tl.seen[message.ID] {
				continue
			}
			tl.seen[message.ID] = true
		}
		tl.entries = append(tl.entries, message)
	}

	sort.SliceStable(tl.entries, func(i, j int) bool {
		return tl.entries[i].Timestamp.Before(tl.entries[j].Timestamp)
	})
}

// AppendOptimistic records a just-sent message before the server has
// acknowledged it. The entry carries only a local ID until confirmation.
func (tl *Timeline) AppendOptimistic(body string) models.Message {
	message := models.Message{
		LocalID:   uuid.NewString(),
		PeerID:    tl.peerID,
		SenderID:  tl.selfID,
		Body:      body,
		Timestamp: tl.now(),
		State:     models.DeliveryOptimistic,
	}
	tl.entries = append(tl.entries, message)
	return message
}

// Confirm reconciles a server confirmation against the timeline. The oldest
// optimistic entry with a matching body is promoted in place to the
// server-assigned identity; at most one entry changes per call. A
// confirmation that matches nothing and carries an unseen ID is inserted as
// a new confirmed message. Returns whether the timeline changed.
func (tl *Timeline) Confirm(event models.MessageConfirmed) bool {
	if event.MessageID != 0 && tl.seen[event.MessageID] {
		return false
	}

	for i := range tl.entries {
		entry := &tl.entries[i]
		if entry.State != models.DeliveryOptimistic || entry.Body != event.Body {
			continue
		}

		entry.ID = event.MessageID
		entry.Timestamp = event.Timestamp
		entry.State = models.DeliveryConfirmed
		if event.MessageID != 0 {
			tl.seen[event.MessageID] = true
		}
		tl.repositionFrom(i)
		return true
	}

	// No optimistic entry matches, e.g. a message sent from another login.
	tl.insert(models.Message{
		ID:        event.MessageID,
		PeerID:    tl.peerID,
		SenderID:  event.SenderID,
		Body:      event.Body,
		Timestamp: event.Timestamp,
		State:     models.DeliveryConfirmed,
	})
	return true
}

// Receive adds a peer message to the timeline. Redelivered server IDs are
// ignored. Returns whether the timeline changed.
func (tl *Timeline) Receive(event models.MessageReceived) bool {
	if event.MessageID != 0 && tl.seen[event.MessageID] {
		return false
	}

	tl.insert(models.Message{
		ID:        event.MessageID,
		PeerID:    tl.peerID,
		SenderID:  event.SenderID,
		Body:      event.Body,
		Timestamp: event.Timestamp,
		State:     models.DeliveryReceived,
	})
	return true
}

// Merge inserts messages that arrived while the timeline was being loaded.
// Entries whose server ID is already present are skipped. Returns whether the
// timeline changed.
func (tl *Timeline) Merge(messages []models.Message) bool {
	changed := false
	for _, message := range messages {
		if message.ID != 0 && tl.seen[message.ID] {
			continue
		}
		tl.insert(message)
		changed = true
	}
	return changed
}

// Messages returns a copy of the timeline in display order.
func (tl *Timeline) Messages() []models.Message {
	snapshot := make([]models.Message, len(tl.entries))
	copy(snapshot, tl.entries)
	return snapshot
}

// Len returns the number of entries.
func (tl *Timeline) Len() int {
	return len(tl.entries)
}

// insert places a message at its timestamp-ordered position. Equal timestamps
// keep arrival order.
func (tl *Timeline) insert(message models.Message) {
	if message.ID != 0 {
		tl.seen[message.ID] = true
	}

	pos := sort.Search(len(tl.entries), func(i int) bool {
		return tl.entries[i].Timestamp.After(message.Timestamp)
	})
	tl.entries = append(tl.entries, models.Message{})
	copy(tl.entries[pos+1:], tl.entries[pos:])
	tl.entries[pos] = message
}

// repositionFrom restores timestamp order after the entry at index i changed
// its timestamp in place.
func (tl *Timeline) repositionFrom(i int) {
	message := tl.entries[i]
	tl.entries = append(tl.entries[:i], tl.entries[i+1:]...)

	pos := sort.Search(len(tl.entries), func(j int) bool {
		return tl.entries[j].Timestamp.After(message.Timestamp)
	})
	tl.entries = append(tl.entries, models.Message{})
	copy(tl.entries[pos+1:], tl.entries[pos:])
	tl.entries[pos] = message
}
