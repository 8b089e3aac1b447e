package storage

import (
	"errors"
	"fmt"

	"schoolchat/models"
)

// AppendMessage caches one server-identified message. Redelivered IDs are
// ignored so at-least-once transports never duplicate cached rows.
func (s *Store) AppendMessage(message models.Message) error {
	if message.ID == 0 {
		return errors.New("server message id is required")
	}
	if message.PeerID == 0 {
		return errors.New("peer id is required")
	}
	if message.Body == "" {
		return errors.New("body is required")
	}
	if err := validateCachedState(message.State); err != nil {
		return err
	}

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO messages (
			message_id,
			peer_id,
			sender_id,
			body,
			timestamp,
			delivery_state
		) VALUES (?, ?, ?, ?, ?, ?)`,
		message.ID,
		message.PeerID,
		message.SenderID,
		message.Body,
		encodeTimestamp(message.Timestamp),
		string(message.State),
	)
	if err != nil {
		return fmt.Errorf("append message %d: %w", message.ID, err)
	}

	return nil
}

// ReplaceConversation atomically swaps the cached backlog for one peer.
func (s *Store) ReplaceConversation(peerID int64, messages []models.Message) error {
	if peerID == 0 {
		return errors.New("peer id is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin conversation replace: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`DELETE FROM messages WHERE peer_id = ?`, peerID); err != nil {
		return fmt.Errorf("clear conversation %d: %w", peerID, err)
	}

	for _, message := range messages {
		if message.ID == 0 {
			// Optimistic entries are in-memory only.
			continue
		}
		if err := validateCachedState(message.State); err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO messages (
				message_id,
				peer_id,
				sender_id,
				body,
				timestamp,
				delivery_state
			) VALUES (?, ?, ?, ?, ?, ?)`,
			message.ID,
			peerID,
			message.SenderID,
			message.Body,
			encodeTimestamp(message.Timestamp),
			string(message.State),
		); err != nil {
			return fmt.Errorf("insert conversation message %d: %w", message.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit conversation replace: %w", err)
	}

	return nil
}

// GetConversation returns cached messages with one peer ordered by timestamp
// ascending.
func (s *Store) GetConversation(peerID int64, limit, offset int) ([]models.Message, error) {
	if peerID == 0 {
		return nil, errors.New("peer id is required")
	}
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(
		`SELECT
			message_id,
			peer_id,
			sender_id,
			body,
			timestamp,
			delivery_state
		FROM messages
		WHERE peer_id = ?
		ORDER BY timestamp ASC, message_id ASC
		LIMIT ? OFFSET ?`,
		peerID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("get conversation %d: %w", peerID, err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var (
			message  models.Message
			rawTS    string
			rawState string
		)
		if err := rows.Scan(
			&message.ID,
			&message.PeerID,
			&message.SenderID,
			&message.Body,
			&rawTS,
			&rawState,
		); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		ts, err := decodeTimestamp(rawTS)
		if err != nil {
			return nil, err
		}
		message.Timestamp = ts
		message.State = models.DeliveryState(rawState)
		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}

	return messages, nil
}
