package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"schoolchat/models"
)

// UpsertContact inserts or replaces one cached contact row.
func (s *Store) UpsertContact(contact models.Contact) error {
	if contact.ID == 0 {
		return errors.New("contact id is required")
	}
	if contact.DisplayName == "" {
		return errors.New("contact display name is required")
	}

	online := 0
	if contact.Online {
		online = 1
	}

	_, err := s.db.Exec(
		`INSERT INTO contacts (
			id,
			first_name,
			last_name,
			display_name,
			profile_image,
			is_online,
			last_message_text,
			last_message_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			display_name = excluded.display_name,
			profile_image = excluded.profile_image,
			is_online = excluded.is_online,
			last_message_text = excluded.last_message_text,
			last_message_timestamp = excluded.last_message_timestamp`,
		contact.ID,
		contact.FirstName,
		contact.LastName,
		contact.DisplayName,
		contact.ProfileImage,
		online,
		contact.LastMessageText,
		nullTimestamp(contact.LastMessageTimestamp),
	)
	if err != nil {
		return fmt.Errorf("upsert contact %d: %w", contact.ID, err)
	}

	return nil
}

// UpsertContacts replaces the cached contact rows for a full list load.
func (s *Store) UpsertContacts(contacts []models.Contact) error {
	for _, contact := range contacts {
		if err := s.UpsertContact(contact); err != nil {
			return err
		}
	}
	return nil
}

// ListContacts returns all cached contacts ordered by most recent activity,
// contacts without history last.
func (s *Store) ListContacts() ([]models.Contact, error) {
	rows, err := s.db.Query(
		`SELECT
			id,
			first_name,
			last_name,
			display_name,
			profile_image,
			is_online,
			last_message_text,
			last_message_timestamp
		FROM contacts
		ORDER BY last_message_timestamp IS NULL, last_message_timestamp DESC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]models.Contact, 0)
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact row: %w", err)
		}
		contacts = append(contacts, *contact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contact rows: %w", err)
	}

	return contacts, nil
}

// GetContact fetches one cached contact by ID.
func (s *Store) GetContact(contactID int64) (*models.Contact, error) {
	if contactID == 0 {
		return nil, errors.New("contact id is required")
	}

	row := s.db.QueryRow(
		`SELECT
			id,
			first_name,
			last_name,
			display_name,
			profile_image,
			is_online,
			last_message_text,
			last_message_timestamp
		FROM contacts
		WHERE id = ?`,
		contactID,
	)

	contact, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get contact %d: %w", contactID, err)
	}
	return contact, nil
}

func scanContact(row scanner) (*models.Contact, error) {
	var (
		contact  models.Contact
		online   int
		lastText string
		lastTS   sql.NullString
	)

	if err := row.Scan(
		&contact.ID,
		&contact.FirstName,
		&contact.LastName,
		&contact.DisplayName,
		&contact.ProfileImage,
		&online,
		&lastText,
		&lastTS,
	); err != nil {
		return nil, err
	}

	contact.Online = online == 1
	contact.LastMessageText = lastText
	if lastTS.Valid {
		ts, err := decodeTimestamp(lastTS.String)
		if err != nil {
			return nil, err
		}
		contact.LastMessageTimestamp = ts
	}

	return &contact, nil
}
