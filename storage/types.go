package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"schoolchat/models"
)

// ErrNotFound indicates a requested row does not exist.
var ErrNotFound = errors.New("storage: record not found")

// timestampLayout is the canonical stored timestamp format. TEXT ordering on
// this layout matches chronological ordering for UTC values.
const timestampLayout = time.RFC3339Nano

type scanner interface {
	Scan(dest ...any) error
}

func validateCachedState(state models.DeliveryState) error {
	switch state {
	case models.DeliveryConfirmed, models.DeliveryReceived:
		return nil
	default:
		return fmt.Errorf("delivery state %q is not cacheable", state)
	}
}

func encodeTimestamp(ts time.Time) string {
	return ts.UTC().Format(timestampLayout)
}

func decodeTimestamp(value string) (time.Time, error) {
	ts, err := time.Parse(timestampLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", value, err)
	}
	return ts, nil
}

func nullTimestamp(ts time.Time) sql.NullString {
	if ts.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: encodeTimestamp(ts), Valid: true}
}
