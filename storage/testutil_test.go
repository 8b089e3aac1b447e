package storage

import (
	"testing"
	"time"

	"schoolchat/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustUpsertContact(t *testing.T, store *Store, id int64, name string) {
	t.Helper()

	err := store.UpsertContact(models.Contact{
		ID:          id,
		DisplayName: name,
	})
	if err != nil {
		t.Fatalf("upsert contact %d: %v", id, err)
	}
}

func testTime(offsetSeconds int) time.Time {
	return time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(offsetSeconds) * time.Second)
}
