package models

import "time"

// User is the authenticated user's identity from GET /chat/my-info/.
type User struct {
	ID        int64
	FirstName string
	LastName  string
}

// Contact is a prospective or active conversation peer.
//
// LastMessageTimestamp is the zero time for contacts that have no
// conversation history yet; the ranker sorts those after all timestamped
// contacts.
type Contact struct {
	ID                   int64
	FirstName            string
	LastName             string
	DisplayName          string
	ProfileImage         string
	Online               bool
	LastMessageText      string
	LastMessageTimestamp time.Time
}
