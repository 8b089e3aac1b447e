package chat

import (
	"sort"
	"time"

	"schoolchat/models"
)

// ContactList ranks the user's contacts by most recent conversation
// activity. Contacts without any history rank last in their loaded order.
//
// ContactList is not safe for concurrent use; Session serializes access.
type ContactList struct {
	contacts []models.Contact
	index    map[int64]int
}

// NewContactList creates an empty contact list.
func NewContactList() *ContactList {
	return &ContactList{
		index: make(map[int64]int),
	}
}

// Load replaces the contact set, preserving the given order as the tiebreak
// for contacts without history.
func (cl *ContactList) Load(contacts []models.Contact) {
	cl.contacts = make([]models.Contact, 0, len(contacts))
	cl.index = make(map[int64]int, len(contacts))

	for _, contact := range contacts {
		if _, exists := cl.index[contact.ID]; exists {
			continue
		}
		cl.index[contact.ID] = len(cl.contacts)
		cl.contacts = append(cl.contacts, contact)
	}
}

// Get returns one contact by ID.
func (cl *ContactList) Get(contactID int64) (models.Contact, bool) {
	i, ok := cl.index[contactID]
	if !ok {
		return models.Contact{}, false
	}
	return cl.contacts[i], true
}

// Touch records conversation activity for a contact. Timestamps are
// monotonic per contact: an update older than the recorded activity is
// ignored. Returns whether the contact changed.
func (cl *ContactList) Touch(contactID int64, lastMessage string, at time.Time) bool {
	i, ok := cl.index[contactID]
	if !ok {
		return false
	}

	contact := &cl.contacts[i]
	if !contact.LastMessageTimestamp.IsZero() && at.Before(contact.LastMessageTimestamp) {
		return false
	}

	contact.LastMessageText = lastMessage
	contact.LastMessageTimestamp = at
	return true
}

// SetOnline updates a contact's presence. Returns whether the contact
// changed.
func (cl *ContactList) SetOnline(contactID int64, online bool) bool {
	i, ok := cl.index[contactID]
	if !ok {
		return false
	}
	if cl.contacts[i].Online == online {
		return false
	}
	cl.contacts[i].Online = online
	return true
}

// Ranked returns a copy of the contacts ordered by most recent activity
// descending, with history-less contacts last in loaded order.
func (cl *ContactList) Ranked() []models.Contact {
	ranked := make([]models.Contact, len(cl.contacts))
	copy(ranked, cl.contacts)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].LastMessageTimestamp, ranked[j].LastMessageTimestamp
		switch {
		case a.IsZero():
			return false
		case b.IsZero():
			return true
		default:
			return a.After(b)
		}
	})

	return ranked
}

// Len returns the number of contacts.
func (cl *ContactList) Len() int {
	return len(cl.contacts)
}
