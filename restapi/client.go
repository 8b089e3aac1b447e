// Package restapi wraps the school backend's REST collaborators consumed by
// the chat surface: the current-user lookup, the contact list, and the
// per-conversation message backlog.
package restapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"schoolchat/models"
)

// DefaultTimeout bounds every backlog/contact request round-trip.
const DefaultTimeout = 15 * time.Second

// TokenProvider returns the current bearer token, or "" when logged out.
type TokenProvider func() string

// Client calls the chat REST endpoints.
type Client struct {
	baseURL string
	token   TokenProvider
	http    *http.Client
}

// New creates a REST client for a server base URL such as
// "https://api.learnerapp.site".
func New(baseURL string, token TokenProvider) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

// SetHTTPClient replaces the underlying HTTP client (used by tests).
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.http = httpClient
}

type wireUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type wireContact struct {
	ID                   int64   `json:"id"`
	FirstName            string  `json:"first_name"`
	LastName             string  `json:"last_name"`
	DisplayName          string  `json:"display_name"`
	ProfileImage         string  `json:"profile_image"`
	IsOnline             bool    `json:"is_online"`
	LastMessage          *string `json:"last_message"`
	LastMessageTimestamp *string `json:"last_message_timestamp"`
}

type wireBacklogEntry struct {
	ID        int64  `json:"id"`
	Sender    int64  `json:"sender"`
	Receiver  int64  `json:"receiver"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// MyInfo fetches the authenticated user's identity via GET /chat/my-info/.
func (c *Client) MyInfo(ctx context.Context) (models.User, error) {
	var wire wireUser
	if err := c.getJSON(ctx, "/chat/my-info/", &wire); err != nil {
		return models.User{}, err
	}

	return models.User{
		ID:        wire.ID,
		FirstName: wire.FirstName,
		LastName:  wire.LastName,
	}, nil
}

// ContactList fetches the user's allowed peers via GET /chat/contact-list/.
func (c *Client) ContactList(ctx context.Context) ([]models.Contact, error) {
	var wire []wireContact
	if err := c.getJSON(ctx, "/chat/contact-list/", &wire); err != nil {
		return nil, err
	}

	contacts := make([]models.Contact, 0, len(wire))
	for _, entry := range wire {
		contact := models.Contact{
			ID:           entry.ID,
			FirstName:    entry.FirstName,
			LastName:     entry.LastName,
			DisplayName:  entry.DisplayName,
			ProfileImage: entry.ProfileImage,
			Online:       entry.IsOnline,
		}
		if entry.LastMessage != nil {
			contact.LastMessageText = *entry.LastMessage
		}
		if entry.LastMessageTimestamp != nil && *entry.LastMessageTimestamp != "" {
			ts, err := models.ParseTimestamp(*entry.LastMessageTimestamp)
			if err != nil {
				return nil, fmt.Errorf("contact %d: %w", entry.ID, err)
			}
			contact.LastMessageTimestamp = ts
		}
		contacts = append(contacts, contact)
	}

	return contacts, nil
}

// Backlog fetches the persisted conversation history with one peer via
// GET /chat/messages/{peerId}/, ordered by timestamp ascending.
func (c *Client) Backlog(ctx context.Context, peerID int64) ([]models.BacklogEntry, error) {
	var wire []wireBacklogEntry
	path := fmt.Sprintf("/chat/messages/%d/", peerID)
	if err := c.getJSON(ctx, path, &wire); err != nil {
		return nil, err
	}

	entries := make([]models.BacklogEntry, 0, len(wire))
	for _, row := range wire {
		ts, err := models.ParseTimestamp(row.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("backlog message %d: %w", row.ID, err)
		}
		entries = append(entries, models.BacklogEntry{
			ID:         row.ID,
			SenderID:   row.Sender,
			ReceiverID: row.Receiver,
			Body:       row.Message,
			Timestamp:  ts,
		})
	}

	return entries, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", path, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}

	return nil
}
