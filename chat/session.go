package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"schoolchat/models"
	"schoolchat/storage"
)

var (
	// ErrNoActivePeer indicates a message was sent with no conversation open.
	ErrNoActivePeer = errors.New("chat: no active conversation")
	// ErrEmptyMessage indicates a blank outbound message was rejected.
	ErrEmptyMessage = errors.New("chat: message body is empty")
)

// DefaultHistoryTimeout bounds one conversation backlog fetch.
const DefaultHistoryTimeout = 15 * time.Second

// Directory provides the backend REST collaborators the session depends on.
type Directory interface {
	MyInfo(ctx context.Context) (models.User, error)
	ContactList(ctx context.Context) ([]models.Contact, error)
	Backlog(ctx context.Context, peerID int64) ([]models.BacklogEntry, error)
}

// Transport is the realtime chat socket.
type Transport interface {
	Connect(ctx context.Context) error
	Send(receiverID int64, body string) error
	Events() <-chan models.InboundEvent
	Done() <-chan struct{}
}

// HistoryFetchError reports a failed conversation backlog load.
type HistoryFetchError struct {
	PeerID int64
	Err    error
}

func (e *HistoryFetchError) Error() string {
	return fmt.Sprintf("load history for contact %d: %v", e.PeerID, e.Err)
}

func (e *HistoryFetchError) Unwrap() error {
	return e.Err
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Directory Directory
	Transport Transport
	// Cache is the optional local SQLite cache. When present, contacts and
	// conversations render from cache before the network answers.
	Cache *storage.Store
	// HistoryTimeout bounds each backlog fetch. Defaults to 15 seconds.
	HistoryTimeout time.Duration
	// OnChange fires after any observable state change. It may be called
	// from multiple goroutines.
	OnChange func()
	// OnNotice surfaces user-facing warnings such as server rejections and
	// failed history loads.
	OnNotice func(text string)
}

// Session orchestrates one signed-in chat session: identity, ranked
// contacts, the active conversation timeline, and inbound event routing.
type Session struct {
	directory      Directory
	transport      Transport
	cache          *storage.Store
	historyTimeout time.Duration
	onChange       func()
	onNotice       func(string)

	mu         sync.Mutex
	self       models.User
	contacts   *ContactList
	timeline   *Timeline
	pending    map[int64][]models.Message
	historyGen uint64

	stopOnce sync.Once
	stop     chan struct{}
}

// NewSession creates a session. Call Start to load identity and contacts and
// begin consuming transport events.
func NewSession(options SessionOptions) (*Session, error) {
	if options.Directory == nil {
		return nil, errors.New("chat: directory is required")
	}
	if options.Transport == nil {
		return nil, errors.New("chat: transport is required")
	}

	timeout := options.HistoryTimeout
	if timeout <= 0 {
		timeout = DefaultHistoryTimeout
	}

	return &Session{
		directory:      options.Directory,
		transport:      options.Transport,
		cache:          options.Cache,
		historyTimeout: timeout,
		onChange:       options.OnChange,
		onNotice:       options.OnNotice,
		contacts:       NewContactList(),
		pending:        make(map[int64][]models.Message),
		stop:           make(chan struct{}),
	}, nil
}

// Start loads the user's identity and contact list, connects the transport,
// and begins routing inbound events. Identity is mandatory; a failed contact
// list load falls back to the local cache when one exists.
func (s *Session) Start(ctx context.Context) error {
	self, err := s.directory.MyInfo(ctx)
	if err != nil {
		return fmt.Errorf("load own identity: %w", err)
	}

	contacts, err := s.directory.ContactList(ctx)
	if err != nil {
		cached, cacheErr := s.cachedContacts()
		if cacheErr != nil || len(cached) == 0 {
			return fmt.Errorf("load contact list: %w", err)
		}
		contacts = cached
		s.notice(fmt.Sprintf("showing cached contacts, refresh failed: %v", err))
	} else if s.cache != nil {
		if err := s.cache.UpsertContacts(contacts); err != nil {
			log.Printf("chat: cache contact list: %v", err)
		}
	}

	s.mu.Lock()
	s.self = self
	s.contacts.Load(contacts)
	s.mu.Unlock()

	if err := s.transport.Connect(ctx); err != nil {
		// The transport retries on its own; surface the failure and go on.
		s.notice(fmt.Sprintf("chat connection failed: %v", err))
		log.Printf("chat: initial connect: %v", err)
	}

	go s.eventLoop()
	s.changed()
	return nil
}

// Stop ends event routing. It does not close the transport; the owner does.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// Self returns the signed-in user.
func (s *Session) Self() models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// Contacts returns the contact list ranked by most recent activity.
func (s *Session) Contacts() []models.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contacts.Ranked()
}

// ActivePeer returns the open conversation's peer, if any.
func (s *Session) ActivePeer() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timeline == nil {
		return 0, false
	}
	return s.timeline.PeerID(), true
}

// Messages returns the active conversation's timeline in display order.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timeline == nil {
		return nil
	}
	return s.timeline.Messages()
}

// SelectPeer opens the conversation with a contact. The timeline seeds from
// the local cache immediately and is replaced when the backend history
// arrives; a history response belonging to a superseded selection is
// discarded.
func (s *Session) SelectPeer(peerID int64) error {
	s.mu.Lock()
	if _, ok := s.contacts.Get(peerID); !ok {
		s.mu.Unlock()
		return fmt.Errorf("chat: unknown contact %d", peerID)
	}
	s.historyGen++
	gen := s.historyGen
	s.timeline = NewTimeline(s.self.ID, peerID)
	s.mu.Unlock()

	s.seedFromCache(gen, peerID)
	go s.loadHistory(gen, peerID)

	s.changed()
	return nil
}

// SendMessage sends a message in the active conversation. The timeline gains
// an optimistic entry only after the transport accepts the write, so a
// closed connection never leaves a phantom message behind.
func (s *Session) SendMessage(body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.timeline == nil {
		s.mu.Unlock()
		return ErrNoActivePeer
	}
	peerID := s.timeline.PeerID()
	s.mu.Unlock()

	if err := s.transport.Send(peerID, body); err != nil {
		return err
	}

	s.mu.Lock()
	if s.timeline != nil && s.timeline.PeerID() == peerID {
		s.timeline.AppendOptimistic(body)
	}
	s.mu.Unlock()

	s.changed()
	return nil
}

func (s *Session) eventLoop() {
	for {
		select {
		case <-s.stop:
			return
		case <-s.transport.Done():
			return
		case event := <-s.transport.Events():
			s.handleEvent(event)
		}
	}
}

func (s *Session) handleEvent(event models.InboundEvent) {
	switch ev := event.(type) {
	case models.MessageConfirmed:
		s.handleConfirmed(ev)
	case models.MessageReceived:
		s.handleReceived(ev)
	case models.PresenceChanged:
		s.handlePresence(ev)
	case models.ServerError:
		s.notice("server rejected message: " + ev.Message)
	default:
		log.Printf("chat: ignoring unexpected event %T", event)
	}
}

func (s *Session) handleConfirmed(event models.MessageConfirmed) {
	message := models.Message{
		ID:        event.MessageID,
		PeerID:    event.ReceiverID,
		SenderID:  event.SenderID,
		Body:      event.Body,
		Timestamp: event.Timestamp,
		State:     models.DeliveryConfirmed,
	}

	s.mu.Lock()
	changed := s.contacts.Touch(event.ReceiverID, event.Body, event.Timestamp)
	if s.timeline != nil && s.timeline.PeerID() == event.ReceiverID {
		changed = s.timeline.Confirm(event) || changed
	} else {
		s.pending[event.ReceiverID] = append(s.pending[event.ReceiverID], message)
	}
	s.mu.Unlock()

	s.persistMessage(message)
	s.persistContact(event.ReceiverID)
	if changed {
		s.changed()
	}
}

func (s *Session) handleReceived(event models.MessageReceived) {
	message := models.Message{
		ID:        event.MessageID,
		PeerID:    event.SenderID,
		SenderID:  event.SenderID,
		Body:      event.Body,
		Timestamp: event.Timestamp,
		State:     models.DeliveryReceived,
	}

	s.mu.Lock()
	changed := s.contacts.Touch(event.SenderID, event.Body, event.Timestamp)
	if s.timeline != nil && s.timeline.PeerID() == event.SenderID {
		changed = s.timeline.Receive(event) || changed
	} else {
		s.pending[event.SenderID] = append(s.pending[event.SenderID], message)
	}
	s.mu.Unlock()

	s.persistMessage(message)
	s.persistContact(event.SenderID)
	if changed {
		s.changed()
	}
}

func (s *Session) handlePresence(event models.PresenceChanged) {
	s.mu.Lock()
	changed := s.contacts.SetOnline(event.UserID, event.Online)
	s.mu.Unlock()

	if changed {
		s.persistContact(event.UserID)
		s.changed()
	}
}

func (s *Session) seedFromCache(gen uint64, peerID int64) {
	if s.cache == nil {
		return
	}

	cached, err := s.cache.GetConversation(peerID, 0, 0)
	if err != nil {
		log.Printf("chat: read cached conversation %d: %v", peerID, err)
		return
	}
	if len(cached) == 0 {
		return
	}

	s.mu.Lock()
	if s.historyGen == gen && s.timeline != nil && s.timeline.PeerID() == peerID {
		s.timeline.Reset(cached)
	}
	s.mu.Unlock()
	s.changed()
}

func (s *Session) loadHistory(gen uint64, peerID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.historyTimeout)
	defer cancel()

	entries, err := s.directory.Backlog(ctx, peerID)
	if err != nil {
		fetchErr := &HistoryFetchError{PeerID: peerID, Err: err}
		log.Printf("chat: %v", fetchErr)
		s.notice(fetchErr.Error())

		// Live messages that arrived meanwhile still belong in the view.
		s.mu.Lock()
		if s.historyGen == gen && s.timeline != nil && s.timeline.PeerID() == peerID {
			s.timeline.Merge(s.takePendingLocked(peerID))
		}
		s.mu.Unlock()
		s.changed()
		return
	}

	s.mu.Lock()
	selfID := s.self.ID
	s.mu.Unlock()
	history := backlogToMessages(selfID, peerID, entries)

	s.mu.Lock()
	stale := s.historyGen != gen || s.timeline == nil || s.timeline.PeerID() != peerID
	if !stale {
		s.timeline.Reset(history)
		s.timeline.Merge(s.takePendingLocked(peerID))
	}
	s.mu.Unlock()

	if stale {
		return
	}

	if s.cache != nil {
		if err := s.cache.ReplaceConversation(peerID, history); err != nil {
			log.Printf("chat: cache conversation %d: %v", peerID, err)
		}
	}
	s.changed()
}

// takePendingLocked must be called with s.mu held.
func (s *Session) takePendingLocked(peerID int64) []models.Message {
	buffered := s.pending[peerID]
	delete(s.pending, peerID)
	return buffered
}

func (s *Session) cachedContacts() ([]models.Contact, error) {
	if s.cache == nil {
		return nil, nil
	}
	return s.cache.ListContacts()
}

func (s *Session) persistMessage(message models.Message) {
	if s.cache == nil || message.ID == 0 {
		return
	}
	if err := s.cache.AppendMessage(message); err != nil {
		log.Printf("chat: cache message %d: %v", message.ID, err)
	}
}

func (s *Session) persistContact(contactID int64) {
	if s.cache == nil {
		return
	}

	s.mu.Lock()
	contact, ok := s.contacts.Get(contactID)
	s.mu.Unlock()
	if !ok {
		return
	}

	if err := s.cache.UpsertContact(contact); err != nil {
		log.Printf("chat: cache contact %d: %v", contactID, err)
	}
}

func (s *Session) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

func (s *Session) notice(text string) {
	if s.onNotice != nil {
		s.onNotice(text)
	}
}

func backlogToMessages(selfID, peerID int64, entries []models.BacklogEntry) []models.Message {
	messages := make([]models.Message, 0, len(entries))
	for _, entry := range entries {
		state := models.DeliveryReceived
		if entry.SenderID == selfID {
			state = models.DeliveryConfirmed
		}
		messages = append(messages, models.Message{
			ID:        entry.ID,
			PeerID:    peerID,
			SenderID:  entry.SenderID,
			Body:      entry.Body,
			Timestamp: entry.Timestamp,
			State:     state,
		})
	}
	return messages
}
