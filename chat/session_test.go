package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"schoolchat/models"
	"schoolchat/network"
	"schoolchat/storage"
)

type fakeDirectory struct {
	user        models.User
	userErr     error
	contacts    []models.Contact
	contactsErr error

	mu       sync.Mutex
	backlogs map[int64][]models.BacklogEntry
	errs     map[int64]error
	gates    map[int64]chan struct{}
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		user: models.User{ID: 9, FirstName: "Sam", LastName: "Iyer"},
		contacts: []models.Contact{
			{ID: 3, DisplayName: "Asha Nair"},
			{ID: 4, DisplayName: "Ravi Menon"},
		},
		backlogs: make(map[int64][]models.BacklogEntry),
		errs:     make(map[int64]error),
		gates:    make(map[int64]chan struct{}),
	}
}

func (d *fakeDirectory) MyInfo(ctx context.Context) (models.User, error) {
	return d.user, d.userErr
}

func (d *fakeDirectory) ContactList(ctx context.Context) ([]models.Contact, error) {
	return d.contacts, d.contactsErr
}

func (d *fakeDirectory) Backlog(ctx context.Context, peerID int64) ([]models.BacklogEntry, error) {
	d.mu.Lock()
	gate := d.gates[peerID]
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.errs[peerID]; err != nil {
		return nil, err
	}
	return d.backlogs[peerID], nil
}

func (d *fakeDirectory) gateBacklog(peerID int64) chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	gate := make(chan struct{})
	d.gates[peerID] = gate
	return gate
}

type fakeTransport struct {
	mu      sync.Mutex
	sent    []models.OutboundMessage
	sendErr error

	events chan models.InboundEvent
	done   chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan models.InboundEvent, 16),
		done:   make(chan struct{}),
	}
}

func (tr *fakeTransport) Connect(ctx context.Context) error { return nil }

func (tr *fakeTransport) Send(receiverID int64, body string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.sendErr != nil {
		return tr.sendErr
	}
	tr.sent = append(tr.sent, models.OutboundMessage{ReceiverID: receiverID, Message: body})
	return nil
}

func (tr *fakeTransport) Events() <-chan models.InboundEvent { return tr.events }
func (tr *fakeTransport) Done() <-chan struct{}              { return tr.done }

func (tr *fakeTransport) sentFrames() []models.OutboundMessage {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	frames := make([]models.OutboundMessage, len(tr.sent))
	copy(frames, tr.sent)
	return frames
}

func newTestSession(t *testing.T, directory Directory, transport Transport) *Session {
	t.Helper()

	session, err := NewSession(SessionOptions{
		Directory: directory,
		Transport: transport,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	t.Cleanup(session.Stop)

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	return session
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartLoadsIdentityAndContacts(t *testing.T) {
	session := newTestSession(t, newFakeDirectory(), newFakeTransport())

	if self := session.Self(); self.ID != 9 {
		t.Fatalf("unexpected identity %+v", self)
	}
	if contacts := session.Contacts(); len(contacts) != 2 {
		t.Fatalf("expected 2 contacts, got %d", len(contacts))
	}
	if _, active := session.ActivePeer(); active {
		t.Fatal("no conversation should be active after start")
	}
}

func TestStartFailsWithoutIdentity(t *testing.T) {
	directory := newFakeDirectory()
	directory.userErr = errors.New("401 unauthorized")

	session, err := NewSession(SessionOptions{
		Directory: directory,
		Transport: newFakeTransport(),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := session.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail without identity")
	}
}

func TestStartFallsBackToCachedContacts(t *testing.T) {
	store, _, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.UpsertContact(models.Contact{ID: 3, DisplayName: "Cached Asha"}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	directory := newFakeDirectory()
	directory.contactsErr = errors.New("network unreachable")

	var notices []string
	session, err := NewSession(SessionOptions{
		Directory: directory,
		Transport: newFakeTransport(),
		Cache:     store,
		OnNotice:  func(text string) { notices = append(notices, text) },
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	t.Cleanup(session.Stop)

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start with cached contacts: %v", err)
	}

	contacts := session.Contacts()
	if len(contacts) != 1 || contacts[0].DisplayName != "Cached Asha" {
		t.Fatalf("expected cached contact, got %+v", contacts)
	}
	if len(notices) == 0 {
		t.Fatal("expected a notice about the failed refresh")
	}
}

func TestSelectPeerLoadsBacklog(t *testing.T) {
	directory := newFakeDirectory()
	directory.backlogs[3] = []models.BacklogEntry{
		{ID: 1, SenderID: 3, ReceiverID: 9, Body: "hello", Timestamp: timelineTime(10)},
		{ID: 2, SenderID: 9, ReceiverID: 3, Body: "hi back", Timestamp: timelineTime(20)},
	}
	session := newTestSession(t, directory, newFakeTransport())

	if err := session.SelectPeer(3); err != nil {
		t.Fatalf("select peer: %v", err)
	}

	waitFor(t, "backlog to load", func() bool {
		return len(session.Messages()) == 2
	})

	messages := session.Messages()
	if messages[0].State != models.DeliveryReceived {
		t.Fatalf("peer message should load as received, got %q", messages[0].State)
	}
	if messages[1].State != models.DeliveryConfirmed {
		t.Fatalf("own message should load as confirmed, got %q", messages[1].State)
	}
}

func TestSelectUnknownPeerFails(t *testing.T) {
	session := newTestSession(t, newFakeDirectory(), newFakeTransport())

	if err := session.SelectPeer(999); err == nil {
		t.Fatal("expected error for unknown contact")
	}
}

func TestStaleHistoryIsDiscarded(t *testing.T) {
	directory := newFakeDirectory()
	directory.backlogs[3] = []models.BacklogEntry{
		{ID: 1, SenderID: 3, ReceiverID: 9, Body: "from asha", Timestamp: timelineTime(10)},
	}
	directory.backlogs[4] = []models.BacklogEntry{
		{ID: 2, SenderID: 4, ReceiverID: 9, Body: "from ravi", Timestamp: timelineTime(20)},
	}
	gate := directory.gateBacklog(3)

	session := newTestSession(t, directory, newFakeTransport())

	if err := session.SelectPeer(3); err != nil {
		t.Fatalf("select first peer: %v", err)
	}
	if err := session.SelectPeer(4); err != nil {
		t.Fatalf("select second peer: %v", err)
	}

	waitFor(t, "second peer's backlog", func() bool {
		messages := session.Messages()
		return len(messages) == 1 && messages[0].Body == "from ravi"
	})

	// Release the slow fetch for the superseded selection.
	close(gate)

	// The late response must not clobber the active conversation.
	time.Sleep(100 * time.Millisecond)
	messages := session.Messages()
	if len(messages) != 1 || messages[0].Body != "from ravi" {
		t.Fatalf("stale history overwrote the active conversation: %+v", messages)
	}
	if peer, _ := session.ActivePeer(); peer != 4 {
		t.Fatalf("expected active peer 4, got %d", peer)
	}
}

func TestSendMessageAppendsOptimisticEntry(t *testing.T) {
	transport := newFakeTransport()
	session := newTestSession(t, newFakeDirectory(), transport)

	if err := session.SelectPeer(3); err != nil {
		t.Fatalf("select peer: %v", err)
	}
	if err := session.SendMessage("  see you at 4  "); err != nil {
		t.Fatalf("send message: %v", err)
	}

	frames := transport.sentFrames()
	if len(frames) != 1 || frames[0].ReceiverID != 3 || frames[0].Message != "see you at 4" {
		t.Fatalf("unexpected outbound frames %+v", frames)
	}

	waitFor(t, "optimistic entry", func() bool {
		for _, message := range session.Messages() {
			if message.State == models.DeliveryOptimistic && message.Body == "see you at 4" {
				return true
			}
		}
		return false
	})
}

func TestSendMessageRejectsBlankBody(t *testing.T) {
	session := newTestSession(t, newFakeDirectory(), newFakeTransport())

	if err := session.SelectPeer(3); err != nil {
		t.Fatalf("select peer: %v", err)
	}
	if err := session.SendMessage("   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestSendMessageRequiresActivePeer(t *testing.T) {
	session := newTestSession(t, newFakeDirectory(), newFakeTransport())

	if err := session.SendMessage("hello"); !errors.Is(err, ErrNoActivePeer) {
		t.Fatalf("expected ErrNoActivePeer, got %v", err)
	}
}

func TestSendMessageLeavesNoEntryWhenTransportRefuses(t *testing.T) {
	transport := newFakeTransport()
	transport.sendErr = network.ErrNotOpen
	session := newTestSession(t, newFakeDirectory(), transport)

	if err := session.SelectPeer(3); err != nil {
		t.Fatalf("select peer: %v", err)
	}
	if err := session.SendMessage("hello"); !errors.Is(err, network.ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	for _, message := range session.Messages() {
		if message.State == models.DeliveryOptimistic {
			t.Fatalf("refused send left a phantom entry: %+v", message)
		}
	}
}

func TestConfirmationReconcilesActiveConversation(t *testing.T) {
	transport := newFakeTransport()
	session := newTestSession(t, newFakeDirectory(), transport)

	if err := session.SelectPeer(3); err != nil {
		t.Fatalf("select peer: %v", err)
	}
	if err := session.SendMessage("on my way"); err != nil {
		t.Fatalf("send message: %v", err)
	}

	transport.events <- models.MessageConfirmed{
		MessageID:  41,
		SenderID:   9,
		ReceiverID: 3,
		Body:       "on my way",
		Timestamp:  timelineTime(100),
	}

	waitFor(t, "confirmation to apply", func() bool {
		for _, message := range session.Messages() {
			if message.ID == 41 && message.State == models.DeliveryConfirmed {
				return true
			}
		}
		return false
	})

	for _, message := range session.Messages() {
		if message.State == models.DeliveryOptimistic {
			t.Fatalf("optimistic entry survived confirmation: %+v", message)
		}
	}
}

func TestReceivedForInactivePeerBuffersUntilSelected(t *testing.T) {
	directory := newFakeDirectory()
	directory.backlogs[4] = []models.BacklogEntry{
		{ID: 1, SenderID: 4, ReceiverID: 9, Body: "from history", Timestamp: timelineTime(10)},
	}
	transport := newFakeTransport()
	session := newTestSession(t, directory, transport)

	if err := session.SelectPeer(3); err != nil {
		t.Fatalf("select peer: %v", err)
	}

	transport.events <- models.MessageReceived{
		MessageID: 2,
		SenderID:  4,
		Body:      "arrived while elsewhere",
		Timestamp: timelineTime(20),
	}

	// The inactive peer's message must not leak into the open conversation,
	// but its contact preview updates.
	waitFor(t, "contact preview update", func() bool {
		for _, contact := range session.Contacts() {
			if contact.ID == 4 && contact.LastMessageText == "arrived while elsewhere" {
				return true
			}
		}
		return false
	})
	for _, message := range session.Messages() {
		if message.SenderID == 4 {
			t.Fatalf("inactive peer's message leaked into the open conversation: %+v", message)
		}
	}

	if err := session.SelectPeer(4); err != nil {
		t.Fatalf("select second peer: %v", err)
	}
	waitFor(t, "history merged with live message", func() bool {
		messages := session.Messages()
		return len(messages) == 2 &&
			messages[0].Body == "from history" &&
			messages[1].Body == "arrived while elsewhere"
	})
}

func TestPresenceUpdatesContact(t *testing.T) {
	transport := newFakeTransport()
	session := newTestSession(t, newFakeDirectory(), transport)

	transport.events <- models.PresenceChanged{UserID: 3, Online: true}

	waitFor(t, "presence update", func() bool {
		for _, contact := range session.Contacts() {
			if contact.ID == 3 && contact.Online {
				return true
			}
		}
		return false
	})
}

func TestServerErrorSurfacesAsNotice(t *testing.T) {
	transport := newFakeTransport()
	noticeCh := make(chan string, 1)
	session, err := NewSession(SessionOptions{
		Directory: newFakeDirectory(),
		Transport: transport,
		OnNotice:  func(text string) { noticeCh <- text },
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	t.Cleanup(session.Stop)
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start session: %v", err)
	}

	transport.events <- models.ServerError{Message: "receiver not allowed"}

	select {
	case notice := <-noticeCh:
		if notice == "" {
			t.Fatal("expected a non-empty notice")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server error notice")
	}
}

func TestHistoryFetchErrorSurfacesAsNotice(t *testing.T) {
	directory := newFakeDirectory()
	directory.errs[3] = errors.New("502 bad gateway")

	noticeCh := make(chan string, 4)
	session, err := NewSession(SessionOptions{
		Directory: directory,
		Transport: newFakeTransport(),
		OnNotice:  func(text string) { noticeCh <- text },
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	t.Cleanup(session.Stop)
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start session: %v", err)
	}

	if err := session.SelectPeer(3); err != nil {
		t.Fatalf("select peer: %v", err)
	}

	select {
	case notice := <-noticeCh:
		if notice == "" {
			t.Fatal("expected a non-empty notice")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for history fetch notice")
	}
}
