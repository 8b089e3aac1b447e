package network

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"schoolchat/models"
)

type chatServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	accepted chan *websocket.Conn
}

func newChatServer(t *testing.T) *chatServer {
	t.Helper()

	cs := &chatServer{
		accepted: make(chan *websocket.Conn, 8),
	}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/ws/chat/") {
			http.NotFound(w, r)
			return
		}
		conn, err := cs.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cs.accepted <- conn
	}))
	t.Cleanup(cs.srv.Close)

	return cs
}

func (cs *chatServer) endpoint() string {
	return "ws" + strings.TrimPrefix(cs.srv.URL, "http")
}

func (cs *chatServer) waitForConn(t *testing.T) *websocket.Conn {
	t.Helper()

	select {
	case conn := <-cs.accepted:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for websocket upgrade")
		return nil
	}
}

type scheduledCall struct {
	delay    time.Duration
	fn       func()
	canceled bool
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []*scheduledCall
}

func (s *fakeScheduler) AfterFunc(delay time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := &scheduledCall{delay: delay, fn: fn}
	s.calls = append(s.calls, call)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		call.canceled = true
	}
}

func (s *fakeScheduler) pending() []*scheduledCall {
	s.mu.Lock()
	defer s.mu.Unlock()

	var live []*scheduledCall
	for _, call := range s.calls {
		if !call.canceled {
			live = append(live, call)
		}
	}
	return live
}

func (s *fakeScheduler) fireLast(t *testing.T) {
	t.Helper()

	live := s.pending()
	if len(live) == 0 {
		t.Fatal("no scheduled call to fire")
	}
	live[len(live)-1].fn()
}

func staticToken(token string) TokenProvider {
	return func() string { return token }
}

func newTestConn(t *testing.T, cs *chatServer, sched Scheduler) *Conn {
	t.Helper()

	conn, err := NewConn(Options{
		Endpoint:  cs.endpoint(),
		Token:     staticToken("test-token"),
		Scheduler: sched,
	})
	if err != nil {
		t.Fatalf("create conn: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func TestConnectDeliversDecodedEvents(t *testing.T) {
	cs := newChatServer(t)
	conn := newTestConn(t, cs, &fakeScheduler{})

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if state := conn.State(); state != StateOpen {
		t.Fatalf("expected state OPEN, got %s", state)
	}

	server := cs.waitForConn(t)
	frame := `{"status":"received","message_id":7,"sender_id":3,"message":"hello","timestamp":"2024-01-01T10:00:00Z"}`
	if err := server.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case event := <-conn.Events():
		received, ok := event.(models.MessageReceived)
		if !ok {
			t.Fatalf("expected MessageReceived, got %T", event)
		}
		if received.MessageID != 7 || received.SenderID != 3 || received.Body != "hello" {
			t.Fatalf("unexpected event %+v", received)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decoded event")
	}
}

func TestSendRequiresOpenConnection(t *testing.T) {
	cs := newChatServer(t)
	conn := newTestConn(t, cs, &fakeScheduler{})

	if err := conn.Send(5, "too early"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
}

func TestSendWritesOutboundFrame(t *testing.T) {
	cs := newChatServer(t)
	conn := newTestConn(t, cs, &fakeScheduler{})

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	server := cs.waitForConn(t)

	if err := conn.Send(42, "see you at 4"); err != nil {
		t.Fatalf("send: %v", err)
	}

	var outbound models.OutboundMessage
	if err := server.ReadJSON(&outbound); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if outbound.ReceiverID != 42 || outbound.Message != "see you at 4" {
		t.Fatalf("unexpected outbound frame %+v", outbound)
	}
}

func TestConnectSupersedesPreviousSocket(t *testing.T) {
	cs := newChatServer(t)
	conn := newTestConn(t, cs, &fakeScheduler{})

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	first := cs.waitForConn(t)

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	second := cs.waitForConn(t)

	// The first socket must be closed with a normal closure code.
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal closure on first socket, got %v", err)
	}

	// The surviving socket still carries traffic.
	frame := `{"status":"received","message_id":1,"sender_id":2,"message":"still here","timestamp":"2024-01-01T10:00:00Z"}`
	if err := second.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("second socket write: %v", err)
	}
	select {
	case event := <-conn.Events():
		if _, ok := event.(models.MessageReceived); !ok {
			t.Fatalf("expected MessageReceived, got %T", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event on surviving socket")
	}
}

func TestAbnormalClosureSchedulesReconnect(t *testing.T) {
	cs := newChatServer(t)
	sched := &fakeScheduler{}
	conn := newTestConn(t, cs, sched)

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	server := cs.waitForConn(t)

	// Drop the socket without a close handshake.
	_ = server.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(sched.pending()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no reconnect was scheduled after abnormal closure")
		}
		time.Sleep(10 * time.Millisecond)
	}

	pending := sched.pending()
	if len(pending) != 1 {
		t.Fatalf("expected exactly one scheduled reconnect, got %d", len(pending))
	}
	if pending[0].delay != DefaultReconnectDelay {
		t.Fatalf("expected reconnect delay %v, got %v", DefaultReconnectDelay, pending[0].delay)
	}
	if state := conn.State(); state != StateFailed {
		t.Fatalf("expected state FAILED before retry fires, got %s", state)
	}

	sched.fireLast(t)
	cs.waitForConn(t)

	deadline = time.Now().Add(2 * time.Second)
	for conn.State() != StateOpen {
		if time.Now().After(deadline) {
			t.Fatalf("expected state OPEN after reconnect, got %s", conn.State())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCloseDoesNotRetry(t *testing.T) {
	cs := newChatServer(t)
	sched := &fakeScheduler{}
	conn := newTestConn(t, cs, sched)

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	server := cs.waitForConn(t)

	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	_ = server.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := server.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal closure, got %v", err)
	}

	// Give any stray closure handling a moment to run.
	time.Sleep(50 * time.Millisecond)
	if pending := sched.pending(); len(pending) != 0 {
		t.Fatalf("expected no scheduled reconnects after close, got %d", len(pending))
	}
	if state := conn.State(); state != StateClosed {
		t.Fatalf("expected state CLOSED, got %s", state)
	}

	if err := conn.Send(1, "after close"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen after close, got %v", err)
	}
}

func TestConnectWithoutTokenFails(t *testing.T) {
	cs := newChatServer(t)

	conn, err := NewConn(Options{
		Endpoint:  cs.endpoint(),
		Token:     staticToken(""),
		Scheduler: &fakeScheduler{},
	})
	if err != nil {
		t.Fatalf("create conn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := conn.Connect(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}
