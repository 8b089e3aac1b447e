// Package network maintains the realtime chat socket: one WebSocket to the
// school backend, decoded inbound events, and automatic reconnection after
// abnormal closures.
package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"schoolchat/models"
)

var (
	// ErrNotOpen indicates a send was attempted without an open socket.
	ErrNotOpen = errors.New("network: connection is not open")
	// ErrNoToken indicates no access token is available to authenticate the
	// socket endpoint.
	ErrNoToken = errors.New("network: no access token")
)

// State represents the lifecycle state of the chat connection.
type State string

const (
	StateIdle       State = "IDLE"
	StateConnecting State = "CONNECTING"
	StateOpen       State = "OPEN"
	StateFailed     State = "FAILED"
	StateClosed     State = "CLOSED"
)

// DefaultReconnectDelay is the fixed delay before a reconnect attempt.
const DefaultReconnectDelay = 3 * time.Second

// TokenProvider returns the current bearer token, or "" when logged out.
type TokenProvider func() string

// Options controls runtime behavior of Conn.
type Options struct {
	// Endpoint is the ws(s) server base URL, e.g. "wss://api.learnerapp.site".
	Endpoint string
	// Token authenticates the socket path. Consulted on every (re)connect so
	// a refreshed token is picked up without restarting the client.
	Token TokenProvider
	// RetryPolicy paces reconnect attempts. Defaults to a constant delay.
	RetryPolicy backoff.BackOff
	// Scheduler defers reconnect attempts. Defaults to wall-clock timers.
	Scheduler Scheduler
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// OnStateChange, if set, observes every state transition. It must not
	// call back into Conn synchronously.
	OnStateChange func(State)
}

// Conn manages the single realtime chat socket. At most one socket is live at
// a time: every connect attempt supersedes whatever came before it, so an
// overlapping reconnect can never leave two sockets reading.
type Conn struct {
	endpoint string
	token    TokenProvider
	retry    backoff.BackOff
	sched    Scheduler
	dialer   *websocket.Dialer
	onState  func(State)

	mu           sync.Mutex
	state        State
	socket       *websocket.Conn
	generation   uint64
	retryPending bool
	retryCancel  func()

	writeMu sync.Mutex

	events    chan models.InboundEvent
	closeOnce sync.Once
	done      chan struct{}
}

// NewConn creates an unconnected Conn. Call Connect to bring the socket up.
func NewConn(options Options) (*Conn, error) {
	if options.Endpoint == "" {
		return nil, errors.New("network: endpoint is required")
	}
	if options.Token == nil {
		return nil, errors.New("network: token provider is required")
	}
	if _, err := url.Parse(options.Endpoint); err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", options.Endpoint, err)
	}

	retry := options.RetryPolicy
	if retry == nil {
		retry = backoff.NewConstantBackOff(DefaultReconnectDelay)
	}
	sched := options.Scheduler
	if sched == nil {
		sched = NewTimerScheduler()
	}
	dialer := options.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	return &Conn{
		endpoint: strings.TrimRight(options.Endpoint, "/"),
		token:    options.Token,
		retry:    retry,
		sched:    sched,
		dialer:   dialer,
		onState:  options.OnStateChange,
		state:    StateIdle,
		events:   make(chan models.InboundEvent, 64),
		done:     make(chan struct{}),
	}, nil
}

// Events delivers decoded inbound server events in arrival order.
func (c *Conn) Events() <-chan models.InboundEvent {
	return c.events
}

// Done is closed when the connection is permanently closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the chat socket. Any previous socket or pending reconnect is
// superseded. A dial failure schedules a reconnect before returning the error.
func (c *Conn) Connect(ctx context.Context) error {
	token := c.token()
	if token == "" {
		return ErrNoToken
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrNotOpen
	}
	c.generation++
	gen := c.generation
	c.cancelRetryLocked()
	previous := c.socket
	c.socket = nil
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	if previous != nil {
		closeSocket(previous, "superseded")
	}

	socket, resp, err := c.dialer.DialContext(ctx, chatEndpoint(c.endpoint, token), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		stale := c.generation != gen || c.state == StateClosed
		if !stale {
			c.setStateLocked(StateFailed)
		}
		c.mu.Unlock()
		if stale {
			return nil
		}
		c.scheduleRetry(gen)
		return fmt.Errorf("dial chat socket: %w", err)
	}

	c.mu.Lock()
	if c.generation != gen || c.state == StateClosed {
		c.mu.Unlock()
		closeSocket(socket, "superseded")
		return nil
	}
	c.socket = socket
	c.retry.Reset()
	c.setStateLocked(StateOpen)
	c.mu.Unlock()

	go c.readLoop(socket, gen)
	return nil
}

// Send writes one outbound chat message. It fails with ErrNotOpen unless the
// connection is currently open.
func (c *Conn) Send(receiverID int64, body string) error {
	c.mu.Lock()
	if c.state != StateOpen || c.socket == nil {
		c.mu.Unlock()
		return ErrNotOpen
	}
	socket := c.socket
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	err := socket.WriteJSON(models.OutboundMessage{
		ReceiverID: receiverID,
		Message:    body,
	})
	if err != nil {
		return fmt.Errorf("send chat message: %w", err)
	}
	return nil
}

// Close permanently shuts the connection down. The current socket is closed
// with a normal closure code and no reconnect is attempted. Close is
// idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.generation++
		c.cancelRetryLocked()
		socket := c.socket
		c.socket = nil
		c.setStateLocked(StateClosed)
		c.mu.Unlock()

		if socket != nil {
			closeSocket(socket, "client shutdown")
		}
		close(c.done)
	})
	return nil
}

func (c *Conn) readLoop(socket *websocket.Conn, gen uint64) {
	for {
		_, raw, err := socket.ReadMessage()
		if err != nil {
			c.handleClosure(gen, err)
			return
		}

		event, err := models.DecodeInbound(raw)
		if err != nil {
			log.Printf("network: dropping inbound frame: %v", err)
			continue
		}

		select {
		case c.events <- event:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) handleClosure(gen uint64, cause error) {
	c.mu.Lock()
	if c.generation != gen || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.socket = nil
	c.setStateLocked(StateFailed)
	c.mu.Unlock()

	log.Printf("network: chat socket closed: %v", cause)
	c.scheduleRetry(gen)
}

func (c *Conn) scheduleRetry(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen || c.state == StateClosed || c.retryPending {
		return
	}
	if c.token() == "" {
		return
	}

	delay := c.retry.NextBackOff()
	if delay == backoff.Stop {
		log.Print("network: retry policy exhausted, staying disconnected")
		return
	}

	c.retryPending = true
	c.retryCancel = c.sched.AfterFunc(delay, func() {
		c.mu.Lock()
		c.retryPending = false
		c.retryCancel = nil
		stale := c.generation != gen || c.state == StateClosed
		c.mu.Unlock()
		if stale {
			return
		}

		if err := c.Connect(context.Background()); err != nil {
			log.Printf("network: reconnect attempt failed: %v", err)
		}
	})
}

// cancelRetryLocked must be called with c.mu held.
func (c *Conn) cancelRetryLocked() {
	if c.retryCancel != nil {
		c.retryCancel()
		c.retryCancel = nil
	}
	c.retryPending = false
}

// setStateLocked must be called with c.mu held. The observer callback receives
// the new state as an argument so it never needs to re-enter Conn.
func (c *Conn) setStateLocked(state State) {
	if c.state == state {
		return
	}
	c.state = state
	if c.onState != nil {
		c.onState(state)
	}
}

func chatEndpoint(base, token string) string {
	return fmt.Sprintf("%s/ws/chat/%s/", base, url.PathEscape(token))
}

func closeSocket(socket *websocket.Conn, reason string) {
	deadline := time.Now().Add(time.Second)
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = socket.WriteControl(websocket.CloseMessage, message, deadline)
	_ = socket.Close()
}
