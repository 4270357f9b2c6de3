// Package realtime owns the client's websocket channels (chat, presence,
// notifications): connect, reconnect with backoff, teardown, and demux of
// inbound frames into handler fan-out.
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Pao040883/bogdol-go-dev-sub000/internal/wire"
	"github.com/Pao040883/bogdol-go-dev-sub000/pkg/logger"
)

var (
	// ErrNotConnected signals an outbound send while the channel is not
	// open. Sends are never queued for later delivery.
	ErrNotConnected = errors.New("channel not connected")
	// ErrReconnectExhausted signals that the reconnect budget was used up.
	// The channel stays down until an explicit reconnect.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// Kind identifies a logical channel.
type Kind string

const (
	// KindChat is the per-conversation chat channel.
	KindChat Kind = "chat"
	// KindPresence is the long-lived presence channel.
	KindPresence Kind = "presence"
	// KindNotifications is the long-lived notifications channel.
	KindNotifications Kind = "notifications"
)

// State is the connection state of one channel.
type State int

const (
	// StateDisconnected means no connection and no reconnect scheduled.
	StateDisconnected State = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateOpen means the connection is established.
	StateOpen
	// StateRetrying means the connection dropped and a backoff timer is
	// running before the next attempt.
	StateRetrying
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

const (
	// defaultBackoffBase is the reconnect delay unit; the n-th retry waits
	// n times this long.
	defaultBackoffBase = 2 * time.Second
	// defaultMaxAttempts is the consecutive-failure budget before the
	// channel gives up.
	defaultMaxAttempts = 5
)

// Conn is the subset of a websocket connection the channel uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a websocket connection to a URL.
type Dialer func(ctx context.Context, url string) (Conn, error)

// DefaultDialer dials with gorilla/websocket.
func DefaultDialer(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// FrameHandler receives one inbound frame of a recognized type.
type FrameHandler func(frameType string, data []byte)

// StateHandler receives channel state transitions. err is non-nil for
// failure-driven transitions (for example ErrReconnectExhausted).
type StateHandler func(state State, err error)

// Channel is one logical websocket channel with its own reconnect lifecycle.
//
// Inbound frames of one channel are dispatched in arrival order on the
// channel's read goroutine. Handlers must not block.
type Channel struct {
	kind        Kind
	dial        Dialer
	backoffBase time.Duration
	maxAttempts int

	mu            sync.Mutex
	writeMu       sync.Mutex
	state         State
	url           string
	conn          Conn
	gen           int
	nextHandlerID int
	frameHandlers map[int]FrameHandler
	stateHandlers map[int]StateHandler
}

func newChannel(kind Kind, dial Dialer, backoffBase time.Duration, maxAttempts int) *Channel {
	return &Channel{
		kind:          kind,
		dial:          dial,
		backoffBase:   backoffBase,
		maxAttempts:   maxAttempts,
		frameHandlers: make(map[int]FrameHandler),
		stateHandlers: make(map[int]StateHandler),
	}
}

// Kind returns the channel's logical kind.
func (c *Channel) Kind() Kind {
	return c.kind
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// URL returns the URL of the current or most recent connection attempt.
func (c *Channel) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// OnFrame registers a frame handler and returns its removal function.
// Multiple independent subscribers may observe the same stream.
func (c *Channel) OnFrame(h FrameHandler) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.frameHandlers[id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.frameHandlers, id)
	}
}

// OnState registers a state handler and returns its removal function.
func (c *Channel) OnState(h StateHandler) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.stateHandlers[id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.stateHandlers, id)
	}
}

// Connect opens the channel to the given URL and keeps it open until an
// explicit Disconnect or reconnect exhaustion.
//
// Calling Connect while the channel is already up (or retrying) for the same
// URL is a no-op. A different URL tears the old connection down first.
func (c *Channel) Connect(ctx context.Context, url string) {
	c.mu.Lock()
	if c.state != StateDisconnected {
		if c.url == url {
			c.mu.Unlock()
			return
		}
		c.teardownLocked()
	}
	c.gen++
	gen := c.gen
	c.url = url
	c.setStateLocked(StateConnecting, nil)
	c.mu.Unlock()

	go c.run(ctx, gen, url)
}

// Disconnect closes the channel and suppresses any reconnect until the next
// Connect call.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return
	}
	c.teardownLocked()
	c.setStateLocked(StateDisconnected, nil)
}

// Send writes one JSON frame. Returns ErrNotConnected when the channel is
// not open; frames are never queued.
func (c *Channel) Send(v any) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(v); err != nil {
		return errors.Join(ErrNotConnected, err)
	}
	return nil
}

// teardownLocked invalidates the running connect loop and closes the
// current connection, if any.
func (c *Channel) teardownLocked() {
	c.gen++
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// setStateLocked updates the state and notifies subscribers. Must hold mu;
// handlers are invoked without the lock.
func (c *Channel) setStateLocked(state State, err error) {
	c.state = state
	handlers := make([]StateHandler, 0, len(c.stateHandlers))
	for _, h := range c.stateHandlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(state, err)
	}
	c.mu.Lock()
}

func (c *Channel) run(ctx context.Context, gen int, url string) {
	attempt := 0
	for {
		conn, err := c.dial(ctx, url)

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			if conn != nil {
				_ = conn.Close()
			}
			return
		}

		if err != nil {
			logger.Warnf("realtime: %s dial failed: %v", c.kind, err)
			if stop := c.retryLocked(ctx, gen, &attempt, err); stop {
				return
			}
			continue
		}

		c.conn = conn
		attempt = 0
		c.setStateLocked(StateOpen, nil)
		c.mu.Unlock()
		logger.Debugf("realtime: %s open", c.kind)

		readErr := c.readLoop(gen, conn)

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.conn = nil
		_ = conn.Close()
		logger.Warnf("realtime: %s connection lost: %v", c.kind, readErr)
		if stop := c.retryLocked(ctx, gen, &attempt, readErr); stop {
			return
		}
	}
}

// retryLocked schedules the next attempt or gives up. It is entered with mu
// held and returns with mu released. A true return means the loop must stop.
func (c *Channel) retryLocked(ctx context.Context, gen int, attempt *int, cause error) bool {
	*attempt++
	if *attempt >= c.maxAttempts {
		c.setStateLocked(StateDisconnected, ErrReconnectExhausted)
		c.mu.Unlock()
		logger.Errorf("realtime: %s gave up after %d attempts: %v", c.kind, *attempt, cause)
		return true
	}
	c.setStateLocked(StateRetrying, cause)
	delay := time.Duration(*attempt) * c.backoffBase
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		// The context owns this connect cycle; its cancellation must land
		// in Disconnected so a later explicit Connect can bring the channel
		// back, not in a Retrying state nothing will ever advance.
		c.mu.Lock()
		if gen == c.gen {
			c.setStateLocked(StateDisconnected, ctx.Err())
		}
		c.mu.Unlock()
		return true
	case <-time.After(delay):
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return true
	}
	c.setStateLocked(StateConnecting, nil)
	c.mu.Unlock()
	return false
}

// readLoop pumps inbound frames until the connection fails. Frames are
// dispatched in arrival order.
func (c *Channel) readLoop(gen int, conn Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return nil
		}
		handlers := make([]FrameHandler, 0, len(c.frameHandlers))
		for _, h := range c.frameHandlers {
			handlers = append(handlers, h)
		}
		c.mu.Unlock()

		frameType, err := wire.FrameType(data)
		if err != nil {
			logger.Debugf("realtime: %s dropping unparseable frame: %v", c.kind, err)
			continue
		}
		if !knownInbound[frameType] {
			// Unknown types are ignored for forward compatibility.
			logger.Debugf("realtime: %s ignoring frame type %q", c.kind, frameType)
			continue
		}
		for _, h := range handlers {
			h(frameType, data)
		}
	}
}

// knownInbound is the set of frame types routed to subscribers.
var knownInbound = map[string]bool{
	wire.TypeMessage:                   true,
	wire.TypeMessageUpdated:            true,
	wire.TypeTyping:                    true,
	wire.TypeReaction:                  true,
	wire.TypeUserJoined:                true,
	wire.TypeUserLeft:                  true,
	wire.TypeStatusChanged:             true,
	wire.TypeInitialOnlineList:         true,
	wire.TypeNewMessageNotification:    true,
	wire.TypeError:                     true,
}
