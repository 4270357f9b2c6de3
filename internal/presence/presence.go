// Package presence tracks who is online. The presence channel delivers one
// authoritative snapshot per (re)connect followed by incremental deltas; the
// controller folds both into a single roster keyed by username.
package presence

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/Pao040883/bogdol-go-dev-sub000/internal/realtime"
	"github.com/Pao040883/bogdol-go-dev-sub000/internal/wire"
	"github.com/Pao040883/bogdol-go-dev-sub000/pkg/logger"
)

// Presence status values used on the wire.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusBusy    = "busy"
	StatusOffline = "offline"
)

// transport is the slice of the socket session manager the controller needs.
type transport interface {
	ConnectPresence(ctx context.Context)
	DisconnectPresence()
	OnPresenceFrame(h realtime.FrameHandler) (remove func())
	OnPresenceState(h realtime.StateHandler) (remove func())
	UpdateStatus(status, message string) error
}

// Snapshot is an immutable copy of the roster handed to observers. Users is
// sorted by username and contains only non-offline users; anyone not listed
// is offline.
type Snapshot struct {
	Connected bool
	Users     []wire.PresenceUser
}

// Controller maintains the presence roster for the logged-in session.
type Controller struct {
	transport   transport
	ownUsername string

	mu           sync.Mutex
	started      bool
	connected    bool
	users        map[string]wire.PresenceUser
	removeFrame  func()
	removeState  func()
	nextObserver int
	observers    map[int]func(Snapshot)
}

// NewController builds a presence controller for the given user.
func NewController(transport transport, ownUsername string) *Controller {
	return &Controller{
		transport:   transport,
		ownUsername: ownUsername,
		users:       make(map[string]wire.PresenceUser),
		observers:   make(map[int]func(Snapshot)),
	}
}

// OnChange registers an observer and returns its removal function.
func (c *Controller) OnChange(h func(Snapshot)) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.observers, id)
	}
}

// Start brings the presence channel up and subscribes to its frames. Calling
// Start on a started controller is a no-op.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.transport.ConnectPresence(ctx)
	removeFrame := c.transport.OnPresenceFrame(c.handleFrame)
	removeState := c.transport.OnPresenceState(c.handleChannelState)

	c.mu.Lock()
	c.removeFrame = removeFrame
	c.removeState = removeState
	c.mu.Unlock()
}

// Stop unsubscribes and disconnects the presence channel. The roster is
// cleared: with the channel down every user reads as offline.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	removeFrame, removeState := c.removeFrame, c.removeState
	c.removeFrame, c.removeState = nil, nil
	c.users = make(map[string]wire.PresenceUser)
	c.connected = false
	c.notifyLocked()
	c.mu.Unlock()

	if removeFrame != nil {
		removeFrame()
	}
	if removeState != nil {
		removeState()
	}
	c.transport.DisconnectPresence()
}

// UpdateOwnStatus sends the own presence status and reflects it locally
// without waiting for the server broadcast.
func (c *Controller) UpdateOwnStatus(status, message string) error {
	if err := c.transport.UpdateStatus(status, message); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyLocked(wire.PresenceUser{
		Username:      c.ownUsername,
		Status:        status,
		StatusMessage: message,
	})
	c.notifyLocked()
	return nil
}

// StatusOf reports a user's current status. Unknown users are offline.
func (c *Controller) StatusOf(username string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if user, ok := c.users[username]; ok {
		return user.Status
	}
	return StatusOffline
}

// Snapshot returns a copy of the current roster.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	users := make([]wire.PresenceUser, 0, len(c.users))
	for _, user := range c.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return Snapshot{Connected: c.connected, Users: users}
}

// handleFrame dispatches inbound presence-channel frames. Runs on the
// channel's read goroutine, in arrival order: a snapshot replaces the roster
// wholesale, deltas after it win over it entry by entry.
func (c *Controller) handleFrame(frameType string, data []byte) {
	switch frameType {
	case wire.TypeInitialOnlineList:
		var frame wire.OnlineListFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Debugf("presence: bad online-list frame: %v", err)
			return
		}
		c.mu.Lock()
		c.users = make(map[string]wire.PresenceUser, len(frame.Users))
		for _, user := range frame.Users {
			c.applyLocked(user)
		}
		c.notifyLocked()
		c.mu.Unlock()
	case wire.TypeStatusChanged:
		var frame wire.StatusFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		c.mu.Lock()
		c.applyLocked(frame.User)
		c.notifyLocked()
		c.mu.Unlock()
	case wire.TypeUserJoined:
		var frame wire.UserFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		c.mu.Lock()
		if _, known := c.users[frame.Username]; !known {
			c.users[frame.Username] = wire.PresenceUser{Username: frame.Username, Status: StatusOnline}
		}
		c.notifyLocked()
		c.mu.Unlock()
	case wire.TypeUserLeft:
		var frame wire.UserFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		c.mu.Lock()
		delete(c.users, frame.Username)
		c.notifyLocked()
		c.mu.Unlock()
	}
}

func (c *Controller) handleChannelState(state realtime.State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = state == realtime.StateOpen
	if !c.connected {
		// Between drop and resync the last roster would be stale; everyone
		// reads as offline until the next snapshot arrives.
		c.users = make(map[string]wire.PresenceUser)
	}
	c.notifyLocked()
}

// applyLocked upserts one roster entry. Offline deltas remove the entry so
// the unlisted-means-offline rule holds for snapshots and deltas alike.
func (c *Controller) applyLocked(user wire.PresenceUser) {
	if user.Username == "" {
		return
	}
	if user.Status == StatusOffline {
		delete(c.users, user.Username)
		return
	}
	c.users[user.Username] = user
}

// notifyLocked snapshots the roster and invokes observers without the lock.
func (c *Controller) notifyLocked() {
	if len(c.observers) == 0 {
		return
	}
	snapshot := c.snapshotLocked()
	handlers := make([]func(Snapshot), 0, len(c.observers))
	for _, h := range c.observers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(snapshot)
	}
	c.mu.Lock()
}
