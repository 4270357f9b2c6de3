// Package chat implements the per-conversation session controller: message
// list state, optimistic send reconciliation, and decryption orchestration.
package chat

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Pao040883/bogdol-go-dev-sub000/internal/crypto"
	"github.com/Pao040883/bogdol-go-dev-sub000/internal/realtime"
	"github.com/Pao040883/bogdol-go-dev-sub000/internal/wire"
	"github.com/Pao040883/bogdol-go-dev-sub000/pkg/logger"
)

var (
	// ErrNotReady signals an operation on a controller that is not in the
	// Ready state. This is a caller contract violation.
	ErrNotReady = errors.New("conversation not ready")
	// ErrAlreadyOpen signals a second Open on the same controller.
	ErrAlreadyOpen = errors.New("controller already opened")
	// ErrNotSender signals a delete attempt on someone else's message.
	ErrNotSender = errors.New("only the sender may delete a message")
)

// ControllerState is the lifecycle state of a controller.
type ControllerState int

const (
	// StateIdle is the initial state before Open.
	StateIdle ControllerState = iota
	// StateLoading covers history fetch and key resolution.
	StateLoading
	// StateReady means the conversation is live.
	StateReady
	// StateClosed is terminal; a closed controller is never reused.
	StateClosed
)

const (
	// historyPageSize is the message-history page fetched on open.
	historyPageSize = 50
	// reconcileWindow is the timestamp tolerance when matching a server echo
	// to an optimistic entry. Matching is by sender plus time proximity, not
	// content: the echo carries ciphertext while the optimistic entry caches
	// plaintext, and no correlation id is threaded through the protocol.
	reconcileWindow = 5 * time.Second
	// typingQuietPeriod is how long after the last keystroke the own
	// stopped-typing frame is emitted.
	typingQuietPeriod = 3 * time.Second
)

// historyAPI is the slice of the REST client the controller needs.
type historyAPI interface {
	Conversation(ctx context.Context, id int64) (*wire.Conversation, error)
	Messages(ctx context.Context, conversationID int64, offset, limit int) ([]wire.Message, error)
	MarkConversationRead(ctx context.Context, conversationID int64) error
	AddReaction(ctx context.Context, messageID int64, emoji string) error
	RemoveReaction(ctx context.Context, messageID int64, emoji string) error
	DeleteMessage(ctx context.Context, messageID int64) error
}

// transport is the slice of the socket session manager the controller needs.
type transport interface {
	ConnectChat(ctx context.Context, conversationID int64)
	DisconnectChat()
	OnChatFrame(h realtime.FrameHandler) (remove func())
	OnChatState(h realtime.StateHandler) (remove func())
	SendMessage(msg wire.OutboundMessage) error
	SendTyping(isTyping bool) error
	MarkRead(messageID int64) error
	SendReaction(messageID int64, emoji string) error
}

// keyResolver is the slice of the directory manager the controller needs.
type keyResolver interface {
	E2EEnabled(ctx context.Context, participantIDs []int64) (bool, map[int64]*rsa.PublicKey)
}

// Snapshot is an immutable copy of the controller state handed to observers.
type Snapshot struct {
	State          ControllerState
	ConversationID int64
	E2EEnabled     bool
	Connected      bool
	Messages       []Message
	Typing         []string
}

// Controller owns one open conversation. Exactly one controller is live at a
// time; switching conversations closes the old controller and builds a new
// one.
type Controller struct {
	api       historyAPI
	transport transport
	keys      keyResolver
	keyPair   *crypto.KeyPair

	ownUserID   int64
	ownUsername string

	mu             sync.Mutex
	state          ControllerState
	conversationID int64
	conversation   *wire.Conversation
	e2e            bool
	recipients     []*rsa.PublicKey
	messages       []*Message
	typing         map[string]bool
	typingActive   bool
	typingTimer    *time.Timer
	connected      bool
	cancel         context.CancelFunc
	removeFrame    func()
	removeState    func()
	nextObserver   int
	observers      map[int]func(Snapshot)
}

// NewController builds a controller for one conversation. keyPair may be nil
// when the crypto subsystem is unavailable; the conversation then runs in
// plaintext.
func NewController(api historyAPI, transport transport, keys keyResolver, keyPair *crypto.KeyPair, ownUserID int64, ownUsername string) *Controller {
	return &Controller{
		api:         api,
		transport:   transport,
		keys:        keys,
		keyPair:     keyPair,
		ownUserID:   ownUserID,
		ownUsername: ownUsername,
		typing:      make(map[string]bool),
		observers:   make(map[int]func(Snapshot)),
	}
}

// OnChange registers an observer and returns its removal function. Observers
// receive a state snapshot after every mutation.
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

// State returns the controller lifecycle state.
func (c *Controller) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open loads the conversation and brings the chat channel up.
//
// The supplied context scopes every pending fetch: closing the controller
// cancels it, so responses that land after a conversation switch are
// discarded instead of being applied to the next conversation's state.
func (c *Controller) Open(ctx context.Context, conversationID int64) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.conversationID = conversationID
	c.setStateLocked(StateLoading)
	c.mu.Unlock()

	conv, err := c.api.Conversation(ctx, conversationID)
	if err != nil {
		c.abortOpen()
		return err
	}
	// The id check backs up context cancellation: a response for a stale
	// conversation is never applied.
	if conv.ID != conversationID {
		c.abortOpen()
		return errors.New("conversation id mismatch")
	}

	e2e, keyMap := c.resolveKeys(ctx, conv.ParticipantIDs)

	history, err := c.api.Messages(ctx, conversationID, 0, historyPageSize)
	if err != nil {
		c.abortOpen()
		return err
	}

	c.mu.Lock()
	if c.state != StateLoading {
		c.mu.Unlock()
		return ctx.Err()
	}
	c.conversation = conv
	c.e2e = e2e
	c.recipients = c.recipientKeys(keyMap, conv.ParticipantIDs)
	c.messages = make([]*Message, 0, len(history))
	for i := range history {
		c.messages = append(c.messages, fromWire(&history[i], c.keyPair))
	}
	c.mu.Unlock()

	// Opening a conversation implies visibility of everything in it.
	if err := c.api.MarkConversationRead(ctx, conversationID); err != nil {
		logger.Warnf("chat: mark-read failed for conversation %d: %v", conversationID, err)
	}

	c.transport.ConnectChat(ctx, conversationID)
	removeFrame := c.transport.OnChatFrame(c.handleFrame)
	removeState := c.transport.OnChatState(c.handleChannelState)

	c.mu.Lock()
	// A Close racing the unlocked connect window must win: the controller
	// stays closed and the just-made subscriptions are dropped.
	if c.state != StateLoading {
		c.mu.Unlock()
		removeFrame()
		removeState()
		return ctx.Err()
	}
	c.removeFrame = removeFrame
	c.removeState = removeState
	c.setStateLocked(StateReady)
	c.mu.Unlock()
	return nil
}

// resolveKeys determines E2E eligibility. Without a local key pair the
// conversation is always plaintext.
func (c *Controller) resolveKeys(ctx context.Context, participantIDs []int64) (bool, map[int64]*rsa.PublicKey) {
	if c.keyPair == nil {
		return false, nil
	}
	return c.keys.E2EEnabled(ctx, participantIDs)
}

// recipientKeys assembles the wrap set: own key plus every other
// participant's key, in participant order.
func (c *Controller) recipientKeys(keyMap map[int64]*rsa.PublicKey, participantIDs []int64) []*rsa.PublicKey {
	if !c.e2e || c.keyPair == nil {
		return nil
	}
	recipients := []*rsa.PublicKey{c.keyPair.Public}
	for _, id := range participantIDs {
		if id == c.ownUserID {
			continue
		}
		if pub, ok := keyMap[id]; ok {
			recipients = append(recipients, pub)
		}
	}
	return recipients
}

func (c *Controller) abortOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.setStateLocked(StateIdle)
}

// Close tears the controller down: cancels pending work, unsubscribes from
// the chat channel, and disconnects it. The controller is not reusable.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	removeFrame, removeState := c.removeFrame, c.removeState
	c.removeFrame, c.removeState = nil, nil
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	if removeFrame != nil {
		removeFrame()
	}
	if removeState != nil {
		removeState()
	}
	c.transport.DisconnectChat()
}

// Send encrypts (when eligible) and sends one message, appending an
// optimistic entry that the server echo later replaces.
//
// An encryption failure falls back to a plaintext send rather than blocking
// the user; the entry's IsEncrypted flag always reflects what actually went
// over the wire. A transport failure surfaces as ErrNotConnected and the
// optimistic entry is dropped: there is no offline queue.
func (c *Controller) Send(plaintext string) error {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return ErrNotReady
	}
	content := plaintext
	encrypted := false
	if c.e2e && len(c.recipients) > 0 {
		env, err := crypto.EncryptForRecipients(plaintext, c.recipients)
		if err == nil {
			if encoded, encErr := env.Encode(); encErr == nil {
				content = encoded
				encrypted = true
			}
		}
		if !encrypted {
			logger.Warnf("chat: encryption failed, sending plaintext")
		}
	}

	optimistic := &Message{
		ID:             time.Now().UnixMilli(),
		ConversationID: c.conversationID,
		SenderID:       c.ownUserID,
		SenderName:     c.ownUsername,
		Content:        plaintext,
		MessageType:    "text",
		IsEncrypted:    encrypted,
		SentAt:         time.Now(),
		Pending:        true,
	}
	c.messages = append(c.messages, optimistic)
	c.notifyLocked()
	c.mu.Unlock()

	err := c.transport.SendMessage(wire.NewOutboundMessage(content, "text", encrypted, nil))
	if err != nil {
		c.mu.Lock()
		c.removeMessageLocked(optimistic.ID)
		c.notifyLocked()
		c.mu.Unlock()
		logger.Warnf("chat: send dropped: %v", err)
		return err
	}
	return nil
}

// Typing records a local keystroke: emits a started-typing frame on the
// first keystroke and schedules the stopped-typing frame after a quiet
// period.
func (c *Controller) Typing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return
	}
	if !c.typingActive {
		c.typingActive = true
		if err := c.transport.SendTyping(true); err != nil {
			logger.Debugf("chat: typing frame dropped: %v", err)
		}
	}
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingTimer = time.AfterFunc(typingQuietPeriod, c.stopTyping)
}

func (c *Controller) stopTyping() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.typingActive {
		return
	}
	c.typingActive = false
	if err := c.transport.SendTyping(false); err != nil {
		logger.Debugf("chat: typing frame dropped: %v", err)
	}
}

// ToggleReaction adds or removes the own reaction on a message: add if
// absent, remove if present. Local state is updated optimistically; the
// server broadcast echoes the same toggle idempotently.
func (c *Controller) ToggleReaction(ctx context.Context, messageID int64, emoji string) error {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return ErrNotReady
	}
	msg := c.findLocked(messageID)
	if msg == nil {
		c.mu.Unlock()
		return ErrNotReady
	}
	adding := !containsString(msg.Reactions[emoji], c.ownUsername)
	c.applyReactionLocked(msg, emoji, c.ownUsername, adding)
	c.notifyLocked()
	c.mu.Unlock()

	if err := c.transport.SendReaction(messageID, emoji); err == nil {
		return nil
	}
	// Socket down: fall back to the REST endpoint.
	if adding {
		return c.api.AddReaction(ctx, messageID, emoji)
	}
	return c.api.RemoveReaction(ctx, messageID, emoji)
}

// Delete soft-deletes one of the own messages. The entry stays in the list
// as a tombstone so ordering is preserved for concurrent viewers.
func (c *Controller) Delete(ctx context.Context, messageID int64) error {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return ErrNotReady
	}
	msg := c.findLocked(messageID)
	if msg == nil {
		c.mu.Unlock()
		return ErrNotReady
	}
	if msg.SenderID != c.ownUserID {
		c.mu.Unlock()
		return ErrNotSender
	}
	c.mu.Unlock()

	if err := c.api.DeleteMessage(ctx, messageID); err != nil {
		return err
	}

	c.mu.Lock()
	if msg := c.findLocked(messageID); msg != nil {
		msg.IsDeleted = true
		msg.Content = ""
		c.notifyLocked()
	}
	c.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	msgs := make([]Message, len(c.messages))
	for i, m := range c.messages {
		msgs[i] = m.clone()
	}
	typing := make([]string, 0, len(c.typing))
	for name := range c.typing {
		typing = append(typing, name)
	}
	sort.Strings(typing)
	return Snapshot{
		State:          c.state,
		ConversationID: c.conversationID,
		E2EEnabled:     c.e2e,
		Connected:      c.connected,
		Messages:       msgs,
		Typing:         typing,
	}
}

// handleFrame dispatches inbound chat-channel frames. Runs on the channel's
// read goroutine, in arrival order.
func (c *Controller) handleFrame(frameType string, data []byte) {
	switch frameType {
	case wire.TypeMessage:
		var frame wire.MessageFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Debugf("chat: bad message frame: %v", err)
			return
		}
		c.reconcile(&frame.Message)
	case wire.TypeMessageUpdated:
		var frame wire.MessageFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Debugf("chat: bad message_updated frame: %v", err)
			return
		}
		c.applyUpdate(&frame.Message)
	case wire.TypeTyping:
		var frame wire.TypingFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		c.applyTyping(frame.Username, frame.IsTyping)
	case wire.TypeReaction:
		var frame wire.ReactionFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		c.applyReaction(frame.MessageID, frame.Emoji, frame.Username, frame.Added)
	case wire.TypeError:
		var frame wire.ErrorFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		logger.Warnf("chat: server error: %s", frame.Detail)
	}
}

func (c *Controller) handleChannelState(state realtime.State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = state == realtime.StateOpen
	if errors.Is(err, realtime.ErrReconnectExhausted) {
		logger.Errorf("chat: channel gave up reconnecting")
	}
	c.notifyLocked()
}

// reconcile merges a server-confirmed message into the list.
//
// Dedupe by server id first. Then try to match an optimistic entry from the
// same sender within the tolerance window and replace it in place, reusing
// the cached plaintext for self-sent messages (the sender may not be able to
// unwrap its own envelope, and already knows the plaintext). Otherwise
// decrypt and append; foreign messages are immediately marked read because
// the conversation is open and arrival implies visibility.
func (c *Controller) reconcile(wm *wire.Message) {
	c.mu.Lock()
	if c.findLocked(wm.ID) != nil {
		c.mu.Unlock()
		return
	}

	for i, existing := range c.messages {
		if !existing.Pending || existing.SenderID != wm.SenderID {
			continue
		}
		delta := wm.SentAt.Sub(existing.SentAt)
		if delta < -reconcileWindow || delta > reconcileWindow {
			continue
		}
		var confirmed *Message
		if wm.SenderID == c.ownUserID {
			// The sender already knows the plaintext; reuse the cache
			// instead of trial-unwrapping the own envelope.
			confirmed = fromWire(wm, nil)
			confirmed.Content = existing.Content
		} else {
			confirmed = fromWire(wm, c.keyPair)
		}
		c.messages[i] = confirmed
		c.notifyLocked()
		c.mu.Unlock()
		return
	}

	msg := fromWire(wm, c.keyPair)
	foreign := wm.SenderID != c.ownUserID
	if foreign {
		msg.ReadBy = append(msg.ReadBy, c.ownUserID)
	}
	c.messages = append(c.messages, msg)
	c.notifyLocked()
	c.mu.Unlock()

	if foreign {
		if err := c.transport.MarkRead(wm.ID); err != nil {
			logger.Debugf("chat: read receipt dropped: %v", err)
		}
	}
}

// applyUpdate merges metadata changes (read receipts, edits, tombstones)
// into an existing entry. The displayed plaintext is kept unless the update
// is a soft delete.
func (c *Controller) applyUpdate(wm *wire.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := c.findLocked(wm.ID)
	if msg == nil {
		return
	}
	msg.ReadBy = append([]int64(nil), wm.ReadBy...)
	msg.IsEdited = wm.IsEdited
	msg.Reactions = cloneReactions(wm.Reactions)
	if wm.IsDeleted && !msg.IsDeleted {
		msg.IsDeleted = true
		msg.Content = ""
	} else if wm.IsEdited && !msg.IsDeleted {
		msg.Content = displayContent(wm, c.keyPair)
	}
	c.notifyLocked()
}

func (c *Controller) applyTyping(username string, isTyping bool) {
	if username == c.ownUsername {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if isTyping {
		c.typing[username] = true
	} else {
		delete(c.typing, username)
	}
	c.notifyLocked()
}

func (c *Controller) applyReaction(messageID int64, emoji, username string, added bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := c.findLocked(messageID)
	if msg == nil {
		return
	}
	c.applyReactionLocked(msg, emoji, username, added)
	c.notifyLocked()
}

func (c *Controller) applyReactionLocked(msg *Message, emoji, username string, added bool) {
	if msg.Reactions == nil {
		msg.Reactions = make(map[string][]string)
	}
	users := msg.Reactions[emoji]
	has := containsString(users, username)
	switch {
	case added && !has:
		msg.Reactions[emoji] = append(users, username)
	case !added && has:
		filtered := users[:0]
		for _, u := range users {
			if u != username {
				filtered = append(filtered, u)
			}
		}
		if len(filtered) == 0 {
			delete(msg.Reactions, emoji)
		} else {
			msg.Reactions[emoji] = filtered
		}
	}
}

func (c *Controller) findLocked(messageID int64) *Message {
	for _, m := range c.messages {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}

func (c *Controller) removeMessageLocked(messageID int64) {
	for i, m := range c.messages {
		if m.ID == messageID {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return
		}
	}
}

// setStateLocked updates the lifecycle state and notifies observers.
func (c *Controller) setStateLocked(state ControllerState) {
	c.state = state
	c.notifyLocked()
}

// notifyLocked snapshots the state and invokes observers without the lock.
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

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
