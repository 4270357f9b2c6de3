package realtime

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/Pao040883/bogdol-go-dev-sub000/internal/wire"
)

// Manager owns the three logical websocket channels of one authenticated
// session.
//
// Presence and notifications are long-lived for the session lifetime. The
// chat channel is scoped to the open conversation; switching conversations
// tears the old connection down and opens a new one.
type Manager struct {
	wsBase string
	token  string

	chat          *Channel
	presence      *Channel
	notifications *Channel

	chatConversationID int64
}

// Option customizes a Manager.
type Option func(*options)

type options struct {
	dial        Dialer
	backoffBase time.Duration
	maxAttempts int
}

// WithDialer replaces the websocket dialer (used by tests).
func WithDialer(d Dialer) Option {
	return func(o *options) { o.dial = d }
}

// WithBackoff overrides the reconnect backoff unit and attempt budget.
func WithBackoff(base time.Duration, maxAttempts int) Option {
	return func(o *options) {
		o.backoffBase = base
		o.maxAttempts = maxAttempts
	}
}

// NewManager creates a manager for the given websocket base URL
// (e.g. wss://intranet.example.com) and access token.
func NewManager(wsBase, token string, opts ...Option) *Manager {
	o := options{
		dial:        DefaultDialer,
		backoffBase: defaultBackoffBase,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{
		wsBase:        wsBase,
		token:         token,
		chat:          newChannel(KindChat, o.dial, o.backoffBase, o.maxAttempts),
		presence:      newChannel(KindPresence, o.dial, o.backoffBase, o.maxAttempts),
		notifications: newChannel(KindNotifications, o.dial, o.backoffBase, o.maxAttempts),
	}
}

// Chat returns the chat channel for subscriptions.
func (m *Manager) Chat() *Channel { return m.chat }

// Presence returns the presence channel for subscriptions.
func (m *Manager) Presence() *Channel { return m.presence }

// Notifications returns the notifications channel for subscriptions.
func (m *Manager) Notifications() *Channel { return m.notifications }

// channelURL builds the websocket URL for one channel path. The token rides
// as a query parameter: the transport has no header mechanism after the
// handshake.
func (m *Manager) channelURL(path string) string {
	return fmt.Sprintf("%s/ws/%s?token=%s", m.wsBase, path, url.QueryEscape(m.token))
}

// ConnectChat opens the chat channel for one conversation.
//
// Idempotent for the currently open conversation; a different conversation
// id tears the old connection down and opens a new one.
func (m *Manager) ConnectChat(ctx context.Context, conversationID int64) {
	if m.chatConversationID == conversationID && m.chat.State() != StateDisconnected {
		return
	}
	if m.chat.State() != StateDisconnected {
		m.chat.Disconnect()
	}
	m.chatConversationID = conversationID
	m.chat.Connect(ctx, m.channelURL(fmt.Sprintf("chat/%d/", conversationID)))
}

// ConnectPresence opens the presence channel.
func (m *Manager) ConnectPresence(ctx context.Context) {
	m.presence.Connect(ctx, m.channelURL("presence/"))
}

// ConnectNotifications opens the notifications channel.
func (m *Manager) ConnectNotifications(ctx context.Context) {
	m.notifications.Connect(ctx, m.channelURL("notifications/"))
}

// DisconnectChat closes the chat channel until the next ConnectChat.
func (m *Manager) DisconnectChat() {
	m.chat.Disconnect()
	m.chatConversationID = 0
}

// DisconnectPresence closes the presence channel.
func (m *Manager) DisconnectPresence() {
	m.presence.Disconnect()
}

// DisconnectNotifications closes the notifications channel.
func (m *Manager) DisconnectNotifications() {
	m.notifications.Disconnect()
}

// DisconnectAll tears down every channel. Required on logout so presence
// reports the user offline and no stale reconnect timers fire after
// credentials are cleared.
func (m *Manager) DisconnectAll() {
	m.DisconnectChat()
	m.DisconnectPresence()
	m.DisconnectNotifications()
}

// OnChatFrame subscribes to inbound chat-channel frames.
func (m *Manager) OnChatFrame(h FrameHandler) (remove func()) {
	return m.chat.OnFrame(h)
}

// OnChatState subscribes to chat-channel state transitions.
func (m *Manager) OnChatState(h StateHandler) (remove func()) {
	return m.chat.OnState(h)
}

// OnPresenceFrame subscribes to inbound presence-channel frames.
func (m *Manager) OnPresenceFrame(h FrameHandler) (remove func()) {
	return m.presence.OnFrame(h)
}

// OnPresenceState subscribes to presence-channel state transitions.
func (m *Manager) OnPresenceState(h StateHandler) (remove func()) {
	return m.presence.OnState(h)
}

// OnNotificationFrame subscribes to inbound notification-channel frames.
func (m *Manager) OnNotificationFrame(h FrameHandler) (remove func()) {
	return m.notifications.OnFrame(h)
}

// SendMessage sends a chat message frame on the chat channel.
func (m *Manager) SendMessage(msg wire.OutboundMessage) error {
	return m.chat.Send(msg)
}

// SendTyping sends the local typing state on the chat channel.
func (m *Manager) SendTyping(isTyping bool) error {
	return m.chat.Send(wire.NewOutboundTyping(isTyping))
}

// MarkRead sends a read receipt for one message on the chat channel.
func (m *Manager) MarkRead(messageID int64) error {
	return m.chat.Send(wire.NewOutboundMarkRead(messageID))
}

// SendReaction toggles a reaction on one message via the chat channel.
func (m *Manager) SendReaction(messageID int64, emoji string) error {
	return m.chat.Send(wire.NewOutboundReaction(messageID, emoji))
}

// UpdateStatus sends the own presence status on the presence channel.
func (m *Manager) UpdateStatus(status, message string) error {
	return m.presence.Send(wire.NewOutboundStatusChange(status, message))
}
