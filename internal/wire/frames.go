package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound frame types recognized by the client. Frames with any other type
// are ignored for forward compatibility.
const (
	// TypeMessage delivers a server-confirmed chat message.
	TypeMessage = "message"
	// TypeMessageUpdated delivers metadata changes to an existing message
	// (read receipts, edits, soft deletes).
	TypeMessageUpdated = "message_updated"
	// TypeTyping delivers a typing-indicator change for one user.
	TypeTyping = "typing"
	// TypeReaction delivers a reaction add/remove for one message.
	TypeReaction = "reaction"
	// TypeUserJoined announces a user joining the channel.
	TypeUserJoined = "user_joined"
	// TypeUserLeft announces a user leaving the channel.
	TypeUserLeft = "user_left"
	// TypeStatusChanged delivers one user's presence delta.
	TypeStatusChanged = "status_changed"
	// TypeInitialOnlineList delivers the authoritative presence snapshot
	// sent once per (re)connect.
	TypeInitialOnlineList = "initial_online_list"
	// TypeNewMessageNotification announces a new message in any conversation
	// on the notifications channel.
	TypeNewMessageNotification = "new_message_notification"
	// TypeError delivers a server-side error for the channel.
	TypeError = "error"
)

// Outbound frame types.
const (
	// TypeOutMessage sends a chat message.
	TypeOutMessage = "message"
	// TypeOutTyping sends the local typing state.
	TypeOutTyping = "typing"
	// TypeOutMarkRead sends a read receipt for one message.
	TypeOutMarkRead = "mark_read"
	// TypeOutReaction toggles a reaction on one message.
	TypeOutReaction = "reaction"
	// TypeOutStatusChange updates the own presence status.
	TypeOutStatusChange = "status_change"
)

// FrameType extracts the discriminant type of a raw inbound frame.
func FrameType(data []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("failed to parse frame: %w", err)
	}
	if head.Type == "" {
		return "", fmt.Errorf("frame missing type")
	}
	return head.Type, nil
}

// MessageFrame carries a confirmed or updated chat message.
type MessageFrame struct {
	Type string `json:"type"`
	// Message is the full message object.
	Message Message `json:"message"`
}

// TypingFrame carries one user's typing-indicator change.
type TypingFrame struct {
	Type string `json:"type"`
	// Username is the typing user.
	Username string `json:"username"`
	// IsTyping reports whether the user started (true) or stopped typing.
	IsTyping bool `json:"is_typing"`
}

// ReactionFrame carries a reaction toggle for one message.
type ReactionFrame struct {
	Type string `json:"type"`
	// MessageID is the reacted-to message.
	MessageID int64 `json:"message_id"`
	// Emoji is the reaction emoji.
	Emoji string `json:"emoji"`
	// Username is the reacting user.
	Username string `json:"username"`
	// Added reports whether the reaction was added (true) or removed.
	Added bool `json:"added"`
}

// UserFrame announces a user joining or leaving the channel.
type UserFrame struct {
	Type string `json:"type"`
	// Username is the joining/leaving user.
	Username string `json:"username"`
}

// StatusFrame carries one user's presence delta.
type StatusFrame struct {
	Type string `json:"type"`
	// User is the updated presence record.
	User PresenceUser `json:"user"`
}

// OnlineListFrame carries the authoritative presence snapshot.
type OnlineListFrame struct {
	Type string `json:"type"`
	// Users lists every currently known non-offline user.
	Users []PresenceUser `json:"users"`
}

// NotificationFrame announces a new message on the notifications channel.
type NotificationFrame struct {
	Type string `json:"type"`
	// ConversationID is the conversation that received a message.
	ConversationID int64 `json:"conversation_id"`
	// SenderName is the sender's display name.
	SenderName string `json:"sender_name"`
	// Preview is a short message preview (possibly an encrypted envelope).
	Preview string `json:"preview"`
	// IsEncrypted reports whether Preview is an encrypted envelope.
	IsEncrypted bool `json:"is_encrypted"`
	// SentAt is the message's send timestamp.
	SentAt time.Time `json:"sent_at"`
}

// ErrorFrame carries a server-side channel error.
type ErrorFrame struct {
	Type string `json:"type"`
	// Detail is the human-readable error description.
	Detail string `json:"detail"`
}

// OutboundMessage is the payload of an outgoing "message" frame.
type OutboundMessage struct {
	Type string `json:"type"`
	// Content is the message body (envelope JSON when IsEncrypted).
	Content string `json:"content"`
	// MessageType distinguishes text from domain payloads.
	MessageType string `json:"message_type"`
	// IsEncrypted reports whether Content is an encrypted envelope.
	IsEncrypted bool `json:"is_encrypted"`
	// ReplyTo optionally references the replied-to message.
	ReplyTo *int64 `json:"reply_to,omitempty"`
}

// NewOutboundMessage builds an outgoing "message" frame.
func NewOutboundMessage(content, messageType string, encrypted bool, replyTo *int64) OutboundMessage {
	return OutboundMessage{
		Type:        TypeOutMessage,
		Content:     content,
		MessageType: messageType,
		IsEncrypted: encrypted,
		ReplyTo:     replyTo,
	}
}

// OutboundTyping is the payload of an outgoing "typing" frame.
type OutboundTyping struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

// NewOutboundTyping builds an outgoing "typing" frame.
func NewOutboundTyping(isTyping bool) OutboundTyping {
	return OutboundTyping{Type: TypeOutTyping, IsTyping: isTyping}
}

// OutboundMarkRead is the payload of an outgoing "mark_read" frame.
type OutboundMarkRead struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
}

// NewOutboundMarkRead builds an outgoing "mark_read" frame.
func NewOutboundMarkRead(messageID int64) OutboundMarkRead {
	return OutboundMarkRead{Type: TypeOutMarkRead, MessageID: messageID}
}

// OutboundReaction is the payload of an outgoing "reaction" frame.
type OutboundReaction struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// NewOutboundReaction builds an outgoing "reaction" frame.
func NewOutboundReaction(messageID int64, emoji string) OutboundReaction {
	return OutboundReaction{Type: TypeOutReaction, MessageID: messageID, Emoji: emoji}
}

// OutboundStatusChange is the payload of an outgoing "status_change" frame.
type OutboundStatusChange struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// NewOutboundStatusChange builds an outgoing "status_change" frame.
func NewOutboundStatusChange(status, message string) OutboundStatusChange {
	return OutboundStatusChange{Type: TypeOutStatusChange, Status: status, Message: message}
}
