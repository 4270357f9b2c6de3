package wire

import "time"

// Message is the chat message object used by the REST API and websocket frames.
type Message struct {
	// ID is the server-assigned message id.
	ID int64 `json:"id"`
	// ConversationID is the id of the conversation the message belongs to.
	ConversationID int64 `json:"conversation_id"`
	// SenderID is the numeric user id of the sender.
	SenderID int64 `json:"sender_id"`
	// SenderName is the sender's display name.
	SenderName string `json:"sender_name"`
	// Content is the message body: an Envelope JSON string when IsEncrypted,
	// plaintext otherwise.
	Content string `json:"content"`
	// MessageType distinguishes plain text from domain payloads (e.g.
	// absence-approval references carried in Metadata).
	MessageType string `json:"message_type"`
	// IsEncrypted reports whether Content is an encrypted envelope.
	IsEncrypted bool `json:"is_encrypted"`
	// SentAt is the server-side send timestamp.
	SentAt time.Time `json:"sent_at"`
	// ReadBy lists the user ids that have read the message, in read order.
	ReadBy []int64 `json:"read_by,omitempty"`
	// IsEdited reports whether the message was edited after sending.
	IsEdited bool `json:"is_edited"`
	// IsDeleted marks a soft-deleted message (content cleared, entry kept).
	IsDeleted bool `json:"is_deleted"`
	// Reactions maps an emoji to the usernames that reacted with it.
	Reactions map[string][]string `json:"reactions,omitempty"`
	// ReplyTo is the id of the message this one replies to, when set.
	ReplyTo *int64 `json:"reply_to,omitempty"`
	// Metadata is an open key/value bag for domain-specific payloads.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Conversation is the conversation object returned by the REST API.
type Conversation struct {
	// ID is the conversation id.
	ID int64 `json:"id"`
	// ParticipantIDs lists the user ids taking part in the conversation.
	ParticipantIDs []int64 `json:"participant_ids"`
	// LastMessage is the preview of the most recent message, when present.
	LastMessage *MessagePreview `json:"last_message,omitempty"`
	// UnreadCount is the number of unread messages for the requesting user.
	UnreadCount int `json:"unread_count"`
}

// MessagePreview is the short preview embedded in a conversation listing.
//
// Content may itself be an encrypted envelope; consumers decrypt it lazily
// and fall back to a placeholder on failure.
type MessagePreview struct {
	// SenderName is the display name of the preview message's sender.
	SenderName string `json:"sender_name"`
	// Content is the preview body (possibly an encrypted envelope).
	Content string `json:"content"`
	// IsEncrypted reports whether Content is an encrypted envelope.
	IsEncrypted bool `json:"is_encrypted"`
	// SentAt is the preview message's send timestamp.
	SentAt time.Time `json:"sent_at"`
}

// PresenceUser is one user's presence record as carried on the wire.
type PresenceUser struct {
	// Username is the unique account name.
	Username string `json:"username"`
	// DisplayName is the human-readable name.
	DisplayName string `json:"display_name"`
	// Status is one of online, away, busy, offline.
	Status string `json:"status"`
	// StatusMessage is the free-form status text.
	StatusMessage string `json:"status_message"`
	// LastSeen is the time of the user's last activity.
	LastSeen time.Time `json:"last_seen"`
}
