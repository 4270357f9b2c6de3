package chat

import (
	"time"

	"github.com/Pao040883/bogdol-go-dev-sub000/internal/crypto"
	"github.com/Pao040883/bogdol-go-dev-sub000/internal/wire"
)

// DecryptFailedPlaceholder is shown in place of a message body that could
// not be decrypted. Encryption and decryption failures are deliberately
// indistinguishable in the UI.
const DecryptFailedPlaceholder = "[Encrypted message - unable to decrypt]"

// Message is one entry of the open conversation's message list.
//
// Content always holds the displayable plaintext: decrypted body, cached
// plaintext for own optimistic sends, or the placeholder after a decrypt
// failure.
type Message struct {
	// ID is the server-assigned id, or a transient UnixMilli id while the
	// entry is Pending.
	ID             int64
	ConversationID int64
	SenderID       int64
	SenderName     string
	Content        string
	MessageType    string
	IsEncrypted    bool
	SentAt         time.Time
	ReadBy         []int64
	IsEdited       bool
	IsDeleted      bool
	Reactions      map[string][]string
	Metadata       map[string]any
	// Pending marks an optimistic local entry awaiting its server echo.
	Pending bool
}

// clone returns a deep-enough copy for snapshots.
func (m *Message) clone() Message {
	out := *m
	out.ReadBy = append([]int64(nil), m.ReadBy...)
	if m.Reactions != nil {
		out.Reactions = make(map[string][]string, len(m.Reactions))
		for emoji, users := range m.Reactions {
			out.Reactions[emoji] = append([]string(nil), users...)
		}
	}
	return out
}

// displayContent resolves the displayable body of a wire message: plaintext
// as-is, otherwise decrypt with the own private key. Every failure path
// yields the fixed placeholder; decryption problems never abort processing
// and never surface as errors.
func displayContent(wm *wire.Message, kp *crypto.KeyPair) string {
	if !wm.IsEncrypted {
		return wm.Content
	}
	if kp == nil {
		return DecryptFailedPlaceholder
	}
	env, err := wire.ParseEnvelope(wm.Content)
	if err != nil {
		return DecryptFailedPlaceholder
	}
	plain, err := crypto.Decrypt(env, kp.Private)
	if err != nil {
		return DecryptFailedPlaceholder
	}
	return plain
}

// fromWire converts a wire message into a list entry, decrypting the body.
func fromWire(wm *wire.Message, kp *crypto.KeyPair) *Message {
	return &Message{
		ID:             wm.ID,
		ConversationID: wm.ConversationID,
		SenderID:       wm.SenderID,
		SenderName:     wm.SenderName,
		Content:        displayContent(wm, kp),
		MessageType:    wm.MessageType,
		IsEncrypted:    wm.IsEncrypted,
		SentAt:         wm.SentAt,
		ReadBy:         append([]int64(nil), wm.ReadBy...),
		IsEdited:       wm.IsEdited,
		IsDeleted:      wm.IsDeleted,
		Reactions:      cloneReactions(wm.Reactions),
		Metadata:       wm.Metadata,
	}
}

func cloneReactions(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for emoji, users := range in {
		out[emoji] = append([]string(nil), users...)
	}
	return out
}

// PreviewText resolves a conversation preview for display. Previews are
// decrypted lazily and opportunistically; failure yields the placeholder
// instead of an error.
func PreviewText(preview *wire.MessagePreview, kp *crypto.KeyPair) string {
	if preview == nil {
		return ""
	}
	if !preview.IsEncrypted {
		return preview.Content
	}
	if kp == nil {
		return DecryptFailedPlaceholder
	}
	env, err := wire.ParseEnvelope(preview.Content)
	if err != nil {
		return DecryptFailedPlaceholder
	}
	plain, err := crypto.Decrypt(env, kp.Private)
	if err != nil {
		return DecryptFailedPlaceholder
	}
	return plain
}
