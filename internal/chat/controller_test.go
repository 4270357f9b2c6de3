package chat

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Pao040883/bogdol-go-dev-sub000/internal/crypto"
	"github.com/Pao040883/bogdol-go-dev-sub000/internal/realtime"
	"github.com/Pao040883/bogdol-go-dev-sub000/internal/wire"
)

type fakeAPI struct {
	mu           sync.Mutex
	conversation *wire.Conversation
	history      []wire.Message
	markedRead   []int64
	deleted      []int64
	reactionsAdd []int64
	reactionsDel []int64
}

func (f *fakeAPI) Conversation(_ context.Context, id int64) (*wire.Conversation, error) {
	return f.conversation, nil
}

func (f *fakeAPI) Messages(_ context.Context, _ int64, _, _ int) ([]wire.Message, error) {
	return f.history, nil
}

func (f *fakeAPI) MarkConversationRead(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, id)
	return nil
}

func (f *fakeAPI) AddReaction(_ context.Context, id int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactionsAdd = append(f.reactionsAdd, id)
	return nil
}

func (f *fakeAPI) RemoveReaction(_ context.Context, id int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactionsDel = append(f.reactionsDel, id)
	return nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeTransport struct {
	mu          sync.Mutex
	frames      []any
	marksRead   []int64
	sendErr     error
	handler     realtime.FrameHandler
	connectHook func()
}

func (f *fakeTransport) ConnectChat(_ context.Context, _ int64) {
	f.mu.Lock()
	hook := f.connectHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (f *fakeTransport) DisconnectChat() {}

func (f *fakeTransport) OnChatFrame(h realtime.FrameHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.handler = nil
	}
}

func (f *fakeTransport) OnChatState(_ realtime.StateHandler) func() {
	return func() {}
}

func (f *fakeTransport) SendMessage(msg wire.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, msg)
	return nil
}

func (f *fakeTransport) SendTyping(isTyping bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, wire.NewOutboundTyping(isTyping))
	return nil
}

func (f *fakeTransport) MarkRead(messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.marksRead = append(f.marksRead, messageID)
	return nil
}

func (f *fakeTransport) SendReaction(messageID int64, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, wire.NewOutboundReaction(messageID, emoji))
	return nil
}

func (f *fakeTransport) deliver(t *testing.T, data []byte) {
	t.Helper()
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	require.NotNil(t, h)
	frameType, err := wire.FrameType(data)
	require.NoError(t, err)
	h(frameType, data)
}

func (f *fakeTransport) lastMessage(t *testing.T) wire.OutboundMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.frames)
	msg, ok := f.frames[len(f.frames)-1].(wire.OutboundMessage)
	require.True(t, ok)
	return msg
}

type fakeResolver struct {
	enabled bool
	keys    map[int64]*rsa.PublicKey
}

func (f *fakeResolver) E2EEnabled(_ context.Context, _ []int64) (bool, map[int64]*rsa.PublicKey) {
	return f.enabled, f.keys
}

type fixture struct {
	controller *Controller
	api        *fakeAPI
	transport  *fakeTransport
	keyPair    *crypto.KeyPair
	peer       *crypto.KeyPair
}

// newFixture builds a Ready controller for conversation 10 between own user
// 1 ("me") and peer user 2 ("anna").
func newFixture(t *testing.T, e2e bool, history []wire.Message) *fixture {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	peer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	api := &fakeAPI{
		conversation: &wire.Conversation{ID: 10, ParticipantIDs: []int64{1, 2}},
		history:      history,
	}
	transport := &fakeTransport{}
	resolver := &fakeResolver{
		enabled: e2e,
		keys:    map[int64]*rsa.PublicKey{2: peer.Public},
	}

	controller := NewController(api, transport, resolver, kp, 1, "me")
	require.NoError(t, controller.Open(context.Background(), 10))
	require.Equal(t, StateReady, controller.State())
	t.Cleanup(controller.Close)

	return &fixture{controller: controller, api: api, transport: transport, keyPair: kp, peer: peer}
}

func encryptFor(t *testing.T, plaintext string, recipients ...*rsa.PublicKey) string {
	t.Helper()
	env, err := crypto.EncryptForRecipients(plaintext, recipients)
	require.NoError(t, err)
	encoded, err := env.Encode()
	require.NoError(t, err)
	return encoded
}

func TestOpenDecryptFailureIsolation(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	history := make([]wire.Message, 5)
	for i := range history {
		content := encryptFor(t, "nachricht", kp.Public)
		history[i] = wire.Message{
			ID: int64(i + 1), ConversationID: 10, SenderID: 2,
			Content: content, IsEncrypted: true, SentAt: time.Now(),
		}
	}
	// Corrupt message #3's envelope.
	env, err := wire.ParseEnvelope(history[2].Content)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(env.Content)
	require.NoError(t, err)
	raw[0] ^= 0xff
	env.Content = base64.StdEncoding.EncodeToString(raw)
	corrupted, err := env.Encode()
	require.NoError(t, err)
	history[2].Content = corrupted

	api := &fakeAPI{
		conversation: &wire.Conversation{ID: 10, ParticipantIDs: []int64{1, 2}},
		history:      history,
	}
	controller := NewController(api, &fakeTransport{}, &fakeResolver{}, kp, 1, "me")
	require.NoError(t, controller.Open(context.Background(), 10))
	t.Cleanup(controller.Close)

	snap := controller.Snapshot()
	require.Len(t, snap.Messages, 5)
	for i, msg := range snap.Messages {
		if i == 2 {
			require.Equal(t, DecryptFailedPlaceholder, msg.Content)
		} else {
			require.Equal(t, "nachricht", msg.Content)
		}
	}
}

func TestSendPlaintextFallback(t *testing.T) {
	f := newFixture(t, false, nil)

	require.NoError(t, f.controller.Send("hello"))

	sent := f.transport.lastMessage(t)
	require.False(t, sent.IsEncrypted)
	require.Equal(t, "hello", sent.Content)

	snap := f.controller.Snapshot()
	require.Len(t, snap.Messages, 1)
	require.Equal(t, "hello", snap.Messages[0].Content)
	require.False(t, snap.Messages[0].IsEncrypted)
	require.False(t, snap.E2EEnabled)
}

func TestSendEncryptsForAllParticipants(t *testing.T) {
	f := newFixture(t, true, nil)

	require.NoError(t, f.controller.Send("streng geheim"))

	sent := f.transport.lastMessage(t)
	require.True(t, sent.IsEncrypted)

	env, err := wire.ParseEnvelope(sent.Content)
	require.NoError(t, err)
	// Own key plus the peer's key.
	require.Len(t, env.Keys, 2)

	// Both parties can decrypt what went over the wire.
	for _, kp := range []*crypto.KeyPair{f.keyPair, f.peer} {
		plain, err := crypto.Decrypt(env, kp.Private)
		require.NoError(t, err)
		require.Equal(t, "streng geheim", plain)
	}

	// The optimistic entry shows the cached plaintext.
	snap := f.controller.Snapshot()
	require.Len(t, snap.Messages, 1)
	require.Equal(t, "streng geheim", snap.Messages[0].Content)
	require.True(t, snap.Messages[0].Pending)
}

func TestOptimisticReconciliation(t *testing.T) {
	f := newFixture(t, true, nil)

	require.NoError(t, f.controller.Send("bis gleich"))
	snap := f.controller.Snapshot()
	require.Len(t, snap.Messages, 1)
	tempID := snap.Messages[0].ID

	echo := wire.MessageFrame{
		Type: wire.TypeMessage,
		Message: wire.Message{
			ID: 500, ConversationID: 10, SenderID: 1, SenderName: "me",
			Content:     f.transport.lastMessage(t).Content,
			IsEncrypted: true,
			SentAt:      time.Now(),
		},
	}
	f.transport.deliver(t, mustJSON(t, echo))

	snap = f.controller.Snapshot()
	require.Len(t, snap.Messages, 1, "echo must replace the optimistic entry, not duplicate it")
	require.Equal(t, int64(500), snap.Messages[0].ID)
	require.NotEqual(t, tempID, snap.Messages[0].ID)
	require.Equal(t, "bis gleich", snap.Messages[0].Content, "self echo reuses the cached plaintext")
	require.False(t, snap.Messages[0].Pending)

	// A replayed echo is deduped by server id.
	f.transport.deliver(t, mustJSON(t, echo))
	require.Len(t, f.controller.Snapshot().Messages, 1)
}

func TestSelfEchoReusesCacheWithoutOwnWrappedKey(t *testing.T) {
	f := newFixture(t, true, nil)

	require.NoError(t, f.controller.Send("nur im cache"))

	// An echo wrapped only for the peer: the sender could never unwrap it.
	// Reconciliation must still show the cached plaintext.
	echo := wire.MessageFrame{
		Type: wire.TypeMessage,
		Message: wire.Message{
			ID: 600, ConversationID: 10, SenderID: 1, SenderName: "me",
			Content:     encryptFor(t, "nur im cache", f.peer.Public),
			IsEncrypted: true,
			SentAt:      time.Now(),
		},
	}
	f.transport.deliver(t, mustJSON(t, echo))

	snap := f.controller.Snapshot()
	require.Len(t, snap.Messages, 1)
	require.Equal(t, int64(600), snap.Messages[0].ID)
	require.Equal(t, "nur im cache", snap.Messages[0].Content)
	require.False(t, snap.Messages[0].Pending)
}

func TestCloseDuringOpenWins(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	api := &fakeAPI{conversation: &wire.Conversation{ID: 10, ParticipantIDs: []int64{1, 2}}}
	transport := &fakeTransport{}
	controller := NewController(api, transport, &fakeResolver{}, kp, 1, "me")
	// Close lands in the window between the loading phase and the channel
	// subscription; the controller must stay closed.
	transport.connectHook = controller.Close

	require.Error(t, controller.Open(context.Background(), 10))
	require.Equal(t, StateClosed, controller.State())

	// The racing Open's subscriptions were dropped again.
	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Nil(t, transport.handler)
}

func TestForeignMessageAppendsAndMarksRead(t *testing.T) {
	f := newFixture(t, true, nil)

	frame := wire.MessageFrame{
		Type: wire.TypeMessage,
		Message: wire.Message{
			ID: 42, ConversationID: 10, SenderID: 2, SenderName: "anna",
			Content:     encryptFor(t, "hallo du", f.peer.Public, f.keyPair.Public),
			IsEncrypted: true,
			SentAt:      time.Now(),
			ReadBy:      []int64{2},
		},
	}
	f.transport.deliver(t, mustJSON(t, frame))

	snap := f.controller.Snapshot()
	require.Len(t, snap.Messages, 1)
	require.Equal(t, "hallo du", snap.Messages[0].Content)
	require.Contains(t, snap.Messages[0].ReadBy, int64(1))

	f.transport.mu.Lock()
	defer f.transport.mu.Unlock()
	require.Equal(t, []int64{42}, f.transport.marksRead)
}

func TestSendNotConnectedDropsOptimisticEntry(t *testing.T) {
	f := newFixture(t, false, nil)
	f.transport.mu.Lock()
	f.transport.sendErr = realtime.ErrNotConnected
	f.transport.mu.Unlock()

	err := f.controller.Send("hello?")
	require.ErrorIs(t, err, realtime.ErrNotConnected)
	require.Empty(t, f.controller.Snapshot().Messages)
}

func TestSoftDeleteKeepsPosition(t *testing.T) {
	history := []wire.Message{
		{ID: 41, ConversationID: 10, SenderID: 2, Content: "eins", SentAt: time.Now()},
		{ID: 42, ConversationID: 10, SenderID: 1, Content: "zwei", SentAt: time.Now()},
		{ID: 43, ConversationID: 10, SenderID: 2, Content: "drei", SentAt: time.Now()},
	}
	f := newFixture(t, false, history)

	require.NoError(t, f.controller.Delete(context.Background(), 42))

	snap := f.controller.Snapshot()
	require.Len(t, snap.Messages, 3)
	require.Equal(t, int64(42), snap.Messages[1].ID)
	require.True(t, snap.Messages[1].IsDeleted)
	require.Empty(t, snap.Messages[1].Content)
	require.Equal(t, "eins", snap.Messages[0].Content)
	require.Equal(t, "drei", snap.Messages[2].Content)

	f.api.mu.Lock()
	defer f.api.mu.Unlock()
	require.Equal(t, []int64{42}, f.api.deleted)
}

func TestDeleteForeignMessageRejected(t *testing.T) {
	history := []wire.Message{
		{ID: 41, ConversationID: 10, SenderID: 2, Content: "nicht deins", SentAt: time.Now()},
	}
	f := newFixture(t, false, history)

	require.ErrorIs(t, f.controller.Delete(context.Background(), 41), ErrNotSender)
	require.False(t, f.controller.Snapshot().Messages[0].IsDeleted)
}

func TestTypingIndicators(t *testing.T) {
	f := newFixture(t, false, nil)

	f.transport.deliver(t, []byte(`{"type":"typing","username":"anna","is_typing":true}`))
	require.Equal(t, []string{"anna"}, f.controller.Snapshot().Typing)

	// Own typing echo is excluded.
	f.transport.deliver(t, []byte(`{"type":"typing","username":"me","is_typing":true}`))
	require.Equal(t, []string{"anna"}, f.controller.Snapshot().Typing)

	f.transport.deliver(t, []byte(`{"type":"typing","username":"anna","is_typing":false}`))
	require.Empty(t, f.controller.Snapshot().Typing)
}

func TestTypingDebounce(t *testing.T) {
	f := newFixture(t, false, nil)

	f.controller.Typing()
	f.controller.Typing()

	f.transport.mu.Lock()
	frames := len(f.transport.frames)
	f.transport.mu.Unlock()
	// Two keystrokes emit a single started-typing frame.
	require.Equal(t, 1, frames)
	require.Equal(t, wire.NewOutboundTyping(true), func() any {
		f.transport.mu.Lock()
		defer f.transport.mu.Unlock()
		return f.transport.frames[0]
	}())
}

func TestReactionToggle(t *testing.T) {
	history := []wire.Message{
		{ID: 7, ConversationID: 10, SenderID: 2, Content: "moin", SentAt: time.Now()},
	}
	f := newFixture(t, false, history)

	require.NoError(t, f.controller.ToggleReaction(context.Background(), 7, "👍"))
	snap := f.controller.Snapshot()
	require.Equal(t, []string{"me"}, snap.Messages[0].Reactions["👍"])

	// Server broadcast of the same toggle is idempotent.
	f.transport.deliver(t, []byte(`{"type":"reaction","message_id":7,"emoji":"👍","username":"me","added":true}`))
	require.Equal(t, []string{"me"}, f.controller.Snapshot().Messages[0].Reactions["👍"])

	// Toggling again removes the reaction.
	require.NoError(t, f.controller.ToggleReaction(context.Background(), 7, "👍"))
	require.Empty(t, f.controller.Snapshot().Messages[0].Reactions)

	// A foreign reaction arrives via broadcast.
	f.transport.deliver(t, []byte(`{"type":"reaction","message_id":7,"emoji":"🎉","username":"anna","added":true}`))
	require.Equal(t, []string{"anna"}, f.controller.Snapshot().Messages[0].Reactions["🎉"])
}

func TestMessageUpdatedMergesMetadata(t *testing.T) {
	history := []wire.Message{
		{ID: 9, ConversationID: 10, SenderID: 1, Content: "tippfehler", SentAt: time.Now()},
	}
	f := newFixture(t, false, history)

	update := wire.MessageFrame{
		Type: wire.TypeMessageUpdated,
		Message: wire.Message{
			ID: 9, ConversationID: 10, SenderID: 1,
			Content: "", IsDeleted: true, ReadBy: []int64{1, 2},
		},
	}
	f.transport.deliver(t, mustJSON(t, update))

	snap := f.controller.Snapshot()
	require.True(t, snap.Messages[0].IsDeleted)
	require.Empty(t, snap.Messages[0].Content)
	require.Equal(t, []int64{1, 2}, snap.Messages[0].ReadBy)
}

func TestOpenMarksConversationRead(t *testing.T) {
	f := newFixture(t, false, nil)

	f.api.mu.Lock()
	defer f.api.mu.Unlock()
	require.Equal(t, []int64{10}, f.api.markedRead)
}

func TestSendOnClosedController(t *testing.T) {
	f := newFixture(t, false, nil)
	f.controller.Close()
	require.ErrorIs(t, f.controller.Send("zu spät"), ErrNotReady)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
