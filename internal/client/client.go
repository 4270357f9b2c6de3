// Package client ties the subsystems together into one logged-in session:
// REST client, key directory, socket channels, presence roster, and the
// currently open conversation.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Pao040883/bogdol-go-dev-sub000/internal/api"
	"github.com/Pao040883/bogdol-go-dev-sub000/internal/chat"
	"github.com/Pao040883/bogdol-go-dev-sub000/internal/config"
	"github.com/Pao040883/bogdol-go-dev-sub000/internal/crypto"
	"github.com/Pao040883/bogdol-go-dev-sub000/internal/directory"
	"github.com/Pao040883/bogdol-go-dev-sub000/internal/keystore"
	"github.com/Pao040883/bogdol-go-dev-sub000/internal/presence"
	"github.com/Pao040883/bogdol-go-dev-sub000/internal/realtime"
	"github.com/Pao040883/bogdol-go-dev-sub000/internal/wire"
	"github.com/Pao040883/bogdol-go-dev-sub000/pkg/logger"
)

var (
	// ErrTokenExpired is returned by Login when the access token's exp claim
	// is already in the past. The check is local and unverified; it only
	// avoids a doomed round trip, the server remains the authority.
	ErrTokenExpired = errors.New("access token expired")
	// ErrLoggedOut is returned by operations on a session after Logout.
	ErrLoggedOut = errors.New("session logged out")
)

// keyStoreFile is the bbolt file holding key pairs, under the home directory.
const keyStoreFile = "keys.db"

// Notification describes a new message in a conversation other than the
// currently open one.
type Notification struct {
	ConversationID int64
	SenderName     string
	// Preview is the decrypted preview text, or the placeholder when the
	// preview could not be decrypted.
	Preview string
	SentAt  time.Time
}

// Session is one logged-in user's connection to the chat backend.
type Session struct {
	cfg       *config.Config
	api       *api.Client
	manager   *realtime.Manager
	directory *directory.Manager
	store     *keystore.Store
	presence  *presence.Controller
	keyPair   *crypto.KeyPair
	userID    int64
	username  string

	mu           sync.Mutex
	closed       bool
	controller   *chat.Controller
	openID       int64
	unread       map[int64]int
	removeNotify func()
	nextObserver int
	observers    map[int]func(Notification)
}

// Login builds a session: validates the token locally, opens the key store,
// bootstraps the key directory, and brings the presence and notification
// channels up.
//
// A failed key-directory bootstrap does not fail the login: the session
// degrades to plaintext messaging until the next login succeeds.
func Login(ctx context.Context, cfg *config.Config, token string, userID int64, username string, opts ...realtime.Option) (*Session, error) {
	if err := checkTokenExpiry(token); err != nil {
		return nil, err
	}

	homeDir, err := ensureHomeDir(cfg)
	if err != nil {
		return nil, err
	}

	restClient := api.New(cfg.ServerURL, token)

	store, err := keystore.Open(filepath.Join(homeDir, keyStoreFile))
	if err != nil {
		restClient.Close()
		return nil, fmt.Errorf("failed to open key store: %w", err)
	}

	dir := directory.NewManager(store, restClient, userID)
	keyPair, err := dir.Bootstrap(ctx)
	if err != nil {
		logger.Warnf("client: key bootstrap failed, continuing without encryption: %v", err)
		keyPair = nil
	}

	manager := realtime.NewManager(cfg.WSURL, token, opts...)

	s := &Session{
		cfg:       cfg,
		api:       restClient,
		manager:   manager,
		directory: dir,
		store:     store,
		keyPair:   keyPair,
		userID:    userID,
		username:  username,
		unread:    make(map[int64]int),
		observers: make(map[int]func(Notification)),
	}

	s.presence = presence.NewController(manager, username)
	s.presence.Start(ctx)

	manager.ConnectNotifications(ctx)
	s.removeNotify = manager.OnNotificationFrame(s.handleNotification)

	logger.Infof("client: session ready for %s (encryption %s)", username, onOff(keyPair != nil))
	return s, nil
}

// checkTokenExpiry rejects tokens whose exp claim has passed. Tokens that do
// not parse as JWTs are let through; the server decides their fate.
func checkTokenExpiry(token string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if exp.Before(time.Now()) {
		return ErrTokenExpired
	}
	return nil
}

func ensureHomeDir(cfg *config.Config) (string, error) {
	dir := cfg.HomeDir
	if dir == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dir = filepath.Join(userHome, ".bogdol")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create home directory: %w", err)
	}
	return dir, nil
}

// Encrypted reports whether the session holds a usable key pair.
func (s *Session) Encrypted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyPair != nil
}

// Presence returns the session's presence controller.
func (s *Session) Presence() *presence.Controller {
	return s.presence
}

// API returns the session's REST client.
func (s *Session) API() *api.Client {
	return s.api
}

// OpenConversation opens one conversation, closing any previously open one.
// Opening resets the conversation's unread count.
func (s *Session) OpenConversation(ctx context.Context, conversationID int64) (*chat.Controller, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrLoggedOut
	}
	previous := s.controller
	s.controller = nil
	s.openID = 0
	keyPair := s.keyPair
	s.mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	controller := chat.NewController(s.api, s.manager, s.directory, keyPair, s.userID, s.username)
	if err := controller.Open(ctx, conversationID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.controller = controller
	s.openID = conversationID
	delete(s.unread, conversationID)
	s.mu.Unlock()
	return controller, nil
}

// CloseConversation closes the currently open conversation, if any.
func (s *Session) CloseConversation() {
	s.mu.Lock()
	controller := s.controller
	s.controller = nil
	s.openID = 0
	s.mu.Unlock()
	if controller != nil {
		controller.Close()
	}
}

// OnNotification registers an observer for new-message notifications and
// returns its removal function.
func (s *Session) OnNotification(h func(Notification)) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObserver
	s.nextObserver++
	s.observers[id] = h
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// UnreadCount reports the unread-message count for one conversation.
func (s *Session) UnreadCount(conversationID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[conversationID]
}

// TotalUnread reports the unread-message count across all conversations.
func (s *Session) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.unread {
		total += n
	}
	return total
}

// handleNotification folds notification-channel frames into unread counts
// and fans them out to observers. Notifications for the currently open
// conversation are suppressed; the chat controller already shows the message.
func (s *Session) handleNotification(frameType string, data []byte) {
	if frameType != wire.TypeNewMessageNotification {
		return
	}
	var frame wire.NotificationFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		logger.Debugf("client: bad notification frame: %v", err)
		return
	}

	s.mu.Lock()
	if s.closed || frame.ConversationID == s.openID {
		s.mu.Unlock()
		return
	}
	s.unread[frame.ConversationID]++
	keyPair := s.keyPair
	handlers := make([]func(Notification), 0, len(s.observers))
	for _, h := range s.observers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	notification := Notification{
		ConversationID: frame.ConversationID,
		SenderName:     frame.SenderName,
		Preview: chat.PreviewText(&wire.MessagePreview{
			Content:     frame.Preview,
			IsEncrypted: frame.IsEncrypted,
		}, keyPair),
		SentAt: frame.SentAt,
	}
	for _, h := range handlers {
		h(notification)
	}
}

// Logout tears the session down: closes the open conversation, stops
// presence, disconnects every channel, and drops the key material from
// memory. The session is not reusable.
func (s *Session) Logout() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	controller := s.controller
	s.controller = nil
	s.openID = 0
	s.keyPair = nil
	removeNotify := s.removeNotify
	s.removeNotify = nil
	s.mu.Unlock()

	if controller != nil {
		controller.Close()
	}
	if removeNotify != nil {
		removeNotify()
	}
	s.presence.Stop()
	s.manager.DisconnectAll()
	if err := s.store.Close(); err != nil {
		logger.Warnf("client: key store close failed: %v", err)
	}
	s.api.Close()
	logger.Infof("client: session for %s closed", s.username)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
