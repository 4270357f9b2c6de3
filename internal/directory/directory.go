// Package directory synchronizes the local key pair with the backend's
// public-key directory and resolves other users' public keys.
package directory

import (
	"context"
	"crypto/rsa"
	"errors"

	"github.com/Pao040883/bogdol-go-dev-sub000/internal/crypto"
	"github.com/Pao040883/bogdol-go-dev-sub000/internal/keystore"
	"github.com/Pao040883/bogdol-go-dev-sub000/pkg/logger"
)

// ErrDirectoryUnavailable signals that the key directory could not be
// reached. Callers degrade to plaintext messaging instead of failing.
var ErrDirectoryUnavailable = errors.New("key directory unavailable")

// keyAPI is the slice of the REST client the directory manager needs.
type keyAPI interface {
	PublicKeys(ctx context.Context, userIDs []int64) (map[int64]string, error)
	PublishPublicKey(ctx context.Context, publicKey string) error
}

// Manager owns the local key pair lifecycle and directory lookups for one
// authenticated user.
type Manager struct {
	store     *keystore.Store
	api       keyAPI
	ownUserID int64
}

// NewManager creates a directory manager for the given user.
func NewManager(store *keystore.Store, api keyAPI, ownUserID int64) *Manager {
	return &Manager{store: store, api: api, ownUserID: ownUserID}
}

// Bootstrap ensures a usable key pair exists locally and matches the
// directory record.
//
// The local store is checked first, always: a locally present pair is never
// regenerated, since a fresh pair would orphan every message encrypted under
// the old one. If the directory has no record for us, or a different key
// (server data loss, key store desync), the local public key is republished.
func (m *Manager) Bootstrap(ctx context.Context) (*crypto.KeyPair, error) {
	kp, err := m.store.Get(m.ownUserID)
	if err != nil {
		return nil, err
	}

	if kp == nil {
		kp, err = crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		if err := m.store.Put(m.ownUserID, kp); err != nil {
			return nil, err
		}
		logger.Infof("directory: generated new key pair for user %d", m.ownUserID)
	}

	exported, err := crypto.ExportPublicKey(kp.Public)
	if err != nil {
		return nil, err
	}

	remote, err := m.api.PublicKeys(ctx, []int64{m.ownUserID})
	if err != nil {
		return nil, errors.Join(ErrDirectoryUnavailable, err)
	}
	if remote[m.ownUserID] != exported {
		if err := m.api.PublishPublicKey(ctx, exported); err != nil {
			return nil, errors.Join(ErrDirectoryUnavailable, err)
		}
		logger.Infof("directory: published public key for user %d", m.ownUserID)
	}

	return kp, nil
}

// FetchPublicKeys batch-resolves directory public keys for the given user
// ids. Users without a usable key are missing from the result; a malformed
// directory entry is treated like an absent one.
func (m *Manager) FetchPublicKeys(ctx context.Context, userIDs []int64) (map[int64]*rsa.PublicKey, error) {
	raw, err := m.api.PublicKeys(ctx, userIDs)
	if err != nil {
		return nil, errors.Join(ErrDirectoryUnavailable, err)
	}

	keys := make(map[int64]*rsa.PublicKey, len(raw))
	for userID, encoded := range raw {
		pub, err := crypto.ImportPublicKey(encoded)
		if err != nil {
			logger.Warnf("directory: discarding malformed key for user %d: %v", userID, err)
			continue
		}
		keys[userID] = pub
	}
	return keys, nil
}

// E2EEnabled reports whether every participant other than self has a
// resolvable public key, and returns the resolved keys.
//
// A directory failure degrades to plaintext (false) rather than blocking
// messaging. Partial resolution also yields false: a conversation is either
// fully encryptable or sent in plaintext, never partially encrypted.
func (m *Manager) E2EEnabled(ctx context.Context, participantIDs []int64) (bool, map[int64]*rsa.PublicKey) {
	keys, err := m.FetchPublicKeys(ctx, participantIDs)
	if err != nil {
		logger.Warnf("directory: key resolution failed, falling back to plaintext: %v", err)
		return false, nil
	}
	for _, id := range participantIDs {
		if id == m.ownUserID {
			continue
		}
		if _, ok := keys[id]; !ok {
			return false, keys
		}
	}
	return true, keys
}

// OwnUserID returns the authenticated user id the manager was built for.
func (m *Manager) OwnUserID() int64 {
	return m.ownUserID
}
