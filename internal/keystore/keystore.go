// Package keystore persists one key pair per user id in a local bbolt file.
//
// The private half is at rest in plaintext-equivalent encoding. That is
// deliberate: the threat model protects against server and network
// compromise, not local-machine compromise.
package keystore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Pao040883/bogdol-go-dev-sub000/internal/crypto"
)

var bucketKeyPairs = []byte("keypairs")

// serializedKeyPair is the stored JSON value: both halves base64-encoded
// (SPKI public, PKCS8 private).
type serializedKeyPair struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// Store is a durable key-pair store backed by a bbolt file.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the key store file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open key store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKeyPairs)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init key store: %w", err)
	}
	return &Store{db: db}, nil
}

// Put persists the key pair for a user, overwriting any prior entry.
func (s *Store) Put(userID int64, kp *crypto.KeyPair) error {
	pub, err := crypto.ExportPublicKey(kp.Public)
	if err != nil {
		return err
	}
	priv, err := crypto.ExportPrivateKey(kp.Private)
	if err != nil {
		return err
	}
	value, err := json.Marshal(serializedKeyPair{PublicKey: pub, PrivateKey: priv})
	if err != nil {
		return fmt.Errorf("failed to marshal key pair: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeyPairs).Put(userKey(userID), value)
	})
}

// Get retrieves the key pair for a user.
//
// An absent entry returns (nil, nil); this is the normal first-login case,
// not a failure.
func (s *Store) Get(userID int64) (*crypto.KeyPair, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket(bucketKeyPairs).Get(userKey(userID)); raw != nil {
			value = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read key store: %w", err)
	}
	if value == nil {
		return nil, nil
	}

	var stored serializedKeyPair
	if err := json.Unmarshal(value, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse stored key pair: %w", err)
	}
	pub, err := crypto.ImportPublicKey(stored.PublicKey)
	if err != nil {
		return nil, err
	}
	priv, err := crypto.ImportPrivateKey(stored.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &crypto.KeyPair{Public: pub, Private: priv}, nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

func userKey(userID int64) []byte {
	return []byte(strconv.FormatInt(userID, 10))
}
