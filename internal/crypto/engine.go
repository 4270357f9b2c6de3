package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/Pao040883/bogdol-go-dev-sub000/internal/wire"
)

const (
	// sessionKeySize is the AES-256 session key size in bytes.
	sessionKeySize = 32
	// nonceSize is the AES-GCM nonce size in bytes.
	nonceSize = 12
)

// EncryptForRecipients encrypts plaintext once with a fresh AES-256-GCM
// session key and wraps that key with each recipient's public key.
//
// The recipient set must include the sender's own public key so the sender
// can later re-read its own sent messages. The order of the resulting
// wrapped-key list matches recipient order but carries no semantic index.
func EncryptForRecipients(plaintext string, recipients []*rsa.PublicKey) (*wire.Envelope, error) {
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	sessionKey := make([]byte, sessionKeySize)
	if _, err := rand.Read(sessionKey); err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	keys := make([]string, 0, len(recipients))
	for i, pub := range recipients {
		wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, sessionKey, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to wrap key for recipient %d: %w", i, err)
		}
		keys = append(keys, base64.StdEncoding.EncodeToString(wrapped))
	}

	return &wire.Envelope{
		Keys:    keys,
		IV:      base64.StdEncoding.EncodeToString(nonce),
		Content: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// Decrypt recovers the plaintext of an envelope using the reader's private
// key.
//
// Multi-key envelopes are trial-unwrapped entry by entry; the first entry
// that unwraps wins. Recipient identity is not transmitted alongside the
// entries, so an indexed lookup is not possible. Legacy single-key envelopes
// are unwrapped directly.
func Decrypt(env *wire.Envelope, priv *rsa.PrivateKey) (string, error) {
	if priv == nil {
		return "", fmt.Errorf("%w: nil private key", ErrDecryptionFailed)
	}

	var sessionKey []byte
	if env.IsLegacy() {
		wrapped, err := base64.StdEncoding.DecodeString(env.Key)
		if err != nil {
			return "", fmt.Errorf("%w: bad wrapped key encoding", ErrDecryptionFailed)
		}
		sessionKey, err = rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, nil)
		if err != nil {
			return "", ErrDecryptionFailed
		}
	} else {
		for _, entry := range env.Keys {
			wrapped, err := base64.StdEncoding.DecodeString(entry)
			if err != nil {
				continue
			}
			key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, nil)
			if err != nil {
				continue
			}
			sessionKey = key
			break
		}
		if sessionKey == nil {
			return "", ErrNoMatchingKey
		}
	}

	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(nonce) != nonceSize {
		return "", fmt.Errorf("%w: bad nonce", ErrDecryptionFailed)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Content)
	if err != nil {
		return "", fmt.Errorf("%w: bad content encoding", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// GCM rejects tampered ciphertext outright; never return partial
		// output and never log the failed payload.
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}
