package wire

import (
	"encoding/json"
	"fmt"
)

// Envelope is the hybrid-encryption payload stored as a message's content
// string when the message is encrypted.
//
// Current format carries one wrapped session key per recipient in Keys.
// Older messages carry a single wrapped key in Key; that format is read-only,
// new envelopes are always produced in the multi-key format.
type Envelope struct {
	// Keys holds one base64 RSA-wrapped AES key per recipient, in recipient
	// order. The order carries no semantic index: a decrypting party must
	// trial-unwrap the entries with its own private key.
	Keys []string `json:"keys,omitempty"`
	// Key is the wrapped AES key of the legacy single-recipient format.
	Key string `json:"key,omitempty"`
	// IV is the base64 12-byte AES-GCM nonce.
	IV string `json:"iv"`
	// Content is the base64 AES-GCM ciphertext of the message body.
	Content string `json:"content"`
}

// IsLegacy reports whether the envelope uses the single-key format.
func (e *Envelope) IsLegacy() bool {
	return len(e.Keys) == 0 && e.Key != ""
}

// Encode serializes the envelope to its JSON wire form.
func (e *Envelope) Encode() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope: %w", err)
	}
	return string(raw), nil
}

// ParseEnvelope parses the JSON wire form of an encrypted message body.
func ParseEnvelope(content string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(content), &env); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if len(env.Keys) == 0 && env.Key == "" {
		return nil, fmt.Errorf("envelope has no wrapped keys")
	}
	if env.IV == "" || env.Content == "" {
		return nil, fmt.Errorf("envelope missing iv or content")
	}
	return &env, nil
}
