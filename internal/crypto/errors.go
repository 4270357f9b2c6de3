package crypto

import "errors"

var (
	// ErrCryptoUnavailable signals that the crypto subsystem could not be
	// initialized; chat degrades to plaintext-only.
	ErrCryptoUnavailable = errors.New("crypto unavailable")
	// ErrInvalidKeyFormat signals a key that failed base64 or DER decoding,
	// or that is not an RSA key.
	ErrInvalidKeyFormat = errors.New("invalid key format")
	// ErrNoMatchingKey signals that none of an envelope's wrapped keys could
	// be unwrapped with the supplied private key.
	ErrNoMatchingKey = errors.New("no matching wrapped key")
	// ErrDecryptionFailed signals an unwrap or AEAD integrity failure.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrNoRecipients signals an encryption attempt with an empty recipient
	// set. This is a caller error, rejected before any work is done.
	ErrNoRecipients = errors.New("no recipients")
)
