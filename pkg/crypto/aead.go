// Package crypto provides the primitives the engine builds on: a 256-bit
// AEAD (ChaCha20-Poly1305), Ed25519 signatures, X25519 key agreement, HKDF
// and Argon2id derivation, streaming SHA-256 and Merkle trees.
//
// All failures are surfaced as typed errors; an authentication tag mismatch
// is never recoverable.
package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the AEAD key size in bytes (256 bits).
const KeySize = chacha20poly1305.KeySize

// NonceSize is the AEAD nonce size in bytes (96 bits).
const NonceSize = chacha20poly1305.NonceSize

// NewNonce returns a fresh random 96-bit nonce.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

// NewKey returns a fresh random 256-bit key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext with ChaCha20-Poly1305.
// The returned ciphertext includes the 16-byte authentication tag.
func Encrypt(key, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeySize, err)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrInvalidKeySize, NonceSize)
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
// Returns ErrAuthTagMismatch if the tag does not verify; callers must not
// retry or fall back on tag failure.
func Decrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeySize, err)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrInvalidKeySize, NonceSize)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthTagMismatch
	}
	return plaintext, nil
}
