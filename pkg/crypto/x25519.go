package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// WrappedKey is a session key sealed for one recipient via an ephemeral
// X25519 agreement.
type WrappedKey struct {
	EphemeralPub []byte
	Nonce        []byte
	Sealed       []byte
}

// wrapInfo domain-separates the HKDF expansion of the shared secret.
const wrapInfo = "usenetsync/session-key-wrap/v1"

// WrapSessionKey seals sessionKey for the holder of recipientPub.
// A fresh ephemeral keypair is generated per wrap; the recipient needs
// only the ephemeral public key, the nonce and the sealed bytes.
func WrapSessionKey(sessionKey, recipientPub []byte) (*WrappedKey, error) {
	eph, err := GenerateX25519KeyPair()
	if err != nil {
		return nil, err
	}

	shared, err := curve25519.X25519(eph.Private, recipientPub)
	if err != nil {
		return nil, fmt.Errorf("x25519 agreement failed: %w", err)
	}

	wrapKey, err := expandSharedSecret(shared, eph.Public, recipientPub)
	if err != nil {
		return nil, err
	}

	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}
	sealed, err := Encrypt(wrapKey, nonce, sessionKey, eph.Public)
	if err != nil {
		return nil, err
	}

	return &WrappedKey{
		EphemeralPub: eph.Public,
		Nonce:        nonce,
		Sealed:       sealed,
	}, nil
}

// UnwrapSessionKey recovers a session key wrapped for recipientPriv.
// Returns ErrAuthTagMismatch when the key was not wrapped for this
// recipient.
func UnwrapSessionKey(w *WrappedKey, recipientPriv []byte) ([]byte, error) {
	shared, err := curve25519.X25519(recipientPriv, w.EphemeralPub)
	if err != nil {
		return nil, fmt.Errorf("x25519 agreement failed: %w", err)
	}

	recipientPub, err := curve25519.X25519(recipientPriv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive recipient public key: %w", err)
	}

	wrapKey, err := expandSharedSecret(shared, w.EphemeralPub, recipientPub)
	if err != nil {
		return nil, err
	}

	return Decrypt(wrapKey, w.Nonce, w.Sealed, w.EphemeralPub)
}

// expandSharedSecret binds the raw agreement to both public keys.
func expandSharedSecret(shared, ephPub, recipientPub []byte) ([]byte, error) {
	salt := make([]byte, 0, len(ephPub)+len(recipientPub))
	salt = append(salt, ephPub...)
	salt = append(salt, recipientPub...)

	r := hkdf.New(sha256.New, shared, salt, []byte(wrapInfo))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKdfFailed, err)
	}
	return key, nil
}
