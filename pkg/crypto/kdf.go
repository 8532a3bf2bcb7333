package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// Argon2Params holds the tunable Argon2id cost parameters for protected
// shares. The parameters are stored alongside the salt in the share record
// so recipients derive the same key.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
}

// DefaultArgon2Params returns the default password-KDF cost:
// 3 iterations, 64 MiB, 4 lanes, 32-byte key.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:    3,
		Memory:  64 * 1024,
		Threads: 4,
		KeyLen:  KeySize,
	}
}

// Info strings for the key derivations fixed by the wire format. Both the
// posting and the receiving side must derive the same keys.
const (
	// SegmentKeyInfo derives the AEAD key sealing a folder's segment
	// payloads from the folder private key.
	SegmentKeyInfo = "usenetsync/segment-key/v1"

	// PrivateSessionInfo derives a private share's session key from the
	// folder private key and the share identifier, so the owner can
	// re-wrap it for new recipients without storing it.
	PrivateSessionInfo = "usenetsync/private-session-key/v1"
)

// DeriveShareKey derives a session key from a master secret and salt via
// HKDF-SHA256. The info string domain-separates derivations.
func DeriveShareKey(master, salt []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, master, salt, []byte(info))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKdfFailed, err)
	}
	return key, nil
}

// DeriveProtectedKey derives a key-wrapping key from a password and salt
// using Argon2id with the given cost parameters.
func DeriveProtectedKey(password string, salt []byte, params Argon2Params) ([]byte, error) {
	if params.KeyLen == 0 {
		params.KeyLen = KeySize
	}
	if params.Time == 0 || params.Memory == 0 || params.Threads == 0 {
		return nil, fmt.Errorf("%w: zero argon2 cost parameter", ErrKdfFailed)
	}
	return argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, params.KeyLen), nil
}

// NewSalt returns a fresh random salt of the given length.
func NewSalt(n int) ([]byte, error) {
	salt := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}
