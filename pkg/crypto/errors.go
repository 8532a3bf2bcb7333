package crypto

import "errors"

// Crypto failures are never recovered locally; callers abort the operation
// and surface them.
var (
	ErrAuthTagMismatch = errors.New("authentication tag mismatch")
	ErrKeyNotFound     = errors.New("key not found")
	ErrKdfFailed       = errors.New("key derivation failed")
	ErrInvalidKeySize  = errors.New("invalid key size")
	ErrInvalidProof    = errors.New("invalid proof")
)
