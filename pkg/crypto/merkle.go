package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// MerkleRoot computes the Merkle root over a list of hex-encoded SHA-256
// hashes by repeated pair-wise hashing. When a level has odd length the
// last element is duplicated. An empty list hashes the empty string so the
// root is always defined.
func MerkleRoot(hashes []string) (string, error) {
	if len(hashes) == 0 {
		return HashBytes(nil), nil
	}

	level := make([][]byte, 0, len(hashes))
	for _, h := range hashes {
		raw, err := hex.DecodeString(h)
		if err != nil {
			return "", fmt.Errorf("invalid hash %q: %w", h, err)
		}
		level = append(level, raw)
	}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			h := sha256.New()
			h.Write(level[i])
			h.Write(level[i+1])
			next = append(next, h.Sum(nil))
		}
		level = next
	}

	return hex.EncodeToString(level[0]), nil
}
