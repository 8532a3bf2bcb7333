// Package obfuscate is the single source of subjects, message identifiers
// and share identifiers. No other component generates these tokens.
//
// Two kinds of subject exist. The internal subject is deterministic and
// recomputable from local state; it never appears on the wire. The Usenet
// subject is random per post and has no exploitable structure.
package obfuscate

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
)

// usenetSubjectLen is the length of the random Usenet subject token.
const usenetSubjectLen = 20

// usenetSubjectAlphabet is the character set for Usenet subjects.
const usenetSubjectAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// messageIDDomain is fixed so posts blend with existing ngPost traffic.
const messageIDDomain = "ngPost.com"

// shareIDBytes is the entropy behind a share identifier; 15 bytes encode
// to exactly 24 base32 characters with no padding.
const shareIDBytes = 15

// InternalSubject computes the deterministic 64-hex segment subject:
// SHA-256(folder_id || file_id || segment_index || folder_private_key).
// It is stored locally and recomputable; it is never posted.
func InternalSubject(folderID, fileID string, segmentIndex int, folderPriv ed25519.PrivateKey) string {
	h := sha256.New()
	h.Write([]byte(folderID))
	h.Write([]byte(fileID))
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(segmentIndex))
	h.Write(idx[:])
	h.Write(folderPriv)
	return hex.EncodeToString(h.Sum(nil))
}

// UsenetSubject returns a fresh random 20-character token from [A-Z0-9].
// One token is generated per post and never stored outside the message row.
//
// Bytes at or above the largest multiple of the alphabet size are
// rejected; reducing them modulo 36 would skew the first 4 characters.
func UsenetSubject() (string, error) {
	const limit = 256 - 256%len(usenetSubjectAlphabet)
	out := make([]byte, 0, usenetSubjectLen)
	raw := make([]byte, usenetSubjectLen)
	for len(out) < usenetSubjectLen {
		if _, err := io.ReadFull(rand.Reader, raw); err != nil {
			return "", fmt.Errorf("failed to generate subject: %w", err)
		}
		for _, b := range raw {
			if int(b) >= limit {
				continue
			}
			out = append(out, usenetSubjectAlphabet[int(b)%len(usenetSubjectAlphabet)])
			if len(out) == usenetSubjectLen {
				break
			}
		}
	}
	return string(out), nil
}

// ArticleSubject builds the full posted subject line:
//
//	[i/N] <random20> - <filename> [<hash8>]
//
// For private shares the filename is itself an obfuscated token supplied by
// the caller; this function does not decide obfuscation policy.
func ArticleSubject(part, total int, random20, filename, hash8 string) string {
	return fmt.Sprintf("[%d/%d] %s - %s [%s]", part, total, random20, filename, hash8)
}

// MessageID generates an article message identifier shaped like
// <16-lowercase-hex@ngPost.com>. Collision probability is negligible; no
// uniqueness check is performed.
func MessageID() (string, error) {
	raw := make([]byte, 8)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("failed to generate message id: %w", err)
	}
	return fmt.Sprintf("<%s@%s>", hex.EncodeToString(raw), messageIDDomain), nil
}

// LookupMessageID derives the deterministic message identifier of a
// share's index article so a recipient holding only the share identifier
// can fetch it. The hash breaks any substring relation between the two.
//
// Servers reject reposts under an already-seen message identifier, so
// each re-publication of the index (commitment changes on private
// shares) posts under the next generation. Generation zero keeps the
// original derivation; recipients walk the chain upward and use the
// highest generation present.
func LookupMessageID(shareID string, generation int) string {
	input := "index-lookup:" + shareID
	if generation > 0 {
		input = fmt.Sprintf("%s:%d", input, generation)
	}
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf("<%s@%s>", hex.EncodeToString(sum[:8]), messageIDDomain)
}

// shareEncoding is standard base32 without padding, yielding [A-Z2-7].
var shareEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ShareID generates a 24-character share identifier. The identifier carries
// no Usenet data; no substring of it derives from any message identifier or
// folder identifier.
func ShareID() (string, error) {
	raw := make([]byte, shareIDBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("failed to generate share id: %w", err)
	}
	return shareEncoding.EncodeToString(raw), nil
}

// ObfuscatedFilename derives a stable opaque filename token for private
// shares from the file identifier and the folder key.
func ObfuscatedFilename(fileID string, folderPriv ed25519.PrivateKey) string {
	h := sha256.New()
	h.Write([]byte("filename:"))
	h.Write([]byte(fileID))
	h.Write(folderPriv)
	return hex.EncodeToString(h.Sum(nil))[:16]
}
