// Package shareindex defines the payload posted as a share's index article.
//
// The article has two layers. The outer envelope is cleartext JSON carrying
// the share identifier, the access mode and the mode's wrap parameters
// (KDF salt and cost, wrapped session key, recipient commitments), so a
// recipient holding only the share identifier can reconstruct everything
// needed to open the share. The inner document is AEAD-sealed under the
// share's session key and holds the actual folder index: files, segment
// message identifiers, nonces and hashes. Segment message identifiers never
// appear outside the sealed layer.
package shareindex

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/usenetsync/usenetsync/pkg/crypto"
	"github.com/usenetsync/usenetsync/pkg/models"
)

// Document is the sealed folder index a recipient decrypts with the share's
// session key.
type Document struct {
	ShareID       string    `json:"share_id"`
	FolderID      string    `json:"folder_id"`
	FolderVersion int       `json:"folder_version"`
	CreatedAt     time.Time `json:"created_at"`

	// MerkleRoot covers the file hashes in the order Files is listed
	// (relative-path order).
	MerkleRoot      string `json:"merkle_root"`
	RedundancyLevel int    `json:"redundancy_level"`

	// ContentKey decrypts segment payloads for files without a per-file
	// key override.
	ContentKey []byte `json:"content_key"`

	Files []FileEntry `json:"files"`

	// Missing lists redundancy-uncovered segment slots on partial shares.
	Missing []MissingSegment `json:"missing,omitempty"`
}

// FileEntry describes one file and its posted segments.
type FileEntry struct {
	FileID       string `json:"file_id"`
	RelativePath string `json:"relative_path"`
	Size         int64  `json:"size"`
	Hash         string `json:"hash"` // SHA-256 of content, hex
	SegmentCount int    `json:"segment_count"`

	// Key overrides ContentKey for this file's segments when present.
	Key []byte `json:"key,omitempty"`

	Segments []SegmentEntry `json:"segments"`
}

// SegmentEntry carries what a recipient needs to fetch, decrypt and place
// one segment: the posted message identifiers, the AEAD nonce, the subject
// the payload was bound to, and the plaintext hash.
type SegmentEntry struct {
	Index           int      `json:"index"`
	RedundancyIndex int      `json:"redundancy_index,omitempty"`
	Size            int64    `json:"size"`
	Compressed      bool     `json:"compressed,omitempty"`
	Hash            string   `json:"hash"`
	Subject         string   `json:"subject"` // AEAD associated data
	Nonce           []byte   `json:"nonce"`
	MessageIDs      []string `json:"message_ids"`
}

// MissingSegment identifies one unposted segment slot.
type MissingSegment struct {
	FileID string `json:"file_id"`
	Index  int    `json:"index"`
}

// Seal serializes and encrypts the document under the session key, bound to
// the share identifier. Returns the ciphertext and the nonce used.
func Seal(doc *Document, sessionKey []byte) ([]byte, []byte, error) {
	plaintext, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize index document: %w", err)
	}
	nonce, err := crypto.NewNonce()
	if err != nil {
		return nil, nil, err
	}
	sealed, err := crypto.Encrypt(sessionKey, nonce, plaintext, []byte(doc.ShareID))
	if err != nil {
		return nil, nil, err
	}
	return sealed, nonce, nil
}

// OpenDocument decrypts and deserializes a sealed index document.
func OpenDocument(sealed, nonce, sessionKey []byte, shareID string) (*Document, error) {
	plaintext, err := crypto.Decrypt(sessionKey, nonce, sealed, []byte(shareID))
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse index document: %w", err)
	}
	if doc.ShareID != shareID {
		return nil, fmt.Errorf("index document is for share %s, expected %s", doc.ShareID, shareID)
	}
	return &doc, nil
}

// Commitment is the wire form of one recipient commitment.
type Commitment struct {
	UserIDHash string `json:"user_id_hash"`
	Salt       []byte `json:"salt"`

	ProofCommit    []byte `json:"proof_commit"`
	ProofChallenge []byte `json:"proof_challenge"`
	ProofResponse  []byte `json:"proof_response"`
	VerifyKey      []byte `json:"verify_key"`

	EphemeralPub []byte `json:"ephemeral_pub"`
	WrappedKey   []byte `json:"wrapped_key"`
	WrapNonce    []byte `json:"wrap_nonce"`
}

// Envelope is the cleartext outer layer of the index article.
//
// It carries no key material a holder of the share identifier could not
// reconstruct: public shares expose only the HKDF salt, protected shares
// the KDF parameters and the sealed session key, private shares the
// commitment set (salted user hashes, never identities).
type Envelope struct {
	ShareID    string            `json:"share_id"`
	AccessMode models.AccessMode `json:"access_mode"`

	// Protected mode.
	KdfSalt    []byte `json:"kdf_salt,omitempty"`
	KdfTime    uint32 `json:"kdf_time,omitempty"`
	KdfMemory  uint32 `json:"kdf_memory,omitempty"`
	KdfThreads uint8  `json:"kdf_threads,omitempty"`
	WrappedKey []byte `json:"wrapped_key,omitempty"`
	WrapNonce  []byte `json:"wrap_nonce,omitempty"`

	// Public mode.
	PublicSalt []byte `json:"public_salt,omitempty"`

	// Private mode.
	Commitments []Commitment `json:"commitments,omitempty"`

	// The sealed inner document and its nonce.
	Nonce  []byte `json:"nonce"`
	Sealed []byte `json:"sealed"`
}

// NewEnvelope builds the envelope for a publication's sealed index.
func NewEnvelope(pub *models.Publication) *Envelope {
	env := &Envelope{
		ShareID:    pub.ShareID,
		AccessMode: pub.AccessMode,
		KdfSalt:    pub.KdfSalt,
		KdfTime:    pub.KdfTime,
		KdfMemory:  pub.KdfMemory,
		KdfThreads: pub.KdfThreads,
		WrappedKey: pub.WrappedKey,
		WrapNonce:  pub.WrapNonce,
		PublicSalt: pub.PublicSalt,
		Nonce:      pub.IndexNonce,
		Sealed:     pub.EncryptedIndex,
	}
	for _, c := range pub.Commitments {
		env.Commitments = append(env.Commitments, Commitment{
			UserIDHash:     c.UserIDHash,
			Salt:           c.Salt,
			ProofCommit:    c.ProofCommit,
			ProofChallenge: c.ProofChallenge,
			ProofResponse:  c.ProofResponse,
			VerifyKey:      c.VerifyKey,
			EphemeralPub:   c.EphemeralPub,
			WrappedKey:     c.WrappedKey,
			WrapNonce:      c.WrapNonce,
		})
	}
	return env
}

// Encode serializes the envelope for posting.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a fetched index article body.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse index envelope: %w", err)
	}
	if env.ShareID == "" || !env.AccessMode.IsValid() {
		return nil, fmt.Errorf("index envelope is missing share id or access mode")
	}
	if len(env.Sealed) == 0 {
		return nil, fmt.Errorf("index envelope carries no sealed document")
	}
	return &env, nil
}

// Publication reconstructs an in-memory publication record from the
// envelope so the usual credential verification path applies to shares the
// local store has never seen. The record is marked active; lifecycle state
// beyond what the article carries is unknowable to a remote recipient.
func (e *Envelope) Publication() *models.Publication {
	pub := &models.Publication{
		ShareID:        e.ShareID,
		AccessMode:     e.AccessMode,
		Status:         models.ShareActive,
		KdfSalt:        e.KdfSalt,
		KdfTime:        e.KdfTime,
		KdfMemory:      e.KdfMemory,
		KdfThreads:     e.KdfThreads,
		WrappedKey:     e.WrappedKey,
		WrapNonce:      e.WrapNonce,
		PublicSalt:     e.PublicSalt,
		IndexNonce:     e.Nonce,
		EncryptedIndex: e.Sealed,
	}
	for _, c := range e.Commitments {
		pub.Commitments = append(pub.Commitments, models.AccessCommitment{
			ShareID:        e.ShareID,
			UserIDHash:     c.UserIDHash,
			Salt:           c.Salt,
			ProofCommit:    c.ProofCommit,
			ProofChallenge: c.ProofChallenge,
			ProofResponse:  c.ProofResponse,
			VerifyKey:      c.VerifyKey,
			EphemeralPub:   c.EphemeralPub,
			WrappedKey:     c.WrappedKey,
			WrapNonce:      c.WrapNonce,
		})
	}
	return pub
}
