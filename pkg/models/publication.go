package models

import (
	"fmt"
	"regexp"
	"time"
)

// ShareStatus is the lifecycle status of a publication.
//
// Shares are never physically deleted: posted article content cannot be
// retracted from the network, so revocation and expiry are advisory state.
type ShareStatus string

const (
	ShareDraft     ShareStatus = "draft"
	ShareActive    ShareStatus = "active"
	ShareExpired   ShareStatus = "expired"
	ShareRevoked   ShareStatus = "revoked"
	ShareSuspended ShareStatus = "suspended"
	SharePartial   ShareStatus = "partial"
)

var shareIDPattern = regexp.MustCompile(`^[A-Z2-7]{24}$`)

// Publication is a share of one folder at a specific version.
//
// The share identifier is a 24-character base32 token carrying no Usenet
// data. Segment message identifiers live only inside the encrypted index
// payload.
type Publication struct {
	ShareID       string `gorm:"primaryKey;size:24" json:"share_id"`
	FolderID      string `gorm:"not null;size:64;index" json:"folder_id"`
	FolderVersion int    `gorm:"not null" json:"folder_version"`
	OwnerID       string `gorm:"not null;size:64" json:"owner_id"`

	AccessMode AccessMode  `gorm:"not null;size:16" json:"access_mode"`
	Status     ShareStatus `gorm:"default:draft;size:16;index" json:"status"`

	// EncryptedIndex is the AEAD-sealed folder index payload; IndexNonce is
	// the nonce used. The same payload is posted to the network as one or
	// more articles; IndexMessageIDs caches their message identifiers
	// locally as an optimization (the articles remain authoritative).
	EncryptedIndex  []byte `json:"-"`
	IndexNonce      []byte `json:"-"`
	IndexMessageIDs string `gorm:"type:text" json:"-"` // JSON array

	// IndexGeneration versions the deterministic lookup identifier the
	// index posts under. Re-publications (commitment changes) bump it;
	// servers would refuse a repost under an already-seen identifier.
	IndexGeneration int `gorm:"default:0" json:"index_generation"`

	// Protected mode parameters. The derived key itself is never stored;
	// WrappedKey is the session key sealed under it.
	KdfSalt    []byte `json:"-"`
	KdfTime    uint32 `gorm:"default:0" json:"-"`
	KdfMemory  uint32 `gorm:"default:0" json:"-"` // KiB
	KdfThreads uint8  `gorm:"default:0" json:"-"`
	WrappedKey []byte `json:"-"`
	WrapNonce  []byte `json:"-"`

	// Public mode: salt for the HKDF share-key derivation embedded in the
	// record so any holder of the share identifier can derive the key.
	PublicSalt []byte `json:"-"`
	PublicKey  []byte `json:"-"` // HKDF-derived session key (public shares only)

	// MissingSegments lists redundancy-uncovered (file_id, index) pairs for
	// partial shares as a JSON array.
	MissingSegments string `gorm:"type:text" json:"missing_segments,omitempty"`

	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	AccessCount    int64      `gorm:"default:0" json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	LastAccessedBy string     `gorm:"size:64" json:"last_accessed_by,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Commitments []AccessCommitment `gorm:"foreignKey:ShareID;constraint:OnDelete:CASCADE" json:"commitments,omitempty"`
}

// TableName returns the table name for Publication.
func (Publication) TableName() string {
	return "publications"
}

// Validate checks that the publication record is well formed.
func (p *Publication) Validate() error {
	if !shareIDPattern.MatchString(p.ShareID) {
		return fmt.Errorf("share id must match [A-Z2-7]{24}")
	}
	if p.FolderID == "" {
		return fmt.Errorf("publication folder id is required")
	}
	if p.FolderVersion < 1 {
		return fmt.Errorf("publication folder version must be >= 1")
	}
	if !p.AccessMode.IsValid() {
		return fmt.Errorf("invalid access mode: %s", p.AccessMode)
	}
	return nil
}

// Expired reports whether the share's expiry timestamp has passed.
func (p *Publication) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// Accessible reports whether an honest client should honor this share.
func (p *Publication) Accessible(now time.Time) error {
	switch p.Status {
	case ShareRevoked:
		return ErrShareRevoked
	case ShareSuspended:
		return ErrShareSuspended
	case ShareExpired:
		return ErrShareExpired
	}
	if p.Expired(now) {
		return ErrShareExpired
	}
	return nil
}

// AccessCommitment binds a recipient user to a private share without
// revealing the authorized set.
//
// The wrapped session key unwraps only with the recipient's X25519 private
// key; the Schnorr proof parameters let any peer verify that the commitment
// was issued against the recipient's public key.
type AccessCommitment struct {
	ID      string `gorm:"primaryKey;size:36" json:"id"`
	ShareID string `gorm:"not null;size:24;index" json:"share_id"`

	UserIDHash string `gorm:"not null;size:64;index" json:"user_id_hash"` // SHA-256(user_id || salt)
	Salt       []byte `gorm:"not null" json:"-"`

	// Schnorr-style non-interactive zero-knowledge proof over the owner's
	// Ed25519 key: commitment point, challenge and response scalar.
	ProofCommit    []byte `gorm:"not null" json:"-"`
	ProofChallenge []byte `gorm:"not null" json:"-"`
	ProofResponse  []byte `gorm:"not null" json:"-"`
	VerifyKey      []byte `gorm:"not null" json:"-"`

	// Session key wrapped with X25519(owner ephemeral, recipient public).
	EphemeralPub []byte `gorm:"not null" json:"-"`
	WrappedKey   []byte `gorm:"not null" json:"-"`
	WrapNonce    []byte `gorm:"not null" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for AccessCommitment.
func (AccessCommitment) TableName() string {
	return "user_commitments"
}
