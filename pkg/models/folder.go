package models

import (
	"encoding/hex"
	"fmt"
	"time"
)

// AccessMode selects how a folder's shares are wrapped for recipients.
type AccessMode string

const (
	// AccessPublic embeds an HKDF-derived session key in the share record;
	// anyone holding the share identifier can decrypt the index.
	AccessPublic AccessMode = "public"

	// AccessProtected wraps the session key under an Argon2id-derived key.
	AccessProtected AccessMode = "protected"

	// AccessPrivate wraps the session key once per authorized recipient.
	AccessPrivate AccessMode = "private"
)

// IsValid checks if the mode is a known AccessMode.
func (m AccessMode) IsValid() bool {
	return m == AccessPublic || m == AccessProtected || m == AccessPrivate
}

// FolderStatus is the lifecycle status of a managed folder.
type FolderStatus string

const (
	FolderActive   FolderStatus = "active"
	FolderArchived FolderStatus = "archived"
)

// Folder is a managed local directory tree.
//
// The identifier is 64 hex characters and is distinct from the filesystem
// path. The per-folder Ed25519 private key is stored encrypted under the
// user's master key; the folder row is the canonical source of key material
// and exactly one row per folder identifier may carry key bytes.
type Folder struct {
	ID        string `gorm:"primaryKey;size:64" json:"id"`
	Path      string `gorm:"uniqueIndex;not null;size:4096" json:"path"`
	Name      string `gorm:"size:255" json:"name"`
	OwnerID   string `gorm:"not null;size:64;index" json:"owner_id"`
	PublicKey []byte `gorm:"not null" json:"-"`

	// EncryptedPrivateKey holds the folder's Ed25519 private key sealed
	// under the user master key; KeyNonce is the AEAD nonce used.
	EncryptedPrivateKey []byte `gorm:"not null" json:"-"`
	KeyNonce            []byte `gorm:"not null" json:"-"`

	Version         int          `gorm:"default:0" json:"version"`
	FileCount       int64        `gorm:"default:0" json:"file_count"`
	TotalSize       int64        `gorm:"default:0" json:"total_size"`
	AccessMode      AccessMode   `gorm:"default:public;size:16" json:"access_mode"`
	Status          FolderStatus `gorm:"default:active;size:16" json:"status"`
	RedundancyLevel int          `gorm:"not null" json:"redundancy_level"`

	// Dirty is set by the filesystem watcher when changes were observed
	// since the last index; cleared on reindex.
	Dirty bool `gorm:"default:false" json:"dirty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Files       []File           `gorm:"foreignKey:FolderID;constraint:OnDelete:CASCADE" json:"files,omitempty"`
	Versions    []FolderVersion  `gorm:"foreignKey:FolderID;constraint:OnDelete:CASCADE" json:"versions,omitempty"`
	Authorized  []AuthorizedUser `gorm:"foreignKey:FolderID;constraint:OnDelete:CASCADE" json:"authorized,omitempty"`
	Publication []Publication    `gorm:"foreignKey:FolderID" json:"publications,omitempty"`
}

// TableName returns the table name for Folder.
func (Folder) TableName() string {
	return "folders"
}

// Validate checks that the folder record is well formed.
func (f *Folder) Validate() error {
	if len(f.ID) != 64 {
		return fmt.Errorf("folder id must be 64 hex characters, got %d", len(f.ID))
	}
	if _, err := hex.DecodeString(f.ID); err != nil {
		return fmt.Errorf("folder id is not valid hex: %w", err)
	}
	if f.Path == "" {
		return fmt.Errorf("folder path is required")
	}
	if !f.AccessMode.IsValid() {
		return fmt.Errorf("invalid access mode: %s", f.AccessMode)
	}
	if f.RedundancyLevel < 0 {
		return fmt.Errorf("redundancy level must be >= 0")
	}
	return nil
}

// AuthorizedUser records a recipient user authorized on a private folder.
// Commitments for new shares are generated from this set.
type AuthorizedUser struct {
	ID       string    `gorm:"primaryKey;size:36" json:"id"`
	FolderID string    `gorm:"not null;size:64;index:idx_auth_folder_user,unique" json:"folder_id"`
	UserID   string    `gorm:"not null;size:64;index:idx_auth_folder_user,unique" json:"user_id"`
	X25519   []byte    `gorm:"not null" json:"-"` // recipient's X25519 public key
	Ed25519  []byte    `json:"-"`                 // recipient's Ed25519 public key
	AddedAt  time.Time `gorm:"autoCreateTime" json:"added_at"`
}

// TableName returns the table name for AuthorizedUser.
func (AuthorizedUser) TableName() string {
	return "authorized_users"
}
