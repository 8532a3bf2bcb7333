package models

import (
	"encoding/hex"
	"fmt"
	"time"
)

// User is the single local principal known to the access-control layer.
//
// The identifier is 64 hex characters derived from the user's generated
// Ed25519 public key (SHA-256 of the raw key bytes). It is created once per
// installation and never destroyed. Private key material lives in the key
// store, not in the database.
type User struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	DisplayName string    `gorm:"size:255" json:"display_name"`
	Email       string    `gorm:"size:255" json:"email,omitempty"`
	PublicKey   []byte    `gorm:"not null" json:"-"`
	X25519Pub   []byte    `json:"-"`
	APIKeyHash  string    `gorm:"size:255" json:"-"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`

	Folders []Folder `gorm:"foreignKey:OwnerID" json:"folders,omitempty"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// Validate checks that the user record is well formed.
func (u *User) Validate() error {
	if len(u.ID) != 64 {
		return fmt.Errorf("user id must be 64 hex characters, got %d", len(u.ID))
	}
	if _, err := hex.DecodeString(u.ID); err != nil {
		return fmt.Errorf("user id is not valid hex: %w", err)
	}
	if len(u.PublicKey) == 0 {
		return fmt.Errorf("user public key is required")
	}
	return nil
}
