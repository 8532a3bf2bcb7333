package models

import "errors"

// Common sentinel errors for the engine's storage and domain operations.
var (
	// User errors
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("user already exists")

	// Folder errors
	ErrFolderNotFound  = errors.New("folder not found")
	ErrDuplicateFolder = errors.New("folder already exists")
	ErrFolderBusy      = errors.New("folder indexing already in progress")
	ErrFolderArchived  = errors.New("folder is archived")

	// File and segment errors
	ErrFileNotFound    = errors.New("file not found")
	ErrSegmentNotFound = errors.New("segment not found")
	ErrMessageNotFound = errors.New("message not found")

	// Share errors
	ErrShareNotFound  = errors.New("share not found")
	ErrDuplicateShare = errors.New("share already exists")
	ErrShareExpired   = errors.New("share has expired")
	ErrShareRevoked   = errors.New("share has been revoked")
	ErrShareSuspended = errors.New("share is suspended")

	// Access errors
	ErrAccessDenied  = errors.New("access denied")
	ErrWrongPassword = errors.New("wrong password")
	ErrNotAuthorized = errors.New("user not in authorized set")

	// Queue errors
	ErrQueueEntryNotFound = errors.New("queue entry not found")
	ErrEntryNotClaimable  = errors.New("queue entry is not claimable")

	// Storage errors
	ErrDatabaseBusy        = errors.New("database busy")
	ErrDatabaseCorrupt     = errors.New("database corrupt")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrMigrationFailed     = errors.New("migration failed")

	// Version errors
	ErrVersionNotFound = errors.New("folder version not found")

	// Integrity errors
	ErrIntegrity      = errors.New("integrity check failed")
	ErrHashMismatch   = errors.New("content hash mismatch")
	ErrMerkleMismatch = errors.New("merkle root mismatch")
)
