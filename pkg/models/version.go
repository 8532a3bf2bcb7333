package models

import "time"

// ChangeKind classifies one path between two folder versions.
type ChangeKind string

const (
	ChangeAdded     ChangeKind = "added"
	ChangeModified  ChangeKind = "modified"
	ChangeRenamed   ChangeKind = "renamed" // reserved; v1 reports delete+add
	ChangeDeleted   ChangeKind = "deleted"
	ChangeUnchanged ChangeKind = "unchanged"
)

// FolderVersion is the immutable record of one index run.
//
// The Merkle root is computed over per-file content hashes in canonical
// relative-path order and is re-verified on download.
type FolderVersion struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	FolderID string `gorm:"not null;size:64;index;uniqueIndex:idx_folder_version" json:"folder_id"`
	Version  int    `gorm:"not null;uniqueIndex:idx_folder_version" json:"version"`

	Added     int `gorm:"default:0" json:"added"`
	Modified  int `gorm:"default:0" json:"modified"`
	Renamed   int `gorm:"default:0" json:"renamed"`
	Deleted   int `gorm:"default:0" json:"deleted"`
	Unchanged int `gorm:"default:0" json:"unchanged"`

	FileCount  int64  `gorm:"default:0" json:"file_count"`
	TotalSize  int64  `gorm:"default:0" json:"total_size"`
	MerkleRoot string `gorm:"not null;size:64" json:"merkle_root"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for FolderVersion.
func (FolderVersion) TableName() string {
	return "folder_versions"
}

// ChangeJournalEntry records one classified path change for a version.
type ChangeJournalEntry struct {
	ID       string     `gorm:"primaryKey;size:36" json:"id"`
	FolderID string     `gorm:"not null;size:64;index" json:"folder_id"`
	Version  int        `gorm:"not null;index" json:"version"`
	Path     string     `gorm:"not null;size:4096" json:"path"`
	Kind     ChangeKind `gorm:"not null;size:16" json:"kind"`
	OldHash  string     `gorm:"size:64" json:"old_hash,omitempty"`
	NewHash  string     `gorm:"size:64" json:"new_hash,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for ChangeJournalEntry.
func (ChangeJournalEntry) TableName() string {
	return "change_journal"
}
