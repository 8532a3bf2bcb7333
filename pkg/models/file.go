package models

import (
	"fmt"
	"time"
)

// FileStatus is the lifecycle status of a file within a folder version.
type FileStatus string

const (
	FilePending         FileStatus = "pending"
	FileIndexed         FileStatus = "indexed"
	FileUploaded        FileStatus = "uploaded"
	FileUploadedPartial FileStatus = "uploaded_partial"
	FileFailed          FileStatus = "failed"
)

// File is one file inside a managed folder at a specific version.
//
// The (folder_id, relative_path, version) triple is unique. The previous
// version reference links a modified file to its predecessor so change
// journals can be replayed.
type File struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	FolderID      string     `gorm:"not null;size:64;index;uniqueIndex:idx_file_path_version" json:"folder_id"`
	RelativePath  string     `gorm:"not null;size:4096;uniqueIndex:idx_file_path_version" json:"relative_path"`
	Version       int        `gorm:"not null;uniqueIndex:idx_file_path_version" json:"version"`
	Size          int64      `gorm:"not null" json:"size"`
	Hash          string     `gorm:"not null;size:64" json:"hash"` // SHA-256 of content, hex
	MimeType      string     `gorm:"size:255" json:"mime_type"`
	PrevVersionID *string    `gorm:"size:36" json:"prev_version_id,omitempty"`
	Status        FileStatus `gorm:"default:pending;size:24" json:"status"`

	SegmentCount     int `gorm:"default:0" json:"segment_count"` // primary segments only
	UploadedSegments int `gorm:"default:0" json:"uploaded_segments"`
	FailedSegments   int `gorm:"default:0" json:"failed_segments"`

	// EncKey optionally overrides the folder key for this file (sealed
	// under the folder key).
	EncKey   []byte `json:"-"`
	KeyNonce []byte `json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Segments []Segment `gorm:"foreignKey:FileID;constraint:OnDelete:CASCADE" json:"segments,omitempty"`
}

// TableName returns the table name for File.
func (File) TableName() string {
	return "files"
}

// Validate checks that the file record is well formed.
func (f *File) Validate() error {
	if f.FolderID == "" {
		return fmt.Errorf("file folder id is required")
	}
	if f.RelativePath == "" {
		return fmt.Errorf("file relative path is required")
	}
	if f.Size < 0 {
		return fmt.Errorf("file size must be >= 0")
	}
	if len(f.Hash) != 64 {
		return fmt.Errorf("file hash must be 64 hex characters")
	}
	if f.Version < 1 {
		return fmt.Errorf("file version must be >= 1")
	}
	return nil
}
