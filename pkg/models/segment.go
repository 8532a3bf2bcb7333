package models

import (
	"fmt"
	"time"
)

// SegmentState tracks a segment through the content pipeline.
type SegmentState string

const (
	SegmentNew        SegmentState = "new"
	SegmentSegmented  SegmentState = "segmented"
	SegmentCompressed SegmentState = "compressed"
	SegmentEncrypted  SegmentState = "encrypted"
	SegmentRedundant  SegmentState = "redundant"
	SegmentQueued     SegmentState = "queued"
	SegmentInFlight   SegmentState = "in_flight"
	SegmentPosted     SegmentState = "posted"
	SegmentVerified   SegmentState = "verified"
	SegmentFailed     SegmentState = "failed"
	SegmentAbandoned  SegmentState = "abandoned"
)

// Segment is a fixed-size byte range of a file that becomes one article.
//
// Segments with redundancy_index 0 cover the file exactly and in order;
// indices >= 1 are Reed-Solomon parity produced over the primary set.
// The internal subject is deterministic and recomputable from
// (folder_id, file_id, segment_index, folder_private_key).
type Segment struct {
	ID     string `gorm:"primaryKey;size:36" json:"id"`
	FileID string `gorm:"not null;size:36;index;uniqueIndex:idx_segment_slot" json:"file_id"`

	Index           int `gorm:"column:segment_index;not null;uniqueIndex:idx_segment_slot" json:"index"`
	RedundancyIndex int `gorm:"default:0;not null;uniqueIndex:idx_segment_slot" json:"redundancy_index"`

	OffsetStart    int64  `gorm:"not null" json:"offset_start"`
	OffsetEnd      int64  `gorm:"not null" json:"offset_end"` // exclusive
	Size           int64  `gorm:"not null" json:"size"`       // uncompressed plaintext size
	CompressedSize int64  `gorm:"default:0" json:"compressed_size"`
	Compressed     bool   `gorm:"default:false" json:"compressed"`
	Hash           string `gorm:"not null;size:64" json:"hash"` // SHA-256 of plaintext bytes

	InternalSubject string `gorm:"not null;size:64;index" json:"-"`
	Nonce           []byte `json:"-"` // AEAD nonce used for the posted payload

	State SegmentState `gorm:"default:new;size:16;index" json:"state"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Messages []Message `gorm:"foreignKey:SegmentID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// TableName returns the table name for Segment.
func (Segment) TableName() string {
	return "segments"
}

// IsParity reports whether this segment is a redundancy segment.
func (s *Segment) IsParity() bool {
	return s.RedundancyIndex > 0
}

// Validate checks that the segment record is well formed.
func (s *Segment) Validate() error {
	if s.FileID == "" {
		return fmt.Errorf("segment file id is required")
	}
	if s.Index < 0 {
		return fmt.Errorf("segment index must be >= 0")
	}
	if s.RedundancyIndex < 0 {
		return fmt.Errorf("redundancy index must be >= 0")
	}
	if s.OffsetEnd < s.OffsetStart {
		return fmt.Errorf("segment offset range is inverted")
	}
	if len(s.Hash) != 64 {
		return fmt.Errorf("segment hash must be 64 hex characters")
	}
	if len(s.InternalSubject) != 64 {
		return fmt.Errorf("internal subject must be 64 hex characters")
	}
	return nil
}

// Message records one posted Usenet article for a segment.
//
// At most one message exists per (segment, server) pair within a version.
// The Usenet subject stored here is the one actually posted and is the
// authoritative token for correlating server responses.
type Message struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	SegmentID string `gorm:"not null;size:36;index;uniqueIndex:idx_message_segment_server" json:"segment_id"`
	Server    string `gorm:"not null;size:255;uniqueIndex:idx_message_segment_server" json:"server"`

	MessageID     string    `gorm:"not null;size:255;index" json:"message_id"` // server-returned, opaque
	UsenetSubject string    `gorm:"not null;size:255" json:"-"`
	Newsgroup     string    `gorm:"not null;size:255" json:"newsgroup"`
	PostedAt      time.Time `gorm:"not null" json:"posted_at"`
	Size          int64     `gorm:"not null" json:"size"` // encoded article size in bytes
}

// TableName returns the table name for Message.
func (Message) TableName() string {
	return "messages"
}
