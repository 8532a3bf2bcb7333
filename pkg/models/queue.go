package models

import "time"

// QueueState is the lifecycle state of a durable queue entry.
type QueueState string

const (
	QueuePending   QueueState = "pending"
	QueueInFlight  QueueState = "in_flight"
	QueueSucceeded QueueState = "succeeded"
	QueueFailed    QueueState = "failed"
	QueueAbandoned QueueState = "abandoned"
)

// UploadEntity is the kind of entity an upload queue entry references.
type UploadEntity string

const (
	EntitySegment UploadEntity = "segment"
	EntityIndex   UploadEntity = "index" // encrypted share index article
)

// UploadQueueEntry is one durable unit of upload work.
//
// Entries survive restarts. Claiming is atomic: a worker transitions
// pending -> in_flight with a conditional update and owns the entry until
// it records an outcome. Failed entries return to pending with an
// incremented attempt count until the cap, then become abandoned.
type UploadQueueEntry struct {
	ID         string       `gorm:"primaryKey;size:36" json:"id"`
	EntityType UploadEntity `gorm:"not null;size:16" json:"entity_type"`
	EntityID   string       `gorm:"not null;size:64;index" json:"entity_id"`
	ShareID    string       `gorm:"size:24;index" json:"share_id,omitempty"`
	FolderID   string       `gorm:"size:64;index" json:"folder_id,omitempty"`

	Priority  int        `gorm:"default:0;index:idx_upload_dispatch" json:"priority"`
	State     QueueState `gorm:"default:pending;size:16;index:idx_upload_dispatch" json:"state"`
	Attempts  int        `gorm:"default:0" json:"attempts"`
	LastError string     `gorm:"type:text" json:"last_error,omitempty"`
	ClaimedBy string     `gorm:"size:64" json:"claimed_by,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for UploadQueueEntry.
func (UploadQueueEntry) TableName() string {
	return "upload_queue"
}

// DownloadQueueEntry mirrors an upload entry for the fetch direction.
type DownloadQueueEntry struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	ShareID     string `gorm:"not null;size:24;index" json:"share_id"`
	Destination string `gorm:"not null;size:4096" json:"destination"`

	Priority  int        `gorm:"default:0" json:"priority"`
	State     QueueState `gorm:"default:pending;size:16;index" json:"state"`
	Attempts  int        `gorm:"default:0" json:"attempts"`
	LastError string     `gorm:"type:text" json:"last_error,omitempty"`

	// Progress counters updated as segment fetches complete.
	TotalSegments    int `gorm:"default:0" json:"total_segments"`
	FetchedSegments  int `gorm:"default:0" json:"fetched_segments"`
	VerifiedFiles    int `gorm:"default:0" json:"verified_files"`
	FailedFiles      int `gorm:"default:0" json:"failed_files"`
	RecoveredParity  int `gorm:"default:0" json:"recovered_parity"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for DownloadQueueEntry.
func (DownloadQueueEntry) TableName() string {
	return "download_queue"
}
