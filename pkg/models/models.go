// Package models defines the persistent schema and domain types of the
// engine: users, folders, files, segments, posted messages, publications
// (shares), access commitments, version journals and the durable transfer
// queues. All types are GORM models; ownership edges cascade on delete.
package models

import "time"

// MetricSample is one recorded measurement (queue depth, pool health,
// transfer counters). Samples are append-only and pruned by age.
type MetricSample struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"not null;size:128;index" json:"name"`
	Value     float64   `gorm:"not null" json:"value"`
	Labels    string    `gorm:"type:text" json:"labels,omitempty"` // JSON object
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName returns the table name for MetricSample.
func (MetricSample) TableName() string {
	return "metrics"
}

// SchemaMigration records one applied migration with its checksum and
// execution time. A non-successful row blocks further application.
type SchemaMigration struct {
	Version     int       `gorm:"primaryKey" json:"version"`
	Name        string    `gorm:"not null;size:255" json:"name"`
	Checksum    string    `gorm:"not null;size:64" json:"checksum"`
	ExecutionMs int64     `gorm:"not null" json:"execution_ms"`
	Success     bool      `gorm:"not null" json:"success"`
	AppliedAt   time.Time `gorm:"autoCreateTime" json:"applied_at"`
}

// TableName returns the table name for SchemaMigration.
func (SchemaMigration) TableName() string {
	return "schema_migrations"
}

// AllModels returns all models for database migration.
// The order matters for foreign key creation.
func AllModels() []any {
	return []any{
		&User{},
		&Folder{},
		&AuthorizedUser{},
		&File{},
		&Segment{},
		&Message{},
		&Publication{},
		&AccessCommitment{},
		&FolderVersion{},
		&ChangeJournalEntry{},
		&UploadQueueEntry{},
		&DownloadQueueEntry{},
		&MetricSample{},
		&SchemaMigration{},
	}
}
