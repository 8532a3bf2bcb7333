package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/usenetsync/usenetsync/pkg/models"
)

// CreateSegments inserts segment rows in chunks. Unique slot collisions
// ((file, index, redundancy_index) already present) convert to
// models.ErrConstraintViolation.
func (s *GORMStore) CreateSegments(ctx context.Context, segments []*models.Segment) error {
	if len(segments) == 0 {
		return nil
	}
	for _, seg := range segments {
		if seg.ID == "" {
			seg.ID = uuid.New().String()
		}
		if err := seg.Validate(); err != nil {
			return err
		}
	}
	return retryBusy(ctx, func() error {
		err := s.db.WithContext(ctx).CreateInBatches(segments, 200).Error
		if isUniqueConstraintError(err) {
			return models.ErrConstraintViolation
		}
		return err
	})
}

func (s *GORMStore) GetSegment(ctx context.Context, id string) (*models.Segment, error) {
	return getByField[models.Segment](s.db, ctx, "id", id, models.ErrSegmentNotFound)
}

// ListSegmentsByFile returns a file's segments ordered by index then
// redundancy index, primaries before parity.
func (s *GORMStore) ListSegmentsByFile(ctx context.Context, fileID string) ([]*models.Segment, error) {
	var segments []*models.Segment
	err := s.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("redundancy_index, segment_index").
		Find(&segments).Error
	if err != nil {
		return nil, err
	}
	return segments, nil
}

func (s *GORMStore) UpdateSegmentState(ctx context.Context, id string, state models.SegmentState) error {
	return updateFields[models.Segment](s.db, ctx, "id", id,
		map[string]any{"state": state}, models.ErrSegmentNotFound)
}

// UpdateSegmentCrypto records the outcome of the compress+encrypt stages.
func (s *GORMStore) UpdateSegmentCrypto(ctx context.Context, id string, compressed bool, compressedSize int64, nonce []byte) error {
	return updateFields[models.Segment](s.db, ctx, "id", id, map[string]any{
		"compressed":      compressed,
		"compressed_size": compressedSize,
		"nonce":           nonce,
	}, models.ErrSegmentNotFound)
}

// CountPendingSegments reports how many segments of a folder version have
// not yet reached the posted state. The publish barrier waits on zero.
func (s *GORMStore) CountPendingSegments(ctx context.Context, folderID string, version int) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Segment{}).
		Joins("JOIN files ON files.id = segments.file_id").
		Where("files.folder_id = ? AND files.version = ?", folderID, version).
		Where("segments.state NOT IN ?", []models.SegmentState{
			models.SegmentPosted, models.SegmentVerified, models.SegmentAbandoned,
		}).
		Count(&count).Error
	return count, err
}

// StreamSegments iterates a folder version's segments in batches of chunk
// rows. Used by index building to avoid loading whole folders into memory.
func (s *GORMStore) StreamSegments(ctx context.Context, folderID string, version, chunk int, fn func(batch []*models.Segment) error) error {
	if chunk <= 0 {
		chunk = 500
	}
	var batch []*models.Segment
	return s.db.WithContext(ctx).
		Joins("JOIN files ON files.id = segments.file_id").
		Where("files.folder_id = ? AND files.version = ?", folderID, version).
		Order("segments.file_id, segments.redundancy_index, segments.segment_index").
		FindInBatches(&batch, chunk, func(tx *gorm.DB, _ int) error {
			return fn(batch)
		}).Error
}

// RecordMessage stores the posted article for a segment and flips the
// segment to posted, in one transaction.
func (s *GORMStore) RecordMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.PostedAt.IsZero() {
		msg.PostedAt = time.Now()
	}
	return retryBusy(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(msg).Error; err != nil {
				if isUniqueConstraintError(err) {
					return models.ErrConstraintViolation
				}
				return err
			}
			return tx.Model(&models.Segment{}).
				Where("id = ?", msg.SegmentID).
				Update("state", models.SegmentPosted).Error
		})
	})
}

func (s *GORMStore) ListMessagesBySegment(ctx context.Context, segmentID string) ([]*models.Message, error) {
	return listByField[models.Message](s.db, ctx, "segment_id", segmentID, "posted_at")
}
