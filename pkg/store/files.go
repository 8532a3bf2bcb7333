package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/usenetsync/usenetsync/pkg/models"
)

func (s *GORMStore) CreateFile(ctx context.Context, file *models.File) error {
	if err := file.Validate(); err != nil {
		return err
	}
	_, err := createWithID(s.db, ctx, file, func(f *models.File, id string) { f.ID = id }, file.ID, models.ErrConstraintViolation)
	return err
}

// CreateFiles inserts a batch of file rows in chunks inside one transaction.
func (s *GORMStore) CreateFiles(ctx context.Context, files []*models.File) error {
	if len(files) == 0 {
		return nil
	}
	for _, f := range files {
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return retryBusy(ctx, func() error {
		err := s.db.WithContext(ctx).CreateInBatches(files, 200).Error
		if isUniqueConstraintError(err) {
			return models.ErrConstraintViolation
		}
		return err
	})
}

func (s *GORMStore) GetFile(ctx context.Context, id string) (*models.File, error) {
	return getByField[models.File](s.db, ctx, "id", id, models.ErrFileNotFound)
}

func (s *GORMStore) GetFileByPath(ctx context.Context, folderID, relativePath string, version int) (*models.File, error) {
	var file models.File
	err := s.db.WithContext(ctx).
		Where("folder_id = ? AND relative_path = ? AND version = ?", folderID, relativePath, version).
		First(&file).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrFileNotFound)
	}
	return &file, nil
}

// ListFiles returns the files of one folder version in relative-path order,
// the canonical order for Merkle root computation.
func (s *GORMStore) ListFiles(ctx context.Context, folderID string, version int) ([]*models.File, error) {
	var files []*models.File
	err := s.db.WithContext(ctx).
		Where("folder_id = ? AND version = ?", folderID, version).
		Order("relative_path").
		Find(&files).Error
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (s *GORMStore) UpdateFileStatus(ctx context.Context, id string, status models.FileStatus) error {
	return updateFields[models.File](s.db, ctx, "id", id,
		map[string]any{"status": status}, models.ErrFileNotFound)
}

// BumpFileSegmentCounters adjusts the uploaded/failed segment counters and
// derives the file status from the new totals.
func (s *GORMStore) BumpFileSegmentCounters(ctx context.Context, id string, uploadedDelta, failedDelta int) error {
	return retryBusy(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var file models.File
			if err := tx.Where("id = ?", id).First(&file).Error; err != nil {
				return convertNotFoundError(err, models.ErrFileNotFound)
			}

			var folder models.Folder
			if err := tx.Where("id = ?", file.FolderID).First(&folder).Error; err != nil {
				return convertNotFoundError(err, models.ErrFolderNotFound)
			}

			file.UploadedSegments += uploadedDelta
			file.FailedSegments += failedDelta

			updates := map[string]any{
				"uploaded_segments": file.UploadedSegments,
				"failed_segments":   file.FailedSegments,
			}
			settled := file.UploadedSegments+file.FailedSegments >= file.SegmentCount
			switch {
			case file.FailedSegments == 0 && file.SegmentCount > 0 && settled:
				updates["status"] = models.FileUploaded
			case file.FailedSegments > 0 && settled && file.FailedSegments <= folder.RedundancyLevel:
				// Receivers can rebuild the missing primaries from parity.
				updates["status"] = models.FileUploadedPartial
			case file.FailedSegments > 0 && settled:
				updates["status"] = models.FileFailed
			}

			return tx.Model(&file).Updates(updates).Error
		})
	})
}
