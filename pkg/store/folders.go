package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/usenetsync/usenetsync/pkg/models"
)

func (s *GORMStore) CreateFolder(ctx context.Context, folder *models.Folder) error {
	if err := folder.Validate(); err != nil {
		return err
	}
	_, err := createWithID(s.db, ctx, folder, func(f *models.Folder, id string) { f.ID = id }, folder.ID, models.ErrDuplicateFolder)
	return err
}

func (s *GORMStore) GetFolder(ctx context.Context, id string) (*models.Folder, error) {
	return getByField[models.Folder](s.db, ctx, "id", id, models.ErrFolderNotFound)
}

func (s *GORMStore) GetFolderByPath(ctx context.Context, path string) (*models.Folder, error) {
	return getByField[models.Folder](s.db, ctx, "path", path, models.ErrFolderNotFound)
}

func (s *GORMStore) ListFolders(ctx context.Context) ([]*models.Folder, error) {
	return listAll[models.Folder](s.db, ctx, "created_at")
}

// DeleteFolder removes a folder; files, segments, versions and the change
// journal cascade through the ownership edges.
func (s *GORMStore) DeleteFolder(ctx context.Context, id string) error {
	return retryBusy(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var folder models.Folder
			if err := tx.Where("id = ?", id).First(&folder).Error; err != nil {
				return convertNotFoundError(err, models.ErrFolderNotFound)
			}
			if err := tx.Where("folder_id = ?", id).Delete(&models.ChangeJournalEntry{}).Error; err != nil {
				return err
			}
			if err := tx.Where("folder_id = ?", id).Delete(&models.UploadQueueEntry{}).Error; err != nil {
				return err
			}
			return tx.Delete(&folder).Error
		})
	})
}

// UpdateFolderStats records the outcome of an index run on the folder row
// and clears the dirty flag.
func (s *GORMStore) UpdateFolderStats(ctx context.Context, id string, version int, fileCount, totalSize int64) error {
	return updateFields[models.Folder](s.db, ctx, "id", id, map[string]any{
		"version":    version,
		"file_count": fileCount,
		"total_size": totalSize,
		"dirty":      false,
	}, models.ErrFolderNotFound)
}

// SetFolderDirty flags a folder as changed on disk since its last index.
func (s *GORMStore) SetFolderDirty(ctx context.Context, id string, dirty bool) error {
	return updateFields[models.Folder](s.db, ctx, "id", id,
		map[string]any{"dirty": dirty}, models.ErrFolderNotFound)
}

// SaveFolderKeys persists a folder's key material. The folder row is the
// single canonical source: key bytes are written once and never replaced,
// so a second save for the same folder fails.
func (s *GORMStore) SaveFolderKeys(ctx context.Context, id string, publicKey, encryptedPrivate, nonce []byte) error {
	return retryBusy(ctx, func() error {
		result := s.db.WithContext(ctx).
			Model(&models.Folder{}).
			Where("id = ? AND (encrypted_private_key IS NULL OR length(encrypted_private_key) = 0)", id).
			Updates(map[string]any{
				"public_key":            publicKey,
				"encrypted_private_key": encryptedPrivate,
				"key_nonce":             nonce,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := s.db.WithContext(ctx).Model(&models.Folder{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return models.ErrFolderNotFound
			}
			return models.ErrConstraintViolation
		}
		return nil
	})
}

func (s *GORMStore) AddAuthorizedUser(ctx context.Context, au *models.AuthorizedUser) error {
	_, err := createWithID(s.db, ctx, au, func(a *models.AuthorizedUser, id string) { a.ID = id }, au.ID, models.ErrConstraintViolation)
	return err
}

func (s *GORMStore) RemoveAuthorizedUser(ctx context.Context, folderID, userID string) error {
	return retryBusy(ctx, func() error {
		result := s.db.WithContext(ctx).
			Where("folder_id = ? AND user_id = ?", folderID, userID).
			Delete(&models.AuthorizedUser{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrNotAuthorized
		}
		return nil
	})
}

func (s *GORMStore) ListAuthorizedUsers(ctx context.Context, folderID string) ([]*models.AuthorizedUser, error) {
	return listByField[models.AuthorizedUser](s.db, ctx, "folder_id", folderID, "added_at")
}

// StreamFolders iterates all folders in batches of chunk rows, invoking fn
// per batch. Iteration stops on the first error.
func (s *GORMStore) StreamFolders(ctx context.Context, chunk int, fn func(batch []*models.Folder) error) error {
	if chunk <= 0 {
		chunk = 100
	}
	var batch []*models.Folder
	return s.db.WithContext(ctx).FindInBatches(&batch, chunk, func(tx *gorm.DB, _ int) error {
		return fn(batch)
	}).Error
}
