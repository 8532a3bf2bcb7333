package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/usenetsync/usenetsync/pkg/models"
)

func (s *GORMStore) CreateFolderVersion(ctx context.Context, v *models.FolderVersion) error {
	_, err := createWithID(s.db, ctx, v, func(fv *models.FolderVersion, id string) { fv.ID = id }, v.ID, models.ErrConstraintViolation)
	return err
}

func (s *GORMStore) GetFolderVersion(ctx context.Context, folderID string, version int) (*models.FolderVersion, error) {
	var v models.FolderVersion
	err := s.db.WithContext(ctx).
		Where("folder_id = ? AND version = ?", folderID, version).
		First(&v).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrVersionNotFound)
	}
	return &v, nil
}

func (s *GORMStore) ListFolderVersions(ctx context.Context, folderID string) ([]*models.FolderVersion, error) {
	return listByField[models.FolderVersion](s.db, ctx, "folder_id", folderID, "version")
}

// AppendChangeJournal records the classified changes of one index run.
func (s *GORMStore) AppendChangeJournal(ctx context.Context, entries []*models.ChangeJournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
	}
	return retryBusy(ctx, func() error {
		return s.db.WithContext(ctx).CreateInBatches(entries, 200).Error
	})
}

func (s *GORMStore) ListChangeJournal(ctx context.Context, folderID string, version int) ([]*models.ChangeJournalEntry, error) {
	var entries []*models.ChangeJournalEntry
	err := s.db.WithContext(ctx).
		Where("folder_id = ? AND version = ?", folderID, version).
		Order("path").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
