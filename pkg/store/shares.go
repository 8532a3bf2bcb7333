package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/usenetsync/usenetsync/pkg/models"
)

func (s *GORMStore) CreatePublication(ctx context.Context, pub *models.Publication) error {
	if err := pub.Validate(); err != nil {
		return err
	}
	return retryBusy(ctx, func() error {
		err := s.db.WithContext(ctx).Create(pub).Error
		if isUniqueConstraintError(err) {
			return models.ErrDuplicateShare
		}
		return err
	})
}

func (s *GORMStore) GetPublication(ctx context.Context, shareID string) (*models.Publication, error) {
	return getByField[models.Publication](s.db, ctx, "share_id", shareID, models.ErrShareNotFound, "Commitments")
}

func (s *GORMStore) ListPublications(ctx context.Context) ([]*models.Publication, error) {
	return listAll[models.Publication](s.db, ctx, "created_at")
}

func (s *GORMStore) ListPublicationsByFolder(ctx context.Context, folderID string) ([]*models.Publication, error) {
	return listByField[models.Publication](s.db, ctx, "folder_id", folderID, "created_at")
}

func (s *GORMStore) UpdatePublicationStatus(ctx context.Context, shareID string, status models.ShareStatus) error {
	return updateFields[models.Publication](s.db, ctx, "share_id", shareID,
		map[string]any{"status": status}, models.ErrShareNotFound)
}

// ExtendPublication moves a share's expiry forward. Revoked shares stay
// revoked; only the timestamp changes.
func (s *GORMStore) ExtendPublication(ctx context.Context, shareID string, expiresAt time.Time) error {
	return updateFields[models.Publication](s.db, ctx, "share_id", shareID,
		map[string]any{"expires_at": expiresAt}, models.ErrShareNotFound)
}

// RecordAccess bumps the access counters for a share.
func (s *GORMStore) RecordAccess(ctx context.Context, shareID, userID string) error {
	return retryBusy(ctx, func() error {
		now := time.Now()
		result := s.db.WithContext(ctx).
			Model(&models.Publication{}).
			Where("share_id = ?", shareID).
			Updates(map[string]any{
				"access_count":     gorm.Expr("access_count + 1"),
				"last_accessed_at": now,
				"last_accessed_by": userID,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrShareNotFound
		}
		return nil
	})
}

// SetPublicationIndexMessageID appends a posted index article's message
// identifier to the share's local cache. The articles themselves remain
// the authoritative lookup path.
func (s *GORMStore) SetPublicationIndexMessageID(ctx context.Context, shareID, messageID string) error {
	return retryBusy(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var pub models.Publication
			if err := tx.Where("share_id = ?", shareID).First(&pub).Error; err != nil {
				return convertNotFoundError(err, models.ErrShareNotFound)
			}

			var ids []string
			if pub.IndexMessageIDs != "" {
				if err := json.Unmarshal([]byte(pub.IndexMessageIDs), &ids); err != nil {
					return fmt.Errorf("share %s has a corrupt index id cache: %w", shareID, err)
				}
			}
			for _, id := range ids {
				if id == messageID {
					return nil
				}
			}
			ids = append(ids, messageID)

			encoded, err := json.Marshal(ids)
			if err != nil {
				return err
			}
			return tx.Model(&models.Publication{}).
				Where("share_id = ?", shareID).
				Update("index_message_ids", string(encoded)).Error
		})
	})
}

// BumpIndexGeneration advances the share's index lookup generation and
// returns the new value. Each generation posts under a fresh
// deterministic message identifier.
func (s *GORMStore) BumpIndexGeneration(ctx context.Context, shareID string) (int, error) {
	var generation int
	err := retryBusy(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var pub models.Publication
			if err := tx.Where("share_id = ?", shareID).First(&pub).Error; err != nil {
				return convertNotFoundError(err, models.ErrShareNotFound)
			}
			generation = pub.IndexGeneration + 1
			return tx.Model(&models.Publication{}).
				Where("share_id = ?", shareID).
				Update("index_generation", generation).Error
		})
	})
	return generation, err
}

// ExpirePublications flips active shares whose expiry has passed to the
// expired status and returns how many were transitioned.
func (s *GORMStore) ExpirePublications(ctx context.Context, now time.Time) (int64, error) {
	var affected int64
	err := retryBusy(ctx, func() error {
		result := s.db.WithContext(ctx).
			Model(&models.Publication{}).
			Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", models.ShareActive, now).
			Update("status", models.ShareExpired)
		affected = result.RowsAffected
		return result.Error
	})
	return affected, err
}

// ReplaceCommitments swaps a private share's commitment list atomically.
// Adding or revoking a recipient re-publishes commitments without touching
// the posted segments.
func (s *GORMStore) ReplaceCommitments(ctx context.Context, shareID string, commitments []*models.AccessCommitment) error {
	return retryBusy(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var pub models.Publication
			if err := tx.Where("share_id = ?", shareID).First(&pub).Error; err != nil {
				return convertNotFoundError(err, models.ErrShareNotFound)
			}
			if err := tx.Where("share_id = ?", shareID).Delete(&models.AccessCommitment{}).Error; err != nil {
				return err
			}
			for _, c := range commitments {
				if c.ID == "" {
					c.ID = uuid.New().String()
				}
				c.ShareID = shareID
			}
			if len(commitments) == 0 {
				return nil
			}
			return tx.CreateInBatches(commitments, 100).Error
		})
	})
}

func (s *GORMStore) ListCommitments(ctx context.Context, shareID string) ([]*models.AccessCommitment, error) {
	return listByField[models.AccessCommitment](s.db, ctx, "share_id", shareID, "created_at")
}

// GetCommitmentByUserHash finds a recipient's commitment on a share by the
// salted user identifier hash.
func (s *GORMStore) GetCommitmentByUserHash(ctx context.Context, shareID, userIDHash string) (*models.AccessCommitment, error) {
	var c models.AccessCommitment
	err := s.db.WithContext(ctx).
		Where("share_id = ? AND user_id_hash = ?", shareID, userIDHash).
		First(&c).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrNotAuthorized)
	}
	return &c, nil
}
