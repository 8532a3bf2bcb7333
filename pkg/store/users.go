package store

import (
	"context"

	"github.com/usenetsync/usenetsync/pkg/models"
)

func (s *GORMStore) CreateUser(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	_, err := createWithID(s.db, ctx, user, func(u *models.User, id string) { u.ID = id }, user.ID, models.ErrDuplicateUser)
	return err
}

func (s *GORMStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "id", id, models.ErrUserNotFound)
}

func (s *GORMStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	return listAll[models.User](s.db, ctx, "created_at")
}

// FirstUser returns the installation's primary user, created on init.
func (s *GORMStore) FirstUser(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Order("created_at").First(&user).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrUserNotFound)
	}
	return &user, nil
}

// UpdateAPIKeyHash replaces the stored API key hash for a user.
func (s *GORMStore) UpdateAPIKeyHash(ctx context.Context, id, hash string) error {
	return updateFields[models.User](s.db, ctx, "id", id,
		map[string]any{"api_key_hash": hash}, models.ErrUserNotFound)
}
