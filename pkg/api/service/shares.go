package service

import (
	"context"
	"errors"
	"time"

	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/access"
	"github.com/usenetsync/usenetsync/pkg/models"
	"github.com/usenetsync/usenetsync/pkg/publish"
)

// CreateShareParams publishes a folder's current version.
type CreateShareParams struct {
	FolderID        string   `json:"folder_id"`
	Mode            string   `json:"mode"`
	ExpiryDays      int      `json:"expiry_days"`
	Password        string   `json:"password,omitempty"`
	AuthorizedUsers []string `json:"authorized_users,omitempty"`
}

// CreateShare authorizes any newly named recipients, then publishes the
// folder under a fresh share identifier. The call blocks on the publish
// barrier until the version's uploads have settled.
func (s *Service) CreateShare(ctx context.Context, params CreateShareParams) (*models.Publication, error) {
	if params.FolderID == "" {
		return nil, Validationf("folder_id is required")
	}
	mode := models.AccessMode(params.Mode)
	if !mode.IsValid() {
		return nil, Validationf("mode must be public, protected or private")
	}
	if mode == models.AccessProtected && params.Password == "" {
		return nil, Validationf("protected shares require a password")
	}
	if mode == models.AccessPrivate {
		if err := s.authorizeRecipients(ctx, params.FolderID, params.AuthorizedUsers); err != nil {
			return nil, err
		}
	}

	expiry := params.ExpiryDays
	if expiry == 0 {
		expiry = s.config.DefaultExpiryDays
	}

	return s.publisher.CreateShare(ctx, params.FolderID, publish.ShareParams{
		Mode:       mode,
		Password:   params.Password,
		ExpiryDays: expiry,
	})
}

// authorizeRecipients grants the named users access to the folder. Users
// already authorized are left as they are.
func (s *Service) authorizeRecipients(ctx context.Context, folderID string, userIDs []string) error {
	for _, userID := range userIDs {
		user, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if len(user.X25519Pub) == 0 {
			return Validationf("user %s has no key-exchange key", userID)
		}
		err = s.store.AddAuthorizedUser(ctx, &models.AuthorizedUser{
			FolderID: folderID,
			UserID:   user.ID,
			X25519:   user.X25519Pub,
			Ed25519:  user.PublicKey,
		})
		if err != nil && !errors.Is(err, models.ErrConstraintViolation) {
			return err
		}
	}
	return nil
}

// ShareIDParams addresses one share.
type ShareIDParams struct {
	ShareID string `json:"share_id"`
}

// ListSharesParams optionally narrows the listing to one folder.
type ListSharesParams struct {
	FolderID string `json:"folder_id,omitempty"`
}

// ListShares returns shares, newest first.
func (s *Service) ListShares(ctx context.Context, params ListSharesParams) ([]*models.Publication, error) {
	if params.FolderID != "" {
		return s.store.ListPublicationsByFolder(ctx, params.FolderID)
	}
	return s.store.ListPublications(ctx)
}

// GetShare returns one share record.
func (s *Service) GetShare(ctx context.Context, params ShareIDParams) (*models.Publication, error) {
	if params.ShareID == "" {
		return nil, Validationf("share_id is required")
	}
	return s.store.GetPublication(ctx, params.ShareID)
}

// VerifyShareParams presents credentials against a share.
type VerifyShareParams struct {
	ShareID  string `json:"share_id"`
	UserID   string `json:"user_id,omitempty"`
	Password string `json:"password,omitempty"`
}

// VerifyResult answers an access check without leaking why it failed
// beyond the granted bit; the error detail stays server-side.
type VerifyResult struct {
	AccessGranted bool `json:"access_granted"`
}

// VerifyShare checks whether the presented credentials would open the
// share, without fetching anything. Granted checks bump the share's access
// counters.
func (s *Service) VerifyShare(ctx context.Context, params VerifyShareParams) (*VerifyResult, error) {
	if params.ShareID == "" {
		return nil, Validationf("share_id is required")
	}
	pub, err := s.store.GetPublication(ctx, params.ShareID)
	if err != nil {
		return nil, err
	}

	if err := s.checkAccess(pub, params); err != nil {
		logger.Debug("share verification refused", logger.Share(params.ShareID), logger.Err(err))
		return &VerifyResult{AccessGranted: false}, nil
	}

	if err := s.store.RecordAccess(ctx, params.ShareID, params.UserID); err != nil {
		logger.Warn("failed to record share access", logger.Share(params.ShareID), logger.Err(err))
	}
	return &VerifyResult{AccessGranted: true}, nil
}

// checkAccess verifies credentials per mode. Private shares are checked
// through the commitment list alone: presence plus a valid owner proof,
// no private key required.
func (s *Service) checkAccess(pub *models.Publication, params VerifyShareParams) error {
	if err := pub.Accessible(time.Now().UTC()); err != nil {
		return err
	}

	switch pub.AccessMode {
	case models.AccessPublic:
		return nil

	case models.AccessProtected:
		_, err := access.Open(pub, access.Credentials{Password: params.Password}, time.Now().UTC())
		return err

	case models.AccessPrivate:
		if params.UserID == "" {
			return models.ErrNotAuthorized
		}
		c := access.FindCommitment(pub.Commitments, params.UserID)
		if c == nil {
			return models.ErrNotAuthorized
		}
		return access.VerifyCommitment(c, pub.ShareID)

	default:
		return models.ErrAccessDenied
	}
}

// RevokeShare marks a share revoked. Advisory: posted articles cannot be
// retracted.
func (s *Service) RevokeShare(ctx context.Context, params ShareIDParams) (struct{}, error) {
	if params.ShareID == "" {
		return struct{}{}, Validationf("share_id is required")
	}
	return struct{}{}, s.publisher.Revoke(ctx, params.ShareID)
}

// ExtendShareParams moves a share's expiry forward.
type ExtendShareParams struct {
	ShareID string `json:"share_id"`
	Days    int    `json:"days"`
}

// ExtendShare extends a share's expiry by the given number of days.
func (s *Service) ExtendShare(ctx context.Context, params ExtendShareParams) (*models.Publication, error) {
	if params.ShareID == "" {
		return nil, Validationf("share_id is required")
	}
	if params.Days <= 0 {
		return nil, Validationf("days must be positive")
	}
	return s.publisher.Extend(ctx, params.ShareID, params.Days)
}

// RecipientParams addresses one recipient of a private share.
type RecipientParams struct {
	ShareID string `json:"share_id"`
	UserID  string `json:"user_id"`
}

// AddShareRecipient grants a user access to an existing private share and
// republishes its commitment list.
func (s *Service) AddShareRecipient(ctx context.Context, params RecipientParams) (struct{}, error) {
	if params.ShareID == "" || params.UserID == "" {
		return struct{}{}, Validationf("share_id and user_id are required")
	}
	user, err := s.store.GetUser(ctx, params.UserID)
	if err != nil {
		return struct{}{}, err
	}
	if len(user.X25519Pub) == 0 {
		return struct{}{}, Validationf("user %s has no key-exchange key", params.UserID)
	}
	return struct{}{}, s.publisher.AddRecipient(ctx, params.ShareID, models.AuthorizedUser{
		UserID:  user.ID,
		X25519:  user.X25519Pub,
		Ed25519: user.PublicKey,
	})
}

// RemoveShareRecipient revokes a user's access to a private share.
func (s *Service) RemoveShareRecipient(ctx context.Context, params RecipientParams) (struct{}, error) {
	if params.ShareID == "" || params.UserID == "" {
		return struct{}{}, Validationf("share_id and user_id are required")
	}
	return struct{}{}, s.publisher.RemoveRecipient(ctx, params.ShareID, params.UserID)
}
