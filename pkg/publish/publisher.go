// Package publish turns indexed folder versions into shares: it waits for
// the version's uploads to settle, builds the encrypted index document,
// applies the access wrap for the chosen mode, records the publication and
// queues the index article for posting. It also owns the share lifecycle:
// revocation, expiry extension, recipient changes and the background expiry
// scanner.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/access"
	"github.com/usenetsync/usenetsync/pkg/crypto"
	"github.com/usenetsync/usenetsync/pkg/models"
	"github.com/usenetsync/usenetsync/pkg/obfuscate"
	"github.com/usenetsync/usenetsync/pkg/shareindex"
	"github.com/usenetsync/usenetsync/pkg/store"
	"github.com/usenetsync/usenetsync/pkg/upload"
)

// Config bounds the publisher.
type Config struct {
	// BarrierPoll is how often the publish barrier re-checks whether the
	// folder version's segment uploads have settled.
	BarrierPoll time.Duration

	// BarrierTimeout caps the barrier wait. Zero waits until the caller's
	// context expires.
	BarrierTimeout time.Duration

	// ExpiryInterval is the background expiry scanner period.
	ExpiryInterval time.Duration
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.BarrierPoll <= 0 {
		c.BarrierPoll = 500 * time.Millisecond
	}
	if c.ExpiryInterval <= 0 {
		c.ExpiryInterval = time.Hour
	}
}

// ShareParams selects how a new share is wrapped.
type ShareParams struct {
	Mode       models.AccessMode
	Password   string // protected mode
	ExpiryDays int    // 0 = never expires
}

// Publisher creates and manages shares.
type Publisher struct {
	store  store.Store
	keys   *access.Manager
	config Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a publisher.
func New(st store.Store, keys *access.Manager, config Config) *Publisher {
	config.ApplyDefaults()
	return &Publisher{store: st, keys: keys, config: config}
}

// CreateShare publishes the folder's current version under a fresh share
// identifier.
//
// The call blocks until every segment of the version has settled
// (posted or abandoned), then builds the index from the recorded message
// identifiers. Files whose redundancy cannot cover their abandoned
// segments mark the share partial; the index lists the uncovered slots so
// recipients know what cannot be reconstructed. The index article itself
// is posted asynchronously through the upload queue.
func (p *Publisher) CreateShare(ctx context.Context, folderID string, params ShareParams) (*models.Publication, error) {
	if !params.Mode.IsValid() {
		return nil, fmt.Errorf("invalid access mode: %s", params.Mode)
	}

	folder, err := p.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if folder.Version == 0 {
		return nil, fmt.Errorf("folder %s has never been indexed: %w", folder.Name, models.ErrVersionNotFound)
	}
	folderKeys, err := p.keys.LoadFolderKeys(ctx, folderID)
	if err != nil {
		return nil, err
	}
	version, err := p.store.GetFolderVersion(ctx, folderID, folder.Version)
	if err != nil {
		return nil, err
	}

	if err := p.waitForUploads(ctx, folderID, folder.Version); err != nil {
		return nil, err
	}

	shareID, err := obfuscate.ShareID()
	if err != nil {
		return nil, err
	}
	doc, partial, err := p.buildDocument(ctx, folder, folderKeys, shareID, version)
	if err != nil {
		return nil, err
	}

	pub := &models.Publication{
		ShareID:       shareID,
		FolderID:      folderID,
		FolderVersion: folder.Version,
		OwnerID:       folder.OwnerID,
		AccessMode:    params.Mode,
		Status:        models.ShareActive,
	}
	if params.ExpiryDays > 0 {
		expires := time.Now().UTC().Add(time.Duration(params.ExpiryDays) * 24 * time.Hour)
		pub.ExpiresAt = &expires
	}

	sessionKey, err := p.wrap(ctx, pub, folderKeys, params)
	if err != nil {
		return nil, err
	}

	if partial {
		pub.Status = models.SharePartial
		missing, err := json.Marshal(doc.Missing)
		if err != nil {
			return nil, err
		}
		pub.MissingSegments = string(missing)
	}

	pub.EncryptedIndex, pub.IndexNonce, err = shareindex.Seal(doc, sessionKey)
	if err != nil {
		return nil, err
	}

	if err := p.store.CreatePublication(ctx, pub); err != nil {
		return nil, err
	}
	if err := p.enqueueIndex(ctx, pub); err != nil {
		return nil, err
	}

	logger.Info("share created",
		logger.Share(shareID),
		logger.Folder(folderID),
		logger.Version(folder.Version),
		"mode", string(params.Mode),
		"status", string(pub.Status))
	return pub, nil
}

// wrap applies the mode's access wrap and returns the session key the
// index document must be sealed with.
func (p *Publisher) wrap(ctx context.Context, pub *models.Publication, folderKeys *crypto.KeyPair, params ShareParams) ([]byte, error) {
	switch params.Mode {
	case models.AccessPublic:
		return access.WrapPublic(pub)

	case models.AccessProtected:
		sessionKey, err := crypto.NewKey()
		if err != nil {
			return nil, err
		}
		if err := access.WrapProtected(pub, params.Password, sessionKey); err != nil {
			return nil, err
		}
		return sessionKey, nil

	case models.AccessPrivate:
		// The session key is derived, not random, so recipient changes can
		// re-wrap it later without it ever being stored.
		sessionKey, err := crypto.DeriveShareKey(folderKeys.Private, []byte(pub.ShareID), crypto.PrivateSessionInfo)
		if err != nil {
			return nil, err
		}
		recipients, err := p.authorizedUsers(ctx, pub.FolderID)
		if err != nil {
			return nil, err
		}
		commitments, err := access.WrapPrivate(pub, folderKeys, recipients, sessionKey)
		if err != nil {
			return nil, err
		}
		pub.Commitments = commitments
		return sessionKey, nil

	default:
		return nil, fmt.Errorf("unknown access mode: %s", params.Mode)
	}
}

// buildDocument assembles the index from the stored files, segments and
// recorded messages of the folder version. Reports whether the share is
// partial (some file cannot be reconstructed from what was posted).
func (p *Publisher) buildDocument(ctx context.Context, folder *models.Folder, folderKeys *crypto.KeyPair, shareID string, version *models.FolderVersion) (*shareindex.Document, bool, error) {
	contentKey, err := crypto.DeriveShareKey(folderKeys.Private, []byte(folder.ID), crypto.SegmentKeyInfo)
	if err != nil {
		return nil, false, err
	}

	doc := &shareindex.Document{
		ShareID:         shareID,
		FolderID:        folder.ID,
		FolderVersion:   folder.Version,
		CreatedAt:       time.Now().UTC(),
		MerkleRoot:      version.MerkleRoot,
		RedundancyLevel: folder.RedundancyLevel,
		ContentKey:      contentKey,
	}

	files, err := p.store.ListFiles(ctx, folder.ID, folder.Version)
	if err != nil {
		return nil, false, err
	}

	partial := false
	for _, f := range files {
		if f.Status == models.FileFailed {
			partial = true
		}

		entry := shareindex.FileEntry{
			FileID:       f.ID,
			RelativePath: f.RelativePath,
			Size:         f.Size,
			Hash:         f.Hash,
			SegmentCount: f.SegmentCount,
		}
		if len(f.EncKey) > 0 {
			fileKey, err := crypto.Decrypt(contentKey, f.KeyNonce, f.EncKey, []byte(f.ID))
			if err != nil {
				return nil, false, fmt.Errorf("failed to unseal key for file %s: %w", f.RelativePath, err)
			}
			entry.Key = fileKey
		}

		segments, err := p.store.ListSegmentsByFile(ctx, f.ID)
		if err != nil {
			return nil, false, err
		}
		for _, s := range segments {
			se := shareindex.SegmentEntry{
				Index:           s.Index,
				RedundancyIndex: s.RedundancyIndex,
				Size:            s.Size,
				Compressed:      s.Compressed,
				Hash:            s.Hash,
				Subject:         s.InternalSubject,
				Nonce:           s.Nonce,
			}
			messages, err := p.store.ListMessagesBySegment(ctx, s.ID)
			if err != nil {
				return nil, false, err
			}
			for _, m := range messages {
				se.MessageIDs = append(se.MessageIDs, m.MessageID)
			}
			if len(se.MessageIDs) == 0 {
				doc.Missing = append(doc.Missing, shareindex.MissingSegment{FileID: f.ID, Index: s.Index})
			}
			entry.Segments = append(entry.Segments, se)
		}
		doc.Files = append(doc.Files, entry)
	}
	return doc, partial, nil
}

// waitForUploads blocks until every segment of the folder version has
// settled.
func (p *Publisher) waitForUploads(ctx context.Context, folderID string, version int) error {
	if p.config.BarrierTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.BarrierTimeout)
		defer cancel()
	}
	for {
		pending, err := p.store.CountPendingSegments(ctx, folderID, version)
		if err != nil {
			return err
		}
		if pending == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for %d segment uploads: %w", pending, ctx.Err())
		case <-time.After(p.config.BarrierPoll):
		}
	}
}

func (p *Publisher) enqueueIndex(ctx context.Context, pub *models.Publication) error {
	return p.store.EnqueueUpload(ctx, &models.UploadQueueEntry{
		EntityType: models.EntityIndex,
		EntityID:   pub.ShareID,
		ShareID:    pub.ShareID,
		FolderID:   pub.FolderID,
		Priority:   upload.PriorityIndex,
	})
}

// Revoke flips a share to revoked. Posted articles cannot be retracted;
// honest clients refuse revoked shares.
func (p *Publisher) Revoke(ctx context.Context, shareID string) error {
	if err := p.store.UpdatePublicationStatus(ctx, shareID, models.ShareRevoked); err != nil {
		return err
	}
	logger.Info("share revoked", logger.Share(shareID))
	return nil
}

// Extend moves a share's expiry forward by additionalDays, counted from
// the current expiry (or from now if the share had none or already
// lapsed). An expired share becomes active again.
func (p *Publisher) Extend(ctx context.Context, shareID string, additionalDays int) (*models.Publication, error) {
	if additionalDays <= 0 {
		return nil, fmt.Errorf("extension must be at least one day")
	}
	pub, err := p.store.GetPublication(ctx, shareID)
	if err != nil {
		return nil, err
	}

	base := time.Now().UTC()
	if pub.ExpiresAt != nil && pub.ExpiresAt.After(base) {
		base = *pub.ExpiresAt
	}
	expires := base.Add(time.Duration(additionalDays) * 24 * time.Hour)
	if err := p.store.ExtendPublication(ctx, shareID, expires); err != nil {
		return nil, err
	}
	if pub.Status == models.ShareExpired {
		if err := p.store.UpdatePublicationStatus(ctx, shareID, models.ShareActive); err != nil {
			return nil, err
		}
	}
	return p.store.GetPublication(ctx, shareID)
}

// RecordAccess bumps a share's access counters.
func (p *Publisher) RecordAccess(ctx context.Context, shareID, userID string) error {
	return p.store.RecordAccess(ctx, shareID, userID)
}

// AddRecipient authorizes a user on a private share's folder and
// re-publishes the commitment set.
func (p *Publisher) AddRecipient(ctx context.Context, shareID string, user models.AuthorizedUser) error {
	pub, err := p.store.GetPublication(ctx, shareID)
	if err != nil {
		return err
	}
	if pub.AccessMode != models.AccessPrivate {
		return fmt.Errorf("share %s is not private", shareID)
	}
	user.FolderID = pub.FolderID
	if err := p.store.AddAuthorizedUser(ctx, &user); err != nil {
		return err
	}
	return p.republishCommitments(ctx, pub)
}

// RemoveRecipient withdraws a user's commitment. Like revocation this is
// advisory for index articles already fetched.
func (p *Publisher) RemoveRecipient(ctx context.Context, shareID, userID string) error {
	pub, err := p.store.GetPublication(ctx, shareID)
	if err != nil {
		return err
	}
	if pub.AccessMode != models.AccessPrivate {
		return fmt.Errorf("share %s is not private", shareID)
	}
	if err := p.store.RemoveAuthorizedUser(ctx, pub.FolderID, userID); err != nil {
		return err
	}
	return p.republishCommitments(ctx, pub)
}

// republishCommitments rebuilds the commitment set from the folder's
// current authorized users. The session key is re-derived, so the sealed
// index stays valid; only the commitments change.
func (p *Publisher) republishCommitments(ctx context.Context, pub *models.Publication) error {
	folderKeys, err := p.keys.LoadFolderKeys(ctx, pub.FolderID)
	if err != nil {
		return err
	}
	sessionKey, err := crypto.DeriveShareKey(folderKeys.Private, []byte(pub.ShareID), crypto.PrivateSessionInfo)
	if err != nil {
		return err
	}
	recipients, err := p.authorizedUsers(ctx, pub.FolderID)
	if err != nil {
		return err
	}
	commitments, err := access.WrapPrivate(pub, folderKeys, recipients, sessionKey)
	if err != nil {
		return err
	}

	replace := make([]*models.AccessCommitment, len(commitments))
	for i := range commitments {
		replace[i] = &commitments[i]
	}
	if err := p.store.ReplaceCommitments(ctx, pub.ShareID, replace); err != nil {
		return err
	}
	// The refreshed index posts under the next lookup generation; the
	// original article cannot be replaced in place, servers refuse reposts
	// of a seen message identifier.
	if _, err := p.store.BumpIndexGeneration(ctx, pub.ShareID); err != nil {
		return err
	}
	return p.enqueueIndex(ctx, pub)
}

func (p *Publisher) authorizedUsers(ctx context.Context, folderID string) ([]models.AuthorizedUser, error) {
	listed, err := p.store.ListAuthorizedUsers(ctx, folderID)
	if err != nil {
		return nil, err
	}
	recipients := make([]models.AuthorizedUser, len(listed))
	for i, au := range listed {
		recipients[i] = *au
	}
	return recipients, nil
}

// Start launches the background expiry scanner.
func (p *Publisher) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.expiryLoop(ctx)
}

// Stop halts the expiry scanner.
func (p *Publisher) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Publisher) expiryLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.ExpiryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.store.ExpirePublications(ctx, time.Now())
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("expiry scan failed", logger.Err(err))
				}
				continue
			}
			if n > 0 {
				logger.Info("shares expired", "count", n)
			}
		}
	}
}
