package service

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/crypto"
	"github.com/usenetsync/usenetsync/pkg/models"
)

// AddFolderParams registers a directory for synchronization.
type AddFolderParams struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// AddFolder registers a managed folder. The folder keypair is generated
// lazily on first index; the record starts without key material.
func (s *Service) AddFolder(ctx context.Context, params AddFolderParams) (*models.Folder, error) {
	if params.Path == "" {
		return nil, Validationf("path is required")
	}
	if !filepath.IsAbs(params.Path) {
		return nil, Validationf("path must be absolute: %s", params.Path)
	}
	info, err := os.Stat(params.Path)
	if err != nil {
		return nil, Validationf("path is not accessible: %v", err)
	}
	if !info.IsDir() {
		return nil, Validationf("path is not a directory: %s", params.Path)
	}

	owner, err := s.store.FirstUser(ctx)
	if err != nil {
		return nil, err
	}

	id, err := randomID()
	if err != nil {
		return nil, err
	}
	name := params.Name
	if name == "" {
		name = filepath.Base(params.Path)
	}

	folder := &models.Folder{
		ID:                  id,
		Path:                params.Path,
		Name:                name,
		OwnerID:             owner.ID,
		PublicKey:           []byte{},
		EncryptedPrivateKey: []byte{},
		KeyNonce:            []byte{},
		AccessMode:          models.AccessPrivate,
		Status:              models.FolderActive,
		RedundancyLevel:     s.config.RedundancyLevel,
	}
	if err := s.store.CreateFolder(ctx, folder); err != nil {
		return nil, err
	}

	logger.Info("folder added", logger.Folder(id), logger.Path(params.Path))
	return folder, nil
}

// FolderIDParams addresses one managed folder.
type FolderIDParams struct {
	FolderID string `json:"folder_id"`
}

// ListFolders returns all managed folders.
func (s *Service) ListFolders(ctx context.Context, _ struct{}) ([]*models.Folder, error) {
	return s.store.ListFolders(ctx)
}

// GetFolder returns one managed folder.
func (s *Service) GetFolder(ctx context.Context, params FolderIDParams) (*models.Folder, error) {
	if params.FolderID == "" {
		return nil, Validationf("folder_id is required")
	}
	return s.store.GetFolder(ctx, params.FolderID)
}

// RemoveFolder deletes a folder and everything owned by it. Refused while
// an index run holds the folder.
func (s *Service) RemoveFolder(ctx context.Context, params FolderIDParams) (struct{}, error) {
	if params.FolderID == "" {
		return struct{}{}, Validationf("folder_id is required")
	}
	if s.locks.Busy(params.FolderID) {
		return struct{}{}, models.ErrFolderBusy
	}
	if _, err := s.store.GetFolder(ctx, params.FolderID); err != nil {
		return struct{}{}, err
	}
	if err := s.store.DeleteFolder(ctx, params.FolderID); err != nil {
		return struct{}{}, err
	}
	logger.Info("folder removed", logger.Folder(params.FolderID))
	return struct{}{}, nil
}

// IndexStarted acknowledges an accepted index run.
type IndexStarted struct {
	FolderID string `json:"folder_id"`
	State    string `json:"state"`
}

// IndexFolder starts an asynchronous index run. A second trigger while a
// run is in progress fails fast with a conflict.
func (s *Service) IndexFolder(ctx context.Context, params FolderIDParams) (*IndexStarted, error) {
	if params.FolderID == "" {
		return nil, Validationf("folder_id is required")
	}
	folder, err := s.store.GetFolder(ctx, params.FolderID)
	if err != nil {
		return nil, err
	}
	if s.locks.Busy(folder.ID) {
		return nil, models.ErrFolderBusy
	}

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		// The run outlives the request; the indexer re-checks the lock.
		if _, err := s.indexer.IndexFolder(context.Background(), folder.ID); err != nil {
			logger.Warn("index run failed", logger.Folder(folder.ID), logger.Err(err))
		}
	}()

	return &IndexStarted{FolderID: folder.ID, State: "started"}, nil
}

func randomID() (string, error) {
	raw, err := crypto.NewSalt(32)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
