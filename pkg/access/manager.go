// Package access manages key material and share access control: the user
// master key, per-folder keypairs sealed under it, the three share-mode
// key wraps and the zero-knowledge commitments of private shares.
package access

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/crypto"
	"github.com/usenetsync/usenetsync/pkg/store"
)

const masterKeyFile = "master.key"

// Manager owns the keys directory and the sealed folder keys.
//
// The master key is a single random 256-bit secret held in the keys
// directory with owner-only permissions. Folder private keys are sealed
// under it with the folder identifier as associated data and stored in the
// folder row (canonical) plus a per-folder backup file.
type Manager struct {
	store   store.Store
	keysDir string
	master  []byte
}

// NewManager loads or creates the master key and returns the manager.
func NewManager(st store.Store, keysDir string) (*Manager, error) {
	if err := os.MkdirAll(keysDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keys directory: %w", err)
	}

	master, err := loadOrCreateMaster(filepath.Join(keysDir, masterKeyFile))
	if err != nil {
		return nil, err
	}

	return &Manager{store: st, keysDir: keysDir, master: master}, nil
}

func loadOrCreateMaster(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, decErr := hex.DecodeString(strings.TrimSpace(string(data)))
		if decErr != nil || len(key) != crypto.KeySize {
			return nil, fmt.Errorf("master key file %s is corrupt", path)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read master key: %w", err)
	}

	key, err := crypto.NewKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("failed to write master key: %w", err)
	}
	logger.Info("generated new master key", logger.Path(path))
	return key, nil
}

// GenerateFolderKeys creates a folder's Ed25519 keypair on first index,
// seals the private key under the master key and persists it. The store
// enforces that keys are written exactly once per folder.
func (m *Manager) GenerateFolderKeys(ctx context.Context, folderID string) (*crypto.KeyPair, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	nonce, err := crypto.NewNonce()
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.Encrypt(m.master, nonce, kp.Private, []byte(folderID))
	if err != nil {
		return nil, err
	}

	if err := m.store.SaveFolderKeys(ctx, folderID, kp.Public, sealed, nonce); err != nil {
		return nil, err
	}

	// Backup file in the keys directory, same sealed blob as the row.
	backup := append(append([]byte{}, nonce...), sealed...)
	path := filepath.Join(m.keysDir, folderID+".key")
	if err := os.WriteFile(path, []byte(hex.EncodeToString(backup)+"\n"), 0600); err != nil {
		logger.Warn("failed to write folder key backup", logger.Folder(folderID), logger.Err(err))
	}

	return kp, nil
}

// LoadFolderKeys unseals a folder's keypair from the folder row.
func (m *Manager) LoadFolderKeys(ctx context.Context, folderID string) (*crypto.KeyPair, error) {
	folder, err := m.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if len(folder.EncryptedPrivateKey) == 0 {
		return nil, crypto.ErrKeyNotFound
	}

	priv, err := crypto.Decrypt(m.master, folder.KeyNonce, folder.EncryptedPrivateKey, []byte(folderID))
	if err != nil {
		return nil, fmt.Errorf("failed to unseal folder key: %w", err)
	}

	return &crypto.KeyPair{Public: folder.PublicKey, Private: priv}, nil
}

// Master exposes the master key for session-key derivation. Read-only
// after load; callers must not mutate it.
func (m *Manager) Master() []byte {
	return m.master
}

// UserKeys is a principal's private key material: the Ed25519 signing key
// behind the user identifier and the X25519 key that unwraps private-share
// session keys.
type UserKeys struct {
	Ed25519 []byte
	X25519  []byte
}

const x25519PrivSize = 32

// SaveUserKeys seals a principal's private keys under the master key and
// writes them to the keys directory. One file per user, written once at
// user creation.
func (m *Manager) SaveUserKeys(userID string, keys *UserKeys) error {
	if len(keys.X25519) != x25519PrivSize {
		return fmt.Errorf("x25519 private key must be %d bytes, got %d", x25519PrivSize, len(keys.X25519))
	}

	payload := append(append([]byte{}, keys.Ed25519...), keys.X25519...)
	nonce, err := crypto.NewNonce()
	if err != nil {
		return err
	}
	sealed, err := crypto.Encrypt(m.master, nonce, payload, []byte("user:"+userID))
	if err != nil {
		return err
	}

	blob := append(append([]byte{}, nonce...), sealed...)
	path := filepath.Join(m.keysDir, userID+".user.key")
	if err := os.WriteFile(path, []byte(hex.EncodeToString(blob)+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write user key file: %w", err)
	}
	return nil
}

// LoadUserKeys unseals a principal's private keys from the keys directory.
// Returns crypto.ErrKeyNotFound when no key file exists for the user.
func (m *Manager) LoadUserKeys(userID string) (*UserKeys, error) {
	path := filepath.Join(m.keysDir, userID+".user.key")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, crypto.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to read user key file: %w", err)
	}

	blob, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(blob) <= crypto.NonceSize {
		return nil, fmt.Errorf("user key file %s is corrupt", path)
	}

	payload, err := crypto.Decrypt(m.master, blob[:crypto.NonceSize], blob[crypto.NonceSize:], []byte("user:"+userID))
	if err != nil {
		return nil, fmt.Errorf("failed to unseal user keys: %w", err)
	}
	if len(payload) <= x25519PrivSize {
		return nil, fmt.Errorf("user key file %s is corrupt", path)
	}

	split := len(payload) - x25519PrivSize
	return &UserKeys{Ed25519: payload[:split], X25519: payload[split:]}, nil
}
