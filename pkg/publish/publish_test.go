package publish

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usenetsync/usenetsync/internal/folderlock"
	"github.com/usenetsync/usenetsync/pkg/access"
	"github.com/usenetsync/usenetsync/pkg/crypto"
	"github.com/usenetsync/usenetsync/pkg/models"
	"github.com/usenetsync/usenetsync/pkg/shareindex"
	"github.com/usenetsync/usenetsync/pkg/store"
	"github.com/usenetsync/usenetsync/pkg/upload"
)

type fixture struct {
	store  *store.GORMStore
	keys   *access.Manager
	folder *models.Folder
	root   string
}

func newFixture(t *testing.T, redundancy int) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "publish.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	keys, err := access.NewManager(st, t.TempDir())
	require.NoError(t, err)

	ownerKeys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	user := &models.User{
		ID:        strings.Repeat("a", 64),
		PublicKey: ownerKeys.Public,
	}
	require.NoError(t, st.CreateUser(ctx, user))

	root := t.TempDir()
	folder := &models.Folder{
		ID:                  strings.Repeat("b", 64),
		Path:                root,
		Name:                "docs",
		OwnerID:             user.ID,
		PublicKey:           []byte{},
		EncryptedPrivateKey: []byte{},
		KeyNonce:            []byte{},
		AccessMode:          models.AccessPublic,
		RedundancyLevel:     redundancy,
	}
	require.NoError(t, st.CreateFolder(ctx, folder))

	return &fixture{store: st, keys: keys, folder: folder, root: root}
}

func (fx *fixture) write(t *testing.T, rel string, data []byte) {
	t.Helper()
	path := filepath.Join(fx.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func (fx *fixture) index(t *testing.T) {
	t.Helper()
	ix := upload.NewIndexer(fx.store, fx.keys, folderlock.NewSet(), upload.IndexerConfig{})
	_, err := ix.IndexFolder(context.Background(), fx.folder.ID)
	require.NoError(t, err)
}

// drainUploads plays the worker pool: every queued segment is marked posted
// with a recorded message, every queue entry completed.
func (fx *fixture) drainUploads(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	for {
		entry, err := fx.store.ClaimNextUpload(ctx, "test-worker")
		if errors.Is(err, models.ErrQueueEntryNotFound) {
			return
		}
		require.NoError(t, err)
		if entry.EntityType == models.EntitySegment {
			seg, err := fx.store.GetSegment(ctx, entry.EntityID)
			require.NoError(t, err)
			nonce, err := crypto.NewNonce()
			require.NoError(t, err)
			require.NoError(t, fx.store.UpdateSegmentCrypto(ctx, seg.ID, false, seg.Size, nonce))
			require.NoError(t, fx.store.RecordMessage(ctx, &models.Message{
				SegmentID:     seg.ID,
				Server:        "news.example.com",
				MessageID:     fmt.Sprintf("<%s@ngPost.com>", seg.ID[:16]),
				UsenetSubject: "ABCDEFGHIJKLMNOPQRST",
				Newsgroup:     "alt.binaries.test",
				PostedAt:      time.Now(),
				Size:          seg.Size,
			}))
			if seg.RedundancyIndex == 0 {
				require.NoError(t, fx.store.BumpFileSegmentCounters(ctx, seg.FileID, 1, 0))
			}
		}
		require.NoError(t, fx.store.CompleteUpload(ctx, entry.ID))
	}
}

func (fx *fixture) publisher() *Publisher {
	return New(fx.store, fx.keys, Config{BarrierPoll: 10 * time.Millisecond})
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestCreatePublicShare(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 0)
	fx.write(t, "a.bin", randomBytes(t, 1200))
	fx.write(t, "b.bin", randomBytes(t, 500))
	fx.index(t)
	fx.drainUploads(t)

	pub, err := fx.publisher().CreateShare(ctx, fx.folder.ID, ShareParams{Mode: models.AccessPublic, ExpiryDays: 30})
	require.NoError(t, err)

	assert.Regexp(t, `^[A-Z2-7]{24}$`, pub.ShareID)
	assert.Equal(t, models.ShareActive, pub.Status)
	require.NotNil(t, pub.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), *pub.ExpiresAt, time.Minute)
	assert.NotEmpty(t, pub.EncryptedIndex)

	t.Run("index article is queued", func(t *testing.T) {
		entries, err := fx.store.ListUploadEntries(ctx, models.QueuePending)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, models.EntityIndex, entries[0].EntityType)
		assert.Equal(t, pub.ShareID, entries[0].EntityID)
		assert.Equal(t, upload.PriorityIndex, entries[0].Priority)
	})

	t.Run("share id holds a working key", func(t *testing.T) {
		stored, err := fx.store.GetPublication(ctx, pub.ShareID)
		require.NoError(t, err)
		key, err := access.Open(stored, access.Credentials{}, time.Now())
		require.NoError(t, err)

		doc, err := shareindex.OpenDocument(stored.EncryptedIndex, stored.IndexNonce, key, pub.ShareID)
		require.NoError(t, err)
		assert.Equal(t, fx.folder.ID, doc.FolderID)
		assert.Equal(t, 1, doc.FolderVersion)
		require.Len(t, doc.Files, 2)
		assert.Equal(t, "a.bin", doc.Files[0].RelativePath)
		for _, f := range doc.Files {
			for _, s := range f.Segments {
				assert.NotEmpty(t, s.MessageIDs, f.RelativePath)
				assert.NotEmpty(t, s.Nonce)
				assert.Len(t, s.Subject, 64)
			}
		}
		assert.Empty(t, doc.Missing)

		version, err := fx.store.GetFolderVersion(ctx, fx.folder.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, version.MerkleRoot, doc.MerkleRoot)
	})
}

func TestCreateShareBarrierTimesOut(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 0)
	fx.write(t, "slow.bin", randomBytes(t, 800))
	fx.index(t)
	// Uploads never drained: segments stay queued.

	p := New(fx.store, fx.keys, Config{
		BarrierPoll:    5 * time.Millisecond,
		BarrierTimeout: 50 * time.Millisecond,
	})
	_, err := p.CreateShare(ctx, fx.folder.ID, ShareParams{Mode: models.AccessPublic})
	require.Error(t, err)
	assert.ErrorContains(t, err, "waiting")
}

func TestCreateShareUnindexedFolder(t *testing.T) {
	fx := newFixture(t, 0)
	_, err := fx.publisher().CreateShare(context.Background(), fx.folder.ID, ShareParams{Mode: models.AccessPublic})
	assert.ErrorIs(t, err, models.ErrVersionNotFound)
}

func TestCreateProtectedShareRequiresPassword(t *testing.T) {
	fx := newFixture(t, 0)
	fx.write(t, "x.bin", randomBytes(t, 100))
	fx.index(t)
	fx.drainUploads(t)

	_, err := fx.publisher().CreateShare(context.Background(), fx.folder.ID, ShareParams{Mode: models.AccessProtected})
	require.Error(t, err)

	pub, err := fx.publisher().CreateShare(context.Background(), fx.folder.ID,
		ShareParams{Mode: models.AccessProtected, Password: "hunter2"})
	require.NoError(t, err)

	key, err := access.Open(pub, access.Credentials{Password: "hunter2"}, time.Now())
	require.NoError(t, err)
	_, err = shareindex.OpenDocument(pub.EncryptedIndex, pub.IndexNonce, key, pub.ShareID)
	assert.NoError(t, err)
}

func TestCreatePartialShare(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 0)
	fx.write(t, "doomed.bin", randomBytes(t, 700))
	fx.index(t)

	// The single segment is abandoned instead of posted.
	file, err := fx.store.GetFileByPath(ctx, fx.folder.ID, "doomed.bin", 1)
	require.NoError(t, err)
	segs, err := fx.store.ListSegmentsByFile(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.NoError(t, fx.store.UpdateSegmentState(ctx, segs[0].ID, models.SegmentAbandoned))
	require.NoError(t, fx.store.BumpFileSegmentCounters(ctx, file.ID, 0, 1))
	for {
		entry, err := fx.store.ClaimNextUpload(ctx, "test-worker")
		if errors.Is(err, models.ErrQueueEntryNotFound) {
			break
		}
		require.NoError(t, err)
		require.NoError(t, fx.store.CompleteUpload(ctx, entry.ID))
	}

	pub, err := fx.publisher().CreateShare(ctx, fx.folder.ID, ShareParams{Mode: models.AccessPublic})
	require.NoError(t, err)
	assert.Equal(t, models.SharePartial, pub.Status)

	var missing []shareindex.MissingSegment
	require.NoError(t, json.Unmarshal([]byte(pub.MissingSegments), &missing))
	require.Len(t, missing, 1)
	assert.Equal(t, file.ID, missing[0].FileID)
	assert.Equal(t, 0, missing[0].Index)
}

func TestPrivateShareRecipients(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 0)
	fx.write(t, "secret.bin", randomBytes(t, 300))
	fx.index(t)
	fx.drainUploads(t)

	alice, err := crypto.GenerateX25519KeyPair()
	require.NoError(t, err)
	aliceID := strings.Repeat("1", 64)
	require.NoError(t, fx.store.AddAuthorizedUser(ctx, &models.AuthorizedUser{
		FolderID: fx.folder.ID,
		UserID:   aliceID,
		X25519:   alice.Public,
	}))

	p := fx.publisher()
	pub, err := p.CreateShare(ctx, fx.folder.ID, ShareParams{Mode: models.AccessPrivate})
	require.NoError(t, err)

	open := func(userID string, priv []byte) ([]byte, error) {
		stored, err := fx.store.GetPublication(ctx, pub.ShareID)
		require.NoError(t, err)
		return access.Open(stored, access.Credentials{UserID: userID, X25519Priv: priv}, time.Now())
	}

	key, err := open(aliceID, alice.Private)
	require.NoError(t, err)
	_, err = shareindex.OpenDocument(pub.EncryptedIndex, pub.IndexNonce, key, pub.ShareID)
	require.NoError(t, err)

	t.Run("added recipient can open without resealing", func(t *testing.T) {
		bob, err := crypto.GenerateX25519KeyPair()
		require.NoError(t, err)
		bobID := strings.Repeat("2", 64)
		require.NoError(t, p.AddRecipient(ctx, pub.ShareID, models.AuthorizedUser{UserID: bobID, X25519: bob.Public}))

		key, err := open(bobID, bob.Private)
		require.NoError(t, err)
		doc, err := shareindex.OpenDocument(pub.EncryptedIndex, pub.IndexNonce, key, pub.ShareID)
		require.NoError(t, err)
		assert.Len(t, doc.Files, 1)

		commitments, err := fx.store.ListCommitments(ctx, pub.ShareID)
		require.NoError(t, err)
		assert.Len(t, commitments, 2)
	})

	t.Run("removed recipient loses access", func(t *testing.T) {
		require.NoError(t, p.RemoveRecipient(ctx, pub.ShareID, aliceID))
		_, err := open(aliceID, alice.Private)
		assert.ErrorIs(t, err, models.ErrNotAuthorized)
	})

	t.Run("index refresh queued per change", func(t *testing.T) {
		entries, err := fx.store.ListUploadEntries(ctx, models.QueuePending)
		require.NoError(t, err)
		count := 0
		for _, e := range entries {
			if e.EntityType == models.EntityIndex {
				count++
			}
		}
		// Initial publish plus one per recipient change.
		assert.Equal(t, 3, count)
	})

	t.Run("each refresh posts under the next lookup generation", func(t *testing.T) {
		stored, err := fx.store.GetPublication(ctx, pub.ShareID)
		require.NoError(t, err)
		assert.Equal(t, 2, stored.IndexGeneration)
	})
}

func TestShareLifecycle(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 0)
	fx.write(t, "f.bin", randomBytes(t, 100))
	fx.index(t)
	fx.drainUploads(t)

	p := fx.publisher()
	pub, err := p.CreateShare(ctx, fx.folder.ID, ShareParams{Mode: models.AccessPublic, ExpiryDays: 1})
	require.NoError(t, err)

	t.Run("record access", func(t *testing.T) {
		require.NoError(t, p.RecordAccess(ctx, pub.ShareID, strings.Repeat("9", 64)))
		got, err := fx.store.GetPublication(ctx, pub.ShareID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, got.AccessCount)
	})

	t.Run("extend moves expiry forward", func(t *testing.T) {
		got, err := p.Extend(ctx, pub.ShareID, 7)
		require.NoError(t, err)
		require.NotNil(t, got.ExpiresAt)
		assert.WithinDuration(t, time.Now().Add(8*24*time.Hour), *got.ExpiresAt, time.Minute)
	})

	t.Run("revoke", func(t *testing.T) {
		require.NoError(t, p.Revoke(ctx, pub.ShareID))
		got, err := fx.store.GetPublication(ctx, pub.ShareID)
		require.NoError(t, err)
		assert.Equal(t, models.ShareRevoked, got.Status)
		_, err = access.Open(got, access.Credentials{}, time.Now())
		assert.ErrorIs(t, err, models.ErrShareRevoked)
	})
}

func TestExpiryScanner(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 0)

	past := time.Now().Add(-time.Hour)
	pub := &models.Publication{
		ShareID:       "ABCDEFGHIJKLMNOPQRSTUVWX",
		FolderID:      fx.folder.ID,
		FolderVersion: 1,
		OwnerID:       fx.folder.OwnerID,
		AccessMode:    models.AccessPublic,
		Status:        models.ShareActive,
		ExpiresAt:     &past,
	}
	require.NoError(t, fx.store.CreatePublication(ctx, pub))

	p := New(fx.store, fx.keys, Config{ExpiryInterval: 20 * time.Millisecond})
	p.Start(ctx)
	defer p.Stop()

	assert.Eventually(t, func() bool {
		got, err := fx.store.GetPublication(ctx, pub.ShareID)
		return err == nil && got.Status == models.ShareExpired
	}, 5*time.Second, 20*time.Millisecond)
}
