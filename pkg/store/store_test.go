package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usenetsync/usenetsync/pkg/models"
)

func createTestStore(t *testing.T) *GORMStore {
	t.Helper()

	s, err := New(&Config{
		Type:   DatabaseTypeSQLite,
		SQLite: SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func hexID(seed byte) string {
	return strings.Repeat(string([]byte{"0123456789abcdef"[seed%16]}), 64)
}

func createTestUser(t *testing.T, s *GORMStore) *models.User {
	t.Helper()
	user := &models.User{
		ID:          hexID(1),
		DisplayName: "tester",
		PublicKey:   []byte("pub"),
	}
	require.NoError(t, s.CreateUser(context.Background(), user))
	return user
}

func createTestFolder(t *testing.T, s *GORMStore, owner *models.User, path string) *models.Folder {
	t.Helper()
	folder := &models.Folder{
		ID:                  hexID(2),
		Path:                path,
		Name:                "test",
		OwnerID:             owner.ID,
		PublicKey:           []byte{},
		EncryptedPrivateKey: []byte{},
		KeyNonce:            []byte{},
		AccessMode:          models.AccessPublic,
		RedundancyLevel:     3,
	}
	require.NoError(t, s.CreateFolder(context.Background(), folder))
	return folder
}

func TestUsers(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, s)

	got, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "tester", got.DisplayName)

	t.Run("duplicate rejected", func(t *testing.T) {
		err := s.CreateUser(ctx, &models.User{ID: user.ID, PublicKey: []byte("pub")})
		assert.ErrorIs(t, err, models.ErrDuplicateUser)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.GetUser(ctx, hexID(9))
		assert.ErrorIs(t, err, models.ErrUserNotFound)
	})

	t.Run("first user", func(t *testing.T) {
		first, err := s.FirstUser(ctx)
		require.NoError(t, err)
		assert.Equal(t, user.ID, first.ID)
	})

	t.Run("api key hash update", func(t *testing.T) {
		require.NoError(t, s.UpdateAPIKeyHash(ctx, user.ID, "hash"))
		got, err := s.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "hash", got.APIKeyHash)
	})
}

func TestFolders(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s)
	folder := createTestFolder(t, s, user, "/data/photos")

	t.Run("lookup by path", func(t *testing.T) {
		got, err := s.GetFolderByPath(ctx, "/data/photos")
		require.NoError(t, err)
		assert.Equal(t, folder.ID, got.ID)
	})

	t.Run("duplicate path rejected", func(t *testing.T) {
		dup := &models.Folder{
			ID: hexID(3), Path: "/data/photos", OwnerID: user.ID,
			PublicKey: []byte{}, EncryptedPrivateKey: []byte{}, KeyNonce: []byte{},
			AccessMode: models.AccessPublic,
		}
		assert.ErrorIs(t, s.CreateFolder(ctx, dup), models.ErrDuplicateFolder)
	})

	t.Run("keys are written exactly once", func(t *testing.T) {
		require.NoError(t, s.SaveFolderKeys(ctx, folder.ID, []byte("pub"), []byte("priv"), []byte("nonce")))

		err := s.SaveFolderKeys(ctx, folder.ID, []byte("pub2"), []byte("priv2"), []byte("nonce2"))
		assert.ErrorIs(t, err, models.ErrConstraintViolation)

		got, err := s.GetFolder(ctx, folder.ID)
		require.NoError(t, err)
		assert.Equal(t, []byte("priv"), got.EncryptedPrivateKey)
	})

	t.Run("keys for unknown folder", func(t *testing.T) {
		err := s.SaveFolderKeys(ctx, hexID(9), []byte("p"), []byte("k"), []byte("n"))
		assert.ErrorIs(t, err, models.ErrFolderNotFound)
	})

	t.Run("stats update clears dirty", func(t *testing.T) {
		require.NoError(t, s.SetFolderDirty(ctx, folder.ID, true))
		require.NoError(t, s.UpdateFolderStats(ctx, folder.ID, 1, 10, 4096))

		got, err := s.GetFolder(ctx, folder.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Version)
		assert.Equal(t, int64(10), got.FileCount)
		assert.False(t, got.Dirty)
	})

	t.Run("authorized users", func(t *testing.T) {
		au := &models.AuthorizedUser{FolderID: folder.ID, UserID: hexID(4), X25519: []byte("x")}
		require.NoError(t, s.AddAuthorizedUser(ctx, au))

		list, err := s.ListAuthorizedUsers(ctx, folder.ID)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		require.NoError(t, s.RemoveAuthorizedUser(ctx, folder.ID, hexID(4)))
		assert.ErrorIs(t, s.RemoveAuthorizedUser(ctx, folder.ID, hexID(4)), models.ErrNotAuthorized)
	})
}

func TestFilesAndSegments(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s)
	folder := createTestFolder(t, s, user, "/data/docs")

	files := []*models.File{
		{FolderID: folder.ID, RelativePath: "b.txt", Version: 1, Size: 10, Hash: hexID(5), SegmentCount: 2},
		{FolderID: folder.ID, RelativePath: "a.txt", Version: 1, Size: 20, Hash: hexID(6), SegmentCount: 1},
	}
	require.NoError(t, s.CreateFiles(ctx, files))

	t.Run("listed in path order", func(t *testing.T) {
		list, err := s.ListFiles(ctx, folder.ID, 1)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "a.txt", list[0].RelativePath)
		assert.Equal(t, "b.txt", list[1].RelativePath)
	})

	t.Run("path version triple unique", func(t *testing.T) {
		err := s.CreateFile(ctx, &models.File{
			FolderID: folder.ID, RelativePath: "a.txt", Version: 1, Size: 1, Hash: hexID(7),
		})
		assert.ErrorIs(t, err, models.ErrConstraintViolation)
	})

	file := files[0]
	segments := []*models.Segment{
		{FileID: file.ID, Index: 0, OffsetStart: 0, OffsetEnd: 5, Size: 5, Hash: hexID(5), InternalSubject: hexID(8)},
		{FileID: file.ID, Index: 1, OffsetStart: 5, OffsetEnd: 10, Size: 5, Hash: hexID(5), InternalSubject: hexID(9)},
		{FileID: file.ID, Index: 0, RedundancyIndex: 1, OffsetStart: 0, OffsetEnd: 0, Size: 5, Hash: hexID(5), InternalSubject: hexID(10)},
	}
	require.NoError(t, s.CreateSegments(ctx, segments))

	t.Run("slot unique", func(t *testing.T) {
		err := s.CreateSegments(ctx, []*models.Segment{
			{FileID: file.ID, Index: 0, OffsetStart: 0, OffsetEnd: 5, Size: 5, Hash: hexID(5), InternalSubject: hexID(8)},
		})
		assert.ErrorIs(t, err, models.ErrConstraintViolation)
	})

	t.Run("primaries listed before parity", func(t *testing.T) {
		list, err := s.ListSegmentsByFile(ctx, file.ID)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, 0, list[0].RedundancyIndex)
		assert.Equal(t, 0, list[1].RedundancyIndex)
		assert.Equal(t, 1, list[2].RedundancyIndex)
	})

	t.Run("publish barrier counts unposted", func(t *testing.T) {
		count, err := s.CountPendingSegments(ctx, folder.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)

		require.NoError(t, s.RecordMessage(ctx, &models.Message{
			SegmentID: segments[0].ID, Server: "news.example.com",
			MessageID: "<abc@ngPost.com>", UsenetSubject: "SUBJ", Newsgroup: "alt.binaries.test", Size: 100,
		}))

		count, err = s.CountPendingSegments(ctx, folder.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		seg, err := s.GetSegment(ctx, segments[0].ID)
		require.NoError(t, err)
		assert.Equal(t, models.SegmentPosted, seg.State)
	})

	t.Run("one message per segment and server", func(t *testing.T) {
		err := s.RecordMessage(ctx, &models.Message{
			SegmentID: segments[0].ID, Server: "news.example.com",
			MessageID: "<def@ngPost.com>", UsenetSubject: "SUBJ2", Newsgroup: "alt.binaries.test", Size: 100,
		})
		assert.ErrorIs(t, err, models.ErrConstraintViolation)
	})

	t.Run("counters derive file status", func(t *testing.T) {
		require.NoError(t, s.BumpFileSegmentCounters(ctx, file.ID, 2, 0))
		got, err := s.GetFile(ctx, file.ID)
		require.NoError(t, err)
		assert.Equal(t, models.FileUploaded, got.Status)

		require.NoError(t, s.BumpFileSegmentCounters(ctx, file.ID, 0, 1))
		got, err = s.GetFile(ctx, file.ID)
		require.NoError(t, err)
		assert.Equal(t, models.FileUploadedPartial, got.Status)
	})
}

func TestUploadQueue(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	low := &models.UploadQueueEntry{EntityType: models.EntitySegment, EntityID: "seg-low", Priority: 1}
	high := &models.UploadQueueEntry{EntityType: models.EntitySegment, EntityID: "seg-high", Priority: 5}
	require.NoError(t, s.EnqueueUpload(ctx, low))
	require.NoError(t, s.EnqueueUpload(ctx, high))

	t.Run("claims by priority", func(t *testing.T) {
		first, err := s.ClaimNextUpload(ctx, "worker-0")
		require.NoError(t, err)
		assert.Equal(t, "seg-high", first.EntityID)
		assert.Equal(t, models.QueueInFlight, first.State)
		assert.Equal(t, "worker-0", first.ClaimedBy)

		second, err := s.ClaimNextUpload(ctx, "worker-1")
		require.NoError(t, err)
		assert.Equal(t, "seg-low", second.EntityID)

		_, err = s.ClaimNextUpload(ctx, "worker-2")
		assert.ErrorIs(t, err, models.ErrQueueEntryNotFound)
	})

	t.Run("complete", func(t *testing.T) {
		require.NoError(t, s.CompleteUpload(ctx, high.ID))
		got, err := s.GetUploadEntry(ctx, high.ID)
		require.NoError(t, err)
		assert.Equal(t, models.QueueSucceeded, got.State)

		assert.ErrorIs(t, s.CompleteUpload(ctx, high.ID), models.ErrEntryNotClaimable)
	})

	t.Run("fail returns to pending until the cap", func(t *testing.T) {
		next, err := s.FailUpload(ctx, low.ID, "post refused", 2)
		require.NoError(t, err)
		assert.Equal(t, models.QueuePending, next)

		claimed, err := s.ClaimNextUpload(ctx, "worker-0")
		require.NoError(t, err)
		require.Equal(t, low.ID, claimed.ID)

		next, err = s.FailUpload(ctx, low.ID, "post refused again", 2)
		require.NoError(t, err)
		assert.Equal(t, models.QueueAbandoned, next)

		got, err := s.GetUploadEntry(ctx, low.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Attempts)
		assert.Equal(t, "post refused again", got.LastError)
	})

	t.Run("requeue resets attempts", func(t *testing.T) {
		require.NoError(t, s.RequeueUpload(ctx, low.ID))
		got, err := s.GetUploadEntry(ctx, low.ID)
		require.NoError(t, err)
		assert.Equal(t, models.QueuePending, got.State)
		assert.Zero(t, got.Attempts)
	})

	t.Run("release does not count an attempt", func(t *testing.T) {
		claimed, err := s.ClaimNextUpload(ctx, "worker-0")
		require.NoError(t, err)
		require.NoError(t, s.ReleaseUpload(ctx, claimed.ID))

		got, err := s.GetUploadEntry(ctx, claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, models.QueuePending, got.State)
		assert.Zero(t, got.Attempts)
	})

	t.Run("state counts", func(t *testing.T) {
		counts, err := s.CountUploadsByState(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[models.QueuePending])
		assert.Equal(t, int64(1), counts[models.QueueSucceeded])
	})

	t.Run("recovery sweeps stranded claims back to pending", func(t *testing.T) {
		claimed, err := s.ClaimNextUpload(ctx, "worker-0")
		require.NoError(t, err)

		// Simulate a crash: the claim is never completed, failed or
		// released. A fresh claim finds nothing.
		_, err = s.ClaimNextUpload(ctx, "worker-1")
		assert.ErrorIs(t, err, models.ErrQueueEntryNotFound)

		recovered, err := s.RecoverInFlightUploads(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), recovered)

		got, err := s.GetUploadEntry(ctx, claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, models.QueuePending, got.State)
		assert.Empty(t, got.ClaimedBy)
		assert.Zero(t, got.Attempts)

		reclaimed, err := s.ClaimNextUpload(ctx, "worker-1")
		require.NoError(t, err)
		assert.Equal(t, claimed.ID, reclaimed.ID)
		require.NoError(t, s.ReleaseUpload(ctx, reclaimed.ID))
	})
}

func TestDownloadQueue(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	entry := &models.DownloadQueueEntry{
		ShareID:     "ABCDEFGHIJKLMNOP23456722",
		Destination: "/restore/here",
	}
	require.NoError(t, s.CreateDownload(ctx, entry))

	require.NoError(t, s.SetDownloadTotals(ctx, entry.ID, 40))
	require.NoError(t, s.UpdateDownloadProgress(ctx, entry.ID, 10, 1, 0, 2))
	require.NoError(t, s.UpdateDownloadProgress(ctx, entry.ID, 5, 0, 1, 0))

	got, err := s.GetDownload(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.TotalSegments)
	assert.Equal(t, 15, got.FetchedSegments)
	assert.Equal(t, 1, got.VerifiedFiles)
	assert.Equal(t, 1, got.FailedFiles)
	assert.Equal(t, 2, got.RecoveredParity)

	require.NoError(t, s.FinishDownload(ctx, entry.ID, models.QueueSucceeded, ""))
	got, err = s.GetDownload(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueSucceeded, got.State)
	assert.NotNil(t, got.CompletedAt)
}

func TestPublications(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s)
	folder := createTestFolder(t, s, user, "/data/pub")

	past := time.Now().Add(-time.Hour)
	pub := &models.Publication{
		ShareID:       "ABCDEFGHIJKLMNOP23456723",
		FolderID:      folder.ID,
		FolderVersion: 1,
		OwnerID:       user.ID,
		AccessMode:    models.AccessPrivate,
		Status:        models.ShareActive,
		ExpiresAt:     &past,
	}
	require.NoError(t, s.CreatePublication(ctx, pub))

	t.Run("duplicate share id", func(t *testing.T) {
		assert.ErrorIs(t, s.CreatePublication(ctx, pub), models.ErrDuplicateShare)
	})

	t.Run("record access", func(t *testing.T) {
		require.NoError(t, s.RecordAccess(ctx, pub.ShareID, user.ID))
		require.NoError(t, s.RecordAccess(ctx, pub.ShareID, user.ID))
		got, err := s.GetPublication(ctx, pub.ShareID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.AccessCount)
		assert.Equal(t, user.ID, got.LastAccessedBy)
	})

	t.Run("commitments replaced atomically", func(t *testing.T) {
		first := []*models.AccessCommitment{{
			UserIDHash: hexID(11), Salt: []byte("s"),
			ProofCommit: []byte("c"), ProofChallenge: []byte("ch"), ProofResponse: []byte("r"),
			VerifyKey: []byte("v"), EphemeralPub: []byte("e"), WrappedKey: []byte("w"), WrapNonce: []byte("n"),
		}}
		require.NoError(t, s.ReplaceCommitments(ctx, pub.ShareID, first))

		second := append(first, &models.AccessCommitment{
			ID: "", UserIDHash: hexID(12), Salt: []byte("s"),
			ProofCommit: []byte("c"), ProofChallenge: []byte("ch"), ProofResponse: []byte("r"),
			VerifyKey: []byte("v"), EphemeralPub: []byte("e"), WrappedKey: []byte("w"), WrapNonce: []byte("n"),
		})
		for _, c := range second {
			c.ID = ""
		}
		require.NoError(t, s.ReplaceCommitments(ctx, pub.ShareID, second))

		list, err := s.ListCommitments(ctx, pub.ShareID)
		require.NoError(t, err)
		assert.Len(t, list, 2)

		got, err := s.GetCommitmentByUserHash(ctx, pub.ShareID, hexID(12))
		require.NoError(t, err)
		assert.Equal(t, hexID(12), got.UserIDHash)

		_, err = s.GetCommitmentByUserHash(ctx, pub.ShareID, hexID(13))
		assert.ErrorIs(t, err, models.ErrNotAuthorized)
	})

	t.Run("expiry sweep", func(t *testing.T) {
		n, err := s.ExpirePublications(ctx, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := s.GetPublication(ctx, pub.ShareID)
		require.NoError(t, err)
		assert.Equal(t, models.ShareExpired, got.Status)
		assert.ErrorIs(t, got.Accessible(time.Now()), models.ErrShareExpired)
	})
}

func TestVersionsAndJournal(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s)
	folder := createTestFolder(t, s, user, "/data/ver")

	v := &models.FolderVersion{
		FolderID: folder.ID, Version: 1,
		Added: 2, FileCount: 2, TotalSize: 30, MerkleRoot: hexID(14),
	}
	require.NoError(t, s.CreateFolderVersion(ctx, v))

	t.Run("version unique per folder", func(t *testing.T) {
		err := s.CreateFolderVersion(ctx, &models.FolderVersion{
			FolderID: folder.ID, Version: 1, MerkleRoot: hexID(14),
		})
		assert.ErrorIs(t, err, models.ErrConstraintViolation)
	})

	require.NoError(t, s.AppendChangeJournal(ctx, []*models.ChangeJournalEntry{
		{FolderID: folder.ID, Version: 1, Path: "b.txt", Kind: models.ChangeAdded, NewHash: hexID(5)},
		{FolderID: folder.ID, Version: 1, Path: "a.txt", Kind: models.ChangeAdded, NewHash: hexID(6)},
	}))

	entries, err := s.ListChangeJournal(ctx, folder.ID, 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.txt", entries[0].Path)

	got, err := s.GetFolderVersion(ctx, folder.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, hexID(14), got.MerkleRoot)

	_, err = s.GetFolderVersion(ctx, folder.ID, 2)
	assert.ErrorIs(t, err, models.ErrVersionNotFound)
}

func TestMigrations(t *testing.T) {
	s := createTestStore(t)

	rows, err := s.MigrationStatus(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, 1, rows[0].Version)
	assert.Equal(t, "initial_schema", rows[0].Name)
	assert.True(t, rows[0].Success)
	assert.Len(t, rows[0].Checksum, 64)
}

func TestTransaction(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	t.Run("rolls back on error", func(t *testing.T) {
		err := s.Transaction(ctx, func(tx Store) error {
			if err := tx.CreateUser(ctx, &models.User{ID: hexID(1), PublicKey: []byte("p")}); err != nil {
				return err
			}
			return assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)

		_, err = s.GetUser(ctx, hexID(1))
		assert.ErrorIs(t, err, models.ErrUserNotFound)
	})

	t.Run("commits on success", func(t *testing.T) {
		err := s.Transaction(ctx, func(tx Store) error {
			return tx.CreateUser(ctx, &models.User{ID: hexID(1), PublicKey: []byte("p")})
		})
		require.NoError(t, err)

		_, err = s.GetUser(ctx, hexID(1))
		assert.NoError(t, err)
	})
}
