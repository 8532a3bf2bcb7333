package upload

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usenetsync/usenetsync/internal/folderlock"
	"github.com/usenetsync/usenetsync/pkg/access"
	"github.com/usenetsync/usenetsync/pkg/bandwidth"
	"github.com/usenetsync/usenetsync/pkg/crypto"
	"github.com/usenetsync/usenetsync/pkg/models"
	"github.com/usenetsync/usenetsync/pkg/nntp"
	"github.com/usenetsync/usenetsync/pkg/obfuscate"
	"github.com/usenetsync/usenetsync/pkg/retry"
	"github.com/usenetsync/usenetsync/pkg/store"
)

func createTestStore(t *testing.T) *store.GORMStore {
	t.Helper()

	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "upload.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

type fixture struct {
	store  *store.GORMStore
	keys   *access.Manager
	locks  *folderlock.Set
	folder *models.Folder
	root   string
}

func newFixture(t *testing.T, redundancy int) *fixture {
	t.Helper()
	ctx := context.Background()

	st := createTestStore(t)
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

	return &fixture{store: st, keys: keys, locks: folderlock.NewSet(), folder: folder, root: root}
}

func (fx *fixture) indexer(hwm int) *Indexer {
	return NewIndexer(fx.store, fx.keys, fx.locks, IndexerConfig{HighWaterMark: hwm})
}

func (fx *fixture) write(t *testing.T, rel string, data []byte) {
	t.Helper()
	path := filepath.Join(fx.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

func TestIndexFolder(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 3)

	// 1,000 B -> 1 segment; 768,000 B -> exactly 1; 1,536,001 B -> 3.
	fx.write(t, "small.bin", randomBytes(t, 1000))
	fx.write(t, "boundary.bin", randomBytes(t, 768000))
	fx.write(t, "big/huge.bin", randomBytes(t, 1536001))
	fx.write(t, "empty.bin", nil)

	fv, err := fx.indexer(0).IndexFolder(ctx, fx.folder.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, fv.Version)
	assert.Equal(t, 4, fv.Added)
	assert.Equal(t, int64(4), fv.FileCount)
	assert.Equal(t, int64(1000+768000+1536001), fv.TotalSize)
	assert.Len(t, fv.MerkleRoot, 64)

	files, err := fx.store.ListFiles(ctx, fx.folder.ID, 1)
	require.NoError(t, err)
	require.Len(t, files, 4)

	t.Run("primaries cover each file exactly", func(t *testing.T) {
		for _, f := range files {
			segs, err := fx.store.ListSegmentsByFile(ctx, f.ID)
			require.NoError(t, err)

			var covered int64
			var next int64
			primaries := 0
			for _, s := range segs {
				if s.RedundancyIndex > 0 {
					continue
				}
				assert.Equal(t, next, s.OffsetStart)
				next = s.OffsetEnd
				covered += s.Size
				primaries++
			}
			assert.Equal(t, f.Size, covered, f.RelativePath)
			assert.Equal(t, f.SegmentCount, primaries)
		}
	})

	t.Run("parity rows continue the index sequence", func(t *testing.T) {
		huge, err := fx.store.GetFileByPath(ctx, fx.folder.ID, "big/huge.bin", 1)
		require.NoError(t, err)
		segs, err := fx.store.ListSegmentsByFile(ctx, huge.ID)
		require.NoError(t, err)
		require.Len(t, segs, 3+3)

		parity := 0
		for _, s := range segs {
			if s.RedundancyIndex > 0 {
				parity++
				assert.GreaterOrEqual(t, s.Index, 3)
				assert.Len(t, s.Hash, 64)
			}
		}
		assert.Equal(t, 3, parity)
	})

	t.Run("empty file has zero segments", func(t *testing.T) {
		empty, err := fx.store.GetFileByPath(ctx, fx.folder.ID, "empty.bin", 1)
		require.NoError(t, err)
		assert.Zero(t, empty.SegmentCount)
	})

	t.Run("every segment is queued", func(t *testing.T) {
		counts, err := fx.store.CountUploadsByState(ctx)
		require.NoError(t, err)
		// 1 + 1 + 3 primaries, plus 3 parity per non-empty file.
		assert.Equal(t, int64(5+9), counts[models.QueuePending])
	})

	t.Run("folder version is recorded on the folder", func(t *testing.T) {
		folder, err := fx.store.GetFolder(ctx, fx.folder.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, folder.Version)
		assert.False(t, folder.Dirty)
	})
}

func TestIndexFolderBusy(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 0)
	fx.write(t, "a.txt", []byte("contents"))

	require.NoError(t, fx.locks.Acquire(fx.folder.ID))
	_, err := fx.indexer(0).IndexFolder(ctx, fx.folder.ID)
	assert.ErrorIs(t, err, models.ErrFolderBusy)
	fx.locks.Release(fx.folder.ID)

	_, err = fx.indexer(0).IndexFolder(ctx, fx.folder.ID)
	assert.NoError(t, err)
}

func TestReindexUnchanged(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 0)
	fx.write(t, "one.txt", []byte(strings.Repeat("x", 2000)))
	fx.write(t, "two.txt", []byte(strings.Repeat("y", 500)))

	ix := fx.indexer(0)
	_, err := ix.IndexFolder(ctx, fx.folder.ID)
	require.NoError(t, err)

	fv, err := ix.IndexFolder(ctx, fx.folder.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, fv.Version)
	assert.Zero(t, fv.Added)
	assert.Zero(t, fv.Modified)
	assert.Zero(t, fv.Deleted)
	assert.Equal(t, 2, fv.Unchanged)

	v1, err := fx.store.GetFolderVersion(ctx, fx.folder.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, v1.MerkleRoot, fv.MerkleRoot)

	t.Run("journal only records real changes", func(t *testing.T) {
		entries, err := fx.store.ListChangeJournal(ctx, fx.folder.ID, 2)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestReindexCarriesUploadedFiles(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 0)
	fx.write(t, "steady.bin", randomBytes(t, 1200))

	ix := fx.indexer(0)
	_, err := ix.IndexFolder(ctx, fx.folder.ID)
	require.NoError(t, err)

	// Simulate the worker pool finishing version 1.
	file, err := fx.store.GetFileByPath(ctx, fx.folder.ID, "steady.bin", 1)
	require.NoError(t, err)
	segs, err := fx.store.ListSegmentsByFile(ctx, file.ID)
	require.NoError(t, err)
	for _, seg := range segs {
		require.NoError(t, fx.store.RecordMessage(ctx, &models.Message{
			SegmentID:     seg.ID,
			Server:        "news.example.com",
			MessageID:     fmt.Sprintf("<%s@ngPost.com>", seg.ID[:16]),
			UsenetSubject: "ABCDEFGHIJKLMNOPQRST",
			Newsgroup:     "alt.binaries.test",
			PostedAt:      time.Now(),
			Size:          seg.Size,
		}))
		require.NoError(t, fx.store.BumpFileSegmentCounters(ctx, file.ID, 1, 0))
	}
	entries, err := fx.store.ListUploadEntries(ctx, models.QueuePending)
	require.NoError(t, err)
	for _, e := range entries {
		_, err := fx.store.ClaimNextUpload(ctx, "test")
		require.NoError(t, err)
		require.NoError(t, fx.store.CompleteUpload(ctx, e.ID))
	}

	fv, err := ix.IndexFolder(ctx, fx.folder.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, fv.Version)

	t.Run("nothing is re-queued", func(t *testing.T) {
		counts, err := fx.store.CountUploadsByState(ctx)
		require.NoError(t, err)
		assert.Zero(t, counts[models.QueuePending])
	})

	t.Run("messages point at the original articles", func(t *testing.T) {
		file2, err := fx.store.GetFileByPath(ctx, fx.folder.ID, "steady.bin", 2)
		require.NoError(t, err)
		assert.Equal(t, models.FileUploaded, file2.Status)

		segs2, err := fx.store.ListSegmentsByFile(ctx, file2.ID)
		require.NoError(t, err)
		require.Len(t, segs2, len(segs))
		for _, seg := range segs2 {
			msgs, err := fx.store.ListMessagesBySegment(ctx, seg.ID)
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, "news.example.com", msgs[0].Server)
			assert.Equal(t, models.SegmentPosted, seg.State)
		}
	})
}

func TestMaybeCompress(t *testing.T) {
	t.Run("compressible text is deflated", func(t *testing.T) {
		data := bytes.Repeat([]byte("the quick brown fox "), 500)
		out, compressed := maybeCompress(data)
		assert.True(t, compressed)
		assert.Less(t, len(out), len(data))
	})

	t.Run("incompressible data is passed through", func(t *testing.T) {
		data := randomBytes(t, 8192)
		out, compressed := maybeCompress(data)
		assert.False(t, compressed)
		assert.Equal(t, data, out)
	})

	t.Run("empty payload", func(t *testing.T) {
		out, compressed := maybeCompress(nil)
		assert.False(t, compressed)
		assert.Empty(t, out)
	})
}

// fakeNewsServer accepts POSTs and remembers the dot-stuffed bodies.
type fakeNewsServer struct {
	ln net.Listener
	wg sync.WaitGroup

	mu     sync.Mutex
	posted int
}

func newFakeNewsServer(t *testing.T) *fakeNewsServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeNewsServer{ln: ln}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(func() {
		ln.Close()
		s.wg.Wait()
	})
	return s
}

func (s *fakeNewsServer) acceptLoop() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.serve(c)
	}
}

func (s *fakeNewsServer) serve(c net.Conn) {
	defer s.wg.Done()
	defer c.Close()

	tc := textproto.NewConn(c)
	tc.PrintfLine("200 fake news server ready")
	for {
		line, err := tc.ReadLine()
		if err != nil {
			return
		}
		switch {
		case line == "POST":
			tc.PrintfLine("340 send article")
			if _, err := tc.ReadDotBytes(); err != nil {
				return
			}
			s.mu.Lock()
			s.posted++
			s.mu.Unlock()
			tc.PrintfLine("240 article received")
		case line == "DATE":
			tc.PrintfLine("111 20260101000000")
		case line == "QUIT":
			tc.PrintfLine("205 bye")
			return
		default:
			tc.PrintfLine("500 what?")
		}
	}
}

func (s *fakeNewsServer) postCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posted
}

func (s *fakeNewsServer) config() nntp.ServerConfig {
	addr := s.ln.Addr().(*net.TCPAddr)
	return nntp.ServerConfig{
		Host:           "127.0.0.1",
		Port:           addr.Port,
		PostingGroup:   "alt.binaries.test",
		MaxConnections: 4,
	}
}

func fastRetryEngine() *retry.Engine {
	e := retry.New(retry.Policy{
		MaxRetries:      2,
		InitialDelay:    5 * time.Millisecond,
		ExponentialBase: 2,
		MaxDelay:        20 * time.Millisecond,
	}, nil)
	fast := retry.Policy{MaxRetries: 1, InitialDelay: 5 * time.Millisecond, ExponentialBase: 2, MaxDelay: 20 * time.Millisecond}
	e.SetCodePolicy(500, fast)
	e.SetCodePolicy(502, fast)
	e.SetCodePolicy(441, fast)
	return e
}

func TestWorkerPoolPostsQueuedSegments(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 2)
	content := randomBytes(t, 1_600_000) // 3 primaries + 2 parity
	fx.write(t, "payload.bin", content)

	_, err := fx.indexer(0).IndexFolder(ctx, fx.folder.ID)
	require.NoError(t, err)

	server := newFakeNewsServer(t)
	pool, err := nntp.NewPool(nntp.PoolConfig{
		Servers:         []nntp.ServerConfig{server.config()},
		MonitorInterval: time.Hour,
	})
	require.NoError(t, err)
	defer pool.Close()

	pipeline := NewPipeline(fx.store, pool, fastRetryEngine(), bandwidth.New(0), fx.keys)
	workers := NewPool(fx.store, pipeline, PoolConfig{Workers: 3, MaxAttempts: 2, PollInterval: 10 * time.Millisecond})
	workers.Start(ctx)
	defer workers.Stop()

	require.Eventually(t, func() bool {
		counts, err := fx.store.CountUploadsByState(ctx)
		if err != nil {
			return false
		}
		return counts[models.QueueSucceeded] == 5 && counts[models.QueuePending] == 0 && counts[models.QueueInFlight] == 0
	}, 10*time.Second, 25*time.Millisecond)

	assert.Equal(t, 5, server.postCount())

	file, err := fx.store.GetFileByPath(ctx, fx.folder.ID, "payload.bin", 1)
	require.NoError(t, err)
	assert.Equal(t, models.FileUploaded, file.Status)
	assert.Equal(t, 3, file.UploadedSegments)

	segs, err := fx.store.ListSegmentsByFile(ctx, file.ID)
	require.NoError(t, err)
	for _, seg := range segs {
		assert.Equal(t, models.SegmentPosted, seg.State)
		msgs, err := fx.store.ListMessagesBySegment(ctx, seg.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Regexp(t, `^<[0-9a-f]{16}@ngPost\.com>$`, msgs[0].MessageID)
		assert.Len(t, msgs[0].UsenetSubject, 20)
		assert.Equal(t, "alt.binaries.test", msgs[0].Newsgroup)
	}

	t.Run("internal subject is recomputable", func(t *testing.T) {
		keys, err := fx.keys.LoadFolderKeys(ctx, fx.folder.ID)
		require.NoError(t, err)
		for _, seg := range segs {
			want := obfuscate.InternalSubject(fx.folder.ID, file.ID, seg.Index, keys.Private)
			assert.Equal(t, want, seg.InternalSubject)
		}
	})
}

func TestWorkerPoolAbandonsUnreachableServer(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 0)
	fx.write(t, "doomed.bin", randomBytes(t, 600))

	_, err := fx.indexer(0).IndexFolder(ctx, fx.folder.ID)
	require.NoError(t, err)

	// Port 1 refuses connections immediately.
	pool, err := nntp.NewPool(nntp.PoolConfig{
		Servers: []nntp.ServerConfig{{
			Host:           "127.0.0.1",
			Port:           1,
			PostingGroup:   "alt.binaries.test",
			MaxConnections: 1,
		}},
		AcquireTimeout:  500 * time.Millisecond,
		MonitorInterval: time.Hour,
	})
	require.NoError(t, err)
	defer pool.Close()

	pipeline := NewPipeline(fx.store, pool, fastRetryEngine(), bandwidth.New(0), fx.keys)
	workers := NewPool(fx.store, pipeline, PoolConfig{Workers: 1, MaxAttempts: 2, PollInterval: 10 * time.Millisecond})
	workers.Start(ctx)
	defer workers.Stop()

	require.Eventually(t, func() bool {
		counts, err := fx.store.CountUploadsByState(ctx)
		if err != nil {
			return false
		}
		return counts[models.QueueAbandoned] == 1
	}, 15*time.Second, 50*time.Millisecond)

	file, err := fx.store.GetFileByPath(ctx, fx.folder.ID, "doomed.bin", 1)
	require.NoError(t, err)
	assert.Equal(t, models.FileFailed, file.Status)
	assert.Equal(t, 1, file.FailedSegments)

	segs, err := fx.store.ListSegmentsByFile(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, models.SegmentAbandoned, segs[0].State)

	entries, err := fx.store.ListUploadEntries(ctx, models.QueueAbandoned)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].LastError)
}
