// Package upload implements the publish half of the content pipeline: the
// folder indexer that turns a directory tree into versioned file and
// segment rows, and the durable worker pool that posts those segments as
// obfuscated yEnc articles.
package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/usenetsync/usenetsync/internal/folderlock"
	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/access"
	"github.com/usenetsync/usenetsync/pkg/crypto"
	"github.com/usenetsync/usenetsync/pkg/models"
	"github.com/usenetsync/usenetsync/pkg/obfuscate"
	"github.com/usenetsync/usenetsync/pkg/redundancy"
	"github.com/usenetsync/usenetsync/pkg/scanner"
	"github.com/usenetsync/usenetsync/pkg/segment"
	"github.com/usenetsync/usenetsync/pkg/store"
)

// Queue priorities. Primaries post before parity so a share becomes
// reconstructible as early as possible.
const (
	PrioritySegment = 10
	PriorityParity  = 5
	PriorityIndex   = 20
)

// IndexerConfig bounds one index run.
type IndexerConfig struct {
	ScanWorkers   int
	SegmentSize   int64
	HighWaterMark int // pending upload entries before ingestion blocks; 0 = unlimited
}

// ApplyDefaults fills in missing configuration with default values.
func (c *IndexerConfig) ApplyDefaults() {
	if c.ScanWorkers <= 0 {
		c.ScanWorkers = 4
	}
	if c.SegmentSize <= 0 {
		c.SegmentSize = segment.DefaultSize
	}
}

// Indexer runs the scan -> hash -> segment -> redundancy -> enqueue path
// for one folder at a time. Concurrent runs on the same folder fail fast
// with models.ErrFolderBusy through the shared lock set.
type Indexer struct {
	store  store.Store
	keys   *access.Manager
	locks  *folderlock.Set
	config IndexerConfig
}

// NewIndexer creates an indexer over the shared store, key manager and
// folder lock set.
func NewIndexer(st store.Store, keys *access.Manager, locks *folderlock.Set, config IndexerConfig) *Indexer {
	config.ApplyDefaults()
	return &Indexer{store: st, keys: keys, locks: locks, config: config}
}

// IndexFolder snapshots a folder into the next version: scans the tree,
// classifies changes against the previous version, writes file and segment
// rows, records the version with its Merkle root and change journal, and
// enqueues upload work for everything not carried forward.
//
// Files whose content is unchanged and already uploaded carry their posted
// articles forward into the new version; nothing is re-posted for them.
func (ix *Indexer) IndexFolder(ctx context.Context, folderID string) (*models.FolderVersion, error) {
	if err := ix.locks.Acquire(folderID); err != nil {
		return nil, err
	}
	defer ix.locks.Release(folderID)

	folder, err := ix.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if folder.Status == models.FolderArchived {
		return nil, models.ErrFolderArchived
	}

	folderKeys, err := ix.folderKeys(ctx, folder)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	cur, err := scanner.New(ix.config.ScanWorkers).ScanAll(ctx, folder.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", folder.Path, err)
	}

	prevFiles, err := ix.previousFiles(ctx, folder)
	if err != nil {
		return nil, err
	}
	changes, summary := scanner.DetectChanges(fileInfos(prevFiles), cur)
	prevByPath := make(map[string]*models.File, len(prevFiles))
	for _, f := range prevFiles {
		prevByPath[f.RelativePath] = f
	}

	version := folder.Version + 1
	var totalSize int64
	hashes := make([]string, 0, len(cur))

	// Build all rows first, insert in bulk, then enqueue. Bulk inserts keep
	// write transactions short; workers never see half-indexed files
	// because queue entries go in last.
	var files []*models.File
	var segments []*models.Segment
	var carried []carryForward
	var toQueue []*models.Segment

	for i := range cur {
		info := cur[i]
		hashes = append(hashes, info.Hash)
		totalSize += info.Size

		prev := prevByPath[info.RelativePath]
		file := &models.File{
			ID:           uuid.NewString(),
			FolderID:     folder.ID,
			RelativePath: info.RelativePath,
			Version:      version,
			Size:         info.Size,
			Hash:         info.Hash,
			MimeType:     info.MimeType,
			Status:       models.FileIndexed,
		}
		if prev != nil {
			id := prev.ID
			file.PrevVersionID = &id
		}

		if prev != nil && prev.Hash == info.Hash && fileCarriable(prev) {
			cf, err := ix.carrySegments(ctx, folder, file, prev, folderKeys.Private)
			if err != nil {
				return nil, err
			}
			file.Status = prev.Status
			file.SegmentCount = prev.SegmentCount
			file.UploadedSegments = prev.UploadedSegments
			file.FailedSegments = prev.FailedSegments
			files = append(files, file)
			segments = append(segments, cf.segments...)
			carried = append(carried, cf)
			continue
		}

		segs, err := ix.segmentFile(folder, file, info, folderKeys.Private)
		if err != nil {
			return nil, err
		}
		file.SegmentCount = countPrimaries(segs)
		files = append(files, file)
		segments = append(segments, segs...)
		toQueue = append(toQueue, segs...)
	}

	if err := ix.store.CreateFiles(ctx, files); err != nil {
		return nil, err
	}
	if err := ix.store.CreateSegments(ctx, segments); err != nil {
		return nil, err
	}
	for _, cf := range carried {
		if err := cf.record(ctx, ix.store); err != nil {
			return nil, err
		}
	}
	if err := ix.enqueue(ctx, folder.ID, toQueue); err != nil {
		return nil, err
	}

	root, err := crypto.MerkleRoot(hashes)
	if err != nil {
		return nil, err
	}
	fv := &models.FolderVersion{
		FolderID:   folder.ID,
		Version:    version,
		Added:      summary.Added,
		Modified:   summary.Modified,
		Deleted:    summary.Deleted,
		Unchanged:  summary.Unchanged,
		FileCount:  int64(len(files)),
		TotalSize:  totalSize,
		MerkleRoot: root,
	}
	if err := ix.store.CreateFolderVersion(ctx, fv); err != nil {
		return nil, err
	}
	if err := ix.journal(ctx, folder.ID, version, changes); err != nil {
		return nil, err
	}
	if err := ix.store.UpdateFolderStats(ctx, folder.ID, version, fv.FileCount, fv.TotalSize); err != nil {
		return nil, err
	}

	logger.Info("folder indexed",
		logger.Folder(folder.ID),
		logger.Version(version),
		logger.DurationMs(float64(time.Since(started).Milliseconds())),
		logger.Size(totalSize))
	return fv, nil
}

// folderKeys generates the folder keypair on first index, loads it after.
func (ix *Indexer) folderKeys(ctx context.Context, folder *models.Folder) (*crypto.KeyPair, error) {
	if folder.Version == 0 && len(folder.EncryptedPrivateKey) == 0 {
		return ix.keys.GenerateFolderKeys(ctx, folder.ID)
	}
	return ix.keys.LoadFolderKeys(ctx, folder.ID)
}

func (ix *Indexer) previousFiles(ctx context.Context, folder *models.Folder) ([]*models.File, error) {
	if folder.Version == 0 {
		return nil, nil
	}
	return ix.store.ListFiles(ctx, folder.ID, folder.Version)
}

// segmentFile splits one file into primary segments and, when the folder
// carries a redundancy level, Reed-Solomon parity over the primary set.
// Parity rows continue the index sequence after the primaries so internal
// subjects stay unique; parity bytes are recomputed at post time.
func (ix *Indexer) segmentFile(folder *models.Folder, file *models.File, info scanner.FileInfo, priv []byte) ([]*models.Segment, error) {
	f, err := os.Open(filepath.Join(folder.Path, filepath.FromSlash(info.RelativePath)))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", info.RelativePath, err)
	}
	defer f.Close()

	parts, err := segment.Split(f, ix.config.SegmentSize)
	if err != nil {
		return nil, fmt.Errorf("failed to segment %s: %w", info.RelativePath, err)
	}
	if len(parts) == 0 {
		return nil, nil // empty file, zero segments
	}

	rows := make([]*models.Segment, 0, len(parts)+folder.RedundancyLevel)
	shards := make([][]byte, 0, len(parts))
	for _, p := range parts {
		rows = append(rows, &models.Segment{
			ID:              uuid.NewString(),
			FileID:          file.ID,
			Index:           p.Index,
			OffsetStart:     p.OffsetStart,
			OffsetEnd:       p.OffsetEnd,
			Size:            p.Size,
			Hash:            p.Hash,
			InternalSubject: obfuscate.InternalSubject(folder.ID, file.ID, p.Index, priv),
			State:           models.SegmentQueued,
		})
		shards = append(shards, p.Data)
	}

	if folder.RedundancyLevel > 0 {
		enc, err := redundancy.New(len(parts), folder.RedundancyLevel)
		if err != nil {
			return nil, err
		}
		parity, err := enc.Encode(shards)
		if err != nil {
			return nil, fmt.Errorf("failed to encode parity for %s: %w", info.RelativePath, err)
		}
		for j, shard := range parity {
			idx := len(parts) + j
			rows = append(rows, &models.Segment{
				ID:              uuid.NewString(),
				FileID:          file.ID,
				Index:           idx,
				RedundancyIndex: j + 1,
				OffsetStart:     0,
				OffsetEnd:       int64(len(shard)),
				Size:            int64(len(shard)),
				Hash:            crypto.HashBytes(shard),
				InternalSubject: obfuscate.InternalSubject(folder.ID, file.ID, idx, priv),
				State:           models.SegmentQueued,
			})
		}
	}
	return rows, nil
}

// carryForward holds the new segment rows of an unchanged file plus the
// message copies binding them to the articles already on the network.
type carryForward struct {
	segments []*models.Segment
	messages []*models.Message
}

func (cf carryForward) record(ctx context.Context, st store.Store) error {
	for _, msg := range cf.messages {
		if err := st.RecordMessage(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// carrySegments clones the previous version's segment rows for an
// unchanged file. Internal subjects are recomputed against the new file
// identifier; the message records keep pointing at the already-posted
// articles, so the new version re-posts nothing.
func (ix *Indexer) carrySegments(ctx context.Context, folder *models.Folder, file *models.File, prev *models.File, priv []byte) (carryForward, error) {
	prevSegs, err := ix.store.ListSegmentsByFile(ctx, prev.ID)
	if err != nil {
		return carryForward{}, err
	}

	var cf carryForward
	for _, ps := range prevSegs {
		ns := &models.Segment{
			ID:              uuid.NewString(),
			FileID:          file.ID,
			Index:           ps.Index,
			RedundancyIndex: ps.RedundancyIndex,
			OffsetStart:     ps.OffsetStart,
			OffsetEnd:       ps.OffsetEnd,
			Size:            ps.Size,
			CompressedSize:  ps.CompressedSize,
			Compressed:      ps.Compressed,
			Hash:            ps.Hash,
			InternalSubject: obfuscate.InternalSubject(folder.ID, file.ID, ps.Index, priv),
			Nonce:           ps.Nonce,
			State:           ps.State,
		}
		cf.segments = append(cf.segments, ns)

		msgs, err := ix.store.ListMessagesBySegment(ctx, ps.ID)
		if err != nil {
			return carryForward{}, err
		}
		for _, m := range msgs {
			cf.messages = append(cf.messages, &models.Message{
				SegmentID:     ns.ID,
				Server:        m.Server,
				MessageID:     m.MessageID,
				UsenetSubject: m.UsenetSubject,
				Newsgroup:     m.Newsgroup,
				PostedAt:      m.PostedAt,
				Size:          m.Size,
			})
		}
	}
	return cf, nil
}

// enqueue appends one durable entry per segment, blocking on the queue
// high-water mark so ingestion cannot outrun the workers unboundedly.
func (ix *Indexer) enqueue(ctx context.Context, folderID string, segments []*models.Segment) error {
	for _, seg := range segments {
		if err := ix.waitHeadroom(ctx); err != nil {
			return err
		}
		priority := PrioritySegment
		if seg.RedundancyIndex > 0 {
			priority = PriorityParity
		}
		entry := &models.UploadQueueEntry{
			EntityType: models.EntitySegment,
			EntityID:   seg.ID,
			FolderID:   folderID,
			Priority:   priority,
		}
		if err := ix.store.EnqueueUpload(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Indexer) waitHeadroom(ctx context.Context) error {
	if ix.config.HighWaterMark <= 0 {
		return nil
	}
	for {
		counts, err := ix.store.CountUploadsByState(ctx)
		if err != nil {
			return err
		}
		if counts[models.QueuePending] < int64(ix.config.HighWaterMark) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (ix *Indexer) journal(ctx context.Context, folderID string, version int, changes []scanner.Change) error {
	var entries []*models.ChangeJournalEntry
	for _, ch := range changes {
		if ch.Kind == models.ChangeUnchanged {
			continue
		}
		entries = append(entries, &models.ChangeJournalEntry{
			FolderID: folderID,
			Version:  version,
			Path:     ch.RelativePath,
			Kind:     ch.Kind,
			OldHash:  ch.OldHash,
			NewHash:  ch.NewHash,
		})
	}
	if len(entries) == 0 {
		return nil
	}
	return ix.store.AppendChangeJournal(ctx, entries)
}

func fileInfos(files []*models.File) []scanner.FileInfo {
	infos := make([]scanner.FileInfo, 0, len(files))
	for _, f := range files {
		infos = append(infos, scanner.FileInfo{
			RelativePath: f.RelativePath,
			Size:         f.Size,
			Hash:         f.Hash,
			MimeType:     f.MimeType,
		})
	}
	return infos
}

func fileCarriable(f *models.File) bool {
	return f.Status == models.FileUploaded || f.Status == models.FileUploadedPartial
}

func countPrimaries(segs []*models.Segment) int {
	n := 0
	for _, s := range segs {
		if s.RedundancyIndex == 0 {
			n++
		}
	}
	return n
}
