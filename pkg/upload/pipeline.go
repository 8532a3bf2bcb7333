package upload

import (
	"bytes"
	"compress/flate"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/usenetsync/usenetsync/pkg/bandwidth"
	"github.com/usenetsync/usenetsync/pkg/bufpool"
	"github.com/usenetsync/usenetsync/pkg/crypto"
	"github.com/usenetsync/usenetsync/pkg/models"
	"github.com/usenetsync/usenetsync/pkg/nntp"
	"github.com/usenetsync/usenetsync/pkg/obfuscate"
	"github.com/usenetsync/usenetsync/pkg/redundancy"
	"github.com/usenetsync/usenetsync/pkg/retry"
	"github.com/usenetsync/usenetsync/pkg/segment"
	"github.com/usenetsync/usenetsync/pkg/shareindex"
	"github.com/usenetsync/usenetsync/pkg/store"
	"github.com/usenetsync/usenetsync/pkg/yenc"
)

const (
	// Compression is skipped when a sampled prefix compresses worse than
	// this ratio; already-compressed media dominates typical payloads.
	compressSkipRatio = 0.95
	compressSampleLen = 4096

	// versionHeader tags posted articles without identifying content.
	versionHeader = "usenetsync/1"

	fromHeader = "poster <poster@nowhere.invalid>"
)

// Pipeline turns one claimed queue entry into a posted article: load,
// compress, encrypt, yEnc, POST, record.
type Pipeline struct {
	store  store.Store
	pool   *nntp.Pool
	retry  *retry.Engine
	shaper *bandwidth.Shaper
	keys   folderKeyLoader
}

// folderKeyLoader is the slice of the access manager the pipeline needs.
type folderKeyLoader interface {
	LoadFolderKeys(ctx context.Context, folderID string) (*crypto.KeyPair, error)
}

// NewPipeline wires the pipeline's collaborators.
func NewPipeline(st store.Store, pool *nntp.Pool, eng *retry.Engine, shaper *bandwidth.Shaper, keys folderKeyLoader) *Pipeline {
	return &Pipeline{store: st, pool: pool, retry: eng, shaper: shaper, keys: keys}
}

// Post dispatches one queue entry by entity type.
func (p *Pipeline) Post(ctx context.Context, entry *models.UploadQueueEntry) error {
	switch entry.EntityType {
	case models.EntitySegment:
		return p.postSegment(ctx, entry)
	case models.EntityIndex:
		return p.postIndex(ctx, entry)
	default:
		return fmt.Errorf("unknown upload entity type: %s", entry.EntityType)
	}
}

func (p *Pipeline) postSegment(ctx context.Context, entry *models.UploadQueueEntry) error {
	seg, err := p.store.GetSegment(ctx, entry.EntityID)
	if err != nil {
		return err
	}
	file, err := p.store.GetFile(ctx, seg.FileID)
	if err != nil {
		return err
	}
	folder, err := p.store.GetFolder(ctx, file.FolderID)
	if err != nil {
		return err
	}
	folderKeys, err := p.keys.LoadFolderKeys(ctx, folder.ID)
	if err != nil {
		return err
	}

	if err := p.shaper.WaitN(ctx, int(seg.Size)); err != nil {
		return err
	}
	plaintext, err := p.loadSegmentData(ctx, folder, file, seg)
	if err != nil {
		return err
	}
	defer bufpool.Put(plaintext)
	if got := crypto.HashBytes(plaintext); got != seg.Hash {
		return fmt.Errorf("%w: segment %s content changed on disk", models.ErrIntegrity, seg.ID)
	}

	payload, compressed := maybeCompress(plaintext)

	key, err := contentKey(folderKeys.Private, folder.ID, file)
	if err != nil {
		return err
	}
	nonce, err := crypto.NewNonce()
	if err != nil {
		return err
	}
	sealed, err := crypto.Encrypt(key, nonce, payload, []byte(seg.InternalSubject))
	if err != nil {
		return err
	}
	if err := p.store.UpdateSegmentCrypto(ctx, seg.ID, compressed, int64(len(payload)), nonce); err != nil {
		return err
	}

	totalParts := file.SegmentCount
	if folder.RedundancyLevel > 0 && totalParts > 0 {
		totalParts += folder.RedundancyLevel
	}
	body, err := yenc.EncodeToString(&yenc.Part{
		Name:  articleFilename(folder, file, folderKeys.Private),
		Part:  seg.Index + 1,
		Total: totalParts,
		Size:  int64(len(sealed)),
		Begin: 1,
		End:   int64(len(sealed)),
		Data:  sealed,
	})
	if err != nil {
		return err
	}

	random20, err := obfuscate.UsenetSubject()
	if err != nil {
		return err
	}
	subject := obfuscate.ArticleSubject(seg.Index+1, totalParts,
		random20, articleFilename(folder, file, folderKeys.Private), seg.Hash[:8])
	messageID, err := obfuscate.MessageID()
	if err != nil {
		return err
	}

	server, size, err := p.postArticle(ctx, "post segment", subject, messageID, body)
	if err != nil {
		return err
	}

	return p.store.RecordMessage(ctx, &models.Message{
		SegmentID:     seg.ID,
		Server:        server,
		MessageID:     messageID,
		UsenetSubject: random20,
		Newsgroup:     p.newsgroup(server),
		PostedAt:      time.Now().UTC(),
		Size:          size,
	})
}

// postIndex posts a share's index article and caches the article
// message-id on the publication row. The article body is the cleartext
// envelope wrapped around the sealed index, so recipients holding only the
// share identifier can reconstruct the access parameters.
func (p *Pipeline) postIndex(ctx context.Context, entry *models.UploadQueueEntry) error {
	pub, err := p.store.GetPublication(ctx, entry.EntityID)
	if err != nil {
		return err
	}
	if len(pub.EncryptedIndex) == 0 {
		return fmt.Errorf("share %s has no index payload", pub.ShareID)
	}

	envData, err := shareindex.NewEnvelope(pub).Encode()
	if err != nil {
		return err
	}
	if err := p.shaper.WaitN(ctx, len(envData)); err != nil {
		return err
	}

	body, err := yenc.EncodeToString(&yenc.Part{
		Name:  pub.ShareID,
		Part:  1,
		Total: 1,
		Size:  int64(len(envData)),
		Begin: 1,
		End:   int64(len(envData)),
		Data:  envData,
	})
	if err != nil {
		return err
	}

	// The index article's message-id is deterministic in the share id and
	// the current generation, so a recipient holding only the identifier
	// can walk the chain to the newest article.
	messageID := obfuscate.LookupMessageID(pub.ShareID, pub.IndexGeneration)
	random20, err := obfuscate.UsenetSubject()
	if err != nil {
		return err
	}
	subject := obfuscate.ArticleSubject(1, 1, random20, pub.ShareID, pub.ShareID[:8])

	if _, _, err := p.postArticle(ctx, "post index", subject, messageID, body); err != nil {
		return err
	}
	return p.store.SetPublicationIndexMessageID(ctx, pub.ShareID, messageID)
}

// postArticle runs one POST through the pool under the retry engine.
// Returns the host that accepted the article and the encoded size.
func (p *Pipeline) postArticle(ctx context.Context, op, subject, messageID, body string) (string, int64, error) {
	var host string
	size := int64(len(body))

	err := p.retry.Do(ctx, op, func(ctx context.Context) error {
		conn, err := p.pool.Acquire(ctx)
		if err != nil {
			return err
		}

		started := time.Now()
		article := &nntp.Article{
			Headers: map[string]string{
				"From":                 fromHeader,
				"Newsgroups":           conn.Server().PostingGroup,
				"Subject":              subject,
				"Message-ID":           messageID,
				"Date":                 time.Now().UTC().Format(time.RFC1123Z),
				"X-Usenetsync-Version": versionHeader,
			},
			Body: []byte(body),
		}
		err = conn.Post(ctx, article)
		p.pool.Release(conn, err == nil, time.Since(started), size)
		if err != nil {
			return err
		}
		host = conn.Server().Host
		return nil
	})
	return host, size, err
}

func (p *Pipeline) newsgroup(host string) string {
	for _, srv := range p.pool.Servers() {
		if srv.Host == host {
			return srv.PostingGroup
		}
	}
	return ""
}

// loadSegmentData reads a primary segment's bytes from the source file, or
// recomputes a parity shard by re-encoding the primary set. Parity bytes
// are never persisted; Reed-Solomon encoding is deterministic, so the
// stored primary extents reproduce the shard exactly.
func (p *Pipeline) loadSegmentData(ctx context.Context, folder *models.Folder, file *models.File, seg *models.Segment) ([]byte, error) {
	path := filepath.Join(folder.Path, filepath.FromSlash(file.RelativePath))
	if seg.RedundancyIndex == 0 {
		return segment.ReadAt(path, seg.OffsetStart, seg.Size)
	}

	all, err := p.store.ListSegmentsByFile(ctx, seg.FileID)
	if err != nil {
		return nil, err
	}
	var shards [][]byte
	for _, s := range all {
		if s.RedundancyIndex != 0 {
			continue
		}
		data, err := segment.ReadAt(path, s.OffsetStart, s.Size)
		if err != nil {
			return nil, err
		}
		shards = append(shards, data)
	}

	enc, err := redundancy.New(len(shards), folder.RedundancyLevel)
	if err != nil {
		return nil, err
	}
	parity, err := enc.Encode(shards)
	for _, s := range shards {
		bufpool.Put(s)
	}
	if err != nil {
		return nil, err
	}
	if seg.RedundancyIndex > len(parity) {
		return nil, fmt.Errorf("parity index %d out of range for file %s", seg.RedundancyIndex, file.ID)
	}
	return parity[seg.RedundancyIndex-1], nil
}

// maybeCompress deflates the payload unless a sampled prefix shows the
// content is effectively incompressible.
func maybeCompress(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return data, false
	}

	sample := data
	if len(sample) > compressSampleLen {
		sample = sample[:compressSampleLen]
	}
	if ratio := deflateRatio(sample); ratio > compressSkipRatio {
		return data, false
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return data, false
	}
	if _, err := w.Write(data); err != nil {
		return data, false
	}
	if err := w.Close(); err != nil {
		return data, false
	}
	if buf.Len() >= len(data) {
		return data, false
	}
	return buf.Bytes(), true
}

func deflateRatio(sample []byte) float64 {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	if err != nil {
		return 1
	}
	if _, err := w.Write(sample); err != nil {
		return 1
	}
	if err := w.Close(); err != nil {
		return 1
	}
	return float64(buf.Len()) / float64(len(sample))
}

// contentKey derives the AEAD key sealing a file's segments: the per-file
// key when one exists, the folder-derived key otherwise.
func contentKey(folderPriv []byte, folderID string, file *models.File) ([]byte, error) {
	folderKey, err := crypto.DeriveShareKey(folderPriv, []byte(folderID), crypto.SegmentKeyInfo)
	if err != nil {
		return nil, err
	}
	if len(file.EncKey) == 0 {
		return folderKey, nil
	}
	return crypto.Decrypt(folderKey, file.KeyNonce, file.EncKey, []byte(file.ID))
}

// articleFilename is the name embedded in subjects and yEnc headers.
// Public folders may expose the real base name; every other mode uses an
// obfuscated token.
func articleFilename(folder *models.Folder, file *models.File, priv []byte) string {
	if folder.AccessMode == models.AccessPublic {
		return filepath.Base(file.RelativePath)
	}
	return obfuscate.ObfuscatedFilename(file.ID, priv)
}
