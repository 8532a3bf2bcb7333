// Package download fetches shared folders back off the network: it locates
// the share's index article, verifies the presented credentials, pulls the
// referenced segments concurrently, reconstructs anything redundancy can
// cover, and reassembles files under the destination with full integrity
// verification.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/access"
	"github.com/usenetsync/usenetsync/pkg/bandwidth"
	"github.com/usenetsync/usenetsync/pkg/crypto"
	"github.com/usenetsync/usenetsync/pkg/models"
	"github.com/usenetsync/usenetsync/pkg/nntp"
	"github.com/usenetsync/usenetsync/pkg/obfuscate"
	"github.com/usenetsync/usenetsync/pkg/retry"
	"github.com/usenetsync/usenetsync/pkg/shareindex"
	"github.com/usenetsync/usenetsync/pkg/store"
	"github.com/usenetsync/usenetsync/pkg/yenc"
)

// Config bounds one download job.
type Config struct {
	// Workers is the number of concurrent segment fetches per job, which
	// also bounds the per-share in-flight set.
	Workers int

	// WorkDir hosts the temporary segment spool at
	// <WorkDir>/tmp/<share>/<file>/<index>.
	WorkDir string
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.WorkDir == "" {
		c.WorkDir = os.TempDir()
	}
}

// Downloader executes download jobs from the durable download queue.
type Downloader struct {
	store  store.Store
	pool   *nntp.Pool
	retry  *retry.Engine
	shaper *bandwidth.Shaper
	config Config
}

// New wires a downloader.
func New(st store.Store, pool *nntp.Pool, eng *retry.Engine, shaper *bandwidth.Shaper, config Config) *Downloader {
	config.ApplyDefaults()
	return &Downloader{store: st, pool: pool, retry: eng, shaper: shaper, config: config}
}

// Download claims and runs one queued job to completion.
//
// Credential verification happens before any segment is fetched. Per-file
// failures do not abort sibling files; the job fails at the end if any file
// could not be completed. Cancellation returns the job to pending without
// counting the attempt.
func (d *Downloader) Download(ctx context.Context, jobID string, creds access.Credentials) error {
	entry, err := d.store.GetDownload(ctx, jobID)
	if err != nil {
		return err
	}
	if d.pool == nil {
		if ferr := d.store.FinishDownload(ctx, jobID, models.QueueFailed, nntp.ErrNoServers.Error()); ferr != nil {
			logger.Warn("failed to record download failure", logger.Err(ferr))
		}
		return nntp.ErrNoServers
	}
	if err := d.store.StartDownload(ctx, jobID); err != nil {
		return err
	}

	err = d.run(ctx, entry, creds)
	switch {
	case err == nil:
		if ferr := d.store.FinishDownload(ctx, jobID, models.QueueSucceeded, ""); ferr != nil {
			logger.Warn("failed to record download success", logger.Err(ferr))
		}
		logger.Info("download complete", logger.Share(entry.ShareID), logger.Path(entry.Destination))
		return nil
	case ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// The job context is gone; release the claim on a detached one.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := d.store.ReleaseDownload(rctx, jobID); rerr != nil {
			logger.Warn("failed to release download job", logger.Err(rerr))
		}
		return err
	default:
		if ferr := d.store.FinishDownload(ctx, jobID, models.QueueFailed, err.Error()); ferr != nil {
			logger.Warn("failed to record download failure", logger.Err(ferr))
		}
		return err
	}
}

func (d *Downloader) run(ctx context.Context, entry *models.DownloadQueueEntry, creds access.Credentials) error {
	doc, err := d.openIndex(ctx, entry.ShareID, creds)
	if err != nil {
		return err
	}

	total := 0
	for i := range doc.Files {
		total += doc.Files[i].SegmentCount
	}
	if err := d.store.SetDownloadTotals(ctx, entry.ID, total); err != nil {
		logger.Warn("failed to record download totals", logger.Err(err))
	}

	spool := filepath.Join(d.config.WorkDir, "tmp", entry.ShareID)
	defer os.RemoveAll(spool)

	var failed []string
	for i := range doc.Files {
		f := &doc.Files[i]
		if err := d.fetchFile(ctx, entry, doc, f, spool); err != nil {
			if ctx.Err() != nil {
				return err
			}
			logger.Warn("file download failed",
				logger.Share(entry.ShareID), logger.Path(f.RelativePath), logger.Err(err))
			failed = append(failed, f.RelativePath)
			d.progress(entry.ID, 0, 0, 1, 0)
			continue
		}
		d.progress(entry.ID, 0, 1, 0, 0)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d files failed: %s",
			len(failed), len(doc.Files), strings.Join(failed, ", "))
	}
	if len(doc.Files) == 0 {
		return nil
	}

	hashes := make([]string, len(doc.Files))
	for i := range doc.Files {
		hashes[i] = doc.Files[i].Hash
	}
	root, err := crypto.MerkleRoot(hashes)
	if err != nil {
		return err
	}
	if root != doc.MerkleRoot {
		return fmt.Errorf("%w: share %s", models.ErrMerkleMismatch, entry.ShareID)
	}
	return nil
}

// openIndex produces the decrypted index document, preferring the local
// publication record and falling back to the lookup article derived from
// the share identifier. Either way the presented credentials go through the
// same verification path.
func (d *Downloader) openIndex(ctx context.Context, shareID string, creds access.Credentials) (*shareindex.Document, error) {
	now := time.Now()

	pub, err := d.store.GetPublication(ctx, shareID)
	if err == nil && len(pub.EncryptedIndex) > 0 {
		key, err := access.Open(pub, creds, now)
		if err != nil {
			return nil, err
		}
		return shareindex.OpenDocument(pub.EncryptedIndex, pub.IndexNonce, key, shareID)
	}
	if err != nil && !errors.Is(err, models.ErrShareNotFound) {
		return nil, err
	}

	body, err := d.fetchIndexBody(ctx, shareID)
	if err != nil {
		return nil, fmt.Errorf("failed to locate index article for share %s: %w", shareID, err)
	}
	part, err := yenc.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	env, err := shareindex.DecodeEnvelope(part.Data)
	if err != nil {
		return nil, err
	}
	if env.ShareID != shareID {
		return nil, fmt.Errorf("index article is for share %s, expected %s", env.ShareID, shareID)
	}

	key, err := access.Open(env.Publication(), creds, now)
	if err != nil {
		return nil, err
	}
	return shareindex.OpenDocument(env.Sealed, env.Nonce, key, shareID)
}

// maxIndexGenerations bounds the lookup chain walk.
const maxIndexGenerations = 256

// fetchIndexBody walks the share's index lookup chain and returns the
// newest article's body. Each re-publication posts under the next
// generation's deterministic identifier; the first missing generation
// ends the chain.
func (d *Downloader) fetchIndexBody(ctx context.Context, shareID string) ([]byte, error) {
	var body []byte
	for gen := 0; gen < maxIndexGenerations; gen++ {
		b, err := d.fetchBody(ctx, "fetch index", obfuscate.LookupMessageID(shareID, gen))
		if err != nil {
			if gen > 0 && isNotFound(err) {
				break
			}
			return nil, err
		}
		body = b
	}
	return body, nil
}

// fetchBody retrieves one article body through the pool under the retry
// engine. A 430 is not retried; the caller decides whether another message
// identifier or a parity segment can stand in.
func (d *Downloader) fetchBody(ctx context.Context, op, messageID string) ([]byte, error) {
	var body []byte
	err := d.retry.Do(ctx, op, func(ctx context.Context) error {
		conn, err := d.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		started := time.Now()
		data, err := conn.Body(ctx, messageID)
		d.pool.Release(conn, err == nil || isNotFound(err), time.Since(started), int64(len(data)))
		if err != nil {
			return err
		}
		body = data
		return nil
	})
	return body, err
}

func isNotFound(err error) bool {
	ne, ok := nntp.AsError(err)
	return ok && ne.IsNotFound()
}

func (d *Downloader) progress(jobID string, fetched, verified, failed, parity int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.store.UpdateDownloadProgress(ctx, jobID, fetched, verified, failed, parity); err != nil {
		logger.Warn("failed to record download progress", logger.Err(err))
	}
}
