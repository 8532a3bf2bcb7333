package store

import (
	"context"
	"time"

	"github.com/usenetsync/usenetsync/pkg/models"
)

// Store is the persistence interface for the engine.
//
// Thread safety: implementations must be safe for concurrent use from
// multiple workers. Writes are serialized by the backend; readers see a
// consistent snapshot under WAL. Methods returning a single record surface
// the entity's not-found sentinel from pkg/models.
type Store interface {
	// ============================================
	// USERS
	// ============================================

	// CreateUser creates the local principal.
	// Returns models.ErrDuplicateUser if the ID is already present.
	CreateUser(ctx context.Context, user *models.User) error

	// GetUser returns a user by its 64-hex identifier.
	GetUser(ctx context.Context, id string) (*models.User, error)

	// ListUsers returns all users.
	ListUsers(ctx context.Context) ([]*models.User, error)

	// FirstUser returns the installation's primary user, created on init.
	FirstUser(ctx context.Context) (*models.User, error)

	// UpdateAPIKeyHash replaces the stored API key hash for a user.
	UpdateAPIKeyHash(ctx context.Context, id, hash string) error

	// ============================================
	// FOLDERS
	// ============================================

	// CreateFolder registers a managed folder.
	// Returns models.ErrDuplicateFolder when the path is already managed.
	CreateFolder(ctx context.Context, folder *models.Folder) error

	// GetFolder returns a folder by identifier.
	GetFolder(ctx context.Context, id string) (*models.Folder, error)

	// GetFolderByPath returns a folder by filesystem path.
	GetFolderByPath(ctx context.Context, path string) (*models.Folder, error)

	// ListFolders returns all managed folders.
	ListFolders(ctx context.Context) ([]*models.Folder, error)

	// DeleteFolder removes a folder and everything owned by it.
	DeleteFolder(ctx context.Context, id string) error

	// UpdateFolderStats records the outcome of an index run and clears the
	// dirty flag.
	UpdateFolderStats(ctx context.Context, id string, version int, fileCount, totalSize int64) error

	// SetFolderDirty flags on-disk changes since the last index.
	SetFolderDirty(ctx context.Context, id string, dirty bool) error

	// SaveFolderKeys persists folder key material exactly once.
	// Returns models.ErrConstraintViolation when keys already exist.
	SaveFolderKeys(ctx context.Context, id string, publicKey, encryptedPrivate, nonce []byte) error

	// AddAuthorizedUser grants a recipient access to a private folder.
	AddAuthorizedUser(ctx context.Context, au *models.AuthorizedUser) error

	// RemoveAuthorizedUser revokes a recipient.
	// Returns models.ErrNotAuthorized when no grant existed.
	RemoveAuthorizedUser(ctx context.Context, folderID, userID string) error

	// ListAuthorizedUsers returns a folder's recipients.
	ListAuthorizedUsers(ctx context.Context, folderID string) ([]*models.AuthorizedUser, error)

	// StreamFolders iterates folders in batches of chunk rows.
	StreamFolders(ctx context.Context, chunk int, fn func(batch []*models.Folder) error) error

	// ============================================
	// FILES
	// ============================================

	// CreateFile inserts one file row.
	CreateFile(ctx context.Context, file *models.File) error

	// CreateFiles inserts file rows in chunks.
	CreateFiles(ctx context.Context, files []*models.File) error

	// GetFile returns a file by identifier.
	GetFile(ctx context.Context, id string) (*models.File, error)

	// GetFileByPath returns a file by its (folder, path, version) triple.
	GetFileByPath(ctx context.Context, folderID, relativePath string, version int) (*models.File, error)

	// ListFiles returns one folder version's files in relative-path order.
	ListFiles(ctx context.Context, folderID string, version int) ([]*models.File, error)

	// UpdateFileStatus sets a file's lifecycle status.
	UpdateFileStatus(ctx context.Context, id string, status models.FileStatus) error

	// BumpFileSegmentCounters adjusts upload counters and derives status.
	BumpFileSegmentCounters(ctx context.Context, id string, uploadedDelta, failedDelta int) error

	// ============================================
	// SEGMENTS & MESSAGES
	// ============================================

	// CreateSegments inserts segment rows in chunks.
	CreateSegments(ctx context.Context, segments []*models.Segment) error

	// GetSegment returns a segment by identifier.
	GetSegment(ctx context.Context, id string) (*models.Segment, error)

	// ListSegmentsByFile returns a file's segments, primaries before parity.
	ListSegmentsByFile(ctx context.Context, fileID string) ([]*models.Segment, error)

	// UpdateSegmentState sets a segment's pipeline state.
	UpdateSegmentState(ctx context.Context, id string, state models.SegmentState) error

	// UpdateSegmentCrypto records the compress+encrypt stage outcome.
	UpdateSegmentCrypto(ctx context.Context, id string, compressed bool, compressedSize int64, nonce []byte) error

	// CountPendingSegments counts segments of a folder version not yet
	// posted. The publish barrier waits on zero.
	CountPendingSegments(ctx context.Context, folderID string, version int) (int64, error)

	// StreamSegments iterates a folder version's segments in batches.
	StreamSegments(ctx context.Context, folderID string, version, chunk int, fn func(batch []*models.Segment) error) error

	// RecordMessage stores a posted article and flips the segment to posted.
	RecordMessage(ctx context.Context, msg *models.Message) error

	// ListMessagesBySegment returns a segment's posted articles.
	ListMessagesBySegment(ctx context.Context, segmentID string) ([]*models.Message, error)

	// ============================================
	// PUBLICATIONS (SHARES)
	// ============================================

	// CreatePublication records a new share.
	// Returns models.ErrDuplicateShare on identifier collision.
	CreatePublication(ctx context.Context, pub *models.Publication) error

	// GetPublication returns a share with its commitments preloaded.
	GetPublication(ctx context.Context, shareID string) (*models.Publication, error)

	// ListPublications returns all shares.
	ListPublications(ctx context.Context) ([]*models.Publication, error)

	// ListPublicationsByFolder returns a folder's shares.
	ListPublicationsByFolder(ctx context.Context, folderID string) ([]*models.Publication, error)

	// UpdatePublicationStatus sets a share's lifecycle status.
	UpdatePublicationStatus(ctx context.Context, shareID string, status models.ShareStatus) error

	// BumpIndexGeneration advances the share's index lookup generation
	// and returns the new value.
	BumpIndexGeneration(ctx context.Context, shareID string) (int, error)

	// SetPublicationIndexMessageID caches a posted index article's
	// message identifier on the share row.
	SetPublicationIndexMessageID(ctx context.Context, shareID, messageID string) error

	// ExtendPublication moves a share's expiry forward.
	ExtendPublication(ctx context.Context, shareID string, expiresAt time.Time) error

	// RecordAccess bumps a share's access counters.
	RecordAccess(ctx context.Context, shareID, userID string) error

	// ExpirePublications flips past-expiry active shares to expired.
	ExpirePublications(ctx context.Context, now time.Time) (int64, error)

	// ReplaceCommitments swaps a private share's commitment list atomically.
	ReplaceCommitments(ctx context.Context, shareID string, commitments []*models.AccessCommitment) error

	// ListCommitments returns a share's commitments.
	ListCommitments(ctx context.Context, shareID string) ([]*models.AccessCommitment, error)

	// GetCommitmentByUserHash finds a commitment by salted user hash.
	// Returns models.ErrNotAuthorized when absent.
	GetCommitmentByUserHash(ctx context.Context, shareID, userIDHash string) (*models.AccessCommitment, error)

	// ============================================
	// VERSIONS & CHANGE JOURNAL
	// ============================================

	// CreateFolderVersion records one immutable index run.
	CreateFolderVersion(ctx context.Context, v *models.FolderVersion) error

	// GetFolderVersion returns one version record.
	GetFolderVersion(ctx context.Context, folderID string, version int) (*models.FolderVersion, error)

	// ListFolderVersions returns a folder's versions in order.
	ListFolderVersions(ctx context.Context, folderID string) ([]*models.FolderVersion, error)

	// AppendChangeJournal records classified changes of one index run.
	AppendChangeJournal(ctx context.Context, entries []*models.ChangeJournalEntry) error

	// ListChangeJournal returns the journal of one version.
	ListChangeJournal(ctx context.Context, folderID string, version int) ([]*models.ChangeJournalEntry, error)

	// ============================================
	// TRANSFER QUEUES
	// ============================================

	// EnqueueUpload appends a durable upload entry.
	EnqueueUpload(ctx context.Context, entry *models.UploadQueueEntry) error

	// GetUploadEntry returns one upload entry.
	GetUploadEntry(ctx context.Context, id string) (*models.UploadQueueEntry, error)

	// ListUploadEntries returns entries, optionally filtered by state.
	ListUploadEntries(ctx context.Context, state models.QueueState) ([]*models.UploadQueueEntry, error)

	// CountUploadsByState returns the queue depth per state.
	CountUploadsByState(ctx context.Context) (map[models.QueueState]int64, error)

	// ClaimNextUpload atomically claims the best pending entry for a worker.
	// Returns models.ErrQueueEntryNotFound when nothing is pending.
	ClaimNextUpload(ctx context.Context, workerID string) (*models.UploadQueueEntry, error)

	// CompleteUpload marks an in-flight entry succeeded.
	CompleteUpload(ctx context.Context, id string) error

	// FailUpload records a failed attempt and returns the next state
	// (pending, or abandoned once attempts reach maxAttempts).
	FailUpload(ctx context.Context, id, lastError string, maxAttempts int) (models.QueueState, error)

	// ReleaseUpload returns a cancelled entry to pending without counting
	// an attempt.
	ReleaseUpload(ctx context.Context, id string) error

	// RequeueUpload returns a failed or abandoned entry to pending.
	RequeueUpload(ctx context.Context, id string) error

	// RecoverInFlightUploads returns entries stranded in flight by a
	// previous process to pending. Returns the number recovered.
	RecoverInFlightUploads(ctx context.Context) (int64, error)

	// CreateDownload registers a download job.
	CreateDownload(ctx context.Context, entry *models.DownloadQueueEntry) error

	// GetDownload returns one download job.
	GetDownload(ctx context.Context, id string) (*models.DownloadQueueEntry, error)

	// ListDownloads returns all download jobs, newest first.
	ListDownloads(ctx context.Context) ([]*models.DownloadQueueEntry, error)

	// StartDownload atomically claims a pending download job.
	StartDownload(ctx context.Context, id string) error

	// ReleaseDownload returns a cancelled job to pending without counting
	// an attempt.
	ReleaseDownload(ctx context.Context, id string) error

	// UpdateDownloadProgress applies worker progress deltas.
	UpdateDownloadProgress(ctx context.Context, id string, fetchedDelta, verifiedDelta, failedDelta, parityDelta int) error

	// SetDownloadTotals records the segment total from the decoded index.
	SetDownloadTotals(ctx context.Context, id string, totalSegments int) error

	// FinishDownload records a download job's terminal state.
	FinishDownload(ctx context.Context, id string, state models.QueueState, lastError string) error

	// ============================================
	// METRICS & MAINTENANCE
	// ============================================

	// RecordMetric appends one measurement sample.
	RecordMetric(ctx context.Context, name string, value float64, labels string) error

	// ListMetrics returns samples for a metric name since a time.
	ListMetrics(ctx context.Context, name string, since time.Time) ([]*models.MetricSample, error)

	// PruneMetrics deletes samples older than the cutoff.
	PruneMetrics(ctx context.Context, olderThan time.Time) (int64, error)

	// MigrationStatus returns recorded migration rows in version order.
	MigrationStatus(ctx context.Context) ([]*models.SchemaMigration, error)

	// Transaction runs fn in a transaction, committing on nil return.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	// Close releases the underlying connection pool.
	Close() error
}

// Compile-time interface check.
var _ Store = (*GORMStore)(nil)
