// Package service is the command core behind both external surfaces: the
// HTTP API and the stdio command protocol call the same typed operations
// with the same argument schemas, so the two stay mirror images of each
// other.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/usenetsync/usenetsync/internal/folderlock"
	"github.com/usenetsync/usenetsync/pkg/access"
	"github.com/usenetsync/usenetsync/pkg/api/auth"
	"github.com/usenetsync/usenetsync/pkg/crypto"
	"github.com/usenetsync/usenetsync/pkg/download"
	"github.com/usenetsync/usenetsync/pkg/models"
	"github.com/usenetsync/usenetsync/pkg/nntp"
	"github.com/usenetsync/usenetsync/pkg/publish"
	"github.com/usenetsync/usenetsync/pkg/store"
	"github.com/usenetsync/usenetsync/pkg/upload"
)

// ErrInvalidCredentials rejects a login with an unknown user or wrong
// API key.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ValidationError marks a malformed request; it maps to HTTP 400.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Config tunes the service-level defaults applied to new records.
type Config struct {
	// Version is the build version reported by health and stats.
	Version string

	// RedundancyLevel is the parity level assigned to new folders.
	RedundancyLevel int

	// DefaultExpiryDays applies when a share is created without an
	// explicit expiry. Zero means shares never expire by default.
	DefaultExpiryDays int

	// LogPath, when set, is the log file the logs operation tails.
	LogPath string
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.RedundancyLevel == 0 {
		c.RedundancyLevel = 3
	}
}

// Service executes API operations against the engine's components.
type Service struct {
	store      store.Store
	keys       *access.Manager
	sessions   *auth.JWTService
	indexer    *upload.Indexer
	locks      *folderlock.Set
	publisher  *publish.Publisher
	downloader *download.Downloader
	pool       *nntp.Pool
	config     Config

	started time.Time
	jobs    sync.WaitGroup
}

// New wires the service over the engine's components. The pool may be nil
// when no news servers are configured; operations that need it degrade to
// empty health reports.
func New(st store.Store, keys *access.Manager, sessions *auth.JWTService, indexer *upload.Indexer,
	locks *folderlock.Set, publisher *publish.Publisher, downloader *download.Downloader,
	pool *nntp.Pool, config Config) *Service {
	config.ApplyDefaults()
	return &Service{
		store:      st,
		keys:       keys,
		sessions:   sessions,
		indexer:    indexer,
		locks:      locks,
		publisher:  publisher,
		downloader: downloader,
		pool:       pool,
		config:     config,
		started:    time.Now().UTC(),
	}
}

// Wait blocks until background jobs started by the service (index runs,
// downloads) have finished. Called on shutdown.
func (s *Service) Wait() {
	s.jobs.Wait()
}

// Classify maps an operation error to its wire code and HTTP status.
// Both surfaces use the same table so a given failure looks identical
// over HTTP and stdio.
func Classify(err error) (code string, status int) {
	var verr *ValidationError

	switch {
	case errors.As(err, &verr):
		return "validation", http.StatusBadRequest

	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		return "unauthenticated", http.StatusUnauthorized

	case errors.Is(err, models.ErrAccessDenied),
		errors.Is(err, models.ErrWrongPassword),
		errors.Is(err, models.ErrNotAuthorized),
		errors.Is(err, models.ErrShareExpired),
		errors.Is(err, models.ErrShareRevoked),
		errors.Is(err, models.ErrShareSuspended):
		return "access_denied", http.StatusForbidden

	case errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, models.ErrFolderNotFound),
		errors.Is(err, models.ErrFileNotFound),
		errors.Is(err, models.ErrSegmentNotFound),
		errors.Is(err, models.ErrMessageNotFound),
		errors.Is(err, models.ErrShareNotFound),
		errors.Is(err, models.ErrVersionNotFound),
		errors.Is(err, models.ErrQueueEntryNotFound):
		return "not_found", http.StatusNotFound

	case errors.Is(err, models.ErrDuplicateUser),
		errors.Is(err, models.ErrDuplicateFolder),
		errors.Is(err, models.ErrDuplicateShare),
		errors.Is(err, models.ErrFolderBusy),
		errors.Is(err, models.ErrEntryNotClaimable),
		errors.Is(err, models.ErrConstraintViolation):
		return "conflict", http.StatusConflict
	}

	if ne, ok := nntp.AsError(err); ok {
		if ne.IsRateLimited() {
			return "rate_limited", http.StatusTooManyRequests
		}
		return "unavailable", http.StatusServiceUnavailable
	}

	switch {
	case errors.Is(err, models.ErrDatabaseBusy):
		return "unavailable", http.StatusServiceUnavailable

	case errors.Is(err, crypto.ErrKeyNotFound),
		errors.Is(err, crypto.ErrAuthTagMismatch),
		errors.Is(err, crypto.ErrKdfFailed):
		return "crypto", http.StatusInternalServerError

	case errors.Is(err, models.ErrIntegrity),
		errors.Is(err, models.ErrHashMismatch),
		errors.Is(err, models.ErrMerkleMismatch):
		return "integrity", http.StatusInternalServerError

	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return "cancelled", http.StatusInternalServerError

	default:
		return "internal", http.StatusInternalServerError
	}
}
