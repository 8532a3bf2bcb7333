package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that upload,
// download and publish flows can be correlated in aggregated logs.
const (
	// Request correlation
	KeyRequestID = "request_id" // API request or command identifier
	KeyJob       = "job"        // Background job identifier (index, upload, download)
	KeyWorker    = "worker"     // Worker index inside a pool

	// Domain entities
	KeyFolder  = "folder"  // Folder identifier (64-hex)
	KeyFile    = "file"    // File identifier (UUID)
	KeySegment = "segment" // Segment identifier (UUID)
	KeyShare   = "share"   // Share identifier (24-char token)
	KeyUser    = "user"    // User identifier (64-hex)
	KeyVersion = "version" // Folder version number

	// Transfer details
	KeyServer     = "server"      // NNTP server host
	KeyNewsgroup  = "newsgroup"   // Posting newsgroup
	KeyMessageID  = "message_id"  // Server-assigned article message-id
	KeyBytes      = "bytes"       // Byte count transferred
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyMaxRetries = "max_retries" // Maximum retry attempts
	KeyCode       = "code"        // NNTP response code

	// Operation metadata
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyState      = "state"       // Queue entry or segment state
	KeyPath       = "path"        // Filesystem path
	KeySize       = "size"        // Size in bytes
)

// Folder returns a slog.Attr for a folder identifier
func Folder(id string) slog.Attr {
	return slog.String(KeyFolder, id)
}

// File returns a slog.Attr for a file identifier
func File(id string) slog.Attr {
	return slog.String(KeyFile, id)
}

// Segment returns a slog.Attr for a segment identifier
func Segment(id string) slog.Attr {
	return slog.String(KeySegment, id)
}

// Share returns a slog.Attr for a share identifier
func Share(id string) slog.Attr {
	return slog.String(KeyShare, id)
}

// User returns a slog.Attr for a user identifier
func User(id string) slog.Attr {
	return slog.String(KeyUser, id)
}

// Version returns a slog.Attr for a folder version number
func Version(n int) slog.Attr {
	return slog.Int(KeyVersion, n)
}

// Server returns a slog.Attr for an NNTP server host
func Server(host string) slog.Attr {
	return slog.String(KeyServer, host)
}

// MessageID returns a slog.Attr for an article message-id
func MessageID(id string) slog.Attr {
	return slog.String(KeyMessageID, id)
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Path returns a slog.Attr for a filesystem path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Size returns a slog.Attr for a size in bytes
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
