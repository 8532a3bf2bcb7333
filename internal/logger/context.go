package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context
type LogContext struct {
	RequestID string    // API request or command identifier
	Folder    string    // Folder identifier
	Share     string    // Share identifier
	Job       string    // Background job identifier
	Worker    int       // Worker index, -1 when not worker-scoped
	StartTime time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext with the given request identifier
func NewLogContext(requestID string) *LogContext {
	return &LogContext{
		RequestID: requestID,
		Worker:    -1,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithFolder returns a copy with the folder set
func (lc *LogContext) WithFolder(folderID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Folder = folderID
	}
	return clone
}

// WithShare returns a copy with the share set
func (lc *LogContext) WithShare(shareID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Share = shareID
	}
	return clone
}

// WithJob returns a copy with the job set
func (lc *LogContext) WithJob(jobID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Job = jobID
	}
	return clone
}

// WithWorker returns a copy with the worker index set
func (lc *LogContext) WithWorker(worker int) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Worker = worker
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
