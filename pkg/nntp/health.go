package nntp

import (
	"sync"
	"time"
)

// responseWindow is the number of recent response times kept per
// connection for the rolling average.
const responseWindow = 32

// Health tracks one connection's quality. The pool prefers connections
// with the lowest Priority score.
type Health struct {
	mu sync.Mutex

	successes           uint64
	failures            uint64
	consecutiveFailures int
	lastSuccess         time.Time
	lastFailure         time.Time
	lastUsed            time.Time
	bytesTransferred    int64

	// Ring of recent response times.
	responses [responseWindow]time.Duration
	count     int
	next      int
}

// NewHealth returns a fresh health record with the idle clock started.
func NewHealth() *Health {
	return &Health{lastUsed: time.Now()}
}

// RecordSuccess registers a completed operation.
func (h *Health) RecordSuccess(elapsed time.Duration, bytes int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.successes++
	h.consecutiveFailures = 0
	h.lastSuccess = time.Now()
	h.lastUsed = h.lastSuccess
	h.bytesTransferred += bytes
	h.push(elapsed)
}

// RecordFailure registers a failed operation.
func (h *Health) RecordFailure(elapsed time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.failures++
	h.consecutiveFailures++
	h.lastFailure = time.Now()
	h.lastUsed = h.lastFailure
	h.push(elapsed)
}

func (h *Health) push(elapsed time.Duration) {
	h.responses[h.next] = elapsed
	h.next = (h.next + 1) % responseWindow
	if h.count < responseWindow {
		h.count++
	}
}

// SuccessRate returns successes / total operations, 1.0 when unused.
func (h *Health) SuccessRate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.successRateLocked()
}

func (h *Health) successRateLocked() float64 {
	total := h.successes + h.failures
	if total == 0 {
		return 1.0
	}
	return float64(h.successes) / float64(total)
}

// AvgResponseMs returns the rolling average response time in milliseconds.
func (h *Health) AvgResponseMs() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.avgResponseMsLocked()
}

func (h *Health) avgResponseMsLocked() float64 {
	if h.count == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < h.count; i++ {
		sum += h.responses[i]
	}
	return float64(sum.Milliseconds()) / float64(h.count)
}

// Priority is the pool's selection score: lower is better.
// priority = (1 - success_rate) * 100 + avg_response_ms
func (h *Health) Priority() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return (1-h.successRateLocked())*100 + h.avgResponseMsLocked()
}

// ConsecutiveFailures returns the current failure streak.
func (h *Health) ConsecutiveFailures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutiveFailures
}

// IdleSince returns the time of last use.
func (h *Health) IdleSince() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsed
}

// Touch resets the idle clock, used after keepalive pings.
func (h *Health) Touch() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastUsed = time.Now()
}

// Snapshot is a copyable view of a health record for status reporting.
type Snapshot struct {
	Successes           uint64    `json:"successes"`
	Failures            uint64    `json:"failures"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	SuccessRate         float64   `json:"success_rate"`
	AvgResponseMs       float64   `json:"avg_response_ms"`
	Priority            float64   `json:"priority"`
	BytesTransferred    int64     `json:"bytes_transferred"`
	LastSuccess         time.Time `json:"last_success"`
	LastFailure         time.Time `json:"last_failure"`
}

// Snapshot returns a consistent copy of the record.
func (h *Health) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{
		Successes:           h.successes,
		Failures:            h.failures,
		ConsecutiveFailures: h.consecutiveFailures,
		SuccessRate:         h.successRateLocked(),
		AvgResponseMs:       h.avgResponseMsLocked(),
		Priority:            (1-h.successRateLocked())*100 + h.avgResponseMsLocked(),
		BytesTransferred:    h.bytesTransferred,
		LastSuccess:         h.lastSuccess,
		LastFailure:         h.lastFailure,
	}
}
