// Package retry decorates operations with exponential-backoff retries,
// per-NNTP-code policies and a sliding-window rate limiter. Components
// exhaust their retries locally; only post-retry results cross component
// boundaries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/nntp"
)

// Policy parameterizes retry behavior for one error class.
type Policy struct {
	MaxRetries      int
	InitialDelay    time.Duration
	ExponentialBase float64
	MaxDelay        time.Duration
	Jitter          float64
}

// DefaultPolicy applies when no error-specific policy matches.
var DefaultPolicy = Policy{
	MaxRetries:      3,
	InitialDelay:    time.Second,
	ExponentialBase: 2.0,
	MaxDelay:        60 * time.Second,
	Jitter:          0.3,
}

// Error classes with dedicated policies.
const (
	classRateLimited = "rate_limited" // 502
	classRefused     = "refused"      // 441
	classServer      = "server_error" // other 5xx and transport errors
	classDefault     = "default"
)

// defaultClassPolicies are the per-code overrides.
func defaultClassPolicies() map[string]Policy {
	return map[string]Policy{
		classRateLimited: {MaxRetries: 10, InitialDelay: 30 * time.Second, ExponentialBase: 1.5, MaxDelay: 5 * time.Minute, Jitter: 0.3},
		classRefused:     {MaxRetries: 3, InitialDelay: 5 * time.Second, ExponentialBase: 2.0, MaxDelay: time.Minute, Jitter: 0.3},
		classServer:      {MaxRetries: 5, InitialDelay: 10 * time.Second, ExponentialBase: 2.0, MaxDelay: 2 * time.Minute, Jitter: 0.3},
	}
}

// Engine applies retry policies to operations.
type Engine struct {
	def     Policy
	byClass map[string]Policy
	limiter *RateLimiter
	stats   *statistics
}

// New creates an engine with the given default policy and optional rate
// limiter. The per-code NNTP policies are installed automatically.
func New(def Policy, limiter *RateLimiter) *Engine {
	if def.MaxRetries == 0 {
		def = DefaultPolicy
	}
	return &Engine{
		def:     def,
		byClass: defaultClassPolicies(),
		limiter: limiter,
		stats:   newStatistics(),
	}
}

// Do runs fn, retrying retryable errors according to the matching policy.
// Rate-limited responses feed the rate limiter so subsequent operations
// slow down pool-wide. The operation name appears in logs and statistics.
func (e *Engine) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoffs := make(map[string]backoff.BackOff)
	retries := 0

	for {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := fn(ctx)
		e.stats.recordAttempt()

		if err == nil {
			e.stats.recordSuccess(retries)
			return nil
		}
		if ctx.Err() != nil {
			e.stats.recordFailure(classDefault)
			return ctx.Err()
		}

		class, retryable := Classify(err)
		if !retryable {
			e.stats.recordFailure(class)
			return err
		}

		policy := e.policyFor(class)
		if retries >= policy.MaxRetries {
			e.stats.recordFailure(class)
			return fmt.Errorf("%s failed after %d retries: %w", op, retries, err)
		}

		if class == classRateLimited {
			e.stats.recordRateLimitHit()
			if e.limiter != nil {
				e.limiter.Penalize()
			}
		}

		bo, ok := backoffs[class]
		if !ok {
			bo = newBackOff(policy)
			backoffs[class] = bo
		}
		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			delay = policy.MaxDelay
		}

		logger.DebugCtx(ctx, "retrying operation",
			"operation", op,
			logger.Attempt(retries+1),
			logger.Err(err),
			"delay_ms", delay.Milliseconds())

		retries++
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			e.stats.recordFailure(class)
			return ctx.Err()
		}
	}
}

func (e *Engine) policyFor(class string) Policy {
	if p, ok := e.byClass[class]; ok {
		return p
	}
	return e.def
}

// SetCodePolicy overrides the policy applied to one NNTP response code's
// class (502 rate-limited, 441 refused, anything else server-error).
func (e *Engine) SetCodePolicy(code int, p Policy) {
	switch code {
	case nntp.CodeRateLimited:
		e.byClass[classRateLimited] = p
	case nntp.CodePostFailed:
		e.byClass[classRefused] = p
	default:
		e.byClass[classServer] = p
	}
}

// Statistics returns a snapshot of the engine's counters.
func (e *Engine) Statistics() Statistics {
	return e.stats.snapshot()
}

func newBackOff(p Policy) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialDelay
	bo.Multiplier = p.ExponentialBase
	bo.MaxInterval = p.MaxDelay
	bo.RandomizationFactor = p.Jitter
	bo.MaxElapsedTime = 0
	// NewExponentialBackOff seeds its current interval from the library
	// default before the fields above are assigned; Reset re-seeds it from
	// InitialInterval.
	bo.Reset()
	return &flooredBackOff{BackOff: bo, floor: p.InitialDelay}
}

// flooredBackOff keeps the first delay at or above the policy's initial
// delay. Jitter randomizes around the interval in both directions, which
// would undercut guarantees like the rate-limit class's 30-second minimum
// first delay; later retries jitter freely.
type flooredBackOff struct {
	backoff.BackOff
	floor time.Duration
	taken bool
}

func (b *flooredBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if !b.taken {
		b.taken = true
		if d != backoff.Stop && d < b.floor {
			d = b.floor
		}
	}
	return d
}

func (b *flooredBackOff) Reset() {
	b.taken = false
	b.BackOff.Reset()
}

// Classify maps an error to its retry class and whether it is retryable.
// The retryable set is closed: NNTP 502/441/5xx and transport timeouts or
// resets. Everything else propagates immediately, including 430 (the
// download path falls back to parity instead of hammering the server) and
// authentication failures.
func Classify(err error) (string, bool) {
	if ne, ok := nntp.AsError(err); ok {
		switch {
		case ne.IsRateLimited():
			return classRateLimited, true
		case ne.IsRefused():
			return classRefused, true
		case ne.IsNotFound():
			return "not_found", false
		case ne.IsServerError():
			return classServer, true
		default:
			return classDefault, false
		}
	}

	if errors.Is(err, nntp.ErrAuthFailed) {
		return "auth_failed", false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return classServer, true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNREFUSED) {
		return classServer, true
	}

	return classDefault, false
}
