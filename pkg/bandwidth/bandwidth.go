// Package bandwidth shapes transfer throughput with a token bucket.
package bandwidth

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// burstFactor sizes the bucket relative to the sustained rate.
const burstFactor = 1.5

// Shaper limits bytes per second with a burst of 1.5x the rate.
// A zero rate means unlimited.
type Shaper struct {
	limiter *rate.Limiter
}

// New creates a shaper for bytesPerSecond. Zero or negative disables
// shaping.
func New(bytesPerSecond int64) *Shaper {
	if bytesPerSecond <= 0 {
		return &Shaper{}
	}
	burst := int(float64(bytesPerSecond) * burstFactor)
	return &Shaper{limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst)}
}

// WaitN blocks until n bytes worth of tokens are available. Payloads
// larger than the burst are claimed in bucket-sized chunks so a single
// big segment cannot starve forever.
func (s *Shaper) WaitN(ctx context.Context, n int) error {
	if s.limiter == nil || n <= 0 {
		return nil
	}

	burst := s.limiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := s.limiter.WaitN(ctx, chunk); err != nil {
			return fmt.Errorf("bandwidth wait interrupted: %w", err)
		}
		n -= chunk
	}
	return nil
}

// Limited reports whether shaping is active.
func (s *Shaper) Limited() bool {
	return s.limiter != nil
}

// Rate returns the configured bytes per second, 0 when unlimited.
func (s *Shaper) Rate() int64 {
	if s.limiter == nil {
		return 0
	}
	return int64(s.limiter.Limit())
}
