package retry

import "sync"

// Statistics is a snapshot of the engine's counters.
type Statistics struct {
	Attempts      uint64         `json:"attempts"`
	Successes     uint64         `json:"successes"`
	Failures      uint64         `json:"failures"`
	RateLimitHits uint64         `json:"rate_limit_hits"`
	SuccessRate   float64        `json:"success_rate"`
	ByErrorType   map[string]int `json:"by_error_type"`
	ByRetryCount  map[int]int    `json:"by_retry_count"`
}

type statistics struct {
	mu            sync.Mutex
	attempts      uint64
	successes     uint64
	failures      uint64
	rateLimitHits uint64
	byErrorType   map[string]int
	byRetryCount  map[int]int
}

func newStatistics() *statistics {
	return &statistics{
		byErrorType:  make(map[string]int),
		byRetryCount: make(map[int]int),
	}
}

func (s *statistics) recordAttempt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
}

func (s *statistics) recordSuccess(retries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successes++
	s.byRetryCount[retries]++
}

func (s *statistics) recordFailure(class string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	s.byErrorType[class]++
}

func (s *statistics) recordRateLimitHit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimitHits++
}

func (s *statistics) snapshot() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Statistics{
		Attempts:      s.attempts,
		Successes:     s.successes,
		Failures:      s.failures,
		RateLimitHits: s.rateLimitHits,
		ByErrorType:   make(map[string]int, len(s.byErrorType)),
		ByRetryCount:  make(map[int]int, len(s.byRetryCount)),
	}
	total := s.successes + s.failures
	if total > 0 {
		out.SuccessRate = float64(s.successes) / float64(total)
	}
	for k, v := range s.byErrorType {
		out.ByErrorType[k] = v
	}
	for k, v := range s.byRetryCount {
		out.ByRetryCount[k] = v
	}
	return out
}
