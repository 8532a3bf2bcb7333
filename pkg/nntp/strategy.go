package nntp

import (
	"sort"
	"sync/atomic"
)

// Strategy selects which server bucket Acquire tries first.
type Strategy string

const (
	// StrategyRoundRobin rotates through servers in configuration order.
	StrategyRoundRobin Strategy = "round_robin"

	// StrategyWeighted balances leases proportionally to server weight.
	StrategyWeighted Strategy = "weighted"

	// StrategyLeastLatency prefers the server with the lowest rolling
	// average response time.
	StrategyLeastLatency Strategy = "least_latency"

	// StrategyFailover sticks to the first healthy server in
	// configuration order.
	StrategyFailover Strategy = "failover"
)

// IsValid checks if the strategy is known.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyRoundRobin, StrategyWeighted, StrategyLeastLatency, StrategyFailover:
		return true
	}
	return false
}

// order returns bucket indices in the order Acquire should try them.
// Unhealthy buckets are moved to the back, never removed; a fully
// degraded pool still attempts every server.
func (p *Pool) order() []int {
	n := len(p.buckets)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	switch p.config.Strategy {
	case StrategyRoundRobin:
		start := int(atomic.AddUint64(&p.rr, 1)-1) % n
		rotated := make([]int, 0, n)
		for i := 0; i < n; i++ {
			rotated = append(rotated, (start+i)%n)
		}
		idx = rotated

	case StrategyWeighted:
		sort.SliceStable(idx, func(a, b int) bool {
			return p.buckets[idx[a]].weightedLoad() < p.buckets[idx[b]].weightedLoad()
		})

	case StrategyLeastLatency:
		sort.SliceStable(idx, func(a, b int) bool {
			return p.buckets[idx[a]].aggregate.AvgResponseMs() < p.buckets[idx[b]].aggregate.AvgResponseMs()
		})

	case StrategyFailover:
		// Configuration order as-is; the health partition below demotes
		// failing servers.
	}

	sort.SliceStable(idx, func(a, b int) bool {
		aHealthy := p.buckets[idx[a]].aggregate.ConsecutiveFailures() < p.config.MaxConsecutiveFailures
		bHealthy := p.buckets[idx[b]].aggregate.ConsecutiveFailures() < p.config.MaxConsecutiveFailures
		return aHealthy && !bHealthy
	})

	return idx
}
