package nntp

import (
	"context"
	"sync"
	"time"

	"github.com/usenetsync/usenetsync/internal/logger"
)

// Pool defaults.
const (
	DefaultMaxConnections         = 10
	DefaultAcquireTimeout         = 30 * time.Second
	DefaultMonitorInterval        = 30 * time.Second
	DefaultIdleTimeout            = 5 * time.Minute
	DefaultMaxConsecutiveFailures = 5
)

// DialFunc opens one authenticated connection. Overridable in tests.
type DialFunc func(ctx context.Context, server *ServerConfig) (*Conn, error)

// PoolConfig configures the connection pool.
type PoolConfig struct {
	Servers                []ServerConfig
	Strategy               Strategy
	AcquireTimeout         time.Duration
	MonitorInterval        time.Duration
	IdleTimeout            time.Duration
	MaxConsecutiveFailures int

	// Dialer defaults to Dial.
	Dialer DialFunc
}

// ApplyDefaults fills in missing configuration with default values.
func (c *PoolConfig) ApplyDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyRoundRobin
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.MonitorInterval == 0 {
		c.MonitorInterval = DefaultMonitorInterval
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxConsecutiveFailures == 0 {
		c.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if c.Dialer == nil {
		c.Dialer = Dial
	}
	for i := range c.Servers {
		if c.Servers[i].MaxConnections == 0 {
			c.Servers[i].MaxConnections = DefaultMaxConnections
		}
		if c.Servers[i].Weight == 0 {
			c.Servers[i].Weight = 1
		}
	}
}

// bucket holds the connections of one server.
type bucket struct {
	server *ServerConfig

	mu   sync.Mutex
	idle []*Conn
	open int // idle + leased

	// aggregate mirrors per-connection outcomes at server granularity
	// for strategy ordering. Per-connection health stays authoritative.
	aggregate *Health

	leases uint64
}

func (b *bucket) weightedLoad() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(b.leases) / float64(b.server.Weight)
}

// takeIdle removes and returns the healthiest idle connection, or nil.
func (b *bucket) takeIdle() *Conn {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.idle) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(b.idle); i++ {
		if b.idle[i].Health.Priority() < b.idle[best].Health.Priority() {
			best = i
		}
	}
	conn := b.idle[best]
	b.idle = append(b.idle[:best], b.idle[best+1:]...)
	b.leases++
	return conn
}

// Pool is a health-scored connection pool over one or more servers.
type Pool struct {
	config  PoolConfig
	buckets []*bucket
	rr      uint64

	notify chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool validates the configuration and starts the background monitor.
func NewPool(config PoolConfig) (*Pool, error) {
	config.ApplyDefaults()
	if len(config.Servers) == 0 {
		return nil, ErrNoServers
	}
	if !config.Strategy.IsValid() {
		return nil, &Error{Code: 0, Msg: "unknown strategy " + string(config.Strategy)}
	}

	p := &Pool{
		config: config,
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	for i := range config.Servers {
		p.buckets = append(p.buckets, &bucket{
			server:    &config.Servers[i],
			aggregate: NewHealth(),
		})
	}

	p.wg.Add(1)
	go p.monitor()

	return p, nil
}

// Servers returns the configured upstream servers.
func (p *Pool) Servers() []*ServerConfig {
	servers := make([]*ServerConfig, 0, len(p.buckets))
	for _, b := range p.buckets {
		servers = append(servers, b.server)
	}
	return servers
}

// Acquire returns a connection, preferring idle connections with the
// lowest priority score on the strategy-selected server. When every
// bucket is at capacity it waits for a release until the acquire timeout.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.AcquireTimeout)
	defer cancel()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		p.mu.Unlock()

		for _, i := range p.order() {
			b := p.buckets[i]

			if conn := b.takeIdle(); conn != nil {
				return conn, nil
			}

			b.mu.Lock()
			canDial := b.open < b.server.MaxConnections
			if canDial {
				b.open++ // reserve the slot before dialing
				b.leases++
			}
			b.mu.Unlock()

			if !canDial {
				continue
			}

			conn, err := p.config.Dialer(ctx, b.server)
			if err != nil {
				b.mu.Lock()
				b.open--
				b.mu.Unlock()
				b.aggregate.RecordFailure(0)
				logger.Warn("failed to dial nntp server",
					logger.Server(b.server.Host), logger.Err(err))
				continue
			}
			return conn, nil
		}

		select {
		case <-p.notify:
		case <-ctx.Done():
			return nil, ErrAcquireTimeout
		}
	}
}

// Release returns a connection after an operation, recording the outcome
// on its health record. Connections whose failure streak reaches the
// eviction threshold are closed instead of pooled.
func (p *Pool) Release(conn *Conn, success bool, elapsed time.Duration, bytes int64) {
	b := p.bucketFor(conn.Server())
	if b == nil {
		conn.Close()
		return
	}

	if success {
		conn.Health.RecordSuccess(elapsed, bytes)
		b.aggregate.RecordSuccess(elapsed, bytes)
	} else {
		conn.Health.RecordFailure(elapsed)
		b.aggregate.RecordFailure(elapsed)
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	evict := closed || conn.Health.ConsecutiveFailures() >= p.config.MaxConsecutiveFailures

	b.mu.Lock()
	if evict {
		b.open--
	} else {
		b.idle = append(b.idle, conn)
	}
	b.mu.Unlock()

	if evict {
		conn.Close()
		if !closed {
			logger.Debug("evicted failing nntp connection",
				logger.Server(b.server.Host),
				"consecutive_failures", conn.Health.ConsecutiveFailures())
		}
	}

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Health returns a per-server snapshot of aggregate health.
func (p *Pool) Health() map[string]Snapshot {
	out := make(map[string]Snapshot, len(p.buckets))
	for _, b := range p.buckets {
		out[b.server.Host] = b.aggregate.Snapshot()
	}
	return out
}

// Close evicts all idle connections and rejects further acquires. Leased
// connections are closed as they are released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stop)
	p.wg.Wait()

	for _, b := range p.buckets {
		b.mu.Lock()
		for _, conn := range b.idle {
			conn.Quit()
			b.open--
		}
		b.idle = nil
		b.mu.Unlock()
	}
}

func (p *Pool) bucketFor(server *ServerConfig) *bucket {
	for _, b := range p.buckets {
		if b.server == server {
			return b
		}
	}
	return nil
}

// monitor periodically evicts failing connections and keepalive-pings or
// evicts idle ones.
func (p *Pool) monitor() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	for _, b := range p.buckets {
		b.mu.Lock()
		idle := b.idle
		b.idle = nil
		b.mu.Unlock()

		var kept []*Conn
		for _, conn := range idle {
			if conn.Health.ConsecutiveFailures() >= p.config.MaxConsecutiveFailures {
				conn.Close()
				b.mu.Lock()
				b.open--
				b.mu.Unlock()
				continue
			}

			if time.Since(conn.Health.IdleSince()) > p.config.IdleTimeout {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				err := conn.Date(ctx)
				cancel()
				if err != nil {
					conn.Close()
					b.mu.Lock()
					b.open--
					b.mu.Unlock()
					logger.Debug("evicted stale nntp connection",
						logger.Server(b.server.Host), logger.Err(err))
					continue
				}
				conn.Health.Touch()
			}

			kept = append(kept, conn)
		}

		b.mu.Lock()
		b.idle = append(b.idle, kept...)
		b.mu.Unlock()
	}
}
