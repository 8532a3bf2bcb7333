package nntp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, servers []ServerConfig, strategy Strategy) *Pool {
	t.Helper()
	p, err := NewPool(PoolConfig{
		Servers:         servers,
		Strategy:        strategy,
		AcquireTimeout:  2 * time.Second,
		MonitorInterval: time.Hour, // keep the monitor out of the way
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestNewPool(t *testing.T) {
	t.Run("requires servers", func(t *testing.T) {
		_, err := NewPool(PoolConfig{})
		assert.ErrorIs(t, err, ErrNoServers)
	})

	t.Run("rejects unknown strategy", func(t *testing.T) {
		s := newFakeServer(t, "")
		_, err := NewPool(PoolConfig{
			Servers:  []ServerConfig{s.config()},
			Strategy: Strategy("random"),
		})
		assert.Error(t, err)
	})
}

func TestPoolAcquireRelease(t *testing.T) {
	s := newFakeServer(t, "")
	cfg := s.config()
	cfg.MaxConnections = 2
	p := newTestPool(t, []ServerConfig{cfg}, StrategyRoundRobin)
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	c2, err := p.Acquire(ctx)
	require.NoError(t, err)

	t.Run("blocks at capacity until release", func(t *testing.T) {
		done := make(chan *Conn, 1)
		go func() {
			c, err := p.Acquire(ctx)
			if err == nil {
				done <- c
			}
		}()

		select {
		case <-done:
			t.Fatal("acquire should block while the pool is exhausted")
		case <-time.After(100 * time.Millisecond):
		}

		p.Release(c1, true, 10*time.Millisecond, 512)

		select {
		case c3 := <-done:
			// The released connection is reused, not a new dial.
			assert.Same(t, c1, c3)
			p.Release(c3, true, 10*time.Millisecond, 0)
		case <-time.After(2 * time.Second):
			t.Fatal("acquire did not observe the release")
		}
	})

	t.Run("acquire times out when exhausted", func(t *testing.T) {
		short, err := NewPool(PoolConfig{
			Servers:         []ServerConfig{cfg},
			AcquireTimeout:  100 * time.Millisecond,
			MonitorInterval: time.Hour,
		})
		require.NoError(t, err)
		defer short.Close()

		a, err := short.Acquire(ctx)
		require.NoError(t, err)
		b, err := short.Acquire(ctx)
		require.NoError(t, err)

		_, err = short.Acquire(ctx)
		assert.ErrorIs(t, err, ErrAcquireTimeout)

		short.Release(a, true, 0, 0)
		short.Release(b, true, 0, 0)
	})

	p.Release(c2, true, 10*time.Millisecond, 0)

	t.Run("health aggregates per server", func(t *testing.T) {
		health := p.Health()
		snap, ok := health["127.0.0.1"]
		require.True(t, ok)
		assert.GreaterOrEqual(t, snap.Successes, uint64(2))
	})
}

func TestPoolEviction(t *testing.T) {
	s := newFakeServer(t, "")
	cfg := s.config()
	cfg.MaxConnections = 1
	p := newTestPool(t, []ServerConfig{cfg}, StrategyRoundRobin)
	ctx := context.Background()

	conn, err := p.Acquire(ctx)
	require.NoError(t, err)

	// Drive the connection to the eviction threshold.
	for i := 0; i < DefaultMaxConsecutiveFailures-1; i++ {
		p.Release(conn, false, time.Millisecond, 0)
		again, err := p.Acquire(ctx)
		require.NoError(t, err)
		require.Same(t, conn, again, "connection should be pooled below the threshold")
	}

	p.Release(conn, false, time.Millisecond, 0)

	// The slot is free again, so acquire dials a fresh connection.
	fresh, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, conn, fresh)
	assert.Zero(t, fresh.Health.ConsecutiveFailures())
	p.Release(fresh, true, time.Millisecond, 0)
}

func TestPoolClosed(t *testing.T) {
	s := newFakeServer(t, "")
	p, err := NewPool(PoolConfig{
		Servers:         []ServerConfig{s.config()},
		MonitorInterval: time.Hour,
	})
	require.NoError(t, err)

	p.Close()
	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestStrategyOrder(t *testing.T) {
	a := newFakeServer(t, "")
	b := newFakeServer(t, "")
	cfgA, cfgB := a.config(), b.config()
	cfgA.Weight = 1
	cfgB.Weight = 3

	t.Run("round robin rotates", func(t *testing.T) {
		p := newTestPool(t, []ServerConfig{cfgA, cfgB}, StrategyRoundRobin)
		first := p.order()[0]
		second := p.order()[0]
		assert.NotEqual(t, first, second)
	})

	t.Run("least latency prefers the faster server", func(t *testing.T) {
		p := newTestPool(t, []ServerConfig{cfgA, cfgB}, StrategyLeastLatency)
		p.buckets[0].aggregate.RecordSuccess(200*time.Millisecond, 0)
		p.buckets[1].aggregate.RecordSuccess(20*time.Millisecond, 0)
		assert.Equal(t, 1, p.order()[0])
	})

	t.Run("failover sticks to the first healthy server", func(t *testing.T) {
		p := newTestPool(t, []ServerConfig{cfgA, cfgB}, StrategyFailover)
		assert.Equal(t, 0, p.order()[0])

		for i := 0; i < DefaultMaxConsecutiveFailures; i++ {
			p.buckets[0].aggregate.RecordFailure(time.Millisecond)
		}
		assert.Equal(t, 1, p.order()[0], "failing server demoted")
	})

	t.Run("weighted favors spare weighted capacity", func(t *testing.T) {
		p := newTestPool(t, []ServerConfig{cfgA, cfgB}, StrategyWeighted)
		p.buckets[0].leases = 2
		p.buckets[1].leases = 2
		// Equal leases, but B has triple the weight.
		assert.Equal(t, 1, p.order()[0])
	})
}
