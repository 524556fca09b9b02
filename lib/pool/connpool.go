package pool

import (
	"fmt"
	"github.com/ValentinKolb/dStor/lib/remote"
	"github.com/ValentinKolb/dStor/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"io"
	"sync"
	"time"
)

// scaleUpHitRate is the hit rate below which the health sweep adds a connection
const scaleUpHitRate = 0.8

// Kind selects one of the two resource types of the ConnectionPool
type Kind int

const (
	PageServer Kind = iota
	Safekeeper
)

// String returns the name used in logs and metrics
func (k Kind) String() string {
	switch k {
	case PageServer:
		return "pageserver"
	case Safekeeper:
		return "safekeeper"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// TypeStats are the counters of one resource type
type TypeStats struct {
	Total     int // idle + leased + in creation
	Available int
	Leased    int
	Min       int
	Max       int
	Requests  uint64
	Hits      uint64
	HitRate   float64 // 1.0 if there were no requests
}

// PoolStats are the counters of both resource types
type PoolStats struct {
	PageServer TypeStats
	Safekeeper TypeStats
}

// --------------------------------------------------------------------------
// ConnectionPool
// --------------------------------------------------------------------------

// ConnectionPool owns one pool for page server clients and one for safekeeper
// clients, plus the background goroutine that sweeps both. The two pools have
// independent locks and are never locked together.
type ConnectionPool struct {
	pageServers *Pool[remote.IPageServerClient]
	safekeepers *Pool[remote.ISafekeeperClient]
	metrics     *metrics.Set

	mu          sync.Mutex
	interval    time.Duration
	initialized bool
	intervalCh  chan time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewConnectionPool creates the pool. No connection is created before Initialize.
func NewConnectionPool(
	config common.PoolConfig,
	pageServers Factory[remote.IPageServerClient],
	safekeepers Factory[remote.ISafekeeperClient],
) (*ConnectionPool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &ConnectionPool{
		pageServers: newPool(PageServer.String(), pageServers, config.MinPageServerConns, config.MaxPageServerConns),
		safekeepers: newPool(Safekeeper.String(), safekeepers, config.MinSafekeeperConns, config.MaxSafekeeperConns),
		metrics:     metrics.NewSet(),
		interval:    config.HealthCheckInterval,
		intervalCh:  make(chan time.Duration),
		stopCh:      make(chan struct{}),
	}
	c.registerMetrics()

	return c, nil
}

// Initialize creates the minimum number of connections of each type and starts
// the health sweep. Connections that fail to come up are logged and skipped.
func (c *ConnectionPool) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.stopCh:
		return remote.ErrPoolClosed
	default:
	}
	if c.initialized {
		return fmt.Errorf("connection pool is already initialized")
	}
	c.initialized = true

	if failed := c.pageServers.warm(); failed > 0 {
		Logger.Warningf("%d page server connections failed during warm up", failed)
	}
	if failed := c.safekeepers.warm(); failed > 0 {
		Logger.Warningf("%d safekeeper connections failed during warm up", failed)
	}

	c.wg.Add(1)
	go c.healthLoop(c.interval)

	stats := c.snapshot()
	Logger.Infof("Connection pool ready: %d page server, %d safekeeper connections, health check every %s",
		stats.PageServer.Total, stats.Safekeeper.Total, c.interval)
	return nil
}

// AcquirePageServer leases a page server client (see Pool.Acquire)
func (c *ConnectionPool) AcquirePageServer(timeout time.Duration) (*Lease[remote.IPageServerClient], error) {
	return c.pageServers.Acquire(timeout)
}

// AcquireSafekeeper leases a safekeeper client (see Pool.Acquire)
func (c *ConnectionPool) AcquireSafekeeper(timeout time.Duration) (*Lease[remote.ISafekeeperClient], error) {
	return c.safekeepers.Acquire(timeout)
}

// HealthCheck runs one sweep over both pools followed by the scale policy.
// The background goroutine calls it every health check interval.
func (c *ConnectionPool) HealthCheck() {
	removedPS := c.pageServers.sweep()
	removedSK := c.safekeepers.sweep()
	if removedPS+removedSK > 0 {
		Logger.Infof("Health check removed %d page server and %d safekeeper connections", removedPS, removedSK)
	}

	c.pageServers.scale()
	c.safekeepers.scale()
}

// SetHealthCheckInterval changes the period of the background sweep
func (c *ConnectionPool) SetHealthCheckInterval(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("health check interval must be positive, got %s", interval)
	}

	c.mu.Lock()
	c.interval = interval
	running := c.initialized
	c.mu.Unlock()

	if running {
		select {
		case c.intervalCh <- interval:
		case <-c.stopCh:
		}
	}
	return nil
}

// SetLimits changes (min, max) of one resource type
func (c *ConnectionPool) SetLimits(kind Kind, min, max int) error {
	switch kind {
	case PageServer:
		return c.pageServers.setLimits(min, max)
	case Safekeeper:
		return c.safekeepers.setLimits(min, max)
	default:
		return fmt.Errorf("unknown pool kind: %d", kind)
	}
}

// Stats returns a snapshot of both pools
func (c *ConnectionPool) Stats() PoolStats {
	return c.snapshot()
}

// ResetStats zeroes the request and hit counters of both pools
func (c *ConnectionPool) ResetStats() {
	c.pageServers.resetStats()
	c.safekeepers.resetStats()
}

// WritePrometheus writes the pool gauges in prometheus text format
func (c *ConnectionPool) WritePrometheus(w io.Writer) {
	c.metrics.WritePrometheus(w)
}

// Shutdown stops the health sweep, waits for it and closes all idle connections.
// Leased connections are closed when they are released. Shutdown may be called
// more than once and also when Initialize was never called or failed.
func (c *ConnectionPool) Shutdown() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.wg.Wait()

		c.pageServers.close()
		c.safekeepers.close()
		Logger.Infof("Connection pool shut down")
	})
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// snapshot collects the stats of both pools, each pool locks itself
func (c *ConnectionPool) snapshot() PoolStats {
	return PoolStats{
		PageServer: c.pageServers.Stats(),
		Safekeeper: c.safekeepers.Stats(),
	}
}

func (c *ConnectionPool) healthLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case d := <-c.intervalCh:
			ticker.Reset(d)
			Logger.Infof("Health check interval set to %s", d)
		case <-ticker.C:
			c.HealthCheck()
		}
	}
}

// registerMetrics exposes the counters of both pools as gauges
func (c *ConnectionPool) registerMetrics() {
	register := func(kind Kind, stats func() TypeStats) {
		gauge := func(name string, value func(s TypeStats) float64) {
			c.metrics.NewGauge(fmt.Sprintf(`dstor_pool_%s{type=%q}`, name, kind.String()), func() float64 {
				return value(stats())
			})
		}
		gauge("connections_total", func(s TypeStats) float64 { return float64(s.Total) })
		gauge("connections_available", func(s TypeStats) float64 { return float64(s.Available) })
		gauge("connections_leased", func(s TypeStats) float64 { return float64(s.Leased) })
		gauge("requests", func(s TypeStats) float64 { return float64(s.Requests) })
		gauge("hits", func(s TypeStats) float64 { return float64(s.Hits) })
		gauge("hit_rate", func(s TypeStats) float64 { return s.HitRate })
	}
	register(PageServer, c.pageServers.Stats)
	register(Safekeeper, c.safekeepers.Stats)
}
