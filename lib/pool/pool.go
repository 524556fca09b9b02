package pool

import (
	"fmt"
	"github.com/ValentinKolb/dStor/lib/remote"
	"github.com/lni/dragonboat/v4/logger"
	"sync"
	"time"
)

var Logger = logger.GetLogger("pool")

// Factory creates one new, not yet health checked client
type Factory[T remote.IClient] func() (T, error)

// entry wraps a pooled client with its bookkeeping
type entry[T remote.IClient] struct {
	client    T
	createdAt time.Time
	lastUsed  time.Time
}

// --------------------------------------------------------------------------
// Pool (one resource type)
// --------------------------------------------------------------------------

// Pool manages the connections of one resource type. All collections are
// guarded by mu; a leased connection is only tracked in leased, so the health
// sweep never touches a connection that is in a caller's hands.
type Pool[T remote.IClient] struct {
	name    string
	factory Factory[T]

	mu       sync.Mutex
	min      int
	max      int
	idle     []*entry[T] // FIFO, oldest first
	leased   map[*entry[T]]struct{}
	creating int // reserved slots of connections currently being created
	waiters  []chan struct{}
	closed   bool
	closedCh chan struct{}

	requests uint64
	hits     uint64
}

// newPool creates an empty pool, call warm to create the minimum connections
func newPool[T remote.IClient](name string, factory Factory[T], min, max int) *Pool[T] {
	return &Pool[T]{
		name:     name,
		factory:  factory,
		min:      min,
		max:      max,
		leased:   make(map[*entry[T]]struct{}),
		closedCh: make(chan struct{}),
	}
}

// Acquire leases a connection. An idle connection is handed out at once (a hit).
// Otherwise Acquire waits up to timeout for one to be released. If none became
// available and the pool is below max, a new connection is created and returned
// (a request, not a hit). At max, or if creation fails, remote.ErrResourceExhausted
// is returned. Every call counts as a request.
func (p *Pool[T]) Acquire(timeout time.Duration) (*Lease[T], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, remote.ErrPoolClosed
	}
	p.requests++

	deadline := time.Now().Add(timeout)
	for {
		if e := p.popIdleLocked(); e != nil {
			p.hits++
			p.leased[e] = struct{}{}
			p.mu.Unlock()
			return newLease(p, e), nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if !p.waitLocked(remaining) {
			p.mu.Unlock()
			return nil, remote.ErrPoolClosed
		}
	}

	if p.totalLocked() >= p.max {
		limit := p.max
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s pool at max (%d) after waiting %s", remote.ErrResourceExhausted, p.name, limit, timeout)
	}

	// reserve the slot so concurrent callers cannot exceed max while we dial
	p.creating++
	p.mu.Unlock()

	e, err := p.create()

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.mu.Unlock()
		Logger.Warningf("Failed to create %s connection on demand: %v", p.name, err)
		return nil, fmt.Errorf("%w: failed to create %s connection: %w", remote.ErrResourceExhausted, p.name, err)
	}
	if p.closed {
		p.mu.Unlock()
		_ = e.client.Close()
		return nil, remote.ErrPoolClosed
	}
	p.leased[e] = struct{}{}
	p.mu.Unlock()

	Logger.Debugf("Created %s connection %s on demand", p.name, e.client.ID())
	return newLease(p, e), nil
}

// Stats returns a snapshot of the counters of this pool
func (p *Pool[T]) Stats() TypeStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return TypeStats{
		Total:     p.totalLocked(),
		Available: len(p.idle),
		Leased:    len(p.leased),
		Min:       p.min,
		Max:       p.max,
		Requests:  p.requests,
		Hits:      p.hits,
		HitRate:   p.hitRateLocked(),
	}
}

// --------------------------------------------------------------------------
// Internal operations (used by leases and the ConnectionPool)
// --------------------------------------------------------------------------

// release returns a leased connection. Discarded connections and connections
// released after shutdown are closed instead of returned.
func (p *Pool[T]) release(e *entry[T], discard bool) {
	p.mu.Lock()

	if _, ok := p.leased[e]; !ok {
		p.mu.Unlock()
		Logger.Warningf("Ignoring release of %s connection %s which is not leased", p.name, e.client.ID())
		return
	}
	delete(p.leased, e)

	// limits may have been lowered while the connection was leased
	if discard || p.closed || p.totalLocked() >= p.max {
		p.mu.Unlock()
		if discard {
			Logger.Infof("Discarding %s connection %s", p.name, e.client.ID())
		}
		if err := e.client.Close(); err != nil {
			Logger.Warningf("Failed to close %s connection %s: %v", p.name, e.client.ID(), err)
		}
		return
	}

	e.lastUsed = time.Now()
	p.idle = append(p.idle, e)
	p.signalLocked()
	p.mu.Unlock()
}

// warm creates connections until the configured minimum is reached.
// It returns the number of connections that failed to come up.
func (p *Pool[T]) warm() (failed int) {
	p.mu.Lock()
	missing := p.min - p.totalLocked()
	p.mu.Unlock()

	for i := 0; i < missing; i++ {
		if !p.grow() {
			failed++
		}
	}
	return failed
}

// grow creates one idle connection if the pool is below max
func (p *Pool[T]) grow() bool {
	p.mu.Lock()
	if p.closed || p.totalLocked() >= p.max {
		p.mu.Unlock()
		return false
	}
	p.creating++
	p.mu.Unlock()

	e, err := p.create()

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.mu.Unlock()
		Logger.Warningf("Failed to create %s connection: %v", p.name, err)
		return false
	}
	if p.closed {
		p.mu.Unlock()
		_ = e.client.Close()
		return false
	}
	p.idle = append(p.idle, e)
	p.signalLocked()
	p.mu.Unlock()

	Logger.Debugf("Added %s connection %s", p.name, e.client.ID())
	return true
}

// sweep checks every idle connection and removes the ones that fail. It holds
// the pool lock for the whole sweep so it is mutually exclusive with acquire
// and release. Leased connections are not touched.
func (p *Pool[T]) sweep() (removed int) {
	p.mu.Lock()

	healthy := make([]*entry[T], 0, len(p.idle))
	var broken []*entry[T]
	for _, e := range p.idle {
		if err := e.client.CheckAvailability(); err != nil {
			Logger.Warningf("Removing unhealthy %s connection %s: %v", p.name, e.client.ID(), err)
			broken = append(broken, e)
			continue
		}
		healthy = append(healthy, e)
	}
	p.idle = healthy
	p.mu.Unlock()

	for _, e := range broken {
		_ = e.client.Close()
	}
	return len(broken)
}

// scale creates one more connection if the hit rate is below 0.8 and the pool is below max
func (p *Pool[T]) scale() bool {
	p.mu.Lock()
	rate := p.hitRateLocked()
	below := p.totalLocked() < p.max
	p.mu.Unlock()

	if rate >= scaleUpHitRate || !below {
		return false
	}

	Logger.Infof("Hit rate of %s pool is %.2f, adding a connection", p.name, rate)
	return p.grow()
}

// setLimits changes (min, max). Surplus idle connections are closed at once,
// surplus leased connections when they are released.
func (p *Pool[T]) setLimits(min, max int) error {
	if min < 0 || max < 1 || min > max {
		return fmt.Errorf("invalid limits for %s pool: min %d, max %d", p.name, min, max)
	}

	p.mu.Lock()
	p.min = min
	p.max = max

	var surplus []*entry[T]
	for p.totalLocked() > p.max && len(p.idle) > 0 {
		surplus = append(surplus, p.idle[0])
		p.idle = p.idle[1:]
	}
	p.mu.Unlock()

	for _, e := range surplus {
		_ = e.client.Close()
	}
	return nil
}

// resetStats zeroes the request and hit counters
func (p *Pool[T]) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = 0
	p.hits = 0
}

// close closes all idle connections and wakes all waiters. Leased connections
// are closed when they are released.
func (p *Pool[T]) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.closedCh)
	idle := p.idle
	p.idle = nil
	p.waiters = nil
	leased := len(p.leased)
	p.mu.Unlock()

	for _, e := range idle {
		if err := e.client.Close(); err != nil {
			Logger.Warningf("Failed to close %s connection %s: %v", p.name, e.client.ID(), err)
		}
	}
	if leased > 0 {
		Logger.Infof("%d %s connections are still leased and will be closed on release", leased, p.name)
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// create builds a new client and health checks it, without holding the lock
func (p *Pool[T]) create() (*entry[T], error) {
	client, err := p.factory()
	if err != nil {
		return nil, err
	}
	if err := client.CheckAvailability(); err != nil {
		_ = client.Close()
		return nil, err
	}
	now := time.Now()
	return &entry[T]{client: client, createdAt: now, lastUsed: now}, nil
}

func (p *Pool[T]) totalLocked() int {
	return len(p.idle) + len(p.leased) + p.creating
}

func (p *Pool[T]) hitRateLocked() float64 {
	if p.requests == 0 {
		return 1.0
	}
	return float64(p.hits) / float64(p.requests)
}

func (p *Pool[T]) popIdleLocked() *entry[T] {
	if len(p.idle) == 0 {
		return nil
	}
	e := p.idle[0]
	p.idle[0] = nil
	p.idle = p.idle[1:]
	return e
}

// waitLocked releases the lock, waits up to d for a signal and reacquires the lock.
// It returns false if the pool was closed meanwhile.
func (p *Pool[T]) waitLocked(d time.Duration) bool {
	ch := make(chan struct{}, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	timer := time.NewTimer(d)
	select {
	case <-ch:
	case <-timer.C:
	case <-p.closedCh:
	}
	timer.Stop()

	p.mu.Lock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	return !p.closed
}

// signalLocked wakes the longest waiting acquirer
func (p *Pool[T]) signalLocked() {
	if len(p.waiters) == 0 {
		return
	}
	ch := p.waiters[0]
	p.waiters = p.waiters[1:]
	select {
	case ch <- struct{}{}:
	default:
	}
}
