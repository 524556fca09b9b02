package cache

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dStor/lib/pool"
	"github.com/ValentinKolb/dStor/lib/remote"
	"github.com/ValentinKolb/dStor/lib/types"
	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/rcrowley/go-metrics"
	"io"
	"sync"
	"time"
)

var Logger = logger.GetLogger("cache")

// ErrClosed is returned by every operation after Close
var ErrClosed = errors.New("page cache is closed")

// IPageSource hands out page server leases, implemented by *pool.ConnectionPool
type IPageSource interface {
	AcquirePageServer(timeout time.Duration) (*pool.Lease[remote.IPageServerClient], error)
}

// WriteBackFunc persists the contents of a dirty page. It is called without
// holding the cache lock and must not call back into the cache.
type WriteBackFunc func(id types.PageID, page *types.Page) error

// entry is one cached page
type entry struct {
	id       types.PageID
	page     types.Page
	dirty    bool
	flushing bool
	version  uint64 // incremented on every Write
}

// flushJob is a snapshot of a dirty entry taken under the lock
type flushJob struct {
	entry   *entry
	page    types.Page
	version uint64
}

// Stats is a snapshot of the cache counters
type Stats struct {
	Len               int
	Capacity          int
	Dirty             int
	Hits              int64
	Misses            int64
	Evictions         int64
	WriteBacks        int64
	WriteBackFailures int64
	Fetches           int64
	FetchMean         time.Duration
}

// --------------------------------------------------------------------------
// PageCache
// --------------------------------------------------------------------------

// PageCache is a fixed capacity, strict LRU, read-through cache of pages.
// The LRU list and all entries are guarded by mu, which is never held during
// network I/O. Dirty entries are written back before they are evicted.
type PageCache struct {
	capacity       int
	acquireTimeout time.Duration
	pages          IPageSource
	writeBack      WriteBackFunc

	mu       sync.Mutex
	flushed  *sync.Cond // signalled whenever a write-back finishes
	lru      *simplelru.LRU
	inflight int
	closed   bool

	registry          metrics.Registry
	hits              metrics.Counter
	misses            metrics.Counter
	evictions         metrics.Counter
	writeBacks        metrics.Counter
	writeBackFailures metrics.Counter
	fetch             metrics.Timer
}

// NewPageCache creates an empty cache holding at most capacity pages. Misses are
// fetched through a page server lease acquired with acquireTimeout, dirty pages are
// persisted through writeBack.
func NewPageCache(capacity int, pages IPageSource, writeBack WriteBackFunc, acquireTimeout time.Duration) (*PageCache, error) {
	if pages == nil || writeBack == nil {
		return nil, fmt.Errorf("page source and write-back sink are required")
	}

	// the cache evicts by itself before every insert, the lru never evicts on Add
	lru, err := simplelru.NewLRU(capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid cache capacity %d: %w", capacity, err)
	}

	registry := metrics.NewRegistry()
	c := &PageCache{
		capacity:          capacity,
		acquireTimeout:    acquireTimeout,
		pages:             pages,
		writeBack:         writeBack,
		lru:               lru,
		registry:          registry,
		hits:              metrics.NewRegisteredCounter("cache.hits", registry),
		misses:            metrics.NewRegisteredCounter("cache.misses", registry),
		evictions:         metrics.NewRegisteredCounter("cache.evictions", registry),
		writeBacks:        metrics.NewRegisteredCounter("cache.writebacks", registry),
		writeBackFailures: metrics.NewRegisteredCounter("cache.writeback_failures", registry),
		fetch:             metrics.NewRegisteredTimer("cache.fetch", registry),
	}
	c.flushed = sync.NewCond(&c.mu)

	return c, nil
}

// Read returns the contents of the page. A hit is served from memory and makes
// the page the most recently used one. A miss fetches the page from the page
// server and inserts it, evicting the least recently used page if the cache is
// full. If that page is dirty and its write-back fails, it stays cached and the
// fetched page is returned without being cached.
func (c *PageCache) Read(id types.PageID) (types.Page, error) {
	key := types.PageKey(id)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return types.Page{}, ErrClosed
	}
	if v, ok := c.lru.Get(key); ok && v.(*entry).id == id {
		page := v.(*entry).page
		c.mu.Unlock()
		c.hits.Inc(1)
		return page, nil
	}
	c.mu.Unlock()
	c.misses.Inc(1)

	var page types.Page
	if err := c.fetchPage(id, &page); err != nil {
		return types.Page{}, err
	}

	cached, err := c.insert(id, &page, false)
	if err != nil {
		Logger.Warningf("Not caching page %s: %v", id, err)
		return page, nil
	}
	return cached, nil
}

// Write stores new contents for the page and marks it dirty. The page is
// written back when it is evicted, on Flush and on Close.
func (c *PageCache) Write(id types.PageID, page types.Page) error {
	_, err := c.insert(id, &page, true)
	return err
}

// Flush writes back every dirty page and waits for write-backs started by
// evictions. Pages whose write-back fails stay dirty.
func (c *PageCache) Flush() error {
	c.mu.Lock()
	var jobs []flushJob
	for _, k := range c.lru.Keys() {
		v, _ := c.lru.Peek(k)
		if e := v.(*entry); e.dirty && !e.flushing {
			jobs = append(jobs, c.startFlushLocked(e))
		}
	}
	c.mu.Unlock()

	var errs []error
	for _, job := range jobs {
		if err := c.runFlush(job); err != nil {
			errs = append(errs, fmt.Errorf("page %s: %w", job.entry.id, err))
		}
	}

	c.mu.Lock()
	for c.inflight > 0 {
		c.flushed.Wait()
	}
	c.mu.Unlock()

	if len(jobs) > 0 {
		Logger.Debugf("Flushed %d dirty pages, %d failed", len(jobs), len(errs))
	}
	return errors.Join(errs...)
}

// DropTimeline removes every page of the timeline without writing it back
func (c *PageCache) DropTimeline(timeline types.TimelineID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for _, k := range c.lru.Keys() {
		v, _ := c.lru.Peek(k)
		if e := v.(*entry); e.id.Timeline == timeline {
			c.lru.Remove(k)
			dropped++
		}
	}
	return dropped
}

// Close flushes all dirty pages and empties the cache. Pages that could not be
// written back are logged and the flush error is returned.
func (c *PageCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.Flush()

	c.mu.Lock()
	lost := c.dirtyLocked()
	c.lru.Purge()
	c.mu.Unlock()

	if lost > 0 {
		Logger.Errorf("Closed page cache with %d pages that were not written back", lost)
	}
	c.registry.UnregisterAll()
	return err
}

// Len returns the number of cached pages
func (c *PageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of the cache counters
func (c *PageCache) Stats() Stats {
	c.mu.Lock()
	length, dirty := c.lru.Len(), c.dirtyLocked()
	c.mu.Unlock()

	return Stats{
		Len:               length,
		Capacity:          c.capacity,
		Dirty:             dirty,
		Hits:              c.hits.Count(),
		Misses:            c.misses.Count(),
		Evictions:         c.evictions.Count(),
		WriteBacks:        c.writeBacks.Count(),
		WriteBackFailures: c.writeBackFailures.Count(),
		Fetches:           c.fetch.Count(),
		FetchMean:         time.Duration(c.fetch.Mean()),
	}
}

// WriteMetrics writes the cache counters and the fetch latency in text form
func (c *PageCache) WriteMetrics(w io.Writer) {
	metrics.WriteOnce(c.registry, w)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// fetchPage reads the page through a pooled page server connection
func (c *PageCache) fetchPage(id types.PageID, page *types.Page) error {
	start := time.Now()

	lease, err := c.pages.AcquirePageServer(c.acquireTimeout)
	if err != nil {
		return err
	}
	err = lease.Client().ReadPage(id, page)
	lease.Done(err)

	c.fetch.UpdateSince(start)
	return err
}

// insert caches page under id and returns the cached contents. If the page is
// already cached, a read keeps the cached contents (they may be dirty) while a
// write replaces them. Room is made by evicting the least recently used page;
// a dirty victim is written back with the lock released first.
func (c *PageCache) insert(id types.PageID, page *types.Page, dirty bool) (types.Page, error) {
	key := types.PageKey(id)

	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.closed {
			return types.Page{}, ErrClosed
		}

		if v, ok := c.lru.Get(key); ok && v.(*entry).id == id {
			e := v.(*entry)
			if dirty {
				e.page = *page
				e.dirty = true
				e.version++
			}
			return e.page, nil
		}

		victim, victimKey := c.victimLocked(key)
		if victim == nil {
			c.lru.Add(key, &entry{id: id, page: *page, dirty: dirty})
			return *page, nil
		}

		switch {
		case victim.flushing:
			// written back by someone else, wait for the outcome
			c.flushed.Wait()

		case victim.dirty:
			job := c.startFlushLocked(victim)
			c.mu.Unlock()
			err := c.runFlush(job)
			c.mu.Lock()
			if err != nil {
				return types.Page{}, fmt.Errorf("write-back of evicted page %s failed: %w", victim.id, err)
			}

		default:
			c.lru.Remove(victimKey)
			c.evictions.Inc(1)
		}
	}
}

// victimLocked returns the entry that has to go before key can be inserted: an
// entry of another page that collides on the key, or the least recently used
// entry if the cache is full. It returns nil if there is room.
func (c *PageCache) victimLocked(key uint64) (*entry, uint64) {
	if v, ok := c.lru.Peek(key); ok {
		return v.(*entry), key
	}
	if c.lru.Len() < c.capacity {
		return nil, 0
	}
	k, v, _ := c.lru.GetOldest()
	return v.(*entry), k.(uint64)
}

func (c *PageCache) startFlushLocked(e *entry) flushJob {
	e.flushing = true
	c.inflight++
	return flushJob{entry: e, page: e.page, version: e.version}
}

// runFlush writes the snapshot back without holding the lock. The entry becomes
// clean only if it was not written to in the meantime.
func (c *PageCache) runFlush(job flushJob) error {
	err := c.writeBack(job.entry.id, &job.page)
	if err != nil {
		c.writeBackFailures.Inc(1)
		Logger.Warningf("Write-back of page %s failed: %v", job.entry.id, err)
	} else {
		c.writeBacks.Inc(1)
	}

	c.mu.Lock()
	job.entry.flushing = false
	if err == nil && job.entry.version == job.version {
		job.entry.dirty = false
	}
	c.inflight--
	c.flushed.Broadcast()
	c.mu.Unlock()

	return err
}

func (c *PageCache) dirtyLocked() int {
	dirty := 0
	for _, k := range c.lru.Keys() {
		if v, _ := c.lru.Peek(k); v.(*entry).dirty {
			dirty++
		}
	}
	return dirty
}
