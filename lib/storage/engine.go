package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dStor/lib/cache"
	"github.com/ValentinKolb/dStor/lib/pool"
	"github.com/ValentinKolb/dStor/lib/remote"
	"github.com/ValentinKolb/dStor/lib/types"
	"github.com/ValentinKolb/dStor/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
	"sync/atomic"
)

var Logger = logger.GetLogger("storage")

// ErrEngineClosed is returned by every operation after Close
var ErrEngineClosed = errors.New("storage engine is closed")

// AppendMode selects how AppendRecord waits for the safekeeper
type AppendMode int

const (
	// Sync blocks until the safekeeper acknowledged the record
	Sync AppendMode = iota
	// Async queues the record on the safekeeper client pinned to the timeline
	// and returns at once
	Async
)

// String returns the name of the mode
func (m AppendMode) String() string {
	if m == Async {
		return "async"
	}
	return "sync"
}

// pageImageHeader is the size of the page number prefix of a page image record
const pageImageHeader = 4

// Engine is the storage facade of a compute node: it owns the connection pool and
// the page cache and is the only thing the table layer talks to.
type Engine struct {
	config common.StorageConfig
	pool   *pool.ConnectionPool
	cache  *cache.PageCache

	writers *xsync.MapOf[types.TimelineID, *walWriter]

	asyncSent    atomic.Uint64
	asyncFailed  atomic.Uint64
	asyncDropped atomic.Uint64

	mu     sync.Mutex
	opened bool
	closed atomic.Bool
}

// walWriter orders the WAL of one timeline. LSNs are handed out and records are
// submitted under mu, so they leave in LSN order. Async records all go through the
// one pinned client, whose single worker keeps that order on the wire.
type walWriter struct {
	mu       sync.Mutex
	last     uint64 // last LSN handed out or observed
	pinned   *pool.Lease[remote.ISafekeeperClient]
	baseline remote.AsyncStats // stats of the pinned client when it was pinned
}

// NewEngine creates an engine on top of connPool. The engine takes ownership of
// the pool: Open initializes it and Close shuts it down.
func NewEngine(config common.StorageConfig, connPool *pool.ConnectionPool) (*Engine, error) {
	if connPool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	e := &Engine{
		config: config,
		pool:   connPool,
		writers: xsync.NewMapOf[types.TimelineID, *walWriter](),
	}

	pageCache, err := cache.NewPageCache(config.CacheCapacity, connPool, e.writeBack, config.Pool.AcquireTimeout)
	if err != nil {
		return nil, err
	}
	e.cache = pageCache

	return e, nil
}

// Open warms up the connection pool and starts its health sweep
func (e *Engine) Open() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.opened {
		return nil
	}
	if err := e.pool.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize connection pool: %w", err)
	}
	e.opened = true

	Logger.Infof("Storage engine opened (page cache capacity %d)", e.config.CacheCapacity)
	return nil
}

// Close writes back all dirty pages, waits for the async appends of every timeline
// and shuts down the connection pool.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}

	err := e.cache.Close()
	if err != nil {
		Logger.Errorf("Failed to write back dirty pages on close: %v", err)
	}
	e.drainWriters()
	e.pool.Shutdown()

	Logger.Infof("Storage engine closed")
	return err
}

// --------------------------------------------------------------------------
// Timelines
// --------------------------------------------------------------------------

// CreateTimeline derives the timeline id from name and creates the timeline on the
// page server and then on the safekeeper. Creating an existing timeline is not an
// error. The LSN counter of the timeline continues after the latest LSN the page
// server knows.
func (e *Engine) CreateTimeline(name string) (types.TimelineID, error) {
	if e.closed.Load() {
		return 0, ErrEngineClosed
	}
	timeline := types.TimelineFromName(name)

	ps, err := e.pool.AcquirePageServer(e.config.Pool.AcquireTimeout)
	if err != nil {
		return 0, err
	}
	err = ps.Client().CreateTimeline(timeline)
	var latest types.LSN
	if err == nil {
		latest, err = ps.Client().TimelineInfo(timeline)
	}
	ps.Done(err)
	if err != nil {
		return 0, fmt.Errorf("failed to create timeline %q on the page server: %w", name, err)
	}

	sk, err := e.acquireSafekeeper(nil)
	if err != nil {
		return 0, err
	}
	err = sk.Client().CreateTimeline(timeline)
	sk.Done(err)
	if err != nil {
		return 0, fmt.Errorf("failed to create timeline %q on the safekeeper: %w", name, err)
	}

	w := e.writer(timeline)
	w.mu.Lock()
	w.observe(latest)
	w.mu.Unlock()

	Logger.Infof("Created timeline %q (%s)", name, timeline)
	return timeline, nil
}

// DeleteTimeline deletes the timeline on the page server and drops its cached
// pages. Its LSN counter restarts at 1. Deleting a missing timeline is not an error.
func (e *Engine) DeleteTimeline(timeline types.TimelineID) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	ps, err := e.pool.AcquirePageServer(e.config.Pool.AcquireTimeout)
	if err != nil {
		return err
	}
	err = ps.Client().DeleteTimeline(timeline)
	ps.Done(err)
	if err != nil {
		return fmt.Errorf("failed to delete timeline %s: %w", timeline, err)
	}

	dropped := e.cache.DropTimeline(timeline)
	if w, ok := e.writers.Load(timeline); ok {
		w.mu.Lock()
		if w.pinned != nil {
			e.unpinLocked(w)
		}
		w.last = 0
		w.mu.Unlock()
	}

	Logger.Infof("Deleted timeline %s (%d cached pages dropped)", timeline, dropped)
	return nil
}

// --------------------------------------------------------------------------
// Pages and WAL
// --------------------------------------------------------------------------

// ReadPage returns the page through the page cache
func (e *Engine) ReadPage(id types.PageID) (types.Page, error) {
	if e.closed.Load() {
		return types.Page{}, ErrEngineClosed
	}
	return e.cache.Read(id)
}

// WritePage replaces the cached contents of the page and marks it dirty. The page
// reaches the safekeeper as a page image record when it is evicted, on Flush or
// on Close.
func (e *Engine) WritePage(id types.PageID, page types.Page) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return e.cache.Write(id, page)
}

// Flush writes back all dirty pages and waits until the safekeeper answered every
// async record submitted before the call
func (e *Engine) Flush() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	err := e.cache.Flush()
	e.drainWriters()
	return err
}

// AppendRecord sends one WAL record to the safekeeper. An LSN of 0 is replaced by
// NextLSN. In Sync mode the call returns after the safekeeper acknowledged the
// record; in Async mode the record is queued on the client pinned to the timeline
// and failures are only logged by that client. Records of one timeline reach the
// safekeeper in submission order in both modes.
func (e *Engine) AppendRecord(timeline types.TimelineID, lsn types.LSN, data []byte, mode AppendMode) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	w := e.writer(timeline)
	w.mu.Lock()
	defer w.mu.Unlock()

	// Close drains the writers after setting closed
	if e.closed.Load() {
		return ErrEngineClosed
	}

	if lsn == 0 {
		lsn = w.next()
	} else {
		w.observe(lsn)
	}
	record := types.WalRecord{LSN: lsn, Data: data}

	var err error
	if mode == Async {
		err = e.appendAsyncLocked(w, timeline, record)
	} else {
		err = e.appendSyncLocked(w, timeline, record)
	}
	if err != nil {
		return fmt.Errorf("%s append of lsn %d to timeline %s failed: %w", mode, lsn, timeline, err)
	}
	return nil
}

// NextLSN returns the next LSN of the timeline. Counters start at 1 and never go
// below an LSN that was passed to AppendRecord.
func (e *Engine) NextLSN(timeline types.TimelineID) types.LSN {
	w := e.writer(timeline)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.next()
}

// AsyncStats returns the async append counters of all clients the engine pinned.
// Records of a client that is still pinned are counted once Flush or Close drained it.
func (e *Engine) AsyncStats() remote.AsyncStats {
	return remote.AsyncStats{
		AsyncSent:    e.asyncSent.Load(),
		AsyncFailed:  e.asyncFailed.Load(),
		AsyncDropped: e.asyncDropped.Load(),
	}
}

// PoolStats returns a snapshot of the connection pool counters
func (e *Engine) PoolStats() pool.PoolStats {
	return e.pool.Stats()
}

// CacheStats returns a snapshot of the page cache counters
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// Pool returns the connection pool owned by the engine
func (e *Engine) Pool() *pool.ConnectionPool {
	return e.pool
}

// Cache returns the page cache owned by the engine
func (e *Engine) Cache() *cache.PageCache {
	return e.cache
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// next hands out the next LSN, caller must hold mu
func (w *walWriter) next() types.LSN {
	w.last++
	return types.LSN(w.last)
}

// observe raises the counter to at least lsn, caller must hold mu
func (w *walWriter) observe(lsn types.LSN) {
	if uint64(lsn) > w.last {
		w.last = uint64(lsn)
	}
}

func (e *Engine) writer(timeline types.TimelineID) *walWriter {
	w, _ := e.writers.LoadOrCompute(timeline, func() *walWriter {
		return &walWriter{}
	})
	return w
}

// appendAsyncLocked queues the record on the client pinned to the timeline,
// pinning one first if needed
func (e *Engine) appendAsyncLocked(w *walWriter, timeline types.TimelineID, record types.WalRecord) error {
	if w.pinned == nil {
		lease, err := e.acquireSafekeeper(w)
		if err != nil {
			return err
		}
		w.pinned = lease
		w.baseline = lease.Client().Stats()
	}

	if err := w.pinned.Client().AppendAsync(timeline, record); err != nil {
		// the client is closed, nothing of it can be reused
		e.collectStats(w)
		w.pinned.Discard()
		w.pinned = nil
		return err
	}
	return nil
}

// appendSyncLocked sends the record after all async records of the timeline
// were answered
func (e *Engine) appendSyncLocked(w *walWriter, timeline types.TimelineID, record types.WalRecord) error {
	if w.pinned != nil {
		e.unpinLocked(w)
	}

	lease, err := e.acquireSafekeeper(w)
	if err != nil {
		return err
	}
	_, err = lease.Client().AppendSync(timeline, record)
	lease.Done(err)
	return err
}

// acquireSafekeeper leases a safekeeper connection. If the pool is exhausted,
// idle pinned connections of other timelines are returned and the lease is retried once.
func (e *Engine) acquireSafekeeper(w *walWriter) (*pool.Lease[remote.ISafekeeperClient], error) {
	lease, err := e.pool.AcquireSafekeeper(e.config.Pool.AcquireTimeout)
	if err == nil || !errors.Is(err, remote.ErrResourceExhausted) {
		return lease, err
	}
	if e.unpinIdle(w) == 0 {
		return nil, err
	}
	return e.pool.AcquireSafekeeper(e.config.Pool.AcquireTimeout)
}

// unpinLocked waits for the async records of the pinned client and returns it
// to the pool, caller must hold w.mu
func (e *Engine) unpinLocked(w *walWriter) {
	lease := w.pinned
	lease.Client().WaitAsync()
	e.collectStats(w)

	w.pinned = nil
	lease.Release()
}

// unpinIdle returns the pinned connections without outstanding records of all
// writers except skip. Writers that are busy are left alone.
func (e *Engine) unpinIdle(skip *walWriter) int {
	released := 0
	e.writers.Range(func(_ types.TimelineID, w *walWriter) bool {
		if w == skip || !w.mu.TryLock() {
			return true
		}
		if w.pinned != nil && w.pinned.Client().Pending() == 0 {
			e.unpinLocked(w)
			released++
		}
		w.mu.Unlock()
		return true
	})
	return released
}

// drainWriters unpins the clients of all timelines
func (e *Engine) drainWriters() {
	e.writers.Range(func(_ types.TimelineID, w *walWriter) bool {
		w.mu.Lock()
		if w.pinned != nil {
			e.unpinLocked(w)
		}
		w.mu.Unlock()
		return true
	})
}

// collectStats adds what the pinned client did since it was pinned, caller must hold w.mu
func (e *Engine) collectStats(w *walWriter) {
	now := w.pinned.Client().Stats()
	e.asyncSent.Add(now.AsyncSent - w.baseline.AsyncSent)
	e.asyncFailed.Add(now.AsyncFailed - w.baseline.AsyncFailed)
	e.asyncDropped.Add(now.AsyncDropped - w.baseline.AsyncDropped)
}

// writeBack is the write-back sink of the page cache. The page is appended
// synchronously as a page image record with a fresh LSN of its timeline.
func (e *Engine) writeBack(id types.PageID, page *types.Page) error {
	w := e.writer(id.Timeline)
	w.mu.Lock()
	defer w.mu.Unlock()

	record := types.WalRecord{LSN: w.next(), Data: EncodePageImage(id.Number, page)}
	return e.appendSyncLocked(w, id.Timeline, record)
}

// EncodePageImage builds the payload of a page image record: the big endian page
// number followed by the page contents
func EncodePageImage(number types.PageNumber, page *types.Page) []byte {
	buf := make([]byte, pageImageHeader+types.PageSize)
	binary.BigEndian.PutUint32(buf, uint32(number))
	copy(buf[pageImageHeader:], page[:])
	return buf
}

// DecodePageImage is the inverse of EncodePageImage
func DecodePageImage(data []byte) (types.PageNumber, types.Page, error) {
	var page types.Page
	if len(data) != pageImageHeader+types.PageSize {
		return 0, page, fmt.Errorf("page image must be %d bytes, got %d", pageImageHeader+types.PageSize, len(data))
	}
	copy(page[:], data[pageImageHeader:])
	return types.PageNumber(binary.BigEndian.Uint32(data)), page, nil
}
