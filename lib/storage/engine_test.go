package storage

import (
	"fmt"
	"github.com/ValentinKolb/dStor/lib/remote"
	"github.com/ValentinKolb/dStor/lib/types"
	"github.com/ValentinKolb/dStor/rpc/common"
	"github.com/ValentinKolb/dStor/rpc/serializer"
	"github.com/ValentinKolb/dStor/rpc/server"
	"github.com/ValentinKolb/dStor/rpc/transport/tcp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

type testEnv struct {
	engine     *Engine
	pageServer *server.PageServer
	safekeeper *server.SafekeeperServer
}

func startPeers(t *testing.T) (*server.PageServer, *server.SafekeeperServer) {
	t.Helper()

	ps, err := server.NewPageServer(common.ServerConfig{PageServerEndpoint: "127.0.0.1:0"})
	require.NoError(t, err)
	go func() { _ = ps.Serve() }()
	t.Cleanup(func() { _ = ps.Close() })

	sk := server.NewSafekeeperServer(common.ServerConfig{
		SafekeeperTransport: "tcp",
		SafekeeperEndpoint:  "127.0.0.1:0",
	}, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
	go func() { _ = sk.Serve() }()
	require.NotNil(t, sk.Addr())
	t.Cleanup(func() { _ = sk.Close() })

	return ps, sk
}

func testConfig(pageServerURL, safekeeperEndpoint string, capacity int) common.StorageConfig {
	config := common.DefaultStorageConfig()
	config.Pool.MinPageServerConns = 1
	config.Pool.MaxPageServerConns = 2
	config.Pool.MinSafekeeperConns = 1
	config.Pool.MaxSafekeeperConns = 1
	config.Pool.HealthCheckInterval = time.Hour
	config.Pool.AcquireTimeout = 200 * time.Millisecond
	config.Client.PageServerURL = pageServerURL
	config.Client.Safekeeper.Endpoint = safekeeperEndpoint
	config.Client.RequestTimeout = 2 * time.Second
	config.CacheCapacity = capacity
	return config
}

func newTestEnv(t *testing.T, capacity int) *testEnv {
	t.Helper()

	ps, sk := startPeers(t)
	return newTestEnvWith(t, testConfig(ps.URL(), sk.Addr().String(), capacity), ps, sk)
}

func newTestEnvWith(t *testing.T, config common.StorageConfig, ps *server.PageServer, sk *server.SafekeeperServer) *testEnv {
	t.Helper()

	connPool, err := NewConnectionPool(config)
	require.NoError(t, err)
	engine, err := NewEngine(config, connPool)
	require.NoError(t, err)
	require.NoError(t, engine.Open())
	t.Cleanup(func() { _ = engine.Close() })

	return &testEnv{engine: engine, pageServer: ps, safekeeper: sk}
}

func lsnsOf(records []types.WalRecord) []types.LSN {
	out := make([]types.LSN, len(records))
	for i, r := range records {
		out[i] = r.LSN
	}
	return out
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestEngineOpen(t *testing.T) {
	env := newTestEnv(t, 4)

	stats := env.engine.PoolStats()
	assert.Equal(t, 1, stats.PageServer.Total)
	assert.Equal(t, 1, stats.Safekeeper.Total)
	assert.NoError(t, env.engine.Open())
}

func TestEngineCreateTimeline(t *testing.T) {
	env := newTestEnv(t, 4)

	timeline, err := env.engine.CreateTimeline("users")
	require.NoError(t, err)
	assert.Equal(t, types.TimelineFromName("users"), timeline)
	assert.True(t, env.pageServer.Store().HasTimeline(timeline))

	// creating again is fine
	again, err := env.engine.CreateTimeline("users")
	require.NoError(t, err)
	assert.Equal(t, timeline, again)

	// the safekeeper knows the timeline
	require.NoError(t, env.engine.AppendRecord(timeline, 0, []byte("row"), Sync))
	assert.Len(t, env.safekeeper.Log().Records(timeline), 1)
}

func TestEngineCreateTimelineContinuesLSN(t *testing.T) {
	env := newTestEnv(t, 4)

	timeline := types.TimelineFromName("orders")
	env.pageServer.Store().CreateTimeline(timeline)
	env.pageServer.Store().PutPage(types.PageID{Timeline: timeline}, []byte("x"), 41)

	_, err := env.engine.CreateTimeline("orders")
	require.NoError(t, err)
	assert.Equal(t, types.LSN(42), env.engine.NextLSN(timeline))
}

func TestEngineReadPageThroughCache(t *testing.T) {
	env := newTestEnv(t, 4)

	timeline, err := env.engine.CreateTimeline("pages")
	require.NoError(t, err)
	id := types.PageID{Timeline: timeline, Number: 3}
	env.pageServer.Store().PutPage(id, []byte("hello"), 1)

	page, err := env.engine.ReadPage(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), page[:5])
	assert.Equal(t, make([]byte, types.PageSize-5), page[5:])

	// a changed page on the server is not seen, the cached copy is served
	env.pageServer.Store().PutPage(id, []byte("world"), 2)
	page, err = env.engine.ReadPage(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), page[:5])

	stats := env.engine.CacheStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, uint64(2), env.engine.PoolStats().PageServer.Hits)
}

func TestEngineAppendRecord(t *testing.T) {
	env := newTestEnv(t, 4)

	timeline, err := env.engine.CreateTimeline("wal")
	require.NoError(t, err)

	require.NoError(t, env.engine.AppendRecord(timeline, 10, []byte("a"), Sync))
	require.NoError(t, env.engine.AppendRecord(timeline, 11, []byte("b"), Async))
	require.NoError(t, env.engine.AppendRecord(timeline, 12, []byte("c"), Async))

	assert.Eventually(t, func() bool {
		return len(env.safekeeper.Log().Records(timeline)) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []types.LSN{10, 11, 12}, lsnsOf(env.safekeeper.Log().Records(timeline)))

	// LSN 0 continues after the highest LSN seen
	assert.Equal(t, types.LSN(13), env.engine.NextLSN(timeline))
	require.NoError(t, env.engine.AppendRecord(timeline, 0, []byte("d"), Sync))
	assert.Equal(t, types.LSN(14), env.safekeeper.Log().LastLSN(timeline))

	// the safekeeper rejects an old LSN, the connection is kept
	err = env.engine.AppendRecord(timeline, 5, []byte("old"), Sync)
	assert.ErrorIs(t, err, remote.ErrProtocol)
	assert.ErrorIs(t, err, remote.ErrRejected)
	assert.Equal(t, 1, env.engine.PoolStats().Safekeeper.Total)
}

func TestEngineAsyncAppendsKeepOrderWithDefaultPool(t *testing.T) {
	ps, sk := startPeers(t)
	config := common.DefaultStorageConfig()
	config.Pool.HealthCheckInterval = time.Hour
	config.Client.PageServerURL = ps.URL()
	config.Client.Safekeeper.Endpoint = sk.Addr().String()
	config.Client.RequestTimeout = 2 * time.Second
	env := newTestEnvWith(t, config, ps, sk)
	require.Greater(t, env.engine.PoolStats().Safekeeper.Total, 1)

	const n = 300
	ordered, err := env.engine.CreateTimeline("ordered")
	require.NoError(t, err)
	other, err := env.engine.CreateTimeline("other")
	require.NoError(t, err)

	// a second timeline competes for the same connections
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			mode := Async
			if i%10 == 0 {
				mode = Sync
			}
			assert.NoError(t, env.engine.AppendRecord(other, 0, []byte("other"), mode))
		}
	}()

	for i := 1; i <= n; i++ {
		require.NoError(t, env.engine.AppendRecord(ordered, 0, []byte(fmt.Sprintf("row-%d", i)), Async))
	}
	wg.Wait()
	require.NoError(t, env.engine.Flush())

	records := env.safekeeper.Log().Records(ordered)
	require.Len(t, records, n)
	for i, r := range records {
		assert.Equal(t, types.LSN(i+1), r.LSN)
		assert.Equal(t, []byte(fmt.Sprintf("row-%d", i+1)), r.Data)
	}
	assert.Len(t, env.safekeeper.Log().Records(other), n)

	stats := env.engine.AsyncStats()
	assert.Equal(t, uint64(0), stats.AsyncFailed)
	assert.Equal(t, uint64(0), stats.AsyncDropped)
	assert.Equal(t, uint64(n+n-n/10), stats.AsyncSent)
}

func TestEngineAsyncThenSyncKeepsOrder(t *testing.T) {
	env := newTestEnv(t, 4)

	timeline, err := env.engine.CreateTimeline("mixed")
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, env.engine.AppendRecord(timeline, 0, []byte("async"), Async))
	}
	// the sync record is sent after every queued async record
	require.NoError(t, env.engine.AppendRecord(timeline, 0, []byte("sync"), Sync))

	records := env.safekeeper.Log().Records(timeline)
	require.Len(t, records, 51)
	assert.Equal(t, types.LSN(51), records[50].LSN)
	assert.Equal(t, []byte("sync"), records[50].Data)
	assert.Equal(t, uint64(50), env.engine.AsyncStats().AsyncSent)
}

func TestEngineReturnsIdlePinsWhenPoolIsExhausted(t *testing.T) {
	env := newTestEnv(t, 4)

	first, err := env.engine.CreateTimeline("first")
	require.NoError(t, err)
	second, err := env.engine.CreateTimeline("second")
	require.NoError(t, err)

	// the only safekeeper connection gets pinned to the first timeline
	require.NoError(t, env.engine.AppendRecord(first, 0, []byte("a"), Async))
	require.Eventually(t, func() bool {
		w := env.engine.writer(first)
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.pinned != nil && w.pinned.Client().Pending() == 0
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, env.engine.AppendRecord(second, 0, []byte("b"), Async))
	require.NoError(t, env.engine.Flush())

	assert.Len(t, env.safekeeper.Log().Records(first), 1)
	assert.Len(t, env.safekeeper.Log().Records(second), 1)
	assert.Equal(t, 1, env.engine.PoolStats().Safekeeper.Total)
}

func TestEngineCloseWaitsForAsyncAppends(t *testing.T) {
	env := newTestEnv(t, 4)

	timeline, err := env.engine.CreateTimeline("drain")
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, env.engine.AppendRecord(timeline, 0, []byte("x"), Async))
	}

	require.NoError(t, env.engine.Close())
	assert.Len(t, env.safekeeper.Log().Records(timeline), 100)
	assert.Equal(t, uint64(100), env.engine.AsyncStats().AsyncSent)
}

func TestEngineDirtyPageWriteBack(t *testing.T) {
	env := newTestEnv(t, 1)

	timeline, err := env.engine.CreateTimeline("dirty")
	require.NoError(t, err)

	var page types.Page
	copy(page[:], "modified")
	dirty := types.PageID{Timeline: timeline, Number: 7}
	require.NoError(t, env.engine.WritePage(dirty, page))
	assert.Empty(t, env.safekeeper.Log().Records(timeline))

	// reading another page evicts the dirty one
	other := types.PageID{Timeline: timeline, Number: 8}
	env.pageServer.Store().PutPage(other, []byte("other"), 1)
	_, err = env.engine.ReadPage(other)
	require.NoError(t, err)

	records := env.safekeeper.Log().Records(timeline)
	require.Len(t, records, 1)
	number, image, err := DecodePageImage(records[0].Data)
	require.NoError(t, err)
	assert.Equal(t, dirty.Number, number)
	assert.Equal(t, page, image)
	assert.Equal(t, int64(1), env.engine.CacheStats().WriteBacks)
}

func TestEngineCloseFlushes(t *testing.T) {
	env := newTestEnv(t, 4)

	timeline, err := env.engine.CreateTimeline("close")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		var page types.Page
		page[0] = byte(i)
		require.NoError(t, env.engine.WritePage(types.PageID{Timeline: timeline, Number: types.PageNumber(i)}, page))
	}

	require.NoError(t, env.engine.Close())
	assert.Equal(t, []types.LSN{1, 2, 3}, lsnsOf(env.safekeeper.Log().Records(timeline)))

	_, err = env.engine.ReadPage(types.PageID{Timeline: timeline})
	assert.ErrorIs(t, err, ErrEngineClosed)
	assert.ErrorIs(t, env.engine.AppendRecord(timeline, 0, nil, Sync), ErrEngineClosed)
	_, err = env.engine.CreateTimeline("late")
	assert.ErrorIs(t, err, ErrEngineClosed)
	assert.ErrorIs(t, env.engine.Open(), ErrEngineClosed)
	assert.NoError(t, env.engine.Close())
}

func TestEngineDeleteTimeline(t *testing.T) {
	env := newTestEnv(t, 4)

	timeline, err := env.engine.CreateTimeline("gone")
	require.NoError(t, err)
	id := types.PageID{Timeline: timeline, Number: 0}
	_, err = env.engine.ReadPage(id)
	require.NoError(t, err)
	assert.Equal(t, 1, env.engine.Cache().Len())

	require.NoError(t, env.engine.DeleteTimeline(timeline))
	require.NoError(t, env.engine.DeleteTimeline(timeline))
	assert.False(t, env.pageServer.Store().HasTimeline(timeline))
	assert.Equal(t, 0, env.engine.Cache().Len())

	// the page server answers 404, its connection stays in the pool
	total := env.engine.PoolStats().PageServer.Total
	_, err = env.engine.ReadPage(id)
	assert.ErrorIs(t, err, remote.ErrProtocol)
	assert.ErrorIs(t, err, remote.ErrRejected)
	assert.Equal(t, total, env.engine.PoolStats().PageServer.Total)

	// the LSN counter restarts
	assert.Equal(t, types.LSN(1), env.engine.NextLSN(timeline))
}

func TestEngineUnreachableSafekeeper(t *testing.T) {
	ps, sk := startPeers(t)
	endpoint := sk.Addr().String()
	require.NoError(t, sk.Close())

	config := testConfig(ps.URL(), endpoint, 4)
	connPool, err := NewConnectionPool(config)
	require.NoError(t, err)
	engine, err := NewEngine(config, connPool)
	require.NoError(t, err)
	defer engine.Close()

	// warm up failures are not fatal
	require.NoError(t, engine.Open())
	assert.Equal(t, 0, engine.PoolStats().Safekeeper.Total)

	err = engine.AppendRecord(1, 1, []byte("x"), Sync)
	assert.ErrorIs(t, err, remote.ErrResourceExhausted)
	assert.ErrorIs(t, err, remote.ErrTransport)

	_, err = engine.CreateTimeline("t")
	assert.ErrorIs(t, err, remote.ErrResourceExhausted)
}

func TestPageImageRoundTrip(t *testing.T) {
	var page types.Page
	copy(page[:], "image")

	number, decoded, err := DecodePageImage(EncodePageImage(99, &page))
	require.NoError(t, err)
	assert.Equal(t, types.PageNumber(99), number)
	assert.Equal(t, page, decoded)

	_, _, err = DecodePageImage([]byte("short"))
	assert.Error(t, err)
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(common.DefaultStorageConfig(), nil)
	assert.Error(t, err)

	config := common.DefaultStorageConfig()
	config.CacheCapacity = 0
	connPool, err := NewConnectionPool(config)
	require.NoError(t, err)
	_, err = NewEngine(config, connPool)
	assert.Error(t, err)
}
