package client

import (
	"errors"
	"github.com/ValentinKolb/dStor/lib/remote"
	"github.com/ValentinKolb/dStor/lib/types"
	"github.com/ValentinKolb/dStor/rpc/common"
	"github.com/ValentinKolb/dStor/rpc/serializer"
	"github.com/ValentinKolb/dStor/rpc/server"
	"github.com/ValentinKolb/dStor/rpc/transport/tcp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// startSafekeeper starts an in-process reference safekeeper on a random port
func startSafekeeper(t *testing.T, serializerName string) (*server.SafekeeperServer, common.ClientConfig) {
	t.Helper()

	s, err := serializer.FromName(serializerName)
	require.NoError(t, err)

	sk := server.NewSafekeeperServer(common.ServerConfig{
		SafekeeperTransport: "tcp",
		SafekeeperEndpoint:  "127.0.0.1:0",
	}, tcp.NewTCPServerTransport(), s)
	go func() { _ = sk.Serve() }()
	addr := sk.Addr()
	require.NotNil(t, addr)
	t.Cleanup(func() { _ = sk.Close() })

	conf := common.DefaultClientConfig()
	conf.RequestTimeout = 2 * time.Second
	conf.Safekeeper.Endpoint = addr.String()
	conf.Safekeeper.Serializer = serializerName
	return sk, conf
}

// blockingTransport answers appends successfully, the first Send blocks until release is closed
type blockingTransport struct {
	mu       sync.Mutex
	started  chan struct{}
	release  chan struct{}
	sent     []uint64
	once     sync.Once
	serial   serializer.IRPCSerializer
	sendFail bool
	dials    atomic.Int32
}

func newBlockingTransport() *blockingTransport {
	return &blockingTransport{
		started: make(chan struct{}),
		release: make(chan struct{}),
		serial:  serializer.NewBinarySerializer(),
	}
}

func (b *blockingTransport) Connect(common.ClientTransportConfig) error {
	b.dials.Add(1)
	return nil
}
func (b *blockingTransport) Close() error                              { return nil }

func (b *blockingTransport) Send(timelineID uint64, req []byte) ([]byte, error) {
	b.once.Do(func() {
		close(b.started)
		<-b.release
	})

	var msg common.Message
	if err := b.serial.Deserialize(req, &msg); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.sent = append(b.sent, msg.LSN)
	fail := b.sendFail
	b.mu.Unlock()

	if fail {
		return nil, errors.New("connection reset")
	}
	return b.serial.Serialize(*common.NewAppendResponse(types.LSN(msg.LSN), nil))
}

func (b *blockingTransport) sentLSNs() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uint64(nil), b.sent...)
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestSafekeeperAppendSync(t *testing.T) {
	for _, name := range []string{"binary", "json", "gob"} {
		t.Run(name, func(t *testing.T) {
			sk, conf := startSafekeeper(t, name)

			c, err := NewSafekeeperClient(conf)
			require.NoError(t, err)
			defer c.Close()

			require.NoError(t, c.CheckAvailability())
			require.NoError(t, c.CreateTimeline(7))

			lsn, err := c.AppendSync(7, types.WalRecord{LSN: 1, Data: []byte("first")})
			require.NoError(t, err)
			assert.Equal(t, types.LSN(1), lsn)

			// equal lsn is rejected by the peer
			_, err = c.AppendSync(7, types.WalRecord{LSN: 1, Data: []byte("again")})
			assert.ErrorIs(t, err, remote.ErrProtocol)
			assert.ErrorIs(t, err, remote.ErrRejected)
			assert.False(t, remote.IsPeerFailure(err))

			// unknown timeline is rejected as well
			_, err = c.AppendSync(8, types.WalRecord{LSN: 1, Data: []byte("x")})
			assert.ErrorIs(t, err, remote.ErrRejected)

			// the connection survives rejections
			require.NoError(t, c.CheckAvailability())

			records := sk.Log().Records(7)
			require.Len(t, records, 1)
			assert.Equal(t, []byte("first"), records[0].Data)
		})
	}
}

func TestSafekeeperAsyncKeepsSubmissionOrder(t *testing.T) {
	sk, conf := startSafekeeper(t, "binary")

	c, err := NewSafekeeperClient(conf)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.CreateTimeline(1))

	buf := []byte("payload")
	for _, lsn := range []types.LSN{10, 11, 12} {
		require.NoError(t, c.AppendAsync(1, types.WalRecord{LSN: lsn, Data: buf}))
	}
	// the record was copied, later changes to the buffer are not sent
	copy(buf, "PAYLOAD")

	require.Eventually(t, func() bool {
		return sk.Log().LastLSN(1) == 12
	}, 2*time.Second, 5*time.Millisecond)

	records := sk.Log().Records(1)
	require.Len(t, records, 3)
	for i, lsn := range []types.LSN{10, 11, 12} {
		assert.Equal(t, lsn, records[i].LSN)
		assert.Equal(t, []byte("payload"), records[i].Data)
	}

	c.WaitAsync()
	assert.Equal(t, uint64(3), c.Stats().AsyncSent)
	assert.Equal(t, 0, c.Pending())
}

func TestSafekeeperWaitAsyncCoversInFlightRecords(t *testing.T) {
	bt := newBlockingTransport()

	c, err := NewSafekeeperClientWith(common.DefaultClientConfig(), bt, serializer.NewBinarySerializer())
	require.NoError(t, err)
	defer c.Close()

	for lsn := types.LSN(1); lsn <= 3; lsn++ {
		require.NoError(t, c.AppendAsync(1, types.WalRecord{LSN: lsn}))
	}
	<-bt.started

	// the first record is in flight, the others are queued
	assert.Equal(t, 3, c.Pending())

	waited := make(chan struct{})
	go func() {
		c.WaitAsync()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("WaitAsync returned while records were outstanding")
	case <-time.After(50 * time.Millisecond):
	}

	close(bt.release)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitAsync did not return after the queue drained")
	}

	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, []uint64{1, 2, 3}, bt.sentLSNs())
}

func TestSafekeeperDialsOnFirstRequest(t *testing.T) {
	bt := newBlockingTransport()
	close(bt.release)

	c, err := NewSafekeeperClientWith(common.DefaultClientConfig(), bt, serializer.NewBinarySerializer())
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, int32(0), bt.dials.Load())

	_, err = c.AppendSync(1, types.WalRecord{LSN: 1})
	require.NoError(t, err)
	_, err = c.AppendSync(1, types.WalRecord{LSN: 2})
	require.NoError(t, err)
	assert.Equal(t, int32(1), bt.dials.Load())

	conf := common.DefaultClientConfig()
	conf.Safekeeper.Endpoint = ""
	_, err = NewSafekeeperClientWith(conf, newBlockingTransport(), serializer.NewBinarySerializer())
	assert.Error(t, err)
}

func TestSafekeeperCloseDropsQueuedAppends(t *testing.T) {
	bt := newBlockingTransport()

	c, err := NewSafekeeperClientWith(common.DefaultClientConfig(), bt, serializer.NewBinarySerializer())
	require.NoError(t, err)

	for lsn := types.LSN(1); lsn <= 5; lsn++ {
		require.NoError(t, c.AppendAsync(1, types.WalRecord{LSN: lsn, Data: []byte{byte(lsn)}}))
	}

	// the worker is stuck sending the first record
	<-bt.started

	done := make(chan error, 1)
	go func() { done <- c.Close() }()

	require.Eventually(t, func() bool {
		return errors.Is(c.AppendAsync(1, types.WalRecord{LSN: 99}), remote.ErrClientClosed)
	}, time.Second, time.Millisecond)

	close(bt.release)
	require.NoError(t, <-done)

	// the in-flight record completes, everything behind it is discarded
	assert.Equal(t, []uint64{1}, bt.sentLSNs())
	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.AsyncSent)
	assert.Equal(t, uint64(4), stats.AsyncDropped)

	_, err = c.AppendSync(1, types.WalRecord{LSN: 6})
	assert.ErrorIs(t, err, remote.ErrClientClosed)
	assert.NoError(t, c.Close())
}

func TestSafekeeperAsyncFailuresAreCounted(t *testing.T) {
	bt := newBlockingTransport()
	bt.sendFail = true
	close(bt.release)

	c, err := NewSafekeeperClientWith(common.DefaultClientConfig(), bt, serializer.NewBinarySerializer())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.AppendAsync(1, types.WalRecord{LSN: 1, Data: []byte("x")}))
	require.NoError(t, c.AppendAsync(1, types.WalRecord{LSN: 2, Data: []byte("y")}))

	require.Eventually(t, func() bool {
		return c.Stats().AsyncFailed == 2
	}, time.Second, time.Millisecond)

	// sync failures of the transport surface as transport errors
	_, err = c.AppendSync(1, types.WalRecord{LSN: 3})
	assert.ErrorIs(t, err, remote.ErrTransport)
}

func TestSafekeeperReconnectsAfterPeerRestart(t *testing.T) {
	sk, conf := startSafekeeper(t, "binary")

	c, err := NewSafekeeperClient(conf)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.CheckAvailability())

	require.NoError(t, sk.Close())
	assert.ErrorIs(t, c.CheckAvailability(), remote.ErrTransport)

	sk2 := server.NewSafekeeperServer(common.ServerConfig{
		SafekeeperTransport: "tcp",
		SafekeeperEndpoint:  conf.Safekeeper.Endpoint,
	}, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
	go func() { _ = sk2.Serve() }()
	require.NotNil(t, sk2.Addr())
	defer sk2.Close()

	assert.NoError(t, c.CheckAvailability())
}

func TestSafekeeperUnreachable(t *testing.T) {
	conf := common.DefaultClientConfig()
	conf.Safekeeper.Endpoint = "127.0.0.1:1"
	conf.RequestTimeout = 500 * time.Millisecond

	// construction does not dial, the first request reports the failure
	c, err := NewSafekeeperClient(conf)
	require.NoError(t, err)
	assert.ErrorIs(t, c.CheckAvailability(), remote.ErrTransport)
	_, err = c.AppendSync(1, types.WalRecord{LSN: 1})
	assert.ErrorIs(t, err, remote.ErrTransport)
	require.NoError(t, c.Close())

	conf.Safekeeper.Transport = "carrier-pigeon"
	_, err = NewSafekeeperClient(conf)
	assert.Error(t, err)
}

func TestSafekeeperFirstDialIsRetried(t *testing.T) {
	sk, conf := startSafekeeper(t, "binary")
	require.NoError(t, sk.Close())

	c, err := NewSafekeeperClient(conf)
	require.NoError(t, err)
	defer c.Close()
	assert.ErrorIs(t, c.CheckAvailability(), remote.ErrTransport)

	sk2 := server.NewSafekeeperServer(common.ServerConfig{
		SafekeeperTransport: "tcp",
		SafekeeperEndpoint:  conf.Safekeeper.Endpoint,
	}, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
	go func() { _ = sk2.Serve() }()
	require.NotNil(t, sk2.Addr())
	defer sk2.Close()

	assert.NoError(t, c.CheckAvailability())
}
