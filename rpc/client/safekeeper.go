package client

import (
	"fmt"
	"github.com/ValentinKolb/dStor/lib/remote"
	"github.com/ValentinKolb/dStor/lib/types"
	"github.com/ValentinKolb/dStor/lib/util"
	"github.com/ValentinKolb/dStor/rpc/common"
	"github.com/ValentinKolb/dStor/rpc/serializer"
	"github.com/ValentinKolb/dStor/rpc/transport"
	"github.com/google/uuid"
	"sync"
	"sync/atomic"
)

// NewSafekeeperClient creates a WAL client for the safekeeper described by config.Safekeeper.
// The transport and serializer are chosen by name from the configuration.
func NewSafekeeperClient(config common.ClientConfig) (remote.ISafekeeperClient, error) {
	t, err := newClientTransport(config.Safekeeper.Transport)
	if err != nil {
		return nil, err
	}
	s, err := serializer.FromName(config.Safekeeper.Serializer)
	if err != nil {
		return nil, err
	}
	return NewSafekeeperClientWith(config, t, s)
}

// NewSafekeeperClientWith creates a WAL client on top of the given transport and serializer.
// The peer is dialed by the first request, a failed dial is retried by the next one.
func NewSafekeeperClientWith(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (remote.ISafekeeperClient, error) {

	tc := config.Safekeeper
	if tc.Timeout == 0 {
		tc.Timeout = config.RequestTimeout
	}
	if tc.Endpoint == "" {
		return nil, fmt.Errorf("no safekeeper endpoint provided")
	}

	c := &safekeeperClient{
		id:         "sk-" + uuid.NewString(),
		config:     tc,
		transport:  transport,
		serializer: serializer,
		queue:      util.NewQueue[asyncAppend](),
		stopCh:     make(chan struct{}),
	}
	c.asyncIdle = sync.NewCond(&c.asyncMu)

	c.worker.Add(1)
	go c.drain()

	return c, nil
}

// asyncAppend is one queued fire-and-forget record
type asyncAppend struct {
	timeline types.TimelineID
	record   types.WalRecord
}

type safekeeperClient struct {
	id         string
	config     common.ClientTransportConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer

	dialMu sync.Mutex
	dialed bool // guarded by dialMu

	// async path
	queue     *util.Queue[asyncAppend]
	stopCh    chan struct{}
	worker    sync.WaitGroup
	closeOnce sync.Once
	closed    atomic.Bool

	// outstanding counts async records that are queued or in flight
	asyncMu     sync.Mutex
	asyncIdle   *sync.Cond
	outstanding int

	asyncSent    atomic.Uint64
	asyncFailed  atomic.Uint64
	asyncDropped atomic.Uint64
}

// --------------------------------------------------------------------------
// Interface Methods (docu see remote.ISafekeeperClient)
// --------------------------------------------------------------------------

func (c *safekeeperClient) ID() string {
	return c.id
}

func (c *safekeeperClient) CheckAvailability() error {
	if c.closed.Load() {
		return remote.ErrClientClosed
	}
	_, err := c.invoke(0, common.NewPingRequest())
	return err
}

func (c *safekeeperClient) AppendSync(timeline types.TimelineID, record types.WalRecord) (types.LSN, error) {
	if c.closed.Load() {
		return 0, remote.ErrClientClosed
	}
	return c.append(timeline, record)
}

func (c *safekeeperClient) AppendAsync(timeline types.TimelineID, record types.WalRecord) error {
	if c.closed.Load() {
		return remote.ErrClientClosed
	}

	// the caller may reuse its buffer as soon as we return
	item := asyncAppend{timeline: timeline, record: record.Clone()}

	c.asyncMu.Lock()
	c.outstanding++
	c.asyncMu.Unlock()

	if !c.queue.Push(item) {
		c.finishAsync(1)
		return remote.ErrClientClosed
	}
	return nil
}

func (c *safekeeperClient) CreateTimeline(timeline types.TimelineID) error {
	if c.closed.Load() {
		return remote.ErrClientClosed
	}
	_, err := c.invoke(uint64(timeline), common.NewCreateTimelineRequest(timeline))
	return err
}

func (c *safekeeperClient) Pending() int {
	c.asyncMu.Lock()
	defer c.asyncMu.Unlock()
	return c.outstanding
}

func (c *safekeeperClient) WaitAsync() {
	c.asyncMu.Lock()
	for c.outstanding > 0 {
		c.asyncIdle.Wait()
	}
	c.asyncMu.Unlock()
}

func (c *safekeeperClient) Stats() remote.AsyncStats {
	return remote.AsyncStats{
		AsyncSent:    c.asyncSent.Load(),
		AsyncFailed:  c.asyncFailed.Load(),
		AsyncDropped: c.asyncDropped.Load(),
	}
}

// Close stops the async worker, discards records that were not sent yet and
// closes the connection. A record that is currently being sent completes first.
func (c *safekeeperClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.closed.Store(true)
		c.worker.Wait()

		if dropped := c.queue.Abort(); dropped > 0 {
			c.asyncDropped.Add(uint64(dropped))
			c.finishAsync(dropped)
			Logger.Warningf("Safekeeper client %s dropped %d queued async appends on close", c.id, dropped)
		}

		c.dialMu.Lock()
		err = c.transport.Close()
		c.dialMu.Unlock()
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// connect dials the peer once, later redials are left to the transport
func (c *safekeeperClient) connect() error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	if c.closed.Load() {
		return remote.ErrClientClosed
	}
	if c.dialed {
		return nil
	}
	if err := c.transport.Connect(c.config); err != nil {
		return fmt.Errorf("%w: %v", remote.ErrTransport, err)
	}
	c.dialed = true
	return nil
}

func (c *safekeeperClient) invoke(timelineID uint64, req *common.Message) (*common.Message, error) {
	if err := c.connect(); err != nil {
		return nil, err
	}
	return invokeRPCRequest(timelineID, req, c.transport, c.serializer)
}

// finishAsync marks n async records as answered or dropped
func (c *safekeeperClient) finishAsync(n int) {
	c.asyncMu.Lock()
	c.outstanding -= n
	if c.outstanding <= 0 {
		c.outstanding = 0
		c.asyncIdle.Broadcast()
	}
	c.asyncMu.Unlock()
}

// append performs one synchronous round trip for the record
func (c *safekeeperClient) append(timeline types.TimelineID, record types.WalRecord) (types.LSN, error) {
	resp, err := c.invoke(uint64(timeline), common.NewAppendRequest(timeline, record))
	if err != nil {
		return 0, err
	}
	if resp.CommittedLSN == 0 {
		return record.LSN, nil
	}
	return types.LSN(resp.CommittedLSN), nil
}

// drain is the single worker of the async path, it sends queued records in order
func (c *safekeeperClient) drain() {
	defer c.worker.Done()

	for {
		// a pending stop wins over queued records
		select {
		case <-c.stopCh:
			return
		default:
		}

		select {
		case <-c.stopCh:
			return
		case item, ok := <-c.queue.Recv():
			if !ok {
				return
			}
			if _, err := c.append(item.timeline, item.record); err != nil {
				c.asyncFailed.Add(1)
				Logger.Warningf("Async append of lsn %d on timeline %s failed: %v", item.record.LSN, item.timeline, err)
			} else {
				c.asyncSent.Add(1)
			}
			c.finishAsync(1)
		}
	}
}
