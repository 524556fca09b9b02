package base

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dStor/rpc/common"
	"github.com/ValentinKolb/dStor/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}

// -----------------------------------------------------------
// Server Transport
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector  IServerConnector
	handler    transport.ServerHandleFunc
	config     common.ServerConfig
	listener   net.Listener
	ready      chan struct{}
	readyOnce  sync.Once
	closing    atomic.Bool
	conns      *xsync.MapOf[uint64, net.Conn]
	nextConnID atomic.Uint64
	bufferPool *sync.Pool
	wg         sync.WaitGroup
}

// NewBaseServerTransport creates a new base server transport.
// Frames of one connection are handled one after another so the handler observes
// them in arrival order.
func NewBaseServerTransport(connector IServerConnector, bufferSize int) transport.IRPCServerTransport {
	return &serverTransport{
		connector: connector,
		ready:     make(chan struct{}),
		conns:     xsync.NewMapOf[uint64, net.Conn](),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	t.config = config

	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}
	t.listener = listener
	t.readyOnce.Do(func() { close(t.ready) })

	// Close may have run before the listener existed
	if t.closing.Load() {
		return listener.Close()
	}

	Logger.Infof("Starting %s server on %s", t.connector.GetName(), listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.closing.Load() || errors.Is(err, net.ErrClosed) {
				t.wg.Wait()
				return nil
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		id := t.nextConnID.Add(1)
		t.conns.Store(id, conn)
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			defer t.conns.Delete(id)
			t.handleConnection(conn)
		}()
	}
}

func (t *serverTransport) Addr() net.Addr {
	select {
	case <-t.ready:
		return t.listener.Addr()
	case <-time.After(5 * time.Second):
		return nil
	}
}

func (t *serverTransport) Close() error {
	if t.closing.Swap(true) {
		return nil
	}

	var err error
	select {
	case <-t.ready:
		err = t.listener.Close()
	default:
	}

	t.conns.Range(func(_ uint64, conn net.Conn) bool {
		_ = conn.Close()
		return true
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection handles incoming requests for one connection
func (t *serverTransport) handleConnection(conn net.Conn) {
	defer conn.Close()

	timeout := time.Duration(t.config.TimeoutSecond) * time.Second

	buf := t.bufferPool.Get().([]byte)
	defer t.bufferPool.Put(buf)

	for {
		if timeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				Logger.Errorf("Failed to set read deadline: %v", err)
				return
			}
		}

		timelineID, requestID, data, err := readFrame(conn, buf)

		// Case EOF: Connection closed by client
		if err == io.EOF || t.closing.Load() {
			Logger.Debugf("Connection closed by client")
			return
		}
		if err != nil {
			Logger.Errorf("Error reading request: %v", err)
			return
		}

		start := time.Now()
		resp := t.handler(timelineID, data)
		Logger.Debugf("Processed request %d for timeline %d took %s", requestID, timelineID, time.Since(start))

		if timeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				Logger.Errorf("Failed to set write deadline: %v", err)
				return
			}
		}

		// answer with the same timeline and request id
		if err := writeFrame(conn, timelineID, requestID, resp); err != nil {
			Logger.Errorf("Failed to write response: %v", err)
			return
		}
	}
}
