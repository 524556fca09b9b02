package base

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dStor/rpc/common"
	"github.com/ValentinKolb/dStor/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"net"
	"sync"
	"time"
)

var Logger = logger.GetLogger("transport/rpc")

// ErrTransportClosed is returned by Send after Close
var ErrTransportClosed = errors.New("transport is closed")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(endpoint string, timeout time.Duration) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientTransportConfig) error
}

// -----------------------------------------------------------
// Client Transport
// -----------------------------------------------------------

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientTransportConfig
	conn          net.Conn
	connMu        sync.Mutex // Protects conn and serializes round trips
	nextRequestID uint64     // Guarded by connMu
	buf           []byte     // Read buffer, guarded by connMu
	closed        bool
}

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{
		connector:     connector,
		nextRequestID: 1, // Start from 1
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientTransportConfig) error {
	if config.Endpoint == "" {
		return fmt.Errorf("no endpoint provided")
	}

	t.connMu.Lock()
	defer t.connMu.Unlock()

	t.config = config
	t.closed = false

	if err := t.reconnect(); err != nil {
		return err
	}

	Logger.Debugf("Connected to %s using %s transport", config.Endpoint, t.connector.GetName())
	return nil
}

func (t *clientTransport) Send(timelineID uint64, req []byte) ([]byte, error) {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}

	// redial once if the previous round trip broke the connection
	if t.conn == nil {
		if err := t.reconnect(); err != nil {
			return nil, err
		}
		Logger.Infof("Reconnected to %s", t.config.Endpoint)
	}

	requestID := t.nextRequestID
	t.nextRequestID++

	if t.config.Timeout > 0 {
		if err := t.conn.SetDeadline(time.Now().Add(t.config.Timeout)); err != nil {
			t.dropConnection()
			return nil, fmt.Errorf("failed to set deadline: %v", err)
		}
	}

	if err := writeFrame(t.conn, timelineID, requestID, req); err != nil {
		t.dropConnection()
		return nil, fmt.Errorf("failed to send request: %v", err)
	}

	respTimeline, respID, data, err := readFrame(t.conn, t.buf)
	if err != nil {
		t.dropConnection()
		return nil, fmt.Errorf("failed to read response: %v", err)
	}

	if respID != requestID || respTimeline != timelineID {
		t.dropConnection()
		return nil, fmt.Errorf("response mismatch: expected request %d on timeline %d, got request %d on timeline %d",
			requestID, timelineID, respID, respTimeline)
	}

	// the read buffer is reused, hand out a copy
	resp := make([]byte, len(data))
	copy(resp, data)
	if cap(data) > cap(t.buf) {
		t.buf = data[:cap(data)]
	}

	return resp, nil
}

func (t *clientTransport) Close() error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	t.closed = true
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// dropConnection closes a broken connection, caller must hold connMu
func (t *clientTransport) dropConnection() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

// reconnect establishes or restores the connection, caller must hold connMu
func (t *clientTransport) reconnect() error {
	t.dropConnection()

	conn, err := t.connector.Connect(t.config.Endpoint, t.config.Timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %v", t.config.Endpoint, err)
	}

	if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
		conn.Close()
		return fmt.Errorf("failed to upgrade connection to %s: %v", t.config.Endpoint, err)
	}

	t.conn = conn
	return nil
}
