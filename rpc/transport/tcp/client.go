package tcp

import (
	"github.com/ValentinKolb/dStor/rpc/common"
	"github.com/ValentinKolb/dStor/rpc/transport"
	"github.com/ValentinKolb/dStor/rpc/transport/base"
	"net"
	"time"
)

// clientConnector implements the IClientConnector interface for TCP sockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Connect(endpoint string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", endpoint, timeout)
}

// UpgradeConnection applies performance optimizations to a TCP connection
// using configuration values from TCPConf and SocketConf
func (c *clientConnector) UpgradeConnection(conn net.Conn, config common.ClientTransportConfig) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	// Disable Nagle's algorithm (TCPNoDelay) if configured
	if err := tcpConn.SetNoDelay(config.TCPNoDelay); err != nil {
		return err
	}

	if config.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(config.WriteBufferSize); err != nil {
			return err
		}
	}

	if config.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(config.ReadBufferSize); err != nil {
			return err
		}
	}

	if config.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		keepAlivePeriod := time.Duration(config.TCPKeepAliveSec) * time.Second
		if err := tcpConn.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
			return err
		}
	}

	if config.TCPLingerSec >= 0 {
		if err := tcpConn.SetLinger(config.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Client Transport Factory Method
// --------------------------------------------------------------------------

// NewTCPClientTransport creates a new TCP client transport
func NewTCPClientTransport() transport.IRPCClientTransport {
	return base.NewBaseClientTransport(&clientConnector{})
}
