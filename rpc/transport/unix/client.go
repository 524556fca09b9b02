package unix

import (
	"github.com/ValentinKolb/dStor/rpc/common"
	"github.com/ValentinKolb/dStor/rpc/transport"
	"github.com/ValentinKolb/dStor/rpc/transport/base"
	"net"
	"time"
)

// clientConnector implements the IClientConnector interface for Unix sockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "unix"
}

func (c *clientConnector) Connect(endpoint string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", endpoint, timeout)
}

func (c *clientConnector) UpgradeConnection(conn net.Conn, config common.ClientTransportConfig) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}
	if config.WriteBufferSize > 0 {
		if err := unixConn.SetWriteBuffer(config.WriteBufferSize); err != nil {
			return err
		}
	}
	if config.ReadBufferSize > 0 {
		if err := unixConn.SetReadBuffer(config.ReadBufferSize); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Client Transport Factory Method
// --------------------------------------------------------------------------

// NewUnixClientTransport creates a new Unix client transport
func NewUnixClientTransport() transport.IRPCClientTransport {
	return base.NewBaseClientTransport(&clientConnector{})
}
