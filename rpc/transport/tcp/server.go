package tcp

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dStor/lib/types"
	"github.com/ValentinKolb/dStor/rpc/common"
	"github.com/ValentinKolb/dStor/rpc/transport"
	"github.com/ValentinKolb/dStor/rpc/transport/base"
	"net"
	"time"
)

// bufferSize holds a WAL record of four page images plus its header
const bufferSize = 4*types.PageSize + 1024

// serverConnector listens on a TCP address of the log keeper
type serverConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "tcp"
}

// Listen binds the safekeeper endpoint. Idle WAL writers are detected through
// TCP keep-alive packets at the connection timeout (or the OS default if unset).
func (c *serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	lc := net.ListenConfig{}
	if config.TimeoutSecond > 0 {
		lc.KeepAlive = time.Duration(config.TimeoutSecond) * time.Second
	}

	listener, err := lc.Listen(context.Background(), "tcp", config.SafekeeperEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on tcp://%s: %w", config.SafekeeperEndpoint, err)
	}
	return listener, nil
}

// --------------------------------------------------------------------------
// Server Transport Factory Method
// --------------------------------------------------------------------------

// NewTCPServerTransport creates the server side of the safekeeper stream over TCP
func NewTCPServerTransport() transport.IRPCServerTransport {
	return base.NewBaseServerTransport(&serverConnector{}, bufferSize)
}
