package transport

import (
	"github.com/ValentinKolb/dStor/rpc/common"
	"net"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes the timeline id of the frame and a request as parameters and returns a response
type ServerHandleFunc func(timelineID uint64, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the server side of the safekeeper stream
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler is called for every received frame, in arrival order per connection
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and blocks while accepting connections.
	// It returns nil once Close was called.
	Listen(config common.ServerConfig) error
	// Addr returns the bound address once the listener is ready (nil if it never got ready)
	Addr() net.Addr
	// Close stops accepting and closes all open connections
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the client side of the safekeeper stream.
// One transport owns exactly one connection and allows one request in flight.
type IRPCClientTransport interface {
	// Connect dials the endpoint of the given configuration
	Connect(config common.ClientTransportConfig) error
	// Send sends a request and returns the matching response. If the connection is
	// broken it is closed and the next Send redials once.
	Send(timelineID uint64, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
