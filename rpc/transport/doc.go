// Package transport defines the interfaces for the byte stream between the WAL
// client and the log keeper (safekeeper).
//
// Key Components:
//
//   - IRPCClientTransport: One connection, one request in flight, lazy redial
//     after a failure.
//
//   - IRPCServerTransport: Accepts connections and hands every frame to the
//     registered handler in arrival order.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
//
// Implementations for tcp and unix sockets live in the subpackages and share the
// framing code of the base package. The http subpackage holds the helpers used by
// the page server client and the reference page server.
package transport
