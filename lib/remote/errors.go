package remote

import "errors"

var (
	// ErrTransport reports connect, send or receive failures
	ErrTransport = errors.New("transport error")

	// ErrProtocol reports well formed transport but an invalid, oversized or
	// unexpected response
	ErrProtocol = errors.New("protocol error")

	// ErrRejected marks a protocol error where the peer answered correctly but
	// refused the request (missing page, stale LSN, unknown timeline). It is
	// always wrapped together with ErrProtocol.
	ErrRejected = errors.New("rejected by peer")

	// ErrResourceExhausted reports that no connection could be leased in time
	ErrResourceExhausted = errors.New("resource unavailable")

	// ErrPoolClosed is returned by a pool after Shutdown
	ErrPoolClosed = errors.New("connection pool is shut down")

	// ErrClientClosed is returned by a client after Close
	ErrClientClosed = errors.New("client is closed")
)

// IsPeerFailure reports whether err means the connection to the peer can no
// longer be trusted: a transport failure or a broken response. A rejection is
// not a peer failure, the connection stays usable.
func IsPeerFailure(err error) bool {
	if errors.Is(err, ErrRejected) {
		return false
	}
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrProtocol)
}
