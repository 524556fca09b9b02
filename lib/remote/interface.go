package remote

import (
	"github.com/ValentinKolb/dStor/lib/types"
)

// IClient is implemented by every client managed by the connection pool
type IClient interface {
	// ID returns a stable identifier of the client instance (used for logging)
	ID() string
	// CheckAvailability is the lightweight liveness check of the health sweep.
	// Any transport failure or non-success status is reported as an error.
	CheckAvailability() error
	// Close releases all resources of the client
	Close() error
}

// IPageServerClient fetches pages from the page-serving peer.
// All operations block for the network round trip and never retry internally.
type IPageServerClient interface {
	IClient

	// ReadPage reads one page into buf. Responses shorter than a page are
	// zero padded, longer responses fail with ErrProtocol.
	ReadPage(id types.PageID, buf *types.Page) error

	// CreateTimeline creates the timeline on the peer. Creating an existing
	// timeline is not an error.
	CreateTimeline(timeline types.TimelineID) error

	// DeleteTimeline deletes the timeline on the peer. Deleting a missing
	// timeline is not an error.
	DeleteTimeline(timeline types.TimelineID) error

	// TimelineInfo returns the latest LSN the peer knows for the timeline
	TimelineInfo(timeline types.TimelineID) (types.LSN, error)
}

// ISafekeeperClient streams WAL records to the log-keeping peer
type ISafekeeperClient interface {
	IClient

	// AppendSync sends the record and blocks until the peer acknowledged it.
	// It returns the LSN the peer committed.
	AppendSync(timeline types.TimelineID, record types.WalRecord) (types.LSN, error)

	// AppendAsync copies the record onto the client's queue and returns
	// immediately. Records are delivered in submission order by one background
	// worker. Failures are logged, never reported to the caller.
	AppendAsync(timeline types.TimelineID, record types.WalRecord) error

	// CreateTimeline registers the timeline at the peer
	CreateTimeline(timeline types.TimelineID) error

	// Pending returns the number of async appends that are queued or in flight
	Pending() int

	// WaitAsync blocks until every async append submitted so far was answered
	// by the peer or dropped by Close
	WaitAsync()

	// Stats returns the counters of the async path
	Stats() AsyncStats
}

// AsyncStats counts the outcome of async appends
type AsyncStats struct {
	// AsyncSent is the number of async records the peer acknowledged
	AsyncSent uint64
	// AsyncFailed is the number of async records that failed and were logged
	AsyncFailed uint64
	// AsyncDropped is the number of queued records discarded on Close
	AsyncDropped uint64
}
