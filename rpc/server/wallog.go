package server

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dStor/lib/types"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
)

var (
	// ErrUnknownTimeline is returned for appends to a timeline that was never created
	ErrUnknownTimeline = errors.New("unknown timeline")

	// ErrLSNOrder is returned for an LSN that is not greater than the last accepted one
	ErrLSNOrder = errors.New("lsn out of order")
)

// walTimeline holds the accepted records of one timeline in arrival order
type walTimeline struct {
	mu      sync.Mutex
	records []types.WalRecord
	lastLSN types.LSN
}

// WalLog is the in-memory durable log of the reference safekeeper
type WalLog struct {
	timelines *xsync.MapOf[types.TimelineID, *walTimeline]
}

// NewWalLog creates an empty log
func NewWalLog() *WalLog {
	return &WalLog{
		timelines: xsync.NewMapOf[types.TimelineID, *walTimeline](),
	}
}

// CreateTimeline registers a timeline, creating an existing timeline is a no-op
func (l *WalLog) CreateTimeline(timeline types.TimelineID) {
	l.timelines.LoadOrStore(timeline, &walTimeline{})
}

// Append accepts the record if its LSN is strictly greater than the last accepted LSN
// of the timeline. It returns the committed LSN.
func (l *WalLog) Append(timeline types.TimelineID, record types.WalRecord) (types.LSN, error) {
	tl, ok := l.timelines.Load(timeline)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTimeline, timeline)
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()

	if record.LSN <= tl.lastLSN {
		return 0, fmt.Errorf("%w: lsn %d is not greater than the last accepted lsn %d of timeline %s",
			ErrLSNOrder, record.LSN, tl.lastLSN, timeline)
	}

	tl.records = append(tl.records, record.Clone())
	tl.lastLSN = record.LSN
	return record.LSN, nil
}

// Records returns a copy of the accepted records of the timeline in arrival order
func (l *WalLog) Records(timeline types.TimelineID) []types.WalRecord {
	tl, ok := l.timelines.Load(timeline)
	if !ok {
		return nil
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()

	out := make([]types.WalRecord, len(tl.records))
	copy(out, tl.records)
	return out
}

// LastLSN returns the last accepted LSN of the timeline (0 if none)
func (l *WalLog) LastLSN(timeline types.TimelineID) types.LSN {
	tl, ok := l.timelines.Load(timeline)
	if !ok {
		return 0
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.lastLSN
}
