package types

import (
	"fmt"
	"github.com/ValentinKolb/dStor/lib/util"
	"strconv"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// PageSize is the size of one page in bytes (16 KiB)
const PageSize = 16384

// --------------------------------------------------------------------------
// Identifiers
// --------------------------------------------------------------------------

// TimelineID identifies a logical append-only data stream
type TimelineID uint64

// String returns the decimal representation used in URLs and logs
func (t TimelineID) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

// PageNumber is the position of a page inside its timeline
type PageNumber uint32

// LSN is a log sequence number, strictly increasing per timeline and writer
type LSN uint64

// PageID addresses exactly one page
type PageID struct {
	Timeline TimelineID
	Number   PageNumber
}

// String returns a human readable representation of the page id
func (p PageID) String() string {
	return fmt.Sprintf("%d/%d", p.Timeline, p.Number)
}

// PageKey combines timeline and page number into one 64 bit key.
// The timeline occupies the high bits, the page number the low 32 bits. Timelines
// that only differ in their upper 32 bits map onto the same key space; ids from
// TimelineFromName fit 32 bits and never do.
func PageKey(id PageID) uint64 {
	return uint64(id.Timeline)<<32 | uint64(id.Number)
}

// --------------------------------------------------------------------------
// Page and WAL record
// --------------------------------------------------------------------------

// Page holds the contents of exactly one page
type Page [PageSize]byte

// WalRecord is one durable mutation sent to the log keeper
type WalRecord struct {
	LSN  LSN
	Data []byte
}

// Length returns the byte length of the record payload
func (r WalRecord) Length() uint32 {
	return uint32(len(r.Data))
}

// Clone returns a copy of the record that owns its payload
func (r WalRecord) Clone() WalRecord {
	data := make([]byte, len(r.Data))
	copy(data, r.Data)
	return WalRecord{LSN: r.LSN, Data: data}
}

// --------------------------------------------------------------------------
// Timeline derivation
// --------------------------------------------------------------------------

// TimelineFromName derives a stable 32 bit timeline id from a table name
func TimelineFromName(name string) TimelineID {
	return TimelineID(util.Fold32(util.HashString(name, 0)))
}
