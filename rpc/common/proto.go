package common

import (
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/dStor/lib/types"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message exchanged with the log keeper, used for
// both requests and responses. Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"type"`

	// Request fields
	TimelineID uint64 `json:"timeline_id,omitempty"` // Used for: Append, CreateTimeline
	LSN        uint64 `json:"lsn,omitempty"`         // Used for: Append
	Length     uint32 `json:"length,omitempty"`      // Used for: Append (must equal len(Data))
	Data       []byte `json:"data,omitempty"`        // Used for: Append

	// Response only fields
	Ok           bool   `json:"ok,omitempty"`            // Acknowledgment
	Err          string `json:"err,omitempty"`           // Empty if no error, otherwise contains the error message
	CommittedLSN uint64 `json:"committed_lsn,omitempty"` // Used for: Append responses
}

// TimelineInfo is the json body the page server returns for GET /timeline/{id}
type TimelineInfo struct {
	TimelineID uint64 `json:"timeline_id"`
	LatestLSN  uint64 `json:"latest_lsn"`
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewAppendRequest creates a new WAL append request
func NewAppendRequest(timeline types.TimelineID, record types.WalRecord) *Message {
	return &Message{
		MsgType:    MsgTWalAppend,
		TimelineID: uint64(timeline),
		LSN:        uint64(record.LSN),
		Length:     record.Length(),
		Data:       record.Data,
	}
}

// NewAppendResponse creates a new WAL append response
func NewAppendResponse(committed types.LSN, err error) *Message {
	msg := &Message{
		MsgType:      MsgTWalAppend,
		CommittedLSN: uint64(committed),
		Ok:           err == nil,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewCreateTimelineRequest creates a new timeline creation request
func NewCreateTimelineRequest(timeline types.TimelineID) *Message {
	return &Message{
		MsgType:    MsgTTimelineCreate,
		TimelineID: uint64(timeline),
	}
}

// NewCreateTimelineResponse creates a new timeline creation response
func NewCreateTimelineResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTTimelineCreate,
		Ok:      err == nil,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewPingRequest creates a new liveness check
func NewPingRequest() *Message {
	return &Message{
		MsgType: MsgTPing,
	}
}

// NewPingResponse creates a new liveness check answer
func NewPingResponse() *Message {
	return &Message{
		MsgType: MsgTPing,
		Ok:      true,
	}
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in log keeper communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTSuccess:
		return "success"
	case MsgTError:
		return "error"
	case MsgTWalAppend:
		return "append"
	case MsgTTimelineCreate:
		return "create_timeline"
	case MsgTPing:
		return "ping"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "success":
		*t = MsgTSuccess
	case "error":
		*t = MsgTError
	case "append":
		*t = MsgTWalAppend
	case "create_timeline":
		*t = MsgTTimelineCreate
	case "ping":
		*t = MsgTPing
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Log keeper operations

	MsgTWalAppend      // Append one WAL record
	MsgTTimelineCreate // Create a timeline
	MsgTPing           // Liveness check
)
