package serializer

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/dStor/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasTimeline  byte = 1 << 0
	hasLSN       byte = 1 << 1
	hasLength    byte = 1 << 2
	hasData      byte = 1 << 3
	hasOk        byte = 1 << 4
	hasErr       byte = 1 << 5
	hasCommitted byte = 1 << 6
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Name() string {
	return "binary"
}

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	totalSize := b.sizeBytes(msg)
	result := make([]byte, totalSize)

	// Write message type
	result[0] = byte(msg.MsgType)

	var flags byte = 0

	// Start after MsgType and flags
	pos := 2

	if msg.TimelineID > 0 {
		flags |= hasTimeline
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.TimelineID)
		pos += 8
	}

	if msg.LSN > 0 {
		flags |= hasLSN
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.LSN)
		pos += 8
	}

	if msg.Length > 0 {
		flags |= hasLength
		binary.BigEndian.PutUint32(result[pos:pos+4], msg.Length)
		pos += 4
	}

	// Handle Data
	if msg.Data != nil {
		flags |= hasData
		dataLen := len(msg.Data)

		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(dataLen))
		pos += 4

		if dataLen > 0 {
			copy(result[pos:pos+dataLen], msg.Data)
			pos += dataLen
		}
	}

	// Ok is encoded by its flag alone
	if msg.Ok {
		flags |= hasOk
	}

	// Handle Err
	if msg.Err != "" {
		flags |= hasErr
		errLen := len(msg.Err)

		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(errLen))
		pos += 4

		copy(result[pos:pos+errLen], msg.Err)
		pos += errLen
	}

	if msg.CommittedLSN > 0 {
		flags |= hasCommitted
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.CommittedLSN)
		pos += 8
	}

	// Set flags byte after knowing which fields are present
	result[1] = flags

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < 2 {
		return fmt.Errorf("data too short for message header")
	}

	msg.MsgType = common.MessageType(data[0])
	flags := data[1]
	pos := 2

	readUint64 := func(field string) (uint64, error) {
		if pos+8 > len(data) {
			return 0, fmt.Errorf("data too short for %s", field)
		}
		v := binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
		return v, nil
	}

	var err error

	msg.TimelineID = 0
	if flags&hasTimeline != 0 {
		if msg.TimelineID, err = readUint64("timeline id"); err != nil {
			return err
		}
	}

	msg.LSN = 0
	if flags&hasLSN != 0 {
		if msg.LSN, err = readUint64("lsn"); err != nil {
			return err
		}
	}

	msg.Length = 0
	if flags&hasLength != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for length")
		}
		msg.Length = binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
	}

	// Read Data if present
	if flags&hasData != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for payload length")
		}

		dataLen := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4

		if pos+int(dataLen) > len(data) {
			return fmt.Errorf("data too short for payload")
		}

		// Create an empty slice (not nil) if length is 0, allocate only if needed
		if msg.Data == nil || cap(msg.Data) < int(dataLen) {
			msg.Data = make([]byte, dataLen)
		} else {
			msg.Data = msg.Data[:dataLen]
		}

		if dataLen > 0 {
			copy(msg.Data, data[pos:pos+int(dataLen)])
		}
		pos += int(dataLen)
	} else {
		msg.Data = nil
	}

	msg.Ok = flags&hasOk != 0

	// Read Err if present
	if flags&hasErr != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for error length")
		}

		errLen := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4

		if pos+int(errLen) > len(data) {
			return fmt.Errorf("data too short for error data")
		}

		msg.Err = string(data[pos : pos+int(errLen)])
		pos += int(errLen)
	} else {
		msg.Err = ""
	}

	msg.CommittedLSN = 0
	if flags&hasCommitted != 0 {
		if msg.CommittedLSN, err = readUint64("committed lsn"); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 1 byte for flags
	size := 2

	if msg.TimelineID > 0 {
		size += 8
	}
	if msg.LSN > 0 {
		size += 8
	}
	if msg.Length > 0 {
		size += 4
	}
	if msg.Data != nil {
		size += 4 + len(msg.Data)
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.CommittedLSN > 0 {
		size += 8
	}

	return size
}
