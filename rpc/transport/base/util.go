package base

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

const (
	// frameHeaderSize is 8 bytes timeline id + 8 bytes request id + 4 bytes length
	frameHeaderSize = 20

	// MaxPayloadSize bounds the payload of a single frame. A WAL record of a
	// few pages fits easily, anything larger is a broken or foreign peer.
	MaxPayloadSize = 16 << 20
)

// ErrFrameTooLarge is returned when a frame announces a payload above MaxPayloadSize
var ErrFrameTooLarge = errors.New("frame payload too large")

// frameHeader addresses a payload: the timeline it belongs to and the request
// it answers. Responses repeat the header of their request.
type frameHeader struct {
	timeline uint64
	request  uint64
	length   uint32
}

func (h frameHeader) encode(b []byte) {
	binary.BigEndian.PutUint64(b[:8], h.timeline)
	binary.BigEndian.PutUint64(b[8:16], h.request)
	binary.BigEndian.PutUint32(b[16:20], h.length)
}

func decodeFrameHeader(b []byte) frameHeader {
	return frameHeader{
		timeline: binary.BigEndian.Uint64(b[:8]),
		request:  binary.BigEndian.Uint64(b[8:16]),
		length:   binary.BigEndian.Uint32(b[16:20]),
	}
}

// writeFrame sends header and payload with a single vectored write
func writeFrame(conn net.Conn, timelineID uint64, requestID uint64, data []byte) error {
	if len(data) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	header := make([]byte, frameHeaderSize)
	frameHeader{timeline: timelineID, request: requestID, length: uint32(len(data))}.encode(header)

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads one frame into buf. The returned payload aliases buf unless
// buf is too small, then a larger buffer is allocated for this frame only.
func readFrame(conn net.Conn, buf []byte) (uint64, uint64, []byte, error) {
	if len(buf) < frameHeaderSize {
		buf = make([]byte, frameHeaderSize)
	}

	if _, err := io.ReadFull(conn, buf[:frameHeaderSize]); err != nil {
		return 0, 0, nil, err
	}
	h := decodeFrameHeader(buf)

	if h.length > MaxPayloadSize {
		return 0, 0, nil, fmt.Errorf("%w: %d bytes announced for timeline %d", ErrFrameTooLarge, h.length, h.timeline)
	}
	if h.length == 0 {
		return h.timeline, h.request, []byte{}, nil
	}

	if len(buf) < int(h.length) {
		buf = make([]byte, h.length)
	}
	if _, err := io.ReadFull(conn, buf[:h.length]); err != nil {
		return 0, 0, nil, fmt.Errorf("truncated frame for timeline %d: %w", h.timeline, err)
	}

	return h.timeline, h.request, buf[:h.length], nil
}
