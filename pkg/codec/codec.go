// Package codec turns an image into 8-byte CAN payloads and builds padded
// control payloads.
package codec

import (
	"errors"
	"fmt"
)

// Size of every payload sent on the bus
const FrameSize = 8

// Maximum number of meaningful bytes in a control payload
const MaxControlLength = 3

var ErrPayloadLength = errors.New("control payload must hold 1 to 3 bytes")

// Fixed tail of every control payload, at bytes 3..7
var sentinel = [5]byte{0x03, 0x04, 0x05, 0x06, 0x07}

// Reorder permutes the bytes of a data chunk. Within each 4-byte half the
// two byte pairs are reversed and the pairs swapped, giving
// [b3 b2 b1 b0 b7 b6 b5 b4]. The receiver undoes it before storing.
func Reorder(chunk [FrameSize]byte) [FrameSize]byte {
	return [FrameSize]byte{
		chunk[3], chunk[2], chunk[1], chunk[0],
		chunk[7], chunk[6], chunk[5], chunk[4],
	}
}

// Decode restores a chunk from a data payload.
// Reorder is its own inverse, so Decode(Reorder(c)) == c.
func Decode(payload [FrameSize]byte) [FrameSize]byte {
	return Reorder(payload)
}

// Encode splits data into reordered 8-byte payloads. A short last chunk is
// zero filled before reordering. Empty input gives no payloads.
func Encode(data []byte) [][FrameSize]byte {
	payloads := make([][FrameSize]byte, 0, (len(data)+FrameSize-1)/FrameSize)
	for start := 0; start < len(data); start += FrameSize {
		var chunk [FrameSize]byte
		copy(chunk[:], data[start:])
		payloads = append(payloads, Reorder(chunk))
	}
	return payloads
}

// Pad builds a control payload from 1 to 3 meaningful bytes.
// Unused bytes before the tail are zero.
func Pad(meaningful []byte) ([FrameSize]byte, error) {
	var payload [FrameSize]byte
	if len(meaningful) == 0 || len(meaningful) > MaxControlLength {
		return payload, fmt.Errorf("%w : got %d", ErrPayloadLength, len(meaningful))
	}
	copy(payload[:MaxControlLength], meaningful)
	copy(payload[MaxControlLength:], sentinel[:])
	return payload, nil
}

// HasSentinel reports whether bytes 3..7 hold the control tail
func HasSentinel(data [FrameSize]byte) bool {
	return [5]byte(data[MaxControlLength:]) == sentinel
}
