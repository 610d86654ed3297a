package protocol

import "fmt"

// Control operation sent as the first byte of a control payload
type Opcode uint8

const (
	StartOfRun   Opcode = 0x11
	EndOfRun     Opcode = 0x22
	SizeInfo     Opcode = 0x33
	StartOfBlock Opcode = 0x44
	EndOfBlock   Opcode = 0x55
)

// Offset between an opcode and the receiver's response code, also the
// offset between the base identifier and the acknowledgment identifier
const ResponseOffset = 0x40

// Receiver storage block size, used for the size announcement
const BlockSize = 512

// Response code the receiver answers this opcode with
func (op Opcode) Response() byte {
	return byte(op) + ResponseOffset
}

func (op Opcode) String() string {
	switch op {
	case StartOfRun:
		return "START_OF_RUN"
	case EndOfRun:
		return "END_OF_RUN"
	case SizeInfo:
		return "SIZE_INFO"
	case StartOfBlock:
		return "START_OF_BLOCK"
	case EndOfBlock:
		return "END_OF_BLOCK"
	default:
		return fmt.Sprintf("OPCODE(x%02x)", uint8(op))
	}
}

// Whether op is one of the known control operations
func (op Opcode) Valid() bool {
	switch op {
	case StartOfRun, EndOfRun, SizeInfo, StartOfBlock, EndOfBlock:
		return true
	}
	return false
}

// Acknowledgment identifier for a base identifier
func AckID(base uint32) uint32 {
	return base + ResponseOffset
}
