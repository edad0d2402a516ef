package common

// BufferSize is the receive buffer for a single datagram. Valid packets
// never exceed 516 bytes (DATA header + full payload); the larger bound is
// defensive against oversized garbage.
const BufferSize = 4096

const (
	// BlockSize is the payload size of every non-terminal DATA packet.
	// A payload shorter than BlockSize ends the transfer.
	BlockSize = 512

	// DatagramSize is the largest valid packet on the wire.
	DatagramSize = BlockSize + 4
)

type OpCode uint16

const (
	OpReadRequest OpCode = iota + 1
	OpWriteRequest
	OpData
	OpAck
	OpError
)

func (op OpCode) String() string {
	switch op {
	case OpReadRequest:
		return "RRQ"
	case OpWriteRequest:
		return "WRQ"
	case OpData:
		return "DATA"
	case OpAck:
		return "ACK"
	case OpError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

type ErrorCode uint16

const (
	ErrCodeNotDefined ErrorCode = iota
	ErrCodeFileNotFound
	ErrCodeAccessViolation
	ErrCodeDiskFull
	ErrCodeIllegalOperation
	ErrCodeUnknownTransferID
	ErrCodeFileAlreadyExists
	ErrCodeNoSuchUser
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeNotDefined:
		return "not defined"
	case ErrCodeFileNotFound:
		return "file not found"
	case ErrCodeAccessViolation:
		return "access violation"
	case ErrCodeDiskFull:
		return "disk full or allocation exceeded"
	case ErrCodeIllegalOperation:
		return "illegal TFTP operation"
	case ErrCodeUnknownTransferID:
		return "unknown transfer ID"
	case ErrCodeFileAlreadyExists:
		return "file already exists"
	case ErrCodeNoSuchUser:
		return "no such user"
	default:
		return "not defined"
	}
}

// Transfer modes. Every protocol mode string decodes cleanly, but only
// octet (and the legacy "binary" alias) is actually served.
const (
	ModeNetascii = "netascii"
	ModeOctet    = "octet"
	ModeMail     = "mail"
	ModeBinary   = "binary"
)
