package common

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// Decode failures. All of them mean the datagram is dropped; none of them
// is ever retried at this layer.
var (
	ErrNotEnoughData       = New(ErrCodeNotDefined, "not enough data")
	ErrInvalidOpcode       = New(ErrCodeIllegalOperation, "invalid opcode")
	ErrInvalidMode         = New(ErrCodeNotDefined, "invalid transfer mode")
	ErrInvalidFilename     = New(ErrCodeNotDefined, "invalid filename")
	ErrInvalidErrorMessage = New(ErrCodeNotDefined, "invalid error message")
)

// Packet is one decoded TFTP datagram. Values are immutable: built either
// by PacketFromBytes or by a session, serialized once, then discarded.
type Packet interface {
	Op() OpCode
	ToBytes() []byte
}

type ReadRequest struct {
	Filename string
	Mode     string
}

type WriteRequest struct {
	Filename string
	Mode     string
}

type Data struct {
	Block   uint16
	Payload []byte
}

type Ack struct {
	Block uint16
}

// Error doubles as the ERROR wire packet and a Go error value, so session
// code can surface a storage failure and send it to the peer unchanged.
type Error struct {
	Code    ErrorCode
	Message string
}

func New(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func (e *Error) Error() string {
	return e.Message
}

func (r *ReadRequest) Op() OpCode { return OpReadRequest }

func (w *WriteRequest) Op() OpCode { return OpWriteRequest }

func (d *Data) Op() OpCode { return OpData }

func (a *Ack) Op() OpCode { return OpAck }

func (e *Error) Op() OpCode { return OpError }

// Terminal reports whether this DATA packet ends the transfer. The payload
// length is the end marker: a full block always means more data follows.
func (d *Data) Terminal() bool {
	return len(d.Payload) < BlockSize
}

// PacketFromBytes decodes one datagram. Pure function of its input; the
// returned packet aliases no part of buf.
func PacketFromBytes(buf []byte) (Packet, error) {
	if len(buf) < 2 {
		return nil, ErrNotEnoughData
	}

	op := OpCode(binary.BigEndian.Uint16(buf[0:2]))
	rest := buf[2:]

	switch op {
	case OpReadRequest:
		name, mode, err := parseRequest(rest)
		if err != nil {
			return nil, err
		}
		return &ReadRequest{Filename: name, Mode: mode}, nil
	case OpWriteRequest:
		name, mode, err := parseRequest(rest)
		if err != nil {
			return nil, err
		}
		return &WriteRequest{Filename: name, Mode: mode}, nil
	case OpData:
		if len(rest) < 2 {
			return nil, ErrNotEnoughData
		}
		payload := rest[2:]
		if len(payload) > BlockSize {
			payload = payload[:BlockSize]
		}
		return &Data{
			Block:   binary.BigEndian.Uint16(rest[0:2]),
			Payload: bytes.Clone(payload),
		}, nil
	case OpAck:
		if len(rest) < 2 {
			return nil, ErrNotEnoughData
		}
		return &Ack{Block: binary.BigEndian.Uint16(rest[0:2])}, nil
	case OpError:
		if len(rest) < 2 {
			return nil, ErrNotEnoughData
		}
		end := bytes.IndexByte(rest[2:], 0)
		if end < 0 {
			return nil, ErrNotEnoughData
		}
		// Out-of-range codes coerce to NotDefined instead of failing the
		// decode, for wire compatibility with existing peers.
		code := ErrorCode(binary.BigEndian.Uint16(rest[0:2]))
		if code > ErrCodeNoSuchUser {
			code = ErrCodeNotDefined
		}
		return &Error{Code: code, Message: string(rest[2 : 2+end])}, nil
	default:
		return nil, ErrInvalidOpcode
	}
}

// parseRequest splits the body of an RRQ/WRQ into its two NUL-terminated
// fields. Filename bytes are opaque; only the mode is interpreted.
func parseRequest(buf []byte) (filename, mode string, err error) {
	nameEnd := bytes.IndexByte(buf, 0)
	if nameEnd < 0 {
		return "", "", ErrNotEnoughData
	}
	modeEnd := bytes.IndexByte(buf[nameEnd+1:], 0)
	if modeEnd < 0 {
		return "", "", ErrNotEnoughData
	}

	filename = string(buf[:nameEnd])
	if filename == "" {
		return "", "", ErrInvalidFilename
	}

	mode = strings.ToLower(string(buf[nameEnd+1 : nameEnd+1+modeEnd]))
	switch mode {
	case ModeNetascii, ModeOctet, ModeMail, ModeBinary:
	default:
		return "", "", ErrInvalidMode
	}

	return filename, mode, nil
}

func (r *ReadRequest) ToBytes() []byte {
	return requestBytes(OpReadRequest, r.Filename, r.Mode)
}

func (w *WriteRequest) ToBytes() []byte {
	return requestBytes(OpWriteRequest, w.Filename, w.Mode)
}

func requestBytes(op OpCode, filename, mode string) []byte {
	arr := make([]byte, 0, 2+len(filename)+1+len(mode)+1)
	arr = binary.BigEndian.AppendUint16(arr, uint16(op))
	arr = append(arr, filename...)
	arr = append(arr, 0)
	arr = append(arr, mode...)
	arr = append(arr, 0)
	return arr
}

func (d *Data) ToBytes() []byte {
	arr := make([]byte, 0, 4+len(d.Payload))
	arr = binary.BigEndian.AppendUint16(arr, uint16(OpData))
	arr = binary.BigEndian.AppendUint16(arr, d.Block)
	return append(arr, d.Payload...)
}

func (a *Ack) ToBytes() []byte {
	arr := make([]byte, 4)
	binary.BigEndian.PutUint16(arr[0:2], uint16(OpAck))
	binary.BigEndian.PutUint16(arr[2:4], a.Block)
	return arr
}

func (e *Error) ToBytes() []byte {
	arr := make([]byte, 0, 4+len(e.Message)+1)
	arr = binary.BigEndian.AppendUint16(arr, uint16(OpError))
	arr = binary.BigEndian.AppendUint16(arr, uint16(e.Code))
	arr = append(arr, e.Message...)
	return append(arr, 0)
}
