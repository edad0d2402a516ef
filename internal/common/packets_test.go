package common

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPacketRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pck  Packet
	}{
		{"read request", &ReadRequest{Filename: "kernel.img", Mode: "octet"}},
		{"write request", &WriteRequest{Filename: "upload.bin", Mode: "binary"}},
		{"data", &Data{Block: 7, Payload: bytes.Repeat([]byte{0xAB}, BlockSize)}},
		{"data terminal", &Data{Block: 65535, Payload: []byte{1, 2, 3}}},
		{"data empty", &Data{Block: 3, Payload: []byte{}}},
		{"ack", &Ack{Block: 0}},
		{"ack wrapped", &Ack{Block: 65535}},
		{"error", &Error{Code: ErrCodeFileNotFound, Message: "no such file"}},
		{"error empty message", &Error{Code: ErrCodeDiskFull, Message: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PacketFromBytes(tt.pck.ToBytes())
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if diff := cmp.Diff(tt.pck, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPacketFromBytesRejects(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want error
	}{
		{"empty", nil, ErrNotEnoughData},
		{"one byte", []byte{0}, ErrNotEnoughData},
		{"opcode six", []byte{0x00, 0x06, 0x00, 0x01}, ErrInvalidOpcode},
		{"opcode zero", []byte{0x00, 0x00}, ErrInvalidOpcode},
		{"rrq no terminator", []byte{0x00, 0x01, 'f', 'i', 'l', 'e'}, ErrNotEnoughData},
		{"rrq missing mode", []byte{0x00, 0x01, 'f', 0x00}, ErrNotEnoughData},
		{"rrq empty filename", []byte{0x00, 0x01, 0x00, 'o', 'c', 't', 'e', 't', 0x00}, ErrInvalidFilename},
		{"rrq bad mode", []byte{0x00, 0x01, 'f', 0x00, 'u', 't', 'f', '8', 0x00}, ErrInvalidMode},
		{"data no block", []byte{0x00, 0x03, 0x01}, ErrNotEnoughData},
		{"ack short", []byte{0x00, 0x04, 0x01}, ErrNotEnoughData},
		{"error no code", []byte{0x00, 0x05, 0x01}, ErrNotEnoughData},
		{"error no terminator", []byte{0x00, 0x05, 0x00, 0x01, 'o', 'o', 'p', 's'}, ErrNotEnoughData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pck, err := PacketFromBytes(tt.buf)
			if pck != nil {
				t.Fatalf("expected nil packet, got %#v", pck)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("got error %v, want %v", err, tt.want)
			}
		})
	}
}

func TestModeIsCaseInsensitive(t *testing.T) {
	for _, raw := range []string{"OCTET", "Octet", "NetASCII", "MAIL", "Binary"} {
		buf := requestBytes(OpReadRequest, "f", raw)
		pck, err := PacketFromBytes(buf)
		if err != nil {
			t.Fatalf("mode %q: %v", raw, err)
		}
		rrq := pck.(*ReadRequest)
		if rrq.Mode != strings.ToLower(raw) {
			t.Errorf("mode %q decoded as %q", raw, rrq.Mode)
		}
	}
}

func TestUnknownErrorCodeCoercesToNotDefined(t *testing.T) {
	buf := []byte{0x00, 0x05, 0x00, 0x63, 'w', 'a', 't', 0x00}
	pck, err := PacketFromBytes(buf)
	if err != nil {
		t.Fatal(err)
	}
	ep := pck.(*Error)
	if ep.Code != ErrCodeNotDefined {
		t.Errorf("code 99 decoded as %v, want NotDefined", ep.Code)
	}
	if ep.Message != "wat" {
		t.Errorf("message = %q", ep.Message)
	}
}

func TestDataTerminal(t *testing.T) {
	full := &Data{Block: 1, Payload: make([]byte, BlockSize)}
	if full.Terminal() {
		t.Error("full block must not be terminal")
	}
	for _, n := range []int{0, 1, BlockSize - 1} {
		short := &Data{Block: 1, Payload: make([]byte, n)}
		if !short.Terminal() {
			t.Errorf("payload of %d bytes must be terminal", n)
		}
	}
}

func TestOversizedDataPayloadIsCapped(t *testing.T) {
	buf := (&Data{Block: 2, Payload: make([]byte, BlockSize)}).ToBytes()
	buf = append(buf, 0xFF, 0xFF) // trailing garbage past the block
	pck, err := PacketFromBytes(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(pck.(*Data).Payload); got != BlockSize {
		t.Errorf("payload length = %d, want %d", got, BlockSize)
	}
}
