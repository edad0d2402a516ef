package server

import (
	"errors"
	"io"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/tftp/internal/common"
	"github.com/Pablu23/tftp/internal/observability"
)

var errTimeout = errors.New("timed out waiting for peer")

// session is one transfer in flight. It exclusively owns its ephemeral
// socket and its byte stream for the whole exchange; the ephemeral socket
// address is the transfer ID the peer talks to. Nothing here is shared with
// the dispatcher or other sessions, so no locking is needed.
type session struct {
	conn    *net.UDPConn
	peer    *net.UDPAddr
	store   Store
	timeout time.Duration
	retries int
	log     *log.Entry
}

func newSession(peer *net.UDPAddr, store Store, options *Options) (*session, error) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}

	return &session{
		conn:    conn,
		peer:    peer,
		store:   store,
		timeout: options.Timeout,
		retries: options.Retries,
		log:     log.WithField("Peer", peer.String()),
	}, nil
}

// receive waits for the next datagram from the session's peer, bounded by
// the retransmission timeout. Datagrams from any other address get a
// best-effort unknown-TID error and do not consume the wait. A decode
// failure is returned as the codec's *common.Error.
func (s *session) receive(buf []byte) (common.Packet, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return nil, err
	}

	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return nil, errTimeout
			}
			return nil, err
		}

		if !addr.IP.Equal(s.peer.IP) || addr.Port != s.peer.Port {
			sendError(s.conn, addr, common.ErrCodeUnknownTransferID, "unknown transfer ID")
			continue
		}

		pck, err := common.PacketFromBytes(buf[:n])
		if err != nil {
			return nil, err
		}
		observability.RecordPacketReceived(pck.Op().String())
		return pck, nil
	}
}

func (s *session) send(pck common.Packet) bool {
	if _, err := s.conn.WriteToUDP(pck.ToBytes(), s.peer); err != nil {
		s.log.WithError(err).Error("Could not send Packet")
		return false
	}
	observability.RecordPacketSent(pck.Op().String())
	return true
}

// abort reports the error to the peer and ends the session. Only this
// session dies; the dispatcher and every other transfer are unaffected.
func (s *session) abort(direction string, code common.ErrorCode, msg string) {
	sendError(s.conn, s.peer, code, msg)
	observability.RecordTransfer(direction, "aborted")
}

func validMode(mode string) bool {
	return mode == common.ModeOctet || mode == common.ModeBinary
}

// serveRead streams a file to the peer: DATA n, wait for ACK n, advance.
// Block numbers start at 1 and wrap mod 65536; a chunk shorter than a full
// block is the end of the transfer.
func (s *session) serveRead(rrq *common.ReadRequest) {
	defer s.close()

	s.log = s.log.WithField("File", rrq.Filename)
	s.log.Info("Handling Read Request")

	if !validMode(rrq.Mode) {
		s.log.WithField("Mode", rrq.Mode).Warn("Rejecting unsupported Mode")
		s.abort("read", common.ErrCodeNotDefined, "only octet mode is supported")
		return
	}

	src, err := s.store.Open(rrq.Filename)
	if err != nil {
		s.log.WithError(err).Warn("Could not open File")
		werr := wireError(err)
		s.abort("read", werr.Code, werr.Message)
		return
	}
	defer func(src io.ReadCloser) {
		if err := src.Close(); err != nil {
			s.log.WithError(err).Error("Could not close File")
		}
	}(src)

	buf := make([]byte, common.BufferSize)
	chunk := make([]byte, common.BlockSize)
	block := uint16(1)

	for {
		n, err := readChunk(src, chunk)
		if err != nil {
			s.log.WithError(err).Error("Could not read File")
			werr := wireError(err)
			s.abort("read", werr.Code, werr.Message)
			return
		}

		data := &common.Data{Block: block, Payload: chunk[:n]}
		if !s.awaitAck(data, buf) {
			observability.RecordTransfer("read", "aborted")
			return
		}
		observability.RecordBytes("read", n)

		if data.Terminal() {
			s.log.WithField("Blocks", block).Info("Read transfer complete")
			observability.RecordTransfer("read", "complete")
			return
		}
		block++ // wraps mod 65536 on purpose
	}
}

// awaitAck sends one DATA packet and waits for its matching ACK. Timeouts
// and mismatched ACKs (a lost or stale acknowledgment) each trigger a
// single resend of the same packet and count against the retry budget, so
// a dead or misbehaving peer cannot pin the session forever.
func (s *session) awaitAck(data *common.Data, buf []byte) bool {
	if !s.send(data) {
		return false
	}

	for attempt := 0; attempt <= s.retries; attempt++ {
		pck, err := s.receive(buf)
		if err != nil {
			if errors.Is(err, errTimeout) {
				s.log.WithFields(log.Fields{
					"Block":   data.Block,
					"Attempt": attempt,
				}).Warn("Timeout waiting for Ack")
				observability.RecordRetransmission()
				if !s.send(data) {
					return false
				}
				continue
			}
			var werr *common.Error
			if errors.As(err, &werr) {
				s.log.WithError(err).Warn("Malformed Packet from peer")
				sendError(s.conn, s.peer, common.ErrCodeIllegalOperation, "expected ACK")
				return false
			}
			s.log.WithError(err).Error("Could not receive from peer")
			return false
		}

		switch p := pck.(type) {
		case *common.Ack:
			if p.Block == data.Block {
				return true
			}
			s.log.WithFields(log.Fields{
				"Expected": data.Block,
				"Received": p.Block,
			}).Warn("Received wrong Acknowledge")
			observability.RecordRetransmission()
			if !s.send(data) {
				return false
			}
		case *common.Error:
			s.log.WithFields(log.Fields{
				"Code":    p.Code,
				"Message": p.Message,
			}).Warn("Peer aborted transfer")
			return false
		default:
			s.log.WithField("Packet Type", pck.Op()).Warn("Unexpected Packet Type")
			sendError(s.conn, s.peer, common.ErrCodeIllegalOperation, "expected ACK")
			return false
		}
	}

	s.log.WithField("Block", data.Block).Error("Retry budget exhausted")
	return false
}

// serveWrite receives a file from the peer: ACK 0 invites the first block,
// then every in-sequence DATA block is written once and acknowledged.
// Duplicates are answered by resending the last valid ACK without writing,
// which recovers from a lost ACK without storing a block twice.
func (s *session) serveWrite(wrq *common.WriteRequest) {
	defer s.close()

	s.log = s.log.WithField("File", wrq.Filename)
	s.log.Info("Handling Write Request")

	if !validMode(wrq.Mode) {
		s.log.WithField("Mode", wrq.Mode).Warn("Rejecting unsupported Mode")
		s.abort("write", common.ErrCodeNotDefined, "only octet mode is supported")
		return
	}

	if s.store.Exists(wrq.Filename) {
		s.log.Warn("File already exists")
		s.abort("write", common.ErrCodeFileAlreadyExists, "file already exists")
		return
	}

	dst, err := s.store.Create(wrq.Filename)
	if err != nil {
		s.log.WithError(err).Warn("Could not create File")
		werr := wireError(err)
		s.abort("write", werr.Code, werr.Message)
		return
	}

	buf := make([]byte, common.BufferSize)
	lastAck := &common.Ack{Block: 0}
	if !s.send(lastAck) {
		s.discard(dst, wrq.Filename)
		observability.RecordTransfer("write", "aborted")
		return
	}

	expected := uint16(1)
	for attempt := 0; attempt <= s.retries; attempt++ {
		pck, err := s.receive(buf)
		if err != nil {
			if errors.Is(err, errTimeout) {
				s.log.WithFields(log.Fields{
					"Block":   expected,
					"Attempt": attempt,
				}).Warn("Timeout waiting for Data")
				observability.RecordRetransmission()
				if !s.send(lastAck) {
					break
				}
				continue
			}
			var werr *common.Error
			if errors.As(err, &werr) {
				s.log.WithError(err).Warn("Malformed Packet from peer")
				sendError(s.conn, s.peer, common.ErrCodeIllegalOperation, "expected DATA")
				break
			}
			s.log.WithError(err).Error("Could not receive from peer")
			break
		}

		switch p := pck.(type) {
		case *common.Data:
			if p.Block != expected {
				// Duplicate or out-of-order block: never write it, just
				// re-acknowledge the last accepted one.
				s.log.WithFields(log.Fields{
					"Expected": expected,
					"Received": p.Block,
				}).Warn("Out of sequence Data")
				if !s.send(lastAck) {
					s.discard(dst, wrq.Filename)
					observability.RecordTransfer("write", "aborted")
					return
				}
				continue
			}

			if _, err := dst.Write(p.Payload); err != nil {
				s.log.WithError(err).Error("Could not write File")
				werr := wireError(err)
				s.abort("write", werr.Code, werr.Message)
				s.discard(dst, wrq.Filename)
				return
			}
			observability.RecordBytes("write", len(p.Payload))

			lastAck = &common.Ack{Block: p.Block}
			if !s.send(lastAck) {
				s.discard(dst, wrq.Filename)
				observability.RecordTransfer("write", "aborted")
				return
			}

			if p.Terminal() {
				if err := dst.Close(); err != nil {
					s.log.WithError(err).Error("Could not close File")
					werr := wireError(err)
					s.abort("write", werr.Code, werr.Message)
					return
				}
				s.log.WithField("Blocks", p.Block).Info("Write transfer complete")
				observability.RecordTransfer("write", "complete")
				return
			}

			expected++ // wraps mod 65536 on purpose
			attempt = -1
		case *common.Error:
			s.log.WithFields(log.Fields{
				"Code":    p.Code,
				"Message": p.Message,
			}).Warn("Peer aborted transfer")
			s.discard(dst, wrq.Filename)
			observability.RecordTransfer("write", "aborted")
			return
		default:
			s.log.WithField("Packet Type", pck.Op()).Warn("Unexpected Packet Type")
			sendError(s.conn, s.peer, common.ErrCodeIllegalOperation, "expected DATA")
			s.discard(dst, wrq.Filename)
			observability.RecordTransfer("write", "aborted")
			return
		}
	}

	s.log.Error("Write transfer gave up")
	s.discard(dst, wrq.Filename)
	observability.RecordTransfer("write", "aborted")
}

// discard drops the partially written file of an aborted write so a later
// retry of the same name is not rejected as already existing.
func (s *session) discard(dst io.WriteCloser, name string) {
	if err := dst.Close(); err != nil {
		s.log.WithError(err).Error("Could not close File")
	}
	if err := s.store.Remove(name); err != nil {
		s.log.WithError(err).Error("Could not remove partial File")
	}
}

func (s *session) close() {
	if err := s.conn.Close(); err != nil {
		s.log.WithError(err).Error("Could not close socket")
	}
}

// readChunk fills buf from r, returning a short count only at the end of
// the stream. The final short (or empty) chunk becomes the terminal DATA
// packet.
func readChunk(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil
	}
	return n, err
}
