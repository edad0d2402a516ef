package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/tftp/internal/common"
)

var errTimeout = errors.New("timed out waiting for server")

// Client runs lock-step transfers against a TFTP server. The zero value is
// not usable; construct with New.
type Client struct {
	Timeout time.Duration
	Retries int
}

func New() *Client {
	return &Client{
		Timeout: 5 * time.Second,
		Retries: 5,
	}
}

// transfer is one exchange in flight on the client side. The peer address
// starts as the server's well-known socket and is pinned to the server's
// ephemeral transfer socket as soon as the first reply arrives.
type transfer struct {
	conn    *net.UDPConn
	peer    *net.UDPAddr
	pinned  bool
	timeout time.Duration
}

func (c *Client) dial(address string) (*transfer, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", address, err)
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}

	return &transfer{
		conn:    conn,
		peer:    udpAddr,
		timeout: c.Timeout,
	}, nil
}

func (t *transfer) close() {
	if err := t.conn.Close(); err != nil {
		log.WithError(err).Error("Could not close socket")
	}
}

func (t *transfer) send(pck common.Packet) error {
	_, err := t.conn.WriteToUDP(pck.ToBytes(), t.peer)
	return err
}

// receive waits for the next datagram from the peer, bounded by the
// retransmission timeout. The first reply pins the server's transfer
// socket; later datagrams from anywhere else are ignored.
func (t *transfer) receive(buf []byte) (common.Packet, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
		return nil, err
	}

	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return nil, errTimeout
			}
			return nil, err
		}

		if !addr.IP.Equal(t.peer.IP) {
			continue
		}
		if t.pinned && addr.Port != t.peer.Port {
			continue
		}
		if !t.pinned {
			t.peer = addr
			t.pinned = true
		}

		return common.PacketFromBytes(buf[:n])
	}
}

// exchange sends pck and waits for a reply, resending on timeout until the
// retry budget runs out.
func (t *transfer) exchange(pck common.Packet, retries int, buf []byte) (common.Packet, error) {
	if err := t.send(pck); err != nil {
		return nil, err
	}

	for attempt := 0; attempt <= retries; attempt++ {
		reply, err := t.receive(buf)
		if errors.Is(err, errTimeout) {
			log.WithField("Attempt", attempt).Warn("Timeout, resending")
			if err := t.send(pck); err != nil {
				return nil, err
			}
			continue
		}
		return reply, err
	}

	return nil, errTimeout
}

// Get downloads remote from the server into dst.
func (c *Client) Get(address, remote string, dst io.Writer) error {
	t, err := c.dial(address)
	if err != nil {
		return err
	}
	defer t.close()

	buf := make([]byte, common.BufferSize)
	var request common.Packet = &common.ReadRequest{Filename: remote, Mode: common.ModeOctet}
	expected := uint16(1)

	for {
		reply, err := t.exchange(request, c.Retries, buf)
		if err != nil {
			return err
		}

		switch p := reply.(type) {
		case *common.Data:
			if p.Block != expected {
				// Stale block, our ACK got through after all. Re-ack it so
				// the server advances, then keep waiting.
				request = &common.Ack{Block: p.Block}
				continue
			}
			if _, err := dst.Write(p.Payload); err != nil {
				return err
			}
			request = &common.Ack{Block: expected}
			if p.Terminal() {
				// Final ACK is fire-and-forget: the server never confirms it.
				return t.send(request)
			}
			expected++ // wraps mod 65536
		case *common.Error:
			return fmt.Errorf("server error: %s (%s)", p.Message, p.Code)
		default:
			return fmt.Errorf("unexpected %s packet from server", reply.Op())
		}
	}
}

// Put uploads src to remote on the server.
func (c *Client) Put(address, remote string, src io.Reader) error {
	t, err := c.dial(address)
	if err != nil {
		return err
	}
	defer t.close()

	buf := make([]byte, common.BufferSize)
	chunk := make([]byte, common.BlockSize)
	var request common.Packet = &common.WriteRequest{Filename: remote, Mode: common.ModeOctet}
	block := uint16(0)
	terminal := false

	for {
		reply, err := t.exchange(request, c.Retries, buf)
		if err != nil {
			return err
		}

		switch p := reply.(type) {
		case *common.Ack:
			if p.Block != block {
				log.WithFields(log.Fields{
					"Expected": block,
					"Received": p.Block,
				}).Warn("Received wrong Acknowledge")
				continue
			}
			if terminal {
				return nil
			}

			n, err := readChunk(src, chunk)
			if err != nil {
				return err
			}
			block++ // wraps mod 65536
			terminal = n < common.BlockSize
			request = &common.Data{Block: block, Payload: chunk[:n]}
		case *common.Error:
			return fmt.Errorf("server error: %s (%s)", p.Message, p.Code)
		default:
			return fmt.Errorf("unexpected %s packet from server", reply.Op())
		}
	}
}

// GetFile downloads remote into a local file. When local is empty the
// remote's base name is used, matching what other TFTP clients do.
func (c *Client) GetFile(address, remote, local string) error {
	if local == "" {
		local = filepath.Base(remote)
	}

	file, err := os.Create(local)
	if err != nil {
		return err
	}

	if err := c.Get(address, remote, file); err != nil {
		file.Close()
		os.Remove(local)
		return err
	}
	return file.Close()
}

// PutFile uploads a local file to remote. When remote is empty the local
// base name is used.
func (c *Client) PutFile(address, local, remote string) error {
	if remote == "" {
		remote = filepath.Base(local)
	}

	file, err := os.Open(local)
	if err != nil {
		return err
	}
	defer file.Close()

	return c.Put(address, remote, file)
}

func readChunk(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil
	}
	return n, err
}
