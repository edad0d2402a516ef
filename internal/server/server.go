package server

import (
	"errors"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/tftp/internal/common"
	"github.com/Pablu23/tftp/internal/observability"
)

// Server owns the well-known listening socket. It decodes the first
// datagram of every exchange and spawns one goroutine per accepted request;
// everything after the request happens on the session's own ephemeral
// socket.
type Server struct {
	options  *Options
	store    Store
	registry *registry
}

func New(opts ...func(*Options)) (*Server, error) {
	options := NewDefaultOptions()

	for _, opt := range opts {
		opt(options)
	}

	store := options.Store
	if store == nil {
		var err error
		store, err = NewDirStore(options.Datapath)
		if err != nil {
			return nil, err
		}
	}

	log.SetFormatter(&log.TextFormatter{
		ForceColors: true,
	})

	return &Server{
		options:  options,
		store:    store,
		registry: newRegistry(options.MaxSessions),
	}, nil
}

// Serve binds the well-known socket and runs the dispatch loop. A bind
// failure is the only fatal startup condition; once listening, no session
// failure can take the loop down.
func (server *Server) Serve() error {
	udpAddr, err := net.ResolveUDPAddr("udp", server.options.Address)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", server.options.Address, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", server.options.Address, err)
	}

	return server.ServeConn(conn)
}

// ServeConn runs the dispatch loop on an already bound socket. It returns
// nil once conn is closed.
func (server *Server) ServeConn(conn *net.UDPConn) error {
	defer func(conn *net.UDPConn) {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.WithError(err).Error("Could not close socket")
		}
	}(conn)

	log.WithField("Address", conn.LocalAddr().String()).Info("Started listening")

	var buf [common.BufferSize]byte
	for {
		n, addr, err := conn.ReadFromUDP(buf[:])
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.WithError(err).Error("Could not retrieve UDP Packet")
			continue
		}

		pck, err := common.PacketFromBytes(buf[:n])
		if err != nil {
			log.WithError(err).WithField("Peer", addr).Warn("Received invalid Packet")
			werr := wireError(err)
			go sendErrorFrom(addr, werr.Code, werr.Message)
			continue
		}
		observability.RecordPacketReceived(pck.Op().String())

		switch p := pck.(type) {
		case *common.ReadRequest:
			server.spawn(addr, func(sess *session) { sess.serveRead(p) })
		case *common.WriteRequest:
			server.spawn(addr, func(sess *session) { sess.serveWrite(p) })
		default:
			// DATA, ACK and ERROR belong on a transfer socket, never on
			// the well-known one.
			log.WithFields(log.Fields{
				"Packet Type": pck.Op(),
				"Peer":        addr,
			}).Warn("Unexpected Packet Type")
			go sendErrorFrom(addr, common.ErrCodeIllegalOperation, "no transfer in progress")
		}
	}
}

// spawn starts one session goroutine for an accepted request. Duplicate
// requests from a peer with a transfer already running, and requests past
// the session cap, are dropped without reply.
func (server *Server) spawn(addr *net.UDPAddr, run func(*session)) {
	if !server.registry.acquire(addr) {
		log.WithField("Peer", addr).Debug("Dropping duplicate or over-cap request")
		return
	}

	sess, err := newSession(addr, server.store, server.options)
	if err != nil {
		server.registry.release(addr)
		log.WithError(err).Error("Could not bind transfer socket")
		return
	}

	go func() {
		defer server.registry.release(addr)
		run(sess)
	}()
}
