package server

import (
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/tftp/internal/common"
	"github.com/Pablu23/tftp/internal/observability"
)

// sendError encodes an ERROR packet and sends it exactly once on conn.
// Best effort: ERROR packets are never acknowledged by the protocol and
// never retransmitted, and a failed send is only logged so it cannot
// trigger another error packet.
func sendError(conn *net.UDPConn, addr *net.UDPAddr, code common.ErrorCode, msg string) {
	pck := common.New(code, msg)
	if _, err := conn.WriteToUDP(pck.ToBytes(), addr); err != nil {
		log.WithError(err).WithField("Peer", addr).Warn("Could not send Error Packet")
		return
	}
	observability.RecordPacketSent(common.OpError.String())
}

// sendErrorFrom binds a throwaway ephemeral socket for the single send, for
// callers that do not own a transfer socket of their own.
func sendErrorFrom(addr *net.UDPAddr, code common.ErrorCode, msg string) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		log.WithError(err).Warn("Could not bind socket for Error Packet")
		return
	}
	defer func(conn *net.UDPConn) {
		if err := conn.Close(); err != nil {
			log.WithError(err).Error("Could not close socket")
		}
	}(conn)

	sendError(conn, addr, code, msg)
}
