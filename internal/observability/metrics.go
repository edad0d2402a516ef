// Package observability holds the process-wide, explicitly toggled
// instrumentation. Counters are no-ops until Enable is called, so the
// protocol engine carries no measurable overhead when the operator leaves
// metrics off.
package observability

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once
	enabled      atomic.Bool

	packetsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tftpd",
			Subsystem: "wire",
			Name:      "packets_received_total",
			Help:      "Datagrams decoded successfully, by packet type.",
		},
		[]string{"type"},
	)
	packetsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tftpd",
			Subsystem: "wire",
			Name:      "packets_sent_total",
			Help:      "Packets sent, by packet type.",
		},
		[]string{"type"},
	)
	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tftpd",
			Subsystem: "transfer",
			Name:      "sessions_total",
			Help:      "Finished transfer sessions, by direction and outcome.",
		},
		[]string{"direction", "outcome"},
	)
	retransmissions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tftpd",
			Subsystem: "transfer",
			Name:      "retransmissions_total",
			Help:      "Packets resent after a timeout or a stale acknowledgment.",
		},
	)
	bytesMoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tftpd",
			Subsystem: "transfer",
			Name:      "bytes_total",
			Help:      "Payload bytes moved, by transfer direction.",
		},
		[]string{"direction"},
	)
)

// Enable registers the collectors and turns the record helpers on.
func Enable() {
	registerOnce.Do(func() {
		prometheus.MustRegister(packetsReceived, packetsSent, transfers, retransmissions, bytesMoved)
	})
	enabled.Store(true)
}

// Serve enables instrumentation and exposes it on addr. Blocks like
// http.ListenAndServe.
func Serve(addr string) error {
	Enable()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}

func RecordPacketReceived(kind string) {
	if !enabled.Load() {
		return
	}
	packetsReceived.WithLabelValues(kind).Inc()
}

func RecordPacketSent(kind string) {
	if !enabled.Load() {
		return
	}
	packetsSent.WithLabelValues(kind).Inc()
}

func RecordTransfer(direction, outcome string) {
	if !enabled.Load() {
		return
	}
	transfers.WithLabelValues(direction, outcome).Inc()
}

func RecordRetransmission() {
	if !enabled.Load() {
		return
	}
	retransmissions.Inc()
}

func RecordBytes(direction string, n int) {
	if !enabled.Load() {
		return
	}
	bytesMoved.WithLabelValues(direction).Add(float64(n))
}
