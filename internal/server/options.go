package server

import "time"

type Options struct {
	// Address is the well-known listen address for initial requests.
	Address string
	// Datapath is the directory served to peers.
	Datapath string
	// Store overrides the default directory-backed store when set.
	Store Store
	// Timeout bounds every wait for a peer datagram; on expiry the last
	// packet is retransmitted.
	Timeout time.Duration
	// Retries is the retransmission budget per block before a session
	// aborts.
	Retries int
	// MaxSessions caps concurrent transfers. Zero means no cap.
	MaxSessions int
}

func NewDefaultOptions() *Options {
	return &Options{
		Address:  "0.0.0.0:69",
		Datapath: ".",
		Timeout:  5 * time.Second,
		Retries:  5,
	}
}
