package server

import (
	"net"
	"sync"

	"github.com/kelindar/bitmap"
)

// registry tracks peers with a transfer in flight, keyed by IP with a
// bitmap over their source ports. A retransmitted request for a running
// transfer must not spawn a second session (the first reply may simply have
// been lost in transit); the optional cap bounds concurrent transfers.
type registry struct {
	mu     sync.Mutex
	max    int
	active int
	ports  map[string]*bitmap.Bitmap
}

func newRegistry(max int) *registry {
	return &registry{
		max:   max,
		ports: make(map[string]*bitmap.Bitmap),
	}
}

// acquire claims the (IP, port) pair for a new transfer. It returns false
// if that peer already has a transfer running or the session cap is
// reached; the caller must then drop the request.
func (r *registry) acquire(addr *net.UDPAddr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.max > 0 && r.active >= r.max {
		return false
	}

	ip := addr.IP.String()
	ports, ok := r.ports[ip]
	if !ok {
		ports = &bitmap.Bitmap{}
		r.ports[ip] = ports
	}
	if ports.Contains(uint32(addr.Port)) {
		return false
	}

	ports.Set(uint32(addr.Port))
	r.active++
	return true
}

func (r *registry) release(addr *net.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ip := addr.IP.String()
	if ports, ok := r.ports[ip]; ok {
		ports.Remove(uint32(addr.Port))
		if ports.Count() == 0 {
			delete(r.ports, ip)
		}
		r.active--
	}
}
