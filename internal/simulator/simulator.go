// Package simulator provides an in-process virtual network satisfying the
// same Socket collaborator interface the real UDP transport does, so tests
// can drive fragmented/reliable delivery under configurable latency,
// jitter, and packet loss without touching an actual socket. Per spec.md
// §2 this is explicitly optional, debug-only scaffolding, not part of the
// correctness-critical core.
package simulator

import (
	"math/rand"
	"time"

	"github.com/ventosilenzioso/cutenet"
)

// Config controls one Socket's view of the network: how long a datagram
// takes to arrive and how often it is dropped in transit.
type Config struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration // jitter range is [MinLatency, MaxLatency); equal values mean fixed latency
	LossPercent float64       // [0,100]: percent chance a sent datagram never arrives; 100 drops all
}

type inFlight struct {
	data      []byte
	from      cutenet.Endpoint
	deliverAt time.Time
}

type inbox struct {
	data []byte
	from cutenet.Endpoint
}

// Network is a shared hub of Sockets addressed by Endpoint. Nothing here
// spawns a goroutine: delivery only happens when the driver calls Advance,
// matching the rest of the module's cooperative update() model.
type Network struct {
	clock   time.Time
	sockets map[cutenet.Endpoint]*Socket
	rng     *rand.Rand
}

// NewNetwork creates an empty virtual network. seed makes loss/jitter
// decisions reproducible across test runs.
func NewNetwork(seed int64) *Network {
	return &Network{
		sockets: make(map[cutenet.Endpoint]*Socket),
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// NewSocket registers a Socket at addr with its own latency/loss profile.
// Sending to an addr with no registered Socket is a silent no-op, matching
// real UDP's fire-and-forget semantics toward an unreachable peer.
func (n *Network) NewSocket(addr cutenet.Endpoint, cfg Config) *Socket {
	s := &Socket{net: n, self: addr, cfg: cfg}
	n.sockets[addr] = s
	return s
}

// Advance moves the network's clock forward and releases any in-flight
// datagram whose delivery time has passed into its destination's inbox.
// Call once per tick, before draining any Socket's RecvFrom.
func (n *Network) Advance(now time.Time) {
	n.clock = now
	for _, s := range n.sockets {
		remaining := s.pending[:0]
		for _, p := range s.pending {
			if !now.Before(p.deliverAt) {
				s.inboxes = append(s.inboxes, inbox{data: p.data, from: p.from})
			} else {
				remaining = append(remaining, p)
			}
		}
		s.pending = remaining
	}
}

// Socket is one endpoint's view into the Network, implementing the same
// protocol.Socket interface a real UDP connection satisfies.
type Socket struct {
	net     *Network
	self    cutenet.Endpoint
	cfg     Config
	pending []inFlight
	inboxes []inbox
}

// SendTo queues data for delivery to "to" after this socket's configured
// latency/jitter, and may drop it entirely per LossPercent. The error
// return is always nil: a dropped or misrouted datagram is not a socket
// failure, exactly as with real UDP.
func (s *Socket) SendTo(to cutenet.Endpoint, data []byte) error {
	if s.cfg.LossPercent > 0 && s.net.rng.Float64()*100 < s.cfg.LossPercent {
		return nil
	}
	dest, ok := s.net.sockets[to]
	if !ok {
		return nil
	}
	delay := s.cfg.MinLatency
	if s.cfg.MaxLatency > s.cfg.MinLatency {
		delay += time.Duration(s.net.rng.Int63n(int64(s.cfg.MaxLatency - s.cfg.MinLatency)))
	}
	cp := append([]byte(nil), data...)
	dest.pending = append(dest.pending, inFlight{
		data:      cp,
		from:      s.self,
		deliverAt: s.net.clock.Add(delay),
	})
	return nil
}

// RecvFrom pops the oldest delivered-but-undrained datagram, if any.
func (s *Socket) RecvFrom(buf []byte) (n int, from cutenet.Endpoint, ok bool, err error) {
	if len(s.inboxes) == 0 {
		return 0, cutenet.Endpoint{}, false, nil
	}
	next := s.inboxes[0]
	s.inboxes = s.inboxes[1:]
	n = copy(buf, next.data)
	return n, next.from, true, nil
}
