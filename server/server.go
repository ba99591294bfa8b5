// Package server is the top-level facade composing protocol.Server (the
// handshake/connection state machine) with one transport.Transport per
// connected slot (fragmentation, ack, resend), the way the teacher's
// source/server/server.go composes its RakNetHandler with per-session
// bookkeeping. Unlike the teacher, nothing here spawns per-packet
// goroutines: every piece is driven from one cooperative Update(now) call,
// per spec.md §5.
package server

import (
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"

	"github.com/ventosilenzioso/cutenet"
	"github.com/ventosilenzioso/cutenet/internal/ack"
	"github.com/ventosilenzioso/cutenet/internal/crypto"
	"github.com/ventosilenzioso/cutenet/internal/metrics"
	"github.com/ventosilenzioso/cutenet/pkg/logger"
	"github.com/ventosilenzioso/cutenet/protocol"
	"github.com/ventosilenzioso/cutenet/transport"
)

// Config bundles the protocol handshake configuration with the transport
// tunables every connection's reliability layer is constructed with.
type Config struct {
	Protocol  protocol.ServerConfig
	Transport transport.Config
	RecvBufferSize int // default 2048, sized for one max-size datagram
}

func DefaultConfig() Config {
	return Config{
		Protocol:       protocol.DefaultServerConfig(),
		Transport:      transport.DefaultConfig(),
		RecvBufferSize: 2048,
	}
}

// connection bundles one slot's reliability-layer state with the
// correlation id used to tag its log lines and metric label.
type connection struct {
	slot      int
	corrID    string
	ack       *ack.System
	transport *transport.Transport
}

// Server owns a bound UDP socket, the handshake state machine, and one
// reliability-layer connection per connected slot.
type Server struct {
	cfg     Config
	proto   *protocol.Server
	closeFn func() error
	recvBuf []byte
	metrics *metrics.Metrics

	conns map[int]*connection
	now   time.Time // most recent Update(now); transport send closures read this instead of touching the wall clock
}

// New binds a UDP socket at laddr and constructs the handshake and
// reliability layers around it. reg is the Prometheus registerer the
// caller (typically cmd/cutenet-server) exposes over promhttp; pass
// prometheus.NewRegistry() for an isolated instance, or nil to skip
// metrics registration entirely.
func New(cfg Config, laddr *net.UDPAddr, prov crypto.Provider, reg prometheus.Registerer) (*Server, error) {
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("server: bind %s: %w", laddr, err)
	}
	selfEndpoint, err := cutenet.NewEndpoint(laddr)
	if err != nil {
		conn.Close()
		return nil, err
	}
	sock := &udpSocket{conn: conn}
	logger.Fields{"addr": laddr.String()}.Info("server: listening")
	return NewWithSocket(cfg, sock, selfEndpoint, prov, reg, conn.Close)
}

// NewWithSocket builds a Server around an arbitrary protocol.Socket,
// letting callers substitute an in-memory or internal/simulator socket for
// a real bound net.UDPConn — useful for deterministic handshake/delivery
// tests that never open a real port. closeFn may be nil when the caller
// owns the socket's lifecycle itself.
func NewWithSocket(cfg Config, sock protocol.Socket, self cutenet.Endpoint, prov crypto.Provider, reg prometheus.Registerer, closeFn func() error) (*Server, error) {
	proto := protocol.NewServer(cfg.Protocol, sock, prov, self)

	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}

	return &Server{
		cfg:     cfg,
		proto:   proto,
		closeFn: closeFn,
		recvBuf: make([]byte, cfg.RecvBufferSize),
		metrics: m,
		conns:   make(map[int]*connection),
	}, nil
}

// Update drains the socket, advances the handshake state machine, routes
// any newly produced PAYLOAD bytes into the owning connection's transport
// for reassembly, and pumps each connection's resend/fragment scheduler.
// Call once per tick from the caller's own loop (see cmd/cutenet-server).
func (s *Server) Update(now time.Time) {
	s.now = now
	s.proto.Update(now, s.recvBuf)

	for _, ev := range s.proto.DrainEvents() {
		switch ev.Type {
		case protocol.EventNewConnection:
			s.openConnection(ev.Slot)
		case protocol.EventDisconnected:
			s.closeConnection(ev.Slot)
		case protocol.EventPayload:
			if c, ok := s.conns[ev.Slot]; ok {
				if err := c.transport.Receive(now, ev.Payload); err != nil {
					logger.Fields{"slot": ev.Slot, "corr_id": c.corrID}.Warn("server: malformed reliability payload: %v", err)
					if s.metrics != nil {
						s.metrics.PacketsDropped.WithLabelValues("malformed").Inc()
					}
				} else if s.metrics != nil {
					s.metrics.PacketsReceived.Inc()
				}
			}
		}
	}

	for _, c := range s.conns {
		c.transport.Update(now)
		if s.metrics != nil {
			s.metrics.RTTSeconds.WithLabelValues(c.corrID).Set(c.ack.RTT().Seconds())
			s.metrics.PacketLoss.WithLabelValues(c.corrID).Set(c.ack.PacketLoss())
			s.metrics.SendBPS.WithLabelValues(c.corrID).Set(c.ack.OutboundBandwidth(time.Second))
			s.metrics.RecvBPS.WithLabelValues(c.corrID).Set(c.ack.InboundBandwidth(time.Second))
			s.metrics.FragmentResends.Add(float64(c.transport.DrainResendCount()))
		}
	}
	if s.metrics != nil {
		s.metrics.ConnectedClients.Set(float64(s.proto.ConnectedSlots()))
	}
}

func (s *Server) openConnection(slot int) {
	corrID := xid.New().String()
	ackSys := ack.New()
	c := &connection{
		slot:   slot,
		corrID: corrID,
		ack:    ackSys,
	}
	c.transport = transport.New(s.cfg.Transport, ackSys, func(body []byte) error {
		if s.metrics != nil {
			s.metrics.PacketsSent.Inc()
		}
		return s.proto.Send(s.now, slot, body)
	})
	s.conns[slot] = c
	logger.Fields{"slot": slot, "corr_id": corrID}.Info("server: client connected")
}

func (s *Server) closeConnection(slot int) {
	if c, ok := s.conns[slot]; ok {
		if s.metrics != nil {
			s.metrics.DropSlot(c.corrID)
		}
		logger.Fields{"slot": slot, "corr_id": c.corrID}.Info("server: client disconnected")
	}
	delete(s.conns, slot)
}

// SendReliable enqueues data for reliable delivery to slot, fragmenting it
// if needed; the client receives messages in the order their reassembly
// completes, which is not necessarily send order. SendUnreliable fragments
// but does not retry.
func (s *Server) SendReliable(now time.Time, slot int, data []byte) error {
	c, ok := s.conns[slot]
	if !ok {
		return cutenet.NewError(cutenet.CodeNotConnected, "slot is not connected")
	}
	return c.transport.Send(now, data, true)
}

func (s *Server) SendUnreliable(now time.Time, slot int, data []byte) error {
	c, ok := s.conns[slot]
	if !ok {
		return cutenet.NewError(cutenet.CodeNotConnected, "slot is not connected")
	}
	return c.transport.Send(now, data, false)
}

// Receive pops one fully reassembled reliable message for slot, if any.
func (s *Server) Receive(slot int) ([]byte, bool) {
	c, ok := s.conns[slot]
	if !ok {
		return nil, false
	}
	return c.transport.ReceiveReliable()
}

// ReceiveUnreliable pops one fully reassembled fire-and-forget message.
func (s *Server) ReceiveUnreliable(slot int) ([]byte, bool) {
	c, ok := s.conns[slot]
	if !ok {
		return nil, false
	}
	return c.transport.ReceiveFireAndForget()
}

// ConnectedSlots reports how many clients currently hold a connection.
func (s *Server) ConnectedSlots() int { return s.proto.ConnectedSlots() }

// Stop drops every connection and closes the underlying socket.
func (s *Server) Stop() {
	s.proto.Stop()
	s.conns = make(map[int]*connection)
	if s.closeFn != nil {
		_ = s.closeFn()
	}
}

// udpSocket adapts a bound *net.UDPConn to protocol.Socket. RecvFrom is
// non-blocking via SetReadDeadline so Update never stalls the tick.
type udpSocket struct {
	conn *net.UDPConn
}

func (u *udpSocket) SendTo(to cutenet.Endpoint, data []byte) error {
	_, err := u.conn.WriteToUDP(data, to.UDPAddr())
	return err
}

func (u *udpSocket) RecvFrom(buf []byte) (n int, from cutenet.Endpoint, ok bool, err error) {
	if err := u.conn.SetReadDeadline(time.Now()); err != nil {
		return 0, cutenet.Endpoint{}, false, err
	}
	n, addr, rerr := u.conn.ReadFromUDP(buf)
	if rerr != nil {
		if ne, isNet := rerr.(net.Error); isNet && ne.Timeout() {
			return 0, cutenet.Endpoint{}, false, nil
		}
		return 0, cutenet.Endpoint{}, false, rerr
	}
	ep, eerr := cutenet.NewEndpoint(addr)
	if eerr != nil {
		return 0, cutenet.Endpoint{}, false, nil
	}
	return n, ep, true, nil
}
