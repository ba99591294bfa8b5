// Package client is the top-level facade composing protocol.Client (the
// handshake state machine) with a transport.Transport (fragmentation,
// ack, resend), mirroring server.Server's composition on the other side
// of the connection.
package client

import (
	"fmt"
	"net"
	"time"

	"github.com/ventosilenzioso/cutenet"
	"github.com/ventosilenzioso/cutenet/internal/ack"
	"github.com/ventosilenzioso/cutenet/internal/crypto"
	"github.com/ventosilenzioso/cutenet/internal/token"
	"github.com/ventosilenzioso/cutenet/pkg/logger"
	"github.com/ventosilenzioso/cutenet/protocol"
	"github.com/ventosilenzioso/cutenet/transport"
)

// Config bundles the protocol handshake configuration with the transport
// tunables the reliability layer is constructed with.
type Config struct {
	Protocol       protocol.ClientConfig
	Transport      transport.Config
	RecvBufferSize int
}

func DefaultConfig() Config {
	return Config{
		Transport:      transport.DefaultConfig(),
		RecvBufferSize: 2048,
	}
}

// Client owns a UDP socket bound to an ephemeral local port, the
// handshake state machine, and the reliability layer above it.
type Client struct {
	cfg       Config
	proto     *protocol.Client
	transport *transport.Transport
	ack       *ack.System
	closeFn   func() error
	recvBuf   []byte
	now       time.Time // most recent Update(now); the send closure reads this instead of touching the wall clock
}

// Dial opens a UDP socket and begins the handshake against the connect
// token's first candidate endpoint (see protocol.NewClient).
func Dial(cfg Config, prov crypto.Provider, ct *token.ConnectToken) (*Client, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("client: open socket: %w", err)
	}
	sock := &udpSocket{conn: conn}
	c, err := NewWithSocket(cfg, sock, prov, ct, conn.Close)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// NewWithSocket builds a Client around an arbitrary protocol.Socket,
// letting callers substitute an in-memory or internal/simulator socket for
// a real bound net.UDPConn — useful for deterministic handshake/delivery
// tests that never open a real port. closeFn may be nil when the caller
// owns the socket's lifecycle itself.
func NewWithSocket(cfg Config, sock protocol.Socket, prov crypto.Provider, ct *token.ConnectToken, closeFn func() error) (*Client, error) {
	proto, err := protocol.NewClient(cfg.Protocol, sock, prov, ct)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		proto:   proto,
		closeFn: closeFn,
		recvBuf: make([]byte, cfg.RecvBufferSize),
	}
	c.ack = ack.New()
	c.transport = transport.New(cfg.Transport, c.ack, func(body []byte) error {
		return c.proto.Send(c.now, body)
	})
	return c, nil
}

// Update drains the socket, advances the handshake, routes any PAYLOAD
// bytes into the transport's reassembler, and pumps the resend scheduler.
func (c *Client) Update(now time.Time) {
	c.now = now
	c.proto.Update(now, c.recvBuf)

	for _, ev := range c.proto.DrainEvents() {
		if ev.Type == protocol.EventPayload {
			if err := c.transport.Receive(now, ev.Payload); err != nil {
				logger.Warn("client: malformed reliability payload: %v", err)
			}
		}
	}
	c.transport.Update(now)
}

// State reports the handshake/connection state machine's current value.
func (c *Client) State() protocol.State { return c.proto.State() }

// SendReliable enqueues data for reliable delivery, fragmenting it if
// needed; the peer receives messages in the order their reassembly
// completes, which is not necessarily send order. SendUnreliable fragments
// but does not retry.
func (c *Client) SendReliable(now time.Time, data []byte) error {
	if c.proto.State() != protocol.StateConnected {
		return cutenet.NewError(cutenet.CodeNotConnected, "client is not connected")
	}
	return c.transport.Send(now, data, true)
}

func (c *Client) SendUnreliable(now time.Time, data []byte) error {
	if c.proto.State() != protocol.StateConnected {
		return cutenet.NewError(cutenet.CodeNotConnected, "client is not connected")
	}
	return c.transport.Send(now, data, false)
}

// Receive pops one fully reassembled reliable message, if any.
func (c *Client) Receive() ([]byte, bool) { return c.transport.ReceiveReliable() }

// ReceiveUnreliable pops one fully reassembled fire-and-forget message.
func (c *Client) ReceiveUnreliable() ([]byte, bool) { return c.transport.ReceiveFireAndForget() }

// Disconnect sends a disconnect burst (if connected) and closes the socket.
func (c *Client) Disconnect(now time.Time) {
	c.proto.Disconnect(now)
	if c.closeFn != nil {
		_ = c.closeFn()
	}
}

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
