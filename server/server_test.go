package server

import (
	"net"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/ventosilenzioso/cutenet"
	"github.com/ventosilenzioso/cutenet/client"
	"github.com/ventosilenzioso/cutenet/internal/crypto"
	"github.com/ventosilenzioso/cutenet/internal/token"
	"github.com/ventosilenzioso/cutenet/protocol"
)

// memPacket/memNetwork/memSocket mirror the fabric protocol's own tests
// use: a lossless, lifecycle-free stand-in for a bound UDP socket pair.
type memPacket struct {
	from cutenet.Endpoint
	data []byte
}

type memNetwork struct {
	sockets map[cutenet.Endpoint]*memSocket
}

func newMemNetwork() *memNetwork {
	return &memNetwork{sockets: make(map[cutenet.Endpoint]*memSocket)}
}

func (n *memNetwork) deliver(to, from cutenet.Endpoint, data []byte) {
	sock, ok := n.sockets[to]
	if !ok {
		return
	}
	sock.inbox = append(sock.inbox, memPacket{from: from, data: append([]byte{}, data...)})
}

type memSocket struct {
	self  cutenet.Endpoint
	net   *memNetwork
	inbox []memPacket
}

func newMemSocket(net *memNetwork, self cutenet.Endpoint) *memSocket {
	s := &memSocket{self: self, net: net}
	net.sockets[self] = s
	return s
}

func (s *memSocket) SendTo(to cutenet.Endpoint, data []byte) error {
	s.net.deliver(to, s.self, data)
	return nil
}

func (s *memSocket) RecvFrom(buf []byte) (int, cutenet.Endpoint, bool, error) {
	if len(s.inbox) == 0 {
		return 0, cutenet.Endpoint{}, false, nil
	}
	p := s.inbox[0]
	s.inbox = s.inbox[1:]
	return copy(buf, p.data), p.from, true, nil
}

func endpointAt(t *testing.T, port int) cutenet.Endpoint {
	t.Helper()
	ep, err := cutenet.NewEndpoint(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	assert.NilError(t, err)
	return ep
}

func setupServerAndClient(t *testing.T) (*Server, *client.Client, time.Time) {
	t.Helper()
	prov := crypto.New()
	pk, sk, err := prov.GenerateSignKeypair()
	assert.NilError(t, err)
	shared := prov.GenerateSymmetricKey()
	c2sKey := prov.GenerateSymmetricKey()
	s2cKey := prov.GenerateSymmetricKey()

	net := newMemNetwork()
	serverEP := endpointAt(t, 41000)
	clientEP := endpointAt(t, 41001)
	serverSock := newMemSocket(net, serverEP)
	clientSock := newMemSocket(net, clientEP)

	cfg := DefaultConfig()
	cfg.Protocol.ApplicationID = 1
	cfg.Protocol.ProtocolID = 9
	cfg.Protocol.MaxClients = 4
	cfg.Protocol.ConnectionTimeout = 5 * time.Second
	cfg.Protocol.SignPublicKey = pk
	cfg.Protocol.SharedSecretKey = shared

	srv, err := NewWithSocket(cfg, serverSock, serverEP, prov, nil, nil)
	assert.NilError(t, err)

	now := time.Unix(2000, 0)
	var userData [token.UserDataSize]byte
	blob, err := token.Generate(prov, 1, now, c2sKey, s2cKey, now.Add(30*time.Second), 2*time.Second, []cutenet.Endpoint{serverEP}, 55, userData, shared, sk)
	assert.NilError(t, err)
	ct, err := token.ClientReadRest(blob, 1, now)
	assert.NilError(t, err)

	clientCfg := client.DefaultConfig()
	clientCfg.Protocol.ApplicationID = 1
	clientCfg.Protocol.ProtocolID = 9
	cl, err := client.NewWithSocket(clientCfg, clientSock, prov, ct, nil)
	assert.NilError(t, err)

	for i := 0; i < 50; i++ {
		cl.Update(now)
		srv.Update(now)
		if cl.State() == protocol.StateConnected {
			break
		}
		now = now.Add(10 * time.Millisecond)
	}
	return srv, cl, now
}

func TestServerAcceptsHandshakeFromClient(t *testing.T) {
	srv, cl, _ := setupServerAndClient(t)
	assert.Equal(t, cl.State().String(), "CONNECTED")
	assert.Equal(t, srv.ConnectedSlots(), 1)
}

func TestServerDeliversReliableMessageToClient(t *testing.T) {
	srv, cl, now := setupServerAndClient(t)
	assert.NilError(t, srv.SendReliable(now, 0, []byte("hello from server")))

	var got []byte
	for i := 0; i < 20; i++ {
		srv.Update(now)
		cl.Update(now)
		if msg, ok := cl.Receive(); ok {
			got = msg
			break
		}
		now = now.Add(5 * time.Millisecond)
	}
	assert.DeepEqual(t, got, []byte("hello from server"))
}

func TestClientDeliversReliableMessageToServer(t *testing.T) {
	srv, cl, now := setupServerAndClient(t)
	assert.NilError(t, cl.SendReliable(now, []byte("hello from client")))

	var got []byte
	for i := 0; i < 20; i++ {
		cl.Update(now)
		srv.Update(now)
		if msg, ok := srv.Receive(0); ok {
			got = msg
			break
		}
		now = now.Add(5 * time.Millisecond)
	}
	assert.DeepEqual(t, got, []byte("hello from client"))
}

func TestServerStopDisconnectsAllSlots(t *testing.T) {
	srv, _, _ := setupServerAndClient(t)
	assert.Equal(t, srv.ConnectedSlots(), 1)
	srv.Stop()
	assert.Equal(t, srv.ConnectedSlots(), 0)
}

func TestSendReliableToUnknownSlotFails(t *testing.T) {
	srv, _, now := setupServerAndClient(t)
	err := srv.SendReliable(now, 99, []byte("x"))
	assert.Check(t, err != nil)
}
