// Package protocol implements spec.md §4.5/§4.6: the server-side
// handshake (encryption map → client slots) and the client-side handshake
// state machine, both built on internal/token, internal/wire, and
// internal/replay. The reliability layer (ack, fragmentation) is a
// separate concern the transport package layers on top of the PAYLOAD
// events this package emits; Server and Client here only ever move one
// datagram at a time.
package protocol

import (
	"time"

	"github.com/ventosilenzioso/cutenet"
	"github.com/ventosilenzioso/cutenet/internal/crypto"
	"github.com/ventosilenzioso/cutenet/internal/replay"
	"github.com/ventosilenzioso/cutenet/internal/token"
	"github.com/ventosilenzioso/cutenet/internal/wire"
)

// sendInterval is the default handshake/keepalive re-emission period from
// spec.md §6 ("SEND_RATE default: 10 Hz").
const sendInterval = 100 * time.Millisecond // 1 / 10 Hz
const tokenCacheFactor = 8
const disconnectBurst = 10

// ServerConfig mirrors spec.md §6's server configuration object.
type ServerConfig struct {
	ApplicationID     uint64
	MaxClients        int // 1..32, default 32
	ConnectionTimeout time.Duration
	SignPublicKey     crypto.SignPublicKey
	SharedSecretKey   crypto.Key // symmetric key sealing the token's secret section
	ProtocolID        uint32
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxClients:        32,
		ConnectionTimeout: 10 * time.Second,
	}
}

type encryptionEntry struct {
	endpoint          cutenet.Endpoint
	c2sKey            crypto.Key
	s2cKey            crypto.Key
	clientID          uint64
	expireAt          time.Time
	handshakeTimeout  time.Duration
	lastRecv          time.Time
	outSeq            uint64
	replay            *replay.Buffer
	signature         crypto.Signature

	challengeIssued bool
	challengeNonce  uint64
	challengeBlob   [wire.ChallengeBlobSize]byte
	lastChallenge   time.Time
}

type clientSlot struct {
	clientID  uint64
	endpoint  cutenet.Endpoint
	confirmed bool
	lastRecv  time.Time
	lastSent  time.Time
	outSeq    uint64
	c2sKey    crypto.Key
	s2cKey    crypto.Key
	replay    *replay.Buffer

	acceptedSent bool
}

// Server implements spec.md §4.5.
type Server struct {
	cfg   ServerConfig
	sock  Socket
	prov  crypto.Provider
	addr  cutenet.Endpoint

	encryptionMap   map[cutenet.Endpoint]*encryptionEntry
	slots           []*clientSlot // len cfg.MaxClients, nil = free
	slotsByEndpoint map[cutenet.Endpoint]int
	slotsByClientID map[uint64]int

	tokenCache     *tokenCache
	challengeNonce uint64

	events eventQueue
}

func NewServer(cfg ServerConfig, sock Socket, prov crypto.Provider, addr cutenet.Endpoint) *Server {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 32
	}
	return &Server{
		cfg:             cfg,
		sock:            sock,
		prov:            prov,
		addr:            addr,
		encryptionMap:   make(map[cutenet.Endpoint]*encryptionEntry),
		slots:           make([]*clientSlot, cfg.MaxClients),
		slotsByEndpoint: make(map[cutenet.Endpoint]int),
		slotsByClientID: make(map[uint64]int),
		tokenCache:      newTokenCache(tokenCacheFactor * cfg.MaxClients),
	}
}

// Update drains the socket, advances the handshake state machine for every
// unconfirmed peer and client slot, and ages out expired encryption
// entries. Mirrors spec.md §4.5's update(dt, now).
func (s *Server) Update(now time.Time, recvBuf []byte) {
	for {
		n, from, ok, err := s.sock.RecvFrom(recvBuf)
		if err != nil || !ok {
			break
		}
		s.handleDatagram(now, from, recvBuf[:n])
	}

	for _, entry := range s.encryptionMap {
		if now.Sub(entry.lastChallenge) >= sendInterval {
			s.sendChallenge(now, entry)
		}
	}

	for idx, slot := range s.slots {
		if slot == nil {
			continue
		}
		if !slot.acceptedSent || !slot.confirmed {
			s.sendConnectionAccepted(now, idx)
		}
		if now.Sub(slot.lastSent) >= sendInterval {
			s.sendKeepAlive(now, idx)
		}
		if now.Sub(slot.lastRecv) >= s.cfg.ConnectionTimeout {
			s.dropSlot(now, idx, true)
		}
	}

	for addr, entry := range s.encryptionMap {
		if now.Sub(entry.lastRecv) >= entry.handshakeTimeout || !now.Before(entry.expireAt) {
			delete(s.encryptionMap, addr)
		}
	}
}

// DrainEvents returns and clears events produced since the last call.
func (s *Server) DrainEvents() []Event { return s.events.drain() }

func (s *Server) handleDatagram(now time.Time, from cutenet.Endpoint, data []byte) {
	if len(data) == token.PacketSize {
		s.handleConnectToken(now, from, data)
		return
	}
	if len(data) < wire.FixedOverhead {
		return
	}
	_, seq, err := wire.PeekSequence(data)
	if err != nil {
		return
	}

	if idx, ok := s.slotsByEndpoint[from]; ok {
		slot := s.slots[idx]
		if !slot.replay.Check(seq) {
			return
		}
		kind, _, payload, err := wire.ReadPacket(s.prov, slot.c2sKey, s.cfg.ProtocolID, data)
		if err != nil {
			return
		}
		slot.replay.Update(seq)
		s.handleSlotPacket(now, idx, kind, payload)
		return
	}
	if entry, ok := s.encryptionMap[from]; ok {
		if !entry.replay.Check(seq) {
			return
		}
		kind, _, payload, err := wire.ReadPacket(s.prov, entry.c2sKey, s.cfg.ProtocolID, data)
		if err != nil {
			return
		}
		entry.replay.Update(seq)
		s.handleUnconfirmedPacket(now, from, entry, kind, payload)
		return
	}
	// Unknown peer sending a non-handshake packet: silently dropped.
}

func (s *Server) handleConnectToken(now time.Time, from cutenet.Endpoint, data []byte) {
	if _, ok := s.encryptionMap[from]; ok {
		return // duplicate CONNECT_TOKEN from a peer already mid-handshake: no-op
	}
	dec, err := token.ServerDecryptConnectToken(data, s.cfg.SignPublicKey, s.cfg.SharedSecretKey, s.cfg.ApplicationID, now, s.prov)
	if err != nil {
		return
	}
	if !token.ContainsEndpoint(dec.Endpoints, s.addr) {
		return
	}
	if _, ok := s.slotsByClientID[dec.ClientID]; ok {
		return
	}
	if _, ok := s.slotsByEndpoint[from]; ok {
		return
	}
	if s.tokenCache.contains(dec.Signature) {
		return
	}
	if s.freeSlotCount() == 0 {
		body := wire.WritePacket(s.prov, dec.S2CKey, s.cfg.ProtocolID, wire.KindConnectionDenied, 0, nil)
		_ = s.sock.SendTo(from, body)
		return
	}
	s.encryptionMap[from] = &encryptionEntry{
		endpoint:         from,
		c2sKey:           dec.C2SKey,
		s2cKey:           dec.S2CKey,
		clientID:         dec.ClientID,
		expireAt:         dec.Expiration,
		handshakeTimeout: dec.HandshakeTimeout,
		lastRecv:         now,
		replay:           replay.New(),
		signature:        dec.Signature,
	}
}

func (s *Server) handleUnconfirmedPacket(now time.Time, from cutenet.Endpoint, entry *encryptionEntry, kind wire.Kind, payload []byte) {
	if kind != wire.KindChallengeResponse {
		return
	}
	nonce, blob, err := wire.DecodeChallenge(payload)
	if err != nil || !entry.challengeIssued || nonce != entry.challengeNonce || blob != entry.challengeBlob {
		s.denyAndForget(from, entry)
		return
	}
	if _, used := s.slotsByClientID[entry.clientID]; used || s.freeSlotCount() == 0 {
		s.denyAndForget(from, entry)
		return
	}
	idx := s.allocSlot()
	slot := &clientSlot{
		clientID: entry.clientID,
		endpoint: entry.endpoint,
		lastRecv: now,
		c2sKey:   entry.c2sKey,
		s2cKey:   entry.s2cKey,
		outSeq:   entry.outSeq,
		replay:   entry.replay,
	}
	s.slots[idx] = slot
	s.slotsByEndpoint[slot.endpoint] = idx
	s.slotsByClientID[slot.clientID] = idx
	s.tokenCache.insert(entry.signature)
	delete(s.encryptionMap, from)

	s.events.push(Event{Type: EventNewConnection, Slot: idx, ClientID: slot.clientID})
	s.sendConnectionAccepted(now, idx)
}

func (s *Server) denyAndForget(from cutenet.Endpoint, entry *encryptionEntry) {
	body := wire.WritePacket(s.prov, entry.s2cKey, s.cfg.ProtocolID, wire.KindConnectionDenied, entry.outSeq, nil)
	entry.outSeq++
	_ = s.sock.SendTo(from, body)
	delete(s.encryptionMap, from)
}

func (s *Server) handleSlotPacket(now time.Time, idx int, kind wire.Kind, payload []byte) {
	slot := s.slots[idx]
	switch kind {
	case wire.KindKeepAlive, wire.KindPayload:
		slot.lastRecv = now
		slot.confirmed = true
		if kind == wire.KindPayload {
			s.events.push(Event{Type: EventPayload, Slot: idx, ClientID: slot.clientID, Payload: payload})
		}
	case wire.KindDisconnect:
		s.dropSlot(now, idx, false)
	}
}

func (s *Server) sendChallenge(now time.Time, entry *encryptionEntry) {
	if !entry.challengeIssued {
		entry.challengeNonce = s.challengeNonce
		s.challengeNonce++
		s.prov.RandomBytes(entry.challengeBlob[:])
		entry.challengeIssued = true
	}
	body := wire.WritePacket(s.prov, entry.s2cKey, s.cfg.ProtocolID, wire.KindChallengeRequest, entry.outSeq, wire.EncodeChallenge(entry.challengeNonce, entry.challengeBlob))
	entry.outSeq++
	entry.lastChallenge = now
	_ = s.sock.SendTo(entry.endpoint, body)
}

func (s *Server) sendConnectionAccepted(now time.Time, idx int) {
	slot := s.slots[idx]
	payload := wire.EncodeConnectionAccepted(slot.clientID, uint32(s.cfg.MaxClients), uint32(s.cfg.ConnectionTimeout/time.Second))
	body := wire.WritePacket(s.prov, slot.s2cKey, s.cfg.ProtocolID, wire.KindConnectionAccepted, slot.outSeq, payload)
	slot.outSeq++
	slot.lastSent = now
	slot.acceptedSent = true
	_ = s.sock.SendTo(slot.endpoint, body)
}

func (s *Server) sendKeepAlive(now time.Time, idx int) {
	slot := s.slots[idx]
	body := wire.WritePacket(s.prov, slot.s2cKey, s.cfg.ProtocolID, wire.KindKeepAlive, slot.outSeq, nil)
	slot.outSeq++
	slot.lastSent = now
	_ = s.sock.SendTo(slot.endpoint, body)
}

func (s *Server) dropSlot(now time.Time, idx int, sendBurst bool) {
	slot := s.slots[idx]
	if slot == nil {
		return
	}
	if sendBurst {
		for i := 0; i < disconnectBurst; i++ {
			body := wire.WritePacket(s.prov, slot.s2cKey, s.cfg.ProtocolID, wire.KindDisconnect, slot.outSeq, nil)
			slot.outSeq++
			_ = s.sock.SendTo(slot.endpoint, body)
		}
	}
	delete(s.slotsByEndpoint, slot.endpoint)
	delete(s.slotsByClientID, slot.clientID)
	s.slots[idx] = nil
	s.events.push(Event{Type: EventDisconnected, Slot: idx, ClientID: slot.clientID})
}

func (s *Server) freeSlotCount() int {
	n := 0
	for _, slot := range s.slots {
		if slot == nil {
			n++
		}
	}
	return n
}

func (s *Server) allocSlot() int {
	for i, slot := range s.slots {
		if slot == nil {
			return i
		}
	}
	panic("protocol: allocSlot called with no free slots")
}

// Send writes a single PAYLOAD packet to slot using its outgoing sequence
// and s2c key. Mirrors spec.md §4.5's send(slot, bytes, len); the
// reliability layer above this package is what turns one Send call into
// the fragment/ack-framed body.
func (s *Server) Send(now time.Time, idx int, data []byte) error {
	if idx < 0 || idx >= len(s.slots) || s.slots[idx] == nil {
		return cutenet.NewError(cutenet.CodeNotConnected, "slot is not connected")
	}
	payload, err := wire.EncodePayload(data)
	if err != nil {
		return err
	}
	slot := s.slots[idx]
	body := wire.WritePacket(s.prov, slot.s2cKey, s.cfg.ProtocolID, wire.KindPayload, slot.outSeq, payload)
	slot.outSeq++
	slot.lastSent = now
	return s.sock.SendTo(slot.endpoint, body)
}

// Stop force-disconnects every slot without sending further packets and
// resets internal structures, per spec.md §4.5's stop().
func (s *Server) Stop() {
	for idx := range s.slots {
		s.slots[idx] = nil
	}
	s.slotsByEndpoint = make(map[cutenet.Endpoint]int)
	s.slotsByClientID = make(map[uint64]int)
	s.encryptionMap = make(map[cutenet.Endpoint]*encryptionEntry)
	s.events.drain()
}

// ConnectedSlots reports how many client slots currently hold a connection.
func (s *Server) ConnectedSlots() int {
	n := 0
	for _, slot := range s.slots {
		if slot != nil {
			n++
		}
	}
	return n
}
