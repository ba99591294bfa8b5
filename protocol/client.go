package protocol

import (
	"fmt"
	"time"

	"github.com/ventosilenzioso/cutenet"
	"github.com/ventosilenzioso/cutenet/internal/crypto"
	"github.com/ventosilenzioso/cutenet/internal/replay"
	"github.com/ventosilenzioso/cutenet/internal/token"
	"github.com/ventosilenzioso/cutenet/internal/wire"
)

// State is the client connection state enum from spec.md §4.6: positive
// values are in-progress/connected, zero is idle, negative values are
// terminal errors.
type State int

const (
	StateConnected                  State = 3
	StateSendingChallengeResponse   State = 2
	StateSendingConnectionRequest   State = 1
	StateDisconnected               State = 0
	StateConnectionDenied           State = -1
	StateConnectionRequestTimedOut  State = -2
	StateChallengeResponseTimedOut  State = -3
	StateConnectionTimedOut         State = -4
	StateInvalidConnectToken        State = -5
	StateConnectTokenExpired        State = -6
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateSendingChallengeResponse:
		return "SENDING_CHALLENGE_RESPONSE"
	case StateSendingConnectionRequest:
		return "SENDING_CONNECTION_REQUEST"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnectionDenied:
		return "CONNECTION_DENIED"
	case StateConnectionRequestTimedOut:
		return "CONNECTION_REQUEST_TIMED_OUT"
	case StateChallengeResponseTimedOut:
		return "CHALLENGE_RESPONSE_TIMED_OUT"
	case StateConnectionTimedOut:
		return "CONNECTION_TIMED_OUT"
	case StateInvalidConnectToken:
		return "INVALID_CONNECT_TOKEN"
	case StateConnectTokenExpired:
		return "CONNECT_TOKEN_EXPIRED"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

func (s State) Terminal() bool { return s <= 0 }

// ClientConfig mirrors spec.md §6's client constructor options.
type ClientConfig struct {
	ApplicationID uint64
	ProtocolID    uint32
}

// Client implements spec.md §4.6's handshake and connected-state machine.
type Client struct {
	cfg  ClientConfig
	sock Socket
	prov crypto.Provider

	state           State
	tentativeState  State
	candidates      []cutenet.Endpoint
	candidateIndex  int
	tokenExpiration   time.Time
	handshakeTimeout  time.Duration
	tokenPacket       [token.PacketSize]byte
	c2sKey            crypto.Key
	s2cKey            crypto.Key
	clientID          uint64
	maxClients        uint32
	connectionTimeout time.Duration

	replay   *replay.Buffer
	outSeq   uint64
	lastRecv time.Time
	lastSent time.Time

	challengeNonce uint64
	challengeBlob  [wire.ChallengeBlobSize]byte
	haveChallenge  bool

	events eventQueue
}

// NewClient prepares a client from an already-validated connect token (the
// output of token.ClientReadRest) and begins the handshake against the
// token's first candidate server.
func NewClient(cfg ClientConfig, sock Socket, prov crypto.Provider, ct *token.ConnectToken) (*Client, error) {
	if len(ct.Endpoints) == 0 {
		return nil, cutenet.NewError(cutenet.CodeInvalidToken, "connect token lists no candidate servers")
	}
	c := &Client{
		cfg:              cfg,
		sock:             sock,
		prov:             prov,
		candidates:       ct.Endpoints,
		tokenExpiration:  ct.ExpireAt,
		handshakeTimeout: ct.HandshakeTimeout,
		c2sKey:           ct.Preamble.C2SKey,
		s2cKey:           ct.Preamble.S2CKey,
		replay:           replay.New(),
	}
	c.tokenPacket = ct.Packet
	c.enterCandidate(time.Time{})
	return c, nil
}

func (c *Client) State() State { return c.state }

func (c *Client) enterCandidate(now time.Time) {
	c.state = StateSendingConnectionRequest
	c.tentativeState = StateConnectionRequestTimedOut
	c.replay.Reset()
	c.outSeq = 0
	c.lastRecv = now
	c.lastSent = time.Time{}
	c.haveChallenge = false
}

// Update drains the socket and drives the state machine forward one tick.
// Mirrors spec.md §4.6's per-update transitions.
func (c *Client) Update(now time.Time, recvBuf []byte) {
	if c.state.Terminal() {
		return
	}
	if c.lastRecv.IsZero() {
		// NewClient has no clock; the first candidate's timers start here.
		c.lastRecv = now
	}
	if c.state != StateConnected && !c.tokenExpiration.IsZero() && !now.Before(c.tokenExpiration) {
		c.terminateWithBurst(now, StateConnectTokenExpired)
		return
	}

	for {
		n, from, ok, err := c.sock.RecvFrom(recvBuf)
		if err != nil || !ok {
			break
		}
		if !from.Equal(c.candidates[c.candidateIndex]) {
			continue
		}
		c.handleDatagram(now, recvBuf[:n])
		if c.state.Terminal() {
			return
		}
	}

	switch c.state {
	case StateSendingConnectionRequest:
		if now.Sub(c.lastRecv) >= c.handshakeTimeout {
			c.advanceCandidateOrTerminate(now)
			return
		}
		if now.Sub(c.lastSent) >= sendInterval {
			c.sendRaw(now, c.tokenPacket[:])
		}
	case StateSendingChallengeResponse:
		if now.Sub(c.lastRecv) >= c.handshakeTimeout {
			c.advanceCandidateOrTerminate(now)
			return
		}
		if now.Sub(c.lastSent) >= sendInterval && c.haveChallenge {
			c.sendChallengeResponse(now)
		}
	case StateConnected:
		if now.Sub(c.lastRecv) >= c.connectionTimeout {
			c.terminateWithBurst(now, StateConnectionTimedOut)
			return
		}
		if now.Sub(c.lastSent) >= sendInterval {
			c.sendFramed(now, wire.KindKeepAlive, nil)
		}
	}
}

func (c *Client) advanceCandidateOrTerminate(now time.Time) {
	if c.candidateIndex+1 < len(c.candidates) {
		c.candidateIndex++
		c.enterCandidate(now)
		return
	}
	c.state = c.tentativeState
}

func (c *Client) handleDatagram(now time.Time, data []byte) {
	if len(data) < wire.FixedOverhead {
		return
	}
	_, seq, err := wire.PeekSequence(data)
	if err != nil {
		return
	}
	if !c.replay.Check(seq) {
		return
	}
	kind, _, payload, err := wire.ReadPacket(c.prov, c.s2cKey, c.cfg.ProtocolID, data)
	if err != nil {
		return
	}
	c.replay.Update(seq)
	c.lastRecv = now

	switch c.state {
	case StateSendingConnectionRequest:
		if kind == wire.KindChallengeRequest {
			nonce, blob, err := wire.DecodeChallenge(payload)
			if err != nil {
				return
			}
			c.challengeNonce = nonce
			c.challengeBlob = blob
			c.haveChallenge = true
			c.state = StateSendingChallengeResponse
			c.tentativeState = StateChallengeResponseTimedOut
			c.lastSent = time.Time{}
		} else if kind == wire.KindConnectionDenied {
			c.advanceCandidateOrDeny(now)
		}
	case StateSendingChallengeResponse:
		if kind == wire.KindConnectionAccepted {
			clientID, maxClients, timeoutSecs, err := wire.DecodeConnectionAccepted(payload)
			if err != nil {
				return
			}
			c.clientID = clientID
			c.maxClients = maxClients
			c.connectionTimeout = time.Duration(timeoutSecs) * time.Second
			c.state = StateConnected
			c.lastSent = time.Time{}
		} else if kind == wire.KindConnectionDenied {
			c.advanceCandidateOrDeny(now)
		}
	case StateConnected:
		switch kind {
		case wire.KindDisconnect:
			c.state = StateDisconnected
		case wire.KindPayload:
			payloadBytes, err := wire.DecodePayload(payload)
			if err == nil {
				c.events.push(Event{Type: EventPayload, Payload: payloadBytes})
			}
		}
	}
}

func (c *Client) advanceCandidateOrDeny(now time.Time) {
	if c.candidateIndex+1 < len(c.candidates) {
		c.candidateIndex++
		c.enterCandidate(now)
		return
	}
	c.state = StateConnectionDenied
}

func (c *Client) terminateWithBurst(now time.Time, target State) {
	if c.state == StateConnected {
		c.sendDisconnectBurst(now)
	}
	c.state = target
}

func (c *Client) sendRaw(now time.Time, data []byte) {
	c.lastSent = now
	_ = c.sock.SendTo(c.candidates[c.candidateIndex], data)
}

func (c *Client) sendFramed(now time.Time, kind wire.Kind, payload []byte) {
	body := wire.WritePacket(c.prov, c.c2sKey, c.cfg.ProtocolID, kind, c.outSeq, payload)
	c.outSeq++
	c.sendRaw(now, body)
}

func (c *Client) sendChallengeResponse(now time.Time) {
	c.sendFramed(now, wire.KindChallengeResponse, wire.EncodeChallenge(c.challengeNonce, c.challengeBlob))
}

func (c *Client) sendDisconnectBurst(now time.Time) {
	for i := 0; i < disconnectBurst; i++ {
		c.sendFramed(now, wire.KindDisconnect, nil)
	}
}

// Disconnect sends a burst of DISCONNECT packets and moves the client to
// DISCONNECTED, per spec.md §4.6's disconnect(). It acts only while
// CONNECTED: in any other state, handshake states included, it is a
// no-op, so calling it again once DISCONNECTED does nothing (spec.md §8's
// idempotence requirement).
func (c *Client) Disconnect(now time.Time) {
	if c.state != StateConnected {
		return
	}
	c.sendDisconnectBurst(now)
	c.state = StateDisconnected
}

// Send requires the client to be CONNECTED, per spec.md §4.6's send().
func (c *Client) Send(now time.Time, data []byte) error {
	if c.state != StateConnected {
		return cutenet.NewError(cutenet.CodeNotConnected, "client is not connected")
	}
	payload, err := wire.EncodePayload(data)
	if err != nil {
		return err
	}
	c.sendFramed(now, wire.KindPayload, payload)
	return nil
}

// DrainEvents returns and clears events produced since the last call.
func (c *Client) DrainEvents() []Event { return c.events.drain() }

func (c *Client) ClientID() uint64    { return c.clientID }
func (c *Client) MaxClients() uint32  { return c.maxClients }
