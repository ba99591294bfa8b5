// Package cutenet implements a UDP-based secure client/server networking
// core for latency-sensitive applications: connect-token authentication, an
// encrypted handshake, and a reliability layer (ack, fragmentation,
// resend) layered on top. See the protocol, transport, client, and server
// packages for the pieces; this file only holds the small shared data
// types every layer passes around.
package cutenet

import (
	"fmt"
	"net"
)

// EndpointKind tags which address family an Endpoint carries.
type EndpointKind uint8

const (
	EndpointIPv4 EndpointKind = iota
	EndpointIPv6
)

// Endpoint is spec.md §3's tagged address variant: IPv4 octets, IPv6
// groups, and a port, compared by (kind, address, port).
type Endpoint struct {
	Kind EndpointKind
	IPv4 [4]byte
	IPv6 [16]byte
	Port uint16
}

// NewEndpoint builds an Endpoint from a net.UDPAddr, choosing IPv4 or IPv6
// based on the address's actual form.
func NewEndpoint(addr *net.UDPAddr) (Endpoint, error) {
	var ep Endpoint
	if addr == nil {
		return ep, fmt.Errorf("cutenet: nil address")
	}
	if v4 := addr.IP.To4(); v4 != nil {
		ep.Kind = EndpointIPv4
		copy(ep.IPv4[:], v4)
	} else if v6 := addr.IP.To16(); v6 != nil {
		ep.Kind = EndpointIPv6
		copy(ep.IPv6[:], v6)
	} else {
		return ep, fmt.Errorf("cutenet: unrecognized address %v", addr.IP)
	}
	ep.Port = uint16(addr.Port)
	return ep, nil
}

func (e Endpoint) UDPAddr() *net.UDPAddr {
	switch e.Kind {
	case EndpointIPv6:
		ip := make(net.IP, 16)
		copy(ip, e.IPv6[:])
		return &net.UDPAddr{IP: ip, Port: int(e.Port)}
	default:
		ip := make(net.IP, 4)
		copy(ip, e.IPv4[:])
		return &net.UDPAddr{IP: ip, Port: int(e.Port)}
	}
}

// Equal compares tag, address, and port, per spec.md §3.
func (e Endpoint) Equal(other Endpoint) bool {
	if e.Kind != other.Kind || e.Port != other.Port {
		return false
	}
	if e.Kind == EndpointIPv6 {
		return e.IPv6 == other.IPv6
	}
	return e.IPv4 == other.IPv4
}

func (e Endpoint) String() string {
	return e.UDPAddr().String()
}

// Error is the two-field boundary error shape from spec.md §6: a stable
// code plus a static-string detail. The core never panics on malformed
// input. Boundary checks (not connected, bad or expired token, size
// limits, full send queue) surface as one of these; socket errors and some
// framing and reassembly errors are returned as plain Go errors.
type Error struct {
	Code   int
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("cutenet: %s (code %d)", e.Detail, e.Code)
}

// Well-known error codes. Callers should match on Code, not on the string,
// since Detail is meant for logs rather than programmatic dispatch.
const (
	CodeOK = iota
	CodeInvalidToken
	CodeTokenExpired
	CodeServerFull
	CodeAlreadyConnected
	CodeDecryptFailed
	CodeSizeExceeded
	CodeQueueFull
	CodeNotConnected
	CodeTimeout
)

func NewError(code int, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}
