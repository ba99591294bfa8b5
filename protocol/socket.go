package protocol

import "github.com/ventosilenzioso/cutenet"

// Socket is the UDP collaborator spec.md §6 calls out as external: "A UDP
// socket object supporting send(endpoint, buf, len) and non-blocking
// recv(out_endpoint, buf, cap) -> len." RecvFrom's ok=false with a nil
// error means "nothing available right now", not a failure.
type Socket interface {
	SendTo(to cutenet.Endpoint, data []byte) error
	RecvFrom(buf []byte) (n int, from cutenet.Endpoint, ok bool, err error)
}
