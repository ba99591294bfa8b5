package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/ventosilenzioso/cutenet"
)

// Writer is a small growable big-endian byte-stream builder, the same
// shape as the teacher's BitStream but generalized from RakNet's
// little-endian split-packet fields to this module's fixed big-endian
// encoding.
type Writer struct {
	data []byte
}

func NewWriter() *Writer {
	return &Writer{data: make([]byte, 0, 64)}
}

func (w *Writer) Bytes() []byte { return w.data }

func (w *Writer) WriteByte(b byte) { w.data = append(w.data, b) }

func (w *Writer) WriteBytes(b []byte) { w.data = append(w.data, b...) }

func (w *Writer) WriteUint16(v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	w.data = append(w.data, buf[:]...)
}

func (w *Writer) WriteUint32(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	w.data = append(w.data, buf[:]...)
}

func (w *Writer) WriteUint64(v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	w.data = append(w.data, buf[:]...)
}

// WriteFixedString writes s left-justified into n bytes, zero-padding (or
// truncating) to fit. Used for the version string, which has a fixed wire
// width rather than a length prefix.
func (w *Writer) WriteFixedString(s string, n int) {
	buf := make([]byte, n)
	copy(buf, s)
	w.data = append(w.data, buf...)
}

// WriteEndpoint serializes an endpoint as [kind:1][addr:4 or 16][port:2].
func (w *Writer) WriteEndpoint(ep cutenet.Endpoint) {
	w.WriteByte(byte(ep.Kind))
	if ep.Kind == cutenet.EndpointIPv6 {
		w.WriteBytes(ep.IPv6[:])
	} else {
		w.WriteBytes(ep.IPv4[:])
	}
	w.WriteUint16(ep.Port)
}

// Pad appends n zero bytes.
func (w *Writer) Pad(n int) {
	if n <= 0 {
		return
	}
	w.data = append(w.data, make([]byte, n)...)
}

// Reader consumes a byte slice the mirror way.
type Reader struct {
	data   []byte
	offset int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) Remaining() int { return len(r.data) - r.offset }

func (r *Reader) ReadByte() (byte, error) {
	if r.offset >= len(r.data) {
		return 0, fmt.Errorf("wire: buffer overflow")
	}
	b := r.data[r.offset]
	r.offset++
	return b, nil
}

func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return nil, fmt.Errorf("wire: buffer overflow")
	}
	out := r.data[r.offset : r.offset+n]
	r.offset += n
	return out, nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadFixedString reads n bytes and trims trailing NUL padding.
func (r *Reader) ReadFixedString(n int) (string, error) {
	b, err := r.ReadBytes(n)
	if err != nil {
		return "", err
	}
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end]), nil
}

func (r *Reader) ReadEndpoint() (cutenet.Endpoint, error) {
	var ep cutenet.Endpoint
	kind, err := r.ReadByte()
	if err != nil {
		return ep, err
	}
	ep.Kind = cutenet.EndpointKind(kind)
	switch ep.Kind {
	case cutenet.EndpointIPv4:
		b, err := r.ReadBytes(4)
		if err != nil {
			return ep, err
		}
		copy(ep.IPv4[:], b)
	case cutenet.EndpointIPv6:
		b, err := r.ReadBytes(16)
		if err != nil {
			return ep, err
		}
		copy(ep.IPv6[:], b)
	default:
		return ep, fmt.Errorf("wire: unknown endpoint kind %d", kind)
	}
	port, err := r.ReadUint16()
	if err != nil {
		return ep, err
	}
	ep.Port = port
	return ep, nil
}

func (r *Reader) Skip(n int) error {
	if r.offset+n > len(r.data) {
		return fmt.Errorf("wire: buffer overflow")
	}
	r.offset += n
	return nil
}
