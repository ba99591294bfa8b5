package transport

import (
	"encoding/binary"
	"fmt"
)

// fragmentHeaderSize is spec.md §4.8's wire format:
// [reliability_flag:1][reassembly_seq:2][fragment_count:2][fragment_index:2][fragment_size:2].
const fragmentHeaderSize = 1 + 2 + 2 + 2 + 2

type channel uint8

const (
	channelFireAndForget channel = 0
	channelReliable      channel = 1
)

type fragmentHeader struct {
	ch            channel
	reassemblySeq uint16
	fragmentCount uint16
	fragmentIndex uint16
	fragmentSize  uint16
}

func encodeFragment(h fragmentHeader, payload []byte) []byte {
	out := make([]byte, fragmentHeaderSize+len(payload))
	out[0] = byte(h.ch)
	binary.BigEndian.PutUint16(out[1:3], h.reassemblySeq)
	binary.BigEndian.PutUint16(out[3:5], h.fragmentCount)
	binary.BigEndian.PutUint16(out[5:7], h.fragmentIndex)
	binary.BigEndian.PutUint16(out[7:9], h.fragmentSize)
	copy(out[fragmentHeaderSize:], payload)
	return out
}

func decodeFragment(data []byte) (fragmentHeader, []byte, error) {
	if len(data) < fragmentHeaderSize {
		return fragmentHeader{}, nil, fmt.Errorf("transport: fragment header too small (%d bytes)", len(data))
	}
	h := fragmentHeader{
		ch:            channel(data[0]),
		reassemblySeq: binary.BigEndian.Uint16(data[1:3]),
		fragmentCount: binary.BigEndian.Uint16(data[3:5]),
		fragmentIndex: binary.BigEndian.Uint16(data[5:7]),
		fragmentSize:  binary.BigEndian.Uint16(data[7:9]),
	}
	if h.ch != channelFireAndForget && h.ch != channelReliable {
		return h, nil, fmt.Errorf("transport: unknown channel %d", h.ch)
	}
	payload := data[fragmentHeaderSize:]
	if int(h.fragmentSize) != len(payload) {
		return h, nil, fmt.Errorf("transport: fragment_size %d does not match payload length %d", h.fragmentSize, len(payload))
	}
	if h.fragmentCount == 0 || h.fragmentIndex >= h.fragmentCount {
		return h, nil, fmt.Errorf("transport: fragment_index %d out of bounds for count %d", h.fragmentIndex, h.fragmentCount)
	}
	return h, payload, nil
}
