// Package transport implements spec.md §4.8: splitting oversized user
// messages into fragments, reassembling them on receipt, and driving
// reliable-channel resend on top of the internal/ack piggyback system.
// It is grounded in the teacher's Session type (source/protocol/raknet.go),
// which tracks send queues, a recovery queue of unacked datagrams, and a
// per-sequence pending-ack map the same shape this package's handle table
// and sent-fragments sequence buffer generalize.
package transport

import (
	"fmt"
	"time"

	"github.com/ventosilenzioso/cutenet"
	"github.com/ventosilenzioso/cutenet/internal/ack"
	"github.com/ventosilenzioso/cutenet/internal/seqbuf"
)

// Config holds the tunables from spec.md §6's wire-constants table.
type Config struct {
	FragmentSize         int           // default 1100
	MaxFragmentsInFlight int           // default 8
	ResendInterval       time.Duration // default 10ms
	SendQueueCapacity    int           // default 1024 reliable messages in flight
	MaxSizeSingleSend    int           // default 20 MiB
}

func DefaultConfig() Config {
	return Config{
		FragmentSize:         1100,
		MaxFragmentsInFlight: 8,
		ResendInterval:       10 * time.Millisecond,
		SendQueueCapacity:    1024,
		MaxSizeSingleSend:    20 * 1024 * 1024,
	}
}

// SendFunc hands a fully ack-framed PAYLOAD body to the protocol
// connection for encryption and transmission.
type SendFunc func(body []byte) error

type fragmentState struct {
	handle        handle
	reassemblySeq uint16
	fragmentIndex uint16
	encoded       []byte // fragment header + payload, ready to resend as-is
	sentAt        time.Time
	item          *reliableItem // nil for fire-and-forget fragments
}

// reliableItem is one user message handed to Send(reliable=true), not yet
// fully acked.
type reliableItem struct {
	data                 []byte
	fragmentCount        uint16
	finalFragmentSize    int
	nextIndex            uint16 // next fragment not yet sent
	outstanding          int    // fragments sent but not yet acked
	handles              []handle
	reliableSeqAssigned  bool
	reliableSeq          uint16
}

type reassemblyEntry struct {
	fragmentCount uint16
	received      []bool
	outstanding   int
	buf           []byte
	finalSize     int
	final         bool
}

// Transport owns one connection's fragmentation, reassembly, and reliable
// resend state. It is not safe for concurrent use; callers invoke it only
// from the single-threaded update loop.
type Transport struct {
	cfg Config
	ack *ack.System
	send SendFunc

	reliableReassemblySeq     uint16
	fireAndForgetReassemblySeq uint16

	reliableQueue []*reliableItem

	handles       *handleTable
	sentFragments *seqbuf.Buffer[handle] // keyed by ack-layer sequence

	reliableReassembly     *seqbuf.Buffer[reassemblyEntry]
	fireAndForgetReassembly *seqbuf.Buffer[reassemblyEntry]

	reliableInbound      [][]byte
	fireAndForgetInbound [][]byte

	resends int // fragments retransmitted since the last DrainResendCount
}

func New(cfg Config, ackSystem *ack.System, send SendFunc) *Transport {
	return &Transport{
		cfg:                     cfg,
		ack:                     ackSystem,
		send:                    send,
		handles:                 newHandleTable(),
		sentFragments:           seqbuf.New[handle](4096),
		reliableReassembly:      seqbuf.New[reassemblyEntry](256),
		fireAndForgetReassembly: seqbuf.New[reassemblyEntry](256),
	}
}

// Send splits bytes into fragments and either pushes them immediately
// (fire-and-forget) or enqueues a reliable send item for the resend pump
// to drive. Mirrors spec.md §4.8's Send.
func (t *Transport) Send(now time.Time, data []byte, reliable bool) error {
	if len(data) > t.cfg.MaxSizeSingleSend {
		return cutenet.NewError(cutenet.CodeSizeExceeded, "message exceeds max_size_single_send")
	}
	fragmentCount := (len(data) + t.cfg.FragmentSize - 1) / t.cfg.FragmentSize
	if fragmentCount == 0 {
		fragmentCount = 1
	}
	if fragmentCount > 0xFFFF {
		return cutenet.NewError(cutenet.CodeSizeExceeded, "message exceeds 16-bit fragment_count")
	}
	finalSize := len(data) - (fragmentCount-1)*t.cfg.FragmentSize

	if !reliable {
		seq := t.fireAndForgetReassemblySeq
		t.fireAndForgetReassemblySeq++
		for i := 0; i < fragmentCount; i++ {
			payload := fragmentSlice(data, i, fragmentCount, t.cfg.FragmentSize, finalSize)
			hdr := fragmentHeader{
				ch:            channelFireAndForget,
				reassemblySeq: seq,
				fragmentCount: uint16(fragmentCount),
				fragmentIndex: uint16(i),
				fragmentSize:  uint16(len(payload)),
			}
			if err := t.sendFragment(now, hdr, payload, nil); err != nil {
				return err
			}
		}
		return nil
	}

	if len(t.reliableQueue) >= t.cfg.SendQueueCapacity {
		return cutenet.NewError(cutenet.CodeQueueFull, "reliable send queue full")
	}
	item := &reliableItem{
		data:              data,
		fragmentCount:     uint16(fragmentCount),
		finalFragmentSize: finalSize,
		outstanding:       fragmentCount,
		handles:           make([]handle, fragmentCount),
	}
	t.reliableQueue = append(t.reliableQueue, item)
	return nil
}

func fragmentSlice(data []byte, index, count, fragmentSize, finalSize int) []byte {
	start := index * fragmentSize
	if index == count-1 {
		return data[start : start+finalSize]
	}
	return data[start : start+fragmentSize]
}

// sendFragment encodes the fragment, hands it to the ack system for
// framing, and sends it. If item is non-nil this is a reliable fragment
// and its ack-sequence is registered in the handle table / sent-fragments
// buffer for resend and ack tracking.
func (t *Transport) sendFragment(now time.Time, hdr fragmentHeader, payload []byte, item *reliableItem) error {
	encoded := encodeFragment(hdr, payload)
	ackHeader := t.ack.PrepareSend(now, len(encoded))
	body := make([]byte, 0, len(ackHeader)+len(encoded))
	body = append(body, ackHeader...)
	body = append(body, encoded...)

	if item != nil {
		seq := t.ack.NextOutgoingSeq() - 1 // the sequence PrepareSend just assigned
		st := &fragmentState{
			reassemblySeq: hdr.reassemblySeq,
			fragmentIndex: hdr.fragmentIndex,
			encoded:       encoded,
			sentAt:        now,
			item:          item,
		}
		h := t.handles.alloc(st)
		st.handle = h
		if slot, ok := t.sentFragments.Insert(seq); ok {
			*slot = h
		}
		item.handles[hdr.fragmentIndex] = h
	}

	if err := t.send(body); err != nil {
		return err
	}
	return nil
}

// Update drains newly-acked sequences, frees their fragment state, pumps
// more fragments from the reliable queue up to MaxFragmentsInFlight, and
// resends anything older than ResendInterval. Mirrors spec.md §4.8's
// "In-flight bookkeeping" / "Resend policy".
func (t *Transport) Update(now time.Time) {
	for _, seq := range t.ack.DrainPendingAcks() {
		h, ok := t.sentFragments.Find(seq)
		if !ok {
			continue
		}
		t.onFragmentAcked(*h)
		t.sentFragments.Remove(seq)
	}

	t.resendStale(now)
	t.pump(now)
}

func (t *Transport) onFragmentAcked(h handle) {
	st, ok := t.handles.get(h)
	if !ok {
		return
	}
	t.handles.free(h)
	if st.item == nil {
		return
	}
	item := st.item
	item.outstanding--
	if item.outstanding <= 0 {
		t.removeReliableItem(item)
	}
}

func (t *Transport) removeReliableItem(item *reliableItem) {
	for i, q := range t.reliableQueue {
		if q == item {
			t.reliableQueue = append(t.reliableQueue[:i], t.reliableQueue[i+1:]...)
			return
		}
	}
}

func (t *Transport) inFlightCount() int {
	n := 0
	for _, item := range t.reliableQueue {
		for _, h := range item.handles {
			if h == noHandle {
				continue
			}
			if _, ok := t.handles.get(h); ok {
				n++
			}
		}
	}
	return n
}

// pump sends not-yet-sent fragments from the head of the reliable queue
// until it's empty or MaxFragmentsInFlight is reached.
func (t *Transport) pump(now time.Time) {
	for _, item := range t.reliableQueue {
		for item.nextIndex < item.fragmentCount && t.inFlightCount() < t.cfg.MaxFragmentsInFlight {
			idx := item.nextIndex
			payload := fragmentSlice(item.data, int(idx), int(item.fragmentCount), t.cfg.FragmentSize, item.finalFragmentSize)
			reassemblySeq := t.reliableReassemblySeqFor(item)
			hdr := fragmentHeader{
				ch:            channelReliable,
				reassemblySeq: reassemblySeq,
				fragmentCount: item.fragmentCount,
				fragmentIndex: idx,
				fragmentSize:  uint16(len(payload)),
			}
			if err := t.sendFragment(now, hdr, payload, item); err != nil {
				return
			}
			item.nextIndex++
		}
		if t.inFlightCount() >= t.cfg.MaxFragmentsInFlight {
			return
		}
	}
}

// reliableReassemblySeqFor assigns one reassembly sequence per reliable
// item, drawn lazily the first time any of its fragments is sent.
func (t *Transport) reliableReassemblySeqFor(item *reliableItem) uint16 {
	if item.nextIndex == 0 {
		item.reliableSeqAssigned = true
		item.reliableSeq = t.reliableReassemblySeq
		t.reliableReassemblySeq++
	}
	return item.reliableSeq
}

// resendStale resends any in-flight fragment whose last send time exceeds
// ResendInterval, re-registering it with the ack system for a fresh
// sequence. Fragments that fail to hand off are dropped, per spec.md §4.8.
func (t *Transport) resendStale(now time.Time) {
	for _, item := range t.reliableQueue {
		for _, h := range item.handles {
			if h == noHandle {
				continue
			}
			st, ok := t.handles.get(h)
			if !ok {
				continue
			}
			if now.Sub(st.sentAt) < t.cfg.ResendInterval {
				continue
			}
			ackHeader := t.ack.PrepareSend(now, len(st.encoded))
			body := make([]byte, 0, len(ackHeader)+len(st.encoded))
			body = append(body, ackHeader...)
			body = append(body, st.encoded...)
			if err := t.send(body); err != nil {
				t.handles.free(h)
				continue
			}
			newSeq := t.ack.NextOutgoingSeq() - 1
			if slot, ok := t.sentFragments.Insert(newSeq); ok {
				*slot = h
			}
			st.sentAt = now
			t.resends++
		}
	}
}

// DrainResendCount returns the number of fragments retransmitted since the
// last call and resets the counter, mirroring DrainPendingAcks's pattern.
func (t *Transport) DrainResendCount() int {
	n := t.resends
	t.resends = 0
	return n
}

// Receive processes a decrypted PAYLOAD body: the ack header, then the
// transport fragment header, then reassembly. Mirrors spec.md §4.8's
// "Receive".
func (t *Transport) Receive(now time.Time, body []byte) error {
	rest, _, err := t.ack.OnReceive(now, body)
	if err != nil {
		return err
	}
	hdr, payload, err := decodeFragment(rest)
	if err != nil {
		return err
	}
	if int(hdr.fragmentCount)*t.cfg.FragmentSize > t.cfg.MaxSizeSingleSend {
		return cutenet.NewError(cutenet.CodeSizeExceeded, "fragment_count*fragment_size exceeds max_size_single_send")
	}
	if int(hdr.fragmentSize) > t.cfg.FragmentSize {
		return cutenet.NewError(cutenet.CodeSizeExceeded, "fragment_size exceeds configured fragment size")
	}

	buf := t.reliableReassembly
	inbound := &t.reliableInbound
	if hdr.ch == channelFireAndForget {
		buf = t.fireAndForgetReassembly
		inbound = &t.fireAndForgetInbound
	}

	if buf.IsStale(hdr.reassemblySeq) {
		return nil // dropped silently, per spec.md §4.8
	}
	entry, ok := buf.Find(hdr.reassemblySeq)
	if !ok {
		slot, inserted := buf.Insert(hdr.reassemblySeq)
		if !inserted {
			return nil
		}
		*slot = reassemblyEntry{
			fragmentCount: hdr.fragmentCount,
			received:      make([]bool, hdr.fragmentCount),
			outstanding:   int(hdr.fragmentCount),
			buf:           make([]byte, int(hdr.fragmentCount)*t.cfg.FragmentSize),
		}
		entry = slot
	}
	if hdr.fragmentCount != entry.fragmentCount {
		return fmt.Errorf("transport: fragment_count mismatch for reassembly_seq %d", hdr.reassemblySeq)
	}
	if entry.received[hdr.fragmentIndex] {
		return nil // duplicate fragment, already accounted for
	}
	offset := int(hdr.fragmentIndex) * t.cfg.FragmentSize
	copy(entry.buf[offset:], payload)
	entry.received[hdr.fragmentIndex] = true
	entry.outstanding--
	if int(hdr.fragmentIndex) == int(hdr.fragmentCount)-1 {
		entry.finalSize = offset + len(payload)
		entry.final = true
	}

	if entry.outstanding == 0 {
		size := entry.finalSize
		if !entry.final {
			size = len(entry.buf)
		}
		complete := make([]byte, size)
		copy(complete, entry.buf[:size])
		*inbound = append(*inbound, complete)
		buf.Remove(hdr.reassemblySeq)
	}
	return nil
}

// ReceiveReliable pops the oldest fully reassembled reliable message, if any.
func (t *Transport) ReceiveReliable() ([]byte, bool) {
	if len(t.reliableInbound) == 0 {
		return nil, false
	}
	msg := t.reliableInbound[0]
	t.reliableInbound = t.reliableInbound[1:]
	return msg, true
}

// ReceiveFireAndForget pops the oldest fully reassembled unreliable message, if any.
func (t *Transport) ReceiveFireAndForget() ([]byte, bool) {
	if len(t.fireAndForgetInbound) == 0 {
		return nil, false
	}
	msg := t.fireAndForgetInbound[0]
	t.fireAndForgetInbound = t.fireAndForgetInbound[1:]
	return msg, true
}

// InFlightFragmentCount reports the number of reliable fragments currently
// sent but not yet acked, for callers (and tests) that need to observe
// drain-to-zero after a reliable message is fully delivered.
func (t *Transport) InFlightFragmentCount() int {
	return t.inFlightCount()
}
