package ack

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestPrepareSendAssignsSequentialSequences(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)

	h0 := s.PrepareSend(now, 10)
	h1 := s.PrepareSend(now, 10)
	assert.Equal(t, len(h0), HeaderSize)
	assert.Equal(t, h0[1], byte(0))
	assert.Equal(t, h1[1], byte(1))
}

func TestOnReceiveRejectsShortHeader(t *testing.T) {
	s := New()
	_, _, err := s.OnReceive(time.Unix(0, 0), []byte{1, 2, 3})
	assert.Check(t, err != nil)
}

func TestOnReceiveReturnsRest(t *testing.T) {
	recv := New()
	send := New()
	now := time.Unix(0, 0)

	header := send.PrepareSend(now, 0)
	packet := append(append([]byte{}, header...), []byte("payload")...)

	rest, _, err := recv.OnReceive(now, packet)
	assert.NilError(t, err)
	assert.DeepEqual(t, rest, []byte("payload"))
}

func TestAckRoundTripMarksSentAckedAndUpdatesRTT(t *testing.T) {
	a := New() // a sends to b
	b := New() // b receives from a, acks back to a

	t0 := time.Unix(0, 0)
	header := a.PrepareSend(t0, 5)
	packet := append(append([]byte{}, header...), []byte("hello")...)

	_, _, err := b.OnReceive(t0, packet)
	assert.NilError(t, err)

	// b sends a packet back; its ack/ack_bits reflect seq 0 received from a.
	t1 := t0.Add(50 * time.Millisecond)
	backHeader := b.PrepareSend(t1, 0)
	backPacket := append([]byte{}, backHeader...)

	_, acked, err := a.OnReceive(t1, backPacket)
	assert.NilError(t, err)
	assert.DeepEqual(t, acked, []uint16{0})
	assert.Check(t, a.RTT() > 0, "RTT should be set after the first ack sample")
}

func TestOnReceiveRejectsStaleSequence(t *testing.T) {
	recv := New()
	send := New()
	now := time.Unix(0, 0)

	for seq := 0; seq < 300; seq++ {
		header := send.PrepareSend(now, 0)
		_, _, err := recv.OnReceive(now, header)
		assert.NilError(t, err)
	}

	// Replaying the very first header (sequence 0) must now be stale.
	staleHeader := make([]byte, HeaderSize)
	copy(staleHeader, []byte{0, 0, 0, 0, 0, 0, 0, 0})
	_, _, err := recv.OnReceive(now, staleHeader)
	assert.Check(t, err != nil, "sequence 0 should be stale after 300 advances")
}

func TestDrainPendingAcksClearsAfterRead(t *testing.T) {
	a := New()
	b := New()
	t0 := time.Unix(0, 0)

	header := a.PrepareSend(t0, 0)
	b.OnReceive(t0, header)
	backHeader := b.PrepareSend(t0.Add(time.Millisecond), 0)
	_, _, err := a.OnReceive(t0.Add(time.Millisecond), backHeader)
	assert.NilError(t, err)

	pending := a.DrainPendingAcks()
	assert.Check(t, len(pending) >= 1)

	again := a.DrainPendingAcks()
	assert.Equal(t, len(again), 0)
}

func TestBandwidthEstimatesAreNonNegative(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	s.PrepareSend(now, 100)

	assert.Check(t, s.OutboundBandwidth(time.Second) > 0)
	assert.Equal(t, s.OutboundBandwidth(0), float64(0))
	assert.Equal(t, s.InboundBandwidth(time.Second), float64(0))
}

func TestNextOutgoingSeqDoesNotConsume(t *testing.T) {
	s := New()
	next := s.NextOutgoingSeq()
	assert.Equal(t, next, uint16(0))
	s.PrepareSend(time.Unix(0, 0), 0)
	assert.Equal(t, s.NextOutgoingSeq(), uint16(1))
}
