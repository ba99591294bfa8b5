package transport

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/ventosilenzioso/cutenet/internal/ack"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FragmentSize = 5
	cfg.ResendInterval = time.Hour // keep resend out of the way unless a test wants it
	return cfg
}

// captureSend collects every body handed to SendFunc, in order.
type captureSend struct {
	bodies [][]byte
}

func (c *captureSend) fn(body []byte) error {
	cp := append([]byte{}, body...)
	c.bodies = append(c.bodies, cp)
	return nil
}

func TestSendUnreliableSingleFragment(t *testing.T) {
	var out captureSend
	tr := New(testConfig(), ack.New(), out.fn)
	now := time.Unix(0, 0)

	err := tr.Send(now, []byte("hi"), false)
	assert.NilError(t, err)
	assert.Equal(t, len(out.bodies), 1)

	hdr, payload, err := decodeFragment(out.bodies[0][ack.HeaderSize:])
	assert.NilError(t, err)
	assert.Equal(t, hdr.ch, channelFireAndForget)
	assert.Equal(t, hdr.fragmentCount, uint16(1))
	assert.DeepEqual(t, payload, []byte("hi"))
}

func TestSendRejectsOversizedMessage(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSizeSingleSend = 10
	tr := New(cfg, ack.New(), func([]byte) error { return nil })

	err := tr.Send(time.Unix(0, 0), make([]byte, 11), false)
	assert.Check(t, err != nil)
}

func TestReliableSendQueuesUntilPump(t *testing.T) {
	var out captureSend
	tr := New(testConfig(), ack.New(), out.fn)
	now := time.Unix(0, 0)

	err := tr.Send(now, []byte("hello world!"), true) // 12 bytes, fragment size 5 -> 3 fragments
	assert.NilError(t, err)
	assert.Equal(t, len(out.bodies), 0, "reliable sends must wait for Update to pump")

	tr.Update(now)
	assert.Equal(t, len(out.bodies), 3)
	assert.Equal(t, tr.InFlightFragmentCount(), 3)
}

func TestPumpRespectsMaxFragmentsInFlight(t *testing.T) {
	var out captureSend
	cfg := testConfig()
	cfg.MaxFragmentsInFlight = 2
	tr := New(cfg, ack.New(), out.fn)
	now := time.Unix(0, 0)

	assert.NilError(t, tr.Send(now, []byte("hello world!"), true)) // 3 fragments
	tr.Update(now)
	assert.Equal(t, len(out.bodies), 2, "pump must stop at MaxFragmentsInFlight")
}

func TestReceiveReassemblesOutOfOrderFragments(t *testing.T) {
	var out captureSend
	sender := New(testConfig(), ack.New(), out.fn)
	receiver := New(testConfig(), ack.New(), func([]byte) error { return nil })
	now := time.Unix(0, 0)

	assert.NilError(t, sender.Send(now, []byte("hello world!"), true))
	sender.Update(now)
	assert.Equal(t, len(out.bodies), 3)

	// deliver fragments in reverse order
	for i := len(out.bodies) - 1; i >= 0; i-- {
		assert.NilError(t, receiver.Receive(now, out.bodies[i]))
	}

	msg, ok := receiver.ReceiveReliable()
	assert.Check(t, ok)
	assert.DeepEqual(t, msg, []byte("hello world!"))
}

func TestReceiveIgnoresDuplicateFragmentWithinIncompleteMessage(t *testing.T) {
	var out captureSend
	sender := New(testConfig(), ack.New(), out.fn)
	receiver := New(testConfig(), ack.New(), func([]byte) error { return nil })
	now := time.Unix(0, 0)

	assert.NilError(t, sender.Send(now, []byte("hello world!"), true)) // 3 fragments
	sender.Update(now)
	assert.Equal(t, len(out.bodies), 3)

	// Deliver fragment 0 twice before the message is complete; the second
	// delivery must be a no-op rather than corrupting the outstanding count.
	assert.NilError(t, receiver.Receive(now, out.bodies[0]))
	assert.NilError(t, receiver.Receive(now, out.bodies[0]))
	assert.NilError(t, receiver.Receive(now, out.bodies[1]))
	assert.NilError(t, receiver.Receive(now, out.bodies[2]))

	msg, ok := receiver.ReceiveReliable()
	assert.Check(t, ok)
	assert.DeepEqual(t, msg, []byte("hello world!"))

	_, ok = receiver.ReceiveReliable()
	assert.Check(t, !ok, "the message must be delivered exactly once")
}

func TestEndToEndReliableDeliveryFreesFragmentsOnAck(t *testing.T) {
	var aToB, bToA captureSend
	a := New(testConfig(), ack.New(), aToB.fn)
	b := New(testConfig(), ack.New(), bToA.fn)
	now := time.Unix(0, 0)

	assert.NilError(t, a.Send(now, []byte("hello world!"), true)) // 3 fragments
	a.Update(now)
	assert.Equal(t, a.InFlightFragmentCount(), 3)

	for _, body := range aToB.bodies {
		assert.NilError(t, b.Receive(now, body))
	}
	msg, ok := b.ReceiveReliable()
	assert.Check(t, ok)
	assert.DeepEqual(t, msg, []byte("hello world!"))

	// b acks what it received by sending anything back; deliver that to a.
	assert.NilError(t, b.Send(now, nil, false))
	b.Update(now)
	assert.Check(t, len(bToA.bodies) >= 1)
	for _, body := range bToA.bodies {
		assert.NilError(t, a.Receive(now, body))
	}

	a.Update(now)
	assert.Equal(t, a.InFlightFragmentCount(), 0, "all fragments should be freed once acked")
}

func TestResendStaleRetransmitsAfterInterval(t *testing.T) {
	var out captureSend
	cfg := testConfig()
	cfg.ResendInterval = 10 * time.Millisecond
	tr := New(cfg, ack.New(), out.fn)
	now := time.Unix(0, 0)

	assert.NilError(t, tr.Send(now, []byte("hi"), true))
	tr.Update(now)
	assert.Equal(t, len(out.bodies), 1)

	later := now.Add(20 * time.Millisecond)
	tr.Update(later)
	assert.Equal(t, len(out.bodies), 2, "an unacked fragment past ResendInterval must be resent")
}
