package replay

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestAcceptsMonotonicSequence(t *testing.T) {
	b := New()
	for seq := uint64(0); seq < 1000; seq++ {
		assert.Check(t, b.Check(seq), "seq %d should be accepted", seq)
		b.Update(seq)
	}
}

func TestRejectsDuplicate(t *testing.T) {
	b := New()
	assert.Check(t, b.Check(5))
	b.Update(5)
	assert.Check(t, !b.Check(5), "duplicate sequence must be rejected")
}

func TestRejectsStaleBeyondWindow(t *testing.T) {
	b := New()
	b.Update(0)
	b.Update(Size + 100)
	assert.Check(t, !b.Check(0), "sequence older than the window should be rejected")
}

func TestAcceptsOutOfOrderWithinWindow(t *testing.T) {
	b := New()
	b.Update(100)
	assert.Check(t, b.Check(90), "sequence 90 is within the window behind 100 and unseen")
	b.Update(90)
	assert.Check(t, !b.Check(90))
}

func TestResetClearsState(t *testing.T) {
	b := New()
	b.Update(500)
	b.Reset()
	assert.Check(t, b.Check(0), "after reset the buffer should accept sequence 0 again")
}
