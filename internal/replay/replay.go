// Package replay implements the 256-entry replay-protection window from
// spec.md §4.2: a direct-mapped table that rejects duplicate or stale
// received sequence numbers. It operates on the full 64-bit packet
// sequence (the protocol codec's per-connection nonce), not the 16-bit
// sequence space the ack system and reassembly sequence buffers use.
package replay

const (
	Size        = 256
	emptyEntry  = ^uint64(0)
)

// Buffer rejects a replayed or too-stale sequence and otherwise remembers
// it. It is owned by exactly one connection direction.
type Buffer struct {
	entries [Size]uint64
	head    uint64
	seen    bool
}

func New() *Buffer {
	b := &Buffer{}
	b.Reset()
	return b
}

func (b *Buffer) Reset() {
	for i := range b.entries {
		b.entries[i] = emptyEntry
	}
	b.head = 0
	b.seen = false
}

// Check reports whether seq would be accepted, without recording it.
func (b *Buffer) Check(seq uint64) bool {
	if b.seen && seq+Size < b.head {
		return false // stale
	}
	slot := &b.entries[seq%Size]
	if *slot != emptyEntry && *slot >= seq {
		return false // duplicate or slot already holds something newer/equal
	}
	return true
}

// Update records seq as seen, advancing head if seq is the newest so far.
// Callers must only call Update after Check has succeeded and the
// corresponding packet has been authenticated (spec.md §3 invariant:
// "Replay buffer state is updated only after successful AEAD decryption").
func (b *Buffer) Update(seq uint64) {
	if !b.seen || seq >= b.head {
		b.head = seq + 1
		b.seen = true
	}
	b.entries[seq%Size] = seq
}
