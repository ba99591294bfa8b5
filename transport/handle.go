package transport

// handle packs a slot index and a generation counter into one 64-bit
// value, per spec.md §9's "manual handle tables" guidance: reuse of a
// freed slot bumps its generation, so a stale handle referencing a
// reused slot is detected rather than silently hitting the wrong entry.
type handle uint64

const noHandle handle = 0

func makeHandle(index, generation uint32) handle {
	return handle(uint64(generation)<<32 | uint64(index))
}

func (h handle) index() uint32      { return uint32(h) }
func (h handle) generation() uint32 { return uint32(h >> 32) }

// handleTable is an intrusive-freelist slot allocator: free slots chain
// through nextFree, generation increments on every free so a stale handle
// can never alias a slot's new occupant.
type handleTable struct {
	states     []*fragmentState
	generation []uint32
	nextFree   []int32 // -1 terminates the freelist
	freeHead   int32
}

func newHandleTable() *handleTable {
	return &handleTable{freeHead: -1}
}

func (t *handleTable) alloc(state *fragmentState) handle {
	var idx int32
	if t.freeHead >= 0 {
		idx = t.freeHead
		t.freeHead = t.nextFree[idx]
	} else {
		idx = int32(len(t.states))
		t.states = append(t.states, nil)
		// generation starts at 1, not 0: index 0 + generation 0 would
		// otherwise collide with noHandle's zero value.
		t.generation = append(t.generation, 1)
		t.nextFree = append(t.nextFree, -1)
	}
	t.states[idx] = state
	return makeHandle(uint32(idx), t.generation[idx])
}

func (t *handleTable) get(h handle) (*fragmentState, bool) {
	idx := h.index()
	if int(idx) >= len(t.states) {
		return nil, false
	}
	if t.generation[idx] != h.generation() {
		return nil, false
	}
	state := t.states[idx]
	return state, state != nil
}

// free releases the slot and bumps its generation before it's returned to
// the freelist, so any copy of h still in flight (e.g. in the
// sent-fragments sequence buffer, mid-update) fails get() rather than
// aliasing whatever reuses the slot. Per spec.md §9 this update must
// happen before the slot is handed back, not after.
func (t *handleTable) free(h handle) {
	idx := h.index()
	if int(idx) >= len(t.states) || t.generation[idx] != h.generation() {
		return
	}
	t.states[idx] = nil
	t.generation[idx]++
	t.nextFree[idx] = t.freeHead
	t.freeHead = int32(idx)
}
