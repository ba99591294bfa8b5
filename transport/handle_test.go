package transport

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestHandleTableAllocGet(t *testing.T) {
	tbl := newHandleTable()
	st := &fragmentState{reassemblySeq: 1}
	h := tbl.alloc(st)
	assert.Check(t, h != noHandle)

	got, ok := tbl.get(h)
	assert.Check(t, ok)
	assert.Check(t, got == st)
}

func TestHandleTableFreeInvalidatesHandle(t *testing.T) {
	tbl := newHandleTable()
	h := tbl.alloc(&fragmentState{})
	tbl.free(h)

	_, ok := tbl.get(h)
	assert.Check(t, !ok, "a freed handle must not resolve")
}

func TestHandleTableGenerationBumpPreventsStaleAlias(t *testing.T) {
	tbl := newHandleTable()
	first := tbl.alloc(&fragmentState{reassemblySeq: 1})
	tbl.free(first)

	second := tbl.alloc(&fragmentState{reassemblySeq: 2})
	assert.Equal(t, first.index(), second.index(), "the freed slot should be reused")
	assert.Check(t, first.generation() != second.generation())

	_, ok := tbl.get(first)
	assert.Check(t, !ok, "the stale handle from before reuse must not alias the new occupant")

	got, ok := tbl.get(second)
	assert.Check(t, ok)
	assert.Equal(t, got.reassemblySeq, uint16(2))
}

func TestHandleTableGetOutOfRangeIndex(t *testing.T) {
	tbl := newHandleTable()
	_, ok := tbl.get(makeHandle(99, 1))
	assert.Check(t, !ok)
}

func TestHandleTableFreeIsIdempotent(t *testing.T) {
	tbl := newHandleTable()
	h := tbl.alloc(&fragmentState{})
	tbl.free(h)
	tbl.free(h) // must not panic or corrupt the freelist
	_, ok := tbl.get(h)
	assert.Check(t, !ok)
}
