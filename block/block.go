// Package block defines the Block data model: the per-leaf unit of work
// a rank owns, carrying its location, geometry, opaque solver state, and
// its place in the rank-local block list. Grounded on the field layout
// of element.Element and on original_source/src/mesh/meshblock.cpp's
// MeshBlock, but stored in a flat slice with explicit next/prev indices
// instead of a hand-rolled doubly linked list of owning pointers.
package block

import (
	"fmt"

	"github.com/notargets/meshforest/blocktree"
	"github.com/notargets/meshforest/logicalloc"
	"github.com/notargets/meshforest/meshgen"
	"github.com/notargets/meshforest/neighbor"
)

// RefineFlag values a problem's RefinementFlag callback may return.
const (
	FlagDerefine int8 = -1
	FlagNone     int8 = 0
	FlagRefine   int8 = 1
)

// Block is one leaf of the refinement forest as seen by the rank that
// owns it: its identity, its geometry, its opaque solver payload, and
// its neighbor table.
type Block struct {
	Gid int
	Lid int

	Loc  logicalloc.LogicalLocation
	Size [3]meshgen.RegionSize // per-axis physical extent, degenerate axes zero-length

	BoundaryKinds [6]blocktree.BoundaryKind

	Payload []byte

	Cost       float64
	RefineFlag int8

	Neighbors *neighbor.Table

	// Next and Prev are indices into the owning List's slice, -1 at the
	// ends; a removed block's slot is reused by the next Append rather
	// than leaving a gap, so Lid values stay dense.
	Next int
	Prev int
}

// NewBlockTimeStep computes this block's own dt estimate by delegating
// to the codec that owns the payload's physical interpretation.
func (b *Block) NewBlockTimeStep(newBlockTimeStep func(payload []byte) float64) float64 {
	return newBlockTimeStep(b.Payload)
}

// List is the rank-local sequence of Blocks, stored contiguously and
// indexed by Lid, with explicit Next/Prev links so AMR data migration
// can splice blocks in and out without relocating the whole slice.
type List struct {
	blocks []Block
	head   int
	tail   int
	free   []int
}

// NewList returns an empty block list.
func NewList() *List {
	return &List{head: -1, tail: -1}
}

// Len returns the number of live blocks.
func (l *List) Len() int {
	n := 0
	for lid := l.head; lid != -1; lid = l.blocks[lid].Next {
		n++
	}
	return n
}

// At returns a pointer to the block at the given lid. It panics if lid
// is out of range; a lid that refers to a freed slot is not detected.
// Callers are expected to only ever hold lids returned by Append or a
// traversal.
func (l *List) At(lid int) *Block {
	return &l.blocks[lid]
}

// Append adds blk to the end of the list, reusing a freed slot if one
// is available, and returns the lid it was assigned at.
func (l *List) Append(blk Block) int {
	var lid int
	if n := len(l.free); n > 0 {
		lid = l.free[n-1]
		l.free = l.free[:n-1]
		l.blocks[lid] = blk
	} else {
		lid = len(l.blocks)
		l.blocks = append(l.blocks, blk)
	}
	l.blocks[lid].Lid = lid
	l.blocks[lid].Next = -1
	l.blocks[lid].Prev = l.tail

	if l.tail == -1 {
		l.head = lid
	} else {
		l.blocks[l.tail].Next = lid
	}
	l.tail = lid
	return lid
}

// Remove unlinks the block at lid and frees its slot for reuse. It does
// not shrink the backing slice; freed slots are recycled by Append.
func (l *List) Remove(lid int) error {
	if lid < 0 || lid >= len(l.blocks) {
		return fmt.Errorf("block: lid %d out of range", lid)
	}
	b := &l.blocks[lid]
	if b.Prev != -1 {
		l.blocks[b.Prev].Next = b.Next
	} else {
		l.head = b.Next
	}
	if b.Next != -1 {
		l.blocks[b.Next].Prev = b.Prev
	} else {
		l.tail = b.Prev
	}
	l.free = append(l.free, lid)
	return nil
}

// Each calls fn for every live block in list order.
func (l *List) Each(fn func(*Block)) {
	for lid := l.head; lid != -1; {
		next := l.blocks[lid].Next
		fn(&l.blocks[lid])
		lid = next
	}
}

// Reset discards all blocks, keeping the underlying slice's capacity
// for reuse by the next AMR cycle's rebuild.
func (l *List) Reset() {
	l.blocks = l.blocks[:0]
	l.free = l.free[:0]
	l.head, l.tail = -1, -1
}
