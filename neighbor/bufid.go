// Package neighbor builds the per-block NeighborTable: the ordered list
// of concrete neighbor descriptors (rank, gid, offset, kind, bufid) a
// block uses to drive ghost-zone exchange, grounded on the pick/place
// buffer bookkeeping of utils.FaceConnector and on
// partitions.RemotePartition for the rank/remote distinction.
package neighbor

import "github.com/notargets/meshforest/blocktree"

// slotsForDirection returns the maximum number of sub-face buffer slots
// a direction can require: nf1*nf2 for a face (two free axes), nf for
// an edge (one free axis), or 1 for a corner (zero free axes), where
// nf=2 iff multilevel is active and that axis is non-degenerate.
func slotsForDirection(dim int, multilevel bool, d blocktree.Direction) int {
	free := blocktree.FreeAxes(dim, d)
	slots := 1
	for range free {
		if multilevel {
			slots *= 2
		}
	}
	return slots
}

// layout precomputes, for a fixed (dim,multilevel) pair, the cumulative
// bufid offset of each direction in blocktree.Directions(dim) order and
// the total slot count (maxneighbor).
type layout struct {
	directions []blocktree.Direction
	offsets    []int
	total      int
}

func buildLayout(dim int, multilevel bool, faceOnly bool) layout {
	dirs := blocktree.Directions(dim)
	if faceOnly {
		filtered := dirs[:0:0]
		for _, d := range dirs {
			if d.Kind == blocktree.KindFace {
				filtered = append(filtered, d)
			}
		}
		dirs = filtered
	}
	offsets := make([]int, len(dirs))
	total := 0
	for i, d := range dirs {
		offsets[i] = total
		total += slotsForDirection(dim, multilevel, d)
	}
	return layout{directions: dirs, offsets: offsets, total: total}
}

// findBufferID is the pure function both sides of a neighbor pair call
// to agree on a buffer slot: the direction's base offset plus a
// sub-face index packed from up to two free-axis bits. Both bufid and
// target-bufid are always produced by this same function, which is
// what guarantees they agree pairwise.
func (lay layout) findBufferID(dirIndex, fi1, fi2 int) int {
	return lay.offsets[dirIndex] + fi2*2 + fi1
}

func (lay layout) directionIndex(ox1, ox2, ox3 int) int {
	for i, d := range lay.directions {
		if d.Ox1 == ox1 && d.Ox2 == ox2 && d.Ox3 == ox3 {
			return i
		}
	}
	return -1
}

func oppositeBit(ox int) int {
	if ox > 0 {
		return 0
	}
	return 1
}

// freeAxisBits extracts, in free-axis order, the bit value each free
// axis contributes: for enumerating a finer neighbor's touching
// children, those bits come from a candidate sub-face index; for
// deriving this block's own position relative to a coarser neighbor,
// they come from this block's own parity.
func freeAxisBits(dim int, d blocktree.Direction, fi1, fi2 int) (fx1, fx2, fx3 int) {
	idx := 0
	next := func() int {
		v := fi1
		if idx == 1 {
			v = fi2
		}
		idx++
		return v
	}
	if d.Ox1 != 0 {
		fx1 = oppositeBit(d.Ox1)
	} else {
		fx1 = next()
	}
	if dim >= 2 {
		if d.Ox2 != 0 {
			fx2 = oppositeBit(d.Ox2)
		} else {
			fx2 = next()
		}
	}
	if dim >= 3 {
		if d.Ox3 != 0 {
			fx3 = oppositeBit(d.Ox3)
		} else {
			fx3 = next()
		}
	}
	return
}

// ownFreeAxisFi returns this block's own parity projected onto the free
// axes of direction d, in (fi1,fi2) order — used when this block is the
// finer side of a coarser-neighbor relationship, so the coarser
// neighbor's target-bufid reflects which of its virtual quadrants this
// block occupies.
func ownFreeAxisFi(dim int, d blocktree.Direction, myfx1, myfx2, myfx3 int) (fi1, fi2 int) {
	free := blocktree.FreeAxes(dim, d)
	bits := map[int]int{1: myfx1, 2: myfx2, 3: myfx3}
	vals := make([]int, 0, 2)
	for _, axis := range free {
		vals = append(vals, bits[axis])
	}
	if len(vals) > 0 {
		fi1 = vals[0]
	}
	if len(vals) > 1 {
		fi2 = vals[1]
	}
	return
}
