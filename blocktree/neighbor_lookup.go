package blocktree

import "github.com/notargets/meshforest/logicalloc"

// FindNeighbor returns the deepest existing node whose extent touches loc
// with the given offset: a leaf if the neighbor is at the same level or
// coarser, or an internal node if the neighbor region is subdivided
// finer than loc (the caller then enumerates its touching children).
// Periodicity is honored per-axis via bcs; a non-periodic boundary that
// would be crossed returns nil.
func (t *Tree) FindNeighbor(loc logicalloc.LogicalLocation, ox1, ox2, ox3 int, bcs [6]BoundaryKind) *Node {
	level := loc.Level
	nx1 := loc.Lx1 + int64(ox1)
	nx2 := loc.Lx2 + int64(ox2)
	nx3 := loc.Lx3 + int64(ox3)

	shift := uint(level - t.RootLevel)
	span1 := int64(t.Nrbx1) << shift
	span2 := int64(t.Nrbx2) << shift
	span3 := int64(t.Nrbx3) << shift

	var ok bool
	if nx1, ok = wrap(nx1, span1, ox1, bcs[AxisFaceIndex(1, sign(ox1))]); !ok {
		return nil
	}
	if t.Dim >= 2 {
		if nx2, ok = wrap(nx2, span2, ox2, bcs[AxisFaceIndex(2, sign(ox2))]); !ok {
			return nil
		}
	}
	if t.Dim >= 3 {
		if nx3, ok = wrap(nx3, span3, ox3, bcs[AxisFaceIndex(3, sign(ox3))]); !ok {
			return nil
		}
	}

	return t.descend(logicalloc.New(level, nx1, nx2, nx3))
}

func sign(ox int) int {
	if ox < 0 {
		return -1
	}
	return 1
}

// wrap normalizes a candidate coordinate into [0,span): if it is already
// in range it passes through unchanged (ox==0 or an interior step);
// out-of-range coordinates are wrapped modulo span when the relevant
// boundary is periodic, and rejected (ok=false) otherwise.
func wrap(n, span int64, ox int, bc BoundaryKind) (int64, bool) {
	if ox == 0 || (n >= 0 && n < span) {
		return n, true
	}
	if bc != BoundaryPeriodic {
		return 0, false
	}
	n %= span
	if n < 0 {
		n += span
	}
	return n, true
}
