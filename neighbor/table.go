package neighbor

import "github.com/notargets/meshforest/blocktree"

// Entry is one concrete neighbor relationship a block uses to drive
// ghost-zone exchange.
type Entry struct {
	Rank  int
	Level int
	Gid   int
	Ox1   int
	Ox2   int
	Ox3   int
	Kind  blocktree.DirectionKind
	Fi1   int
	Fi2   int
	Bufid       int
	TargetBufid int
}

// Table is the full set of neighbor entries for one block, plus the
// nblevel auxiliary array original_source's MeshBlock uses to classify
// same/coarser/finer neighbors along each of the up to 27 offset cells
// without rescanning the tree.
type Table struct {
	Entries []Entry
	NBLevel [3][3][3]int // [ox3+1][ox2+1][ox1+1], -1 where no neighbor
	MaxNeighbor int
}

// Build constructs the neighbor table for leaf, scanning every
// canonical direction in turn and emitting zero, one, or several
// entries per direction depending on whether the touching neighbor is
// coarser, same-level, or finer (spec sec 4.2). ranklist maps gid to
// owning rank; it must be indexed by the gid values currently stored
// on tree's leaves (tree.GetMeshBlockList must have been called).
func Build(tree *blocktree.Tree, leaf *blocktree.Node, ranklist []int, multilevel bool, faceOnly bool) *Table {
	dim := tree.Dim
	lay := buildLayout(dim, multilevel, faceOnly)

	tbl := &Table{MaxNeighbor: lay.total}
	for k := 0; k < 3; k++ {
		for j := 0; j < 3; j++ {
			for i := 0; i < 3; i++ {
				tbl.NBLevel[k][j][i] = -1
			}
		}
	}
	tbl.NBLevel[1][1][1] = leaf.Loc.Level

	for dirIdx, d := range lay.directions {
		n := tree.FindNeighbor(leaf.Loc, d.Ox1, d.Ox2, d.Ox3, tree.Bcs)
		if n == nil {
			continue
		}

		cell := [3]int{d.Ox1 + 1, d.Ox2 + 1, d.Ox3 + 1}

		switch {
		case n.Leaf && n.Loc.Level == leaf.Loc.Level:
			tbl.NBLevel[cell[2]][cell[1]][cell[0]] = n.Loc.Level
			tbl.Entries = append(tbl.Entries, Entry{
				Rank: ranklist[n.Gid], Level: n.Loc.Level, Gid: n.Gid,
				Ox1: d.Ox1, Ox2: d.Ox2, Ox3: d.Ox3, Kind: d.Kind,
				Bufid:       lay.findBufferID(dirIdx, 0, 0),
				TargetBufid: lay.findBufferID(dirIdx, 0, 0),
			})

		case n.Leaf && n.Loc.Level < leaf.Loc.Level:
			tbl.NBLevel[cell[2]][cell[1]][cell[0]] = n.Loc.Level
			myfx1, myfx2, myfx3 := leaf.Loc.Parity()
			fi1, fi2 := ownFreeAxisFi(dim, d, myfx1, myfx2, myfx3)
			if d.Kind != blocktree.KindFace && !isCanonicalCoarseChild(dim, d, myfx1, myfx2, myfx3) {
				continue
			}
			revIdx := lay.directionIndex(-d.Ox1, -d.Ox2, -d.Ox3)
			tbl.Entries = append(tbl.Entries, Entry{
				Rank: ranklist[n.Gid], Level: n.Loc.Level, Gid: n.Gid,
				Ox1: d.Ox1, Ox2: d.Ox2, Ox3: d.Ox3, Kind: d.Kind,
				Fi1: fi1, Fi2: fi2,
				Bufid:       lay.findBufferID(dirIdx, 0, 0),
				TargetBufid: lay.findBufferID(revIdx, fi1, fi2),
			})

		default:
			// n is an internal node: neighbor is one level finer. Emit
			// one entry per touching child, addressed by the free-axis
			// sub-face index that child occupies.
			tbl.NBLevel[cell[2]][cell[1]][cell[0]] = leaf.Loc.Level + 1
			free := blocktree.FreeAxes(dim, d)
			combos := subfaceCombos(len(free))
			for _, c := range combos {
				fx1, fx2, fx3 := freeAxisBits(dim, d, c[0], c[1])
				child := childAt(n, fx1, fx2, fx3)
				if child == nil {
					continue
				}
				revIdx := lay.directionIndex(-d.Ox1, -d.Ox2, -d.Ox3)
				tbl.Entries = append(tbl.Entries, Entry{
					Rank: ranklist[child.Gid], Level: child.Loc.Level, Gid: child.Gid,
					Ox1: d.Ox1, Ox2: d.Ox2, Ox3: d.Ox3, Kind: d.Kind,
					Fi1: c[0], Fi2: c[1],
					Bufid:       lay.findBufferID(dirIdx, c[0], c[1]),
					TargetBufid: lay.findBufferID(revIdx, 0, 0),
				})
			}
		}
	}
	return tbl
}

// subfaceCombos enumerates every (fi1,fi2) pair reachable with nfree
// free axes: nfree=0 -> [(0,0)], nfree=1 -> [(0,0),(1,0)],
// nfree=2 -> the full 2x2 grid.
func subfaceCombos(nfree int) [][2]int {
	switch nfree {
	case 0:
		return [][2]int{{0, 0}}
	case 1:
		return [][2]int{{0, 0}, {1, 0}}
	default:
		return [][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}}
	}
}

// childAt returns the child of n whose octant bits equal (fx1,fx2,fx3)
// on the axes n.Loc's dimensionality actually uses.
func childAt(n *blocktree.Node, fx1, fx2, fx3 int) *blocktree.Node {
	for _, c := range n.Children {
		if c == nil {
			continue
		}
		cfx1, cfx2, cfx3 := c.Loc.Parity()
		if cfx1 == fx1 && cfx2 == fx2 && cfx3 == fx3 {
			return c
		}
	}
	return nil
}

// isCanonicalCoarseChild decides, for an edge or corner direction whose
// neighbor is one level coarser, whether this block is the single
// designated sender/receiver for that direction — avoiding a duplicate
// exchange that would otherwise be redundant with the adjoining face
// exchanges. The designated child is one whose parity on every axis the
// direction points along matches that direction (1 for +, 0 for -): it
// sits on the parent's own edge/corner, so the coarse block across it is
// not also one of its face neighbors.
func isCanonicalCoarseChild(dim int, d blocktree.Direction, myfx1, myfx2, myfx3 int) bool {
	offsets := [3]int{d.Ox1, d.Ox2, d.Ox3}
	parity := [3]int{myfx1, myfx2, myfx3}
	for axis := 0; axis < dim; axis++ {
		if offsets[axis] == 0 {
			continue
		}
		if parity[axis] != 1-oppositeBit(offsets[axis]) {
			return false
		}
	}
	return true
}
