package blocktree

import (
	"fmt"

	"github.com/notargets/meshforest/logicalloc"
)

// CreateRootGrid allocates nrbx1*nrbx2*nrbx3 leaves at rootLevel. Root
// coordinates are only ever created for ix < nrbxI; a neighbor lookup
// that steps outside that range is, by construction, unreachable via
// descent and FindNeighbor reports it as "outside" (nil) unless the
// corresponding boundary is periodic.
func CreateRootGrid(dim, nrbx1, nrbx2, nrbx3 int, bcs [6]BoundaryKind) *Tree {
	rootLevel := RootLevelFor(nrbx1, nrbx2, nrbx3)
	t := &Tree{
		Dim:       dim,
		Nrbx1:     nrbx1,
		Nrbx2:     nrbx2,
		Nrbx3:     nrbx3,
		RootLevel: rootLevel,
		Bcs:       bcs,
	}
	t.roots = make([][][]*Node, nrbx1)
	for i := 0; i < nrbx1; i++ {
		t.roots[i] = make([][]*Node, nrbx2)
		for j := 0; j < nrbx2; j++ {
			t.roots[i][j] = make([]*Node, nrbx3)
			for k := 0; k < nrbx3; k++ {
				loc := logicalloc.New(rootLevel, int64(i), int64(j), int64(k))
				t.roots[i][j][k] = newLeaf(loc, nil)
			}
		}
	}
	return t
}

// rootOf returns the root-grid node owning loc, or nil if loc's root
// coordinates lie outside the configured nrbx extent.
func (t *Tree) rootOf(loc logicalloc.LogicalLocation) *Node {
	shift := uint(loc.Level - t.RootLevel)
	rx, ry, rz := loc.Lx1>>shift, loc.Lx2>>shift, loc.Lx3>>shift
	if rx < 0 || rx >= int64(t.Nrbx1) || ry < 0 || ry >= int64(t.Nrbx2) || rz < 0 || rz >= int64(t.Nrbx3) {
		return nil
	}
	return t.roots[rx][ry][rz]
}

// descend walks from the appropriate root node down to loc, stopping
// early at whatever leaf or internal node is the deepest existing
// ancestor (inclusive) of loc. It never creates nodes.
func (t *Tree) descend(loc logicalloc.LogicalLocation) *Node {
	node := t.rootOf(loc)
	if node == nil {
		return nil
	}
	for l := t.RootLevel; l < loc.Level; l++ {
		if node.Leaf {
			return node
		}
		shift := uint(loc.Level - l - 1)
		fx1 := int((loc.Lx1 >> shift) & 1)
		fx2, fx3 := 0, 0
		if t.Dim >= 2 {
			fx2 = int((loc.Lx2 >> shift) & 1)
		}
		if t.Dim >= 3 {
			fx3 = int((loc.Lx3 >> shift) & 1)
		}
		child := node.Children[OctantIndex(t.Dim, fx1, fx2, fx3)]
		if child == nil {
			return node
		}
		node = child
	}
	return node
}

// Find returns the exact node at loc, or nil if loc does not name an
// existing node (leaf or internal) of the tree.
func (t *Tree) Find(loc logicalloc.LogicalLocation) *Node {
	n := t.descend(loc)
	if n == nil || n.Loc.Level != loc.Level {
		return nil
	}
	return n
}

// AddMeshBlock walks/creates internal nodes down to loc.Level and
// converts the target to a leaf, splitting any existing leaf ancestor
// on the way into its 2^Dim children. It fails if loc already names an
// internal node (already subdivided further).
func (t *Tree) AddMeshBlock(loc logicalloc.LogicalLocation) error {
	node := t.rootOf(loc)
	if node == nil {
		return fmt.Errorf("blocktree: location %s has no root grid cell", loc)
	}
	for l := t.RootLevel; l < loc.Level; l++ {
		if node.Leaf {
			t.splitLeaf(node)
		}
		shift := uint(loc.Level - l - 1)
		fx1 := int((loc.Lx1 >> shift) & 1)
		fx2, fx3 := 0, 0
		if t.Dim >= 2 {
			fx2 = int((loc.Lx2 >> shift) & 1)
		}
		if t.Dim >= 3 {
			fx3 = int((loc.Lx3 >> shift) & 1)
		}
		idx := OctantIndex(t.Dim, fx1, fx2, fx3)
		child := node.Children[idx]
		if child == nil {
			childLoc := node.Loc.Child(fx1, fx2, fx3)
			child = newLeaf(childLoc, node)
			node.Children[idx] = child
		}
		node = child
	}
	if !node.Leaf {
		return fmt.Errorf("blocktree: %s already subdivided", loc)
	}
	return nil
}

// GetLeaf returns the child of an internal node at sub-octant (fx1,fx2,fx3).
func (t *Tree) GetLeaf(node *Node, fx1, fx2, fx3 int) *Node {
	if node == nil || node.Leaf {
		return nil
	}
	return node.Children[OctantIndex(t.Dim, fx1, fx2, fx3)]
}

// CountMeshBlock returns the number of leaves currently in the forest.
func (t *Tree) CountMeshBlock() int {
	n := 0
	t.walkLeaves(func(*Node) { n++ })
	return n
}

// Leaves returns all leaves in canonical depth-first traversal order.
func (t *Tree) Leaves() []*Node {
	var out []*Node
	t.walkLeaves(func(n *Node) { out = append(out, n) })
	return out
}

func (t *Tree) walkLeaves(visit func(*Node)) {
	for i := 0; i < t.Nrbx1; i++ {
		for j := 0; j < t.Nrbx2; j++ {
			for k := 0; k < t.Nrbx3; k++ {
				walkNode(t.roots[i][j][k], t.Dim, visit)
			}
		}
	}
}

func walkNode(n *Node, dim int, visit func(*Node)) {
	if n == nil {
		return
	}
	if n.Leaf {
		visit(n)
		return
	}
	for idx := 0; idx < NumChildren(dim); idx++ {
		walkNode(n.Children[idx], dim, visit)
	}
}

// GetMeshBlockList enumerates leaves in canonical order, assigning dense
// gids 0..N-1, and returns newToOld[newgid] = SourceGid and
// sourceCount[newgid] = SourceCount recorded on each leaf by the
// preceding Refine/Derefine edits (see Node.SourceGid/SourceCount).
// sourceCount is 1 for every leaf except one just produced by
// Derefine, where it is NumChildren(Dim): the contiguous range
// [newToOld[newgid], newToOld[newgid]+sourceCount[newgid]) names every
// old sibling gid merged into it.
func (t *Tree) GetMeshBlockList() (loclist []logicalloc.LogicalLocation, newToOld []int, sourceCount []int) {
	leaves := t.Leaves()
	loclist = make([]logicalloc.LogicalLocation, len(leaves))
	newToOld = make([]int, len(leaves))
	sourceCount = make([]int, len(leaves))
	for i, n := range leaves {
		loclist[i] = n.Loc
		newToOld[i] = n.SourceGid
		sourceCount[i] = n.SourceCount
		n.Gid = i
		n.SourceGid = i
		n.SourceCount = 1
	}
	return loclist, newToOld, sourceCount
}
