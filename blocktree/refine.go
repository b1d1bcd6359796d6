package blocktree

import (
	"fmt"

	"github.com/notargets/meshforest/logicalloc"
)

// Refine requires loc to name a leaf; it converts the leaf to an
// internal node with 2^Dim child leaves, then recursively refines any
// face/edge/corner neighbor that is coarser than required to restore
// 2:1 balance. *nnew is incremented by the total number of new leaves
// created (including cascaded neighbor refinements).
func (t *Tree) Refine(loc logicalloc.LogicalLocation, nnew *int) error {
	node := t.Find(loc)
	if node == nil || !node.Leaf {
		return fmt.Errorf("blocktree: refine target %s is not a leaf", loc)
	}
	t.splitLeaf(node)
	*nnew += NumChildren(t.Dim)

	for _, d := range Directions(t.Dim) {
		neighbor := t.FindNeighbor(node.Loc, d.Ox1, d.Ox2, d.Ox3, t.Bcs)
		if neighbor == nil || !neighbor.Leaf {
			continue
		}
		// Children now live at node.Loc.Level+1; 2:1 balance requires
		// every touching leaf to be at level >= node.Loc.Level.
		if neighbor.Loc.Level < node.Loc.Level {
			if err := t.Refine(neighbor.Loc, nnew); err != nil {
				return err
			}
		}
	}
	return nil
}

// splitLeaf converts a leaf into an internal node with fresh child
// leaves, recording provenance (SourceGid) for the next GetMeshBlockList.
func (t *Tree) splitLeaf(node *Node) {
	parentGid := node.Gid
	node.Leaf = false
	for idx := 0; idx < NumChildren(t.Dim); idx++ {
		fx1 := idx & 1
		fx2, fx3 := 0, 0
		if t.Dim >= 2 {
			fx2 = (idx >> 1) & 1
		}
		if t.Dim >= 3 {
			fx3 = (idx >> 2) & 1
		}
		child := newLeaf(node.Loc.Child(fx1, fx2, fx3), node)
		child.SourceGid = parentGid
		node.Children[idx] = child
	}
}

// Derefine requires all 2^Dim children of the node at loc to currently
// exist as leaves, and that removing them would not put any neighbor
// more than one level finer than the resulting (coarser) leaf. On
// success it deletes the children and makes the parent a leaf again;
// *ndel is incremented by the number of leaves removed.
func (t *Tree) Derefine(loc logicalloc.LogicalLocation, ndel *int) error {
	node := t.Find(loc)
	if node == nil || node.Leaf {
		return fmt.Errorf("blocktree: derefine target %s is not an internal node", loc)
	}
	children := node.Children[:NumChildren(t.Dim)]
	for _, c := range children {
		if c == nil || !c.Leaf {
			return fmt.Errorf("blocktree: derefine target %s has a non-leaf child", loc)
		}
	}
	// Reject if any neighbor of any child is two levels finer than the
	// node's own (post-derefine) level, i.e. currently at node.Loc.Level+2.
	for _, c := range children {
		for _, d := range Directions(t.Dim) {
			neighbor := t.FindNeighbor(c.Loc, d.Ox1, d.Ox2, d.Ox3, t.Bcs)
			if neighbor == nil {
				continue
			}
			finest := deepestLevel(neighbor, t.Dim)
			if finest > node.Loc.Level+1 {
				return fmt.Errorf("blocktree: derefine of %s would violate 2:1 balance", loc)
			}
		}
	}

	// children are visited in ascending idx order by GetMeshBlockList's
	// depth-first walk, so their Gids are contiguous; the lowest one
	// plus the sibling count names the whole merged range.
	firstChildGid := children[0].SourceGid
	nlbl := NumChildren(t.Dim)
	for idx := range node.Children {
		node.Children[idx] = nil
	}
	node.Leaf = true
	node.SourceGid = firstChildGid
	node.SourceCount = nlbl
	*ndel += nlbl
	return nil
}

// deepestLevel returns the maximum level reachable by descending into
// node (node itself if it is already a leaf).
func deepestLevel(node *Node, dim int) int {
	if node.Leaf {
		return node.Loc.Level
	}
	max := node.Loc.Level
	for idx := 0; idx < NumChildren(dim); idx++ {
		c := node.Children[idx]
		if c == nil {
			continue
		}
		if l := deepestLevel(c, dim); l > max {
			max = l
		}
	}
	return max
}
