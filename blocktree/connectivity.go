package blocktree

import (
	"fmt"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// VerifyConnectivity is an independent cross-check of two invariants the
// refine/derefine edits in this package are supposed to maintain on
// every leaf, built from scratch off the tree's current FindNeighbor
// results rather than any bookkeeping those edits updated along the
// way: the leaf-adjacency graph is a single connected component, and no
// edge in it joins two leaves more than one level apart. It requires
// GetMeshBlockList to have been called since the last tree edit, since
// it keys graph nodes by leaf Gid.
func (t *Tree) VerifyConnectivity() error {
	leaves := t.Leaves()
	if len(leaves) == 0 {
		return fmt.Errorf("blocktree: tree has no leaves")
	}

	g := simple.NewUndirectedGraph()
	byGid := make(map[int64]*Node, len(leaves))
	for _, n := range leaves {
		id := int64(n.Gid)
		byGid[id] = n
		g.AddNode(simple.Node(id))
	}

	for _, n := range leaves {
		for _, d := range Directions(t.Dim) {
			nb := t.FindNeighbor(n.Loc, d.Ox1, d.Ox2, d.Ox3, t.Bcs)
			if nb == nil {
				continue
			}
			for _, leafNb := range leafDescendants(nb, t.Dim) {
				if leafNb == n {
					continue
				}
				if diff := leafNb.Loc.Level - n.Loc.Level; diff > 1 || diff < -1 {
					return fmt.Errorf("blocktree: 2:1 balance violated between leaf %s (gid %d) and leaf %s (gid %d)",
						n.Loc, n.Gid, leafNb.Loc, leafNb.Gid)
				}
				u, v := simple.Node(int64(n.Gid)), simple.Node(int64(leafNb.Gid))
				if !g.HasEdgeBetween(u.ID(), v.ID()) {
					g.SetEdge(simple.Edge{F: u, T: v})
				}
			}
		}
	}

	components := topo.ConnectedComponents(g)
	if len(components) != 1 {
		return fmt.Errorf("blocktree: leaf adjacency graph has %d connected components, want 1", len(components))
	}
	return nil
}

// leafDescendants returns n itself if it is a leaf, or every leaf
// reachable by descending into it otherwise — the set of leaves a
// coarser block's FindNeighbor result, which may name an internal node,
// actually touches.
func leafDescendants(n *Node, dim int) []*Node {
	if n.Leaf {
		return []*Node{n}
	}
	var out []*Node
	for idx := 0; idx < NumChildren(dim); idx++ {
		c := n.Children[idx]
		if c == nil {
			continue
		}
		out = append(out, leafDescendants(c, dim)...)
	}
	return out
}
