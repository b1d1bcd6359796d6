// Package blocktree implements the 2:1-balanced recursive forest that
// indexes the computational domain: insertion, refinement, derefinement,
// neighbor lookup, and leaf enumeration. Grounded on the recursive
// index/partition bookkeeping style of partitions.PartitionLayout
// and on the tree-walk structure of original_source/src/mesh.cpp's
// MeshBlockTree collaborator.
package blocktree

import (
	"fmt"

	"github.com/notargets/meshforest/logicalloc"
)

// BoundaryKind identifies the physical boundary condition on a mesh face
// that has no tree neighbor (or a periodic wrap partner).
type BoundaryKind int

const (
	// BoundaryBlock marks a face that has a real neighbor; it is never a
	// physical boundary condition, only a placeholder meaning "interior".
	BoundaryBlock BoundaryKind = iota
	BoundaryReflecting
	BoundaryOutflow
	BoundaryPeriodic
	BoundaryUser
	BoundaryPolar
)

func (k BoundaryKind) String() string {
	switch k {
	case BoundaryReflecting:
		return "reflecting"
	case BoundaryOutflow:
		return "outflow"
	case BoundaryPeriodic:
		return "periodic"
	case BoundaryUser:
		return "user"
	case BoundaryPolar:
		return "polar"
	default:
		return "block"
	}
}

// Face index convention for a 6-element boundary-condition array:
// 0=ix1, 1=ox1, 2=ix2, 3=ox2, 4=ix3, 5=ox3 ("i" = inner/lower, "o" = outer/upper).
const (
	FaceIX1 = iota
	FaceOX1
	FaceIX2
	FaceOX2
	FaceIX3
	FaceOX3
)

// AxisFaceIndex maps an axis (1,2,3) and an offset sign (-1 or +1) to the
// corresponding slot in a 6-element boundary array.
func AxisFaceIndex(axis, sign int) int {
	base := (axis - 1) * 2
	if sign < 0 {
		return base
	}
	return base + 1
}

// Node is a single node of the forest: an internal node with 2^Dim
// children, or a leaf carrying a global block id.
type Node struct {
	Loc      logicalloc.LogicalLocation
	Parent   *Node
	Children [8]*Node // only indices < 1<<dim are ever populated
	Leaf     bool

	// Gid is the node's global id as of the last GetMeshBlockList call;
	// -1 if the node has never been enumerated (freshly created leaf).
	Gid int

	// SourceGid is the provenance used to build the newToOld map the
	// next time GetMeshBlockList runs: for an untouched leaf it equals
	// Gid; for a child created by Refine it is the refined leaf's old
	// Gid; for a leaf created by Derefine it is the lowest old Gid
	// among its merged children — those children's Gids are
	// contiguous, running from SourceGid to SourceGid+SourceCount-1,
	// since GetMeshBlockList's depth-first enumeration always visits
	// a node's children consecutively.
	SourceGid int

	// SourceCount is how many old leaves this leaf's data descends
	// from: 1 for every leaf except one just produced by Derefine,
	// where it is NumChildren(Dim).
	SourceCount int
}

func newLeaf(loc logicalloc.LogicalLocation, parent *Node) *Node {
	return &Node{Loc: loc, Parent: parent, Leaf: true, Gid: -1, SourceGid: -1, SourceCount: 1}
}

// Tree is the rooted forest over an nrbx1 x nrbx2 x nrbx3 array of root
// grid cells at rootLevel.
type Tree struct {
	Dim       int
	Nrbx1     int
	Nrbx2     int
	Nrbx3     int
	RootLevel int
	Bcs       [6]BoundaryKind

	roots [][][]*Node // [ix1][ix2][ix3]
}

// NumChildren returns 2^dim.
func NumChildren(dim int) int { return 1 << uint(dim) }

// OctantIndex packs the per-axis child selector (each 0 or 1) into a
// single index into Node.Children, masking axes beyond dim to 0 so a
// degenerate axis never contributes to the index.
func OctantIndex(dim, fx1, fx2, fx3 int) int {
	idx := fx1 & 1
	if dim >= 2 {
		idx |= (fx2 & 1) << 1
	}
	if dim >= 3 {
		idx |= (fx3 & 1) << 2
	}
	return idx
}

// RootLevelFor returns ceil(log2(max(nrbx1,nrbx2,nrbx3))).
func RootLevelFor(nrbx1, nrbx2, nrbx3 int) int {
	m := nrbx1
	if nrbx2 > m {
		m = nrbx2
	}
	if nrbx3 > m {
		m = nrbx3
	}
	level := 0
	for (1 << uint(level)) < m {
		level++
	}
	return level
}

func (t *Tree) String() string {
	return fmt.Sprintf("Tree(dim=%d, nrbx=%dx%dx%d, rootLevel=%d)", t.Dim, t.Nrbx1, t.Nrbx2, t.Nrbx3, t.RootLevel)
}
