package mesh

import (
	"github.com/notargets/meshforest/blocktree"
	"github.com/notargets/meshforest/config"
	"github.com/notargets/meshforest/logicalloc"
	"github.com/notargets/meshforest/meshgen"
)

// axisGenerator returns the whole-domain mesh generator for one axis of
// cfg, used to derive a leaf's physical sub-region from its normalized
// footprint within the root grid.
func axisGenerator(cfg *config.MeshConfig, axis int) meshgen.MeshGenerator {
	switch axis {
	case 1:
		return meshgen.MeshGenerator{Size: meshgen.RegionSize{Xmin: cfg.X1Min, Xmax: cfg.X1Max, Nx: cfg.Nx1, Ratio: cfg.X1Rat}}
	case 2:
		return meshgen.MeshGenerator{Size: meshgen.RegionSize{Xmin: cfg.X2Min, Xmax: cfg.X2Max, Nx: cfg.Nx2, Ratio: cfg.X2Rat}}
	default:
		return meshgen.MeshGenerator{Size: meshgen.RegionSize{Xmin: cfg.X3Min, Xmax: cfg.X3Max, Nx: cfg.Nx3, Ratio: cfg.X3Rat}}
	}
}

// blockGeometry derives a leaf's per-axis physical extent and boundary
// conditions from its LogicalLocation, the root grid shape, and cfg's
// mesh-level settings. A face only carries a physical BoundaryKind when
// the leaf sits at that edge of the whole domain; otherwise it is
// BoundaryBlock (a real tree neighbor, resolved separately by
// neighbor.Build).
func blockGeometry(cfg *config.MeshConfig, nrbx1, nrbx2, nrbx3, rootLevel int, loc logicalloc.LogicalLocation) ([3]meshgen.RegionSize, [6]blocktree.BoundaryKind) {
	shift := uint(loc.Level - rootLevel)
	span1 := int64(nrbx1) << shift
	span2 := int64(nrbx2) << shift
	span3 := int64(nrbx3) << shift

	var size [3]meshgen.RegionSize
	size[0] = axisGenerator(cfg, 1).SubRegion(float64(loc.Lx1)/float64(span1), float64(loc.Lx1+1)/float64(span1), cfg.BlockNx1)
	size[1] = axisGenerator(cfg, 2).SubRegion(float64(loc.Lx2)/float64(span2), float64(loc.Lx2+1)/float64(span2), cfg.BlockNx2)
	size[2] = axisGenerator(cfg, 3).SubRegion(float64(loc.Lx3)/float64(span3), float64(loc.Lx3+1)/float64(span3), cfg.BlockNx3)

	var bcs [6]blocktree.BoundaryKind
	atLowerEdge := []bool{loc.Lx1 == 0, loc.Lx2 == 0, loc.Lx3 == 0}
	atUpperEdge := []bool{loc.Lx1 == span1-1, loc.Lx2 == span2-1, loc.Lx3 == span3-1}
	for axis := 0; axis < 3; axis++ {
		lo, hi := blocktree.AxisFaceIndex(axis+1, -1), blocktree.AxisFaceIndex(axis+1, 1)
		if atLowerEdge[axis] {
			bcs[lo] = cfg.Bcs[lo]
		} else {
			bcs[lo] = blocktree.BoundaryBlock
		}
		if atUpperEdge[axis] {
			bcs[hi] = cfg.Bcs[hi]
		} else {
			bcs[hi] = blocktree.BoundaryBlock
		}
	}
	return size, bcs
}
