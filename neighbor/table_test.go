package neighbor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/meshforest/blocktree"
	"github.com/notargets/meshforest/logicalloc"
)

func uniformRanklist(n int) []int {
	r := make([]int, n)
	return r
}

func TestBuildSameLevel2DHasFourFaceNeighbors(t *testing.T) {
	tr := blocktree.CreateRootGrid(2, 4, 4, 1, [6]blocktree.BoundaryKind{
		blocktree.BoundaryPeriodic, blocktree.BoundaryPeriodic,
		blocktree.BoundaryPeriodic, blocktree.BoundaryPeriodic,
		blocktree.BoundaryOutflow, blocktree.BoundaryOutflow,
	})
	_, _, _ = tr.GetMeshBlockList()
	leaf := tr.Find(logicalloc.New(tr.RootLevel, 1, 1, 0))
	require.NotNil(t, leaf)

	tbl := Build(tr, leaf, uniformRanklist(16), false, true)
	faceCount := 0
	for _, e := range tbl.Entries {
		if e.Kind == blocktree.KindFace {
			faceCount++
		}
	}
	assert.Equal(t, 4, faceCount)
}

func TestBuildNBLevelMarksOwnCell(t *testing.T) {
	tr := blocktree.CreateRootGrid(2, 2, 2, 1, [6]blocktree.BoundaryKind{
		blocktree.BoundaryPeriodic, blocktree.BoundaryPeriodic,
		blocktree.BoundaryPeriodic, blocktree.BoundaryPeriodic,
		blocktree.BoundaryOutflow, blocktree.BoundaryOutflow,
	})
	_, _, _ = tr.GetMeshBlockList()
	leaf := tr.Find(logicalloc.New(tr.RootLevel, 0, 0, 0))
	tbl := Build(tr, leaf, uniformRanklist(4), false, true)
	assert.Equal(t, leaf.Loc.Level, tbl.NBLevel[1][1][1])
}

func TestBuildFinerNeighborEmitsTwoChildren2D(t *testing.T) {
	tr := blocktree.CreateRootGrid(2, 4, 4, 1, [6]blocktree.BoundaryKind{
		blocktree.BoundaryPeriodic, blocktree.BoundaryPeriodic,
		blocktree.BoundaryPeriodic, blocktree.BoundaryPeriodic,
		blocktree.BoundaryOutflow, blocktree.BoundaryOutflow,
	})
	var nnew int
	require.NoError(t, tr.Refine(logicalloc.New(tr.RootLevel, 2, 1, 0), &nnew))
	_, _, _ = tr.GetMeshBlockList()

	leaf := tr.Find(logicalloc.New(tr.RootLevel, 1, 1, 0))
	require.NotNil(t, leaf)
	nblocks := tr.CountMeshBlock()

	tbl := Build(tr, leaf, uniformRanklist(nblocks), true, true)
	var finerFaceEntries int
	for _, e := range tbl.Entries {
		if e.Kind == blocktree.KindFace && e.Ox1 == 1 && e.Ox2 == 0 && e.Ox3 == 0 {
			finerFaceEntries++
		}
	}
	assert.Equal(t, 2, finerFaceEntries)
}

func TestBuildCoarserNeighborSingleEntry(t *testing.T) {
	tr := blocktree.CreateRootGrid(2, 4, 4, 1, [6]blocktree.BoundaryKind{
		blocktree.BoundaryPeriodic, blocktree.BoundaryPeriodic,
		blocktree.BoundaryPeriodic, blocktree.BoundaryPeriodic,
		blocktree.BoundaryOutflow, blocktree.BoundaryOutflow,
	})
	var nnew int
	require.NoError(t, tr.Refine(logicalloc.New(tr.RootLevel, 2, 1, 0), &nnew))
	_, _, _ = tr.GetMeshBlockList()
	nblocks := tr.CountMeshBlock()

	fineLeaf := tr.Find(logicalloc.New(tr.RootLevel+1, 4, 2, 0))
	require.NotNil(t, fineLeaf)
	tbl := Build(tr, fineLeaf, uniformRanklist(nblocks), true, true)

	var coarserFaceEntries int
	for _, e := range tbl.Entries {
		if e.Kind == blocktree.KindFace && e.Ox1 == -1 && e.Ox2 == 0 && e.Ox3 == 0 {
			coarserFaceEntries++
		}
	}
	assert.Equal(t, 1, coarserFaceEntries)
}

func TestBuildMaxNeighborFaceOnly2DIsEight(t *testing.T) {
	tr := blocktree.CreateRootGrid(2, 4, 4, 1, [6]blocktree.BoundaryKind{
		blocktree.BoundaryPeriodic, blocktree.BoundaryPeriodic,
		blocktree.BoundaryPeriodic, blocktree.BoundaryPeriodic,
		blocktree.BoundaryOutflow, blocktree.BoundaryOutflow,
	})
	_, _, _ = tr.GetMeshBlockList()
	leaf := tr.Find(logicalloc.New(tr.RootLevel, 1, 1, 0))
	tbl := Build(tr, leaf, uniformRanklist(16), true, true)
	// 4 face directions, each with 2 sub-face slots under multilevel.
	assert.Equal(t, 8, tbl.MaxNeighbor)
}

func TestBuild3DFullDirectionSetReachesNMaxNeighbor(t *testing.T) {
	tr := blocktree.CreateRootGrid(3, 4, 4, 4, [6]blocktree.BoundaryKind{
		blocktree.BoundaryPeriodic, blocktree.BoundaryPeriodic,
		blocktree.BoundaryPeriodic, blocktree.BoundaryPeriodic,
		blocktree.BoundaryPeriodic, blocktree.BoundaryPeriodic,
	})
	_, _, _ = tr.GetMeshBlockList()
	leaf := tr.Find(logicalloc.New(tr.RootLevel, 1, 1, 1))
	tbl := Build(tr, leaf, uniformRanklist(64), true, false)
	// 6 faces * 4 + 12 edges * 2 + 8 corners * 1 = 56, the classic
	// Athena++ NMAX_NEIGHBOR sanity check.
	assert.Equal(t, 56, tbl.MaxNeighbor)
}
