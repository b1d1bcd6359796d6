package amr

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/meshforest/block"
	"github.com/notargets/meshforest/blocktree"
	"github.com/notargets/meshforest/collab"
	"github.com/notargets/meshforest/logicalloc"
	"github.com/notargets/meshforest/transport"
)

// scalarCodec is a minimal StateCodec whose payload is a single
// float64: the cell average. Restriction and prolongation both just
// copy that average, which is exact for a constant field and good
// enough to exercise the migration bookkeeping without a real solver.
type scalarCodec struct{}

func (scalarCodec) ByteSize(bnx1, bnx2, bnx3 int) int { return 8 }

func (scalarCodec) Serialize(payload []byte, w io.Writer) error {
	_, err := w.Write(payload)
	return err
}

func (scalarCodec) Deserialize(payload []byte, r io.Reader) error {
	_, err := io.ReadFull(r, payload)
	return err
}

func (scalarCodec) RestrictCellCentered(fine, coarse []byte, bounds collab.CellBounds) error {
	copy(coarse, fine)
	return nil
}
func (scalarCodec) RestrictFieldX1(fine, coarse []byte, bounds collab.CellBounds) error { return nil }
func (scalarCodec) RestrictFieldX2(fine, coarse []byte, bounds collab.CellBounds) error { return nil }
func (scalarCodec) RestrictFieldX3(fine, coarse []byte, bounds collab.CellBounds) error { return nil }

func (scalarCodec) ProlongateCellCentered(coarse, fine []byte, bounds collab.CellBounds) error {
	copy(fine, coarse)
	return nil
}
func (scalarCodec) ProlongateSharedFieldX1(coarse, fine []byte, bounds collab.CellBounds) error {
	return nil
}
func (scalarCodec) ProlongateSharedFieldX2(coarse, fine []byte, bounds collab.CellBounds) error {
	return nil
}
func (scalarCodec) ProlongateSharedFieldX3(coarse, fine []byte, bounds collab.CellBounds) error {
	return nil
}
func (scalarCodec) ProlongateInternalField(fine []byte, bounds collab.CellBounds) error { return nil }

func (scalarCodec) NewBlockTimeStep(payload []byte) float64 { return 1 }
func (scalarCodec) HasFaceField() bool                      { return false }

func floatPayload(v float64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(int64(v*1000)))
	return b
}

func TestFilterDerefinementRequiresAllSiblingsToVote(t *testing.T) {
	tr := blocktree.CreateRootGrid(1, 4, 1, 1, [6]blocktree.BoundaryKind{
		blocktree.BoundaryOutflow, blocktree.BoundaryOutflow,
		blocktree.BoundaryOutflow, blocktree.BoundaryOutflow,
		blocktree.BoundaryOutflow, blocktree.BoundaryOutflow,
	})
	var nnew int
	require.NoError(t, tr.Refine(logicalloc.New(tr.RootLevel, 1, 0, 0), &nnew))
	loclist, _, _ := tr.GetMeshBlockList()

	flags := make([]int8, len(loclist))
	// Only one of the two children votes derefine; the other abstains.
	for gid, loc := range loclist {
		if loc.Level == tr.RootLevel+1 && loc.Lx1 == 2 {
			flags[gid] = -1
		}
	}
	_, derefine := filterDerefinement(tr, flags)
	assert.Empty(t, derefine)

	for gid, loc := range loclist {
		if loc.Level == tr.RootLevel+1 {
			flags[gid] = -1
		}
	}
	_, derefine = filterDerefinement(tr, flags)
	require.Len(t, derefine, 1)
}

func TestRunCycleTwoRankRefineCycleConvergesConsistently(t *testing.T) {
	bcs := [6]blocktree.BoundaryKind{
		blocktree.BoundaryPeriodic, blocktree.BoundaryPeriodic,
		blocktree.BoundaryOutflow, blocktree.BoundaryOutflow,
		blocktree.BoundaryOutflow, blocktree.BoundaryOutflow,
	}
	newTree := func() *blocktree.Tree { return blocktree.CreateRootGrid(1, 4, 1, 1, bcs) }
	trees := map[int]*blocktree.Tree{0: newTree(), 1: newTree()}
	loclist, _, _ := trees[0].GetMeshBlockList()
	trees[1].GetMeshBlockList()

	hub := transport.NewHub(2)
	ranklist := []int{0, 0, 1, 1}

	blocksByRank := map[int]*block.List{0: block.NewList(), 1: block.NewList()}
	for gid, loc := range loclist {
		flag := int8(0)
		if gid == 1 {
			flag = 1 // vote to refine the block that touches the rank boundary
		}
		blocksByRank[ranklist[gid]].Append(block.Block{
			Gid: gid, Loc: loc, Cost: 1, RefineFlag: flag,
			Payload: floatPayload(float64(gid)),
		})
	}

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	errs := make([]error, 2)
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			ctx := &Context{
				Tree: trees[r], Blocks: blocksByRank[r],
				Rank: r, NRanks: 2, World: hub.Rank(r),
				Codec: scalarCodec{}, Ranklist: ranklist,
				BlockNx1: 1, BlockNx2: 1, BlockNx3: 1,
			}
			res, err := RunCycle(ctx)
			results[r], errs[r] = res, err
		}(r)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].Ranklist, results[1].Ranklist)
	assert.Equal(t, 2, results[0].Nnew)

	total := results[0].Blocks.Len() + results[1].Blocks.Len()
	assert.Equal(t, len(results[0].Ranklist), total)
}

// cellCodec is a per-cell StateCodec: payload is bnx1 raw bytes, one
// per cell along x1, with restrict/prolong touching only the
// bounds-designated sub-range. Unlike scalarCodec it actually honors
// CellBounds, which is what a derefine-merge's per-quadrant restricts
// need to be distinguishable from each other.
type cellCodec struct{}

func (cellCodec) ByteSize(bnx1, bnx2, bnx3 int) int { return bnx1 }

func (cellCodec) Serialize(payload []byte, w io.Writer) error {
	_, err := w.Write(payload)
	return err
}

func (cellCodec) Deserialize(payload []byte, r io.Reader) error {
	_, err := io.ReadFull(r, payload)
	return err
}

func (cellCodec) RestrictCellCentered(fine, coarse []byte, bounds collab.CellBounds) error {
	width := bounds.Ie - bounds.Is + 1
	copy(coarse[bounds.Is:bounds.Is+width], fine[:width])
	return nil
}
func (cellCodec) RestrictFieldX1(fine, coarse []byte, bounds collab.CellBounds) error { return nil }
func (cellCodec) RestrictFieldX2(fine, coarse []byte, bounds collab.CellBounds) error { return nil }
func (cellCodec) RestrictFieldX3(fine, coarse []byte, bounds collab.CellBounds) error { return nil }

func (cellCodec) ProlongateCellCentered(coarse, fine []byte, bounds collab.CellBounds) error {
	width := bounds.Ie - bounds.Is + 1
	copy(fine[:width], coarse[bounds.Is:bounds.Is+width])
	return nil
}
func (cellCodec) ProlongateSharedFieldX1(coarse, fine []byte, bounds collab.CellBounds) error {
	return nil
}
func (cellCodec) ProlongateSharedFieldX2(coarse, fine []byte, bounds collab.CellBounds) error {
	return nil
}
func (cellCodec) ProlongateSharedFieldX3(coarse, fine []byte, bounds collab.CellBounds) error {
	return nil
}
func (cellCodec) ProlongateInternalField(fine []byte, bounds collab.CellBounds) error { return nil }

func (cellCodec) NewBlockTimeStep(payload []byte) float64 { return 1 }
func (cellCodec) HasFaceField() bool                      { return false }

// TestRunCycleDerefineMergesAllSiblingsCostAndPayload derefines a
// refined pair of siblings split across two ranks and checks that the
// resulting leaf's payload carries both siblings' quadrants (not just
// the lowest-gid one) and that its rebalance cost is their mean: costs
// are chosen so a buggy single-source cost would put the merged leaf
// on rank 0, while the correct mean puts it on rank 1.
func TestRunCycleDerefineMergesAllSiblingsCostAndPayload(t *testing.T) {
	bcs := [6]blocktree.BoundaryKind{
		blocktree.BoundaryOutflow, blocktree.BoundaryOutflow,
		blocktree.BoundaryOutflow, blocktree.BoundaryOutflow,
		blocktree.BoundaryOutflow, blocktree.BoundaryOutflow,
	}
	newTree := func() *blocktree.Tree {
		tr := blocktree.CreateRootGrid(1, 4, 1, 1, bcs)
		var nnew int
		require.NoError(t, tr.Refine(logicalloc.New(tr.RootLevel, 1, 0, 0), &nnew))
		require.Equal(t, 2, nnew)
		return tr
	}
	trees := map[int]*blocktree.Tree{0: newTree(), 1: newTree()}
	loclist, _, _ := trees[0].GetMeshBlockList()
	trees[1].GetMeshBlockList()

	// Siblings live on different ranks so the merge exercises a real
	// cross-rank send/restrict, not just the local-assembly path.
	ranklist := []int{0, 0, 1, 1, 1}
	payloads := map[int][]byte{
		0: {1, 1, 1, 1},
		1: {10, 10, 10, 10},
		2: {20, 20, 20, 20},
		3: {1, 1, 1, 1},
		4: {1, 1, 1, 1},
	}
	costs := map[int]float64{0: 1, 1: 1, 2: 11, 3: 1, 4: 1}

	hub := transport.NewHub(2)
	blocksByRank := map[int]*block.List{0: block.NewList(), 1: block.NewList()}
	for gid, loc := range loclist {
		flag := int8(0)
		if gid == 1 || gid == 2 {
			flag = -1
		}
		blocksByRank[ranklist[gid]].Append(block.Block{
			Gid: gid, Loc: loc, Cost: costs[gid], RefineFlag: flag,
			Payload: payloads[gid],
		})
	}

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	errs := make([]error, 2)
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			ctx := &Context{
				Tree: trees[r], Blocks: blocksByRank[r],
				Rank: r, NRanks: 2, World: hub.Rank(r),
				Codec: cellCodec{}, Ranklist: ranklist,
				BlockNx1: 4, BlockNx2: 1, BlockNx3: 1,
			}
			res, err := RunCycle(ctx)
			results[r], errs[r] = res, err
		}(r)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 2, results[0].Ndel)
	assert.Equal(t, results[0].Ranklist, results[1].Ranklist)
	require.Len(t, results[0].Ranklist, 4)

	// The merged leaf is newGid 1 (old gids 1 and 2 collapse into it).
	// mean(1,11)=6 outweighs gid 3's cost enough to land it on rank 1;
	// the pre-fix single-source cost (1) would have kept it on rank 0.
	assert.Equal(t, 1, results[0].Ranklist[1])

	var merged *block.Block
	results[1].Blocks.Each(func(b *block.Block) {
		if b.Gid == 1 {
			merged = b
		}
	})
	require.NotNil(t, merged)
	assert.Equal(t, []byte{10, 10, 20, 20}, merged.Payload)
}

func TestTransformPayloadSameLevelCopies(t *testing.T) {
	loc := logicalloc.New(2, 1, 0, 0)
	out, err := transformPayload(scalarCodec{}, []byte{1, 2, 3, 4, 5, 6, 7, 8}, 2, loc, loc, 1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, out)
}

func TestTransformPayloadCoarserToFinerProlongs(t *testing.T) {
	oldLoc := logicalloc.New(1, 0, 0, 0)
	newLoc := logicalloc.New(2, 1, 0, 0)
	out, err := transformPayload(scalarCodec{}, floatPayload(3), 1, newLoc, oldLoc, 1, 1, 1)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(out, floatPayload(3)))
}

func TestTransformPayloadFinerToCoarserRestricts(t *testing.T) {
	oldLoc := logicalloc.New(2, 1, 0, 0)
	newLoc := logicalloc.New(1, 0, 0, 0)
	out, err := transformPayload(scalarCodec{}, floatPayload(5), 2, newLoc, oldLoc, 1, 1, 1)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(out, floatPayload(5)))
}
