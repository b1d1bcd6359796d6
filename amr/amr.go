// Package amr implements the adaptive mesh refinement cycle: aggregate
// refinement votes across ranks, validate derefinement by sibling
// consensus, edit the tree, rebalance, migrate block data, and rebuild
// the derived structures a rebalanced mesh needs. Grounded on
// Mesh::AdaptiveMeshRefinement in original_source/src/mesh.cpp, with
// the transfer bookkeeping shaped after partitions.PartitionBuffer and
// utils/face_connector.go's PickBuffer/PlaceBuffer pairing.
package amr

import (
	"fmt"
	"math"
	"sort"

	"github.com/notargets/meshforest/balancer"
	"github.com/notargets/meshforest/block"
	"github.com/notargets/meshforest/blocktree"
	"github.com/notargets/meshforest/collab"
	"github.com/notargets/meshforest/logicalloc"
	"github.com/notargets/meshforest/neighbor"
	"github.com/notargets/meshforest/transport"
)

// costScale converts between the float64 cost the rest of the engine
// works in and the scaled integer AllGatherInts can carry, since World
// exposes no floating-point collective.
const costScale = 1e6

func encodeCost(c float64) int { return int(math.Round(c * costScale)) }
func decodeCost(v int) float64 { return float64(v) / costScale }

// Context is the input to one AMR cycle. Tree is this rank's own
// replica: every rank starts a cycle with topologically identical
// trees and, because aggregation (Phase A) makes every rank apply the
// same edits in the same order, ends the cycle with identical trees
// again without ever sharing memory — the same way separate MPI
// processes would.
type Context struct {
	Tree *blocktree.Tree

	// Blocks are this rank's pre-cycle blocks, keyed by their current gid.
	Blocks *block.List

	Rank       int
	NRanks     int
	World      transport.World
	Codec      collab.StateCodec
	Multilevel bool
	FaceOnly   bool

	// BlockNx1/2/3 are the fixed per-block cell counts every leaf in
	// the mesh shares, used to size migration buffers.
	BlockNx1, BlockNx2, BlockNx3 int

	// Ranklist is the pre-cycle rank assignment, indexed by old gid.
	Ranklist []int
}

// Result is what one AMR cycle produced.
type Result struct {
	Blocks       *block.List
	Ranklist     []int
	Nnew, Ndel   int
	DriftWarning bool
}

// vote is one rank's opinion about one of its own blocks.
type vote struct {
	Gid  int
	Flag int8
	Cost float64
}

// RunCycle executes Phases A-G of one AMR pass and returns this rank's
// post-cycle state. Every rank in ctx.World must call RunCycle with the
// same tree generation; the tree edits and rebalance are deterministic
// so every rank reaches the same outcome independently once the
// aggregated vote set and costlist agree, which the collective in
// Phase A guarantees.
func RunCycle(ctx *Context) (*Result, error) {
	oldNbtotal := ctx.Tree.CountMeshBlock()

	votes := collectVotes(ctx)
	flags, costs, err := aggregate(ctx, votes, oldNbtotal)
	if err != nil {
		return nil, err
	}

	refineLocs, derefineParents := filterDerefinement(ctx.Tree, flags)

	var nnew, ndel int
	for _, loc := range refineLocs {
		if err := ctx.Tree.Refine(loc, &nnew); err != nil {
			return nil, fmt.Errorf("amr: refine %s: %w", loc, err)
		}
	}
	for _, loc := range derefineParents {
		if err := ctx.Tree.Derefine(loc, &ndel); err != nil {
			// A sibling group that raced with a refine elsewhere can
			// legitimately fail 2:1 validation after the fact; skip it
			// rather than aborting the whole cycle.
			continue
		}
	}

	loclist, newToOld, sourceCount := ctx.Tree.GetMeshBlockList()
	newCost := make([]float64, len(loclist))
	for newGid, oldGid := range newToOld {
		n := sourceCount[newGid]
		if oldGid < 0 || oldGid+n > len(costs) {
			newCost[newGid] = 1
			continue
		}
		// A leaf produced by Derefine merges n siblings; its cost is
		// their mean, not just the lowest-gid sibling's.
		sum := 0.0
		for g := oldGid; g < oldGid+n; g++ {
			sum += costs[g]
		}
		newCost[newGid] = sum / float64(n)
	}

	assignment, err := balancer.Balance(newCost, ctx.NRanks)
	if err != nil {
		return nil, fmt.Errorf("amr: rebalance: %w", err)
	}

	newBlocks, err := migrate(ctx, loclist, newToOld, sourceCount, assignment)
	if err != nil {
		return nil, err
	}

	newNbtotal := len(loclist)
	drift := newNbtotal < oldNbtotal || newNbtotal > 2*oldNbtotal

	return &Result{
		Blocks:       newBlocks,
		Ranklist:     assignment.RankList,
		Nnew:         nnew,
		Ndel:         ndel,
		DriftWarning: drift,
	}, nil
}

func collectVotes(ctx *Context) []vote {
	var votes []vote
	ctx.Blocks.Each(func(b *block.Block) {
		votes = append(votes, vote{Gid: b.Gid, Flag: b.RefineFlag, Cost: b.Cost})
	})
	return votes
}

// aggregate is Phase A: every rank all-gathers its local votes (packed
// as gid,flag,costScaled triples) and the result is unpacked into dense
// per-gid flag and cost arrays.
func aggregate(ctx *Context, votes []vote, nbtotal int) (flags []int8, costs []float64, err error) {
	send := make([]int, 0, 3*len(votes))
	for _, v := range votes {
		send = append(send, v.Gid, int(v.Flag), encodeCost(v.Cost))
	}
	gathered := ctx.World.AllGatherInts(send)

	flags = make([]int8, nbtotal)
	costs = make([]float64, nbtotal)
	for g := range costs {
		costs[g] = 1
	}
	for _, rankSend := range gathered {
		for i := 0; i+2 < len(rankSend); i += 3 {
			gid, flag, costEnc := rankSend[i], rankSend[i+1], rankSend[i+2]
			if gid < 0 || gid >= nbtotal {
				return nil, nil, fmt.Errorf("amr: aggregated vote for out-of-range gid %d", gid)
			}
			flags[gid] = int8(flag)
			costs[gid] = decodeCost(costEnc)
		}
	}
	return flags, costs, nil
}

// filterDerefinement is Phase B: a derefine vote only becomes a real
// candidate when every one of its 2^Dim siblings under the same parent
// also voted derefine (sibling-vote validation); refine candidates pass
// straight through. Derefinement candidates are sorted level-descending
// via logicalloc.Greater, so the finest candidates are merged before
// coarser ones during tree edits.
func filterDerefinement(tree *blocktree.Tree, flags []int8) (refine []logicalloc.LogicalLocation, derefine []logicalloc.LogicalLocation) {
	loclist, _, _ := tree.GetMeshBlockList()

	for gid, loc := range loclist {
		if flags[gid] == 1 {
			refine = append(refine, loc)
		}
	}

	seen := make(map[logicalloc.LogicalLocation]bool)
	for gid, loc := range loclist {
		if flags[gid] != -1 || loc.Level == tree.RootLevel {
			continue
		}
		parentLoc := loc.Parent()
		if seen[parentLoc] {
			continue
		}
		parent := tree.Find(parentLoc)
		if parent == nil || parent.Leaf {
			continue
		}
		allVoted := true
		for _, c := range parent.Children[:blocktree.NumChildren(tree.Dim)] {
			if c == nil || !c.Leaf || flags[c.Gid] != -1 {
				allVoted = false
				break
			}
		}
		seen[parentLoc] = true
		if allVoted {
			derefine = append(derefine, parentLoc)
		}
	}

	sort.Slice(derefine, func(i, j int) bool {
		return logicalloc.Greater(derefine[i], derefine[j])
	})
	return refine, derefine
}

// RebuildNeighbors recomputes the neighbor table for every block this
// rank now owns, to be called once per rank after all ranks have
// completed migrate (Phase G, "rebuild neighbor tables").
func RebuildNeighbors(tree *blocktree.Tree, blocks *block.List, ranklist []int, multilevel, faceOnly bool) {
	blocks.Each(func(b *block.Block) {
		leaf := tree.Find(b.Loc)
		if leaf == nil {
			return
		}
		b.Neighbors = neighbor.Build(tree, leaf, ranklist, multilevel, faceOnly)
	})
}
