// Package mesh assembles the forest, rank-local block list, and the
// load-balance/AMR/time-step drivers into one object, the way
// original_source/src/mesh.cpp's Mesh class owns a MeshBlockTree plus
// its rank's MeshBlock chain. Logging stays plain fmt.Printf/log, with
// no structured logging dependency pulled in, matching the rest of
// this module.
package mesh

import (
	"fmt"
	"io"
	"log"
	"math"

	"github.com/google/uuid"

	"github.com/notargets/meshforest/amr"
	"github.com/notargets/meshforest/balancer"
	"github.com/notargets/meshforest/block"
	"github.com/notargets/meshforest/blocktree"
	"github.com/notargets/meshforest/checkpoint"
	"github.com/notargets/meshforest/collab"
	"github.com/notargets/meshforest/config"
	"github.com/notargets/meshforest/meshgen"
	"github.com/notargets/meshforest/transport"
)

// Mesh owns one rank's view of the distributed forest: the full tree
// topology (replicated, not shared, across ranks), this rank's own
// blocks, and the global rank assignment every rank keeps in sync.
type Mesh struct {
	Cfg   *config.MeshConfig
	Tree  *blocktree.Tree
	World transport.World
	Codec collab.StateCodec
	Boundary collab.BoundaryExchange

	Rank   int
	NRanks int

	Blocks   *block.List
	Ranklist []int

	Time   float64
	Dt     float64
	Ncycle int64
	RunID  uuid.UUID

	nrbx1, nrbx2, nrbx3 int
	rootLevel           int

	// FaceOnly, when true, restricts neighbor tables to face neighbors
	// only (no edge/corner), matching a low-order stencil's needs.
	FaceOnly bool

	// VerifyTopology, when true, runs blocktree.VerifyConnectivity after
	// every AMR cycle as an independent cross-check of the tree edits
	// RunAMRCycle just applied. Off by default since it re-walks every
	// leaf's full neighbor set; useful for tests and debug runs.
	VerifyTopology bool
}

// Initialize builds the root grid, applies any configured static
// refinement regions, assigns blocks to ranks, constructs this rank's
// local Block set via gen, and builds neighbor tables. World, codec,
// and boundary are supplied by the caller (boundary may be nil for a
// problem with no ghost-zone exchange need, e.g. mesh-test mode).
func Initialize(cfg *config.MeshConfig, world transport.World, codec collab.StateCodec, gen collab.ProblemGenerator, boundary collab.BoundaryExchange) (*Mesh, error) {
	dim := cfg.Dim()
	nrbx1 := cfg.Nx1 / cfg.BlockNx1
	nrbx2 := cfg.Nx2 / cfg.BlockNx2
	nrbx3 := cfg.Nx3 / cfg.BlockNx3
	rootLevel := blocktree.RootLevelFor(nrbx1, nrbx2, nrbx3)

	tree := blocktree.CreateRootGrid(dim, nrbx1, nrbx2, nrbx3, cfg.Bcs)

	for _, region := range cfg.Regions {
		if err := refineRegionToLevel(tree, cfg, nrbx1, nrbx2, nrbx3, rootLevel, region); err != nil {
			return nil, fmt.Errorf("mesh: static refinement region: %w", err)
		}
	}

	m := &Mesh{
		Cfg: cfg, Tree: tree, World: world, Codec: codec, Boundary: boundary,
		Rank: world.Rank(), NRanks: world.Size(),
		nrbx1: nrbx1, nrbx2: nrbx2, nrbx3: nrbx3, rootLevel: rootLevel,
		RunID: uuid.New(), Time: cfg.StartTime,
	}

	if err := m.rebuildBlocksFromTree(gen); err != nil {
		return nil, err
	}

	if boundary != nil {
		if err := boundary.Initialize(m); err != nil {
			return nil, fmt.Errorf("mesh: boundary exchange initialize: %w", err)
		}
	}
	return m, nil
}

// refineRegionToLevel refines tree down to region.Level everywhere the
// region's physical bounds overlap a leaf, applied once at construction
// independent of the adaptive per-step refinement flag path.
func refineRegionToLevel(tree *blocktree.Tree, cfg *config.MeshConfig, nrbx1, nrbx2, nrbx3, rootLevel int, region config.StaticRegion) error {
	for {
		loclist, _, _ := tree.GetMeshBlockList()
		progressed := false
		for _, loc := range loclist {
			if loc.Level >= region.Level {
				continue
			}
			// A cascade triggered by an earlier leaf in this same pass
			// may already have split this one; re-check liveness rather
			// than trust the snapshot taken at the top of the loop.
			node := tree.Find(loc)
			if node == nil || !node.Leaf {
				continue
			}
			size, _ := blockGeometry(cfg, nrbx1, nrbx2, nrbx3, rootLevel, loc)
			if !overlaps(size, region) {
				continue
			}
			var nnew int
			if err := tree.Refine(loc, &nnew); err != nil {
				return err
			}
			progressed = true
		}
		if !progressed {
			return nil
		}
	}
}

func overlaps(size [3]meshgen.RegionSize, region config.StaticRegion) bool {
	return size[0].Xmin < region.X1Max && size[0].Xmax > region.X1Min &&
		size[1].Xmin < region.X2Max && size[1].Xmax > region.X2Min &&
		size[2].Xmin < region.X3Max && size[2].Xmax > region.X3Min
}

// rebuildBlocksFromTree assigns every leaf to a rank (by cost-balance,
// uniform cost since no block has run yet) and constructs this rank's
// own Block set, calling gen to fill each one's initial payload.
func (m *Mesh) rebuildBlocksFromTree(gen collab.ProblemGenerator) error {
	loclist, _, _ := m.Tree.GetMeshBlockList()
	costs := make([]float64, len(loclist))
	for gid := range loclist {
		costs[gid] = 1
	}
	assignment, err := balancer.Balance(costs, m.NRanks)
	if err != nil {
		return fmt.Errorf("mesh: initial load balance: %w", err)
	}

	blocks := block.NewList()
	for gid, loc := range loclist {
		if assignment.RankList[gid] != m.Rank {
			continue
		}
		size, bcs := blockGeometry(m.Cfg, m.nrbx1, m.nrbx2, m.nrbx3, m.rootLevel, loc)
		b := block.Block{
			Gid: gid, Loc: loc, Size: size, BoundaryKinds: bcs,
			Payload: make([]byte, m.Codec.ByteSize(m.Cfg.BlockNx1, m.Cfg.BlockNx2, m.Cfg.BlockNx3)),
			Cost:    costs[gid],
		}
		lid := blocks.Append(b)
		if gen != nil {
			gen(blocks.At(lid))
		}
	}
	m.Blocks = blocks
	m.Ranklist = assignment.RankList
	amr.RebuildNeighbors(m.Tree, m.Blocks, m.Ranklist, m.Cfg.Refinement == config.RefinementAdaptive, m.FaceOnly)
	return nil
}

// NewTimeStep computes the next dt: the collective minimum of every
// local block's own CFL-limited estimate, capped at twice the previous
// step and clamped so the run never overshoots tlim.
func (m *Mesh) NewTimeStep() (float64, error) {
	localMin := math.MaxFloat64
	m.Blocks.Each(func(b *block.Block) {
		if dt := b.NewBlockTimeStep(m.Codec.NewBlockTimeStep); dt < localMin {
			localMin = dt
		}
	})
	cflDt := localMin * m.Cfg.CFLNumber
	dt := m.World.AllReduceMin(cflDt)
	if math.IsInf(dt, 1) {
		return 0, fmt.Errorf("mesh: no blocks reported a finite timestep")
	}
	if m.Dt > 0 && dt > 2*m.Dt {
		dt = 2 * m.Dt
	}
	if remaining := m.Cfg.Tlim - m.Time; remaining > 0 && dt > remaining {
		dt = remaining
	}
	m.Dt = dt
	return dt, nil
}

// RunAMRCycle executes one adaptive-refinement pass if the problem is
// configured for it, otherwise it is a no-op. Block geometry (physical
// extent, boundary kinds) is recomputed from each surviving block's new
// LogicalLocation, since migration only carries the opaque payload.
func (m *Mesh) RunAMRCycle() error {
	if m.Cfg.Refinement != config.RefinementAdaptive {
		return nil
	}
	oldNbtotal := m.Tree.CountMeshBlock()

	ctx := &amr.Context{
		Tree: m.Tree, Blocks: m.Blocks, Rank: m.Rank, NRanks: m.NRanks,
		World: m.World, Codec: m.Codec, Multilevel: true, FaceOnly: m.FaceOnly,
		BlockNx1: m.Cfg.BlockNx1, BlockNx2: m.Cfg.BlockNx2, BlockNx3: m.Cfg.BlockNx3,
		Ranklist: m.Ranklist,
	}
	result, err := amr.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("mesh: amr cycle: %w", err)
	}

	result.Blocks.Each(func(b *block.Block) {
		b.Size, b.BoundaryKinds = blockGeometry(m.Cfg, m.nrbx1, m.nrbx2, m.nrbx3, m.rootLevel, b.Loc)
	})

	m.Blocks = result.Blocks
	m.Ranklist = result.Ranklist
	amr.RebuildNeighbors(m.Tree, m.Blocks, m.Ranklist, true, m.FaceOnly)

	if m.VerifyTopology {
		if err := m.Tree.VerifyConnectivity(); err != nil {
			return fmt.Errorf("mesh: post-AMR topology check: %w", err)
		}
	}

	if result.DriftWarning && m.Rank == 0 {
		log.Printf("mesh: AMR drift warning: nbtotal %d -> %d (+%d/-%d)", oldNbtotal, m.Tree.CountMeshBlock(), result.Nnew, result.Ndel)
	}
	return nil
}

// CheckConservation sums a conserved-quantity vector (as reported by
// the codec through its payload) across every block this rank owns,
// gathers every rank's partial sum, and returns the per-component drift
// from prior — the value recorded at the last checkpoint. World exposes
// no sum collective, only AllGatherInts/AllReduceMin, so each rank's
// partial sum is carried as a fixed-point-scaled int through
// AllGatherInts (the same encoding amr.aggregate uses for cost) and
// added up locally once gathered.
func (m *Mesh) CheckConservation(reportConserved func(payload []byte) []float64, prior []float64) ([]float64, error) {
	var local []float64
	m.Blocks.Each(func(b *block.Block) {
		c := reportConserved(b.Payload)
		if local == nil {
			local = make([]float64, len(c))
		}
		for i, v := range c {
			local[i] += v
		}
	})
	if local == nil {
		local = make([]float64, len(prior))
	}

	const scale = 1e6
	send := make([]int, len(local))
	for i, v := range local {
		send[i] = int(math.Round(v * scale))
	}
	gathered := m.World.AllGatherInts(send)

	total := make([]float64, len(local))
	for _, rankSend := range gathered {
		for i, enc := range rankSend {
			if i < len(total) {
				total[i] += float64(enc) / scale
			}
		}
	}

	drift := make([]float64, len(total))
	for i := range total {
		if i < len(prior) {
			drift[i] = total[i] - prior[i]
		} else {
			drift[i] = total[i]
		}
	}
	return drift, nil
}

// NewTestMesh builds a Mesh-test view (Athena++'s MeshTest): the tree
// topology and rank assignment for testRanks ranks, without starting
// any real parallel transport. Only topology/load-balance logic can be
// exercised through the result — Blocks is nil and World is nil, so
// NewTimeStep/RunAMRCycle/CheckConservation are not meaningful here.
func NewTestMesh(cfg *config.MeshConfig, testRanks int) (*Mesh, error) {
	dim := cfg.Dim()
	nrbx1 := cfg.Nx1 / cfg.BlockNx1
	nrbx2 := cfg.Nx2 / cfg.BlockNx2
	nrbx3 := cfg.Nx3 / cfg.BlockNx3
	rootLevel := blocktree.RootLevelFor(nrbx1, nrbx2, nrbx3)

	tree := blocktree.CreateRootGrid(dim, nrbx1, nrbx2, nrbx3, cfg.Bcs)
	for _, region := range cfg.Regions {
		if err := refineRegionToLevel(tree, cfg, nrbx1, nrbx2, nrbx3, rootLevel, region); err != nil {
			return nil, err
		}
	}

	loclist, _, _ := tree.GetMeshBlockList()
	costs := make([]float64, len(loclist))
	for i := range costs {
		costs[i] = 1
	}
	assignment, err := balancer.Balance(costs, testRanks)
	if err != nil {
		return nil, fmt.Errorf("mesh: test-mode load balance: %w", err)
	}

	return &Mesh{
		Cfg: cfg, Tree: tree, Rank: 0, NRanks: testRanks,
		nrbx1: nrbx1, nrbx2: nrbx2, nrbx3: nrbx3, rootLevel: rootLevel,
		Ranklist: assignment.RankList, Time: cfg.StartTime,
	}, nil
}

// Restore rebuilds a Mesh from a checkpoint: every rank reads the
// shared header and full index, then RestoreBlocks fetches only the
// payloads of the gids assignment.RankList assigns to this rank —
// the "seekable restore" the on-disk layout exists to support.
func Restore(cfg *config.MeshConfig, hdr checkpoint.Header, index []checkpoint.IndexEntry, payloadBase io.ReaderAt, world transport.World, codec collab.StateCodec, boundary collab.BoundaryExchange) (*Mesh, error) {
	dim := cfg.Dim()
	nrbx1 := cfg.Nx1 / cfg.BlockNx1
	nrbx2 := cfg.Nx2 / cfg.BlockNx2
	nrbx3 := cfg.Nx3 / cfg.BlockNx3
	rootLevel := blocktree.RootLevelFor(nrbx1, nrbx2, nrbx3)

	tree := blocktree.CreateRootGrid(dim, nrbx1, nrbx2, nrbx3, cfg.Bcs)
	for _, e := range index {
		for level := rootLevel; level < e.Loc.Level; level++ {
			ancestor := e.Loc.AncestorAt(level)
			node := tree.Find(ancestor)
			if node == nil || !node.Leaf {
				continue // already split by an earlier index entry's ancestor chain
			}
			var nnew int
			if err := tree.Refine(ancestor, &nnew); err != nil {
				return nil, fmt.Errorf("mesh: restore: rebuild tree: %w", err)
			}
		}
	}
	// Number the rebuilt leaves so neighbor tables can index ranklist by gid.
	tree.GetMeshBlockList()

	costs := make([]float64, len(index))
	for _, e := range index {
		costs[e.Gid] = e.Cost
	}
	assignment, err := balancer.Balance(costs, world.Size())
	if err != nil {
		return nil, fmt.Errorf("mesh: restore: load balance: %w", err)
	}

	var wantGids []int
	for gid, rank := range assignment.RankList {
		if rank == world.Rank() {
			wantGids = append(wantGids, gid)
		}
	}

	restored, err := checkpoint.RestoreBlocks(payloadBase, index, codec, cfg.BlockNx1, cfg.BlockNx2, cfg.BlockNx3, wantGids)
	if err != nil {
		return nil, fmt.Errorf("mesh: restore blocks: %w", err)
	}

	blocks := block.NewList()
	for _, gid := range wantGids {
		b := restored[gid]
		b.Cost = costs[gid]
		blocks.Append(*b)
	}

	m := &Mesh{
		Cfg: cfg, Tree: tree, World: world, Codec: codec, Boundary: boundary,
		Rank: world.Rank(), NRanks: world.Size(),
		nrbx1: nrbx1, nrbx2: nrbx2, nrbx3: nrbx3, rootLevel: rootLevel,
		Blocks: blocks, Ranklist: assignment.RankList,
		Time: hdr.Time, Dt: hdr.Dt, Ncycle: hdr.Ncycle, RunID: hdr.RunID,
	}
	amr.RebuildNeighbors(m.Tree, m.Blocks, m.Ranklist, m.Cfg.Refinement == config.RefinementAdaptive, m.FaceOnly)

	if boundary != nil {
		if err := boundary.Initialize(m); err != nil {
			return nil, fmt.Errorf("mesh: restore: boundary exchange initialize: %w", err)
		}
	}
	return m, nil
}
