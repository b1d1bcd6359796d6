package amr

import (
	"fmt"

	"github.com/notargets/meshforest/balancer"
	"github.com/notargets/meshforest/block"
	"github.com/notargets/meshforest/collab"
	"github.com/notargets/meshforest/logicalloc"
	"github.com/notargets/meshforest/transport"
)

// quadrantBounds returns the sub-range of a bnx1 x bnx2 x bnx3 block's
// index space corresponding to octant (fx1,fx2,fx3): the lower half of
// an axis when the bit is 0, the upper half when it is 1. Axes with
// bnx==1 (degenerate) always span the full (single-cell) range.
func quadrantBounds(fx1, fx2, fx3, bnx1, bnx2, bnx3 int) collab.CellBounds {
	half := func(n, fx int) (lo, hi int) {
		if n <= 1 {
			return 0, n - 1
		}
		h := n / 2
		if fx == 0 {
			return 0, h - 1
		}
		return h, n - 1
	}
	is, ie := half(bnx1, fx1)
	js, je := half(bnx2, fx2)
	ks, ke := half(bnx3, fx3)
	return collab.CellBounds{Is: is, Ie: ie, Js: js, Je: je, Ks: ks, Ke: ke}
}

// restrictInto writes fine's restriction into the bounds-designated
// quadrant of out, leaving the rest of out untouched — the building
// block both a single-old-leaf restrict (transformPayload) and a
// multi-sibling derefine merge (migrate) use to fill one leaf's worth
// of coarse data one contributing quadrant at a time.
func restrictInto(codec collab.StateCodec, fine []byte, bounds collab.CellBounds, out []byte) error {
	if err := codec.RestrictCellCentered(fine, out, bounds); err != nil {
		return err
	}
	if codec.HasFaceField() {
		if err := codec.RestrictFieldX1(fine, out, bounds); err != nil {
			return err
		}
		if err := codec.RestrictFieldX2(fine, out, bounds); err != nil {
			return err
		}
		if err := codec.RestrictFieldX3(fine, out, bounds); err != nil {
			return err
		}
	}
	return nil
}

// octantOf decodes a contiguous sibling index (0..NumChildren(dim)-1,
// assigned in the same ascending order blocktree.splitLeaf creates
// children in) into its per-axis child selector, the inverse of the
// bit-packing splitLeaf itself uses.
func octantOf(idx, dim int) (fx1, fx2, fx3 int) {
	fx1 = idx & 1
	if dim >= 2 {
		fx2 = (idx >> 1) & 1
	}
	if dim >= 3 {
		fx3 = (idx >> 2) & 1
	}
	return fx1, fx2, fx3
}

// transformPayload adapts old's payload to the geometry newLoc names:
// unchanged for a same-level ("same") transfer, prolonged from the one
// coarser parent for c2f, or restricted from the one old leaf named by
// oldLoc for f2c. A leaf produced by Derefine merges more than one old
// sibling and is handled separately in migrate, which calls
// restrictInto once per surviving sibling into a shared buffer instead
// of this function.
func transformPayload(codec collab.StateCodec, payload []byte, oldLevel int, newLoc logicalloc.LogicalLocation, oldLoc logicalloc.LogicalLocation, bnx1, bnx2, bnx3 int) ([]byte, error) {
	switch {
	case newLoc.Level == oldLevel:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil

	case newLoc.Level > oldLevel:
		fx1, fx2, fx3 := newLoc.Parity()
		bounds := quadrantBounds(fx1, fx2, fx3, bnx1, bnx2, bnx3)
		out := make([]byte, codec.ByteSize(bnx1, bnx2, bnx3))
		if err := codec.ProlongateCellCentered(payload, out, bounds); err != nil {
			return nil, fmt.Errorf("amr: prolong to %s: %w", newLoc, err)
		}
		if codec.HasFaceField() {
			if err := codec.ProlongateSharedFieldX1(payload, out, bounds); err != nil {
				return nil, err
			}
			if err := codec.ProlongateSharedFieldX2(payload, out, bounds); err != nil {
				return nil, err
			}
			if err := codec.ProlongateSharedFieldX3(payload, out, bounds); err != nil {
				return nil, err
			}
			if err := codec.ProlongateInternalField(out, bounds); err != nil {
				return nil, err
			}
		}
		return out, nil

	default: // newLoc.Level < oldLevel: f2c
		fx1, fx2, fx3 := oldLoc.Parity()
		bounds := quadrantBounds(fx1, fx2, fx3, bnx1, bnx2, bnx3)
		out := make([]byte, codec.ByteSize(bnx1, bnx2, bnx3))
		if err := restrictInto(codec, payload, bounds, out); err != nil {
			return nil, fmt.Errorf("amr: restrict from %s: %w", oldLoc, err)
		}
		return out, nil
	}
}

// migrate is Phase F: classify every new leaf's relationship to its
// pre-cycle provenance, apply the same/f2c/c2f transform, and move
// payload data — posting all receives first, then all sends,
// performing same-rank transfers locally, and finally waiting on every
// outstanding handle. This ordering avoids a deadlock where two ranks
// each block on a send before either has posted its matching receive.
//
// A leaf with sourceCount[newGid] == 1 has exactly one old source (an
// untouched leaf or a Refine child) and is transformed at the sending
// side, as before. A leaf with sourceCount[newGid] > 1 was produced by
// Derefine and merges that many contiguous old sibling gids
// (newToOld[newGid] .. newToOld[newGid]+sourceCount[newGid]-1): each
// surviving sibling ships its own raw payload, and the owning rank
// restricts every sibling's contribution into its own quadrant of one
// shared output buffer, so the coarsened block's full extent is
// populated instead of just its lowest-gid child's.
func migrate(ctx *Context, loclist []logicalloc.LogicalLocation, newToOld []int, sourceCount []int, assignment balancer.Assignment) (*block.List, error) {
	oldByGid := make(map[int]*block.Block, ctx.Blocks.Len())
	ctx.Blocks.Each(func(b *block.Block) { oldByGid[b.Gid] = b })

	type pendingSingle struct {
		newGid int
		handle transport.RecvHandle
	}
	type pendingMerge struct {
		newGid, idx int
		handle      transport.RecvHandle
	}

	newBlocks := block.NewList()
	newOwned := make(map[int]bool)
	for newGid, rank := range assignment.RankList {
		if rank == ctx.Rank {
			newOwned[newGid] = true
		}
	}

	bufSize := ctx.Codec.ByteSize(ctx.BlockNx1, ctx.BlockNx2, ctx.BlockNx3)
	dim := ctx.Tree.Dim

	mergeOut := make(map[int][]byte)

	var singleRecvs []pendingSingle
	var mergeRecvs []pendingMerge
	for newGid := range loclist {
		if !newOwned[newGid] {
			continue
		}
		oldGid := newToOld[newGid]
		n := sourceCount[newGid]
		if n == 1 {
			srcRank := ctx.Ranklist[oldGid]
			if srcRank == ctx.Rank {
				continue
			}
			tag := migrationTag(oldGid, newGid)
			singleRecvs = append(singleRecvs, pendingSingle{newGid: newGid, handle: ctx.World.IRecv(srcRank, tag, bufSize)})
			continue
		}

		out := make([]byte, bufSize)
		for idx := 0; idx < n; idx++ {
			siblingGid := oldGid + idx
			fx1, fx2, fx3 := octantOf(idx, dim)
			bounds := quadrantBounds(fx1, fx2, fx3, ctx.BlockNx1, ctx.BlockNx2, ctx.BlockNx3)
			srcRank := ctx.Ranklist[siblingGid]
			if srcRank != ctx.Rank {
				tag := migrationTag(siblingGid, newGid)
				mergeRecvs = append(mergeRecvs, pendingMerge{newGid: newGid, idx: idx, handle: ctx.World.IRecv(srcRank, tag, bufSize)})
				continue
			}
			src, ok := oldByGid[siblingGid]
			if !ok {
				return nil, fmt.Errorf("amr: migration missing local sibling gid %d for merged leaf %d", siblingGid, newGid)
			}
			if err := restrictInto(ctx.Codec, src.Payload, bounds, out); err != nil {
				return nil, fmt.Errorf("amr: restrict sibling %d into merged leaf %d: %w", siblingGid, newGid, err)
			}
		}
		mergeOut[newGid] = out
	}

	var sends []transport.SendHandle
	var sendErr error
	ctx.Blocks.Each(func(b *block.Block) {
		if sendErr != nil {
			return
		}
		for newGid, oldGid := range newToOld {
			n := sourceCount[newGid]
			if b.Gid < oldGid || b.Gid >= oldGid+n {
				continue
			}
			dstRank := assignment.RankList[newGid]
			if dstRank == ctx.Rank {
				continue
			}
			if n == 1 {
				transformed, err := transformPayload(ctx.Codec, b.Payload, b.Loc.Level, loclist[newGid], b.Loc, ctx.BlockNx1, ctx.BlockNx2, ctx.BlockNx3)
				if err != nil {
					sendErr = err
					return
				}
				tag := migrationTag(oldGid, newGid)
				sends = append(sends, ctx.World.ISend(dstRank, tag, transformed))
				continue
			}
			// Merge case: ship this sibling's raw payload; the owning
			// rank restricts it into its own quadrant on arrival.
			raw := append([]byte(nil), b.Payload...)
			tag := migrationTag(b.Gid, newGid)
			sends = append(sends, ctx.World.ISend(dstRank, tag, raw))
		}
	})
	if sendErr != nil {
		return nil, sendErr
	}

	for newGid := range loclist {
		if !newOwned[newGid] || sourceCount[newGid] != 1 {
			continue
		}
		oldGid := newToOld[newGid]
		if ctx.Ranklist[oldGid] != ctx.Rank {
			continue
		}
		src := oldByGid[oldGid]
		transformed, err := transformPayload(ctx.Codec, src.Payload, src.Loc.Level, loclist[newGid], src.Loc, ctx.BlockNx1, ctx.BlockNx2, ctx.BlockNx3)
		if err != nil {
			return nil, err
		}
		newBlocks.Append(block.Block{
			Gid:           newGid,
			Loc:           loclist[newGid],
			BoundaryKinds: src.BoundaryKinds,
			Size:          src.Size,
			Payload:       transformed,
			Cost:          src.Cost,
			RefineFlag:    0,
		})
	}

	for _, p := range singleRecvs {
		payload, err := p.handle.Wait()
		if err != nil {
			return nil, fmt.Errorf("amr: migration recv for new gid %d: %w", p.newGid, err)
		}
		newBlocks.Append(block.Block{
			Gid:        p.newGid,
			Loc:        loclist[p.newGid],
			Payload:    payload,
			RefineFlag: 0,
		})
	}

	for _, p := range mergeRecvs {
		raw, err := p.handle.Wait()
		if err != nil {
			return nil, fmt.Errorf("amr: migration merge recv for new gid %d: %w", p.newGid, err)
		}
		fx1, fx2, fx3 := octantOf(p.idx, dim)
		bounds := quadrantBounds(fx1, fx2, fx3, ctx.BlockNx1, ctx.BlockNx2, ctx.BlockNx3)
		if err := restrictInto(ctx.Codec, raw, bounds, mergeOut[p.newGid]); err != nil {
			return nil, fmt.Errorf("amr: restrict received sibling into merged leaf %d: %w", p.newGid, err)
		}
	}

	for newGid, out := range mergeOut {
		newBlocks.Append(block.Block{
			Gid:        newGid,
			Loc:        loclist[newGid],
			Payload:    out,
			RefineFlag: 0,
		})
	}

	for _, s := range sends {
		if err := s.Wait(); err != nil {
			return nil, fmt.Errorf("amr: migration send: %w", err)
		}
	}

	return newBlocks, nil
}

// migrationTag packs an (oldGid,newGid) pair into a single tag so the
// matching ISend/IRecv pair never collides with another in-flight
// transfer within the same cycle.
func migrationTag(oldGid, newGid int) int {
	return oldGid*1_000_003 + newGid
}
