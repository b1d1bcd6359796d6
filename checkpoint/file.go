package checkpoint

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/notargets/meshforest/block"
	"github.com/notargets/meshforest/collab"
)

// WriteFile writes a complete checkpoint: the text parameter header,
// the fixed global Header, the per-gid index, and every block's
// payload in gid order. blocks must be indexed by gid and dense over
// [0,hdr.Nbtotal). Every block is assumed to share the same cell
// geometry (bnx1,bnx2,bnx3), so every payload record is the same size
// and the index's offsets can be computed before any payload is
// written — what makes per-rank selective restore possible.
func WriteFile(w io.Writer, paramDoc []byte, hdr Header, blocks []*block.Block, codec collab.StateCodec, bnx1, bnx2, bnx3 int) error {
	if len(blocks) != int(hdr.Nbtotal) {
		return fmt.Errorf("checkpoint: %d blocks but header claims nbtotal=%d", len(blocks), hdr.Nbtotal)
	}

	recordSize := BlockRecordSize(codec.ByteSize(bnx1, bnx2, bnx3))

	// Offsets count from the first byte after the index, the base
	// RestoreBlocks reads from.
	entries := make([]IndexEntry, len(blocks))
	for gid, b := range blocks {
		entries[gid] = IndexEntry{
			Gid:        int32(gid),
			Loc:        b.Loc,
			Cost:       b.Cost,
			ByteOffset: int64(gid) * recordSize,
		}
	}

	bw := bufio.NewWriter(w)
	if err := WriteHeader(bw, paramDoc, hdr); err != nil {
		return err
	}
	if err := WriteIndex(bw, entries); err != nil {
		return fmt.Errorf("checkpoint: write index: %w", err)
	}
	for gid, b := range blocks {
		if b.Gid != gid {
			return fmt.Errorf("checkpoint: blocks[%d] carries gid %d", gid, b.Gid)
		}
		if err := WriteBlockPayload(bw, b, codec); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// RestoreBlocks reads the index then, for each requested gid, seeks
// directly to its payload record and reads only that — the "seekable"
// restore the layout exists to support. payloadBase must ReaderAt the
// byte immediately following the index (i.e. the caller has already
// read the text header + Header and knows nbtotal).
func RestoreBlocks(payloadBase io.ReaderAt, index []IndexEntry, codec collab.StateCodec, bnx1, bnx2, bnx3 int, wantGids []int) (map[int]*block.Block, error) {
	payloadSize := codec.ByteSize(bnx1, bnx2, bnx3)
	recordSize := BlockRecordSize(payloadSize)

	out := make(map[int]*block.Block, len(wantGids))
	for _, gid := range wantGids {
		if gid < 0 || gid >= len(index) {
			return nil, fmt.Errorf("checkpoint: gid %d out of range of index (n=%d)", gid, len(index))
		}
		entry := index[gid]
		buf := make([]byte, recordSize)
		if _, err := payloadBase.ReadAt(buf, entry.ByteOffset); err != nil && err != io.EOF {
			return nil, fmt.Errorf("checkpoint: read payload for gid %d: %w", gid, err)
		}
		b, err := ReadBlockPayload(bytes.NewReader(buf), codec, payloadSize)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: gid %d: %w", gid, err)
		}
		b.Gid = gid
		b.Loc = entry.Loc
		b.Cost = entry.Cost
		out[gid] = b
	}
	return out, nil
}
