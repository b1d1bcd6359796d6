// Package checkpoint implements the seekable binary checkpoint layout:
// a text parameter header terminated by a `<par_end>` marker, a global
// header, a per-gid index, and per-block payloads. Grounded on the
// fixed-width binary layouts catio.BinaryReader (phil-mansfield-guppy,
// pack) uses for its own seekable particle snapshots, with the section
// shape taken from Mesh::restart in original_source/src/mesh.cpp.
package checkpoint

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/notargets/meshforest/blocktree"
	"github.com/notargets/meshforest/config"
	"github.com/notargets/meshforest/logicalloc"
)

var byteOrder = binary.LittleEndian

// Header is the fixed-size global header, written once by rank 0.
type Header struct {
	RunID     uuid.UUID
	Nbtotal   int32
	RootLevel int32
	Nx1, Nx2, Nx3 int32
	Bcs       [6]int32
	Time      float64
	Dt        float64
	Ncycle    int64
}

// IndexEntry locates one block's payload within the checkpoint file.
type IndexEntry struct {
	Gid        int32
	Loc        logicalloc.LogicalLocation
	Cost       float64
	ByteOffset int64
}

const headerSize = 16 /*uuid*/ + 4*5 /*nbtotal,rootLevel,nx1,nx2,nx3*/ + 4*6 /*bcs*/ + 8 + 8 + 8
const indexEntrySize = 4 /*gid*/ + 4 + 8*3 /*loc: level int32 + lx1,2,3 int64*/ + 8 /*cost*/ + 8 /*offset*/

// WriteHeader writes the text parameter header (a verbatim copy of the
// document config.Load accepts, terminated by <par_end>) followed by
// the fixed-width global Header.
func WriteHeader(w io.Writer, paramDoc []byte, hdr Header) error {
	if _, err := w.Write(paramDoc); err != nil {
		return fmt.Errorf("checkpoint: write parameter header: %w", err)
	}
	runID, _ := hdr.RunID.MarshalBinary()
	if _, err := w.Write(runID); err != nil {
		return err
	}
	fields := []int32{hdr.Nbtotal, hdr.RootLevel, hdr.Nx1, hdr.Nx2, hdr.Nx3}
	for _, f := range fields {
		if err := binary.Write(w, byteOrder, f); err != nil {
			return err
		}
	}
	for _, bc := range hdr.Bcs {
		if err := binary.Write(w, byteOrder, bc); err != nil {
			return err
		}
	}
	if err := binary.Write(w, byteOrder, hdr.Time); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, hdr.Dt); err != nil {
		return err
	}
	return binary.Write(w, byteOrder, hdr.Ncycle)
}

// ReadHeader reads back exactly what WriteHeader produced for the
// binary portion; the caller is responsible for having already
// consumed the text parameter header up through <par_end> (typically
// via config.Load, which stops there).
func ReadHeader(r io.Reader) (Header, error) {
	var hdr Header
	runID := make([]byte, 16)
	if _, err := io.ReadFull(r, runID); err != nil {
		return hdr, fmt.Errorf("checkpoint: truncated header: %w", err)
	}
	if err := hdr.RunID.UnmarshalBinary(runID); err != nil {
		return hdr, fmt.Errorf("checkpoint: malformed run id: %w", err)
	}
	fields := []*int32{&hdr.Nbtotal, &hdr.RootLevel, &hdr.Nx1, &hdr.Nx2, &hdr.Nx3}
	for _, f := range fields {
		if err := binary.Read(r, byteOrder, f); err != nil {
			return hdr, fmt.Errorf("checkpoint: truncated header: %w", err)
		}
	}
	for i := range hdr.Bcs {
		if err := binary.Read(r, byteOrder, &hdr.Bcs[i]); err != nil {
			return hdr, fmt.Errorf("checkpoint: truncated header: %w", err)
		}
	}
	if err := binary.Read(r, byteOrder, &hdr.Time); err != nil {
		return hdr, fmt.Errorf("checkpoint: truncated header: %w", err)
	}
	if err := binary.Read(r, byteOrder, &hdr.Dt); err != nil {
		return hdr, fmt.Errorf("checkpoint: truncated header: %w", err)
	}
	if err := binary.Read(r, byteOrder, &hdr.Ncycle); err != nil {
		return hdr, fmt.Errorf("checkpoint: truncated header: %w", err)
	}
	return hdr, nil
}

func bcsToInt32(bcs [6]blocktree.BoundaryKind) [6]int32 {
	var out [6]int32
	for i, b := range bcs {
		out[i] = int32(b)
	}
	return out
}

// BcsFromInt32 converts a header's raw boundary-kind ints back to
// blocktree.BoundaryKind.
func BcsFromInt32(raw [6]int32) [6]blocktree.BoundaryKind {
	var out [6]blocktree.BoundaryKind
	for i, v := range raw {
		out[i] = blocktree.BoundaryKind(v)
	}
	return out
}

// HeaderFromConfig builds a Header's mesh-shape fields from a validated
// MeshConfig plus the given run id, root level and block count;
// Time/Dt/Ncycle are left zero for the caller to fill in.
func HeaderFromConfig(runID uuid.UUID, cfg *config.MeshConfig, rootLevel, nbtotal int) Header {
	return Header{
		RunID:     runID,
		Nbtotal:   int32(nbtotal),
		RootLevel: int32(rootLevel),
		Nx1:       int32(cfg.Nx1), Nx2: int32(cfg.Nx2), Nx3: int32(cfg.Nx3),
		Bcs: bcsToInt32(cfg.Bcs),
	}
}

// WriteIndex writes the per-gid index (gid, LogicalLocation, cost,
// byte-offset-to-payload) in gid order.
func WriteIndex(w io.Writer, entries []IndexEntry) error {
	for _, e := range entries {
		if err := binary.Write(w, byteOrder, e.Gid); err != nil {
			return err
		}
		if err := binary.Write(w, byteOrder, int32(e.Loc.Level)); err != nil {
			return err
		}
		for _, lx := range []int64{e.Loc.Lx1, e.Loc.Lx2, e.Loc.Lx3} {
			if err := binary.Write(w, byteOrder, lx); err != nil {
				return err
			}
		}
		if err := binary.Write(w, byteOrder, e.Cost); err != nil {
			return err
		}
		if err := binary.Write(w, byteOrder, e.ByteOffset); err != nil {
			return err
		}
	}
	return nil
}

// ReadIndex reads n index entries.
func ReadIndex(r io.Reader, n int) ([]IndexEntry, error) {
	entries := make([]IndexEntry, n)
	for i := range entries {
		var gid, level int32
		var lx1, lx2, lx3 int64
		var cost float64
		var offset int64
		if err := binary.Read(r, byteOrder, &gid); err != nil {
			return nil, fmt.Errorf("checkpoint: truncated index at entry %d: %w", i, err)
		}
		if err := binary.Read(r, byteOrder, &level); err != nil {
			return nil, fmt.Errorf("checkpoint: truncated index at entry %d: %w", i, err)
		}
		for _, lx := range []*int64{&lx1, &lx2, &lx3} {
			if err := binary.Read(r, byteOrder, lx); err != nil {
				return nil, fmt.Errorf("checkpoint: truncated index at entry %d: %w", i, err)
			}
		}
		if err := binary.Read(r, byteOrder, &cost); err != nil {
			return nil, fmt.Errorf("checkpoint: truncated index at entry %d: %w", i, err)
		}
		if err := binary.Read(r, byteOrder, &offset); err != nil {
			return nil, fmt.Errorf("checkpoint: truncated index at entry %d: %w", i, err)
		}
		entries[i] = IndexEntry{
			Gid:        gid,
			Loc:        logicalloc.New(int(level), lx1, lx2, lx3),
			Cost:       cost,
			ByteOffset: offset,
		}
	}
	return entries, nil
}

// IndexEntrySize returns the on-disk size of one IndexEntry, used by
// callers computing byte offsets before the index itself is written.
func IndexEntrySize() int64 { return indexEntrySize }
