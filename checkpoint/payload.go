package checkpoint

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/notargets/meshforest/block"
	"github.com/notargets/meshforest/blocktree"
	"github.com/notargets/meshforest/collab"
)

// perAxisRegionFields is the number of RegionSize fields written per
// axis in the per-block geometry prefix ahead of a block's codec-owned
// payload: three float64 reals (xmin, xmax, ratio) and one int32 (nx).
// The prefix also carries boundary-kind[6] as int32.
const perAxisRegionFields = 4 // xmin,xmax,nx,ratio

// WriteBlockPayload writes one block's on-disk record: its geometry
// prefix (RegionSize x3, boundary-kind[6]) followed by the codec's
// serialized state.
func WriteBlockPayload(w io.Writer, b *block.Block, codec collab.StateCodec) error {
	for axis := 0; axis < 3; axis++ {
		r := b.Size[axis]
		if err := writeReal(w, r.Xmin); err != nil {
			return err
		}
		if err := writeReal(w, r.Xmax); err != nil {
			return err
		}
		if err := writeInt32(w, int32(r.Nx)); err != nil {
			return err
		}
		if err := writeReal(w, r.Ratio); err != nil {
			return err
		}
	}
	for _, bc := range b.BoundaryKinds {
		if err := writeInt32(w, int32(bc)); err != nil {
			return err
		}
	}
	if err := codec.Serialize(b.Payload, w); err != nil {
		return fmt.Errorf("checkpoint: serialize block %d: %w", b.Gid, err)
	}
	return nil
}

// ReadBlockPayload reads one block record written by WriteBlockPayload
// into a freshly allocated Block, given the payload's known byte size.
func ReadBlockPayload(r io.Reader, codec collab.StateCodec, payloadSize int) (*block.Block, error) {
	var b block.Block
	for axis := 0; axis < 3; axis++ {
		xmin, err := readReal(r)
		if err != nil {
			return nil, err
		}
		xmax, err := readReal(r)
		if err != nil {
			return nil, err
		}
		nx, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		ratio, err := readReal(r)
		if err != nil {
			return nil, err
		}
		b.Size[axis].Xmin, b.Size[axis].Xmax = xmin, xmax
		b.Size[axis].Nx = int(nx)
		b.Size[axis].Ratio = ratio
	}
	for i := range b.BoundaryKinds {
		v, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		b.BoundaryKinds[i] = blocktree.BoundaryKind(v)
	}
	b.Payload = make([]byte, payloadSize)
	if err := codec.Deserialize(b.Payload, io.LimitReader(r, int64(payloadSize))); err != nil {
		return nil, fmt.Errorf("checkpoint: deserialize block payload: %w", err)
	}
	return &b, nil
}

// BlockRecordSize returns the total on-disk size of one block record
// for a codec whose state is payloadSize bytes.
func BlockRecordSize(payloadSize int) int64 {
	return int64(3*((perAxisRegionFields-1)*8+4) + 6*4 + payloadSize)
}

func writeReal(w io.Writer, v float64) error { return binary.Write(w, byteOrder, v) }
func writeInt32(w io.Writer, v int32) error  { return binary.Write(w, byteOrder, v) }

func readReal(r io.Reader) (float64, error) {
	var v float64
	err := binary.Read(r, byteOrder, &v)
	return v, err
}
func readInt32(r io.Reader) (int32, error) {
	var v int32
	err := binary.Read(r, byteOrder, &v)
	return v, err
}
