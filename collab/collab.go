// Package collab declares the external collaborator interfaces the core
// consumes without implementing: the physics solver, coordinate/geometry
// module, and ghost-zone boundary exchange.
package collab

import "io"

// CellBounds names an inclusive index range [Is,Ie]x[Js,Je]x[Ks,Ke] over
// a block's cell-centered or face-centered storage, the same shape as
// the is/ie/js/je/ks/ke bounds threaded through original_source's
// BufferUtility::Pack*Data calls.
type CellBounds struct {
	Is, Ie int
	Js, Je int
	Ks, Ke int
}

// StateCodec is the polymorphic capability set a block's opaque payload
// must provide: it knows its own wire size and how to
// serialize, restrict, and prolong itself, without the core switching on
// a compile-time "has magnetic fields" flag.
type StateCodec interface {
	// ByteSize returns the number of bytes a block's Payload occupies for a
	// block of the given cell dimensions.
	ByteSize(bnx1, bnx2, bnx3 int) int

	Serialize(payload []byte, w io.Writer) error
	Deserialize(payload []byte, r io.Reader) error

	RestrictCellCentered(fine, coarse []byte, bounds CellBounds) error
	RestrictFieldX1(fine, coarse []byte, bounds CellBounds) error
	RestrictFieldX2(fine, coarse []byte, bounds CellBounds) error
	RestrictFieldX3(fine, coarse []byte, bounds CellBounds) error

	ProlongateCellCentered(coarse, fine []byte, bounds CellBounds) error
	ProlongateSharedFieldX1(coarse, fine []byte, bounds CellBounds) error
	ProlongateSharedFieldX2(coarse, fine []byte, bounds CellBounds) error
	ProlongateSharedFieldX3(coarse, fine []byte, bounds CellBounds) error
	ProlongateInternalField(fine []byte, bounds CellBounds) error

	// NewBlockTimeStep computes the block's own dt estimate from its payload.
	NewBlockTimeStep(payload []byte) float64

	// HasFaceField reports whether this codec carries a face-centered
	// field (e.g. magnetic field); buffer-size computations use it
	// instead of a compile-time MAGNETIC_FIELDS_ENABLED switch.
	HasFaceField() bool
}

// ProblemGenerator initializes a block's state at t = start_time. The
// block argument is passed as `any` to avoid an import cycle with
// package block; implementations type-assert to *block.Block.
type ProblemGenerator func(block any)

// RefinementFlag is the user predicate that drives AMR: -1 (derefine),
// 0 (no change), +1 (refine).
type RefinementFlag func(block any) int8

// BoundaryExchange is the ghost-zone exchange handle threaded through
// Mesh construction and AMR Phase G finalize.
type BoundaryExchange interface {
	Initialize(mesh any) error
	Start() error
	Send() error
	ReceiveWithWait() error
	Clear() error
	ApplyPhysicalBoundaries(block any) error
}
