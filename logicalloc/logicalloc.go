// Package logicalloc implements the LogicalLocation coordinate used to
// index the refinement forest: an immutable (level, lx1, lx2, lx3) tuple
// with Morton-like ordering and parent/child arithmetic.
package logicalloc

import "fmt"

// LogicalLocation is an immutable coordinate in the refinement forest.
// For a valid location at level L, each lxN lies in [0, nrbxN*2^(L-rootLevel)).
type LogicalLocation struct {
	Level int
	Lx1   int64
	Lx2   int64
	Lx3   int64
}

// New returns a LogicalLocation, performing no validation beyond the
// caller-supplied values; validation against a concrete root grid is the
// responsibility of BlockTree.
func New(level int, lx1, lx2, lx3 int64) LogicalLocation {
	return LogicalLocation{Level: level, Lx1: lx1, Lx2: lx2, Lx3: lx3}
}

// Root returns the location of the single root-level ancestor coordinate
// (0,0,0) at the given level.
func Root(level int) LogicalLocation {
	return LogicalLocation{Level: level}
}

// Parent returns the location of loc's parent one level coarser.
func (loc LogicalLocation) Parent() LogicalLocation {
	return LogicalLocation{
		Level: loc.Level - 1,
		Lx1:   loc.Lx1 >> 1,
		Lx2:   loc.Lx2 >> 1,
		Lx3:   loc.Lx3 >> 1,
	}
}

// Child returns the location of the child at sub-octant (fx1,fx2,fx3),
// each of which must be 0 or 1 (fx2/fx3 are ignored for degenerate axes
// by convention of the caller, since lx2/lx3 simply stay doubled).
func (loc LogicalLocation) Child(fx1, fx2, fx3 int) LogicalLocation {
	return LogicalLocation{
		Level: loc.Level + 1,
		Lx1:   (loc.Lx1 << 1) | int64(fx1&1),
		Lx2:   (loc.Lx2 << 1) | int64(fx2&1),
		Lx3:   (loc.Lx3 << 1) | int64(fx3&1),
	}
}

// Parity reports, for each axis, whether loc is the "odd" child of its
// parent on that axis (0 or 1). Used to determine which sub-octant of a
// coarser neighbor a block corresponds to.
func (loc LogicalLocation) Parity() (fx1, fx2, fx3 int) {
	return int(loc.Lx1 & 1), int(loc.Lx2 & 1), int(loc.Lx3 & 1)
}

// AncestorAt returns the ancestor of loc at the given coarser (or equal)
// level, by arithmetic right shift of the coordinates.
func (loc LogicalLocation) AncestorAt(level int) LogicalLocation {
	if level >= loc.Level {
		return loc
	}
	shift := uint(loc.Level - level)
	return LogicalLocation{
		Level: level,
		Lx1:   loc.Lx1 >> shift,
		Lx2:   loc.Lx2 >> shift,
		Lx3:   loc.Lx3 >> shift,
	}
}

// Equal reports whether two locations name the same node.
func (loc LogicalLocation) Equal(o LogicalLocation) bool {
	return loc.Level == o.Level && loc.Lx1 == o.Lx1 && loc.Lx2 == o.Lx2 && loc.Lx3 == o.Lx3
}

// IsAncestorOf reports whether loc is a (strict or non-strict) ancestor of o.
func (loc LogicalLocation) IsAncestorOf(o LogicalLocation) bool {
	if loc.Level > o.Level {
		return false
	}
	return loc.Equal(o.AncestorAt(loc.Level))
}

// Greater implements the total order used to sort derefinement candidates
// so that children precede (sort before) their parent: level descending,
// then coordinates ascending. Mirrors LogicalLocation::Greater in the
// original source, preserved so the same candidate ordering applies.
func Greater(a, b LogicalLocation) bool {
	if a.Level != b.Level {
		return a.Level > b.Level
	}
	if a.Lx1 != b.Lx1 {
		return a.Lx1 < b.Lx1
	}
	if a.Lx2 != b.Lx2 {
		return a.Lx2 < b.Lx2
	}
	return a.Lx3 < b.Lx3
}

// Less provides a stable ascending comparator (level ascending, then
// coordinates) suitable for canonical traversal ordering and map keys.
func Less(a, b LogicalLocation) bool {
	if a.Level != b.Level {
		return a.Level < b.Level
	}
	if a.Lx1 != b.Lx1 {
		return a.Lx1 < b.Lx1
	}
	if a.Lx2 != b.Lx2 {
		return a.Lx2 < b.Lx2
	}
	return a.Lx3 < b.Lx3
}

func (loc LogicalLocation) String() string {
	return fmt.Sprintf("L%d(%d,%d,%d)", loc.Level, loc.Lx1, loc.Lx2, loc.Lx3)
}
