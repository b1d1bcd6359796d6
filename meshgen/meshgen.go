// Package meshgen maps a normalized logical coordinate in [0,1] to a
// physical coordinate range via a linear or geometric stretching law,
// grounded on the RegionSize/mesh-generator responsibilities of
// original_source/src/mesh.cpp's SetBlockSizeAndBoundaries.
package meshgen

import (
	"fmt"
	"math"
)

// RegionSize is the per-axis physical extent and stretching ratio.
type RegionSize struct {
	Xmin, Xmax float64
	Nx         int
	Ratio      float64 // 1 = uniform; otherwise geometric, must satisfy |ratio-1|<=0.1
}

// Validate checks that the region's extent, cell count, and stretch ratio are usable.
func (r RegionSize) Validate(axisName string, minNx int) error {
	if r.Xmax <= r.Xmin {
		return fmt.Errorf("meshgen: %s xmax (%g) must exceed xmin (%g)", axisName, r.Xmax, r.Xmin)
	}
	if minNx > 0 && r.Nx < minNx {
		return fmt.Errorf("meshgen: %s nx=%d must be >= %d", axisName, r.Nx, minNx)
	}
	if r.Ratio < 0.9 || r.Ratio > 1.1 {
		return fmt.Errorf("meshgen: %s ratio=%g must satisfy |ratio-1|<=0.1", axisName, r.Ratio)
	}
	return nil
}

// MeshGenerator maps a normalized coordinate r in [0,1] to physical space.
type MeshGenerator struct {
	Size RegionSize
}

// Map returns the physical coordinate for normalized position r in [0,1].
// When Ratio==1 the mapping is linear; otherwise it is geometric, matching
// the stretching law x(r) = xmin + (xmax-xmin) * (ratio^(r*nx) - 1) / (ratio^nx - 1).
func (g MeshGenerator) Map(r float64) float64 {
	size := g.Size
	if size.Ratio == 1.0 {
		return size.Xmin + (size.Xmax-size.Xmin)*r
	}
	n := float64(size.Nx)
	num := math.Pow(size.Ratio, r*n) - 1.0
	den := math.Pow(size.Ratio, n) - 1.0
	return size.Xmin + (size.Xmax-size.Xmin)*num/den
}

// CellFaces returns the nx+1 physical face positions of a uniform or
// geometrically stretched 1D discretization of the full region.
func (g MeshGenerator) CellFaces() []float64 {
	faces := make([]float64, g.Size.Nx+1)
	for i := 0; i <= g.Size.Nx; i++ {
		faces[i] = g.Map(float64(i) / float64(g.Size.Nx))
	}
	return faces
}

// SubRegion returns the RegionSize covering the normalized sub-interval
// [r0,r1] of g's full region, at the requested number of cells. Used to
// compute a block's physical extent from its LogicalLocation's footprint
// within the root mesh.
func (g MeshGenerator) SubRegion(r0, r1 float64, nx int) RegionSize {
	return RegionSize{
		Xmin:  g.Map(r0),
		Xmax:  g.Map(r1),
		Nx:    nx,
		Ratio: stretchedSubRatio(g.Size.Ratio, g.Size.Nx, r0, r1, nx),
	}
}

// stretchedSubRatio derives the ratio a sub-block must use so that its
// own geometric progression exactly reproduces the parent's cell faces
// within [r0,r1]. For a uniform parent the sub-block is uniform too.
func stretchedSubRatio(parentRatio float64, parentNx int, r0, r1 float64, subNx int) float64 {
	if parentRatio == 1.0 {
		return 1.0
	}
	// The parent's per-cell ratio is parentRatio^(1/parentNx); a
	// sub-block spanning the same physical cells keeps that per-cell
	// ratio, raised to however many parent cells each of its own cells covers.
	perCell := math.Pow(parentRatio, 1.0/float64(parentNx))
	cellsSpanned := (r1 - r0) * float64(parentNx)
	cellsPerSubCell := cellsSpanned / float64(subNx)
	return math.Pow(perCell, cellsPerSubCell)
}
