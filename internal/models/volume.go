package models

import (
	"fmt"
	"math"

	"golang.org/x/exp/constraints"
)

// Pixel is the set of scalar types a Volume can hold
type Pixel interface {
	constraints.Integer | constraints.Float
}

// Geometry describes the index grid and physical layout of an N-dimensional image
type Geometry struct {
	// Size is the number of voxels along each axis. Axis 0 varies fastest in memory.
	Size []int

	// Spacing is the physical distance between neighbouring voxels along each axis
	Spacing []float64

	// Origin is the physical position of the first voxel
	Origin []float64
}

// NewGeometry creates a geometry with unit spacing and zero origin
func NewGeometry(size ...int) Geometry {
	g := Geometry{
		Size:    append([]int(nil), size...),
		Spacing: make([]float64, len(size)),
		Origin:  make([]float64, len(size)),
	}
	for i := range g.Spacing {
		g.Spacing[i] = 1.0
	}
	return g
}

// Dimension returns the number of spatial axes
func (g Geometry) Dimension() int {
	return len(g.Size)
}

// NumberOfVoxels returns the product of the axis sizes
func (g Geometry) NumberOfVoxels() int {
	if len(g.Size) == 0 {
		return 0
	}
	n := 1
	for _, s := range g.Size {
		n *= s
	}
	return n
}

// Strides returns the memory step between neighbouring voxels along each axis
func (g Geometry) Strides() []int {
	strides := make([]int, len(g.Size))
	step := 1
	for i, s := range g.Size {
		strides[i] = step
		step *= s
	}
	return strides
}

// LargestRegion returns the region covering the whole index grid
func (g Geometry) LargestRegion() Region {
	return Region{
		Index: make([]int, len(g.Size)),
		Size:  append([]int(nil), g.Size...),
	}
}

// Clone returns a deep copy of the geometry
func (g Geometry) Clone() Geometry {
	return Geometry{
		Size:    append([]int(nil), g.Size...),
		Spacing: append([]float64(nil), g.Spacing...),
		Origin:  append([]float64(nil), g.Origin...),
	}
}

// SameGrid reports whether two geometries share size, spacing and origin
func (g Geometry) SameGrid(o Geometry) bool {
	if len(g.Size) != len(o.Size) || len(g.Spacing) != len(o.Spacing) || len(g.Origin) != len(o.Origin) {
		return false
	}
	for i := range g.Size {
		if g.Size[i] != o.Size[i] {
			return false
		}
	}
	for i := range g.Spacing {
		if g.Spacing[i] != o.Spacing[i] {
			return false
		}
	}
	for i := range g.Origin {
		if g.Origin[i] != o.Origin[i] {
			return false
		}
	}
	return true
}

// Validate checks that the geometry describes a non-empty grid with positive spacing
func (g Geometry) Validate() error {
	d := len(g.Size)
	if d == 0 {
		return fmt.Errorf("%w: geometry has no axes", ErrConfiguration)
	}
	if len(g.Spacing) != d || len(g.Origin) != d {
		return fmt.Errorf("%w: geometry has %d axes but %d spacings and %d origins",
			ErrConfiguration, d, len(g.Spacing), len(g.Origin))
	}
	for i := 0; i < d; i++ {
		if g.Size[i] <= 0 {
			return fmt.Errorf("%w: size along axis %d is %d", ErrInsufficientData, i, g.Size[i])
		}
		if !(g.Spacing[i] > 0) || math.IsInf(g.Spacing[i], 0) {
			return fmt.Errorf("%w: spacing along axis %d is %g", ErrConfiguration, i, g.Spacing[i])
		}
	}
	return nil
}

// Image is a scalar image the pipeline can read as real values
// regardless of its stored pixel type
type Image interface {
	// Geometry returns the grid of the image
	Geometry() Geometry

	// ReadReal converts every voxel to float64 into dst, which must hold
	// NumberOfVoxels values
	ReadReal(dst []float64) error
}

// Volume is a dense N-dimensional image with voxels of type T stored
// in a single slice with axis 0 varying fastest
type Volume[T Pixel] struct {
	// Grid holds size, spacing and origin of the volume
	Grid Geometry

	// Data holds the voxel values
	Data []T
}

// NewVolume allocates a zero-filled volume on the given geometry
func NewVolume[T Pixel](g Geometry) *Volume[T] {
	return &Volume[T]{
		Grid: g.Clone(),
		Data: make([]T, g.NumberOfVoxels()),
	}
}

// WrapVolume creates a volume that takes ownership of an existing buffer
func WrapVolume[T Pixel](g Geometry, data []T) (*Volume[T], error) {
	if len(data) != g.NumberOfVoxels() {
		return nil, fmt.Errorf("%w: buffer holds %d values, geometry needs %d",
			ErrAllocation, len(data), g.NumberOfVoxels())
	}
	return &Volume[T]{Grid: g.Clone(), Data: data}, nil
}

// Geometry returns the grid of the volume
func (v *Volume[T]) Geometry() Geometry {
	return v.Grid
}

// ReadReal converts the voxels to float64
func (v *Volume[T]) ReadReal(dst []float64) error {
	if len(dst) != len(v.Data) {
		return fmt.Errorf("%w: destination holds %d values, volume has %d",
			ErrAllocation, len(dst), len(v.Data))
	}
	for i, p := range v.Data {
		dst[i] = float64(p)
	}
	return nil
}

// Offset converts an N-dimensional index to the position in Data
func (v *Volume[T]) Offset(idx ...int) int {
	off := 0
	step := 1
	for i, s := range v.Grid.Size {
		off += idx[i] * step
		step *= s
	}
	return off
}

// At returns the voxel at the given index
func (v *Volume[T]) At(idx ...int) T {
	return v.Data[v.Offset(idx...)]
}

// Set stores a voxel at the given index
func (v *Volume[T]) Set(value T, idx ...int) {
	v.Data[v.Offset(idx...)] = value
}

// IndexOf converts a position in Data back to an N-dimensional index
func (g Geometry) IndexOf(offset int) []int {
	idx := make([]int, len(g.Size))
	for i, s := range g.Size {
		idx[i] = offset % s
		offset /= s
	}
	return idx
}

// PhysicalPoint returns the physical coordinates of an index
func (g Geometry) PhysicalPoint(idx []int) []float64 {
	p := make([]float64, len(idx))
	for i := range idx {
		p[i] = g.Origin[i] + float64(idx[i])*g.Spacing[i]
	}
	return p
}
