package models

import "fmt"

// Region is an axis-aligned box in index space. It is the unit of work
// handed to one worker of a parallel stage.
type Region struct {
	// Index is the first voxel of the box along each axis
	Index []int

	// Size is the extent of the box along each axis
	Size []int
}

// NumberOfVoxels returns the number of voxels inside the region
func (r Region) NumberOfVoxels() int {
	if len(r.Size) == 0 {
		return 0
	}
	n := 1
	for _, s := range r.Size {
		n *= s
	}
	return n
}

// Equal reports whether two regions describe the same box
func (r Region) Equal(o Region) bool {
	if len(r.Index) != len(o.Index) || len(r.Size) != len(o.Size) {
		return false
	}
	for i := range r.Index {
		if r.Index[i] != o.Index[i] || r.Size[i] != o.Size[i] {
			return false
		}
	}
	return true
}

// IsInside reports whether the region lies completely within other
func (r Region) IsInside(other Region) bool {
	if len(r.Index) != len(other.Index) {
		return false
	}
	for i := range r.Index {
		if r.Index[i] < other.Index[i] || r.Index[i]+r.Size[i] > other.Index[i]+other.Size[i] {
			return false
		}
	}
	return true
}

// ContainsIndex reports whether an index lies within the region
func (r Region) ContainsIndex(idx []int) bool {
	for i := range r.Index {
		if idx[i] < r.Index[i] || idx[i] >= r.Index[i]+r.Size[i] {
			return false
		}
	}
	return true
}

// Crop returns the intersection of the region with other.
// The second result is false when they do not overlap.
func (r Region) Crop(other Region) (Region, bool) {
	out := Region{Index: make([]int, len(r.Index)), Size: make([]int, len(r.Size))}
	for i := range r.Index {
		lo := max(r.Index[i], other.Index[i])
		hi := min(r.Index[i]+r.Size[i], other.Index[i]+other.Size[i])
		if hi <= lo {
			return Region{}, false
		}
		out.Index[i] = lo
		out.Size[i] = hi - lo
	}
	return out, true
}

func (r Region) String() string {
	return fmt.Sprintf("Region{Index: %v, Size: %v}", r.Index, r.Size)
}

// SplitRegion divides a region into at most n disjoint pieces whose union
// is the original region. Pieces are slabs along the outermost axis with
// more than one voxel, so each piece is contiguous in memory when the
// region spans the whole image.
func SplitRegion(r Region, n int) []Region {
	if n < 1 {
		n = 1
	}
	if r.NumberOfVoxels() == 0 {
		return nil
	}

	// Find the outermost axis that can actually be split
	axis := len(r.Size) - 1
	for axis > 0 && r.Size[axis] == 1 {
		axis--
	}

	extent := r.Size[axis]
	perPiece := (extent + n - 1) / n
	pieces := (extent + perPiece - 1) / perPiece

	regions := make([]Region, 0, pieces)
	for p := 0; p < pieces; p++ {
		piece := Region{
			Index: append([]int(nil), r.Index...),
			Size:  append([]int(nil), r.Size...),
		}
		piece.Index[axis] = r.Index[axis] + p*perPiece
		piece.Size[axis] = min(perPiece, extent-p*perPiece)
		regions = append(regions, piece)
	}
	return regions
}
