package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// NumberOfComponents returns the number of independent entries of a
// symmetric dim x dim tensor
func NumberOfComponents(dim int) int {
	return dim * (dim + 1) / 2
}

// ComponentIndex returns the storage slot of entry (i, j) of a symmetric
// dim x dim tensor. Slots follow the upper triangle in row-major order,
// for dim 3: xx, xy, xz, yy, yz, zz. (i, j) and (j, i) share one slot.
func ComponentIndex(dim, i, j int) int {
	if j < i {
		i, j = j, i
	}
	return i*dim - i*(i-1)/2 + (j - i)
}

// TensorVolume is a dense image whose voxels hold the independent
// components of a symmetric second-rank tensor
type TensorVolume struct {
	// Grid holds size, spacing and origin of the volume
	Grid Geometry

	// Components is the number of values stored per voxel
	Components int

	// Data holds Components consecutive values per voxel
	Data []float64
}

// NewTensorVolume wraps a buffer as a tensor volume on the given geometry.
// The buffer must hold NumberOfComponents(D) values per voxel.
func NewTensorVolume(g Geometry, data []float64) (*TensorVolume, error) {
	nc := NumberOfComponents(g.Dimension())
	if len(data) != g.NumberOfVoxels()*nc {
		return nil, fmt.Errorf("%w: tensor buffer holds %d values, need %d",
			ErrAllocation, len(data), g.NumberOfVoxels()*nc)
	}
	return &TensorVolume{Grid: g.Clone(), Components: nc, Data: data}, nil
}

// Geometry returns the grid of the tensor volume
func (t *TensorVolume) Geometry() Geometry {
	return t.Grid
}

// Dimension returns the tensor order D
func (t *TensorVolume) Dimension() int {
	return t.Grid.Dimension()
}

// Pixel returns the components stored at a voxel offset. The returned
// slice aliases the volume buffer.
func (t *TensorVolume) Pixel(offset int) []float64 {
	return t.Data[offset*t.Components : (offset+1)*t.Components]
}

// Component returns entry (i, j) of the tensor at a voxel offset
func (t *TensorVolume) Component(offset, i, j int) float64 {
	return t.Data[offset*t.Components+ComponentIndex(t.Dimension(), i, j)]
}

// ComponentImage copies entry (i, j) of every voxel into a scalar volume
func (t *TensorVolume) ComponentImage(i, j int) *Volume[float64] {
	out := NewVolume[float64](t.Grid)
	k := ComponentIndex(t.Dimension(), i, j)
	for v := range out.Data {
		out.Data[v] = t.Data[v*t.Components+k]
	}
	return out
}

// Matrix expands the tensor at a voxel offset to a full symmetric matrix
func (t *TensorVolume) Matrix(offset int) *mat.SymDense {
	d := t.Dimension()
	m := mat.NewSymDense(d, nil)
	p := t.Pixel(offset)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			m.SetSym(i, j, p[ComponentIndex(d, i, j)])
		}
	}
	return m
}

// Eigenvalues returns the eigenvalues of the tensor at a voxel offset in
// ascending order
func (t *TensorVolume) Eigenvalues(offset int) ([]float64, error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(t.Matrix(offset), false); !ok {
		return nil, fmt.Errorf("eigen decomposition failed at voxel %d", offset)
	}
	return eig.Values(nil), nil
}
