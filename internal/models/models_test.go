package models

import (
	"errors"
	"math"
	"testing"
)

// TestComponentIndex verifies the upper-triangular row-major layout
func TestComponentIndex(t *testing.T) {
	expected := map[[2]int]int{
		{0, 0}: 0, {0, 1}: 1, {0, 2}: 2,
		{1, 1}: 3, {1, 2}: 4,
		{2, 2}: 5,
	}
	for ij, want := range expected {
		if got := ComponentIndex(3, ij[0], ij[1]); got != want {
			t.Errorf("ComponentIndex(3, %d, %d) = %d, want %d", ij[0], ij[1], got, want)
		}
		if got := ComponentIndex(3, ij[1], ij[0]); got != want {
			t.Errorf("ComponentIndex(3, %d, %d) = %d, want %d", ij[1], ij[0], got, want)
		}
	}

	// Every dimension must map the upper triangle onto 0..n-1 without gaps
	for dim := 2; dim <= 5; dim++ {
		seen := make(map[int]bool)
		for i := 0; i < dim; i++ {
			for j := i; j < dim; j++ {
				seen[ComponentIndex(dim, i, j)] = true
			}
		}
		n := NumberOfComponents(dim)
		if len(seen) != n {
			t.Fatalf("dim %d: expected %d distinct slots, got %d", dim, n, len(seen))
		}
		for k := 0; k < n; k++ {
			if !seen[k] {
				t.Errorf("dim %d: slot %d is never used", dim, k)
			}
		}
	}
}

// TestSplitRegion checks that pieces are disjoint and cover the region
func TestSplitRegion(t *testing.T) {
	full := Region{Index: []int{0, 0, 0}, Size: []int{5, 4, 7}}

	for _, n := range []int{1, 2, 3, 4, 7, 16} {
		pieces := SplitRegion(full, n)
		if len(pieces) == 0 || len(pieces) > n {
			t.Fatalf("n=%d: got %d pieces", n, len(pieces))
		}

		covered := make([]int, full.NumberOfVoxels())
		total := 0
		for _, p := range pieces {
			if !p.IsInside(full) {
				t.Fatalf("n=%d: piece %v is outside %v", n, p, full)
			}
			total += p.NumberOfVoxels()
			for z := p.Index[2]; z < p.Index[2]+p.Size[2]; z++ {
				for y := p.Index[1]; y < p.Index[1]+p.Size[1]; y++ {
					for x := p.Index[0]; x < p.Index[0]+p.Size[0]; x++ {
						covered[z*20+y*5+x]++
					}
				}
			}
		}
		if total != full.NumberOfVoxels() {
			t.Errorf("n=%d: pieces hold %d voxels, want %d", n, total, full.NumberOfVoxels())
		}
		for i, c := range covered {
			if c != 1 {
				t.Fatalf("n=%d: voxel %d covered %d times", n, i, c)
			}
		}
	}
}

// TestSplitRegionSkipsFlatAxes makes sure a single-slice outer axis is not split
func TestSplitRegionSkipsFlatAxes(t *testing.T) {
	r := Region{Index: []int{0, 2, 0}, Size: []int{8, 6, 1}}
	pieces := SplitRegion(r, 3)
	if len(pieces) != 3 {
		t.Fatalf("Expected 3 pieces, got %d", len(pieces))
	}
	for i, p := range pieces {
		if p.Size[2] != 1 || p.Size[1] != 2 || p.Index[1] != 2+2*i {
			t.Errorf("Unexpected piece %d: %v", i, p)
		}
	}
}

// TestRegionCrop checks overlap computation
func TestRegionCrop(t *testing.T) {
	a := Region{Index: []int{0, 0}, Size: []int{10, 10}}
	b := Region{Index: []int{5, -3}, Size: []int{10, 6}}

	c, ok := a.Crop(b)
	if !ok {
		t.Fatal("Expected regions to overlap")
	}
	want := Region{Index: []int{5, 0}, Size: []int{5, 3}}
	if !c.Equal(want) {
		t.Errorf("Crop = %v, want %v", c, want)
	}

	if _, ok := a.Crop(Region{Index: []int{10, 0}, Size: []int{2, 2}}); ok {
		t.Error("Expected disjoint regions not to overlap")
	}
}

// TestVolumeIndexing verifies offsets with axis 0 varying fastest
func TestVolumeIndexing(t *testing.T) {
	g := NewGeometry(4, 3, 2)
	v := NewVolume[uint16](g)

	v.Set(7, 3, 2, 1)
	if got := v.Data[1*12+2*4+3]; got != 7 {
		t.Errorf("Expected voxel stored at offset 23, got %d there", got)
	}
	if got := v.At(3, 2, 1); got != 7 {
		t.Errorf("At returned %d, want 7", got)
	}

	idx := g.IndexOf(23)
	if idx[0] != 3 || idx[1] != 2 || idx[2] != 1 {
		t.Errorf("IndexOf(23) = %v", idx)
	}

	strides := g.Strides()
	if strides[0] != 1 || strides[1] != 4 || strides[2] != 12 {
		t.Errorf("Unexpected strides %v", strides)
	}

	values := make([]float64, g.NumberOfVoxels())
	if err := v.ReadReal(values); err != nil {
		t.Fatalf("ReadReal failed: %v", err)
	}
	if values[23] != 7 {
		t.Errorf("ReadReal converted %v, want 7", values[23])
	}
	if err := v.ReadReal(make([]float64, 3)); !errors.Is(err, ErrAllocation) {
		t.Errorf("Expected allocation error for short buffer, got %v", err)
	}
}

// TestGeometryValidate covers the rejected geometries
func TestGeometryValidate(t *testing.T) {
	good := NewGeometry(3, 3)
	if err := good.Validate(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	bad := good.Clone()
	bad.Spacing[1] = 0
	if err := bad.Validate(); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected configuration error for zero spacing, got %v", err)
	}

	bad = good.Clone()
	bad.Spacing[0] = math.NaN()
	if err := bad.Validate(); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected configuration error for NaN spacing, got %v", err)
	}

	bad = good.Clone()
	bad.Size[0] = 0
	if err := bad.Validate(); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("Expected insufficient data error for empty axis, got %v", err)
	}
}

// TestScaleParameterValidate rejects non-positive and non-finite sigmas
func TestScaleParameterValidate(t *testing.T) {
	for _, sigma := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := (ScaleParameter{Sigma: sigma}).Validate(); !errors.Is(err, ErrConfiguration) {
			t.Errorf("sigma=%v: expected configuration error, got %v", sigma, err)
		}
	}
	if err := (ScaleParameter{Sigma: 0.5}).Validate(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

// TestTensorVolumeMatrix expands stored components into a symmetric matrix
func TestTensorVolumeMatrix(t *testing.T) {
	g := NewGeometry(2, 2, 2)
	tv, err := NewTensorVolume(g, make([]float64, 8*6))
	if err != nil {
		t.Fatalf("NewTensorVolume failed: %v", err)
	}

	copy(tv.Pixel(5), []float64{2, 1, 0, 3, 0, 4})
	m := tv.Matrix(5)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if m.At(i, j) != m.At(j, i) {
				t.Errorf("Matrix not symmetric at (%d,%d)", i, j)
			}
			if m.At(i, j) != tv.Component(5, i, j) {
				t.Errorf("Matrix(%d,%d)=%v, component %v", i, j, m.At(i, j), tv.Component(5, i, j))
			}
		}
	}

	vals, err := tv.Eigenvalues(5)
	if err != nil {
		t.Fatalf("Eigenvalues failed: %v", err)
	}
	// [[2 1][1 3]] has eigenvalues (5±sqrt(5))/2, plus the isolated 4
	want := []float64{(5 - math.Sqrt(5)) / 2, (5 + math.Sqrt(5)) / 2, 4}
	for i := range want {
		if math.Abs(vals[i]-want[i]) > 1e-12 {
			t.Errorf("eigenvalue %d = %v, want %v", i, vals[i], want[i])
		}
	}

	if _, err := NewTensorVolume(g, make([]float64, 10)); !errors.Is(err, ErrAllocation) {
		t.Errorf("Expected allocation error for short buffer, got %v", err)
	}
}

// TestHeapAllocator checks live/peak bookkeeping and the byte limit
func TestHeapAllocator(t *testing.T) {
	a := NewHeapAllocator(8 * 100)

	b1, err := a.Allocate(60)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if _, err := a.Allocate(50); !errors.Is(err, ErrAllocation) {
		t.Fatalf("Expected allocation error past the limit, got %v", err)
	}

	a.Release(b1)
	a.Release(b1) // double release is ignored

	b2, err := a.Allocate(50)
	if err != nil {
		t.Fatalf("Allocate after release failed: %v", err)
	}

	stats := a.Stats()
	if stats.LiveBuffers != 1 || stats.LiveBytes != 400 {
		t.Errorf("Unexpected live stats: %+v", stats)
	}
	if stats.PeakBuffers != 1 || stats.PeakBytes != 480 {
		t.Errorf("Unexpected peak stats: %+v", stats)
	}
	if stats.Allocations != 2 {
		t.Errorf("Expected 2 allocations, got %d", stats.Allocations)
	}
	a.Release(b2)
}
