// Package source generates synthetic volumes used to exercise and
// demonstrate the Hessian filters: an N-dimensional Gaussian blob and a
// linear ramp.
package source

import (
	"fmt"
	"math"

	"discretehessian/internal/models"
)

// GaussianSource describes an axis-aligned Gaussian function sampled on a grid.
// The value at physical point p is
//
//	Scale * exp(-sum_i (p_i - Mean_i)^2 / (2 Sigma_i^2))
//
// multiplied by 1 / ((2 pi)^(D/2) prod_i Sigma_i) when Normalized is set.
type GaussianSource struct {
	// Size, Spacing and Origin describe the output grid
	Size    []int
	Spacing []float64
	Origin  []float64

	// Mean is the physical position of the peak
	Mean []float64

	// Sigma is the physical standard deviation along each axis
	Sigma []float64

	// Scale is the peak amplitude before normalization
	Scale float64

	// Normalized makes the function integrate to Scale
	Normalized bool
}

// NewGaussianSource creates a source on a unit-spacing grid with the peak on
// voxel size/2 of every axis, a sigma of 16 and a scale of 255
func NewGaussianSource(size ...int) *GaussianSource {
	d := len(size)
	s := &GaussianSource{
		Size:    append([]int(nil), size...),
		Spacing: make([]float64, d),
		Origin:  make([]float64, d),
		Mean:    make([]float64, d),
		Sigma:   make([]float64, d),
		Scale:   255,
	}
	for i := 0; i < d; i++ {
		s.Spacing[i] = 1
		s.Mean[i] = float64(size[i] / 2)
		s.Sigma[i] = 16
	}
	return s
}

// Geometry returns the grid of the generated volume
func (s *GaussianSource) Geometry() models.Geometry {
	return models.Geometry{
		Size:    append([]int(nil), s.Size...),
		Spacing: append([]float64(nil), s.Spacing...),
		Origin:  append([]float64(nil), s.Origin...),
	}
}

// SetIsotropicSigma sets the same sigma on every axis
func (s *GaussianSource) SetIsotropicSigma(sigma float64) {
	for i := range s.Sigma {
		s.Sigma[i] = sigma
	}
}

// Generate samples the Gaussian on the grid
func (s *GaussianSource) Generate() (*models.Volume[float64], error) {
	g := s.Geometry()
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("gaussian source: %w", err)
	}
	d := g.Dimension()
	if len(s.Mean) != d || len(s.Sigma) != d {
		return nil, fmt.Errorf("gaussian source: %w: %d axes but %d means and %d sigmas",
			models.ErrConfiguration, d, len(s.Mean), len(s.Sigma))
	}

	amplitude := s.Scale
	for i, sigma := range s.Sigma {
		if !(sigma > 0) || math.IsInf(sigma, 0) {
			return nil, fmt.Errorf("gaussian source: %w: sigma along axis %d is %g",
				models.ErrConfiguration, i, sigma)
		}
		if s.Normalized {
			amplitude /= math.Sqrt(2*math.Pi) * sigma
		}
	}

	// The function is separable, so precompute one factor table per axis
	factors := make([][]float64, d)
	for i := 0; i < d; i++ {
		factors[i] = make([]float64, g.Size[i])
		for k := range factors[i] {
			x := g.Origin[i] + float64(k)*g.Spacing[i] - s.Mean[i]
			factors[i][k] = math.Exp(-x * x / (2 * s.Sigma[i] * s.Sigma[i]))
		}
	}

	vol := models.NewVolume[float64](g)
	idx := make([]int, d)
	for v := range vol.Data {
		value := amplitude
		for i := 0; i < d; i++ {
			value *= factors[i][idx[i]]
		}
		vol.Data[v] = value
		increment(idx, g.Size)
	}
	return vol, nil
}

// RampSource describes the linear function Offset + sum_i Gradient_i * p_i
// of the physical point p
type RampSource struct {
	Size    []int
	Spacing []float64
	Origin  []float64

	// Gradient is the slope along each axis per physical unit
	Gradient []float64

	// Offset is the value at the physical origin
	Offset float64
}

// NewRampSource creates a ramp on a unit-spacing grid
func NewRampSource(gradient []float64, size ...int) *RampSource {
	g := models.NewGeometry(size...)
	return &RampSource{
		Size:     g.Size,
		Spacing:  g.Spacing,
		Origin:   g.Origin,
		Gradient: append([]float64(nil), gradient...),
	}
}

// Geometry returns the grid of the generated volume
func (r *RampSource) Geometry() models.Geometry {
	return models.Geometry{
		Size:    append([]int(nil), r.Size...),
		Spacing: append([]float64(nil), r.Spacing...),
		Origin:  append([]float64(nil), r.Origin...),
	}
}

// Generate samples the ramp on the grid
func (r *RampSource) Generate() (*models.Volume[float64], error) {
	g := r.Geometry()
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("ramp source: %w", err)
	}
	if len(r.Gradient) != g.Dimension() {
		return nil, fmt.Errorf("ramp source: %w: %d axes but %d gradient entries",
			models.ErrConfiguration, g.Dimension(), len(r.Gradient))
	}

	vol := models.NewVolume[float64](g)
	idx := make([]int, g.Dimension())
	for v := range vol.Data {
		value := r.Offset
		for i, k := range idx {
			value += r.Gradient[i] * (g.Origin[i] + float64(k)*g.Spacing[i])
		}
		vol.Data[v] = value
		increment(idx, g.Size)
	}
	return vol, nil
}

// Cast converts a real volume to another pixel type, rounding to the
// nearest value for integer types
func Cast[T models.Pixel](vol *models.Volume[float64]) *models.Volume[T] {
	out := models.NewVolume[T](vol.Grid)
	half := 0.5
	integer := T(half) == 0
	for i, v := range vol.Data {
		if integer {
			v = math.Round(v)
		}
		out.Data[i] = T(v)
	}
	return out
}

// increment advances an index in memory order
func increment(idx, size []int) {
	for i := range idx {
		idx[i]++
		if idx[i] < size[i] {
			return
		}
		idx[i] = 0
	}
}
