package models

import (
	"fmt"
	"math"
)

// ScaleParameter is the smoothing scale shared by all stages of one
// pipeline invocation
type ScaleParameter struct {
	// Sigma is the standard deviation of the Gaussian in physical (spacing) units
	Sigma float64

	// NormalizeAcrossScale makes derivative magnitudes comparable across sigmas
	NormalizeAcrossScale bool
}

// Validate checks that sigma is a positive finite number
func (s ScaleParameter) Validate() error {
	if math.IsNaN(s.Sigma) || math.IsInf(s.Sigma, 0) || s.Sigma <= 0 {
		return fmt.Errorf("%w: sigma must be positive and finite, got %g", ErrConfiguration, s.Sigma)
	}
	return nil
}

// SamplesAlong converts sigma to a number of voxels along an axis with the given spacing
func (s ScaleParameter) SamplesAlong(spacing float64) float64 {
	return s.Sigma / spacing
}
