package hessian

import (
	"fmt"

	"discretehessian/internal/models"
)

// Config is the parameter set of one ComputeHessian invocation
type Config struct {
	// Sigma is the smoothing scale in physical units
	Sigma float64

	// NormalizeAcrossScale multiplies every Hessian component by Sigma^2
	NormalizeAcrossScale bool

	// Dimension is the number of spatial axes of the input
	Dimension int
}

// Scale returns the scale parameter shared by every stage
func (c Config) Scale() models.ScaleParameter {
	return models.ScaleParameter{Sigma: c.Sigma, NormalizeAcrossScale: c.NormalizeAcrossScale}
}

// Validate checks sigma and dimension
func (c Config) Validate() error {
	if err := c.Scale().Validate(); err != nil {
		return err
	}
	if c.Dimension < 2 {
		return fmt.Errorf("%w: dimension must be at least 2, got %d", ErrConfiguration, c.Dimension)
	}
	return nil
}

// ComponentGains returns the factor applied to each stored component, or
// nil when no scaling is needed
func (c Config) ComponentGains() []float64 {
	if !c.NormalizeAcrossScale {
		return nil
	}
	gains := make([]float64, models.NumberOfComponents(c.Dimension))
	for i := range gains {
		gains[i] = c.Sigma * c.Sigma
	}
	return gains
}
