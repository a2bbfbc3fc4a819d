package smoothing

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"discretehessian/internal/models"
)

const (
	// DefaultMaximumError is the largest Gaussian tail mass a kernel may drop
	DefaultMaximumError = 0.001

	// DefaultMaximumKernelWidth is the largest number of taps of a kernel
	DefaultMaximumKernelWidth = 65
)

// DiscreteGaussian convolves each line with a sampled Gaussian kernel
// truncated where the dropped tail mass falls below MaximumError
type DiscreteGaussian struct {
	// Workers bounds the goroutines used per pass; zero means one per CPU
	Workers int

	// MaximumError is the tail mass the truncated kernel may ignore
	MaximumError float64

	// MaximumKernelWidth caps the number of kernel taps
	MaximumKernelWidth int

	// Logger receives a warning when the width cap truncates a kernel
	Logger logrus.FieldLogger
}

// NewDiscreteGaussian creates a discrete Gaussian operator with the default
// truncation parameters
func NewDiscreteGaussian(workers int) *DiscreteGaussian {
	return &DiscreteGaussian{
		Workers:            workers,
		MaximumError:       DefaultMaximumError,
		MaximumKernelWidth: DefaultMaximumKernelWidth,
	}
}

// Name returns the approximation family
func (d *DiscreteGaussian) Name() string {
	return "discrete-gaussian"
}

// Kernel returns the normalized kernel for a sigma in samples, and whether
// the width cap cut it short of the requested error
func (d *DiscreteGaussian) Kernel(sigma float64) ([]float64, bool) {
	maxErr := d.MaximumError
	if !(maxErr > 0) || maxErr >= 1 {
		maxErr = DefaultMaximumError
	}
	maxWidth := d.MaximumKernelWidth
	if maxWidth < 1 {
		maxWidth = DefaultMaximumKernelWidth
	}
	maxRadius := (maxWidth - 1) / 2

	// Smallest radius whose two-sided tail beyond radius+0.5 is below maxErr
	radius := 0
	for radius < maxRadius && math.Erfc((float64(radius)+0.5)/(sigma*math.Sqrt2)) > maxErr {
		radius++
	}
	truncated := radius == maxRadius && math.Erfc((float64(radius)+0.5)/(sigma*math.Sqrt2)) > maxErr

	kernel := make([]float64, 2*radius+1)
	for i := range kernel {
		x := float64(i - radius)
		kernel[i] = math.Exp(-x * x / (2 * sigma * sigma))
	}
	floats.Scale(1/floats.Sum(kernel), kernel)
	return kernel, truncated
}

// Apply convolves every line along axis and optionally differentiates it
func (d *DiscreteGaussian) Apply(ctx context.Context, vol *models.Volume[float64], axis int,
	scale models.ScaleParameter, order Order, report func(float64)) error {

	if err := validate(vol, axis, scale, order); err != nil {
		return fmt.Errorf("%s: %w", d.Name(), err)
	}

	spacing := vol.Grid.Spacing[axis]
	kernel, truncated := d.Kernel(scale.SamplesAlong(spacing))
	if truncated && d.Logger != nil {
		d.Logger.WithFields(logrus.Fields{
			"axis":  axis,
			"sigma": scale.Sigma,
			"width": len(kernel),
		}).Warn("Kernel width limit reached, Gaussian tail is truncated")
	}

	gain := derivativeGain(scale, order, spacing)
	radius := len(kernel) / 2
	n := vol.Grid.Size[axis]

	newFilter := func() lineFunc {
		padded := make([]float64, n+2*radius)
		scratch := make([]float64, n)
		return func(line []float64) {
			reflect(padded, line, radius)
			for i := 0; i < n; i++ {
				line[i] = floats.Dot(kernel, padded[i:i+len(kernel)])
			}
			differentiate(line, scratch, order, gain)
		}
	}

	return forEachLine(ctx, vol, axis, d.Workers, newFilter, report)
}
