package smoothing

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"discretehessian/internal/models"
)

// basePoles are the poles of the third-order recursive Gaussian for a
// sigma of two samples (van Vliet, Young and Verbeek, L-infinity fit).
// Other sigmas raise them to the power 1/q.
var basePoles = [3]complex128{
	complex(1.86543, 0),
	complex(1.41650, 1.00829),
	complex(1.41650, -1.00829),
}

// transientTolerance is the residual of the start-up transient, relative to
// the signal, once it has crossed the reflected padding
const transientTolerance = 1e-9

// RecursiveGaussian approximates Gaussian convolution with a third-order
// recursive filter: a causal pass followed by an anti-causal pass, constant
// cost per sample whatever the sigma.
type RecursiveGaussian struct {
	// Workers bounds the goroutines used per pass; zero means one per CPU
	Workers int
}

// NewRecursiveGaussian creates a recursive Gaussian operator
func NewRecursiveGaussian(workers int) *RecursiveGaussian {
	return &RecursiveGaussian{Workers: workers}
}

// Name returns the approximation family
func (r *RecursiveGaussian) Name() string {
	return "recursive-gaussian"
}

// recursiveCoefficients holds the normalized filter taps for one sigma
type recursiveCoefficients struct {
	// b is the input gain, a1..a3 the feedback taps
	b, a1, a2, a3 float64

	// pad is the number of reflected samples added at each line end so the
	// start-up transient of both passes decays before reaching the data
	pad int
}

// polesFor scales the base poles to the exponent 1/q
func polesFor(q float64) [3]complex128 {
	var p [3]complex128
	for i, d := range basePoles {
		p[i] = cmplx.Pow(d, complex(1/q, 0))
	}
	return p
}

// recursiveVariance is the variance of the causal plus anti-causal filter
// built from poles scaled by q
func recursiveVariance(q float64) float64 {
	v := complex(0, 0)
	for _, d := range polesFor(q) {
		v += d / ((d - 1) * (d - 1))
	}
	return 2 * real(v)
}

// poleScale returns the q for which the filter variance equals sigma squared.
// The variance grows like q squared, so the upper bracket is doubled until
// it covers the target.
func poleScale(sigma float64) float64 {
	target := sigma * sigma
	lo, hi := 1e-3, 1e4
	for i := 0; i < 1100 && recursiveVariance(lo) > target; i++ {
		lo /= 2
	}
	for i := 0; i < 1100 && recursiveVariance(hi) < target; i++ {
		lo, hi = hi, 2*hi
	}
	for i := 0; i < 200 && hi/lo > 1+1e-15; i++ {
		mid := math.Sqrt(lo * hi)
		if recursiveVariance(mid) < target {
			lo = mid
		} else {
			hi = mid
		}
	}
	return math.Sqrt(lo * hi)
}

// newRecursiveCoefficients derives the filter taps for a sigma in samples
func newRecursiveCoefficients(sigma float64) recursiveCoefficients {
	q := poleScale(sigma)

	// Feedback taps of 1 / ((1 - p1 z^-1)(1 - p2 z^-1)(1 - p3 z^-1)), p = 1/d
	var p [3]complex128
	slowest := 0.0
	for i, d := range polesFor(q) {
		p[i] = 1 / d
		slowest = math.Max(slowest, cmplx.Abs(p[i]))
	}
	c := recursiveCoefficients{
		a1: real(p[0] + p[1] + p[2]),
		a2: -real(p[0]*p[1] + p[0]*p[2] + p[1]*p[2]),
		a3: real(p[0] * p[1] * p[2]),
	}
	c.b = 1 - (c.a1 + c.a2 + c.a3)
	c.pad = int(math.Ceil(math.Log(transientTolerance)/math.Log(slowest))) + 4
	return c
}

// filterLine smooths padded in place with the causal and anti-causal passes
func (c recursiveCoefficients) filterLine(padded []float64) {
	n := len(padded)

	// Causal pass, started in the steady state of a constant signal
	w1, w2, w3 := padded[0], padded[0], padded[0]
	for i := 0; i < n; i++ {
		w := c.b*padded[i] + c.a1*w1 + c.a2*w2 + c.a3*w3
		padded[i] = w
		w1, w2, w3 = w, w1, w2
	}

	// Anti-causal pass on the causal output
	y1, y2, y3 := padded[n-1], padded[n-1], padded[n-1]
	for i := n - 1; i >= 0; i-- {
		y := c.b*padded[i] + c.a1*y1 + c.a2*y2 + c.a3*y3
		padded[i] = y
		y1, y2, y3 = y, y1, y2
	}
}

// Apply smooths every line along axis and optionally differentiates it
func (r *RecursiveGaussian) Apply(ctx context.Context, vol *models.Volume[float64], axis int,
	scale models.ScaleParameter, order Order, report func(float64)) error {

	if err := validate(vol, axis, scale, order); err != nil {
		return fmt.Errorf("%s: %w", r.Name(), err)
	}

	spacing := vol.Grid.Spacing[axis]
	coeffs := newRecursiveCoefficients(scale.SamplesAlong(spacing))
	gain := derivativeGain(scale, order, spacing)
	n := vol.Grid.Size[axis]

	newFilter := func() lineFunc {
		padded := make([]float64, n+2*coeffs.pad)
		scratch := make([]float64, n)
		return func(line []float64) {
			reflect(padded, line, coeffs.pad)
			coeffs.filterLine(padded)
			copy(line, padded[coeffs.pad:coeffs.pad+n])
			differentiate(line, scratch, order, gain)
		}
	}

	return forEachLine(ctx, vol, axis, r.Workers, newFilter, report)
}
