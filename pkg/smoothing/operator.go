// Package smoothing implements separable 1-D Gaussian smoothing and
// derivative passes over N-dimensional real volumes.
//
// Every operator filters all lines of a volume that run along one axis,
// in place. Lines are independent, so they are partitioned over a bounded
// pool of goroutines. Both operators extend a line beyond its ends by point
// reflection, f(-k) = 2*f(0) - f(k), which reproduces linear ramps exactly.
package smoothing

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"discretehessian/internal/models"
)

// Order selects between pure smoothing and the first two derivatives
type Order int

const (
	ZeroOrder Order = iota
	FirstOrder
	SecondOrder
)

func (o Order) String() string {
	switch o {
	case ZeroOrder:
		return "zero"
	case FirstOrder:
		return "first"
	case SecondOrder:
		return "second"
	}
	return fmt.Sprintf("Order(%d)", int(o))
}

// Operator applies a 1-D Gaussian pass along one axis of a real volume
type Operator interface {
	// Name identifies the approximation family in logs and errors
	Name() string

	// Apply filters every line along axis in place. report, when not nil,
	// receives the fraction of lines done and may be called concurrently.
	Apply(ctx context.Context, vol *models.Volume[float64], axis int,
		scale models.ScaleParameter, order Order, report func(float64)) error
}

// lineFunc filters one line held in a worker-owned buffer
type lineFunc func(line []float64)

// reportEvery is the number of lines a worker filters between progress reports
const reportEvery = 64

// validate checks the arguments common to every operator
func validate(vol *models.Volume[float64], axis int, scale models.ScaleParameter, order Order) error {
	if err := scale.Validate(); err != nil {
		return err
	}
	if order < ZeroOrder || order > SecondOrder {
		return fmt.Errorf("%w: derivative order %d is not supported", models.ErrConfiguration, int(order))
	}
	if vol == nil {
		return fmt.Errorf("%w: no input volume", models.ErrInsufficientData)
	}
	if err := vol.Grid.Validate(); err != nil {
		return err
	}
	if axis < 0 || axis >= vol.Grid.Dimension() {
		return fmt.Errorf("%w: axis %d out of range for a %d-D volume",
			models.ErrConfiguration, axis, vol.Grid.Dimension())
	}
	if len(vol.Data) != vol.Grid.NumberOfVoxels() {
		return fmt.Errorf("%w: volume holds %d values for %d voxels",
			models.ErrInsufficientData, len(vol.Data), vol.Grid.NumberOfVoxels())
	}
	if order > ZeroOrder && vol.Grid.Size[axis] < 3 {
		return fmt.Errorf("%w: %s order derivative needs 3 samples along axis %d, got %d",
			models.ErrInsufficientData, order, axis, vol.Grid.Size[axis])
	}
	return nil
}

// forEachLine runs a filter over every line of vol along axis. newFilter is
// called once per worker so each worker owns its scratch buffers.
func forEachLine(ctx context.Context, vol *models.Volume[float64], axis, workers int,
	newFilter func() lineFunc, report func(float64)) error {

	n := vol.Grid.Size[axis]
	stride := vol.Grid.Strides()[axis]
	numLines := len(vol.Data) / n

	if workers < 1 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, numLines)
	perWorker := (numLines + workers - 1) / workers

	var done atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for lo := 0; lo < numLines; lo += perWorker {
		lo := lo
		hi := min(lo+perWorker, numLines)
		g.Go(func() error {
			filter := newFilter()
			line := make([]float64, n)
			for l := lo; l < hi; l++ {
				if (l-lo)%reportEvery == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}

				// Lines along axis start at every voxel whose coordinate on axis is 0
				base := (l/stride)*stride*n + l%stride
				for k := 0; k < n; k++ {
					line[k] = vol.Data[base+k*stride]
				}
				filter(line)
				for k := 0; k < n; k++ {
					vol.Data[base+k*stride] = line[k]
				}

				if report != nil && ((l-lo+1)%reportEvery == 0 || l == hi-1) {
					count := done.Add(int64(min(reportEvery, (l-lo)%reportEvery+1)))
					report(float64(count) / float64(numLines))
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// differentiate replaces a smoothed line by its first or second central
// difference, scaled by gain. The stencil centre is clamped to [1, n-2] so
// end samples reuse the estimate one sample inward.
func differentiate(line, scratch []float64, order Order, gain float64) {
	n := len(line)
	if order == ZeroOrder {
		if gain != 1 {
			for i := range line {
				line[i] *= gain
			}
		}
		return
	}
	copy(scratch, line)
	for i := 0; i < n; i++ {
		c := min(max(i, 1), n-2)
		switch order {
		case FirstOrder:
			line[i] = gain * (scratch[c+1] - scratch[c-1]) / 2
		case SecondOrder:
			line[i] = gain * (scratch[c+1] - 2*scratch[c] + scratch[c-1])
		}
	}
}

// derivativeGain returns the factor applied to an order-th derivative along
// an axis with the given spacing
func derivativeGain(scale models.ScaleParameter, order Order, spacing float64) float64 {
	gain := 1.0
	for i := Order(0); i < order; i++ {
		gain /= spacing
		if scale.NormalizeAcrossScale {
			gain *= scale.Sigma
		}
	}
	return gain
}

// reflect extends line into padded by repeated point reflection about both
// end samples. padded must have room for len(line) + 2*pad values. Lines
// shorter than the pad are reflected again at the opposite end, which keeps
// any linear line exactly linear.
func reflect(padded, line []float64, pad int) {
	n := len(line)
	copy(padded[pad:pad+n], line)
	if n == 1 {
		for k := 1; k <= pad; k++ {
			padded[pad-k] = line[0]
			padded[pad+k] = line[0]
		}
		return
	}

	at := func(i int) float64 { return padded[pad+i] }
	first, last := line[0], line[n-1]
	for k := 1; k <= pad; k++ {
		// Both mirror sources are already filled: they lie inside the line
		// or at most k-1 samples beyond one of its ends
		padded[pad-k] = 2*first - at(k)
		padded[pad+n-1+k] = 2*last - at(n-1-k)
	}
}
