package hessian

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"discretehessian/internal/models"
	"discretehessian/pkg/progress"
)

// rowsPerReport is the number of rows a region worker finishes between
// progress reports
const rowsPerReport = 16

// CentralDifferenceStage computes the Hessian of a smoothed real volume by
// finite differences.
//
// For each pair of axes i <= j the stage evaluates
//
//	i == j: (f[c+s_i] - 2 f[c] + f[c-s_i]) / h_i^2
//	i != j: (f[c+s_i+s_j] - f[c+s_i-s_j] - f[c-s_i+s_j] + f[c-s_i-s_j]) / (4 h_i h_j)
//
// where s is the memory stride and h the spacing of an axis. Along every axis
// taking part in a component the stencil centre c is clamped to [1, size-2],
// so a boundary voxel gets the estimate of its inward neighbour. Quadratic
// functions, and linear ramps in particular, are therefore differentiated
// exactly on the whole grid.
//
// The output buffer is not allocated by the stage: it is grafted in before
// Update and taken back afterwards.
type CentralDifferenceStage struct {
	// Workers is the number of regions computed in parallel; zero means one per CPU
	Workers int

	// Gain holds one factor per stored component, applied on write. Nil means 1.
	Gain []float64

	// Logger receives debug entries, may be nil
	Logger logrus.FieldLogger

	output *models.TensorVolume
}

// NewCentralDifferenceStage creates a stage running on the given number of workers
func NewCentralDifferenceStage(workers int) *CentralDifferenceStage {
	return &CentralDifferenceStage{Workers: workers}
}

// Name identifies the stage in progress reports and errors
func (s *CentralDifferenceStage) Name() string {
	return "central-difference"
}

// RequiresFullInput reports that the stage reads neighbourhoods across the
// whole volume and cannot work on a sub-region of its input
func (s *CentralDifferenceStage) RequiresFullInput() bool {
	return true
}

// CheckExtent reports whether the stencil fits inside a volume of geometry g.
// It depends on the geometry alone, so pipelines run it before any pass.
func (s *CentralDifferenceStage) CheckExtent(g models.Geometry) error {
	for axis, size := range g.Size {
		if size < 3 {
			return fmt.Errorf("%w: the stencil needs 3 voxels along axis %d, got %d",
				ErrInsufficientData, axis, size)
		}
	}
	return nil
}

// GraftOutput hands the stage the tensor volume it will write into
func (s *CentralDifferenceStage) GraftOutput(t *models.TensorVolume) {
	s.output = t
}

// TakeOutput returns the grafted tensor volume and detaches it from the stage
func (s *CentralDifferenceStage) TakeOutput() *models.TensorVolume {
	t := s.output
	s.output = nil
	return t
}

// Update fills the grafted output from the smoothed volume in. The input is
// only read. On error the content of the output is undefined.
func (s *CentralDifferenceStage) Update(ctx context.Context, in *models.Volume[float64], reporter *progress.Reporter) error {
	out := s.output
	if out == nil {
		return fmt.Errorf("%w: no output volume grafted", ErrAllocation)
	}
	if in == nil {
		return fmt.Errorf("%w: no input volume", ErrInsufficientData)
	}

	g := in.Grid
	if err := g.Validate(); err != nil {
		return err
	}
	if !g.SameGrid(out.Grid) {
		return fmt.Errorf("%w: input grid %v does not cover output grid %v",
			ErrInsufficientData, g.Size, out.Grid.Size)
	}
	if len(in.Data) != g.NumberOfVoxels() {
		return fmt.Errorf("%w: input holds %d values for %d voxels",
			ErrInsufficientData, len(in.Data), g.NumberOfVoxels())
	}
	dim := g.Dimension()
	nc := models.NumberOfComponents(dim)
	if out.Components != nc || len(out.Data) != g.NumberOfVoxels()*nc {
		return fmt.Errorf("%w: output holds %d values with %d components, need %d components per voxel",
			ErrAllocation, len(out.Data), out.Components, nc)
	}
	if err := s.CheckExtent(g); err != nil {
		return err
	}
	if s.Gain != nil && len(s.Gain) != nc {
		return fmt.Errorf("%w: %d gains for %d components", ErrConfiguration, len(s.Gain), nc)
	}

	workers := s.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	regions := models.SplitRegion(g.LargestRegion(), workers)
	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"stage":   s.Name(),
			"workers": workers,
			"regions": len(regions),
		}).Debug("Computing finite differences")
	}

	k := newKernel(g, s.Gain)
	totalRows := g.NumberOfVoxels() / g.Size[0]
	var rowsDone atomic.Int64

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for _, region := range regions {
		region := region
		group.Go(func() error {
			return k.region(ctx, in.Data, out.Data, region, func(rows int) {
				done := rowsDone.Add(int64(rows))
				reporter.Update(float64(done) / float64(totalRows))
			})
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	reporter.Done()
	return nil
}

// component is one stored entry of the tensor and its stencil factor
type component struct {
	i, j   int
	slot   int
	factor float64
}

// kernel holds the per-grid constants of the stencils
type kernel struct {
	size       []int
	strides    []int
	nc         int
	components []component
}

func newKernel(g models.Geometry, gain []float64) *kernel {
	dim := g.Dimension()
	k := &kernel{
		size:    g.Size,
		strides: g.Strides(),
		nc:      models.NumberOfComponents(dim),
	}
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			c := component{i: i, j: j, slot: models.ComponentIndex(dim, i, j)}
			if i == j {
				c.factor = 1 / (g.Spacing[i] * g.Spacing[i])
			} else {
				c.factor = 1 / (4 * g.Spacing[i] * g.Spacing[j])
			}
			if gain != nil {
				c.factor *= gain[c.slot]
			}
			k.components = append(k.components, c)
		}
	}
	return k
}

// region computes every voxel of r, one row along axis 0 at a time. The
// context is checked before each row.
func (k *kernel) region(ctx context.Context, f, out []float64, r models.Region, report func(rows int)) error {
	dim := len(k.size)
	idx := append([]int(nil), r.Index...)
	rows := r.NumberOfVoxels() / r.Size[0]
	pending := 0

	for row := 0; row < rows; row++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		for x := 0; x < r.Size[0]; x++ {
			idx[0] = r.Index[0] + x
			off := 0
			for a := 0; a < dim; a++ {
				off += idx[a] * k.strides[a]
			}
			k.voxel(f, out[off*k.nc:(off+1)*k.nc], idx, off)
		}

		pending++
		if pending == rowsPerReport || row == rows-1 {
			report(pending)
			pending = 0
		}

		// Next row: advance axes 1..D-1 inside the region
		for a := 1; a < dim; a++ {
			idx[a]++
			if idx[a] < r.Index[a]+r.Size[a] {
				break
			}
			idx[a] = r.Index[a]
		}
	}
	return nil
}

// voxel writes all components of the voxel at idx, memory offset off
func (k *kernel) voxel(f, dst []float64, idx []int, off int) {
	for _, c := range k.components {
		si, sj := k.strides[c.i], k.strides[c.j]
		centre := off + k.shift(idx, c.i)*si
		if c.i == c.j {
			dst[c.slot] = c.factor * (f[centre+si] - 2*f[centre] + f[centre-si])
			continue
		}
		centre += k.shift(idx, c.j) * sj
		dst[c.slot] = c.factor * (f[centre+si+sj] - f[centre+si-sj] - f[centre-si+sj] + f[centre-si-sj])
	}
}

// shift is the move along axis that brings the stencil centre into [1, size-2]
func (k *kernel) shift(idx []int, axis int) int {
	switch {
	case idx[axis] < 1:
		return 1 - idx[axis]
	case idx[axis] > k.size[axis]-2:
		return k.size[axis] - 2 - idx[axis]
	}
	return 0
}
