package hessian

import (
	"context"
	"fmt"

	"discretehessian/internal/models"
	"discretehessian/pkg/progress"
	"discretehessian/pkg/smoothing"
)

// AxisStage is one pass of the smoothing chain
type AxisStage struct {
	// Name identifies the stage in progress reports and errors
	Name string

	// Axis is the axis the stage filters along
	Axis int

	// Order is the derivative order of the pass, always zero in a chain
	Order smoothing.Order

	// ConvertsInput is set on the first stage, which reads the input image
	// as real values into a newly allocated buffer. The input is never
	// modified or taken over. Every later stage filters its predecessor's
	// buffer in place.
	ConvertsInput bool
}

// Chain is an ordered list of smoothing passes, one per axis, from the last
// axis to the first. Running it leaves a single fully smoothed real volume.
type Chain struct {
	Operator smoothing.Operator
	Scale    models.ScaleParameter
	Stages   []AxisStage
}

// BuildAxisChain creates the smoothing chain for a dim-dimensional image
func BuildAxisChain(op smoothing.Operator, scale models.ScaleParameter, dim int) (*Chain, error) {
	if op == nil {
		return nil, fmt.Errorf("%w: no smoothing operator", ErrConfiguration)
	}
	if err := scale.Validate(); err != nil {
		return nil, err
	}
	if dim < 2 {
		return nil, fmt.Errorf("%w: dimension must be at least 2, got %d", ErrConfiguration, dim)
	}

	chain := &Chain{Operator: op, Scale: scale}
	for axis := dim - 1; axis >= 0; axis-- {
		first := len(chain.Stages) == 0
		chain.Stages = append(chain.Stages, AxisStage{
			Name:          fmt.Sprintf("smooth-axis-%d", axis),
			Axis:          axis,
			Order:         smoothing.ZeroOrder,
			ConvertsInput: first,
		})
	}
	return chain, nil
}

// Smooth runs the chain on img. At most one real buffer is live at any
// time; it is taken from alloc and handed to the caller, who must release
// it. reporters, when not empty, holds one reporter per stage.
//
// A failing stage releases the working buffer and returns a *StageError.
func (c *Chain) Smooth(ctx context.Context, img models.Image, alloc models.Allocator,
	reporters []*progress.Reporter) (*models.Volume[float64], error) {

	if img == nil {
		return nil, fmt.Errorf("%w: no input image", ErrInsufficientData)
	}
	g := img.Geometry()
	if g.Dimension() != len(c.Stages) {
		return nil, fmt.Errorf("%w: chain has %d stages for a %d-D image",
			ErrConfiguration, len(c.Stages), g.Dimension())
	}
	if len(reporters) != 0 && len(reporters) != len(c.Stages) {
		return nil, fmt.Errorf("%w: %d reporters for %d stages",
			ErrConfiguration, len(reporters), len(c.Stages))
	}

	var work *models.Volume[float64]
	fail := func(st AxisStage, err error) (*models.Volume[float64], error) {
		if work != nil {
			alloc.Release(work.Data)
		}
		return nil, &StageError{Stage: st.Name, Err: err}
	}

	for k, st := range c.Stages {
		if err := ctx.Err(); err != nil {
			return fail(st, err)
		}
		var reporter *progress.Reporter
		if len(reporters) != 0 {
			reporter = reporters[k]
		}

		if st.ConvertsInput {
			buf, err := alloc.Allocate(g.NumberOfVoxels())
			if err != nil {
				return fail(st, err)
			}
			if work, err = models.WrapVolume(g, buf); err != nil {
				alloc.Release(buf)
				return fail(st, err)
			}
			if err := img.ReadReal(work.Data); err != nil {
				return fail(st, err)
			}
		}

		if err := c.Operator.Apply(ctx, work, st.Axis, c.Scale, st.Order, reporter.Update); err != nil {
			return fail(st, err)
		}
		reporter.Done()
	}
	return work, nil
}
