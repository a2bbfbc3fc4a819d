// Package hessian computes the Hessian tensor field of N-dimensional scalar
// images at a chosen Gaussian scale.
//
// A filter smooths the input with one separable Gaussian pass per axis, from
// the last axis to the first, then differentiates the smoothed volume with
// central differences. The result is a TensorVolume holding the D(D+1)/2
// independent second derivatives of every voxel.
//
// Two filters are provided. RecursiveGaussianFilter smooths with a
// third-order recursive filter whose cost does not depend on sigma.
// DiscreteGaussianFilter convolves with a truncated sampled kernel. Their
// results agree closely but are not bit-identical.
package hessian

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"discretehessian/internal/models"
	"discretehessian/pkg/progress"
	"discretehessian/pkg/smoothing"
)

// Option configures a filter
type Option func(*options)

type options struct {
	workers       int
	allocator     models.Allocator
	logger        logrus.FieldLogger
	callback      progress.Callback
	maxError      float64
	maxKernelSize int
}

// WithWorkers bounds the goroutines of every stage; zero means one per CPU
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithAllocator sets the source of the working and output buffers
func WithAllocator(a models.Allocator) Option {
	return func(o *options) { o.allocator = a }
}

// WithLogger sets the logger receiving stage diagnostics
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithProgressCallback installs an observer of the overall progress
func WithProgressCallback(cb progress.Callback) Option {
	return func(o *options) { o.callback = cb }
}

// WithMaximumError sets the kernel tail mass the discrete filter may drop
func WithMaximumError(e float64) Option {
	return func(o *options) { o.maxError = e }
}

// WithMaximumKernelWidth caps the number of taps of the discrete kernel
func WithMaximumKernelWidth(w int) Option {
	return func(o *options) { o.maxKernelSize = w }
}

func newOptions(opts []Option) options {
	o := options{
		maxError:      smoothing.DefaultMaximumError,
		maxKernelSize: smoothing.DefaultMaximumKernelWidth,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.allocator == nil {
		o.allocator = models.NewHeapAllocator(0)
	}
	if o.logger == nil {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetLevel(logrus.WarnLevel)
		o.logger = l
	}
	return o
}

// fullInputStage is implemented by stages that need their whole input
// resident rather than a requested sub-region
type fullInputStage interface {
	Name() string
	RequiresFullInput() bool
	CheckExtent(g models.Geometry) error
}

// pipeline is the machinery shared by both filters
type pipeline struct {
	opts     options
	operator smoothing.Operator
	coord    *progress.Coordinator

	// mu serializes invocations; the coordinator tracks one at a time
	mu     sync.Mutex
	config Config
}

func (p *pipeline) init(op smoothing.Operator, opts options) {
	p.opts = opts
	p.operator = op
	p.coord = progress.NewCoordinator()
}

// ComputeHessian returns the Hessian of img at scale sigma, in physical
// units. With normalizeAcrossScale every component is multiplied by sigma^2.
//
// The returned tensor volume has the grid of img and is owned by the
// caller. On error no output is returned and every buffer taken from the
// allocator has been released.
func (p *pipeline) ComputeHessian(ctx context.Context, img models.Image, sigma float64,
	normalizeAcrossScale bool) (*models.TensorVolume, error) {

	p.mu.Lock()
	defer p.mu.Unlock()

	if img == nil {
		return nil, fmt.Errorf("%w: no input image", ErrInsufficientData)
	}
	g := img.Geometry()
	cfg := Config{Sigma: sigma, NormalizeAcrossScale: normalizeAcrossScale, Dimension: g.Dimension()}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	p.config = cfg

	stage := NewCentralDifferenceStage(p.opts.workers)
	stage.Gain = cfg.ComponentGains()
	stage.Logger = p.opts.logger
	if err := p.checkFullInput(img, stage); err != nil {
		return nil, err
	}
	if err := stage.CheckExtent(g); err != nil {
		return nil, err
	}

	chain, err := BuildAxisChain(p.operator, cfg.Scale(), cfg.Dimension)
	if err != nil {
		return nil, err
	}

	reporters, diffReporter, err := p.registerStages(chain, stage)
	if err != nil {
		return nil, err
	}

	log := p.opts.logger.WithFields(logrus.Fields{
		"filter":    p.operator.Name(),
		"sigma":     sigma,
		"normalize": normalizeAcrossScale,
		"size":      g.Size,
		"workers":   p.opts.workers,
	})
	log.Debug("Computing Hessian")
	start := time.Now()

	alloc := p.opts.allocator
	smoothed, err := chain.Smooth(ctx, img, alloc, reporters)
	if err != nil {
		return nil, p.fail(err)
	}
	log.WithField("elapsed", time.Since(start)).Debug("Smoothing chain done")

	// The smoothed buffer is released on every path from here on
	defer alloc.Release(smoothed.Data)

	buf, err := alloc.Allocate(g.NumberOfVoxels() * models.NumberOfComponents(cfg.Dimension))
	if err != nil {
		return nil, p.coord.Fail("allocate-output", err)
	}
	tensor, err := models.NewTensorVolume(g, buf)
	if err != nil {
		alloc.Release(buf)
		return nil, p.coord.Fail("allocate-output", err)
	}

	stage.GraftOutput(tensor)
	err = stage.Update(ctx, smoothed, diffReporter)
	tensor = stage.TakeOutput()
	if err != nil {
		alloc.Release(tensor.Data)
		return nil, p.coord.Fail(stage.Name(), err)
	}

	log.WithField("elapsed", time.Since(start)).Debug("Hessian computed")
	return tensor, nil
}

// checkFullInput verifies at assembly time that a stage needing its whole
// input will be given the whole image
func (p *pipeline) checkFullInput(img models.Image, stage fullInputStage) error {
	if !stage.RequiresFullInput() {
		return nil
	}
	largest := img.Geometry().LargestRegion()
	if requested := p.GenerateInputRequestedRegion(img, largest); !requested.Equal(largest) {
		return fmt.Errorf("%w: stage %s needs the whole input but %v was requested",
			ErrConfiguration, stage.Name(), requested)
	}
	return nil
}

// registerStages resets the coordinator and gives every stage an equal weight
func (p *pipeline) registerStages(chain *Chain, stage fullInputStage) ([]*progress.Reporter, *progress.Reporter, error) {
	p.coord.Reset()
	p.coord.SetCallback(p.opts.callback)

	weight := 1 / float64(len(chain.Stages)+1)
	reporters := make([]*progress.Reporter, len(chain.Stages))
	for i, st := range chain.Stages {
		reporters[i] = p.coord.Register(st.Name, weight)
	}
	diff := p.coord.Register(stage.Name(), weight)
	if err := p.coord.Validate(); err != nil {
		return nil, nil, err
	}
	return reporters, diff, nil
}

// fail records a chain failure with the coordinator
func (p *pipeline) fail(err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return p.coord.Fail(se.Stage, se.Err)
	}
	return err
}

// Progress returns the completed fraction of the current or last invocation
func (p *pipeline) Progress() float64 {
	return p.coord.Progress()
}

// RequiresFullInput reports that the filter needs the entire input image
func (p *pipeline) RequiresFullInput() bool {
	return true
}

// GenerateInputRequestedRegion returns the region of img the filter needs
// to produce requested. It is always the largest possible region.
func (p *pipeline) GenerateInputRequestedRegion(img models.Image, requested models.Region) models.Region {
	return img.Geometry().LargestRegion()
}

// Config returns the parameters of the last accepted invocation
func (p *pipeline) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config
}

// RecursiveGaussianFilter computes the Hessian after smoothing with a
// recursive Gaussian along every axis
type RecursiveGaussianFilter struct {
	pipeline
}

// NewRecursiveGaussianFilter creates a filter with the given options
func NewRecursiveGaussianFilter(opts ...Option) *RecursiveGaussianFilter {
	o := newOptions(opts)
	f := &RecursiveGaussianFilter{}
	f.init(smoothing.NewRecursiveGaussian(o.workers), o)
	return f
}

// DiscreteGaussianFilter computes the Hessian after smoothing with a
// truncated sampled Gaussian kernel along every axis
type DiscreteGaussianFilter struct {
	pipeline
}

// NewDiscreteGaussianFilter creates a filter with the given options
func NewDiscreteGaussianFilter(opts ...Option) *DiscreteGaussianFilter {
	o := newOptions(opts)
	op := smoothing.NewDiscreteGaussian(o.workers)
	op.MaximumError = o.maxError
	op.MaximumKernelWidth = o.maxKernelSize
	op.Logger = o.logger
	f := &DiscreteGaussianFilter{}
	f.init(op, o)
	return f
}

// Filter is implemented by both Hessian filters
type Filter interface {
	ComputeHessian(ctx context.Context, img models.Image, sigma float64, normalizeAcrossScale bool) (*models.TensorVolume, error)
	Progress() float64
	RequiresFullInput() bool
	GenerateInputRequestedRegion(img models.Image, requested models.Region) models.Region
	Config() Config
}

// NewFilter creates the filter named by method, "recursive" or "discrete"
func NewFilter(method string, opts ...Option) (Filter, error) {
	switch method {
	case "recursive", "":
		return NewRecursiveGaussianFilter(opts...), nil
	case "discrete":
		return NewDiscreteGaussianFilter(opts...), nil
	}
	return nil, fmt.Errorf("%w: unknown smoothing method %q", ErrConfiguration, method)
}
