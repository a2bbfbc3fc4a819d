// Package progress aggregates the fractional progress of the stages of a
// mini pipeline into a single monotonic value.
package progress

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"discretehessian/internal/models"
)

// Callback is invoked after every accepted update with the name of the
// stage that reported and the overall progress in [0, 1]. Calls are
// serialized; a callback may read Progress but must not call other
// Coordinator methods.
type Callback func(stage string, progress float64)

// weightTolerance is how far the sum of weights may drift from 1
const weightTolerance = 1e-9

type stage struct {
	name     string
	weight   float64
	fraction float64
}

// Coordinator keeps one weighted fraction per registered stage. Updates are
// serialized, per-stage fractions never decrease, and the first failure halts
// all further updates.
type Coordinator struct {
	mu       sync.Mutex
	stages   []*stage
	callback Callback
	err      error
	halted   bool

	// overall holds the float64 bits of the weighted sum for lock-free reads
	overall atomic.Uint64
}

// NewCoordinator creates an empty coordinator
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// SetCallback installs an observer for progress changes
func (c *Coordinator) SetCallback(cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
}

// Register adds a stage with its relative weight and returns the reporter
// the stage uses to publish its local progress
func (c *Coordinator) Register(name string, weight float64) *Reporter {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages = append(c.stages, &stage{name: name, weight: weight})
	return &Reporter{c: c, idx: len(c.stages) - 1}
}

// Validate checks that all weights are positive and sum to one
func (c *Coordinator) Validate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sum := 0.0
	for _, s := range c.stages {
		if !(s.weight > 0) {
			return fmt.Errorf("%w: stage %q has weight %g", models.ErrConfiguration, s.name, s.weight)
		}
		sum += s.weight
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: stage weights sum to %g", models.ErrConfiguration, sum)
	}
	return nil
}

// Progress returns the weighted completion of all registered stages
func (c *Coordinator) Progress() float64 {
	return math.Float64frombits(c.overall.Load())
}

// Err returns the first recorded failure
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Fail records a stage failure and halts the coordinator. Only the first
// failure is kept; the returned error is the one the pipeline should surface.
func (c *Coordinator) Fail(name string, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = &models.StageError{Stage: name, Err: err}
		c.halted = true
	}
	return c.err
}

// Reset clears stages, progress and failure so the coordinator can drive
// another invocation
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages = nil
	c.err = nil
	c.halted = false
	c.overall.Store(0)
}

func (c *Coordinator) update(idx int, fraction float64) {
	if math.IsNaN(fraction) {
		return
	}
	fraction = math.Max(0, math.Min(1, fraction))

	c.mu.Lock()
	if c.halted || idx >= len(c.stages) {
		c.mu.Unlock()
		return
	}
	s := c.stages[idx]
	if fraction <= s.fraction {
		c.mu.Unlock()
		return
	}
	s.fraction = fraction

	total := 0.0
	for _, st := range c.stages {
		total += st.weight * st.fraction
	}
	total = math.Min(1, total)
	// Rounding in the sum must never make the published value go backwards
	if prev := math.Float64frombits(c.overall.Load()); total < prev {
		total = prev
	}
	c.overall.Store(math.Float64bits(total))

	cb := c.callback
	name := s.name
	if cb != nil {
		cb(name, total)
	}
	c.mu.Unlock()
}

// Reporter publishes the local progress of one stage
type Reporter struct {
	c   *Coordinator
	idx int
}

// Update reports the fraction of the stage's work that is complete.
// Values below a previous report are ignored.
func (r *Reporter) Update(fraction float64) {
	if r == nil || r.c == nil {
		return
	}
	r.c.update(r.idx, fraction)
}

// Done marks the stage as complete
func (r *Reporter) Done() {
	r.Update(1)
}
