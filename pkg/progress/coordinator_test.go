package progress

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discretehessian/internal/models"
)

func TestCoordinatorWeightedSum(t *testing.T) {
	c := NewCoordinator()
	a := c.Register("smooth", 0.25)
	b := c.Register("smooth", 0.25)
	d := c.Register("difference", 0.5)
	require.NoError(t, c.Validate())

	a.Update(0.5)
	assert.InDelta(t, 0.125, c.Progress(), 1e-12)

	a.Done()
	b.Update(1)
	d.Update(0.5)
	assert.InDelta(t, 0.75, c.Progress(), 1e-12)

	// Going backwards is ignored
	d.Update(0.1)
	assert.InDelta(t, 0.75, c.Progress(), 1e-12)

	d.Done()
	assert.InDelta(t, 1.0, c.Progress(), 1e-12)
}

func TestCoordinatorValidate(t *testing.T) {
	c := NewCoordinator()
	c.Register("a", 0.5)
	c.Register("b", 0.4)
	assert.ErrorIs(t, c.Validate(), models.ErrConfiguration)

	c = NewCoordinator()
	c.Register("a", 1.5)
	c.Register("b", -0.5)
	assert.ErrorIs(t, c.Validate(), models.ErrConfiguration)

	c = NewCoordinator()
	for i := 0; i < 4; i++ {
		c.Register("third", 1.0/4)
	}
	assert.NoError(t, c.Validate())
}

func TestCoordinatorFailHalts(t *testing.T) {
	c := NewCoordinator()
	a := c.Register("a", 0.5)
	b := c.Register("b", 0.5)

	a.Done()
	cause := errors.New("boom")
	err := c.Fail("b", cause)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStageFailure)
	assert.ErrorIs(t, err, cause)

	var se *models.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "b", se.Stage)

	// Later failures do not replace the first one and updates are dropped
	second := c.Fail("a", errors.New("later"))
	assert.Same(t, err, second)
	b.Update(1)
	assert.InDelta(t, 0.5, c.Progress(), 1e-12)
	assert.Same(t, err, c.Err())

	c.Reset()
	assert.NoError(t, c.Err())
	assert.Zero(t, c.Progress())
}

func TestCoordinatorMonotonicUnderConcurrency(t *testing.T) {
	c := NewCoordinator()
	reporters := make([]*Reporter, 8)
	for i := range reporters {
		reporters[i] = c.Register("worker", 1.0/8)
	}

	var mu sync.Mutex
	var seen []float64
	c.SetCallback(func(_ string, p float64) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for _, r := range reporters {
		wg.Add(1)
		go func(r *Reporter) {
			defer wg.Done()
			for step := 1; step <= 100; step++ {
				r.Update(float64(step) / 100)
			}
		}(r)
	}
	wg.Wait()

	assert.InDelta(t, 1.0, c.Progress(), 1e-9)
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1], "progress went backwards at update %d", i)
	}
}

func TestNilReporterIsSafe(t *testing.T) {
	var r *Reporter
	assert.NotPanics(t, func() {
		r.Update(0.5)
		r.Done()
	})
}
