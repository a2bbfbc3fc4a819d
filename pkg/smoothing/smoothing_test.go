package smoothing

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"discretehessian/internal/models"
)

func operators() []Operator {
	return []Operator{NewRecursiveGaussian(3), NewDiscreteGaussian(3)}
}

// filledVolume builds a real volume from a function of the physical point
func filledVolume(g models.Geometry, f func(p []float64) float64) *models.Volume[float64] {
	vol := models.NewVolume[float64](g)
	for i := range vol.Data {
		vol.Data[i] = f(g.PhysicalPoint(g.IndexOf(i)))
	}
	return vol
}

func TestPreservesConstant(t *testing.T) {
	g := models.NewGeometry(9, 7, 5)
	for _, op := range operators() {
		vol := filledVolume(g, func([]float64) float64 { return 3.5 })
		for axis := 0; axis < 3; axis++ {
			err := op.Apply(context.Background(), vol, axis, models.ScaleParameter{Sigma: 2}, ZeroOrder, nil)
			require.NoError(t, err, op.Name())
		}
		for i, v := range vol.Data {
			require.InDelta(t, 3.5, v, 1e-9, "%s voxel %d", op.Name(), i)
		}
	}
}

func TestPreservesLinearRamp(t *testing.T) {
	g := models.NewGeometry(12, 10)
	g.Spacing = []float64{0.5, 2}
	ramp := func(p []float64) float64 { return 4*p[0] - 1.5*p[1] + 2 }

	for _, op := range operators() {
		for _, sigma := range []float64{0.8, 2, 5} {
			vol := filledVolume(g, ramp)
			want := append([]float64(nil), vol.Data...)
			for axis := 0; axis < 2; axis++ {
				err := op.Apply(context.Background(), vol, axis, models.ScaleParameter{Sigma: sigma}, ZeroOrder, nil)
				require.NoError(t, err)
			}
			for i := range want {
				assert.InDelta(t, want[i], vol.Data[i], 1e-6, "%s sigma %v voxel %d", op.Name(), sigma, i)
			}
		}
	}
}

func TestImpulseResponseMoments(t *testing.T) {
	for _, op := range operators() {
		for _, sigma := range []float64{1.5, 4, 9} {
			// The recursive tails decay exponentially; twenty sigma on either
			// side keeps the mass reflected at the ends below 1e-10
			n := 40*int(math.Ceil(sigma)) + 41
			vol := models.NewVolume[float64](models.NewGeometry(n))
			vol.Data[n/2] = 1
			err := op.Apply(context.Background(), vol, 0, models.ScaleParameter{Sigma: sigma}, ZeroOrder, nil)
			require.NoError(t, err)

			assert.InDelta(t, 1.0, floats.Sum(vol.Data), 1e-6, "%s sigma %v mass", op.Name(), sigma)

			mean, variance := 0.0, 0.0
			for i, v := range vol.Data {
				mean += float64(i-n/2) * v
			}
			for i, v := range vol.Data {
				d := float64(i-n/2) - mean
				variance += d * d * v
			}
			assert.InDelta(t, 0, mean, 1e-6, "%s sigma %v is not centred", op.Name(), sigma)
			assert.InEpsilon(t, sigma*sigma, variance, 0.05, "%s sigma %v variance", op.Name(), sigma)
		}
	}
}

func TestRecursivePoleScaleMatchesVariance(t *testing.T) {
	for _, sigma := range []float64{0.05, 0.5, 3, 250, 2.5e4, 1e6} {
		q := poleScale(sigma)
		assert.InEpsilon(t, sigma*sigma, recursiveVariance(q), 1e-6, "sigma %v", sigma)
	}
}

func TestSecondOrderOfParabola(t *testing.T) {
	g := models.NewGeometry(60)
	g.Spacing = []float64{0.5}
	sigma := 1.0

	for _, op := range operators() {
		for _, normalize := range []bool{false, true} {
			vol := filledVolume(g, func(p []float64) float64 { return p[0] * p[0] })
			scale := models.ScaleParameter{Sigma: sigma, NormalizeAcrossScale: normalize}
			require.NoError(t, op.Apply(context.Background(), vol, 0, scale, SecondOrder, nil))

			want := 2.0
			if normalize {
				want *= sigma * sigma
			}
			// Away from the ends the reflected extension plays no part
			for i := 25; i < 35; i++ {
				assert.InEpsilon(t, want, vol.Data[i], 0.02, "%s normalize=%v sample %d", op.Name(), normalize, i)
			}
		}
	}
}

func TestFirstOrderOfRamp(t *testing.T) {
	g := models.NewGeometry(30)
	g.Spacing = []float64{0.25}
	for _, op := range operators() {
		vol := filledVolume(g, func(p []float64) float64 { return 3*p[0] + 1 })
		require.NoError(t, op.Apply(context.Background(), vol, 0, models.ScaleParameter{Sigma: 1}, FirstOrder, nil))
		for i, v := range vol.Data {
			assert.InDelta(t, 3.0, v, 1e-5, "%s sample %d", op.Name(), i)
		}
	}
}

func TestApplyRejectsBadArguments(t *testing.T) {
	vol := models.NewVolume[float64](models.NewGeometry(5, 5))
	for _, op := range operators() {
		ctx := context.Background()
		err := op.Apply(ctx, vol, 0, models.ScaleParameter{Sigma: 0}, ZeroOrder, nil)
		assert.ErrorIs(t, err, models.ErrConfiguration)

		err = op.Apply(ctx, vol, 0, models.ScaleParameter{Sigma: 1}, Order(3), nil)
		assert.ErrorIs(t, err, models.ErrConfiguration)

		err = op.Apply(ctx, vol, 2, models.ScaleParameter{Sigma: 1}, ZeroOrder, nil)
		assert.ErrorIs(t, err, models.ErrConfiguration)

		thin := models.NewVolume[float64](models.NewGeometry(2, 5))
		err = op.Apply(ctx, thin, 0, models.ScaleParameter{Sigma: 1}, SecondOrder, nil)
		assert.ErrorIs(t, err, models.ErrInsufficientData)
	}
}

func TestApplyHonoursCancelledContext(t *testing.T) {
	vol := models.NewVolume[float64](models.NewGeometry(8, 8, 8))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, op := range operators() {
		err := op.Apply(ctx, vol, 1, models.ScaleParameter{Sigma: 1}, ZeroOrder, nil)
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestProgressReachesCompletion(t *testing.T) {
	g := models.NewGeometry(7, 300, 2)
	for _, op := range operators() {
		vol := models.NewVolume[float64](g)
		var mu sync.Mutex
		last := 0.0
		err := op.Apply(context.Background(), vol, 0, models.ScaleParameter{Sigma: 1}, ZeroOrder, func(f float64) {
			mu.Lock()
			defer mu.Unlock()
			last = math.Max(last, f)
		})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, last, 1e-12, op.Name())
	}
}

func TestWorkerCountDoesNotChangeResult(t *testing.T) {
	g := models.NewGeometry(11, 13, 6)
	src := filledVolume(g, func(p []float64) float64 {
		return math.Sin(p[0]) * math.Cos(0.7*p[1]) * (1 + p[2])
	})

	run := func(op Operator) []float64 {
		vol := models.NewVolume[float64](g)
		copy(vol.Data, src.Data)
		for axis := 2; axis >= 0; axis-- {
			require.NoError(t, op.Apply(context.Background(), vol, axis, models.ScaleParameter{Sigma: 1.7}, ZeroOrder, nil))
		}
		return vol.Data
	}

	if diff := cmp.Diff(run(NewRecursiveGaussian(1)), run(NewRecursiveGaussian(8))); diff != "" {
		t.Errorf("recursive result depends on worker count (-1 +8):\n%s", diff)
	}
	if diff := cmp.Diff(run(NewDiscreteGaussian(1)), run(NewDiscreteGaussian(5))); diff != "" {
		t.Errorf("discrete result depends on worker count (-1 +5):\n%s", diff)
	}
}

func TestDiscreteKernel(t *testing.T) {
	d := NewDiscreteGaussian(1)

	kernel, truncated := d.Kernel(2)
	assert.False(t, truncated)
	assert.Equal(t, 1, len(kernel)%2)
	assert.InDelta(t, 1.0, floats.Sum(kernel), 1e-12)
	for i := 0; i < len(kernel)/2; i++ {
		assert.Equal(t, kernel[i], kernel[len(kernel)-1-i])
	}

	d.MaximumKernelWidth = 9
	kernel, truncated = d.Kernel(10)
	assert.True(t, truncated)
	assert.Len(t, kernel, 9)
}

func TestReflectKeepsLinesLinear(t *testing.T) {
	line := []float64{1, 3, 5}
	pad := 7
	padded := make([]float64, len(line)+2*pad)
	reflect(padded, line, pad)
	for i, v := range padded {
		assert.InDelta(t, 1+2*float64(i-pad), v, 1e-12, "padded sample %d", i)
	}
}
