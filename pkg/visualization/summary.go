package visualization

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"discretehessian/internal/models"
)

// ComponentStats summarizes one stored entry of a Hessian field
type ComponentStats struct {
	Name   string
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// ComponentName returns "xy"-style names for up to three axes and "h01"
// style names beyond
func ComponentName(dim, i, j int) string {
	if j < i {
		i, j = j, i
	}
	if dim <= 3 {
		axes := "xyz"
		return string(axes[i]) + string(axes[j])
	}
	return fmt.Sprintf("h%d%d", i, j)
}

// Summarize computes the statistics of every component in storage order
func Summarize(t *models.TensorVolume) []ComponentStats {
	d := t.Dimension()
	out := make([]ComponentStats, 0, t.Components)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			values := t.ComponentImage(i, j).Data
			mean, std := stat.MeanStdDev(values, nil)
			out = append(out, ComponentStats{
				Name:   ComponentName(d, i, j),
				Min:    floats.Min(values),
				Max:    floats.Max(values),
				Mean:   mean,
				StdDev: std,
			})
		}
	}
	return out
}
