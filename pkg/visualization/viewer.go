// Package visualization renders axis-aligned slices of 3-D scalar volumes
// and of Hessian components or eigenvalues as 16-bit grayscale PNG images.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"discretehessian/internal/models"
)

// Viewer extracts slices from a 3-D scalar volume. Voxel values are mapped
// linearly from the window [Low, High] to the full 16-bit gray range.
type Viewer struct {
	// volumeData holds the voxels with x varying fastest
	volumeData []float64

	// dimensions of the volume
	width  int
	height int
	depth  int

	// Low and High bound the display window
	Low  float64
	High float64
}

// NewViewer creates a viewer over a 3-D volume with a window spanning the
// full value range
func NewViewer(vol *models.Volume[float64]) (*Viewer, error) {
	if vol.Grid.Dimension() != 3 {
		return nil, fmt.Errorf("viewer needs a 3-D volume, got %d-D", vol.Grid.Dimension())
	}
	if len(vol.Data) == 0 {
		return nil, fmt.Errorf("empty volume")
	}
	v := &Viewer{
		volumeData: vol.Data,
		width:      vol.Grid.Size[0],
		height:     vol.Grid.Size[1],
		depth:      vol.Grid.Size[2],
		Low:        floats.Min(vol.Data),
		High:       floats.Max(vol.Data),
	}
	return v, nil
}

// NewComponentViewer creates a viewer over entry (i, j) of a Hessian field
func NewComponentViewer(t *models.TensorVolume, i, j int) (*Viewer, error) {
	d := t.Dimension()
	if i < 0 || j < 0 || i >= d || j >= d {
		return nil, fmt.Errorf("component (%d, %d) out of range for a %d-D tensor", i, j, d)
	}
	return NewViewer(t.ComponentImage(i, j))
}

// NewEigenvalueViewer creates a viewer over the k-th smallest eigenvalue of
// every voxel of a Hessian field
func NewEigenvalueViewer(t *models.TensorVolume, k int) (*Viewer, error) {
	d := t.Dimension()
	if k < 0 || k >= d {
		return nil, fmt.Errorf("eigenvalue %d out of range for a %d-D tensor", k, d)
	}
	vol := models.NewVolume[float64](t.Grid)
	for v := range vol.Data {
		eig, err := t.Eigenvalues(v)
		if err != nil {
			return nil, err
		}
		vol.Data[v] = eig[k]
	}
	return NewViewer(vol)
}

// AutoWindow sets the window to the given lower and upper quantiles of the
// voxel values, which keeps a few extreme voxels from flattening the image
func (v *Viewer) AutoWindow(lower, upper float64) error {
	if !(lower >= 0 && lower < upper && upper <= 1) {
		return fmt.Errorf("invalid quantiles %g, %g", lower, upper)
	}
	sorted := append([]float64(nil), v.volumeData...)
	sort.Float64s(sorted)
	v.Low = stat.Quantile(lower, stat.Empirical, sorted, nil)
	v.High = stat.Quantile(upper, stat.Empirical, sorted, nil)
	return nil
}

// gray maps a voxel value through the window
func (v *Viewer) gray(value float64) color.Gray16 {
	span := v.High - v.Low
	if !(span > 0) {
		return color.Gray16{Y: 32768}
	}
	scaled := (value - v.Low) / span * 65535
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, math.Round(scaled))))}
}

// ExtractSlice extracts a 2D slice from the 3D volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		// Extract slice along YZ plane
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}
		img = image.NewGray16(image.Rect(0, 0, v.depth, v.height))
		for y := 0; y < v.height; y++ {
			for z := 0; z < v.depth; z++ {
				img.SetGray16(z, y, v.gray(v.volumeData[z*v.width*v.height+y*v.width+position]))
			}
		}

	case "y", "Y":
		// Extract slice along XZ plane
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, z, v.gray(v.volumeData[z*v.width*v.height+position*v.width+x]))
			}
		}

	case "z", "Z":
		// Extract slice along XY plane
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.height))
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, y, v.gray(v.volumeData[position*v.width*v.height+y*v.width+x]))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a PNG image, which keeps all 16 bits
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.width
	case "y", "Y":
		maxPos = v.height
	case "z", "Z":
		maxPos = v.depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
