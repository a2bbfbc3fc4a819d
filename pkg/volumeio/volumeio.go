// Package volumeio reads and writes volumes as a YAML header next to a raw
// little-endian data file.
//
// A volume stored as "blob.yaml" has its voxels in "blob.raw" unless the
// header names another data file. Scalar volumes hold one value per voxel,
// tensor volumes hold Components consecutive values per voxel.
package volumeio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/x448/float16"
	"gopkg.in/yaml.v3"

	"discretehessian/internal/models"
)

// PixelType names the on-disk representation of one value
type PixelType string

const (
	Uint8   PixelType = "uint8"
	Uint16  PixelType = "uint16"
	Int16   PixelType = "int16"
	Int32   PixelType = "int32"
	Float16 PixelType = "float16"
	Float32 PixelType = "float32"
	Float64 PixelType = "float64"
)

// Size returns the number of bytes of one value, or 0 for an unknown type
func (p PixelType) Size() int {
	switch p {
	case Uint8:
		return 1
	case Uint16, Int16, Float16:
		return 2
	case Int32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// Header describes a stored volume
type Header struct {
	// PixelType is the representation of each stored value
	PixelType PixelType `yaml:"pixel_type"`

	// ByteOrder is always "little"
	ByteOrder string `yaml:"byte_order"`

	// Size, Spacing and Origin describe the grid, axis 0 first
	Size    []int     `yaml:"size"`
	Spacing []float64 `yaml:"spacing"`
	Origin  []float64 `yaml:"origin"`

	// Components is the number of values per voxel
	Components int `yaml:"components"`

	// DataFile is the raw file, relative to the header's directory
	DataFile string `yaml:"data_file"`
}

// Geometry returns the grid described by the header
func (h *Header) Geometry() models.Geometry {
	return models.Geometry{
		Size:    append([]int(nil), h.Size...),
		Spacing: append([]float64(nil), h.Spacing...),
		Origin:  append([]float64(nil), h.Origin...),
	}
}

// Validate checks the header fields
func (h *Header) Validate() error {
	if h.PixelType.Size() == 0 {
		return fmt.Errorf("unknown pixel type %q", h.PixelType)
	}
	if h.ByteOrder != "" && h.ByteOrder != "little" {
		return fmt.Errorf("unsupported byte order %q", h.ByteOrder)
	}
	if h.Components < 1 {
		return fmt.Errorf("invalid number of components %d", h.Components)
	}
	return h.Geometry().Validate()
}

func newHeader(path string, g models.Geometry, pt PixelType, components int) *Header {
	return &Header{
		PixelType:  pt,
		ByteOrder:  "little",
		Size:       g.Size,
		Spacing:    g.Spacing,
		Origin:     g.Origin,
		Components: components,
		DataFile:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".raw",
	}
}

// ReadHeader loads and validates a header file
func ReadHeader(path string) (*Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	h := &Header{Components: 1}
	if err := yaml.Unmarshal(data, h); err != nil {
		return nil, fmt.Errorf("failed to parse header %s: %w", path, err)
	}
	if h.DataFile == "" {
		h.DataFile = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".raw"
	}
	if err := h.Validate(); err != nil {
		return nil, fmt.Errorf("invalid header %s: %w", path, err)
	}
	return h, nil
}

func writeHeader(path string, h *Header) error {
	data, err := yaml.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// ReadImage loads a scalar volume. Integer and float32/float64 data keep
// their type; float16 data is widened to float32.
func ReadImage(path string) (models.Image, error) {
	h, err := ReadHeader(path)
	if err != nil {
		return nil, err
	}
	if h.Components != 1 {
		return nil, fmt.Errorf("%s holds %d components per voxel, not a scalar volume", path, h.Components)
	}
	values, err := readValues(path, h)
	if err != nil {
		return nil, err
	}

	g := h.Geometry()
	switch h.PixelType {
	case Uint8:
		return convert[uint8](g, values), nil
	case Uint16:
		return convert[uint16](g, values), nil
	case Int16:
		return convert[int16](g, values), nil
	case Int32:
		return convert[int32](g, values), nil
	case Float16, Float32:
		return convert[float32](g, values), nil
	}
	return models.WrapVolume(g, values)
}

// ReadTensor loads a tensor volume written by WriteTensor
func ReadTensor(path string) (*models.TensorVolume, error) {
	h, err := ReadHeader(path)
	if err != nil {
		return nil, err
	}
	g := h.Geometry()
	if want := models.NumberOfComponents(g.Dimension()); h.Components != want {
		return nil, fmt.Errorf("%s holds %d components per voxel, a %d-D tensor needs %d",
			path, h.Components, g.Dimension(), want)
	}
	values, err := readValues(path, h)
	if err != nil {
		return nil, err
	}
	return models.NewTensorVolume(g, values)
}

// Write stores a scalar image using the given pixel type. Values outside
// the range of an integer type are clamped, fractions are rounded.
func Write(path string, img models.Image, pt PixelType) error {
	g := img.Geometry()
	values := make([]float64, g.NumberOfVoxels())
	if err := img.ReadReal(values); err != nil {
		return err
	}
	return write(path, newHeader(path, g, pt, 1), values)
}

// WriteTensor stores every component of a tensor volume
func WriteTensor(path string, t *models.TensorVolume, pt PixelType) error {
	return write(path, newHeader(path, t.Grid, pt, t.Components), t.Data)
}

func write(path string, h *Header, values []float64) error {
	if err := h.Validate(); err != nil {
		return err
	}
	if err := writeHeader(path, h); err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(filepath.Dir(path), h.DataFile))
	if err != nil {
		return fmt.Errorf("failed to create data file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := encode(w, h.PixelType, values); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return f.Close()
}

func readValues(path string, h *Header) ([]float64, error) {
	f, err := os.Open(filepath.Join(filepath.Dir(path), h.DataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()

	n := h.Geometry().NumberOfVoxels() * h.Components
	values, err := decode(bufio.NewReader(f), h.PixelType, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", h.DataFile, err)
	}
	return values, nil
}

func encode(w io.Writer, pt PixelType, values []float64) error {
	size := pt.Size()
	buf := make([]byte, size)
	for _, v := range values {
		switch pt {
		case Uint8:
			buf[0] = uint8(clampRound(v, 0, math.MaxUint8))
		case Uint16:
			binary.LittleEndian.PutUint16(buf, uint16(clampRound(v, 0, math.MaxUint16)))
		case Int16:
			binary.LittleEndian.PutUint16(buf, uint16(int16(clampRound(v, math.MinInt16, math.MaxInt16))))
		case Int32:
			binary.LittleEndian.PutUint32(buf, uint32(int32(clampRound(v, math.MinInt32, math.MaxInt32))))
		case Float16:
			binary.LittleEndian.PutUint16(buf, float16.Fromfloat32(float32(v)).Bits())
		case Float32:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
		case Float64:
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func decode(r io.Reader, pt PixelType, n int) ([]float64, error) {
	size := pt.Size()
	buf := make([]byte, size)
	values := make([]float64, n)
	for i := range values {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("value %d of %d: %w", i, n, err)
		}
		switch pt {
		case Uint8:
			values[i] = float64(buf[0])
		case Uint16:
			values[i] = float64(binary.LittleEndian.Uint16(buf))
		case Int16:
			values[i] = float64(int16(binary.LittleEndian.Uint16(buf)))
		case Int32:
			values[i] = float64(int32(binary.LittleEndian.Uint32(buf)))
		case Float16:
			values[i] = float64(float16.Frombits(binary.LittleEndian.Uint16(buf)).Float32())
		case Float32:
			values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
		case Float64:
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf))
		}
	}
	return values, nil
}

func clampRound(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, math.Round(v)))
}

func convert[T models.Pixel](g models.Geometry, values []float64) *models.Volume[T] {
	vol := models.NewVolume[T](g)
	for i, v := range values {
		vol.Data[i] = T(v)
	}
	return vol
}
