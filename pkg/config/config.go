// Package config provides configuration loading and management for the
// hessian command. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"discretehessian/internal/models"
	"discretehessian/pkg/hessian"
	"discretehessian/pkg/smoothing"
	"discretehessian/pkg/volumeio"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers specifies how many goroutines each stage may use
		NumWorkers int `yaml:"numWorkers"`

		// MemoryLimitMB caps the working and output buffers, 0 means no limit
		MemoryLimitMB int `yaml:"memoryLimitMB"`
	} `yaml:"processing"`

	// Hessian parameters
	Hessian struct {
		// Method selects the smoothing family, "recursive" or "discrete"
		Method string `yaml:"method"`

		// Sigma is the smoothing scale in physical units
		Sigma float64 `yaml:"sigma"`

		// NormalizeAcrossScale multiplies every component by sigma squared
		NormalizeAcrossScale bool `yaml:"normalizeAcrossScale"`
	} `yaml:"hessian"`

	// Discrete kernel parameters, used by the discrete method only
	Discrete struct {
		// MaximumError is the Gaussian tail mass the kernel may drop
		MaximumError float64 `yaml:"maximumError"`

		// MaximumKernelWidth caps the number of kernel taps
		MaximumKernelWidth int `yaml:"maximumKernelWidth"`
	} `yaml:"discrete"`

	// Output parameters
	Output struct {
		// PixelType is the stored type of the tensor components
		PixelType string `yaml:"pixelType"`

		// SaveComponentSlices writes PNG slices of every component
		SaveComponentSlices bool `yaml:"saveComponentSlices"`

		// SlicesDir is the directory receiving the PNG slices
		SlicesDir string `yaml:"slicesDir"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.MemoryLimitMB = 0

	cfg.Hessian.Method = "recursive"
	cfg.Hessian.Sigma = 1.0
	cfg.Hessian.NormalizeAcrossScale = false

	cfg.Discrete.MaximumError = smoothing.DefaultMaximumError
	cfg.Discrete.MaximumKernelWidth = smoothing.DefaultMaximumKernelWidth

	cfg.Output.PixelType = "float32"
	cfg.Output.SaveComponentSlices = false
	cfg.Output.SlicesDir = "component_slices"
	cfg.Output.Verbose = false

	return cfg
}

// Validate checks the values that cannot be corrected later
func (c *Config) Validate() error {
	if c.Processing.NumWorkers < 0 {
		return fmt.Errorf("%w: numWorkers must not be negative", models.ErrConfiguration)
	}
	if c.Processing.MemoryLimitMB < 0 {
		return fmt.Errorf("%w: memoryLimitMB must not be negative", models.ErrConfiguration)
	}
	if c.Hessian.Method != "recursive" && c.Hessian.Method != "discrete" {
		return fmt.Errorf("%w: unknown method %q", models.ErrConfiguration, c.Hessian.Method)
	}
	if err := (models.ScaleParameter{Sigma: c.Hessian.Sigma}).Validate(); err != nil {
		return err
	}
	if !(c.Discrete.MaximumError > 0 && c.Discrete.MaximumError < 1) {
		return fmt.Errorf("%w: maximumError must be in (0, 1), got %g",
			models.ErrConfiguration, c.Discrete.MaximumError)
	}
	if c.Discrete.MaximumKernelWidth < 1 {
		return fmt.Errorf("%w: maximumKernelWidth must be positive", models.ErrConfiguration)
	}
	if volumeio.PixelType(c.Output.PixelType).Size() == 0 {
		return fmt.Errorf("%w: unknown pixel type %q", models.ErrConfiguration, c.Output.PixelType)
	}
	return nil
}

// FilterOptions translates the processing and kernel settings into filter options
func (c *Config) FilterOptions() []hessian.Option {
	opts := []hessian.Option{
		hessian.WithWorkers(c.Processing.NumWorkers),
		hessian.WithMaximumError(c.Discrete.MaximumError),
		hessian.WithMaximumKernelWidth(c.Discrete.MaximumKernelWidth),
	}
	if c.Processing.MemoryLimitMB > 0 {
		limit := int64(c.Processing.MemoryLimitMB) << 20
		opts = append(opts, hessian.WithAllocator(models.NewHeapAllocator(limit)))
	}
	return opts
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
