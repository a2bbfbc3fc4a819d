package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"discretehessian/internal/models"
	"discretehessian/pkg/config"
	"discretehessian/pkg/hessian"
	"discretehessian/pkg/source"
	"discretehessian/pkg/visualization"
	"discretehessian/pkg/volumeio"
)

// app carries the state shared by all commands once flags are parsed
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "hessian",
		Short:         "Compute Hessian tensor fields of N-dimensional volumes",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadConfig(path)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("verbose") {
				cfg.Output.Verbose, _ = cmd.Flags().GetBool("verbose")
			}
			a.cfg = cfg
			a.logger = initLogger(cfg.Output.Verbose)
			return nil
		},
	}
	rootCmd.PersistentFlags().String("config", "hessian.yaml", "Configuration file")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	rootCmd.AddCommand(newComputeCmd(a), newBlobCmd(a), newConfigCmd())
	return rootCmd
}

// newComputeCmd - computes the Hessian of a stored volume
func newComputeCmd(a *app) *cobra.Command {
	computeCmd := &cobra.Command{
		Use:   "compute INPUT OUTPUT",
		Short: "Compute the Hessian of a volume and store its components",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.applyComputeFlags(cmd); err != nil {
				return err
			}
			return a.compute(cmd, args[0], args[1])
		},
	}

	computeCmd.Flags().Float64("sigma", 1, "Smoothing scale in physical units")
	computeCmd.Flags().String("method", "recursive", "Smoothing method: recursive or discrete")
	computeCmd.Flags().Bool("normalize", false, "Normalize the components across scale")
	computeCmd.Flags().Int("workers", 0, "Goroutines per stage (0: one per CPU)")
	computeCmd.Flags().String("pixel-type", "float32", "Stored type of the components")
	computeCmd.Flags().Bool("slices", false, "Save PNG slices of every component (3-D only)")
	computeCmd.Flags().String("slices-dir", "component_slices", "Directory for the PNG slices")

	return computeCmd
}

// applyComputeFlags overrides configuration values with explicitly set flags
func (a *app) applyComputeFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("sigma") {
		a.cfg.Hessian.Sigma, _ = flags.GetFloat64("sigma")
	}
	if flags.Changed("method") {
		a.cfg.Hessian.Method, _ = flags.GetString("method")
	}
	if flags.Changed("normalize") {
		a.cfg.Hessian.NormalizeAcrossScale, _ = flags.GetBool("normalize")
	}
	if flags.Changed("workers") {
		a.cfg.Processing.NumWorkers, _ = flags.GetInt("workers")
	}
	if flags.Changed("pixel-type") {
		a.cfg.Output.PixelType, _ = flags.GetString("pixel-type")
	}
	if flags.Changed("slices") {
		a.cfg.Output.SaveComponentSlices, _ = flags.GetBool("slices")
	}
	if flags.Changed("slices-dir") {
		a.cfg.Output.SlicesDir, _ = flags.GetString("slices-dir")
	}
	return a.cfg.Validate()
}

func (a *app) compute(cmd *cobra.Command, input, output string) error {
	cfg := a.cfg
	img, err := volumeio.ReadImage(input)
	if err != nil {
		return err
	}

	opts := append(cfg.FilterOptions(),
		hessian.WithLogger(a.logger),
		hessian.WithProgressCallback(progressLogger(a.logger)),
	)
	filter, err := hessian.NewFilter(cfg.Hessian.Method, opts...)
	if err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"input":     input,
		"size":      img.Geometry().Size,
		"method":    cfg.Hessian.Method,
		"sigma":     cfg.Hessian.Sigma,
		"normalize": cfg.Hessian.NormalizeAcrossScale,
	}).Info("Computing Hessian")

	start := time.Now()
	tensor, err := filter.ComputeHessian(cmd.Context(), img, cfg.Hessian.Sigma, cfg.Hessian.NormalizeAcrossScale)
	if err != nil {
		return err
	}
	a.logger.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("Hessian computed")

	if err := volumeio.WriteTensor(output, tensor, volumeio.PixelType(cfg.Output.PixelType)); err != nil {
		return err
	}
	a.logger.WithField("output", output).Info("Tensor field saved")

	for _, s := range visualization.Summarize(tensor) {
		a.logger.WithFields(logrus.Fields{
			"component": s.Name,
			"min":       s.Min,
			"max":       s.Max,
			"mean":      s.Mean,
			"stddev":    s.StdDev,
		}).Info("Component statistics")
	}

	if cfg.Output.SaveComponentSlices {
		return a.saveSlices(tensor, cfg.Output.SlicesDir)
	}
	return nil
}

// saveSlices writes the z slices of every component of a 3-D field
func (a *app) saveSlices(tensor *models.TensorVolume, dir string) error {
	d := tensor.Dimension()
	if d != 3 {
		a.logger.WithField("dimension", d).Warn("Component slices are only written for 3-D volumes")
		return nil
	}
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			viewer, err := visualization.NewComponentViewer(tensor, i, j)
			if err != nil {
				return err
			}
			name := visualization.ComponentName(d, i, j)
			if err := viewer.SaveSliceSequence("z", filepath.Join(dir, name)); err != nil {
				return fmt.Errorf("failed to save %s slices: %w", name, err)
			}
		}
	}
	a.logger.WithField("dir", dir).Info("Component slices saved")
	return nil
}

// progressLogger logs overall progress every quarter
func progressLogger(logger logrus.FieldLogger) func(string, float64) {
	next := 0.25
	return func(stage string, p float64) {
		for p >= next && next <= 1 {
			logger.WithFields(logrus.Fields{"stage": stage, "progress": next}).Info("Progress")
			next += 0.25
		}
	}
}

// newBlobCmd - generates a Gaussian blob volume
func newBlobCmd(a *app) *cobra.Command {
	blobCmd := &cobra.Command{
		Use:   "blob OUTPUT",
		Short: "Generate an isotropic Gaussian blob volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			size, _ := flags.GetInt("size")
			dim, _ := flags.GetInt("dim")
			sigma, _ := flags.GetFloat64("blob-sigma")
			scale, _ := flags.GetFloat64("scale")
			pixelType, _ := flags.GetString("pixel-type")

			if dim < 1 || size < 1 {
				return fmt.Errorf("%w: size and dim must be positive", models.ErrConfiguration)
			}
			sizes := make([]int, dim)
			for i := range sizes {
				sizes[i] = size
			}
			src := source.NewGaussianSource(sizes...)
			src.Scale = scale
			src.SetIsotropicSigma(sigma)

			vol, err := src.Generate()
			if err != nil {
				return err
			}
			if err := volumeio.Write(args[0], vol, volumeio.PixelType(pixelType)); err != nil {
				return err
			}
			a.logger.WithFields(logrus.Fields{
				"output": args[0],
				"size":   sizes,
				"sigma":  sigma,
			}).Info("Blob volume saved")
			return nil
		},
	}

	blobCmd.Flags().Int("size", 64, "Voxels along every axis")
	blobCmd.Flags().Int("dim", 3, "Number of axes")
	blobCmd.Flags().Float64("blob-sigma", 10, "Standard deviation of the blob in voxels")
	blobCmd.Flags().Float64("scale", 1, "Peak amplitude")
	blobCmd.Flags().String("pixel-type", "float32", "Stored pixel type")

	return blobCmd
}

// newConfigCmd - configuration file helpers
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "init [PATH]",
		Short: "Write a configuration file with default values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			cmd.Printf("Default configuration written to %s\n", path)
			return nil
		},
	})
	return configCmd
}
