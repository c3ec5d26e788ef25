// Package config provides configuration loading and management for the skull
// removal and heatmap tools. Configuration is read from YAML, or from JSON/JSON5
// when the file has a .json or .json5 extension, and missing values keep
// their defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/KevinWang15/go-json5"
	"gopkg.in/yaml.v3"

	"hyperbrain/pkg/augment"
	"hyperbrain/pkg/cnn"
	"hyperbrain/pkg/gradcam"
	"hyperbrain/pkg/heatmap"
	"hyperbrain/pkg/hsi"
	"hyperbrain/pkg/segmentation"
	"hyperbrain/pkg/skullstrip"
)

// Config represents the application configuration
type Config struct {
	// Preprocessing parameters
	Preprocess struct {
		// NetworkSize is the side of the square classifier input in pixels
		NetworkSize int `yaml:"networkSize" json:"networkSize"`
	} `yaml:"preprocess" json:"preprocess"`

	// Traditional segmentation parameters
	Segmentation struct {
		// ClipLimit is the contrast limit of the adaptive histogram equalization
		ClipLimit float64 `yaml:"clipLimit" json:"clipLimit"`

		// TileGrid is the number of equalization tiles along each axis
		TileGrid int `yaml:"tileGrid" json:"tileGrid"`

		// MinObjectSize removes foreground components smaller than this
		MinObjectSize int `yaml:"minObjectSize" json:"minObjectSize"`

		// MinHoleSize fills holes smaller than this
		MinHoleSize int `yaml:"minHoleSize" json:"minHoleSize"`

		// KernelSize is the side of the square closing/opening element
		KernelSize int `yaml:"kernelSize" json:"kernelSize"`
	} `yaml:"segmentation" json:"segmentation"`

	// Synthetic training data parameters
	Augmentation struct {
		Count       int     `yaml:"count" json:"count"`
		NoiseStdDev float64 `yaml:"noiseStdDev" json:"noiseStdDev"`
		MaxAngle    int     `yaml:"maxAngle" json:"maxAngle"`
		Seed        uint64  `yaml:"seed" json:"seed"`
	} `yaml:"augmentation" json:"augmentation"`

	// Classifier training parameters
	Training struct {
		Epochs       int     `yaml:"epochs" json:"epochs"`
		BatchSize    int     `yaml:"batchSize" json:"batchSize"`
		LearningRate float64 `yaml:"learningRate" json:"learningRate"`
		Seed         uint64  `yaml:"seed" json:"seed"`

		// ModelSeed seeds the weight initialization
		ModelSeed uint64 `yaml:"modelSeed" json:"modelSeed"`
	} `yaml:"training" json:"training"`

	// Grad-CAM parameters
	GradCAM struct {
		// Layer is the name of the convolution whose activations are explained
		Layer string `yaml:"layer" json:"layer"`

		// Class is the output unit to explain
		Class int `yaml:"class" json:"class"`
	} `yaml:"gradcam" json:"gradcam"`

	// Mask fusion parameters
	Fusion struct {
		// Threshold is the heatmap level above which a pixel is a skull candidate
		Threshold float64 `yaml:"threshold" json:"threshold"`

		// Rule is "union" or "intersection"
		Rule string `yaml:"rule" json:"rule"`

		// Source is "cleaned" or "threshold": the traditional mask fused with the heatmap
		Source string `yaml:"source" json:"source"`
	} `yaml:"fusion" json:"fusion"`

	// Heatmap generator parameters
	Heatmap struct {
		// PCABands selects the bands used for the false-colour composite; empty means all
		PCABands []int `yaml:"pcaBands" json:"pcaBands"`

		// Enhancement is the gamma applied to the false-colour composite
		Enhancement float64 `yaml:"enhancement" json:"enhancement"`

		// Indices lists the spectral indices to render
		Indices []string `yaml:"indices" json:"indices"`

		// Colormap is used for single-channel heatmaps
		Colormap string `yaml:"colormap" json:"colormap"`

		// Tissue colormaps
		TumorColormap  string `yaml:"tumorColormap" json:"tumorColormap"`
		VesselColormap string `yaml:"vesselColormap" json:"vesselColormap"`
		BrainColormap  string `yaml:"brainColormap" json:"brainColormap"`

		// SyntheticSize is the side of the demonstration cube used when no input can be loaded
		SyntheticSize int `yaml:"syntheticSize" json:"syntheticSize"`

		// SyntheticBands is the band count of the demonstration cube
		SyntheticBands int `yaml:"syntheticBands" json:"syntheticBands"`
	} `yaml:"heatmap" json:"heatmap"`

	// Output parameters
	Output struct {
		// Directory receives every file written by the tools
		Directory string `yaml:"directory" json:"directory"`

		// SaveIntermediaryResults determines whether to save intermediary processing results
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults" json:"saveIntermediaryResults"`

		// ImageFormat is png, jpeg or webp
		ImageFormat string `yaml:"imageFormat" json:"imageFormat"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose" json:"verbose"`
	} `yaml:"output" json:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Preprocess.NetworkSize = hsi.DefaultNetworkSize

	seg := segmentation.DefaultParams()
	cfg.Segmentation.ClipLimit = seg.ClipLimit
	cfg.Segmentation.TileGrid = seg.TileGrid
	cfg.Segmentation.MinObjectSize = seg.MinObjectSize
	cfg.Segmentation.MinHoleSize = seg.MinHoleSize
	cfg.Segmentation.KernelSize = seg.KernelSize

	aug := augment.DefaultParams()
	cfg.Augmentation.Count = aug.Count
	cfg.Augmentation.NoiseStdDev = aug.NoiseStdDev
	cfg.Augmentation.MaxAngle = aug.MaxAngle
	cfg.Augmentation.Seed = aug.Seed

	// The pipeline trains for fewer epochs than a standalone fit
	train := cnn.DefaultTrainParams()
	cfg.Training.Epochs = 5
	cfg.Training.BatchSize = train.BatchSize
	cfg.Training.LearningRate = train.LearningRate
	cfg.Training.Seed = train.Seed
	cfg.Training.ModelSeed = 1

	loc := gradcam.Default()
	cfg.GradCAM.Layer = loc.Layer
	cfg.GradCAM.Class = loc.Class

	cfg.Fusion.Threshold = 0.5
	cfg.Fusion.Rule = skullstrip.RuleUnion
	cfg.Fusion.Source = skullstrip.SourceCleaned

	cfg.Heatmap.Enhancement = 1.5
	cfg.Heatmap.Indices = []string{"ndvi", "tumor"}
	cfg.Heatmap.Colormap = "jet"
	cfg.Heatmap.TumorColormap = "hot"
	cfg.Heatmap.VesselColormap = "cool"
	cfg.Heatmap.BrainColormap = "viridis"
	cfg.Heatmap.SyntheticSize = 256
	cfg.Heatmap.SyntheticBands = 10

	cfg.Output.Directory = "output"
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.ImageFormat = "png"
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML, JSON or JSON5 file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".json", ".json5":
		err = json.Unmarshal(data, cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Preprocess.NetworkSize <= 0 {
		return fmt.Errorf("preprocess.networkSize must be positive, got %d", c.Preprocess.NetworkSize)
	}
	if c.Segmentation.TileGrid <= 0 || c.Segmentation.KernelSize <= 0 {
		return fmt.Errorf("segmentation.tileGrid and segmentation.kernelSize must be positive")
	}
	if c.Augmentation.Count < 0 {
		return fmt.Errorf("augmentation.count must not be negative, got %d", c.Augmentation.Count)
	}
	if c.Training.Epochs <= 0 || c.Training.BatchSize <= 0 || c.Training.LearningRate <= 0 {
		return fmt.Errorf("training.epochs, training.batchSize and training.learningRate must be positive")
	}
	switch c.Fusion.Rule {
	case skullstrip.RuleUnion, skullstrip.RuleIntersection:
	default:
		return fmt.Errorf("fusion.rule must be %q or %q, got %q", skullstrip.RuleUnion, skullstrip.RuleIntersection, c.Fusion.Rule)
	}
	switch c.Fusion.Source {
	case skullstrip.SourceCleaned, skullstrip.SourceThreshold:
	default:
		return fmt.Errorf("fusion.source must be %q or %q, got %q", skullstrip.SourceCleaned, skullstrip.SourceThreshold, c.Fusion.Source)
	}
	switch c.Output.ImageFormat {
	case "png", "jpeg", "jpg", "webp":
	default:
		return fmt.Errorf("output.imageFormat must be png, jpeg or webp, got %q", c.Output.ImageFormat)
	}
	return nil
}

// SegmentationParams returns the traditional segmenter settings
func (c *Config) SegmentationParams() segmentation.Params {
	return segmentation.Params{
		ClipLimit:     c.Segmentation.ClipLimit,
		TileGrid:      c.Segmentation.TileGrid,
		MinObjectSize: c.Segmentation.MinObjectSize,
		MinHoleSize:   c.Segmentation.MinHoleSize,
		KernelSize:    c.Segmentation.KernelSize,
	}
}

// AugmentParams returns the augmentation settings
func (c *Config) AugmentParams() augment.Params {
	return augment.Params{
		Count:       c.Augmentation.Count,
		NoiseStdDev: c.Augmentation.NoiseStdDev,
		MaxAngle:    c.Augmentation.MaxAngle,
		Seed:        c.Augmentation.Seed,
	}
}

// TrainParams returns the classifier training settings
func (c *Config) TrainParams() cnn.TrainParams {
	return cnn.TrainParams{
		Epochs:       c.Training.Epochs,
		BatchSize:    c.Training.BatchSize,
		LearningRate: c.Training.LearningRate,
		Seed:         c.Training.Seed,
	}
}

// FusionParams returns the mask fusion settings. Cleanup reuses the
// segmentation constants.
func (c *Config) FusionParams() skullstrip.FusionParams {
	return skullstrip.FusionParams{
		Threshold: c.Fusion.Threshold,
		Rule:      c.Fusion.Rule,
		Source:    c.Fusion.Source,
		Cleanup:   c.SegmentationParams(),
	}
}

// RemoverParams assembles the complete skull removal settings
func (c *Config) RemoverParams() skullstrip.Params {
	params := skullstrip.DefaultParams()
	params.InputSize = c.Preprocess.NetworkSize
	params.Segmentation = c.SegmentationParams()
	params.Augmentation = c.AugmentParams()
	params.Training = c.TrainParams()
	params.ModelSeed = c.Training.ModelSeed
	params.Localizer = gradcam.Localizer{Layer: c.GradCAM.Layer, Class: c.GradCAM.Class}
	params.Fusion = c.FusionParams()
	params.Verbose = c.Output.Verbose
	return params
}

// HeatmapOptions returns the heatmap generator settings
func (c *Config) HeatmapOptions() heatmap.Options {
	return heatmap.Options{
		Bands:          c.Heatmap.PCABands,
		Enhancement:    c.Heatmap.Enhancement,
		Indices:        c.Heatmap.Indices,
		Colormap:       c.Heatmap.Colormap,
		TumorColormap:  c.Heatmap.TumorColormap,
		VesselColormap: c.Heatmap.VesselColormap,
		BrainColormap:  c.Heatmap.BrainColormap,
		Verbose:        c.Output.Verbose,
	}
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
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
