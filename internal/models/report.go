package models

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CubeInfo describes the cube a run was given
type CubeInfo struct {
	// Source is the input path, or "synthetic" for the demonstration cube
	Source string `yaml:"source"`

	Rows  int `yaml:"rows"`
	Cols  int `yaml:"cols"`
	Bands int `yaml:"bands"`
}

// StageReport is the wall time of one pipeline stage
type StageReport struct {
	Stage   string  `yaml:"stage"`
	Seconds float64 `yaml:"seconds"`
}

// SkullRemovalReport summarizes a skull removal run
type SkullRemovalReport struct {
	Input CubeInfo `yaml:"input"`

	// Model is the pretrained model path, empty when the model was trained in the run
	Model string `yaml:"model,omitempty"`

	// Loss holds the mean training loss per epoch
	Loss []float64 `yaml:"loss,omitempty"`

	// Degenerate is set when the heatmap carried no signal
	Degenerate bool `yaml:"degenerate"`

	// BrainPixels is the number of pixels in the brain mask
	BrainPixels int `yaml:"brainPixels"`

	// BrainFraction is the share of pixels kept
	BrainFraction float64 `yaml:"brainFraction"`

	Stages  []StageReport `yaml:"stages"`
	Outputs []string      `yaml:"outputs"`
}

// IndexReport records how a spectral index was produced
type IndexReport struct {
	Kind     string `yaml:"kind"`
	Fallback bool   `yaml:"fallback"`
}

// HeatmapReport summarizes a heatmap generation run
type HeatmapReport struct {
	Input      CubeInfo       `yaml:"input"`
	FalseColor bool           `yaml:"falseColor"`
	Indices    []IndexReport  `yaml:"indices"`
	Tissue     map[string]int `yaml:"tissue"`
	Outputs    []string       `yaml:"outputs"`
}

// WriteReport writes any report as YAML, creating the parent directory
func WriteReport(path string, report any) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("error marshaling report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing report: %w", err)
	}
	return nil
}
