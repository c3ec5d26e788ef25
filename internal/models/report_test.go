package models

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// TestWriteReport verifies the report lands on disk with its YAML keys
func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "report.yaml")
	report := SkullRemovalReport{
		Input:         CubeInfo{Source: "synthetic", Rows: 4, Cols: 5, Bands: 3},
		BrainPixels:   7,
		BrainFraction: 0.65,
		Stages:        []StageReport{{Stage: "preprocess", Seconds: 0.5}},
		Outputs:       []string{"brain_only.png"},
	}
	if err := WriteReport(path, report); err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read report: %v", err)
	}
	text := string(data)
	for _, key := range []string{"brainPixels: 7", "brainFraction: 0.65", "stage: preprocess"} {
		if !strings.Contains(text, key) {
			t.Errorf("expected %q in report, got:\n%s", key, text)
		}
	}
	if strings.Contains(text, "model:") {
		t.Errorf("expected empty model to be omitted")
	}

	var back SkullRemovalReport
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("failed to parse report: %v", err)
	}
	if back.Input.Bands != 3 || len(back.Stages) != 1 {
		t.Errorf("unexpected report %+v", back)
	}
}
