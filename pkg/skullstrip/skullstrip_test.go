package skullstrip

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"hyperbrain/pkg/cnn"
	"hyperbrain/pkg/hsi"
	"hyperbrain/pkg/segmentation"
)

// noCleanup disables every cleanup operation so fusion rules can be checked directly
func noCleanup() FusionParams {
	p := DefaultFusionParams()
	p.Cleanup.MinObjectSize = 0
	p.Cleanup.MinHoleSize = 0
	p.Cleanup.KernelSize = 1
	return p
}

// TestFuseRules verifies both fusion rules pixel by pixel
func TestFuseRules(t *testing.T) {
	heat := hsi.NewPlane(1, 4)
	copy(heat.Data, []float64{0.9, 0.9, 0.1, 0.1})
	traditional := hsi.NewMask(1, 4)
	copy(traditional.Data, []bool{true, false, true, false})

	testCases := []struct {
		rule     string
		expected []bool
	}{
		// skull = hot OR outside
		{RuleUnion, []bool{false, false, true, false}},
		// skull = hot AND outside
		{RuleIntersection, []bool{true, false, true, true}},
	}

	for _, tc := range testCases {
		t.Run(tc.rule, func(t *testing.T) {
			params := noCleanup()
			params.Rule = tc.rule
			brain, err := Fuse(heat, traditional, params)
			if err != nil {
				t.Fatalf("Fuse failed: %v", err)
			}
			for i, want := range tc.expected {
				if brain.Data[i] != want {
					t.Errorf("pixel %d: expected %v, got %v", i, want, brain.Data[i])
				}
			}
		})
	}
}

// TestFuseThreshold checks that the threshold is strict
func TestFuseThreshold(t *testing.T) {
	heat := hsi.NewPlane(1, 2)
	copy(heat.Data, []float64{0.5, 0.5000001})
	traditional := hsi.NewMask(1, 2)
	traditional.Data[0], traditional.Data[1] = true, true

	brain, err := Fuse(heat, traditional, noCleanup())
	if err != nil {
		t.Fatalf("Fuse failed: %v", err)
	}
	if !brain.Data[0] || brain.Data[1] {
		t.Errorf("expected [true false], got %v", brain.Data)
	}
}

// TestFuseErrors covers extent and rule validation
func TestFuseErrors(t *testing.T) {
	if _, err := Fuse(hsi.NewPlane(2, 2), hsi.NewMask(2, 3), DefaultFusionParams()); !errors.Is(err, hsi.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
	params := DefaultFusionParams()
	params.Rule = "xor"
	if _, err := Fuse(hsi.NewPlane(2, 2), hsi.NewMask(2, 2), params); err == nil {
		t.Errorf("expected an error for an unknown rule")
	}
}

// TestFuseMonotone checks that a wider traditional mask never shrinks the brain
func TestFuseMonotone(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	params := DefaultFusionParams()
	params.Cleanup.MinObjectSize = 15
	params.Cleanup.MinHoleSize = 25
	params.Cleanup.KernelSize = 3

	for _, rule := range []string{RuleUnion, RuleIntersection} {
		params.Rule = rule
		for trial := 0; trial < 4; trial++ {
			heat := hsi.NewPlane(40, 40)
			narrow := hsi.NewMask(40, 40)
			for i := range heat.Data {
				heat.Data[i] = rng.Float64()
				narrow.Data[i] = rng.Float64() < 0.5
			}
			wide := narrow.Clone()
			for i := range wide.Data {
				if rng.Float64() < 0.3 {
					wide.Data[i] = true
				}
			}

			small, err := Fuse(heat, narrow, params)
			if err != nil {
				t.Fatalf("Fuse failed: %v", err)
			}
			large, err := Fuse(heat, wide, params)
			if err != nil {
				t.Fatalf("Fuse failed: %v", err)
			}
			if !small.Subset(large) {
				t.Fatalf("rule %s trial %d: brain mask shrank for a wider traditional mask", rule, trial)
			}
		}
	}
}

// TestApplyMask verifies exact band multiplication
func TestApplyMask(t *testing.T) {
	c := hsi.NewCube(2, 2, 3)
	for i := range c.Data {
		c.Data[i] = float64(i) + 0.25
	}
	m := hsi.NewMask(2, 2)
	m.Set(0, 1, true)
	m.Set(1, 0, true)

	out, err := ApplyMask(c, m)
	if err != nil {
		t.Fatalf("ApplyMask failed: %v", err)
	}
	for r := 0; r < 2; r++ {
		for col := 0; col < 2; col++ {
			for b := 0; b < 3; b++ {
				want := 0.0
				if m.At(r, col) {
					want = c.At(r, col, b)
				}
				if got := out.At(r, col, b); got != want {
					t.Errorf("(%d,%d,%d): expected %f, got %f", r, col, b, want, got)
				}
			}
		}
	}
	if c.Data[0] != 0.25 {
		t.Errorf("input cube was modified")
	}

	if _, err := ApplyMask(c, hsi.NewMask(3, 2)); !errors.Is(err, hsi.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

// TestProcessArrayInvalidShape verifies non-3D input is rejected
func TestProcessArrayInvalidShape(t *testing.T) {
	r := NewRemover(DefaultParams())
	for _, shape := range [][]int{{16}, {4, 4}, {2, 2, 2, 2}} {
		size := 1
		for _, d := range shape {
			size *= d
		}
		_, err := r.ProcessArray(shape, make([]float64, size), nil)
		var shapeErr *hsi.InvalidShapeError
		if !errors.As(err, &shapeErr) {
			t.Errorf("shape %v: expected InvalidShapeError, got %v", shape, err)
			continue
		}
		if shapeErr.Dims != len(shape) {
			t.Errorf("shape %v: expected Dims %d, got %d", shape, len(shape), shapeErr.Dims)
		}
	}
}

type recordingSaver struct {
	planes map[string]bool
	masks  map[string]bool
	fail   bool
}

func (s *recordingSaver) SavePlane(name string, p *hsi.Plane) error {
	s.planes[name] = true
	if s.fail {
		return errors.New("disk full")
	}
	return nil
}

func (s *recordingSaver) SaveMask(name string, m *hsi.Mask) error {
	s.masks[name] = true
	if s.fail {
		return errors.New("disk full")
	}
	return nil
}

// pretrainedNetwork builds a small untrained classifier for a 32x32 input
func pretrainedNetwork(t *testing.T, bands int) *cnn.Network {
	t.Helper()
	net, err := cnn.Build(cnn.SkullBrainLayers(), cnn.Shape{H: 32, W: 32, C: bands}, 4)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return net
}

// TestProcessPretrained runs the pipeline with a supplied model
func TestProcessPretrained(t *testing.T) {
	cube := hsi.SyntheticCube(48, 40, 3, 2)
	norm, err := hsi.Normalize(cube)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	before := norm.Clone()

	saver := &recordingSaver{planes: map[string]bool{}, masks: map[string]bool{}, fail: true}
	params := DefaultParams()
	params.Verbose = false
	params.Saver = saver
	net := pretrainedNetwork(t, 3)

	res, err := NewRemover(params).Process(norm, net)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Model != net {
		t.Errorf("expected the pretrained model to be returned")
	}
	if res.History != nil {
		t.Errorf("expected no training history with a pretrained model")
	}
	if res.Mask.Rows != 48 || res.Mask.Cols != 40 || res.Heatmap.Rows != 48 || res.Heatmap.Cols != 40 {
		t.Errorf("outputs should match the 48x40 input")
	}
	for _, v := range res.Heatmap.Data {
		if v < 0 || v > 1 || math.IsNaN(v) {
			t.Fatalf("heatmap value %f outside [0, 1]", v)
		}
	}
	for p, keep := range res.Mask.Data {
		for b := 0; b < 3; b++ {
			got := res.BrainOnly.Data[p*3+b]
			if !keep && got != 0 {
				t.Fatalf("pixel %d band %d: expected 0 outside the mask, got %f", p, b, got)
			}
			if keep && got != norm.Data[p*3+b] {
				t.Fatalf("pixel %d band %d: expected the input value inside the mask", p, b)
			}
		}
	}
	for i := range before.Data {
		if before.Data[i] != norm.Data[i] {
			t.Fatalf("input cube was modified")
		}
	}

	for _, name := range []string{"projection", "heatmap"} {
		if !saver.planes[name] {
			t.Errorf("expected plane %q to be saved", name)
		}
	}
	for _, name := range []string{"traditional", "mask"} {
		if !saver.masks[name] {
			t.Errorf("expected mask %q to be saved", name)
		}
	}

	stages := []string{"preprocess", "gradcam", "fusion", "mask"}
	if len(res.Timings) != len(stages) {
		t.Fatalf("expected %d timings, got %d", len(stages), len(res.Timings))
	}
	for i, s := range stages {
		if res.Timings[i].Stage != s {
			t.Errorf("timing %d: expected %s, got %s", i, s, res.Timings[i].Stage)
		}
	}
}

// TestProcessPretrainedBandMismatch rejects a model built for other bands
func TestProcessPretrainedBandMismatch(t *testing.T) {
	params := DefaultParams()
	params.Verbose = false
	_, err := NewRemover(params).Process(hsi.SyntheticCube(32, 32, 4, 1), pretrainedNetwork(t, 3))
	if err == nil {
		t.Errorf("expected an error for a band mismatch")
	}
}

// TestProcessScaleInvariant verifies the mask ignores the cube's absolute
// scale while BrainOnly keeps the input values
func TestProcessScaleInvariant(t *testing.T) {
	const scale = 1024
	unit := hsi.BlobCube(96, 96, 4, 48, 48, 15, 1)
	scaled := make([]float64, len(unit.Data))
	for i, v := range unit.Data {
		scaled[i] = v * scale
	}

	params := DefaultParams()
	params.Verbose = false
	remover := NewRemover(params)
	net := pretrainedNetwork(t, 4)

	want, err := remover.Process(unit, net)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	got, err := remover.ProcessArray([]int{96, 96, 4}, scaled, net)
	if err != nil {
		t.Fatalf("ProcessArray failed: %v", err)
	}

	if got.Traditional.Count() == 0 {
		t.Fatalf("expected a non-empty classical mask")
	}
	if !got.Mask.Equal(want.Mask) {
		t.Errorf("expected the same mask for the scaled cube, got %d pixels instead of %d",
			got.Mask.Count(), want.Mask.Count())
	}
	if !got.Traditional.Equal(want.Traditional) {
		t.Errorf("expected the same classical mask for the scaled cube")
	}
	for i, v := range got.BrainOnly.Data {
		if v != want.BrainOnly.Data[i]*scale {
			t.Fatalf("index %d: expected %f, got %f", i, want.BrainOnly.Data[i]*scale, v)
		}
	}
}

// TestProcessTraditionalSource verifies which classical mask is fused
func TestProcessTraditionalSource(t *testing.T) {
	cube := hsi.BlobCube(96, 96, 4, 48, 48, 15, 1)
	proj, err := hsi.Projection(cube)
	if err != nil {
		t.Fatalf("Projection failed: %v", err)
	}
	seg, err := segmentation.Run(proj, segmentation.DefaultParams())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	net := pretrainedNetwork(t, 4)

	for _, tc := range []struct {
		source string
		want   *hsi.Mask
	}{
		{SourceCleaned, seg.Mask},
		{SourceThreshold, seg.Initial},
	} {
		params := DefaultParams()
		params.Verbose = false
		params.Fusion.Source = tc.source
		res, err := NewRemover(params).Process(cube, net)
		if err != nil {
			t.Fatalf("%s: Process failed: %v", tc.source, err)
		}
		if !res.Traditional.Equal(tc.want) {
			t.Errorf("%s: unexpected traditional mask with %d pixels, expected %d",
				tc.source, res.Traditional.Count(), tc.want.Count())
		}
	}

	params := DefaultParams()
	params.Verbose = false
	params.Fusion.Source = "raw"
	if _, err := NewRemover(params).Process(cube, net); err == nil {
		t.Errorf("expected an error for an unknown source")
	}
}

// blobParams is a fast configuration for end-to-end runs
func blobParams() Params {
	params := DefaultParams()
	params.InputSize = 64
	params.Verbose = false
	return params
}

// coreKept reports whether every pixel within radius of (cy, cx) is in the mask
func coreKept(m *hsi.Mask, cy, cx, radius int) bool {
	for r := cy - radius; r <= cy+radius; r++ {
		for c := cx - radius; c <= cx+radius; c++ {
			if (r-cy)*(r-cy)+(c-cx)*(c-cx) <= radius*radius && !m.At(r, c) {
				return false
			}
		}
	}
	return true
}

// TestProcessBlobResponds checks the full pipeline on a bright blob and that
// moving the blob moves the mask
func TestProcessBlobResponds(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping end-to-end training in short mode")
	}

	params := blobParams()
	// Nothing exceeds a threshold of 1, so the mask follows the classical
	// segmentation exactly.
	params.Fusion.Threshold = 1.0
	remover := NewRemover(params)

	centred, err := remover.Process(hsi.BlobCube(256, 256, 10, 128, 128, 30, 1), nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !coreKept(centred.Mask, 128, 128, 10) {
		t.Errorf("blob core should be inside the brain mask")
	}
	if !centred.Mask.Equal(segmentation.Cleanup(centred.Traditional, params.Fusion.Cleanup)) {
		t.Errorf("expected the mask to equal the cleaned classical mask")
	}
	if centred.History == nil || len(centred.History.Loss) != 5 {
		t.Errorf("expected five training epochs")
	}

	shifted, err := remover.Process(hsi.BlobCube(256, 256, 10, 60, 60, 30, 1), nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !coreKept(shifted.Mask, 60, 60, 10) {
		t.Errorf("shifted blob core should be inside the brain mask")
	}
	if shifted.Mask.At(128, 128) {
		t.Errorf("the old blob centre should be removed after shifting")
	}
	if shifted.Mask.Equal(centred.Mask) {
		t.Errorf("mask should change when the blob moves")
	}
}

// TestProcessDefaultParams runs the pipeline with the default 224 pixel
// input and 0.5 threshold. The classifier fitted on a single blob image
// gives no positive Grad-CAM evidence, so the run is flagged degenerate and
// the mask falls back to the cleaned classical segmentation.
func TestProcessDefaultParams(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping end-to-end training in short mode")
	}

	params := DefaultParams()
	params.Verbose = false
	if params.InputSize != 224 || params.Fusion.Threshold != 0.5 {
		t.Fatalf("unexpected defaults: input %d, threshold %f", params.InputSize, params.Fusion.Threshold)
	}

	res, err := NewRemover(params).Process(hsi.BlobCube(256, 256, 10, 128, 128, 30, 1), nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !coreKept(res.Mask, 128, 128, 10) {
		t.Errorf("blob core should be inside the brain mask")
	}
	if !res.Degenerate {
		t.Errorf("expected a degenerate heatmap")
	}
	for _, v := range res.Heatmap.Data {
		if v != 0 {
			t.Fatalf("expected an all-zero heatmap, got %f", v)
		}
	}
	if !res.Mask.Equal(segmentation.Cleanup(res.Traditional, params.Fusion.Cleanup)) {
		t.Errorf("expected the mask to equal the cleaned classical mask")
	}
}

// TestProcessDefaultFusion runs the default pipeline and checks the fused
// mask never extends beyond the cleaned classical mask
func TestProcessDefaultFusion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping end-to-end training in short mode")
	}

	params := blobParams()
	res, err := NewRemover(params).Process(hsi.BlobCube(256, 256, 10, 128, 128, 30, 1), nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !res.Mask.Subset(segmentation.Cleanup(res.Traditional, params.Fusion.Cleanup)) {
		t.Errorf("union fusion should stay within the cleaned classical mask")
	}
	for _, v := range res.Heatmap.Data {
		if v < 0 || v > 1 || math.IsNaN(v) {
			t.Fatalf("heatmap value %f outside [0, 1]", v)
		}
	}
	if res.BrainOnly.Rows != 256 || res.BrainOnly.Cols != 256 || res.BrainOnly.Bands != 10 {
		t.Errorf("unexpected output shape %v", res.BrainOnly.Shape())
	}
}
