package segmentation

import (
	"image"
	"math"
	"math/rand/v2"
	"testing"

	"hyperbrain/pkg/hsi"
)

// diskPlane creates a projection with a bright disk on a dark background
func diskPlane(size int, cy, cx, radius, inside, outside float64) *hsi.Plane {
	p := hsi.NewPlane(size, size)
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			dy, dx := float64(r)-cy, float64(c)-cx
			if math.Sqrt(dy*dy+dx*dx) <= radius {
				p.Set(r, c, inside)
			} else {
				p.Set(r, c, outside)
			}
		}
	}
	return p
}

// squareMask sets a size x size square with its top-left corner at (r0, c0)
func squareMask(m *hsi.Mask, r0, c0, size int) {
	for r := r0; r < r0+size; r++ {
		for c := c0; c < c0+size; c++ {
			m.Set(r, c, true)
		}
	}
}

// TestToUint8 verifies scaling, truncation and clamping
func TestToUint8(t *testing.T) {
	p := hsi.NewPlane(1, 5)
	copy(p.Data, []float64{0, 0.5, 1, -0.2, 1.7})
	img := ToUint8(p)

	expected := []uint8{0, 127, 255, 0, 255}
	for i, want := range expected {
		if got := img.GrayAt(i, 0).Y; got != want {
			t.Errorf("pixel %d: expected %d, got %d", i, want, got)
		}
	}
}

// TestSegmentConstantProjection checks the degenerate Otsu case
func TestSegmentConstantProjection(t *testing.T) {
	for _, value := range []float64{0, 0.3, 1} {
		p := hsi.NewPlane(64, 64)
		for i := range p.Data {
			p.Data[i] = value
		}

		res, err := Run(p, DefaultParams())
		if err != nil {
			t.Fatalf("value %.1f: Run failed: %v", value, err)
		}
		if !res.Degenerate {
			t.Errorf("value %.1f: expected degenerate threshold", value)
		}
		if res.Mask.Count() != 0 {
			t.Errorf("value %.1f: expected empty mask, got %d pixels", value, res.Mask.Count())
		}
	}
}

// TestEqualizeAdaptiveConstant verifies that CLAHE maps a flat image to a flat image
func TestEqualizeAdaptiveConstant(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 50, 37))
	for i := range src.Pix {
		src.Pix[i] = 90
	}
	out := EqualizeAdaptive(src, 2.0, 8)

	if out.Bounds().Dx() != 50 || out.Bounds().Dy() != 37 {
		t.Fatalf("expected 50x37 output, got %v", out.Bounds())
	}
	first := out.Pix[0]
	for i, v := range out.Pix {
		if v != first {
			t.Fatalf("pixel %d: expected %d, got %d", i, first, v)
		}
	}
}

// TestOtsuBimodal verifies that the threshold separates two gray levels
func TestOtsuBimodal(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 20, 20))
	for i := range src.Pix {
		if i%3 == 0 {
			src.Pix[i] = 200
		} else {
			src.Pix[i] = 40
		}
	}
	th := OtsuThreshold(src)
	if th < 40 || th >= 200 {
		t.Errorf("expected threshold in [40, 200), got %d", th)
	}
}

// TestRemoveSmallObjects verifies size filtering of foreground components
func TestRemoveSmallObjects(t *testing.T) {
	m := hsi.NewMask(60, 60)
	squareMask(m, 2, 2, 3)    // 9 pixels
	squareMask(m, 20, 20, 30) // 900 pixels

	out := RemoveSmallObjects(m, 500)
	if out.At(3, 3) {
		t.Errorf("small component should have been removed")
	}
	if !out.At(35, 35) {
		t.Errorf("large component should have been kept")
	}
	if out.Count() != 900 {
		t.Errorf("expected 900 pixels, got %d", out.Count())
	}
	if m.Count() != 909 {
		t.Errorf("input mask was mutated")
	}
}

// TestRemoveSmallHoles verifies hole filling
func TestRemoveSmallHoles(t *testing.T) {
	m := hsi.NewMask(80, 80)
	squareMask(m, 10, 10, 60)
	for r := 30; r < 35; r++ {
		for c := 30; c < 35; c++ {
			m.Set(r, c, false)
		}
	}

	out := RemoveSmallHoles(m, 1000)
	if !out.At(32, 32) {
		t.Errorf("hole should have been filled")
	}
	if out.At(0, 0) {
		t.Errorf("large background region should stay background")
	}
}

// TestCloseOpen verifies that opening removes specks and closing bridges gaps
func TestCloseOpen(t *testing.T) {
	m := hsi.NewMask(40, 40)
	squareMask(m, 10, 10, 20)
	m.Set(20, 20, false) // one-pixel gap inside
	m.Set(5, 35, true)   // isolated speck

	out := CloseOpen(m, 5)
	if !out.At(20, 20) {
		t.Errorf("closing should fill the one-pixel gap")
	}
	if out.At(5, 35) {
		t.Errorf("opening should remove the isolated speck")
	}
	if !out.At(10, 10) || !out.At(29, 29) {
		t.Errorf("square corners should survive close then open")
	}
}

// TestSegmentDisk runs the full segmenter on a synthetic bright disk
func TestSegmentDisk(t *testing.T) {
	p := diskPlane(128, 64, 64, 30, 0.8, 0.1)
	mask, err := Segment(p, DefaultParams())
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if !mask.At(64, 64) {
		t.Errorf("disk centre should be foreground")
	}
	for _, corner := range [][2]int{{0, 0}, {0, 127}, {127, 0}, {127, 127}} {
		if mask.At(corner[0], corner[1]) {
			t.Errorf("corner %v should be background", corner)
		}
	}
	if n := CountComponents(mask); n != 1 {
		t.Errorf("expected a single component, got %d", n)
	}
}

// TestCleanupIncreasing checks that a larger input never yields a smaller cleaned mask
func TestCleanupIncreasing(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	params := DefaultParams()
	params.MinObjectSize = 20
	params.MinHoleSize = 30

	for trial := 0; trial < 5; trial++ {
		small := hsi.NewMask(48, 48)
		for i := range small.Data {
			small.Data[i] = rng.Float64() < 0.45
		}
		large := small.Clone()
		for i := range large.Data {
			if rng.Float64() < 0.2 {
				large.Data[i] = true
			}
		}

		if !Cleanup(small, params).Subset(Cleanup(large, params)) {
			t.Fatalf("trial %d: cleanup is not increasing", trial)
		}
	}
}
