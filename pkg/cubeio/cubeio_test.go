package cubeio

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/ftrvxmtrx/tga"
	"github.com/suyashkumar/dicom/pkg/frame"

	"hyperbrain/pkg/hsi"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode %s: %v", path, err)
	}
}

// TestLoadGrayImage verifies a grayscale image becomes a single band
func TestLoadGrayImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 3))
	img.SetGray(1, 2, color.Gray{Y: 255})
	img.SetGray(3, 0, color.Gray{Y: 51})
	path := filepath.Join(t.TempDir(), "gray.png")
	writePNG(t, path, img)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Rows != 3 || c.Cols != 4 || c.Bands != 1 {
		t.Fatalf("expected 3x4x1, got %v", c.Shape())
	}
	if c.At(2, 1, 0) != 1 {
		t.Errorf("expected 1 at (2,1), got %f", c.At(2, 1, 0))
	}
	if c.At(0, 3, 0) != 0.2 {
		t.Errorf("expected 0.2 at (0,3), got %f", c.At(0, 3, 0))
	}
}

// TestLoadColorImage verifies a colour image becomes three bands
func TestLoadColorImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 1, color.NRGBA{R: 255, G: 0, B: 255, A: 255})
	path := filepath.Join(t.TempDir(), "color.png")
	writePNG(t, path, img)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Bands != 3 {
		t.Fatalf("expected 3 bands, got %d", c.Bands)
	}
	if c.At(1, 0, 0) != 1 || c.At(1, 0, 1) != 0 || c.At(1, 0, 2) != 1 {
		t.Errorf("unexpected pixel %f %f %f", c.At(1, 0, 0), c.At(1, 0, 1), c.At(1, 0, 2))
	}
}

// TestLoadDirOrdersBands verifies bands follow the numbers in the file names
func TestLoadDirOrdersBands(t *testing.T) {
	dir := t.TempDir()
	for _, tc := range []struct {
		name  string
		value uint8
	}{
		{"band10.png", 30},
		{"band2.png", 20},
		{"band1.png", 10},
	} {
		img := image.NewGray(image.Rect(0, 0, 3, 3))
		for i := range img.Pix {
			img.Pix[i] = tc.value
		}
		writePNG(t, filepath.Join(dir, tc.name), img)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatalf("failed to write notes: %v", err)
	}

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Bands != 3 {
		t.Fatalf("expected 3 bands, got %d", c.Bands)
	}
	for b, want := range []float64{10.0 / 255, 20.0 / 255, 30.0 / 255} {
		if got := c.At(1, 1, b); got != want {
			t.Errorf("band %d: expected %f, got %f", b, want, got)
		}
	}
}

// TestLoadDirSizeMismatch verifies all band images must share a size
func TestLoadDirSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "1.png"), image.NewGray(image.Rect(0, 0, 3, 3)))
	writePNG(t, filepath.Join(dir, "2.png"), image.NewGray(image.Rect(0, 0, 4, 3)))
	if _, err := LoadDir(dir); !errors.Is(err, hsi.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

// TestLoadPNGAndTGA verifies both formats decode side by side
func TestLoadPNGAndTGA(t *testing.T) {
	dir := t.TempDir()

	gray := image.NewGray(image.Rect(0, 0, 4, 4))
	gray.SetGray(2, 1, color.Gray{Y: 255})
	pngPath := filepath.Join(dir, "a.png")
	writePNG(t, pngPath, gray)

	rgb := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	for i := range rgb.Pix {
		rgb.Pix[i] = 255
	}
	rgb.SetNRGBA(1, 0, color.NRGBA{R: 255, G: 0, B: 0, A: 255})
	tgaPath := filepath.Join(dir, "b.tga")
	f, err := os.Create(tgaPath)
	if err != nil {
		t.Fatalf("failed to create %s: %v", tgaPath, err)
	}
	if err := tga.Encode(f, rgb); err != nil {
		f.Close()
		t.Fatalf("failed to encode %s: %v", tgaPath, err)
	}
	f.Close()

	c, err := Load(pngPath)
	if err != nil {
		t.Fatalf("Load png failed: %v", err)
	}
	if c.Bands != 1 || c.At(1, 2, 0) != 1 || c.At(0, 0, 0) != 0 {
		t.Errorf("unexpected png cube %v", c.Shape())
	}

	c, err = Load(tgaPath)
	if err != nil {
		t.Fatalf("Load tga failed: %v", err)
	}
	if c.Rows != 2 || c.Cols != 3 || c.Bands != 3 {
		t.Fatalf("expected 2x3x3, got %v", c.Shape())
	}
	if c.At(0, 1, 0) != 1 || c.At(0, 1, 1) != 0 || c.At(0, 1, 2) != 0 {
		t.Errorf("expected red at (0,1), got %f %f %f", c.At(0, 1, 0), c.At(0, 1, 1), c.At(0, 1, 2))
	}
	if c.At(1, 2, 1) != 1 {
		t.Errorf("expected white at (1,2), got %f", c.At(1, 2, 1))
	}
}

// TestLoadUnsupported verifies unknown extensions are rejected
func TestLoadUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cube.mat")
	if err := os.WriteFile(path, []byte{0}, 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.npy")); err == nil {
		t.Errorf("expected an error for a missing file")
	}
}

// TestSaveLoadNPY verifies the pixel-by-band layout written by SaveNPY
func TestSaveLoadNPY(t *testing.T) {
	c := hsi.NewCube(3, 4, 2)
	for i := range c.Data {
		c.Data[i] = float64(i) * 0.5
	}
	path := filepath.Join(t.TempDir(), "out", "cube.npy")
	if err := SaveNPY(path, c); err != nil {
		t.Fatalf("SaveNPY failed: %v", err)
	}

	table, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if table.Rows != 12 || table.Cols != 2 || table.Bands != 1 {
		t.Fatalf("expected a 12x2 table, got %v", table.Shape())
	}

	back, err := hsi.FromArray(c.Shape(), table.Data)
	if err != nil {
		t.Fatalf("FromArray failed: %v", err)
	}
	for i := range c.Data {
		if back.Data[i] != c.Data[i] {
			t.Fatalf("sample %d: expected %f, got %f", i, c.Data[i], back.Data[i])
		}
	}
}

// TestFortranToC checks column-major reordering
func TestFortranToC(t *testing.T) {
	// A 2x3 matrix [[1 2 3] [4 5 6]] stored column by column.
	got := fortranToC([]float64{1, 4, 2, 5, 3, 6}, []int{2, 3})
	want := []float64{1, 2, 3, 4, 5, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

// TestFramesToCube verifies DICOM frames are stacked as bands
func TestFramesToCube(t *testing.T) {
	var frames []*frame.Frame
	for f := 0; f < 2; f++ {
		native := frame.NewNativeFrame[uint16](16, 2, 3, 6, 1)
		for i := range native.RawData {
			native.RawData[i] = uint16(f * 65535)
		}
		frames = append(frames, &frame.Frame{Encapsulated: false, NativeData: native})
	}

	c, err := FramesToCube(frames)
	if err != nil {
		t.Fatalf("FramesToCube failed: %v", err)
	}
	if c.Rows != 2 || c.Cols != 3 || c.Bands != 2 {
		t.Fatalf("expected 2x3x2, got %v", c.Shape())
	}
	if c.At(1, 2, 0) != 0 || c.At(1, 2, 1) != 1 {
		t.Errorf("expected bands 0 and 1, got %f and %f", c.At(1, 2, 0), c.At(1, 2, 1))
	}
}
