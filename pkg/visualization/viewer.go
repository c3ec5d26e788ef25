// Package visualization turns cubes, planes and masks into images and writes
// them to disk.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"hyperbrain/pkg/heatmap"
	"hyperbrain/pkg/hsi"
)

// Viewer extracts displayable images from a hyperspectral cube. Sample
// values are expected in [0, 1]; anything outside is clipped.
type Viewer struct {
	cube *hsi.Cube
}

// NewViewer creates a viewer over c. The cube is not copied.
func NewViewer(c *hsi.Cube) *Viewer {
	return &Viewer{cube: c}
}

// ExtractBand renders band b as a 16-bit grayscale image
func (v *Viewer) ExtractBand(b int) (image.Image, error) {
	if b < 0 {
		return nil, fmt.Errorf("band must be non-negative")
	}
	if b >= v.cube.Bands {
		return nil, fmt.Errorf("band %d exceeds band count %d", b, v.cube.Bands)
	}
	p, err := v.cube.Band(b)
	if err != nil {
		return nil, err
	}
	return PlaneImage(p), nil
}

// ExtractProjection renders the mean over all bands
func (v *Viewer) ExtractProjection() (image.Image, error) {
	p, err := hsi.Projection(v.cube)
	if err != nil {
		return nil, err
	}
	return PlaneImage(p), nil
}

// ExtractRegion extracts a spatial subregion with every band
func (v *Viewer) ExtractRegion(startRow, startCol, rows, cols int) (*hsi.Cube, error) {
	if startRow < 0 || startCol < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("region dimensions must be positive")
	}
	if startRow+rows > v.cube.Rows || startCol+cols > v.cube.Cols {
		return nil, fmt.Errorf("region extends beyond cube boundaries")
	}

	bands := v.cube.Bands
	region := hsi.NewCube(rows, cols, bands)
	for r := 0; r < rows; r++ {
		src := ((startRow+r)*v.cube.Cols + startCol) * bands
		copy(region.Data[r*cols*bands:(r+1)*cols*bands], v.cube.Data[src:src+cols*bands])
	}
	return region, nil
}

// SaveBandSequence writes every band to outputDir as band_NNN.<format>
func (v *Viewer) SaveBandSequence(outputDir, format string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	for b := 0; b < v.cube.Bands; b++ {
		img, err := v.ExtractBand(b)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("band_%03d.%s", b, format))
		if err := SaveImage(filename, img); err != nil {
			return err
		}
	}
	return nil
}

func clip16(v float64) uint16 {
	if math.IsNaN(v) {
		return 0
	}
	return uint16(math.Max(0, math.Min(65535, math.Round(v*65535))))
}

func clip8(v float64) uint8 {
	if math.IsNaN(v) {
		return 0
	}
	return uint8(math.Max(0, math.Min(255, math.Round(v*255))))
}

// PlaneImage renders a [0, 1] plane as 16-bit grayscale
func PlaneImage(p *hsi.Plane) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, p.Cols, p.Rows))
	for y := 0; y < p.Rows; y++ {
		for x := 0; x < p.Cols; x++ {
			img.SetGray16(x, y, color.Gray16{Y: clip16(p.At(y, x))})
		}
	}
	return img
}

// MaskImage renders a mask as black and white
func MaskImage(m *hsi.Mask) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Cols, m.Rows))
	for i, set := range m.Data {
		if set {
			img.Pix[i] = 255
		}
	}
	return img
}

// ColorImage renders a [0, 1] plane through a colormap
func ColorImage(p *hsi.Plane, cm heatmap.Colormap) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, p.Cols, p.Rows))
	for y := 0; y < p.Rows; y++ {
		for x := 0; x < p.Cols; x++ {
			c := cm.At(p.At(y, x))
			img.SetNRGBA(x, y, color.NRGBA{R: clip8(c.R), G: clip8(c.G), B: clip8(c.B), A: 255})
		}
	}
	return img
}

// RGBImage renders a three band [0, 1] cube as colour
func RGBImage(c *hsi.Cube) (*image.NRGBA, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Bands != 3 {
		return nil, fmt.Errorf("RGB image needs 3 bands, got %d", c.Bands)
	}
	img := image.NewNRGBA(image.Rect(0, 0, c.Cols, c.Rows))
	for y := 0; y < c.Rows; y++ {
		for x := 0; x < c.Cols; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: clip8(c.At(y, x, 0)),
				G: clip8(c.At(y, x, 1)),
				B: clip8(c.At(y, x, 2)),
				A: 255,
			})
		}
	}
	return img, nil
}
