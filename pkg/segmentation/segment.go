// Package segmentation implements the classical tissue segmenter: adaptive
// histogram equalization, a global Otsu threshold and morphological cleanup.
//
// The contrast, threshold and morphology kernels have two implementations.
// The default build uses pure Go; building with the "opencv" tag routes them
// through gocv instead. Connected-component filtering is shared.
package segmentation

import (
	"fmt"
	"image"
	"math"

	"hyperbrain/pkg/hsi"
)

// Params controls the traditional segmenter.
type Params struct {
	// ClipLimit is the CLAHE contrast limit.
	ClipLimit float64

	// TileGrid is the number of CLAHE tiles along each axis.
	TileGrid int

	// MinObjectSize removes foreground components smaller than this many pixels.
	MinObjectSize int

	// MinHoleSize fills background components smaller than this many pixels.
	MinHoleSize int

	// KernelSize is the side of the square structuring element used for
	// closing and opening.
	KernelSize int
}

// DefaultParams returns the segmenter constants.
func DefaultParams() Params {
	return Params{
		ClipLimit:     2.0,
		TileGrid:      8,
		MinObjectSize: 500,
		MinHoleSize:   1000,
		KernelSize:    5,
	}
}

// Result holds the intermediate products of a segmentation run.
type Result struct {
	// Enhanced is the contrast-limited equalized 8-bit projection.
	Enhanced *image.Gray

	// Threshold is the Otsu level; foreground pixels are strictly above it.
	Threshold uint8

	// Degenerate is set when the enhanced image holds a single gray level and
	// no threshold could separate two classes.
	Degenerate bool

	// Initial is the mask right after thresholding.
	Initial *hsi.Mask

	// Mask is the cleaned result.
	Mask *hsi.Mask
}

// Segment runs the full traditional segmentation on a projection in [0, 1]
// and returns the cleaned mask.
func Segment(proj *hsi.Plane, params Params) (*hsi.Mask, error) {
	res, err := Run(proj, params)
	if err != nil {
		return nil, err
	}
	return res.Mask, nil
}

// Run is Segment with the intermediate products exposed.
func Run(proj *hsi.Plane, params Params) (*Result, error) {
	if proj == nil || proj.Rows == 0 || proj.Cols == 0 {
		return nil, hsi.ErrEmptyCube
	}
	if params.TileGrid <= 0 {
		return nil, fmt.Errorf("tile grid must be positive, got %d", params.TileGrid)
	}
	if params.KernelSize <= 0 {
		return nil, fmt.Errorf("kernel size must be positive, got %d", params.KernelSize)
	}

	gray := ToUint8(proj)
	enhanced := equalizeAdaptive(gray, params.ClipLimit, params.TileGrid)

	res := &Result{Enhanced: enhanced}
	lo, hi := grayRange(enhanced)
	if lo == hi {
		// A single gray level: every pixel sits on the threshold, nothing is
		// strictly above it.
		res.Threshold = lo
		res.Degenerate = true
	} else {
		res.Threshold = otsuThreshold(enhanced)
	}

	res.Initial = binarize(enhanced, res.Threshold)
	res.Mask = Cleanup(res.Initial, params)
	return res, nil
}

// Cleanup removes small objects, fills small holes, then closes and opens the
// mask with a square structuring element.
func Cleanup(mask *hsi.Mask, params Params) *hsi.Mask {
	cleaned := RemoveSmallObjects(mask, params.MinObjectSize)
	cleaned = RemoveSmallHoles(cleaned, params.MinHoleSize)
	return CloseOpen(cleaned, params.KernelSize)
}

// CloseOpen applies one closing followed by one opening.
func CloseOpen(mask *hsi.Mask, kernelSize int) *hsi.Mask {
	return maskFromGray(morphCloseOpen(maskToGray(mask), kernelSize))
}

// ToUint8 converts a [0, 1] plane to 8 bits by scaling with 255 and
// truncating, clamping out-of-range values.
func ToUint8(p *hsi.Plane) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, p.Cols, p.Rows))
	for r := 0; r < p.Rows; r++ {
		for c := 0; c < p.Cols; c++ {
			v := p.At(r, c) * 255
			if math.IsNaN(v) || v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			img.Pix[img.PixOffset(c, r)] = uint8(v)
		}
	}
	return img
}

// EqualizeAdaptive exposes the CLAHE step of the active backend.
func EqualizeAdaptive(src *image.Gray, clipLimit float64, tileGrid int) *image.Gray {
	return equalizeAdaptive(src, clipLimit, tileGrid)
}

// OtsuThreshold exposes the threshold step of the active backend. Foreground
// is every pixel strictly above the returned level.
func OtsuThreshold(src *image.Gray) uint8 {
	lo, hi := grayRange(src)
	if lo == hi {
		return lo
	}
	return otsuThreshold(src)
}

func binarize(img *image.Gray, t uint8) *hsi.Mask {
	b := img.Bounds()
	m := hsi.NewMask(b.Dy(), b.Dx())
	for r := 0; r < m.Rows; r++ {
		for c := 0; c < m.Cols; c++ {
			m.Set(r, c, img.GrayAt(b.Min.X+c, b.Min.Y+r).Y > t)
		}
	}
	return m
}

func grayRange(img *image.Gray) (lo, hi uint8) {
	lo, hi = 255, 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := img.GrayAt(x, y).Y
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	return lo, hi
}

func maskToGray(m *hsi.Mask) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Cols, m.Rows))
	for i, v := range m.Data {
		if v {
			r, c := i/m.Cols, i%m.Cols
			img.Pix[img.PixOffset(c, r)] = 255
		}
	}
	return img
}

func maskFromGray(img *image.Gray) *hsi.Mask {
	b := img.Bounds()
	m := hsi.NewMask(b.Dy(), b.Dx())
	for r := 0; r < m.Rows; r++ {
		for c := 0; c < m.Cols; c++ {
			m.Set(r, c, img.GrayAt(b.Min.X+c, b.Min.Y+r).Y != 0)
		}
	}
	return m
}
