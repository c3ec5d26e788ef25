package hsi

import (
	"image"
	"math"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"
)

// DefaultNetworkSize is the spatial size of the classifier input.
const DefaultNetworkSize = 224

// Normalize linearly rescales the cube so that its global minimum maps to 0
// and its global maximum to 1. The input is left untouched.
//
// A constant cube has no range to stretch; the result is then all zeros.
func Normalize(c *Cube) (*Cube, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	out := NewCube(c.Rows, c.Cols, c.Bands)
	rescaleInto(out.Data, c.Data)
	return out, nil
}

// RescalePlane maps the plane's values onto [0, 1] with the same zero-range
// policy as Normalize.
func RescalePlane(p *Plane) *Plane {
	out := NewPlane(p.Rows, p.Cols)
	if len(p.Data) > 0 {
		rescaleInto(out.Data, p.Data)
	}
	return out
}

// rescaleInto writes (src-min)/(max-min) into dst. dst is left zeroed when the
// range is empty or not finite.
func rescaleInto(dst, src []float64) {
	lo, hi := floats.Min(src), floats.Max(src)
	span := hi - lo
	if !(span > 0) || math.IsInf(span, 0) {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	for i, v := range src {
		dst[i] = (v - lo) / span
	}
	// Guard against rounding pushing the extremes outside [0, 1].
	for i, v := range dst {
		if v < 0 {
			dst[i] = 0
		} else if v > 1 {
			dst[i] = 1
		}
	}
}

// Projection returns the per-pixel mean across bands.
func Projection(c *Cube) (*Plane, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	p := NewPlane(c.Rows, c.Cols)
	n := float64(c.Bands)
	for i := range p.Data {
		p.Data[i] = floats.Sum(c.Data[i*c.Bands:(i+1)*c.Bands]) / n
	}
	return p, nil
}

// NetworkInput resizes every band to size x size and rescales the result to
// [0, 1] as a whole, producing the classifier input for the cube.
func NetworkInput(c *Cube, size int) (*Cube, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if size <= 0 {
		size = DefaultNetworkSize
	}

	out := NewCube(size, size, c.Bands)
	for b := 0; b < c.Bands; b++ {
		band, err := c.Band(b)
		if err != nil {
			return nil, err
		}
		if err := out.SetBand(b, ResizePlane(band, size, size)); err != nil {
			return nil, err
		}
	}
	rescaleInto(out.Data, out.Data)
	return out, nil
}

// ResizePlane resamples the plane to rows x cols with bilinear interpolation.
//
// Values are carried through 16-bit grayscale images relative to the plane's
// own range, so the result keeps the input range up to 1/65535 of it.
func ResizePlane(p *Plane, rows, cols int) *Plane {
	if p.Rows == rows && p.Cols == cols {
		return p.Clone()
	}

	lo, hi := floats.Min(p.Data), floats.Max(p.Data)
	out := NewPlane(rows, cols)
	if !(hi > lo) {
		for i := range out.Data {
			out.Data[i] = lo
		}
		return out
	}

	src := PlaneToGray16(p, lo, hi)
	dst := image.NewGray16(image.Rect(0, 0, cols, rows))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return Gray16ToPlane(dst, lo, hi)
}

// ResizeMask resamples a mask to rows x cols by resizing its 0/1 plane and
// keeping pixels above one half.
func ResizeMask(m *Mask, rows, cols int) *Mask {
	if m.Rows == rows && m.Cols == cols {
		return m.Clone()
	}
	return ResizePlane(m.Plane(), rows, cols).Threshold(0.5)
}

// PlaneToGray16 encodes the plane into a 16-bit image where lo maps to 0 and
// hi maps to 65535. Values outside [lo, hi] are clamped.
func PlaneToGray16(p *Plane, lo, hi float64) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, p.Cols, p.Rows))
	span := hi - lo
	for r := 0; r < p.Rows; r++ {
		for c := 0; c < p.Cols; c++ {
			v := 0.0
			if span > 0 {
				v = (p.At(r, c) - lo) / span
			}
			v = math.Max(0, math.Min(1, v))
			off := img.PixOffset(c, r)
			y := uint16(math.Round(v * 65535))
			img.Pix[off] = uint8(y >> 8)
			img.Pix[off+1] = uint8(y)
		}
	}
	return img
}

// Gray16ToPlane decodes a 16-bit image produced by PlaneToGray16. Results
// never exceed hi.
func Gray16ToPlane(img *image.Gray16, lo, hi float64) *Plane {
	b := img.Bounds()
	p := NewPlane(b.Dy(), b.Dx())
	span := hi - lo
	for r := 0; r < p.Rows; r++ {
		for c := 0; c < p.Cols; c++ {
			off := img.PixOffset(b.Min.X+c, b.Min.Y+r)
			y := uint16(img.Pix[off])<<8 | uint16(img.Pix[off+1])
			p.Set(r, c, math.Min(lo+span*float64(y)/65535, hi))
		}
	}
	return p
}
