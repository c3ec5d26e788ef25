// Package hsi holds the in-memory representation of hyperspectral image cubes
// and the preprocessing steps shared by the skull removal and heatmap tools.
package hsi

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCube is returned when a cube or plane has no pixels.
	ErrEmptyCube = errors.New("hsi: empty cube")

	// ErrShapeMismatch is returned when two arrays that must share a spatial
	// extent do not.
	ErrShapeMismatch = errors.New("hsi: shape mismatch")
)

// InvalidShapeError reports an input array whose dimensionality cannot be
// interpreted as an image cube.
type InvalidShapeError struct {
	Dims int
}

func (e *InvalidShapeError) Error() string {
	return fmt.Sprintf("hsi: invalid shape: expected 2 or 3 dimensions, got %d", e.Dims)
}

// Cube is a rows x cols x bands array of samples.
//
// Data is stored row-major with the band index varying fastest, so the sample
// at (r, c, b) lives at Data[(r*Cols+c)*Bands+b]. This matches the memory
// layout of a C-ordered (rows, cols, bands) NumPy array.
type Cube struct {
	Rows  int
	Cols  int
	Bands int
	Data  []float64
}

// NewCube allocates a zeroed cube.
func NewCube(rows, cols, bands int) *Cube {
	return &Cube{
		Rows:  rows,
		Cols:  cols,
		Bands: bands,
		Data:  make([]float64, rows*cols*bands),
	}
}

// FromArray builds a cube from a flat C-ordered array and its shape.
//
// A 2D shape is accepted and treated as a single-band cube. Shapes with fewer
// than 2 or more than 3 dimensions are rejected with *InvalidShapeError.
// The data slice is copied.
func FromArray(shape []int, data []float64) (*Cube, error) {
	var rows, cols, bands int
	switch len(shape) {
	case 2:
		rows, cols, bands = shape[0], shape[1], 1
	case 3:
		rows, cols, bands = shape[0], shape[1], shape[2]
	default:
		return nil, &InvalidShapeError{Dims: len(shape)}
	}

	if rows <= 0 || cols <= 0 || bands <= 0 {
		return nil, fmt.Errorf("%w: shape %v", ErrEmptyCube, shape)
	}
	if len(data) != rows*cols*bands {
		return nil, fmt.Errorf("%w: shape %v needs %d samples, got %d",
			ErrShapeMismatch, shape, rows*cols*bands, len(data))
	}

	c := NewCube(rows, cols, bands)
	copy(c.Data, data)
	return c, nil
}

// Shape returns (rows, cols, bands).
func (c *Cube) Shape() []int {
	return []int{c.Rows, c.Cols, c.Bands}
}

// Validate checks the structural invariants of the cube.
func (c *Cube) Validate() error {
	if c == nil || c.Rows <= 0 || c.Cols <= 0 || c.Bands <= 0 {
		return ErrEmptyCube
	}
	if len(c.Data) != c.Rows*c.Cols*c.Bands {
		return fmt.Errorf("%w: %dx%dx%d cube holds %d samples",
			ErrShapeMismatch, c.Rows, c.Cols, c.Bands, len(c.Data))
	}
	return nil
}

// At returns the sample at (r, col, b).
func (c *Cube) At(r, col, b int) float64 {
	return c.Data[(r*c.Cols+col)*c.Bands+b]
}

// Set stores v at (r, col, b).
func (c *Cube) Set(r, col, b int, v float64) {
	c.Data[(r*c.Cols+col)*c.Bands+b] = v
}

// Clone returns a deep copy of the cube.
func (c *Cube) Clone() *Cube {
	out := NewCube(c.Rows, c.Cols, c.Bands)
	copy(out.Data, c.Data)
	return out
}

// Band extracts band b as a plane.
func (c *Cube) Band(b int) (*Plane, error) {
	if b < 0 || b >= c.Bands {
		return nil, fmt.Errorf("band %d out of range [0, %d)", b, c.Bands)
	}
	p := NewPlane(c.Rows, c.Cols)
	for i := range p.Data {
		p.Data[i] = c.Data[i*c.Bands+b]
	}
	return p, nil
}

// SetBand overwrites band b with the values of p.
func (c *Cube) SetBand(b int, p *Plane) error {
	if b < 0 || b >= c.Bands {
		return fmt.Errorf("band %d out of range [0, %d)", b, c.Bands)
	}
	if p.Rows != c.Rows || p.Cols != c.Cols {
		return fmt.Errorf("%w: band is %dx%d, cube is %dx%d",
			ErrShapeMismatch, p.Rows, p.Cols, c.Rows, c.Cols)
	}
	for i, v := range p.Data {
		c.Data[i*c.Bands+b] = v
	}
	return nil
}

// SelectBands returns a new cube made of the listed bands, in order.
func (c *Cube) SelectBands(bands []int) (*Cube, error) {
	out := NewCube(c.Rows, c.Cols, len(bands))
	for j, b := range bands {
		if b < 0 || b >= c.Bands {
			return nil, fmt.Errorf("band %d out of range [0, %d)", b, c.Bands)
		}
		for i := 0; i < c.Rows*c.Cols; i++ {
			out.Data[i*out.Bands+j] = c.Data[i*c.Bands+b]
		}
	}
	return out, nil
}

// Plane is a single rows x cols array stored row-major.
type Plane struct {
	Rows int
	Cols int
	Data []float64
}

// NewPlane allocates a zeroed plane.
func NewPlane(rows, cols int) *Plane {
	return &Plane{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// At returns the value at (r, c).
func (p *Plane) At(r, c int) float64 { return p.Data[r*p.Cols+c] }

// Set stores v at (r, c).
func (p *Plane) Set(r, c int, v float64) { p.Data[r*p.Cols+c] = v }

// Clone returns a deep copy of the plane.
func (p *Plane) Clone() *Plane {
	out := NewPlane(p.Rows, p.Cols)
	copy(out.Data, p.Data)
	return out
}

// Mask is a rows x cols boolean array stored row-major.
type Mask struct {
	Rows int
	Cols int
	Data []bool
}

// NewMask allocates an all-false mask.
func NewMask(rows, cols int) *Mask {
	return &Mask{Rows: rows, Cols: cols, Data: make([]bool, rows*cols)}
}

// At reports whether (r, c) is set.
func (m *Mask) At(r, c int) bool { return m.Data[r*m.Cols+c] }

// Set stores v at (r, c).
func (m *Mask) Set(r, c int, v bool) { m.Data[r*m.Cols+c] = v }

// Clone returns a deep copy of the mask.
func (m *Mask) Clone() *Mask {
	out := NewMask(m.Rows, m.Cols)
	copy(out.Data, m.Data)
	return out
}

// Count returns the number of set pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// Not returns the complement of the mask.
func (m *Mask) Not() *Mask {
	out := NewMask(m.Rows, m.Cols)
	for i, v := range m.Data {
		out.Data[i] = !v
	}
	return out
}

// Or returns the pixel-wise union of two masks of equal extent.
func (m *Mask) Or(o *Mask) (*Mask, error) {
	if err := m.sameExtent(o); err != nil {
		return nil, err
	}
	out := NewMask(m.Rows, m.Cols)
	for i := range m.Data {
		out.Data[i] = m.Data[i] || o.Data[i]
	}
	return out, nil
}

// And returns the pixel-wise intersection of two masks of equal extent.
func (m *Mask) And(o *Mask) (*Mask, error) {
	if err := m.sameExtent(o); err != nil {
		return nil, err
	}
	out := NewMask(m.Rows, m.Cols)
	for i := range m.Data {
		out.Data[i] = m.Data[i] && o.Data[i]
	}
	return out, nil
}

// Subset reports whether every pixel set in m is also set in o.
func (m *Mask) Subset(o *Mask) bool {
	if m.sameExtent(o) != nil {
		return false
	}
	for i, v := range m.Data {
		if v && !o.Data[i] {
			return false
		}
	}
	return true
}

// Equal reports whether both masks have the same extent and pixels.
func (m *Mask) Equal(o *Mask) bool {
	return m.Subset(o) && o.Subset(m)
}

// Plane converts the mask to a 0/1 plane.
func (m *Mask) Plane() *Plane {
	p := NewPlane(m.Rows, m.Cols)
	for i, v := range m.Data {
		if v {
			p.Data[i] = 1
		}
	}
	return p
}

func (m *Mask) sameExtent(o *Mask) error {
	if o == nil || m.Rows != o.Rows || m.Cols != o.Cols {
		return ErrShapeMismatch
	}
	return nil
}

// Threshold returns the mask of pixels strictly greater than t.
func (p *Plane) Threshold(t float64) *Mask {
	m := NewMask(p.Rows, p.Cols)
	for i, v := range p.Data {
		m.Data[i] = v > t
	}
	return m
}
