// Package cnn is a small convolutional classifier: a declarative layer list,
// forward and reverse passes on float64 tensors, binary cross-entropy and
// the Adam optimizer. It exposes intermediate activations and their
// gradients so class activation maps can be computed on top of it.
package cnn

import (
	"fmt"

	"hyperbrain/pkg/hsi"
)

// Shape is the spatial extent and channel count of a tensor.
type Shape struct {
	H, W, C int
}

// Size returns the number of elements described by the shape.
func (s Shape) Size() int {
	return s.H * s.W * s.C
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.H, s.W, s.C)
}

// Tensor is an H x W x C block of activations with the channel index fastest,
// the same layout as hsi.Cube.
type Tensor struct {
	H, W, C int
	Data    []float64
}

// NewTensor allocates a zero tensor.
func NewTensor(h, w, c int) *Tensor {
	return &Tensor{H: h, W: w, C: c, Data: make([]float64, h*w*c)}
}

// TensorFromCube copies a cube into a tensor.
func TensorFromCube(c *hsi.Cube) *Tensor {
	t := NewTensor(c.Rows, c.Cols, c.Bands)
	copy(t.Data, c.Data)
	return t
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return Shape{H: t.H, W: t.W, C: t.C}
}

// At returns the value at row y, column x, channel k.
func (t *Tensor) At(y, x, k int) float64 {
	return t.Data[(y*t.W+x)*t.C+k]
}

// Set stores v at row y, column x, channel k.
func (t *Tensor) Set(y, x, k int, v float64) {
	t.Data[(y*t.W+x)*t.C+k] = v
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := NewTensor(t.H, t.W, t.C)
	copy(out.Data, t.Data)
	return out
}

// Channel extracts channel k as a plane.
func (t *Tensor) Channel(k int) *hsi.Plane {
	p := hsi.NewPlane(t.H, t.W)
	for i := range p.Data {
		p.Data[i] = t.Data[i*t.C+k]
	}
	return p
}

func (t *Tensor) reshape(s Shape) *Tensor {
	return &Tensor{H: s.H, W: s.W, C: s.C, Data: t.Data}
}
