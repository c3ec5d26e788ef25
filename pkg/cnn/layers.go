package cnn

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// param is a trainable array with its gradient accumulator and Adam moments.
type param struct {
	w, g, m, v []float64
}

func newParam(n int) *param {
	return &param{
		w: make([]float64, n),
		g: make([]float64, n),
		m: make([]float64, n),
		v: make([]float64, n),
	}
}

// op is the linear or pooling part of a layer. forward caches whatever
// backward needs; backward receives the gradient with respect to the op's
// output, adds parameter gradients and returns the gradient for its input.
type op interface {
	forward(x *Tensor) *Tensor
	backward(grad *Tensor) *Tensor
	params() []*param
}

// conv2D is a stride-1 convolution with "same" zero padding, computed as an
// im2col matrix product.
type conv2D struct {
	in      Shape
	k       int
	filters int
	weight  *param // (k*k*in.C) x filters, row-major
	bias    *param
	cols    *mat.Dense
}

func newConv2D(in Shape, k, filters int) *conv2D {
	return &conv2D{
		in:      in,
		k:       k,
		filters: filters,
		weight:  newParam(k * k * in.C * filters),
		bias:    newParam(filters),
	}
}

func (l *conv2D) params() []*param { return []*param{l.weight, l.bias} }

func (l *conv2D) forward(x *Tensor) *Tensor {
	pixels := l.in.H * l.in.W
	patch := l.k * l.k * l.in.C

	l.cols = mat.NewDense(pixels, patch, l.im2col(x))
	weights := mat.NewDense(patch, l.filters, l.weight.w)

	out := NewTensor(l.in.H, l.in.W, l.filters)
	result := mat.NewDense(pixels, l.filters, out.Data)
	result.Mul(l.cols, weights)
	for p := 0; p < pixels; p++ {
		floats.Add(out.Data[p*l.filters:(p+1)*l.filters], l.bias.w)
	}
	return out
}

func (l *conv2D) backward(grad *Tensor) *Tensor {
	pixels := l.in.H * l.in.W
	patch := l.k * l.k * l.in.C
	g := mat.NewDense(pixels, l.filters, grad.Data)

	var dw mat.Dense
	dw.Mul(l.cols.T(), g)
	floats.Add(l.weight.g, dw.RawMatrix().Data)
	for p := 0; p < pixels; p++ {
		floats.Add(l.bias.g, grad.Data[p*l.filters:(p+1)*l.filters])
	}

	weights := mat.NewDense(patch, l.filters, l.weight.w)
	var dcols mat.Dense
	dcols.Mul(g, weights.T())
	return l.col2im(dcols.RawMatrix().Data)
}

// im2col lays out every k x k x C neighbourhood as one row. Rows follow the
// pixel order; columns follow (ky, kx, channel).
func (l *conv2D) im2col(x *Tensor) []float64 {
	h, w, c, k := l.in.H, l.in.W, l.in.C, l.k
	pad := (k - 1) / 2
	patch := k * k * c
	cols := make([]float64, h*w*patch)
	for y := 0; y < h; y++ {
		for xx := 0; xx < w; xx++ {
			row := cols[(y*w+xx)*patch : (y*w+xx+1)*patch]
			for ky := 0; ky < k; ky++ {
				sy := y + ky - pad
				if sy < 0 || sy >= h {
					continue
				}
				for kx := 0; kx < k; kx++ {
					sx := xx + kx - pad
					if sx < 0 || sx >= w {
						continue
					}
					src := x.Data[(sy*w+sx)*c : (sy*w+sx+1)*c]
					copy(row[(ky*k+kx)*c:], src)
				}
			}
		}
	}
	return cols
}

// col2im scatters patch gradients back onto the input positions they came from.
func (l *conv2D) col2im(dcols []float64) *Tensor {
	h, w, c, k := l.in.H, l.in.W, l.in.C, l.k
	pad := (k - 1) / 2
	patch := k * k * c
	dx := NewTensor(h, w, c)
	for y := 0; y < h; y++ {
		for xx := 0; xx < w; xx++ {
			row := dcols[(y*w+xx)*patch : (y*w+xx+1)*patch]
			for ky := 0; ky < k; ky++ {
				sy := y + ky - pad
				if sy < 0 || sy >= h {
					continue
				}
				for kx := 0; kx < k; kx++ {
					sx := xx + kx - pad
					if sx < 0 || sx >= w {
						continue
					}
					floats.Add(dx.Data[(sy*w+sx)*c:(sy*w+sx+1)*c], row[(ky*k+kx)*c:(ky*k+kx+1)*c])
				}
			}
		}
	}
	return dx
}

// maxPool2D takes the maximum over non-overlapping size x size windows.
// Trailing rows and columns that do not fill a window are dropped.
type maxPool2D struct {
	in     Shape
	size   int
	argmax []int
}

func (l *maxPool2D) params() []*param { return nil }

func (l *maxPool2D) forward(x *Tensor) *Tensor {
	oh, ow := l.in.H/l.size, l.in.W/l.size
	out := NewTensor(oh, ow, l.in.C)
	l.argmax = make([]int, len(out.Data))
	for y := 0; y < oh; y++ {
		for xx := 0; xx < ow; xx++ {
			for k := 0; k < l.in.C; k++ {
				best, bestIdx := math.Inf(-1), -1
				for dy := 0; dy < l.size; dy++ {
					for dx := 0; dx < l.size; dx++ {
						idx := ((y*l.size+dy)*l.in.W+xx*l.size+dx)*l.in.C + k
						if x.Data[idx] > best {
							best, bestIdx = x.Data[idx], idx
						}
					}
				}
				o := (y*ow+xx)*l.in.C + k
				out.Data[o] = best
				l.argmax[o] = bestIdx
			}
		}
	}
	return out
}

func (l *maxPool2D) backward(grad *Tensor) *Tensor {
	dx := NewTensor(l.in.H, l.in.W, l.in.C)
	for o, idx := range l.argmax {
		dx.Data[idx] += grad.Data[o]
	}
	return dx
}

// globalAvgPool averages every channel over the spatial extent.
type globalAvgPool struct {
	in Shape
}

func (l *globalAvgPool) params() []*param { return nil }

func (l *globalAvgPool) forward(x *Tensor) *Tensor {
	out := NewTensor(1, 1, l.in.C)
	pixels := l.in.H * l.in.W
	for p := 0; p < pixels; p++ {
		floats.Add(out.Data, x.Data[p*l.in.C:(p+1)*l.in.C])
	}
	floats.Scale(1/float64(pixels), out.Data)
	return out
}

func (l *globalAvgPool) backward(grad *Tensor) *Tensor {
	dx := NewTensor(l.in.H, l.in.W, l.in.C)
	pixels := l.in.H * l.in.W
	for p := 0; p < pixels; p++ {
		floats.AddScaled(dx.Data[p*l.in.C:(p+1)*l.in.C], 1/float64(pixels), grad.Data)
	}
	return dx
}

// dense is a fully connected layer over the flattened input.
type dense struct {
	in     Shape
	units  int
	weight *param // in.Size() x units, row-major
	bias   *param
	x      []float64
}

func newDense(in Shape, units int) *dense {
	return &dense{
		in:     in,
		units:  units,
		weight: newParam(in.Size() * units),
		bias:   newParam(units),
	}
}

func (l *dense) params() []*param { return []*param{l.weight, l.bias} }

func (l *dense) forward(x *Tensor) *Tensor {
	l.x = x.Data
	out := NewTensor(1, 1, l.units)
	copy(out.Data, l.bias.w)
	for i, xi := range x.Data {
		if xi == 0 {
			continue
		}
		floats.AddScaled(out.Data, xi, l.weight.w[i*l.units:(i+1)*l.units])
	}
	return out
}

func (l *dense) backward(grad *Tensor) *Tensor {
	dx := NewTensor(l.in.H, l.in.W, l.in.C)
	floats.Add(l.bias.g, grad.Data)
	for i, xi := range l.x {
		row := l.weight.w[i*l.units : (i+1)*l.units]
		dx.Data[i] = floats.Dot(row, grad.Data)
		floats.AddScaled(l.weight.g[i*l.units:(i+1)*l.units], xi, grad.Data)
	}
	return dx
}

// activate applies the named activation to a copy of z.
func activate(kind string, z *Tensor) *Tensor {
	a := z.Clone()
	switch kind {
	case ActivationReLU:
		for i, v := range a.Data {
			if v < 0 {
				a.Data[i] = 0
			}
		}
	case ActivationSoftmax:
		softmax(a.Data)
	}
	return a
}

// activationBackward maps the gradient with respect to the activation output
// a to the gradient with respect to its input.
func activationBackward(kind string, a, grad *Tensor) *Tensor {
	switch kind {
	case ActivationReLU:
		dz := grad.Clone()
		for i, v := range a.Data {
			if v <= 0 {
				dz.Data[i] = 0
			}
		}
		return dz
	case ActivationSoftmax:
		dz := grad.Clone()
		s := floats.Dot(a.Data, grad.Data)
		for i, p := range a.Data {
			dz.Data[i] = p * (grad.Data[i] - s)
		}
		return dz
	}
	return grad
}

func softmax(v []float64) {
	m := floats.Max(v)
	sum := 0.0
	for i, x := range v {
		v[i] = math.Exp(x - m)
		sum += v[i]
	}
	floats.Scale(1/sum, v)
}
