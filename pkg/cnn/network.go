package cnn

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Layer kinds understood by Build.
const (
	KindConv2D        = "conv2d"
	KindMaxPool       = "maxpool"
	KindGlobalAvgPool = "globalavgpool"
	KindDense         = "dense"
)

// Activations understood by Build. An empty activation is linear.
const (
	ActivationLinear  = ""
	ActivationReLU    = "relu"
	ActivationSoftmax = "softmax"
)

// ErrUnknownLayer is returned when a layer name is not part of the network.
var ErrUnknownLayer = errors.New("unknown layer")

// LayerSpec declares one layer. Only the fields relevant to Kind are read.
type LayerSpec struct {
	Name       string
	Kind       string
	Filters    int // conv2d
	Kernel     int // conv2d, square
	Pool       int // maxpool, square window and stride
	Units      int // dense
	Activation string
}

// SkullBrainLayers is the skull/brain classifier: three 3x3 "same"
// convolutions with 16, 32 and 64 filters, 2x2 max pooling after the first
// two, global average pooling and a two-way softmax. The last convolution is
// named "final_conv".
func SkullBrainLayers() []LayerSpec {
	return []LayerSpec{
		{Name: "conv_1", Kind: KindConv2D, Filters: 16, Kernel: 3, Activation: ActivationReLU},
		{Name: "pool_1", Kind: KindMaxPool, Pool: 2},
		{Name: "conv_2", Kind: KindConv2D, Filters: 32, Kernel: 3, Activation: ActivationReLU},
		{Name: "pool_2", Kind: KindMaxPool, Pool: 2},
		{Name: "final_conv", Kind: KindConv2D, Filters: 64, Kernel: 3, Activation: ActivationReLU},
		{Name: "global_pool", Kind: KindGlobalAvgPool},
		{Name: "output", Kind: KindDense, Units: 2, Activation: ActivationSoftmax},
	}
}

// LayerInfo describes a built layer.
type LayerInfo struct {
	LayerSpec
	Input  Shape
	Output Shape
	Params int
}

type node struct {
	info LayerInfo
	op   op
	a    *Tensor // cached activation output
}

// Network is a feed-forward stack of layers with a fixed input shape.
type Network struct {
	input Shape
	specs []LayerSpec
	nodes []*node
	index map[string]int

	// step counts optimizer updates for Adam's bias correction.
	step int
}

// Build constructs a network from specs for inputs of the given shape.
// Kernels are drawn from a Glorot uniform distribution seeded by seed;
// biases start at zero.
func Build(specs []LayerSpec, input Shape, seed uint64) (*Network, error) {
	if input.H <= 0 || input.W <= 0 || input.C <= 0 {
		return nil, fmt.Errorf("invalid input shape %v", input)
	}
	if len(specs) == 0 {
		return nil, errors.New("network needs at least one layer")
	}

	rng := rand.New(rand.NewPCG(seed, seed^0xda942042e4dd58b5))
	n := &Network{
		input: input,
		specs: append([]LayerSpec(nil), specs...),
		index: make(map[string]int, len(specs)),
	}

	shape := input
	for i, spec := range specs {
		if spec.Name == "" {
			spec.Name = fmt.Sprintf("%s_%d", spec.Kind, i+1)
			n.specs[i].Name = spec.Name
		}
		if _, dup := n.index[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate layer name %q", spec.Name)
		}
		switch spec.Activation {
		case ActivationLinear, ActivationReLU, ActivationSoftmax:
		default:
			return nil, fmt.Errorf("layer %q: unknown activation %q", spec.Name, spec.Activation)
		}

		var (
			o   op
			out Shape
		)
		switch spec.Kind {
		case KindConv2D:
			if spec.Filters <= 0 || spec.Kernel <= 0 {
				return nil, fmt.Errorf("layer %q: filters and kernel must be positive", spec.Name)
			}
			conv := newConv2D(shape, spec.Kernel, spec.Filters)
			fanIn := spec.Kernel * spec.Kernel * shape.C
			fanOut := spec.Kernel * spec.Kernel * spec.Filters
			glorotUniform(conv.weight.w, fanIn, fanOut, rng)
			o, out = conv, Shape{H: shape.H, W: shape.W, C: spec.Filters}
		case KindMaxPool:
			if spec.Pool <= 0 {
				return nil, fmt.Errorf("layer %q: pool size must be positive", spec.Name)
			}
			out = Shape{H: shape.H / spec.Pool, W: shape.W / spec.Pool, C: shape.C}
			if out.H == 0 || out.W == 0 {
				return nil, fmt.Errorf("layer %q: pool %d is larger than input %v", spec.Name, spec.Pool, shape)
			}
			o = &maxPool2D{in: shape, size: spec.Pool}
		case KindGlobalAvgPool:
			o, out = &globalAvgPool{in: shape}, Shape{H: 1, W: 1, C: shape.C}
		case KindDense:
			if spec.Units <= 0 {
				return nil, fmt.Errorf("layer %q: units must be positive", spec.Name)
			}
			d := newDense(shape, spec.Units)
			glorotUniform(d.weight.w, shape.Size(), spec.Units, rng)
			o, out = d, Shape{H: 1, W: 1, C: spec.Units}
		default:
			return nil, fmt.Errorf("layer %q: unknown kind %q", spec.Name, spec.Kind)
		}

		count := 0
		for _, p := range o.params() {
			count += len(p.w)
		}
		n.index[spec.Name] = i
		n.nodes = append(n.nodes, &node{
			info: LayerInfo{LayerSpec: spec, Input: shape, Output: out, Params: count},
			op:   o,
		})
		shape = out
	}
	return n, nil
}

func glorotUniform(w []float64, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	dist := distuv.Uniform{Min: -limit, Max: limit, Src: rng}
	for i := range w {
		w[i] = dist.Rand()
	}
}

// InputShape returns the shape the network accepts.
func (n *Network) InputShape() Shape {
	return n.input
}

// Specs returns a copy of the layer list the network was built from.
func (n *Network) Specs() []LayerSpec {
	return append([]LayerSpec(nil), n.specs...)
}

// Layer looks up a layer by name.
func (n *Network) Layer(name string) (LayerInfo, error) {
	i, ok := n.index[name]
	if !ok {
		return LayerInfo{}, fmt.Errorf("%w: %q", ErrUnknownLayer, name)
	}
	return n.nodes[i].info, nil
}

// Summary lists every layer in order.
func (n *Network) Summary() []LayerInfo {
	out := make([]LayerInfo, len(n.nodes))
	for i, nd := range n.nodes {
		out[i] = nd.info
	}
	return out
}

// ParamCount returns the number of trainable values.
func (n *Network) ParamCount() int {
	total := 0
	for _, nd := range n.nodes {
		total += nd.info.Params
	}
	return total
}

// Predict returns the network output for one input.
func (n *Network) Predict(x *Tensor) ([]float64, error) {
	if err := n.checkInput(x); err != nil {
		return nil, err
	}
	n.forward(x)
	out := n.nodes[len(n.nodes)-1].a
	return append([]float64(nil), out.Data...), nil
}

// GradientAt runs x through the network and returns the activation of the
// named layer together with the gradient of the pre-activation output
// (logit) of unit class in the last layer with respect to that activation.
// The logits of the last layer are returned as well.
func (n *Network) GradientAt(x *Tensor, layer string, class int) (features, grads *Tensor, logits []float64, err error) {
	if err := n.checkInput(x); err != nil {
		return nil, nil, nil, err
	}
	k, ok := n.index[layer]
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %q", ErrUnknownLayer, layer)
	}
	last := len(n.nodes) - 1
	if k == last {
		return nil, nil, nil, fmt.Errorf("layer %q is the output layer", layer)
	}
	units := n.nodes[last].info.Output.C
	if class < 0 || class >= units {
		return nil, nil, nil, fmt.Errorf("class %d out of range [0, %d)", class, units)
	}

	z := n.forward(x)
	seed := NewTensor(1, 1, units)
	seed.Data[class] = 1

	grads = n.backward(seed, k)
	n.zeroGrad()
	return n.nodes[k].a.Clone(), grads, append([]float64(nil), z.Data...), nil
}

func (n *Network) checkInput(x *Tensor) error {
	if x == nil || x.Shape() != n.input || len(x.Data) != n.input.Size() {
		got := Shape{}
		if x != nil {
			got = x.Shape()
		}
		return fmt.Errorf("input shape %v does not match network input %v", got, n.input)
	}
	return nil
}

// forward caches every layer's activation and returns the last layer's
// pre-activation output.
func (n *Network) forward(x *Tensor) *Tensor {
	var z *Tensor
	cur := x
	for _, nd := range n.nodes {
		z = nd.op.forward(cur.reshape(nd.info.Input))
		nd.a = activate(nd.info.Activation, z)
		cur = nd.a
	}
	return z
}

// backward propagates dz, the gradient with respect to the last layer's
// pre-activation output, down to the activation of layer stop, adding
// parameter gradients on the way. stop = -1 reaches the network input.
func (n *Network) backward(dz *Tensor, stop int) *Tensor {
	last := len(n.nodes) - 1
	grad := n.nodes[last].op.backward(dz)
	for i := last - 1; i > stop; i-- {
		nd := n.nodes[i]
		grad = activationBackward(nd.info.Activation, nd.a, grad.reshape(nd.info.Output))
		grad = nd.op.backward(grad)
	}
	if stop >= 0 {
		grad = grad.reshape(n.nodes[stop].info.Output)
	}
	return grad
}

func (n *Network) zeroGrad() {
	for _, nd := range n.nodes {
		for _, p := range nd.op.params() {
			clear(p.g)
		}
	}
}
