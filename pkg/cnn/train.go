package cnn

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"hyperbrain/pkg/hsi"
)

// TrainParams controls a training run.
type TrainParams struct {
	Epochs       int
	BatchSize    int
	LearningRate float64

	// Seed fixes the per-epoch shuffling.
	Seed uint64

	// OnEpoch, when set, is called after every epoch with the 1-based epoch
	// number and the mean loss over that epoch.
	OnEpoch func(epoch int, loss float64)
}

// DefaultTrainParams returns ten epochs of batch-4 Adam at learning rate 0.001.
func DefaultTrainParams() TrainParams {
	return TrainParams{
		Epochs:       10,
		BatchSize:    4,
		LearningRate: 0.001,
		Seed:         1,
	}
}

// History records the mean training loss of every epoch.
type History struct {
	Loss []float64
}

// Adam constants other than the learning rate.
const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7

	// probabilities are clipped to [lossEpsilon, 1-lossEpsilon] before the log.
	lossEpsilon = 1e-7
)

// MaskTarget reduces a mask to the image-level two-class target
// [1 - mean, mean], the global average of its one-hot encoding.
func MaskTarget(m *hsi.Mask) []float64 {
	mean := 0.0
	if len(m.Data) > 0 {
		mean = float64(m.Count()) / float64(len(m.Data))
	}
	return []float64{1 - mean, mean}
}

// Train fits net to cube/mask pairs. Every mask becomes an image-level
// target through MaskTarget.
func Train(net *Network, images []*hsi.Cube, masks []*hsi.Mask, params TrainParams) (History, error) {
	if len(images) != len(masks) {
		return History{}, fmt.Errorf("got %d images but %d masks", len(images), len(masks))
	}
	inputs := make([]*Tensor, len(images))
	targets := make([][]float64, len(masks))
	for i := range images {
		inputs[i] = TensorFromCube(images[i])
		targets[i] = MaskTarget(masks[i])
	}
	return Fit(net, inputs, targets, params)
}

// Fit trains net on inputs with explicit targets using binary cross-entropy
// averaged over the outputs and the Adam optimizer.
func Fit(net *Network, inputs []*Tensor, targets [][]float64, params TrainParams) (History, error) {
	if len(inputs) == 0 {
		return History{}, errors.New("no training samples")
	}
	if len(inputs) != len(targets) {
		return History{}, fmt.Errorf("got %d inputs but %d targets", len(inputs), len(targets))
	}
	if params.Epochs <= 0 || params.BatchSize <= 0 {
		return History{}, fmt.Errorf("epochs and batch size must be positive, got %d and %d", params.Epochs, params.BatchSize)
	}
	if !(params.LearningRate > 0) {
		return History{}, fmt.Errorf("learning rate must be positive, got %g", params.LearningRate)
	}
	outputs := net.nodes[len(net.nodes)-1]
	if outputs.info.Activation != ActivationSoftmax {
		return History{}, fmt.Errorf("output layer %q must use softmax", outputs.info.Name)
	}
	units := outputs.info.Output.C
	for i, x := range inputs {
		if err := net.checkInput(x); err != nil {
			return History{}, fmt.Errorf("sample %d: %w", i, err)
		}
		if len(targets[i]) != units {
			return History{}, fmt.Errorf("sample %d: target has %d values, network outputs %d", i, len(targets[i]), units)
		}
	}

	rng := rand.New(rand.NewPCG(params.Seed, params.Seed^0x2545f4914f6cdd1d))
	history := History{Loss: make([]float64, 0, params.Epochs)}
	net.zeroGrad()

	for epoch := 1; epoch <= params.Epochs; epoch++ {
		order := rng.Perm(len(inputs))
		total := 0.0
		for start := 0; start < len(order); start += params.BatchSize {
			end := min(start+params.BatchSize, len(order))
			for _, idx := range order[start:end] {
				net.forward(inputs[idx])
				probs := outputs.a
				loss, dp := binaryCrossEntropy(probs.Data, targets[idx])
				total += loss

				dpt := &Tensor{H: 1, W: 1, C: units, Data: dp}
				net.backward(activationBackward(ActivationSoftmax, probs, dpt), -1)
			}
			net.adamStep(params.LearningRate, 1/float64(end-start))
		}

		mean := total / float64(len(inputs))
		if math.IsNaN(mean) {
			return history, fmt.Errorf("loss diverged at epoch %d", epoch)
		}
		history.Loss = append(history.Loss, mean)
		if params.OnEpoch != nil {
			params.OnEpoch(epoch, mean)
		}
	}
	return history, nil
}

// binaryCrossEntropy returns the mean element-wise cross-entropy between
// probabilities p and targets y together with its gradient with respect to p.
func binaryCrossEntropy(p, y []float64) (float64, []float64) {
	n := float64(len(p))
	loss := 0.0
	grad := make([]float64, len(p))
	for i := range p {
		q := math.Min(math.Max(p[i], lossEpsilon), 1-lossEpsilon)
		loss -= y[i]*math.Log(q) + (1-y[i])*math.Log(1-q)
		grad[i] = (-y[i]/q + (1-y[i])/(1-q)) / n
	}
	return loss / n, grad
}

// adamStep applies one Adam update with gradients scaled by scale and then
// clears the accumulators.
func (n *Network) adamStep(lr, scale float64) {
	n.step++
	t := float64(n.step)
	lrT := lr * math.Sqrt(1-math.Pow(adamBeta2, t)) / (1 - math.Pow(adamBeta1, t))
	for _, nd := range n.nodes {
		for _, p := range nd.op.params() {
			for i, g := range p.g {
				g *= scale
				p.m[i] = adamBeta1*p.m[i] + (1-adamBeta1)*g
				p.v[i] = adamBeta2*p.v[i] + (1-adamBeta2)*g*g
				p.w[i] -= lrT * p.m[i] / (math.Sqrt(p.v[i]) + adamEpsilon)
				p.g[i] = 0
			}
		}
	}
}
