// Package gradcam computes class activation heatmaps from the gradients of a
// class logit with respect to an intermediate convolutional layer.
package gradcam

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"hyperbrain/pkg/cnn"
	"hyperbrain/pkg/hsi"
)

// DefaultLayer is the layer the skull/brain classifier exposes for localization.
const DefaultLayer = "final_conv"

// SkullClass is the classifier output that scores skull content.
const SkullClass = 1

// Localizer selects the layer and class to explain.
type Localizer struct {
	Layer string
	Class int
}

// Default returns the localizer for the skull class at the last convolution.
func Default() Localizer {
	return Localizer{Layer: DefaultLayer, Class: SkullClass}
}

// Result is a Grad-CAM heatmap.
type Result struct {
	// Heatmap is the map resized to the input's spatial extent, in [0, 1].
	Heatmap *hsi.Plane

	// Raw is the normalized map at the layer's resolution.
	Raw *hsi.Plane

	// Weights holds the spatially averaged gradient of every channel.
	Weights []float64

	// Logits are the pre-softmax outputs for the input.
	Logits []float64

	// Degenerate is set when the rectified map had no positive finite maximum
	// and was replaced with zeros.
	Degenerate bool
}

// Heatmap explains the classification of x.
func (l Localizer) Heatmap(net *cnn.Network, x *cnn.Tensor) (*Result, error) {
	features, grads, logits, err := net.GradientAt(x, l.Layer, l.Class)
	if err != nil {
		return nil, fmt.Errorf("failed to compute gradients at %q: %w", l.Layer, err)
	}

	weights := ChannelWeights(grads)
	raw := hsi.NewPlane(features.H, features.W)
	for p := range raw.Data {
		v := floats.Dot(weights, features.Data[p*features.C:(p+1)*features.C])
		raw.Data[p] = math.Max(v, 0)
	}

	res := &Result{Raw: raw, Weights: weights, Logits: logits}
	peak := floats.Max(raw.Data)
	if peak > 0 && !math.IsInf(peak, 0) && !floats.HasNaN(raw.Data) {
		floats.Scale(1/peak, raw.Data)
	} else {
		clear(raw.Data)
		res.Degenerate = true
	}

	res.Heatmap = hsi.ResizePlane(raw, x.H, x.W)
	for i, v := range res.Heatmap.Data {
		res.Heatmap.Data[i] = math.Min(math.Max(v, 0), 1)
	}
	return res, nil
}

// ChannelWeights averages the gradient of every channel over the spatial extent.
func ChannelWeights(grads *cnn.Tensor) []float64 {
	weights := make([]float64, grads.C)
	pixels := grads.H * grads.W
	for p := 0; p < pixels; p++ {
		floats.Add(weights, grads.Data[p*grads.C:(p+1)*grads.C])
	}
	floats.Scale(1/float64(pixels), weights)
	return weights
}
