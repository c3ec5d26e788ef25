// Package skullstrip removes the skull from hyperspectral brain images.
//
// A classical segmentation of the intensity projection bootstraps a small
// convolutional classifier. Grad-CAM on that classifier yields a heatmap
// which is fused with a fresh classical mask, and the fused mask is applied
// to every band of the cube.
package skullstrip

import (
	"fmt"
	"time"

	"hyperbrain/pkg/augment"
	"hyperbrain/pkg/cnn"
	"hyperbrain/pkg/gradcam"
	"hyperbrain/pkg/hsi"
	"hyperbrain/pkg/segmentation"
)

// Params holds every setting of the skull removal pipeline.
type Params struct {
	// InputSize is the side of the square classifier input. It is ignored
	// when a pretrained model is supplied; the model's own input is used.
	InputSize int

	// Segmentation configures the classical segmenter.
	Segmentation segmentation.Params

	// Augmentation configures the synthetic training set.
	Augmentation augment.Params

	// Training configures the classifier fit when no model is supplied.
	Training cnn.TrainParams

	// Layers is the classifier architecture. Empty means cnn.SkullBrainLayers.
	Layers []cnn.LayerSpec

	// ModelSeed seeds the classifier's weight initialization.
	ModelSeed uint64

	// Localizer selects the layer and class explained by Grad-CAM.
	Localizer gradcam.Localizer

	// Fusion configures how the heatmap and the classical mask combine.
	Fusion FusionParams

	// Verbose enables progress output on stdout.
	Verbose bool

	// Saver, when set, receives intermediate planes and masks. Save
	// failures are reported as warnings and do not stop the pipeline.
	Saver Saver
}

// DefaultParams returns the pipeline defaults: a 224 pixel classifier input,
// five training epochs and union fusion at threshold 0.5.
func DefaultParams() Params {
	training := cnn.DefaultTrainParams()
	training.Epochs = 5

	return Params{
		InputSize:    hsi.DefaultNetworkSize,
		Segmentation: segmentation.DefaultParams(),
		Augmentation: augment.DefaultParams(),
		Training:     training,
		ModelSeed:    1,
		Localizer:    gradcam.Default(),
		Fusion:       DefaultFusionParams(),
		Verbose:      true,
	}
}

// Saver persists intermediate results under a short stage name such as
// "projection" or "heatmap".
type Saver interface {
	SavePlane(name string, p *hsi.Plane) error
	SaveMask(name string, m *hsi.Mask) error
}

// StageTiming is the wall time spent in one pipeline stage.
type StageTiming struct {
	Stage    string
	Duration time.Duration
}

// Result holds the outputs of one pipeline run.
type Result struct {
	// BrainOnly is the input cube with every pixel outside Mask set to 0.
	BrainOnly *hsi.Cube

	// Mask is the final brain mask at the input resolution.
	Mask *hsi.Mask

	// Heatmap is the Grad-CAM map resized to the input resolution.
	Heatmap *hsi.Plane

	// Model is the classifier used for the heatmap, either the supplied
	// pretrained model or the one fitted during this run.
	Model *cnn.Network

	// Traditional is the classical mask the heatmap was fused with.
	Traditional *hsi.Mask

	// History is the training loss per epoch; nil when a model was supplied.
	History *cnn.History

	// Timings lists the stages in execution order.
	Timings []StageTiming

	// Degenerate is set when the heatmap had no positive evidence.
	Degenerate bool
}

// Remover runs the skull removal pipeline.
type Remover struct {
	params Params
}

// NewRemover creates a remover with the given parameters.
func NewRemover(params Params) *Remover {
	if params.InputSize <= 0 {
		params.InputSize = hsi.DefaultNetworkSize
	}
	if len(params.Layers) == 0 {
		params.Layers = cnn.SkullBrainLayers()
	}
	if params.Localizer.Layer == "" {
		params.Localizer = gradcam.Default()
	}
	return &Remover{params: params}
}

// ProcessArray validates a flat C-ordered array as a (rows, cols, bands) cube
// and runs Process on it. Arrays that are not 3-dimensional are rejected
// with *hsi.InvalidShapeError.
func (r *Remover) ProcessArray(shape []int, data []float64, pretrained *cnn.Network) (*Result, error) {
	if len(shape) != 3 {
		return nil, &hsi.InvalidShapeError{Dims: len(shape)}
	}
	cube, err := hsi.FromArray(shape, data)
	if err != nil {
		return nil, err
	}
	return r.Process(cube, pretrained)
}

// Process removes the skull from cube. The cube is min-max normalized before
// segmentation and classification, so the mask does not depend on its
// absolute scale; BrainOnly keeps the original values. When pretrained is nil
// a classifier is fitted on an augmented classical segmentation of the cube
// first. The cube is not modified.
func (r *Remover) Process(cube *hsi.Cube, pretrained *cnn.Network) (*Result, error) {
	if err := cube.Validate(); err != nil {
		return nil, err
	}

	res := &Result{}
	stage := func(name string, start time.Time) {
		res.Timings = append(res.Timings, StageTiming{Stage: name, Duration: time.Since(start)})
	}

	// Step 1: Normalization, intensity projection and classifier input
	r.step("Step 1: Normalizing cube and computing classifier input...")
	start := time.Now()
	normalized, err := hsi.Normalize(cube)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize cube: %w", err)
	}
	proj, err := hsi.Projection(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to compute projection: %w", err)
	}

	size := r.params.InputSize
	if pretrained != nil {
		in := pretrained.InputShape()
		if in.H != in.W || in.C != cube.Bands {
			return nil, fmt.Errorf("pretrained model expects %v input, cube has %d bands", in, cube.Bands)
		}
		size = in.H
	}
	input, err := hsi.NetworkInput(normalized, size)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare classifier input: %w", err)
	}
	r.savePlane("projection", proj)
	stage("preprocess", start)

	// Step 2: Classifier
	model := pretrained
	if model == nil {
		r.step("Step 2: Training classifier from classical segmentation...")
		start = time.Now()
		model, res.History, err = r.train(proj, input)
		if err != nil {
			return nil, err
		}
		stage("train", start)
	} else {
		r.step("Step 2: Using pretrained classifier...")
	}
	res.Model = model

	// Step 3: Grad-CAM
	r.step("Step 3: Generating Grad-CAM heatmap...")
	start = time.Now()
	cam, err := r.params.Localizer.Heatmap(model, cnn.TensorFromCube(input))
	if err != nil {
		return nil, fmt.Errorf("failed to generate heatmap: %w", err)
	}
	res.Degenerate = cam.Degenerate
	if cam.Degenerate {
		r.logf("Warning: heatmap has no positive activation, using an all-zero map\n")
	}
	res.Heatmap = hsi.ResizePlane(cam.Heatmap, cube.Rows, cube.Cols)
	r.savePlane("heatmap", res.Heatmap)
	stage("gradcam", start)

	// Step 4: Fusion with a fresh classical mask
	r.step("Step 4: Fusing heatmap with classical segmentation...")
	start = time.Now()
	seg, err := segmentation.Run(proj, r.params.Segmentation)
	if err != nil {
		return nil, fmt.Errorf("failed to segment projection: %w", err)
	}
	switch r.params.Fusion.Source {
	case SourceCleaned, "":
		res.Traditional = seg.Mask
	case SourceThreshold:
		res.Traditional = seg.Initial
	default:
		return nil, fmt.Errorf("unknown traditional mask source %q", r.params.Fusion.Source)
	}
	res.Mask, err = Fuse(res.Heatmap, res.Traditional, r.params.Fusion)
	if err != nil {
		return nil, fmt.Errorf("failed to fuse masks: %w", err)
	}
	r.saveMask("traditional", res.Traditional)
	r.saveMask("mask", res.Mask)
	stage("fusion", start)

	// Step 5: Masking
	r.step("Step 5: Applying brain mask...")
	start = time.Now()
	res.BrainOnly, err = ApplyMask(cube, res.Mask)
	if err != nil {
		return nil, fmt.Errorf("failed to apply mask: %w", err)
	}
	stage("mask", start)

	r.logf("Brain mask covers %d of %d pixels\n", res.Mask.Count(), len(res.Mask.Data))
	return res, nil
}

// train segments the projection, augments the classifier input with the
// resized mask and fits a freshly built classifier on the result.
func (r *Remover) train(proj *hsi.Plane, input *hsi.Cube) (*cnn.Network, *cnn.History, error) {
	mask, err := segmentation.Segment(proj, r.params.Segmentation)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to segment projection: %w", err)
	}
	r.logf("Classical mask covers %d of %d pixels\n", mask.Count(), len(mask.Data))

	resized := hsi.ResizeMask(mask, input.Rows, input.Cols)
	samples, err := augment.Generate(input, resized, r.params.Augmentation)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to augment training data: %w", err)
	}

	images := make([]*hsi.Cube, len(samples))
	masks := make([]*hsi.Mask, len(samples))
	for i, s := range samples {
		images[i], masks[i] = s.Image, s.Mask
	}

	shape := cnn.Shape{H: input.Rows, W: input.Cols, C: input.Bands}
	model, err := cnn.Build(r.params.Layers, shape, r.params.ModelSeed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build classifier: %w", err)
	}
	r.logf("Training on %d samples, %d parameters\n", len(samples), model.ParamCount())

	params := r.params.Training
	if params.OnEpoch == nil && r.params.Verbose {
		params.OnEpoch = func(epoch int, loss float64) {
			fmt.Printf("Epoch %d/%d - loss: %.4f\n", epoch, r.params.Training.Epochs, loss)
		}
	}
	history, err := cnn.Train(model, images, masks, params)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to train classifier: %w", err)
	}
	return model, &history, nil
}

func (r *Remover) step(msg string) {
	if r.params.Verbose {
		fmt.Println(msg)
	}
}

func (r *Remover) logf(format string, args ...any) {
	if r.params.Verbose {
		fmt.Printf(format, args...)
	}
}

func (r *Remover) savePlane(name string, p *hsi.Plane) {
	if r.params.Saver == nil {
		return
	}
	if err := r.params.Saver.SavePlane(name, p); err != nil {
		fmt.Printf("Warning: Failed to save %s: %v\n", name, err)
	}
}

func (r *Remover) saveMask(name string, m *hsi.Mask) {
	if r.params.Saver == nil {
		return
	}
	if err := r.params.Saver.SaveMask(name, m); err != nil {
		fmt.Printf("Warning: Failed to save %s: %v\n", name, err)
	}
}
