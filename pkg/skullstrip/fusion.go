package skullstrip

import (
	"fmt"

	"hyperbrain/pkg/hsi"
	"hyperbrain/pkg/segmentation"
)

// Fusion rules for combining the Grad-CAM skull candidate with the
// traditional brain mask.
const (
	// RuleUnion treats a pixel as skull when the heatmap flags it OR the
	// traditional segmenter rejects it.
	RuleUnion = "union"

	// RuleIntersection treats a pixel as skull only when the heatmap flags
	// it AND the traditional segmenter rejects it.
	RuleIntersection = "intersection"
)

// Sources of the traditional mask the pipeline fuses with.
const (
	// SourceCleaned uses the segmenter's final mask, after small-component
	// removal and morphology.
	SourceCleaned = "cleaned"

	// SourceThreshold uses the mask right after the Otsu threshold.
	SourceThreshold = "threshold"
)

// FusionParams controls how the heatmap and the traditional mask combine.
type FusionParams struct {
	// Threshold is the heatmap level above which a pixel is a skull candidate.
	Threshold float64

	// Rule is RuleUnion or RuleIntersection.
	Rule string

	// Source selects which traditional mask Remover.Process fuses with:
	// SourceCleaned (default) or SourceThreshold.
	Source string

	// Cleanup is the connected-component and morphology pass applied to the
	// fused brain mask.
	Cleanup segmentation.Params
}

// DefaultFusionParams returns a 0.5 threshold, the union rule, the cleaned
// traditional mask and the segmenter's cleanup constants.
func DefaultFusionParams() FusionParams {
	return FusionParams{
		Threshold: 0.5,
		Rule:      RuleUnion,
		Source:    SourceCleaned,
		Cleanup:   segmentation.DefaultParams(),
	}
}

// Fuse combines a heatmap with values in [0, 1] and a traditional brain mask
// of the same extent into the final brain mask. Fuse takes the mask as given;
// Remover.Process passes the cleaned segmentation unless Source is
// SourceThreshold, which fuses the bare Otsu mask instead.
//
// Under either rule a larger traditional mask never yields a smaller brain
// mask, because the skull region shrinks and the cleanup is increasing.
func Fuse(heat *hsi.Plane, traditional *hsi.Mask, params FusionParams) (*hsi.Mask, error) {
	if heat == nil || traditional == nil || heat.Rows != traditional.Rows || heat.Cols != traditional.Cols {
		return nil, fmt.Errorf("%w: heatmap and traditional mask differ in extent", hsi.ErrShapeMismatch)
	}

	candidate := heat.Threshold(params.Threshold)
	outside := traditional.Not()

	var (
		skull *hsi.Mask
		err   error
	)
	switch params.Rule {
	case RuleUnion, "":
		skull, err = candidate.Or(outside)
	case RuleIntersection:
		skull, err = candidate.And(outside)
	default:
		return nil, fmt.Errorf("unknown fusion rule %q", params.Rule)
	}
	if err != nil {
		return nil, err
	}

	return segmentation.Cleanup(skull.Not(), params.Cleanup), nil
}

// ApplyMask returns a copy of c with every band multiplied by the 0/1 mask.
func ApplyMask(c *hsi.Cube, m *hsi.Mask) (*hsi.Cube, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if m == nil || m.Rows != c.Rows || m.Cols != c.Cols {
		return nil, fmt.Errorf("%w: mask does not match %dx%d cube", hsi.ErrShapeMismatch, c.Rows, c.Cols)
	}

	out := hsi.NewCube(c.Rows, c.Cols, c.Bands)
	weights := m.Plane()
	for p, w := range weights.Data {
		src := c.Data[p*c.Bands : (p+1)*c.Bands]
		dst := out.Data[p*c.Bands : (p+1)*c.Bands]
		for b, v := range src {
			dst[b] = v * w
		}
	}
	return out, nil
}
