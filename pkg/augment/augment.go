// Package augment derives a small labelled training set from a single
// image/mask pair by injecting Gaussian noise and random rotations.
package augment

import (
	"fmt"
	"image"
	"math"
	"math/rand/v2"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/stat/distuv"

	"hyperbrain/pkg/hsi"
)

// Params controls how many synthetic pairs are made and how they vary.
type Params struct {
	// Count is the number of augmented pairs added to the original.
	Count int

	// NoiseStdDev is the standard deviation of the additive Gaussian noise.
	NoiseStdDev float64

	// MaxAngle bounds the rotation; angles are whole degrees in [-MaxAngle, MaxAngle).
	MaxAngle int

	// Seed makes the generated set reproducible.
	Seed uint64
}

// DefaultParams returns five pairs, sigma 0.1 noise and +/-20 degree rotations.
func DefaultParams() Params {
	return Params{
		Count:       5,
		NoiseStdDev: 0.1,
		MaxAngle:    20,
		Seed:        1,
	}
}

// Sample is one training pair.
type Sample struct {
	Image *hsi.Cube
	Mask  *hsi.Mask

	// Angle is the rotation applied to the pair, in degrees.
	Angle float64
}

// Generate returns the original pair followed by params.Count augmented pairs.
// The inputs are not modified.
func Generate(img *hsi.Cube, mask *hsi.Mask, params Params) ([]Sample, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if mask == nil || mask.Rows != img.Rows || mask.Cols != img.Cols {
		return nil, fmt.Errorf("%w: mask does not match %dx%d image", hsi.ErrShapeMismatch, img.Rows, img.Cols)
	}
	if params.Count < 0 {
		return nil, fmt.Errorf("augmentation count must not be negative, got %d", params.Count)
	}

	rng := rand.New(rand.NewPCG(params.Seed, params.Seed^0x9e3779b97f4a7c15))
	noise := distuv.Normal{Mu: 0, Sigma: params.NoiseStdDev, Src: rng}

	samples := make([]Sample, 0, params.Count+1)
	samples = append(samples, Sample{Image: img.Clone(), Mask: mask.Clone()})

	for i := 0; i < params.Count; i++ {
		noisy := img.Clone()
		if params.NoiseStdDev > 0 {
			for j, v := range noisy.Data {
				noisy.Data[j] = math.Max(0, math.Min(1, v+noise.Rand()))
			}
		}

		angle := 0.0
		if params.MaxAngle > 0 {
			angle = float64(rng.IntN(2*params.MaxAngle) - params.MaxAngle)
		}

		rotated, err := RotateCube(noisy, angle)
		if err != nil {
			return nil, err
		}
		samples = append(samples, Sample{
			Image: rotated,
			Mask:  RotatePlane(mask.Plane(), angle).Threshold(0.5),
			Angle: angle,
		})
	}
	return samples, nil
}

// RotateCube rotates every band by angle degrees about the image centre.
func RotateCube(c *hsi.Cube, angle float64) (*hsi.Cube, error) {
	out := hsi.NewCube(c.Rows, c.Cols, c.Bands)
	for b := 0; b < c.Bands; b++ {
		band, err := c.Band(b)
		if err != nil {
			return nil, err
		}
		if err := out.SetBand(b, RotatePlane(band, angle)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RotatePlane rotates a plane with values in [0, 1] by angle degrees
// (counter-clockwise as displayed) about its centre using bilinear sampling.
// The output keeps the input extent; regions rotated in from outside are 0.
func RotatePlane(p *hsi.Plane, angle float64) *hsi.Plane {
	src := hsi.PlaneToGray16(p, 0, 1)
	dst := image.NewGray16(src.Bounds())

	theta := angle * math.Pi / 180
	cos, sin := math.Cos(theta), math.Sin(theta)
	cx, cy := float64(p.Cols)/2, float64(p.Rows)/2

	// Source to destination: d = R(s - c) + c, with y pointing down, so a
	// positive angle turns the picture counter-clockwise on screen.
	s2d := f64.Aff3{
		cos, sin, cx - cos*cx - sin*cy,
		-sin, cos, cy + sin*cx - cos*cy,
	}
	draw.BiLinear.Transform(dst, s2d, src, src.Bounds(), draw.Src, nil)
	return hsi.Gray16ToPlane(dst, 0, 1)
}
