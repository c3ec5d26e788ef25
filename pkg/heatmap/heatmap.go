// Package heatmap renders false-colour and index heatmaps from hyperspectral
// cubes: a principal component composite, band-ratio indices and a tissue
// overlay coloured per intensity class.
package heatmap

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"hyperbrain/pkg/hsi"
)

var (
	// ErrNotEnoughBands is returned when a cube has too few bands for the
	// requested map.
	ErrNotEnoughBands = errors.New("heatmap: not enough spectral bands")

	// ErrUnknownIndex is returned for an unsupported spectral index name.
	ErrUnknownIndex = errors.New("heatmap: unknown spectral index")

	// ErrUnknownColormap is returned for an unsupported colormap name.
	ErrUnknownColormap = errors.New("heatmap: unknown colormap")
)

// Spectral index names.
const (
	IndexNDVI  = "ndvi"
	IndexTumor = "tumor"
)

// indexEpsilon keeps band ratios finite.
const indexEpsilon = 1e-10

// Standardize rescales every band to zero mean and unit population standard
// deviation. A constant band is only centred.
func Standardize(c *hsi.Cube) (*hsi.Cube, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	out := c.Clone()
	n := float64(c.Rows * c.Cols)
	for b := 0; b < c.Bands; b++ {
		var sum float64
		for i := b; i < len(c.Data); i += c.Bands {
			sum += c.Data[i]
		}
		mean := sum / n
		var ss float64
		for i := b; i < len(c.Data); i += c.Bands {
			d := c.Data[i] - mean
			ss += d * d
		}
		std := math.Sqrt(ss / n)
		if std == 0 {
			std = 1
		}
		for i := b; i < len(out.Data); i += c.Bands {
			out.Data[i] = (out.Data[i] - mean) / std
		}
	}
	return out, nil
}

// PCAFalseColor projects every pixel spectrum onto the first three principal
// components of the selected bands and returns them as an RGB cube. The
// components are rescaled together onto [0, 1] and raised to 1/enhancement.
// A nil bands slice selects every band.
func PCAFalseColor(c *hsi.Cube, bands []int, enhancement float64) (*hsi.Cube, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if enhancement <= 0 {
		return nil, fmt.Errorf("enhancement must be positive, got %g", enhancement)
	}
	sel := c
	if len(bands) > 0 {
		var err error
		if sel, err = c.SelectBands(bands); err != nil {
			return nil, err
		}
	}
	n, d := sel.Rows*sel.Cols, sel.Bands
	if d < 3 {
		return nil, fmt.Errorf("%w: PCA composite needs 3 bands, got %d", ErrNotEnoughBands, d)
	}
	if n < 3 {
		return nil, fmt.Errorf("PCA composite needs at least 3 pixels, got %d", n)
	}

	data := mat.NewDense(n, d, sel.Data)
	var pc stat.PC
	if ok := pc.PrincipalComponents(data, nil); !ok {
		return nil, errors.New("principal component analysis failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	centred := mat.DenseCopyOf(data)
	for j := 0; j < d; j++ {
		mean := stat.Mean(mat.Col(nil, j, data), nil)
		for i := 0; i < n; i++ {
			centred.Set(i, j, centred.At(i, j)-mean)
		}
	}
	var scores mat.Dense
	scores.Mul(centred, vecs.Slice(0, d, 0, 3))

	rgb := hsi.NewCube(sel.Rows, sel.Cols, 3)
	for i := 0; i < n; i++ {
		for k := 0; k < 3; k++ {
			rgb.Data[i*3+k] = scores.At(i, k)
		}
	}
	rgb, err := hsi.Normalize(rgb)
	if err != nil {
		return nil, err
	}
	gamma := 1 / enhancement
	for i, v := range rgb.Data {
		rgb.Data[i] = math.Pow(v, gamma)
	}
	return rgb, nil
}

// SpectralIndex computes a band-ratio index map scaled to [0, 1].
//
//	ndvi:  (b3 - b2) / (b3 + b2), zero denominators replaced by 1e-10
//	tumor: (b0 + b1) / (b2 + 1e-10)
//
// Both need at least four bands.
func SpectralIndex(c *hsi.Cube, kind string) (*hsi.Plane, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if kind != IndexNDVI && kind != IndexTumor {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIndex, kind)
	}
	if c.Bands < 4 {
		return nil, fmt.Errorf("%w: index %s needs 4 bands, got %d", ErrNotEnoughBands, kind, c.Bands)
	}

	p := hsi.NewPlane(c.Rows, c.Cols)
	for i := range p.Data {
		px := c.Data[i*c.Bands : (i+1)*c.Bands]
		switch kind {
		case IndexNDVI:
			den := px[3] + px[2]
			if den == 0 {
				den = indexEpsilon
			}
			p.Data[i] = (px[3] - px[2]) / den
		case IndexTumor:
			p.Data[i] = (px[0] + px[1]) / (px[2] + indexEpsilon)
		}
	}

	lo, hi := p.Data[0], p.Data[0]
	for _, v := range p.Data {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	for i, v := range p.Data {
		p.Data[i] = (v - lo) / (hi - lo + indexEpsilon)
	}
	return p, nil
}

// Tissue labels a pixel of the tissue overlay.
type Tissue uint8

const (
	Background Tissue = iota
	Tumor
	Brain
	Vessel
)

func (t Tissue) String() string {
	switch t {
	case Tumor:
		return "tumor"
	case Brain:
		return "brain"
	case Vessel:
		return "vessel"
	}
	return "background"
}

// ClassMap holds one Tissue label per pixel, row-major.
type ClassMap struct {
	Rows, Cols int
	Data       []Tissue
}

// Count returns the number of pixels labelled t.
func (m *ClassMap) Count(t Tissue) int {
	n := 0
	for _, v := range m.Data {
		if v == t {
			n++
		}
	}
	return n
}

// Mask returns the pixels labelled t.
func (m *ClassMap) Mask(t Tissue) *hsi.Mask {
	out := hsi.NewMask(m.Rows, m.Cols)
	for i, v := range m.Data {
		out.Data[i] = v == t
	}
	return out
}

// TissueClasses labels pixels by percentiles of the intensity projection:
// above the 90th is tumor, above the 70th vessel, above the 40th brain and
// the rest background.
func TissueClasses(proj *hsi.Plane) *ClassMap {
	m := &ClassMap{Rows: proj.Rows, Cols: proj.Cols, Data: make([]Tissue, len(proj.Data))}
	if len(proj.Data) == 0 {
		return m
	}
	sorted := append([]float64(nil), proj.Data...)
	sort.Float64s(sorted)
	p40 := stat.Quantile(0.4, stat.LinInterp, sorted, nil)
	p70 := stat.Quantile(0.7, stat.LinInterp, sorted, nil)
	p90 := stat.Quantile(0.9, stat.LinInterp, sorted, nil)

	for i, v := range proj.Data {
		switch {
		case v > p90:
			m.Data[i] = Tumor
		case v > p70:
			m.Data[i] = Vessel
		case v > p40:
			m.Data[i] = Brain
		}
	}
	return m
}

// Colormaps assigns a colormap to each tissue class.
type Colormaps struct {
	Tumor, Vessel, Brain Colormap
}

// DefaultColormaps returns hot for tumor, cool for vessels and viridis for brain.
func DefaultColormaps() Colormaps {
	hot, _ := ColormapByName("hot")
	cool, _ := ColormapByName("cool")
	viridis, _ := ColormapByName("viridis")
	return Colormaps{Tumor: hot, Vessel: cool, Brain: viridis}
}

// TissueOverlay colours every classified pixel from its mean intensity
// through the colormap of its class. Background stays black.
func TissueOverlay(c *hsi.Cube, classes *ClassMap, cmaps Colormaps) (*hsi.Cube, error) {
	intensity, err := hsi.Projection(c)
	if err != nil {
		return nil, err
	}
	if classes.Rows != c.Rows || classes.Cols != c.Cols {
		return nil, fmt.Errorf("%w: classes are %dx%d, cube is %dx%d",
			hsi.ErrShapeMismatch, classes.Rows, classes.Cols, c.Rows, c.Cols)
	}

	out := hsi.NewCube(c.Rows, c.Cols, 3)
	for i, t := range classes.Data {
		var cm Colormap
		switch t {
		case Tumor:
			cm = cmaps.Tumor
		case Vessel:
			cm = cmaps.Vessel
		case Brain:
			cm = cmaps.Brain
		default:
			continue
		}
		col := cm.At(intensity.Data[i])
		out.Data[i*3] = col.R
		out.Data[i*3+1] = col.G
		out.Data[i*3+2] = col.B
	}
	return out, nil
}
