package heatmap

import (
	"errors"
	"fmt"

	"hyperbrain/pkg/hsi"
)

// Options configures a Generator.
type Options struct {
	// Bands selects the bands of the false-colour composite; nil means all
	Bands []int

	// Enhancement is the contrast gamma of the composite
	Enhancement float64

	// Indices lists the spectral indices to compute, in order
	Indices []string

	// Colormap names the map used for single-channel heatmaps
	Colormap string

	TumorColormap  string
	VesselColormap string
	BrainColormap  string

	// Verbose prints progress to stdout
	Verbose bool
}

// DefaultOptions returns the settings of the command line tool.
func DefaultOptions() Options {
	return Options{
		Enhancement:    1.5,
		Indices:        []string{IndexNDVI, IndexTumor},
		Colormap:       "jet",
		TumorColormap:  "hot",
		VesselColormap: "cool",
		BrainColormap:  "viridis",
	}
}

// IndexMap is one computed spectral index. Fallback is set when the cube had
// too few bands and the rescaled mean intensity was used instead.
type IndexMap struct {
	Kind     string
	Plane    *hsi.Plane
	Fallback bool
}

// Result holds every map produced by Generate.
type Result struct {
	Standardized *hsi.Cube
	Intensity    *hsi.Plane

	// FalseColor is nil when the cube has fewer than three bands
	FalseColor *hsi.Cube

	Indices []IndexMap
	Classes *ClassMap
	Tissue  *hsi.Cube
}

// Generator produces heatmaps with a fixed configuration.
type Generator struct {
	opts   Options
	cmap   Colormap
	tissue Colormaps
}

// NewGenerator resolves the colormaps named in opts and checks the settings.
func NewGenerator(opts Options) (*Generator, error) {
	if opts.Enhancement <= 0 {
		return nil, fmt.Errorf("enhancement must be positive, got %g", opts.Enhancement)
	}
	for _, kind := range opts.Indices {
		if kind != IndexNDVI && kind != IndexTumor {
			return nil, fmt.Errorf("%w: %q", ErrUnknownIndex, kind)
		}
	}

	g := &Generator{opts: opts}
	for _, ref := range []struct {
		name string
		dst  *Colormap
	}{
		{opts.Colormap, &g.cmap},
		{opts.TumorColormap, &g.tissue.Tumor},
		{opts.VesselColormap, &g.tissue.Vessel},
		{opts.BrainColormap, &g.tissue.Brain},
	} {
		cm, err := ColormapByName(ref.name)
		if err != nil {
			return nil, err
		}
		*ref.dst = cm
	}
	return g, nil
}

// Colormap returns the map used for single-channel heatmaps.
func (g *Generator) Colormap() Colormap { return g.cmap }

// Generate standardizes the cube and computes the false-colour composite, the
// configured spectral indices and the tissue overlay.
func (g *Generator) Generate(c *hsi.Cube) (*Result, error) {
	g.logf("Step 1: Standardizing %dx%dx%d cube...\n", c.Rows, c.Cols, c.Bands)
	std, err := Standardize(c)
	if err != nil {
		return nil, fmt.Errorf("failed to standardize cube: %w", err)
	}
	proj, err := hsi.Projection(std)
	if err != nil {
		return nil, err
	}
	res := &Result{Standardized: std, Intensity: proj}

	g.logf("Step 2: Computing PCA false-colour composite...\n")
	res.FalseColor, err = PCAFalseColor(std, g.opts.Bands, g.opts.Enhancement)
	if errors.Is(err, ErrNotEnoughBands) {
		g.logf("Warning: %v, skipping composite\n", err)
	} else if err != nil {
		return nil, fmt.Errorf("failed to compute false-colour composite: %w", err)
	}

	g.logf("Step 3: Computing spectral indices...\n")
	for _, kind := range g.opts.Indices {
		p, err := SpectralIndex(std, kind)
		fallback := false
		if errors.Is(err, ErrNotEnoughBands) {
			g.logf("Not enough spectral bands for index %s, using mean intensity\n", kind)
			p, fallback, err = hsi.RescalePlane(proj), true, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to compute index %s: %w", kind, err)
		}
		res.Indices = append(res.Indices, IndexMap{Kind: kind, Plane: p, Fallback: fallback})
	}

	g.logf("Step 4: Classifying tissue...\n")
	res.Classes = TissueClasses(proj)
	res.Tissue, err = TissueOverlay(std, res.Classes, g.tissue)
	if err != nil {
		return nil, fmt.Errorf("failed to render tissue overlay: %w", err)
	}
	g.logf("Tissue pixels: tumor %d, vessel %d, brain %d\n",
		res.Classes.Count(Tumor), res.Classes.Count(Vessel), res.Classes.Count(Brain))
	return res, nil
}

func (g *Generator) logf(format string, args ...any) {
	if g.opts.Verbose {
		fmt.Printf(format, args...)
	}
}
