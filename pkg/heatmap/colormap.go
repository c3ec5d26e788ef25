package heatmap

import (
	"fmt"
	"image/color"
	"math"
	"sort"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// stop is a colour anchored at a position in [0, 1].
type stop struct {
	pos float64
	col colorful.Color
}

// Colormap maps values in [0, 1] to colours by linear interpolation between
// colour stops.
type Colormap struct {
	Name  string
	stops []stop
}

func rgb(r, g, b float64) colorful.Color { return colorful.Color{R: r, G: g, B: b} }

func evenStops(hexes ...string) []stop {
	stops := make([]stop, len(hexes))
	for i, h := range hexes {
		c, err := colorful.Hex(h)
		if err != nil {
			panic(fmt.Sprintf("heatmap: bad colour %q: %v", h, err))
		}
		stops[i] = stop{pos: float64(i) / float64(len(hexes)-1), col: c}
	}
	return stops
}

var colormaps = map[string][]stop{
	"jet": {
		{0, rgb(0, 0, 0.5)},
		{0.11, rgb(0, 0, 1)},
		{0.125, rgb(0, 0, 1)},
		{0.34, rgb(0, 0.86, 1)},
		{0.35, rgb(0, 0.9, 0.97)},
		{0.64, rgb(1, 1, 0)},
		{0.65, rgb(0.97, 0.96, 0)},
		{0.89, rgb(1, 0, 0)},
		{1, rgb(0.5, 0, 0)},
	},
	"hot": {
		{0, rgb(0.0416, 0, 0)},
		{0.365079, rgb(1, 0, 0)},
		{0.746032, rgb(1, 1, 0)},
		{1, rgb(1, 1, 1)},
	},
	"viridis": evenStops(
		"#440154", "#482878", "#3e4989", "#31688e", "#26828e",
		"#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725",
	),
	"cool": {
		{0, rgb(0, 1, 1)},
		{1, rgb(1, 0, 1)},
	},
	"gray": {
		{0, rgb(0, 0, 0)},
		{1, rgb(1, 1, 1)},
	},
}

// ColormapNames lists the known colormaps in sorted order.
func ColormapNames() []string {
	names := make([]string, 0, len(colormaps))
	for name := range colormaps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ColormapByName returns the named colormap.
func ColormapByName(name string) (Colormap, error) {
	stops, ok := colormaps[strings.ToLower(name)]
	if !ok {
		return Colormap{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownColormap, name, strings.Join(ColormapNames(), ", "))
	}
	return Colormap{Name: strings.ToLower(name), stops: stops}, nil
}

// At returns the colour for v. Values outside [0, 1] are clamped and NaN maps
// to the lowest colour.
func (m Colormap) At(v float64) colorful.Color {
	if len(m.stops) == 0 {
		return colorful.Color{}
	}
	if math.IsNaN(v) || v <= m.stops[0].pos {
		return m.stops[0].col
	}
	last := m.stops[len(m.stops)-1]
	if v >= last.pos {
		return last.col
	}
	i := sort.Search(len(m.stops), func(i int) bool { return m.stops[i].pos >= v })
	lo, hi := m.stops[i-1], m.stops[i]
	t := (v - lo.pos) / (hi.pos - lo.pos)
	return lo.col.BlendRgb(hi.col, t).Clamped()
}

// Colors samples the colormap at 256 evenly spaced levels, so a Colormap can
// serve as a plot palette.
func (m Colormap) Colors() []color.Color {
	out := make([]color.Color, 256)
	for i := range out {
		out[i] = m.At(float64(i) / 255)
	}
	return out
}
