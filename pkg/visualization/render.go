package visualization

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"github.com/disintegration/imaging"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"hyperbrain/pkg/heatmap"
	"hyperbrain/pkg/hsi"
)

// ErrUnsupportedFormat is returned by SaveImage for unknown extensions.
var ErrUnsupportedFormat = errors.New("visualization: unsupported image format")

// SaveImage encodes img by the extension of path (png, jpg/jpeg or webp),
// creating the parent directory if needed.
func SaveImage(path string, img image.Image) error {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".webp":
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	switch ext {
	case ".png":
		err = png.Encode(file, img)
	case ".webp":
		err = nativewebp.Encode(file, img, nil)
	default:
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	}
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return file.Close()
}

// planeGrid adapts a plane to plotter.GridXYZ with row 0 drawn at the top.
type planeGrid struct {
	p *hsi.Plane
}

func (g planeGrid) Dims() (c, r int)   { return g.p.Cols, g.p.Rows }
func (g planeGrid) Z(c, r int) float64 { return g.p.At(g.p.Rows-1-r, c) }
func (g planeGrid) X(c int) float64    { return float64(c) }
func (g planeGrid) Y(r int) float64    { return float64(r) }

// colorBarMap exposes a Colormap as a palette.ColorMap over [min, max].
type colorBarMap struct {
	cm       heatmap.Colormap
	min, max float64
	alpha    float64
}

func (m *colorBarMap) At(v float64) (color.Color, error) {
	switch {
	case v < m.min:
		return nil, palette.ErrUnderflow
	case v > m.max:
		return nil, palette.ErrOverflow
	}
	return m.cm.At((v - m.min) / (m.max - m.min)), nil
}

func (m *colorBarMap) Max() float64       { return m.max }
func (m *colorBarMap) SetMax(v float64)   { m.max = v }
func (m *colorBarMap) Min() float64       { return m.min }
func (m *colorBarMap) SetMin(v float64)   { m.min = v }
func (m *colorBarMap) Alpha() float64     { return m.alpha }
func (m *colorBarMap) SetAlpha(a float64) { m.alpha = a }

func (m *colorBarMap) Palette(colors int) palette.Palette {
	return m.cm
}

// RenderHeatmap draws the plane as a titled heat map with a vertical colour
// bar and returns a width x height image.
func RenderHeatmap(p *hsi.Plane, cm heatmap.Colormap, title string, width, height int) (image.Image, error) {
	if p.Rows == 0 || p.Cols == 0 {
		return nil, hsi.ErrEmptyCube
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("figure size must be positive, got %dx%d", width, height)
	}

	hm := plotter.NewHeatMap(planeGrid{p}, cm)
	hm.Rasterized = true
	if !(hm.Max > hm.Min) {
		hm.Max = hm.Min + 1
	}

	plt := plot.New()
	plt.Title.Text = title
	plt.HideAxes()
	plt.Add(hm)

	bar := plot.New()
	bar.HideX()
	bar.Add(&plotter.ColorBar{
		ColorMap: &colorBarMap{cm: cm, min: hm.Min, max: hm.Max, alpha: 1},
		Vertical: true,
	})

	canvas := vgimg.NewWith(
		vgimg.UseWH(vg.Length(width), vg.Length(height)),
		vgimg.UseDPI(72),
		vgimg.UseBackgroundColor(color.White),
	)
	dc := draw.New(canvas)
	w := vg.Length(width)
	plt.Draw(draw.Crop(dc, 0, -0.2*w, 0, 0))
	bar.Draw(draw.Crop(dc, 0.82*w, 0, 0, -vg.Length(20)))
	return canvas.Image(), nil
}

// SummaryFigure lays panels out two per row, each scaled to fill a
// cell x cell square on a white background while keeping its aspect ratio.
func SummaryFigure(panels []image.Image, cell int) (image.Image, error) {
	if len(panels) == 0 {
		return nil, errors.New("no panels to compose")
	}
	if cell <= 0 {
		return nil, fmt.Errorf("cell size must be positive, got %d", cell)
	}
	cols := 2
	if len(panels) == 1 {
		cols = 1
	}
	rows := (len(panels) + cols - 1) / cols

	fig := imaging.New(cols*cell, rows*cell, color.White)
	for i, panel := range panels {
		var fitted *image.NRGBA
		if pb := panel.Bounds(); pb.Dx() >= pb.Dy() {
			fitted = imaging.Resize(panel, cell, 0, imaging.Lanczos)
		} else {
			fitted = imaging.Resize(panel, 0, cell, imaging.Lanczos)
		}
		b := fitted.Bounds()
		x := (i%cols)*cell + (cell-b.Dx())/2
		y := (i/cols)*cell + (cell-b.Dy())/2
		fig = imaging.Paste(fig, fitted, image.Pt(x, y))
	}
	return fig, nil
}

// FileSaver writes intermediate planes and masks as images named
// <stage>.<format> under Dir.
type FileSaver struct {
	Dir    string
	Format string
}

// SavePlane writes a [0, 1] plane as grayscale
func (s FileSaver) SavePlane(name string, p *hsi.Plane) error {
	return SaveImage(s.path(name), PlaneImage(p))
}

// SaveMask writes a mask as black and white
func (s FileSaver) SaveMask(name string, m *hsi.Mask) error {
	return SaveImage(s.path(name), MaskImage(m))
}

func (s FileSaver) path(name string) string {
	format := s.Format
	if format == "" {
		format = "png"
	}
	return filepath.Join(s.Dir, name+"."+format)
}
