// Package cubeio reads hyperspectral cubes from disk and writes them back.
//
// Supported inputs are NumPy .npy arrays, DICOM files (one band per frame),
// single raster images (one band for grayscale, three for colour) and
// directories of numbered raster images (one band per file).
package cubeio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ftrvxmtrx/tga"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"

	"hyperbrain/pkg/hsi"
)

// ErrUnsupportedFormat is returned for files whose extension has no reader.
var ErrUnsupportedFormat = errors.New("cubeio: unsupported format")

// imageDecoders picks the decoder by extension. image.Decode is not used
// because the tga package registers itself with an empty magic string and
// would claim every file.
var imageDecoders = map[string]func(io.Reader) (image.Image, error){
	".png":  png.Decode,
	".jpg":  jpeg.Decode,
	".jpeg": jpeg.Decode,
	".tif":  tiff.Decode,
	".tiff": tiff.Decode,
	".bmp":  bmp.Decode,
	".webp": webp.Decode,
	".tga":  tga.Decode,
}

// Load reads a cube from path. A directory is read with LoadDir.
func Load(path string) (*hsi.Cube, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return LoadDir(path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".npy":
		return LoadNPY(path)
	case ext == ".dcm" || ext == ".dicom":
		return LoadDICOM(path)
	case imageDecoders[ext] != nil:
		return LoadImage(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
}

// LoadImage decodes a raster image. Grayscale images give one band and
// everything else three (red, green, blue); samples are scaled to [0, 1].
func LoadImage(path string) (*hsi.Cube, error) {
	img, err := decodeImage(path)
	if err != nil {
		return nil, err
	}
	return ImageToCube(img), nil
}

// ImageToCube converts a decoded image to a one or three band cube.
func ImageToCube(img image.Image) *hsi.Cube {
	b := img.Bounds()
	bands := 3
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		bands = 1
	}

	c := hsi.NewCube(b.Dy(), b.Dx(), bands)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			if bands == 1 {
				c.Set(y, x, 0, float64(r)/65535)
				continue
			}
			c.Set(y, x, 0, float64(r)/65535)
			c.Set(y, x, 1, float64(g)/65535)
			c.Set(y, x, 2, float64(bl)/65535)
		}
	}
	return c
}

// LoadDir stacks the raster images in dir as bands, ordered by the number in
// their file names. Colour images are reduced to luminance. All images must
// share the same size.
func LoadDir(dir string) (*hsi.Cube, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageDecoders[strings.ToLower(filepath.Ext(e.Name()))] != nil {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}

	// Band order follows the numbers in the file names
	sort.SliceStable(files, func(i, j int) bool {
		return extractNumber(files[i]) < extractNumber(files[j])
	})

	var cube *hsi.Cube
	for b, name := range files {
		img, err := decodeImage(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		bounds := img.Bounds()
		if cube == nil {
			cube = hsi.NewCube(bounds.Dy(), bounds.Dx(), len(files))
		}
		if bounds.Dy() != cube.Rows || bounds.Dx() != cube.Cols {
			return nil, fmt.Errorf("%w: %s is %dx%d, expected %dx%d",
				hsi.ErrShapeMismatch, name, bounds.Dx(), bounds.Dy(), cube.Cols, cube.Rows)
		}
		if err := cube.SetBand(b, luminance(img)); err != nil {
			return nil, err
		}
	}
	return cube, nil
}

func decodeImage(path string) (image.Image, error) {
	decode := imageDecoders[strings.ToLower(filepath.Ext(path))]
	if decode == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	img, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// luminance converts any image to a [0, 1] plane through 16-bit grayscale.
func luminance(img image.Image) *hsi.Plane {
	b := img.Bounds()
	p := hsi.NewPlane(b.Dy(), b.Dx())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			p.Set(y, x, float64(g.Y)/65535)
		}
	}
	return p
}

// extractNumber returns the digits in a file name as an integer, or 0.
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	num, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return num
}
