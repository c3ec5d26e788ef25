package cubeio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"hyperbrain/pkg/hsi"
)

// LoadNPY reads a 2D (rows, cols) or 3D (rows, cols, bands) NumPy array.
// Floating point and integer element types are converted to float64;
// Fortran-ordered arrays are reordered.
func LoadNPY(path string) (*hsi.Cube, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read npy header of %s: %w", path, err)
	}
	shape := r.Header.Descr.Shape
	if len(shape) < 2 || len(shape) > 3 {
		return nil, &hsi.InvalidShapeError{Dims: len(shape)}
	}

	data, err := readFloats(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read npy data of %s: %w", path, err)
	}
	if r.Header.Descr.Fortran {
		data = fortranToC(data, shape)
	}
	return hsi.FromArray(shape, data)
}

// readFloats reads the array body into float64 whatever its element type.
func readFloats(r *npyio.Reader) ([]float64, error) {
	switch r.Header.Descr.Type {
	case "<f8", "f8", "|f8":
		var v []float64
		err := r.Read(&v)
		return v, err
	case "<f4", "f4", "|f4":
		var v []float32
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(v), nil
	case "<i8", "i8":
		var v []int64
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(v), nil
	case "<i4", "i4":
		var v []int32
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(v), nil
	case "<i2", "i2":
		var v []int16
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(v), nil
	case "<u2", "u2":
		var v []uint16
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(v), nil
	case "|u1", "u1", "<u1":
		var v []uint8
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(v), nil
	}
	return nil, fmt.Errorf("%w: npy element type %q", ErrUnsupportedFormat, r.Header.Descr.Type)
}

func widen[T float32 | int64 | int32 | int16 | uint16 | uint8](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// fortranToC reorders a column-major array of the given shape to row-major.
func fortranToC(data []float64, shape []int) []float64 {
	dims := append([]int(nil), shape...)
	if len(dims) == 2 {
		dims = append(dims, 1)
	}
	rows, cols, bands := dims[0], dims[1], dims[2]
	out := make([]float64, len(data))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			for b := 0; b < bands; b++ {
				out[(r*cols+c)*bands+b] = data[r+rows*(c+cols*b)]
			}
		}
	}
	return out
}

// SaveNPY writes the cube as a float64 (rows*cols, bands) matrix, one row per
// pixel in row-major pixel order. Reshaping it to (rows, cols, bands) gives
// back the cube.
func SaveNPY(path string, c *hsi.Cube) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	m := mat.NewDense(c.Rows*c.Cols, c.Bands, c.Data)
	if err := npyio.Write(f, m); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
