package cubeio

import (
	"fmt"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"hyperbrain/pkg/hsi"
)

// LoadDICOM reads the pixel data of a DICOM file. Every frame becomes one
// band, scaled from 16-bit gray to [0, 1].
func LoadDICOM(path string) (*hsi.Cube, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DICOM file %s: %w", path, err)
	}

	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("no pixel data in %s: %w", path, err)
	}
	info := dicom.MustGetPixelDataInfo(elem.Value)
	if len(info.Frames) == 0 {
		return nil, fmt.Errorf("%w: %s has no frames", hsi.ErrEmptyCube, path)
	}
	return FramesToCube(info.Frames)
}

// FramesToCube stacks decoded DICOM frames as bands.
func FramesToCube(frames []*frame.Frame) (*hsi.Cube, error) {
	var cube *hsi.Cube
	for i, fr := range frames {
		img, err := fr.GetImage()
		if err != nil {
			return nil, fmt.Errorf("failed to decode frame %d: %w", i, err)
		}
		band := luminance(img)
		if cube == nil {
			cube = hsi.NewCube(band.Rows, band.Cols, len(frames))
		}
		if band.Rows != cube.Rows || band.Cols != cube.Cols {
			return nil, fmt.Errorf("%w: frame %d is %dx%d, expected %dx%d",
				hsi.ErrShapeMismatch, i, band.Cols, band.Rows, cube.Cols, cube.Rows)
		}
		if err := cube.SetBand(i, band); err != nil {
			return nil, err
		}
	}
	return cube, nil
}
