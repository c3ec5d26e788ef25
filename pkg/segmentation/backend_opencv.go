//go:build opencv

package segmentation

import (
	"image"

	"gocv.io/x/gocv"
)

func grayToMat(img *image.Gray) gocv.Mat {
	b := img.Bounds()
	packed := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		copy(packed.Pix[y*packed.Stride:(y+1)*packed.Stride], img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):])
	}
	mat, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8U, packed.Pix)
	if err != nil {
		panic("segmentation: wrapping gray image: " + err.Error())
	}
	return mat
}

func matToGray(mat gocv.Mat) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, mat.Cols(), mat.Rows()))
	copy(img.Pix, mat.ToBytes())
	return img
}

func equalizeAdaptive(src *image.Gray, clipLimit float64, tileGrid int) *image.Gray {
	in := grayToMat(src)
	defer in.Close()

	clahe := gocv.NewCLAHEWithParams(clipLimit, image.Pt(tileGrid, tileGrid))
	defer clahe.Close()

	out := gocv.NewMat()
	defer out.Close()
	clahe.Apply(in, &out)
	return matToGray(out)
}

func otsuThreshold(src *image.Gray) uint8 {
	in := grayToMat(src)
	defer in.Close()

	out := gocv.NewMat()
	defer out.Close()
	// The threshold argument is ignored when Otsu selects the level.
	t := gocv.Threshold(in, &out, 0, 255, gocv.ThresholdBinary+gocv.ThresholdOtsu)
	return uint8(t)
}

func morphCloseOpen(src *image.Gray, k int) *image.Gray {
	in := grayToMat(src)
	defer in.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(k, k))
	defer kernel.Close()

	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(in, &closed, gocv.MorphClose, kernel)

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(closed, &opened, gocv.MorphOpen, kernel)
	return matToGray(opened)
}
