//go:build !opencv

package segmentation

import (
	"image"
	"math"
)

// equalizeAdaptive is contrast-limited adaptive histogram equalization with
// the same tiling, clipping and interpolation rules as OpenCV's CLAHE.
func equalizeAdaptive(src *image.Gray, clipLimit float64, tileGrid int) *image.Gray {
	b := src.Bounds()
	width, height := b.Dx(), b.Dy()

	// Tiles must divide the image evenly; pad bottom/right by reflection.
	padW, padH := width, height
	if width%tileGrid != 0 {
		padW += tileGrid - width%tileGrid
	}
	if height%tileGrid != 0 {
		padH += tileGrid - height%tileGrid
	}
	tileW, tileH := padW/tileGrid, padH/tileGrid
	tileArea := tileW * tileH

	pixel := func(x, y int) uint8 {
		return src.GrayAt(b.Min.X+reflect101(x, width), b.Min.Y+reflect101(y, height)).Y
	}

	limit := 0
	if clipLimit > 0 {
		limit = int(clipLimit * float64(tileArea) / 256)
		if limit < 1 {
			limit = 1
		}
	}

	luts := make([][256]uint8, tileGrid*tileGrid)
	lutScale := 255.0 / float64(tileArea)
	for ty := 0; ty < tileGrid; ty++ {
		for tx := 0; tx < tileGrid; tx++ {
			var hist [256]int
			for y := ty * tileH; y < (ty+1)*tileH; y++ {
				for x := tx * tileW; x < (tx+1)*tileW; x++ {
					hist[pixel(x, y)]++
				}
			}

			if limit > 0 {
				clipped := 0
				for i := range hist {
					if hist[i] > limit {
						clipped += hist[i] - limit
						hist[i] = limit
					}
				}
				batch := clipped / 256
				residual := clipped - batch*256
				for i := range hist {
					hist[i] += batch
				}
				if residual > 0 {
					step := 256 / residual
					if step < 1 {
						step = 1
					}
					for i := 0; i < 256 && residual > 0; i += step {
						hist[i]++
						residual--
					}
				}
			}

			sum := 0
			lut := &luts[ty*tileGrid+tx]
			for i := range hist {
				sum += hist[i]
				lut[i] = saturate(math.Round(float64(sum) * lutScale))
			}
		}
	}

	dst := image.NewGray(image.Rect(0, 0, width, height))
	invTW, invTH := 1.0/float64(tileW), 1.0/float64(tileH)
	for y := 0; y < height; y++ {
		tyf := float64(y)*invTH - 0.5
		ty1 := int(math.Floor(tyf))
		ty2 := ty1 + 1
		ya := tyf - float64(ty1)
		ty1 = max(ty1, 0)
		ty2 = min(ty2, tileGrid-1)

		for x := 0; x < width; x++ {
			txf := float64(x)*invTW - 0.5
			tx1 := int(math.Floor(txf))
			tx2 := tx1 + 1
			xa := txf - float64(tx1)
			tx1 = max(tx1, 0)
			tx2 = min(tx2, tileGrid-1)

			v := pixel(x, y)
			top := float64(luts[ty1*tileGrid+tx1][v])*(1-xa) + float64(luts[ty1*tileGrid+tx2][v])*xa
			bottom := float64(luts[ty2*tileGrid+tx1][v])*(1-xa) + float64(luts[ty2*tileGrid+tx2][v])*xa
			dst.Pix[dst.PixOffset(x, y)] = saturate(math.Round(top*(1-ya) + bottom*ya))
		}
	}
	return dst
}

// otsuThreshold returns the level t maximizing the between-class variance of
// the classes {<= t} and {> t}, searched over the occupied gray range. The
// image must hold at least two distinct levels.
func otsuThreshold(src *image.Gray) uint8 {
	var hist [256]float64
	b := src.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			hist[src.GrayAt(x, y).Y]++
		}
	}

	lo, hi := 0, 255
	for hist[lo] == 0 {
		lo++
	}
	for hist[hi] == 0 {
		hi--
	}

	var total, totalSum float64
	for i := lo; i <= hi; i++ {
		total += hist[i]
		totalSum += float64(i) * hist[i]
	}

	best, bestVar := lo, -1.0
	var w1, sum1 float64
	for t := lo; t < hi; t++ {
		w1 += hist[t]
		sum1 += float64(t) * hist[t]
		w2 := total - w1
		if w1 == 0 || w2 == 0 {
			continue
		}
		diff := sum1/w1 - (totalSum-sum1)/w2
		v := w1 * w2 * diff * diff
		if v > bestVar {
			best, bestVar = t, v
		}
	}
	return uint8(best)
}

// morphCloseOpen closes then opens a 0/255 image with a k x k square.
// Pixels outside the image never take part in the min/max.
func morphCloseOpen(src *image.Gray, k int) *image.Gray {
	closed := erode(dilate(src, k), k)
	return dilate(erode(closed, k), k)
}

func dilate(src *image.Gray, k int) *image.Gray {
	return rankFilter(src, k, func(a, b uint8) uint8 { return max(a, b) }, 0)
}

func erode(src *image.Gray, k int) *image.Gray {
	return rankFilter(src, k, func(a, b uint8) uint8 { return min(a, b) }, 255)
}

// rankFilter applies a separable square min or max filter. Rectangular
// kernels allow a horizontal pass followed by a vertical one.
func rankFilter(src *image.Gray, k int, pick func(a, b uint8) uint8, identity uint8) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	before := (k - 1) / 2
	after := k - 1 - before

	tmp := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			acc := identity
			for xx := max(0, x-before); xx <= min(w-1, x+after); xx++ {
				acc = pick(acc, src.GrayAt(b.Min.X+xx, b.Min.Y+y).Y)
			}
			tmp[y*w+x] = acc
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			acc := identity
			for yy := max(0, y-before); yy <= min(h-1, y+after); yy++ {
				acc = pick(acc, tmp[yy*w+x])
			}
			dst.Pix[dst.PixOffset(x, y)] = acc
		}
	}
	return dst
}

// reflect101 maps an index past the end back into [0, n) mirroring around
// the last sample without repeating it.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func saturate(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
