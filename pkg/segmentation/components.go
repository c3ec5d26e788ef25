package segmentation

import "hyperbrain/pkg/hsi"

// RemoveSmallObjects clears every 4-connected foreground component with fewer
// than minSize pixels.
func RemoveSmallObjects(mask *hsi.Mask, minSize int) *hsi.Mask {
	out := mask.Clone()
	if minSize <= 1 {
		return out
	}
	labels, sizes := labelComponents(mask)
	for i, l := range labels {
		if l > 0 && sizes[l] < minSize {
			out.Data[i] = false
		}
	}
	return out
}

// RemoveSmallHoles fills every 4-connected background component with fewer
// than minSize pixels. Background regions touching the image border count as
// holes too, so only their size decides.
func RemoveSmallHoles(mask *hsi.Mask, minSize int) *hsi.Mask {
	return RemoveSmallObjects(mask.Not(), minSize).Not()
}

// CountComponents returns the number of 4-connected foreground components.
func CountComponents(mask *hsi.Mask) int {
	_, sizes := labelComponents(mask)
	return len(sizes) - 1
}

// labelComponents assigns 4-connected labels starting at 1 to the foreground.
// sizes[l] is the pixel count of label l; sizes[0] is unused.
func labelComponents(mask *hsi.Mask) ([]int, []int) {
	labels := make([]int, len(mask.Data))
	sizes := []int{0}
	stack := make([]int, 0, 64)

	for start, v := range mask.Data {
		if !v || labels[start] != 0 {
			continue
		}
		label := len(sizes)
		size := 0
		labels[start] = label
		stack = append(stack[:0], start)

		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			size++

			r, c := idx/mask.Cols, idx%mask.Cols
			neighbors := [4][2]int{{r - 1, c}, {r + 1, c}, {r, c - 1}, {r, c + 1}}
			for _, n := range neighbors {
				if n[0] < 0 || n[0] >= mask.Rows || n[1] < 0 || n[1] >= mask.Cols {
					continue
				}
				ni := n[0]*mask.Cols + n[1]
				if mask.Data[ni] && labels[ni] == 0 {
					labels[ni] = label
					stack = append(stack, ni)
				}
			}
		}
		sizes = append(sizes, size)
	}
	return labels, sizes
}
