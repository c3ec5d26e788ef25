package hsi

import (
	"math"
	"math/rand/v2"
)

// SyntheticCube generates a demonstration cube: uniform noise on every band,
// with a ring-shaped "tumor" on band 0, a sinusoidal "vessel" pattern on band 1
// and a wider ring on band 2. Bands that do not exist are skipped.
func SyntheticCube(rows, cols, bands int, seed uint64) *Cube {
	rng := rand.New(rand.NewPCG(seed, seed^0x5bd1e995))
	c := NewCube(rows, cols, bands)
	for i := range c.Data {
		c.Data[i] = rng.Float64()
	}

	cy, cx := float64(rows)/2, float64(cols)/2
	for r := 0; r < rows; r++ {
		for col := 0; col < cols; col++ {
			dy, dx := float64(r)-cy, float64(col)-cx
			radius := math.Sqrt(dy*dy + dx*dx)
			if bands > 0 {
				c.Set(r, col, 0, math.Exp(-(radius-50)*(radius-50)/1000))
			}
			if bands > 1 {
				c.Set(r, col, 1, math.Sin(float64(r)/10)*math.Cos(float64(col)/10))
			}
			if bands > 2 {
				c.Set(r, col, 2, math.Exp(-(radius-80)*(radius-80)/2000))
			}
		}
	}
	return c
}

// BlobCube generates a cube that is zero everywhere except for a Gaussian
// bright blob of the given peak and sigma centred at (cy, cx) on band 0.
func BlobCube(rows, cols, bands int, cy, cx, sigma, peak float64) *Cube {
	c := NewCube(rows, cols, bands)
	for r := 0; r < rows; r++ {
		for col := 0; col < cols; col++ {
			dy, dx := float64(r)-cy, float64(col)-cx
			c.Set(r, col, 0, peak*math.Exp(-(dy*dy+dx*dx)/(2*sigma*sigma)))
		}
	}
	return c
}
