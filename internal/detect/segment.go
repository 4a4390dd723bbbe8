//go:build !gocv

package detect

import (
	"math"

	"skyalign/internal/raster"
)

// segment labels the 4-connected regions of g brighter than level.
func segment(g *raster.Grid, level, smooth float64) ([]int32, int, error) {
	pix := g.Pix
	if smooth > 0 {
		pix = gaussianBlur(g, smooth)
	}

	w, h := g.Width, g.Height
	labels := make([]int32, len(pix))
	var n int32
	stack := make([]int, 0, 64)

	for start, v := range pix {
		if labels[start] != 0 || !(v > level) {
			continue
		}
		n++
		labels[start] = n
		stack = append(stack[:0], start)

		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := idx%w, idx/w

			for _, nb := range [4][2]int{{x + 1, y}, {x - 1, y}, {x, y + 1}, {x, y - 1}} {
				if nb[0] < 0 || nb[0] >= w || nb[1] < 0 || nb[1] >= h {
					continue
				}
				j := nb[1]*w + nb[0]
				if labels[j] != 0 || !(pix[j] > level) {
					continue
				}
				labels[j] = n
				stack = append(stack, j)
			}
		}
	}
	return labels, int(n), nil
}

// gaussianBlur convolves g with a separable Gaussian, replicating edge pixels.
func gaussianBlur(g *raster.Grid, sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*radius+1)
	var norm float64
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		norm += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= norm
	}

	w, h := g.Width, g.Height
	tmp := make([]float64, len(g.Pix))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var s float64
			for k, kv := range kernel {
				xx := min(max(x+k-radius, 0), w-1)
				s += kv * g.Pix[y*w+xx]
			}
			tmp[y*w+x] = s
		}
	}

	out := make([]float64, len(g.Pix))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var s float64
			for k, kv := range kernel {
				yy := min(max(y+k-radius, 0), h-1)
				s += kv * tmp[yy*w+x]
			}
			out[y*w+x] = s
		}
	}
	return out
}
