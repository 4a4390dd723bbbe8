//go:build !gocv

package alignment

import (
	"math"
	"runtime"
	"sync"

	"skyalign/internal/raster"
	"skyalign/pkg/geometry"
)

// warp pulls every output pixel through inv in parallel row stripes.
func warp(src *raster.Grid, _, inv geometry.AffineTransform, width, height int, opts ResampleOptions) (*raster.Grid, error) {
	var sample func(x, y float64) float64
	switch opts.Interpolation {
	case Nearest:
		sample = func(x, y float64) float64 { return sampleNearest(src, x, y) }
	case Bicubic:
		sample = func(x, y float64) float64 { return sampleBicubic(src, x, y) }
	default:
		sample = func(x, y float64) float64 { return sampleBilinear(src, x, y) }
	}

	maxX, maxY := float64(src.Width-1), float64(src.Height-1)
	dst := raster.NewGrid(width, height)

	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	rowsPerWorker := (height + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startY := w * rowsPerWorker
		endY := min(startY+rowsPerWorker, height)
		if startY >= height {
			break
		}

		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			for y := yStart; y < yEnd; y++ {
				row := dst.Pix[y*width : (y+1)*width]
				for x := range row {
					p := inv.Apply(geometry.Point2D{X: float64(x), Y: float64(y)})
					if outside(p, src.Width, src.Height) {
						row[x] = opts.FillValue
						continue
					}
					row[x] = sample(clamp(p.X, 0, maxX), clamp(p.Y, 0, maxY))
				}
			}
		}(startY, endY)
	}
	wg.Wait()

	return dst, nil
}

func sampleNearest(g *raster.Grid, x, y float64) float64 {
	return g.At(int(math.Round(x)), int(math.Round(y)))
}

func sampleBilinear(g *raster.Grid, x, y float64) float64 {
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := min(x0+1, g.Width-1), min(y0+1, g.Height-1)
	fx, fy := x-float64(x0), y-float64(y0)

	top := g.At(x0, y0)*(1-fx) + g.At(x1, y0)*fx
	bottom := g.At(x0, y1)*(1-fx) + g.At(x1, y1)*fx
	return top*(1-fy) + bottom*fy
}

// sampleBicubic uses the Catmull-Rom kernel, replicating edge pixels.
func sampleBicubic(g *raster.Grid, x, y float64) float64 {
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	wx := catmullRom(x - float64(x0))
	wy := catmullRom(y - float64(y0))

	var sum float64
	for j := 0; j < 4; j++ {
		yy := clampInt(y0+j-1, 0, g.Height-1)
		var rowSum float64
		for i := 0; i < 4; i++ {
			xx := clampInt(x0+i-1, 0, g.Width-1)
			rowSum += wx[i] * g.At(xx, yy)
		}
		sum += wy[j] * rowSum
	}
	return sum
}

// catmullRom returns the weights of the four taps at offsets -1..2 for fraction t.
func catmullRom(t float64) [4]float64 {
	t2, t3 := t*t, t*t*t
	return [4]float64{
		-0.5*t3 + t2 - 0.5*t,
		1.5*t3 - 2.5*t2 + 1,
		-1.5*t3 + 2*t2 + 0.5*t,
		0.5*t3 - 0.5*t2,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
