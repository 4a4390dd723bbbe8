// Package raster provides the float64 image grid the aligner reads and writes, and its
// conversions to and from Go images.
package raster

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"runtime"
	"sync"
)

// Grid is a row-major single-channel image. Pixel (x, y) is Pix[y*Width+x], and
// pixel centres sit on integer coordinates.
type Grid struct {
	Width  int
	Height int
	Pix    []float64
}

// NewGrid allocates a zeroed grid.
func NewGrid(width, height int) *Grid {
	return &Grid{Width: width, Height: height, Pix: make([]float64, width*height)}
}

// NewGridFrom wraps existing pixel data.
func NewGridFrom(width, height int, pix []float64) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid grid size %dx%d", width, height)
	}
	if len(pix) != width*height {
		return nil, fmt.Errorf("pixel count %d does not match %dx%d", len(pix), width, height)
	}
	return &Grid{Width: width, Height: height, Pix: pix}, nil
}

// At returns the pixel at (x, y). Coordinates must be in bounds.
func (g *Grid) At(x, y int) float64 {
	return g.Pix[y*g.Width+x]
}

// Set stores v at (x, y).
func (g *Grid) Set(x, y int, v float64) {
	g.Pix[y*g.Width+x] = v
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	pix := make([]float64, len(g.Pix))
	copy(pix, g.Pix)
	return &Grid{Width: g.Width, Height: g.Height, Pix: pix}
}

// Bounds returns the grid rectangle.
func (g *Grid) Bounds() image.Rectangle {
	return image.Rect(0, 0, g.Width, g.Height)
}

// MinMax returns the smallest and largest finite pixel values.
func (g *Grid) MinMax() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range g.Pix {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// FromImage converts any image to a luminance grid in [0, 65535].
func FromImage(img image.Image) *Grid {
	b := img.Bounds()
	g := NewGrid(b.Dx(), b.Dy())

	forRows(g.Height, func(y int) {
		row := g.Pix[y*g.Width : (y+1)*g.Width]
		for x := range row {
			c := color.Gray16Model.Convert(img.At(x+b.Min.X, y+b.Min.Y)).(color.Gray16)
			row[x] = float64(c.Y)
		}
	})
	return g
}

// ToGray16 scales the grid linearly into 16-bit grey. lo and hi map to 0 and 65535;
// when lo >= hi the grid's own range is used.
func (g *Grid) ToGray16(lo, hi float64) *image.Gray16 {
	if lo >= hi {
		lo, hi = g.MinMax()
	}
	scale := 0.0
	if hi > lo {
		scale = 65535 / (hi - lo)
	}

	img := image.NewGray16(g.Bounds())
	forRows(g.Height, func(y int) {
		for x := 0; x < g.Width; x++ {
			v := (g.Pix[y*g.Width+x] - lo) * scale
			if math.IsNaN(v) {
				v = 0
			}
			v = math.Max(0, math.Min(65535, math.Round(v)))
			img.SetGray16(x, y, color.Gray16{Y: uint16(v)})
		}
	})
	return img
}

// forRows runs fn for every row, split into horizontal stripes across CPUs.
func forRows(height int, fn func(y int)) {
	numWorkers := runtime.NumCPU()
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
				fn(y)
			}
		}(startY, endY)
	}
	wg.Wait()
}
