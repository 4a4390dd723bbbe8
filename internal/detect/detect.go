// Package detect finds point sources in an image and measures their flux-weighted
// centroids.
package detect

import (
	"fmt"
	"math"
	"sort"

	"skyalign/internal/asterism"
	"skyalign/internal/raster"

	"github.com/go-logr/logr"
	"gonum.org/v1/gonum/stat"
)

// madToSigma converts a median absolute deviation to a Gaussian standard deviation.
const madToSigma = 1.4826

// Params configures source detection.
type Params struct {
	Threshold float64 // Detection level in noise sigmas above the background
	Smooth    float64 // Gaussian pre-filter sigma in pixels; 0 disables
	MinArea   int     // Smallest blob kept, in pixels
	MaxArea   int     // Largest blob kept; 0 means no limit
	MaxStars  int     // Brightest sources returned; 0 returns all
}

// DefaultParams returns default detection parameters.
func DefaultParams() Params {
	return Params{
		Threshold: 5,
		Smooth:    0,
		MinArea:   2,
		MaxArea:   1000,
		MaxStars:  0,
	}
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %g", p.Threshold)
	}
	if p.Smooth < 0 {
		return fmt.Errorf("smooth must not be negative, got %g", p.Smooth)
	}
	if p.MinArea < 1 {
		return fmt.Errorf("min area must be at least 1, got %d", p.MinArea)
	}
	if p.MaxArea != 0 && p.MaxArea < p.MinArea {
		return fmt.Errorf("max area %d below min area %d", p.MaxArea, p.MinArea)
	}
	if p.MaxStars < 0 {
		return fmt.Errorf("max stars must not be negative, got %d", p.MaxStars)
	}
	return nil
}

// Detector extracts stars from grids. It is safe for concurrent use.
type Detector struct {
	params Params
	log    logr.Logger
}

// New creates a Detector.
func New(p Params, log logr.Logger) (*Detector, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Detector{params: p, log: log}, nil
}

// Detect returns the sources in g, brightest first.
func (d *Detector) Detect(g *raster.Grid) (asterism.PointSet, error) {
	if g == nil || g.Width == 0 || g.Height == 0 {
		return nil, fmt.Errorf("empty image")
	}

	bg, sigma := Background(g)
	level := bg + d.params.Threshold*sigma

	labels, n, err := segment(g, level, d.params.Smooth)
	if err != nil {
		return nil, fmt.Errorf("segment: %w", err)
	}

	stars := measure(g, labels, n, bg, d.params.MinArea, d.params.MaxArea)
	sort.SliceStable(stars, func(i, j int) bool {
		a, b := stars[i], stars[j]
		if a.Flux != b.Flux {
			return a.Flux > b.Flux
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	if d.params.MaxStars > 0 && len(stars) > d.params.MaxStars {
		stars = stars[:d.params.MaxStars]
	}

	d.log.V(1).Info("sources detected",
		"background", bg, "sigma", sigma, "level", level, "blobs", n, "stars", len(stars))
	return stars, nil
}

// Background estimates the sky level as the median pixel and the noise from the median
// absolute deviation. Images too flat for a MAD fall back to the standard deviation.
func Background(g *raster.Grid) (level, sigma float64) {
	sorted := make([]float64, 0, len(g.Pix))
	for _, v := range g.Pix {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return 0, 0
	}
	sort.Float64s(sorted)
	level = stat.Quantile(0.5, stat.Empirical, sorted, nil)

	dev := make([]float64, len(sorted))
	for i, v := range sorted {
		dev[i] = math.Abs(v - level)
	}
	sort.Float64s(dev)
	sigma = madToSigma * stat.Quantile(0.5, stat.Empirical, dev, nil)
	if sigma == 0 {
		sigma = stat.StdDev(sorted, nil)
	}
	return level, sigma
}

// measure turns labelled blobs into stars. labels holds one entry per pixel, 0 for
// background and 1..n for blobs.
func measure(g *raster.Grid, labels []int32, n int, bg float64, minArea, maxArea int) asterism.PointSet {
	type moments struct {
		area            int
		sum, sumX, sumY float64
	}
	blobs := make([]moments, n+1)
	for i, l := range labels {
		if l == 0 {
			continue
		}
		w := g.Pix[i] - bg
		if w < 0 {
			w = 0
		}
		x, y := float64(i%g.Width), float64(i/g.Width)
		b := &blobs[l]
		b.area++
		b.sum += w
		b.sumX += w * x
		b.sumY += w * y
	}

	stars := make(asterism.PointSet, 0, n)
	for _, b := range blobs[1:] {
		if b.area < minArea || (maxArea > 0 && b.area > maxArea) || b.sum <= 0 {
			continue
		}
		stars = append(stars, asterism.Star{X: b.sumX / b.sum, Y: b.sumY / b.sum, Flux: b.sum})
	}
	return stars
}
