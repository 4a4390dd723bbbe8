// Package synthetic builds star fields with a known transform between two frames,
// for tests and for exercising the CLI without telescope data.
package synthetic

import (
	"math"
	"math/rand"

	"skyalign/internal/asterism"
	"skyalign/internal/raster"
	"skyalign/pkg/geometry"
)

// Field is a pair of catalogs of the same sky. Truth maps target coordinates onto
// reference coordinates.
type Field struct {
	Width, Height int
	Ref           asterism.PointSet
	Target        asterism.PointSet
	Truth         geometry.AffineTransform
}

// FieldParams describes a rotated and shifted pair of frames.
type FieldParams struct {
	Seed          int64
	Stars         int     // Stars scattered over the disc covering both frames
	Width, Height int     // Frame size in pixels
	AngleDeg      float64 // Rotation of the target frame about the frame centre
	DX, DY        float64 // Shift applied after rotation
	Quantize      bool    // Round positions to whole pixels
}

// CalibrationParams reproduces the 50 degree, (10,-20) calibration field.
func CalibrationParams(seed int64) FieldParams {
	return FieldParams{
		Seed:     seed,
		Stars:    1500,
		Width:    512,
		Height:   512,
		AngleDeg: 50,
		DX:       10,
		DY:       -20,
		Quantize: true,
	}
}

// NewField scatters stars with Pareto-distributed fluxes, keeps those inside each frame
// and orders both catalogs brightest first.
func NewField(p FieldParams) Field {
	rng := rand.New(rand.NewSource(p.Seed))

	w, h := float64(p.Width), float64(p.Height)
	center := geometry.Point2D{X: w / 2, Y: h / 2}
	bigR := 0.5*math.Hypot(w, h) + math.Max(math.Abs(p.DX), math.Abs(p.DY))

	refToTarget := geometry.Translation(p.DX, p.DY).
		Compose(geometry.RotationAbout(p.AngleDeg*math.Pi/180, center))

	inFrame := func(q geometry.Point2D) bool {
		return q.X > 0 && q.X < w-1 && q.Y > 0 && q.Y < h-1
	}
	quantize := func(q geometry.Point2D) geometry.Point2D {
		if p.Quantize {
			return geometry.Point2D{X: math.Round(q.X), Y: math.Round(q.Y)}
		}
		return q
	}

	var ref, target asterism.PointSet
	for i := 0; i < p.Stars; i++ {
		pos := geometry.Point2D{
			X: center.X + (rng.Float64()*2-1)*bigR,
			Y: center.Y + (rng.Float64()*2-1)*bigR,
		}
		// Pareto(0.8) tail as in the calibration fixture.
		flux := math.Exp(rng.ExpFloat64()/0.8) * 1000

		if inFrame(pos) {
			q := quantize(pos)
			ref = append(ref, asterism.Star{X: q.X, Y: q.Y, Flux: flux})
		}
		if moved := refToTarget.Apply(pos); inFrame(moved) {
			q := quantize(moved)
			target = append(target, asterism.Star{X: q.X, Y: q.Y, Flux: flux})
		}
	}

	truth, _ := refToTarget.Inverse()
	return Field{
		Width:  p.Width,
		Height: p.Height,
		Ref:    ref.SortByFlux(),
		Target: target.SortByFlux(),
		Truth:  truth,
	}
}

// WithSpurious returns a copy of set with extra uncorrelated stars interleaved so that
// they make up fraction of the result's leading n entries.
func WithSpurious(set asterism.PointSet, fraction float64, n, width, height int, seed int64) asterism.PointSet {
	rng := rand.New(rand.NewSource(seed))
	every := int(math.Round(1 / fraction))
	out := make(asterism.PointSet, 0, len(set)+n/every+1)
	src := 0
	for len(out) < n && src < len(set) {
		if len(out)%every == every-1 {
			out = append(out, asterism.Star{
				X:    rng.Float64() * float64(width-1),
				Y:    rng.Float64() * float64(height-1),
				Flux: set[src].Flux,
			})
			continue
		}
		out = append(out, set[src])
		src++
	}
	return append(out, set[src:]...)
}

// Render draws the catalog as Gaussian profiles on a flat background.
func Render(set asterism.PointSet, width, height int, sigma, background float64) *raster.Grid {
	g := raster.NewGrid(width, height)
	for i := range g.Pix {
		g.Pix[i] = background
	}
	radius := int(math.Ceil(4 * sigma))
	for _, s := range set {
		cx, cy := int(math.Round(s.X)), int(math.Round(s.Y))
		norm := s.Flux / (2 * math.Pi * sigma * sigma)
		for y := max(0, cy-radius); y <= min(height-1, cy+radius); y++ {
			for x := max(0, cx-radius); x <= min(width-1, cx+radius); x++ {
				dx, dy := float64(x)-s.X, float64(y)-s.Y
				g.Pix[y*width+x] += norm * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
			}
		}
	}
	return g
}

// AddNoise adds seeded Gaussian read noise to every pixel.
func AddNoise(g *raster.Grid, sigma float64, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range g.Pix {
		g.Pix[i] += rng.NormFloat64() * sigma
	}
}
