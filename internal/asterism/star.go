// Package asterism holds the point-set model of the registration engine and the
// triangle invariant index built over it.
package asterism

import (
	"sort"

	"skyalign/pkg/geometry"
)

// MinPoints is the smallest point set that can form a triangle or fix an affine transform.
const MinPoints = 3

// Star is a detected point source. Flux only ranks stars for truncation; it never
// enters the geometry.
type Star struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Flux float64 `json:"flux,omitempty"`
}

// Point returns the star position.
func (s Star) Point() geometry.Point2D {
	return geometry.Point2D{X: s.X, Y: s.Y}
}

// PointSet is an ordered list of stars, brightest first when fluxes are known.
// The order decides which stars survive truncation.
type PointSet []Star

// FromPoints builds a PointSet from bare positions, keeping their order.
func FromPoints(points []geometry.Point2D) PointSet {
	set := make(PointSet, len(points))
	for i, p := range points {
		set[i] = Star{X: p.X, Y: p.Y}
	}
	return set
}

// Points returns the star positions in set order.
func (s PointSet) Points() []geometry.Point2D {
	pts := make([]geometry.Point2D, len(s))
	for i, star := range s {
		pts[i] = star.Point()
	}
	return pts
}

// Truncate returns the first n stars. n <= 0 keeps every star.
func (s PointSet) Truncate(n int) PointSet {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}

// SortByFlux returns a copy ordered by descending flux. Stars of equal flux keep
// their relative order.
func (s PointSet) SortByFlux() PointSet {
	sorted := make(PointSet, len(s))
	copy(sorted, s)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Flux > sorted[j].Flux
	})
	return sorted
}

// Transform returns a copy of the set with every position mapped through t.
func (s PointSet) Transform(t geometry.AffineTransform) PointSet {
	out := make(PointSet, len(s))
	for i, star := range s {
		p := t.Apply(star.Point())
		out[i] = Star{X: p.X, Y: p.Y, Flux: star.Flux}
	}
	return out
}
