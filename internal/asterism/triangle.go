package asterism

import (
	"fmt"
	"math"

	"skyalign/pkg/geometry"
)

const (
	// minSideLength rejects triangles with (nearly) coincident vertices, in pixels.
	minSideLength = 1e-3

	// collinearTolerance rejects triangles whose longest side is within this
	// fraction of the sum of the other two.
	collinearTolerance = 1e-3
)

// Invariant is the shape descriptor (L1/L0, L2/L1) of a triangle with sides
// L0 <= L1 <= L2. It does not change under rotation, translation, reflection or
// uniform scaling of the vertices.
type Invariant [2]float64

// Norm returns the Euclidean length of the descriptor.
func (v Invariant) Norm() float64 {
	return math.Hypot(v[0], v[1])
}

// Distance returns the Euclidean distance between two descriptors.
func (v Invariant) Distance(other Invariant) float64 {
	return math.Hypot(v[0]-other[0], v[1]-other[1])
}

// Triangle is an unordered triple of distinct stars from one PointSet. Sides are
// sorted ascending and Vertices[i] is the vertex opposite Sides[i].
type Triangle struct {
	Vertices [3]int
	Sides    [3]float64
}

// NewTriangle builds a triangle from three indices into points. ok is false when the
// triangle is degenerate (a near-zero side or near-collinear vertices).
func NewTriangle(points []geometry.Point2D, i, j, k int) (Triangle, bool) {
	// Side opposite each vertex.
	tri := Triangle{
		Vertices: [3]int{i, j, k},
		Sides: [3]float64{
			points[j].Distance(points[k]),
			points[i].Distance(points[k]),
			points[i].Distance(points[j]),
		},
	}

	// Three-element insertion sort keeps vertex labels attached to their opposite sides.
	for a := 1; a < 3; a++ {
		for b := a; b > 0 && tri.Sides[b] < tri.Sides[b-1]; b-- {
			tri.Sides[b], tri.Sides[b-1] = tri.Sides[b-1], tri.Sides[b]
			tri.Vertices[b], tri.Vertices[b-1] = tri.Vertices[b-1], tri.Vertices[b]
		}
	}

	l0, l1, l2 := tri.Sides[0], tri.Sides[1], tri.Sides[2]
	if l0 < minSideLength {
		return Triangle{}, false
	}
	if (l0+l1-l2)/l2 < collinearTolerance {
		return Triangle{}, false
	}
	return tri, true
}

// Invariant returns the triangle's shape descriptor.
func (t Triangle) Invariant() Invariant {
	return Invariant{t.Sides[1] / t.Sides[0], t.Sides[2] / t.Sides[1]}
}

// Orderings returns the two vertex labelings a match with this triangle may imply.
// The first is the side-sorted labeling. The second swaps the two vertices whose
// opposite sides are closest in length, which is where sorting becomes unreliable
// for near-isosceles shapes.
func (t Triangle) Orderings() [2][3]int {
	alt := t.Vertices
	if t.Sides[1]-t.Sides[0] <= t.Sides[2]-t.Sides[1] {
		alt[0], alt[1] = alt[1], alt[0]
	} else {
		alt[1], alt[2] = alt[2], alt[1]
	}
	return [2][3]int{t.Vertices, alt}
}

// Triangles enumerates every non-degenerate triangle of points in lexicographic
// vertex order and reports how many triples were rejected as degenerate.
func Triangles(points []geometry.Point2D) (tris []Triangle, degenerate int) {
	n := len(points)
	if n < MinPoints {
		return nil, 0
	}
	tris = make([]Triangle, 0, n*(n-1)*(n-2)/6)
	for i := 0; i < n-2; i++ {
		for j := i + 1; j < n-1; j++ {
			for k := j + 1; k < n; k++ {
				tri, ok := NewTriangle(points, i, j, k)
				if !ok {
					degenerate++
					continue
				}
				tris = append(tris, tri)
			}
		}
	}
	return tris, degenerate
}

// ControlTriangles truncates points to maxControlPoints and enumerates their
// triangles. It fails with ErrInsufficientPoints when fewer than 3 points remain,
// and additionally with ErrDegenerateGeometry when every triple is degenerate.
func ControlTriangles(points PointSet, maxControlPoints int) (PointSet, []Triangle, error) {
	control := points.Truncate(maxControlPoints)
	if len(control) < MinPoints {
		return nil, nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientPoints, len(control), MinPoints)
	}

	tris, degenerate := Triangles(control.Points())
	if len(tris) == 0 {
		return nil, nil, fmt.Errorf("%w: all %d triangles of %d points are degenerate: %w",
			ErrInsufficientPoints, degenerate, len(control), ErrDegenerateGeometry)
	}
	return control, tris, nil
}
