package geometry

import (
	"math"
	"sort"
)

// FrameCorners returns the pixel-centre rectangle of a width x height frame,
// counter-clockwise from the origin.
func FrameCorners(width, height int) []Point2D {
	w, h := float64(width-1), float64(height-1)
	return []Point2D{{0, 0}, {w, 0}, {w, h}, {0, h}}
}

// TransformPolygon maps every vertex through t. A transform with negative determinant
// reverses the winding, so the result is flipped back to counter-clockwise.
func TransformPolygon(t AffineTransform, polygon []Point2D) []Point2D {
	out := make([]Point2D, len(polygon))
	for i, p := range polygon {
		out[i] = t.Apply(p)
	}
	if t.Determinant() < 0 {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// ConvexHull computes the convex hull of a set of points using Graham scan.
// Returns the points forming the convex hull in counter-clockwise order.
func ConvexHull(points []Point2D) []Point2D {
	if len(points) < 3 {
		return append([]Point2D(nil), points...)
	}

	pts := make([]Point2D, len(points))
	copy(pts, points)

	// Lowest y (then lowest x) is the pivot
	lowest := 0
	for i := 1; i < len(pts); i++ {
		if pts[i].Y < pts[lowest].Y ||
			(pts[i].Y == pts[lowest].Y && pts[i].X < pts[lowest].X) {
			lowest = i
		}
	}
	pts[0], pts[lowest] = pts[lowest], pts[0]
	pivot := pts[0]

	rest := pts[1:]
	sort.Slice(rest, func(i, j int) bool {
		cross := crossProduct(pivot, rest[i], rest[j])
		if cross != 0 {
			return cross > 0
		}
		return distSq(pivot, rest[i]) < distSq(pivot, rest[j])
	})

	hull := []Point2D{pivot}
	for _, p := range rest {
		for len(hull) > 1 && crossProduct(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull
}

// PolygonArea returns the unsigned area of a simple polygon (shoelace formula).
func PolygonArea(polygon []Point2D) float64 {
	if len(polygon) < 3 {
		return 0
	}
	var sum float64
	for i, p := range polygon {
		q := polygon[(i+1)%len(polygon)]
		sum += p.X*q.Y - q.X*p.Y
	}
	return math.Abs(sum) / 2
}

// IntersectPolygons computes the intersection of two convex polygons using
// the Sutherland-Hodgman algorithm. clip must be counter-clockwise.
// Returns nil if there is no intersection or if inputs are invalid.
func IntersectPolygons(subject, clip []Point2D) []Point2D {
	if len(subject) < 3 || len(clip) < 3 {
		return nil
	}

	output := append([]Point2D(nil), subject...)
	for i := range clip {
		if len(output) == 0 {
			return nil
		}
		output = clipPolygonByEdge(output, clip[i], clip[(i+1)%len(clip)])
	}

	if len(output) < 3 {
		return nil
	}
	return output
}

func clipPolygonByEdge(polygon []Point2D, edgeStart, edgeEnd Point2D) []Point2D {
	var clipped []Point2D
	for i, current := range polygon {
		next := polygon[(i+1)%len(polygon)]
		currentInside := isInsideEdge(current, edgeStart, edgeEnd)
		nextInside := isInsideEdge(next, edgeStart, edgeEnd)

		if currentInside {
			clipped = append(clipped, current)
		}
		if currentInside != nextInside {
			if x, ok := lineIntersection(current, next, edgeStart, edgeEnd); ok {
				clipped = append(clipped, x)
			}
		}
	}
	return clipped
}

// isInsideEdge reports whether p is on the left of the directed edge.
func isInsideEdge(p, edgeStart, edgeEnd Point2D) bool {
	return crossProduct(edgeStart, edgeEnd, p) >= 0
}

// lineIntersection intersects the line through p1-p2 with the line through e1-e2.
func lineIntersection(p1, p2, e1, e2 Point2D) (Point2D, bool) {
	d := p2.Sub(p1)
	e := e2.Sub(e1)
	denom := d.Cross(e)
	if math.Abs(denom) < 1e-10 {
		return Point2D{}, false
	}
	t := e1.Sub(p1).Cross(e) / denom
	return Point2D{X: p1.X + t*d.X, Y: p1.Y + t*d.Y}, true
}

// crossProduct computes the cross product of vectors OA and OB.
func crossProduct(o, a, b Point2D) float64 {
	return a.Sub(o).Cross(b.Sub(o))
}

func distSq(a, b Point2D) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y
	return dx*dx + dy*dy
}
