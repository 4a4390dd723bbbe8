// Package geometry provides the planar point and affine transform types shared by
// the registration engine and its callers.
package geometry

import (
	"math"

	"golang.org/x/image/math/f64"
)

// Point2D represents a 2D point with floating-point pixel coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPoint2D creates a new Point2D.
func NewPoint2D(x, y float64) Point2D {
	return Point2D{X: x, Y: y}
}

// Distance returns the Euclidean distance to another point.
func (p Point2D) Distance(other Point2D) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Sub returns the difference of two points.
func (p Point2D) Sub(other Point2D) Point2D {
	return Point2D{X: p.X - other.X, Y: p.Y - other.Y}
}

// Cross returns the z component of the cross product of p and other taken as vectors.
func (p Point2D) Cross(other Point2D) float64 {
	return p.X*other.Y - p.Y*other.X
}

// Norm returns the length of p taken as a vector.
func (p Point2D) Norm() float64 {
	return math.Hypot(p.X, p.Y)
}

// singularDet is the smallest |det| of the linear part for which the inverse is trusted.
const singularDet = 1e-10

// AffineTransform represents a 2x3 affine transformation matrix.
// [a b tx]
// [c d ty]
// In the registration pipeline it maps target-frame coordinates to reference-frame coordinates.
type AffineTransform struct {
	A, B, TX float64
	C, D, TY float64
}

// Identity returns the identity transform.
func Identity() AffineTransform {
	return AffineTransform{A: 1, D: 1}
}

// Translation returns a translation transform.
func Translation(tx, ty float64) AffineTransform {
	return AffineTransform{A: 1, D: 1, TX: tx, TY: ty}
}

// Rotation returns a rotation transform around the origin.
func Rotation(radians float64) AffineTransform {
	cos := math.Cos(radians)
	sin := math.Sin(radians)
	return AffineTransform{A: cos, B: -sin, C: sin, D: cos}
}

// RotationAbout returns a rotation by radians around center.
func RotationAbout(radians float64, center Point2D) AffineTransform {
	return Translation(center.X, center.Y).
		Compose(Rotation(radians)).
		Compose(Translation(-center.X, -center.Y))
}

// Scale returns a scaling transform.
func Scale(sx, sy float64) AffineTransform {
	return AffineTransform{A: sx, D: sy}
}

// Apply applies the transform to a point.
func (t AffineTransform) Apply(p Point2D) Point2D {
	return Point2D{
		X: t.A*p.X + t.B*p.Y + t.TX,
		Y: t.C*p.X + t.D*p.Y + t.TY,
	}
}

// Compose returns this transform composed with another (this * other).
// The result applies other first.
func (t AffineTransform) Compose(other AffineTransform) AffineTransform {
	return AffineTransform{
		A:  t.A*other.A + t.B*other.C,
		B:  t.A*other.B + t.B*other.D,
		TX: t.A*other.TX + t.B*other.TY + t.TX,
		C:  t.C*other.A + t.D*other.C,
		D:  t.C*other.B + t.D*other.D,
		TY: t.C*other.TX + t.D*other.TY + t.TY,
	}
}

// Determinant returns the determinant of the 2x2 linear part.
func (t AffineTransform) Determinant() float64 {
	return t.A*t.D - t.B*t.C
}

// Invertible reports whether the linear part is far enough from singular to invert.
func (t AffineTransform) Invertible() bool {
	det := t.Determinant()
	return !math.IsNaN(det) && math.Abs(det) >= singularDet
}

// Inverse returns the inverse transform, if it exists.
func (t AffineTransform) Inverse() (AffineTransform, bool) {
	if !t.Invertible() {
		return AffineTransform{}, false
	}

	invDet := 1.0 / t.Determinant()
	return AffineTransform{
		A:  t.D * invDet,
		B:  -t.B * invDet,
		TX: (t.B*t.TY - t.D*t.TX) * invDet,
		C:  -t.C * invDet,
		D:  t.A * invDet,
		TY: (t.C*t.TX - t.A*t.TY) * invDet,
	}, true
}

// Rotation returns the rotation angle of the linear part in radians.
func (t AffineTransform) Rotation() float64 {
	return math.Atan2(t.C, t.A)
}

// ScaleFactor returns the mean scale of the linear part.
func (t AffineTransform) ScaleFactor() float64 {
	return math.Sqrt(math.Abs(t.Determinant()))
}

// Norm1 returns the induced 1-norm of the 2x3 matrix (maximum absolute column sum).
func (t AffineTransform) Norm1() float64 {
	return math.Max(math.Abs(t.A)+math.Abs(t.C),
		math.Max(math.Abs(t.B)+math.Abs(t.D), math.Abs(t.TX)+math.Abs(t.TY)))
}

// Sub returns the element-wise difference t - other.
func (t AffineTransform) Sub(other AffineTransform) AffineTransform {
	return AffineTransform{
		A: t.A - other.A, B: t.B - other.B, TX: t.TX - other.TX,
		C: t.C - other.C, D: t.D - other.D, TY: t.TY - other.TY,
	}
}

// RelativeError returns |t - truth|₁ / |truth|₁.
func (t AffineTransform) RelativeError(truth AffineTransform) float64 {
	return t.Sub(truth).Norm1() / truth.Norm1()
}

// ToMatrix returns the transform as a [2][3]float64 array.
func (t AffineTransform) ToMatrix() [2][3]float64 {
	return [2][3]float64{
		{t.A, t.B, t.TX},
		{t.C, t.D, t.TY},
	}
}

// FromMatrix creates an AffineTransform from a [2][3]float64 array.
func FromMatrix(m [2][3]float64) AffineTransform {
	return AffineTransform{
		A: m[0][0], B: m[0][1], TX: m[0][2],
		C: m[1][0], D: m[1][1], TY: m[1][2],
	}
}

// Aff3 returns the transform in the row-major layout used by golang.org/x/image.
func (t AffineTransform) Aff3() f64.Aff3 {
	return f64.Aff3{t.A, t.B, t.TX, t.C, t.D, t.TY}
}

// FromAff3 creates an AffineTransform from an x/image affine matrix.
func FromAff3(m f64.Aff3) AffineTransform {
	return AffineTransform{
		A: m[0], B: m[1], TX: m[2],
		C: m[3], D: m[4], TY: m[5],
	}
}

// Centroid computes the centroid (average position) of a set of points.
func Centroid(points []Point2D) Point2D {
	if len(points) == 0 {
		return Point2D{}
	}
	var sumX, sumY float64
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
	}
	n := float64(len(points))
	return Point2D{X: sumX / n, Y: sumY / n}
}
