package asterism

import "errors"

// Failure kinds raised by the registration pipeline. Callers test for them with errors.Is;
// call sites wrap them with context.
var (
	// ErrInsufficientPoints: a set has fewer than 3 points after truncation, or yields no valid triangle.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrDegenerateGeometry: collinear or coincident points made a linear solve singular.
	ErrDegenerateGeometry = errors.New("degenerate geometry")

	// ErrNoMatchFound: no triangle pair cleared the invariant tolerance.
	ErrNoMatchFound = errors.New("no triangle match found")

	// ErrInsufficientMatches: fewer than 3 correspondences survived vote resolution.
	ErrInsufficientMatches = errors.New("insufficient matches")

	// ErrTransformNotFound: outlier rejection left fewer than 3 inliers, or matching failed upstream.
	ErrTransformNotFound = errors.New("transform not found")
)
