// Package alignment estimates the affine transform between two star fields and warps
// the target image onto the reference frame.
package alignment

import (
	"context"
	"fmt"
	"math"

	"skyalign/internal/asterism"
	"skyalign/internal/match"
	"skyalign/internal/raster"
	"skyalign/pkg/geometry"

	"github.com/go-logr/logr"
)

// Detector extracts point sources from an image, brightest first.
type Detector interface {
	Detect(g *raster.Grid) (asterism.PointSet, error)
}

// Options configures the alignment process.
type Options struct {
	MaxControlPoints   int           // Brightest stars kept from each set
	InvariantTolerance float64       // Relative invariant-space match threshold
	MinSupport         int           // Votes a correspondence needs
	OutlierK           float64       // Residual cut in multiples of the median residual
	MinResidualScale   float64       // Floor on the median residual, in pixels
	Interpolation      Interpolation // Resampling kernel
	FillValue          float64       // Output value outside the target image
	Workers            int           // 0 uses runtime.NumCPU()
	Detector           Detector      // Needed by AlignImage only
	Logger             logr.Logger
}

// DefaultOptions returns default alignment options.
func DefaultOptions() Options {
	m := match.DefaultOptions()
	return Options{
		MaxControlPoints:   m.MaxControlPoints,
		InvariantTolerance: m.InvariantTolerance,
		MinSupport:         m.MinSupport,
		OutlierK:           DefaultOutlierK,
		MinResidualScale:   DefaultMinResidualScale,
		Interpolation:      Bilinear,
		Logger:             logr.Discard(),
	}
}

func (o Options) matchOptions() match.Options {
	return match.Options{
		MaxControlPoints:   o.MaxControlPoints,
		InvariantTolerance: o.InvariantTolerance,
		MinSupport:         o.MinSupport,
		Workers:            o.Workers,
		Logger:             o.Logger,
	}
}

// ResampleOptions returns the resampling part of the options.
func (o Options) ResampleOptions() ResampleOptions {
	return ResampleOptions{
		Interpolation: o.Interpolation,
		FillValue:     o.FillValue,
		Workers:       o.Workers,
	}
}

// Result holds a fitted transform and the evidence behind it.
type Result struct {
	Transform       geometry.AffineTransform // Target frame to reference frame
	Inliers         []match.Pair
	Candidates      int // Distinct pairings that received a vote
	TriangleMatches int // Target triangles matched within tolerance
	RMS             float64
	Spread          float64 // Convex hull area of the reference inliers, in px²
}

// FindTransform finds the affine transform mapping target coordinates onto ref
// coordinates. Both sets should be ordered brightest first.
func FindTransform(ctx context.Context, target, ref asterism.PointSet, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, err := asterism.NewIndex(ref, opts.MaxControlPoints)
	if err != nil {
		return nil, fmt.Errorf("%w: reference set: %w", asterism.ErrTransformNotFound, err)
	}
	return FindTransformWithIndex(ctx, target, idx, opts)
}

// FindTransformWithIndex is FindTransform against a reference index the caller keeps
// across frames. The index's truncation takes precedence over opts.MaxControlPoints for
// the reference side.
func FindTransformWithIndex(ctx context.Context, target asterism.PointSet, idx *asterism.Index, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := match.NewFinder(opts.matchOptions()).FindWithIndex(target, idx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", asterism.ErrTransformNotFound, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t, inliers, err := estimateAffine(c.Pairs, opts.OutlierK, opts.MinResidualScale)
	if err != nil {
		return nil, err
	}
	if !t.Invertible() {
		return nil, fmt.Errorf("%w: fitted transform is singular", asterism.ErrDegenerateGeometry)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		Transform:       t,
		Inliers:         inliers,
		Candidates:      c.Candidates,
		TriangleMatches: c.TriangleMatches,
		RMS:             RMS(inliers, t),
		Spread:          Spread(inliers),
	}
	opts.Logger.V(1).Info("transform estimated",
		"pairs", len(c.Pairs),
		"inliers", len(inliers),
		"rms", res.RMS,
		"spread", res.Spread,
		"rotationDeg", t.Rotation()*180/math.Pi,
		"scale", t.ScaleFactor())
	return res, nil
}

// AlignImage detects stars on both images, finds the transform and resamples target
// onto ref's grid.
func AlignImage(ctx context.Context, target, ref *raster.Grid, opts Options) (*raster.Grid, *Result, error) {
	if target == nil || ref == nil {
		return nil, nil, fmt.Errorf("empty input image")
	}
	if opts.Detector == nil {
		return nil, nil, fmt.Errorf("no point source detector configured")
	}

	targetPts, err := opts.Detector.Detect(target)
	if err != nil {
		return nil, nil, fmt.Errorf("target detection: %w", err)
	}
	refPts, err := opts.Detector.Detect(ref)
	if err != nil {
		return nil, nil, fmt.Errorf("reference detection: %w", err)
	}
	opts.Logger.V(1).Info("stars detected", "target", len(targetPts), "reference", len(refPts))

	return AlignImageToPoints(ctx, target, targetPts, refPts, ref.Width, ref.Height, opts)
}

// AlignImageToPoints aligns target using stars extracted beforehand. The output grid is
// width x height in the reference frame.
func AlignImageToPoints(ctx context.Context, target *raster.Grid, targetPts, refPts asterism.PointSet,
	width, height int, opts Options) (*raster.Grid, *Result, error) {
	res, err := FindTransform(ctx, targetPts, refPts, opts)
	if err != nil {
		return nil, nil, err
	}

	aligned, err := Resample(target, res.Transform, width, height, opts.ResampleOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("resample: %w", err)
	}
	return aligned, res, nil
}

// Spread returns the area of the convex hull of the reference side of pairs. A small
// spread relative to the frame means the fit is extrapolated over most of the image.
func Spread(pairs []match.Pair) float64 {
	pts := make([]geometry.Point2D, len(pairs))
	for i, p := range pairs {
		pts[i] = p.RefPoint
	}
	return geometry.PolygonArea(geometry.ConvexHull(pts))
}

// Overlap returns the fraction of the reference frame covered by the target frame
// once mapped through t.
func Overlap(t geometry.AffineTransform, targetWidth, targetHeight, refWidth, refHeight int) float64 {
	ref := geometry.FrameCorners(refWidth, refHeight)
	refArea := geometry.PolygonArea(ref)
	if refArea == 0 {
		return 0
	}
	footprint := geometry.TransformPolygon(t, geometry.FrameCorners(targetWidth, targetHeight))
	return geometry.PolygonArea(geometry.IntersectPolygons(footprint, ref)) / refArea
}

// CreateOverlay blends the reference with an aligned frame, opacity weighting ref.
func CreateOverlay(ref, aligned *raster.Grid, opacity float64) (*raster.Grid, error) {
	if ref.Width != aligned.Width || ref.Height != aligned.Height {
		return nil, fmt.Errorf("size mismatch: %dx%d vs %dx%d", ref.Width, ref.Height, aligned.Width, aligned.Height)
	}
	dst := raster.NewGrid(ref.Width, ref.Height)
	for i := range dst.Pix {
		dst.Pix[i] = opacity*ref.Pix[i] + (1-opacity)*aligned.Pix[i]
	}
	return dst, nil
}
