package alignment

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"skyalign/internal/asterism"
	"skyalign/internal/match"
	"skyalign/pkg/geometry"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultOutlierK is the residual cut, in multiples of the median residual, used by
// EstimateAffine when none is given.
const DefaultOutlierK = 3.0

// DefaultMinResidualScale floors the median residual so exact fits do not reject pairs
// that are off by rounding noise.
const DefaultMinResidualScale = 0.05

// collinearTolerance bounds the normalised triangle area below which three pairs
// cannot fix an affine transform.
const collinearTolerance = 1e-9

// seedPairs is how many of the best-supported pairs are combined into exact starting
// fits for the trimmed search.
const seedPairs = 6

// maxRefineSteps bounds both the trimmed concentration and the re-admission loop.
const maxRefineSteps = 50

// maxResidualFraction bounds the inlier RMS relative to the spread of the inlier
// reference points. Fits above it are not registrations.
const maxResidualFraction = 0.02

// EstimateAffine fits the transform mapping each pair's target point onto its reference
// point. Three pairs are solved exactly; target points that are collinear fail with
// ErrDegenerateGeometry.
//
// With more than three pairs the fit starts from the trimmed least-squares solution
// over the better half of the pairs, seeded from the best-supported pairs, and is then
// refined: every pair whose residual is within outlierK times the median inlier
// residual is admitted and the set refitted until it stops changing. The surviving
// pairs are returned. A fit confirmed by no pair beyond the three that fix it, or
// whose residuals are not small against the extent of the stars, fails with
// ErrTransformNotFound.
func EstimateAffine(pairs []match.Pair, outlierK float64) (geometry.AffineTransform, []match.Pair, error) {
	return estimateAffine(pairs, outlierK, DefaultMinResidualScale)
}

func estimateAffine(pairs []match.Pair, outlierK, minScale float64) (geometry.AffineTransform, []match.Pair, error) {
	if len(pairs) < asterism.MinPoints {
		return geometry.AffineTransform{}, nil, fmt.Errorf("%w: need %d pairs, got %d",
			asterism.ErrInsufficientPoints, asterism.MinPoints, len(pairs))
	}
	if outlierK <= 0 {
		outlierK = DefaultOutlierK
	}
	if minScale <= 0 {
		minScale = DefaultMinResidualScale
	}

	src, dst := splitPairs(pairs)
	if len(pairs) == asterism.MinPoints {
		if collinear(src) {
			return geometry.AffineTransform{}, nil, fmt.Errorf("%w: three target points are collinear",
				asterism.ErrDegenerateGeometry)
		}
		t, err := computeAffineFromPoints(src, dst)
		if err != nil {
			return geometry.AffineTransform{}, nil, fmt.Errorf("%w: %v", asterism.ErrDegenerateGeometry, err)
		}
		return t, append([]match.Pair(nil), pairs...), nil
	}

	t, subset, err := trimmedFit(pairs, src, dst)
	if err != nil {
		return geometry.AffineTransform{}, nil, err
	}

	members := subset
	for step := 0; step < maxRefineSteps; step++ {
		residuals := Residuals(src, dst, t)
		inner := make([]float64, len(members))
		for i, m := range members {
			inner[i] = residuals[m]
		}
		limit := outlierK * math.Max(median(inner), minScale)

		var kept []int
		for i, r := range residuals {
			if r <= limit {
				kept = append(kept, i)
			}
		}
		if len(kept) < asterism.MinPoints {
			return geometry.AffineTransform{}, nil, fmt.Errorf("%w: %d of %d pairs within %.3g px",
				asterism.ErrTransformNotFound, len(kept), len(pairs), limit)
		}
		if slices.Equal(kept, members) {
			break
		}
		members = kept
		if t, err = computeAffineLeastSquares(pick(src, members), pick(dst, members)); err != nil {
			return geometry.AffineTransform{}, nil, fmt.Errorf("%w: %v", asterism.ErrDegenerateGeometry, err)
		}
	}

	if len(members) == asterism.MinPoints {
		return geometry.AffineTransform{}, nil, fmt.Errorf("%w: no pair beyond the three fitted agrees",
			asterism.ErrTransformNotFound)
	}
	inliers := make([]match.Pair, len(members))
	for i, m := range members {
		inliers[i] = pairs[m]
	}
	rms, extent := RMS(inliers, t), spread(pick(dst, members))
	if rms > maxResidualFraction*extent {
		return geometry.AffineTransform{}, nil, fmt.Errorf("%w: rms %.3g px over %d pairs spread %.3g px",
			asterism.ErrTransformNotFound, rms, len(inliers), extent)
	}
	return t, inliers, nil
}

// trimmedFit searches for the least-squares fit over the h pairs it explains best,
// h being just over half of all pairs. Each start is concentrated by refitting to the
// h lowest residuals until the subset is stable; the start with the smallest trimmed
// sum of squares wins. Starts are the fit over the pairs with at least half the top
// vote count and the exact fits through triples of the best-supported pairs.
func trimmedFit(pairs []match.Pair, src, dst []geometry.Point2D) (geometry.AffineTransform, []int, error) {
	h := (len(pairs) + asterism.MinPoints + 1) / 2

	order := make([]int, len(pairs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return pairs[order[i]].Votes > pairs[order[j]].Votes
	})

	var starts []geometry.AffineTransform
	var core []int
	for _, i := range order {
		if 2*pairs[i].Votes >= pairs[order[0]].Votes {
			core = append(core, i)
		}
	}
	if len(core) > asterism.MinPoints {
		if t, err := computeAffineLeastSquares(pick(src, core), pick(dst, core)); err == nil {
			starts = append(starts, t)
		}
	}
	top := order[:min(seedPairs, len(order))]
	for a := 0; a < len(top); a++ {
		for b := a + 1; b < len(top); b++ {
			for c := b + 1; c < len(top); c++ {
				tri := []int{top[a], top[b], top[c]}
				s := pick(src, tri)
				if collinear(s) {
					continue
				}
				if t, err := computeAffineFromPoints(s, pick(dst, tri)); err == nil {
					starts = append(starts, t)
				}
			}
		}
	}

	var (
		best     geometry.AffineTransform
		bestSet  []int
		bestCost = math.Inf(1)
	)
	for _, t := range starts {
		ct, set, cost, ok := concentrate(t, src, dst, h)
		if ok && cost < bestCost {
			best, bestSet, bestCost = ct, set, cost
		}
	}
	if bestSet == nil {
		return geometry.AffineTransform{}, nil, fmt.Errorf("%w: no well-conditioned subset of %d pairs",
			asterism.ErrDegenerateGeometry, len(pairs))
	}
	return best, bestSet, nil
}

// concentrate refits t to the h pairs with the lowest residuals until the subset stops
// changing, and returns the fit, the sorted subset and its sum of squared residuals.
func concentrate(t geometry.AffineTransform, src, dst []geometry.Point2D, h int) (geometry.AffineTransform, []int, float64, bool) {
	var subset []int
	for step := 0; step < maxRefineSteps; step++ {
		next := lowest(Residuals(src, dst, t), h)
		if slices.Equal(next, subset) {
			break
		}
		subset = next
		fit, err := computeAffineLeastSquares(pick(src, subset), pick(dst, subset))
		if err != nil {
			return geometry.AffineTransform{}, nil, 0, false
		}
		t = fit
	}
	res := Residuals(pick(src, subset), pick(dst, subset), t)
	return t, subset, floats.Dot(res, res), true
}

// lowest returns the indices of the h smallest residuals in ascending index order.
// Ties go to the lower index.
func lowest(residuals []float64, h int) []int {
	idx := make([]int, len(residuals))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return residuals[idx[i]] < residuals[idx[j]]
	})
	idx = idx[:h]
	sort.Ints(idx)
	return idx
}

func pick(pts []geometry.Point2D, idx []int) []geometry.Point2D {
	out := make([]geometry.Point2D, len(idx))
	for i, j := range idx {
		out[i] = pts[j]
	}
	return out
}

// spread is the RMS distance of the points from their centroid.
func spread(pts []geometry.Point2D) float64 {
	var c geometry.Point2D
	for _, p := range pts {
		c.X += p.X
		c.Y += p.Y
	}
	c.X /= float64(len(pts))
	c.Y /= float64(len(pts))
	var sum float64
	for _, p := range pts {
		d := p.Distance(c)
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(pts)))
}

// Residuals returns the distance between each transformed source point and its
// destination.
func Residuals(src, dst []geometry.Point2D, t geometry.AffineTransform) []float64 {
	res := make([]float64, len(src))
	for i := range src {
		res[i] = t.Apply(src[i]).Distance(dst[i])
	}
	return res
}

// RMS returns the root mean square residual of the pairs under t.
func RMS(pairs []match.Pair, t geometry.AffineTransform) float64 {
	if len(pairs) == 0 {
		return math.Inf(1)
	}
	src, dst := splitPairs(pairs)
	res := Residuals(src, dst, t)
	return math.Sqrt(floats.Dot(res, res) / float64(len(res)))
}

// CalculateAlignmentError calculates the mean alignment error after transformation.
func CalculateAlignmentError(srcPoints, dstPoints []geometry.Point2D, transform geometry.AffineTransform) float64 {
	if len(srcPoints) != len(dstPoints) || len(srcPoints) == 0 {
		return math.Inf(1)
	}
	return stat.Mean(Residuals(srcPoints, dstPoints, transform), nil)
}

func splitPairs(pairs []match.Pair) (src, dst []geometry.Point2D) {
	src = make([]geometry.Point2D, len(pairs))
	dst = make([]geometry.Point2D, len(pairs))
	for i, p := range pairs {
		src[i] = p.TargetPoint
		dst[i] = p.RefPoint
	}
	return src, dst
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.LinInterp, sorted, nil)
}

// collinear reports whether three points span (almost) no area relative to their extent.
func collinear(pts []geometry.Point2D) bool {
	ab := pts[1].Sub(pts[0])
	ac := pts[2].Sub(pts[0])
	scale := math.Max(ab.Norm(), ac.Norm())
	if scale == 0 {
		return true
	}
	return math.Abs(ab.Cross(ac)) <= collinearTolerance*scale*scale
}

// computeAffineFromPoints computes an affine transform from exactly 3 point pairs.
func computeAffineFromPoints(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	if len(src) != 3 || len(dst) != 3 {
		return geometry.AffineTransform{}, fmt.Errorf("need exactly 3 points")
	}

	// [x', y'] = [a, b, tx; c, d, ty] * [x, y, 1]
	A, B := affineSystem(src, dst)

	var params mat.VecDense
	if err := params.SolveVec(A, B); err != nil {
		return geometry.AffineTransform{}, err
	}
	return affineFromParams(&params), nil
}

// computeAffineLeastSquares computes an affine transform using least squares.
func computeAffineLeastSquares(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	if len(src) < 3 {
		return geometry.AffineTransform{}, fmt.Errorf("need at least 3 points")
	}

	A, B := affineSystem(src, dst)

	// Solve using QR decomposition
	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return geometry.AffineTransform{}, err
	}
	return affineFromParams(&params), nil
}

func affineSystem(src, dst []geometry.Point2D) (*mat.Dense, *mat.VecDense) {
	n := len(src)
	A := mat.NewDense(n*2, 6, nil)
	B := mat.NewVecDense(n*2, nil)

	for i := 0; i < n; i++ {
		x, y := src[i].X, src[i].Y

		// x' = a*x + b*y + tx
		A.Set(i*2, 0, x)
		A.Set(i*2, 1, y)
		A.Set(i*2, 2, 1)
		B.SetVec(i*2, dst[i].X)

		// y' = c*x + d*y + ty
		A.Set(i*2+1, 3, x)
		A.Set(i*2+1, 4, y)
		A.Set(i*2+1, 5, 1)
		B.SetVec(i*2+1, dst[i].Y)
	}
	return A, B
}

func affineFromParams(params *mat.VecDense) geometry.AffineTransform {
	return geometry.AffineTransform{
		A:  params.AtVec(0),
		B:  params.AtVec(1),
		TX: params.AtVec(2),
		C:  params.AtVec(3),
		D:  params.AtVec(4),
		TY: params.AtVec(5),
	}
}
