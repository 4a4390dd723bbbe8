package match

import (
	"math"
	"math/rand"
	"testing"

	"skyalign/internal/asterism"
	"skyalign/internal/synthetic"
	"skyalign/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomSet(seed int64, n int, size float64) asterism.PointSet {
	rng := rand.New(rand.NewSource(seed))
	set := make(asterism.PointSet, n)
	for i := range set {
		set[i] = asterism.Star{X: rng.Float64() * size, Y: rng.Float64() * size, Flux: float64(n - i)}
	}
	return set
}

// consistent counts pairs that truth maps onto each other within tol pixels.
func consistent(pairs []Pair, truth geometry.AffineTransform, tol float64) int {
	n := 0
	for _, p := range pairs {
		if truth.Apply(p.TargetPoint).Distance(p.RefPoint) <= tol {
			n++
		}
	}
	return n
}

func TestFindIdentity(t *testing.T) {
	set := randomSet(1, 30, 1000)

	c, err := NewFinder(DefaultOptions()).Find(set, set)
	require.NoError(t, err)

	require.Len(t, c.Pairs, 30)
	for _, p := range c.Pairs {
		assert.Equal(t, p.Target, p.Ref)
		assert.Equal(t, p.TargetPoint, p.RefPoint)
	}
	assert.Equal(t, c.TargetTriangles, c.RefTriangles)
	assert.Equal(t, c.TargetTriangles, c.TriangleMatches)
	for i := 1; i < len(c.Pairs); i++ {
		assert.GreaterOrEqual(t, c.Pairs[i-1].Votes, c.Pairs[i].Votes)
	}
}

func TestFindCalibrationField(t *testing.T) {
	field := synthetic.NewField(synthetic.CalibrationParams(42))
	require.Greater(t, len(field.Target), 100)
	require.Greater(t, len(field.Ref), 100)

	c, err := NewFinder(DefaultOptions()).Find(field.Target, field.Ref)
	require.NoError(t, err)

	good := consistent(c.Pairs, field.Truth, 1.5)
	assert.GreaterOrEqual(t, good, 20)
	assert.Greater(t, float64(good)/float64(len(c.Pairs)), 0.6)

	// The best supported pairings are real ones.
	assert.Equal(t, 5, consistent(c.Pairs[:5], field.Truth, 1.5))
}

func TestFindDeterministicAcrossWorkers(t *testing.T) {
	field := synthetic.NewField(synthetic.CalibrationParams(7))

	var first []Pair
	for _, workers := range []int{1, 3, 8, 0} {
		opts := DefaultOptions()
		opts.Workers = workers
		c, err := NewFinder(opts).Find(field.Target, field.Ref)
		require.NoError(t, err)
		if first == nil {
			first = c.Pairs
			continue
		}
		assert.Equal(t, first, c.Pairs, "workers=%d", workers)
	}
}

func TestFindThreePoints(t *testing.T) {
	ref := asterism.PointSet{{X: 0, Y: 0, Flux: 3}, {X: 40, Y: 5, Flux: 2}, {X: 12, Y: 30, Flux: 1}}
	tr := geometry.Translation(100, -40).Compose(geometry.Rotation(0.5))
	perm := []int{2, 0, 1}

	target := make(asterism.PointSet, 3)
	for i, j := range perm {
		p := tr.Apply(ref[j].Point())
		target[i] = asterism.Star{X: p.X, Y: p.Y, Flux: ref[j].Flux}
	}

	opts := DefaultOptions()
	opts.MinSupport = 1
	c, err := NewFinder(opts).Find(target, ref)
	require.NoError(t, err)
	require.Len(t, c.Pairs, 3)
	for _, p := range c.Pairs {
		assert.Equal(t, perm[p.Target], p.Ref)
	}

	for _, p := range c.Pairs {
		assert.Equal(t, 1, p.Votes)
	}

	// One triangle votes once per pairing, so the default support rejects it.
	_, err = NewFinder(DefaultOptions()).Find(target, ref)
	assert.ErrorIs(t, err, asterism.ErrInsufficientMatches)
}

func TestVoteOncePerTriangleMatch(t *testing.T) {
	set := randomSet(5, 12, 400)
	f := NewFinder(DefaultOptions())
	control, tris, err := asterism.ControlTriangles(set, 0)
	require.NoError(t, err)
	idx, err := asterism.NewIndex(set, 0)
	require.NoError(t, err)

	tally, accepted := f.vote(tris, idx)
	require.Equal(t, len(tris), accepted)

	// Each triangle holding a star votes for its pairing exactly once.
	containing := make([]int, len(control))
	for _, tri := range tris {
		for _, v := range tri.Vertices {
			containing[v]++
		}
	}
	for i, want := range containing {
		assert.Equal(t, want, tally[pairKey{target: i, ref: i}].total, "star %d", i)
	}
	for k, v := range tally {
		assert.LessOrEqual(t, v.primary, v.total, "pair %v", k)
	}
}

func TestFindNoMatch(t *testing.T) {
	ref := asterism.PointSet{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 50, Y: 86.6}}
	target := asterism.PointSet{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 35, Y: 20}}

	_, err := NewFinder(DefaultOptions()).Find(target, ref)
	assert.ErrorIs(t, err, asterism.ErrNoMatchFound)
}

func TestFindInsufficientSupport(t *testing.T) {
	set := randomSet(2, 20, 500)
	opts := DefaultOptions()
	opts.MinSupport = math.MaxInt32

	_, err := NewFinder(opts).Find(set, set)
	assert.ErrorIs(t, err, asterism.ErrInsufficientMatches)
}

func TestFindPropagatesPointErrors(t *testing.T) {
	few := asterism.PointSet{{X: 0, Y: 0}, {X: 5, Y: 5}}
	set := randomSet(3, 10, 100)

	_, err := NewFinder(DefaultOptions()).Find(set, few)
	assert.ErrorIs(t, err, asterism.ErrInsufficientPoints)
	assert.Contains(t, err.Error(), "reference set")

	_, err = NewFinder(DefaultOptions()).Find(few, set)
	assert.ErrorIs(t, err, asterism.ErrInsufficientPoints)
	assert.Contains(t, err.Error(), "target set")
}

func TestFindWithIndexReuse(t *testing.T) {
	ref := randomSet(4, 40, 800)
	idx, err := asterism.NewIndex(ref, 0)
	require.NoError(t, err)

	f := NewFinder(DefaultOptions())
	for _, tr := range []geometry.AffineTransform{
		geometry.Translation(5, 7),
		geometry.RotationAbout(1.2, geometry.Point2D{X: 400, Y: 400}),
	} {
		target := ref.Transform(tr)
		c, err := f.FindWithIndex(target, idx)
		require.NoError(t, err)

		inv, ok := tr.Inverse()
		require.True(t, ok)
		assert.Equal(t, len(c.Pairs), consistent(c.Pairs, inv, 1e-6))
		assert.Len(t, c.Pairs, 40)
	}
}

func TestCorrespondencePoints(t *testing.T) {
	c := &Correspondence{Pairs: []Pair{
		{TargetPoint: geometry.Point2D{X: 1, Y: 2}, RefPoint: geometry.Point2D{X: 3, Y: 4}},
		{TargetPoint: geometry.Point2D{X: 5, Y: 6}, RefPoint: geometry.Point2D{X: 7, Y: 8}},
	}}
	assert.Equal(t, []geometry.Point2D{{X: 1, Y: 2}, {X: 5, Y: 6}}, c.TargetPoints())
	assert.Equal(t, []geometry.Point2D{{X: 3, Y: 4}, {X: 7, Y: 8}}, c.RefPoints())
}
