package asterism

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"skyalign/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomField(seed int64, n int, size float64) PointSet {
	rng := rand.New(rand.NewSource(seed))
	set := make(PointSet, n)
	for i := range set {
		set[i] = Star{X: rng.Float64() * size, Y: rng.Float64() * size, Flux: float64(n - i)}
	}
	return set
}

func TestNewTriangleSortsSides(t *testing.T) {
	pts := []geometry.Point2D{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 0, Y: 3}}

	tri, ok := NewTriangle(pts, 0, 1, 2)
	require.True(t, ok)

	assert.Equal(t, [3]float64{3, 4, 5}, tri.Sides)
	// Side 3 joins (0,0)-(0,3) and lies opposite (4,0).
	assert.Equal(t, [3]int{1, 2, 0}, tri.Vertices)
	assert.InDelta(t, 4.0/3.0, tri.Invariant()[0], 1e-12)
	assert.InDelta(t, 5.0/4.0, tri.Invariant()[1], 1e-12)
}

func TestNewTriangleRejectsDegenerate(t *testing.T) {
	pts := []geometry.Point2D{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 20, Y: 0}, {X: 0, Y: 0}, {X: 5, Y: 1e-4}}

	_, ok := NewTriangle(pts, 0, 1, 2)
	assert.False(t, ok, "collinear")

	_, ok = NewTriangle(pts, 0, 3, 1)
	assert.False(t, ok, "coincident")

	_, ok = NewTriangle(pts, 0, 4, 1)
	assert.False(t, ok, "near collinear")
}

func TestInvariantUnderSimilarity(t *testing.T) {
	pts := []geometry.Point2D{{X: 10, Y: 12}, {X: 57, Y: 30}, {X: 22, Y: 80}}
	tr := geometry.RotationAbout(0.7, geometry.Point2D{X: 30, Y: 30}).
		Compose(geometry.Scale(1.01, 1.01))
	// Reflection as well.
	mirrored := geometry.AffineTransform{A: -1, D: 1}.Compose(tr)

	moved := make([]geometry.Point2D, len(pts))
	for i, p := range pts {
		moved[i] = mirrored.Apply(p)
	}

	a, ok := NewTriangle(pts, 0, 1, 2)
	require.True(t, ok)
	b, ok := NewTriangle(moved, 0, 1, 2)
	require.True(t, ok)

	assert.InDelta(t, 0, a.Invariant().Distance(b.Invariant()), 1e-9)
	assert.Equal(t, a.Vertices, b.Vertices)
}

func TestOrderingsSwapClosestSides(t *testing.T) {
	tri := Triangle{Vertices: [3]int{7, 8, 9}, Sides: [3]float64{10, 10.1, 15}}
	o := tri.Orderings()
	assert.Equal(t, [3]int{7, 8, 9}, o[0])
	assert.Equal(t, [3]int{8, 7, 9}, o[1])

	tri = Triangle{Vertices: [3]int{7, 8, 9}, Sides: [3]float64{5, 10, 10.2}}
	o = tri.Orderings()
	assert.Equal(t, [3]int{7, 9, 8}, o[1])
}

func TestTrianglesCount(t *testing.T) {
	set := randomField(1, 12, 500)
	tris, degenerate := Triangles(set.Points())
	assert.Equal(t, 12*11*10/6, len(tris)+degenerate)
}

func TestControlTrianglesErrors(t *testing.T) {
	_, _, err := ControlTriangles(PointSet{{X: 0, Y: 0}, {X: 1, Y: 1}}, 50)
	assert.ErrorIs(t, err, ErrInsufficientPoints)
	assert.False(t, errors.Is(err, ErrDegenerateGeometry))

	// Truncation below three points.
	_, _, err = ControlTriangles(randomField(2, 10, 100), 2)
	assert.ErrorIs(t, err, ErrInsufficientPoints)

	_, _, err = ControlTriangles(PointSet{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}}, 50)
	assert.ErrorIs(t, err, ErrInsufficientPoints)
	assert.ErrorIs(t, err, ErrDegenerateGeometry)
}

func TestNewIndexTruncates(t *testing.T) {
	set := randomField(3, 80, 1000)

	idx, err := NewIndex(set, 20)
	require.NoError(t, err)
	assert.Len(t, idx.Points(), 20)
	assert.Equal(t, set[:20], idx.Points())
	assert.LessOrEqual(t, idx.Len(), 20*19*18/6)
	assert.Equal(t, idx.Len(), len(idx.Triangles()))
}

func TestIndexNearestFindsExactTriangle(t *testing.T) {
	set := randomField(4, 25, 800)
	idx, err := NewIndex(set, 0)
	require.NoError(t, err)

	for _, tri := range idx.Triangles()[:50] {
		n, ok := idx.Nearest(tri.Invariant())
		require.True(t, ok)
		assert.Equal(t, 0.0, n.Distance)
		assert.Equal(t, tri.Invariant(), n.Triangle.Invariant())
	}
}

func TestIndexNearestMatchesBruteForce(t *testing.T) {
	set := randomField(5, 20, 600)
	idx, err := NewIndex(set, 0)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(9))
	for q := 0; q < 200; q++ {
		probe := Invariant{1 + rng.Float64()*4, 1 + rng.Float64()}

		best := math.Inf(1)
		for _, tri := range idx.Triangles() {
			best = math.Min(best, probe.Distance(tri.Invariant()))
		}

		n, ok := idx.Nearest(probe)
		require.True(t, ok)
		assert.InDelta(t, best, n.Distance, 1e-12)

		k := idx.NearestK(probe, 5)
		require.Len(t, k, 5)
		assert.InDelta(t, best, k[0].Distance, 1e-12)
		for i := 1; i < len(k); i++ {
			assert.LessOrEqual(t, k[i-1].Distance, k[i].Distance)
		}
	}
}

func TestNearestKSmallIndex(t *testing.T) {
	idx, err := NewIndex(PointSet{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 0, Y: 7}}, 50)
	require.NoError(t, err)
	assert.Len(t, idx.NearestK(Invariant{1, 1}, 4), 1)
	assert.Nil(t, idx.NearestK(Invariant{1, 1}, 0))
}

func TestPointSetHelpers(t *testing.T) {
	set := PointSet{{X: 1, Flux: 2}, {X: 2, Flux: 9}, {X: 3, Flux: 2}, {X: 4, Flux: 5}}
	sorted := set.SortByFlux()
	assert.Equal(t, []float64{2, 4, 1, 3}, []float64{sorted[0].X, sorted[1].X, sorted[2].X, sorted[3].X})
	assert.Equal(t, 1.0, set[0].X, "input untouched")

	assert.Len(t, set.Truncate(0), 4)
	assert.Len(t, set.Truncate(2), 2)
	assert.Len(t, set.Truncate(10), 4)

	moved := set.Transform(geometry.Translation(1, 1))
	assert.Equal(t, Star{X: 2, Y: 1, Flux: 2}, moved[0])
	assert.Equal(t, set.Points(), FromPoints(set.Points()).Points())
}
