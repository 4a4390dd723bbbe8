package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInverseRoundTrip(t *testing.T) {
	tr := AffineTransform{A: 0.64, B: -0.77, TX: 240.5, C: 0.77, D: 0.64, TY: -110.25}

	inv, ok := tr.Inverse()
	require.True(t, ok)

	for _, p := range []Point2D{{0, 0}, {12.5, -3}, {511, 511}, {-40, 1e3}} {
		back := inv.Apply(tr.Apply(p))
		assert.InDelta(t, p.X, back.X, 1e-9)
		assert.InDelta(t, p.Y, back.Y, 1e-9)
	}

	id := tr.Compose(inv)
	assert.InDelta(t, 1, id.A, 1e-12)
	assert.InDelta(t, 0, id.B, 1e-12)
	assert.InDelta(t, 0, id.TX, 1e-9)
	assert.InDelta(t, 0, id.C, 1e-12)
	assert.InDelta(t, 1, id.D, 1e-12)
	assert.InDelta(t, 0, id.TY, 1e-9)
}

func TestInverseSingular(t *testing.T) {
	_, ok := AffineTransform{A: 1, B: 2, C: 2, D: 4, TX: 3}.Inverse()
	assert.False(t, ok)

	_, ok = AffineTransform{}.Inverse()
	assert.False(t, ok)
}

func TestRotationAbout(t *testing.T) {
	center := Point2D{X: 256, Y: 256}
	tr := RotationAbout(math.Pi/2, center)

	c := tr.Apply(center)
	assert.InDelta(t, center.X, c.X, 1e-9)
	assert.InDelta(t, center.Y, c.Y, 1e-9)

	p := tr.Apply(Point2D{X: 266, Y: 256})
	assert.InDelta(t, 256, p.X, 1e-9)
	assert.InDelta(t, 266, p.Y, 1e-9)
	assert.InDelta(t, math.Pi/2, tr.Rotation(), 1e-12)
	assert.InDelta(t, 1, tr.ScaleFactor(), 1e-12)
}

func TestNorm1AndRelativeError(t *testing.T) {
	tr := AffineTransform{A: 1, B: -2, TX: 3, C: -4, D: 5, TY: -6}
	assert.Equal(t, 9.0, tr.Norm1())

	assert.Equal(t, 0.0, tr.RelativeError(tr))
	shifted := tr
	shifted.TX += 0.9
	assert.InDelta(t, 0.1, shifted.RelativeError(tr), 1e-12)
}

func TestAff3RoundTrip(t *testing.T) {
	tr := AffineTransform{A: 1, B: 2, TX: 3, C: 4, D: 5, TY: 6}
	assert.Equal(t, tr, FromAff3(tr.Aff3()))
	assert.Equal(t, tr, FromMatrix(tr.ToMatrix()))
}

func TestCentroid(t *testing.T) {
	assert.Equal(t, Point2D{}, Centroid(nil))
	assert.Equal(t, Point2D{X: 1, Y: 2}, Centroid([]Point2D{{0, 0}, {2, 4}}))
}
