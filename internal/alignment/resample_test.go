package alignment

import (
	"math"
	"math/rand"
	"testing"

	"skyalign/internal/asterism"
	"skyalign/internal/raster"
	"skyalign/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noiseGrid(seed int64, w, h int) *raster.Grid {
	rng := rand.New(rand.NewSource(seed))
	g := raster.NewGrid(w, h)
	for i := range g.Pix {
		g.Pix[i] = rng.Float64() * 1000
	}
	return g
}

func TestResampleIdentityIsExact(t *testing.T) {
	src := noiseGrid(1, 33, 21)
	for _, interp := range []Interpolation{Nearest, Bilinear, Bicubic} {
		out, err := Resample(src, geometry.Identity(), src.Width, src.Height, ResampleOptions{Interpolation: interp})
		require.NoError(t, err, interp.String())
		assert.Equal(t, src.Pix, out.Pix, interp.String())
	}
}

func TestResampleIntegerShift(t *testing.T) {
	src := noiseGrid(2, 20, 15)
	// Target (x, y) lands on reference (x+3, y-2).
	out, err := Resample(src, geometry.Translation(3, -2), 20, 15, ResampleOptions{Interpolation: Bilinear, FillValue: -1})
	require.NoError(t, err)

	for y := 0; y < 15; y++ {
		for x := 0; x < 20; x++ {
			sx, sy := x-3, y+2
			if sx < 0 || sy >= 15 {
				assert.Equal(t, -1.0, out.At(x, y), "fill at %d,%d", x, y)
				continue
			}
			assert.Equal(t, src.At(sx, sy), out.At(x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestResampleBilinearHalfPixel(t *testing.T) {
	src, err := raster.NewGridFrom(2, 2, []float64{0, 10, 20, 30})
	require.NoError(t, err)

	// Reference pixel (0,0) pulls from target (0.5, 0.5).
	out, err := Resample(src, geometry.Translation(-0.5, -0.5), 1, 1, ResampleOptions{Interpolation: Bilinear})
	require.NoError(t, err)
	assert.InDelta(t, 15, out.At(0, 0), 1e-12)

	out, err = Resample(src, geometry.Translation(-0.5, -0.5), 1, 1, ResampleOptions{Interpolation: Bicubic})
	require.NoError(t, err)
	assert.InDelta(t, 15, out.At(0, 0), 1e-12)
}

func TestResampleOutputShapeAndFill(t *testing.T) {
	src := noiseGrid(3, 10, 10)
	out, err := Resample(src, geometry.Identity(), 25, 12, ResampleOptions{Interpolation: Nearest, FillValue: 7})
	require.NoError(t, err)
	assert.Equal(t, 25, out.Width)
	assert.Equal(t, 12, out.Height)
	assert.Equal(t, src.At(9, 9), out.At(9, 9))
	assert.Equal(t, 7.0, out.At(10, 0))
	assert.Equal(t, 7.0, out.At(24, 11))
}

func TestResampleSingularTransform(t *testing.T) {
	src := noiseGrid(4, 8, 8)
	_, err := Resample(src, geometry.Scale(1, 0), 8, 8, ResampleOptions{})
	assert.ErrorIs(t, err, asterism.ErrDegenerateGeometry)
}

func TestResampleRejectsBadInput(t *testing.T) {
	_, err := Resample(nil, geometry.Identity(), 4, 4, ResampleOptions{})
	assert.Error(t, err)
	_, err = Resample(noiseGrid(5, 4, 4), geometry.Identity(), 0, 4, ResampleOptions{})
	assert.Error(t, err)
	_, err = Resample(noiseGrid(5, 4, 4), geometry.Identity(), 4, 4, ResampleOptions{Interpolation: Interpolation(9)})
	assert.Error(t, err)
}

func TestResampleDeterministic(t *testing.T) {
	src := noiseGrid(6, 97, 61)
	tr := geometry.RotationAbout(0.37, geometry.Point2D{X: 48, Y: 30}).Compose(geometry.Translation(1.3, -2.7))

	for _, interp := range []Interpolation{Nearest, Bilinear, Bicubic} {
		base, err := Resample(src, tr, 90, 70, ResampleOptions{Interpolation: interp, Workers: 1})
		require.NoError(t, err)
		for _, workers := range []int{0, 2, 7, 200} {
			out, err := Resample(src, tr, 90, 70, ResampleOptions{Interpolation: interp, Workers: workers})
			require.NoError(t, err)
			assert.Equal(t, base.Pix, out.Pix, "%s workers=%d", interp, workers)
		}
	}
}

func TestParseInterpolation(t *testing.T) {
	for name, want := range map[string]Interpolation{
		"nearest": Nearest, "Bilinear": Bilinear, "": Bilinear, "cubic": Bicubic, " bicubic ": Bicubic,
	} {
		got, err := ParseInterpolation(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseInterpolation("lanczos")
	assert.Error(t, err)
	assert.Equal(t, "bicubic", Bicubic.String())
}

func TestOutsidePixelCentres(t *testing.T) {
	for _, tc := range []struct {
		p    geometry.Point2D
		want bool
	}{
		{geometry.Point2D{X: 0, Y: 0}, false},
		{geometry.Point2D{X: 9, Y: 4}, false},
		{geometry.Point2D{X: -1e-12, Y: 4}, false},
		{geometry.Point2D{X: -0.01, Y: 2}, true},
		{geometry.Point2D{X: 9.01, Y: 2}, true},
		{geometry.Point2D{X: 3, Y: 4.5}, true},
		{geometry.Point2D{X: math.NaN(), Y: 1}, true},
	} {
		assert.Equal(t, tc.want, outside(tc.p, 10, 5), "%v", tc.p)
	}
}
