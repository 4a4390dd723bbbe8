//go:build gocv

package alignment

import (
	"fmt"
	"image"
	"image/color"

	"skyalign/internal/raster"
	"skyalign/pkg/geometry"

	"gocv.io/x/gocv"
)

var cvInterpolation = map[Interpolation]gocv.InterpolationFlags{
	Nearest:  gocv.InterpolationNearestNeighbor,
	Bilinear: gocv.InterpolationLinear,
	Bicubic:  gocv.InterpolationCubic,
}

// warp resamples src with OpenCV. Edge pixels are replicated for taps that fall just
// outside the image and every output pixel whose source lies off the grid gets the
// fill value afterwards, so the border matches the pure Go path. OpenCV's cubic
// kernel uses a = -0.75 rather than Catmull-Rom.
func warp(src *raster.Grid, t, inv geometry.AffineTransform, width, height int, opts ResampleOptions) (*raster.Grid, error) {
	in := gocv.NewMatWithSize(src.Height, src.Width, gocv.MatTypeCV64F)
	defer in.Close()
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			in.SetDoubleAt(y, x, src.Pix[y*src.Width+x])
		}
	}

	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	defer m.Close()
	m.SetDoubleAt(0, 0, t.A)
	m.SetDoubleAt(0, 1, t.B)
	m.SetDoubleAt(0, 2, t.TX)
	m.SetDoubleAt(1, 0, t.C)
	m.SetDoubleAt(1, 1, t.D)
	m.SetDoubleAt(1, 2, t.TY)

	out := gocv.NewMat()
	defer out.Close()
	gocv.WarpAffineWithParams(in, &out, m, image.Point{X: width, Y: height},
		cvInterpolation[opts.Interpolation], gocv.BorderReplicate, color.RGBA{})
	if out.Rows() != height || out.Cols() != width {
		return nil, fmt.Errorf("warped image is %dx%d, want %dx%d", out.Cols(), out.Rows(), width, height)
	}

	dst := raster.NewGrid(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if outside(inv.Apply(geometry.Point2D{X: float64(x), Y: float64(y)}), src.Width, src.Height) {
				dst.Pix[y*width+x] = opts.FillValue
				continue
			}
			dst.Pix[y*width+x] = out.GetDoubleAt(y, x)
		}
	}
	return dst, nil
}
