//go:build gocv

package detect

import (
	"fmt"
	"image"
	"math"

	"skyalign/internal/raster"

	"gocv.io/x/gocv"
)

// segment labels the connected regions of g brighter than level with OpenCV.
func segment(g *raster.Grid, level, smooth float64) ([]int32, int, error) {
	w, h := g.Width, g.Height

	src := gocv.NewMatWithSize(h, w, gocv.MatTypeCV32F)
	defer src.Close()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src.SetFloatAt(y, x, float32(g.Pix[y*w+x]))
		}
	}

	if smooth > 0 {
		k := 2*int(math.Ceil(3*smooth)) + 1
		gocv.GaussianBlur(src, &src, image.Point{k, k}, smooth, smooth, gocv.BorderReplicate)
	}

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(src, &binary, float32(level), 255, gocv.ThresholdBinary)

	mask := gocv.NewMat()
	defer mask.Close()
	binary.ConvertTo(&mask, gocv.MatTypeCV8U)

	labelMat := gocv.NewMat()
	defer labelMat.Close()
	count := gocv.ConnectedComponentsWithParams(mask, &labelMat, 4, gocv.MatTypeCV32S, gocv.CCL_DEFAULT)
	if labelMat.Rows() != h || labelMat.Cols() != w {
		return nil, 0, fmt.Errorf("label image is %dx%d, want %dx%d", labelMat.Cols(), labelMat.Rows(), w, h)
	}

	labels := make([]int32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			labels[y*w+x] = labelMat.GetIntAt(y, x)
		}
	}
	// Label 0 is the background component.
	return labels, count - 1, nil
}
