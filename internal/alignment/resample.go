package alignment

import (
	"fmt"
	"math"
	"strings"

	"skyalign/internal/asterism"
	"skyalign/internal/raster"
	"skyalign/pkg/geometry"
)

// Interpolation selects the kernel used to sample the source grid.
type Interpolation int

const (
	Nearest Interpolation = iota
	Bilinear
	Bicubic
)

// String returns the configuration name of the kernel.
func (i Interpolation) String() string {
	switch i {
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	case Bicubic:
		return "bicubic"
	default:
		return fmt.Sprintf("interpolation(%d)", int(i))
	}
}

// ParseInterpolation maps a configuration name onto a kernel.
func ParseInterpolation(name string) (Interpolation, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "nearest":
		return Nearest, nil
	case "bilinear", "linear", "":
		return Bilinear, nil
	case "bicubic", "cubic":
		return Bicubic, nil
	}
	return 0, fmt.Errorf("unknown interpolation %q", name)
}

// ResampleOptions configures Resample.
type ResampleOptions struct {
	Interpolation Interpolation
	FillValue     float64 // Output value where the source has no pixel
	Workers       int     // Row stripes processed in parallel; 0 uses runtime.NumCPU(). Unused by OpenCV.
}

// edgeSlack lets coordinates that land on the outermost pixel centres through rounding
// noise still sample the image.
const edgeSlack = 1e-9

// Resample warps src onto a width x height grid in the reference frame. t maps source
// (target frame) coordinates onto the reference frame, so every output pixel is pulled
// through the inverse of t. Samples outside the hull of src's pixel centres get the
// fill value.
func Resample(src *raster.Grid, t geometry.AffineTransform, width, height int, opts ResampleOptions) (*raster.Grid, error) {
	if src == nil || src.Width <= 0 || src.Height <= 0 {
		return nil, fmt.Errorf("empty source grid")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid output size %dx%d", width, height)
	}
	inv, ok := t.Inverse()
	if !ok {
		return nil, fmt.Errorf("%w: transform determinant %g", asterism.ErrDegenerateGeometry, t.Determinant())
	}
	switch opts.Interpolation {
	case Nearest, Bilinear, Bicubic:
	default:
		return nil, fmt.Errorf("unknown interpolation %v", opts.Interpolation)
	}
	return warp(src, t, inv, width, height, opts)
}

// outside reports whether p misses the hull of the pixel centres of a w x h grid.
func outside(p geometry.Point2D, w, h int) bool {
	return p.X < -edgeSlack || p.Y < -edgeSlack ||
		p.X > float64(w-1)+edgeSlack || p.Y > float64(h-1)+edgeSlack ||
		math.IsNaN(p.X) || math.IsNaN(p.Y)
}
