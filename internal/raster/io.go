package raster

import (
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
)

// Load decodes a TIFF, PNG or JPEG file into a grid.
func Load(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return FromImage(img), nil
}

// Save writes the grid as 16-bit grey, TIFF unless the extension asks for PNG.
// The grid's own range is stretched to the full 16 bits.
func Save(path string, g *Grid) error {
	return SaveRange(path, g, 0, 0)
}

// SaveRange writes the grid mapping [lo, hi] onto the 16-bit range.
func SaveRange(path string, g *Grid, lo, hi float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	img := g.ToGray16(lo, hi)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(f, img)
	default:
		err = tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
