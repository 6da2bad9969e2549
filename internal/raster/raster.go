// Package raster implements the in-process raster operations of the
// pipeline: the flat-binary image codec used inside SNAP's BEAM-DIMAP
// products, a baseline GeoTIFF codec for the final outputs, virtual mosaic
// files, and the pixel-level routines (border-noise removal, dB conversion,
// integer stretching, masking and merging).
package raster

import (
	"fmt"
	"math"
)

// Raster is a single-band image in row-major order with an affine
// geotransform in the GDAL convention: origin x, pixel width, 0, origin y,
// 0, negative pixel height.
type Raster struct {
	Width     int
	Height    int
	Data      []float32
	Transform [6]float64
	NoData    float64
	Band      string
}

// New returns a zero-filled raster.
func New(width, height int) *Raster {
	return &Raster{
		Width:  width,
		Height: height,
		Data:   make([]float32, width*height),
	}
}

// At returns the pixel value at column x, row y.
func (r *Raster) At(x, y int) float32 {
	return r.Data[y*r.Width+x]
}

// Set assigns the pixel value at column x, row y.
func (r *Raster) Set(x, y int, v float32) {
	r.Data[y*r.Width+x] = v
}

// PixelToGeo converts pixel coordinates to georeferenced coordinates.
func (r *Raster) PixelToGeo(x, y float64) (float64, float64) {
	gt := r.Transform
	return gt[0] + x*gt[1] + y*gt[2], gt[3] + x*gt[4] + y*gt[5]
}

// Bounds returns the georeferenced extent as [minx, miny, maxx, maxy].
func (r *Raster) Bounds() [4]float64 {
	x0, y0 := r.PixelToGeo(0, 0)
	x1, y1 := r.PixelToGeo(float64(r.Width), float64(r.Height))
	return [4]float64{
		math.Min(x0, x1), math.Min(y0, y1),
		math.Max(x0, x1), math.Max(y0, y1),
	}
}

// IsEmpty reports whether every pixel equals the nodata value (or zero when
// no nodata value is set).
func (r *Raster) IsEmpty() bool {
	nd := float32(r.NoData)
	for _, v := range r.Data {
		if v != nd && !math.IsNaN(float64(v)) {
			return false
		}
	}
	return true
}

func (r *Raster) validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("invalid raster dimensions %dx%d", r.Width, r.Height)
	}
	if len(r.Data) != r.Width*r.Height {
		return fmt.Errorf("raster data length %d does not match %dx%d",
			len(r.Data), r.Width, r.Height)
	}
	return nil
}
