package raster

import (
	"fmt"
	"math"

	"github.com/rkm/s1ard/pkg/geojson"
)

// MaskOptions controls MaskByShape. The options mirror the final output
// step of the temporal stage: crop to the shape, optionally convert to dB,
// optionally stretch into an integer range.
type MaskOptions struct {
	ToDB     bool
	DType    string // float32, uint16 or uint8
	Rescale  bool
	MinValue float64
	MaxValue float64
}

// MaskByShape sets every pixel outside the polygon to nodata and applies
// the optional dB conversion and integer stretch to the pixels inside.
func MaskByShape(r *Raster, shape *geojson.Geometry, opts MaskOptions) (*Raster, error) {
	out := New(r.Width, r.Height)
	out.Transform = r.Transform
	out.NoData = r.NoData
	out.Band = r.Band

	nodata := float32(math.NaN())
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			lon, lat := r.PixelToGeo(float64(x)+0.5, float64(y)+0.5)
			inside, err := shape.Contains(lon, lat)
			if err != nil {
				return nil, fmt.Errorf("failed to evaluate mask shape: %w", err)
			}
			v := r.At(x, y)
			if !inside || v == 0 {
				out.Set(x, y, nodata)
				continue
			}
			out.Set(x, y, v)
		}
	}

	if opts.ToDB {
		ConvertToDB(out.Data)
	}
	if opts.Rescale && opts.DType != "float32" {
		if err := ScaleToInt(out.Data, opts.MinValue, opts.MaxValue, opts.DType); err != nil {
			return nil, err
		}
	}
	// NaN nodata does not survive integer encodings.
	if opts.DType != "float32" && opts.DType != "" {
		for i, v := range out.Data {
			if math.IsNaN(float64(v)) {
				out.Data[i] = 0
			}
		}
		out.NoData = 0
	}
	return out, nil
}
