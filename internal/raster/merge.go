package raster

import (
	"fmt"
	"math"
)

// MergeMax mosaics the given rasters onto a common grid, keeping the
// maximum valid value where contributors overlap. Overlap zones along track
// edges carry border artefacts in one contributor but real signal in the
// other, and the maximum favours the real signal. All inputs must share the
// pixel size of the first raster; the output grid is the union of their
// extents. Pixels covered by no contributor are NaN.
func MergeMax(rasters []*Raster) (*Raster, error) {
	if len(rasters) == 0 {
		return nil, fmt.Errorf("cannot merge an empty raster list")
	}

	px, py := rasters[0].Transform[1], rasters[0].Transform[5]
	if px == 0 || py == 0 {
		return nil, fmt.Errorf("first raster has no geotransform")
	}

	bounds := rasters[0].Bounds()
	for _, r := range rasters[1:] {
		if r.Transform[1] != px || r.Transform[5] != py {
			return nil, fmt.Errorf("pixel size mismatch: %gx%g vs %gx%g",
				r.Transform[1], r.Transform[5], px, py)
		}
		b := r.Bounds()
		bounds[0] = math.Min(bounds[0], b[0])
		bounds[1] = math.Min(bounds[1], b[1])
		bounds[2] = math.Max(bounds[2], b[2])
		bounds[3] = math.Max(bounds[3], b[3])
	}

	width := int(math.Round((bounds[2] - bounds[0]) / px))
	height := int(math.Round((bounds[3] - bounds[1]) / -py))

	out := New(width, height)
	out.Transform = [6]float64{bounds[0], px, 0, bounds[3], 0, py}
	out.NoData = rasters[0].NoData
	out.Band = rasters[0].Band
	nan := float32(math.NaN())
	for i := range out.Data {
		out.Data[i] = nan
	}

	for _, r := range rasters {
		// Column/row offset of this contributor in the output grid.
		dx := int(math.Round((r.Transform[0] - bounds[0]) / px))
		dy := int(math.Round((r.Transform[3] - bounds[3]) / py))

		nd := float32(r.NoData)
		for y := 0; y < r.Height; y++ {
			ty := y + dy
			if ty < 0 || ty >= height {
				continue
			}
			for x := 0; x < r.Width; x++ {
				tx := x + dx
				if tx < 0 || tx >= width {
					continue
				}
				v := r.At(x, y)
				if math.IsNaN(float64(v)) || v == nd {
					continue
				}
				cur := out.At(tx, ty)
				if math.IsNaN(float64(cur)) || v > cur {
					out.Set(tx, ty, v)
				}
			}
		}
	}
	return out, nil
}
