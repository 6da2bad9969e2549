package timeseries

import (
	"fmt"

	"github.com/rkm/s1ard/internal/raster"
	"github.com/rkm/s1ard/pkg/geojson"
)

// extentBuffer shrinks the common extent slightly so interpolation artefacts
// along the product edges never survive into the time series.
const extentBuffer = -0.0018

// BuildExtent intersects the footprints of the given rasters, shrinks the
// result by the edge buffer and writes it as a single-feature GeoJSON file.
func BuildExtent(path string, rasters []*raster.Raster) (*geojson.Geometry, error) {
	if len(rasters) == 0 {
		return nil, fmt.Errorf("cannot derive an extent from zero rasters")
	}

	b := rasters[0].Bounds()
	bbox := []float64{b[0], b[1], b[2], b[3]}
	for _, r := range rasters[1:] {
		rb := r.Bounds()
		var err error
		bbox, err = geojson.IntersectBBox(bbox, []float64{rb[0], rb[1], rb[2], rb[3]})
		if err != nil {
			return nil, fmt.Errorf("products share no common extent: %w", err)
		}
	}

	buffered, err := geojson.BufferBBox(bbox, extentBuffer)
	if err != nil {
		return nil, err
	}
	g, err := geojson.NewPolygonFromBBox(buffered)
	if err != nil {
		return nil, err
	}
	if err := geojson.WriteFeature(path, g, nil); err != nil {
		return nil, fmt.Errorf("failed to write extent file: %w", err)
	}
	return g, nil
}

// LoadExtent reads a previously written extent file.
func LoadExtent(path string) (*geojson.Geometry, error) {
	return geojson.ReadFeature(path)
}
