package timeseries

import (
	"fmt"

	"github.com/rkm/s1ard/internal/raster"
)

// BuildLSMask max-composites the dated layover/shadow masks of a unit into
// one raster: a pixel is masked when any acquisition flagged it. The
// composite is written as a uint8 GeoTIFF.
func BuildLSMask(path string, masks []*raster.Raster) error {
	if len(masks) == 0 {
		return fmt.Errorf("cannot composite zero layover/shadow masks")
	}
	merged, err := raster.MergeMax(masks)
	if err != nil {
		return fmt.Errorf("failed to composite layover/shadow masks: %w", err)
	}
	for i, v := range merged.Data {
		if v != v || v < 0 {
			merged.Data[i] = 0
		}
	}
	merged.NoData = 0
	if err := raster.WriteTIFF(path, merged, "uint8"); err != nil {
		return fmt.Errorf("failed to write layover/shadow composite: %w", err)
	}
	return nil
}
