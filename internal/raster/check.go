package raster

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// InvalidArtifactError reports a product that exists on disk but failed
// verification. A work unit whose artifact fails the check is reprocessed
// instead of skipped.
type InvalidArtifactError struct {
	Path   string
	Reason string
}

func (e *InvalidArtifactError) Error() string {
	return fmt.Sprintf("invalid artifact %s: %s", e.Path, e.Reason)
}

// CheckTIFF verifies a produced GeoTIFF: it must parse, have pixels, and
// unless emptyOK is set contain at least one valid value. It returns
// empty=true when the file is structurally valid but holds no data.
func CheckTIFF(path string, emptyOK bool) (empty bool, err error) {
	r, _, err := ReadTIFF(path)
	if err != nil {
		return false, &InvalidArtifactError{Path: path, Reason: err.Error()}
	}
	if r.IsEmpty() {
		if emptyOK {
			return true, nil
		}
		return true, &InvalidArtifactError{Path: path, Reason: "contains no valid pixels"}
	}
	return false, nil
}

// CheckDimap verifies a BEAM-DIMAP product: the .dim header must exist and
// the .data directory must contain at least one non-empty ENVI image.
func CheckDimap(dimPath string) error {
	if _, err := os.Stat(dimPath); err != nil {
		return &InvalidArtifactError{Path: dimPath, Reason: "missing product header"}
	}

	dataDir := strings.TrimSuffix(dimPath, ".dim") + ".data"
	imgs, err := filepath.Glob(filepath.Join(dataDir, "*.img"))
	if err != nil || len(imgs) == 0 {
		return &InvalidArtifactError{Path: dimPath, Reason: "product data directory holds no bands"}
	}

	for _, img := range imgs {
		info, err := os.Stat(img)
		if err != nil || info.Size() == 0 {
			return &InvalidArtifactError{
				Path:   dimPath,
				Reason: fmt.Sprintf("band %s is empty", filepath.Base(img)),
			}
		}
	}
	return nil
}
