// Package marker implements the on-disk completion protocol of the pipeline.
//
// Every work unit writes a hidden marker file next to its outputs once a
// product family has been fully produced and verified. Subsequent runs read
// the marker instead of reprocessing, which makes a batch resumable at the
// granularity of a single family.
package marker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Family identifies one product family of a work unit.
type Family string

const (
	Backscatter  Family = "bs"
	Coherence    Family = "coh"
	Polarimetric Family = "pol"
	Layover      Family = "ls"
)

// Marker file contents. Empty marks a unit that processed successfully but
// produced no valid data, for example a scene whose AOI subset contains no
// pixels. Empty units are skipped on resume exactly like passed units.
const (
	contentPassed = "passed all tests\n"
	contentEmpty  = "empty\n"
)

// Path returns the marker file path for a family inside dir.
func Path(dir string, family Family) string {
	return filepath.Join(dir, fmt.Sprintf(".%s.processed", family))
}

// NamedPath returns the marker file path for an arbitrary artifact name, used
// by the temporal and spatial stages where markers are keyed by output layer
// rather than by family.
func NamedPath(dir, name string) string {
	return filepath.Join(dir, fmt.Sprintf(".%s.processed", name))
}

// Done reports whether the marker at path exists, regardless of whether it
// marks a passed or an empty result.
func Done(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Empty reports whether the marker at path exists and marks an empty result.
func Empty(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read marker %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)) == "empty", nil
}

// WritePassed writes a marker recording a successfully verified result.
func WritePassed(path string) error {
	return write(path, contentPassed)
}

// WriteEmpty writes a marker recording a valid but empty result.
func WriteEmpty(path string) error {
	return write(path, contentEmpty)
}

func write(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write marker %s: %w", path, err)
	}
	return nil
}
