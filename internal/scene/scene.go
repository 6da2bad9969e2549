// Package scene parses Sentinel-1 scene identifiers into their metadata
// components. The identifier layout is fixed by the mission's naming
// convention, e.g.
//
//	S1A_IW_GRDH_1SDV_20200103T171819_20200103T171844_030639_038299_3A7C
package scene

import (
	"fmt"
	"time"
)

// Scene holds the metadata encoded in a Sentinel-1 scene identifier.
type Scene struct {
	ID            string
	Mission       string // S1A or S1B
	Mode          string // IW, EW, SM, WV
	ProductType   string // GRD, SLC, OCN, RAW
	PolMode       string // SH, SV, DH, DV, ...
	StartDate     string // yyyymmdd
	StartTime     time.Time
	StopTime      time.Time
	AbsoluteOrbit int
	RelativeOrbit int
	Polarisations []string
}

// Relative orbit offsets per mission, from the ESA STEP forum formula:
// rel = ((abs - offset) mod 175) + 1.
var orbitOffsets = map[string]int{
	"S1A": 73,
	"S1B": 27,
}

var polModes = map[string][]string{
	"SH": {"HH"},
	"SV": {"VV"},
	"DH": {"HH", "HV"},
	"DV": {"VV", "VH"},
	"HH": {"HH"},
	"HV": {"HV"},
	"VV": {"VV"},
	"VH": {"VH"},
}

const timeLayout = "20060102T150405"

// Parse decodes a Sentinel-1 scene identifier.
func Parse(id string) (*Scene, error) {
	if len(id) < 67 {
		return nil, fmt.Errorf("scene identifier %q too short: expected 67 characters, got %d", id, len(id))
	}

	s := &Scene{
		ID:          id,
		Mission:     id[0:3],
		Mode:        id[4:6],
		ProductType: id[7:10],
		PolMode:     id[14:16],
		StartDate:   id[17:25],
	}

	offset, ok := orbitOffsets[s.Mission]
	if !ok {
		return nil, fmt.Errorf("unknown mission identifier %q in scene %s", s.Mission, id)
	}

	pols, ok := polModes[s.PolMode]
	if !ok {
		return nil, fmt.Errorf("incompatible polarisation mode %q in scene %s", s.PolMode, id)
	}
	s.Polarisations = pols

	start, err := time.Parse(timeLayout, id[17:32])
	if err != nil {
		return nil, fmt.Errorf("invalid start timestamp in scene %s: %w", id, err)
	}
	stop, err := time.Parse(timeLayout, id[33:48])
	if err != nil {
		return nil, fmt.Errorf("invalid stop timestamp in scene %s: %w", id, err)
	}
	s.StartTime = start.UTC()
	s.StopTime = stop.UTC()

	if _, err := fmt.Sscanf(id[49:55], "%06d", &s.AbsoluteOrbit); err != nil {
		return nil, fmt.Errorf("invalid absolute orbit in scene %s: %w", id, err)
	}
	s.RelativeOrbit = ((s.AbsoluteOrbit - offset) % 175) + 1

	return s, nil
}

// Track returns the relative orbit formatted as a spatial unit key.
func (s *Scene) Track() string {
	return fmt.Sprintf("%d", s.RelativeOrbit)
}

// HasPolarisation reports whether the scene was acquired with the given
// polarisation channel.
func (s *Scene) HasPolarisation(pol string) bool {
	for _, p := range s.Polarisations {
		if p == pol {
			return true
		}
	}
	return false
}
