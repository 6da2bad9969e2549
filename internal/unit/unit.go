// Package unit enumerates the resumable work units of a batch. A work unit
// is one acquisition date of one spatial key (a track for GRD processing, a
// burst for SLC processing) together with the scenes contributing to it and,
// for interferometric products, the scenes of the following date.
package unit

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/rkm/s1ard/internal/catalog"
	"github.com/rkm/s1ard/internal/scene"
)

// WorkUnit is a single schedulable piece of the batch.
type WorkUnit struct {
	// Key identifies the spatial unit, e.g. the track number.
	Key string
	// Date is the acquisition date in yyyymmdd form.
	Date string
	// Scenes are the identifiers contributing to this key and date,
	// ordered by start time. GRD tracks can have several consecutive
	// slices per date.
	Scenes []string
	// SlaveDate and SlaveScenes reference the next acquisition date of
	// the same key, used for coherence pairs. Empty for the last date.
	SlaveDate   string
	SlaveScenes []string
	// OutDir is where the unit's products and markers live.
	OutDir string
	// Swath and BurstNr locate the burst inside an SLC scene. Zero values
	// for track-level GRD units.
	Swath   string
	BurstNr int
	// CenterLat is the scene center latitude, used for the DEM switch at
	// high latitudes.
	CenterLat float64
}

// HasSlave reports whether the unit has a following acquisition to pair
// with.
func (u *WorkUnit) HasSlave() bool {
	return u.SlaveDate != ""
}

// Enumerate derives the work units from an inventory. Units are grouped by
// track, dated ascending, and each unit except the last of its track
// references the next date as its slave.
func Enumerate(inv *catalog.Inventory, processingDir string) ([]WorkUnit, error) {
	type dateGroup struct {
		date   string
		scenes []*scene.Scene
	}

	byKey := map[string]map[string][]*scene.Scene{}
	centerLat := map[string]float64{}
	for _, item := range inv.Features {
		s, err := scene.Parse(item.Id)
		if err != nil {
			return nil, fmt.Errorf("inventory holds unparsable scene: %w", err)
		}
		if lat, ok := item.Properties["asf:center_lat"].(float64); ok {
			centerLat[s.ID] = lat
		}
		key := s.Track()
		if byKey[key] == nil {
			byKey[key] = map[string][]*scene.Scene{}
		}
		byKey[key][s.StartDate] = append(byKey[key][s.StartDate], s)
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var units []WorkUnit
	for _, key := range keys {
		groups := make([]dateGroup, 0, len(byKey[key]))
		for date, scenes := range byKey[key] {
			sort.Slice(scenes, func(i, j int) bool {
				return scenes[i].StartTime.Before(scenes[j].StartTime)
			})
			groups = append(groups, dateGroup{date: date, scenes: scenes})
		}
		sort.Slice(groups, func(i, j int) bool {
			return groups[i].date < groups[j].date
		})

		for i, g := range groups {
			u := WorkUnit{
				Key:       key,
				Date:      g.date,
				OutDir:    filepath.Join(processingDir, key, g.date),
				CenterLat: centerLat[g.scenes[0].ID],
			}
			for _, s := range g.scenes {
				u.Scenes = append(u.Scenes, s.ID)
			}
			if i+1 < len(groups) {
				u.SlaveDate = groups[i+1].date
				for _, s := range groups[i+1].scenes {
					u.SlaveScenes = append(u.SlaveScenes, s.ID)
				}
			}
			units = append(units, u)
		}
	}
	return units, nil
}
