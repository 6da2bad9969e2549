package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/planetlabs/go-stac"

	"github.com/rkm/s1ard/pkg/geojson"
)

const stacVersion = "1.0.0"

// Inventory is the persisted result of a catalogue search: a STAC item
// collection with one item per scene. It is the input of the download
// stage and of the work-unit enumeration.
type Inventory struct {
	Type     string       `json:"type"`
	Features []*stac.Item `json:"features"`
}

// NewInventory converts catalogue granules into an inventory, sorted by
// acquisition start time ascending. Duplicate scene names are dropped.
func NewInventory(granules []Granule) (*Inventory, error) {
	inv := &Inventory{
		Type:     "FeatureCollection",
		Features: make([]*stac.Item, 0, len(granules)),
	}

	seen := map[string]bool{}
	for i := range granules {
		item, err := granuleToItem(&granules[i])
		if err != nil {
			return nil, err
		}
		if seen[item.Id] {
			continue
		}
		seen[item.Id] = true
		inv.Features = append(inv.Features, item)
	}

	inv.sort()
	return inv, nil
}

func granuleToItem(g *Granule) (*stac.Item, error) {
	props := g.Properties
	if props.SceneName == "" {
		return nil, fmt.Errorf("granule has no scene name")
	}

	item := &stac.Item{
		Version:    stacVersion,
		Id:         props.SceneName,
		Collection: "sentinel-1",
		Properties: make(map[string]any),
		Assets:     make(map[string]*stac.Asset),
		Links:      make([]*stac.Link, 0),
	}

	if g.Geometry != nil {
		geom := &geojson.Geometry{Type: g.Geometry.Type, Coordinates: g.Geometry.Coordinates}
		item.Geometry = geom
		if bbox, err := geom.BBox(); err == nil {
			item.Bbox = bbox
		}
	}

	// STAC wants start/end for acquisitions spanning a time range.
	item.Properties["datetime"] = nil
	if props.StartTime != "" {
		t, err := parseCatalogTime(props.StartTime)
		if err != nil {
			return nil, fmt.Errorf("scene %s has invalid start time: %w", props.SceneName, err)
		}
		item.Properties["start_datetime"] = t.Format(time.RFC3339)
	}
	if props.StopTime != "" {
		t, err := parseCatalogTime(props.StopTime)
		if err != nil {
			return nil, fmt.Errorf("scene %s has invalid stop time: %w", props.SceneName, err)
		}
		item.Properties["end_datetime"] = t.Format(time.RFC3339)
	}

	if props.Platform != "" {
		item.Properties["platform"] = strings.ToLower(props.Platform)
	}
	if props.BeamModeType != "" {
		item.Properties["sar:instrument_mode"] = props.BeamModeType
	}
	if props.Polarization != "" {
		item.Properties["sar:polarizations"] = strings.Split(props.Polarization, "+")
	}
	if props.ProcessingLevel != "" {
		item.Properties["sar:product_type"] = props.ProcessingLevel
	}
	if props.RelativeOrbit != nil {
		item.Properties["sat:relative_orbit"] = *props.RelativeOrbit
	}
	if props.AbsoluteOrbit != nil {
		item.Properties["sat:absolute_orbit"] = *props.AbsoluteOrbit
	}
	if props.FlightDirection != "" {
		item.Properties["sat:orbit_state"] = strings.ToLower(props.FlightDirection)
	}
	if props.FrameNumber != nil {
		item.Properties["asf:frame"] = *props.FrameNumber
	}
	if props.CenterLat != nil && props.CenterLon != nil {
		item.Properties["asf:center_lat"] = *props.CenterLat
		item.Properties["asf:center_lon"] = *props.CenterLon
	}
	if props.MD5Sum != "" {
		item.Properties["asf:md5sum"] = props.MD5Sum
	}

	if props.URL != "" {
		asset := &stac.Asset{
			Href:  props.URL,
			Type:  "application/zip",
			Title: props.FileName,
			Roles: []string{"data"},
		}
		item.Assets["archive"] = asset
	}

	return item, nil
}

func parseCatalogTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000000", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func (inv *Inventory) sort() {
	sort.SliceStable(inv.Features, func(i, j int) bool {
		a, _ := inv.Features[i].Properties["start_datetime"].(string)
		b, _ := inv.Features[j].Properties["start_datetime"].(string)
		return a < b
	})
}

// Tracks returns the distinct relative orbits in the inventory, ascending.
func (inv *Inventory) Tracks() []int {
	seen := map[int]bool{}
	for _, item := range inv.Features {
		if track, ok := itemTrack(item); ok {
			seen[track] = true
		}
	}
	tracks := make([]int, 0, len(seen))
	for track := range seen {
		tracks = append(tracks, track)
	}
	sort.Ints(tracks)
	return tracks
}

// FilterTrack returns the inventory subset on the given relative orbit.
func (inv *Inventory) FilterTrack(track int) *Inventory {
	out := &Inventory{Type: inv.Type}
	for _, item := range inv.Features {
		if t, ok := itemTrack(item); ok && t == track {
			out.Features = append(out.Features, item)
		}
	}
	return out
}

func itemTrack(item *stac.Item) (int, bool) {
	switch v := item.Properties["sat:relative_orbit"].(type) {
	case int:
		return v, true
	case float64:
		// JSON round trips numbers as float64.
		return int(v), true
	default:
		return 0, false
	}
}

// Save writes the inventory to path as a STAC item collection.
func (inv *Inventory) Save(path string) error {
	data, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode inventory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write inventory %s: %w", path, err)
	}
	return nil
}

// LoadInventory reads an inventory written by Save.
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory %s: %w", path, err)
	}
	var inv Inventory
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("failed to parse inventory %s: %w", path, err)
	}
	inv.sort()
	return &inv, nil
}
