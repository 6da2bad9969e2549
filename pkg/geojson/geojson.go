// Package geojson provides GeoJSON geometry types and the footprint/extent
// operations used by the processing pipeline.
package geojson

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Geometry represents a GeoJSON geometry object.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Feature represents a GeoJSON feature.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   *Geometry      `json:"geometry"`
	Properties map[string]any `json:"properties,omitempty"`
}

// FeatureCollection represents a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string     `json:"type"`
	Features []*Feature `json:"features"`
}

// Polygon returns the coordinates as a Polygon [][][lon, lat].
// Returns error if geometry is not a Polygon.
func (g *Geometry) Polygon() ([][][]float64, error) {
	if g.Type != "Polygon" {
		return nil, fmt.Errorf("geometry is not a Polygon, got %s", g.Type)
	}
	var coords [][][]float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Polygon coordinates: %w", err)
	}
	return coords, nil
}

// BBox computes the bounding box of the geometry.
// Returns [west, south, east, north].
func (g *Geometry) BBox() ([]float64, error) {
	if g == nil {
		return nil, fmt.Errorf("geometry is nil")
	}

	minLon, minLat := math.Inf(1), math.Inf(1)
	maxLon, maxLat := math.Inf(-1), math.Inf(-1)

	rings, err := g.rings()
	if err != nil {
		return nil, err
	}
	for _, ring := range rings {
		for _, point := range ring {
			if len(point) < 2 {
				continue
			}
			minLon = math.Min(minLon, point[0])
			maxLon = math.Max(maxLon, point[0])
			minLat = math.Min(minLat, point[1])
			maxLat = math.Max(maxLat, point[1])
		}
	}

	if math.IsInf(minLon, 0) || math.IsInf(minLat, 0) {
		return nil, fmt.Errorf("failed to compute bounding box: no valid coordinates found")
	}

	return []float64{minLon, minLat, maxLon, maxLat}, nil
}

// rings flattens Polygon and MultiPolygon geometries into a list of rings.
func (g *Geometry) rings() ([][][]float64, error) {
	switch g.Type {
	case "Polygon":
		return g.Polygon()
	case "MultiPolygon":
		var coords [][][][]float64
		if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
			return nil, fmt.Errorf("failed to unmarshal MultiPolygon coordinates: %w", err)
		}
		var rings [][][]float64
		for _, poly := range coords {
			rings = append(rings, poly...)
		}
		return rings, nil
	default:
		return nil, fmt.Errorf("unsupported geometry type: %s", g.Type)
	}
}

// NewPolygonFromBBox creates a polygon geometry from a bounding box.
// bbox should be [west, south, east, north].
func NewPolygonFromBBox(bbox []float64) (*Geometry, error) {
	if len(bbox) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values [west, south, east, north], got %d", len(bbox))
	}

	west, south, east, north := bbox[0], bbox[1], bbox[2], bbox[3]

	coords := [][][]float64{
		{
			{west, south},
			{east, south},
			{east, north},
			{west, north},
			{west, south}, // Close the ring
		},
	}

	coordsJSON, err := json.Marshal(coords)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal polygon coordinates: %w", err)
	}

	return &Geometry{
		Type:        "Polygon",
		Coordinates: coordsJSON,
	}, nil
}

// IntersectBBox returns the intersection of two bounding boxes, or an error
// when they do not overlap.
func IntersectBBox(a, b []float64) ([]float64, error) {
	if len(a) != 4 || len(b) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values")
	}
	west := math.Max(a[0], b[0])
	south := math.Max(a[1], b[1])
	east := math.Min(a[2], b[2])
	north := math.Min(a[3], b[3])
	if west >= east || south >= north {
		return nil, fmt.Errorf("bounding boxes do not intersect")
	}
	return []float64{west, south, east, north}, nil
}

// UnionBBox returns the bounding box covering both inputs.
func UnionBBox(a, b []float64) ([]float64, error) {
	if len(a) != 4 || len(b) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values")
	}
	return []float64{
		math.Min(a[0], b[0]),
		math.Min(a[1], b[1]),
		math.Max(a[2], b[2]),
		math.Max(a[3], b[3]),
	}, nil
}

// BufferBBox grows (positive) or shrinks (negative) a bounding box by the
// given distance in degrees. A shrink past the box center is an error.
func BufferBBox(bbox []float64, distance float64) ([]float64, error) {
	if len(bbox) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values")
	}
	out := []float64{
		bbox[0] - distance,
		bbox[1] - distance,
		bbox[2] + distance,
		bbox[3] + distance,
	}
	if out[0] >= out[2] || out[1] >= out[3] {
		return nil, fmt.Errorf("buffer of %f collapses bounding box", distance)
	}
	return out, nil
}

// Contains reports whether the point (lon, lat) lies inside any of the
// geometry's rings, using the ray-casting rule. Holes are ignored.
func (g *Geometry) Contains(lon, lat float64) (bool, error) {
	rings, err := g.rings()
	if err != nil {
		return false, err
	}
	for _, ring := range rings {
		if pointInRing(lon, lat, ring) {
			return true, nil
		}
	}
	return false, nil
}

func pointInRing(lon, lat float64, ring [][]float64) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > lat) != (yj > lat) &&
			lon < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// ToWKT converts a GeoJSON Polygon geometry to WKT format.
func ToWKT(g *Geometry) (string, error) {
	if g == nil {
		return "", fmt.Errorf("geometry is nil")
	}
	if g.Type != "Polygon" {
		return "", fmt.Errorf("unsupported geometry type for WKT conversion: %s", g.Type)
	}

	coords, err := g.Polygon()
	if err != nil {
		return "", err
	}

	var rings []string
	for _, ring := range coords {
		points := make([]string, len(ring))
		for i, point := range ring {
			if len(point) < 2 {
				return "", fmt.Errorf("invalid point in polygon ring: expected at least 2 coordinates")
			}
			points[i] = fmt.Sprintf("%s %s", formatFloat(point[0]), formatFloat(point[1]))
		}
		rings = append(rings, "("+strings.Join(points, ",")+")")
	}

	return "POLYGON(" + strings.Join(rings, ",") + ")", nil
}

// FromWKT parses a WKT POLYGON string into a GeoJSON geometry.
func FromWKT(wkt string) (*Geometry, error) {
	wkt = strings.TrimSpace(wkt)
	if wkt == "" {
		return nil, fmt.Errorf("empty WKT string")
	}
	if !strings.HasPrefix(strings.ToUpper(wkt), "POLYGON") {
		return nil, fmt.Errorf("unsupported WKT geometry type")
	}

	start := strings.Index(wkt, "(")
	end := strings.LastIndex(wkt, ")")
	if start == -1 || end == -1 || start >= end {
		return nil, fmt.Errorf("invalid POLYGON WKT format")
	}

	var rings [][][]float64
	for _, part := range strings.Split(wkt[start+1:end], "),") {
		part = strings.Trim(strings.TrimSpace(part), "()")
		if part == "" {
			continue
		}
		var ring [][]float64
		for _, pair := range strings.Split(part, ",") {
			point, err := parseCoordPair(pair)
			if err != nil {
				return nil, fmt.Errorf("failed to parse POLYGON coordinates: %w", err)
			}
			ring = append(ring, point)
		}
		rings = append(rings, ring)
	}
	if len(rings) == 0 {
		return nil, fmt.Errorf("POLYGON WKT has no rings")
	}

	coordsJSON, err := json.Marshal(rings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal polygon coordinates: %w", err)
	}

	return &Geometry{
		Type:        "Polygon",
		Coordinates: coordsJSON,
	}, nil
}

func parseCoordPair(s string) ([]float64, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) < 2 {
		return nil, fmt.Errorf("expected 'lon lat' pair, got %q", s)
	}
	lon, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude %q: %w", fields[0], err)
	}
	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude %q: %w", fields[1], err)
	}
	return []float64{lon, lat}, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// WriteFeature writes a single-feature collection to path.
func WriteFeature(path string, g *Geometry, properties map[string]any) error {
	fc := FeatureCollection{
		Type: "FeatureCollection",
		Features: []*Feature{
			{Type: "Feature", Geometry: g, Properties: properties},
		},
	}
	data, err := json.MarshalIndent(&fc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal feature collection: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadFeature reads the first feature geometry from a GeoJSON file.
func ReadFeature(path string) (*Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var fc FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(fc.Features) == 0 || fc.Features[0].Geometry == nil {
		return nil, fmt.Errorf("%s contains no feature geometry", path)
	}
	return fc.Features[0].Geometry, nil
}
