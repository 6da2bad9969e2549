package catalog

import "encoding/json"

// searchResponse is the GeoJSON FeatureCollection returned by the ASF
// search API, reduced to the fields the pipeline consumes.
type searchResponse struct {
	Type     string    `json:"type"`
	Features []Granule `json:"features"`
}

// Granule is one catalogue search result.
type Granule struct {
	Type       string            `json:"type"`
	Geometry   *Geometry         `json:"geometry"`
	Properties GranuleProperties `json:"properties"`
}

// Geometry is the granule footprint.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// GranuleProperties carries the catalogue metadata for a granule.
type GranuleProperties struct {
	SceneName       string   `json:"sceneName"`
	FileID          string   `json:"fileID"`
	Platform        string   `json:"platform"`
	BeamModeType    string   `json:"beamModeType"`
	Polarization    string   `json:"polarization"`
	FlightDirection string   `json:"flightDirection"`
	RelativeOrbit   *int     `json:"relativeOrbit"`
	AbsoluteOrbit   *int     `json:"absoluteOrbit"`
	FrameNumber     *int     `json:"frameNumber"`
	ProcessingLevel string   `json:"processingLevel"`
	StartTime       string   `json:"startTime"`
	StopTime        string   `json:"stopTime"`
	CenterLat       *float64 `json:"centerLat"`
	CenterLon       *float64 `json:"centerLon"`

	URL      string `json:"url"`
	FileName string `json:"fileName"`
	FileSize *int64 `json:"fileSize"`
	MD5Sum   string `json:"md5sum"`
}
