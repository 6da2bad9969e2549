package raster

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
)

// GDAL virtual dataset files. The temporal stages publish their per-date and
// per-metric outputs as VRT stacks so downstream GIS tooling can address the
// whole series as one multi-band dataset without copying pixels.

// VRTDataset mirrors the subset of GDAL's VRT schema the pipeline emits.
type VRTDataset struct {
	XMLName      xml.Name  `xml:"VRTDataset"`
	RasterXSize  int       `xml:"rasterXSize,attr"`
	RasterYSize  int       `xml:"rasterYSize,attr"`
	GeoTransform string    `xml:"GeoTransform,omitempty"`
	Bands        []VRTBand `xml:"VRTRasterBand"`
}

// VRTBand is one band of a virtual dataset.
type VRTBand struct {
	DataType    string     `xml:"dataType,attr"`
	Band        int        `xml:"band,attr"`
	Description string     `xml:"Description,omitempty"`
	NoData      string     `xml:"NoDataValue,omitempty"`
	Source      BandSource `xml:"SimpleSource"`
}

// BandSource references the file backing a band.
type BandSource struct {
	Filename   SourceFilename `xml:"SourceFilename"`
	SourceBand int            `xml:"SourceBand"`
}

// SourceFilename is the file reference with its relativity flag.
type SourceFilename struct {
	RelativeToVRT int    `xml:"relativeToVRT,attr"`
	Path          string `xml:",chardata"`
}

var vrtDataTypes = map[string]string{
	"float32": "Float32",
	"uint16":  "UInt16",
	"uint8":   "Byte",
}

// StackLayer is one input to a VRT stack build.
type StackLayer struct {
	Path        string
	Description string
}

// BuildStackVRT writes a VRT stacking the given single-band files as
// consecutive bands. All files must share the grid of the first one; the
// first file provides the dataset dimensions and geotransform.
func BuildStackVRT(path string, layers []StackLayer, dtype string) error {
	if len(layers) == 0 {
		return fmt.Errorf("cannot build VRT %s from an empty layer list", path)
	}
	vrtType, ok := vrtDataTypes[dtype]
	if !ok {
		return fmt.Errorf("unsupported VRT data type %q", dtype)
	}

	first, _, err := ReadTIFF(layers[0].Path)
	if err != nil {
		return fmt.Errorf("failed to probe first stack layer: %w", err)
	}

	ds := VRTDataset{
		RasterXSize: first.Width,
		RasterYSize: first.Height,
	}
	if first.Transform != ([6]float64{}) {
		gt := first.Transform
		ds.GeoTransform = fmt.Sprintf("%g, %g, %g, %g, %g, %g",
			gt[0], gt[1], gt[2], gt[3], gt[4], gt[5])
	}

	dir := filepath.Dir(path)
	for i, layer := range layers {
		rel, err := filepath.Rel(dir, layer.Path)
		if err != nil {
			rel = layer.Path
		}
		ds.Bands = append(ds.Bands, VRTBand{
			DataType:    vrtType,
			Band:        i + 1,
			Description: layer.Description,
			Source: BandSource{
				Filename:   SourceFilename{RelativeToVRT: 1, Path: rel},
				SourceBand: 1,
			},
		})
	}

	return writeVRT(path, &ds)
}

func writeVRT(path string, ds *VRTDataset) error {
	data, err := xml.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode VRT: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write VRT %s: %w", path, err)
	}
	return nil
}

// ReadVRT parses a VRT file.
func ReadVRT(path string) (*VRTDataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read VRT %s: %w", path, err)
	}
	var ds VRTDataset
	if err := xml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse VRT %s: %w", path, err)
	}
	return &ds, nil
}
