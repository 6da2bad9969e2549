package raster

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ENVI flat-binary codec. SNAP's BEAM-DIMAP format stores each band as an
// ENVI image (.img plus .hdr sidecar) inside the product's .data directory,
// so the in-place pixel routines read and write this format directly.

// enviDataTypes maps ENVI header data type codes. Only float32 bands are
// produced by the processing chains.
const enviFloat32 = 4

// ReadENVI reads a single-band float32 ENVI image given the path of the
// .img file. The .hdr sidecar sits next to it; its optional "map info" entry
// carries the geotransform.
func ReadENVI(imgPath string) (*Raster, error) {
	hdrPath := strings.TrimSuffix(imgPath, ".img") + ".hdr"
	samples, lines, dtype, byteOrder, transform, err := readENVIHeader(hdrPath)
	if err != nil {
		return nil, err
	}
	if dtype != enviFloat32 {
		return nil, fmt.Errorf("unsupported ENVI data type %d in %s", dtype, hdrPath)
	}

	raw, err := os.ReadFile(imgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ENVI image %s: %w", imgPath, err)
	}
	if len(raw) < samples*lines*4 {
		return nil, fmt.Errorf("ENVI image %s truncated: %d bytes for %dx%d float32",
			imgPath, len(raw), samples, lines)
	}

	order := binary.ByteOrder(binary.LittleEndian)
	if byteOrder == 1 {
		order = binary.BigEndian
	}

	r := New(samples, lines)
	r.Transform = transform
	for i := range r.Data {
		r.Data[i] = math.Float32frombits(order.Uint32(raw[i*4:]))
	}
	return r, nil
}

// WriteENVI writes a single-band float32 ENVI image and its header sidecar.
func WriteENVI(imgPath string, r *Raster) error {
	if err := r.validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(imgPath), 0o755); err != nil {
		return fmt.Errorf("failed to create product directory: %w", err)
	}
	buf := make([]byte, len(r.Data)*4)
	for i, v := range r.Data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	if err := os.WriteFile(imgPath, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write ENVI image %s: %w", imgPath, err)
	}

	hdr := fmt.Sprintf(`ENVI
samples = %d
lines = %d
bands = 1
header offset = 0
file type = ENVI Standard
data type = %d
interleave = bsq
byte order = 0
`, r.Width, r.Height, enviFloat32)

	if gt := r.Transform; gt != ([6]float64{}) {
		// Tie pixel (1, 1) to the origin; only axis-aligned grids occur.
		hdr += fmt.Sprintf("map info = {Geographic Lat/Lon, 1, 1, %g, %g, %g, %g, WGS-84}\n",
			gt[0], gt[3], gt[1], -gt[5])
	}

	hdrPath := strings.TrimSuffix(imgPath, ".img") + ".hdr"
	if err := os.WriteFile(hdrPath, []byte(hdr), 0o644); err != nil {
		return fmt.Errorf("failed to write ENVI header %s: %w", hdrPath, err)
	}
	return nil
}

func readENVIHeader(path string) (samples, lines, dtype, byteOrder int, transform [6]float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		err = fmt.Errorf("failed to open ENVI header %s: %w", path, err)
		return
	}
	defer f.Close()

	fields := map[string]int{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "map info" {
			transform = parseMapInfo(value)
			continue
		}
		n, convErr := strconv.Atoi(value)
		if convErr != nil {
			continue
		}
		fields[key] = n
	}
	if scanErr := scanner.Err(); scanErr != nil {
		err = fmt.Errorf("failed to read ENVI header %s: %w", path, scanErr)
		return
	}

	samples, lines = fields["samples"], fields["lines"]
	if samples <= 0 || lines <= 0 {
		err = fmt.Errorf("ENVI header %s missing image dimensions", path)
		return
	}
	if bands, ok := fields["bands"]; ok && bands != 1 {
		err = fmt.Errorf("ENVI image %s has %d bands, expected 1", path, bands)
		return
	}
	return samples, lines, fields["data type"], fields["byte order"], transform, nil
}

// parseMapInfo decodes the header's map info list: projection, reference
// pixel column and row (1-based), its easting and northing, and the pixel
// sizes. Anything malformed yields a zero transform.
func parseMapInfo(value string) [6]float64 {
	value = strings.Trim(value, "{}")
	parts := strings.Split(value, ",")
	if len(parts) < 7 {
		return [6]float64{}
	}
	nums := make([]float64, 6)
	for i, part := range parts[1:7] {
		n, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return [6]float64{}
		}
		nums[i] = n
	}
	refX, refY := nums[0], nums[1]
	easting, northing := nums[2], nums[3]
	sizeX, sizeY := nums[4], nums[5]
	return [6]float64{
		easting - (refX-1)*sizeX, sizeX, 0,
		northing + (refY-1)*sizeY, 0, -sizeY,
	}
}
