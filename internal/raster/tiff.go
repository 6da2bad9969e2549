package raster

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Baseline GeoTIFF codec. The final pipeline outputs are single-band,
// single-strip, uncompressed little-endian TIFFs with the GeoTIFF
// georeferencing tags GDAL understands. This deliberately covers only the
// layout the pipeline itself writes; external products enter the pipeline
// through SNAP, not through this reader.

const (
	tagImageWidth        = 256
	tagImageLength       = 257
	tagBitsPerSample     = 258
	tagCompression       = 259
	tagPhotometric       = 262
	tagImageDescription  = 270
	tagStripOffsets      = 273
	tagSamplesPerPixel   = 277
	tagRowsPerStrip      = 278
	tagStripByteCounts   = 279
	tagSampleFormat      = 339
	tagModelPixelScale   = 33550
	tagModelTiepoint     = 33922
	tagGDALNoData        = 42113
	typeASCII            = 2
	typeShort            = 3
	typeLong             = 4
	typeDouble           = 12
	sampleFormatUnsigned = 1
	sampleFormatFloat    = 3
)

type tiffField struct {
	tag      uint16
	dtype    uint16
	count    uint32
	value    uint32 // inline value or offset
	external []byte // payload written outside the IFD
}

// WriteTIFF writes the raster as a single-band GeoTIFF. dtype selects the
// pixel encoding: float32, uint16 or uint8. Integer encodings expect the
// data to already be stretched into the target range.
func WriteTIFF(path string, r *Raster, dtype string) error {
	if err := r.validate(); err != nil {
		return err
	}

	var bits, format int
	switch dtype {
	case "float32":
		bits, format = 32, sampleFormatFloat
	case "uint16":
		bits, format = 16, sampleFormatUnsigned
	case "uint8":
		bits, format = 8, sampleFormatUnsigned
	default:
		return fmt.Errorf("unsupported TIFF data type %q", dtype)
	}

	pixels := encodePixels(r.Data, dtype)

	// Layout: 8-byte header, pixel strip, external tag payloads, IFD.
	le := binary.LittleEndian
	stripOffset := uint32(8)
	next := stripOffset + uint32(len(pixels))

	fields := []tiffField{
		{tag: tagImageWidth, dtype: typeLong, count: 1, value: uint32(r.Width)},
		{tag: tagImageLength, dtype: typeLong, count: 1, value: uint32(r.Height)},
		{tag: tagBitsPerSample, dtype: typeShort, count: 1, value: uint32(bits)},
		{tag: tagCompression, dtype: typeShort, count: 1, value: 1},
		{tag: tagPhotometric, dtype: typeShort, count: 1, value: 1},
		{tag: tagStripOffsets, dtype: typeLong, count: 1, value: stripOffset},
		{tag: tagSamplesPerPixel, dtype: typeShort, count: 1, value: 1},
		{tag: tagRowsPerStrip, dtype: typeLong, count: 1, value: uint32(r.Height)},
		{tag: tagStripByteCounts, dtype: typeLong, count: 1, value: uint32(len(pixels))},
		{tag: tagSampleFormat, dtype: typeShort, count: 1, value: uint32(format)},
	}

	if r.Band != "" {
		fields = append(fields, asciiField(tagImageDescription, r.Band))
	}
	if r.Transform != ([6]float64{}) {
		scale := doubleField(tagModelPixelScale,
			[]float64{r.Transform[1], -r.Transform[5], 0})
		tiepoint := doubleField(tagModelTiepoint,
			[]float64{0, 0, 0, r.Transform[0], r.Transform[3], 0})
		fields = append(fields, scale, tiepoint)
	}
	fields = append(fields, asciiField(tagGDALNoData,
		strconv.FormatFloat(r.NoData, 'g', -1, 64)))

	// Resolve external payload offsets.
	for i := range fields {
		if fields[i].external != nil {
			fields[i].value = next
			next += uint32(len(fields[i].external))
		}
	}
	if next%2 == 1 {
		next++
	}
	ifdOffset := next

	out := make([]byte, 0, int(ifdOffset)+2+len(fields)*12+4)
	out = append(out, 'I', 'I', 42, 0)
	out = le.AppendUint32(out, ifdOffset)
	out = append(out, pixels...)
	for _, f := range fields {
		out = append(out, f.external...)
	}
	for uint32(len(out)) < ifdOffset {
		out = append(out, 0)
	}

	out = le.AppendUint16(out, uint16(len(fields)))
	for _, f := range fields {
		out = le.AppendUint16(out, f.tag)
		out = le.AppendUint16(out, f.dtype)
		out = le.AppendUint32(out, f.count)
		if f.dtype == typeShort && f.external == nil {
			out = le.AppendUint16(out, uint16(f.value))
			out = le.AppendUint16(out, 0)
		} else {
			out = le.AppendUint32(out, f.value)
		}
	}
	out = le.AppendUint32(out, 0)

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write TIFF %s: %w", path, err)
	}
	return nil
}

func encodePixels(data []float32, dtype string) []byte {
	le := binary.LittleEndian
	switch dtype {
	case "uint8":
		buf := make([]byte, len(data))
		for i, v := range data {
			buf[i] = uint8(clamp(v, 0, 255))
		}
		return buf
	case "uint16":
		buf := make([]byte, len(data)*2)
		for i, v := range data {
			le.PutUint16(buf[i*2:], uint16(clamp(v, 0, 65535)))
		}
		return buf
	default:
		buf := make([]byte, len(data)*4)
		for i, v := range data {
			le.PutUint32(buf[i*4:], math.Float32bits(v))
		}
		return buf
	}
}

func clamp(v, lo, hi float32) float32 {
	if math.IsNaN(float64(v)) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func asciiField(tag uint16, s string) tiffField {
	payload := append([]byte(s), 0)
	return tiffField{tag: tag, dtype: typeASCII, count: uint32(len(payload)), external: payload}
}

func doubleField(tag uint16, values []float64) tiffField {
	payload := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(payload[i*8:], math.Float64bits(v))
	}
	return tiffField{tag: tag, dtype: typeDouble, count: uint32(len(values)), external: payload}
}

// ReadTIFF reads a single-band TIFF written by WriteTIFF. It returns the
// raster with pixels converted to float32 and the on-disk data type.
func ReadTIFF(path string) (*Raster, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read TIFF %s: %w", path, err)
	}
	if len(raw) < 8 || raw[0] != 'I' || raw[1] != 'I' || binary.LittleEndian.Uint16(raw[2:]) != 42 {
		return nil, "", fmt.Errorf("%s is not a little-endian TIFF", path)
	}

	le := binary.LittleEndian
	ifdOffset := le.Uint32(raw[4:])
	if int(ifdOffset)+2 > len(raw) {
		return nil, "", fmt.Errorf("TIFF %s truncated before IFD", path)
	}

	count := int(le.Uint16(raw[ifdOffset:]))
	tags := map[uint16]tiffEntry{}
	for i := 0; i < count; i++ {
		off := int(ifdOffset) + 2 + i*12
		if off+12 > len(raw) {
			return nil, "", fmt.Errorf("TIFF %s truncated inside IFD", path)
		}
		entry := tiffEntry{
			dtype: le.Uint16(raw[off+2:]),
			count: le.Uint32(raw[off+4:]),
			raw:   raw,
			field: raw[off+8 : off+12],
		}
		tags[le.Uint16(raw[off:])] = entry
	}

	width := int(tags[tagImageWidth].uint(0))
	height := int(tags[tagImageLength].uint(0))
	if width <= 0 || height <= 0 {
		return nil, "", fmt.Errorf("TIFF %s has invalid dimensions %dx%d", path, width, height)
	}

	bits := int(tags[tagBitsPerSample].uint(0))
	format := sampleFormatUnsigned
	if e, ok := tags[tagSampleFormat]; ok {
		format = int(e.uint(0))
	}

	var dtype string
	switch {
	case format == sampleFormatFloat && bits == 32:
		dtype = "float32"
	case format == sampleFormatUnsigned && bits == 16:
		dtype = "uint16"
	case format == sampleFormatUnsigned && bits == 8:
		dtype = "uint8"
	default:
		return nil, "", fmt.Errorf("unsupported TIFF encoding in %s: format %d, %d bits", path, format, bits)
	}

	offsets, ok := tags[tagStripOffsets]
	counts, ok2 := tags[tagStripByteCounts]
	if !ok || !ok2 {
		return nil, "", fmt.Errorf("TIFF %s missing strip layout", path)
	}

	var pixels []byte
	for i := uint32(0); i < offsets.count; i++ {
		start := offsets.uint(int(i))
		length := counts.uint(int(i))
		if int(start+length) > len(raw) {
			return nil, "", fmt.Errorf("TIFF %s strip %d out of bounds", path, i)
		}
		pixels = append(pixels, raw[start:start+length]...)
	}
	if len(pixels) < width*height*bits/8 {
		return nil, "", fmt.Errorf("TIFF %s pixel data truncated", path)
	}

	r := New(width, height)
	for i := range r.Data {
		switch dtype {
		case "uint8":
			r.Data[i] = float32(pixels[i])
		case "uint16":
			r.Data[i] = float32(le.Uint16(pixels[i*2:]))
		default:
			r.Data[i] = math.Float32frombits(le.Uint32(pixels[i*4:]))
		}
	}

	if e, ok := tags[tagGDALNoData]; ok {
		if nd, err := strconv.ParseFloat(strings.TrimRight(e.ascii(), "\x00"), 64); err == nil {
			r.NoData = nd
		}
	}
	if e, ok := tags[tagImageDescription]; ok {
		r.Band = strings.TrimRight(e.ascii(), "\x00")
	}
	if scale, ok := tags[tagModelPixelScale]; ok {
		if tie, ok := tags[tagModelTiepoint]; ok && scale.count >= 2 && tie.count >= 6 {
			r.Transform = [6]float64{
				tie.double(3), scale.double(0), 0,
				tie.double(4), 0, -scale.double(1),
			}
		}
	}
	return r, dtype, nil
}

type tiffEntry struct {
	dtype uint16
	count uint32
	raw   []byte
	field []byte
}

func (e tiffEntry) size() int {
	switch e.dtype {
	case typeShort:
		return 2
	case typeLong, typeASCII:
		if e.dtype == typeASCII {
			return 1
		}
		return 4
	case typeDouble:
		return 8
	default:
		return 1
	}
}

func (e tiffEntry) payload() []byte {
	total := int(e.count) * e.size()
	if total <= 4 {
		return e.field
	}
	off := binary.LittleEndian.Uint32(e.field)
	if int(off)+total > len(e.raw) {
		return nil
	}
	return e.raw[off : int(off)+total]
}

func (e tiffEntry) uint(i int) uint32 {
	p := e.payload()
	switch e.dtype {
	case typeShort:
		if len(p) < (i+1)*2 {
			return 0
		}
		return uint32(binary.LittleEndian.Uint16(p[i*2:]))
	default:
		if len(p) < (i+1)*4 {
			return 0
		}
		return binary.LittleEndian.Uint32(p[i*4:])
	}
}

func (e tiffEntry) double(i int) float64 {
	p := e.payload()
	if len(p) < (i+1)*8 {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(p[i*8:]))
}

func (e tiffEntry) ascii() string {
	return string(e.payload())
}
