package raster

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkm/s1ard/pkg/geojson"
)

// borderTestRaster builds a wide image whose outer dark columns emulate GRD
// border noise: darkCols noisy columns at each margin, bright interior.
func borderTestRaster(width, height, darkCols int) *Raster {
	r := New(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := float32(200)
			if x < darkCols || x >= width-darkCols {
				v = 50
			}
			r.Set(x, y, v)
		}
	}
	return r
}

func columnIsZero(r *Raster, x int) bool {
	for y := 0; y < r.Height; y++ {
		if r.At(x, y) != 0 {
			return false
		}
	}
	return true
}

func TestRemoveBorderNoise(t *testing.T) {
	r := borderTestRaster(6200, 4, 10)
	RemoveBorderNoise(r)

	// 10 dark columns plus the 150-column transition zone per side.
	for x := 0; x < 160; x++ {
		assert.True(t, columnIsZero(r, x), "left column %d", x)
	}
	assert.Equal(t, float32(200), r.At(160, 0), "first valid column after the left margin")

	for x := r.Width - 160; x < r.Width; x++ {
		assert.True(t, columnIsZero(r, x), "right column %d", x)
	}
	assert.Equal(t, float32(200), r.At(r.Width-161, 0), "last valid column before the right margin")
}

func TestRemoveBorderNoiseAllDarkMargin(t *testing.T) {
	// The whole scan margin is dark: exactly the margin is zeroed, the
	// interior stays untouched even though it is dark too.
	r := New(6200, 3)
	for i := range r.Data {
		r.Data[i] = 10
	}
	RemoveBorderNoise(r)

	assert.True(t, columnIsZero(r, 0))
	assert.True(t, columnIsZero(r, 2999))
	assert.Equal(t, float32(10), r.At(3000, 0))
	assert.Equal(t, float32(10), r.At(3199, 0))
	assert.True(t, columnIsZero(r, 3200))
	assert.True(t, columnIsZero(r, r.Width-1))
}

func TestRemoveBorderNoiseNarrowImage(t *testing.T) {
	r := borderTestRaster(500, 3, 10)
	RemoveBorderNoise(r)
	assert.Equal(t, float32(50), r.At(0, 0), "narrow images are left untouched")
}

func TestConvertToDB(t *testing.T) {
	data := []float32{1, 0.1, 0.01, -5}
	ConvertToDB(data)

	assert.InDelta(t, 0, data[0], 1e-5)
	assert.InDelta(t, -10, data[1], 1e-4)
	assert.InDelta(t, -20, data[2], 1e-4)
	assert.Less(t, data[3], float32(-100), "negative input clips to a deep dB floor")
}

func TestScaleRescaleRoundTrip(t *testing.T) {
	orig := []float32{-30, -20, -10, 0, 5}
	data := append([]float32(nil), orig...)

	require.NoError(t, ScaleToInt(data, -30, 5, "uint16"))
	require.NoError(t, RescaleToFloat(data, "uint16"))

	for i := range orig {
		assert.InDelta(t, orig[i], data[i], 0.01, "value %d", i)
	}
}

func TestScaleToIntClips(t *testing.T) {
	data := []float32{-100, 100, float32(math.NaN())}
	require.NoError(t, ScaleToInt(data, -30, 5, "uint8"))

	assert.Equal(t, float32(1), data[0], "below minimum maps to the bottom of the display range")
	assert.Equal(t, float32(255), data[1], "above maximum maps to the top")
	assert.Equal(t, float32(0), data[2], "NaN maps to nodata")
}

func TestMaskByShape(t *testing.T) {
	r := New(4, 4)
	r.Transform = [6]float64{0, 1, 0, 4, 0, -1}
	for i := range r.Data {
		r.Data[i] = 0.5
	}

	// Left half only.
	shape, err := geojson.NewPolygonFromBBox([]float64{0, 0, 2, 4})
	require.NoError(t, err)

	out, err := MaskByShape(r, shape, MaskOptions{DType: "float32"})
	require.NoError(t, err)

	assert.Equal(t, float32(0.5), out.At(0, 0))
	assert.Equal(t, float32(0.5), out.At(1, 3))
	assert.True(t, math.IsNaN(float64(out.At(2, 0))))
	assert.True(t, math.IsNaN(float64(out.At(3, 3))))
}

func TestMergeMax(t *testing.T) {
	a := New(2, 2)
	a.Transform = [6]float64{0, 1, 0, 2, 0, -1}
	a.Data = []float32{1, 2, 3, 4}

	b := New(2, 2)
	b.Transform = [6]float64{1, 1, 0, 2, 0, -1}
	b.Data = []float32{9, 5, 1, 6}

	merged, err := MergeMax([]*Raster{a, b})
	require.NoError(t, err)

	assert.Equal(t, 3, merged.Width)
	assert.Equal(t, 2, merged.Height)
	assert.Equal(t, float32(1), merged.At(0, 0))
	assert.Equal(t, float32(9), merged.At(1, 0), "overlap keeps the maximum")
	assert.Equal(t, float32(5), merged.At(2, 0))
	assert.Equal(t, float32(6), merged.At(2, 1))
}

func TestMergeMaxPixelSizeMismatch(t *testing.T) {
	a := New(2, 2)
	a.Transform = [6]float64{0, 1, 0, 2, 0, -1}
	b := New(2, 2)
	b.Transform = [6]float64{0, 2, 0, 2, 0, -2}

	_, err := MergeMax([]*Raster{a, b})
	assert.Error(t, err)
}

func TestCheckTIFF(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.tif")
	r := testRaster(3, 3)
	require.NoError(t, WriteTIFF(valid, r, "float32"))

	empty, err := CheckTIFF(valid, false)
	require.NoError(t, err)
	assert.False(t, empty)

	blank := filepath.Join(dir, "blank.tif")
	require.NoError(t, WriteTIFF(blank, New(3, 3), "float32"))

	_, err = CheckTIFF(blank, false)
	var artErr *InvalidArtifactError
	require.ErrorAs(t, err, &artErr)

	empty, err = CheckTIFF(blank, true)
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestCheckDimap(t *testing.T) {
	dir := t.TempDir()

	err := CheckDimap(filepath.Join(dir, "missing.dim"))
	assert.Error(t, err)

	dim := filepath.Join(dir, "product.dim")
	require.NoError(t, WriteENVI(filepath.Join(dir, "product.data", "Gamma0_VV.img"),
		testRaster(2, 2)))
	require.NoError(t, os.WriteFile(dim, []byte("<Dimap_Document/>"), 0o644))

	assert.NoError(t, CheckDimap(dim))
}
