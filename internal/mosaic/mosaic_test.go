package mosaic

import (
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkm/s1ard/internal/config"
	"github.com/rkm/s1ard/internal/marker"
	"github.com/rkm/s1ard/internal/raster"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		ProcessingDir: t.TempDir(),
		TempDir:       t.TempDir(),
	}
	cfg.Processing.TimeSeries.DTypeOutput = "float32"
	cfg.Processing.TimeScan.Metrics = []string{"avg"}
	return cfg
}

func testMosaicker(cfg *config.Config) *Mosaicker {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(cfg, logger)
}

// writeLayer writes a 4x4 layer with the given origin and uniform value.
func writeLayer(t *testing.T, dir, name string, originX float64, value float32) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	r := raster.New(4, 4)
	for i := range r.Data {
		r.Data[i] = value
	}
	r.Transform = [6]float64{originX, 0.001, 0, 49, 0, -0.001}
	r.NoData = math.NaN()
	require.NoError(t, raster.WriteTIFF(filepath.Join(dir, name), r, "float32"))
}

func TestRunMergesOverlappingUnits(t *testing.T) {
	cfg := testConfig(t)
	m := testMosaicker(cfg)

	// Two tracks shifted by two pixels, overlapping in the middle.
	writeLayer(t, filepath.Join(cfg.ProcessingDir, "117", "Timeseries"),
		"01.20200103.bs.VV.tif", 9.000, 3)
	writeLayer(t, filepath.Join(cfg.ProcessingDir, "44", "Timeseries"),
		"01.20200104.bs.VV.tif", 9.002, 5)

	require.NoError(t, m.Run())

	outDir := filepath.Join(cfg.ProcessingDir, "Mosaic", "Timeseries")
	out := filepath.Join(outDir, "01.20200103-20200104.bs.VV.tif")
	require.FileExists(t, out)
	assert.True(t, marker.Done(marker.NamedPath(outDir, "01.20200103-20200104.bs.VV")))
	assert.FileExists(t, filepath.Join(outDir, "Timeseries.bs.VV.vrt"))

	merged, _, err := raster.ReadTIFF(out)
	require.NoError(t, err)
	assert.Equal(t, 6, merged.Width, "union grid spans both tracks")
	assert.Equal(t, float32(3), merged.At(0, 0), "left-only pixels keep the left value")
	assert.Equal(t, float32(5), merged.At(3, 0), "overlap keeps the maximum")
	assert.Equal(t, float32(5), merged.At(5, 0))
}

func TestRunSkipsSingleContributor(t *testing.T) {
	cfg := testConfig(t)
	m := testMosaicker(cfg)

	writeLayer(t, filepath.Join(cfg.ProcessingDir, "117", "Timeseries"),
		"01.20200103.bs.VV.tif", 9.0, 3)
	writeLayer(t, filepath.Join(cfg.ProcessingDir, "117", "Timeseries"),
		"02.20200115.bs.VV.tif", 9.0, 4)
	writeLayer(t, filepath.Join(cfg.ProcessingDir, "44", "Timeseries"),
		"01.20200104.bs.VV.tif", 9.002, 5)

	require.NoError(t, m.Run())

	outDir := filepath.Join(cfg.ProcessingDir, "Mosaic", "Timeseries")
	assert.FileExists(t, filepath.Join(outDir, "01.20200103-20200104.bs.VV.tif"))
	matches, err := filepath.Glob(filepath.Join(outDir, "02.*.tif"))
	require.NoError(t, err)
	assert.Empty(t, matches, "stack position 02 has a single contributor")
}

func TestRunCopiesSingleContributorWhenConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.CopySingleContributor = true
	m := testMosaicker(cfg)

	writeLayer(t, filepath.Join(cfg.ProcessingDir, "117", "Timeseries"),
		"01.20200103.bs.VV.tif", 9.0, 3)

	require.NoError(t, m.Run())

	out := filepath.Join(cfg.ProcessingDir, "Mosaic", "Timeseries", "01.20200103.bs.VV.tif")
	require.FileExists(t, out)
	r, _, err := raster.ReadTIFF(out)
	require.NoError(t, err)
	assert.Equal(t, float32(3), r.At(2, 2))
}

func TestRunMosaicIdempotent(t *testing.T) {
	cfg := testConfig(t)
	m := testMosaicker(cfg)

	writeLayer(t, filepath.Join(cfg.ProcessingDir, "117", "Timeseries"),
		"01.20200103.bs.VV.tif", 9.0, 3)
	writeLayer(t, filepath.Join(cfg.ProcessingDir, "44", "Timeseries"),
		"01.20200103.bs.VV.tif", 9.002, 5)

	require.NoError(t, m.Run())
	out := filepath.Join(cfg.ProcessingDir, "Mosaic", "Timeseries", "01.20200103.bs.VV.tif")
	info, err := os.Stat(out)
	require.NoError(t, err)

	require.NoError(t, m.Run())
	again, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), again.ModTime(), "finished mosaics are not rebuilt")
}

func TestRunTimescanMosaicAndShuffle(t *testing.T) {
	cfg := testConfig(t)
	m := testMosaicker(cfg)

	writeLayer(t, filepath.Join(cfg.ProcessingDir, "117", "Timescan"),
		"01.bs.VV.avg.tif", 9.0, 3)
	writeLayer(t, filepath.Join(cfg.ProcessingDir, "44", "Timescan"),
		"01.bs.VV.avg.tif", 9.002, 5)

	require.NoError(t, m.Run())

	outDir := filepath.Join(cfg.ProcessingDir, "Mosaic", "Timescan")
	assert.FileExists(t, filepath.Join(outDir, "01.bs.VV.avg.tif"))
	assert.FileExists(t, filepath.Join(outDir, "Timescan.vrt"))
	assert.True(t, marker.Done(marker.NamedPath(outDir, "bs.VV.avg")))
}

func TestGroupNameSingleDate(t *testing.T) {
	g := &group{nn: "03", product: "coh", band: "VV",
		dates: []string{"20200115", "20200103", "20200115", "20200103"}}
	assert.Equal(t, "03.20200103-20200115.coh.VV.tif", g.name())

	g = &group{nn: "01", product: "bs", band: "VH", dates: []string{"20200103"}}
	assert.Equal(t, "01.20200103.bs.VH.tif", g.name())
}
