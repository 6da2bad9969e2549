package ard

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkm/s1ard/internal/config"
	"github.com/rkm/s1ard/internal/marker"
	"github.com/rkm/s1ard/internal/snap"
	"github.com/rkm/s1ard/internal/unit"
)

const (
	grdScene      = "S1A_IW_GRDH_1SDV_20200103T171819_20200103T171844_030639_038299_3A7C"
	slcScene      = "S1A_IW_SLC__1SDV_20200103T171819_20200103T171844_030639_038299_3A7C"
	slcSlaveScene = "S1A_IW_SLC__1SDV_20200115T171819_20200115T171844_030814_038299_3A7C"
)

// fakeRunner records the stages it ran and fabricates the output product the
// real tool would write, so the chain's file handling runs against real
// paths.
type fakeRunner struct {
	stages []string
	failOn string
	// stages producing no output, as an empty subset does.
	skipProductOn string
}

func (f *fakeRunner) Run(_ context.Context, stage string, args []string, _ string) error {
	f.stages = append(f.stages, stage)
	if stage == f.failOn {
		return &snap.ExternalToolError{Stage: stage, ExitCode: 1}
	}
	if stage == f.skipProductOn {
		return nil
	}
	if target := targetOf(args); target != "" {
		writeFakeDimap(target)
	}
	return nil
}

func targetOf(args []string) string {
	for i, a := range args {
		if a == "-t" && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(a, "-Poutput=") {
			return strings.TrimPrefix(a, "-Poutput=")
		}
	}
	return ""
}

func writeFakeDimap(base string) {
	os.WriteFile(base+".dim", []byte("<Dimap_Document/>"), 0o644)
	os.MkdirAll(base+".data", 0o755)
	os.WriteFile(filepath.Join(base+".data", "Gamma0_VV.img"), []byte{1, 2, 3, 4}, 0o644)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		ProcessingDir: t.TempDir(),
		TempDir:       t.TempDir(),
		DownloadDir:   t.TempDir(),
	}
	cfg.Processing.SingleARD = config.SingleARD{
		ProductType:    "GTC-gamma0",
		Polarisation:   "VV VH",
		Resolution:     20,
		Backscatter:    true,
		ToDB:           true,
		CoherenceBands: "VV",
		CohAzWindow:    3,
		CohRgWindow:    10,
		DEM: config.DEMParams{
			Name:          "SRTM 1Sec HGT",
			Resampling:    "BILINEAR_INTERPOLATION",
			ImgResampling: "BICUBIC_INTERPOLATION",
		},
	}
	return cfg
}

func testChain(cfg *config.Config, runner snap.Runner) *Chain {
	tk := snap.NewToolkit(runner, "graphs", 2)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(cfg, tk, logger)
}

func grdUnit(cfg *config.Config) unit.WorkUnit {
	return unit.WorkUnit{
		Key:    "117",
		Date:   "20200103",
		Scenes: []string{grdScene},
		OutDir: filepath.Join(cfg.ProcessingDir, "117", "20200103"),
	}
}

func slcUnit(cfg *config.Config) unit.WorkUnit {
	return unit.WorkUnit{
		Key:         "117_IW1_3",
		Date:        "20200103",
		Scenes:      []string{slcScene},
		SlaveDate:   "20200115",
		SlaveScenes: []string{slcSlaveScene},
		OutDir:      filepath.Join(cfg.ProcessingDir, "117_IW1_3", "20200103"),
		Swath:       "IW1",
		BurstNr:     3,
	}
}

func TestProcessGRDChain(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{}
	chain := testChain(cfg, runner)
	u := grdUnit(cfg)

	res := chain.Process(context.Background(), u)
	require.False(t, res.Failed(), res.Err)

	assert.Equal(t, []string{
		"import", "calibration", "multi-look", "dB scaling", "terrain correction",
	}, runner.stages)

	wantBS := filepath.Join(u.OutDir, "20200103_117_BS.dim")
	assert.Equal(t, wantBS, res.Backscatter)
	assert.FileExists(t, wantBS)
	assert.DirExists(t, filepath.Join(u.OutDir, "20200103_117_BS.data"))
	assert.True(t, marker.Done(marker.Path(u.OutDir, marker.Backscatter)))
}

func TestProcessGRDIdempotent(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{}
	chain := testChain(cfg, runner)
	u := grdUnit(cfg)

	first := chain.Process(context.Background(), u)
	require.False(t, first.Failed(), first.Err)
	ran := len(runner.stages)

	second := chain.Process(context.Background(), u)
	require.False(t, second.Failed(), second.Err)
	assert.Equal(t, ran, len(runner.stages), "a finished unit runs no tool invocations")
	assert.Equal(t, first.Backscatter, second.Backscatter)
}

func TestProcessGRDSliceAssembly(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{}
	chain := testChain(cfg, runner)

	u := grdUnit(cfg)
	u.Scenes = []string{
		grdScene,
		"S1A_IW_GRDH_1SDV_20200103T171844_20200103T171909_030639_038299_4B8D",
	}

	res := chain.Process(context.Background(), u)
	require.False(t, res.Failed(), res.Err)
	assert.Equal(t, []string{
		"import", "import", "slice assembly",
		"calibration", "multi-look", "dB scaling", "terrain correction",
	}, runner.stages)
}

func TestProcessGRDEmptySubset(t *testing.T) {
	cfg := testConfig(t)
	cfg.Subset = "POLYGON((9 48, 10 48, 10 49, 9 49, 9 48))"
	runner := &fakeRunner{skipProductOn: "import"}
	chain := testChain(cfg, runner)
	u := grdUnit(cfg)

	res := chain.Process(context.Background(), u)
	require.False(t, res.Failed(), res.Err)
	assert.Empty(t, res.Backscatter)

	bsMarker := marker.Path(u.OutDir, marker.Backscatter)
	require.True(t, marker.Done(bsMarker))
	empty, err := marker.Empty(bsMarker)
	require.NoError(t, err)
	assert.True(t, empty)

	// The empty unit is final, a rerun does nothing.
	ran := len(runner.stages)
	res = chain.Process(context.Background(), u)
	require.False(t, res.Failed(), res.Err)
	assert.Empty(t, res.Backscatter)
	assert.Equal(t, ran, len(runner.stages))
}

func TestProcessGRDLSMaskAndRTC(t *testing.T) {
	cfg := testConfig(t)
	cfg.Processing.SingleARD.ProductType = "RTC-gamma0"
	cfg.Processing.SingleARD.CreateLSMask = true
	runner := &fakeRunner{}
	chain := testChain(cfg, runner)
	u := grdUnit(cfg)

	res := chain.Process(context.Background(), u)
	require.False(t, res.Failed(), res.Err)
	assert.Equal(t, []string{
		"import", "calibration", "multi-look", "layover/shadow mask",
		"terrain flattening", "dB scaling", "terrain correction",
	}, runner.stages)

	assert.Equal(t, filepath.Join(u.OutDir, "20200103_117_LS.dim"), res.Layover)
	assert.True(t, marker.Done(marker.Path(u.OutDir, marker.Layover)))
}

func TestProcessGRDFailureRecorded(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{failOn: "calibration"}
	chain := testChain(cfg, runner)
	u := grdUnit(cfg)

	res := chain.Process(context.Background(), u)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Err, "calibration")
	assert.Equal(t, "117", res.Key)
	assert.False(t, marker.Done(marker.Path(u.OutDir, marker.Backscatter)))
}

func TestProcessSLCAllFamilies(t *testing.T) {
	cfg := testConfig(t)
	cfg.Processing.SingleARD.Coherence = true
	cfg.Processing.SingleARD.HAAlpha = true
	runner := &fakeRunner{}
	chain := testChain(cfg, runner)
	u := slcUnit(cfg)

	res := chain.Process(context.Background(), u)
	require.False(t, res.Failed(), res.Err)

	assert.Equal(t, []string{
		"burst import",
		"H-A-alpha decomposition", "terrain correction",
		"SLC calibration", "dB scaling", "terrain correction",
		"burst import", "co-registration", "coherence", "terrain correction",
	}, runner.stages)

	assert.Equal(t, filepath.Join(u.OutDir, "20200103_117_IW1_3_bs.dim"), res.Backscatter)
	assert.Equal(t, filepath.Join(u.OutDir, "20200103_117_IW1_3_coh.dim"), res.Coherence)
	assert.Equal(t, filepath.Join(u.OutDir, "20200103_117_IW1_3_pol.dim"), res.Polarimetric)

	for _, fam := range []marker.Family{marker.Backscatter, marker.Coherence, marker.Polarimetric} {
		assert.True(t, marker.Done(marker.Path(u.OutDir, fam)), string(fam))
	}
}

func TestProcessSLCResumesUnfinishedFamilies(t *testing.T) {
	cfg := testConfig(t)
	cfg.Processing.SingleARD.Coherence = true
	runner := &fakeRunner{}
	chain := testChain(cfg, runner)
	u := slcUnit(cfg)

	require.NoError(t, marker.WritePassed(marker.Path(u.OutDir, marker.Backscatter)))

	res := chain.Process(context.Background(), u)
	require.False(t, res.Failed(), res.Err)

	assert.NotContains(t, runner.stages, "SLC calibration",
		"finished families are not reprocessed")
	assert.Contains(t, runner.stages, "coherence")
	assert.Equal(t, filepath.Join(u.OutDir, "20200103_117_IW1_3_bs.dim"), res.Backscatter,
		"existing products are still reported")
	assert.Equal(t, filepath.Join(u.OutDir, "20200103_117_IW1_3_coh.dim"), res.Coherence)
}

func TestProcessSLCResumeReportsOnlyFinishedLayover(t *testing.T) {
	cfg := testConfig(t)
	cfg.Processing.SingleARD.CreateLSMask = true
	runner := &fakeRunner{}
	chain := testChain(cfg, runner)
	u := slcUnit(cfg)

	// Backscatter sealed but no layover marker: the mask is not claimed.
	require.NoError(t, marker.WritePassed(marker.Path(u.OutDir, marker.Backscatter)))

	res := chain.Process(context.Background(), u)
	require.False(t, res.Failed(), res.Err)
	assert.Equal(t, filepath.Join(u.OutDir, "20200103_117_IW1_3_bs.dim"), res.Backscatter)
	assert.Empty(t, res.Layover)

	require.NoError(t, marker.WritePassed(marker.Path(u.OutDir, marker.Layover)))

	res = chain.Process(context.Background(), u)
	require.False(t, res.Failed(), res.Err)
	assert.Equal(t, filepath.Join(u.OutDir, "20200103_117_IW1_3_LS.dim"), res.Layover)
}

func TestProcessSLCWithoutSlaveSkipsCoherence(t *testing.T) {
	cfg := testConfig(t)
	cfg.Processing.SingleARD.Coherence = true
	runner := &fakeRunner{}
	chain := testChain(cfg, runner)

	u := slcUnit(cfg)
	u.SlaveDate = ""
	u.SlaveScenes = nil

	res := chain.Process(context.Background(), u)
	require.False(t, res.Failed(), res.Err)
	assert.Empty(t, res.Coherence)
	assert.NotContains(t, runner.stages, "co-registration")
}

func TestProcessRejectsUnknownProductType(t *testing.T) {
	cfg := testConfig(t)
	chain := testChain(cfg, &fakeRunner{})

	u := grdUnit(cfg)
	u.Scenes = []string{"S1A_IW_OCN__1SDV_20200103T171819_20200103T171844_030639_038299_3A7C"}

	res := chain.Process(context.Background(), u)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Err, "unsupported product type")
}

func TestMoveDimapReplacesTarget(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "out", "dst")
	writeFakeDimap(src)
	writeFakeDimap(dst)

	require.NoError(t, moveDimap(src, dst))
	assert.NoFileExists(t, src+".dim")
	assert.FileExists(t, dst+".dim")
	assert.DirExists(t, dst+".data")
}
