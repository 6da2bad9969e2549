package snap

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rkm/s1ard/internal/config"
)

// Graph file names under the graph directory. The graphs chain several SNAP
// operators into one gpt invocation, which avoids intermediate products on
// disk.
const (
	graphGRDImport    = "S1_GRD2ARD/1_AO_TNR.xml"
	graphGRDImportSub = "S1_GRD2ARD/2_AO_TNR_SUB.xml"
	graphBurstSplit   = "S1_SLC2ARD/S1_SLC_BurstSplit_AO.xml"
	graphSLCCalBeta   = "S1_SLC2ARD/S1_SLC_TNR_CalBeta_Deb_ML_TF_Sub.xml"
	graphSLCCalGamma  = "S1_SLC2ARD/S1_SLC_TNR_CalGamma_Deb_ML_Sub.xml"
	graphSLCCalSigma  = "S1_SLC2ARD/S1_SLC_TNR_CalSigma_Deb_ML_Sub.xml"
	graphSLCCoherence = "S1_SLC2ARD/S1_SLC_Coh_Deb.xml"
	graphHAAlpha      = "S1_SLC2ARD/S1_SLC_Deb_Halpha.xml"
	graphHAAlphaSpk   = "S1_SLC2ARD/S1_SLC_Deb_Spk_Halpha.xml"
	graphLSMask       = "S1_GRD2ARD/3_LSmap.xml"
	graphStacking     = "S1_TS/1_BS_Stacking.xml"
	graphStackingPat  = "S1_TS/1_BS_Stacking_HAalpha.xml"
)

// Toolkit builds gpt command lines for the individual processing steps and
// hands them to a Runner.
type Toolkit struct {
	runner   Runner
	graphDir string
	workers  int
}

// NewToolkit returns a Toolkit running steps with the given inner thread
// budget.
func NewToolkit(runner Runner, graphDir string, workers int) *Toolkit {
	if workers < 1 {
		workers = 1
	}
	return &Toolkit{runner: runner, graphDir: graphDir, workers: workers}
}

// base returns the common argument prefix for an operator or graph
// invocation. SNAP's tile cache performs best with twice the worker count as
// its parallelism hint.
func (t *Toolkit) base(target string) []string {
	return []string{target, "-x", "-q", strconv.Itoa(2 * t.workers)}
}

func (t *Toolkit) graph(name string) string {
	return filepath.Join(t.graphDir, name)
}

func boolStr(b bool) string {
	return strconv.FormatBool(b)
}

// GRDImport reads an original GRD archive, applies the precise orbit file
// and removes thermal noise.
func (t *Toolkit) GRDImport(ctx context.Context, infile, outfile, logfile, polarisations string) error {
	args := append(t.base(t.graph(graphGRDImport)),
		fmt.Sprintf("-Pinput=%s", infile),
		fmt.Sprintf("-Ppolarisation=%s", strings.ReplaceAll(polarisations, " ", ",")),
		fmt.Sprintf("-Poutput=%s", outfile),
	)
	return t.runner.Run(ctx, "import", args, logfile)
}

// GRDImportSubset imports a GRD archive cropped to a WKT region in the same
// pass.
func (t *Toolkit) GRDImportSubset(ctx context.Context, infile, outfile, logfile, polarisations, regionWKT string) error {
	args := append(t.base(t.graph(graphGRDImportSub)),
		fmt.Sprintf("-Pinput=%s", infile),
		fmt.Sprintf("-Ppolarisation=%s", strings.ReplaceAll(polarisations, " ", ",")),
		fmt.Sprintf("-Pregion=%s", regionWKT),
		fmt.Sprintf("-Poutput=%s", outfile),
	)
	return t.runner.Run(ctx, "import", args, logfile)
}

// Calibrate applies radiometric calibration to a GRD product. Exactly one of
// the three output band families is enabled, selected by target (sigma0,
// gamma0 or beta0).
func (t *Toolkit) Calibrate(ctx context.Context, infile, outfile, logfile, target string) error {
	args := append(t.base("Calibration"),
		fmt.Sprintf("-PoutputBetaBand=%s", boolStr(target == "beta0")),
		fmt.Sprintf("-PoutputGammaBand=%s", boolStr(target == "gamma0")),
		fmt.Sprintf("-PoutputSigmaBand=%s", boolStr(target == "sigma0")),
		"-t", outfile, infile,
	)
	return t.runner.Run(ctx, "calibration", args, logfile)
}

// MultiLook reduces resolution by averaging looks in azimuth and range.
func (t *Toolkit) MultiLook(ctx context.Context, infile, outfile, logfile string, azLooks, rgLooks int) error {
	args := append(t.base("Multilook"),
		fmt.Sprintf("-PnAzLooks=%d", azLooks),
		fmt.Sprintf("-PnRgLooks=%d", rgLooks),
		"-t", outfile, infile,
	)
	return t.runner.Run(ctx, "multi-look", args, logfile)
}

func speckleArgs(f config.SpeckleFilter) []string {
	return []string{
		fmt.Sprintf("-PestimateENL=%s", boolStr(f.EstimateENL)),
		fmt.Sprintf("-PanSize=%d", f.PanSize),
		fmt.Sprintf("-PdampingFactor=%d", f.Damping),
		fmt.Sprintf("-Penl=%g", f.ENL),
		fmt.Sprintf("-Pfilter=%s", f.Filter),
		fmt.Sprintf("-PfilterSizeX=%d", f.FilterXSize),
		fmt.Sprintf("-PfilterSizeY=%d", f.FilterYSize),
		fmt.Sprintf("-PnumLooksStr=%d", f.NumLooks),
		fmt.Sprintf("-PsigmaStr=%g", f.Sigma),
		fmt.Sprintf("-PtargetWindowSizeStr=%d", f.TargetWindowSize),
		fmt.Sprintf("-PwindowSize=%s", f.WindowSize),
	}
}

// SpeckleFilter applies a single-image speckle filter.
func (t *Toolkit) SpeckleFilter(ctx context.Context, infile, outfile, logfile string, f config.SpeckleFilter) error {
	args := append(t.base("Speckle-Filter"), speckleArgs(f)...)
	args = append(args, "-t", outfile, infile)
	return t.runner.Run(ctx, "speckle filter", args, logfile)
}

// MTSpeckleFilter applies the multi-temporal speckle filter to a stack.
func (t *Toolkit) MTSpeckleFilter(ctx context.Context, inStack, outStack, logfile string, f config.SpeckleFilter) error {
	args := append(t.base("Multi-Temporal-Speckle-Filter"), speckleArgs(f)...)
	args = append(args, "-t", outStack, inStack)
	return t.runner.Run(ctx, "multi-temporal speckle filter", args, logfile)
}

// LinearToDB converts backscatter from the linear power domain to decibel.
func (t *Toolkit) LinearToDB(ctx context.Context, infile, outfile, logfile string) error {
	args := append(t.base("LinearToFromdB"), "-t", outfile, infile)
	return t.runner.Run(ctx, "dB scaling", args, logfile)
}

func demArgs(dem config.DEMParams) []string {
	return []string{
		fmt.Sprintf("-PdemName=%s", dem.Name),
		fmt.Sprintf("-PdemResamplingMethod=%s", dem.Resampling),
		fmt.Sprintf("-PexternalDEMFile=%s", dem.File),
		fmt.Sprintf("-PexternalDEMNoDataValue=%g", dem.NoData),
	}
}

// TerrainFlattening converts beta0 backscatter to terrain-flattened gamma0.
func (t *Toolkit) TerrainFlattening(ctx context.Context, infile, outfile, logfile string, dem config.DEMParams) error {
	args := []string{"Terrain-Flattening", "-c", "256M", "-q", strconv.Itoa(2 * t.workers)}
	args = append(args, demArgs(dem)...)
	args = append(args,
		"-PadditionalOverlap=0.1",
		"-PoversamplingMultiple=1.5",
		"-t", outfile, infile,
	)
	return t.runner.Run(ctx, "terrain flattening", args, logfile)
}

// TerrainCorrection geocodes the product onto a map grid at the given pixel
// spacing.
func (t *Toolkit) TerrainCorrection(ctx context.Context, infile, outfile, logfile string, resolution int, dem config.DEMParams) error {
	args := append(t.base("Terrain-Correction"), demArgs(dem)...)
	args = append(args,
		fmt.Sprintf("-PexternalDEMApplyEGM=%s", boolStr(dem.EGMCorrection)),
		fmt.Sprintf("-PimgResamplingMethod=%s", dem.ImgResampling),
		fmt.Sprintf("-PpixelSpacingInMeter=%d", resolution),
		"-t", outfile, infile,
	)
	return t.runner.Run(ctx, "terrain correction", args, logfile)
}

// LSMask derives the layover/shadow mask. The mask is computed at twice the
// target resolution with nearest-neighbour resampling, which is accurate
// enough for masking and considerably faster.
func (t *Toolkit) LSMask(ctx context.Context, infile, outfile, logfile string, resolution int, dem config.DEMParams) error {
	args := append(t.base(t.graph(graphLSMask)),
		fmt.Sprintf("-Pinput=%s", infile),
		fmt.Sprintf("-Presol=%d", resolution*2),
		fmt.Sprintf("-Pdem=%s", dem.Name),
		fmt.Sprintf("-Pdem_file=%s", dem.File),
		fmt.Sprintf("-Pdem_nodata=%g", dem.NoData),
		fmt.Sprintf("-Pdem_resampling=%s", dem.Resampling),
		"-Pimage_resampling=NEAREST_NEIGHBOUR",
		fmt.Sprintf("-Pegm_correction=%s", boolStr(dem.EGMCorrection)),
		fmt.Sprintf("-Poutput=%s", outfile),
	)
	return t.runner.Run(ctx, "layover/shadow mask", args, logfile)
}

// SliceAssembly merges consecutive GRD slices of the same track into one
// product.
func (t *Toolkit) SliceAssembly(ctx context.Context, infiles []string, outfile, logfile, polarisations string) error {
	args := append(t.base("SliceAssembly"),
		fmt.Sprintf("-PselectedPolarisations=%s", strings.ReplaceAll(polarisations, " ", ",")),
		"-t", outfile,
	)
	args = append(args, infiles...)
	return t.runner.Run(ctx, "slice assembly", args, logfile)
}

// Subset crops the product to the given WKT region.
func (t *Toolkit) Subset(ctx context.Context, infile, outfile, logfile, regionWKT string) error {
	args := append(t.base("Subset"),
		fmt.Sprintf("-PgeoRegion=%s", regionWKT),
		"-PcopyMetadata=true",
		"-t", outfile, infile,
	)
	return t.runner.Run(ctx, "subset", args, logfile)
}

// BurstImport extracts a single burst from an SLC scene, applying the orbit
// file on the way.
func (t *Toolkit) BurstImport(ctx context.Context, infile, outfile, logfile, swath string, burst int, polarisations string) error {
	args := append(t.base(t.graph(graphBurstSplit)),
		fmt.Sprintf("-Pinput=%s", infile),
		fmt.Sprintf("-Ppolar=%s", strings.ReplaceAll(polarisations, " ", "")),
		fmt.Sprintf("-Pswath=%s", swath),
		fmt.Sprintf("-Pburst=%d", burst),
		fmt.Sprintf("-Poutput=%s", outfile),
	)
	return t.runner.Run(ctx, "burst import", args, logfile)
}

// SLCCalibrate runs the product-type specific SLC calibration chain, which
// combines thermal noise removal, calibration, deburst and multi-looking.
func (t *Toolkit) SLCCalibrate(ctx context.Context, infile, outfile, logfile string, ard *config.SingleARD) error {
	azLooks := ard.MultiLookFactor()
	rgLooks := azLooks * 5

	var graph string
	switch ard.ProductType {
	case "RTC-gamma0":
		graph = graphSLCCalBeta
	case "GTC-gamma0":
		graph = graphSLCCalGamma
	case "GTC-sigma0":
		graph = graphSLCCalSigma
	default:
		return fmt.Errorf("wrong ARD product type %q", ard.ProductType)
	}

	args := append(t.base(t.graph(graph)),
		fmt.Sprintf("-Prange_looks=%d", rgLooks),
		fmt.Sprintf("-Pazimuth_looks=%d", azLooks),
	)
	if ard.ProductType == "RTC-gamma0" {
		args = append(args,
			fmt.Sprintf("-Pdem=%s", ard.DEM.Name),
			fmt.Sprintf("-Pdem_file=%s", ard.DEM.File),
			fmt.Sprintf("-Pdem_nodata=%g", ard.DEM.NoData),
			fmt.Sprintf("-Pdem_resampling=%s", ard.DEM.Resampling),
		)
	}
	args = append(args,
		fmt.Sprintf("-Pinput=%s", infile),
		fmt.Sprintf("-Poutput=%s", outfile),
	)
	return t.runner.Run(ctx, "SLC calibration", args, logfile)
}

// Coregister co-registers a master and slave SLC pair with back-geocoding.
// The result is sufficient for coherence estimation.
func (t *Toolkit) Coregister(ctx context.Context, master, slave, outfile, logfile string, dem config.DEMParams) error {
	args := append(t.base("Back-Geocoding"), demArgs(dem)...)
	args = append(args,
		"-PmaskOutAreaWithoutElevation=false",
		"-t", outfile, master, slave,
	)
	return t.runner.Run(ctx, "co-registration", args, logfile)
}

// Coherence estimates interferometric coherence from a co-registered pair.
func (t *Toolkit) Coherence(ctx context.Context, infile, outfile, logfile string, azWindow, rgWindow int, bands string) error {
	args := append(t.base(t.graph(graphSLCCoherence)),
		fmt.Sprintf("-Pazimuth_window=%d", azWindow),
		fmt.Sprintf("-Prange_window=%d", rgWindow),
		fmt.Sprintf("-Ppolar=%s", strings.ReplaceAll(bands, " ", "")),
		fmt.Sprintf("-Pinput=%s", infile),
		fmt.Sprintf("-Poutput=%s", outfile),
	)
	return t.runner.Run(ctx, "coherence", args, logfile)
}

// HAAlpha computes the dual-polarimetric H-A-alpha decomposition, with an
// optional polarimetric speckle filter in the same graph.
func (t *Toolkit) HAAlpha(ctx context.Context, infile, outfile, logfile string, removeSpeckle bool, f config.SpeckleFilter) error {
	if !removeSpeckle {
		args := append(t.base(t.graph(graphHAAlpha)),
			fmt.Sprintf("-Pinput=%s", infile),
			fmt.Sprintf("-Poutput=%s", outfile),
		)
		return t.runner.Run(ctx, "H-A-alpha decomposition", args, logfile)
	}

	args := append(t.base(t.graph(graphHAAlphaSpk)),
		fmt.Sprintf("-Pinput=%s", infile),
		fmt.Sprintf("-Poutput=%s", outfile),
		fmt.Sprintf("-Pfilter=%s", f.Filter),
		fmt.Sprintf("-Pfilter_size=%d", f.FilterXSize),
		fmt.Sprintf("-Pnr_looks=%d", f.NumLooks),
		fmt.Sprintf("-Pwindow_size=%s", f.WindowSize),
		fmt.Sprintf("-Ptarget_window_size=%d", f.TargetWindowSize),
		fmt.Sprintf("-Ppan_size=%d", f.PanSize),
		fmt.Sprintf("-Psigma=%g", f.Sigma),
	)
	return t.runner.Run(ctx, "H-A-alpha decomposition", args, logfile)
}

// CreateStack assembles per-date products into a multi-temporal stack. When
// pattern is set the stack selects bands by name pattern instead of by
// polarisation.
func (t *Toolkit) CreateStack(ctx context.Context, filelist []string, outStack, logfile, polarisation, pattern string) error {
	files := strings.Join(filelist, ",")

	if pattern != "" {
		args := append(t.base(t.graph(graphStackingPat)),
			fmt.Sprintf("-Pfilelist=%s", files),
			fmt.Sprintf("-PbandPattern=%s.*", pattern),
			fmt.Sprintf("-Poutput=%s", outStack),
		)
		return t.runner.Run(ctx, "stacking", args, logfile)
	}

	args := append(t.base(t.graph(graphStacking)),
		fmt.Sprintf("-Pfilelist=%s", files),
		fmt.Sprintf("-Ppol=%s", polarisation),
		fmt.Sprintf("-Poutput=%s", outStack),
	)
	return t.runner.Run(ctx, "stacking", args, logfile)
}
