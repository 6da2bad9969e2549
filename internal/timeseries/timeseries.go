// Package timeseries turns the per-date ARD products of a spatial unit into
// chronologically stacked, commonly-gridded time series. Per product family
// and band the dated products are stacked with the external tool, optionally
// multi-temporally despeckled, cropped to the unit's common extent and
// written out as numbered GeoTIFF layers plus a virtual stack.
package timeseries

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rkm/s1ard/internal/config"
	"github.com/rkm/s1ard/internal/marker"
	"github.com/rkm/s1ard/internal/raster"
	"github.com/rkm/s1ard/internal/snap"
	"github.com/rkm/s1ard/pkg/geojson"
)

// Builder runs the temporal aggregation for spatial units.
type Builder struct {
	cfg    *config.Config
	tk     *snap.Toolkit
	logger *slog.Logger
}

// New creates a Builder bound to a toolkit.
func New(cfg *config.Config, tk *snap.Toolkit, logger *slog.Logger) *Builder {
	return &Builder{cfg: cfg, tk: tk, logger: logger}
}

// Value ranges for the integer stretch per product family. Backscatter is
// stretched in the dB domain.
var StretchRanges = map[string][2]float64{
	"bs":  {-30, 5},
	"coh": {0, 1},
	"pol": {0, 90},
}

var familyPatterns = map[string][]string{
	"bs":  {"*_BS.dim", "*_bs.dim"},
	"coh": {"*_coh.dim"},
	"pol": {"*_pol.dim"},
}

var familyOrder = []string{"bs", "coh", "pol"}

// ProcessUnit builds every time series of one spatial unit from the dated
// products under its directory. Dates a product family is missing for are
// gaps, not errors.
func (b *Builder) ProcessUnit(ctx context.Context, unitKey string) error {
	unitDir := filepath.Join(b.cfg.ProcessingDir, unitKey)
	if err := os.MkdirAll(filepath.Join(unitDir, "Timeseries"), 0o755); err != nil {
		return fmt.Errorf("failed to create time series directory: %w", err)
	}

	for _, product := range familyOrder {
		dims, err := familyProducts(unitDir, product)
		if err != nil {
			return err
		}
		if len(dims) == 0 {
			continue
		}
		for _, band := range b.bandsFor(product) {
			if err := b.buildSeries(ctx, unitDir, unitKey, product, band, dims); err != nil {
				return fmt.Errorf("time series %s %s of unit %s: %w", product, band, unitKey, err)
			}
		}
	}

	if b.cfg.Processing.SingleARD.CreateLSMask {
		if err := b.compositeLSMask(unitDir, unitKey); err != nil {
			return err
		}
	}
	return nil
}

func familyProducts(unitDir, product string) ([]string, error) {
	var dims []string
	for _, pattern := range familyPatterns[product] {
		matches, err := filepath.Glob(filepath.Join(unitDir, "*", pattern))
		if err != nil {
			return nil, fmt.Errorf("bad product glob for %s: %w", product, err)
		}
		dims = append(dims, matches...)
	}
	sort.Strings(dims)
	return dims, nil
}

func (b *Builder) bandsFor(product string) []string {
	switch product {
	case "coh":
		return b.cfg.Processing.SingleARD.CoherenceBandList()
	case "pol":
		return []string{"Alpha", "Entropy", "Anisotropy"}
	default:
		return b.cfg.Processing.SingleARD.PolarisationList()
	}
}

// buildSeries stacks one product family and band, despeckles the stack when
// configured and exports the numbered per-date layers.
func (b *Builder) buildSeries(ctx context.Context, unitDir, unitKey, product, band string, dims []string) error {
	tsDir := filepath.Join(unitDir, "Timeseries")
	mk := marker.NamedPath(tsDir, product+"."+band)
	if marker.Done(mk) {
		b.logger.Info("time series already built",
			"unit", unitKey, "product", product, "band", band)
		return nil
	}

	temp, err := os.MkdirTemp(b.cfg.TempDir, "ts-"+unitKey+"-")
	if err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(temp)

	stack := filepath.Join(temp, product+"_"+band+"_stack")
	pol, pattern := band, ""
	if product == "pol" {
		pol, pattern = "", band
	}
	if err := b.tk.CreateStack(ctx, dims, stack,
		filepath.Join(tsDir, product+"_"+band+"_stacking.err_log"), pol, pattern); err != nil {
		return err
	}

	if product == "bs" && b.cfg.Processing.TimeSeries.RemoveMTSpeckle {
		filtered := stack + "_spk"
		if err := b.tk.MTSpeckleFilter(ctx, stack+".dim", filtered,
			filepath.Join(tsDir, product+"_"+band+"_mt_speckle.err_log"),
			b.cfg.Processing.TimeSeries.MTSpeckleFilter); err != nil {
			return err
		}
		stack = filtered
	}

	layers, err := readStackLayers(stack + ".data")
	if err != nil {
		return err
	}
	if len(layers) == 0 {
		return fmt.Errorf("stack holds no dated layers")
	}
	sortLayers(layers)

	extent, err := b.ensureExtent(unitDir, unitKey, layers)
	if err != nil {
		return err
	}

	ts := &b.cfg.Processing.TimeSeries
	opts := raster.MaskOptions{
		DType:   ts.DTypeOutput,
		Rescale: ts.DTypeOutput != "float32",
	}
	if product == "bs" {
		opts.ToDB = ts.ToDB && !b.cfg.Processing.SingleARD.ToDB
	}
	if rng, ok := StretchRanges[product]; ok {
		opts.MinValue, opts.MaxValue = rng[0], rng[1]
	}

	vrtLayers := make([]raster.StackLayer, 0, len(layers))
	for i, layer := range layers {
		masked, err := raster.MaskByShape(layer.r, extent, opts)
		if err != nil {
			return err
		}
		out := filepath.Join(tsDir,
			fmt.Sprintf("%02d.%s.%s.%s.tif", i+1, layer.label(), product, band))
		if err := raster.WriteTIFF(out, masked, ts.DTypeOutput); err != nil {
			return err
		}
		// A date without coverage over the area of interest is a gap.
		if _, err := raster.CheckTIFF(out, true); err != nil {
			return err
		}
		vrtLayers = append(vrtLayers, raster.StackLayer{Path: out, Description: layer.label()})
	}

	vrt := filepath.Join(tsDir, fmt.Sprintf("Timeseries.%s.%s.vrt", product, band))
	if err := raster.BuildStackVRT(vrt, vrtLayers, ts.DTypeOutput); err != nil {
		return err
	}
	if err := marker.WritePassed(mk); err != nil {
		return err
	}
	b.logger.Info("time series built",
		"unit", unitKey, "product", product, "band", band, "layers", len(layers))
	return nil
}

// ensureExtent loads the unit's extent file or derives it from the first
// available stack.
func (b *Builder) ensureExtent(unitDir, unitKey string, layers []*stackLayer) (*geojson.Geometry, error) {
	path := filepath.Join(unitDir, unitKey+".extent.json")
	if g, err := LoadExtent(path); err == nil {
		return g, nil
	}
	rasters := make([]*raster.Raster, len(layers))
	for i, l := range layers {
		rasters[i] = l.r
	}
	return BuildExtent(path, rasters)
}

func (b *Builder) compositeLSMask(unitDir, unitKey string) error {
	dims, err := filepath.Glob(filepath.Join(unitDir, "*", "*_LS.dim"))
	if err != nil || len(dims) == 0 {
		return err
	}
	sort.Strings(dims)

	var masks []*raster.Raster
	for _, dim := range dims {
		rs, err := dimapRasters(dim)
		if err != nil {
			return err
		}
		masks = append(masks, rs...)
	}
	out := filepath.Join(unitDir, unitKey+".ls_mask.tif")
	if err := BuildLSMask(out, masks); err != nil {
		return err
	}
	b.logger.Info("layover/shadow composite built", "unit", unitKey, "dates", len(dims))
	return nil
}

// dimapRasters reads every image band of a BEAM-DIMAP product.
func dimapRasters(dimPath string) ([]*raster.Raster, error) {
	dataDir := strings.TrimSuffix(dimPath, ".dim") + ".data"
	imgs, err := filepath.Glob(filepath.Join(dataDir, "*.img"))
	if err != nil {
		return nil, err
	}
	sort.Strings(imgs)

	rasters := make([]*raster.Raster, 0, len(imgs))
	for _, img := range imgs {
		r, err := raster.ReadENVI(img)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", img, err)
		}
		rasters = append(rasters, r)
	}
	return rasters, nil
}

// stackLayer is one dated band inside a stack's data directory. Coherence
// layers carry the master and slave date.
type stackLayer struct {
	dates []string
	r     *raster.Raster
}

func (l *stackLayer) label() string {
	return strings.Join(l.dates, ".")
}

// The tool names stack bands with dates in its own 02Jan2006 style; files
// produced elsewhere in the pipeline carry plain yyyymmdd dates.
var (
	snapDateRe  = regexp.MustCompile(`\d{2}[A-Z][a-z]{2}\d{4}`)
	plainDateRe = regexp.MustCompile(`\d{8}`)
)

func layerDates(name string) []string {
	var dates []string
	for _, m := range snapDateRe.FindAllString(name, -1) {
		if t, err := time.Parse("02Jan2006", m); err == nil {
			dates = append(dates, t.Format("20060102"))
		}
	}
	if len(dates) > 0 {
		return dates
	}
	return plainDateRe.FindAllString(name, -1)
}

func readStackLayers(dataDir string) ([]*stackLayer, error) {
	imgs, err := filepath.Glob(filepath.Join(dataDir, "*.img"))
	if err != nil {
		return nil, err
	}

	var layers []*stackLayer
	for _, img := range imgs {
		dates := layerDates(filepath.Base(img))
		if len(dates) == 0 {
			continue
		}
		r, err := raster.ReadENVI(img)
		if err != nil {
			return nil, fmt.Errorf("failed to read stack layer %s: %w", img, err)
		}
		layers = append(layers, &stackLayer{dates: dates, r: r})
	}
	return layers, nil
}

func sortLayers(layers []*stackLayer) {
	sort.Slice(layers, func(i, j int) bool {
		return layers[i].label() < layers[j].label()
	})
}
