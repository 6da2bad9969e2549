package timescan

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/rkm/s1ard/internal/config"
	"github.com/rkm/s1ard/internal/marker"
	"github.com/rkm/s1ard/internal/raster"
	"github.com/rkm/s1ard/internal/timeseries"
)

// Builder reduces the time series of spatial units to timescan metrics. The
// reduction is pure pixel math, no external tool runs here.
type Builder struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New creates a Builder.
func New(cfg *config.Config, logger *slog.Logger) *Builder {
	return &Builder{cfg: cfg, logger: logger}
}

// Numbered time series layers: NN.date[.slavedate].product.band.tif.
var seriesNameRe = regexp.MustCompile(`^\d{2}\.(\d{8})(?:\.\d{8})?\.([a-z]+)\.(\w+)\.tif$`)

// Finished metric files before the VRT shuffle: product.band.metric.tif.
var metricNameRe = regexp.MustCompile(`^([a-z]+)\.(\w+)\.(\w+)\.tif$`)

type seriesLayer struct {
	path string
	date time.Time
}

type seriesGroup struct {
	product string
	band    string
	layers  []seriesLayer
}

// ProcessUnit reduces every time series found under the unit's Timeseries
// directory and publishes the metrics under Timescan.
func (b *Builder) ProcessUnit(unitKey string) error {
	unitDir := filepath.Join(b.cfg.ProcessingDir, unitKey)
	tsDir := filepath.Join(unitDir, "Timeseries")
	tscanDir := filepath.Join(unitDir, "Timescan")

	groups, err := collectSeries(tsDir)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		b.logger.Info("no time series to reduce", "unit", unitKey)
		return nil
	}
	if err := os.MkdirAll(tscanDir, 0o755); err != nil {
		return fmt.Errorf("failed to create timescan directory: %w", err)
	}

	metrics := ExpandMetrics(b.cfg.Processing.TimeScan.Metrics)
	for _, g := range groups {
		mk := marker.NamedPath(tscanDir, g.product+"."+g.band)
		if marker.Done(mk) {
			b.logger.Info("timescan already built",
				"unit", unitKey, "product", g.product, "band", g.band)
			continue
		}
		if err := b.reduceGroup(tscanDir, g, metrics); err != nil {
			return fmt.Errorf("timescan %s %s of unit %s: %w", g.product, g.band, unitKey, err)
		}
		if err := marker.WritePassed(mk); err != nil {
			return err
		}
		b.logger.Info("timescan built",
			"unit", unitKey, "product", g.product, "band", g.band, "metrics", len(metrics))
	}

	return ShuffleVRT(tscanDir, metrics)
}

func collectSeries(tsDir string) ([]*seriesGroup, error) {
	entries, err := os.ReadDir(tsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan %s: %w", tsDir, err)
	}

	byKey := map[string]*seriesGroup{}
	for _, e := range entries {
		m := seriesNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		date, err := time.Parse("20060102", m[1])
		if err != nil {
			continue
		}
		key := m[2] + "." + m[3]
		g, ok := byKey[key]
		if !ok {
			g = &seriesGroup{product: m[2], band: m[3]}
			byKey[key] = g
		}
		g.layers = append(g.layers, seriesLayer{
			path: filepath.Join(tsDir, e.Name()),
			date: date,
		})
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	groups := make([]*seriesGroup, 0, len(keys))
	for _, key := range keys {
		g := byKey[key]
		sort.Slice(g.layers, func(i, j int) bool {
			return g.layers[i].date.Before(g.layers[j].date)
		})
		groups = append(groups, g)
	}
	return groups, nil
}

// reduceGroup loads one series into memory and writes every requested metric
// image.
func (b *Builder) reduceGroup(tscanDir string, g *seriesGroup, metrics []string) error {
	stack := make([]*raster.Raster, 0, len(g.layers))
	days := make([]float64, 0, len(g.layers))
	for _, layer := range g.layers {
		r, dtype, err := raster.ReadTIFF(layer.path)
		if err != nil {
			return err
		}
		if dtype != "float32" {
			rng, ok := timeseries.StretchRanges[g.product]
			if !ok {
				return fmt.Errorf("no value range to unstretch %s data", g.product)
			}
			if err := raster.UnscaleFromInt(r.Data, rng[0], rng[1], dtype); err != nil {
				return err
			}
		}
		stack = append(stack, r)
		days = append(days, layer.date.Sub(g.layers[0].date).Hours()/24)
	}

	opts := Options{
		RemoveOutliers: b.cfg.Processing.TimeScan.RemoveOutliers,
		ToPower: g.product == "bs" &&
			(b.cfg.Processing.SingleARD.ToDB || b.cfg.Processing.TimeSeries.ToDB),
	}

	for _, metric := range metrics {
		out, err := Reduce(metric, stack, days, opts)
		if err != nil {
			return err
		}
		path := filepath.Join(tscanDir, fmt.Sprintf("%s.%s.%s.tif", g.product, g.band, metric))
		if err := raster.WriteTIFF(path, out, "float32"); err != nil {
			return err
		}
	}
	return nil
}

var productOrder = map[string]int{"bs": 0, "coh": 1, "pol": 2}

// ShuffleVRT renames the finished metric files of a timescan directory into
// a stable numbered order and stacks them as its Timescan.vrt. Both the
// per-unit timescans and the timescan mosaics go through this.
func ShuffleVRT(tscanDir string, metrics []string) error {
	metricOrder := map[string]int{}
	for i, m := range metrics {
		metricOrder[m] = i
	}

	entries, err := os.ReadDir(tscanDir)
	if err != nil {
		return err
	}

	type metricFile struct {
		name    string
		product string
		band    string
		metric  string
	}
	var files []metricFile
	for _, e := range entries {
		m := metricNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		files = append(files, metricFile{name: e.Name(), product: m[1], band: m[2], metric: m[3]})
	}

	var layers []raster.StackLayer
	if len(files) > 0 {
		sort.Slice(files, func(i, j int) bool {
			a, c := files[i], files[j]
			if a.product != c.product {
				return productOrder[a.product] < productOrder[c.product]
			}
			if a.band != c.band {
				return a.band < c.band
			}
			return metricOrder[a.metric] < metricOrder[c.metric]
		})
		for i, f := range files {
			numbered := fmt.Sprintf("%02d.%s", i+1, f.name)
			if err := os.Rename(filepath.Join(tscanDir, f.name),
				filepath.Join(tscanDir, numbered)); err != nil {
				return err
			}
			layers = append(layers, raster.StackLayer{
				Path:        filepath.Join(tscanDir, numbered),
				Description: f.product + "." + f.band + "." + f.metric,
			})
		}
	} else {
		// Rerun after the shuffle: the numbered files already exist.
		numbered, err := filepath.Glob(filepath.Join(tscanDir, "[0-9][0-9].*.tif"))
		if err != nil || len(numbered) == 0 {
			return err
		}
		sort.Strings(numbered)
		for _, path := range numbered {
			layers = append(layers, raster.StackLayer{Path: path})
		}
	}

	return raster.BuildStackVRT(filepath.Join(tscanDir, "Timescan.vrt"), layers, "float32")
}
