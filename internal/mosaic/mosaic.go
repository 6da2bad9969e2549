// Package mosaic merges the per-unit temporal products of neighbouring
// spatial units into seamless layers. Layers are grouped by their position
// in the chronological stack; overlapping pixels keep the maximum value,
// which prefers valid backscatter over layover shadows and stale nodata.
package mosaic

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rkm/s1ard/internal/config"
	"github.com/rkm/s1ard/internal/marker"
	"github.com/rkm/s1ard/internal/raster"
	"github.com/rkm/s1ard/internal/timescan"
)

// Mosaicker merges unit products across the processing directory.
type Mosaicker struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New creates a Mosaicker.
func New(cfg *config.Config, logger *slog.Logger) *Mosaicker {
	return &Mosaicker{cfg: cfg, logger: logger}
}

var (
	tsLayerRe    = regexp.MustCompile(`^(\d{2})\.(\d{8})(?:\.(\d{8}))?\.([a-z]+)\.(\w+)\.tif$`)
	tscanLayerRe = regexp.MustCompile(`^\d{2}\.([a-z]+)\.(\w+)\.(\w+)\.tif$`)
)

// group is one mosaic output: the same stack position of the same product
// and band across all units.
type group struct {
	nn      string
	product string
	band    string
	dates   []string
	paths   []string
}

func (g *group) key() string {
	return g.nn + "." + g.product + "." + g.band
}

// name derives the output file name, re-deriving the date range from the
// contributing layers. A group covering a single date keeps the plain date.
func (g *group) name() string {
	dates := append([]string(nil), g.dates...)
	sort.Strings(dates)
	span := dates[0]
	if last := dates[len(dates)-1]; last != span {
		span = span + "-" + last
	}
	return fmt.Sprintf("%s.%s.%s.%s.tif", g.nn, span, g.product, g.band)
}

// Run builds the time series and timescan mosaics for every unit under the
// processing directory.
func (m *Mosaicker) Run() error {
	units, err := m.unitDirs()
	if err != nil {
		return err
	}
	if len(units) == 0 {
		m.logger.Info("no units to mosaic")
		return nil
	}

	if err := m.mosaicTimeseries(units); err != nil {
		return err
	}
	return m.mosaicTimescan(units)
}

func (m *Mosaicker) unitDirs() ([]string, error) {
	entries, err := os.ReadDir(m.cfg.ProcessingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan processing directory: %w", err)
	}
	var units []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "Mosaic" || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		units = append(units, filepath.Join(m.cfg.ProcessingDir, e.Name()))
	}
	sort.Strings(units)
	return units, nil
}

func (m *Mosaicker) mosaicTimeseries(units []string) error {
	outDir := filepath.Join(m.cfg.ProcessingDir, "Mosaic", "Timeseries")

	byKey := map[string]*group{}
	for _, unitDir := range units {
		entries, err := os.ReadDir(filepath.Join(unitDir, "Timeseries"))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for _, e := range entries {
			match := tsLayerRe.FindStringSubmatch(e.Name())
			if match == nil {
				continue
			}
			g := &group{nn: match[1], product: match[4], band: match[5]}
			if have, ok := byKey[g.key()]; ok {
				g = have
			} else {
				byKey[g.key()] = g
			}
			g.dates = append(g.dates, match[2])
			if match[3] != "" {
				g.dates = append(g.dates, match[3])
			}
			g.paths = append(g.paths, filepath.Join(unitDir, "Timeseries", e.Name()))
		}
	}
	if len(byKey) == 0 {
		return nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create mosaic directory: %w", err)
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	produced := map[string][]string{} // product.band -> mosaic paths in NN order
	for _, key := range keys {
		g := byKey[key]
		path, err := m.mosaicGroup(outDir, g)
		if err != nil {
			return err
		}
		if path != "" {
			pb := g.product + "." + g.band
			produced[pb] = append(produced[pb], path)
		}
	}

	for pb, paths := range produced {
		layers := make([]raster.StackLayer, len(paths))
		for i, p := range paths {
			layers[i] = raster.StackLayer{Path: p, Description: strings.TrimSuffix(filepath.Base(p), ".tif")}
		}
		vrt := filepath.Join(outDir, fmt.Sprintf("Timeseries.%s.vrt", pb))
		if err := raster.BuildStackVRT(vrt, layers, m.cfg.Processing.TimeSeries.DTypeOutput); err != nil {
			return err
		}
	}
	return nil
}

// mosaicGroup merges one group's contributors. Groups with a single
// contributor are skipped unless configured otherwise, since a one-sided
// mosaic would masquerade as merged coverage.
func (m *Mosaicker) mosaicGroup(outDir string, g *group) (string, error) {
	name := g.name()
	out := filepath.Join(outDir, name)
	mk := marker.NamedPath(outDir, strings.TrimSuffix(name, ".tif"))
	if marker.Done(mk) {
		return out, nil
	}

	if len(g.paths) < 2 && !m.cfg.CopySingleContributor {
		m.logger.Info("skipping mosaic with a single contributor",
			"layer", name, "contributor", g.paths[0])
		return "", nil
	}

	var rasters []*raster.Raster
	dtype := "float32"
	for i, path := range g.paths {
		r, dt, err := raster.ReadTIFF(path)
		if err != nil {
			return "", err
		}
		if i == 0 {
			dtype = dt
		} else if dt != dtype {
			return "", fmt.Errorf("mosaic %s mixes data types %s and %s", name, dtype, dt)
		}
		rasters = append(rasters, r)
	}

	merged, err := raster.MergeMax(rasters)
	if err != nil {
		return "", fmt.Errorf("failed to merge %s: %w", name, err)
	}
	if dtype != "float32" {
		// NaN from uncovered pixels cannot ride in integer rasters.
		for i, v := range merged.Data {
			if v != v {
				merged.Data[i] = 0
			}
		}
		merged.NoData = 0
	}
	if err := raster.WriteTIFF(out, merged, dtype); err != nil {
		return "", err
	}
	if err := marker.WritePassed(mk); err != nil {
		return "", err
	}
	m.logger.Info("mosaic layer built", "layer", name, "contributors", len(g.paths))
	return out, nil
}

func (m *Mosaicker) mosaicTimescan(units []string) error {
	outDir := filepath.Join(m.cfg.ProcessingDir, "Mosaic", "Timescan")

	byKey := map[string]*group{}
	for _, unitDir := range units {
		entries, err := os.ReadDir(filepath.Join(unitDir, "Timescan"))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for _, e := range entries {
			match := tscanLayerRe.FindStringSubmatch(e.Name())
			if match == nil {
				continue
			}
			key := match[1] + "." + match[2] + "." + match[3]
			g, ok := byKey[key]
			if !ok {
				g = &group{product: match[1], band: match[2]}
				byKey[key] = g
			}
			g.paths = append(g.paths, filepath.Join(unitDir, "Timescan", e.Name()))
		}
	}
	if len(byKey) == 0 {
		return nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create mosaic directory: %w", err)
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	metrics := timescan.ExpandMetrics(m.cfg.Processing.TimeScan.Metrics)
	for _, key := range keys {
		g := byKey[key]
		mk := marker.NamedPath(outDir, key)
		if marker.Done(mk) {
			continue
		}
		if len(g.paths) < 2 && !m.cfg.CopySingleContributor {
			m.logger.Info("skipping mosaic with a single contributor", "layer", key)
			continue
		}

		var rasters []*raster.Raster
		for _, path := range g.paths {
			r, _, err := raster.ReadTIFF(path)
			if err != nil {
				return err
			}
			rasters = append(rasters, r)
		}
		merged, err := raster.MergeMax(rasters)
		if err != nil {
			return fmt.Errorf("failed to merge %s: %w", key, err)
		}
		if err := raster.WriteTIFF(filepath.Join(outDir, key+".tif"), merged, "float32"); err != nil {
			return err
		}
		if err := marker.WritePassed(mk); err != nil {
			return err
		}
		m.logger.Info("timescan mosaic built", "layer", key, "contributors", len(g.paths))
	}

	return timescan.ShuffleVRT(outDir, metrics)
}
