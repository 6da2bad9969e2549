// Package ard turns downloaded Sentinel-1 scenes into analysis-ready data.
// A chain is one sequence of external tool invocations per work unit, with a
// marker file written at the end so an interrupted batch resumes where it
// stopped. GRD scenes run the backscatter chain; SLC bursts run per-family
// sub-chains for backscatter, coherence and polarimetry.
package ard

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rkm/s1ard/internal/config"
	"github.com/rkm/s1ard/internal/executor"
	"github.com/rkm/s1ard/internal/scene"
	"github.com/rkm/s1ard/internal/snap"
	"github.com/rkm/s1ard/internal/unit"
)

// Chain drives the scene-to-ARD processing for work units.
type Chain struct {
	cfg    *config.Config
	tk     *snap.Toolkit
	logger *slog.Logger
}

// New creates a chain bound to a toolkit.
func New(cfg *config.Config, tk *snap.Toolkit, logger *slog.Logger) *Chain {
	return &Chain{cfg: cfg, tk: tk, logger: logger}
}

// Process runs the full chain for one work unit. The scene product type
// selects the chain variant. Failures end up in the result's error field;
// they never panic and never abort the surrounding batch.
func (c *Chain) Process(ctx context.Context, u unit.WorkUnit) executor.Result {
	res := executor.Result{Key: u.Key, Date: u.Date}

	if len(u.Scenes) == 0 {
		res.Err = "work unit has no scenes"
		return res
	}
	first, err := scene.Parse(u.Scenes[0])
	if err != nil {
		res.Err = err.Error()
		return res
	}

	switch first.ProductType {
	case "GRD":
		err = c.processGRD(ctx, u, &res)
	case "SLC":
		err = c.processSLC(ctx, u, &res)
	default:
		err = fmt.Errorf("unsupported product type %q", first.ProductType)
	}
	if err != nil {
		res.Err = err.Error()
	}
	return res
}

// scratchDir creates the per-unit scratch directory under the configured
// temp dir.
func (c *Chain) scratchDir(prefix string) (string, error) {
	dir, err := os.MkdirTemp(c.cfg.TempDir, prefix+"-")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return dir, nil
}

func (c *Chain) errLog(outDir, step string) string {
	return filepath.Join(outDir, step+".err_log")
}

func dimExists(base string) bool {
	_, err := os.Stat(base + ".dim")
	return err == nil
}
