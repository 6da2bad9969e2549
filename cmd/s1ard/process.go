package main

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rkm/s1ard/internal/ard"
	"github.com/rkm/s1ard/internal/catalog"
	"github.com/rkm/s1ard/internal/executor"
	"github.com/rkm/s1ard/internal/marker"
	"github.com/rkm/s1ard/internal/snap"
	"github.com/rkm/s1ard/internal/unit"
)

func newProcessCmd(configPath *string) *cobra.Command {
	var inventory string

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process the inventory scenes into per-date products",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			inv, err := catalog.LoadInventory(inventoryPath(cfg, inventory))
			if err != nil {
				return err
			}
			units, err := unit.Enumerate(inv, cfg.ProcessingDir)
			if err != nil {
				return err
			}
			if len(units) == 0 {
				logger.Info("nothing to process")
				return nil
			}

			kind, err := executor.ParseKind(cfg.Executor)
			if err != nil {
				return err
			}
			budget := executor.ComputeBudget(cfg.MaxOuterWorkers, runtime.NumCPU(), len(units))
			if cfg.GPTMaxWorkers > 0 {
				budget.Inner = cfg.GPTMaxWorkers
			}

			manifest, err := marker.OpenManifest(cfg.ProcessingDir)
			if err != nil {
				return err
			}
			defer manifest.Close()

			logger = logger.With("run", uuid.NewString())
			logger.Info("starting batch",
				"units", len(units), "executor", cfg.Executor,
				"outer_workers", budget.Outer, "inner_threads", budget.Inner)

			tk := snap.NewToolkit(snap.NewExecRunner(cfg.GPTPath, logger), cfg.GraphDir, budget.Inner)
			chain := ard.New(cfg, tk, logger)
			pool := executor.NewPool(kind, budget, logger).
				WithProcessArgs(processPoolArgs(*configPath)...)

			results, err := pool.Run(ctx, units,
				func(ctx context.Context, u unit.WorkUnit, _ int) executor.Result {
					return chain.Process(ctx, u)
				})
			if err != nil {
				return err
			}
			return recordResults(manifest, logger, results)
		},
	}

	cmd.Flags().StringVarP(&inventory, "inventory", "i", "", "inventory file to process")
	return cmd
}

// processPoolArgs builds the run-unit invocation for the process substrate.
// The child re-reads the configuration, so the parent's config path has to
// travel along.
func processPoolArgs(configPath string) []string {
	if configPath == "" {
		return []string{"run-unit"}
	}
	return []string{"--config", configPath, "run-unit"}
}

// recordResults writes the batch outcome into the manifest, one entry per
// produced product family. A unit that finished without products was empty
// over the area of interest.
func recordResults(manifest *marker.Manifest, logger *slog.Logger, results []executor.Result) error {
	var passed, empty, failed int
	for _, res := range results {
		if res.Failed() {
			failed++
			if err := manifest.Record(res.Key, res.Date, marker.Backscatter,
				marker.Entry{Status: marker.StatusFailed}); err != nil {
				return err
			}
			continue
		}

		families := []struct {
			family marker.Family
			path   string
		}{
			{marker.Backscatter, res.Backscatter},
			{marker.Layover, res.Layover},
			{marker.Coherence, res.Coherence},
			{marker.Polarimetric, res.Polarimetric},
		}
		produced := false
		for _, f := range families {
			if f.path == "" {
				continue
			}
			produced = true
			if err := manifest.Record(res.Key, res.Date, f.family,
				marker.Entry{Status: marker.StatusPassed, Artifact: f.path}); err != nil {
				return err
			}
		}
		if produced {
			passed++
			continue
		}
		empty++
		if err := manifest.Record(res.Key, res.Date, marker.Backscatter,
			marker.Entry{Status: marker.StatusEmpty}); err != nil {
			return err
		}
	}

	logger.Info("batch finished", "passed", passed, "empty", empty, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d work units failed", failed, len(results))
	}
	return nil
}
