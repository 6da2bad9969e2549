package main

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rkm/s1ard/internal/config"
	"github.com/rkm/s1ard/internal/mosaic"
	"github.com/rkm/s1ard/internal/snap"
	"github.com/rkm/s1ard/internal/timescan"
	"github.com/rkm/s1ard/internal/timeseries"
)

// unitKeys lists the spatial unit directories under the processing dir.
func unitKeys(cfg *config.Config) ([]string, error) {
	entries, err := os.ReadDir(cfg.ProcessingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan processing directory: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "Mosaic" || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		keys = append(keys, e.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

func newTimeseriesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "timeseries",
		Short: "Aggregate per-date products into time series",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			keys, err := unitKeys(cfg)
			if err != nil {
				return err
			}

			// Stacking runs one unit at a time, so the tool gets every core.
			tk := snap.NewToolkit(snap.NewExecRunner(cfg.GPTPath, logger), cfg.GraphDir, runtime.NumCPU())
			b := timeseries.New(cfg, tk, logger)
			for _, key := range keys {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := b.ProcessUnit(ctx, key); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newTimescanCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "timescan",
		Short: "Reduce time series to temporal statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			keys, err := unitKeys(cfg)
			if err != nil {
				return err
			}

			b := timescan.New(cfg, logger)
			for _, key := range keys {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := b.ProcessUnit(key); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newMosaicCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mosaic",
		Short: "Merge the unit products into seamless mosaics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			return mosaic.New(cfg, logger).Run()
		},
	}
}
