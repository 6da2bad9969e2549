package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rkm/s1ard/internal/catalog"
	"github.com/rkm/s1ard/internal/config"
)

// inventoryPath resolves the inventory file location: an explicit flag wins,
// otherwise the inventory lives next to the products.
func inventoryPath(cfg *config.Config, flag string) string {
	if flag != "" {
		return flag
	}
	return filepath.Join(cfg.ProcessingDir, "inventory.json")
}

func catalogTimeout(cfg *config.Config) time.Duration {
	if d, err := time.ParseDuration(cfg.Catalog.Timeout); err == nil {
		return d
	}
	return 30 * time.Second
}

func newSearchCmd(configPath *string) *cobra.Command {
	var (
		product      string
		aoi          string
		start        string
		end          string
		tracks       []int
		direction    string
		polarisation []string
		maxResults   int
		out          string
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search the scene archive and write the inventory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			params := catalog.SearchParams{
				ProductType:     product,
				BeamMode:        "IW",
				Polarisation:    polarisation,
				AOI:             aoi,
				RelativeOrbit:   tracks,
				FlightDirection: direction,
				MaxResults:      maxResults,
			}
			if params.AOI == "" {
				params.AOI = cfg.Subset
			}
			if start != "" {
				t, err := time.Parse("2006-01-02", start)
				if err != nil {
					return fmt.Errorf("invalid start date %q: %w", start, err)
				}
				params.Start = &t
			}
			if end != "" {
				t, err := time.Parse("2006-01-02", end)
				if err != nil {
					return fmt.Errorf("invalid end date %q: %w", end, err)
				}
				params.End = &t
			}

			client := catalog.NewClient(cfg.Catalog.BaseURL, catalogTimeout(cfg)).WithLogger(logger)
			granules, err := client.Search(ctx, params)
			if err != nil {
				return err
			}

			inv, err := catalog.NewInventory(granules)
			if err != nil {
				return err
			}
			path := inventoryPath(cfg, out)
			if err := inv.Save(path); err != nil {
				return err
			}
			logger.Info("inventory written", "scenes", len(inv.Features), "path", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&product, "product", "GRD", "product type to search for (GRD or SLC)")
	cmd.Flags().StringVar(&aoi, "aoi", "", "area of interest as WKT polygon (defaults to the configured subset)")
	cmd.Flags().StringVar(&start, "start", "", "earliest acquisition date (yyyy-mm-dd)")
	cmd.Flags().StringVar(&end, "end", "", "latest acquisition date (yyyy-mm-dd)")
	cmd.Flags().IntSliceVar(&tracks, "track", nil, "restrict to these relative orbits")
	cmd.Flags().StringVar(&direction, "direction", "", "flight direction (ASCENDING or DESCENDING)")
	cmd.Flags().StringSliceVar(&polarisation, "polarisation", nil, "restrict to these polarisation combinations")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "cap the number of scenes returned")
	cmd.Flags().StringVarP(&out, "out", "o", "", "inventory output path")
	return cmd
}
