package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rkm/s1ard/internal/catalog"
	"github.com/rkm/s1ard/internal/download"
	"github.com/rkm/s1ard/internal/scene"
)

func newDownloadCmd(configPath *string) *cobra.Command {
	var inventory string

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Fetch the scene archives of an inventory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			if cfg.DownloadDir == "" {
				return fmt.Errorf("download_dir is not configured")
			}
			ctx, stop := signalContext()
			defer stop()

			inv, err := catalog.LoadInventory(inventoryPath(cfg, inventory))
			if err != nil {
				return err
			}

			d, err := download.New(cfg.Download.Username, cfg.Download.Password,
				cfg.Download.Concurrency, cfg.Download.MaxRetries)
			if err != nil {
				return err
			}
			d = d.WithLogger(logger)

			var tasks []download.Task
			for _, item := range inv.Features {
				s, err := scene.Parse(item.Id)
				if err != nil {
					return fmt.Errorf("inventory holds unparsable scene: %w", err)
				}
				asset := item.Assets["archive"]
				if asset == nil || asset.Href == "" {
					logger.Warn("scene has no archive asset, skipping", "scene", item.Id)
					continue
				}
				md5sum, _ := item.Properties["asf:md5sum"].(string)
				tasks = append(tasks, download.Task{
					Scene:  item.Id,
					URL:    asset.Href,
					Path:   download.ScenePath(cfg.DownloadDir, s),
					MD5Sum: md5sum,
				})
			}

			if err := d.Batch(ctx, tasks); err != nil {
				return err
			}
			logger.Info("downloads complete", "scenes", len(tasks))
			return nil
		},
	}

	cmd.Flags().StringVarP(&inventory, "inventory", "i", "", "inventory file to download from")
	return cmd
}
