// s1ard pipeline entry point.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rkm/s1ard/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "s1ard",
		Short: "Sentinel-1 analysis-ready data batch processing",
		Long: `s1ard turns archived Sentinel-1 scenes into analysis-ready data.

The pipeline runs in stages: search the archive into an inventory,
download the scene archives, process the scenes into per-date products,
aggregate them into time series, reduce the series to timescan metrics
and mosaic the spatial units. Every stage is resumable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")

	root.AddCommand(
		newSearchCmd(&configPath),
		newDownloadCmd(&configPath),
		newProcessCmd(&configPath),
		newTimeseriesCmd(&configPath),
		newTimescanCmd(&configPath),
		newMosaicCmd(&configPath),
		newStatusCmd(&configPath),
		newRunUnitCmd(&configPath),
	)
	return root
}

// setup loads the configuration and installs the logger every command
// starts from.
func setup(configPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// setupLogger writes to stderr so commands emitting results on stdout stay
// machine-readable.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
