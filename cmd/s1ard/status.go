package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rkm/s1ard/internal/marker"
	"github.com/rkm/s1ard/internal/status"
)

func newStatusCmd(configPath *string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Serve batch progress over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.Status.Listen
			}

			manifest, err := marker.OpenManifest(cfg.ProcessingDir)
			if err != nil {
				return err
			}
			defer manifest.Close()

			server := &http.Server{
				Addr:         listen,
				Handler:      status.New(manifest, logger).Handler(),
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  120 * time.Second,
			}

			serverErr := make(chan error, 1)
			go func() {
				logger.Info("status server listening", "addr", server.Addr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					serverErr <- err
				}
			}()

			ctx, stop := signalContext()
			defer stop()

			select {
			case err := <-serverErr:
				return fmt.Errorf("server error: %w", err)
			case <-ctx.Done():
				logger.Info("shutting down status server")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown error: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (defaults to the configured one)")
	return cmd
}
