package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rkm/s1ard/internal/ard"
	"github.com/rkm/s1ard/internal/executor"
	"github.com/rkm/s1ard/internal/snap"
)

// run-unit is the subprocess side of the process executor: one work unit
// comes in as JSON on stdin, the result leaves as JSON on stdout.
func newRunUnitCmd(configPath *string) *cobra.Command {
	var threads int

	cmd := &cobra.Command{
		Use:    "run-unit",
		Hidden: true,
		Short:  "Process a single work unit read from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			u, err := executor.ReadUnit(os.Stdin)
			if err != nil {
				return err
			}

			tk := snap.NewToolkit(snap.NewExecRunner(cfg.GPTPath, logger), cfg.GraphDir, threads)
			res := ard.New(cfg, tk, logger).Process(ctx, u)
			return executor.WriteResult(os.Stdout, res)
		},
	}

	cmd.Flags().IntVar(&threads, "threads", 1, "inner tool thread budget")
	return cmd
}
