// Package snap drives the external SNAP graph processing tool (gpt). Every
// processing step of the pipeline is a gpt invocation of either a named
// operator or a workflow graph; the wrappers in this package build the
// command lines and the runner executes them with output capture and retry.
package snap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// ExternalToolError reports a failed gpt invocation. The tool's stdout and
// stderr are in the logfile, not in the error.
type ExternalToolError struct {
	Stage    string
	ExitCode int
	Logfile  string
}

func (e *ExternalToolError) Error() string {
	return fmt.Sprintf("%s exited with code %d, see %s for tool output",
		e.Stage, e.ExitCode, e.Logfile)
}

// RetryPolicy controls transient-failure retries of gpt invocations. SNAP
// occasionally fails on DEM download hiccups and recovers on a plain rerun.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetry matches the historical behaviour of the pipeline.
var DefaultRetry = RetryPolicy{Attempts: 3, Delay: time.Second}

// Runner executes a gpt command line, writing tool output to logfile.
type Runner interface {
	Run(ctx context.Context, stage string, args []string, logfile string) error
}

// ExecRunner runs gpt as a subprocess.
type ExecRunner struct {
	gptPath string
	retry   RetryPolicy
	log     *slog.Logger
}

// NewExecRunner returns a Runner invoking the gpt binary at gptPath.
func NewExecRunner(gptPath string, log *slog.Logger) *ExecRunner {
	return &ExecRunner{gptPath: gptPath, retry: DefaultRetry, log: log}
}

// WithRetry overrides the retry policy.
func (r *ExecRunner) WithRetry(p RetryPolicy) *ExecRunner {
	r.retry = p
	return r
}

// Run executes gpt with args, retrying per the configured policy. The
// logfile is truncated on every attempt so it only holds the last run.
func (r *ExecRunner) Run(ctx context.Context, stage string, args []string, logfile string) error {
	var lastErr error

	for attempt := 1; attempt <= r.retry.Attempts; attempt++ {
		if attempt > 1 {
			r.log.Warn("retrying external tool",
				"stage", stage, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.retry.Delay):
			}
		}

		lastErr = r.runOnce(ctx, stage, args, logfile)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
	}
	return lastErr
}

func (r *ExecRunner) runOnce(ctx context.Context, stage string, args []string, logfile string) error {
	if err := os.MkdirAll(filepath.Dir(logfile), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	out, err := os.Create(logfile)
	if err != nil {
		return fmt.Errorf("failed to create logfile %s: %w", logfile, err)
	}
	defer out.Close()

	r.log.Debug("running external tool", "stage", stage, "command", r.gptPath, "args", args)

	cmd := exec.CommandContext(ctx, r.gptPath, args...)
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExternalToolError{
				Stage:    stage,
				ExitCode: exitErr.ExitCode(),
				Logfile:  logfile,
			}
		}
		return fmt.Errorf("%s failed to start: %w", stage, err)
	}
	return nil
}
