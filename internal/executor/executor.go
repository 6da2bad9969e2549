// Package executor dispatches work units onto a bounded pool of workers.
// Three substrates are supported: serial in-process execution, an
// in-process goroutine pool, and a process pool that re-executes the own
// binary once per unit so the external tool's native-memory use is isolated
// per unit.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/rkm/s1ard/internal/unit"
)

// Kind selects the execution substrate.
type Kind string

const (
	Serial    Kind = "serial"
	Threads   Kind = "threads"
	Processes Kind = "processes"
)

// ParseKind validates an executor name from configuration.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Serial, Threads, Processes:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown executor kind %q", s)
	}
}

// Result is the outcome of one work unit. Paths are empty for product
// families the unit did not produce; Err carries the failure message of an
// unrecoverable unit, which does not abort the batch.
type Result struct {
	Key          string `json:"key"`
	Date         string `json:"date"`
	Backscatter  string `json:"backscatter,omitempty"`
	Layover      string `json:"layover,omitempty"`
	Coherence    string `json:"coherence,omitempty"`
	Polarimetric string `json:"polarimetric,omitempty"`
	Err          string `json:"error,omitempty"`
}

// Failed reports whether the unit ended in an error.
func (r *Result) Failed() bool {
	return r.Err != ""
}

// RunFunc processes one work unit with the given inner tool-thread budget.
type RunFunc func(ctx context.Context, u unit.WorkUnit, innerThreads int) Result

// Pool runs work units on the selected substrate.
type Pool struct {
	kind   Kind
	budget Budget
	logger *slog.Logger

	// subcommand invoked on the own binary by the process substrate.
	processArgs []string
}

// NewPool creates a pool with a precomputed budget.
func NewPool(kind Kind, budget Budget, logger *slog.Logger) *Pool {
	return &Pool{
		kind:        kind,
		budget:      budget,
		logger:      logger,
		processArgs: []string{"run-unit"},
	}
}

// WithProcessArgs sets the arguments the process substrate passes to the own
// binary ahead of the thread budget. The caller must include everything the
// child needs to come up identical to the parent, the configuration path in
// particular.
func (p *Pool) WithProcessArgs(args ...string) *Pool {
	p.processArgs = args
	return p
}

// Budget returns the pool's CPU split.
func (p *Pool) Budget() Budget {
	return p.budget
}

// Run dispatches every unit and collects the results in input order. Unit
// failures are recorded in their Result, not returned; only a cancelled
// context aborts the batch.
func (p *Pool) Run(ctx context.Context, units []unit.WorkUnit, fn RunFunc) ([]Result, error) {
	results := make([]Result, len(units))

	runOne := func(ctx context.Context, i int) {
		u := units[i]
		var res Result
		if p.kind == Processes {
			res = p.runSubprocess(ctx, u)
		} else {
			res = fn(ctx, u, p.budget.Inner)
		}
		if res.Key == "" {
			res.Key, res.Date = u.Key, u.Date
		}
		if res.Failed() {
			p.logger.Error("work unit failed",
				"unit", u.Key, "date", u.Date, "error", res.Err)
		}
		results[i] = res
	}

	switch p.kind {
	case Serial:
		for i := range units {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			runOne(ctx, i)
		}
	default:
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.budget.Outer)
		for i := range units {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				runOne(gctx, i)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return results, err
		}
	}
	return results, nil
}

// runSubprocess executes one unit in a fresh copy of the own binary. The
// unit goes in as JSON on stdin, the result comes back as JSON on stdout.
func (p *Pool) runSubprocess(ctx context.Context, u unit.WorkUnit) Result {
	fail := func(format string, args ...any) Result {
		return Result{Key: u.Key, Date: u.Date, Err: fmt.Sprintf(format, args...)}
	}

	exe, err := os.Executable()
	if err != nil {
		return fail("cannot locate own binary: %v", err)
	}

	payload, err := json.Marshal(u)
	if err != nil {
		return fail("cannot encode unit: %v", err)
	}

	args := append([]string{}, p.processArgs...)
	args = append(args, "--threads", strconv.Itoa(p.budget.Inner))

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fail("unit subprocess failed: %v", err)
	}

	var res Result
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return fail("cannot decode unit result: %v", err)
	}
	return res
}

// ReadUnit decodes a work unit from an input stream, the subprocess side of
// the process substrate.
func ReadUnit(r *os.File) (unit.WorkUnit, error) {
	var u unit.WorkUnit
	if err := json.NewDecoder(r).Decode(&u); err != nil {
		return u, fmt.Errorf("failed to decode work unit: %w", err)
	}
	return u, nil
}

// WriteResult encodes a result to an output stream, the subprocess side of
// the process substrate.
func WriteResult(w *os.File, res Result) error {
	if err := json.NewEncoder(w).Encode(res); err != nil {
		return fmt.Errorf("failed to encode unit result: %w", err)
	}
	return nil
}
