package snap

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkm/s1ard/internal/config"
)

// fakeRunner records invocations instead of executing gpt.
type fakeRunner struct {
	stages []string
	args   [][]string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, stage string, args []string, _ string) error {
	f.stages = append(f.stages, stage)
	f.args = append(f.args, args)
	return f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCalibrateCommand(t *testing.T) {
	fake := &fakeRunner{}
	tk := NewToolkit(fake, "graphs", 4)

	require.NoError(t, tk.Calibrate(context.Background(), "in.dim", "out", "log", "gamma0"))

	require.Len(t, fake.args, 1)
	args := fake.args[0]
	assert.Equal(t, "Calibration", args[0])
	assert.Contains(t, args, "-q")
	assert.Contains(t, args, "8", "tile cache threads are twice the worker count")
	assert.Contains(t, args, "-PoutputGammaBand=true")
	assert.Contains(t, args, "-PoutputBetaBand=false")
	assert.Contains(t, args, "-PoutputSigmaBand=false")
	assert.Equal(t, "in.dim", args[len(args)-1])
}

func TestMultiLookCommand(t *testing.T) {
	fake := &fakeRunner{}
	tk := NewToolkit(fake, "graphs", 2)

	require.NoError(t, tk.MultiLook(context.Background(), "in.dim", "out", "log", 2, 2))

	args := fake.args[0]
	assert.Equal(t, "Multilook", args[0])
	assert.Contains(t, args, "-PnAzLooks=2")
	assert.Contains(t, args, "-PnRgLooks=2")
}

func TestLSMaskCommand(t *testing.T) {
	fake := &fakeRunner{}
	tk := NewToolkit(fake, "graphs", 2)

	dem := config.DEMParams{Name: "SRTM 1Sec HGT", Resampling: "BILINEAR_INTERPOLATION"}
	require.NoError(t, tk.LSMask(context.Background(), "in.dim", "out", "log", 20, dem))

	args := fake.args[0]
	assert.Equal(t, filepath.Join("graphs", "S1_GRD2ARD", "3_LSmap.xml"), args[0])
	assert.Contains(t, args, "-Presol=40", "mask runs at twice the target resolution")
	assert.Contains(t, args, "-Pimage_resampling=NEAREST_NEIGHBOUR")
}

func TestCoherenceCommand(t *testing.T) {
	fake := &fakeRunner{}
	tk := NewToolkit(fake, "graphs", 2)

	require.NoError(t, tk.Coherence(context.Background(), "stack.dim", "out", "log", 3, 10, "VV VH"))

	args := fake.args[0]
	assert.Contains(t, args, "-Pazimuth_window=3")
	assert.Contains(t, args, "-Prange_window=10")
	assert.Contains(t, args, "-Ppolar=VVVH")
}

func TestSLCCalibrateGraphSelection(t *testing.T) {
	tests := []struct {
		productType string
		graph       string
	}{
		{"RTC-gamma0", "S1_SLC_TNR_CalBeta_Deb_ML_TF_Sub.xml"},
		{"GTC-gamma0", "S1_SLC_TNR_CalGamma_Deb_ML_Sub.xml"},
		{"GTC-sigma0", "S1_SLC_TNR_CalSigma_Deb_ML_Sub.xml"},
	}

	for _, tt := range tests {
		t.Run(tt.productType, func(t *testing.T) {
			fake := &fakeRunner{}
			tk := NewToolkit(fake, "graphs", 1)
			ard := &config.SingleARD{ProductType: tt.productType, Resolution: 20}

			require.NoError(t, tk.SLCCalibrate(context.Background(), "in", "out", "log", ard))
			assert.Contains(t, fake.args[0][0], tt.graph)
		})
	}

	fake := &fakeRunner{}
	tk := NewToolkit(fake, "graphs", 1)
	err := tk.SLCCalibrate(context.Background(), "in", "out", "log",
		&config.SingleARD{ProductType: "bogus", Resolution: 20})
	assert.Error(t, err)
	assert.Empty(t, fake.args)
}

func TestCreateStackPatternVsPol(t *testing.T) {
	fake := &fakeRunner{}
	tk := NewToolkit(fake, "graphs", 1)

	require.NoError(t, tk.CreateStack(context.Background(),
		[]string{"a.dim", "b.dim"}, "stack", "log", "VV", ""))
	require.NoError(t, tk.CreateStack(context.Background(),
		[]string{"a.dim", "b.dim"}, "stack", "log", "", "Alpha"))

	assert.Contains(t, fake.args[0], "-Pfilelist=a.dim,b.dim")
	assert.Contains(t, fake.args[0], "-Ppol=VV")
	assert.Contains(t, fake.args[1], "-PbandPattern=Alpha.*")
}

func TestExecRunnerRetryExhaustion(t *testing.T) {
	runner := NewExecRunner("false", testLogger()).
		WithRetry(RetryPolicy{Attempts: 3, Delay: time.Millisecond})
	logfile := filepath.Join(t.TempDir(), "gpt.log")

	err := runner.Run(context.Background(), "calibration", nil, logfile)
	require.Error(t, err)

	var toolErr *ExternalToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, "calibration", toolErr.Stage)
	assert.Equal(t, 1, toolErr.ExitCode)
	assert.Equal(t, logfile, toolErr.Logfile)
}

func TestExecRunnerSuccess(t *testing.T) {
	runner := NewExecRunner("true", testLogger())
	logfile := filepath.Join(t.TempDir(), "gpt.log")

	require.NoError(t, runner.Run(context.Background(), "noop", nil, logfile))
	_, err := os.Stat(logfile)
	assert.NoError(t, err, "logfile is created even for silent tools")
}

func TestExecRunnerContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewExecRunner("sleep", testLogger()).
		WithRetry(RetryPolicy{Attempts: 3, Delay: time.Millisecond})
	err := runner.Run(ctx, "noop", []string{"10"}, filepath.Join(t.TempDir(), "gpt.log"))
	assert.ErrorIs(t, err, context.Canceled)
}
