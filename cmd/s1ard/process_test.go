package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkm/s1ard/internal/config"
	"github.com/rkm/s1ard/internal/executor"
	"github.com/rkm/s1ard/internal/marker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRecordResults(t *testing.T) {
	manifest, err := marker.OpenManifest(t.TempDir())
	require.NoError(t, err)
	defer manifest.Close()

	results := []executor.Result{
		{Key: "117", Date: "20200103", Backscatter: "/p/117/20200103/a.dim", Layover: "/p/117/20200103/ls.dim"},
		{Key: "117", Date: "20200115"},
		{Key: "44", Date: "20200104", Err: "import exited with code 1"},
	}
	err = recordResults(manifest, testLogger(), results)
	require.Error(t, err, "a failed unit fails the batch")
	assert.Contains(t, err.Error(), "1 of 3")

	entry, found, err := manifest.Lookup("117", "20200103", marker.Backscatter)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, marker.StatusPassed, entry.Status)
	assert.Equal(t, "/p/117/20200103/a.dim", entry.Artifact)

	entry, found, err = manifest.Lookup("117", "20200103", marker.Layover)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, marker.StatusPassed, entry.Status)

	entry, found, err = manifest.Lookup("117", "20200115", marker.Backscatter)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, marker.StatusEmpty, entry.Status, "a unit without products was empty")

	entry, found, err = manifest.Lookup("44", "20200104", marker.Backscatter)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, marker.StatusFailed, entry.Status)
}

func TestProcessPoolArgsForwardConfig(t *testing.T) {
	assert.Equal(t, []string{"--config", "/etc/s1ard.yaml", "run-unit"},
		processPoolArgs("/etc/s1ard.yaml"),
		"unit subprocesses load the same configuration as the parent")
	assert.Equal(t, []string{"run-unit"}, processPoolArgs(""))
}

func TestUnitKeysSkipsMosaicAndDotDirs(t *testing.T) {
	cfg := &config.Config{ProcessingDir: t.TempDir()}
	for _, dir := range []string{"117", "44", "Mosaic", ".manifest"} {
		require.NoError(t, os.MkdirAll(filepath.Join(cfg.ProcessingDir, dir), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ProcessingDir, "inventory.json"), []byte("{}"), 0o644))

	keys, err := unitKeys(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"117", "44"}, keys)
}
