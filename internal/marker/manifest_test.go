package marker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestManifest(t *testing.T) *Manifest {
	t.Helper()
	m, err := OpenManifest(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManifestRoundTrip(t *testing.T) {
	m := openTestManifest(t)

	require.NoError(t, m.Record("117", "20200103", Backscatter, Entry{
		Status:   StatusPassed,
		Artifact: "/out/117/20200103/20200103_117_bs.tif",
		Checksum: "deadbeef",
	}))

	entry, found, err := m.Lookup("117", "20200103", Backscatter)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatusPassed, entry.Status)
	assert.Equal(t, "deadbeef", entry.Checksum)
	assert.False(t, entry.Written.IsZero())
}

func TestManifestLookupMissing(t *testing.T) {
	m := openTestManifest(t)

	_, found, err := m.Lookup("117", "20200103", Coherence)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestManifestSummary(t *testing.T) {
	m := openTestManifest(t)

	require.NoError(t, m.Record("117", "20200103", Backscatter, Entry{Status: StatusPassed}))
	require.NoError(t, m.Record("117", "20200115", Backscatter, Entry{Status: StatusEmpty}))
	require.NoError(t, m.Record("44", "20200110", Coherence, Entry{Status: StatusFailed}))

	p, err := m.Summary()
	require.NoError(t, err)
	assert.Equal(t, Progress{Passed: 1, Empty: 1, Failed: 1, Total: 3}, p)
}

func TestManifestUnits(t *testing.T) {
	m := openTestManifest(t)

	require.NoError(t, m.Record("117", "20200103", Backscatter, Entry{Status: StatusPassed}))
	require.NoError(t, m.Record("117", "20200115", Coherence, Entry{Status: StatusPassed}))
	require.NoError(t, m.Record("44", "20200110", Backscatter, Entry{Status: StatusPassed}))

	units, err := m.Units()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"117", "44"}, units)
}
