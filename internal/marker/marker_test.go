package marker

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPath(t *testing.T) {
	assert.Equal(t, "/out/.bs.processed", Path("/out", Backscatter))
	assert.Equal(t, "/out/.coh.processed", Path("/out", Coherence))
	assert.Equal(t, "/out/.pol.processed", Path("/out", Polarimetric))
	assert.Equal(t, "/out/.ls.processed", Path("/out", Layover))
	assert.Equal(t, "/out/.BS.VV.processed", NamedPath("/out", "BS.VV"))
}

func TestWritePassed(t *testing.T) {
	path := Path(t.TempDir(), Backscatter)
	assert.False(t, Done(path))

	require.NoError(t, WritePassed(path))
	assert.True(t, Done(path))

	empty, err := Empty(path)
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestWriteEmpty(t *testing.T) {
	path := Path(t.TempDir(), Coherence)
	require.NoError(t, WriteEmpty(path))

	assert.True(t, Done(path))
	empty, err := Empty(path)
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestEmptyMissingMarker(t *testing.T) {
	empty, err := Empty(filepath.Join(t.TempDir(), ".bs.processed"))
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestWriteCreatesDirectory(t *testing.T) {
	path := Path(filepath.Join(t.TempDir(), "117", "20200103"), Backscatter)
	require.NoError(t, WritePassed(path))
	assert.True(t, Done(path))
}
