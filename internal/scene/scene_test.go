package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const grdScene = "S1A_IW_GRDH_1SDV_20200103T171819_20200103T171844_030639_038299_3A7C"

func TestParse(t *testing.T) {
	s, err := Parse(grdScene)
	require.NoError(t, err)

	assert.Equal(t, "S1A", s.Mission)
	assert.Equal(t, "IW", s.Mode)
	assert.Equal(t, "GRD", s.ProductType)
	assert.Equal(t, "DV", s.PolMode)
	assert.Equal(t, "20200103", s.StartDate)
	assert.Equal(t, 30639, s.AbsoluteOrbit)
	assert.Equal(t, []string{"VV", "VH"}, s.Polarisations)
}

func TestRelativeOrbit(t *testing.T) {
	tests := []struct {
		id   string
		want int
	}{
		// S1A: ((30639 - 73) % 175) + 1
		{grdScene, 117},
		// S1B: ((19964 - 27) % 175) + 1
		{"S1B_IW_SLC__1SDV_20200614T172915_20200614T172942_021964_029BE9_2E1D", 63},
	}

	for _, tt := range tests {
		s, err := Parse(tt.id)
		require.NoError(t, err)
		assert.Equal(t, tt.want, s.RelativeOrbit, "scene %s", tt.id)
		assert.NotEmpty(t, s.Track())
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("S1A_IW_GRDH")
	assert.Error(t, err, "short identifier")

	// polarisation mode ZZ does not exist
	_, err = Parse("S1A_IW_GRDH_1SZZ_20200103T171819_20200103T171844_030639_038299_3A7C")
	assert.Error(t, err)

	// mission S1X does not exist
	_, err = Parse("S1X_IW_GRDH_1SDV_20200103T171819_20200103T171844_030639_038299_3A7C")
	assert.Error(t, err)
}

func TestHasPolarisation(t *testing.T) {
	s, err := Parse(grdScene)
	require.NoError(t, err)

	assert.True(t, s.HasPolarisation("VV"))
	assert.True(t, s.HasPolarisation("VH"))
	assert.False(t, s.HasPolarisation("HH"))
}
