package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func testGranules() []Granule {
	coords := json.RawMessage(`[[[10,50],[12,50],[12,52],[10,52],[10,50]]]`)
	return []Granule{
		{
			Geometry: &Geometry{Type: "Polygon", Coordinates: coords},
			Properties: GranuleProperties{
				SceneName:       "S1A_IW_GRDH_1SDV_20200115T171819_20200115T171844_030814_038A12_1B2C",
				Platform:        "Sentinel-1A",
				BeamModeType:    "IW",
				Polarization:    "VV+VH",
				RelativeOrbit:   intPtr(117),
				ProcessingLevel: "GRD_HD",
				StartTime:       "2020-01-15T17:18:19.000000",
				StopTime:        "2020-01-15T17:18:44.000000",
				URL:             "https://datapool.asf.alaska.edu/GRD_HD/SA/scene2.zip",
				FileName:        "scene2.zip",
				MD5Sum:          "bbb",
			},
		},
		{
			Geometry: &Geometry{Type: "Polygon", Coordinates: coords},
			Properties: GranuleProperties{
				SceneName:       "S1A_IW_GRDH_1SDV_20200103T171819_20200103T171844_030639_038299_3A7C",
				Platform:        "Sentinel-1A",
				BeamModeType:    "IW",
				Polarization:    "VV+VH",
				RelativeOrbit:   intPtr(117),
				ProcessingLevel: "GRD_HD",
				StartTime:       "2020-01-03T17:18:19.000000",
				StopTime:        "2020-01-03T17:18:44.000000",
				URL:             "https://datapool.asf.alaska.edu/GRD_HD/SA/scene1.zip",
				FileName:        "scene1.zip",
				MD5Sum:          "aaa",
			},
		},
		{
			Properties: GranuleProperties{
				SceneName:     "S1B_IW_GRDH_1SDV_20200110T060000_20200110T060025_019800_025577_0F0F",
				Platform:      "Sentinel-1B",
				RelativeOrbit: intPtr(44),
				StartTime:     "2020-01-10T06:00:00.000000",
			},
		},
	}
}

func TestSearch(t *testing.T) {
	var gotQuery map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/services/search/param", r.URL.Path)
		gotQuery = r.URL.Query()
		_ = json.NewEncoder(w).Encode(searchResponse{
			Type:     "FeatureCollection",
			Features: testGranules(),
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)

	granules, err := client.Search(context.Background(), SearchParams{
		ProductType:  "GRD",
		BeamMode:     "IW",
		Polarisation: []string{"VV+VH"},
		Start:        &start,
		End:          &end,
		AOI:          "POLYGON((10 50,12 50,12 52,10 52,10 50))",
	})
	require.NoError(t, err)
	assert.Len(t, granules, 3)

	assert.Equal(t, []string{"Sentinel-1"}, gotQuery["platform"])
	assert.Equal(t, []string{"GRD_HD,GRD_MD"}, gotQuery["processingLevel"])
	assert.Equal(t, []string{"IW"}, gotQuery["beamMode"])
	assert.Equal(t, []string{"2020-01-01T00:00:00Z"}, gotQuery["start"])
	assert.NotEmpty(t, gotQuery["intersectsWith"])
}

func TestSearchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "archive down", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	_, err := client.Search(context.Background(), SearchParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestGetGranule(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("granule_list"))
		_ = json.NewEncoder(w).Encode(searchResponse{
			Type:     "FeatureCollection",
			Features: testGranules()[:2],
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	g, err := client.GetGranule(context.Background(),
		"S1A_IW_GRDH_1SDV_20200103T171819_20200103T171844_030639_038299_3A7C")
	require.NoError(t, err)
	assert.Equal(t, "aaa", g.Properties.MD5Sum, "exact scene name match wins over response order")
}

func TestNewInventorySortsAscending(t *testing.T) {
	inv, err := NewInventory(testGranules())
	require.NoError(t, err)

	require.Len(t, inv.Features, 3)
	assert.Contains(t, inv.Features[0].Id, "20200103")
	assert.Contains(t, inv.Features[1].Id, "20200110")
	assert.Contains(t, inv.Features[2].Id, "20200115")

	first := inv.Features[0]
	assert.Equal(t, "sentinel-1a", first.Properties["platform"])
	assert.Equal(t, []string{"VV", "VH"}, first.Properties["sar:polarizations"])
	assert.Equal(t, 117, first.Properties["sat:relative_orbit"])
	assert.Equal(t, []float64{10, 50, 12, 52}, first.Bbox)
	require.Contains(t, first.Assets, "archive")
	assert.Equal(t, "scene1.zip", first.Assets["archive"].Title)
}

func TestInventoryTracksAndFilter(t *testing.T) {
	inv, err := NewInventory(testGranules())
	require.NoError(t, err)

	assert.Equal(t, []int{44, 117}, inv.Tracks())
	assert.Len(t, inv.FilterTrack(117).Features, 2)
	assert.Len(t, inv.FilterTrack(44).Features, 1)
	assert.Empty(t, inv.FilterTrack(99).Features)
}

func TestInventorySaveLoad(t *testing.T) {
	inv, err := NewInventory(testGranules())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "inventory.json")
	require.NoError(t, inv.Save(path))

	back, err := LoadInventory(path)
	require.NoError(t, err)
	require.Len(t, back.Features, 3)
	assert.Equal(t, inv.Features[0].Id, back.Features[0].Id)
	assert.Equal(t, []int{44, 117}, back.Tracks(), "numeric properties survive the JSON round trip")
}

func TestNewInventoryDropsDuplicates(t *testing.T) {
	granules := testGranules()
	granules = append(granules, granules[0])

	inv, err := NewInventory(granules)
	require.NoError(t, err)
	assert.Len(t, inv.Features, 3)
}
