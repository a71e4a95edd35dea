package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propertyfeed/internal/models"
)

func writeRegions(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "regions.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestSelectorsFor(t *testing.T) {
	catalog := NewRegionCatalog([]Region{
		{Name: "Austin", ZipCodes: []string{"78704", "78701"}, Sources: []models.Source{models.SourceGov}},
		{Name: "Round Rock", ZipCodes: []string{"78664", " 78701 ", ""}},
		{Name: "Web only", ZipCodes: []string{"99999"}, Sources: []models.Source{models.SourceWeb}},
	})

	tests := []struct {
		name     string
		source   models.Source
		expected []string
	}{
		{
			name:     "Source listed explicitly plus open regions",
			source:   models.SourceGov,
			expected: []string{"78664", "78701", "78704"},
		},
		{
			name:     "Only regions without a source list",
			source:   models.SourceAPI,
			expected: []string{"78664", "78701"},
		},
		{
			name:     "Web selectors",
			source:   models.SourceWeb,
			expected: []string{"78664", "78701", "99999"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, catalog.SelectorsFor(tt.source))
		})
	}
}

func TestLoadRegions(t *testing.T) {
	path := writeRegions(t, `{"regions":[{"name":"Austin","state":"TX","zip_codes":["78701"],"sources":["gov"]}]}`)

	catalog, err := LoadRegions(path)
	require.NoError(t, err)

	regions := catalog.Regions()
	require.Len(t, regions, 1)
	assert.Equal(t, "TX", regions[0].State)

	region := catalog.RegionByName("austin")
	require.NotNil(t, region)
	assert.Equal(t, []string{"78701"}, region.ZipCodes)
	assert.Nil(t, catalog.RegionByName("Dallas"))
}

func TestLoadRegionsErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "Malformed JSON", body: `{"regions": [`},
		{name: "Missing name", body: `{"regions":[{"zip_codes":["1"]}]}`},
		{name: "Unknown source", body: `{"regions":[{"name":"A","sources":["mls"]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRegions(writeRegions(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadRegions(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
