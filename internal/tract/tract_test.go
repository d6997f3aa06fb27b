package tract

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const laPrefix = "06037"

func writeGeoJSON(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracts.geojson")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func boxFeature(idKey, id string, lon, lat, w, h float64) string {
	return fmt.Sprintf(`{
		"type": "Feature",
		"properties": {%q: %q},
		"geometry": {
			"type": "Polygon",
			"coordinates": [[[%f,%f],[%f,%f],[%f,%f],[%f,%f],[%f,%f]]]
		}
	}`, idKey, id,
		lon, lat, lon+w, lat, lon+w, lat+h, lon, lat+h, lon, lat)
}

func collection(features ...string) string {
	out := `{"type":"FeatureCollection","features":[`
	for i, f := range features {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out + `]}`
}

func TestLoadGeoJSON(t *testing.T) {
	path := writeGeoJSON(t, collection(
		boxFeature("GEOID10", "06037101110", -118.25, 34.00, 0.01, 0.01),
		boxFeature("GEOID10", "06037101120", -118.20, 34.05, 0.02, 0.01),
	))

	tracts, err := NewLoader(laPrefix).Load(path)
	require.NoError(t, err)
	require.Len(t, tracts, 2)

	assert.Equal(t, "06037101110", tracts[0].GEOID)
	assert.Equal(t, "06037101120", tracts[1].GEOID)
	for _, tr := range tracts {
		assert.NotNil(t, tr.Geom)
		assert.Greater(t, tr.AreaSqMi, 0.0)
	}
	// The second box spans twice the longitude range, so roughly twice
	// the area.
	assert.InDelta(t, 2.0, tracts[1].AreaSqMi/tracts[0].AreaSqMi, 0.02)
}

func TestLoadNormalizesIdentifiers(t *testing.T) {
	// Bare 6-digit tract code and a float-damaged GEOID.
	path := writeGeoJSON(t, collection(
		boxFeature("geoid", "101110", -118.25, 34.00, 0.01, 0.01),
		boxFeature("geoid", "6037101120.0", -118.20, 34.05, 0.01, 0.01),
	))

	tracts, err := NewLoader(laPrefix).Load(path)
	require.NoError(t, err)
	require.Len(t, tracts, 2)
	assert.Equal(t, "06037101110", tracts[0].GEOID)
	assert.Equal(t, "06037101120", tracts[1].GEOID)
}

func TestLoadDeduplicates(t *testing.T) {
	path := writeGeoJSON(t, collection(
		boxFeature("GEOID", "06037101110", -118.25, 34.00, 0.01, 0.01),
		boxFeature("GEOID", "06037101110", -118.25, 34.00, 0.01, 0.01),
	))

	tracts, err := NewLoader(laPrefix).Load(path)
	require.NoError(t, err)
	assert.Len(t, tracts, 1)
}

func TestLoadIdempotent(t *testing.T) {
	path := writeGeoJSON(t, collection(
		boxFeature("GEOID10", "06037101110", -118.25, 34.00, 0.01, 0.01),
	))

	loader := NewLoader(laPrefix)
	first, err := loader.Load(path)
	require.NoError(t, err)
	second, err := loader.Load(path)
	require.NoError(t, err)
	require.Equal(t, len(first), len(second))
	assert.Equal(t, first[0].GEOID, second[0].GEOID)
	assert.Equal(t, first[0].AreaSqMi, second[0].AreaSqMi)
}

func TestLoadNoIdentifierColumn(t *testing.T) {
	path := writeGeoJSON(t, collection(
		boxFeature("name", "somewhere", -118.25, 34.00, 0.01, 0.01),
	))

	_, err := NewLoader(laPrefix).Load(path)
	require.Error(t, err)

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Contains(t, err.Error(), "geoid10")
	assert.Contains(t, err.Error(), "tried")
}

func TestLoadPrefersBoundarySpecificColumn(t *testing.T) {
	// Both a vintage-specific and a generic id column: the specific one wins.
	feature := `{
		"type": "Feature",
		"properties": {"GEOID10": "06037101110", "geoid": "06037999999"},
		"geometry": {"type": "Polygon", "coordinates": [[[-118.25,34.0],[-118.24,34.0],[-118.24,34.01],[-118.25,34.01],[-118.25,34.0]]]}
	}`
	path := writeGeoJSON(t, collection(feature))

	tracts, err := NewLoader(laPrefix).Load(path)
	require.NoError(t, err)
	require.Len(t, tracts, 1)
	assert.Equal(t, "06037101110", tracts[0].GEOID)
}

func TestLoadUnreadableFile(t *testing.T) {
	_, err := NewLoader(laPrefix).Load(filepath.Join(t.TempDir(), "missing.geojson"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read boundary file")
}

func TestLoadSkipsOutOfCountyFeatures(t *testing.T) {
	path := writeGeoJSON(t, collection(
		boxFeature("GEOID", "06059101110", -117.9, 33.7, 0.01, 0.01), // Orange County
		boxFeature("GEOID", "06037101110", -118.25, 34.00, 0.01, 0.01),
	))

	tracts, err := NewLoader(laPrefix).Load(path)
	require.NoError(t, err)
	require.Len(t, tracts, 1)
	assert.Equal(t, "06037101110", tracts[0].GEOID)
}

func TestLoadRepairsBowtieBoundary(t *testing.T) {
	// A figure-eight ring whose raw shoelace area cancels out. After
	// repair the tract must still carry positive area.
	feature := `{
		"type": "Feature",
		"properties": {"GEOID": "06037101110"},
		"geometry": {"type": "Polygon", "coordinates": [[[-118.25,34.0],[-118.24,34.01],[-118.24,34.0],[-118.25,34.01],[-118.25,34.0]]]}
	}`
	path := writeGeoJSON(t, collection(feature))

	tracts, err := NewLoader(laPrefix).Load(path)
	require.NoError(t, err)
	require.Len(t, tracts, 1)
	assert.Greater(t, tracts[0].AreaSqMi, 0.0)
}
