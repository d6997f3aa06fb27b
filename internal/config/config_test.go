package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.census.gov/data/2023/acs/acs5", cfg.ACS.BaseURL)
	assert.Equal(t, []string{"B19013_001E", "B01001_001E", "B08201_002E"}, cfg.ACS.Variables)
	assert.Equal(t, "06", cfg.ACS.StateFIPS)
	assert.Equal(t, "037", cfg.ACS.County)
	assert.Equal(t, "06037", cfg.Geo.TractPrefix)
	assert.Equal(t, 5, cfg.Analyze.Clusters)
	assert.Equal(t, 20, cfg.Analyze.MinRows)
	assert.Equal(t, int64(42), cfg.Analyze.Seed)
	assert.Equal(t, "results", cfg.Output.ResultsDir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
geo:
  tract_prefix: "06059"
analyze:
  clusters: 4
log:
  level: debug
output:
  results_dir: out
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "06059", cfg.Geo.TractPrefix)
	assert.Equal(t, 4, cfg.Analyze.Clusters)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "out", cfg.Output.ResultsDir)
	// Untouched values keep their defaults.
	assert.Equal(t, 20, cfg.Analyze.MinRows)
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("BIKEWAY_GEO_TRACT_PREFIX", "06073")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "06073", cfg.Geo.TractPrefix)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	require.Error(t, err)
}
