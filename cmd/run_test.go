package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/bikeway-cli/internal/config"
	"github.com/sells-group/bikeway-cli/internal/dataset"
	"github.com/sells-group/bikeway-cli/internal/shapefile"
)

func withTestConfig(t *testing.T) {
	t.Helper()
	prev := cfg
	cfg = &config.Config{
		Geo:     config.GeoConfig{TractPrefix: "06037"},
		Analyze: config.AnalyzeConfig{Clusters: 5, MinRows: 20, Seed: 42},
	}
	t.Cleanup(func() { cfg = prev })
}

func writeBikewayShapefile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bikeways.shp")
	w, err := shp.Create(path, shp.POLYLINE)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("NAME", 40)}))

	line := &shp.PolyLine{
		NumParts:  1,
		NumPoints: 2,
		Parts:     []int32{0},
		Points:    []shp.Point{{X: -118.25, Y: 34.05}, {X: -118.24, Y: 34.05}},
	}
	w.Write(line)
	require.NoError(t, w.WriteAttribute(0, 0, "Venice Blvd"))
	w.Close()
	return path
}

func TestLoadBikeways(t *testing.T) {
	path := writeBikewayShapefile(t)
	segments, crs := loadBikeways(path, zap.NewNop())

	require.Len(t, segments, 1)
	assert.Equal(t, shapefile.CRSGeographic, crs)
	_, ok := segments[0].(*geom.MultiLineString)
	assert.True(t, ok)
}

func TestLoadBikewaysMissingFile(t *testing.T) {
	segments, crs := loadBikeways(filepath.Join(t.TempDir(), "nope.shp"), zap.NewNop())
	assert.Empty(t, segments, "missing infrastructure is not fatal")
	assert.Equal(t, shapefile.CRSGeographic, crs)
}

func TestLoadEnviroMissingFile(t *testing.T) {
	withTestConfig(t)
	cfg.Sources.EnviroFile = filepath.Join(t.TempDir(), "nope.xlsx")
	assert.Nil(t, loadEnviro(zap.NewNop()))
}

func TestWriteRegressionSkipsSmallInput(t *testing.T) {
	withTestConfig(t)
	dir := t.TempDir()

	rows := []dataset.Row{{GEOID: "x", CESScore: 1, BikeDensity: 1, MedianIncome: 1, NoVehicleRate: 1}}
	require.NoError(t, writeRegression(dir, rows))

	_, err := os.Stat(filepath.Join(dir, "regression_results.txt"))
	assert.True(t, os.IsNotExist(err), "no results file when the stage is skipped")
}

func TestWriteRegression(t *testing.T) {
	withTestConfig(t)
	dir := t.TempDir()

	rows := make([]dataset.Row, 30)
	for i := range rows {
		d := 0.1 * float64(i)
		rows[i] = dataset.Row{
			GEOID:         "t",
			BikeDensity:   d,
			MedianIncome:  40000 + 500*float64(i%9),
			NoVehicleRate: 0.01 * float64(i%11),
			CESScore:      50 - 3*d,
			Cluster:       -1,
		}
	}
	require.NoError(t, writeRegression(dir, rows))

	data, err := os.ReadFile(filepath.Join(dir, "regression_results.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "OLS Regression Results")
	assert.Contains(t, string(data), "HC1")
}

func TestSplitByPresence(t *testing.T) {
	rows := []dataset.Row{
		{BikewayMiles: 0, CESScore: 50},
		{BikewayMiles: 1.5, CESScore: 30},
		{BikewayMiles: 0, CESScore: math.NaN()},
	}
	without, with := splitByPresence(rows, func(r dataset.Row) float64 { return r.CESScore })
	assert.Len(t, without, 2)
	assert.Equal(t, []float64{30}, with)
}
