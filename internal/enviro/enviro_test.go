package enviro

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, row := range rows {
			r := sheet.AddRow()
			for _, cell := range row {
				r.AddCell().SetString(cell)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "ces.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func cesRows() [][]string {
	return [][]string{
		{"CalEnviroScreen 4.0 Results"}, // title row above the table
		{},
		{"Census Tract", "Total Population", "CES 4.0 Score", "PM2.5"},
		{"6037101100", "4321", "45.2", "12.1"},
		{"6037101200", "2500", "not a number", "11.9"},
		{"6081600100", "3000", "20.0", "8.0"}, // San Mateo, outside county
	}
}

func TestLoadXLSXProbesSheetsAndHeader(t *testing.T) {
	path := writeTestXLSX(t, map[string][][]string{
		"Notes":   {{"Methodology", "blah"}},
		"Results": cesRows(),
	})

	recs, err := NewLoader("06037").Load(path)
	require.NoError(t, err)
	require.Len(t, recs, 2, "out-of-county rows are dropped")

	assert.Equal(t, "06037101100", recs[0].GEOID)
	assert.Equal(t, 45.2, recs[0].CESScore)
	assert.Equal(t, 12.1, recs[0].PM25)

	assert.Equal(t, "06037101200", recs[1].GEOID)
	assert.True(t, math.IsNaN(recs[1].CESScore), "bad cell is NaN, not an error")
}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ces.csv")
	csv := "Census Tract,CES 4.0 Score,PM2.5\n6037101100,45.2,12.1\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	recs, err := NewLoader("06037").Load(path)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "06037101100", recs[0].GEOID)
	assert.Equal(t, 45.2, recs[0].CESScore)
}

func TestLoadNoTractColumn(t *testing.T) {
	path := writeTestXLSX(t, map[string][][]string{
		"Sheet1": {{"Zip Code", "Score"}, {"90001", "12"}},
	})

	_, err := NewLoader("06037").Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "census tract", "error names the candidates tried")
}

func TestLoadNoScoreColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ces.csv")
	require.NoError(t, os.WriteFile(path, []byte("Census Tract,Other\n6037101100,1\n"), 0o644))

	_, err := NewLoader("06037").Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "score column")
}

func TestLoadMissingPM25IsNaN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ces.csv")
	require.NoError(t, os.WriteFile(path, []byte("Census Tract,CES 4.0 Score\n6037101100,45.2\n"), 0o644))

	recs, err := NewLoader("06037").Load(path)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, math.IsNaN(recs[0].PM25))
}

func TestLoadExactHeaderBeatsPrefix(t *testing.T) {
	// The workbook carries both "PM2.5" and "PM2.5 Pctl"; the exact
	// column must win regardless of order.
	path := filepath.Join(t.TempDir(), "ces.csv")
	csv := "Census Tract,CES 4.0 Score,PM2.5 Pctl,PM2.5\n6037101100,45.2,80,12.1\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	recs, err := NewLoader("06037").Load(path)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 12.1, recs[0].PM25)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewLoader("06037").Load(filepath.Join(t.TempDir(), "nope.xlsx"))
	assert.Error(t, err)
}
