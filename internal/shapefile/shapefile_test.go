package shapefile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func TestToGeomPoint(t *testing.T) {
	g := ToGeom(&shp.Point{X: -118.25, Y: 34.05})
	pt, ok := g.(*geom.Point)
	require.True(t, ok)
	assert.Equal(t, []float64{-118.25, 34.05}, pt.FlatCoords())
}

func TestToGeomPolyLine(t *testing.T) {
	pl := &shp.PolyLine{
		NumParts:  2,
		NumPoints: 5,
		Parts:     []int32{0, 3},
		Points: []shp.Point{
			{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1},
			{X: 5, Y: 5}, {X: 6, Y: 5},
		},
	}
	g := ToGeom(pl)
	mls, ok := g.(*geom.MultiLineString)
	require.True(t, ok)
	assert.Equal(t, 2, mls.NumLineStrings())
	assert.Equal(t, []float64{0, 0, 1, 0, 1, 1}, mls.LineString(0).FlatCoords())
}

func TestToGeomPolygonWindings(t *testing.T) {
	// Clockwise outer ring, counter-clockwise hole (ESRI convention).
	p := &shp.Polygon{
		NumParts:  2,
		NumPoints: 10,
		Parts:     []int32{0, 5},
		Points: []shp.Point{
			{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0},
			{X: 4, Y: 4}, {X: 6, Y: 4}, {X: 6, Y: 6}, {X: 4, Y: 6}, {X: 4, Y: 4},
		},
	}
	g := ToGeom(p)
	mp, ok := g.(*geom.MultiPolygon)
	require.True(t, ok)
	require.Equal(t, 1, mp.NumPolygons())
	assert.Equal(t, 2, mp.Polygon(0).NumLinearRings(), "hole attached to its shell")
}

func TestToGeomNil(t *testing.T) {
	assert.Nil(t, ToGeom(nil))
	assert.Nil(t, ToGeom(&shp.PolyLine{}))
}

func writeTestShapefile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bikeways.shp")
	w, err := shp.Create(path, shp.POLYLINE)
	require.NoError(t, err)

	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("NAME", 40),
		shp.StringField("CLASS", 10),
	}))

	line := &shp.PolyLine{
		NumParts:  1,
		NumPoints: 2,
		Parts:     []int32{0},
		Points:    []shp.Point{{X: -118.25, Y: 34.05}, {X: -118.24, Y: 34.05}},
	}
	w.Write(line)
	require.NoError(t, w.WriteAttribute(0, 0, "Venice Blvd"))
	require.NoError(t, w.WriteAttribute(0, 1, "II"))
	w.Close()
	return path
}

func TestReadRoundTrip(t *testing.T) {
	path := writeTestShapefile(t)

	records, crs, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, CRSGeographic, crs, "no .prj sidecar means geographic")
	require.Len(t, records, 1)

	mls, ok := records[0].Geom.(*geom.MultiLineString)
	require.True(t, ok)
	assert.Equal(t, 1, mls.NumLineStrings())
	assert.Equal(t, "Venice Blvd", records[0].Attrs["name"])
	assert.Equal(t, "II", records[0].Attrs["class"])
}

func TestReadMissingFile(t *testing.T) {
	_, _, err := Read(filepath.Join(t.TempDir(), "nope.shp"))
	require.Error(t, err)
}

func TestSniffCRS(t *testing.T) {
	dir := t.TempDir()
	shpPath := filepath.Join(dir, "a.shp")

	assert.Equal(t, CRSGeographic, sniffCRS(shpPath))

	prj := `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984"]]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.prj"), []byte(prj), 0o644))
	assert.Equal(t, CRSGeographic, sniffCRS(shpPath))

	prj = `PROJCS["NAD_1983_California_Teale_Albers",GEOGCS["GCS_North_American_1983"]]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.prj"), []byte(prj), 0o644))
	assert.Equal(t, CRSProjected, sniffCRS(shpPath))
}

func TestDecodeAttr(t *testing.T) {
	assert.Equal(t, "plain", decodeAttr("plain \x00\x00"))
	// Latin-1 0xE9 is "é".
	assert.Equal(t, "Café", decodeAttr("Caf\xe9"))
	assert.Equal(t, "", decodeAttr(strings.Repeat("\x00", 4)))
}
