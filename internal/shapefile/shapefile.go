// Package shapefile reads ESRI shapefile bundles into go-geom geometries.
package shapefile

import (
	"os"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
)

// CRS describes the coordinate reference of a shapefile, sniffed from the
// .prj sidecar.
type CRS int

const (
	// CRSGeographic is longitude/latitude degrees. Also the assumption
	// when no .prj sidecar exists.
	CRSGeographic CRS = iota
	// CRSProjected is any projected (meter-based) reference.
	CRSProjected
)

// Record is one shapefile feature: its geometry plus DBF attributes keyed
// by lower-cased field name.
type Record struct {
	Geom  geom.T
	Attrs map[string]string
}

// Read loads every record of the shapefile at path. Records whose shape
// cannot be converted are skipped with a debug log, matching how sparse
// municipal exports usually behave.
func Read(path string) ([]Record, CRS, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, CRSGeographic, eris.Wrapf(err, "shapefile: open %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.ToLower(strings.TrimRight(f.String(), "\x00"))
	}

	var records []Record
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		g := ToGeom(shape)
		if g == nil {
			skipped++
			continue
		}

		attrs := make(map[string]string, len(names))
		for i, name := range names {
			attrs[name] = decodeAttr(reader.Attribute(i))
		}
		records = append(records, Record{Geom: g, Attrs: attrs})
	}

	if skipped > 0 {
		zap.L().Debug("shapefile: skipped records with unsupported shapes",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}

	return records, sniffCRS(path), nil
}

// decodeAttr cleans a DBF attribute value. DBF text is Latin-1 more often
// than not; anything that fails to decode keeps its raw bytes.
func decodeAttr(raw string) string {
	s := strings.TrimSpace(strings.TrimRight(raw, "\x00"))
	decoded, err := charmap.ISO8859_1.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return decoded
}

// sniffCRS inspects the .prj sidecar next to the .shp file. A missing
// sidecar means the source declared no reference; geographic degrees is
// the safe assumption for municipal open data.
func sniffCRS(shpPath string) CRS {
	prj := strings.TrimSuffix(shpPath, ".shp") + ".prj"
	data, err := os.ReadFile(prj)
	if err != nil {
		return CRSGeographic
	}
	wkt := strings.ToUpper(string(data))
	if strings.HasPrefix(strings.TrimSpace(wkt), "PROJCS") {
		return CRSProjected
	}
	return CRSGeographic
}

// ToGeom converts a go-shp shape to a go-geom geometry. Z and M variants
// are flattened to XY. Unsupported shapes return nil.
func ToGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointZ:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PolyLine:
		return polyLineToMulti(s.NumParts, s.Parts, s.Points)
	case *shp.PolyLineZ:
		return polyLineToMulti(s.NumParts, s.Parts, s.Points)
	case *shp.Polygon:
		return polygonToMulti(s.NumParts, s.Parts, s.Points)
	case *shp.PolygonZ:
		return polygonToMulti(s.NumParts, s.Parts, s.Points)
	default:
		return nil
	}
}

func polyLineToMulti(numParts int32, parts []int32, points []shp.Point) geom.T {
	if numParts == 0 || len(points) == 0 {
		return nil
	}

	mls := geom.NewMultiLineString(geom.XY)
	for i := int32(0); i < numParts; i++ {
		start, end := partRange(i, numParts, parts, len(points))
		if end-start < 2 {
			continue
		}
		ls := geom.NewLineStringFlat(geom.XY, flatten(points[start:end]))
		if err := mls.Push(ls); err != nil {
			zap.L().Debug("shapefile: skipping malformed linestring part", zap.Int32("part", i), zap.Error(err))
		}
	}
	if mls.NumLineStrings() == 0 {
		return nil
	}
	return mls
}

func polygonToMulti(numParts int32, parts []int32, points []shp.Point) geom.T {
	if numParts == 0 || len(points) == 0 {
		return nil
	}

	// ESRI winding: outer rings are clockwise, holes counter-clockwise.
	var shells, holes [][]float64
	for i := int32(0); i < numParts; i++ {
		start, end := partRange(i, numParts, parts, len(points))
		if end-start < 4 {
			continue
		}
		flat := flatten(points[start:end])
		if signedArea(flat) < 0 {
			shells = append(shells, flat)
		} else {
			holes = append(holes, flat)
		}
	}
	if len(shells) == 0 {
		// Some exports get the winding wrong; treat everything as shells
		// rather than dropping the feature.
		shells, holes = holes, nil
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for _, shell := range shells {
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, shell)); err != nil {
			zap.L().Debug("shapefile: skipping malformed polygon ring", zap.Error(err))
			continue
		}
		for _, hole := range holes {
			if ringContains(shell, hole[0], hole[1]) {
				if err := poly.Push(geom.NewLinearRingFlat(geom.XY, hole)); err != nil {
					zap.L().Debug("shapefile: skipping malformed hole ring", zap.Error(err))
				}
			}
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("shapefile: skipping malformed polygon part", zap.Error(err))
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// signedArea is the shoelace area of a closed flat XY ring, positive for
// counter-clockwise winding.
func signedArea(flat []float64) float64 {
	var sum float64
	for i := 0; i+3 < len(flat); i += 2 {
		sum += flat[i]*flat[i+3] - flat[i+2]*flat[i+1]
	}
	return sum / 2
}

// ringContains is an even-odd ray cast of (x, y) against one flat ring.
func ringContains(flat []float64, x, y float64) bool {
	inside := false
	j := len(flat) - 2
	for i := 0; i+1 < len(flat); i += 2 {
		xi, yi := flat[i], flat[i+1]
		xj, yj := flat[j], flat[j+1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

func partRange(i, numParts int32, parts []int32, total int) (int, int) {
	start := int(parts[i])
	end := total
	if i+1 < numParts {
		end = int(parts[i+1])
	}
	return start, end
}

func flatten(points []shp.Point) []float64 {
	flat := make([]float64, 0, len(points)*2)
	for _, p := range points {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}
