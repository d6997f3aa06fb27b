// Package tract loads census tract boundaries and measures their area.
package tract

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/bikeway-cli/internal/geoid"
	"github.com/sells-group/bikeway-cli/internal/planar"
	"github.com/sells-group/bikeway-cli/internal/shapefile"
)

// Tract is one census tract: normalized GEOID, repaired polygon geometry in
// the equal-area measurement frame, and its land area.
type Tract struct {
	GEOID    string
	Geom     geom.T // Polygon or MultiPolygon, projected meters
	AreaSqMi float64
}

// idCandidates is the ordered list of identifier column names probed in
// boundary files: vintage-specific GEOID columns first, then generic ones.
var idCandidates = []string{
	"geoid10",
	"geoid20",
	"ct_geoid",
	"geoid",
	"tractce10",
	"tractce",
	"fips",
	"tract",
}

// SchemaError reports that no identifier column matched any known candidate.
type SchemaError struct {
	Path  string
	Tried []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("tract: no identifier column in %s, tried: [%s]",
		e.Path, strings.Join(e.Tried, ", "))
}

// Loader reads and normalizes tract boundary files.
type Loader struct {
	prefix string
	proj   *planar.Projector
	log    *zap.Logger
}

// NewLoader returns a Loader that normalizes identifiers under the given
// state+county prefix and measures in California Albers.
func NewLoader(prefix string) *Loader {
	return &Loader{
		prefix: prefix,
		proj:   planar.NewCaliforniaAlbers(),
		log:    zap.L().With(zap.String("component", "tract")),
	}
}

// Load reads tract polygons from a GeoJSON file or shapefile bundle,
// repairs and projects every geometry, computes areas in square miles, and
// deduplicates by normalized GEOID. Re-running over the same file yields
// identical output.
func (l *Loader) Load(path string) ([]Tract, error) {
	var (
		tracts []Tract
		err    error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		tracts, err = l.loadShapefile(path)
	default:
		tracts, err = l.loadGeoJSON(path)
	}
	if err != nil {
		return nil, err
	}

	tracts = dedupe(tracts, l.log)
	l.log.Info("loaded tract boundaries",
		zap.String("path", path),
		zap.Int("tracts", len(tracts)),
	)
	return tracts, nil
}

func (l *Loader) loadGeoJSON(path string) ([]Tract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tract: read boundary file %s", path)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "tract: parse GeoJSON %s", path)
	}
	if len(fc.Features) == 0 {
		return nil, eris.Errorf("tract: boundary file %s has no features", path)
	}

	idKey, err := probeIDKey(path, propertyKeys(fc.Features))
	if err != nil {
		return nil, err
	}

	var tracts []Tract
	for _, f := range fc.Features {
		raw := propertyString(f.Properties, idKey)
		tr, ok := l.build(raw, f.Geometry, false)
		if ok {
			tracts = append(tracts, tr)
		}
	}
	return tracts, nil
}

func (l *Loader) loadShapefile(path string) ([]Tract, error) {
	records, crs, err := shapefile.Read(path)
	if err != nil {
		return nil, eris.Wrap(err, "tract: read boundary shapefile")
	}
	if len(records) == 0 {
		return nil, eris.Errorf("tract: boundary file %s has no features", path)
	}

	keys := make(map[string]struct{})
	for k := range records[0].Attrs {
		keys[k] = struct{}{}
	}
	idKey, err := probeIDKey(path, keys)
	if err != nil {
		return nil, err
	}

	projected := crs == shapefile.CRSProjected
	if projected {
		l.log.Warn("boundary shapefile already projected, skipping reprojection",
			zap.String("path", path))
	}

	var tracts []Tract
	for _, rec := range records {
		tr, ok := l.build(rec.Attrs[idKey], rec.Geom, projected)
		if ok {
			tracts = append(tracts, tr)
		}
	}
	return tracts, nil
}

// build normalizes one boundary feature: project (unless the source is
// already in a projected frame), repair, measure.
func (l *Loader) build(rawID string, g geom.T, alreadyProjected bool) (Tract, bool) {
	id := geoid.Normalize(rawID, l.prefix)
	if !geoid.Valid(id, l.prefix) {
		l.log.Debug("skipping tract outside county", zap.String("raw_id", rawID))
		return Tract{}, false
	}
	if g == nil {
		l.log.Warn("tract feature has no geometry", zap.String("geoid", id))
		return Tract{}, false
	}

	if !alreadyProjected {
		var err error
		g, err = l.proj.ProjectGeom(g)
		if err != nil {
			l.log.Warn("tract geometry unprojectable", zap.String("geoid", id), zap.Error(err))
			return Tract{}, false
		}
	}

	repaired := planar.Repair(g)
	if repaired == nil {
		l.log.Warn("tract geometry degenerate after repair", zap.String("geoid", id))
		return Tract{}, false
	}

	return Tract{
		GEOID:    id,
		Geom:     repaired,
		AreaSqMi: planar.Area(repaired) / planar.SqMetersPerSqMile,
	}, true
}

// probeIDKey runs the ordered candidate checks against the available
// column names, case-insensitively.
func probeIDKey(path string, keys map[string]struct{}) (string, error) {
	lower := make(map[string]string, len(keys))
	for k := range keys {
		lower[strings.ToLower(strings.TrimSpace(k))] = k
	}
	for _, cand := range idCandidates {
		if orig, ok := lower[cand]; ok {
			return orig, nil
		}
	}
	return "", &SchemaError{Path: path, Tried: idCandidates}
}

func propertyKeys(features []*geojson.Feature) map[string]struct{} {
	keys := make(map[string]struct{})
	for _, f := range features {
		for k := range f.Properties {
			keys[k] = struct{}{}
		}
	}
	return keys
}

func propertyString(props map[string]interface{}, key string) string {
	switch v := props[key].(type) {
	case string:
		return v
	case float64:
		// JSON numbers decode as float64; tract codes must not pick up
		// an exponent or fraction on the way back to text.
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// dedupe drops repeated GEOIDs, keeping the first occurrence.
func dedupe(tracts []Tract, log *zap.Logger) []Tract {
	seen := make(map[string]struct{}, len(tracts))
	out := tracts[:0:0]
	var dropped int
	for _, tr := range tracts {
		if _, ok := seen[tr.GEOID]; ok {
			dropped++
			continue
		}
		seen[tr.GEOID] = struct{}{}
		out = append(out, tr)
	}
	if dropped > 0 {
		log.Warn("dropped duplicate tract boundaries", zap.Int("dropped", dropped))
	}
	return out
}
