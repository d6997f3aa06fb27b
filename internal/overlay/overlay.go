// Package overlay attributes infrastructure line length to census tracts.
package overlay

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/bikeway-cli/internal/planar"
	"github.com/sells-group/bikeway-cli/internal/shapefile"
	"github.com/sells-group/bikeway-cli/internal/tract"
)

// Mode records the fidelity of a spatial join result.
type Mode int

const (
	// ModeExact means lengths come from true line/polygon intersection,
	// with lines split at tract boundaries.
	ModeExact Mode = iota
	// ModeApproximate means each whole segment was attributed to the
	// tract containing its centroid, using the unsplit length. This
	// overstates the centroid tract whenever a segment straddles a
	// boundary; callers must surface the distinction.
	ModeApproximate
)

func (m Mode) String() string {
	if m == ModeApproximate {
		return "approximate"
	}
	return "exact"
}

// Result is the per-tract infrastructure length in miles. Every tract
// passed to JoinLengths has an entry, absent tracts included at zero.
type Result struct {
	Mode  Mode
	Miles map[string]float64
}

// TotalMiles sums the attributed length across all tracts.
func (r *Result) TotalMiles() float64 {
	var sum float64
	for _, m := range r.Miles {
		sum += m
	}
	return sum
}

// Engine computes the spatial join between tract polygons and
// infrastructure lines.
type Engine struct {
	proj *planar.Projector
	log  *zap.Logger
}

// NewEngine returns an Engine measuring in California Albers.
func NewEngine() *Engine {
	return &Engine{
		proj: planar.NewCaliforniaAlbers(),
		log:  zap.L().With(zap.String("component", "overlay")),
	}
}

// JoinLengths attributes the length of each segment to tracts. Segments
// in a geographic reference (or with none declared, which is treated as
// geographic) are projected into the measurement frame first. Tract
// polygons are repaired before intersecting; line geometry is never
// buffered, since buffering corrupts lines.
//
// When exact intersection produces no matches or panics on degenerate
// geometry, the engine falls back to centroid attribution and flags the
// result ModeApproximate. Absent infrastructure is not an error: the
// worst case is every tract at zero.
func (e *Engine) JoinLengths(tracts []tract.Tract, segments []geom.T, crs shapefile.CRS) (*Result, error) {
	if len(segments) == 0 {
		e.log.Warn("no infrastructure segments; every tract at zero length")
		return &Result{Mode: ModeExact, Miles: e.leftJoin(tracts, nil)}, nil
	}

	projected, err := e.projectSegments(segments, crs)
	if err != nil {
		return nil, err
	}

	prepared := e.prepare(tracts)

	miles, exactErr := e.exact(prepared, projected)
	if exactErr != nil {
		e.log.Warn("exact overlay failed, falling back to centroid attribution",
			zap.Error(exactErr))
	}
	if exactErr == nil && hasAny(miles) {
		e.log.Info("spatial join complete",
			zap.String("mode", ModeExact.String()),
			zap.Int("segments", len(projected)),
		)
		return &Result{Mode: ModeExact, Miles: e.leftJoin(tracts, miles)}, nil
	}

	if exactErr == nil {
		e.log.Warn("exact overlay matched nothing, falling back to centroid attribution",
			zap.Int("segments", len(projected)))
	}

	miles = e.centroidFallback(prepared, projected)
	if !hasAny(miles) {
		e.log.Warn("centroid fallback matched nothing; attributing zero length everywhere")
	}
	e.log.Info("spatial join complete",
		zap.String("mode", ModeApproximate.String()),
		zap.Int("segments", len(projected)),
	)
	return &Result{Mode: ModeApproximate, Miles: e.leftJoin(tracts, miles)}, nil
}

// preparedTract caches the repaired geometry and bounds of one tract.
type preparedTract struct {
	geoid  string
	geom   geom.T
	bounds *geom.Bounds
}

func (e *Engine) projectSegments(segments []geom.T, crs shapefile.CRS) ([]geom.T, error) {
	if crs == shapefile.CRSProjected {
		return segments, nil
	}
	out := make([]geom.T, 0, len(segments))
	for _, s := range segments {
		p, err := e.proj.ProjectGeom(s)
		if err != nil {
			return nil, eris.Wrap(err, "overlay: project segment")
		}
		out = append(out, p)
	}
	return out, nil
}

func (e *Engine) prepare(tracts []tract.Tract) []preparedTract {
	out := make([]preparedTract, 0, len(tracts))
	var degenerate int
	for _, tr := range tracts {
		repaired := planar.Repair(tr.Geom)
		if repaired == nil {
			degenerate++
			continue
		}
		out = append(out, preparedTract{
			geoid:  tr.GEOID,
			geom:   repaired,
			bounds: repaired.Bounds(),
		})
	}
	if degenerate > 0 {
		e.log.Warn("tracts with degenerate geometry excluded from overlay",
			zap.Int("tracts", degenerate))
	}
	return out
}

// exact intersects every segment against every bbox-overlapping tract.
// Geometry edge cases in third-party data occasionally blow up; a panic
// here is treated as a failed overlay so the caller can degrade.
func (e *Engine) exact(tracts []preparedTract, segments []geom.T) (miles map[string]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			miles = nil
			err = eris.Errorf("overlay: exact intersection panicked: %v", r)
		}
	}()

	miles = make(map[string]float64)
	for _, seg := range segments {
		segBounds := seg.Bounds()
		for _, tr := range tracts {
			if !boundsOverlap(segBounds, tr.bounds) {
				continue
			}
			if m := planar.ClipLength(seg, tr.geom); m > 0 {
				miles[tr.geoid] += m / planar.MetersPerMile
			}
		}
	}
	return miles, nil
}

// centroidFallback attributes each whole segment to the tract containing
// its centroid, using the original unsplit length.
func (e *Engine) centroidFallback(tracts []preparedTract, segments []geom.T) map[string]float64 {
	miles := make(map[string]float64)
	for _, seg := range segments {
		cx, cy := planar.LineCentroid(seg)
		for _, tr := range tracts {
			if !boundsContain(tr.bounds, cx, cy) {
				continue
			}
			if planar.PointInPolygon(cx, cy, tr.geom) {
				miles[tr.geoid] += planar.Length(seg) / planar.MetersPerMile
				break
			}
		}
	}
	return miles
}

// leftJoin expands the sparse attribution map onto the full tract list so
// tracts outside infrastructure coverage are explicit zeros, not gaps.
func (e *Engine) leftJoin(tracts []tract.Tract, miles map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(tracts))
	for _, tr := range tracts {
		out[tr.GEOID] = miles[tr.GEOID]
	}
	return out
}

func hasAny(miles map[string]float64) bool {
	for _, m := range miles {
		if m > 0 {
			return true
		}
	}
	return false
}

func boundsOverlap(a, b *geom.Bounds) bool {
	return a.Min(0) <= b.Max(0) && b.Min(0) <= a.Max(0) &&
		a.Min(1) <= b.Max(1) && b.Min(1) <= a.Max(1)
}

func boundsContain(b *geom.Bounds, x, y float64) bool {
	return x >= b.Min(0) && x <= b.Max(0) && y >= b.Min(1) && y <= b.Max(1)
}
