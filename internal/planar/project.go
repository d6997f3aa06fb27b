// Package planar implements the projected-coordinate geometry the pipeline
// measures with: an ellipsoidal Albers equal-area projection, ring and line
// measurement, polygon repair, and point-in-polygon tests over go-geom types.
package planar

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Unit conversion constants for measurements taken in projected meters.
const (
	MetersPerMile     = 1609.344
	SqMetersPerSqMile = 2589988.110336
)

// Projector is an ellipsoidal Albers equal-area conic projection
// (Snyder 1987, eq. 14-1..14-6). Coordinates in, meters out.
type Projector struct {
	a      float64 // semi-major axis
	e      float64 // eccentricity
	e2     float64
	n      float64
	c      float64
	rho0   float64
	lonRef float64 // central meridian, radians
	fe, fn float64 // false easting/northing
}

// NewCaliforniaAlbers returns a Projector with the EPSG:3310 (NAD83 /
// California Albers) parameters: standard parallels 34 and 40.5, origin at
// the equator on the 120W meridian, false northing -4,000,000 m. Area and
// length are preserved well across the whole state, which makes it the
// measurement frame for tract areas and bikeway lengths.
func NewCaliforniaAlbers() *Projector {
	const (
		a  = 6378137.0        // GRS80
		f  = 1 / 298.257222101
		p1 = 34.0 * math.Pi / 180
		p2 = 40.5 * math.Pi / 180
		p0 = 0.0
		l0 = -120.0 * math.Pi / 180
		fe = 0.0
		fn = -4000000.0
	)

	e2 := 2*f - f*f
	e := math.Sqrt(e2)

	m1 := albersM(p1, e2)
	m2 := albersM(p2, e2)
	q0 := albersQ(p0, e, e2)
	q1 := albersQ(p1, e, e2)
	q2 := albersQ(p2, e, e2)

	n := (m1*m1 - m2*m2) / (q2 - q1)
	c := m1*m1 + n*q1

	return &Projector{
		a:      a,
		e:      e,
		e2:     e2,
		n:      n,
		c:      c,
		rho0:   a * math.Sqrt(c-n*q0) / n,
		lonRef: l0,
		fe:     fe,
		fn:     fn,
	}
}

func albersM(phi, e2 float64) float64 {
	s := math.Sin(phi)
	return math.Cos(phi) / math.Sqrt(1-e2*s*s)
}

func albersQ(phi, e, e2 float64) float64 {
	s := math.Sin(phi)
	return (1 - e2) * (s/(1-e2*s*s) - (1/(2*e))*math.Log((1-e*s)/(1+e*s)))
}

// Project converts geographic degrees to projected meters.
func (p *Projector) Project(lon, lat float64) (x, y float64) {
	phi := lat * math.Pi / 180
	lam := lon * math.Pi / 180

	q := albersQ(phi, p.e, p.e2)
	rho := p.a * math.Sqrt(p.c-p.n*q) / p.n
	theta := p.n * (lam - p.lonRef)

	x = p.fe + rho*math.Sin(theta)
	y = p.fn + p.rho0 - rho*math.Cos(theta)
	return x, y
}

// ProjectGeom returns a copy of g with every coordinate projected.
// Only XY layouts are supported; loaders strip Z/M before projecting.
func (p *Projector) ProjectGeom(g geom.T) (geom.T, error) {
	if g.Layout() != geom.XY {
		return nil, eris.Errorf("planar: unsupported layout %v", g.Layout())
	}

	project := func(flat []float64) []float64 {
		out := make([]float64, len(flat))
		for i := 0; i+1 < len(flat); i += 2 {
			out[i], out[i+1] = p.Project(flat[i], flat[i+1])
		}
		return out
	}

	switch t := g.(type) {
	case *geom.Point:
		return geom.NewPointFlat(geom.XY, project(t.FlatCoords())), nil
	case *geom.LineString:
		return geom.NewLineStringFlat(geom.XY, project(t.FlatCoords())), nil
	case *geom.MultiLineString:
		return geom.NewMultiLineStringFlat(geom.XY, project(t.FlatCoords()), t.Ends()), nil
	case *geom.Polygon:
		return geom.NewPolygonFlat(geom.XY, project(t.FlatCoords()), t.Ends()), nil
	case *geom.MultiPolygon:
		return geom.NewMultiPolygonFlat(geom.XY, project(t.FlatCoords()), t.Endss()), nil
	default:
		return nil, eris.Errorf("planar: unsupported geometry type %T", g)
	}
}
