package planar

import (
	"math"

	"github.com/twpayne/go-geom"
)

// ringArea returns the signed shoelace area of the ring stored in
// flat[start:end] as XY pairs. Positive for counter-clockwise rings.
func ringArea(flat []float64, start, end int) float64 {
	var sum float64
	n := end - start
	if n < 6 {
		return 0
	}
	for i := start; i+3 < end; i += 2 {
		sum += flat[i]*flat[i+3] - flat[i+2]*flat[i+1]
	}
	// Close the ring in case the last vertex does not repeat the first.
	sum += flat[end-2]*flat[start+1] - flat[start]*flat[end-1]
	return sum / 2
}

// Area returns the planar area of a Polygon or MultiPolygon in squared
// coordinate units. Holes subtract from their shell. Non-areal geometries
// have zero area.
func Area(g geom.T) float64 {
	switch t := g.(type) {
	case *geom.Polygon:
		return polygonArea(t)
	case *geom.MultiPolygon:
		var sum float64
		for i := 0; i < t.NumPolygons(); i++ {
			sum += polygonArea(t.Polygon(i))
		}
		return sum
	default:
		return 0
	}
}

func polygonArea(p *geom.Polygon) float64 {
	flat := p.FlatCoords()
	ends := p.Ends()
	var area float64
	prev := 0
	for i, end := range ends {
		a := math.Abs(ringArea(flat, prev, end))
		if i == 0 {
			area += a
		} else {
			area -= a
		}
		prev = end
	}
	if area < 0 {
		return 0
	}
	return area
}

// Length returns the planar length of a LineString or MultiLineString in
// coordinate units.
func Length(g geom.T) float64 {
	switch t := g.(type) {
	case *geom.LineString:
		return flatLength(t.FlatCoords(), 0, len(t.FlatCoords()))
	case *geom.MultiLineString:
		flat := t.FlatCoords()
		ends := t.Ends()
		var sum float64
		prev := 0
		for _, end := range ends {
			sum += flatLength(flat, prev, end)
			prev = end
		}
		return sum
	default:
		return 0
	}
}

func flatLength(flat []float64, start, end int) float64 {
	var sum float64
	for i := start; i+3 < end; i += 2 {
		dx := flat[i+2] - flat[i]
		dy := flat[i+3] - flat[i+1]
		sum += math.Hypot(dx, dy)
	}
	return sum
}

// LineCentroid returns the length-weighted centroid of a LineString or
// MultiLineString. Falls back to the first coordinate for degenerate
// (zero-length) input.
func LineCentroid(g geom.T) (x, y float64) {
	var flat []float64
	var ends []int
	switch t := g.(type) {
	case *geom.LineString:
		flat = t.FlatCoords()
		ends = []int{len(flat)}
	case *geom.MultiLineString:
		flat = t.FlatCoords()
		ends = t.Ends()
	default:
		return 0, 0
	}
	if len(flat) < 2 {
		return 0, 0
	}

	var sx, sy, total float64
	prev := 0
	for _, end := range ends {
		for i := prev; i+3 < end; i += 2 {
			dx := flat[i+2] - flat[i]
			dy := flat[i+3] - flat[i+1]
			l := math.Hypot(dx, dy)
			sx += l * (flat[i] + flat[i+2]) / 2
			sy += l * (flat[i+1] + flat[i+3]) / 2
			total += l
		}
		prev = end
	}
	if total == 0 {
		return flat[0], flat[1]
	}
	return sx / total, sy / total
}

// PointInPolygon reports whether (x, y) lies inside g (Polygon or
// MultiPolygon) using even-odd ray casting, which handles holes without
// needing ring orientation to be consistent.
func PointInPolygon(x, y float64, g geom.T) bool {
	switch t := g.(type) {
	case *geom.Polygon:
		return pointInRings(x, y, t.FlatCoords(), t.Ends())
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			p := t.Polygon(i)
			if pointInRings(x, y, p.FlatCoords(), p.Ends()) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func pointInRings(x, y float64, flat []float64, ends []int) bool {
	inside := false
	prev := 0
	for _, end := range ends {
		n := end - prev
		if n < 6 {
			prev = end
			continue
		}
		j := end - 2 // index of last vertex in this ring
		for i := prev; i+1 < end; i += 2 {
			xi, yi := flat[i], flat[i+1]
			xj, yj := flat[j], flat[j+1]
			if (yi > y) != (yj > y) &&
				x < (xj-xi)*(y-yi)/(yj-yi)+xi {
				inside = !inside
			}
			j = i
		}
		prev = end
	}
	return inside
}

// segIntersect computes the proper intersection of segments AB and CD.
// Returns the parameters t (along AB) and u (along CD) in (0,1) when the
// segments cross strictly between their endpoints.
func segIntersect(ax, ay, bx, by, cx, cy, dx, dy float64) (t, u float64, ok bool) {
	rx, ry := bx-ax, by-ay
	sx, sy := dx-cx, dy-cy
	denom := rx*sy - ry*sx
	if denom == 0 {
		return 0, 0, false // parallel or collinear
	}
	qpx, qpy := cx-ax, cy-ay
	t = (qpx*sy - qpy*sx) / denom
	u = (qpx*ry - qpy*rx) / denom
	const eps = 1e-12
	if t <= eps || t >= 1-eps || u <= eps || u >= 1-eps {
		return 0, 0, false
	}
	return t, u, true
}

// segIntersectInclusive is segIntersect with endpoint touches included,
// used when clipping lines against ring boundaries.
func segIntersectInclusive(ax, ay, bx, by, cx, cy, dx, dy float64) (t float64, ok bool) {
	rx, ry := bx-ax, by-ay
	sx, sy := dx-cx, dy-cy
	denom := rx*sy - ry*sx
	if denom == 0 {
		return 0, false
	}
	qpx, qpy := cx-ax, cy-ay
	t = (qpx*sy - qpy*sx) / denom
	u := (qpx*ry - qpy*rx) / denom
	const eps = 1e-12
	if t < -eps || t > 1+eps || u < -eps || u > 1+eps {
		return 0, false
	}
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return t, true
}
