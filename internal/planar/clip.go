package planar

import (
	"math"
	"sort"

	"github.com/twpayne/go-geom"
)

// ClipLength returns the total length of the parts of line that lie inside
// poly, splitting the line at every ring crossing. line must be a
// LineString or MultiLineString and poly a Polygon or MultiPolygon, all in
// the same projected frame. The result never exceeds Length(line):
// clipping subdivides, it does not duplicate.
func ClipLength(line, poly geom.T) float64 {
	edges := collectEdges(poly)
	if len(edges) == 0 {
		return 0
	}

	var total float64
	eachLineString(line, func(flat []float64) {
		for i := 0; i+3 < len(flat); i += 2 {
			total += clipSegment(flat[i], flat[i+1], flat[i+2], flat[i+3], edges, poly)
		}
	})
	return total
}

type edge struct {
	ax, ay, bx, by float64
}

func collectEdges(poly geom.T) []edge {
	var edges []edge
	appendRings := func(flat []float64, ends []int) {
		prev := 0
		for _, end := range ends {
			j := end - 2
			for i := prev; i+1 < end; i += 2 {
				edges = append(edges, edge{flat[j], flat[j+1], flat[i], flat[i+1]})
				j = i
			}
			prev = end
		}
	}

	switch t := poly.(type) {
	case *geom.Polygon:
		appendRings(t.FlatCoords(), t.Ends())
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			p := t.Polygon(i)
			appendRings(p.FlatCoords(), p.Ends())
		}
	}
	return edges
}

func eachLineString(line geom.T, fn func(flat []float64)) {
	switch t := line.(type) {
	case *geom.LineString:
		fn(t.FlatCoords())
	case *geom.MultiLineString:
		flat := t.FlatCoords()
		prev := 0
		for _, end := range t.Ends() {
			fn(flat[prev:end])
			prev = end
		}
	}
}

// clipSegment splits one line segment at every boundary crossing and sums
// the pieces whose midpoints fall inside the polygon.
func clipSegment(ax, ay, bx, by float64, edges []edge, poly geom.T) float64 {
	ts := []float64{0, 1}
	for _, e := range edges {
		if t, ok := segIntersectInclusive(ax, ay, bx, by, e.ax, e.ay, e.bx, e.by); ok {
			ts = append(ts, t)
		}
	}
	sort.Float64s(ts)

	dx, dy := bx-ax, by-ay
	segLen := math.Hypot(dx, dy)
	if segLen == 0 {
		return 0
	}

	var inside float64
	for i := 0; i+1 < len(ts); i++ {
		t0, t1 := ts[i], ts[i+1]
		if t1-t0 < 1e-12 {
			continue
		}
		mid := (t0 + t1) / 2
		mx := ax + mid*dx
		my := ay + mid*dy
		if PointInPolygon(mx, my, poly) {
			inside += (t1 - t0) * segLen
		}
	}
	return inside
}
