package planar

import (
	"fmt"
	"math"

	"github.com/twpayne/go-geom"
)

// Repair returns a valid version of an areal geometry. Rings are closed,
// degenerate vertices dropped, and self-intersecting ("bowtie") rings are
// re-noded at their crossing points and split into simple loops, matching
// what a zero-distance buffer does in common GIS stacks. The result is a
// Polygon or MultiPolygon; nil when nothing areal survives.
//
// Only polygons are ever repaired. Line geometry must not pass through
// here: buffering or re-noding a line corrupts it.
func Repair(g geom.T) geom.T {
	switch t := g.(type) {
	case *geom.Polygon:
		polys := repairPolygon(t)
		return assemble(polys)
	case *geom.MultiPolygon:
		var polys []*geom.Polygon
		for i := 0; i < t.NumPolygons(); i++ {
			polys = append(polys, repairPolygon(t.Polygon(i))...)
		}
		return assemble(polys)
	default:
		return nil
	}
}

func assemble(polys []*geom.Polygon) geom.T {
	switch len(polys) {
	case 0:
		return nil
	case 1:
		return polys[0]
	}
	mp := geom.NewMultiPolygon(geom.XY)
	for _, p := range polys {
		_ = mp.Push(p)
	}
	return mp
}

// repairPolygon cleans one polygon. The shell may split into several
// simple loops; holes are cleaned the same way and re-attached to the
// loop that contains them.
func repairPolygon(p *geom.Polygon) []*geom.Polygon {
	flat := p.FlatCoords()
	ends := p.Ends()
	if len(ends) == 0 {
		return nil
	}

	shells := cleanRing(extractRing(flat, 0, ends[0]))
	if len(shells) == 0 {
		return nil
	}

	var holes [][]geom.Coord
	prev := ends[0]
	for _, end := range ends[1:] {
		holes = append(holes, cleanRing(extractRing(flat, prev, end))...)
		prev = end
	}

	polys := make([]*geom.Polygon, 0, len(shells))
	for _, shell := range shells {
		shellFlat := ringToFlat(shell)
		poly := geom.NewPolygon(geom.XY)
		_ = poly.Push(geom.NewLinearRingFlat(geom.XY, shellFlat))
		for _, hole := range holes {
			if len(hole) > 0 && pointInRings(hole[0][0], hole[0][1], shellFlat, []int{len(shellFlat)}) {
				_ = poly.Push(geom.NewLinearRingFlat(geom.XY, ringToFlat(hole)))
			}
		}
		polys = append(polys, poly)
	}
	return polys
}

func extractRing(flat []float64, start, end int) []geom.Coord {
	coords := make([]geom.Coord, 0, (end-start)/2)
	for i := start; i+1 < end; i += 2 {
		coords = append(coords, geom.Coord{flat[i], flat[i+1]})
	}
	return coords
}

func ringToFlat(coords []geom.Coord) []float64 {
	flat := make([]float64, 0, len(coords)*2+2)
	for _, c := range coords {
		flat = append(flat, c[0], c[1])
	}
	// go-geom linear rings are stored closed.
	if len(coords) > 0 && (coords[0][0] != coords[len(coords)-1][0] || coords[0][1] != coords[len(coords)-1][1]) {
		flat = append(flat, coords[0][0], coords[0][1])
	}
	return flat
}

// cleanRing normalizes one ring and splits it at self-intersections.
// Input and output rings are open (no repeated closing vertex). Loops
// with negligible area are dropped.
func cleanRing(ring []geom.Coord) [][]geom.Coord {
	ring = dedupe(ring)
	if len(ring) < 3 {
		return nil
	}
	if !selfIntersects(ring) {
		return [][]geom.Coord{ring}
	}

	noded := renode(ring)
	loops := splitLoops(noded)

	var out [][]geom.Coord
	for _, loop := range loops {
		loop = dedupe(loop)
		if len(loop) < 3 {
			continue
		}
		if math.Abs(coordArea(loop)) < 1e-9 {
			continue
		}
		out = append(out, loop)
	}
	return out
}

// dedupe removes consecutive duplicate vertices and an explicit closing
// vertex.
func dedupe(ring []geom.Coord) []geom.Coord {
	if len(ring) == 0 {
		return ring
	}
	out := ring[:0:0]
	for _, c := range ring {
		if len(out) > 0 && samePoint(out[len(out)-1], c) {
			continue
		}
		out = append(out, c)
	}
	if len(out) > 1 && samePoint(out[0], out[len(out)-1]) {
		out = out[:len(out)-1]
	}
	return out
}

func samePoint(a, b geom.Coord) bool {
	return math.Abs(a[0]-b[0]) < 1e-9 && math.Abs(a[1]-b[1]) < 1e-9
}

func coordArea(ring []geom.Coord) float64 {
	var sum float64
	n := len(ring)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += ring[i][0]*ring[j][1] - ring[j][0]*ring[i][1]
	}
	return sum / 2
}

// selfIntersects reports whether any two non-adjacent edges of the ring
// cross.
func selfIntersects(ring []geom.Coord) bool {
	n := len(ring)
	for i := 0; i < n; i++ {
		a, b := ring[i], ring[(i+1)%n]
		for j := i + 2; j < n; j++ {
			// Skip the edge sharing a vertex with edge i (wraparound).
			if i == 0 && j == n-1 {
				continue
			}
			c, d := ring[j], ring[(j+1)%n]
			if _, _, ok := segIntersect(a[0], a[1], b[0], b[1], c[0], c[1], d[0], d[1]); ok {
				return true
			}
		}
	}
	return false
}

// renode rebuilds the ring vertex sequence with every edge-edge crossing
// inserted as an explicit vertex, so crossings appear exactly twice.
func renode(ring []geom.Coord) []geom.Coord {
	n := len(ring)
	inserted := make([][]struct {
		t float64
		p geom.Coord
	}, n)

	for i := 0; i < n; i++ {
		a, b := ring[i], ring[(i+1)%n]
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				continue
			}
			c, d := ring[j], ring[(j+1)%n]
			t, u, ok := segIntersect(a[0], a[1], b[0], b[1], c[0], c[1], d[0], d[1])
			if !ok {
				continue
			}
			p := geom.Coord{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}
			inserted[i] = append(inserted[i], struct {
				t float64
				p geom.Coord
			}{t, p})
			inserted[j] = append(inserted[j], struct {
				t float64
				p geom.Coord
			}{u, p})
		}
	}

	var out []geom.Coord
	for i := 0; i < n; i++ {
		out = append(out, ring[i])
		ins := inserted[i]
		for k := 1; k < len(ins); k++ {
			for l := k; l > 0 && ins[l-1].t > ins[l].t; l-- {
				ins[l-1], ins[l] = ins[l], ins[l-1]
			}
		}
		for _, x := range ins {
			out = append(out, x.p)
		}
	}
	return out
}

// splitLoops walks a re-noded vertex sequence and pops a loop every time
// a vertex repeats, yielding simple loops.
func splitLoops(seq []geom.Coord) [][]geom.Coord {
	var loops [][]geom.Coord
	var stack []geom.Coord
	seen := map[string]int{}

	key := func(c geom.Coord) string {
		return fmt.Sprintf("%.6f,%.6f", c[0], c[1])
	}

	for _, c := range seq {
		k := key(c)
		if idx, ok := seen[k]; ok {
			loop := make([]geom.Coord, len(stack)-idx)
			copy(loop, stack[idx:])
			for _, lc := range stack[idx+1:] {
				delete(seen, key(lc))
			}
			stack = stack[:idx+1]
			if len(loop) >= 3 {
				loops = append(loops, loop)
			}
			continue
		}
		seen[k] = len(stack)
		stack = append(stack, c)
	}

	if len(stack) >= 3 {
		loops = append(loops, stack)
	}
	return loops
}
