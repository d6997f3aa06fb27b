// Package render draws the choropleth maps, scatter plots, and box
// plots produced at the end of a pipeline run.
package render

import (
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// missingColor fills tracts with no value on any map.
var missingColor = color.RGBA{R: 211, G: 211, B: 211, A: 255}

// quantileRamp is a 5-step viridis-like ramp, low to high.
var quantileRamp = []color.RGBA{
	{R: 68, G: 1, B: 84, A: 255},
	{R: 59, G: 82, B: 139, A: 255},
	{R: 33, G: 145, B: 140, A: 255},
	{R: 94, G: 201, B: 98, A: 255},
	{R: 253, G: 231, B: 37, A: 255},
}

// clusterPalette colors categorical cluster maps, worst burden first.
var clusterPalette = []color.RGBA{
	{R: 215, G: 48, B: 39, A: 255},
	{R: 252, G: 141, B: 89, A: 255},
	{R: 254, G: 224, B: 139, A: 255},
	{R: 145, G: 207, B: 96, A: 255},
	{R: 26, G: 152, B: 80, A: 255},
}

// Renderer draws PNG outputs into a results directory.
type Renderer struct {
	log *zap.Logger
}

func New() *Renderer {
	return &Renderer{log: zap.L().With(zap.String("component", "render"))}
}

// Choropleth draws tract polygons shaded by quantile bin of values.
// Tracts absent from values, or with NaN, are drawn light grey.
func (r *Renderer) Choropleth(path, title string, geoms map[string]geom.T, values map[string]float64) error {
	p := plot.New()
	p.Title.Text = title
	p.HideAxes()

	breaks := quantileBreaks(values, len(quantileRamp))
	var missing int
	for _, id := range sortedKeys(geoms) {
		v, ok := values[id]
		fill := missingColor
		if ok && !math.IsNaN(v) {
			fill = quantileRamp[binOf(v, breaks)]
		} else {
			missing++
		}
		if err := addPolygons(p, geoms[id], fill); err != nil {
			return err
		}
	}
	if missing > 0 {
		r.log.Warn("tracts drawn without a value",
			zap.String("map", filepath.Base(path)),
			zap.Int("tracts", missing))
	}
	return r.save(p, path, 12*vg.Inch, 10*vg.Inch)
}

// ClusterMap draws a categorical map of cluster labels. Label 0 is the
// highest-burden group and takes the first palette color; unassigned
// tracts are light grey.
func (r *Renderer) ClusterMap(path, title string, geoms map[string]geom.T, clusters map[string]int) error {
	p := plot.New()
	p.Title.Text = title
	p.HideAxes()

	for _, id := range sortedKeys(geoms) {
		fill := missingColor
		if label, ok := clusters[id]; ok && label >= 0 {
			fill = clusterPalette[label%len(clusterPalette)]
		}
		if err := addPolygons(p, geoms[id], fill); err != nil {
			return err
		}
	}
	return r.save(p, path, 12*vg.Inch, 10*vg.Inch)
}

// Scatter draws points with a least-squares fitted line. NaN pairs are
// dropped.
func (r *Renderer) Scatter(path, title, xLabel, yLabel string, xs, ys []float64) error {
	cleanX, cleanY := dropNaNPairs(xs, ys)
	if len(cleanX) == 0 {
		r.log.Warn("scatter skipped, no complete points", zap.String("plot", filepath.Base(path)))
		return nil
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel

	pts := make(plotter.XYs, len(cleanX))
	for i := range cleanX {
		pts[i].X = cleanX[i]
		pts[i].Y = cleanY[i]
	}
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return eris.Wrap(err, "render: scatter")
	}
	sc.GlyphStyle.Color = color.RGBA{R: 70, G: 130, B: 180, A: 160}
	sc.GlyphStyle.Radius = vg.Points(2.5)
	p.Add(sc, plotter.NewGrid())

	if len(cleanX) >= 2 {
		alpha, beta := stat.LinearRegression(cleanX, cleanY, nil, false)
		minX, maxX := cleanX[0], cleanX[0]
		for _, x := range cleanX {
			minX = math.Min(minX, x)
			maxX = math.Max(maxX, x)
		}
		fit, err := plotter.NewLine(plotter.XYs{
			{X: minX, Y: alpha + beta*minX},
			{X: maxX, Y: alpha + beta*maxX},
		})
		if err != nil {
			return eris.Wrap(err, "render: fit line")
		}
		fit.Color = color.RGBA{R: 178, G: 34, B: 34, A: 255}
		fit.Width = vg.Points(2)
		p.Add(fit)
	}
	return r.save(p, path, 10*vg.Inch, 6*vg.Inch)
}

// BoxPlots compares a value's distribution between tracts without and
// with bike lanes, side by side.
func (r *Renderer) BoxPlots(path, title, yLabel string, without, with []float64) error {
	without = dropNaN(without)
	with = dropNaN(with)
	if len(without) == 0 && len(with) == 0 {
		r.log.Warn("box plot skipped, no complete values", zap.String("plot", filepath.Base(path)))
		return nil
	}

	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = yLabel
	p.X.Label.Text = "Has Bike Lanes?"

	groups := []struct {
		loc    float64
		values []float64
	}{
		{0, without},
		{1, with},
	}
	for _, g := range groups {
		if len(g.values) == 0 {
			continue
		}
		box, err := plotter.NewBoxPlot(vg.Points(40), g.loc, plotter.Values(g.values))
		if err != nil {
			return eris.Wrap(err, "render: box plot")
		}
		p.Add(box)
	}
	p.NominalX("No", "Yes")
	return r.save(p, path, 8*vg.Inch, 6*vg.Inch)
}

func (r *Renderer) save(p *plot.Plot, path string, w, h vg.Length) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "render: create output dir")
	}
	if err := p.Save(w, h, path); err != nil {
		return eris.Wrapf(err, "render: save %s", path)
	}
	r.log.Info("plot written", zap.String("path", path))
	return nil
}

// addPolygons adds each shell ring of g as a filled polygon. Holes are
// not cut out; at county map scale they are invisible.
func addPolygons(p *plot.Plot, g geom.T, fill color.Color) error {
	for _, shell := range shellRings(g) {
		poly, err := plotter.NewPolygon(shell)
		if err != nil {
			return eris.Wrap(err, "render: polygon")
		}
		poly.Color = fill
		poly.LineStyle.Color = color.RGBA{R: 255, G: 255, B: 255, A: 255}
		poly.LineStyle.Width = vg.Points(0.2)
		p.Add(poly)
	}
	return nil
}

func shellRings(g geom.T) []plotter.XYs {
	var out []plotter.XYs
	switch t := g.(type) {
	case *geom.Polygon:
		if t.NumLinearRings() > 0 {
			out = append(out, ringXYs(t.LinearRing(0)))
		}
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			poly := t.Polygon(i)
			if poly.NumLinearRings() > 0 {
				out = append(out, ringXYs(poly.LinearRing(0)))
			}
		}
	}
	return out
}

func ringXYs(ring *geom.LinearRing) plotter.XYs {
	n := ring.NumCoords()
	xys := make(plotter.XYs, n)
	for i := 0; i < n; i++ {
		c := ring.Coord(i)
		xys[i].X = c[0]
		xys[i].Y = c[1]
	}
	return xys
}

// quantileBreaks returns bins-1 interior quantile cut points over the
// non-NaN values.
func quantileBreaks(values map[string]float64, bins int) []float64 {
	var clean []float64
	for _, v := range values {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	sort.Float64s(clean)
	if len(clean) == 0 {
		return nil
	}
	breaks := make([]float64, 0, bins-1)
	for i := 1; i < bins; i++ {
		q := float64(i) / float64(bins)
		breaks = append(breaks, stat.Quantile(q, stat.Empirical, clean, nil))
	}
	return breaks
}

func binOf(v float64, breaks []float64) int {
	for i, b := range breaks {
		if v <= b {
			return i
		}
	}
	return len(breaks)
}

func dropNaNPairs(xs, ys []float64) ([]float64, []float64) {
	var ox, oy []float64
	for i := range xs {
		if i < len(ys) && !math.IsNaN(xs[i]) && !math.IsNaN(ys[i]) {
			ox = append(ox, xs[i])
			oy = append(oy, ys[i])
		}
	}
	return ox, oy
}

func dropNaN(vals []float64) []float64 {
	var out []float64
	for _, v := range vals {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func sortedKeys(m map[string]geom.T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
