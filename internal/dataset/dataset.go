// Package dataset assembles the master analysis table: one row per
// tract, demographics as the anchor, environmental scores,
// infrastructure mileage, and tract areas joined on, and the normalized
// indicators derived from them. NaN is the missing value throughout.
package dataset

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/bikeway-cli/internal/acs"
	"github.com/sells-group/bikeway-cli/internal/enviro"
	"github.com/sells-group/bikeway-cli/internal/tract"
)

// Row is one tract's merged and derived indicators. Cluster is -1
// until assigned.
type Row struct {
	GEOID        string
	Name         string
	MedianIncome float64
	Population   float64
	NoVehicleHH  float64
	CESScore     float64
	PM25         float64
	BikewayMiles float64
	AreaSqMi     float64

	// Derived.
	NoVehicleRate float64 // vehicle-less households per resident
	BikeDensity   float64 // bikeway miles per square mile
	MilesPer1000  float64 // bikeway miles per 1000 residents

	Cluster int
}

// Merge left-joins everything onto the demographic table. The anchor
// row count is preserved exactly: every demographic tract appears once
// in the output and nothing else does. Tract areas are deduplicated by
// GEOID before joining. A tract with no infrastructure gets 0 miles,
// never NaN; every other missing join value is NaN.
func Merge(demo []acs.Record, env []enviro.Record, miles map[string]float64, tracts []tract.Tract) []Row {
	log := zap.L().With(zap.String("component", "dataset"))

	envByID := make(map[string]enviro.Record, len(env))
	for _, e := range env {
		if _, seen := envByID[e.GEOID]; !seen {
			envByID[e.GEOID] = e
		}
	}

	areaByID := make(map[string]float64, len(tracts))
	var dupArea int
	for _, t := range tracts {
		if _, seen := areaByID[t.GEOID]; seen {
			dupArea++
			continue
		}
		areaByID[t.GEOID] = t.AreaSqMi
	}
	if dupArea > 0 {
		log.Warn("duplicate tract areas dropped before merge", zap.Int("rows", dupArea))
	}

	rows := make([]Row, 0, len(demo))
	for _, d := range demo {
		r := Row{
			GEOID:        d.GEOID,
			Name:         d.Name,
			MedianIncome: d.MedianIncome,
			Population:   d.Population,
			NoVehicleHH:  d.NoVehicleHH,
			CESScore:     math.NaN(),
			PM25:         math.NaN(),
			AreaSqMi:     math.NaN(),
			Cluster:      -1,
		}
		if e, ok := envByID[d.GEOID]; ok {
			r.CESScore = e.CESScore
			r.PM25 = e.PM25
		}
		if a, ok := areaByID[d.GEOID]; ok {
			r.AreaSqMi = a
		}
		// Absent from the overlay means zero infrastructure, not unknown.
		r.BikewayMiles = miles[d.GEOID]
		rows = append(rows, r)
	}

	log.Info("master table merged",
		zap.Int("tracts", len(rows)),
		zap.Int("with_scores", len(envByID)),
		zap.Int("with_area", len(areaByID)),
	)
	return rows
}

// Derive fills the normalized indicators in place. Division by a zero
// or missing denominator yields NaN, never Inf.
func Derive(rows []Row) {
	for i := range rows {
		r := &rows[i]
		r.NoVehicleRate = ratio(r.NoVehicleHH, r.Population)
		r.BikeDensity = ratio(r.BikewayMiles, r.AreaSqMi)
		r.MilesPer1000 = ratio(r.BikewayMiles*1000, r.Population)
	}
}

func ratio(num, den float64) float64 {
	if den == 0 || math.IsNaN(den) || math.IsNaN(num) {
		return math.NaN()
	}
	return num / den
}

// AttachGeometry returns deduplicated tract geometries keyed by GEOID
// for map rendering.
func AttachGeometry(tracts []tract.Tract) map[string]geom.T {
	geoms := make(map[string]geom.T, len(tracts))
	for _, t := range tracts {
		if _, seen := geoms[t.GEOID]; !seen && t.Geom != nil {
			geoms[t.GEOID] = t.Geom
		}
	}
	return geoms
}

var masterHeader = []string{
	"geoid", "name", "median_income", "population", "no_vehicle_hh",
	"ces_score", "pm25", "bikeway_miles", "area_sq_mi",
	"no_vehicle_rate", "bike_density", "miles_per_1000",
}

// WriteCSV writes the master table, sorted by GEOID, with empty cells
// for NaN.
func WriteCSV(path string, rows []Row) error {
	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].GEOID < sorted[j].GEOID })

	f, err := createFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(masterHeader); err != nil {
		return eris.Wrap(err, "dataset: write header")
	}
	for _, r := range sorted {
		record := []string{
			r.GEOID, r.Name,
			formatCell(r.MedianIncome), formatCell(r.Population), formatCell(r.NoVehicleHH),
			formatCell(r.CESScore), formatCell(r.PM25),
			formatCell(r.BikewayMiles), formatCell(r.AreaSqMi),
			formatCell(r.NoVehicleRate), formatCell(r.BikeDensity), formatCell(r.MilesPer1000),
		}
		if err := w.Write(record); err != nil {
			return eris.Wrap(err, "dataset: write row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "dataset: flush")
}

// WriteClustersCSV writes the cluster assignments, skipping rows that
// never received one.
func WriteClustersCSV(path string, rows []Row) error {
	sorted := make([]Row, 0, len(rows))
	for _, r := range rows {
		if r.Cluster >= 0 {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].GEOID < sorted[j].GEOID })

	f, err := createFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"geoid", "cluster", "bike_density", "ces_score", "no_vehicle_rate"}); err != nil {
		return eris.Wrap(err, "dataset: write header")
	}
	for _, r := range sorted {
		record := []string{
			r.GEOID, strconv.Itoa(r.Cluster),
			formatCell(r.BikeDensity), formatCell(r.CESScore), formatCell(r.NoVehicleRate),
		}
		if err := w.Write(record); err != nil {
			return eris.Wrap(err, "dataset: write row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "dataset: flush")
}

func createFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrap(err, "dataset: create output dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: create %s", path)
	}
	return f, nil
}

func formatCell(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
