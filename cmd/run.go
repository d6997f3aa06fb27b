package main

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/bikeway-cli/internal/acs"
	"github.com/sells-group/bikeway-cli/internal/analyze"
	"github.com/sells-group/bikeway-cli/internal/cache"
	"github.com/sells-group/bikeway-cli/internal/dataset"
	"github.com/sells-group/bikeway-cli/internal/enviro"
	"github.com/sells-group/bikeway-cli/internal/fetcher"
	"github.com/sells-group/bikeway-cli/internal/overlay"
	"github.com/sells-group/bikeway-cli/internal/render"
	"github.com/sells-group/bikeway-cli/internal/shapefile"
	"github.com/sells-group/bikeway-cli/internal/tract"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full analysis pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runID := uuid.New().String()
		log := zap.L().With(zap.String("run_id", runID))

		resultsDir := cfg.Output.ResultsDir
		if err := os.MkdirAll(resultsDir, 0o755); err != nil {
			return eris.Wrap(err, "create results dir")
		}

		// Demographics, with cached fallback.
		store := openCache(log)
		if store != nil {
			defer store.Close()
		}
		httpf := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{})
		demo, err := acs.NewLoader(cfg.ACS, httpf, store).Load(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "load demographics")
		}
		if len(demo) > 0 {
			if err := acs.WriteSnapshot(cfg.Sources.ACSSnapshotCSV, demo); err != nil {
				log.Warn("failed to write ACS snapshot", zap.Error(err))
			}
		}
		log.Info("stage complete", zap.String("stage", "demographics"), zap.Int("tracts", len(demo)))

		// Tract boundaries. Unreadable boundaries halt the run.
		tracts, err := tract.NewLoader(cfg.Geo.TractPrefix).Load(cfg.Sources.TractsFile)
		if err != nil {
			return eris.Wrap(err, "load tract boundaries")
		}
		log.Info("stage complete", zap.String("stage", "boundaries"), zap.Int("tracts", len(tracts)))

		// Bikeway lines. A missing file means zero infrastructure.
		segments, crs := loadBikeways(cfg.Sources.BikewaysFile, log)
		res, err := overlay.NewEngine().JoinLengths(tracts, segments, crs)
		if err != nil {
			return eris.Wrap(err, "spatial join")
		}
		log.Info("stage complete",
			zap.String("stage", "overlay"),
			zap.String("mode", res.Mode.String()),
			zap.Float64("total_miles", res.TotalMiles()))

		// Environmental scores. A missing file degrades to no scores.
		env := loadEnviro(log)

		// Merge and derive.
		rows := dataset.Merge(demo, env, res.Miles, tracts)
		dataset.Derive(rows)
		if err := dataset.WriteCSV(filepath.Join(resultsDir, "master_analysis_data.csv"), rows); err != nil {
			return err
		}
		log.Info("stage complete", zap.String("stage", "merge"), zap.Int("rows", len(rows)))

		// Regression.
		if err := writeRegression(resultsDir, rows); err != nil {
			return err
		}

		// Clustering.
		clustered := analyze.Cluster(rows, analyze.ClusterOptions{
			K:       cfg.Analyze.Clusters,
			MinRows: cfg.Analyze.MinRows,
			Seed:    cfg.Analyze.Seed,
		})
		if clustered {
			if err := dataset.WriteClustersCSV(filepath.Join(resultsDir, "neighborhood_clusters.csv"), rows); err != nil {
				return err
			}
		}

		// Maps and plots.
		if err := renderOutputs(resultsDir, rows, tracts, clustered); err != nil {
			return err
		}

		log.Info("pipeline complete", zap.String("results_dir", resultsDir))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func openCache(log *zap.Logger) *cache.Store {
	if err := os.MkdirAll(filepath.Dir(cfg.ACS.CachePath), 0o755); err != nil {
		log.Warn("cannot create cache dir, running uncached", zap.Error(err))
		return nil
	}
	store, err := cache.Open(cfg.ACS.CachePath)
	if err != nil {
		log.Warn("cannot open cache, running uncached", zap.Error(err))
		return nil
	}
	return store
}

// loadBikeways reads the infrastructure shapefile and keeps the line
// geometries. An absent or unreadable file is not fatal: the pipeline
// proceeds with zero infrastructure everywhere.
func loadBikeways(path string, log *zap.Logger) ([]geom.T, shapefile.CRS) {
	records, crs, err := shapefile.Read(path)
	if err != nil {
		log.Warn("bikeways unavailable, assuming zero infrastructure",
			zap.String("path", path),
			zap.Error(err))
		return nil, shapefile.CRSGeographic
	}

	var segments []geom.T
	var skipped int
	for _, rec := range records {
		switch rec.Geom.(type) {
		case *geom.LineString, *geom.MultiLineString:
			segments = append(segments, rec.Geom)
		default:
			skipped++
		}
	}
	if skipped > 0 {
		log.Warn("non-line shapes in bikeways file skipped", zap.Int("shapes", skipped))
	}
	return segments, crs
}

// loadEnviro reads the burden scores. A missing file degrades to an
// empty table; a present file with no recognizable schema is fatal.
func loadEnviro(log *zap.Logger) []enviro.Record {
	path := cfg.Sources.EnviroFile
	if _, err := os.Stat(path); err != nil {
		log.Warn("environmental data unavailable, scores will be missing",
			zap.String("path", path),
			zap.Error(err))
		return nil
	}
	env, err := enviro.NewLoader(cfg.Geo.TractPrefix).Load(path)
	if err != nil {
		log.Warn("environmental data unreadable, scores will be missing", zap.Error(err))
		return nil
	}
	return env
}

func writeRegression(resultsDir string, rows []dataset.Row) error {
	res, err := analyze.Regress(rows, cfg.Analyze.MinRows)
	if err != nil {
		if eris.Is(err, analyze.ErrInsufficientData) {
			zap.L().Warn("regression skipped", zap.Error(err))
			return nil
		}
		return err
	}
	path := filepath.Join(resultsDir, "regression_results.txt")
	if err := os.WriteFile(path, []byte(res.Summary()), 0o644); err != nil {
		return eris.Wrap(err, "write regression results")
	}
	return nil
}

func renderOutputs(resultsDir string, rows []dataset.Row, tracts []tract.Tract, clustered bool) error {
	r := render.New()
	geoms := dataset.AttachGeometry(tracts)

	density := make(map[string]float64, len(rows))
	scores := make(map[string]float64, len(rows))
	rates := make(map[string]float64, len(rows))
	clusters := make(map[string]int, len(rows))
	for _, row := range rows {
		density[row.GEOID] = row.BikeDensity
		scores[row.GEOID] = row.CESScore
		rates[row.GEOID] = row.NoVehicleRate
		clusters[row.GEOID] = row.Cluster
	}

	maps := []struct {
		file   string
		title  string
		values map[string]float64
	}{
		{"map_bike_density.png", "Bike Lane Density (Miles/Sq Mi)", density},
		{"map_ces_score.png", "CalEnviroScreen 4.0 Score", scores},
		{"map_vehicle_rate.png", "Households without Vehicle Access", rates},
	}
	for _, m := range maps {
		if err := r.Choropleth(filepath.Join(resultsDir, m.file), m.title, geoms, m.values); err != nil {
			return err
		}
	}
	if clustered {
		if err := r.ClusterMap(filepath.Join(resultsDir, "map_clusters.png"), "Neighborhood Clusters (K-Means)", geoms, clusters); err != nil {
			return err
		}
	}

	xs := make([]float64, len(rows))
	ces := make([]float64, len(rows))
	pm := make([]float64, len(rows))
	for i, row := range rows {
		xs[i] = row.BikeDensity
		ces[i] = row.CESScore
		pm[i] = row.PM25
	}
	if err := r.Scatter(filepath.Join(resultsDir, "scatter_ces.png"),
		"Bike Lane Density vs CES 4.0 Score", "Bike Lane Density (Miles/Sq Mi)", "CES 4.0 Score", xs, ces); err != nil {
		return err
	}
	if err := r.Scatter(filepath.Join(resultsDir, "scatter_pm25.png"),
		"Bike Lane Density vs PM2.5 Levels", "Bike Lane Density (Miles/Sq Mi)", "PM2.5", xs, pm); err != nil {
		return err
	}

	cesNo, cesYes := splitByPresence(rows, func(row dataset.Row) float64 { return row.CESScore })
	if err := r.BoxPlots(filepath.Join(resultsDir, "boxplot_ces.png"),
		"CES 4.0 Score by Bike Lane Presence", "CES 4.0 Score", cesNo, cesYes); err != nil {
		return err
	}
	pmNo, pmYes := splitByPresence(rows, func(row dataset.Row) float64 { return row.PM25 })
	return r.BoxPlots(filepath.Join(resultsDir, "boxplot_pm25.png"),
		"PM2.5 Levels by Bike Lane Presence", "PM2.5", pmNo, pmYes)
}

// splitByPresence partitions a value by whether the tract has any bike
// lanes.
func splitByPresence(rows []dataset.Row, value func(dataset.Row) float64) (without, with []float64) {
	for _, row := range rows {
		if row.BikewayMiles > 0 {
			with = append(with, value(row))
		} else {
			without = append(without, value(row))
		}
	}
	return without, with
}
