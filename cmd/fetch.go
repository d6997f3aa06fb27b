package main

import (
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/bikeway-cli/internal/acs"
	"github.com/sells-group/bikeway-cli/internal/fetcher"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch and cache the ACS demographic table without running the analysis",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runID := uuid.New().String()
		log := zap.L().With(zap.String("run_id", runID))

		store := openCache(log)
		if store != nil {
			defer store.Close()
		}

		httpf := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{})
		demo, err := acs.NewLoader(cfg.ACS, httpf, store).Load(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "load demographics")
		}
		if len(demo) == 0 {
			return eris.New("no demographic data available")
		}

		if err := acs.WriteSnapshot(cfg.Sources.ACSSnapshotCSV, demo); err != nil {
			return eris.Wrap(err, "write snapshot")
		}
		log.Info("demographics fetched",
			zap.Int("tracts", len(demo)),
			zap.String("snapshot", cfg.Sources.ACSSnapshotCSV))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}
