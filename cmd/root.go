package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/bikeway-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "bikeway-cli",
	Short: "Bicycle infrastructure equity analysis for LA County",
	Long:  "Joins Census demographics, CalEnviroScreen burden scores, and bikeway geometry across Los Angeles County census tracts, then fits regression and clustering models and renders maps.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
