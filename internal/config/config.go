// Package config loads pipeline configuration from file and environment.
package config

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	ACS     ACSConfig     `yaml:"acs" mapstructure:"acs"`
	Sources SourcesConfig `yaml:"sources" mapstructure:"sources"`
	Geo     GeoConfig     `yaml:"geo" mapstructure:"geo"`
	Analyze AnalyzeConfig `yaml:"analyze" mapstructure:"analyze"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// ACSConfig configures the Census ACS API source.
type ACSConfig struct {
	BaseURL   string   `yaml:"base_url" mapstructure:"base_url"`
	Variables []string `yaml:"variables" mapstructure:"variables"`
	StateFIPS string   `yaml:"state_fips" mapstructure:"state_fips"`
	County    string   `yaml:"county_fips" mapstructure:"county_fips"`
	CachePath string   `yaml:"cache_path" mapstructure:"cache_path"`
}

// SourcesConfig holds local input file locations.
type SourcesConfig struct {
	DataDir        string `yaml:"data_dir" mapstructure:"data_dir"`
	TractsFile     string `yaml:"tracts_file" mapstructure:"tracts_file"`
	EnviroFile     string `yaml:"enviro_file" mapstructure:"enviro_file"`
	BikewaysFile   string `yaml:"bikeways_file" mapstructure:"bikeways_file"`
	ACSSnapshotCSV string `yaml:"acs_snapshot_csv" mapstructure:"acs_snapshot_csv"`
}

// GeoConfig holds projection and county filtering parameters.
type GeoConfig struct {
	// TractPrefix is the 5-digit state+county FIPS prefix every GEOID
	// in scope must carry (06037 = Los Angeles County).
	TractPrefix string `yaml:"tract_prefix" mapstructure:"tract_prefix"`
}

// AnalyzeConfig configures the statistical stages.
type AnalyzeConfig struct {
	Clusters int   `yaml:"clusters" mapstructure:"clusters"`
	MinRows  int   `yaml:"min_rows" mapstructure:"min_rows"`
	Seed     int64 `yaml:"seed" mapstructure:"seed"`
}

// OutputConfig configures where results are written.
type OutputConfig struct {
	ResultsDir string `yaml:"results_dir" mapstructure:"results_dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BIKEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("acs.base_url", "https://api.census.gov/data/2023/acs/acs5")
	v.SetDefault("acs.variables", []string{"B19013_001E", "B01001_001E", "B08201_002E"})
	v.SetDefault("acs.state_fips", "06")
	v.SetDefault("acs.county_fips", "037")
	v.SetDefault("acs.cache_path", filepath.Join("data", "cache", "acs.db"))
	v.SetDefault("sources.data_dir", "data")
	v.SetDefault("sources.tracts_file", filepath.Join("data", "spatial", "la_tracts.geojson"))
	v.SetDefault("sources.enviro_file", filepath.Join("data", "raw", "CalEnviroScreenData.xlsx"))
	v.SetDefault("sources.bikeways_file", filepath.Join("data", "raw", "LA_County_Bikeways_(2024_Metro_ATSP).shp"))
	v.SetDefault("sources.acs_snapshot_csv", filepath.Join("data", "processed", "acs_la_tracts.csv"))
	v.SetDefault("geo.tract_prefix", "06037")
	v.SetDefault("analyze.clusters", 5)
	v.SetDefault("analyze.min_rows", 20)
	v.SetDefault("analyze.seed", 42)
	v.SetDefault("output.results_dir", "results")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
