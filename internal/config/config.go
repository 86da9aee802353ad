package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/habitat-cli/internal/background"
	"github.com/sells-group/habitat-cli/internal/classifier"
	"github.com/sells-group/habitat-cli/internal/suitability"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Input        InputConfig        `yaml:"input" mapstructure:"input"`
	Reduce       ReduceConfig       `yaml:"reduce" mapstructure:"reduce"`
	Region       RegionConfig       `yaml:"region" mapstructure:"region"`
	Background   background.Options `yaml:"background" mapstructure:"background"`
	Train        TrainConfig        `yaml:"train" mapstructure:"train"`
	Plausibility PlausibilityConfig `yaml:"plausibility" mapstructure:"plausibility"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
}

// StoreConfig configures the run history backend. Driver "none" disables
// persistence.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// InputConfig names the input files of a run.
type InputConfig struct {
	Trajectory   string `yaml:"trajectory" mapstructure:"trajectory"`
	TrajectoryID string `yaml:"trajectory_id" mapstructure:"trajectory_id"`
	// TimeField is the timestamp attribute of shapefile trajectories.
	TimeField string `yaml:"time_field" mapstructure:"time_field"`
	SortFixes bool   `yaml:"sort_fixes" mapstructure:"sort_fixes"`
	// Predictors are ESRI ASCII grids sharing one grid; the first one
	// defines the grid for reduction.
	Predictors []string `yaml:"predictors" mapstructure:"predictors"`
	Reference  string   `yaml:"reference" mapstructure:"reference"`
	Labels     string   `yaml:"labels" mapstructure:"labels"`
	// Surface is a probability raster for the standalone plausibility test.
	Surface string `yaml:"surface" mapstructure:"surface"`
}

// ReduceConfig configures trajectory reduction and presence selection.
type ReduceConfig struct {
	Strict       bool `yaml:"strict" mapstructure:"strict"`
	MinDwellSecs int  `yaml:"min_dwell_secs" mapstructure:"min_dwell_secs"`
}

// RegionConfig configures spatial labeling.
type RegionConfig struct {
	Radius float64 `yaml:"radius" mapstructure:"radius"`
}

// TrainConfig configures cross-validation and the classifier.
type TrainConfig struct {
	Threshold   float64                    `yaml:"threshold" mapstructure:"threshold"`
	Seed        int64                      `yaml:"seed" mapstructure:"seed"`
	Workers     int                        `yaml:"workers" mapstructure:"workers"`
	SurfaceMode string                     `yaml:"surface_mode" mapstructure:"surface_mode"`
	Logistic    classifier.LogisticOptions `yaml:"logistic" mapstructure:"logistic"`
}

// PlausibilityConfig configures the mask thresholds tested against the
// reference layer.
type PlausibilityConfig struct {
	Thresholds []float64 `yaml:"thresholds" mapstructure:"thresholds"`
	Chart      bool      `yaml:"chart" mapstructure:"chart"`
}

// OutputConfig selects the artefacts written per run.
type OutputConfig struct {
	Dir       string `yaml:"dir" mapstructure:"dir"`
	Shapefile bool   `yaml:"shapefile" mapstructure:"shapefile"`
	GeoJSON   bool   `yaml:"geojson" mapstructure:"geojson"`
	Workbook  bool   `yaml:"workbook" mapstructure:"workbook"`
	Masks     bool   `yaml:"masks" mapstructure:"masks"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from ./config.yaml (if present) and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. Unlike the default
// ./config.yaml, an explicit file must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("HABITAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bg := background.DefaultOptions()
	lr := classifier.DefaultLogisticOptions()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "habitat.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	// Empty input defaults register the keys so AutomaticEnv can fill them.
	v.SetDefault("input.trajectory", "")
	v.SetDefault("input.trajectory_id", "")
	v.SetDefault("input.time_field", "time")
	v.SetDefault("input.sort_fixes", false)
	v.SetDefault("input.predictors", []string{})
	v.SetDefault("input.reference", "")
	v.SetDefault("input.labels", "")
	v.SetDefault("input.surface", "")
	v.SetDefault("reduce.strict", false)
	v.SetDefault("reduce.min_dwell_secs", 0)
	v.SetDefault("region.radius", 0.0)
	v.SetDefault("background.method", string(bg.Method))
	v.SetDefault("background.count", bg.Count)
	v.SetDefault("background.seed", bg.Seed)
	v.SetDefault("background.components", bg.Components)
	v.SetDefault("background.variance_fraction", bg.VarianceFraction)
	v.SetDefault("background.separation_sigma", bg.SeparationSigma)
	v.SetDefault("background.outlier_quantile", bg.OutlierQuantile)
	v.SetDefault("background.max_pca_samples", bg.MaxPCASamples)
	v.SetDefault("train.threshold", 0.5)
	v.SetDefault("train.seed", 42)
	v.SetDefault("train.workers", 4)
	v.SetDefault("train.surface_mode", "mean")
	v.SetDefault("train.logistic.l2", lr.L2)
	v.SetDefault("train.logistic.max_iterations", lr.MaxIterations)
	v.SetDefault("plausibility.thresholds", []float64{0.5, 0.75, 0.9})
	v.SetDefault("plausibility.chart", true)
	v.SetDefault("output.dir", "out")
	v.SetDefault("output.shapefile", true)
	v.SetDefault("output.geojson", true)
	v.SetDefault("output.workbook", true)
	v.SetDefault("output.masks", false)

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

// Validate checks the settings needed by mode: "run", "reduce",
// "plausibility" or "runs". All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch mode {
	case "run":
		c.validateStore(add)
		c.validateTrajectory(add)
		if len(c.Input.Predictors) == 0 {
			add("input.predictors requires at least one raster")
		}
		if (c.Input.Reference == "") != (c.Input.Labels == "") {
			add("input.reference and input.labels must be set together")
		}
		if c.Region.Radius < 0 {
			add("region.radius must be >= 0")
		}
		if err := c.Background.Validate(); err != nil {
			add("%s", err.Error())
		}
		if c.Train.Threshold <= 0 || c.Train.Threshold >= 1 {
			add("train.threshold must be in (0, 1)")
		}
		if c.Train.Workers < 1 || c.Train.Workers > 64 {
			add("train.workers must be between 1 and 64")
		}
		if c.Train.SurfaceMode != "mean" && c.Train.SurfaceMode != "final" {
			add("train.surface_mode must be mean or final")
		}
		if c.Train.Logistic.L2 < 0 {
			add("train.logistic.l2 must be >= 0")
		}
		if c.Train.Logistic.MaxIterations < 1 {
			add("train.logistic.max_iterations must be >= 1")
		}
		c.validateThresholds(add)
		if c.Output.Dir == "" {
			add("output.dir is required")
		}
	case "reduce":
		c.validateTrajectory(add)
		if len(c.Input.Predictors) == 0 {
			add("input.predictors requires a raster defining the grid")
		}
		if c.Output.Dir == "" {
			add("output.dir is required")
		}
	case "plausibility":
		if c.Input.Surface == "" {
			add("input.surface is required")
		}
		if c.Input.Reference == "" {
			add("input.reference is required")
		}
		if c.Input.Labels == "" {
			add("input.labels is required")
		}
		c.validateThresholds(add)
	case "runs":
		c.validateStore(add)
		if c.Store.Driver == "none" {
			add("store.driver none has no run history")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore(add func(string, ...any)) {
	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required")
		}
	case "none":
	default:
		add("store.driver must be sqlite, postgres or none")
	}
	if c.Store.MaxConns < 0 || c.Store.MinConns < 0 {
		add("store pool sizes must be >= 0")
	}
}

func (c *Config) validateTrajectory(add func(string, ...any)) {
	if c.Input.Trajectory == "" {
		add("input.trajectory is required")
	}
	if c.Reduce.MinDwellSecs < 0 {
		add("reduce.min_dwell_secs must be >= 0")
	}
}

func (c *Config) validateThresholds(add func(string, ...any)) {
	seen := make(map[int]float64, len(c.Plausibility.Thresholds))
	for _, t := range c.Plausibility.Thresholds {
		if t < 0 || t > 1 || math.IsNaN(t) {
			add("plausibility.thresholds must be in [0, 1], got %g", t)
			continue
		}
		pct := suitability.MaskPercent(t)
		if prev, ok := seen[pct]; ok {
			add("plausibility.thresholds %g and %g both map to mask %s", prev, t, suitability.MaskName(t))
			continue
		}
		seen[pct] = t
	}
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
