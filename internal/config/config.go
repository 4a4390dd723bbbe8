// Package config loads skyalign settings from a config file, the environment and
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"skyalign/internal/alignment"
	"skyalign/internal/detect"

	"github.com/go-logr/logr"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix     = "SKYALIGN"
	envConfigPath = "SKYALIGN_CONFIG"
)

// Config holds user-editable settings.
type Config struct {
	Workers  int            `mapstructure:"workers"`
	Match    MatchConfig    `mapstructure:"match"`
	Estimate EstimateConfig `mapstructure:"estimate"`
	Resample ResampleConfig `mapstructure:"resample"`
	Detect   DetectConfig   `mapstructure:"detect"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Watch    WatchConfig    `mapstructure:"watch"`
}

// MatchConfig controls triangle matching.
type MatchConfig struct {
	MaxControlPoints   int     `mapstructure:"max_control_points"`
	InvariantTolerance float64 `mapstructure:"invariant_tolerance"`
	MinSupport         int     `mapstructure:"min_support"`
}

// EstimateConfig controls robust transform fitting.
type EstimateConfig struct {
	OutlierK         float64 `mapstructure:"outlier_k"`
	MinResidualScale float64 `mapstructure:"min_residual_scale"`
}

// ResampleConfig controls image warping.
type ResampleConfig struct {
	Interpolation string  `mapstructure:"interpolation"` // nearest, bilinear, bicubic
	FillValue     float64 `mapstructure:"fill_value"`
}

// DetectConfig mirrors detect.Params.
type DetectConfig struct {
	Threshold float64 `mapstructure:"threshold"`
	Smooth    float64 `mapstructure:"smooth"`
	MinArea   int     `mapstructure:"min_area"`
	MaxArea   int     `mapstructure:"max_area"`
	MaxStars  int     `mapstructure:"max_stars"`
}

// LogConfig controls CLI logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// StorageConfig locates the run history database. An empty path disables history.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// WatchConfig controls directory watching.
type WatchConfig struct {
	Extensions []string `mapstructure:"extensions"`
	OutputDir  string   `mapstructure:"output_dir"`
	SettleMS   int      `mapstructure:"settle_ms"` // Quiet period before a new file is read
}

// Default returns the built-in settings.
func Default() Config {
	a := alignment.DefaultOptions()
	d := detect.DefaultParams()
	return Config{
		Workers: 0,
		Match: MatchConfig{
			MaxControlPoints:   a.MaxControlPoints,
			InvariantTolerance: a.InvariantTolerance,
			MinSupport:         a.MinSupport,
		},
		Estimate: EstimateConfig{
			OutlierK:         a.OutlierK,
			MinResidualScale: a.MinResidualScale,
		},
		Resample: ResampleConfig{
			Interpolation: a.Interpolation.String(),
			FillValue:     a.FillValue,
		},
		Detect: DetectConfig{
			Threshold: d.Threshold,
			Smooth:    d.Smooth,
			MinArea:   d.MinArea,
			MaxArea:   d.MaxArea,
			MaxStars:  d.MaxStars,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Watch: WatchConfig{
			Extensions: []string{".tif", ".tiff", ".png"},
			SettleMS:   500,
		},
	}
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"workers":             "workers",
	"max-control-points":  "match.max_control_points",
	"invariant-tolerance": "match.invariant_tolerance",
	"min-support":         "match.min_support",
	"outlier-k":           "estimate.outlier_k",
	"interpolation":       "resample.interpolation",
	"fill-value":          "resample.fill_value",
	"threshold":           "detect.threshold",
	"max-stars":           "detect.max_stars",
	"log-level":           "log.level",
	"log-format":          "log.format",
	"db":                  "storage.path",
}

// Load reads settings with precedence flags > environment > file > defaults. path may
// be empty, in which case $SKYALIGN_CONFIG is used if set. flags may be nil; only flags
// the user changed override lower layers.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("workers", d.Workers)
	v.SetDefault("match.max_control_points", d.Match.MaxControlPoints)
	v.SetDefault("match.invariant_tolerance", d.Match.InvariantTolerance)
	v.SetDefault("match.min_support", d.Match.MinSupport)
	v.SetDefault("estimate.outlier_k", d.Estimate.OutlierK)
	v.SetDefault("estimate.min_residual_scale", d.Estimate.MinResidualScale)
	v.SetDefault("resample.interpolation", d.Resample.Interpolation)
	v.SetDefault("resample.fill_value", d.Resample.FillValue)
	v.SetDefault("detect.threshold", d.Detect.Threshold)
	v.SetDefault("detect.smooth", d.Detect.Smooth)
	v.SetDefault("detect.min_area", d.Detect.MinArea)
	v.SetDefault("detect.max_area", d.Detect.MaxArea)
	v.SetDefault("detect.max_stars", d.Detect.MaxStars)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("watch.extensions", d.Watch.Extensions)
	v.SetDefault("watch.output_dir", d.Watch.OutputDir)
	v.SetDefault("watch.settle_ms", d.Watch.SettleMS)
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.Match.MaxControlPoints < 3 {
		errs = append(errs, fmt.Errorf("match.max_control_points must be at least 3, got %d", c.Match.MaxControlPoints))
	}
	if c.Match.InvariantTolerance < 0 {
		errs = append(errs, fmt.Errorf("match.invariant_tolerance must not be negative, got %g", c.Match.InvariantTolerance))
	}
	if c.Match.MinSupport < 1 {
		errs = append(errs, fmt.Errorf("match.min_support must be at least 1, got %d", c.Match.MinSupport))
	}
	if c.Estimate.OutlierK <= 0 {
		errs = append(errs, fmt.Errorf("estimate.outlier_k must be positive, got %g", c.Estimate.OutlierK))
	}
	if c.Estimate.MinResidualScale < 0 {
		errs = append(errs, fmt.Errorf("estimate.min_residual_scale must not be negative, got %g", c.Estimate.MinResidualScale))
	}
	if _, err := alignment.ParseInterpolation(c.Resample.Interpolation); err != nil {
		errs = append(errs, fmt.Errorf("resample.interpolation: %w", err))
	}
	if err := c.DetectParams().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("detect: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Watch.SettleMS < 0 {
		errs = append(errs, fmt.Errorf("watch.settle_ms must not be negative, got %d", c.Watch.SettleMS))
	}
	return errors.Join(errs...)
}

// AlignmentOptions builds engine options from the settings.
func (c *Config) AlignmentOptions(log logr.Logger) (alignment.Options, error) {
	interp, err := alignment.ParseInterpolation(c.Resample.Interpolation)
	if err != nil {
		return alignment.Options{}, err
	}
	opts := alignment.DefaultOptions()
	opts.MaxControlPoints = c.Match.MaxControlPoints
	opts.InvariantTolerance = c.Match.InvariantTolerance
	opts.MinSupport = c.Match.MinSupport
	opts.OutlierK = c.Estimate.OutlierK
	opts.MinResidualScale = c.Estimate.MinResidualScale
	opts.Interpolation = interp
	opts.FillValue = c.Resample.FillValue
	opts.Workers = c.Workers
	opts.Logger = log
	return opts, nil
}

// DetectParams builds detector parameters from the settings.
func (c *Config) DetectParams() detect.Params {
	return detect.Params{
		Threshold: c.Detect.Threshold,
		Smooth:    c.Detect.Smooth,
		MinArea:   c.Detect.MinArea,
		MaxArea:   c.Detect.MaxArea,
		MaxStars:  c.Detect.MaxStars,
	}
}

// Summary flattens the engine settings for run records.
func (c *Config) Summary() map[string]any {
	return map[string]any{
		"max_control_points":  c.Match.MaxControlPoints,
		"invariant_tolerance": c.Match.InvariantTolerance,
		"min_support":         c.Match.MinSupport,
		"outlier_k":           c.Estimate.OutlierK,
		"interpolation":       c.Resample.Interpolation,
		"fill_value":          c.Resample.FillValue,
	}
}
