// Package config loads tumorscan settings from a YAML file, a .env file and
// TUMORSCAN_* environment variables, in that order of increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ironsheep/tumorscan/internal/imaging"
	"github.com/ironsheep/tumorscan/internal/inference"
	"github.com/ironsheep/tumorscan/internal/postprocess"
	"github.com/ironsheep/tumorscan/internal/preprocess"
	"github.com/ironsheep/tumorscan/internal/scanerr"
	"github.com/ironsheep/tumorscan/internal/visualize"
)

// Environment variables read by FromEnv.
const (
	EnvConfig        = "TUMORSCAN_CONFIG"
	EnvModelBackend  = "TUMORSCAN_MODEL_BACKEND"
	EnvModelPath     = "TUMORSCAN_MODEL_PATH"
	EnvModelMetadata = "TUMORSCAN_MODEL_METADATA"
	EnvORTLibrary    = "TUMORSCAN_ORT_LIBRARY"
	EnvThreshold     = "TUMORSCAN_THRESHOLD"
	EnvThresholdVer  = "TUMORSCAN_THRESHOLD_VERSION"
	EnvOutputDir     = "TUMORSCAN_OUTPUT_DIR"
	EnvTimeout       = "TUMORSCAN_TIMEOUT"
	EnvLogLevel      = "TUMORSCAN_LOG_LEVEL"
)

// Log levels.
const (
	LogLevelInfo  = "info"
	LogLevelDebug = "debug"
)

// Config is the complete pipeline configuration.
type Config struct {
	Model      inference.ModelConfig  `yaml:"model"`
	Loader     imaging.LoadOptions    `yaml:"loader"`
	Preprocess preprocess.Options     `yaml:"preprocess"`
	Thresholds postprocess.Thresholds `yaml:"thresholds"`
	Visualize  visualize.Options      `yaml:"visualize"`

	// OutputDir is where artifacts go when a request names no directory.
	OutputDir string `yaml:"output_dir"`

	// Timeout bounds each pipeline run. 0 means no limit beyond the caller's.
	Timeout time.Duration `yaml:"timeout"`

	// LogLevel is "info" (default) or "debug".
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration: contrast model, 224×224
// normalized input, v1 thresholds, PNG overlay and heatmap.
func Default() *Config {
	return &Config{
		Model:      inference.ModelConfig{Backend: inference.BackendContrast},
		Preprocess: preprocess.DefaultOptions(),
		Thresholds: postprocess.DefaultThresholds(),
		Visualize:  visualize.DefaultOptions(),
		OutputDir:  "output",
		Timeout:    30 * time.Second,
		LogLevel:   LogLevelInfo,
	}
}

// Load reads a YAML file on top of Default. An empty path returns the
// defaults. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config: %w", scanerr.ErrInvalidConfig, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %w", scanerr.ErrInvalidConfig, err)
	}
	return cfg, nil
}

// FromEnv loads .env (if present), then the file named by TUMORSCAN_CONFIG,
// then applies the remaining TUMORSCAN_* overrides and validates the result.
func FromEnv() (*Config, error) {
	return Resolve("")
}

// Resolve is FromEnv with an explicit config file that takes precedence over
// TUMORSCAN_CONFIG. An empty path falls back to the variable.
func Resolve(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables looked up with getenv.
// Unset or empty variables leave the field unchanged. A decision threshold
// that differs from the configured one gets a derived version (see
// postprocess.Thresholds.WithDecision) unless TUMORSCAN_THRESHOLD_VERSION
// names one.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvModelBackend); v != "" {
		c.Model.Backend = strings.ToLower(v)
	}
	if v := getenv(EnvModelPath); v != "" {
		c.Model.Path = v
	}
	if v := getenv(EnvModelMetadata); v != "" {
		c.Model.MetadataPath = v
	}
	if v := getenv(EnvORTLibrary); v != "" {
		c.Model.LibraryPath = v
	}
	if v := getenv(EnvThreshold); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", scanerr.ErrInvalidConfig, EnvThreshold, err)
		}
		c.Thresholds = c.Thresholds.WithDecision(f)
	}
	if v := getenv(EnvThresholdVer); v != "" {
		c.Thresholds.Version = v
	}
	if v := getenv(EnvOutputDir); v != "" {
		c.OutputDir = v
	}
	if v := getenv(EnvTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", scanerr.ErrInvalidConfig, EnvTimeout, err)
		}
		c.Timeout = d
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	return nil
}

// Validate checks every section and reports all problems at once. Every
// returned error matches scanerr.ErrInvalidConfig.
func (c *Config) Validate() error {
	errs := []error{
		c.Model.Validate(),
		c.Loader.Validate(),
		c.Preprocess.Validate(),
		c.Thresholds.Validate(),
		c.Visualize.Validate(),
	}
	if c.OutputDir == "" {
		errs = append(errs, fmt.Errorf("%w: output_dir is required", scanerr.ErrInvalidConfig))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%w: timeout must be >= 0, got %s", scanerr.ErrInvalidConfig, c.Timeout))
	}
	switch c.LogLevel {
	case "", LogLevelInfo, LogLevelDebug:
	default:
		errs = append(errs, fmt.Errorf("%w: unknown log_level %q", scanerr.ErrInvalidConfig, c.LogLevel))
	}
	return errors.Join(errs...)
}

// Debug reports whether debug logging is enabled.
func (c *Config) Debug() bool {
	return c.LogLevel == LogLevelDebug
}
