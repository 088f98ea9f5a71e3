// Package config loads runtime settings for the server and the CLI from an
// optional .env file, an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"dcf_valuation/pkg/core/assumption"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// Setting keys. Each is also read from the upper-cased environment variable
// (data_dir -> DATA_DIR).
const (
	KeyDataDir      = "data_dir"
	KeyOutputDir    = "output_dir"
	KeyListenAddr   = "listen_addr"
	KeyLogLevel     = "log_level"
	KeyLogFormat    = "log_format"
	KeyDefaultsFile = "defaults_file"
)

// Config holds process-wide settings.
type Config struct {
	DataDir      string `mapstructure:"data_dir"`
	OutputDir    string `mapstructure:"output_dir"`
	ListenAddr   string `mapstructure:"listen_addr"`
	LogLevel     string `mapstructure:"log_level"`
	LogFormat    string `mapstructure:"log_format"`
	DefaultsFile string `mapstructure:"defaults_file"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault(KeyDataDir, "./data")
	v.SetDefault(KeyOutputDir, "./artifacts")
	v.SetDefault(KeyListenAddr, ":8080")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyDefaultsFile, "config/defaults.yaml")
	return v
}

// LoadDotEnv loads .env from the working directory when present. Variables
// already set in the environment win.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Load builds a Config from defaults, the YAML file at configPath (skipped when
// empty) and environment overrides, in increasing precedence.
func Load(configPath string) (*Config, error) {
	v := newViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings that would make the process unusable.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, errors.New("data_dir is empty"))
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		errs = append(errs, errors.New("output_dir is empty"))
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, errors.New("listen_addr is empty"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be json or console", c.LogFormat))
	}
	return errors.Join(errs...)
}

// EnsureDirs creates the data and output directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// =============================================================================
// ASSUMPTION DEFAULTS
// =============================================================================

// BuiltinDefaults is the assumption set shown when no defaults file exists.
// The initial investment equals base revenue so the IRR is defined.
func BuiltinDefaults() *assumption.File {
	spread := assumption.DefaultSpread
	return &assumption.File{
		Assumptions: assumption.Assumptions{
			BaseRevenue:                 1_000_000,
			RevenueGrowthRate:           0.05,
			GrossMargin:                 0.40,
			OperatingExpenseRatio:       0.15,
			TaxRate:                     0.21,
			DepreciationRatio:           0.03,
			CapexRatio:                  0.04,
			ChangeInWorkingCapitalRatio: 0.01,
			TerminalGrowthRate:          0.02,
			DiscountRate:                0.10,
			ProjectionYears:             5,
			InitialInvestment:           1_000_000,
		},
		Spread: &spread,
	}
}

// LoadDefaults reads the YAML assumptions file at path. A missing file (or an
// empty path) yields BuiltinDefaults; a present but invalid one is an error.
func LoadDefaults(path string) (*assumption.File, error) {
	if path == "" {
		return BuiltinDefaults(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return BuiltinDefaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read defaults %s: %w", path, err)
	}

	var f assumption.File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse defaults %s: %w", path, err)
	}
	if err := f.Assumptions.Validate(); err != nil {
		return nil, fmt.Errorf("defaults %s: %w", path, err)
	}
	return &f, nil
}
