// Package config loads and normalizes the on-disk configuration for coc:
// default model/execution knobs plus the serve subcommand's bind/data
// settings. Config lives at ~/.coc/config.yaml, with a legacy single-file
// ~/.coc.yaml auto-migrated in on first load.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OutputFormat is the rendering mode for CLI-driven runs.
type OutputFormat string

const (
	OutputTable    OutputFormat = "table"
	OutputJSON     OutputFormat = "json"
	OutputCSV      OutputFormat = "csv"
	OutputMarkdown OutputFormat = "markdown"
)

func (f OutputFormat) Valid() bool {
	switch f {
	case OutputTable, OutputJSON, OutputCSV, OutputMarkdown:
		return true
	default:
		return false
	}
}

// Theme is the serve subcommand's dashboard color scheme.
type Theme string

const (
	ThemeAuto  Theme = "auto"
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

func (t Theme) Valid() bool {
	switch t {
	case ThemeAuto, ThemeLight, ThemeDark:
		return true
	default:
		return false
	}
}

// ServeConfig holds the settings specific to the serve subcommand.
type ServeConfig struct {
	Port    int    `yaml:"port"`
	Host    string `yaml:"host"`
	DataDir string `yaml:"dataDir"`
	Theme   Theme  `yaml:"theme"`
}

// TelemetryConfig controls OpenTelemetry export. Disabled by default so a
// local dashboard run never dials out.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // "otlp-http", "stdout", or "none"
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"serviceName"`
	SampleRate  float64 `yaml:"sampleRate"`
}

// Config is the full coc configuration table.
type Config struct {
	Model              string          `yaml:"model"`
	Parallel           int             `yaml:"parallel"`
	Output             OutputFormat    `yaml:"output"`
	ApprovePermissions bool            `yaml:"approvePermissions"`
	TimeoutSeconds     int             `yaml:"timeout"`
	Persist            bool            `yaml:"persist"`
	Serve              ServeConfig     `yaml:"serve"`
	Telemetry          TelemetryConfig `yaml:"telemetry"`

	// HomeDir is resolved at load time, never persisted.
	HomeDir string `yaml:"-"`
	// NeedsGenesis is true when no config file existed and defaults were
	// written fresh; callers may use it to print a one-time notice.
	NeedsGenesis bool `yaml:"-"`
	// MigratedFrom records the legacy path a config was migrated from, if
	// any, for the same one-time-notice purpose.
	MigratedFrom string `yaml:"-"`
}

// Fingerprint returns a short, stable hash of the settings that affect
// request handling, exposed via GET /api/health so clients can detect a
// config change without diffing the whole file.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "model=%s|parallel=%d|output=%s|approve=%v|timeout=%d|persist=%v|port=%d|host=%s|theme=%s|otel=%v:%s",
		c.Model, c.Parallel, c.Output, c.ApprovePermissions, c.TimeoutSeconds, c.Persist,
		c.Serve.Port, c.Serve.Host, c.Serve.Theme, c.Telemetry.Enabled, c.Telemetry.Exporter)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		Model:              "claude-sonnet-4",
		Parallel:           4,
		Output:             OutputTable,
		ApprovePermissions: false,
		TimeoutSeconds:     int((10 * time.Minute).Seconds()),
		Persist:            true,
		Serve: ServeConfig{
			Port:    4000,
			Host:    "localhost",
			DataDir: "", // filled in from HomeDir at load time
			Theme:   ThemeAuto,
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Exporter: "none",
		},
	}
}

// HomeDir returns the coc home directory: $COC_HOME if set, else
// ~/.coc.
func HomeDir() string {
	if override := os.Getenv("COC_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".coc")
}

// ConfigPath returns the config file path under a home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func legacyPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".coc.yaml")
}

// Load reads the config file, migrating a legacy ~/.coc.yaml in on first
// run, applies environment overrides, and normalizes defaults.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()
	cfg.Serve.DataDir = filepath.Join(cfg.HomeDir, "data")

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create coc home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
		if migrated, merr := migrateLegacy(configPath); merr == nil && migrated {
			cfg.MigratedFrom = legacyPath()
			data, err = os.ReadFile(configPath)
		} else {
			cfg.NeedsGenesis = true
		}
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

// migrateLegacy copies a pre-~/.coc/ single-file ~/.coc.yaml into the new
// home-directory layout. Returns false (no error) if no legacy file exists.
func migrateLegacy(destPath string) (bool, error) {
	src := legacyPath()
	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

func normalize(cfg *Config) {
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4"
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 4
	}
	if !cfg.Output.Valid() {
		cfg.Output = OutputTable
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = int((10 * time.Minute).Seconds())
	}
	if cfg.Serve.Port <= 0 {
		cfg.Serve.Port = 4000
	}
	if cfg.Serve.Host == "" {
		cfg.Serve.Host = "localhost"
	}
	if cfg.Serve.DataDir == "" {
		cfg.Serve.DataDir = filepath.Join(cfg.HomeDir, "data")
	}
	if !cfg.Serve.Theme.Valid() {
		cfg.Serve.Theme = ThemeAuto
	}
	if cfg.Telemetry.Exporter == "" {
		cfg.Telemetry.Exporter = "none"
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("COC_MODEL"); raw != "" {
		cfg.Model = raw
	}
	if raw := os.Getenv("COC_PARALLEL"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Parallel = v
		}
	}
	if raw := os.Getenv("COC_OUTPUT"); raw != "" {
		cfg.Output = OutputFormat(raw)
	}
	if raw := os.Getenv("COC_APPROVE_PERMISSIONS"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.ApprovePermissions = v
		}
	}
	if raw := os.Getenv("COC_TIMEOUT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.TimeoutSeconds = v
		}
	}
	if raw := os.Getenv("COC_PERSIST"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Persist = v
		}
	}
	if raw := os.Getenv("COC_SERVE_PORT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Serve.Port = v
		}
	}
	if raw := os.Getenv("COC_SERVE_HOST"); raw != "" {
		cfg.Serve.Host = raw
	}
	if raw := os.Getenv("COC_SERVE_DATA_DIR"); raw != "" {
		cfg.Serve.DataDir = raw
	}
	if raw := os.Getenv("COC_SERVE_THEME"); raw != "" {
		cfg.Serve.Theme = Theme(raw)
	}
	if raw := os.Getenv("ANTHROPIC_API_KEY"); raw != "" {
		if strings.TrimSpace(cfg.Model) == "" {
			cfg.Model = "claude-sonnet-4"
		}
	}
	if raw := os.Getenv("COC_OTEL_ENABLED"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Telemetry.Enabled = v
		}
	}
	if raw := os.Getenv("COC_OTEL_EXPORTER"); raw != "" {
		cfg.Telemetry.Exporter = raw
	}
	if raw := os.Getenv("COC_OTEL_ENDPOINT"); raw != "" {
		cfg.Telemetry.Endpoint = raw
	}
}

func saveRawConfig(path string, raw map[string]interface{}) error {
	out, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

func loadRawConfig(path string) (map[string]interface{}, error) {
	raw := map[string]interface{}{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return raw, nil
		}
		return nil, err
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// SetModel persists a new default model to the on-disk config, preserving
// unrelated keys via a raw round-trip.
func SetModel(homeDir, model string) error {
	path := ConfigPath(homeDir)
	raw, err := loadRawConfig(path)
	if err != nil {
		return err
	}
	raw["model"] = model
	return saveRawConfig(path, raw)
}
