// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRIALFLOW_"

// Config holds all trialflow configuration.
type Config struct {
	Version int `yaml:"version"`

	Protocol  string          `yaml:"protocol"`
	Decode    DecodeConfig    `yaml:"decode"`
	Extract   ExtractConfig   `yaml:"extract"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Watch     WatchConfig     `yaml:"watch"`
}

// DecodeConfig controls marker decoding.
type DecodeConfig struct {
	Strict     bool   `yaml:"strict"`
	Quarantine string `yaml:"quarantine"` // path; .jsonl or .csv
}

// ExtractConfig controls trial extraction.
type ExtractConfig struct {
	FailOnConfigError bool `yaml:"fail_on_config_error"`
}

// OutputConfig controls default output behavior.
type OutputConfig struct {
	Format      string `yaml:"format"`      // parquet | csv | xlsx | jsonl | duckdb
	Compression string `yaml:"compression"` // snappy | zstd | gzip | lz4 | none
	BatchSize   int    `yaml:"batch_size"`
}

// LoggingConfig controls the zap logger built by the CLI.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | console
}

// TelemetryConfig controls OTLP trace export.
type TelemetryConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint"`
	Insecure      bool    `yaml:"insecure"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// WatchConfig controls watch mode.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version:  1,
		Protocol: "saccade-v2",
		Output: OutputConfig{
			Format:      "parquet",
			Compression: "snappy",
			BatchSize:   8192,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Endpoint:      "localhost:4317",
			Insecure:      true,
			SamplingRatio: 1.0,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	search []string // candidate files, lowest priority first
	paths  []string // files that were loaded
}

// NewManager creates a manager that searches the standard locations.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
		search: defaultConfigPaths(),
	}
}

// NewManagerWithPaths creates a manager that searches only paths.
func NewManagerWithPaths(paths ...string) *Manager {
	return &Manager{
		config: Default(),
		search: paths,
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range m.search {
		if err := m.loadFile(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrap(err, errors.CodeConfig, "failed to load config").WithContext("path", path)
		}
		m.paths = append(m.paths, path)
	}

	return m.loadEnv()
}

// defaultConfigPaths returns config file paths in priority order.
func defaultConfigPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/trialflow/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".trialflow", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".trialflow.yaml"))
	}
	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config. Booleans can only
// be switched on by a file; env vars can switch them off.
func (m *Manager) merge(src *Config) {
	if src.Protocol != "" {
		m.config.Protocol = src.Protocol
	}

	if src.Decode.Strict {
		m.config.Decode.Strict = true
	}
	if src.Decode.Quarantine != "" {
		m.config.Decode.Quarantine = src.Decode.Quarantine
	}
	if src.Extract.FailOnConfigError {
		m.config.Extract.FailOnConfigError = true
	}

	if src.Output.Format != "" {
		m.config.Output.Format = src.Output.Format
	}
	if src.Output.Compression != "" {
		m.config.Output.Compression = src.Output.Compression
	}
	if src.Output.BatchSize != 0 {
		m.config.Output.BatchSize = src.Output.BatchSize
	}

	if src.Logging.Level != "" {
		m.config.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		m.config.Logging.Format = src.Logging.Format
	}

	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
	if src.Telemetry.Insecure {
		m.config.Telemetry.Insecure = true
	}
	if src.Telemetry.SamplingRatio != 0 {
		m.config.Telemetry.SamplingRatio = src.Telemetry.SamplingRatio
	}

	if src.Watch.Debounce != 0 {
		m.config.Watch.Debounce = src.Watch.Debounce
	}
}

// loadEnv applies TRIALFLOW_* environment variables.
func (m *Manager) loadEnv() error {
	c := m.config

	if v := env("PROTOCOL"); v != "" {
		c.Protocol = v
	}
	if err := envBool("STRICT", &c.Decode.Strict); err != nil {
		return err
	}
	if v := env("QUARANTINE"); v != "" {
		c.Decode.Quarantine = v
	}
	if err := envBool("FAIL_ON_CONFIG_ERROR", &c.Extract.FailOnConfigError); err != nil {
		return err
	}
	if v := env("FORMAT"); v != "" {
		c.Output.Format = v
	}
	if v := env("COMPRESSION"); v != "" {
		c.Output.Compression = v
	}
	if v := env("BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Config("invalid %sBATCH_SIZE %q", EnvPrefix, v)
		}
		c.Output.BatchSize = n
	}
	if v := env("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := env("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
	if v := env("OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	if err := envBool("TELEMETRY", &c.Telemetry.Enabled); err != nil {
		return err
	}
	if v := env("WATCH_DEBOUNCE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Config("invalid %sWATCH_DEBOUNCE %q", EnvPrefix, v)
		}
		c.Watch.Debounce = d
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + key))
}

func envBool(key string, dst *bool) error {
	v := env(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return errors.Config("invalid %s%s %q", EnvPrefix, key, v)
	}
	*dst = b
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	return m.saveTo(filepath.Join(home, ".trialflow", "config.yaml"))
}

func (m *Manager) saveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
