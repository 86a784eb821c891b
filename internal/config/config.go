package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all nbgrade configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Notebook execution
	Execution ExecutionConfig `yaml:"execution"`

	// Check registry
	Checks ChecksConfig `yaml:"checks"`

	// Report rendering
	Report ReportConfig `yaml:"report"`

	// Watch mode
	Watch WatchConfig `yaml:"watch"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ChecksConfig points at a check registry file.
type ChecksConfig struct {
	// Path to a registry YAML. Empty means the embedded default registry.
	Path string `yaml:"path"`
}

// ReportConfig configures report output.
type ReportConfig struct {
	Format string `yaml:"format"` // text, json
	Color  bool   `yaml:"color"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// GetDebounce returns the watch debounce window.
func (w WatchConfig) GetDebounce() time.Duration {
	d, err := time.ParseDuration(w.Debounce)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// ValidFormats lists the supported report formats.
var ValidFormats = []string{"text", "json"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "nbgrade",
		Version: "1.0.0",

		Execution: ExecutionConfig{
			Kernel:        KernelAuto,
			Timeout:       "600s",
			CellTimeout:   "",
			OnFailure:     PolicyDegrade,
			PythonBinary:  "python3",
			JupyterBinary: "jupyter",
			KernelName:    "python3",
		},

		Report: ReportConfig{
			Format: "text",
			Color:  true,
		},

		Watch: WatchConfig{
			Debounce: "500ms",
		},

		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			DebugMode: false,
		},
	}
}

// DefaultConfigPath returns the canonical config path for a workspace.
func DefaultConfigPath(workspace string) string {
	return filepath.Join(workspace, ".nbgrade", "config.yaml")
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Execution.Validate(); err != nil {
		return err
	}

	validFormat := false
	for _, f := range ValidFormats {
		if c.Report.Format == f {
			validFormat = true
			break
		}
	}
	if !validFormat {
		return fmt.Errorf("invalid report format: %s (valid: %v)", c.Report.Format, ValidFormats)
	}

	return nil
}
