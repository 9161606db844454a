// Package config reads and writes the ddm TOML configuration file.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for ddm. A missing config file
// is not an error: every field has a usable zero-value default, so the
// tool works without `ddm config init` ever being run.
type Config struct {
	LogDir string     `toml:"log_dir"`
	Color  string     `toml:"color"` // "auto" (default), "always" or "never"
	Scan   ScanConfig `toml:"scan"`
}

// ScanConfig holds the defaults for directory scanning flags.
type ScanConfig struct {
	SingleThread bool     `toml:"single_thread"` // default for --singlethread
	OmitHash     bool     `toml:"omit_hash"`     // default for -n
	Ignore       []string `toml:"ignore"`        // ls-only path ignore patterns
}

// NewConfig creates a Config with the default values for the given base
// directory.
func NewConfig(baseDir string) *Config {
	return &Config{
		LogDir: filepath.Join(baseDir, "log"),
		Color:  "auto",
	}
}

// Read decodes a Config from the provided reader.
func Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path, creating the
// containing directory when needed.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path, refusing to
// overwrite an existing one.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
