package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults holds the application default paths.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults returns the application default paths, checking environment
// variables first.
// Environment variables:
//   - DDM_CONFIG_PATH: config file location (default: ~/.config/ddm.toml)
//   - DDM_HOME: base directory for ddm data (default: ~/.local/share/ddm)
func GetDefaults() (Defaults, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return Defaults{}, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return Defaults{}, err
	}

	return Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking DDM_CONFIG_PATH
// first, then falling back to the default ~/.config/ddm.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("DDM_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "ddm.toml"), nil
}

// getBaseDir returns the base directory for ddm data, checking DDM_HOME
// first, then falling back to the XDG default ~/.local/share/ddm.
func getBaseDir() (string, error) {
	if path := os.Getenv("DDM_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "ddm"), nil
}
