package app

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	envConfigPath = "BLOCKMAIL_CONFIG_PATH" // config file (default ~/.config/blockmail.toml)
	envHome       = "BLOCKMAIL_HOME"        // data directory (default ~/.local/share/blockmail)
)

// GetDefaults returns the default config path and data directories. The
// BLOCKMAIL_CONFIG_PATH and BLOCKMAIL_HOME environment variables win over the
// home directory layout.
func GetDefaults() (map[string]string, error) {
	configPath, err := pathFromEnv(envConfigPath, ".config", "blockmail.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := pathFromEnv(envHome, ".local", "share", "blockmail")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"env_file":    filepath.Join(baseDir, ".env"),
	}, nil
}

// pathFromEnv returns $key when set, otherwise home joined with rel.
func pathFromEnv(key string, rel ...string) (string, error) {
	if p := os.Getenv(key); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{home}, rel...)...), nil
}
