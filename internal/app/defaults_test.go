package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("BLOCKMAIL_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("BLOCKMAIL_HOME", "/custom/blockmail")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["base_dir"] != "/custom/blockmail" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/blockmail")
		}
		if defaults["log_dir"] != "/custom/blockmail/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/blockmail/log")
		}
		if defaults["env_file"] != "/custom/blockmail/.env" {
			t.Errorf("env_file = %q, want %q", defaults["env_file"], "/custom/blockmail/.env")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("BLOCKMAIL_CONFIG_PATH", "")
		t.Setenv("BLOCKMAIL_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "blockmail.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "blockmail")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}

		wantLog := filepath.Join(wantBase, "log")
		if defaults["log_dir"] != wantLog {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], wantLog)
		}
	})
}
