package config_test

import (
	"os"
	"testing"

	"hypermesh/config"
)

func TestDefaultAppliesEnvOverrides(t *testing.T) {
	t.Setenv("HYPERMESH_HTTP_PORT", "9191")
	t.Setenv("HYPERMESH_LOG_LEVEL", "debug")

	cfg := config.Default()
	if cfg.HTTP.ListenAddr != ":9191" {
		t.Fatalf("HTTP.ListenAddr = %s, want :9191", cfg.HTTP.ListenAddr)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Logging.Level = %s, want debug", cfg.Logging.Level)
	}
}

func TestDefaultFallsBackWithoutEnv(t *testing.T) {
	os.Unsetenv("HYPERMESH_HTTP_PORT")
	os.Unsetenv("HYPERMESH_LOG_LEVEL")

	cfg := config.Default()
	if cfg.HTTP.ListenAddr != ":8085" {
		t.Fatalf("HTTP.ListenAddr = %s, want :8085", cfg.HTTP.ListenAddr)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("Logging.Level = %s, want info", cfg.Logging.Level)
	}
}

func TestLoadFromEnvWithoutConfigPathUsesDefaults(t *testing.T) {
	os.Unsetenv("HYPERMESH_CONFIG")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error = %v", err)
	}
	if cfg.Store.Backend != "mem" {
		t.Fatalf("Store.Backend = %s, want mem", cfg.Store.Backend)
	}
}
