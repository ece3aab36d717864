package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFallsBackToDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "nowhere")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load without file: %v", err)
	}
	if cfg.Port != 8080 || cfg.SendBuffer != 32 || cfg.ReadLimit != 32768 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if len(cfg.STUNURLs) == 0 {
		t.Fatal("default STUN servers missing")
	}
}

func TestLoadSurfacesMalformedConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	bad := []byte("ping_period: notaduration\n")
	if err := os.WriteFile(filepath.Join(dir, "config", "config.broken.yaml"), bad, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "broken")

	if _, err := Load(); err == nil {
		t.Fatal("malformed config must return an error, not a partial config")
	}
}
