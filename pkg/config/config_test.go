package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
	if cfg.Memory.RetrieveTimeout != 5*time.Second {
		t.Errorf("unexpected retrieve timeout: %v", cfg.Memory.RetrieveTimeout)
	}
	if cfg.Engine.MaxToolIterations != 5 {
		t.Errorf("unexpected tool iteration budget: %d", cfg.Engine.MaxToolIterations)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taxis.yaml")
	doc := []byte("log:\n  level: debug\nserver:\n  addr: \":9999\"\n")
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TAXIS_LOG_FORMAT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("file override lost: %q", cfg.Log.Level)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("server addr override lost: %q", cfg.Server.Addr)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("env override lost: %q", cfg.Log.Format)
	}
}
