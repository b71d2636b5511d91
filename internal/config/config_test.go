package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "monitor.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Server.Addr != ":5001" || cfg.Server.AdvertisePort != 5001 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Pipeline.FrameDelay != 100*time.Millisecond {
		t.Errorf("frame delay = %v", cfg.Pipeline.FrameDelay)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	t.Setenv(EnvPath, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Alerts.Cooldown != 5*time.Second {
		t.Errorf("cooldown = %v", cfg.Alerts.Cooldown)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
pipeline:
  frame_delay: 250ms
  annotate: false
alerts:
  retention: 2m
archive:
  dsn: postgres://localhost/alerts
log:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Pipeline.FrameDelay != 250*time.Millisecond || cfg.Pipeline.Annotate {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Alerts.Retention != 2*time.Minute {
		t.Errorf("retention = %v", cfg.Alerts.Retention)
	}
	// Untouched keys keep their defaults
	if cfg.Pipeline.QueueSize != 32 || cfg.Archive.BufferSize != 256 {
		t.Errorf("defaults lost: %+v %+v", cfg.Pipeline, cfg.Archive)
	}
	if opts := cfg.LedgerOptions(); opts.Retention != 2*time.Minute || opts.Cooldown != 5*time.Second {
		t.Errorf("ledger options = %+v", opts)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(EnvPath, writeConfig(t, "server:\n  addr: \":7000\"\n"))
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  queue_size: 0
alerts:
  retention: 10s
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"queue_size", "retention"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}
