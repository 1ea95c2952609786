package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
devices:
  - name: bedroom
    address: "AA:BB:CC:DD:EE:FF"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.BLE.ConnectAttempts != 3 {
		t.Errorf("connect_attempts default = %d, want 3", cfg.BLE.ConnectAttempts)
	}
	if cfg.BLE.SettleDelay.Duration() != 200*time.Millisecond {
		t.Errorf("settle_delay default = %v", cfg.BLE.SettleDelay.Duration())
	}
	if cfg.BLE.RedundantSends != 2 {
		t.Errorf("redundant_sends default = %d, want 2", cfg.BLE.RedundantSends)
	}
	if !cfg.BLE.IsOptimistic() {
		t.Error("optimistic_updates should default to true")
	}
	if cfg.Database.Path != "./dmxd.sqlite" {
		t.Errorf("database path default = %q", cfg.Database.Path)
	}
	if cfg.API.Port != 8035 {
		t.Errorf("api port default = %d", cfg.API.Port)
	}
	if !cfg.API.IsEnabled() {
		t.Error("api should default to enabled")
	}
	if cfg.Log.GetLevel() != "info" {
		t.Errorf("log level default = %q", cfg.Log.GetLevel())
	}
	if cfg.GetShutdownTimeout() != 5*time.Second {
		t.Errorf("shutdown timeout default = %v", cfg.GetShutdownTimeout())
	}
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `
devices:
  - name: bedroom
    address: "AA:BB:CC:DD:EE:FF"
  - name: desk
    address: "11:22:33:44:55:66"
ble:
  scan_timeout: 5s
  connect_attempts: 5
  settle_delay: 300ms
  redundant_sends: 3
  optimistic_updates: false
api:
  enabled: true
  host: 127.0.0.1
  port: 9000
log:
  level: debug
script: scenes.lua
shutdown_timeout: 10s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(cfg.Devices) != 2 || cfg.Devices[1].Name != "desk" {
		t.Errorf("devices = %+v", cfg.Devices)
	}
	if cfg.BLE.ScanTimeout.Duration() != 5*time.Second {
		t.Errorf("scan_timeout = %v", cfg.BLE.ScanTimeout.Duration())
	}
	if cfg.BLE.ConnectAttempts != 5 {
		t.Errorf("connect_attempts = %d", cfg.BLE.ConnectAttempts)
	}
	if cfg.BLE.IsOptimistic() {
		t.Error("optimistic_updates: false not honored")
	}
	if cfg.API.Addr() != "127.0.0.1:9000" {
		t.Errorf("api addr = %q", cfg.API.Addr())
	}
	if cfg.Script != "scenes.lua" {
		t.Errorf("script = %q", cfg.Script)
	}
}

func TestLoadRequiresDevices(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for config without devices")
	}
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("DMXD_TEST_ADDR", "AA:BB:CC:DD:EE:FF")

	path := writeConfig(t, `
devices:
  - name: bedroom
    address: "${DMXD_TEST_ADDR}"
database:
  path: "${DMXD_TEST_DB:/tmp/fallback.sqlite}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Devices[0].Address != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("env var not expanded: %q", cfg.Devices[0].Address)
	}
	if cfg.Database.Path != "/tmp/fallback.sqlite" {
		t.Errorf("default fallback not applied: %q", cfg.Database.Path)
	}
}
