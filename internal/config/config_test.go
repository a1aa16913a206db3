package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFrom_Defaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := LoadFrom(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.NeedsGenesis {
		t.Fatal("expected NeedsGenesis on first run")
	}
	if cfg.BindAddr != "127.0.0.1:1890" {
		t.Fatalf("bind_addr = %q", cfg.BindAddr)
	}
	if cfg.Gateway.Mode != "exec" {
		t.Fatalf("gateway mode = %q", cfg.Gateway.Mode)
	}
	if cfg.Gateway.GracePeriodSeconds != 5 {
		t.Fatalf("grace = %d", cfg.Gateway.GracePeriodSeconds)
	}
	if cfg.Auth.Username != "admin" {
		t.Fatalf("username = %q", cfg.Auth.Username)
	}
}

func TestLoadFrom_ParsesYAML(t *testing.T) {
	home := t.TempDir()
	raw := `
bind_addr: "0.0.0.0:9999"
auth:
  username: ops
  password: hunter2
gateway:
  command: ["nanobot", "run"]
  mode: docker
  docker_image: "gateway:latest"
  config_path: gateway.toml
  auto_start: true
`
	if err := os.WriteFile(ConfigPath(home), []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadFrom(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NeedsGenesis {
		t.Fatal("NeedsGenesis should be false when config.yaml exists")
	}
	if cfg.BindAddr != "0.0.0.0:9999" {
		t.Fatalf("bind_addr = %q", cfg.BindAddr)
	}
	if len(cfg.Gateway.Command) != 2 || cfg.Gateway.Command[0] != "nanobot" {
		t.Fatalf("command = %v", cfg.Gateway.Command)
	}
	if cfg.Gateway.Mode != "docker" {
		t.Fatalf("mode = %q", cfg.Gateway.Mode)
	}
	if !cfg.Gateway.AutoStart {
		t.Fatal("auto_start not parsed")
	}
	if got := cfg.GatewayConfigPath(); got != filepath.Join(home, "gateway.toml") {
		t.Fatalf("gateway config path = %q", got)
	}
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CLAWDECK_BIND_ADDR", "127.0.0.1:7777")
	t.Setenv("CLAWDECK_PASSWORD", "env-secret")
	t.Setenv("CLAWDECK_GRACE_PERIOD_SECONDS", "9")

	cfg, err := LoadFrom(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:7777" {
		t.Fatalf("bind_addr = %q", cfg.BindAddr)
	}
	if cfg.Auth.Password != "env-secret" {
		t.Fatalf("password = %q", cfg.Auth.Password)
	}
	if cfg.Gateway.GracePeriodSeconds != 9 {
		t.Fatalf("grace = %d", cfg.Gateway.GracePeriodSeconds)
	}
}

func TestNormalize_InvalidModeFallsBack(t *testing.T) {
	cfg := defaultConfig()
	cfg.Gateway.Mode = "vm"
	normalize(&cfg)
	if cfg.Gateway.Mode != "exec" {
		t.Fatalf("mode = %q, want exec", cfg.Gateway.Mode)
	}
}

func TestFingerprint_ChangesWithCommand(t *testing.T) {
	a := defaultConfig()
	b := defaultConfig()
	b.Gateway.Command = []string{"other"}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("fingerprints should differ")
	}
	if a.Fingerprint() != defaultConfig().Fingerprint() {
		t.Fatal("fingerprint should be stable")
	}
}

func TestSave_RoundTrips(t *testing.T) {
	home := t.TempDir()
	cfg, err := LoadFrom(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.Gateway.Command = []string{"gateway", "serve"}
	if err := Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	again, err := LoadFrom(home)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(again.Gateway.Command) != 2 || again.Gateway.Command[1] != "serve" {
		t.Fatalf("command = %v", again.Gateway.Command)
	}
}
