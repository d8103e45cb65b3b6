package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8800" {
		t.Fatalf("http.addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Room.Port != 47820 {
		t.Fatalf("room.port = %d", cfg.Room.Port)
	}
	if cfg.Room.MaxMembers != 10 {
		t.Fatalf("room.maxMembers = %d", cfg.Room.MaxMembers)
	}
	if cfg.Room.Nickname == "" {
		t.Fatalf("nickname default is empty")
	}
	if cfg.Discovery.ProbeTimeoutMs != 300 || cfg.Discovery.ScanEverySec != 15 || cfg.Discovery.PoolSize != 24 {
		t.Fatalf("discovery defaults = %+v", cfg.Discovery)
	}
	if cfg.Logging.Service != "roomd" || cfg.Logging.Backend != "std" {
		t.Fatalf("logging defaults = %+v", cfg.Logging)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
http:
  addr: ":9100"
room:
  port: 48000
  maxMembers: 4
  nickname: ванька
  hasDevice: true
discovery:
  probeTimeoutMs: 120
logging:
  env: prod
  backend: zap
  debug: true
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9100" || cfg.Room.Port != 48000 || cfg.Room.MaxMembers != 4 {
		t.Fatalf("parsed = %+v", cfg)
	}
	if cfg.Room.Nickname != "ванька" || !cfg.Room.HasDevice {
		t.Fatalf("room = %+v", cfg.Room)
	}
	// незаполненные поля добиваются дефолтами
	if cfg.Discovery.ProbeTimeoutMs != 120 || cfg.Discovery.ScanEverySec != 15 {
		t.Fatalf("discovery = %+v", cfg.Discovery)
	}
	if cfg.Room.DeviceID != "default" {
		t.Fatalf("deviceId default = %q", cfg.Room.DeviceID)
	}
	if cfg.Logging.Env != "prod" || cfg.Logging.Backend != "zap" || !cfg.Logging.Debug {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
}

func TestLoadConfigEnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("room:\n  port: 50123\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Room.Port != 50123 {
		t.Fatalf("room.port = %d", cfg.Room.Port)
	}
}

func TestLoadConfigExplicitMissing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("want error for explicitly named missing file")
	}
}

func TestLoadConfigBadPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("room:\n  port: 70000\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("want error for out of range port")
	}
}
