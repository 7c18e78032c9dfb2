package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 4000 {
		t.Fatalf("port = %d, want default 4000", cfg.Server.Port)
	}
	if cfg.World.TickPeriod != time.Second {
		t.Fatalf("tick period = %v, want 1s", cfg.World.TickPeriod)
	}
	if cfg.Store.Adapter != "filesystem" {
		t.Fatalf("adapter = %q, want filesystem", cfg.Store.Adapter)
	}
	if cfg.Server.StartTime == 0 {
		t.Fatal("start time not stamped")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mudforge.toml")
	content := `
[server]
name = "testworld"
port = 5005

[sandbox]
pool_size = 8
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Name != "testworld" || cfg.Server.Port != 5005 {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Sandbox.PoolSize != 8 {
		t.Fatalf("pool size = %d", cfg.Sandbox.PoolSize)
	}
	// Untouched sections keep defaults.
	if cfg.Session.TTL != 15*time.Minute {
		t.Fatalf("session ttl = %v", cfg.Session.TTL)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("SESSION_TTL_MS", "5000")
	t.Setenv("PERSISTENCE_ADAPTER", "remote")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("port = %d, want env override 9999", cfg.Server.Port)
	}
	if cfg.Session.TTL != 5*time.Second {
		t.Fatalf("ttl = %v, want 5s", cfg.Session.TTL)
	}
	if cfg.Store.Adapter != "remote" {
		t.Fatalf("adapter = %q, want remote", cfg.Store.Adapter)
	}
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[server\nname="), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config accepted")
	}
}

func TestAddr(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Host: "0.0.0.0", Port: 4000}}
	if cfg.Addr() != "0.0.0.0:4000" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
}
