package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/tcpq/internal/hub"
	"github.com/danmuck/tcpq/internal/testutil/testlog"
)

func TestLoadServiceConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	cfg, logFile, err := loadServiceConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:49152" {
		t.Fatalf("unexpected listen: %q", cfg.ListenAddr)
	}
	if cfg.IdleTimeout != 30*time.Second {
		t.Fatalf("unexpected idle timeout: %v", cfg.IdleTimeout)
	}
	if cfg.ReapInterval != 2*time.Second {
		t.Fatalf("unexpected reap interval: %v", cfg.ReapInterval)
	}
	if cfg.ShutdownGrace != 3*time.Second {
		t.Fatalf("unexpected shutdown grace: %v", cfg.ShutdownGrace)
	}
	if cfg.AcceptRetryDelay != hub.DefaultServiceConfig().AcceptRetryDelay {
		t.Fatalf("expected default accept retry delay, got %v", cfg.AcceptRetryDelay)
	}
	if cfg.AdminListenAddr != "127.0.0.1:49153" {
		t.Fatalf("unexpected admin listen: %q", cfg.AdminListenAddr)
	}
	if len(cfg.AdminCORSOrigins) != 1 || cfg.AdminCORSOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected cors origins: %+v", cfg.AdminCORSOrigins)
	}
	if logFile.Level != "debug" {
		t.Fatalf("unexpected log level: %q", logFile.Level)
	}
}

func TestLoadServiceConfigRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"bad duration": "idle_timeout = \"later\"\n",
		"unknown key":  "listen_addr = \"127.0.0.1:1\"\n",
		"bad syntax":   "listen = \n",
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), "hub.toml")
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, _, err := loadServiceConfig(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestResolveConfigFlagsOverrideFile(t *testing.T) {
	testlog.Start(t)
	cfg, _, err := resolveConfig(options{
		ConfigFile: "ex.config.toml",
		Listen:     "127.0.0.1:7000",
		Admin:      "127.0.0.1:7001",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:7000" || cfg.AdminListenAddr != "127.0.0.1:7001" {
		t.Fatalf("flags did not override file: %+v", cfg)
	}

	defaults, _, err := resolveConfig(options{})
	if err != nil {
		t.Fatalf("resolve defaults: %v", err)
	}
	if defaults.ListenAddr != hub.DefaultListenAddr || defaults.AdminListenAddr != "" {
		t.Fatalf("unexpected defaults: %+v", defaults)
	}
}
