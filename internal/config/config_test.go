package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/tcpq/internal/hub"
	logs "github.com/danmuck/tcpq/internal/logging"
	"github.com/danmuck/tcpq/internal/testutil/testlog"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestTemplatesLoadBackAsDefaults(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{KindHub, KindClient} {
		path := filepath.Join(t.TempDir(), kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write %s template: %v", kind, err)
		}
		if err := Validate(kind, path); err != nil {
			t.Fatalf("validate %s template: %v", kind, err)
		}
		if err := WriteTemplate(path, kind, false); err == nil {
			t.Fatalf("expected refusal to overwrite %s template", kind)
		}
		if err := WriteTemplate(path, kind, true); err != nil {
			t.Fatalf("overwrite %s template: %v", kind, err)
		}
		logs.Logf("config/template: kind=%s path=%s", kind, path)
	}

	hf, err := LoadHubFile(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil {
		t.Fatalf("expected error for missing file, got %+v", hf)
	}
}

func TestHubTemplateMatchesServiceDefaults(t *testing.T) {
	testlog.Start(t)
	body, err := Template("HUB")
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	if !strings.Contains(body, `listen = '0.0.0.0:49152'`) && !strings.Contains(body, `listen = "0.0.0.0:49152"`) {
		t.Fatalf("template missing listen default:\n%s", body)
	}
	hf, err := LoadHubFile(writeFile(t, body))
	if err != nil {
		t.Fatalf("load hub file: %v", err)
	}
	cfg, err := hf.ServiceConfig()
	if err != nil {
		t.Fatalf("service config: %v", err)
	}
	d := hub.DefaultServiceConfig()
	if cfg.IdleTimeout != d.IdleTimeout || cfg.ReapInterval != d.ReapInterval || cfg.ShutdownGrace != d.ShutdownGrace {
		t.Fatalf("durations drifted from defaults: %+v", cfg)
	}
	if cfg.LocalCompressionLevel != d.LocalCompressionLevel {
		t.Fatalf("compression level drifted: %d", cfg.LocalCompressionLevel)
	}
	if cfg.AdminListenAddr != d.AdminListenAddr || len(cfg.AdminCORSOrigins) != len(d.AdminCORSOrigins) {
		t.Fatalf("admin surface drifted from defaults: addr=%q origins=%v", cfg.AdminListenAddr, cfg.AdminCORSOrigins)
	}
	if cfg.Limits.MaxPayloadBytes != d.Limits.MaxPayloadBytes {
		t.Fatalf("payload limit drifted: %d", cfg.Limits.MaxPayloadBytes)
	}
}

func TestHubFileOverridesAndMilliseconds(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, `
listen = "127.0.0.1:6000"
idle_timeout = "5s"
reap_interval = "1s"
reap_interval_ms = 250
admin = ""

[log]
level = "debug"
`)
	hf, err := LoadHubFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg, err := hf.ServiceConfig()
	if err != nil {
		t.Fatalf("service config: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:6000" || cfg.IdleTimeout != 5*time.Second {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.ReapInterval != 250*time.Millisecond {
		t.Fatalf("expected _ms key to win, got %s", cfg.ReapInterval)
	}
	if cfg.AdminListenAddr != "" {
		t.Fatalf("expected admin disabled, got %q", cfg.AdminListenAddr)
	}

	lc, err := hf.Log.LoggingConfig(logs.DefaultConfig(logs.ProfileRuntime))
	if err != nil {
		t.Fatalf("logging config: %v", err)
	}
	if lc.Level != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", lc.Level)
	}
}

func TestLoadRejectsUnknownKeysAndBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown key":   "listne = \"127.0.0.1:1\"\n",
		"bad duration":  "idle_timeout = \"soon\"\n",
		"negative":      "reap_interval = \"-1s\"\n",
		"bad level":     "local_compression_level = 12\n",
		"bad log level": "[log]\nlevel = \"loud\"\n",
		"type mismatch": "max_payload_bytes = \"big\"\n",
	}
	for name, body := range cases {
		path := writeFile(t, body)
		if _, err := LoadHubFile(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
		logs.Logf("config/load: %s rejected", name)
	}
}

func TestClientFileConversion(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, `
address = "10.0.0.5:49152"
max_send_attempts = 5
backoff_min = "100ms"
backoff_max_ms = 500
`)
	cf, err := LoadClientFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg, err := cf.ClientConfig()
	if err != nil {
		t.Fatalf("client config: %v", err)
	}
	if cfg.Address != "10.0.0.5:49152" || cfg.MaxSendAttempts != 5 {
		t.Fatalf("unexpected client config: %+v", cfg)
	}
	if cfg.Backoff.Min != 100*time.Millisecond || cfg.Backoff.Max != 500*time.Millisecond {
		t.Fatalf("unexpected backoff: %+v", *cfg.Backoff)
	}

	bad := writeFile(t, "backoff_min = \"3s\"\nbackoff_max = \"1s\"\n")
	if _, err := LoadClientFile(bad); err == nil {
		t.Fatalf("expected inverted backoff to be rejected")
	}
}

func TestClientFileBackoffMillisAndZero(t *testing.T) {
	testlog.Start(t)
	cf, err := LoadClientFile(writeFile(t, "backoff_min_ms = 40\nbackoff_max_ms = 90\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg, err := cf.ClientConfig()
	if err != nil {
		t.Fatalf("client config: %v", err)
	}
	if cfg.Backoff.Min != 40*time.Millisecond || cfg.Backoff.Max != 90*time.Millisecond {
		t.Fatalf("unexpected backoff: %+v", *cfg.Backoff)
	}

	cf, err = LoadClientFile(writeFile(t, "backoff_min = \"0s\"\nbackoff_max = \"0s\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg, err = cf.ClientConfig()
	if err != nil {
		t.Fatalf("client config: %v", err)
	}
	if cfg.Backoff.Min != 0 || cfg.Backoff.Max != 0 {
		t.Fatalf("expected zero backoff kept, got %+v", *cfg.Backoff)
	}
}

func TestUnknownKind(t *testing.T) {
	testlog.Start(t)
	if _, err := Template("ghost"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if err := Validate("ghost", "x.toml"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}
