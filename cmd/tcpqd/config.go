package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/tcpq/internal/config"
	"github.com/danmuck/tcpq/internal/hub"
)

// loadServiceConfig overlays the keys defined in path onto the hub
// defaults. Keys absent from the file keep their default.
func loadServiceConfig(path string) (hub.ServiceConfig, config.LogFile, error) {
	cfg := hub.DefaultServiceConfig()
	logCfg := config.LogFile{}

	var raw config.HubFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return hub.ServiceConfig{}, logCfg, fmt.Errorf("load hub config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return hub.ServiceConfig{}, logCfg, fmt.Errorf("load hub config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("listen") {
		cfg.ListenAddr = strings.TrimSpace(raw.Listen)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"idle_timeout", raw.IdleTimeout, &cfg.IdleTimeout},
		{"reap_interval", raw.ReapInterval, &cfg.ReapInterval},
		{"accept_retry_delay", raw.AcceptRetryDelay, &cfg.AcceptRetryDelay},
		{"shutdown_grace", raw.ShutdownGrace, &cfg.ShutdownGrace},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, ok, err := config.ParseDuration(d.key, d.raw)
		if err != nil {
			return hub.ServiceConfig{}, logCfg, err
		}
		if ok {
			*d.dst = v
		}
	}
	if meta.IsDefined("idle_timeout_ms") {
		cfg.IdleTimeout = time.Duration(raw.IdleTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("reap_interval_ms") {
		cfg.ReapInterval = time.Duration(raw.ReapIntervalMS) * time.Millisecond
	}

	if meta.IsDefined("max_payload_bytes") {
		cfg.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("local_compression_level") {
		cfg.LocalCompressionLevel = raw.LocalCompressionLevel
	}
	if meta.IsDefined("admin") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.Admin)
	}
	if meta.IsDefined("cors_origins") {
		cfg.AdminCORSOrigins = normalizeOrigins(raw.CORSOrigins)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("log") {
		logCfg = raw.Log
	}

	return cfg, logCfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
