package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/tcpq/internal/client"
	"github.com/danmuck/tcpq/internal/config"
)

func loadClientConfig(path string) (client.Config, config.LogFile, error) {
	cfg := client.DefaultConfig()
	logCfg := config.LogFile{}

	var raw config.ClientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return client.Config{}, logCfg, fmt.Errorf("load client config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return client.Config{}, logCfg, fmt.Errorf("load client config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	durations := []struct {
		key string
		raw string
		ms  int64
		dst *time.Duration
	}{
		{"dial_timeout", raw.DialTimeout, 0, &cfg.DialTimeout},
		{"io_timeout", raw.IOTimeout, 0, &cfg.IOTimeout},
		{"backoff_min", raw.BackoffMin, raw.BackoffMinMS, &cfg.Backoff.Min},
		{"backoff_max", raw.BackoffMax, raw.BackoffMaxMS, &cfg.Backoff.Max},
	}
	for _, d := range durations {
		if meta.IsDefined(d.key) {
			v, ok, err := config.ParseDuration(d.key, d.raw)
			if err != nil {
				return client.Config{}, logCfg, err
			}
			if ok {
				*d.dst = v
			}
		}
		if meta.IsDefined(d.key + "_ms") {
			*d.dst = time.Duration(d.ms) * time.Millisecond
		}
	}
	if meta.IsDefined("max_send_attempts") {
		cfg.MaxSendAttempts = raw.MaxSendAttempts
	}
	if meta.IsDefined("compression_level") {
		cfg.CompressionLevel = raw.CompressionLevel
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("log") {
		logCfg = raw.Log
	}
	return cfg, logCfg, nil
}
