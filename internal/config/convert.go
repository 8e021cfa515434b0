package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/tcpq/internal/client"
	"github.com/danmuck/tcpq/internal/hub"
	logs "github.com/danmuck/tcpq/internal/logging"
)

func DefaultHubFile() HubFile {
	d := hub.DefaultServiceConfig()
	return HubFile{
		Listen:                d.ListenAddr,
		IdleTimeout:           d.IdleTimeout.String(),
		ReapInterval:          d.ReapInterval.String(),
		AcceptRetryDelay:      d.AcceptRetryDelay.String(),
		ShutdownGrace:         d.ShutdownGrace.String(),
		MaxPayloadBytes:       d.Limits.MaxPayloadBytes,
		LocalCompressionLevel: d.LocalCompressionLevel,
		Admin:                 d.AdminListenAddr,
		CORSOrigins:           append([]string{}, d.AdminCORSOrigins...),
		Log:                   defaultLogFile(),
	}
}

func DefaultClientFile() ClientFile {
	d := client.DefaultConfig()
	return ClientFile{
		Address:          d.Address,
		DialTimeout:      d.DialTimeout.String(),
		IOTimeout:        d.IOTimeout.String(),
		MaxSendAttempts:  d.MaxSendAttempts,
		BackoffMin:       d.Backoff.Min.String(),
		BackoffMax:       d.Backoff.Max.String(),
		CompressionLevel: d.CompressionLevel,
		MaxPayloadBytes:  d.Limits.MaxPayloadBytes,
		Log:              defaultLogFile(),
	}
}

func defaultLogFile() LogFile {
	return LogFile{Level: "info", Timestamp: true}
}

// ServiceConfig converts the file into a validated hub config.
func (f HubFile) ServiceConfig() (hub.ServiceConfig, error) {
	cfg := hub.DefaultServiceConfig()
	cfg.ListenAddr = strings.TrimSpace(f.Listen)
	cfg.AdminListenAddr = strings.TrimSpace(f.Admin)
	cfg.AdminCORSOrigins = append([]string{}, f.CORSOrigins...)
	cfg.AdminToken = strings.TrimSpace(f.AdminToken)
	cfg.Limits.MaxPayloadBytes = f.MaxPayloadBytes
	cfg.LocalCompressionLevel = f.LocalCompressionLevel

	durations := []struct {
		key string
		raw string
		ms  int64
		dst *time.Duration
	}{
		{"idle_timeout", f.IdleTimeout, f.IdleTimeoutMS, &cfg.IdleTimeout},
		{"reap_interval", f.ReapInterval, f.ReapIntervalMS, &cfg.ReapInterval},
		{"accept_retry_delay", f.AcceptRetryDelay, 0, &cfg.AcceptRetryDelay},
		{"shutdown_grace", f.ShutdownGrace, 0, &cfg.ShutdownGrace},
	}
	for _, d := range durations {
		v, ok, err := ParseDuration(d.key, d.raw)
		if err != nil {
			return hub.ServiceConfig{}, err
		}
		if ok {
			*d.dst = v
		}
		if d.ms > 0 {
			*d.dst = time.Duration(d.ms) * time.Millisecond
		}
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return hub.ServiceConfig{}, err
	}
	return cfg, nil
}

// ClientConfig converts the file into a validated client config.
func (f ClientFile) ClientConfig() (client.Config, error) {
	cfg := client.DefaultConfig()
	cfg.Address = strings.TrimSpace(f.Address)
	cfg.MaxSendAttempts = f.MaxSendAttempts
	cfg.CompressionLevel = f.CompressionLevel
	cfg.Limits.MaxPayloadBytes = f.MaxPayloadBytes

	durations := []struct {
		key string
		raw string
		ms  int64
		dst *time.Duration
	}{
		{"dial_timeout", f.DialTimeout, 0, &cfg.DialTimeout},
		{"io_timeout", f.IOTimeout, 0, &cfg.IOTimeout},
		{"backoff_min", f.BackoffMin, f.BackoffMinMS, &cfg.Backoff.Min},
		{"backoff_max", f.BackoffMax, f.BackoffMaxMS, &cfg.Backoff.Max},
	}
	for _, d := range durations {
		v, ok, err := ParseDuration(d.key, d.raw)
		if err != nil {
			return client.Config{}, err
		}
		if ok {
			*d.dst = v
		}
		if d.ms > 0 {
			*d.dst = time.Duration(d.ms) * time.Millisecond
		}
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return client.Config{}, err
	}
	return cfg, nil
}

// LoggingConfig overlays the [log] table onto the runtime logging profile.
func (f LogFile) LoggingConfig(base logs.Config) (logs.Config, error) {
	if raw := strings.TrimSpace(f.Level); raw != "" {
		level, ok := logs.ParseLevel(raw)
		if !ok {
			return logs.Config{}, fmt.Errorf("parse log.level: unknown level %q", raw)
		}
		base.Level = level
	}
	if path := strings.TrimSpace(f.File); path != "" {
		base.File = path
	}
	base.NoColor = f.NoColor
	base.Timestamp = f.Timestamp
	return base, nil
}
