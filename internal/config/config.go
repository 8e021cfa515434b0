package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	logs "github.com/danmuck/tcpq/internal/logging"
)

var ErrUnknownKind = errors.New("config: unknown kind")

// LogFile is the [log] table shared by hub and client files.
type LogFile struct {
	Level     string `toml:"level" comment:"trace|debug|info|warn|error"`
	File      string `toml:"file,omitempty" comment:"rotated log file, empty for console only"`
	NoColor   bool   `toml:"no_color"`
	Timestamp bool   `toml:"timestamp"`
}

// HubFile is the on-disk form of the hub config. Durations are Go duration
// strings; the matching _ms keys take integer milliseconds and win when
// both are set.
type HubFile struct {
	Listen                string   `toml:"listen" comment:"hub TCP listener"`
	IdleTimeout           string   `toml:"idle_timeout" comment:"per-connection read idle timeout"`
	IdleTimeoutMS         int64    `toml:"idle_timeout_ms,omitempty"`
	ReapInterval          string   `toml:"reap_interval"`
	ReapIntervalMS        int64    `toml:"reap_interval_ms,omitempty"`
	AcceptRetryDelay      string   `toml:"accept_retry_delay"`
	ShutdownGrace         string   `toml:"shutdown_grace" comment:"bound on waiting for sessions at shutdown"`
	MaxPayloadBytes       uint64   `toml:"max_payload_bytes" comment:"largest accepted frame payload"`
	LocalCompressionLevel int      `toml:"local_compression_level" comment:"zlib level for hub-side enqueues"`
	Admin                 string   `toml:"admin" comment:"admin HTTP listener, empty disables it"`
	CORSOrigins           []string `toml:"cors_origins"`
	AdminToken            string   `toml:"admin_token,omitempty" comment:"bearer token required on admin writes"`
	Log                   LogFile  `toml:"log"`
}

// ClientFile is the on-disk form of the client config.
type ClientFile struct {
	Address          string  `toml:"address" comment:"hub address"`
	DialTimeout      string  `toml:"dial_timeout"`
	IOTimeout        string  `toml:"io_timeout"`
	MaxSendAttempts  int     `toml:"max_send_attempts" comment:"push attempts before a message is dropped"`
	BackoffMin       string  `toml:"backoff_min"`
	BackoffMinMS     int64   `toml:"backoff_min_ms,omitempty"`
	BackoffMax       string  `toml:"backoff_max" comment:"0s for both bounds disables retry sleeps"`
	BackoffMaxMS     int64   `toml:"backoff_max_ms,omitempty"`
	CompressionLevel int     `toml:"compression_level" comment:"zlib level for network pushes"`
	MaxPayloadBytes  uint64  `toml:"max_payload_bytes"`
	Log              LogFile `toml:"log"`
}

// LoadHubFile reads path over the default hub file, rejecting unknown keys.
func LoadHubFile(path string) (HubFile, error) {
	cfg := DefaultHubFile()
	if err := loadToml(path, &cfg); err != nil {
		return HubFile{}, err
	}
	if _, err := cfg.ServiceConfig(); err != nil {
		return HubFile{}, err
	}
	if _, err := cfg.Log.LoggingConfig(logs.DefaultConfig(logs.ProfileRuntime)); err != nil {
		return HubFile{}, err
	}
	return cfg, nil
}

// LoadClientFile reads path over the default client file, rejecting
// unknown keys.
func LoadClientFile(path string) (ClientFile, error) {
	cfg := DefaultClientFile()
	if err := loadToml(path, &cfg); err != nil {
		return ClientFile{}, err
	}
	if _, err := cfg.ClientConfig(); err != nil {
		return ClientFile{}, err
	}
	if _, err := cfg.Log.LoggingConfig(logs.DefaultConfig(logs.ProfileRuntime)); err != nil {
		return ClientFile{}, err
	}
	return cfg, nil
}

// Validate loads the file at path as the given kind.
func Validate(kind, path string) error {
	switch normalizeKind(kind) {
	case KindHub:
		_, err := LoadHubFile(path)
		return err
	case KindClient:
		_, err := LoadClientFile(path)
		return err
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config parse failed (%s): %s", path, strict.String())
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// ParseDuration accepts a Go duration string. Empty means unset.
func ParseDuration(key, raw string) (time.Duration, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, false, fmt.Errorf("parse %s: negative duration %s", key, d)
	}
	return d, true, nil
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}
