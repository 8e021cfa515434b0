package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jrick/logrotate/rotator"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "TCPQ_LOG_LEVEL"
	EnvLogTimestamp = "TCPQ_LOG_TIMESTAMP"
	EnvLogNoColor   = "TCPQ_LOG_NOCOLOR"
	EnvLogBypass    = "TCPQ_LOG_BYPASS"
	EnvLogFile      = "TCPQ_LOG_FILE"
)

// Rotation thresholds for the optional file sink.
const (
	rotateThresholdKB = 10 * 1024
	rotateMaxRolls    = 3
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config is the resolved logger setup. Bypass skips console formatting and
// writes raw JSON lines.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	Bypass    bool
	File      string
}

var (
	configureOnce sync.Once

	sinkMu sync.Mutex
	sink   *rotator.Rotator
)

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := WithEnv(DefaultConfig(profile))
		if err := Apply(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		}
	})
}

// Apply installs cfg as the process-wide zerolog logger. A configured file
// sink that cannot be opened is reported and the console writer is kept.
func Apply(cfg Config) error {
	var console io.Writer
	if cfg.Bypass {
		console = os.Stdout
	} else {
		console = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
			PartsExclude: func() []string {
				if cfg.Timestamp {
					return nil
				}
				return []string{zerolog.TimestampFieldName}
			}(),
		}
	}

	var out io.Writer = console
	var sinkErr error
	if path := strings.TrimSpace(cfg.File); path != "" {
		r, err := openSink(path)
		if err != nil {
			sinkErr = err
		} else {
			out = zerolog.MultiLevelWriter(console, r)
		}
	}

	zerolog.SetGlobalLevel(cfg.Level)
	ctx := zerolog.New(out).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	log.Logger = ctx.Logger()
	return sinkErr
}

// Close flushes and closes the file sink, if one is open.
func Close() error {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if sink == nil {
		return nil
	}
	err := sink.Close()
	sink = nil
	return err
}

func openSink(path string) (*rotator.Rotator, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	r, err := rotator.New(path, rotateThresholdKB, false, rotateMaxRolls)
	if err != nil {
		return nil, fmt.Errorf("create file rotator: %w", err)
	}
	sinkMu.Lock()
	prev := sink
	sink = r
	sinkMu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return r, nil
}

// DefaultConfig returns the profile defaults before env overrides.
func DefaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Timestamp: false}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

// WithEnv applies the TCPQ_LOG_* overrides to cfg.
func WithEnv(cfg Config) Config {
	applyEnvOverrides(&cfg)
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogBypass)); ok {
		cfg.Bypass = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.File = v
	}
}

// ParseLevel maps an operator level name onto a zerolog level.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
