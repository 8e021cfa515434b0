package hub

import (
	"compress/zlib"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/tcpq/internal/protocol/envelope"
	"github.com/danmuck/tcpq/internal/protocol/frame"
)

const (
	DefaultListenAddr = "0.0.0.0:49152"
	DefaultPort       = 49152
)

var ErrInvalidConfig = errors.New("hub: invalid config")

// ServiceConfig configures the hub listener, session and reaper behavior.
type ServiceConfig struct {
	ListenAddr            string
	IdleTimeout           time.Duration
	ReapInterval          time.Duration
	AcceptRetryDelay      time.Duration
	ShutdownGrace         time.Duration
	Limits                frame.Limits
	LocalCompressionLevel int
	AdminListenAddr       string
	AdminCORSOrigins      []string
	// AdminToken, when set, is required as a bearer token on admin writes.
	AdminToken string
}

// DefaultServiceConfig returns the hub defaults. The 75s idle timeout
// covers a worker that spends up to a minute on remote HTTP calls between
// queue operations.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:            DefaultListenAddr,
		IdleTimeout:           75 * time.Second,
		ReapInterval:          10 * time.Second,
		AcceptRetryDelay:      time.Second,
		ShutdownGrace:         5 * time.Second,
		Limits:                frame.DefaultLimits(),
		LocalCompressionLevel: envelope.LevelLocal,
		AdminListenAddr:       "",
		AdminCORSOrigins:      []string{},
	}
}

// WithDefaults fills zero-valued fields from DefaultServiceConfig.
func (c ServiceConfig) WithDefaults() ServiceConfig {
	d := DefaultServiceConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = d.ReapInterval
	}
	if c.AcceptRetryDelay <= 0 {
		c.AcceptRetryDelay = d.AcceptRetryDelay
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = d.ShutdownGrace
	}
	c.Limits = c.Limits.WithDefaults()
	if c.LocalCompressionLevel == 0 {
		c.LocalCompressionLevel = d.LocalCompressionLevel
	}
	if c.AdminCORSOrigins == nil {
		c.AdminCORSOrigins = []string{}
	}
	return c
}

func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("%w: missing listen addr", ErrInvalidConfig)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("%w: idle timeout must be positive", ErrInvalidConfig)
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("%w: reap interval must be positive", ErrInvalidConfig)
	}
	if c.LocalCompressionLevel < zlib.HuffmanOnly || c.LocalCompressionLevel > zlib.BestCompression {
		return fmt.Errorf("%w: compression level %d out of range", ErrInvalidConfig, c.LocalCompressionLevel)
	}
	return nil
}
