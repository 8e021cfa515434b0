package client

import (
	"bufio"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	logs "github.com/danmuck/tcpq/internal/logging"
	"github.com/danmuck/tcpq/internal/observability"
	"github.com/danmuck/tcpq/internal/protocol/envelope"
	"github.com/danmuck/tcpq/internal/protocol/frame"
	"github.com/danmuck/tcpq/internal/queue"
)

const DefaultAddress = "127.0.0.1:49152"

var (
	ErrInvalidConfig = errors.New("client: invalid config")
	// ErrDeliveryExhausted is logged when a push is dropped after its last
	// attempt. Push itself still returns nil.
	ErrDeliveryExhausted = errors.New("client: delivery exhausted")
	ErrNotColocated      = errors.New("client: no local queue store")
)

// DialFunc opens the connection to the hub.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type Config struct {
	Address         string
	DialTimeout     time.Duration
	IOTimeout       time.Duration
	MaxSendAttempts int
	// Backoff is nil when unset. A non-nil zero Backoff retries without sleeping.
	Backoff               *Backoff
	CompressionLevel      int
	LocalCompressionLevel int
	Limits                frame.Limits
	Dial                  DialFunc
	// Local is the hub's store when the client runs in the hub process.
	Local *queue.Store
}

func DefaultConfig() Config {
	backoff := DefaultBackoff()
	return Config{
		Address:               DefaultAddress,
		DialTimeout:           5 * time.Second,
		IOTimeout:             75 * time.Second,
		MaxSendAttempts:       3,
		Backoff:               &backoff,
		CompressionLevel:      envelope.LevelNetwork,
		LocalCompressionLevel: envelope.LevelLocal,
		Limits:                frame.DefaultLimits(),
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig. A zero
// compression level means the default level, not zlib.NoCompression.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.Address) == "" {
		c.Address = d.Address
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = d.IOTimeout
	}
	if c.MaxSendAttempts <= 0 {
		c.MaxSendAttempts = d.MaxSendAttempts
	}
	if c.Backoff == nil {
		c.Backoff = d.Backoff
	} else {
		backoff := *c.Backoff
		c.Backoff = &backoff
	}
	if c.CompressionLevel == 0 {
		c.CompressionLevel = d.CompressionLevel
	}
	if c.LocalCompressionLevel == 0 {
		c.LocalCompressionLevel = d.LocalCompressionLevel
	}
	c.Limits = c.Limits.WithDefaults()
	return c
}

func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("%w: address %q: %v", ErrInvalidConfig, c.Address, err)
	}
	if c.Backoff == nil {
		return fmt.Errorf("%w: backoff unset", ErrInvalidConfig)
	}
	if c.Backoff.Min < 0 || c.Backoff.Max < c.Backoff.Min {
		return fmt.Errorf("%w: backoff bounds [%s, %s)", ErrInvalidConfig, c.Backoff.Min, c.Backoff.Max)
	}
	for _, level := range []int{c.CompressionLevel, c.LocalCompressionLevel} {
		if level < zlib.HuffmanOnly || level > zlib.BestCompression {
			return fmt.Errorf("%w: compression level %d out of range", ErrInvalidConfig, level)
		}
	}
	return nil
}

// Client talks to one hub over a single lazily dialed connection. All
// methods are safe for concurrent use; request/response pairs never
// interleave on the wire.
type Client struct {
	cfg Config
	rng *rand.Rand

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// New validates cfg. No connection is made until the first Pull or Push.
func New(cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Dial == nil {
		dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}
		cfg.Dial = dialer.DialContext
	}
	return &Client{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (c *Client) Config() Config {
	return c.cfg
}

// Pull asks the hub for the head of the given queue. Any dial, I/O or
// framing failure drops the connection and yields envelope.None(); the
// next call redials.
func (c *Client) Pull(ctx context.Context, id queue.QueueID) envelope.Envelope {
	var cmd byte
	switch id {
	case queue.Outbound:
		cmd = 'c'
	case queue.Inbound:
		cmd = 'p'
	default:
		logs.Warnf("client.Client.Pull unknown queue=%d", id)
		return envelope.None()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connLocked(ctx)
	if err != nil {
		logs.Warnf("client.Client.Pull dial addr=%q err=%v", c.cfg.Address, err)
		return envelope.None()
	}
	_ = conn.SetDeadline(time.Now().Add(c.cfg.IOTimeout))
	if err := frame.WriteFrame(conn, []byte{cmd}); err != nil {
		logs.Warnf("client.Client.Pull write queue=%s err=%v", id, err)
		c.dropLocked()
		return envelope.None()
	}
	payload, err := frame.ReadFrame(c.reader, c.cfg.Limits)
	if err != nil {
		logs.Warnf("client.Client.Pull read queue=%s err=%v", id, err)
		c.dropLocked()
		return envelope.None()
	}
	return envelope.Decode(payload)
}

// Push sends env to the hub's inbound queue with at most MaxSendAttempts
// attempts. A message that fails every attempt is dropped and logged; Push
// then returns nil. Errors are returned only when env cannot be marshaled
// or ctx ends first. The none sentinel is rejected with envelope.ErrSentinel.
func (c *Client) Push(ctx context.Context, env envelope.Envelope) error {
	if env.IsNone() {
		return envelope.ErrSentinel
	}
	payload, err := envelope.Marshal(env, c.cfg.CompressionLevel)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = c.sendLocked(ctx, payload)
		if lastErr == nil {
			observability.RecordClientSend(true)
			return nil
		}
		observability.RecordClientSend(false)
		logs.Warnf("client.Client.Push attempt=%d/%d addr=%q err=%v", attempt, c.cfg.MaxSendAttempts, c.cfg.Address, lastErr)
		c.dropLocked()
		if !c.shouldRetry(attempt) {
			break
		}
		if err := c.sleepBackoff(ctx); err != nil {
			return err
		}
	}

	observability.RecordClientDrop()
	logs.Errf("client.Client.Push dropped bytes=%d err=%v", len(payload), fmt.Errorf("%w: %w", ErrDeliveryExhausted, lastErr))
	return nil
}

// PushLocal appends env to the colocated hub's outbound queue without
// touching the network.
func (c *Client) PushLocal(env envelope.Envelope) error {
	if c.cfg.Local == nil {
		return ErrNotColocated
	}
	if env.IsNone() {
		return envelope.ErrSentinel
	}
	payload, err := envelope.Marshal(env, c.cfg.LocalCompressionLevel)
	if err != nil {
		return err
	}
	c.cfg.Local.Push(queue.Outbound, payload)
	return nil
}

func (c *Client) SizeOutbound() (int, error) {
	return c.localSize(queue.Outbound)
}

func (c *Client) SizeInbound() (int, error) {
	return c.localSize(queue.Inbound)
}

func (c *Client) IsOutboundEmpty() (bool, error) {
	return c.localEmpty(queue.Outbound)
}

func (c *Client) IsInboundEmpty() (bool, error) {
	return c.localEmpty(queue.Inbound)
}

// ClearLocal empties both colocated queues.
func (c *Client) ClearLocal() error {
	if c.cfg.Local == nil {
		return ErrNotColocated
	}
	n := c.cfg.Local.Clear()
	logs.Infof("client.Client.ClearLocal dropped=%d", n)
	return nil
}

// Close releases the connection. It is safe to call repeatedly; a later
// Pull or Push dials again.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) localSize(id queue.QueueID) (int, error) {
	if c.cfg.Local == nil {
		return 0, ErrNotColocated
	}
	return c.cfg.Local.Size(id), nil
}

func (c *Client) localEmpty(id queue.QueueID) (bool, error) {
	if c.cfg.Local == nil {
		return false, ErrNotColocated
	}
	return c.cfg.Local.IsEmpty(id), nil
}

func (c *Client) connLocked(ctx context.Context) (net.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := c.cfg.Dial(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	logs.Debugf("client.Client connected addr=%q local=%q", c.cfg.Address, conn.LocalAddr().String())
	return conn, nil
}

func (c *Client) sendLocked(ctx context.Context, payload []byte) error {
	conn, err := c.connLocked(ctx)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.IOTimeout))
	return frame.WriteFrame(conn, payload)
}

func (c *Client) dropLocked() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.reader = nil
}

func (c *Client) shouldRetry(attempt int) bool {
	return attempt < c.cfg.MaxSendAttempts
}

func (c *Client) sleepBackoff(ctx context.Context) error {
	delay := NextDelay(*c.cfg.Backoff, c.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
