package hub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	logs "github.com/danmuck/tcpq/internal/logging"
	"github.com/danmuck/tcpq/internal/protocol/envelope"
	"github.com/danmuck/tcpq/internal/queue"
)

// ErrBind reports that the hub could not acquire a listening socket. It is
// the only error that aborts the hub.
var ErrBind = errors.New("hub: bind failed")

// Stats is the operator view served by the admin surface.
type Stats struct {
	Queues            queue.Stats `json:"queues"`
	ActiveSessions    int         `json:"active_sessions"`
	RegisteredWorkers int         `json:"registered_workers"`
	Uptime            string      `json:"uptime"`
}

// Service is the hub runtime: it owns the queue store, the worker registry
// and the listener.
type Service struct {
	cfg      ServiceConfig
	store    *queue.Store
	registry *Registry
	started  time.Time

	addrMu sync.RWMutex
	addr   net.Addr
}

// NewService builds a hub over store. A nil store allocates a fresh one.
func NewService(cfg ServiceConfig, store *queue.Store) *Service {
	if store == nil {
		store = queue.NewStore()
	}
	return &Service{
		cfg:      cfg.WithDefaults(),
		store:    store,
		registry: NewRegistry(),
		started:  time.Now(),
	}
}

// Store returns the queue store owned by this hub, for colocated clients.
func (s *Service) Store() *queue.Store {
	return s.store
}

func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

// Addr returns the bound listener address once serving, else nil.
func (s *Service) Addr() net.Addr {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// ActiveSessions counts registered workers that have not finished.
func (s *Service) ActiveSessions() int {
	return len(s.registry.live())
}

func (s *Service) Stats() Stats {
	return Stats{
		Queues:            s.store.Snapshot(),
		ActiveSessions:    s.ActiveSessions(),
		RegisteredWorkers: s.registry.Len(),
		Uptime:            time.Since(s.started).Round(time.Second).String(),
	}
}

// Enqueue marshals env at the local compression level and appends it to the
// outbound queue, the way a producer colocated with the hub hands out work.
func (s *Service) Enqueue(env envelope.Envelope) error {
	if env.IsNone() {
		return envelope.ErrSentinel
	}
	payload, err := envelope.Marshal(env, s.cfg.LocalCompressionLevel)
	if err != nil {
		return err
	}
	s.store.Push(queue.Outbound, payload)
	return nil
}

// Run blocks until SIGINT/SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.ListenAndServe(ctx)
}

func (s *Service) ListenAndServe(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	logs.Infof("hub.Service.Run listening addr=%q", ln.Addr().String())
	return s.Serve(ctx, ln)
}

// Listen binds the hub listener.
func (s *Service) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBind, s.cfg.ListenAddr, err)
	}
	return ln, nil
}

// Serve runs the accept loop, the reaper, and the admin surface on an
// existing listener until ctx ends. It returns after the reaper finished
// its shutdown drain.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	defer ln.Close()

	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()

	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		s.registry.Run(ctx, s.cfg.ReapInterval, s.cfg.ShutdownGrace)
	}()

	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		go func() {
			if err := s.serveAdmin(ctx, addr); err != nil {
				logs.Errf("hub.Service.serveAdmin err=%v", err)
				cancel(err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.acceptLoop(ctx, ln)
	cancel(nil)
	<-reaperDone

	if cause := context.Cause(ctx); errors.Is(cause, ErrBind) {
		return cause
	}
	logs.Infof("hub.Service.Serve shutdown")
	return nil
}

func (s *Service) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logs.Warnf("hub.Service.accept err=%v retry_in=%s", err, s.cfg.AcceptRetryDelay)
			timer := time.NewTimer(s.cfg.AcceptRetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}
		s.startSession(ctx, conn)
	}
}

func (s *Service) startSession(ctx context.Context, conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
	}
	w := newWorker(conn)
	s.registry.register(w)
	go newSession(w, s.store, s.cfg).run(ctx)
}
