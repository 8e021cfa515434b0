package hub

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	logs "github.com/danmuck/tcpq/internal/logging"
	"github.com/danmuck/tcpq/internal/observability"
)

// worker is one registry entry: a session goroutine and the connection it
// owns. done is closed when the goroutine returns.
type worker struct {
	id      uuid.UUID
	remote  string
	started time.Time
	conn    net.Conn
	done    chan struct{}
}

func newWorker(conn net.Conn) *worker {
	return &worker{
		id:      uuid.New(),
		remote:  conn.RemoteAddr().String(),
		started: time.Now(),
		conn:    conn,
		done:    make(chan struct{}),
	}
}

func (w *worker) finished() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Registry holds session workers until the reaper sees them finish.
type Registry struct {
	mu      sync.Mutex
	workers []*worker
}

func NewRegistry() *Registry {
	return &Registry{workers: make([]*worker, 0)}
}

func (r *Registry) register(w *worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers = append(r.workers, w)
}

// Len returns the number of registered workers, finished or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// Reap drains the registry, drops finished workers and re-registers live
// ones. It returns the number of workers reclaimed.
func (r *Registry) Reap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := r.workers[:0]
	reaped := 0
	for _, w := range r.workers {
		if w.finished() {
			reaped++
			continue
		}
		live = append(live, w)
	}
	for i := len(live); i < len(r.workers); i++ {
		r.workers[i] = nil
	}
	r.workers = live
	return reaped
}

func (r *Registry) live() []*worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*worker, 0, len(r.workers))
	for _, w := range r.workers {
		if !w.finished() {
			out = append(out, w)
		}
	}
	return out
}

// Run reaps every interval until ctx ends, then performs one shutdown
// drain: live connections are closed, workers get up to grace in total to
// return, and whatever is still running is abandoned.
func (r *Registry) Run(ctx context.Context, interval, grace time.Duration) {
	logs.Debugf("hub.Registry.Run start interval=%s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			reaped, abandoned := r.drain(grace)
			logs.Infof("hub.Registry.Run shutdown reaped=%d abandoned=%d", reaped, abandoned)
			return
		case <-ticker.C:
			if n := r.Reap(); n > 0 {
				observability.RecordReaped(n)
				logs.Debugf("hub.Registry.Run reaped=%d remaining=%d", n, r.Len())
			}
		}
	}
}

func (r *Registry) drain(grace time.Duration) (reaped int, abandoned int) {
	live := r.live()
	for _, w := range live {
		_ = w.conn.Close()
	}
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
wait:
	for _, w := range live {
		select {
		case <-w.done:
		case <-deadline.C:
			break wait
		}
	}
	reaped = r.Reap()
	observability.RecordReaped(reaped)
	abandoned = r.Len()
	for _, w := range r.live() {
		logs.Warnf("hub.Registry.drain abandoned session=%s remote=%q age=%s", w.id, w.remote, time.Since(w.started).Round(time.Millisecond))
	}
	return reaped, abandoned
}
