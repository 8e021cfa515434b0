package hub

import (
	"context"
	"net"
	"testing"
	"time"

	logs "github.com/danmuck/tcpq/internal/logging"
	"github.com/danmuck/tcpq/internal/testutil/testlog"
)

func pipeWorker(t *testing.T) *worker {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return newWorker(server)
}

func TestRegistryReapDropsOnlyFinishedWorkers(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	a, b, c := pipeWorker(t), pipeWorker(t), pipeWorker(t)
	r.register(a)
	r.register(b)
	r.register(c)

	close(a.done)
	close(c.done)

	if n := r.Reap(); n != 2 {
		t.Fatalf("expected 2 reaped, got %d", n)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 live worker, got %d", r.Len())
	}
	if live := r.live(); len(live) != 1 || live[0] != b {
		t.Fatalf("expected worker b to survive the reap")
	}
	if n := r.Reap(); n != 0 {
		t.Fatalf("expected idempotent reap, got %d", n)
	}
	logs.Logf("hub/registry: reaped finished workers, kept live one")
}

func TestRegistryRunReapsOnInterval(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	w := pipeWorker(t)
	r.register(w)
	close(w.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, 10*time.Millisecond, time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for r.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("registry not reaped, len=%d", r.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegistryDrainClosesConnectionsAndReaps(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	w := pipeWorker(t)
	r.register(w)

	// Stand-in session: exits when its connection is closed.
	go func() {
		defer close(w.done)
		buf := make([]byte, 1)
		_, _ = w.conn.Read(buf)
	}()

	reaped, abandoned := r.drain(time.Second)
	if reaped != 1 || abandoned != 0 {
		t.Fatalf("expected reaped=1 abandoned=0, got reaped=%d abandoned=%d", reaped, abandoned)
	}
}

func TestRegistryDrainIsBoundedByGrace(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	stuck := pipeWorker(t)
	r.register(stuck)

	grace := 50 * time.Millisecond
	start := time.Now()
	reaped, abandoned := r.drain(grace)
	elapsed := time.Since(start)

	if reaped != 0 || abandoned != 1 {
		t.Fatalf("expected reaped=0 abandoned=1, got reaped=%d abandoned=%d", reaped, abandoned)
	}
	if elapsed < grace || elapsed > grace+time.Second {
		t.Fatalf("drain did not honor grace, elapsed=%s", elapsed)
	}
	logs.Logf("hub/registry: drain abandoned stuck worker after %s", elapsed.Round(time.Millisecond))
}
