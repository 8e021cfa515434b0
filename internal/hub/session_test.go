package hub

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	logs "github.com/danmuck/tcpq/internal/logging"
	"github.com/danmuck/tcpq/internal/protocol/envelope"
	"github.com/danmuck/tcpq/internal/protocol/frame"
	"github.com/danmuck/tcpq/internal/queue"
	"github.com/danmuck/tcpq/internal/testutil/testlog"
)

type pipeSession struct {
	w      *worker
	store  *queue.Store
	client net.Conn
	reader *bufio.Reader
}

func startPipeSession(t *testing.T, ctx context.Context, cfg ServiceConfig) *pipeSession {
	t.Helper()
	server, client := net.Pipe()
	store := queue.NewStore()
	w := newWorker(server)
	go newSession(w, store, cfg.WithDefaults()).run(ctx)
	t.Cleanup(func() { _ = client.Close() })
	return &pipeSession{w: w, store: store, client: client, reader: bufio.NewReader(client)}
}

func (p *pipeSession) send(t *testing.T, payload []byte) {
	t.Helper()
	_ = p.client.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := frame.WriteFrame(p.client, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func (p *pipeSession) recv(t *testing.T) []byte {
	t.Helper()
	_ = p.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload, err := frame.ReadFrame(p.reader, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return payload
}

func waitDone(t *testing.T, w *worker, within time.Duration) {
	t.Helper()
	select {
	case <-w.done:
	case <-time.After(within):
		t.Fatalf("session did not exit within %s", within)
	}
}

func TestSessionPullReturnsStoredPayloadThenNone(t *testing.T) {
	testlog.Start(t)
	p := startPipeSession(t, context.Background(), ServiceConfig{})

	want, err := envelope.Marshal(envelope.FromString("hello"), envelope.LevelLocal)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	p.store.Push(queue.Outbound, want)

	p.send(t, []byte("c"))
	got, err := envelope.Unmarshal(p.recv(t))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.String() != "hello" {
		t.Fatalf("expected hello, got %q", got.String())
	}

	p.send(t, []byte("c"))
	second, err := envelope.Unmarshal(p.recv(t))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !second.IsNone() {
		t.Fatalf("expected none on empty queue, got kind=%s", second.Kind())
	}
	logs.Logf("hub/session: pull outbound hit then none")
}

func TestSessionPushThenPullInbound(t *testing.T) {
	testlog.Start(t)
	p := startPipeSession(t, context.Background(), ServiceConfig{})

	result, err := envelope.Marshal(envelope.FromString("result1"), envelope.LevelNetwork)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	p.send(t, result)
	// Session handling is sequential, so the push has landed once the
	// pull below is answered.
	p.send(t, []byte("P"))
	got := p.recv(t)
	if string(got) != string(result) {
		t.Fatalf("inbound payload changed in transit")
	}
	if p.store.Size(queue.Inbound) != 0 {
		t.Fatalf("expected inbound drained, size=%d", p.store.Size(queue.Inbound))
	}
	logs.Logf("hub/session: push then uppercase pull inbound")
}

func TestSessionUppercaseCommandMatchesLowercase(t *testing.T) {
	testlog.Start(t)
	p := startPipeSession(t, context.Background(), ServiceConfig{})
	p.store.Push(queue.Outbound, []byte("job"))

	p.send(t, []byte("C"))
	if got := string(p.recv(t)); got != "job" {
		t.Fatalf("expected job, got %q", got)
	}
	if p.store.Size(queue.Inbound) != 0 {
		t.Fatalf("uppercase command must not be pushed")
	}
}

func TestSessionCommandUsesFirstByteOnly(t *testing.T) {
	testlog.Start(t)
	p := startPipeSession(t, context.Background(), ServiceConfig{})
	p.store.Push(queue.Inbound, []byte("x"))

	p.send(t, []byte("pull please"))
	if got := string(p.recv(t)); got != "x" {
		t.Fatalf("expected x, got %q", got)
	}
}

func TestSessionEmptyFrameIgnored(t *testing.T) {
	testlog.Start(t)
	p := startPipeSession(t, context.Background(), ServiceConfig{})

	p.send(t, nil)
	p.send(t, []byte("p"))
	got, err := envelope.Unmarshal(p.recv(t))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.IsNone() {
		t.Fatalf("empty frame must not be queued")
	}
}

func TestSessionFramingErrorClosesConnection(t *testing.T) {
	testlog.Start(t)
	p := startPipeSession(t, context.Background(), ServiceConfig{})

	_ = p.client.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := p.client.Write([]byte("abc:")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitDone(t, p.w, 2*time.Second)

	_ = p.client.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := p.reader.ReadByte(); err == nil {
		t.Fatalf("expected closed connection after framing error")
	}
	logs.Logf("hub/session: framing error closed session=%s", p.w.id)
}

func TestSessionIdleTimeoutCloses(t *testing.T) {
	testlog.Start(t)
	p := startPipeSession(t, context.Background(), ServiceConfig{IdleTimeout: 50 * time.Millisecond})

	start := time.Now()
	waitDone(t, p.w, 2*time.Second)
	logs.Logf("hub/session: idle close after %s", time.Since(start).Round(time.Millisecond))
}

func TestSessionPeerCloseEndsSession(t *testing.T) {
	testlog.Start(t)
	p := startPipeSession(t, context.Background(), ServiceConfig{})

	p.send(t, []byte("work"))
	_ = p.client.Close()
	waitDone(t, p.w, 2*time.Second)
	if p.store.Size(queue.Inbound) != 1 {
		t.Fatalf("expected pushed frame retained after close, size=%d", p.store.Size(queue.Inbound))
	}
}

func TestSessionStopsOnCancelledContext(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := startPipeSession(t, ctx, ServiceConfig{})
	waitDone(t, p.w, time.Second)
}

func TestClassify(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"clean", fmt.Errorf("%w: %w", frame.ErrConnectionClosed, io.EOF), closeEOF},
		{"truncated", fmt.Errorf("%w: %w", frame.ErrConnectionClosed, io.ErrUnexpectedEOF), closeIO},
		{"framing", frame.ErrFraming, closeFraming},
		{"too-large", frame.ErrPayloadTooLarge, closeFraming},
		{"timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, closeTimeout},
	}
	for _, tc := range cases {
		if got := classify(tc.err); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
