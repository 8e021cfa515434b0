package hub

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"time"

	logs "github.com/danmuck/tcpq/internal/logging"
	"github.com/danmuck/tcpq/internal/observability"
	"github.com/danmuck/tcpq/internal/protocol/envelope"
	"github.com/danmuck/tcpq/internal/protocol/frame"
	"github.com/danmuck/tcpq/internal/queue"
)

// Wire command bytes. Matching is case-insensitive.
const (
	CmdPullOutbound byte = 'c'
	CmdPullInbound  byte = 'p'
)

// Close reasons reported in logs and metrics.
const (
	closeShutdown = "shutdown"
	closeEOF      = "eof"
	closeTimeout  = "timeout"
	closeFraming  = "framing"
	closeIO       = "io"
)

// nonePayload is the wire form of the empty-queue sentinel.
var nonePayload = func() []byte {
	b, err := envelope.Marshal(envelope.None(), envelope.LevelNetwork)
	if err != nil {
		panic(err)
	}
	return b
}()

// session serves one accepted connection.
//
// AwaitCommand -> Dispatch -> (Respond | Enqueue) -> AwaitCommand, until the
// connection closes, errors, idles out, or the hub shuts down.
type session struct {
	w      *worker
	reader *bufio.Reader
	store  *queue.Store
	cfg    ServiceConfig
}

func newSession(w *worker, store *queue.Store, cfg ServiceConfig) *session {
	return &session{
		w:      w,
		reader: bufio.NewReader(w.conn),
		store:  store,
		cfg:    cfg,
	}
}

func (s *session) run(ctx context.Context) {
	defer close(s.w.done)
	defer s.w.conn.Close()

	observability.RecordSessionOpen()
	logs.Debugf("hub.session open session=%s remote=%q", s.w.id, s.w.remote)

	reason, err := s.loop(ctx)
	observability.RecordSessionClose(reason)
	switch reason {
	case closeShutdown, closeEOF:
		logs.Debugf("hub.session closed session=%s remote=%q reason=%s", s.w.id, s.w.remote, reason)
	default:
		logs.Warnf("hub.session closed session=%s remote=%q reason=%s err=%v", s.w.id, s.w.remote, reason, err)
	}
}

func (s *session) loop(ctx context.Context) (string, error) {
	for {
		if ctx.Err() != nil {
			return closeShutdown, nil
		}
		_ = s.w.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		payload, err := frame.ReadFrame(s.reader, s.cfg.Limits)
		if err != nil {
			if ctx.Err() != nil {
				return closeShutdown, nil
			}
			return classify(err), err
		}
		if err := s.dispatch(payload); err != nil {
			if ctx.Err() != nil {
				return closeShutdown, nil
			}
			return classify(err), err
		}
	}
}

func (s *session) dispatch(payload []byte) error {
	if len(payload) == 0 {
		logs.Warnf("hub.session empty frame ignored session=%s", s.w.id)
		observability.RecordCommand("empty")
		return nil
	}
	switch lower(payload[0]) {
	case CmdPullOutbound:
		observability.RecordCommand("pull_outbound")
		return s.respond(s.pop(queue.Outbound))
	case CmdPullInbound:
		observability.RecordCommand("pull_inbound")
		return s.respond(s.pop(queue.Inbound))
	default:
		observability.RecordCommand("push")
		s.store.Push(queue.Inbound, payload)
		return nil
	}
}

func (s *session) pop(id queue.QueueID) []byte {
	item, ok := s.store.Pop(id)
	if !ok {
		return nonePayload
	}
	return item
}

func (s *session) respond(payload []byte) error {
	_ = s.w.conn.SetWriteDeadline(time.Now().Add(s.cfg.IdleTimeout))
	return frame.WriteFrame(s.w.conn, payload)
}

func classify(err error) string {
	switch {
	case frame.IsCleanClose(err):
		return closeEOF
	case errors.Is(err, frame.ErrFraming), errors.Is(err, frame.ErrPayloadTooLarge):
		return closeFraming
	case errors.Is(err, os.ErrDeadlineExceeded):
		return closeTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return closeTimeout
	}
	return closeIO
}

func lower(b byte) byte {
	if 'A' <= b && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}
