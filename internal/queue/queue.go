// Package queue owns the hub's two independent FIFO queues.
//
// Items are opaque wire payloads (compressed envelopes). Each queue has its
// own mutex, held only for the slice mutation.
package queue

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/tcpq/internal/observability"
)

type QueueID int

const (
	// Outbound holds items pushed locally by the hub and pulled by workers.
	Outbound QueueID = iota
	// Inbound holds items pushed by workers and drained locally by the hub.
	Inbound
)

var ErrUnknownQueue = errors.New("queue: unknown queue")

func (id QueueID) String() string {
	switch id {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	default:
		return fmt.Sprintf("queue(%d)", int(id))
	}
}

// ParseQueueID accepts the queue names and the wire command letters.
func ParseQueueID(raw string) (QueueID, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "outbound", "out", "c", "consumer":
		return Outbound, nil
	case "inbound", "in", "p", "producer":
		return Inbound, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownQueue, raw)
	}
}

// FIFO is a mutex-guarded slice queue.
type FIFO struct {
	mu    sync.Mutex
	items [][]byte
	head  int
}

func (q *FIFO) push(item []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return len(q.items) - q.head
}

func (q *FIFO) pop() ([]byte, bool, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == len(q.items) {
		return nil, false, 0
	}
	item := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return item, true, len(q.items) - q.head
}

func (q *FIFO) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

func (q *FIFO) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items) - q.head
	q.items = nil
	q.head = 0
	return n
}

// Stats is a point-in-time view of both queue sizes. The two sizes are read
// under separate locks and are not an atomic pair.
type Stats struct {
	Outbound int `json:"outbound"`
	Inbound  int `json:"inbound"`
}

// Store owns the outbound and inbound queues for one hub.
type Store struct {
	outbound FIFO
	inbound  FIFO
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) fifo(id QueueID) *FIFO {
	switch id {
	case Outbound:
		return &s.outbound
	case Inbound:
		return &s.inbound
	default:
		panic(fmt.Sprintf("queue: unknown queue id %d", int(id)))
	}
}

// Push appends payload to the tail of queue id.
func (s *Store) Push(id QueueID, payload []byte) {
	depth := s.fifo(id).push(payload)
	observability.RecordQueuePush(id.String(), depth)
}

// Pop removes the head of queue id. ok is false when the queue was empty.
func (s *Store) Pop(id QueueID) (payload []byte, ok bool) {
	payload, ok, depth := s.fifo(id).pop()
	observability.RecordQueuePop(id.String(), ok, depth)
	return payload, ok
}

func (s *Store) Size(id QueueID) int {
	return s.fifo(id).size()
}

func (s *Store) IsEmpty(id QueueID) bool {
	return s.Size(id) == 0
}

func (s *Store) Snapshot() Stats {
	return Stats{
		Outbound: s.outbound.size(),
		Inbound:  s.inbound.size(),
	}
}

// Clear drops every item from both queues and returns how many were dropped.
func (s *Store) Clear() int {
	n := s.outbound.clear() + s.inbound.clear()
	observability.RecordQueueDepth(Outbound.String(), 0)
	observability.RecordQueueDepth(Inbound.String(), 0)
	return n
}
