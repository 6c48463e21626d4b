package eventbus

import (
	"sync"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/logx"
)

// ChangeHandler processes one ChangeMsg. Handlers must be idempotent: the
// bus is at-least-once (a handler that returns an error is called again, up
// to three attempts in all), and a handler asked to apply a transition from an
// unexpected source state should log and drop rather than error.
type ChangeHandler func(domain.ChangeMsg) error

// ChangeBus delivers domain.ChangeMsg events to one handler per kind
// (Flow/Node/Task), serialised per (kind, id) and parallel across ids.
// Each (kind, id) pair gets its own FIFO queue, created lazily and kept for
// the bus's lifetime, and a worker goroutine that exits once the queue is
// drained and is started again by the next Publish.
type ChangeBus struct {
	mu       sync.Mutex
	handlers map[domain.ChangeMsgKind]ChangeHandler
	queues   map[string]*idQueue
}

type idQueue struct {
	mu      sync.Mutex
	pending []domain.ChangeMsg
	running bool
}

// NewChangeBus creates an empty ChangeBus. Register handlers with Register
// before calling Publish.
func NewChangeBus() *ChangeBus {
	return &ChangeBus{
		handlers: make(map[domain.ChangeMsgKind]ChangeHandler),
		queues:   make(map[string]*idQueue),
	}
}

// Register installs the handler for a ChangeMsg kind. Intended to be called
// once per kind at construction time by FlowSchedule/NodeSchedule/TaskSchedule.
func (b *ChangeBus) Register(kind domain.ChangeMsgKind, h ChangeHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = h
}

// Publish enqueues msg for delivery. Messages for the same (Kind, ID) are
// delivered strictly in publish order; messages for different ids run
// concurrently. DoNotEmit is not consulted by the bus itself (every message
// is delivered); it's read by schedule.Engine.Apply, which applies such a
// message directly instead of routing it through raft replication again.
func (b *ChangeBus) Publish(msg domain.ChangeMsg) {
	key := string(msg.Kind) + "/" + msg.ID

	b.mu.Lock()
	q, ok := b.queues[key]
	if !ok {
		q = &idQueue{}
		b.queues[key] = q
	}
	b.mu.Unlock()

	q.mu.Lock()
	q.pending = append(q.pending, msg)
	start := !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()

	if start {
		go b.drain(key, q)
	}
}

func (b *ChangeBus) drain(key string, q *idQueue) {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		msg := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		b.deliver(msg)
	}
}

func (b *ChangeBus) deliver(msg domain.ChangeMsg) {
	b.mu.Lock()
	h, ok := b.handlers[msg.Kind]
	b.mu.Unlock()

	if !ok {
		return
	}

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = h(msg); err == nil {
			return
		}
	}
	logx.WithComponent("eventbus").Error().
		Err(err).
		Str("kind", string(msg.Kind)).
		Str("id", msg.ID).
		Msg("change handler failed after 3 attempts; message dropped")
}
