package queue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
)

// MemoryBroker is an in-process Broker with bounded queues and visibility timeouts.
type MemoryBroker struct {
	capacity  int
	ackWait   time.Duration
	fetchWait time.Duration

	mu     sync.Mutex
	queues map[string]*MemoryQueue
}

// NewMemoryBroker creates a broker whose queues hold at most capacity messages
// (ready plus in flight).
func NewMemoryBroker(capacity int, ackWait, fetchWait time.Duration) *MemoryBroker {
	if capacity <= 0 {
		capacity = 100
	}
	if ackWait <= 0 {
		ackWait = 30 * time.Second
	}
	return &MemoryBroker{
		capacity:  capacity,
		ackWait:   ackWait,
		fetchWait: fetchWait,
		queues:    make(map[string]*MemoryQueue),
	}
}

// Open returns the named queue, creating it on first use.
func (b *MemoryBroker) Open(_ context.Context, name string) (Queue, error) {
	return b.Queue(name), nil
}

// Queue returns the concrete named queue, creating it on first use.
func (b *MemoryBroker) Queue(name string) *MemoryQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = newMemoryQueue(name, b.capacity, b.ackWait, b.fetchWait)
		b.queues[name] = q
	}
	return q
}

// Close is a no-op.
func (b *MemoryBroker) Close() error { return nil }

type memoryEntry struct {
	id         string
	body       []byte
	deliveries int
}

type inflight struct {
	entry    *memoryEntry
	deadline time.Time
}

// MemoryQueue is a single in-memory queue.
type MemoryQueue struct {
	name      string
	capacity  int
	ackWait   time.Duration
	fetchWait time.Duration

	mu       sync.Mutex
	ready    []*memoryEntry
	inflight map[uint64]*inflight
	seq      uint64
	notify   chan struct{}
	now      func() time.Time
}

func newMemoryQueue(name string, capacity int, ackWait, fetchWait time.Duration) *MemoryQueue {
	return &MemoryQueue{
		name:      name,
		capacity:  capacity,
		ackWait:   ackWait,
		fetchWait: fetchWait,
		inflight:  make(map[uint64]*inflight),
		notify:    make(chan struct{}, 1),
		now:       time.Now,
	}
}

func (q *MemoryQueue) Name() string { return q.name }

// Enqueue appends a message, failing with a transient queue error when full. A
// message whose id is still queued or in flight is dropped as a duplicate.
func (q *MemoryQueue) Enqueue(ctx context.Context, id string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	if id != "" && q.holdsLocked(id) {
		q.mu.Unlock()
		return nil
	}
	if len(q.ready)+len(q.inflight) >= q.capacity {
		q.mu.Unlock()
		return errors.QueueError("queue is full").
			WithContext("queue", q.name).
			WithContext("capacity", q.capacity).
			Build()
	}
	q.seq++
	if id == "" {
		id = q.name + "-" + strconv.FormatUint(q.seq, 10)
	}
	q.ready = append(q.ready, &memoryEntry{id: id, body: append([]byte(nil), body...)})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// ReceiveOne reserves the oldest ready message, waiting up to the fetch wait for one to arrive.
func (q *MemoryQueue) ReceiveOne(ctx context.Context) (*Message, error) {
	var timeout <-chan time.Time
	if q.fetchWait > 0 {
		t := time.NewTimer(q.fetchWait)
		defer t.Stop()
		timeout = t.C
	}

	for {
		if msg := q.reserve(); msg != nil {
			return msg, nil
		}
		if timeout == nil {
			return nil, ctx.Err()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, nil
		case <-q.notify:
		}
	}
}

// Delete acknowledges msg. Deleting a message twice is a no-op.
func (q *MemoryQueue) Delete(ctx context.Context, msg *Message) error {
	return deleteMessage(ctx, msg)
}

// Len reports ready and in-flight message counts.
func (q *MemoryQueue) Len() (ready, inFlight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeueExpiredLocked()
	return len(q.ready), len(q.inflight)
}

// Bodies returns copies of the ready message bodies in delivery order.
func (q *MemoryQueue) Bodies() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, 0, len(q.ready))
	for _, e := range q.ready {
		out = append(out, append([]byte(nil), e.body...))
	}
	return out
}

func (q *MemoryQueue) reserve() *Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeueExpiredLocked()
	if len(q.ready) == 0 {
		return nil
	}
	entry := q.ready[0]
	q.ready = q.ready[1:]
	entry.deliveries++

	q.seq++
	token := q.seq
	q.inflight[token] = &inflight{entry: entry, deadline: q.now().Add(q.ackWait)}

	return &Message{
		ID:         entry.id,
		Queue:      q.name,
		Body:       append([]byte(nil), entry.body...),
		Deliveries: entry.deliveries,
		ack: func(context.Context) error {
			q.mu.Lock()
			delete(q.inflight, token)
			q.mu.Unlock()
			return nil
		},
	}
}

func (q *MemoryQueue) holdsLocked(id string) bool {
	for _, e := range q.ready {
		if e.id == id {
			return true
		}
	}
	for _, f := range q.inflight {
		if f.entry.id == id {
			return true
		}
	}
	return false
}

func (q *MemoryQueue) requeueExpiredLocked() {
	now := q.now()
	for token, f := range q.inflight {
		if now.After(f.deadline) {
			delete(q.inflight, token)
			q.ready = append(q.ready, f.entry)
		}
	}
}
