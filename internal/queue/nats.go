package queue

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/logfields"
)

// NATSConfig configures the JetStream transport.
type NATSConfig struct {
	URL           string
	Stream        string
	SubjectPrefix string
	AckWait       time.Duration
	FetchWait     time.Duration
	// DuplicateWindow bounds JetStream message-id de-duplication.
	DuplicateWindow time.Duration
}

// NATSBroker maps queues onto subjects of one JetStream work-queue stream,
// each read through its own durable pull consumer.
type NATSBroker struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	cfg    NATSConfig

	mu     sync.Mutex
	queues map[string]*natsQueue
}

// NewNATSBroker connects to NATS and creates or updates the stream.
func NewNATSBroker(ctx context.Context, cfg NATSConfig) (*NATSBroker, error) {
	if cfg.URL == "" {
		return nil, errors.ConfigError("nats url is required").Build()
	}
	if cfg.Stream == "" {
		cfg.Stream = "EXCHANGE_SETS"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "ess"
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = 2 * time.Second
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = 2 * time.Minute
	}

	conn, err := nats.Connect(cfg.URL, nats.Name("essorchestrator"))
	if err != nil {
		return nil, errors.QueueError("failed to connect to NATS").WithCause(err).WithContext("url", cfg.URL).Build()
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, errors.QueueError("failed to create JetStream context").WithCause(err).Build()
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "Exchange set build orchestration",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Retention:   jetstream.WorkQueuePolicy,
		Storage:     jetstream.FileStorage,
		Duplicates:  cfg.DuplicateWindow,
	})
	if err != nil {
		conn.Close()
		return nil, errors.QueueError("failed to create stream").WithCause(err).WithContext("stream", cfg.Stream).Build()
	}

	slog.Info("NATS broker initialized",
		slog.String("url", cfg.URL),
		slog.String("stream", cfg.Stream),
		slog.String("subject_prefix", cfg.SubjectPrefix))

	return &NATSBroker{
		conn:   conn,
		js:     js,
		stream: stream,
		cfg:    cfg,
		queues: make(map[string]*natsQueue),
	}, nil
}

// Open returns the named queue, creating its durable consumer on first use.
func (b *NATSBroker) Open(ctx context.Context, name string) (Queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return q, nil
	}

	subject := b.cfg.SubjectPrefix + "." + name
	durable := strings.NewReplacer(".", "-", "*", "-", ">", "-").Replace(b.cfg.SubjectPrefix + "-" + name)
	consumer, err := b.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.cfg.AckWait,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, errors.QueueError("failed to create consumer").
			WithCause(err).
			WithContext("queue", name).
			WithContext("durable", durable).
			Build()
	}

	q := &natsQueue{
		name:      name,
		subject:   subject,
		js:        b.js,
		consumer:  consumer,
		fetchWait: b.cfg.FetchWait,
	}
	b.queues[name] = q
	return q, nil
}

// Close drains the connection.
func (b *NATSBroker) Close() error {
	if b.conn == nil {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return errors.QueueError("failed to drain NATS connection").WithCause(err).Build()
	}
	return nil
}

type natsQueue struct {
	name      string
	subject   string
	js        jetstream.JetStream
	consumer  jetstream.Consumer
	fetchWait time.Duration
}

func (q *natsQueue) Name() string { return q.name }

func (q *natsQueue) Enqueue(ctx context.Context, id string, body []byte) error {
	var opts []jetstream.PublishOpt
	if id != "" {
		opts = append(opts, jetstream.WithMsgID(id))
	}
	ack, err := q.js.Publish(ctx, q.subject, body, opts...)
	if err != nil {
		return errors.QueueError("failed to publish message").
			WithCause(err).
			WithContext("queue", q.name).
			Build()
	}
	if ack.Duplicate {
		slog.Debug("Duplicate message suppressed by stream", logfields.Queue(q.name), slog.String("msg_id", id))
	}
	return nil
}

func (q *natsQueue) ReceiveOne(ctx context.Context) (*Message, error) {
	wait := q.fetchWait
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
	}
	if wait <= 0 {
		return nil, ctx.Err()
	}

	batch, err := q.consumer.Fetch(1, jetstream.FetchMaxWait(wait))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.QueueError("failed to fetch message").WithCause(err).WithContext("queue", q.name).Build()
	}

	for msg := range batch.Messages() {
		return q.wrap(msg), nil
	}
	if err := batch.Error(); err != nil && !stdErrors.Is(err, nats.ErrTimeout) {
		return nil, errors.QueueError("fetch batch failed").WithCause(err).WithContext("queue", q.name).Build()
	}
	return nil, ctx.Err()
}

func (q *natsQueue) Delete(ctx context.Context, msg *Message) error {
	return deleteMessage(ctx, msg)
}

func (q *natsQueue) wrap(msg jetstream.Msg) *Message {
	out := &Message{
		Queue: q.name,
		Body:  msg.Data(),
		ack: func(ctx context.Context) error {
			if err := msg.DoubleAck(ctx); err != nil {
				return errors.QueueError("failed to acknowledge message").
					WithCause(err).
					WithContext("queue", q.name).
					Build()
			}
			return nil
		},
	}
	if hdr := msg.Headers(); hdr != nil {
		out.ID = hdr.Get(nats.MsgIdHdr)
	}
	if meta, err := msg.Metadata(); err == nil {
		out.Deliveries = int(meta.NumDelivered)
	}
	return out
}
