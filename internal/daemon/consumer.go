package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/logfields"
	"git.home.luguber.info/inful/exchangeset/internal/observability"
	"git.home.luguber.info/inful/exchangeset/internal/queue"
)

// Handler processes one received message.
type Handler func(ctx context.Context, msg *queue.Message) error

// Consumer polls one queue and hands messages to a handler, bounded by a
// semaphore shared with the other consumers.
//
// A message is deleted once handled. Transient failures leave it in place so the
// transport redelivers it; any other failure is logged and the message is dropped.
type Consumer struct {
	queue        queue.Queue
	handle       Handler
	workers      *semaphore.Weighted
	pollInterval time.Duration
}

// NewConsumer creates a consumer.
func NewConsumer(q queue.Queue, h Handler, workers *semaphore.Weighted, pollInterval time.Duration) *Consumer {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Consumer{queue: q, handle: h, workers: workers, pollInterval: pollInterval}
}

// Run polls until ctx is cancelled, then waits for in-flight handlers.
func (c *Consumer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	slog.Info("Consumer started", logfields.Queue(c.queue.Name()))
	defer slog.Info("Consumer stopped", logfields.Queue(c.queue.Name()))

	for {
		if err := c.workers.Acquire(ctx, 1); err != nil {
			return nil
		}
		msg, err := c.queue.ReceiveOne(ctx)
		if err != nil || msg == nil {
			c.workers.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				slog.Warn("Queue receive failed", logfields.Queue(c.queue.Name()), logfields.Error(err))
			}
			if !idle(ctx, c.pollInterval) {
				return nil
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer c.workers.Release(1)
			c.process(ctx, msg)
		}()
	}
}

func (c *Consumer) process(ctx context.Context, msg *queue.Message) {
	ctx = observability.WithMessage(ctx, c.queue.Name(), msg.ID)
	err := c.handle(ctx, msg)
	if err != nil {
		attrs := []slog.Attr{slog.Int("deliveries", msg.Deliveries), logfields.Error(err)}
		if ctx.Err() != nil || errors.IsTransient(err) {
			observability.WarnContext(ctx, "Message handling failed, leaving for redelivery", attrs...)
			return
		}
		observability.ErrorContext(ctx, "Message handling failed, dropping message", attrs...)
	}
	if err := c.queue.Delete(context.WithoutCancel(ctx), msg); err != nil {
		observability.WarnContext(ctx, "Failed to delete message", logfields.Error(err))
	}
}

func idle(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
