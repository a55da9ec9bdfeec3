// Package queue provides the message channels between the orchestrator and
// builder workers: one intake channel for accepted jobs, plus a request and a
// response channel per data standard.
//
// Delivery is at-least-once. A received message stays reserved until it is
// deleted; if it is not deleted within the ack wait it is delivered again.
package queue

import (
	"context"

	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
)

// Message is a received message. It must be passed back to Delete once handled.
type Message struct {
	ID         string
	Queue      string
	Body       []byte
	Deliveries int

	ack func(context.Context) error
}

// Queue is one named channel.
type Queue interface {
	Name() string
	// Enqueue publishes body. id identifies the message for de-duplication where
	// the transport supports it.
	Enqueue(ctx context.Context, id string, body []byte) error
	// ReceiveOne returns the next message, or nil when none arrived within the fetch wait.
	ReceiveOne(ctx context.Context) (*Message, error)
	// Delete acknowledges a received message so it is not delivered again.
	Delete(ctx context.Context, msg *Message) error
}

// Broker opens named queues on a transport.
type Broker interface {
	Open(ctx context.Context, name string) (Queue, error)
	Close() error
}

var errNilMessage = errors.ValidationError("cannot delete a nil message").Build()

func deleteMessage(ctx context.Context, msg *Message) error {
	if msg == nil || msg.ack == nil {
		return errNilMessage
	}
	return msg.ack(ctx)
}
