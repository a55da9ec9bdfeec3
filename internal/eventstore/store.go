// Package eventstore keeps an append-only audit trail of job lifecycle events.
package eventstore

import (
	"context"
	"time"

	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
)

// Record is one entry in a job's audit trail. Seq is assigned by the store and
// increases in append order.
type Record struct {
	Seq      int64
	JobID    string
	Type     string
	At       time.Time
	Payload  []byte
	Metadata map[string]string
}

// Store persists records and answers the two queries the orchestrator needs.
type Store interface {
	Append(ctx context.Context, jobID, eventType string, payload []byte, metadata map[string]string) error
	// GetByJobID returns a job's records in append order.
	GetByJobID(ctx context.Context, jobID string) ([]Record, error)
	// GetRange returns records appended within [start, end].
	GetRange(ctx context.Context, start, end time.Time) ([]Record, error)
	Close() error
}

func storeFailure(op string, cause error) error {
	return errors.EventStoreError("event store: "+op+" failed").
		WithCause(cause).
		WithContext("op", op).
		Build()
}
