package queue

import (
	"context"
	"sync"

	"git.home.luguber.info/inful/exchangeset/internal/jobs"
)

// IntakeName is the queue carrying accepted jobs to processing workers.
const IntakeName = "intake"

// RequestsName is the build request queue for a data standard.
func RequestsName(ds jobs.DataStandard) string { return "requests." + ds.Slug() }

// ResponsesName is the build response queue for a data standard.
func ResponsesName(ds jobs.DataStandard) string { return "responses." + ds.Slug() }

// Router resolves logical channels to opened queues and caches them.
type Router struct {
	broker Broker
	mu     sync.Mutex
	queues map[string]Queue
}

// NewRouter creates a router over broker.
func NewRouter(broker Broker) *Router {
	return &Router{broker: broker, queues: make(map[string]Queue)}
}

// Intake returns the intake queue.
func (r *Router) Intake(ctx context.Context) (Queue, error) {
	return r.open(ctx, IntakeName)
}

// Requests returns the build request queue for ds.
func (r *Router) Requests(ctx context.Context, ds jobs.DataStandard) (Queue, error) {
	return r.open(ctx, RequestsName(ds))
}

// Responses returns the build response queue for ds.
func (r *Router) Responses(ctx context.Context, ds jobs.DataStandard) (Queue, error) {
	return r.open(ctx, ResponsesName(ds))
}

// Close closes the underlying broker.
func (r *Router) Close() error {
	return r.broker.Close()
}

func (r *Router) open(ctx context.Context, name string) (Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[name]; ok {
		return q, nil
	}
	q, err := r.broker.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	r.queues[name] = q
	return q, nil
}
