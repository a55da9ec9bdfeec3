package pipeline

import "time"

// Context carries the subject of a run plus identity fields fixed at construction.
// Nodes read and replace Subject; cancellation travels on the context.Context argument.
type Context[S any] struct {
	correlationID string
	environment   string
	startedAt     time.Time

	Subject S
}

// NewContext creates a pipeline context for one run.
func NewContext[S any](correlationID, environment string, subject S) *Context[S] {
	return &Context[S]{
		correlationID: correlationID,
		environment:   environment,
		startedAt:     time.Now(),
		Subject:       subject,
	}
}

// CorrelationID traces this run across queues, logs and state records.
func (c *Context[S]) CorrelationID() string { return c.correlationID }

// Environment is the target environment name.
func (c *Context[S]) Environment() string { return c.environment }

// StartedAt is when the context was created.
func (c *Context[S]) StartedAt() time.Time { return c.startedAt }
