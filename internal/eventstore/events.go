package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/exchangeset/internal/jobs"
	"git.home.luguber.info/inful/exchangeset/internal/logfields"
)

// Event types written by the orchestrator.
const (
	TypeJobAccepted       = "JobAccepted"
	TypeJobGated          = "JobGated"
	TypeJobDispatched     = "JobDispatched"
	TypeJobSucceeded      = "JobSucceeded"
	TypeJobFailed         = "JobFailed"
	TypeResponseDiscarded = "ResponseDiscarded"
	TypeBatchPublished    = "BatchPublished"
)

// AcceptedPayload is stored with JobAccepted.
type AcceptedPayload struct {
	DataStandard  string     `json:"data_standard"`
	ProductFilter []string   `json:"product_filter,omitempty"`
	Since         *time.Time `json:"since,omitempty"`
	Force         bool       `json:"force,omitempty"`
}

// GatedPayload is stored with JobGated.
type GatedPayload struct {
	Outcome  string    `json:"outcome"`
	Forced   bool      `json:"forced,omitempty"`
	Baseline time.Time `json:"baseline"`
	Upstream time.Time `json:"upstream"`
}

// DispatchedPayload is stored with JobDispatched.
type DispatchedPayload struct {
	Discriminator string `json:"discriminator"`
	ProductCount  int    `json:"product_count"`
	BatchID       string `json:"batch_id,omitempty"`
}

// CompletedPayload is stored with JobSucceeded and JobFailed.
type CompletedPayload struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// DiscardedPayload is stored with ResponseDiscarded.
type DiscardedPayload struct {
	Reason string `json:"reason"`
}

// PublishedPayload is stored with BatchPublished.
type PublishedPayload struct {
	BatchID string `json:"batch_id"`
	Expired int    `json:"expired"`
}

// Journal appends typed lifecycle events. Append failures are logged and never
// fail the operation being audited. A nil Journal or one without a store is a no-op.
type Journal struct {
	store Store
}

// NewJournal wraps store. store may be nil.
func NewJournal(store Store) *Journal {
	return &Journal{store: store}
}

// Store returns the underlying store, or nil.
func (j *Journal) Store() Store {
	if j == nil {
		return nil
	}
	return j.store
}

func (j *Journal) JobAccepted(ctx context.Context, job *jobs.Job) {
	j.append(ctx, job, TypeJobAccepted, AcceptedPayload{
		DataStandard:  string(job.DataStandard),
		ProductFilter: job.ProductFilter,
		Since:         job.Since,
		Force:         job.Force,
	})
}

func (j *Journal) JobGated(ctx context.Context, job *jobs.Job, p GatedPayload) {
	j.append(ctx, job, TypeJobGated, p)
}

func (j *Journal) JobDispatched(ctx context.Context, job *jobs.Job, build *jobs.Build) {
	p := DispatchedPayload{BatchID: job.BatchID}
	if build != nil {
		p.Discriminator = build.Discriminator
		p.ProductCount = build.ProductCount
	}
	j.append(ctx, job, TypeJobDispatched, p)
}

// JobCompleted records JobSucceeded or JobFailed depending on the job's state.
func (j *Journal) JobCompleted(ctx context.Context, job *jobs.Job) {
	typ := TypeJobFailed
	if job.State == jobs.StateSucceeded {
		typ = TypeJobSucceeded
	}
	j.append(ctx, job, typ, CompletedPayload{State: string(job.State), Error: job.Error})
}

func (j *Journal) ResponseDiscarded(ctx context.Context, jobID, reason string) {
	j.append(ctx, &jobs.Job{ID: jobID}, TypeResponseDiscarded, DiscardedPayload{Reason: reason})
}

func (j *Journal) BatchPublished(ctx context.Context, job *jobs.Job, expired int) {
	j.append(ctx, job, TypeBatchPublished, PublishedPayload{BatchID: job.BatchID, Expired: expired})
}

func (j *Journal) append(ctx context.Context, job *jobs.Job, eventType string, payload any) {
	if j == nil || j.store == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal event payload", logfields.JobID(job.ID), slog.String("type", eventType), logfields.Error(err))
		return
	}
	meta := map[string]string{}
	if job.CorrelationID != "" {
		meta["correlation_id"] = job.CorrelationID
	}
	if job.DataStandard != "" {
		meta["data_standard"] = string(job.DataStandard)
	}
	if err := j.store.Append(ctx, job.ID, eventType, body, meta); err != nil {
		slog.Warn("Failed to append job event", logfields.JobID(job.ID), slog.String("type", eventType), logfields.Error(err))
	}
}
