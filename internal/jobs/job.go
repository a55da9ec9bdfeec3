package jobs

import (
	"fmt"
	"strings"
	"time"
)

// Job is one build request's lifecycle record.
type Job struct {
	ID            string       `json:"id"`
	CorrelationID string       `json:"correlation_id"`
	DataStandard  DataStandard `json:"data_standard"`
	ProductFilter []string     `json:"product_filter,omitempty"`
	Since         *time.Time   `json:"since,omitempty"`
	Force         bool         `json:"force,omitempty"`
	State         State        `json:"state"`
	DataTimestamp *time.Time   `json:"data_timestamp,omitempty"`
	BatchID       string       `json:"batch_id,omitempty"`
	Error         string       `json:"error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`

	// Version is the optimistic concurrency token maintained by the repository.
	Version int64 `json:"version"`
}

// NewJob creates a job in the created state. The job keeps its own copy of filter.
func NewJob(id, correlationID string, ds DataStandard, filter []string, now time.Time) *Job {
	if correlationID == "" {
		correlationID = id
	}
	if filter != nil {
		filter = append([]string(nil), filter...)
	}
	return &Job{
		ID:            id,
		CorrelationID: correlationID,
		DataStandard:  ds,
		ProductFilter: filter,
		State:         StateCreated,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}
}

// Clone returns a deep copy so callers can mutate without affecting stored values.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.ProductFilter != nil {
		cp.ProductFilter = append([]string(nil), j.ProductFilter...)
	}
	if j.Since != nil {
		t := *j.Since
		cp.Since = &t
	}
	if j.DataTimestamp != nil {
		t := *j.DataTimestamp
		cp.DataTimestamp = &t
	}
	return &cp
}

// Transition moves the job to a new state, rejecting anything but allowed forward moves.
func (j *Job) Transition(to State, now time.Time) error {
	if !CanTransition(j.State, to) {
		return ErrInvalidTransition.
			WithContext("job_id", j.ID).
			WithContext("from", string(j.State)).
			WithContext("to", string(to))
	}
	j.State = to
	j.UpdatedAt = now.UTC()
	return nil
}

// Fail transitions the job to failed and records the failure detail.
func (j *Job) Fail(cause error, now time.Time) error {
	if err := j.Transition(StateFailed, now); err != nil {
		return err
	}
	if cause != nil {
		j.Error = cause.Error()
	}
	return nil
}

// RecordSnapshot stores the upstream data timestamp this job will build from.
func (j *Job) RecordSnapshot(ts time.Time) {
	t := ts.UTC()
	j.DataTimestamp = &t
}

// Matches reports whether a product name passes the job's filter.
// An empty filter matches everything; entries ending in '*' match by prefix.
func (j *Job) Matches(product string) bool {
	if len(j.ProductFilter) == 0 {
		return true
	}
	for _, f := range j.ProductFilter {
		if prefix, ok := strings.CutSuffix(f, "*"); ok {
			if strings.HasPrefix(product, prefix) {
				return true
			}
			continue
		}
		if f == product {
			return true
		}
	}
	return false
}

func (j *Job) String() string {
	return fmt.Sprintf("job %s (%s, %s)", j.ID, j.DataStandard, j.State)
}
