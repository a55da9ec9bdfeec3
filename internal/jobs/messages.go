package jobs

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
)

// IntakeMessage hands an accepted job to a processing worker.
type IntakeMessage struct {
	JobID         string       `json:"job_id"`
	CorrelationID string       `json:"correlation_id"`
	DataStandard  DataStandard `json:"data_standard"`
}

// BuildRequest is enqueued for the builder worker of a data standard.
type BuildRequest struct {
	JobID         string       `json:"job_id"`
	CorrelationID string       `json:"correlation_id"`
	DataStandard  DataStandard `json:"data_standard"`
	ProductFilter []string     `json:"product_filter,omitempty"`
	Products      []string     `json:"products,omitempty"`
	DataTimestamp time.Time    `json:"data_timestamp"`
	BatchID       string       `json:"batch_id,omitempty"`
	Discriminator string       `json:"discriminator"`
}

// BuildResponse is produced by a builder worker when it finishes a job.
type BuildResponse struct {
	JobID          string      `json:"job_id"`
	Result         BuildResult `json:"result"`
	Products       []string    `json:"products,omitempty"`
	SizeBytes      int64       `json:"size_bytes,omitempty"`
	Discriminator  string      `json:"discriminator,omitempty"`
	OutputLocation string      `json:"output_location,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// NewBuildRequest builds the request message for a gated job.
func NewBuildRequest(job *Job, build *Build) *BuildRequest {
	req := &BuildRequest{
		JobID:         job.ID,
		CorrelationID: job.CorrelationID,
		DataStandard:  job.DataStandard,
		ProductFilter: job.ProductFilter,
		BatchID:       job.BatchID,
	}
	if job.DataTimestamp != nil {
		req.DataTimestamp = *job.DataTimestamp
	}
	if build != nil {
		req.Products = build.Products
		req.Discriminator = build.Discriminator
	}
	return req
}

// Encode marshals a message to JSON.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.InternalError("failed to encode message").WithCause(err).Build()
	}
	return b, nil
}

// DecodeBuildResponse parses and validates a response body.
func DecodeBuildResponse(body []byte) (*BuildResponse, error) {
	var resp BuildResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.ValidationError("malformed build response").WithCause(err).Build()
	}
	if resp.JobID == "" {
		return nil, errors.ValidationError("build response missing job_id").Build()
	}
	switch resp.Result {
	case BuildSucceeded, BuildFailed:
	default:
		return nil, errors.ValidationError("build response has unknown result").
			WithContext("result", string(resp.Result)).
			Build()
	}
	return &resp, nil
}

// DecodeBuildRequest parses and validates a request body.
func DecodeBuildRequest(body []byte) (*BuildRequest, error) {
	var req BuildRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.ValidationError("malformed build request").WithCause(err).Build()
	}
	if req.JobID == "" {
		return nil, errors.ValidationError("build request missing job_id").Build()
	}
	return &req, nil
}

// DecodeIntake parses and validates an intake message.
func DecodeIntake(body []byte) (*IntakeMessage, error) {
	var msg IntakeMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, errors.ValidationError("malformed intake message").WithCause(err).Build()
	}
	if msg.JobID == "" {
		return nil, errors.ValidationError("intake message missing job_id").Build()
	}
	return &msg, nil
}
