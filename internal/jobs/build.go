package jobs

import (
	"fmt"
	"strings"
	"time"
)

// BuildResult is the outcome reported by a builder worker.
type BuildResult string

const (
	BuildPending   BuildResult = "pending"
	BuildSucceeded BuildResult = "succeeded"
	BuildFailed    BuildResult = "failed"
)

// Build is the data standard specific work record tied 1:1 to a job.
type Build struct {
	JobID          string       `json:"job_id"`
	DataStandard   DataStandard `json:"data_standard"`
	Products       []string     `json:"products"`
	ProductCount   int          `json:"product_count"`
	SizeBytes      int64        `json:"size_bytes"`
	Discriminator  string       `json:"discriminator"`
	OutputLocation string       `json:"output_location,omitempty"`
	Result         BuildResult  `json:"result"`
	Error          string       `json:"error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	Version        int64        `json:"version"`
}

// NewBuild creates the pending build record written alongside dispatch.
func NewBuild(job *Job, products []string, now time.Time) *Build {
	var ts time.Time
	if job.DataTimestamp != nil {
		ts = *job.DataTimestamp
	}
	return &Build{
		JobID:         job.ID,
		DataStandard:  job.DataStandard,
		Products:      append([]string(nil), products...),
		ProductCount:  len(products),
		Discriminator: Discriminator(job.DataStandard, ts, job.ID),
		Result:        BuildPending,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}
}

// Clone returns a deep copy.
func (b *Build) Clone() *Build {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Products = append([]string(nil), b.Products...)
	return &cp
}

// ApplyResponse records a worker response on the build.
func (b *Build) ApplyResponse(resp *BuildResponse, now time.Time) {
	b.Result = resp.Result
	if len(resp.Products) > 0 {
		b.Products = append([]string(nil), resp.Products...)
	}
	b.ProductCount = len(b.Products)
	b.SizeBytes = resp.SizeBytes
	if resp.Discriminator != "" {
		b.Discriminator = resp.Discriminator
	}
	b.OutputLocation = resp.OutputLocation
	b.Error = resp.Error
	b.UpdatedAt = now.UTC()
}

// Discriminator derives the idempotent output name for a build:
// "<standard>-<timestamp>-<job id prefix>".
func Discriminator(ds DataStandard, ts time.Time, jobID string) string {
	id := strings.ReplaceAll(jobID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	stamp := "none"
	if !ts.IsZero() {
		stamp = ts.UTC().Format("20060102T150405Z")
	}
	return fmt.Sprintf("%s-%s-%s", ds.Slug(), stamp, id)
}
