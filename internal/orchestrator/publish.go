package orchestrator

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/exchangeset/internal/jobs"
	"git.home.luguber.info/inful/exchangeset/internal/logfields"
	"git.home.luguber.info/inful/exchangeset/internal/observability"
	"git.home.luguber.info/inful/exchangeset/internal/pipeline"
)

const (
	NodePublish       = "publish"
	NodeCommitBatch   = "commit-batch"
	NodeExpireBatches = "expire-previous-batches"
	nodeCommitAttempt = "commit-batch-attempt"
	nodeExpireAttempt = "expire-previous-batches-attempt"
)

type publication struct {
	job     *jobs.Job
	expired int
}

func (s *Service) publishPipeline() pipeline.Node[*publication] {
	hasBatch := func(pc *pipeline.Context[*publication]) bool {
		return s.files != nil && pc.Subject.job.BatchID != ""
	}
	return pipeline.Composite(NodePublish,
		pipeline.Retry(NodeCommitBatch, s.policy.Policy(),
			pipeline.Step(nodeCommitAttempt, s.commitBatch).When(hasBatch)),
		pipeline.Retry(NodeExpireBatches, s.policy.Policy(),
			pipeline.Step(nodeExpireAttempt, s.expirePrevious).When(hasBatch)),
	)
}

func (s *Service) commitBatch(ctx context.Context, pc *pipeline.Context[*publication]) error {
	return s.files.CommitBatch(ctx, pc.Subject.job.BatchID)
}

// expirePrevious schedules expiry of the other unexpired batches of the same data standard.
func (s *Service) expirePrevious(ctx context.Context, pc *pipeline.Context[*publication]) error {
	job := pc.Subject.job
	others, err := s.files.SearchOtherBatches(ctx, job.DataStandard, job.BatchID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(others))
	for _, b := range others {
		if b.ExpiresAt == nil {
			ids = append(ids, b.ID)
		}
	}
	if err := s.files.SetExpiry(ctx, ids, s.now().Add(s.opts.BatchExpiry)); err != nil {
		return err
	}
	pc.Subject.expired = len(ids)
	return nil
}

// publish commits the batch of a succeeded job and expires superseded ones. The job
// is already terminal, so failures are logged rather than returned.
func (s *Service) publish(ctx context.Context, jobID string) {
	if s.files == nil {
		return
	}
	ctx = observability.WithJob(ctx, jobID, "", "")
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		observability.WarnContext(ctx, "Cannot load job for publishing", logfields.Error(err))
		return
	}
	if job.State != jobs.StateSucceeded || job.BatchID == "" {
		return
	}
	ctx = observability.WithJob(ctx, "", job.CorrelationID, string(job.DataStandard))

	subject := &publication{job: job}
	pc := pipeline.NewContext(job.CorrelationID, s.opts.Environment, subject)
	res, _ := pipeline.Run(ctx, pc, s.publishPipeline(),
		pipeline.WithRecorder(s.recorder),
		pipeline.WithSleeper(s.sleep),
	)
	if res.Failed() {
		observability.ErrorContext(ctx, "Publishing batch failed",
			logfields.BatchID(job.BatchID),
			logfields.Node(res.FailedNode()),
			logfields.Error(res.Cause()))
		return
	}
	s.journal.BatchPublished(ctx, job, subject.expired)
	observability.InfoContext(ctx, "Batch published",
		logfields.BatchID(job.BatchID),
		slog.Int("expired", subject.expired))
}
