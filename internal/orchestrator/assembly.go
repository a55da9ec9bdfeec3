package orchestrator

import (
	"context"
	stdErrors "errors"
	"log/slog"

	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/jobs"
	"git.home.luguber.info/inful/exchangeset/internal/logfields"
	"git.home.luguber.info/inful/exchangeset/internal/observability"
	"git.home.luguber.info/inful/exchangeset/internal/pipeline"
	"git.home.luguber.info/inful/exchangeset/internal/upstream"
)

// Node names of the assembly pipeline.
const (
	NodeAssemble        = "assemble"
	NodeValidateJob     = "validate-job"
	NodeResolveProducts = "resolve-products"
	NodeCreateBatch     = "create-batch"
	NodeCreateBatchTry  = "create-batch-attempt"
	NodeDispatch        = "dispatch"
)

// assembly is the mutable subject threaded through the assembly pipeline.
type assembly struct {
	job      *jobs.Job
	snapshot *upstream.Snapshot
	products []string
	build    *jobs.Build
}

var (
	errNoSnapshot      = errors.PipelineError("job has no recorded data snapshot").Build()
	errNoProducts      = errors.BuildError("no products match the job's filter").Build()
	errBatchWithoutID  = errors.UpstreamError("file service returned a batch without id").Build()
	errNotReadyToBuild = errors.PipelineError("job is not ready to build").Build()

	errAssemblyInterrupted = errors.PipelineError("assembly interrupted before dispatch").Build()
)

func (s *Service) assemblyPipeline() pipeline.Node[*assembly] {
	createBatch := pipeline.Step(NodeCreateBatchTry, s.createBatch).
		When(func(pc *pipeline.Context[*assembly]) bool {
			return s.files != nil && pc.Subject.job.BatchID == ""
		})

	return pipeline.Composite(NodeAssemble,
		pipeline.Step(NodeValidateJob, validateJob),
		pipeline.Step(NodeResolveProducts, resolveProducts),
		pipeline.Retry(NodeCreateBatch, s.policy.Policy(), createBatch),
		pipeline.Step(NodeDispatch, s.dispatchBuild),
	)
}

func validateJob(_ context.Context, pc *pipeline.Context[*assembly]) error {
	job := pc.Subject.job
	if job.State != jobs.StateNeedsBuild {
		return errNotReadyToBuild.WithContext("state", string(job.State))
	}
	if job.DataTimestamp == nil {
		return errNoSnapshot
	}
	return nil
}

// resolveProducts applies the job's product filter to the catalogue payload.
func resolveProducts(_ context.Context, pc *pipeline.Context[*assembly]) error {
	a := pc.Subject
	var names []string
	if a.snapshot != nil {
		names = a.snapshot.ProductNames()
	}
	a.products = a.products[:0]
	for _, name := range names {
		if a.job.Matches(name) {
			a.products = append(a.products, name)
		}
	}
	if len(a.products) == 0 {
		return errNoProducts.WithContext("product_filter", a.job.ProductFilter)
	}
	return nil
}

func (s *Service) createBatch(ctx context.Context, pc *pipeline.Context[*assembly]) error {
	job := pc.Subject.job
	discriminator := jobs.Discriminator(job.DataStandard, *job.DataTimestamp, job.ID)
	batch, err := s.files.CreateBatch(ctx, job.DataStandard, discriminator)
	if err != nil {
		return err
	}
	if batch == nil || batch.ID == "" {
		return errBatchWithoutID
	}
	job.BatchID = batch.ID
	observability.DebugContext(ctx, "Batch created", logfields.BatchID(batch.ID))
	return nil
}

func (s *Service) dispatchBuild(ctx context.Context, pc *pipeline.Context[*assembly]) error {
	build, err := s.dispatcher.Dispatch(ctx, pc.Subject.job, pc.Subject.products)
	pc.Subject.build = build
	return err
}

// assemble runs the assembly pipeline for a job that passed the gate. On failure the
// job is failed from its stored state, except for a dispatch interrupted by
// cancellation, which the redelivered intake message resumes.
func (s *Service) assemble(ctx context.Context, job *jobs.Job, snap *upstream.Snapshot) (*jobs.Job, error) {
	subject := &assembly{job: job, snapshot: snap}
	pc := pipeline.NewContext(job.CorrelationID, s.opts.Environment, subject)

	res, err := pipeline.Run(ctx, pc, s.assemblyPipeline(),
		pipeline.WithHaltOnFatal(),
		pipeline.WithRecorder(s.recorder),
		pipeline.WithLogger(slog.Default().With(logfields.JobID(job.ID))),
		pipeline.WithSleeper(s.sleep),
	)
	if res.Succeeded() {
		return job, nil
	}

	cause := res.Cause()
	if cause == nil {
		cause = err
	}
	if cause == nil {
		cause = ctx.Err()
	}
	observability.WarnContext(ctx, "Assembly pipeline failed",
		logfields.Node(res.FailedNode()),
		logfields.Error(cause))

	if ctx.Err() != nil && job.State == jobs.StateDispatched {
		return job, ctx.Err()
	}
	if aerr := s.dispatcher.Abandon(ctx, job, cause); aerr != nil {
		return job, stdErrors.Join(cause, aerr)
	}
	if ctx.Err() != nil {
		return job, ctx.Err()
	}
	return job, err
}
