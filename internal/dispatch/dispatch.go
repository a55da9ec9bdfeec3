// Package dispatch turns gated jobs into build requests for builder workers and
// reconciles the responses those workers send back.
package dispatch

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/exchangeset/internal/eventstore"
	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/jobs"
	"git.home.luguber.info/inful/exchangeset/internal/logfields"
	"git.home.luguber.info/inful/exchangeset/internal/metrics"
	"git.home.luguber.info/inful/exchangeset/internal/queue"
	"git.home.luguber.info/inful/exchangeset/internal/retry"
	"git.home.luguber.info/inful/exchangeset/internal/store"
)

// Repositories groups the stores the dispatcher writes to.
type Repositories struct {
	Jobs       store.JobRepository
	Builds     store.BuildRepository
	Timestamps store.TimestampRepository
}

// FromStore uses one Store for all repositories.
func FromStore(s store.Store) Repositories {
	return Repositories{Jobs: s, Builds: s, Timestamps: s}
}

// Outcome reports what HandleResponse did with a response.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDiscarded Outcome = "discarded"
)

// ErrNotDispatched is returned for a response whose job has not been recorded as dispatched yet.
// It is transient: the response should be redelivered later.
var ErrNotDispatched = errors.ConflictError("response received before job was dispatched").Build()

// maxJobWriteAttempts bounds re-reads after a version conflict.
const maxJobWriteAttempts = 16

// Dispatcher enqueues build requests and applies build responses.
type Dispatcher struct {
	repos     Repositories
	router    *queue.Router
	policy    *retry.Source
	recorder  metrics.Recorder
	retryOpts []retry.Option
	journal   *eventstore.Journal
	now       func() time.Time
}

// New creates a dispatcher.
func New(repos Repositories, router *queue.Router, policy retry.Policy) *Dispatcher {
	return &Dispatcher{
		repos:    repos,
		router:   router,
		policy:   retry.NewSource(policy),
		recorder: metrics.NoopRecorder{},
		now:      time.Now,
	}
}

// WithRecorder sets the metrics recorder.
func (d *Dispatcher) WithRecorder(r metrics.Recorder) *Dispatcher {
	d.recorder = metrics.OrNoop(r)
	return d
}

// WithJournal records lifecycle events in j.
func (d *Dispatcher) WithJournal(j *eventstore.Journal) *Dispatcher {
	d.journal = j
	return d
}

// WithRetryOptions appends options used for every queue call.
func (d *Dispatcher) WithRetryOptions(opts ...retry.Option) *Dispatcher {
	d.retryOpts = append(d.retryOpts, opts...)
	return d
}

// SetPolicy replaces the retry policy used for enqueues.
func (d *Dispatcher) SetPolicy(p retry.Policy) { d.policy.Set(p) }

// Dispatch records job as dispatched, creates its build record and enqueues a build
// request on the job's data standard queue. job is only updated once the dispatched
// state is stored. If the enqueue still fails after retries the job and build are
// failed. A cancelled enqueue leaves both in place for Resume.
func (d *Dispatcher) Dispatch(ctx context.Context, job *jobs.Job, products []string) (*jobs.Build, error) {
	now := d.now()
	next := job.Clone()
	if err := next.Transition(jobs.StateDispatched, now); err != nil {
		return nil, err
	}
	if err := d.repos.Jobs.UpsertJob(ctx, next); err != nil {
		return nil, err
	}
	*job = *next
	d.recorder.IncJobState(string(job.DataStandard), string(job.State))

	build := jobs.NewBuild(job, products, now)
	if err := d.repos.Builds.UpsertBuild(ctx, build); err != nil {
		if !stdErrors.Is(err, store.ErrConflict) {
			return nil, err
		}
		// A previous attempt already created the record; reuse it.
		existing, gerr := d.repos.Builds.GetBuild(ctx, job.ID)
		if gerr != nil {
			return nil, gerr
		}
		build = existing
	}
	return build, d.deliver(ctx, job, build)
}

// Resume finishes the dispatch of a job found dispatched when its intake message is
// redelivered. A pending build has its request sent again; the message id lets the
// transport drop the copy if the first send went through. A settled build completes
// the job instead.
func (d *Dispatcher) Resume(ctx context.Context, job *jobs.Job) (*jobs.Build, error) {
	build, err := d.repos.Builds.GetBuild(ctx, job.ID)
	if stdErrors.Is(err, store.ErrNotFound) {
		cause := errors.PipelineError("dispatch interrupted before the build was recorded").Build()
		if aerr := d.Abandon(ctx, job, cause); aerr != nil {
			return nil, aerr
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if build.Result != jobs.BuildPending {
		return build, d.settle(ctx, job, build)
	}
	slog.Info("Resuming interrupted dispatch", logfields.JobID(job.ID), logfields.DataStandard(string(job.DataStandard)))
	return build, d.deliver(ctx, job, build)
}

// deliver sends the build request for a dispatched job.
func (d *Dispatcher) deliver(ctx context.Context, job *jobs.Job, build *jobs.Build) error {
	body, err := jobs.Encode(jobs.NewBuildRequest(job, build))
	if err == nil {
		err = d.enqueue(ctx, job, body)
	}
	if err == nil {
		d.recorder.IncDispatch(string(job.DataStandard), metrics.ResultSuccess)
		d.journal.JobDispatched(ctx, job, build)
		slog.Info("Build request dispatched",
			logfields.JobID(job.ID),
			logfields.CorrelationID(job.CorrelationID),
			logfields.DataStandard(string(job.DataStandard)),
			logfields.Queue(queue.RequestsName(job.DataStandard)),
			slog.Int("products", len(build.Products)))
		return nil
	}
	if ctx.Err() != nil {
		return errors.QueueError("build request not sent before cancellation").
			WithCause(err).
			WithContext("job_id", job.ID).
			Build()
	}

	d.recorder.IncDispatch(string(job.DataStandard), metrics.ResultFailed)
	slog.Error("Failed to enqueue build request",
		logfields.JobID(job.ID),
		logfields.DataStandard(string(job.DataStandard)),
		logfields.Error(err))
	if aerr := d.Abandon(ctx, job, err); aerr != nil {
		return stdErrors.Join(err, aerr)
	}
	return err
}

// Abandon fails a job whose dispatch cannot complete, together with its pending build.
// The job is read back from the store so the outcome does not depend on which writes
// of the interrupted dispatch landed, and the writes ignore ctx cancellation. On
// return job holds the stored state. The error reports a failure to record cause.
func (d *Dispatcher) Abandon(ctx context.Context, job *jobs.Job, cause error) error {
	ctx = context.WithoutCancel(ctx)
	for attempt := 1; ; attempt++ {
		stored, err := d.repos.Jobs.GetJob(ctx, job.ID)
		if err != nil {
			return err
		}
		if stored.State.IsTerminal() {
			*job = *stored
			return nil
		}
		err = d.abandon(ctx, stored, cause)
		if err == nil {
			*job = *stored
			return nil
		}
		if !stdErrors.Is(err, store.ErrConflict) || attempt >= maxJobWriteAttempts {
			return err
		}
	}
}

func (d *Dispatcher) abandon(ctx context.Context, job *jobs.Job, cause error) error {
	build, err := d.repos.Builds.GetBuild(ctx, job.ID)
	switch {
	case stdErrors.Is(err, store.ErrNotFound):
		build = nil
	case err != nil:
		return err
	case build.Result == jobs.BuildPending:
		build.Result = jobs.BuildFailed
		build.Error = cause.Error()
		build.UpdatedAt = d.now().UTC()
		if err := d.repos.Builds.UpsertBuild(ctx, build); err != nil {
			return err
		}
	}
	if build != nil && job.State == jobs.StateDispatched {
		return d.settle(ctx, job, build)
	}

	if err := job.Fail(cause, d.now()); err != nil {
		return err
	}
	if err := d.repos.Jobs.UpsertJob(ctx, job); err != nil {
		return err
	}
	d.recorder.IncJobState(string(job.DataStandard), string(job.State))
	d.journal.JobCompleted(ctx, job)
	slog.Warn("Job abandoned", logfields.JobID(job.ID), logfields.Error(cause))
	return nil
}

func (d *Dispatcher) enqueue(ctx context.Context, job *jobs.Job, body []byte) error {
	opts := append([]retry.Option{retry.WithRecorder(d.recorder)}, d.retryOpts...)
	return retry.Do(ctx, d.policy.Policy(), "queue.enqueue_request", func(ctx context.Context) error {
		q, err := d.router.Requests(ctx, job.DataStandard)
		if err != nil {
			return err
		}
		return q.Enqueue(ctx, job.ID+":request", body)
	}, opts...)
}

// HandleResponse applies a builder response. Responses for unknown or terminal jobs are
// discarded without repository writes, which makes redelivered and duplicate responses
// harmless. The build moves from pending to a result exactly once; the job then follows
// the build, then the timestamp baseline follows a succeeded job. OutcomeApplied means
// this call moved the job to its terminal state.
func (d *Dispatcher) HandleResponse(ctx context.Context, resp *jobs.BuildResponse) (Outcome, error) {
	for attempt := 1; ; attempt++ {
		job, err := d.repos.Jobs.GetJob(ctx, resp.JobID)
		if stdErrors.Is(err, store.ErrNotFound) {
			return d.discard(ctx, resp, "", "unknown job"), nil
		}
		if err != nil {
			return "", err
		}

		if job.State.IsTerminal() {
			if job.State == jobs.StateSucceeded {
				d.repairTimestamp(ctx, job)
			}
			return d.discard(ctx, resp, job.DataStandard, "job already terminal"), nil
		}
		if job.State != jobs.StateDispatched {
			return "", ErrNotDispatched.WithContext("job_id", job.ID).WithContext("state", string(job.State))
		}

		err = d.apply(ctx, job, resp)
		if err == nil {
			return OutcomeApplied, nil
		}
		if !stdErrors.Is(err, store.ErrConflict) || attempt >= maxJobWriteAttempts {
			return "", err
		}
		slog.Debug("Job or build changed while applying response, re-reading", logfields.JobID(job.ID), logfields.Attempt(attempt))
	}
}

// apply settles the build with resp unless another response or an abandoned dispatch
// settled it first, in which case the job follows that earlier result.
func (d *Dispatcher) apply(ctx context.Context, job *jobs.Job, resp *jobs.BuildResponse) error {
	now := d.now()

	build, err := d.repos.Builds.GetBuild(ctx, job.ID)
	if stdErrors.Is(err, store.ErrNotFound) {
		build = jobs.NewBuild(job, nil, now)
	} else if err != nil {
		return err
	}
	if build.Result == jobs.BuildPending {
		build.ApplyResponse(resp, now)
		if err := d.repos.Builds.UpsertBuild(ctx, build); err != nil {
			return err
		}
	} else if build.Result != resp.Result {
		slog.Warn("Build already settled with a different result",
			logfields.JobID(job.ID),
			slog.String("build_result", string(build.Result)),
			slog.String("response_result", string(resp.Result)))
	}

	if err := d.settle(ctx, job, build); err != nil {
		return err
	}
	result := metrics.ResultFailed
	if job.State == jobs.StateSucceeded {
		result = metrics.ResultSuccess
	}
	d.recorder.IncResponse(string(job.DataStandard), result)
	return nil
}

// settle moves a dispatched job to the terminal state matching its settled build.
func (d *Dispatcher) settle(ctx context.Context, job *jobs.Job, build *jobs.Build) error {
	now := d.now()
	if build.Result == jobs.BuildSucceeded {
		if err := job.Transition(jobs.StateSucceeded, now); err != nil {
			return err
		}
	} else {
		reason := build.Error
		if reason == "" {
			reason = "no detail"
		}
		if err := job.Fail(fmt.Errorf("build failed: %s", reason), now); err != nil {
			return err
		}
	}
	if err := d.repos.Jobs.UpsertJob(ctx, job); err != nil {
		return err
	}

	ds := string(job.DataStandard)
	d.recorder.IncJobState(ds, string(job.State))
	d.journal.JobCompleted(ctx, job)
	if job.State == jobs.StateSucceeded {
		d.advanceTimestamp(ctx, job)
	}
	slog.Info("Build result applied",
		logfields.JobID(job.ID),
		logfields.DataStandard(ds),
		logfields.JobState(string(job.State)),
		slog.String("discriminator", build.Discriminator))
	return nil
}

// advanceTimestamp raises the baseline to the job's snapshot. Failures are logged; a
// redelivered response for the succeeded job repairs the baseline.
func (d *Dispatcher) advanceTimestamp(ctx context.Context, job *jobs.Job) {
	if job.DataTimestamp == nil {
		return
	}
	err := retry.Do(ctx, d.policy.Policy(), "store.advance_timestamp", func(ctx context.Context) error {
		_, err := store.AdvanceTimestamp(ctx, d.repos.Timestamps, job.DataStandard, *job.DataTimestamp, d.now())
		return err
	}, append([]retry.Option{retry.WithRecorder(d.recorder)}, d.retryOpts...)...)
	if err != nil {
		slog.Error("Failed to advance data standard timestamp",
			logfields.JobID(job.ID),
			logfields.DataStandard(string(job.DataStandard)),
			logfields.Error(err))
	}
}

// repairTimestamp is a no-op write-wise unless an earlier advance failed.
func (d *Dispatcher) repairTimestamp(ctx context.Context, job *jobs.Job) {
	if job.DataTimestamp == nil {
		return
	}
	if _, err := store.AdvanceTimestamp(ctx, d.repos.Timestamps, job.DataStandard, *job.DataTimestamp, d.now()); err != nil {
		slog.Warn("Timestamp repair failed", logfields.JobID(job.ID), logfields.Error(err))
	}
}

func (d *Dispatcher) discard(ctx context.Context, resp *jobs.BuildResponse, ds jobs.DataStandard, reason string) Outcome {
	d.recorder.IncResponse(string(ds), metrics.ResultDiscarded)
	d.journal.ResponseDiscarded(ctx, resp.JobID, reason)
	slog.Info("Build response discarded",
		logfields.JobID(resp.JobID),
		logfields.DataStandard(string(ds)),
		slog.String("reason", reason))
	return OutcomeDiscarded
}
